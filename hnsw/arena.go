package hnsw

import (
	"sync"
	"sync/atomic"

	"github.com/patrikhermansson/tohnsw/core"
)

const (
	segmentBits = 12
	segmentSize = 1 << segmentBits
	segmentMask = segmentSize - 1
)

// vertex is one indexed signature. Its signature and level never change after
// creation. links[l] holds the neighbor ranks at layer l as a copy-on-write slice:
// readers load it without locking, writers replace it while holding mu.
type vertex struct {
	rank  int
	sig   core.Signature
	level int
	mu    sync.Mutex
	links []atomic.Pointer[[]uint32]
}

func newVertex(rank int, sig core.Signature, level int) *vertex {
	return &vertex{
		rank:  rank,
		sig:   sig,
		level: level,
		links: make([]atomic.Pointer[[]uint32], level+1),
	}
}

// neighbors returns the current neighbor list at layer l. The slice must not be modified.
func (v *vertex) neighbors(l int) []uint32 {
	if l > v.level {
		return nil
	}
	p := v.links[l].Load()
	if p == nil {
		return nil
	}
	return *p
}

// setNeighbors publishes a new neighbor list at layer l. Caller holds v.mu.
func (v *vertex) setNeighbors(l int, ranks []uint32) {
	v.links[l].Store(&ranks)
}

type segment [segmentSize]atomic.Pointer[vertex]

// arena stores vertices addressed by dense rank. Lookups are lock-free; growth of
// the segment directory is serialized and published copy-on-write.
type arena struct {
	mu   sync.Mutex
	segs atomic.Pointer[[]*segment]
}

func (a *arena) get(rank int) *vertex {
	if rank < 0 {
		return nil
	}
	segs := a.segs.Load()
	if segs == nil {
		return nil
	}
	idx := rank >> segmentBits
	if idx >= len(*segs) {
		return nil
	}
	return (*segs)[idx][rank&segmentMask].Load()
}

// put stores v at rank. It returns false if the slot is already taken.
func (a *arena) put(rank int, v *vertex) bool {
	return a.segment(rank >> segmentBits)[rank&segmentMask].CompareAndSwap(nil, v)
}

func (a *arena) segment(idx int) *segment {
	if segs := a.segs.Load(); segs != nil && idx < len(*segs) {
		return (*segs)[idx]
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var old []*segment
	if cur := a.segs.Load(); cur != nil {
		old = *cur
	}
	if idx < len(old) {
		return old[idx]
	}
	grown := make([]*segment, idx+1)
	copy(grown, old)
	for i := len(old); i <= idx; i++ {
		grown[i] = new(segment)
	}
	a.segs.Store(&grown)
	return grown[idx]
}
