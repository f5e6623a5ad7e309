// Package sketch turns residue sequences into fixed-length MinHash signatures.
//
// Every overlapping k-mer of a sequence is hashed once with xxhash; each of the
// S bands then derives its own hash from that base value and keeps the minimum
// seen over the whole sequence. Two sequences sharing a large fraction of their
// k-mers agree on a proportional number of bands, so the Hamming distance between
// signatures approximates one minus their Jaccard similarity.
package sketch

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/patrikhermansson/tohnsw/core"
)

// DefaultSeed fixes the band hash family. Changing it invalidates every persisted index.
const DefaultSeed uint64 = 0x5eed_2b1d_c0de_f00d

// MaxSketchSize bounds the number of bands.
const MaxSketchSize = 4096

// Sketcher computes signatures for a fixed k-mer size and sketch size.
// A Sketcher is immutable and safe for concurrent use.
type Sketcher struct {
	k         int
	size      int
	canonical bool
	seeds     []uint64
}

// New creates a Sketcher with k-mer size k and sketch size s.
func New(k, s int, canonical bool) (*Sketcher, error) {
	return NewWithSeed(k, s, canonical, DefaultSeed)
}

// NewWithSeed is like New but with an explicit band seed.
func NewWithSeed(k, s int, canonical bool, seed uint64) (*Sketcher, error) {
	if k <= 0 || k > MaxKmerSize {
		return nil, fmt.Errorf("%w: kmer size %d not in [1, %d]", core.ErrInvalidParameter, k, MaxKmerSize)
	}
	if s <= 0 || s > MaxSketchSize {
		return nil, fmt.Errorf("%w: sketch size %d not in [1, %d]", core.ErrInvalidParameter, s, MaxSketchSize)
	}
	seeds := make([]uint64, s)
	state := seed
	for i := range seeds {
		state += 0x9e3779b97f4a7c15
		seeds[i] = mix64(state)
	}
	return &Sketcher{k: k, size: s, canonical: canonical, seeds: seeds}, nil
}

// KmerSize returns k.
func (sk *Sketcher) KmerSize() int { return sk.k }

// Size returns the signature length.
func (sk *Sketcher) Size() int { return sk.size }

// Canonical reports whether k-mers are folded with their reverse complement.
func (sk *Sketcher) Canonical() bool { return sk.canonical }

// Sketch returns the signature of seq. It fails with core.ErrSequenceTooShort
// when seq yields no valid k-mer.
func (sk *Sketcher) Sketch(seq []byte) (core.Signature, error) {
	if len(seq) < sk.k {
		return nil, fmt.Errorf("%w: length %d < k %d", core.ErrSequenceTooShort, len(seq), sk.k)
	}
	sig := make(core.Signature, sk.size)
	for i := range sig {
		sig[i] = math.MaxUint32
	}

	var buf [8]byte
	it := newKmerIter(seq, sk.k, sk.canonical)
	n := 0
	for {
		kmer, ok := it.next()
		if !ok {
			break
		}
		n++
		binary.LittleEndian.PutUint64(buf[:], kmer)
		base := xxhash.Sum64(buf[:])
		for i, s := range sk.seeds {
			if h := uint32(mix64(base^s) >> 32); h < sig[i] {
				sig[i] = h
			}
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: no unambiguous %d-mer", core.ErrSequenceTooShort, sk.k)
	}
	return sig, nil
}

// mix64 is the splitmix64 finalizer.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
