package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	"github.com/patrikhermansson/tohnsw/core"
	"github.com/rs/zerolog/log"
)

// maxLayerCap is the upper bound for the number of layers.
const maxLayerCap = 16

// Options configures a new HNSWIndex.
type Options struct {
	SketchSize     int   // length of every indexed signature
	MaxNbConn      int   // maximum number of neighbors per vertex and per layer
	EfConstruction int   // beam width used while wiring a new vertex
	MaxElements    int   // expected number of vertices, bounds the layer count
	Seed           int64 // seed of the layer assignment
}

// entryPoint is an immutable snapshot of the graph's entry point.
type entryPoint struct {
	rank  int
	level int
}

// HNSWIndex is a hierarchical navigable small-world graph over MinHash signatures
// under the Hamming distance. Insert may be called from many goroutines while
// Search runs concurrently; searches never take a lock.
type HNSWIndex struct {
	opts      Options
	maxLayer  int     // number of layers a vertex may occupy
	levelMult float64 // 1/ln(MaxNbConn)

	nodes arena
	next  atomic.Int64 // next rank to hand out
	count atomic.Int64 // vertices stored in the arena

	entry atomic.Pointer[entryPoint] // replaced only by a vertex on a higher layer

	visitedPool sync.Pool
}

// NewHNSW creates a new empty HNSW index.
func NewHNSW(opts Options) (*HNSWIndex, error) {
	if opts.SketchSize <= 0 {
		return nil, fmt.Errorf("%w: sketch size %d", core.ErrInvalidParameter, opts.SketchSize)
	}
	if opts.MaxNbConn < 2 {
		return nil, fmt.Errorf("%w: max neighbors %d must be at least 2", core.ErrInvalidParameter, opts.MaxNbConn)
	}
	if opts.EfConstruction <= 0 {
		return nil, fmt.Errorf("%w: ef construction %d", core.ErrInvalidParameter, opts.EfConstruction)
	}
	if opts.MaxElements <= 0 {
		return nil, fmt.Errorf("%w: max elements %d", core.ErrInvalidParameter, opts.MaxElements)
	}
	h := &HNSWIndex{
		opts:      opts,
		maxLayer:  layerCount(opts.MaxElements, opts.MaxNbConn),
		levelMult: 1 / math.Log(float64(opts.MaxNbConn)),
	}
	h.visitedPool.New = func() any { return bitset.New(uint(opts.MaxElements)) }
	log.Info().Msgf("Creating new HNSW index with sketch=%d, max_nb_conn=%d, ef_construction=%d, max_elements=%d, layers=%d",
		opts.SketchSize, opts.MaxNbConn, opts.EfConstruction, opts.MaxElements, h.maxLayer)
	return h, nil
}

// layerCount derives the number of layers from the expected vertex count.
func layerCount(maxElements, m int) int {
	n := int(math.Ceil(math.Log(float64(maxElements)) / math.Log(float64(m))))
	if n < 1 {
		n = 1
	}
	if n > maxLayerCap {
		n = maxLayerCap
	}
	return n
}

// Options returns the options the index was created with.
func (h *HNSWIndex) Options() Options { return h.opts }

// Len returns the number of vertices in the graph.
func (h *HNSWIndex) Len() int { return int(h.count.Load()) }

// randomLevel draws the top layer for rank from a geometric distribution.
// The draw is a pure function of the seed and the rank, so the layer structure
// does not depend on goroutine scheduling.
func (h *HNSWIndex) randomLevel(rank int) int {
	z := mix64(uint64(h.opts.Seed) ^ (uint64(rank)+1)*0x9e3779b97f4a7c15)
	r := (float64(z>>11) + 0.5) / float64(uint64(1)<<53) // (0, 1)
	level := int(-math.Log(r) * h.levelMult)
	if level > h.maxLayer-1 {
		level = h.maxLayer - 1
	}
	return level
}

func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Reserve hands out the next rank without inserting anything. The caller must
// follow up with InsertAt for that rank before the index is persisted.
func (h *HNSWIndex) Reserve() int {
	return int(h.next.Add(1) - 1)
}

// Insert adds sig to the graph and returns its rank.
func (h *HNSWIndex) Insert(sig core.Signature) (int, error) {
	rank := h.Reserve()
	if err := h.InsertAt(rank, sig); err != nil {
		return 0, err
	}
	return rank, nil
}

// InsertAt adds sig to the graph under a rank obtained from Reserve.
func (h *HNSWIndex) InsertAt(rank int, sig core.Signature) error {
	if len(sig) != h.opts.SketchSize {
		return fmt.Errorf("%w: signature length %d does not match sketch size %d",
			core.ErrInvalidParameter, len(sig), h.opts.SketchSize)
	}
	if rank < 0 || int64(rank) >= h.next.Load() {
		return fmt.Errorf("%w: rank %d was not reserved", core.ErrInvalidParameter, rank)
	}
	v := newVertex(rank, sig.Clone(), h.randomLevel(rank))
	if !h.nodes.put(rank, v) {
		return fmt.Errorf("%w: rank %d already inserted", core.ErrInvalidParameter, rank)
	}
	h.count.Add(1)
	log.Debug().Msgf("Inserting rank %d at level %d", rank, v.level)

	ep := h.entry.Load()
	for ep == nil {
		if h.entry.CompareAndSwap(nil, &entryPoint{rank: rank, level: v.level}) {
			return nil
		}
		ep = h.entry.Load()
	}

	h.linkLayers(v, ep, min(v.level, ep.level), 0)

	// A vertex above the max layer becomes the entry point. The swap fails only
	// when another insertion raised the graph meanwhile; v is then wired into
	// the layers that insertion added before trying again.
	for v.level > ep.level {
		if h.entry.CompareAndSwap(ep, &entryPoint{rank: rank, level: v.level}) {
			log.Debug().Msgf("Rank %d is the new entry point at level %d", rank, v.level)
			break
		}
		cur := h.entry.Load()
		h.linkLayers(v, cur, min(v.level, cur.level), ep.level+1)
		ep = cur
	}
	return nil
}

// linkLayers wires v into layers hi down to lo, descending from ep. ep must
// be at least at layer hi.
func (h *HNSWIndex) linkLayers(v *vertex, ep *entryPoint, hi, lo int) {
	current := candidate{rank: ep.rank, dist: core.Hamming(v.sig, h.nodes.get(ep.rank).sig)}

	// Navigate the graph from the top level down to the first layer to wire.
	for l := ep.level; l > hi; l-- {
		current = h.greedyClosest(v.sig, current, l)
	}

	for l := hi; l >= lo; l-- {
		cands := h.searchLayer(v.sig, current, l, h.opts.EfConstruction, v.rank)
		if len(cands) == 0 {
			continue
		}
		selected := h.selectNeighbors(cands, h.opts.MaxNbConn)
		h.mergeLinks(v, l, selected)
		for _, s := range selected {
			h.addLink(h.nodes.get(s.rank), v.rank, l, s.dist)
		}
		// Move the current pointer for the next level.
		current = cands[0]
	}
}

// greedyClosest walks layer l with beam width 1 and returns the local minimum.
func (h *HNSWIndex) greedyClosest(query core.Signature, current candidate, l int) candidate {
	changed := true
	for changed {
		changed = false
		for _, nb := range h.nodes.get(current.rank).neighbors(l) {
			n := h.nodes.get(int(nb))
			d := core.Hamming(query, n.sig)
			if closer(candidate{rank: n.rank, dist: d}, current) {
				current = candidate{rank: n.rank, dist: d}
				changed = true
			}
		}
	}
	return current
}

// searchLayer runs a beam search of width ef at layer l and returns the
// candidates sorted by ascending distance. exclude is never returned; pass -1
// to keep every vertex.
func (h *HNSWIndex) searchLayer(query core.Signature, entry candidate, l int, ef int, exclude int) []candidate {
	visited := h.visitedPool.Get().(*bitset.BitSet)
	visited.ClearAll()
	defer h.visitedPool.Put(visited)

	visited.Set(uint(entry.rank))
	candQueue := candidateMinHeap{entry}
	resultQueue := candidateMaxHeap{}
	if entry.rank != exclude {
		resultQueue = append(resultQueue, entry)
	}

	// Explore candidates while there are promising ones.
	for candQueue.Len() > 0 {
		current := heap.Pop(&candQueue).(candidate)
		if resultQueue.Len() >= ef && closer(resultQueue[0], current) {
			break
		}
		for _, nb := range h.nodes.get(current.rank).neighbors(l) {
			if visited.Test(uint(nb)) {
				continue
			}
			visited.Set(uint(nb))
			n := h.nodes.get(int(nb))
			c := candidate{rank: n.rank, dist: core.Hamming(query, n.sig)}
			if resultQueue.Len() < ef || closer(c, resultQueue[0]) {
				heap.Push(&candQueue, c)
				if c.rank == exclude {
					continue
				}
				heap.Push(&resultQueue, c)
				if resultQueue.Len() > ef {
					heap.Pop(&resultQueue)
				}
			}
		}
	}

	// Collect and sort results.
	results := []candidate(resultQueue)
	sort.Slice(results, func(i, j int) bool { return closer(results[i], results[j]) })
	return results
}

// selectNeighbors picks up to m candidates, closest first, skipping any candidate
// that is closer to an already selected neighbor than to the base vertex.
// cands must be sorted by ascending distance to the base.
func (h *HNSWIndex) selectNeighbors(cands []candidate, m int) []candidate {
	if len(cands) <= m {
		return cands
	}
	selected := make([]candidate, 0, m)
	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		sig := h.nodes.get(c.rank).sig
		good := true
		for _, s := range selected {
			if core.Hamming(sig, h.nodes.get(s.rank).sig) < c.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c)
		}
	}
	return selected
}

// mergeLinks sets the layer-l neighbors of v to selected plus any edge a
// concurrent insertion added to v meanwhile, pruned to MaxNbConn.
func (h *HNSWIndex) mergeLinks(v *vertex, l int, selected []candidate) {
	v.mu.Lock()
	defer v.mu.Unlock()

	existing := v.neighbors(l)
	if len(existing) == 0 {
		ranks := make([]uint32, len(selected))
		for i, s := range selected {
			ranks[i] = uint32(s.rank)
		}
		v.setNeighbors(l, ranks)
		return
	}
	cands := make([]candidate, 0, len(selected)+len(existing))
	seen := make(map[int]bool, len(selected)+len(existing))
	cands = append(cands, selected...)
	for _, s := range selected {
		seen[s.rank] = true
	}
	for _, nb := range existing {
		if seen[int(nb)] {
			continue
		}
		seen[int(nb)] = true
		cands = append(cands, candidate{rank: int(nb), dist: core.Hamming(v.sig, h.nodes.get(int(nb)).sig)})
	}
	v.setNeighbors(l, h.pruned(cands))
}

// addLink adds the edge n -> target at layer l, pruning n's list back to
// MaxNbConn when it overflows.
func (h *HNSWIndex) addLink(n *vertex, target int, l int, dist int) {
	if n == nil || l > n.level {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	conns := n.neighbors(l)
	for _, c := range conns {
		if int(c) == target {
			return
		}
	}
	if len(conns) < h.opts.MaxNbConn {
		grown := make([]uint32, len(conns), len(conns)+1)
		copy(grown, conns)
		n.setNeighbors(l, append(grown, uint32(target)))
		return
	}
	cands := make([]candidate, 0, len(conns)+1)
	for _, c := range conns {
		cands = append(cands, candidate{rank: int(c), dist: core.Hamming(n.sig, h.nodes.get(int(c)).sig)})
	}
	cands = append(cands, candidate{rank: target, dist: dist})
	n.setNeighbors(l, h.pruned(cands))
}

// pruned sorts cands and reduces them to at most MaxNbConn ranks with the
// diversity heuristic.
func (h *HNSWIndex) pruned(cands []candidate) []uint32 {
	sort.Slice(cands, func(i, j int) bool { return closer(cands[i], cands[j]) })
	kept := h.selectNeighbors(cands, h.opts.MaxNbConn)
	ranks := make([]uint32, len(kept))
	for i, c := range kept {
		ranks[i] = uint32(c.rank)
	}
	return ranks
}

// Search finds the k nearest neighbors of query. ef is the beam width of the
// final base-layer search; a value below k is raised to k.
func (h *HNSWIndex) Search(query core.Signature, k int, ef int) ([]core.Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", core.ErrInvalidParameter, k)
	}
	if ef <= 0 {
		return nil, fmt.Errorf("%w: search breadth must be positive, got %d", core.ErrInvalidParameter, ef)
	}
	if len(query) != h.opts.SketchSize {
		return nil, fmt.Errorf("%w: query length %d does not match sketch size %d",
			core.ErrInvalidParameter, len(query), h.opts.SketchSize)
	}
	ep := h.entry.Load()
	if ep == nil {
		return []core.Neighbor{}, nil
	}

	// Greedy search down from the top layer.
	current := candidate{rank: ep.rank, dist: core.Hamming(query, h.nodes.get(ep.rank).sig)}
	for l := ep.level; l > 0; l-- {
		current = h.greedyClosest(query, current, l)
	}
	cands := h.searchLayer(query, current, 0, max(ef, k), -1)

	if k > len(cands) {
		k = len(cands)
	}
	results := make([]core.Neighbor, k)
	for i := 0; i < k; i++ {
		results[i] = core.Neighbor{Rank: cands[i].rank, Distance: cands[i].dist}
	}
	return results, nil
}

// Distance returns the Hamming distance between two signatures.
func (h *HNSWIndex) Distance(a, b core.Signature) int {
	return core.Hamming(a, b)
}

// Signature returns the signature stored under rank.
func (h *HNSWIndex) Signature(rank int) (core.Signature, bool) {
	v := h.nodes.get(rank)
	if v == nil {
		return nil, false
	}
	return v.sig, true
}

// Level returns the top layer of rank, or -1 if rank is not in the graph.
func (h *HNSWIndex) Level(rank int) int {
	v := h.nodes.get(rank)
	if v == nil {
		return -1
	}
	return v.level
}

// Neighbors returns a copy of the neighbor ranks of rank at layer l.
func (h *HNSWIndex) Neighbors(rank, l int) []int {
	v := h.nodes.get(rank)
	if v == nil {
		return nil
	}
	nbs := v.neighbors(l)
	out := make([]int, len(nbs))
	for i, nb := range nbs {
		out[i] = int(nb)
	}
	return out
}

// EntryPoint returns the rank and level of the entry point, or ok=false when empty.
func (h *HNSWIndex) EntryPoint() (rank, level int, ok bool) {
	ep := h.entry.Load()
	if ep == nil {
		return 0, -1, false
	}
	return ep.rank, ep.level, true
}

// Stats returns simple statistics about the index, including the population
// and mean degree of each layer.
func (h *HNSWIndex) Stats() core.IndexStats {
	stats := core.IndexStats{
		Count:      h.Len(),
		SketchSize: h.opts.SketchSize,
		MaxLevel:   -1,
		MaxNbConn:  h.opts.MaxNbConn,
		Distance:   "hamming",
	}
	if _, level, ok := h.EntryPoint(); ok {
		stats.MaxLevel = level
	}
	stats.Layers = make([]int, stats.MaxLevel+1)
	degrees := make([]int, stats.MaxLevel+1)
	for r := 0; r < int(h.next.Load()); r++ {
		v := h.nodes.get(r)
		if v == nil {
			continue
		}
		for l := 0; l <= v.level && l < len(stats.Layers); l++ {
			stats.Layers[l]++
			degrees[l] += len(v.neighbors(l))
		}
	}
	stats.MeanDegree = make([]float64, len(stats.Layers))
	for l, n := range stats.Layers {
		if n > 0 {
			stats.MeanDegree[l] = float64(degrees[l]) / float64(n)
		}
	}
	return stats
}

// LogLayerInfo writes the layer population and mean degree to the log.
func (h *HNSWIndex) LogLayerInfo() {
	stats := h.Stats()
	log.Info().Msgf("HNSW graph: %d vertices, max level %d", stats.Count, stats.MaxLevel)
	for l := len(stats.Layers) - 1; l >= 0; l-- {
		log.Info().Msgf("  layer %2d: %8d vertices, mean degree %.2f", l, stats.Layers[l], stats.MeanDegree[l])
	}
}

// Check interface compliance at compile time.
var _ core.Index = (*HNSWIndex)(nil)
