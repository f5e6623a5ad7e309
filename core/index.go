package core

// Signature is a fixed-length MinHash sketch of a sequence, one value per hash band.
type Signature []uint32

// Clone returns a copy of the signature that does not alias s.
func (s Signature) Clone() Signature {
	c := make(Signature, len(s))
	copy(c, s)
	return c
}

// Index represents an append-only approximate nearest-neighbor index over signatures.
type Index interface {

	// Insert adds a signature to the index and returns its rank.
	Insert(sig Signature) (int, error)

	// Search returns up to k neighbors of the query ordered by ascending distance.
	// ef controls the breadth of the base-layer beam search.
	Search(query Signature, k int, ef int) ([]Neighbor, error)

	// Stats returns metadata about the index, such as count and layer population.
	Stats() IndexStats
}

// Neighbor holds a neighbor's rank and its distance to the query.
type Neighbor struct {
	Rank     int
	Distance int
}

// IndexStats contains metadata about the index.
type IndexStats struct {
	Count      int       // total number of indexed signatures
	SketchSize int       // signature length
	MaxLevel   int       // highest populated layer, -1 when empty
	MaxNbConn  int       // degree bound per layer
	Distance   string    // name of the distance metric
	Layers     []int     // number of vertices per layer
	MeanDegree []float64 // mean out-degree per layer
}
