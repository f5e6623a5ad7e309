// Package query answers nearest-neighbor queries against a reloaded index,
// one at a time for the server or in batches over a sequence tree.
package query

import (
	"fmt"
	"time"

	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/dumpload"
	"github.com/patrikhermansson/tohnsw/metrics"
	"github.com/patrikhermansson/tohnsw/sketch"
)

// Hit is one neighbor resolved through the dictionary.
type Hit struct {
	Rank     int    `json:"rank"`
	ID       string `json:"id"`
	File     string `json:"file"`
	Distance int    `json:"distance"`
}

// Searcher resolves queries against a read-only index. It is safe for
// concurrent use.
type Searcher struct {
	st       *dumpload.State
	sketcher *sketch.Sketcher
}

// NewSearcher wraps a reloaded state, sketching queries with its parameters.
func NewSearcher(st *dumpload.State) (*Searcher, error) {
	sk, err := st.Params.Sketcher()
	if err != nil {
		return nil, err
	}
	metrics.GraphVertices.Set(float64(st.Index.Len()))
	return &Searcher{st: st, sketcher: sk}, nil
}

// EfSearch is the search breadth the index was built for.
func (s *Searcher) EfSearch() int { return s.st.Params.EfSearch }

// Sketcher returns the sketcher matching the index.
func (s *Searcher) Sketcher() *sketch.Sketcher { return s.sketcher }

// State returns the underlying index state.
func (s *Searcher) State() *dumpload.State { return s.st }

// SearchSignature returns the k nearest indexed sequences to sig, closest first.
// An ef of zero selects EfSearch.
func (s *Searcher) SearchSignature(sig core.Signature, k, ef int) ([]Hit, error) {
	if ef == 0 {
		ef = s.EfSearch()
	}
	start := time.Now()
	res, err := s.st.Index.Search(sig, k, ef)
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(res))
	for i, n := range res {
		e, ok := s.st.Dict.Get(n.Rank)
		if !ok {
			return nil, fmt.Errorf("%w: rank %d has no dictionary entry", core.ErrCorruptState, n.Rank)
		}
		hits[i] = Hit{Rank: n.Rank, ID: e.ID, File: e.File, Distance: n.Distance}
	}
	return hits, nil
}

// SearchSequence sketches seq and searches with the resulting signature.
func (s *Searcher) SearchSequence(seq []byte, k, ef int) ([]Hit, error) {
	sig, err := s.sketcher.Sketch(seq)
	if err != nil {
		return nil, err
	}
	return s.SearchSignature(sig, k, ef)
}
