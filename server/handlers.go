package server

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/query"
	"github.com/rs/zerolog/log"
)

const (
	defaultK       = 10
	maxRequestBody = 64 << 20
)

// SearchRequest carries either a signature or a raw sequence.
type SearchRequest struct {
	Signature []uint32 `json:"signature,omitempty"`
	Sequence  string   `json:"sequence,omitempty"`
	K         int      `json:"k,omitempty"`  // defaults to 10
	Ef        int      `json:"ef,omitempty"` // defaults to the index's ef_search
}

// SearchResponse lists neighbors by ascending distance.
type SearchResponse struct {
	Neighbors []query.Hit `json:"neighbors"`
}

// StatsResponse describes the served index.
type StatsResponse struct {
	RunID      string    `json:"run_id"`
	Kmer       int       `json:"kmer"`
	SketchSize int       `json:"sketch_size"`
	Canonical  bool      `json:"canonical"`
	MaxNbConn  int       `json:"max_nb_conn"`
	EfSearch   int       `json:"ef_search"`
	Count      int       `json:"count"`
	MaxLevel   int       `json:"max_level"`
	Layers     []int     `json:"layers"`
	MeanDegree []float64 `json:"mean_degree"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if (len(req.Signature) == 0) == (req.Sequence == "") {
		writeError(w, http.StatusBadRequest, "exactly one of signature or sequence is required")
		return
	}
	if req.K == 0 {
		req.K = defaultK
	}

	var hits []query.Hit
	var err error
	if req.Sequence != "" {
		hits, err = s.searcher.SearchSequence([]byte(req.Sequence), req.K, req.Ef)
	} else {
		hits, err = s.searcher.SearchSignature(core.Signature(req.Signature), req.K, req.Ef)
	}
	switch {
	case errors.Is(err, core.ErrInvalidParameter), errors.Is(err, core.ErrSequenceTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Msg("Search failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Neighbors: hits})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.searcher.State()
	stats := st.Index.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		RunID:      st.Params.RunID,
		Kmer:       st.Params.Kmer,
		SketchSize: stats.SketchSize,
		Canonical:  st.Params.Canonical,
		MaxNbConn:  stats.MaxNbConn,
		EfSearch:   st.Params.EfSearch,
		Count:      stats.Count,
		MaxLevel:   stats.MaxLevel,
		Layers:     stats.Layers,
		MeanDegree: stats.MeanDegree,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
