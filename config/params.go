package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/hnsw"
	"github.com/patrikhermansson/tohnsw/sketch"
	"github.com/rs/zerolog/log"
)

// ParamsVersion is the layout version of parameters.json.
const ParamsVersion = 1

// ProcessingParams are the parameters an index was built with. They are dumped
// with every index so that queries and adding-mode runs sketch and search the
// same way.
type ProcessingParams struct {
	Version        int       `json:"version"`
	RunID          string    `json:"run_id"`
	CreatedAt      time.Time `json:"created_at"`
	Kmer           int       `json:"kmer"`
	SketchSize     int       `json:"sketch_size"`
	Canonical      bool      `json:"canonical"`
	Nbng           int       `json:"nbng"`
	MaxNbConn      int       `json:"max_nb_conn"`
	EfConstruction int       `json:"ef_construction"`
	EfSearch       int       `json:"ef_search"`
	MaxElements    int       `json:"max_elements"`
	Seed           int64     `json:"seed"`
	AddingMode     bool      `json:"adding_mode"`
}

// NewParams derives the processing parameters of a run from cfg.
func NewParams(cfg Config, seed int64) ProcessingParams {
	return ProcessingParams{
		Version:        ParamsVersion,
		RunID:          uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Kmer:           cfg.Kmer,
		SketchSize:     cfg.Sketch,
		Canonical:      cfg.Canonical,
		Nbng:           cfg.Nbng,
		MaxNbConn:      cfg.MaxNbConn(),
		EfConstruction: cfg.EfConstruction,
		EfSearch:       cfg.EfSearch,
		MaxElements:    cfg.MaxElements,
		Seed:           seed,
		AddingMode:     cfg.AddingMode,
	}
}

// HNSWOptions returns the graph options matching p.
func (p ProcessingParams) HNSWOptions() hnsw.Options {
	return hnsw.Options{
		SketchSize:     p.SketchSize,
		MaxNbConn:      p.MaxNbConn,
		EfConstruction: p.EfConstruction,
		MaxElements:    p.MaxElements,
		Seed:           p.Seed,
	}
}

// Sketcher returns a sketcher producing signatures comparable to the indexed ones.
func (p ProcessingParams) Sketcher() (*sketch.Sketcher, error) {
	return sketch.New(p.Kmer, p.SketchSize, p.Canonical)
}

// CheckCompatible reports whether an index built with p can be extended by a
// run configured with cfg.
func (p ProcessingParams) CheckCompatible(cfg Config) error {
	switch {
	case p.Kmer != cfg.Kmer:
		return fmt.Errorf("%w: index was built with kmer %d, run uses %d", core.ErrInvalidParameter, p.Kmer, cfg.Kmer)
	case p.SketchSize != cfg.Sketch:
		return fmt.Errorf("%w: index was built with sketch %d, run uses %d", core.ErrInvalidParameter, p.SketchSize, cfg.Sketch)
	case p.Canonical != cfg.Canonical:
		return fmt.Errorf("%w: index was built with canonical=%t, run uses %t", core.ErrInvalidParameter, p.Canonical, cfg.Canonical)
	case p.MaxNbConn != cfg.MaxNbConn():
		return fmt.Errorf("%w: index was built with max_nb_conn %d, run uses %d", core.ErrInvalidParameter, p.MaxNbConn, cfg.MaxNbConn())
	}
	return nil
}

// Validate checks that reloaded parameters describe a usable index.
func (p ProcessingParams) Validate() error {
	if p.Version != ParamsVersion {
		return fmt.Errorf("parameters version %d, expected %d", p.Version, ParamsVersion)
	}
	if p.Kmer < 1 || p.Kmer > sketch.MaxKmerSize || p.SketchSize < 1 || p.SketchSize > sketch.MaxSketchSize {
		return fmt.Errorf("kmer %d or sketch %d out of range", p.Kmer, p.SketchSize)
	}
	if p.MaxNbConn < 2 || p.EfConstruction < 1 || p.EfSearch < 1 || p.MaxElements < 1 {
		return fmt.Errorf("graph parameters out of range: max_nb_conn=%d ef_construction=%d ef_search=%d max_elements=%d",
			p.MaxNbConn, p.EfConstruction, p.EfSearch, p.MaxElements)
	}
	return nil
}

// DumpJSON writes p to path, replacing any previous file atomically.
func (p ProcessingParams) DumpJSON(path string) error {
	err := core.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("%w: encode %s: %v", core.ErrDumpFailure, path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug().Msgf("Parameters of run %s dumped to %s", p.RunID, path)
	return nil
}

// ReloadParams reads parameters written by DumpJSON.
func ReloadParams(path string) (ProcessingParams, error) {
	var p ProcessingParams
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("%w: read parameters: %v", core.ErrCorruptState, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: parse %s: %v", core.ErrCorruptState, path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %s: %v", core.ErrCorruptState, path, err)
	}
	return p, nil
}
