// Package dumpload persists an index to a directory and reopens it, either
// read-only for queries or in adding mode to extend it.
package dumpload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/patrikhermansson/tohnsw/config"
	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/hnsw"
	"github.com/patrikhermansson/tohnsw/seqdict"
	"github.com/rs/zerolog/log"
)

// Artifact names inside a dump directory.
const (
	GraphFile  = "hnswdump.graph"
	DictFile   = "seqdict.json"
	ParamsFile = "parameters.json"
)

// State is an index together with its dictionary and parameters.
type State struct {
	Index  *hnsw.HNSWIndex
	Dict   *seqdict.SeqDict
	Params config.ProcessingParams
}

var dirLocks sync.Map // absolute dir -> *sync.Mutex

// lockDir gives the caller exclusive access to dir within this process.
func lockDir(dir string) func() {
	key, err := filepath.Abs(dir)
	if err != nil {
		key = filepath.Clean(dir)
	}
	m, _ := dirLocks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// DumpAll writes the graph, the dictionary and the parameters of st into dir.
// An empty graph is not dumped and any graph or dictionary left in dir by an
// earlier run is removed; the parameters are always written. Every artifact
// replaces its previous version atomically, so a failed dump can be retried.
func DumpAll(dir string, st *State) error {
	unlock := lockDir(dir)
	defer unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", core.ErrDumpFailure, err)
	}
	if n, m := st.Index.Len(), st.Dict.Len(); n != m {
		return fmt.Errorf("%w: graph holds %d vertices but dictionary %d entries", core.ErrCorruptState, n, m)
	}

	if st.Index.Len() > 0 {
		log.Info().Msgf("Dumping graph with %d vertices to %s", st.Index.Len(), dir)
		if err := st.Index.SaveFile(filepath.Join(dir, GraphFile)); err != nil {
			return err
		}
		if err := st.Dict.Dump(filepath.Join(dir, DictFile)); err != nil {
			return err
		}
	} else {
		log.Warn().Msg("Graph is empty, no graph or dictionary dumped")
		// Artifacts of an earlier run would otherwise pair with the new parameters.
		for _, name := range []string{GraphFile, DictFile} {
			if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: removing stale %s: %v", core.ErrDumpFailure, name, err)
			}
		}
	}

	if err := st.Params.DumpJSON(filepath.Join(dir, ParamsFile)); err != nil {
		return err
	}
	log.Info().Msgf("Run %s dumped to %s", st.Params.RunID, dir)
	return nil
}

// ReloadAll reads the three artifacts of dir. Any missing, unparsable or
// mutually inconsistent artifact is reported as core.ErrCorruptState.
func ReloadAll(dir string) (*State, error) {
	unlock := lockDir(dir)
	defer unlock()

	params, err := config.ReloadParams(filepath.Join(dir, ParamsFile))
	if err != nil {
		return nil, err
	}
	index, err := hnsw.LoadFile(filepath.Join(dir, GraphFile))
	if err != nil {
		return nil, err
	}
	dict, err := seqdict.Reload(filepath.Join(dir, DictFile))
	if err != nil {
		return nil, err
	}
	st := &State{Index: index, Dict: dict, Params: params}
	if err := st.check(); err != nil {
		return nil, err
	}
	index.LogLayerInfo()
	return st, nil
}

// check cross-validates a reloaded state.
func (st *State) check() error {
	opts := st.Index.Options()
	if opts.SketchSize != st.Params.SketchSize || opts.MaxNbConn != st.Params.MaxNbConn {
		return fmt.Errorf("%w: graph built with sketch %d and max_nb_conn %d, parameters say %d and %d",
			core.ErrCorruptState, opts.SketchSize, opts.MaxNbConn, st.Params.SketchSize, st.Params.MaxNbConn)
	}
	if st.Dict.Len() != st.Index.Len() {
		return fmt.Errorf("%w: dictionary holds %d entries but graph %d vertices",
			core.ErrCorruptState, st.Dict.Len(), st.Index.Len())
	}
	if !st.Dict.Dense() {
		return fmt.Errorf("%w: dictionary ranks are not dense", core.ErrCorruptState)
	}
	return nil
}

// GetSeqDict returns the dictionary a run writes into: the dumped one in
// adding mode, a fresh one otherwise.
func GetSeqDict(cfg config.Config) (*seqdict.SeqDict, error) {
	if !cfg.AddingMode {
		return seqdict.New(0), nil
	}
	return seqdict.Reload(filepath.Join(cfg.DumpDir, DictFile))
}

// OpenIndex prepares the state a build run inserts into. In adding mode the
// dumped index in cfg.DumpDir is reloaded and must have been built with
// compatible parameters; otherwise a new empty index is created.
func OpenIndex(cfg config.Config) (*State, error) {
	if !cfg.AddingMode {
		params := config.NewParams(cfg, cfg.ResolveSeed())
		index, err := hnsw.NewHNSW(params.HNSWOptions())
		if err != nil {
			return nil, err
		}
		dict, err := GetSeqDict(cfg)
		if err != nil {
			return nil, err
		}
		return &State{Index: index, Dict: dict, Params: params}, nil
	}

	log.Info().Msgf("Adding mode, reloading index from %s", cfg.DumpDir)
	unlock := lockDir(cfg.DumpDir)
	old, err := config.ReloadParams(filepath.Join(cfg.DumpDir, ParamsFile))
	if err != nil {
		unlock()
		return nil, err
	}
	if err := old.CheckCompatible(cfg); err != nil {
		unlock()
		return nil, err
	}
	index, err := hnsw.LoadFile(filepath.Join(cfg.DumpDir, GraphFile))
	if err != nil {
		unlock()
		return nil, err
	}
	dict, err := GetSeqDict(cfg)
	unlock()
	if err != nil {
		return nil, err
	}

	// The graph keeps the options it was built with.
	params := config.NewParams(cfg, old.Seed)
	params.MaxElements = old.MaxElements
	params.EfConstruction = old.EfConstruction
	params.AddingMode = true

	st := &State{Index: index, Dict: dict, Params: params}
	if err := st.check(); err != nil {
		return nil, err
	}
	log.Info().Msgf("Resuming insertion at rank %d", index.Len())
	return st, nil
}
