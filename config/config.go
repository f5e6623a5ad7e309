// Package config holds the run configuration of the indexer and the
// parameters persisted next to a dumped index.
package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/sketch"
	"gopkg.in/yaml.v3"
)

// Limits and defaults of the indexing run.
const (
	MaxNbConnCap          = 48
	DefaultSketchSize     = 8
	DefaultEfSearch       = 200
	DefaultEfConstruction = 400
	DefaultMaxElements    = 700000
	DefaultSuffix         = "fna.gz"
	DefaultExclude        = "capsid"
	DefaultQueueSize      = 5000
	DefaultAddr           = ":8080"
)

// Config describes one run. Zero values of optional fields are replaced by
// DefaultConfig when the file is loaded.
type Config struct {
	Dir     string `yaml:"dir"`      // root of the sequence tree
	DumpDir string `yaml:"dump_dir"` // where artifacts are written and reloaded

	Kmer      int  `yaml:"kmer"`
	Sketch    int  `yaml:"sketch"`
	Nbng      int  `yaml:"nbng"`
	Canonical bool `yaml:"canonical"`

	MaxElements    int `yaml:"max_elements"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`

	Suffix  string `yaml:"suffix"`
	Exclude string `yaml:"exclude"`

	Readers   int `yaml:"readers"`
	Indexers  int `yaml:"indexers"`
	QueueSize int `yaml:"queue_size"`

	AddingMode bool  `yaml:"adding_mode"`
	Seed       int64 `yaml:"seed"` // 0 means TOHNSW_SEED or the clock

	Addr     string `yaml:"addr"`
	Progress bool   `yaml:"progress"`
}

// DefaultConfig returns the configuration used when nothing else is given.
func DefaultConfig() Config {
	return Config{
		DumpDir:        ".",
		Sketch:         DefaultSketchSize,
		MaxElements:    DefaultMaxElements,
		EfConstruction: DefaultEfConstruction,
		EfSearch:       DefaultEfSearch,
		Suffix:         DefaultSuffix,
		Exclude:        DefaultExclude,
		Readers:        1,
		Indexers:       max(1, runtime.NumCPU()-1),
		QueueSize:      DefaultQueueSize,
		Addr:           DefaultAddr,
		Progress:       true,
	}
}

// LoadConfig reads the YAML configuration file using strict parsing.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: YAML syntax error in %s: %v", core.ErrInvalidParameter, path, err)
	}
	return cfg, nil
}

// MaxNbConn is the per-layer degree bound derived from the neighbor target.
func (c Config) MaxNbConn() int {
	return min(MaxNbConnCap, 3*c.Nbng)
}

// Validate checks the parameters needed to build an index.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return fmt.Errorf("%w: sequence directory is required", core.ErrInvalidParameter)
	case c.Kmer < 1 || c.Kmer > sketch.MaxKmerSize:
		return fmt.Errorf("%w: kmer size %d outside [1, %d]", core.ErrInvalidParameter, c.Kmer, sketch.MaxKmerSize)
	case c.Sketch < 1 || c.Sketch > sketch.MaxSketchSize:
		return fmt.Errorf("%w: sketch size %d outside [1, %d]", core.ErrInvalidParameter, c.Sketch, sketch.MaxSketchSize)
	case c.Nbng < 1:
		return fmt.Errorf("%w: nbng must be positive, got %d", core.ErrInvalidParameter, c.Nbng)
	case c.MaxElements < 1:
		return fmt.Errorf("%w: max_elements must be positive, got %d", core.ErrInvalidParameter, c.MaxElements)
	case c.EfConstruction < 1:
		return fmt.Errorf("%w: ef_construction must be positive, got %d", core.ErrInvalidParameter, c.EfConstruction)
	case c.EfSearch < 1:
		return fmt.Errorf("%w: ef_search must be positive, got %d", core.ErrInvalidParameter, c.EfSearch)
	case c.Readers < 1 || c.Indexers < 1:
		return fmt.Errorf("%w: readers and indexers must be positive, got %d and %d", core.ErrInvalidParameter, c.Readers, c.Indexers)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive, got %d", core.ErrInvalidParameter, c.QueueSize)
	case c.Suffix == "":
		return fmt.Errorf("%w: file suffix is required", core.ErrInvalidParameter)
	}
	return nil
}

// ResolveSeed returns the configured seed, falling back to TOHNSW_SEED or the clock.
func (c Config) ResolveSeed() int64 {
	if c.Seed != 0 {
		return c.Seed
	}
	return core.GetSeed()
}
