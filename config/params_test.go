package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/patrikhermansson/tohnsw/config"
	"github.com/patrikhermansson/tohnsw/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParams(t *testing.T) {
	p := config.NewParams(validConfig(), 99)

	assert.Equal(t, config.ParamsVersion, p.Version)
	_, err := uuid.Parse(p.RunID)
	assert.NoError(t, err)
	assert.Equal(t, 4, p.Kmer)
	assert.Equal(t, 8, p.SketchSize)
	assert.Equal(t, 30, p.MaxNbConn)
	assert.Equal(t, 200, p.EfSearch)
	assert.Equal(t, int64(99), p.Seed)
	require.NoError(t, p.Validate())

	opts := p.HNSWOptions()
	assert.Equal(t, 8, opts.SketchSize)
	assert.Equal(t, 30, opts.MaxNbConn)
	assert.Equal(t, int64(99), opts.Seed)

	sk, err := p.Sketcher()
	require.NoError(t, err)
	assert.Equal(t, 4, sk.KmerSize())
	assert.Equal(t, 8, sk.Size())

	// Every run is stamped with its own identifier.
	assert.NotEqual(t, p.RunID, config.NewParams(validConfig(), 99).RunID)
}

func TestParams_DumpReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parameters.json")
	p := config.NewParams(validConfig(), 5)

	require.NoError(t, p.DumpJSON(path))
	// Dumping twice overwrites.
	require.NoError(t, p.DumpJSON(path))

	got, err := config.ReloadParams(path)
	require.NoError(t, err)
	assert.Equal(t, p.RunID, got.RunID)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
	got.CreatedAt = p.CreatedAt
	assert.Equal(t, p, got)
}

func TestReloadParams_Corrupt(t *testing.T) {
	dir := t.TempDir()

	_, err := config.ReloadParams(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, core.ErrCorruptState)

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{not json"), 0o644))
	_, err = config.ReloadParams(garbage)
	assert.ErrorIs(t, err, core.ErrCorruptState)

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"version":1,"kmer":0,"sketch_size":8}`), 0o644))
	_, err = config.ReloadParams(invalid)
	assert.ErrorIs(t, err, core.ErrCorruptState)
}

func TestParams_CheckCompatible(t *testing.T) {
	cfg := validConfig()
	p := config.NewParams(cfg, 1)
	require.NoError(t, p.CheckCompatible(cfg))

	other := cfg
	other.Kmer = 5
	assert.ErrorIs(t, p.CheckCompatible(other), core.ErrInvalidParameter)

	other = cfg
	other.Sketch = 16
	assert.ErrorIs(t, p.CheckCompatible(other), core.ErrInvalidParameter)

	other = cfg
	other.Nbng = 12
	assert.ErrorIs(t, p.CheckCompatible(other), core.ErrInvalidParameter)

	other = cfg
	other.Canonical = !cfg.Canonical
	assert.ErrorIs(t, p.CheckCompatible(other), core.ErrInvalidParameter)

	// Search breadth may change between runs.
	other = cfg
	other.EfSearch = 50
	assert.NoError(t, p.CheckCompatible(other))
}
