package seqdict_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/seqdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqDict_PutGet(t *testing.T) {
	d := seqdict.New(4)
	require.NoError(t, d.Put(0, "seq0", "a.fna.gz"))
	require.NoError(t, d.Put(1, "seq1", "b.fna.gz"))

	e, ok := d.Get(1)
	require.True(t, ok)
	assert.Equal(t, seqdict.Entry{Rank: 1, ID: "seq1", File: "b.fna.gz"}, e)

	_, ok = d.Get(2)
	assert.False(t, ok)
	assert.Equal(t, 2, d.Len())
	assert.True(t, d.Dense())
}

func TestSeqDict_DuplicateRank(t *testing.T) {
	d := seqdict.New(0)
	require.NoError(t, d.Put(0, "x", "f"))
	assert.ErrorIs(t, d.Put(0, "y", "f"), core.ErrInvalidParameter)
	assert.ErrorIs(t, d.Put(-1, "y", "f"), core.ErrInvalidParameter)
}

func TestSeqDict_OutOfOrderPutsBecomeDense(t *testing.T) {
	d := seqdict.New(0)
	require.NoError(t, d.Put(2, "c", "f"))
	assert.False(t, d.Dense())
	require.NoError(t, d.Put(0, "a", "f"))
	require.NoError(t, d.Put(1, "b", "f"))
	assert.True(t, d.Dense())

	ids := []string{}
	for _, e := range d.Entries() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestSeqDict_ConcurrentPut(t *testing.T) {
	d := seqdict.New(0)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < 800; i += 8 {
				assert.NoError(t, d.Put(i, "id", "file"))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 800, d.Len())
	assert.True(t, d.Dense())
}

func TestSeqDict_DumpReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seqdict.json")
	d := seqdict.New(3)
	require.NoError(t, d.Put(0, "NC_001 complete genome", "dir/a.fna.gz"))
	require.NoError(t, d.Put(1, "NC_002", "dir/a.fna.gz"))
	require.NoError(t, d.Put(2, "NC_003", "dir/b.fna.gz"))
	require.NoError(t, d.Dump(path))

	reloaded, err := seqdict.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, d.Entries(), reloaded.Entries())

	// Ranks continue from where they left off.
	require.NoError(t, reloaded.Put(reloaded.Len(), "NC_004", "dir/c.fna.gz"))
	assert.Equal(t, 4, reloaded.Len())
}

func TestSeqDict_DumpWithGaps(t *testing.T) {
	d := seqdict.New(0)
	require.NoError(t, d.Put(1, "b", "f"))
	err := d.Dump(filepath.Join(t.TempDir(), "seqdict.json"))
	assert.ErrorIs(t, err, core.ErrCorruptState)
}

func TestReload_Corrupt(t *testing.T) {
	dir := t.TempDir()

	_, err := seqdict.Reload(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, core.ErrCorruptState)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = seqdict.Reload(bad)
	assert.ErrorIs(t, err, core.ErrCorruptState)

	gap := filepath.Join(dir, "gap.json")
	require.NoError(t, os.WriteFile(gap, []byte(`[{"rank":0,"id":"a","file":"f"},{"rank":2,"id":"c","file":"f"}]`), 0o644))
	_, err = seqdict.Reload(gap)
	assert.ErrorIs(t, err, core.ErrCorruptState)
}
