package pipeline_test

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/hnsw"
	"github.com/patrikhermansson/tohnsw/pipeline"
	"github.com/patrikhermansson/tohnsw/seqdict"
	"github.com/patrikhermansson/tohnsw/sketch"
	"github.com/patrikhermansson/tohnsw/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSeq(r *rand.Rand, n int) string {
	const alphabet = "ACGT"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.Intn(4)]
	}
	return string(b)
}

func writeFasta(t *testing.T, path string, records map[string]string, order []string) {
	t.Helper()
	var sb strings.Builder
	for _, id := range order {
		fmt.Fprintf(&sb, ">%s\n%s\n", id, records[id])
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	_, err = io.WriteString(gz, sb.String())
	require.NoError(t, err)
	require.NoError(t, gz.Close())
}

type fixture struct {
	dir  string
	seqs map[string]string // id -> sequence of every record written
}

// newFixture writes three qualifying files, one with a capsid record and one
// with a too-short record, plus a file with the wrong suffix.
func newFixture(t *testing.T, seed int64) fixture {
	r := rand.New(rand.NewSource(seed))
	fx := fixture{dir: t.TempDir(), seqs: map[string]string{}}
	add := func(file string, ids ...string) {
		recs := map[string]string{}
		for _, id := range ids {
			seq := randomSeq(r, 200)
			if strings.HasPrefix(id, "short") {
				seq = "ACG"
			}
			recs[id] = seq
			fx.seqs[id] = seq
		}
		writeFasta(t, filepath.Join(fx.dir, file), recs, ids)
	}
	add("a.fna.gz", "a1 phage", "a2 phage", "a3 major capsid protein")
	add("b.fna.gz", "b1 phage", "short1")
	add(filepath.Join("nested", "c.fna.gz"), "c1 phage", "c2 phage")
	add("d.faa.gz", "d1 wrong suffix")
	return fx
}

func newTargets(t *testing.T) (*sketch.Sketcher, *hnsw.HNSWIndex, *seqdict.SeqDict) {
	sk, err := sketch.New(4, 8, false)
	require.NoError(t, err)
	index, err := hnsw.NewHNSW(hnsw.Options{SketchSize: 8, MaxNbConn: 30, EfConstruction: 100, MaxElements: 1000, Seed: 1})
	require.NoError(t, err)
	return sk, index, seqdict.New(0)
}

func defaultOptions() pipeline.Options {
	return pipeline.Options{
		Readers:   2,
		Indexers:  3,
		QueueSize: 2,
		Suffix:    "fna.gz",
		Filter:    source.Filter{Exclude: "capsid"},
	}
}

func TestPipeline_Run(t *testing.T) {
	fx := newFixture(t, 1)
	sk, index, dict := newTargets(t)
	p, err := pipeline.New(sk, index, dict, defaultOptions())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), fx.dir)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 7, res.Records)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, 1, res.TooShort)
	assert.Equal(t, 5, res.Inserted)

	// Graph and dictionary agree on count and ranks.
	assert.Equal(t, 5, index.Len())
	assert.Equal(t, 5, dict.Len())
	assert.True(t, dict.Dense())

	ids := map[string]bool{}
	for _, e := range dict.Entries() {
		ids[e.ID] = true
		assert.NotContains(t, e.File, "d.faa.gz")
		assert.False(t, filepath.IsAbs(e.File))

		want, err := sk.Sketch([]byte(fx.seqs[e.ID]))
		require.NoError(t, err)
		got, ok := index.Signature(e.Rank)
		require.True(t, ok)
		assert.Equal(t, want, got, "rank %d (%s)", e.Rank, e.ID)
	}
	assert.Equal(t, map[string]bool{
		"a1 phage": true, "a2 phage": true, "b1 phage": true, "c1 phage": true, "c2 phage": true,
	}, ids)
}

func TestPipeline_SingleReaderKeepsRecordOrder(t *testing.T) {
	fx := newFixture(t, 2)
	sk, index, dict := newTargets(t)
	opts := defaultOptions()
	opts.Readers = 1
	p, err := pipeline.New(sk, index, dict, opts)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), fx.dir)
	require.NoError(t, err)

	var got []string
	for _, e := range dict.Entries() {
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"a1 phage", "a2 phage", "b1 phage", "c1 phage", "c2 phage"}, got)
}

func TestPipeline_AddingModeExtends(t *testing.T) {
	sk, index, dict := newTargets(t)

	p, err := pipeline.New(sk, index, dict, defaultOptions())
	require.NoError(t, err)
	_, err = p.Run(context.Background(), newFixture(t, 3).dir)
	require.NoError(t, err)
	before := index.Len()

	p, err = pipeline.New(sk, index, dict, defaultOptions())
	require.NoError(t, err)
	res, err := p.Run(context.Background(), newFixture(t, 4).dir)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, before+5, index.Len())
	assert.Equal(t, index.Len(), dict.Len())
	assert.True(t, dict.Dense())
}

func TestPipeline_MalformedStopsRun(t *testing.T) {
	fx := newFixture(t, 5)
	f, err := os.Create(filepath.Join(fx.dir, "bad.fna.gz"))
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = io.WriteString(gz, ">ok\nACGTACGT\n>broken\nAC%GT\n")
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	sk, index, dict := newTargets(t)
	p, err := pipeline.New(sk, index, dict, defaultOptions())
	require.NoError(t, err)

	_, err = p.Run(context.Background(), fx.dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMalformedRecord)
	assert.Contains(t, err.Error(), "bad.fna.gz")
}

func TestPipeline_EmptyTree(t *testing.T) {
	sk, index, dict := newTargets(t)
	p, err := pipeline.New(sk, index, dict, defaultOptions())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, pipeline.Result{Duration: res.Duration}, res)
	assert.Equal(t, 0, index.Len())
}

func TestPipeline_Cancelled(t *testing.T) {
	fx := newFixture(t, 6)
	sk, index, dict := newTargets(t)
	p, err := pipeline.New(sk, index, dict, defaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, fx.dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Mismatch(t *testing.T) {
	sk, err := sketch.New(4, 16, false)
	require.NoError(t, err)
	_, index, dict := newTargets(t)
	_, err = pipeline.New(sk, index, dict, defaultOptions())
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	sk8, index, dict := newTargets(t)
	require.NoError(t, dict.Put(0, "orphan", "x"))
	_, err = pipeline.New(sk8, index, dict, defaultOptions())
	assert.ErrorIs(t, err, core.ErrCorruptState)
}

func TestPipeline_MissingDir(t *testing.T) {
	sk, index, dict := newTargets(t)
	p, err := pipeline.New(sk, index, dict, defaultOptions())
	require.NoError(t, err)
	_, err = p.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}
