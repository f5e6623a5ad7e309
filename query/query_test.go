package query_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/patrikhermansson/tohnsw/config"
	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/dumpload"
	"github.com/patrikhermansson/tohnsw/metrics"
	"github.com/patrikhermansson/tohnsw/pipeline"
	"github.com/patrikhermansson/tohnsw/query"
	"github.com/patrikhermansson/tohnsw/source"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCorpus(t *testing.T, dir string, files, perFile int) map[string]string {
	t.Helper()
	r := rand.New(rand.NewSource(int64(files*100 + perFile)))
	seqs := map[string]string{}
	for f := 0; f < files; f++ {
		var sb strings.Builder
		for i := 0; i < perFile; i++ {
			id := fmt.Sprintf("g%d_%d", f, i)
			seq := make([]byte, 300)
			for j := range seq {
				seq[j] = "ACGT"[r.Intn(4)]
			}
			seqs[id] = string(seq)
			fmt.Fprintf(&sb, ">%s\n%s\n", id, seq)
		}
		// A record no k-mer can be taken from.
		if f == 0 {
			sb.WriteString(">tiny\nACG\n")
		}
		fh, err := os.Create(filepath.Join(dir, fmt.Sprintf("f%d.fna.gz", f)))
		require.NoError(t, err)
		gz := gzip.NewWriter(fh)
		_, err = io.WriteString(gz, sb.String())
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		require.NoError(t, fh.Close())
	}
	return seqs
}

// buildIndex indexes dir and returns the reloaded state.
func buildIndex(t *testing.T, dir string) *dumpload.State {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Dir = dir
	cfg.DumpDir = t.TempDir()
	cfg.Kmer = 8
	cfg.Sketch = 64
	cfg.Nbng = 8
	cfg.MaxElements = 1000
	cfg.Seed = 3
	cfg.Progress = false
	require.NoError(t, cfg.Validate())

	st, err := dumpload.OpenIndex(cfg)
	require.NoError(t, err)
	sk, err := st.Params.Sketcher()
	require.NoError(t, err)
	p, err := pipeline.New(sk, st.Index, st.Dict, pipeline.Options{
		Readers: 1, Indexers: 2, QueueSize: 8, Suffix: cfg.Suffix, Filter: source.Filter{Exclude: cfg.Exclude},
	})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, dumpload.DumpAll(cfg.DumpDir, st))

	reloaded, err := dumpload.ReloadAll(cfg.DumpDir)
	require.NoError(t, err)
	return reloaded
}

func TestSearcher_SearchSequence(t *testing.T) {
	dir := t.TempDir()
	seqs := writeCorpus(t, dir, 2, 20)
	s, err := query.NewSearcher(buildIndex(t, dir))
	require.NoError(t, err)
	assert.Equal(t, 200, s.EfSearch())

	hits, err := s.SearchSequence([]byte(seqs["g1_7"]), 3, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "g1_7", hits[0].ID)
	assert.Equal(t, "f1.fna.gz", hits[0].File)
	assert.Equal(t, 0, hits[0].Distance)
	assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
	assert.LessOrEqual(t, hits[1].Distance, hits[2].Distance)

	_, err = s.SearchSequence([]byte("AC"), 3, 0)
	assert.ErrorIs(t, err, core.ErrSequenceTooShort)

	_, err = s.SearchSignature(make(core.Signature, 64), 0, 10)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	_, err = s.SearchSignature(make(core.Signature, 5), 1, 10)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestRunBatch_SelfQuery(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, 3, 15)
	s, err := query.NewSearcher(buildIndex(t, dir))
	require.NoError(t, err)

	results, err := query.RunBatch(context.Background(), s, dir, query.BatchOptions{K: 5, Threads: 4, Suffix: "fna.gz"})
	require.NoError(t, err)
	require.Len(t, results, 46)

	// Results keep record order, the tiny record comes last in the first file.
	assert.Equal(t, "g0_0", results[0].ID)
	assert.Equal(t, "tiny", results[15].ID)
	assert.True(t, results[15].TooShort)
	assert.Empty(t, results[15].Hits)
	assert.Equal(t, "g2_14", results[45].ID)

	assert.InDelta(t, 1.0, query.SelfHitRate(results), 1e-9)

	var out bytes.Buffer
	query.PrintResults(&out, results, 2)
	assert.Contains(t, out.String(), "Query #1: g0_0")
	assert.Contains(t, out.String(), "too short to sketch")
	assert.Contains(t, out.String(), "Self-hit rate over 46 queries: 1.00")
}

func searchCount(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.SearchDuration.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestRunBatch_StopsAtFirstError(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, 3, 15)
	s, err := query.NewSearcher(buildIndex(t, dir))
	require.NoError(t, err)

	// A negative beam width fails every search.
	before := searchCount(t)
	_, err = query.RunBatch(context.Background(), s, dir, query.BatchOptions{K: 5, Ef: -1, Threads: 1, Suffix: "fna.gz"})
	require.ErrorIs(t, err, core.ErrInvalidParameter)
	assert.Contains(t, err.Error(), "query g0_0")
	assert.Equal(t, uint64(1), searchCount(t)-before)
}

func TestRunBatch_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, 1, 5)
	s, err := query.NewSearcher(buildIndex(t, dir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = query.RunBatch(ctx, s, dir, query.BatchOptions{K: 5, Threads: 2, Suffix: "fna.gz"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBatch_InvalidK(t *testing.T) {
	_, err := query.RunBatch(context.Background(), nil, t.TempDir(), query.BatchOptions{K: 0})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestFormatResults(t *testing.T) {
	hits := []query.Hit{{ID: "a", Distance: 0}, {ID: "b", Distance: 3}, {ID: "c", Distance: 5}}
	assert.Equal(t, "a (dist=0) b (dist=3)", query.FormatResults(hits, 2))
	assert.Equal(t, "a (dist=0) b (dist=3) c (dist=5)", query.FormatResults(hits, 10))
	assert.Equal(t, "", query.FormatResults(nil, 3))
}

func TestSelfHitRate(t *testing.T) {
	results := []query.QueryResult{
		{ID: "a", Hits: []query.Hit{{ID: "a"}}},
		{ID: "b", Hits: []query.Hit{{ID: "a"}}},
		{ID: "c", TooShort: true},
	}
	assert.InDelta(t, 0.5, query.SelfHitRate(results), 1e-9)
	assert.Zero(t, query.SelfHitRate(nil))
}
