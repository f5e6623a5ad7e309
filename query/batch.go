package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/source"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// BatchOptions configures RunBatch.
type BatchOptions struct {
	K        int
	Ef       int // 0 selects the index's ef_search
	Threads  int
	Suffix   string
	Progress bool
}

// QueryResult holds the results for a single query record.
type QueryResult struct {
	ID       string
	File     string
	Hits     []Hit
	Duration time.Duration
	TooShort bool
}

type queryRecord struct {
	id   string
	file string
	seq  []byte
}

// RunBatch queries every record of the files below dir against the index.
// Records too short to sketch are reported with TooShort set. Results keep
// the order of the records.
func RunBatch(ctx context.Context, s *Searcher, dir string, opts BatchOptions) ([]QueryResult, error) {
	if opts.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", core.ErrInvalidParameter, opts.K)
	}
	threads := max(1, opts.Threads)

	files, err := source.WalkFiles(dir, opts.Suffix)
	if err != nil {
		return nil, err
	}
	var records []queryRecord
	for _, path := range files {
		recs, err := readRecords(path)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	log.Info().Msgf("Running kNN queries (k=%d) on %d records using %d threads", opts.K, len(records), threads)

	results := make([]QueryResult, len(records))

	// Set up a progress bar if requested.
	var bar *progressbar.ProgressBar
	if opts.Progress && len(records) > 0 {
		bar = progressbar.Default(int64(len(records)), "querying")
	}

	// The first failing query stops the feed.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Create a channel to feed query indices.
	tasks := make(chan int)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	worker := func() {
		defer wg.Done()
		for idx := range tasks {
			if runCtx.Err() != nil {
				return
			}
			rec := records[idx]
			start := time.Now()
			hits, err := s.SearchSequence(rec.seq, opts.K, opts.Ef)
			res := QueryResult{ID: rec.id, File: rec.file, Duration: time.Since(start)}
			switch {
			case errors.Is(err, core.ErrSequenceTooShort):
				res.TooShort = true
			case err != nil:
				once.Do(func() { firstErr = fmt.Errorf("query %s: %w", rec.id, err) })
				cancel()
				return
			default:
				res.Hits = hits
			}
			results[idx] = res
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}

	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go worker()
	}

feed:
	for i := range records {
		select {
		case tasks <- i:
		case <-runCtx.Done():
			break feed
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func readRecords(path string) ([]queryRecord, error) {
	r, err := source.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []queryRecord
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, queryRecord{id: rec.ID, file: rec.File, seq: rec.Seq})
	}
}

// FormatResults returns a formatted string of hits.
// maxResults specifies how many items to include.
func FormatResults(hits []Hit, maxResults int) string {
	limit := min(maxResults, len(hits))
	var sb strings.Builder
	for i := 0; i < limit; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s (dist=%d)", hits[i].ID, hits[i].Distance)
	}
	return sb.String()
}

// SelfHitRate is the fraction of sketched queries whose closest hit carries
// the query's own identifier. Querying an indexed tree against its own index
// should give a rate close to one.
func SelfHitRate(results []QueryResult) float64 {
	total, hits := 0, 0
	for _, r := range results {
		if r.TooShort {
			continue
		}
		total++
		if len(r.Hits) > 0 && r.Hits[0].ID == r.ID {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// PrintResults writes one block per query followed by a summary.
func PrintResults(w io.Writer, results []QueryResult, maxResults int) {
	var total time.Duration
	for i, r := range results {
		fmt.Fprintf(w, "Query #%d: %s (%s)\n", i+1, r.ID, r.File)
		if r.TooShort {
			fmt.Fprintln(w, " -> too short to sketch")
			continue
		}
		fmt.Fprintf(w, " -> Neighbors: %s\n", FormatResults(r.Hits, maxResults))
		total += r.Duration
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No queries")
		return
	}
	fmt.Fprintf(w, "Self-hit rate over %d queries: %.2f\n", len(results), SelfHitRate(results))
	fmt.Fprintf(w, "Average query response time: %v\n", total/time.Duration(len(results)))
}
