// Package pipeline builds an index from a tree of sequence files. Reader
// workers parse, filter and sketch records and hand them over a bounded queue
// to indexer workers that wire them into the graph and the dictionary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrikhermansson/tohnsw/core"
	"github.com/patrikhermansson/tohnsw/hnsw"
	"github.com/patrikhermansson/tohnsw/metrics"
	"github.com/patrikhermansson/tohnsw/seqdict"
	"github.com/patrikhermansson/tohnsw/sketch"
	"github.com/patrikhermansson/tohnsw/source"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// Options configures the worker layout of a run.
type Options struct {
	Readers   int
	Indexers  int
	QueueSize int
	Suffix    string
	Filter    source.Filter
	Progress  bool
}

// Result summarizes a run.
type Result struct {
	Files    int
	Records  int
	Excluded int
	TooShort int
	Inserted int
	Duration time.Duration
}

// item is a sketched record waiting for an indexer. Its rank is reserved by
// the reader, so ranks follow each reader's record order.
type item struct {
	rank int
	sig  core.Signature
	id   string
	file string
}

// Pipeline feeds one graph and its dictionary. Both may already hold entries
// when a reloaded index is extended.
type Pipeline struct {
	sketcher *sketch.Sketcher
	index    *hnsw.HNSWIndex
	dict     *seqdict.SeqDict
	opts     Options

	records  atomic.Int64
	excluded atomic.Int64
	tooShort atomic.Int64
	inserted atomic.Int64
}

// New returns a pipeline writing into index and dict.
func New(sk *sketch.Sketcher, index *hnsw.HNSWIndex, dict *seqdict.SeqDict, opts Options) (*Pipeline, error) {
	if sk.Size() != index.Options().SketchSize {
		return nil, fmt.Errorf("%w: sketch size %d does not match graph sketch size %d",
			core.ErrInvalidParameter, sk.Size(), index.Options().SketchSize)
	}
	if index.Len() != dict.Len() {
		return nil, fmt.Errorf("%w: graph holds %d vertices but dictionary %d entries",
			core.ErrCorruptState, index.Len(), dict.Len())
	}
	opts.Readers = max(1, opts.Readers)
	opts.Indexers = max(1, opts.Indexers)
	opts.QueueSize = max(1, opts.QueueSize)
	return &Pipeline{sketcher: sk, index: index, dict: dict, opts: opts}, nil
}

// Run indexes every file below dir matching the configured suffix. The first
// malformed record or I/O error stops all workers and is returned.
// Dictionary entries record file paths relative to dir.
func (p *Pipeline) Run(ctx context.Context, dir string) (Result, error) {
	files, err := source.WalkFiles(dir, p.opts.Suffix)
	if err != nil {
		return Result{}, err
	}
	return p.run(ctx, dir, files)
}

func (p *Pipeline) run(ctx context.Context, root string, files []string) (Result, error) {
	start := time.Now()
	log.Info().Msgf("Indexing %d files with %d readers and %d indexers", len(files), p.opts.Readers, p.opts.Indexers)

	var bar *progressbar.ProgressBar
	if p.opts.Progress && len(files) > 0 {
		bar = progressbar.Default(int64(len(files)), "indexing")
	}

	g, ctx := errgroup.WithContext(ctx)
	fileCh := make(chan string)
	queue := make(chan item, p.opts.QueueSize)

	// Walker.
	g.Go(func() error {
		defer close(fileCh)
		for _, f := range files {
			select {
			case fileCh <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	// Readers.
	var readers sync.WaitGroup
	readers.Add(p.opts.Readers)
	for i := 0; i < p.opts.Readers; i++ {
		g.Go(func() error {
			defer readers.Done()
			for path := range fileCh {
				if err := p.readFile(ctx, root, path, queue); err != nil {
					return err
				}
				metrics.FilesTotal.Inc()
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		readers.Wait()
		close(queue)
		return nil
	})

	// Indexers.
	for i := 0; i < p.opts.Indexers; i++ {
		g.Go(func() error {
			for it := range queue {
				metrics.QueueDepth.Dec()
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := p.store(it); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if bar != nil {
		_ = bar.Finish()
	}
	res := Result{
		Files:    len(files),
		Records:  int(p.records.Load()),
		Excluded: int(p.excluded.Load()),
		TooShort: int(p.tooShort.Load()),
		Inserted: int(p.inserted.Load()),
		Duration: time.Since(start),
	}
	metrics.GraphVertices.Set(float64(p.index.Len()))
	if err != nil {
		log.Error().Err(err).Msg("Indexing stopped")
		return res, err
	}
	log.Info().Msgf("Indexed %d of %d records in %.2fs (%d excluded, %d too short)",
		res.Inserted, res.Records, res.Duration.Seconds(), res.Excluded, res.TooShort)
	return res, nil
}

// readFile parses, filters and sketches the records of one file and queues them.
func (p *Pipeline) readFile(ctx context.Context, root, path string, queue chan<- item) error {
	r, err := source.OpenFile(path)
	if err != nil {
		return err
	}
	defer r.Close()

	name := path
	if rel, err := filepath.Rel(root, path); err == nil {
		name = rel
	}
	log.Debug().Msgf("Reading %s", name)

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		p.records.Add(1)

		if !p.opts.Filter.Keep(rec) {
			p.excluded.Add(1)
			metrics.SequencesTotal.WithLabelValues(metrics.OutcomeExcluded).Inc()
			log.Debug().Msgf("Excluding %s", rec.ID)
			continue
		}
		sig, err := p.sketcher.Sketch(rec.Seq)
		if errors.Is(err, core.ErrSequenceTooShort) {
			p.tooShort.Add(1)
			metrics.SequencesTotal.WithLabelValues(metrics.OutcomeTooShort).Inc()
			log.Debug().Msgf("Skipping %s: %d residues", rec.ID, len(rec.Seq))
			continue
		}
		if err != nil {
			return fmt.Errorf("sketch %s in %s: %w", rec.ID, name, err)
		}

		it := item{rank: p.index.Reserve(), sig: sig, id: rec.ID, file: name}
		select {
		case queue <- it:
			metrics.QueueDepth.Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// store inserts it into the graph and the dictionary under its reserved rank.
func (p *Pipeline) store(it item) error {
	if err := p.index.InsertAt(it.rank, it.sig); err != nil {
		return fmt.Errorf("insert %s: %w", it.id, err)
	}
	if err := p.dict.Put(it.rank, it.id, it.file); err != nil {
		return fmt.Errorf("record %s: %w", it.id, err)
	}
	p.inserted.Add(1)
	metrics.SequencesTotal.WithLabelValues(metrics.OutcomeInserted).Inc()
	return nil
}
