// Package seqdict maps graph ranks to the sequence identifiers they were built from.
package seqdict

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/patrikhermansson/tohnsw/core"
	"github.com/rs/zerolog/log"
)

// Entry describes the sequence behind one rank.
type Entry struct {
	Rank int    `json:"rank"`
	ID   string `json:"id"`
	File string `json:"file"`
}

// SeqDict is a rank-indexed registry of sequence identifiers.
// It is safe for concurrent use.
type SeqDict struct {
	mu      sync.RWMutex
	entries []Entry
	present []bool
	filled  int
}

// New allocates an empty dictionary with room for capacity entries.
func New(capacity int) *SeqDict {
	if capacity < 0 {
		capacity = 0
	}
	return &SeqDict{
		entries: make([]Entry, 0, capacity),
		present: make([]bool, 0, capacity),
	}
}

// Put records id and file under rank. A rank can be recorded once.
func (d *SeqDict) Put(rank int, id, file string) error {
	if rank < 0 {
		return fmt.Errorf("%w: negative rank %d", core.ErrInvalidParameter, rank)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.entries) <= rank {
		d.entries = append(d.entries, Entry{})
		d.present = append(d.present, false)
	}
	if d.present[rank] {
		return fmt.Errorf("%w: rank %d already recorded", core.ErrInvalidParameter, rank)
	}
	d.entries[rank] = Entry{Rank: rank, ID: id, File: file}
	d.present[rank] = true
	d.filled++
	return nil
}

// Get returns the entry stored for rank.
func (d *SeqDict) Get(rank int) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if rank < 0 || rank >= len(d.entries) || !d.present[rank] {
		return Entry{}, false
	}
	return d.entries[rank], true
}

// Len returns the number of recorded entries.
func (d *SeqDict) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filled
}

// Dense reports whether ranks 0..Len()-1 are all recorded.
func (d *SeqDict) Dense() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filled == len(d.entries)
}

// Entries returns a copy of the recorded entries ordered by rank.
func (d *SeqDict) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, d.filled)
	for i, e := range d.entries {
		if d.present[i] {
			out = append(out, e)
		}
	}
	return out
}

// Dump writes the dictionary as a JSON array ordered by rank. The previous
// file at path, if any, is replaced atomically.
func (d *SeqDict) Dump(path string) error {
	if !d.Dense() {
		return fmt.Errorf("%w: dictionary has gaps, %d entries recorded", core.ErrCorruptState, d.Len())
	}
	entries := d.Entries()
	err := core.WriteFileAtomic(path, func(w io.Writer) error {
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			return fmt.Errorf("%w: encode %s: %v", core.ErrDumpFailure, path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug().Msgf("SeqDict with %d entries dumped to %s", len(entries), path)
	return nil
}

// Reload reads a dictionary written by Dump. Entries must carry ranks 0..n-1 in order.
func Reload(path string) (*SeqDict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open seqdict: %v", core.ErrCorruptState, err)
	}
	defer f.Close()

	var entries []Entry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", core.ErrCorruptState, path, err)
	}
	d := New(len(entries))
	for i, e := range entries {
		if e.Rank != i {
			return nil, fmt.Errorf("%w: %s: entry %d carries rank %d", core.ErrCorruptState, path, i, e.Rank)
		}
		if err := d.Put(e.Rank, e.ID, e.File); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrCorruptState, err)
		}
	}
	log.Info().Msgf("SeqDict reloaded from %s with %d entries", path, d.Len())
	return d, nil
}
