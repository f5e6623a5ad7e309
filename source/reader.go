package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/patrikhermansson/tohnsw/core"
)

const readBufferSize = 1 << 20

// Record is one sequence read from a file.
type Record struct {
	ID   string // full header line without the leading marker
	Seq  []byte
	File string
	Line int // line of the header
}

// ParseError locates a malformed record. It matches core.ErrMalformedRecord.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s:%d: %s", core.ErrMalformedRecord, e.File, e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error { return core.ErrMalformedRecord }

// Reader parses FASTA and FASTQ records. The format is fixed by the first
// record of the stream.
type Reader struct {
	br     *bufio.Reader
	name   string
	line   int
	format byte // '>' or '@' once known

	peeked  []byte
	hasPeek bool

	closers []io.Closer
}

// NewReader parses records from r. name is used in records and errors.
func NewReader(r io.Reader, name string) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, readBufferSize), name: name}
}

// OpenFile opens a plain or gzip-compressed sequence file. Compression is
// detected from the content, not the name.
func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(f, readBufferSize)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		r := NewReader(gz, path)
		r.closers = []io.Closer{gz, f}
		return r, nil
	}
	return &Reader{br: br, name: path, closers: []io.Closer{f}}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	var err error
	for _, c := range r.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	r.closers = nil
	return err
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	line, err := r.nextNonEmpty()
	if err != nil {
		return Record{}, err
	}
	marker := line[0]
	if marker != '>' && marker != '@' {
		return Record{}, r.malformed("expected '>' or '@' at start of record, got %q", truncate(line))
	}
	if r.format == 0 {
		r.format = marker
	} else if r.format != marker {
		return Record{}, r.malformed("record marker %q in a stream of %q records", marker, r.format)
	}
	rec := Record{ID: string(bytes.TrimSpace(line[1:])), File: r.name, Line: r.line}
	if rec.ID == "" {
		return Record{}, r.malformed("empty record identifier")
	}
	if marker == '>' {
		err = r.readFasta(&rec)
	} else {
		err = r.readFastq(&rec)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *Reader) readFasta(rec *Record) error {
	for {
		line, err := r.readLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(line) > 0 && line[0] == '>' {
			r.unread(line)
			return nil
		}
		line = bytes.TrimSpace(line)
		if err := r.checkResidues(line); err != nil {
			return err
		}
		rec.Seq = append(rec.Seq, line...)
	}
}

func (r *Reader) readFastq(rec *Record) error {
	seq, err := r.readLine()
	if err != nil {
		return r.truncated(err)
	}
	seq = bytes.TrimSpace(seq)
	if err := r.checkResidues(seq); err != nil {
		return err
	}
	plus, err := r.readLine()
	if err != nil {
		return r.truncated(err)
	}
	if len(plus) == 0 || plus[0] != '+' {
		return r.malformed("expected '+' separator, got %q", truncate(plus))
	}
	qual, err := r.readLine()
	if err != nil {
		return r.truncated(err)
	}
	qual = bytes.TrimSpace(qual)
	if len(qual) != len(seq) {
		return r.malformed("quality length %d does not match sequence length %d", len(qual), len(seq))
	}
	rec.Seq = append(rec.Seq, seq...)
	return nil
}

func (r *Reader) checkResidues(line []byte) error {
	for _, c := range line {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '-', c == '*', c == '.':
		default:
			return r.malformed("invalid residue %q", c)
		}
	}
	return nil
}

func (r *Reader) nextNonEmpty() ([]byte, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) > 0 {
			return line, nil
		}
	}
}

// readLine returns the next line without its terminator.
func (r *Reader) readLine() ([]byte, error) {
	if r.hasPeek {
		r.hasPeek = false
		r.line++
		return r.peeked, nil
	}
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", r.name, err)
		}
		if len(line) == 0 {
			return nil, io.EOF
		}
	}
	r.line++
	line = bytes.TrimRight(line, "\r\n")
	return line, nil
}

func (r *Reader) unread(line []byte) {
	r.peeked = line
	r.hasPeek = true
	r.line--
}

func (r *Reader) truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return r.malformed("truncated record")
	}
	return err
}

func (r *Reader) malformed(format string, args ...any) error {
	return &ParseError{File: r.name, Line: r.line, Msg: fmt.Sprintf(format, args...)}
}

func truncate(b []byte) string {
	if len(b) > 40 {
		return string(b[:40]) + "..."
	}
	return string(b)
}
