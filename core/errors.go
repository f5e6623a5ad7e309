package core

import "errors"

// Error kinds surfaced by the indexing pipeline, the graph and the persistence layer.
// Every error returned by this module wraps exactly one of them.
var (
	// ErrSequenceTooShort means no k-mer could be extracted from a sequence.
	// The record is skipped; this is never fatal.
	ErrSequenceTooShort = errors.New("sequence too short for k-mer size")

	// ErrMalformedRecord means a sequence record could not be parsed.
	ErrMalformedRecord = errors.New("malformed sequence record")

	// ErrInvalidParameter is returned for out-of-range or incompatible parameters.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrCorruptState means persisted artifacts are missing, unparsable or inconsistent.
	ErrCorruptState = errors.New("corrupt persisted state")

	// ErrDumpFailure wraps I/O failures while writing persisted artifacts.
	ErrDumpFailure = errors.New("dump failure")
)
