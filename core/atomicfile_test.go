package core_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/patrikhermansson/tohnsw/core"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact")

	// Arrange & Act: first write.
	err := core.WriteFileAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "first")
		return err
	})
	if err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	// Act: failing rewrite.
	boom := errors.New("boom")
	err = core.WriteFileAtomic(path, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return boom
	})

	// Assert: the error passes through and the old content survives.
	if !errors.Is(err, boom) {
		t.Errorf("expected the write error to pass through, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "first" {
		t.Errorf("expected the old content to survive, got %q", data)
	}

	// No temporary files are left behind.
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("expected only the artifact in %s, got %d entries", dir, len(files))
	}
}

func TestWriteFileAtomic_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "artifact")
	err := core.WriteFileAtomic(path, func(w io.Writer) error { return nil })
	if !errors.Is(err, core.ErrDumpFailure) {
		t.Errorf("expected ErrDumpFailure, got %v", err)
	}
}
