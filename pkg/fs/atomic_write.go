package fs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	natomic "github.com/natefinch/atomic"
)

// ErrDirSync indicates the parent directory could not be synced after
// rename. When returned, the new file is in place but durability of the
// rename itself is not guaranteed on crash.
var ErrDirSync = errors.New("dir sync")

// AtomicWriter writes files atomically using temp-file-then-rename.
//
// The persistent hash store does not use it: it creates a new store file in
// place, and its Optimize builds a fresh file through its own FS and renames
// it over the original.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter that uses the given filesystem.
func NewAtomicWriter(fsys FS) *AtomicWriter {
	if fsys == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fsys}
}

// AtomicWriteOptions configures Write behavior.
type AtomicWriteOptions struct {
	// SyncDir controls whether the parent directory is synced after rename.
	SyncDir bool

	// Perm specifies the file permissions, applied via chmod regardless of
	// umask. Must be non-zero.
	Perm os.FileMode
}

// Write writes data from r to path atomically and durably.
//
// It writes to a temp file in the same directory, syncs it, renames it over
// path, then syncs the parent directory if opts.SyncDir is set. If the
// directory sync step fails, the returned error satisfies
// errors.Is(err, ErrDirSync); the rename itself has already succeeded.
func (w *AtomicWriter) Write(path string, r io.Reader, opts AtomicWriteOptions) error {
	if r == nil {
		panic("reader is nil")
	}

	if path == "" {
		return errors.New("path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("perm must be non-zero")
	}

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmp.Chmod(opts.Perm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("close temp file: %w", err)
	}

	if err := w.fs.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("rename temp file: %w", err)
	}

	if !opts.SyncDir {
		return nil
	}

	dirFile, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: open dir: %v", ErrDirSync, err)
	}

	defer dirFile.Close()

	if err := dirFile.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrDirSync, err)
	}

	return nil
}

// WriteFileAtomic writes data to path atomically using natefinch/atomic,
// which performs its own temp-file-then-rename dance without requiring the
// caller to manage a temp path, for small sidecar files where the extra
// durability knobs of AtomicWriter are not needed. Nothing in this module
// calls it; cmd/kvcli's export calls natefinch/atomic directly.
func WriteFileAtomic(path string, data []byte) error {
	return natomic.WriteFile(path, bytes.NewReader(data))
}
