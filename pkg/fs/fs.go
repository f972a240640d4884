// Package fs provides filesystem abstractions used by the persistent hash
// store and its tests.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation backed by the [os] package
//   - [CrashFS]: test implementation that simulates a process crash after a
//     configurable number of durability-relevant calls
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.OpenFile("store.tcs", os.O_RDWR, 0)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// This interface is satisfied by [os.File]. The intent is os-like behavior:
// implementations must behave like [os.File], including that [File.Fd]
// returns a valid OS file descriptor usable with syscalls (mmap, flock,
// pread/pwrite) until the file is closed.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type File interface {
	io.ReadWriteCloser
	io.Seeker
	io.ReaderAt
	io.WriterAt

	// Fd returns the file descriptor, used for mmap/flock/pread/pwrite.
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file.
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Truncate changes the size of the file. See [os.File.Truncate].
	Truncate(size int64) error
}

// FS defines filesystem operations needed to open, grow and lock a store
// file. All methods mirror their [os] package equivalents but can be
// intercepted for fault-injection testing.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See
	// [os.OpenFile]. Use this for fine-grained control (create, exclusive
	// create, read-write, etc).
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Remove deletes a file. See [os.Remove].
	Remove(path string) error

	// Rename moves/renames a file. See [os.Rename]. Atomic on the same
	// filesystem.
	Rename(oldpath, newpath string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
