package fs

import (
	"errors"
	"os"
)

// ErrSimulatedCrash is returned by a [CrashFS]-wrapped [File] once its crash
// budget is exhausted, standing in for a process dying mid-write.
var ErrSimulatedCrash = errors.New("fs: simulated crash")

// CrashFS wraps an [FS] and makes every durability-relevant call (Write,
// WriteAt, Sync, Truncate, Rename) on every open file count down from a shared
// budget. Once the budget reaches zero, the next such call fails with
// [ErrSimulatedCrash] instead of completing — modeling a process that dies
// mid-operation.
//
// Used by the persistent store's crash-recovery tests (§8 "Crash
// simulation: during a transaction, kill process after N log writes but
// before commit; reopen -> state equals pre-transaction state").
type CrashFS struct {
	fs     FS
	budget *int
}

// NewCrashFS wraps fsys with a crash budget of n durability-relevant calls.
// A negative n disables crash injection (unlimited budget).
func NewCrashFS(fsys FS, n int) *CrashFS {
	b := n

	return &CrashFS{fs: fsys, budget: &b}
}

// Remaining returns the number of durability-relevant calls left before the
// next one fails.
func (c *CrashFS) Remaining() int {
	return *c.budget
}

func (c *CrashFS) tick() error {
	if *c.budget < 0 {
		return nil
	}

	if *c.budget == 0 {
		return ErrSimulatedCrash
	}

	*c.budget--

	return nil
}

func (c *CrashFS) Open(path string) (File, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &crashFile{File: f, c: c}, nil
}

func (c *CrashFS) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &crashFile{File: f, c: c}, nil
}

func (c *CrashFS) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

func (c *CrashFS) Stat(path string) (os.FileInfo, error) {
	return c.fs.Stat(path)
}

func (c *CrashFS) Remove(path string) error {
	return c.fs.Remove(path)
}

func (c *CrashFS) Rename(oldpath, newpath string) error {
	if err := c.tick(); err != nil {
		return err
	}

	return c.fs.Rename(oldpath, newpath)
}

// crashFile decorates a [File], consuming the shared crash budget on every
// Write, WriteAt, Sync and Truncate call.
type crashFile struct {
	File
	c *CrashFS
}

func (f *crashFile) Write(p []byte) (int, error) {
	if err := f.c.tick(); err != nil {
		return 0, err
	}

	return f.File.Write(p)
}

func (f *crashFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.c.tick(); err != nil {
		return 0, err
	}

	return f.File.WriteAt(p, off)
}

func (f *crashFile) Sync() error {
	if err := f.c.tick(); err != nil {
		return err
	}

	return f.File.Sync()
}

func (f *crashFile) Truncate(size int64) error {
	if err := f.c.tick(); err != nil {
		return err
	}

	return f.File.Truncate(size)
}

// Compile-time interface check.
var _ FS = (*CrashFS)(nil)
