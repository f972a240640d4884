package kvhash

import "errors"

// Error classification mirrors the store's error taxonomy: predictable
// business failures (Keep, NoRec) never latch the fatal flag, while I/O
// failures that risk leaving the file inconsistent do.
var (
	// ErrInvalid signals an operation unsupported in the current mode or state.
	ErrInvalid = errors.New("kvhash: invalid operation")

	// ErrNoFile indicates the backing file does not exist and create was not requested.
	ErrNoFile = errors.New("kvhash: no file")

	// ErrNoPerm indicates a permission failure opening or locking the file.
	ErrNoPerm = errors.New("kvhash: no permission")

	// ErrMeta indicates the file header magic or version does not match.
	ErrMeta = errors.New("kvhash: meta mismatch")

	// ErrBrokenHeader indicates a structurally invalid header (bad CRC, counts).
	ErrBrokenHeader = errors.New("kvhash: broken header")

	// ErrOpen/ErrClose/ErrTrunc/ErrSync/ErrStat/ErrSeek/ErrRead/ErrWrite/ErrMmap
	// wrap the underlying syscall failure for the corresponding operation.
	ErrOpen  = errors.New("kvhash: open failed")
	ErrClose = errors.New("kvhash: close failed")
	ErrTrunc = errors.New("kvhash: truncate failed")
	ErrSync  = errors.New("kvhash: sync failed")
	ErrStat  = errors.New("kvhash: stat failed")
	ErrSeek  = errors.New("kvhash: seek failed")
	ErrRead  = errors.New("kvhash: read failed")
	ErrWrite = errors.New("kvhash: write failed")
	ErrMmap  = errors.New("kvhash: mmap failed")

	// ErrLock indicates the file lock could not be acquired (mode=f contention,
	// or another writer already holds it).
	ErrLock = errors.New("kvhash: lock held")

	ErrUnlink = errors.New("kvhash: unlink failed")
	ErrRename = errors.New("kvhash: rename failed")
	ErrMkdir  = errors.New("kvhash: mkdir failed")

	// ErrKeep is returned by PutKeep when the key already exists.
	ErrKeep = errors.New("kvhash: record exists")

	// ErrNoRec is returned by Get/Out/VSiz when the key does not exist.
	ErrNoRec = errors.New("kvhash: no record")

	// ErrMisc is a catch-all for conditions not covered by the above.
	ErrMisc = errors.New("kvhash: misc error")

	// ErrFatal is returned by every operation once the fatal flag has latched;
	// only Close remains valid.
	ErrFatal = errors.New("kvhash: fatal error latched, only close permitted")
)
