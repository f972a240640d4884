package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryLock/TryRLock when the lock is held by
// another process, and is wrapped by the polling acquisition when a positive
// timeout expires.
var ErrWouldBlock = errors.New("lock would block")

// errInodeMismatch is an internal sentinel indicating the lock file was
// replaced between open and flock. Callers should retry.
var errInodeMismatch = errors.New("inode mismatch")

// Locker provides file-based advisory locking using flock(2).
//
// flock locks an inode (the open file descriptor), not a pathname. Locker
// always locks a dedicated, stable lock file path (for example
// "store.tcs.lock") and never replaces or unlinks it while a lock may be
// held, matching §5 of the store's file-locking model: the writer takes an
// exclusive lock, readers take a shared lock, and "mode=f" uses a
// non-blocking attempt that fails fast.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that uses the given filesystem for file
// operations.
func NewLocker(fsys FS) *Locker {
	return &Locker{fs: fsys, flock: unix.Flock}
}

// Lock represents a held file lock. Call [Lock.Close] to release it.
type Lock struct {
	mu    sync.Mutex
	file  File
	flock func(fd int, how int) error
}

// Close releases the lock and closes the underlying file descriptor.
// Close is idempotent.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())

	unlockErr := flockRetryEINTR(lk.flock, fd, unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return nil
}

type lockType int

const (
	sharedLock    lockType = unix.LOCK_SH
	exclusiveLock lockType = unix.LOCK_EX
)

// Lock acquires an exclusive lock on the file at path, blocking until the
// lock is available. Used by the writer side of §5's file-locking model
// (mode without 'e'/'f').
func (l *Locker) Lock(path string) (*Lock, error) {
	return l.lockPolling(path, exclusiveLock, -1)
}

// RLock acquires a shared lock on the file at path, blocking until the lock
// is available. Used by readers.
func (l *Locker) RLock(path string) (*Lock, error) {
	return l.lockPolling(path, sharedLock, -1)
}

// TryLock attempts to acquire an exclusive lock without blocking. Returns
// [ErrWouldBlock] immediately if the lock is held by another process. This
// is the "mode=f" (LOCK_NB) behavior from §5/§4.3.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.lockPolling(path, exclusiveLock, 0)
}

// TryRLock attempts to acquire a shared lock without blocking.
func (l *Locker) TryRLock(path string) (*Lock, error) {
	return l.lockPolling(path, sharedLock, 0)
}

// lockPolling attempts to acquire a lock.
//
//   - timeout < 0: block indefinitely (true flock blocking call)
//   - timeout == 0: try once, non-blocking
//   - timeout > 0: retry with backoff until timeout
func (l *Locker) lockPolling(path string, lt lockType, timeout time.Duration) (*Lock, error) {
	blocking := timeout < 0

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	backoff := time.Millisecond

	for {
		file, err := l.openLockFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path, lt, !blocking)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		retryable := errors.Is(err, ErrWouldBlock) || errors.Is(err, errInodeMismatch)
		if !retryable {
			return nil, err
		}

		if blocking {
			continue
		}

		if timeout == 0 {
			return nil, ErrWouldBlock
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: timed out after %s", ErrWouldBlock, timeout)
		}

		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}

		time.Sleep(sleep)

		if backoff < 25*time.Millisecond {
			backoff *= 2
		}
	}
}

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755
)

func (l *Locker) openLockFile(path string) (File, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
}

// acquire flocks file and verifies the inode still matches path. On failure
// the file is unlocked (if needed) but NOT closed; the caller closes it.
func (l *Locker) acquire(file File, path string, lt lockType, nonBlocking bool) error {
	fd := int(file.Fd())

	flags := int(lt)
	if nonBlocking {
		flags |= unix.LOCK_NB
	}

	if err := flockRetryEINTR(l.flock, fd, flags); err != nil {
		if isWouldBlock(err) {
			return ErrWouldBlock
		}

		return err
	}

	match, err := l.inodeMatchesPath(path, file)
	if err != nil {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		if errors.Is(err, os.ErrNotExist) {
			return errInodeMismatch
		}

		return fmt.Errorf("verifying inode match: %w", err)
	}

	if !match {
		_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

		return errInodeMismatch
	}

	return nil
}

// inodeMatchesPath guards against the lock file being replaced (rename,
// delete+recreate) during the open->flock window. See
// [Locker.lockPolling]'s retry loop for the caller side of this.
func (l *Locker) inodeMatchesPath(path string, f File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	openSys, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok || openSys == nil {
		return false, fmt.Errorf("file.Stat Sys=%T, want *syscall.Stat_t", openInfo.Sys())
	}

	pathInfo, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	pathSys, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok || pathSys == nil {
		return false, fmt.Errorf("fs.Stat Sys=%T, want *syscall.Stat_t", pathInfo.Sys())
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}

// flockRetryEINTR wraps flock, retrying on EINTR (signal interruption isn't
// failure, it just needs to be retried).
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error

	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
