package kvhash

import (
	"encoding/binary"
	"fmt"
)

const walFileSuffix = ".wal"

// TranBegin opens a transaction scope: every mutating call made before the
// matching TranCommit/TranAbort logs its reverse operation to the WAL
// (§4.1.5).
func (s *Store) TranBegin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	if s.tx != nil {
		return fmt.Errorf("%w: transaction already open", ErrInvalid)
	}

	w, err := openWAL(s.fsys, s.path+walFileSuffix)
	if err != nil {
		return err
	}

	s.tx = w

	return nil
}

// TranCommit flushes the main file, fsyncs it, then truncates the log,
// per §5: "commit is: flush main file -> fsync -> truncate log."
func (s *Store) TranCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("%w: no open transaction", ErrInvalid)
	}

	if err := s.writeHeader(); err != nil {
		return s.markFatal(err)
	}

	if err := s.file.Sync(); err != nil {
		return s.markFatal(fmt.Errorf("%w: %v", ErrSync, err))
	}

	if err := s.tx.commit(); err != nil {
		return s.markFatal(err)
	}

	if err := s.tx.close(); err != nil {
		return s.markFatal(err)
	}

	s.tx = nil

	return nil
}

// TranAbort replays the WAL backwards, restoring every logged byte range
// and file size, then truncates the log, per §5: "An abort is: read log
// backwards -> apply reverse records -> truncate."
func (s *Store) TranAbort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("%w: no open transaction", ErrInvalid)
	}

	if err := s.replayAbort(s.tx); err != nil {
		return s.markFatal(err)
	}

	if err := s.tx.truncate(); err != nil {
		return s.markFatal(err)
	}

	if err := s.tx.close(); err != nil {
		return s.markFatal(err)
	}

	s.tx = nil

	// Reload header and rebuild caches/free-pool from the now-restored
	// file; the in-memory free pool and record cache may reference frames
	// that no longer exist at their old addresses.
	if err := s.reloadAfterAbort(); err != nil {
		return s.markFatal(err)
	}

	return nil
}

// replayAbort walks entries in reverse append order, restoring bytes for
// "set" entries and truncating back for "resize" entries.
func (s *Store) replayAbort(w *wal) error {
	entries, err := w.readAll()
	if err != nil {
		return err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]

		switch e.Op {
		case walOpSet:
			if len(e.Payload) < 8 {
				return ErrBrokenHeader
			}

			offset := binary.LittleEndian.Uint64(e.Payload[:8])
			prev := e.Payload[8:]

			if _, err := s.file.WriteAt(prev, int64(offset)); err != nil {
				return fmt.Errorf("%w: %v", ErrWrite, err)
			}

		case walOpResize:
			if len(e.Payload) < 8 {
				return ErrBrokenHeader
			}

			prevSize := binary.LittleEndian.Uint64(e.Payload[:8])

			if err := s.file.Truncate(int64(prevSize)); err != nil {
				return fmt.Errorf("%w: %v", ErrTrunc, err)
			}

		default:
			return fmt.Errorf("%w: unknown wal op-code %d", ErrBrokenHeader, e.Op)
		}
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrSync, err)
	}

	return nil
}

// reloadAfterAbort re-reads the header from disk and resets the volatile
// free-pool/cache state, since an abort may have moved record boundaries
// the in-memory bookkeeping had assumed.
func (s *Store) reloadAfterAbort() error {
	buf := make([]byte, headerSize)

	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrRead, err)
	}

	h, err := decodeHeader(buf)
	if err != nil {
		return err
	}

	s.hdr = h
	s.cache.clear()
	s.free = newFreePool(1 << s.opts.FreePoolPower)

	return s.remapWindow()
}

// recoverIfNeeded runs at Open: if a non-empty WAL exists from a prior
// process that died mid-transaction, it is replayed (the abort procedure)
// before any other operation is accepted, per §4.1.5's recovery rule.
func (s *Store) recoverIfNeeded() error {
	walPath := s.path + walFileSuffix

	if _, err := s.fsys.Stat(walPath); err != nil {
		return nil
	}

	w, err := openWAL(s.fsys, walPath)
	if err != nil {
		return err
	}

	empty, err := w.empty()
	if err != nil {
		_ = w.close()
		return err
	}

	if empty {
		return w.close()
	}

	if err := s.replayAbort(w); err != nil {
		_ = w.close()
		return err
	}

	if err := w.truncate(); err != nil {
		_ = w.close()
		return err
	}

	if err := w.close(); err != nil {
		return err
	}

	return s.reloadAfterAbort()
}
