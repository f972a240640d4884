package kvhash

import "fmt"

// Sync flushes the header to disk and fsyncs the main file.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	if err := s.writeHeader(); err != nil {
		return s.markFatal(err)
	}

	if err := s.file.Sync(); err != nil {
		return s.markFatal(fmt.Errorf("%w: %v", ErrSync, err))
	}

	return nil
}

// Vanish clears every record but keeps the file's bucket-array shape,
// matching the file-shape-preserving vanish behavior described for the
// in-memory store's stripes, carried over here: the bucket array is zeroed
// in place rather than the file being recreated from scratch.
func (s *Store) Vanish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	zero := make([]byte, int(s.hdr.bucketSlotSize()))

	for b := uint64(0); b < s.hdr.BucketCount; b++ {
		if err := s.writeAt(s.bucketSlotOffset(b), zero); err != nil {
			return s.markFatal(err)
		}
	}

	if err := s.file.Truncate(int64(s.hdr.FirstRecord)); err != nil {
		return s.markFatal(fmt.Errorf("%w: %v", ErrTrunc, err))
	}

	s.hdr.FileSize = s.hdr.FirstRecord
	s.hdr.RecordCount = 0
	s.cache.clear()
	s.free = newFreePool(1 << s.opts.FreePoolPower)

	if err := s.remapWindow(); err != nil {
		return s.markFatal(err)
	}

	return nil
}

// CacheClear discards the in-process record cache without touching the
// file.
func (s *Store) CacheClear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.clear()
}

// Stat summarizes the store's current state for introspection/CLI use.
type Stat struct {
	RecordCount uint64
	FileSize    uint64
	BucketCount uint64
	CacheLen    int
	Fatal       bool
}

// StatSnapshot returns a point-in-time snapshot of the store's counters.
func (s *Store) StatSnapshot() Stat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stat{
		RecordCount: s.hdr.RecordCount,
		FileSize:    s.hdr.FileSize,
		BucketCount: s.hdr.BucketCount,
		CacheLen:    s.cache.len(),
		Fatal:       s.fatal,
	}
}
