package kvhash

// Iterator is a best-effort (non-snapshot) cursor over the store's records
// in storage order, per §4.1.8. It is not safe for concurrent use, and its
// view of concurrent mutations is exactly as documented there: records
// ahead of the cursor when it started may be missed if written after the
// sweep begins, and a record relocated leftward (e.g. by defrag) may be
// visited twice.
type Iterator struct {
	s      *Store
	cursor uint64
}

// IterInit returns a cursor positioned at the first record offset,
// immediately after the header and bucket array.
func (s *Store) IterInit() *Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Iterator{s: s, cursor: s.hdr.FirstRecord}
}

// IterInitAt positions the cursor at the record whose key compares
// lexicographically at-or-after key. Per §9's open-question resolution: if
// the computed position lies inside a free-block gap, the cursor advances
// to the next live record at or after that offset.
func (s *Store) IterInitAt(key []byte) (*Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := s.hdr.FileSize

	err := s.walkLiveNodes(func(n nodeRef) (bool, error) {
		if string(n.rec.Key) >= string(key) && n.offset < best {
			best = n.offset
		}

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return &Iterator{s: s, cursor: best}, nil
}

// Next reads the record at the cursor and advances it by that record's
// aligned frame size, skipping over free-block gaps. Returns ok=false once
// the cursor reaches the end of the file.
func (it *Iterator) Next() (key, value []byte, ok bool, err error) {
	it.s.mu.RLock()
	defer it.s.mu.RUnlock()

	for it.cursor < it.s.hdr.FileSize {
		if size, isFree := it.s.free.byOffset[it.cursor]; isFree {
			it.cursor += size
			continue
		}

		rec, err := it.s.readRecordAt(it.cursor)
		if err != nil {
			return nil, nil, false, err
		}

		it.cursor += rec.FrameSize

		value, err := it.s.decodeValue(rec.Value)
		if err != nil {
			return nil, nil, false, err
		}

		return rec.Key, value, true, nil
	}

	return nil, nil, false, nil
}

// ForEach visits every live record under the store's write lock, giving
// exact (not best-effort) semantics, per §4.1.8's closing note. fn returning
// false stops the walk early.
func (s *Store) ForEach(fn func(key, value []byte) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.walkLiveNodes(func(n nodeRef) (bool, error) {
		value, err := s.decodeValue(n.rec.Value)
		if err != nil {
			return false, err
		}

		return fn(n.rec.Key, value), nil
	})
}

// FwmKeys returns up to max live keys starting with prefix.
func (s *Store) FwmKeys(prefix []byte, max int) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [][]byte

	err := s.walkLiveNodes(func(n nodeRef) (bool, error) {
		if hasPrefix(n.rec.Key, prefix) {
			out = append(out, append([]byte(nil), n.rec.Key...))
		}

		return max <= 0 || len(out) < max, nil
	})

	return out, err
}

func hasPrefix(key, prefix []byte) bool {
	if len(prefix) > len(key) {
		return false
	}

	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}

	return true
}
