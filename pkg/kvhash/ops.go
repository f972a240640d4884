package kvhash

import (
	"encoding/binary"
	"errors"
	"math"
)

// Put inserts or overwrites the value for key, per §4.1.3.
func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	_, err := s.put(key, value, putOverwrite)

	return s.latchOnIOError(err)
}

// PutKeep inserts the value for key only if it does not already exist,
// returning ErrKeep otherwise.
func (s *Store) PutKeep(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	_, err := s.put(key, value, putKeep)

	return s.latchOnIOError(err)
}

// PutCat appends extra to the existing value for key (or inserts it as a
// fresh value if key does not exist).
func (s *Store) PutCat(key, extra []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	_, err := s.put(key, extra, putCat)

	return s.latchOnIOError(err)
}

// PutShl concatenates extra onto the existing value for key, then truncates
// the result to its trailing width bytes (§9's open-question resolution:
// truncate to the last width bytes of the concatenation).
func (s *Store) PutShl(key, extra []byte, width int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	_, err := s.putShlImpl(key, extra, width)

	return s.latchOnIOError(err)
}

type putMode int

const (
	putOverwrite putMode = iota
	putKeep
	putCat
)

func (s *Store) put(key, incoming []byte, mode putMode) (inserted bool, err error) {
	bucket := primaryHash(key, s.hdr.BucketCount)
	secHash := secondaryHash(key)

	root, err := s.readBucketRoot(bucket)
	if err != nil {
		return false, err
	}

	offset, parent, isLeft, existing, err := s.treeFind(root, key, secHash)
	if err != nil {
		return false, err
	}

	if existing == nil {
		return true, s.insertNew(bucket, parent, isLeft, key, incoming, secHash)
	}

	if mode == putKeep {
		return false, ErrKeep
	}

	newValue := incoming
	if mode == putCat {
		cur, derr := s.decodeValue(existing.Value)
		if derr != nil {
			return false, derr
		}

		newValue = append(append([]byte(nil), cur...), incoming...)
	}

	return false, s.updateExisting(offset, existing, newValue)
}

func (s *Store) putShlImpl(key, extra []byte, width int) (bool, error) {
	bucket := primaryHash(key, s.hdr.BucketCount)
	secHash := secondaryHash(key)

	root, err := s.readBucketRoot(bucket)
	if err != nil {
		return false, err
	}

	offset, parent, isLeft, existing, err := s.treeFind(root, key, secHash)
	if err != nil {
		return false, err
	}

	var newValue []byte

	if existing != nil {
		cur, derr := s.decodeValue(existing.Value)
		if derr != nil {
			return false, derr
		}

		newValue = append(append([]byte(nil), cur...), extra...)
	} else {
		newValue = append([]byte(nil), extra...)
	}

	if width >= 0 && len(newValue) > width {
		newValue = newValue[len(newValue)-width:]
	}

	if existing == nil {
		return true, s.insertNew(bucket, parent, isLeft, key, newValue, secHash)
	}

	return false, s.updateExisting(offset, existing, newValue)
}

func (s *Store) insertNew(bucket, parent uint64, isLeft bool, key, value []byte, secHash uint32) error {
	encValue, err := s.encodeValue(value)
	if err != nil {
		return err
	}

	needed := frameSizeFor(len(key), len(encValue), 0, 0, s.hdr.AlignPower)

	off, reserved, err := s.allocateFrame(needed)
	if err != nil {
		return err
	}

	rec := newRecord(key, encValue, secHash)
	rec.FrameSize = reserved
	rec.PadSize = reserved - uint64(encodedFrameSize(len(key), len(encValue), 0, 0, 0))

	if err := s.writeFrame(off, rec); err != nil {
		return err
	}

	if err := s.treeLinkChild(bucket, parent, isLeft, off); err != nil {
		return err
	}

	s.hdr.RecordCount++
	s.cache.put(key, value)

	return nil
}

func (s *Store) updateExisting(offset uint64, existing *record, newValue []byte) error {
	encValue, err := s.encodeValue(newValue)
	if err != nil {
		return err
	}

	unaligned := uint64(encodedFrameSize(len(existing.Key), len(encValue), existing.Left, existing.Right, 0))

	if unaligned <= existing.FrameSize {
		existing.Value = encValue
		existing.PadSize = existing.FrameSize - unaligned

		if err := s.writeFrame(offset, existing); err != nil {
			return err
		}

		s.cache.put(existing.Key, newValue)

		return nil
	}

	// Doesn't fit: relocate. The node keeps its tree position (its own
	// Left/Right children are unchanged); only its parent's pointer to it
	// needs updating, which means re-finding the parent since we didn't
	// thread it through this call. Simplest correct approach: re-run the
	// search to get the current parent link, since nothing else has
	// mutated the tree between the two calls (single-writer lock held).
	bucket := primaryHash(existing.Key, s.hdr.BucketCount)
	secHash := secondaryHash(existing.Key)

	root, err := s.readBucketRoot(bucket)
	if err != nil {
		return err
	}

	_, parent, isLeft, _, err := s.treeFind(root, existing.Key, secHash)
	if err != nil {
		return err
	}

	needed := frameSizeFor(len(existing.Key), len(encValue), existing.Left, existing.Right, s.hdr.AlignPower)

	newOff, reserved, err := s.allocateFrame(needed)
	if err != nil {
		return err
	}

	oldFrameSize := existing.FrameSize

	existing.Value = encValue
	existing.FrameSize = reserved
	existing.PadSize = reserved - uint64(encodedFrameSize(len(existing.Key), len(encValue), existing.Left, existing.Right, 0))

	if err := s.writeFrame(newOff, existing); err != nil {
		return err
	}

	if err := s.treeLinkChild(bucket, parent, isLeft, newOff); err != nil {
		return err
	}

	s.free.insert(offset, oldFrameSize)
	s.onFreed()

	s.cache.put(existing.Key, newValue)

	return nil
}

// Out removes the record for key, returning ErrNoRec if absent.
func (s *Store) Out(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	err := s.out(key)

	return s.latchOnIOError(err)
}

func (s *Store) out(key []byte) error {
	bucket := primaryHash(key, s.hdr.BucketCount)
	secHash := secondaryHash(key)

	root, err := s.readBucketRoot(bucket)
	if err != nil {
		return err
	}

	offset, parent, isLeft, existing, err := s.treeFind(root, key, secHash)
	if err != nil {
		return err
	}

	if existing == nil {
		return ErrNoRec
	}

	freedOff, freedSize, err := s.treeDelete(bucket, offset, parent, isLeft, existing)
	if err != nil {
		return err
	}

	s.free.insert(freedOff, freedSize)
	s.onFreed()

	s.hdr.RecordCount--
	s.cache.invalidate(key)

	return nil
}

// Get returns the value for key, or ErrNoRec if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkFatal(); err != nil {
		return nil, err
	}

	if cached, ok := s.cache.get(key); ok {
		return cached, nil
	}

	bucket := primaryHash(key, s.hdr.BucketCount)
	secHash := secondaryHash(key)

	root, err := s.readBucketRoot(bucket)
	if err != nil {
		return nil, err
	}

	_, _, _, rec, err := s.treeFind(root, key, secHash)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		return nil, ErrNoRec
	}

	value, err := s.decodeValue(rec.Value)
	if err != nil {
		return nil, err
	}

	s.cache.put(key, value)

	return value, nil
}

// VSiz returns the length of the value for key without fully decompressing
// it when compression is off; when compression is on, it decodes to report
// the true logical size, matching §8's `vsiz(k) == len(get(k))` invariant.
func (s *Store) VSiz(key []byte) (int, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}

	return len(v), nil
}

// AddInt adds num to the int32 stored at key (little-endian 4 bytes),
// returning the new value. If key does not exist, it is initialized to num
// — unless num is math.MinInt32, which is reserved as a probe: it reports
// the current value without modification, returning ErrNoRec if absent.
func (s *Store) AddInt(key []byte, num int32) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return 0, err
	}

	result, err := s.addInt(key, num)

	return result, s.latchOnIOError(err)
}

func (s *Store) addInt(key []byte, num int32) (int32, error) {
	bucket := primaryHash(key, s.hdr.BucketCount)
	secHash := secondaryHash(key)

	root, err := s.readBucketRoot(bucket)
	if err != nil {
		return 0, err
	}

	offset, parent, isLeft, existing, err := s.treeFind(root, key, secHash)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		if num == math.MinInt32 {
			return 0, ErrNoRec
		}

		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(num))

		return num, s.insertNew(bucket, parent, isLeft, key, buf, secHash)
	}

	cur, err := s.decodeValue(existing.Value)
	if err != nil {
		return 0, err
	}

	if len(cur) != 4 {
		return 0, ErrMisc
	}

	curVal := int32(binary.LittleEndian.Uint32(cur))

	if num == math.MinInt32 {
		return curVal, nil
	}

	newVal := curVal + num

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(newVal))

	return newVal, s.updateExisting(offset, existing, buf)
}

// AddDouble adds delta to the float64 stored at key (little-endian 8
// bytes), returning the new value. math.NaN() is reserved as a probe value
// analogous to AddInt's math.MinInt32 sentinel.
func (s *Store) AddDouble(key []byte, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return 0, err
	}

	result, err := s.addDouble(key, delta)

	return result, s.latchOnIOError(err)
}

func (s *Store) addDouble(key []byte, delta float64) (float64, error) {
	bucket := primaryHash(key, s.hdr.BucketCount)
	secHash := secondaryHash(key)

	root, err := s.readBucketRoot(bucket)
	if err != nil {
		return 0, err
	}

	offset, parent, isLeft, existing, err := s.treeFind(root, key, secHash)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		if math.IsNaN(delta) {
			return 0, ErrNoRec
		}

		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(delta))

		return delta, s.insertNew(bucket, parent, isLeft, key, buf, secHash)
	}

	cur, err := s.decodeValue(existing.Value)
	if err != nil {
		return 0, err
	}

	if len(cur) != 8 {
		return 0, ErrMisc
	}

	curVal := math.Float64frombits(binary.LittleEndian.Uint64(cur))

	if math.IsNaN(delta) {
		return curVal, nil
	}

	newVal := curVal + delta

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(newVal))

	return newVal, s.updateExisting(offset, existing, buf)
}

// onFreed tracks frees toward the implicit defrag unit (§4.1.7's
// `dfunit`): when positive and the threshold is reached, an incremental
// defrag pass runs automatically.
func (s *Store) onFreed() {
	if s.opts.DefragUnit <= 0 {
		return
	}

	s.freesSinceDefrag++

	if s.freesSinceDefrag >= s.opts.DefragUnit {
		s.freesSinceDefrag = 0
		_, _ = s.defrag(s.opts.DefragUnit)
	}
}

// latchOnIOError sets the fatal flag for errors that may have left the file
// inconsistent, per §7's policy: business failures (Keep/NoRec) never
// latch; I/O failures during a write do.
func (s *Store) latchOnIOError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrKeep) || errors.Is(err, ErrNoRec) {
		return err
	}

	return s.markFatal(err)
}

// RecordCount returns the number of live records, per §3 invariant 4.
func (s *Store) RecordCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hdr.RecordCount
}

// FileSize returns the current file size in bytes.
func (s *Store) FileSize() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hdr.FileSize
}
