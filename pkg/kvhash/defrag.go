package kvhash

import (
	"fmt"
	"os"
)

// nodeRef locates a live record within its bucket tree.
type nodeRef struct {
	bucket   uint64
	offset   uint64
	parent   uint64
	isLeft   bool
	rec      *record
}

// walkLiveNodes visits every live record across all buckets, depth-first,
// calling fn with enough context to relocate or relink it.
func (s *Store) walkLiveNodes(fn func(nodeRef) (cont bool, err error)) error {
	for bucket := uint64(0); bucket < s.hdr.BucketCount; bucket++ {
		root, err := s.readBucketRoot(bucket)
		if err != nil {
			return err
		}

		if root == 0 {
			continue
		}

		cont, err := s.walkSubtree(bucket, root, 0, false, fn)
		if err != nil {
			return err
		}

		if !cont {
			return nil
		}
	}

	return nil
}

func (s *Store) walkSubtree(bucket, offset, parent uint64, isLeft bool, fn func(nodeRef) (bool, error)) (bool, error) {
	if offset == 0 {
		return true, nil
	}

	node, err := s.readRecordAt(offset)
	if err != nil {
		return false, err
	}

	cont, err := fn(nodeRef{bucket: bucket, offset: offset, parent: parent, isLeft: isLeft, rec: node})
	if err != nil || !cont {
		return false, err
	}

	cont, err = s.walkSubtree(bucket, node.Left, offset, true, fn)
	if err != nil || !cont {
		return false, err
	}

	return s.walkSubtree(bucket, node.Right, offset, false, fn)
}

// defrag performs up to step record relocations, each moving the
// lowest-offset record that sits immediately to the right of a free block
// leftward to coalesce with it, per §4.1.7.
func (s *Store) defrag(step int) (int, error) {
	performed := 0

	for performed < step || step <= 0 {
		moved, err := s.defragOneStep()
		if err != nil {
			return performed, err
		}

		if !moved {
			return performed, nil
		}

		performed++

		if step <= 0 && performed > int(s.hdr.RecordCount)+1 {
			// Safety valve for the unlimited (optimize) case: never loop
			// more than one full pass's worth of records.
			return performed, nil
		}
	}

	return performed, nil
}

// defragOneStep finds the candidate record with the lowest offset that
// directly follows a free block and relocates it into that block's space,
// returning false if no such candidate exists.
func (s *Store) defragOneStep() (bool, error) {
	var best *nodeRef

	var bestFreeOff, bestFreeSize uint64

	err := s.walkLiveNodes(func(n nodeRef) (bool, error) {
		if foff, fsize, ok := s.free.adjacentLeft(n.offset); ok {
			if best == nil || n.offset < best.offset {
				cp := n
				best = &cp
				bestFreeOff, bestFreeSize = foff, fsize
			}
		}

		return true, nil
	})
	if err != nil {
		return false, err
	}

	if best == nil {
		return false, nil
	}

	if bestFreeSize < best.rec.FrameSize {
		// Free block smaller than the record: relocate into it anyway by
		// shrinking the frame's pad, only valid when the unaligned payload
		// still fits; otherwise report no progress, which ends this
		// defrag run and leaves the free block and the record as they are.
		unaligned := uint64(encodedFrameSize(len(best.rec.Key), len(best.rec.Value), best.rec.Left, best.rec.Right, 0))
		if unaligned > bestFreeSize {
			return false, nil
		}
	}

	s.free.remove(bestFreeOff)

	moved := *best.rec
	moved.FrameSize = bestFreeSize
	moved.PadSize = bestFreeSize - uint64(encodedFrameSize(len(moved.Key), len(moved.Value), moved.Left, moved.Right, 0))

	if err := s.writeFrame(bestFreeOff, &moved); err != nil {
		return false, err
	}

	if err := s.treeLinkChild(best.bucket, best.parent, best.isLeft, bestFreeOff); err != nil {
		return false, err
	}

	s.free.insert(best.offset, best.rec.FrameSize)

	return true, nil
}

// Defrag runs up to step incremental compactions.
func (s *Store) Defrag(step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	_, err := s.defrag(step)

	return s.latchOnIOError(err)
}

// Optimize runs defrag to completion and then always rewrites the store into
// a fresh file with the same bucket count before atomically replacing the
// original,
// per §4.1.7. It preserves the key/value set and never increases file size.
func (s *Store) Optimize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFatal(); err != nil {
		return err
	}

	if _, err := s.defrag(0); err != nil {
		return s.latchOnIOError(err)
	}

	if err := s.rebuildIntoFreshFile(); err != nil {
		return s.latchOnIOError(err)
	}

	return nil
}

// rebuildIntoFreshFile writes every live record into a brand new file
// (fresh bucket array, no fragmentation) and atomically renames it over
// the original, matching the "rewriting into a new file ... then atomically
// renaming" description in §4.1.7.
func (s *Store) rebuildIntoFreshFile() error {
	tmpPath := s.path + ".optimize.tmp"

	_ = s.fsys.Remove(tmpPath)

	fresh, err := OpenFS(s.fsys, tmpPath, Options{
		Mode:           ModeWriter | ModeCreate | ModeTruncate | ModeNoLock,
		BucketCount:    s.hdr.BucketCount,
		AlignPower:     s.hdr.AlignPower,
		FreePoolPower:  s.opts.FreePoolPower,
		LargeOffsets:   s.hdr.largeOffsets(),
		Compression:    s.hdr.compression(),
		RecordCacheCap: s.opts.RecordCacheCap,
		MmapWindow:     s.opts.MmapWindow,
	})
	if err != nil {
		return fmt.Errorf("%w: open optimize tmp file: %v", ErrMisc, err)
	}

	copyErr := s.walkLiveNodes(func(n nodeRef) (bool, error) {
		value, derr := s.decodeValue(n.rec.Value)
		if derr != nil {
			return false, derr
		}

		return true, fresh.Put(n.rec.Key, value)
	})

	if copyErr != nil {
		_ = fresh.Close()
		_ = s.fsys.Remove(tmpPath)

		return copyErr
	}

	if err := fresh.Close(); err != nil {
		_ = s.fsys.Remove(tmpPath)
		return fmt.Errorf("%w: close optimize tmp file: %v", ErrMisc, err)
	}

	if s.mmapRegion != nil {
		_ = s.mmapRegion.Unmap()
		s.mmapRegion = nil
	}

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrClose, err)
	}

	if err := s.fsys.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrRename, err)
	}

	f, err := s.fsys.OpenFile(s.path, os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("%w: reopen after optimize: %v", ErrOpen, err)
	}

	s.file = f
	s.osFile = nil

	if realF, ok := f.(*os.File); ok {
		s.osFile = realF
	}

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
