package kvhash

import (
	"errors"
	"fmt"
)

func (s *Store) bucketSlotOffset(bucket uint64) uint64 {
	return headerSize + bucket*s.hdr.bucketSlotSize()
}

func (s *Store) readBucketRoot(bucket uint64) (uint64, error) {
	buf, err := s.readAt(s.bucketSlotOffset(bucket), int(s.hdr.bucketSlotSize()))
	if err != nil {
		return 0, err
	}

	return readBucketSlot(buf, s.hdr.largeOffsets()), nil
}

func (s *Store) writeBucketRoot(bucket, offset uint64) error {
	slotOff := s.bucketSlotOffset(bucket)
	slotLen := int(s.hdr.bucketSlotSize())

	if err := s.logPriorBytes(slotOff, slotLen); err != nil {
		return err
	}

	buf := make([]byte, slotLen)
	writeBucketSlot(buf, s.hdr.largeOffsets(), offset)

	return s.writeAt(slotOff, buf)
}

// readRecordAt reads and decodes the frame at offset using a two-phase
// probe: a generous initial read sized against the varint prefix, widened
// once the true key+value length is known.
func (s *Store) readRecordAt(offset uint64) (*record, error) {
	const initialProbe = 320

	fileSize := s.hdr.FileSize

	probeLen := initialProbe
	if offset+uint64(probeLen) > fileSize {
		probeLen = int(fileSize - offset)
	}

	if probeLen <= 0 {
		return nil, ErrBrokenHeader
	}

	buf, err := s.readAt(offset, probeLen)
	if err != nil {
		return nil, err
	}

	info, perr := probeFrameHeader(buf)

	for errors.Is(perr, errShortBuffer) {
		probeLen *= 2

		if offset+uint64(probeLen) > fileSize {
			probeLen = int(fileSize - offset)
		}

		buf, err = s.readAt(offset, probeLen)
		if err != nil {
			return nil, err
		}

		info, perr = probeFrameHeader(buf)
	}

	if perr != nil {
		return nil, perr
	}

	need := info.PrefixLen + int(info.KeySize) + int(info.ValueSize)

	if len(buf) < need {
		buf, err = s.readAt(offset, need)
		if err != nil {
			return nil, err
		}
	}

	rec, _, err := decodeRecord(buf)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// writeFrame writes a fully-formed, already-aligned frame at offset,
// logging the prior bytes first when a transaction is open.
func (s *Store) writeFrame(offset uint64, rec *record) error {
	buf := encodeRecord(rec)

	if err := s.logPriorBytes(offset, len(buf)); err != nil {
		return err
	}

	return s.writeAt(offset, buf)
}

// allocateFrame finds space for a frame of the given aligned size: best-fit
// from the free pool, or append at end of file. Returns the chosen offset
// and the frame size actually reserved (>= requested, when reusing a larger
// free block; the surplus becomes the new frame's pad).
func (s *Store) allocateFrame(size uint64) (offset uint64, reserved uint64, err error) {
	if off, blockSize, ok := s.free.bestFit(size); ok {
		s.free.remove(off)

		return off, blockSize, nil
	}

	off := s.hdr.FileSize
	newSize := off + size

	if err := s.growFile(newSize); err != nil {
		return 0, 0, err
	}

	return off, size, nil
}

func (s *Store) growFile(newSize uint64) error {
	if s.tx != nil {
		if err := s.tx.recordResize(s.hdr.FileSize); err != nil {
			return err
		}
	}

	if err := s.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("%w: %v", ErrTrunc, err)
	}

	s.hdr.FileSize = newSize

	return s.remapWindow()
}

// treeFind walks the bucket tree rooted at root, returning the matching
// record's offset, its parent's offset (0 if root), and whether the match
// was the parent's left child, per §4.1.1.
func (s *Store) treeFind(root uint64, key []byte, secHash uint32) (offset, parent uint64, isLeft bool, rec *record, err error) {
	cur := root
	parent = 0
	isLeft = false

	for cur != 0 {
		node, err := s.readRecordAt(cur)
		if err != nil {
			return 0, 0, false, nil, err
		}

		nodeHash := secondaryHash(node.Key)
		cmp := compareTreeOrder(secHash, key, nodeHash, node.Key)

		switch {
		case cmp == 0:
			return cur, parent, isLeft, node, nil
		case cmp < 0:
			parent = cur
			isLeft = true
			cur = node.Left
		default:
			parent = cur
			isLeft = false
			cur = node.Right
		}
	}

	return 0, parent, isLeft, nil, nil
}

// treeLinkChild updates parent's left/right child pointer to point at
// child. If parent is 0, child becomes (or stops being) the bucket root.
func (s *Store) treeLinkChild(bucket, parent uint64, isLeft bool, child uint64) error {
	if parent == 0 {
		return s.writeBucketRoot(bucket, child)
	}

	node, err := s.readRecordAt(parent)
	if err != nil {
		return err
	}

	if isLeft {
		node.Left = child
	} else {
		node.Right = child
	}

	return s.rewriteChildPointersInPlace(parent, node)
}

// rewriteChildPointersInPlace rewrites a frame's left/right pointers without
// relocating it; the frame's key/value/pad are unchanged so the encoded
// size is identical and always fits.
func (s *Store) rewriteChildPointersInPlace(offset uint64, node *record) error {
	return s.writeFrame(offset, node)
}

// treeDelete removes the node at offset (whose parent link is described by
// parent/isLeft) from the bucket tree, using standard BST delete via
// in-order successor, per §4.1.3. Returns the offset and size of the
// deleted node's own frame, which the caller pushes to the free pool.
func (s *Store) treeDelete(bucket, offset, parent uint64, isLeft bool, node *record) (freedOffset uint64, freedSize uint64, err error) {
	switch {
	case node.Left == 0 && node.Right == 0:
		if err := s.treeLinkChild(bucket, parent, isLeft, 0); err != nil {
			return 0, 0, err
		}

		return offset, node.FrameSize, nil

	case node.Left == 0:
		if err := s.treeLinkChild(bucket, parent, isLeft, node.Right); err != nil {
			return 0, 0, err
		}

		return offset, node.FrameSize, nil

	case node.Right == 0:
		if err := s.treeLinkChild(bucket, parent, isLeft, node.Left); err != nil {
			return 0, 0, err
		}

		return offset, node.FrameSize, nil
	}

	// Two children: find the in-order successor (leftmost node of the
	// right subtree), detach it from its current position, then splice it
	// in to replace the deleted node.
	succOffset, succParent, succIsLeft, succ, err := s.treeMinimum(node.Right, offset, false)
	if err != nil {
		return 0, 0, err
	}

	// Detach successor from its current spot, promoting its right child (it
	// has no left child by construction).
	if err := s.treeLinkChild(bucket, succParent, succIsLeft, succ.Right); err != nil {
		return 0, 0, err
	}

	// Splice the successor into the deleted node's place: it inherits the
	// deleted node's children (except itself) and its parent link.
	newLeft := node.Left
	newRight := node.Right

	if succOffset == node.Right {
		// Successor was the direct right child; its right-subtree already
		// reflects the detach above, nothing further to adjust there.
		newRight = succ.Right
	}

	succ.Left = newLeft
	succ.Right = newRight

	if err := s.relocateOrRewrite(bucket, offset, parent, isLeft, succOffset, succ); err != nil {
		return 0, 0, err
	}

	return offset, node.FrameSize, nil
}

// treeMinimum returns the leftmost node in the subtree rooted at root.
func (s *Store) treeMinimum(root, parent uint64, isLeft bool) (offset, retParent uint64, retIsLeft bool, node *record, err error) {
	cur := root
	curParent := parent
	curIsLeft := isLeft

	for {
		node, err := s.readRecordAt(cur)
		if err != nil {
			return 0, 0, false, nil, err
		}

		if node.Left == 0 {
			return cur, curParent, curIsLeft, node, nil
		}

		curParent = cur
		curIsLeft = true
		cur = node.Left
	}
}

// relocateOrRewrite replaces the frame at deletedOffset's logical position
// with keepNode (the spliced-in successor's data), either by rewriting the
// successor's own frame in place and re-linking the parent to it, or, if
// the successor's frame is too small to hold itself at its new structural
// role (it never needs to grow — only its child pointers changed, which are
// varints that may encode to a different width), by writing a fresh frame.
func (s *Store) relocateOrRewrite(bucket, deletedOffset, deletedParent uint64, deletedIsLeft bool, succOffset uint64, succ *record) error {
	needed := frameSizeFor(len(succ.Key), len(succ.Value), succ.Left, succ.Right, s.hdr.AlignPower)

	if needed <= succ.FrameSize {
		succ.PadSize = succ.FrameSize - uint64(encodedFrameSize(len(succ.Key), len(succ.Value), succ.Left, succ.Right, 0))

		if err := s.writeFrame(succOffset, succ); err != nil {
			return err
		}

		return s.treeLinkChild(bucket, deletedParent, deletedIsLeft, succOffset)
	}

	// Needs more room than its current frame has: allocate fresh.
	s.free.insert(succOffset, succ.FrameSize)

	newOff, reserved, err := s.allocateFrame(needed)
	if err != nil {
		return err
	}

	succ.FrameSize = reserved
	succ.PadSize = reserved - uint64(encodedFrameSize(len(succ.Key), len(succ.Value), succ.Left, succ.Right, 0))

	if err := s.writeFrame(newOff, succ); err != nil {
		return err
	}

	return s.treeLinkChild(bucket, deletedParent, deletedIsLeft, newOff)
}
