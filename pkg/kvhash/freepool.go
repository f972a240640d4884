package kvhash

import (
	"sort"

	"github.com/google/btree"
)

// freeBlock is one entry in the free-block pool: a reclaimed frame range
// covering [Offset, Offset+Size).
type freeBlock struct {
	Offset uint64
	Size   uint64
}

// freeBlockBySize orders by (Size, Offset) so best-fit lookups can scan
// forward from the requested size.
type freeBlockBySize freeBlock

func (a freeBlockBySize) Less(than btree.Item) bool {
	b := than.(freeBlockBySize)

	if a.Size != b.Size {
		return a.Size < b.Size
	}

	return a.Offset < b.Offset
}

// freePool is the bounded ordered set of (offset, size) entries described in
// §3's "Free-block pool" and used by put/out/defrag. It is mutated only
// under the store's write lock.
//
// Indexed twice — once by size for best-fit allocation, once by offset for
// adjacency lookups during defrag/coalescing — trading memory for O(log n)
// operations on both axes; a single structure would force a linear scan for
// one of the two query shapes.
type freePool struct {
	bySize   *btree.BTree
	byOffset map[uint64]uint64 // offset -> size, for O(1) adjacency probes
	byEnd    map[uint64]uint64 // offset+size -> offset, for left-adjacency probes
	cap      int
}

func newFreePool(capEntries int) *freePool {
	return &freePool{
		bySize:   btree.New(32),
		byOffset: make(map[uint64]uint64),
		byEnd:    make(map[uint64]uint64),
		cap:      capEntries,
	}
}

func (p *freePool) len() int {
	return len(p.byOffset)
}

// insert adds a reclaimed block. If the pool is at capacity, it drops the
// smallest block to make room (the block is lost to future allocation but
// the file region remains validly addressed as trailing padding of whatever
// record now occupies or overlaps it conceptually — in practice this only
// happens under pathological fragmentation and merely forces an append
// instead of a reuse).
func (p *freePool) insert(off, size uint64) {
	if size == 0 {
		return
	}

	if existing, ok := p.byOffset[off]; ok {
		p.bySize.Delete(freeBlockBySize{Offset: off, Size: existing})
		delete(p.byEnd, off+existing)
	}

	p.byOffset[off] = size
	p.byEnd[off+size] = off
	p.bySize.ReplaceOrInsert(freeBlockBySize{Offset: off, Size: size})

	for p.cap > 0 && p.len() > p.cap {
		p.evictSmallest()
	}
}

func (p *freePool) evictSmallest() {
	min := p.bySize.Min()
	if min == nil {
		return
	}

	b := min.(freeBlockBySize)
	p.bySize.Delete(b)
	delete(p.byOffset, b.Offset)
	delete(p.byEnd, b.Offset+b.Size)
}

func (p *freePool) remove(off uint64) {
	size, ok := p.byOffset[off]
	if !ok {
		return
	}

	p.bySize.Delete(freeBlockBySize{Offset: off, Size: size})
	delete(p.byOffset, off)
	delete(p.byEnd, off+size)
}

// adjacentLeft returns the free block ending exactly at r (i.e. immediately
// to the left of a record occupying [r, ...)), if any.
func (p *freePool) adjacentLeft(r uint64) (off, size uint64, ok bool) {
	off, ok = p.byEnd[r]
	if !ok {
		return 0, 0, false
	}

	return off, p.byOffset[off], true
}

// bestFit returns the smallest block whose size is >= need, or ok=false.
func (p *freePool) bestFit(need uint64) (off, size uint64, ok bool) {
	var found freeBlockBySize

	p.bySize.AscendGreaterOrEqual(freeBlockBySize{Size: need, Offset: 0}, func(item btree.Item) bool {
		found = item.(freeBlockBySize)
		return false
	})

	if found.Size == 0 {
		return 0, 0, false
	}

	return found.Offset, found.Size, true
}

// adjacentRight returns the free block immediately following off+size, if any.
func (p *freePool) adjacentRight(off, size uint64) (rightOff, rightSize uint64, ok bool) {
	s, ok := p.byOffset[off+size]

	return off + size, s, ok
}

// foreachByOffset visits every block ordered by offset ascending. Defrag
// does not call it; it finds free blocks through adjacentLeft.
func (p *freePool) foreachByOffset(fn func(off, size uint64) bool) {
	offs := make([]uint64, 0, len(p.byOffset))
	for off := range p.byOffset {
		offs = append(offs, off)
	}

	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })

	for _, off := range offs {
		if !fn(off, p.byOffset[off]) {
			return
		}
	}
}
