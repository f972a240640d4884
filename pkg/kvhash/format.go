package kvhash

import (
	"encoding/binary"
	"hash/crc32"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
)

// File layout constants, per §6: a fixed 256-byte header followed by the
// bucket array, followed by the record-frame region.
const (
	headerSize   = 256
	magicString  = "TCHB-kvhash\x00\x00\x00\x00\x00"
	formatVersion = 1

	recordMagic byte = 0xC8

	// header field offsets, little-endian throughout.
	offMagic        = 0  // 16 bytes
	offVersion      = 16 // uint16
	offOptionFlags  = 18 // uint8
	offAlignPower   = 19 // uint8
	offFreePoolPow  = 20 // uint8
	offReserved     = 21 // uint8
	offBucketCount  = 22 // uint64
	offRecordCount  = 30 // uint64
	offFileSize     = 38 // uint64
	offFirstRecord  = 46 // uint64
	offOpaqueStart  = 54
	offOpaqueEnd    = headerSize
	offHeaderCRC    = headerSize - 4 // last 4 bytes of the opaque/pad area reserved for our own integrity check
)

// optionFlags bits, stored in the single option-flags header byte.
const (
	optLargeOffsets byte = 1 << 0
	optCompressMask byte = 0b0000_0110 // 2 bits: none/deflate/bzip2/custom
	optCompressShift     = 1
)

// header is the decoded in-memory form of the 256-byte file prefix.
type header struct {
	Version      uint16
	OptionFlags  uint8
	AlignPower   uint8
	FreePoolPow  uint8
	BucketCount  uint64
	RecordCount  uint64
	FileSize     uint64
	FirstRecord  uint64
	Opaque       [offOpaqueEnd - offOpaqueStart - 4]byte
}

func (h *header) largeOffsets() bool {
	return h.OptionFlags&optLargeOffsets != 0
}

func (h *header) compression() Compression {
	return Compression((h.OptionFlags & optCompressMask) >> optCompressShift)
}

func (h *header) setCompression(c Compression) {
	h.OptionFlags = (h.OptionFlags &^ optCompressMask) | (byte(c) << optCompressShift)
}

func newHeader(opts Options) *header {
	h := &header{
		Version:     formatVersion,
		AlignPower:  opts.AlignPower,
		FreePoolPow: opts.FreePoolPower,
		BucketCount: opts.BucketCount,
	}

	if opts.LargeOffsets {
		h.OptionFlags |= optLargeOffsets
	}

	h.setCompression(opts.Compression)

	bucketSlotSize := uint64(4)
	if h.largeOffsets() {
		bucketSlotSize = 8
	}

	h.FirstRecord = alignUp(headerSize+h.BucketCount*bucketSlotSize, 1<<h.AlignPower)
	h.FileSize = h.FirstRecord

	return h
}

func encodeHeader(h *header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[offMagic:], magicString)

	binary.LittleEndian.PutUint16(buf[offVersion:], h.Version)
	buf[offOptionFlags] = h.OptionFlags
	buf[offAlignPower] = h.AlignPower
	buf[offFreePoolPow] = h.FreePoolPow
	binary.LittleEndian.PutUint64(buf[offBucketCount:], h.BucketCount)
	binary.LittleEndian.PutUint64(buf[offRecordCount:], h.RecordCount)
	binary.LittleEndian.PutUint64(buf[offFileSize:], h.FileSize)
	binary.LittleEndian.PutUint64(buf[offFirstRecord:], h.FirstRecord)
	copy(buf[offOpaqueStart:offHeaderCRC], h.Opaque[:])

	crc := crc32.ChecksumIEEE(buf[:offHeaderCRC])
	binary.LittleEndian.PutUint32(buf[offHeaderCRC:], crc)

	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, ErrBrokenHeader
	}

	if string(buf[offMagic:offMagic+16]) != magicString {
		return nil, ErrMeta
	}

	wantCRC := binary.LittleEndian.Uint32(buf[offHeaderCRC:])
	gotCRC := crc32.ChecksumIEEE(buf[:offHeaderCRC])

	if wantCRC != gotCRC {
		return nil, ErrBrokenHeader
	}

	h := &header{
		Version:     binary.LittleEndian.Uint16(buf[offVersion:]),
		OptionFlags: buf[offOptionFlags],
		AlignPower:  buf[offAlignPower],
		FreePoolPow: buf[offFreePoolPow],
		BucketCount: binary.LittleEndian.Uint64(buf[offBucketCount:]),
		RecordCount: binary.LittleEndian.Uint64(buf[offRecordCount:]),
		FileSize:    binary.LittleEndian.Uint64(buf[offFileSize:]),
		FirstRecord: binary.LittleEndian.Uint64(buf[offFirstRecord:]),
	}

	if h.Version != formatVersion {
		return nil, ErrMeta
	}

	copy(h.Opaque[:], buf[offOpaqueStart:offHeaderCRC])

	return h, nil
}

func (h *header) bucketSlotSize() uint64 {
	if h.largeOffsets() {
		return 8
	}

	return 4
}

func alignUp(x, align uint64) uint64 {
	if align <= 1 {
		return x
	}

	return (x + align - 1) &^ (align - 1)
}

// primaryHash maps a key to a bucket index via FNV-1a 32-bit, matching
// §4.1.1's "FNV-like 32-bit mix".
func primaryHash(key []byte, bucketCount uint64) uint64 {
	h := fnv.New32a()
	_, _ = h.Write(key)

	return uint64(h.Sum32()) % bucketCount
}

// secondaryHash is a second, independent 32-bit mix used purely as the
// bucket-tree order key; xxhash gives us a cheap, well-distributed,
// FNV-independent function without hand-rolling one.
func secondaryHash(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}

// compareTreeOrder implements §4.1.1's node ordering: compare by secondary
// hash first, falling back to lexicographic key comparison on ties.
func compareTreeOrder(aHash uint32, aKey []byte, bHash uint32, bKey []byte) int {
	if aHash != bHash {
		if aHash < bHash {
			return -1
		}

		return 1
	}

	switch {
	case string(aKey) < string(bKey):
		return -1
	case string(aKey) > string(bKey):
		return 1
	default:
		return 0
	}
}
