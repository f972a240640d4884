// Fuzz test validating the record-frame codec's round-trip invariant.
// Mirrors pkg/slotcache/slotcache_format_fuzz_test.go's seed-then-derive
// shape, narrowed to the record frame alone rather than a whole cache file.

package kvhash

import "testing"

// FuzzRecordRoundTrip checks that any (key, value, left, right, pad) tuple
// encodeRecord can produce, decodeRecord recovers exactly, and that
// decodeRecord never panics on truncated or merely-plausible-looking input.
func FuzzRecordRoundTrip(f *testing.F) {
	f.Add([]byte("a"), []byte("1"), uint64(0), uint64(0), uint64(0))
	f.Add([]byte(""), []byte(""), uint64(0), uint64(0), uint64(0))
	f.Add([]byte("key-with-some-length"), make([]byte, 256), uint64(128), uint64(4096), uint64(7))
	f.Add([]byte{0xC8}, []byte{0xC8, 0xC8}, uint64(1<<40), uint64(1<<40), uint64(63))

	f.Fuzz(func(t *testing.T, key, value []byte, left, right, pad uint64) {
		r := newRecord(key, value, 0)
		r.Left = left
		r.Right = right
		r.PadSize = pad

		unaligned := encodedFrameSize(len(r.Key), len(r.Value), r.Left, r.Right, r.PadSize)
		r.FrameSize = uint64(unaligned) + pad

		buf := encodeRecord(r)
		if uint64(len(buf)) != r.FrameSize {
			t.Fatalf("encodeRecord produced %d bytes, want FrameSize %d", len(buf), r.FrameSize)
		}

		got, n, err := decodeRecord(buf)
		if err != nil {
			t.Fatalf("decodeRecord failed on encoder's own output: %v", err)
		}

		if n != unaligned {
			t.Fatalf("decodeRecord consumed %d bytes, want unaligned size %d", n, unaligned)
		}

		if string(got.Key) != string(key) {
			t.Fatalf("key mismatch: got %q, want %q", got.Key, key)
		}

		if string(got.Value) != string(value) {
			t.Fatalf("value mismatch: got %q, want %q", got.Value, value)
		}

		if got.Left != left || got.Right != right || got.PadSize != pad {
			t.Fatalf("pointer/pad mismatch: got (%d,%d,%d), want (%d,%d,%d)",
				got.Left, got.Right, got.PadSize, left, right, pad)
		}

		// decodeRecord must never panic on a truncated prefix of a valid
		// frame; it should either succeed on the shorter data it was given
		// or return an error.
		if len(buf) > 1 {
			_, _, _ = decodeRecord(buf[:len(buf)-1])
		}
	})
}
