package kvhash

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// encodeValue applies the store's configured compression before a value is
// written to a frame. Compression is fixed at file-creation time (§4.1.4).
func (s *Store) encodeValue(v []byte) ([]byte, error) {
	switch s.hdr.compression() {
	case CompressionNone:
		return v, nil
	case CompressionDeflate:
		return deflateCompress(v)
	case CompressionCustom:
		return customCompress(v), nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression mode", ErrInvalid)
	}
}

// decodeValue reverses encodeValue on read.
func (s *Store) decodeValue(v []byte) ([]byte, error) {
	switch s.hdr.compression() {
	case CompressionNone:
		return v, nil
	case CompressionDeflate:
		return deflateDecompress(v)
	case CompressionCustom:
		return customDecompress(v), nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression mode", ErrInvalid)
	}
}

func deflateCompress(v []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisc, err)
	}

	if _, err := w.Write(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisc, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisc, err)
	}

	return buf.Bytes(), nil
}

func deflateDecompress(v []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(v))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMisc, err)
	}

	return out, nil
}

// customCompress implements the "custom-byte-coded" compression option as a
// simple run-length scheme over repeated bytes: each output unit is either
// a literal byte preceded by 0x00, or a (0x01, byte, count) run of length
// count (3..255). This is a best-effort stand-in for the source's
// unspecified custom codec (see DESIGN.md).
func customCompress(v []byte) []byte {
	out := make([]byte, 0, len(v))

	for i := 0; i < len(v); {
		run := 1
		for i+run < len(v) && v[i+run] == v[i] && run < 255 {
			run++
		}

		if run >= 3 {
			out = append(out, 0x01, v[i], byte(run))
			i += run

			continue
		}

		out = append(out, 0x00, v[i])
		i++
	}

	return out
}

func customDecompress(v []byte) []byte {
	out := make([]byte, 0, len(v))

	for i := 0; i+1 < len(v); {
		tag := v[i]

		switch tag {
		case 0x01:
			b := v[i+1]
			count := int(v[i+2])

			for range count {
				out = append(out, b)
			}

			i += 3
		default:
			out = append(out, v[i+1])
			i += 2
		}
	}

	return out
}
