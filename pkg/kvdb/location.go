package kvdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/finnpan/dbm-sub001/pkg/kvhash"
	"github.com/finnpan/dbm-sub001/pkg/kvmem"
)

// parsedLocation is the result of splitting a `path#k1=v1#k2=v2#...`
// location string and translating its recognized keys into back-end
// Options, per §4.3.
type parsedLocation struct {
	kind    Kind
	path    string
	hdbOpts kvhash.Options
	memOpts kvmem.Options
}

// parseLocation implements §4.3's dispatch rule:
//
//	path == "*"                    -> in-memory store
//	path ending in .tch or .hdb    -> persistent store at that file
//	otherwise                      -> external "skeleton" plug (unregistered
//	                                   in this module; see DESIGN.md)
//
// Unknown option keys are ignored, matching the spec's explicit tolerance.
func parseLocation(location string) (parsedLocation, error) {
	parts := strings.Split(location, "#")
	path := parts[0]

	opts := make(map[string]string, len(parts)-1)

	for _, kv := range parts[1:] {
		if kv == "" {
			continue
		}

		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return parsedLocation{}, fmt.Errorf("%w: malformed option %q", ErrInvalid, kv)
		}

		opts[k] = v
	}

	switch {
	case path == "*":
		return parsedLocation{kind: KindMemory, path: path, memOpts: parseMemOptions(opts)}, nil
	case strings.HasSuffix(path, ".tch") || strings.HasSuffix(path, ".hdb"):
		hdbOpts, err := parseHdbOptions(opts)
		if err != nil {
			return parsedLocation{}, err
		}

		return parsedLocation{kind: KindPersistent, path: path, hdbOpts: hdbOpts}, nil
	default:
		return parsedLocation{}, fmt.Errorf("%w: no skeleton registered for path %q", ErrInvalid, path)
	}
}

func parseMemOptions(opts map[string]string) kvmem.Options {
	var o kvmem.Options

	if v, ok := opts["capnum"]; ok {
		o.CapNum = parseUint(v)
	}

	if v, ok := opts["capsiz"]; ok {
		o.CapSiz = parseUint(v)
	}

	return o
}

func parseHdbOptions(opts map[string]string) (kvhash.Options, error) {
	var o kvhash.Options

	if v, ok := opts["bnum"]; ok {
		o.BucketCount = parseUint(v)
	}

	if v, ok := opts["apow"]; ok {
		o.AlignPower = uint8(parseUint(v))
	}

	if v, ok := opts["fpow"]; ok {
		o.FreePoolPower = uint8(parseUint(v))
	}

	if v, ok := opts["rcnum"]; ok {
		o.RecordCacheCap = int(parseUint(v))
	}

	if v, ok := opts["xmsiz"]; ok {
		o.MmapWindow = int64(parseUint(v))
	}

	if v, ok := opts["dfunit"]; ok {
		o.DefragUnit = int(parseUint(v))
	}

	if v, ok := opts["mode"]; ok {
		for _, c := range v {
			switch c {
			case 'w':
				o.Mode |= kvhash.ModeWriter
			case 'c':
				o.Mode |= kvhash.ModeCreate
			case 't':
				o.Mode |= kvhash.ModeTruncate
			case 'e':
				o.Mode |= kvhash.ModeNoLock
			case 'f':
				o.Mode |= kvhash.ModeNonBlockingLock
			default:
				return kvhash.Options{}, fmt.Errorf("%w: unknown mode char %q", ErrInvalid, string(c))
			}
		}
	}

	if v, ok := opts["opts"]; ok {
		for _, c := range v {
			switch c {
			case 'l':
				o.LargeOffsets = true
			case 'd':
				o.Compression = kvhash.CompressionDeflate
			case 'b':
				o.Compression = kvhash.CompressionBzip2
			case 't':
				o.Compression = kvhash.CompressionCustom
			default:
				return kvhash.Options{}, fmt.Errorf("%w: unknown opts char %q", ErrInvalid, string(c))
			}
		}
	}

	return o, nil
}

// parseUint tolerates garbage input by returning 0 (treated as "use the
// default" by both back-ends' Options.normalize()), matching the spec's
// tolerant "unknown keys are ignored" posture for malformed values too.
func parseUint(v string) uint64 {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}

	return n
}
