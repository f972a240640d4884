package kvdb

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// iterState holds the façade-level iteration cursor used by the
// misc("iterinit"/"iternext", ...) commands of §4.4. It wraps the
// persistent store's stable Iterator when the handle is backed by kvhash,
// or a snapshot slice when backed by kvmem (which has no notion of a
// storage-order file cursor — the memory store's iteration order is
// defined purely by ForEach, so a snapshot is the closest equivalent).
type iterState struct {
	mu      sync.Mutex
	hdbIter interface {
		Next() (key, value []byte, ok bool, err error)
	}
	memSnap  [][2][]byte
	memIndex int
}

// Misc dispatches one of §4.4's uniform "misc" commands, returning a flat
// result list. A failed command returns a nil slice and a non-nil error; a
// successful command with no data returns an empty, non-nil slice (per
// §4.4: "a successful op with no data returns an empty one-capacity list").
func (db *DB) Misc(name string, args []string) ([]string, error) {
	switch name {
	case "put":
		return db.miscPut(args)
	case "putkeep":
		return db.miscPutKeep(args)
	case "putcat":
		return db.miscPutCat(args)
	case "out":
		return db.miscOut(args)
	case "get":
		return db.miscGet(args)
	case "putlist":
		return db.miscPutList(args)
	case "outlist":
		return db.miscOutList(args)
	case "getlist":
		return db.miscGetList(args)
	case "getpart":
		return db.miscGetPart(args)
	case "iterinit":
		return db.miscIterInit(args)
	case "iternext":
		return db.miscIterNext(args)
	case "regex":
		return db.miscRegex(args)
	case "sync":
		return emptyOK(db.Sync())
	case "optimize":
		return emptyOK(db.Optimize())
	case "vanish":
		return emptyOK(db.Vanish())
	case "defrag":
		step := 0
		if len(args) > 0 {
			step, _ = strconv.Atoi(args[0])
		}

		return emptyOK(db.Defrag(step))
	case "cacheclear":
		db.CacheClear()
		return []string{}, nil
	case "error":
		return db.miscError()
	default:
		return nil, fmt.Errorf("%w: unknown misc command %q", ErrInvalid, name)
	}
}

func emptyOK(err error) ([]string, error) {
	if err != nil {
		return nil, err
	}

	return []string{}, nil
}

func (db *DB) miscPut(args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: put takes (key, value)", ErrInvalid)
	}

	return emptyOK(db.Put([]byte(args[0]), []byte(args[1])))
}

func (db *DB) miscPutKeep(args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: putkeep takes (key, value)", ErrInvalid)
	}

	return emptyOK(db.PutKeep([]byte(args[0]), []byte(args[1])))
}

func (db *DB) miscPutCat(args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: putcat takes (key, value)", ErrInvalid)
	}

	return emptyOK(db.PutCat([]byte(args[0]), []byte(args[1])))
}

func (db *DB) miscOut(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: out takes (key)", ErrInvalid)
	}

	return emptyOK(db.Out([]byte(args[0])))
}

func (db *DB) miscGet(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: get takes (key)", ErrInvalid)
	}

	v, err := db.Get([]byte(args[0]))
	if err != nil {
		return nil, err
	}

	return []string{string(v)}, nil
}

// miscPutList stores variadic (key, value) pairs, per §4.4's `putlist`.
func (db *DB) miscPutList(args []string) ([]string, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: putlist takes an even number of args", ErrInvalid)
	}

	for i := 0; i < len(args); i += 2 {
		if err := db.Put([]byte(args[i]), []byte(args[i+1])); err != nil {
			return nil, err
		}
	}

	return []string{}, nil
}

func (db *DB) miscOutList(args []string) ([]string, error) {
	for _, k := range args {
		if err := db.Out([]byte(k)); err != nil && err != ErrNoRec {
			return nil, err
		}
	}

	return []string{}, nil
}

// miscGetList fetches each key in args, per §8 scenario 5: missing keys are
// simply absent from the (key, value) pairs returned, not an error.
func (db *DB) miscGetList(args []string) ([]string, error) {
	out := make([]string, 0, len(args)*2)

	for _, k := range args {
		v, err := db.Get([]byte(k))
		if err != nil {
			continue
		}

		out = append(out, k, string(v))
	}

	return out, nil
}

// miscGetPart returns a slice of key's value, per §4.4's `getpart(key,
// offset, len)`: offset clamped to [0, INT_MAX/2-1], len clamped to the
// remaining value length.
func (db *DB) miscGetPart(args []string) ([]string, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("%w: getpart takes (key, offset, len)", ErrInvalid)
	}

	v, err := db.Get([]byte(args[0]))
	if err != nil {
		return nil, err
	}

	const maxOffset = (1<<31-1)/2 - 1

	offset, _ := strconv.Atoi(args[1])
	if offset < 0 {
		offset = 0
	}

	if offset > maxOffset {
		offset = maxOffset
	}

	length, _ := strconv.Atoi(args[2])

	if offset >= len(v) {
		return []string{""}, nil
	}

	end := offset + length
	if length < 0 || end > len(v) {
		end = len(v)
	}

	return []string{string(v[offset:end])}, nil
}

func (db *DB) miscIterInit(args []string) ([]string, error) {
	db.mu.Lock()

	st := &iterState{}

	if db.kind == KindPersistent {
		st.hdbIter = db.hdb.IterInit()
	} else {
		db.mem.ForEach(func(key, value []byte) bool {
			st.memSnap = append(st.memSnap, [2][]byte{
				append([]byte(nil), key...),
				append([]byte(nil), value...),
			})

			return true
		})
	}

	db.iterSt = st

	db.mu.Unlock()

	return []string{}, nil
}

func (db *DB) miscIterNext(args []string) ([]string, error) {
	db.mu.Lock()
	st := db.iterSt
	db.mu.Unlock()

	if st == nil {
		return nil, fmt.Errorf("%w: iternext without iterinit", ErrInvalid)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.hdbIter != nil {
		key, value, ok, err := st.hdbIter.Next()
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, ErrNoRec
		}

		return []string{string(key), string(value)}, nil
	}

	if st.memIndex >= len(st.memSnap) {
		return nil, ErrNoRec
	}

	pair := st.memSnap[st.memIndex]
	st.memIndex++

	return []string{string(pair[0]), string(pair[1])}, nil
}

// miscRegex implements §4.4's full-scan `regex(pattern, max)`: a leading
// '*' in pattern enables case-insensitive matching. regexp.CompilePOSIX
// parses with syntax.POSIX, which has no PerlX bit, so it does not
// recognize the "(?i)" flag-group syntax at all — prepending it just
// fails to parse. Case-insensitivity is done instead by lowercasing both
// the pattern and every candidate key before a case-sensitive POSIX
// match, which keeps the leftmost-longest POSIX semantics the spec calls
// for rather than Go's default leftmost-first RE2 matching.
func (db *DB) miscRegex(args []string) ([]string, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%w: regex takes (pattern[, max])", ErrInvalid)
	}

	pattern := args[0]

	caseInsensitive := strings.HasPrefix(pattern, "*")
	if caseInsensitive {
		pattern = pattern[1:]
		pattern = strings.ToLower(pattern)
	}

	re, err := regexp.CompilePOSIX(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad regex: %v", ErrInvalid, err)
	}

	max := 0
	if len(args) > 1 {
		max, _ = strconv.Atoi(args[1])
	}

	var out []string

	err = db.ForEach(func(key, value []byte) bool {
		matchKey := string(key)
		if caseInsensitive {
			matchKey = strings.ToLower(matchKey)
		}

		if re.MatchString(matchKey) {
			out = append(out, string(key), string(value))
		}

		return max <= 0 || len(out)/2 < max
	})
	if err != nil {
		return nil, err
	}

	if out == nil {
		out = []string{}
	}

	return out, nil
}

func (db *DB) miscError() ([]string, error) {
	err := db.LastError()
	if err == nil {
		return []string{}, nil
	}

	return []string{err.Error()}, nil
}
