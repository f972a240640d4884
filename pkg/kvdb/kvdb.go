// Package kvdb implements the abstract façade described in §4.3: it parses
// a textual location string to choose between the in-memory store
// (pkg/kvmem) and the persistent hash-file store (pkg/kvhash), then forwards
// every record operation to whichever back-end was selected. A third,
// "external skeleton" back-end is named by the spec for a registered plug-in
// vtable; no such plug-in ships with this module (see DESIGN.md), so
// locations that would resolve to it fail with ErrInvalid.
package kvdb

import (
	"fmt"
	"sync"

	"github.com/finnpan/dbm-sub001/pkg/kvhash"
	"github.com/finnpan/dbm-sub001/pkg/kvmem"
)

// Re-exported sentinel errors, shared verbatim with both back-ends so
// callers can errors.Is against a single taxonomy regardless of which
// back-end a location string resolved to.
var (
	ErrInvalid = kvhash.ErrInvalid
	ErrKeep    = kvhash.ErrKeep
	ErrNoRec   = kvhash.ErrNoRec
	ErrLock    = kvhash.ErrLock
)

// Kind identifies which back-end a DB handle is bound to.
type Kind int

const (
	KindMemory Kind = iota
	KindPersistent
)

// DB is the façade handle described in §3: open-mode, back-end variant and
// tuning live here; every exported method takes the handle-level mutex
// before forwarding, per §5 ("The façade serializes by a single
// handle-level mutex around every call").
type DB struct {
	mu sync.Mutex

	kind Kind
	mem  *kvmem.Store
	hdb  *kvhash.Store

	location string
	iterSt   *iterState
}

// Open parses location (§4.3's `path#k1=v1#k2=v2#...` grammar) and opens the
// selected back-end.
func Open(location string) (*DB, error) {
	parsed, err := parseLocation(location)
	if err != nil {
		return nil, err
	}

	db := &DB{kind: parsed.kind, location: location}

	switch parsed.kind {
	case KindMemory:
		db.mem = kvmem.New(parsed.memOpts)
	case KindPersistent:
		hdb, err := kvhash.Open(parsed.path, parsed.hdbOpts)
		if err != nil {
			return nil, err
		}

		db.hdb = hdb
	default:
		return nil, fmt.Errorf("%w: no skeleton registered for location %q", ErrInvalid, location)
	}

	return db, nil
}

// Location returns the string the handle was opened with.
func (db *DB) Location() string {
	return db.location
}

// Kind reports which back-end this handle resolved to.
func (db *DB) Kind() Kind {
	return db.kind
}

// Close releases the handle. Valid exactly once.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindPersistent {
		return db.hdb.Close()
	}

	return nil
}

// Put inserts or overwrites key's value.
func (db *DB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.Put(key, value)
	}

	return db.hdb.Put(key, value)
}

// PutKeep inserts key's value only if key does not already exist.
func (db *DB) PutKeep(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.PutKeep(key, value)
	}

	return db.hdb.PutKeep(key, value)
}

// PutCat appends extra onto key's existing value, or inserts it fresh.
func (db *DB) PutCat(key, extra []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.PutCat(key, extra)
	}

	return db.hdb.PutCat(key, extra)
}

// Put3 is the LRU-promoting put; unsupported on the persistent store, which
// has no LRU concept (§4.2 is the in-memory store's feature only).
func (db *DB) Put3(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.Put3(key, value)
	}

	return fmt.Errorf("%w: put3 is in-memory only", ErrInvalid)
}

// PutCat3 is PutCat's LRU-promoting counterpart.
func (db *DB) PutCat3(key, extra []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.PutCat3(key, extra)
	}

	return fmt.Errorf("%w: putcat3 is in-memory only", ErrInvalid)
}

// PutShl concatenates extra onto key's value then truncates to its trailing
// width bytes (§9's wire-compatible truncation rule). Persistent-store only.
func (db *DB) PutShl(key, extra []byte, width int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return fmt.Errorf("%w: putshl is persistent-store only", ErrInvalid)
	}

	return db.hdb.PutShl(key, extra, width)
}

// Out removes key, returning ErrNoRec if absent.
func (db *DB) Out(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.Out(key)
	}

	return db.hdb.Out(key)
}

// Get returns key's value, or ErrNoRec if absent.
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.Get(key)
	}

	return db.hdb.Get(key)
}

// VSiz returns the byte length of key's value.
func (db *DB) VSiz(key []byte) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.VSiz(key)
	}

	return db.hdb.VSiz(key)
}

// AddInt adds num to the int32 stored at key.
func (db *DB) AddInt(key []byte, num int32) (int32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.AddInt(key, num)
	}

	return db.hdb.AddInt(key, num)
}

// AddDouble adds delta to the float64 stored at key.
func (db *DB) AddDouble(key []byte, delta float64) (float64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.AddDouble(key, delta)
	}

	return db.hdb.AddDouble(key, delta)
}

// RecordCount returns the number of live records.
func (db *DB) RecordCount() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.RecordCount()
	}

	return db.hdb.RecordCount()
}

// TranBegin opens a transaction scope. ErrInvalid on the in-memory store,
// per §4.2 ("tran-begin fails with INVALID").
func (db *DB) TranBegin() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.TranBegin()
	}

	return db.hdb.TranBegin()
}

// TranCommit commits the open transaction.
func (db *DB) TranCommit() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.TranCommit()
	}

	return db.hdb.TranCommit()
}

// TranAbort rolls back the open transaction.
func (db *DB) TranAbort() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return db.mem.TranAbort()
	}

	return db.hdb.TranAbort()
}

// Sync flushes durable state to disk. No-op on the in-memory store (there is
// nothing to flush), matching the teacher's pattern of tolerating idempotent
// no-ops on back-ends that don't need them rather than erroring.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return nil
	}

	return db.hdb.Sync()
}

// Optimize runs full defragmentation/rebucketing. Persistent-store only.
func (db *DB) Optimize() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return fmt.Errorf("%w: optimize is persistent-store only", ErrInvalid)
	}

	return db.hdb.Optimize()
}

// Defrag runs up to step incremental compactions. Persistent-store only.
func (db *DB) Defrag(step int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		return fmt.Errorf("%w: defrag is persistent-store only", ErrInvalid)
	}

	return db.hdb.Defrag(step)
}

// Vanish clears every record.
func (db *DB) Vanish() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		db.mem.Vanish()
		return nil
	}

	return db.hdb.Vanish()
}

// CacheClear discards the in-process record cache. No-op on the in-memory
// store, which has no separate cache layer over its own map.
func (db *DB) CacheClear() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindPersistent {
		db.hdb.CacheClear()
	}
}

// ForEach visits every live record, atomic w.r.t. writers on both back-ends.
func (db *DB) ForEach(fn func(key, value []byte) bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindMemory {
		db.mem.ForEach(fn)
		return nil
	}

	return db.hdb.ForEach(fn)
}

// FwmKeys returns up to max live keys starting with prefix.
func (db *DB) FwmKeys(prefix []byte, max int) ([][]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindPersistent {
		return db.hdb.FwmKeys(prefix, max)
	}

	var out [][]byte

	db.mem.ForEach(func(key, _ []byte) bool {
		if hasPrefix(key, prefix) {
			out = append(out, append([]byte(nil), key...))
		}

		return max <= 0 || len(out) < max
	})

	return out, nil
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

// Fatal reports whether the persistent store's fatal flag has latched.
// Always false for the in-memory store.
func (db *DB) Fatal() bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindPersistent {
		return db.hdb.Fatal()
	}

	return false
}

// LastError returns the last failed operation's error, or nil.
func (db *DB) LastError() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindPersistent {
		return db.hdb.LastError()
	}

	return nil
}

// Stat is the façade's half of the wire protocol's STAT command (§6):
// record count, file size, bucket count and cache occupancy, without the
// TSV wire encoding that belongs to the out-of-scope remote client.
// Re-exported from kvhash so both back-ends report through one struct shape.
type Stat = kvhash.Stat

// Stat returns a point-in-time snapshot of the handle's counters. The
// in-memory store has no file or bucket array, so FileSize and BucketCount
// are always 0 there, and CacheLen reports the stripe-resident record count
// in place of a separate cache layer (the in-memory store has none).
func (db *DB) Stat() (Stat, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.kind == KindPersistent {
		return db.hdb.StatSnapshot(), nil
	}

	return Stat{
		RecordCount: db.mem.RecordCount(),
		CacheLen:    int(db.mem.RecordCount()),
		Fatal:       false,
	}, nil
}
