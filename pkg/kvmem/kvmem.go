// Package kvmem implements the in-memory hash store described in §4.2: a
// fixed number of independently-locked stripes, each holding a chained map
// plus a doubly-linked LRU list enabling capacity-bounded front-eviction.
package kvmem

import (
	"container/list"
	"hash/fnv"
	"math"
	"sync"

	"github.com/finnpan/dbm-sub001/pkg/kvhash"
)

// DefaultStripeCount matches §4.2's "N stripes (default 8)".
const DefaultStripeCount = 8

// Store is the in-memory hash store. No persistence, no transactions: every
// transaction call returns ErrInvalid, as §4.2 specifies.
type Store struct {
	stripes []*stripe

	iterMu sync.Mutex // serializes foreach/vanish

	capNum uint64 // max record count across all stripes, 0 = unbounded
	capSiz uint64 // max total byte size across all stripes, 0 = unbounded

	opCount uint64 // checked every 256 ops for cap enforcement, per §4.2
	opMu    sync.Mutex
}

// Options tunes the store's stripe count and optional capacity bounds.
type Options struct {
	Stripes int
	CapNum  uint64
	CapSiz  uint64
}

// New creates an in-memory store.
func New(opts Options) *Store {
	n := opts.Stripes
	if n <= 0 {
		n = DefaultStripeCount
	}

	s := &Store{
		stripes: make([]*stripe, n),
		capNum:  opts.CapNum,
		capSiz:  opts.CapSiz,
	}

	for i := range s.stripes {
		s.stripes[i] = newStripe()
	}

	return s
}

// stripeIndex selects a stripe via primary_hash(key) mod N, reusing the
// persistent store's FNV-based primary hash so both back-ends distribute
// keys the same way.
func (s *Store) stripeIndex(key []byte) int {
	h := fnv.New32a()
	_, _ = h.Write(key)

	return int(h.Sum32()) % len(s.stripes)
}

func (s *Store) stripeFor(key []byte) *stripe {
	return s.stripes[s.stripeIndex(key)]
}

// entry is one live record: a map value plus its LRU list element.
type entry struct {
	key   string
	value []byte
	el    *list.Element // element in the stripe's LRU list; el.Value == &entry{} (self)
}

// stripe is one independent partition: a chained map plus an LRU list,
// front = most recently inserted/updated, back = eviction target.
type stripe struct {
	mu   sync.Mutex
	m    map[string]*entry
	lru  *list.List
	size uint64 // total key+value bytes resident in this stripe
}

func newStripe() *stripe {
	return &stripe{
		m:   make(map[string]*entry),
		lru: list.New(),
	}
}

// Put inserts or overwrites key's value without touching LRU position if
// the key already exists (§4.2: "Plain put / putcat do not touch LRU
// position if the key already exists").
func (s *Store) Put(key, value []byte) error {
	st := s.stripeFor(key)

	st.mu.Lock()

	if e, ok := st.m[string(key)]; ok {
		st.size += uint64(len(value)) - uint64(len(e.value))
		e.value = append([]byte(nil), value...)
	} else {
		e := &entry{key: string(key), value: append([]byte(nil), value...)}
		e.el = st.lru.PushFront(e)
		st.m[e.key] = e
		st.size += uint64(len(key) + len(value))
	}

	st.mu.Unlock()

	s.afterWrite()

	return nil
}

// Put3 is the "semivolatile" put: it always promotes the touched key to the
// LRU front, whether inserting or updating.
func (s *Store) Put3(key, value []byte) error {
	st := s.stripeFor(key)

	st.mu.Lock()

	if e, ok := st.m[string(key)]; ok {
		st.size += uint64(len(value)) - uint64(len(e.value))
		e.value = append([]byte(nil), value...)
		st.lru.MoveToFront(e.el)
	} else {
		e := &entry{key: string(key), value: append([]byte(nil), value...)}
		e.el = st.lru.PushFront(e)
		st.m[e.key] = e
		st.size += uint64(len(key) + len(value))
	}

	st.mu.Unlock()

	s.afterWrite()

	return nil
}

// PutKeep inserts value only if key does not already exist.
func (s *Store) PutKeep(key, value []byte) error {
	st := s.stripeFor(key)

	st.mu.Lock()

	if _, ok := st.m[string(key)]; ok {
		st.mu.Unlock()
		return kvhash.ErrKeep
	}

	e := &entry{key: string(key), value: append([]byte(nil), value...)}
	e.el = st.lru.PushFront(e)
	st.m[e.key] = e
	st.size += uint64(len(key) + len(value))

	st.mu.Unlock()

	s.afterWrite()

	return nil
}

// PutCat appends extra to the existing value, without moving LRU position
// if the key already existed (plain, non-semivolatile cat).
func (s *Store) PutCat(key, extra []byte) error {
	return s.putCat(key, extra, false)
}

// PutCat3 is PutCat's semivolatile counterpart, always promoting to front.
func (s *Store) PutCat3(key, extra []byte) error {
	return s.putCat(key, extra, true)
}

func (s *Store) putCat(key, extra []byte, semivolatile bool) error {
	st := s.stripeFor(key)

	st.mu.Lock()

	if e, ok := st.m[string(key)]; ok {
		newVal := append(append([]byte(nil), e.value...), extra...)
		st.size += uint64(len(newVal)) - uint64(len(e.value))
		e.value = newVal

		if semivolatile {
			st.lru.MoveToFront(e.el)
		}
	} else {
		e := &entry{key: string(key), value: append([]byte(nil), extra...)}
		e.el = st.lru.PushFront(e)
		st.m[e.key] = e
		st.size += uint64(len(key) + len(extra))
	}

	st.mu.Unlock()

	s.afterWrite()

	return nil
}

// Out removes key, returning kvhash.ErrNoRec if absent.
func (s *Store) Out(key []byte) error {
	st := s.stripeFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.m[string(key)]
	if !ok {
		return kvhash.ErrNoRec
	}

	st.lru.Remove(e.el)
	delete(st.m, e.key)
	st.size -= uint64(len(e.key) + len(e.value))

	return nil
}

// Get returns key's value, or kvhash.ErrNoRec if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	st := s.stripeFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.m[string(key)]
	if !ok {
		return nil, kvhash.ErrNoRec
	}

	return append([]byte(nil), e.value...), nil
}

// VSiz returns the byte length of key's value.
func (s *Store) VSiz(key []byte) (int, error) {
	st := s.stripeFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.m[string(key)]
	if !ok {
		return 0, kvhash.ErrNoRec
	}

	return len(e.value), nil
}

// AddInt adds num to the int32 stored at key, creating it if absent (unless
// num is math.MinInt32, the probe sentinel — see kvhash.Store.AddInt for the
// shared convention).
func (s *Store) AddInt(key []byte, num int32) (int32, error) {
	st := s.stripeFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.m[string(key)]
	if !ok {
		if num == math.MinInt32 {
			return 0, kvhash.ErrNoRec
		}

		val := encodeInt32(num)
		ne := &entry{key: string(key), value: val}
		ne.el = st.lru.PushFront(ne)
		st.m[ne.key] = ne
		st.size += uint64(len(key) + len(val))

		return num, nil
	}

	cur := decodeInt32(e.value)

	if num == math.MinInt32 {
		return cur, nil
	}

	newVal := cur + num
	e.value = encodeInt32(newVal)

	return newVal, nil
}

// AddDouble is AddInt's float64 counterpart, reserving math.NaN() as the
// probe sentinel.
func (s *Store) AddDouble(key []byte, delta float64) (float64, error) {
	st := s.stripeFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.m[string(key)]
	if !ok {
		if math.IsNaN(delta) {
			return 0, kvhash.ErrNoRec
		}

		val := encodeFloat64(delta)
		ne := &entry{key: string(key), value: val}
		ne.el = st.lru.PushFront(ne)
		st.m[ne.key] = ne
		st.size += uint64(len(key) + len(val))

		return delta, nil
	}

	cur := decodeFloat64(e.value)

	if math.IsNaN(delta) {
		return cur, nil
	}

	newVal := cur + delta
	e.value = encodeFloat64(newVal)

	return newVal, nil
}

// CutFront drops the k oldest entries from the stripe key hashes to,
// matching §4.2's `cutfront(k)` used internally by cap enforcement. Exposed
// directly for tests and callers who want explicit control.
func (s *Store) CutFront(key []byte, k int) {
	st := s.stripeFor(key)
	st.cutFront(k)
}

func (st *stripe) cutFront(k int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for range k {
		back := st.lru.Back()
		if back == nil {
			return
		}

		e := back.Value.(*entry)
		st.lru.Remove(back)
		delete(st.m, e.key)
		st.size -= uint64(len(e.key) + len(e.value))
	}
}

// RecordCount returns the total live record count across all stripes.
func (s *Store) RecordCount() uint64 {
	var n uint64

	for _, st := range s.stripes {
		st.mu.Lock()
		n += uint64(len(st.m))
		st.mu.Unlock()
	}

	return n
}

// ByteSize returns the total resident key+value bytes across all stripes.
func (s *Store) ByteSize() uint64 {
	var n uint64

	for _, st := range s.stripes {
		st.mu.Lock()
		n += st.size
		st.mu.Unlock()
	}

	return n
}

// ForEach iterates every stripe in index order, each in its own insertion
// (LRU, back-to-front) order, holding every stripe mutex for the duration —
// atomic with respect to writers, per §3 invariant 7 and §4.2.
func (s *Store) ForEach(fn func(key, value []byte) bool) {
	s.iterMu.Lock()
	defer s.iterMu.Unlock()

	for _, st := range s.stripes {
		st.mu.Lock()
	}

	defer func() {
		for _, st := range s.stripes {
			st.mu.Unlock()
		}
	}()

	for _, st := range s.stripes {
		for el := st.lru.Back(); el != nil; el = el.Prev() {
			e := el.Value.(*entry)
			if !fn([]byte(e.key), append([]byte(nil), e.value...)) {
				return
			}
		}
	}
}

// Vanish clears every stripe, holding all stripe mutexes in index order,
// per §4.2's "foreach and vanish take all stripe mutexes in index order".
func (s *Store) Vanish() {
	s.iterMu.Lock()
	defer s.iterMu.Unlock()

	for _, st := range s.stripes {
		st.mu.Lock()
	}

	for _, st := range s.stripes {
		st.m = make(map[string]*entry)
		st.lru.Init()
		st.size = 0
	}

	for _, st := range s.stripes {
		st.mu.Unlock()
	}
}

// afterWrite implements §4.2's cap-enforcement schedule: checked every 256
// operations, evicting in batches of 256 (or 512 if far over budget),
// taking the LRU back (oldest) entry of each stripe in turn, until back
// under the cap.
func (s *Store) afterWrite() {
	if s.capNum == 0 && s.capSiz == 0 {
		return
	}

	s.opMu.Lock()
	s.opCount++

	due := s.opCount >= 256
	if due {
		s.opCount = 0
	}

	s.opMu.Unlock()

	if !due {
		return
	}

	s.enforceCaps()
}

func (s *Store) enforceCaps() {
	for {
		count := s.RecordCount()
		size := s.ByteSize()

		overNum := s.capNum > 0 && count > s.capNum
		overSiz := s.capSiz > 0 && size > s.capSiz

		if !overNum && !overSiz {
			return
		}

		batch := 256
		if (overNum && count > s.capNum+256) || (overSiz && size > s.capSiz+uint64(batch)*64) {
			batch = 512
		}

		s.evictBatch(batch)
	}
}

// evictBatch removes up to n entries total, taken from the globally oldest
// entries across stripes (approximated by round-robin draining each
// stripe's back, which is a reasonable approximation of global LRU order
// since stripe assignment is uniform over keys).
func (s *Store) evictBatch(n int) {
	removed := 0

	for removed < n {
		progressed := false

		for _, st := range s.stripes {
			st.mu.Lock()
			back := st.lru.Back()

			if back != nil {
				e := back.Value.(*entry)
				st.lru.Remove(back)
				delete(st.m, e.key)
				st.size -= uint64(len(e.key) + len(e.value))
				progressed = true
				removed++
			}

			st.mu.Unlock()

			if removed >= n {
				return
			}
		}

		if !progressed {
			return
		}
	}
}

func encodeInt32(v int32) []byte {
	b := make([]byte, 4)
	u := uint32(v)
	b[0] = byte(u)
	b[1] = byte(u >> 8)
	b[2] = byte(u >> 16)
	b[3] = byte(u >> 24)

	return b
}

func decodeInt32(b []byte) int32 {
	if len(b) != 4 {
		return 0
	}

	u := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24

	return int32(u)
}

func encodeFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	b := make([]byte, 8)

	for i := range 8 {
		b[i] = byte(bits >> (8 * i))
	}

	return b
}

func decodeFloat64(b []byte) float64 {
	if len(b) != 8 {
		return 0
	}

	var bits uint64

	for i := range 8 {
		bits |= uint64(b[i]) << (8 * i)
	}

	return math.Float64frombits(bits)
}

// TranBegin is unsupported on the in-memory store; see §4.2.
func (s *Store) TranBegin() error { return kvhash.ErrInvalid }

// TranCommit is unsupported on the in-memory store.
func (s *Store) TranCommit() error { return kvhash.ErrInvalid }

// TranAbort is unsupported on the in-memory store.
func (s *Store) TranAbort() error { return kvhash.ErrInvalid }
