package kvmem_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finnpan/dbm-sub001/pkg/kvhash"
	"github.com/finnpan/dbm-sub001/pkg/kvmem"
)

func Test_Put_Then_Get_Roundtrips(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	require.NoError(t, s.Put([]byte("a"), []byte("1")))

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func Test_Put_Overwrites_Existing_Value(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	require.NoError(t, s.Put([]byte("k"), []byte("v1")))
	require.NoError(t, s.Put([]byte("k"), []byte("v2")))

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func Test_Out_Removes_Record(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Out([]byte("k")))

	_, err := s.Get([]byte("k"))
	require.ErrorIs(t, err, kvhash.ErrNoRec)
}

func Test_PutKeep_Rejects_Existing_Key(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	require.NoError(t, s.PutKeep([]byte("k"), []byte("v1")))
	require.ErrorIs(t, s.PutKeep([]byte("k"), []byte("v2")), kvhash.ErrKeep)

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
}

func Test_PutCat_Concatenates_Values(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	require.NoError(t, s.PutCat([]byte("k"), []byte("a")))
	require.NoError(t, s.PutCat([]byte("k"), []byte("b")))

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "ab", string(v))
}

func Test_AddInt_Accumulates(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	n1, err := s.AddInt([]byte("n"), 3)
	require.NoError(t, err)
	require.EqualValues(t, 3, n1)

	n2, err := s.AddInt([]byte("n"), 4)
	require.NoError(t, err)
	require.EqualValues(t, 7, n2)
}

func Test_VSiz_Matches_Get_Length(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	require.NoError(t, s.Put([]byte("k"), []byte("hello")))

	n, err := s.VSiz([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

// Test_CapNum_Bounds_RecordCount_Within_Batching_Slack matches §8's
// in-memory-specific property: with capnum=100, after 10,000 distinct
// puts, rnum() <= 100 + 256 (the 256-op batching slack).
func Test_CapNum_Bounds_RecordCount_Within_Batching_Slack(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{CapNum: 100})

	for i := 0; i < 10_000; i++ {
		k := []byte(fmt.Sprintf("key-%06d", i))
		require.NoError(t, s.Put(k, []byte("v")))
	}

	require.LessOrEqual(t, s.RecordCount(), uint64(100+256))
}

// Test_Put3_Promotes_To_LRU_Front verifies §8's put3 property: inserting
// k1..k100, then Put3(k1, v), then CutFront(1) drops k2 (the new oldest),
// not k1 (promoted to the front by Put3).
func Test_Put3_Promotes_To_LRU_Front(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{Stripes: 1})

	for i := 1; i <= 100; i++ {
		k := []byte(fmt.Sprintf("k%03d", i))
		require.NoError(t, s.Put(k, []byte("v")))
	}

	require.NoError(t, s.Put3([]byte("k001"), []byte("v")))

	s.CutFront([]byte("k001"), 1)

	_, err := s.Get([]byte("k001"))
	require.NoError(t, err, "k001 was promoted by Put3 and must survive CutFront(1)")

	_, err = s.Get([]byte("k002"))
	require.ErrorIs(t, err, kvhash.ErrNoRec, "k002 is now the oldest entry and must be dropped")
}

func Test_Plain_Put_Does_Not_Move_LRU_Position(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{Stripes: 1})

	require.NoError(t, s.Put([]byte("k001"), []byte("v")))

	for i := 2; i <= 100; i++ {
		k := []byte(fmt.Sprintf("k%03d", i))
		require.NoError(t, s.Put(k, []byte("v")))
	}

	// A plain (non-semivolatile) re-put of an existing key must not touch
	// its LRU position, per §4.2.
	require.NoError(t, s.Put([]byte("k001"), []byte("v2")))

	s.CutFront([]byte("k001"), 1)

	_, err := s.Get([]byte("k001"))
	require.ErrorIs(t, err, kvhash.ErrNoRec, "k001 stayed the oldest; plain Put must not have promoted it")
}

func Test_ForEach_Visits_Every_Record(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		require.NoError(t, s.Put([]byte(k), []byte(v)))
	}

	got := map[string]string{}
	s.ForEach(func(key, value []byte) bool {
		got[string(key)] = string(value)
		return true
	})

	require.Equal(t, want, got)
}

func Test_Vanish_Clears_All_Stripes(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))

	s.Vanish()

	require.EqualValues(t, 0, s.RecordCount())
}

func Test_Transactions_Are_Invalid_On_Memory_Store(t *testing.T) {
	t.Parallel()

	s := kvmem.New(kvmem.Options{})

	require.ErrorIs(t, s.TranBegin(), kvhash.ErrInvalid)
	require.ErrorIs(t, s.TranCommit(), kvhash.ErrInvalid)
	require.ErrorIs(t, s.TranAbort(), kvhash.ErrInvalid)
}
