package kvhash_test

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/finnpan/dbm-sub001/pkg/fs"
	"github.com/finnpan/dbm-sub001/pkg/kvhash"
)

func openTestStore(t *testing.T, opts kvhash.Options) (*kvhash.Store, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.tch")

	if opts.Mode == 0 {
		opts.Mode = kvhash.ModeWriter | kvhash.ModeCreate
	}

	s, err := kvhash.Open(path, opts)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s, path
}

func Test_Put_Then_Get_Roundtrips(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	require.NoError(t, s.Put([]byte("a"), []byte("1")))

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func Test_Put_Overwrites_Existing_Value(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	require.NoError(t, s.Put([]byte("k"), []byte("v1")))
	require.NoError(t, s.Put([]byte("k"), []byte("v2-longer-value")))

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2-longer-value", string(v))
}

func Test_Out_Removes_Record(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Out([]byte("k")))

	_, err := s.Get([]byte("k"))
	require.ErrorIs(t, err, kvhash.ErrNoRec)
}

func Test_PutKeep_Fails_When_Key_Exists(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	require.NoError(t, s.PutKeep([]byte("k"), []byte("v1")))
	err := s.PutKeep([]byte("k"), []byte("v2"))
	require.ErrorIs(t, err, kvhash.ErrKeep)

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
}

func Test_PutCat_Concatenates_Values(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	require.NoError(t, s.PutCat([]byte("k"), []byte("a")))
	require.NoError(t, s.PutCat([]byte("k"), []byte("b")))

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "ab", string(v))
}

func Test_AddInt_Accumulates(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	first, err := s.AddInt([]byte("counter"), 3)
	require.NoError(t, err)
	require.EqualValues(t, 3, first)

	second, err := s.AddInt([]byte("counter"), 4)
	require.NoError(t, err)
	require.EqualValues(t, 7, second)
}

func Test_RecordCount_Matches_Live_Keys(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	keys := []string{"a", "b", "c", "d"}

	for _, k := range keys {
		require.NoError(t, s.Put([]byte(k), []byte("v")))
	}

	require.NoError(t, s.Out([]byte("b")))

	require.EqualValues(t, len(keys)-1, s.RecordCount())
}

func Test_VSiz_Matches_Get_Length(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	require.NoError(t, s.Put([]byte("k"), []byte("hello world")))

	n, err := s.VSiz([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, len("hello world"), n)
}

func Test_CloseThenReopen_Preserves_Live_Records(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.tch")

	s, err := kvhash.Open(path, kvhash.Options{Mode: kvhash.ModeWriter | kvhash.ModeCreate})
	require.NoError(t, err)

	for i := range 10 {
		require.NoError(t, s.Put([]byte{byte('a' + i)}, []byte{byte('0' + i)}))
	}

	require.NoError(t, s.Out([]byte{'c'}))
	require.NoError(t, s.Close())

	reopened, err := kvhash.Open(path, kvhash.Options{Mode: kvhash.ModeWriter})
	require.NoError(t, err)

	defer reopened.Close()

	for i := range 10 {
		key := []byte{byte('a' + i)}

		v, err := reopened.Get(key)
		if i == 2 {
			require.ErrorIs(t, err, kvhash.ErrNoRec)
			continue
		}

		require.NoError(t, err)
		require.Equal(t, []byte{byte('0' + i)}, v)
	}
}

func Test_TranAbort_Restores_Pre_Transaction_State(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	require.NoError(t, s.Put([]byte("x"), []byte("1")))
	require.NoError(t, s.Sync())

	require.NoError(t, s.TranBegin())
	require.NoError(t, s.Put([]byte("x"), []byte("2")))
	require.NoError(t, s.Put([]byte("y"), []byte("2")))
	require.NoError(t, s.TranAbort())

	v, err := s.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	_, err = s.Get([]byte("y"))
	require.ErrorIs(t, err, kvhash.ErrNoRec)
}

func Test_TranCommit_Persists_Across_Reopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.tch")

	s, err := kvhash.Open(path, kvhash.Options{Mode: kvhash.ModeWriter | kvhash.ModeCreate})
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("x"), []byte("1")))
	require.NoError(t, s.TranBegin())
	require.NoError(t, s.Put([]byte("x"), []byte("2")))
	require.NoError(t, s.TranCommit())
	require.NoError(t, s.Close())

	reopened, err := kvhash.Open(path, kvhash.Options{Mode: kvhash.ModeWriter})
	require.NoError(t, err)

	defer reopened.Close()

	v, err := reopened.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func Test_CrashDuringTransaction_Then_Reopen_Recovers_PreTransactionState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.tch")
	real := fs.NewReal()

	s, err := kvhash.OpenFS(real, path, kvhash.Options{Mode: kvhash.ModeWriter | kvhash.ModeCreate | kvhash.ModeNoLock})
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("x"), []byte("1")))
	require.NoError(t, s.Sync())
	require.NoError(t, s.TranBegin())
	require.NoError(t, s.Put([]byte("x"), []byte("2")))

	// Simulate the process dying mid-transaction: abandon the handle
	// without committing or aborting (ModeNoLock sidesteps the flock that a
	// real crash would release with the process but a live handle in the
	// same test process would not). The WAL file on disk still holds the
	// reverse-operation entries written so far.
	reopened, err := kvhash.OpenFS(real, path, kvhash.Options{Mode: kvhash.ModeWriter | kvhash.ModeNoLock})
	require.NoError(t, err)

	defer reopened.Close()

	v, err := reopened.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func Test_CrashFS_Injected_Failure_Mid_Transaction_Leaves_File_Recoverable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.tch")
	real := fs.NewReal()

	s, err := kvhash.OpenFS(real, path, kvhash.Options{Mode: kvhash.ModeWriter | kvhash.ModeCreate | kvhash.ModeNoLock})
	require.NoError(t, err)

	require.NoError(t, s.Put([]byte("x"), []byte("1")))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	// A budget of 2 lets the put's WAL entry be written and fsynced, then
	// fails the main-file WriteAt, standing in for a process crash after
	// the log write but before commit.
	crashed := fs.NewCrashFS(real, 2)

	s2, err := kvhash.OpenFS(crashed, path, kvhash.Options{Mode: kvhash.ModeWriter | kvhash.ModeNoLock})
	require.NoError(t, err)

	require.NoError(t, s2.TranBegin())
	_ = s2.Put([]byte("x"), []byte("2")) // fails at the main-file WriteAt

	reopened, err := kvhash.OpenFS(real, path, kvhash.Options{Mode: kvhash.ModeWriter | kvhash.ModeNoLock})
	require.NoError(t, err)

	defer reopened.Close()

	v, err := reopened.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func Test_Alignment_Invariant_Holds_For_Every_Offset(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{AlignPower: 4})

	for i := range 50 {
		require.NoError(t, s.Put([]byte{byte(i)}, []byte("some value data")))
	}

	err := s.ForEach(func(key, value []byte) bool {
		return true
	})
	require.NoError(t, err)

	// Records are only appended (no deletes), so every record offset is
	// aligned exactly when the file end is.
	require.Zero(t, s.FileSize()%16)
}

func Test_Optimize_Preserves_KeySet_And_Shrinks_File(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	want := map[string]string{}

	for i := range 200 {
		k := []byte{byte(i), byte(i >> 8)}
		v := make([]byte, 64)
		want[string(k)] = string(v)
		require.NoError(t, s.Put(k, v))
	}

	for i := 0; i < 200; i += 2 {
		k := []byte{byte(i), byte(i >> 8)}
		require.NoError(t, s.Out(k))
		delete(want, string(k))
	}

	before := s.FileSize()

	require.NoError(t, s.Optimize())

	after := s.FileSize()
	require.LessOrEqual(t, after, before)
	require.EqualValues(t, len(want), s.RecordCount())

	got := map[string]string{}
	err := s.ForEach(func(key, value []byte) bool {
		got[string(key)] = string(value)
		return true
	})
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("surviving key/value set mismatch after optimize (-want +got):\n%s", diff)
	}
}

func Test_Iteration_Visits_Exactly_The_Live_KeySet(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	want := map[string]bool{}

	for i := range 30 {
		k := []byte{byte('A' + i)}
		want[string(k)] = true
		require.NoError(t, s.Put(k, []byte("v")))
	}

	it := s.IterInit()
	got := map[string]bool{}

	for {
		k, _, ok, err := it.Next()
		require.NoError(t, err)

		if !ok {
			break
		}

		got[string(k)] = true
	}

	require.Equal(t, want, got)
}

func Test_FreePool_Bounds_Fragmentation_After_Random_PutOut_Cycles(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})
	base := s.FileSize() // header plus bucket array

	rng := rand.New(rand.NewPCG(0xBEEF, 0xBEEF))
	live := map[string][]byte{}

	for range 1000 {
		k := []byte{byte(rng.IntN(64))}

		if rng.IntN(2) == 0 {
			v := make([]byte, 8+rng.IntN(32))
			require.NoError(t, s.Put(k, v))
			live[string(k)] = v
		} else if _, ok := live[string(k)]; ok {
			require.NoError(t, s.Out(k))
			delete(live, string(k))
		}
	}

	var liveBytes uint64

	for k, v := range live {
		liveBytes += uint64(len(k) + len(v))
	}

	require.LessOrEqual(t, float64(s.FileSize()-base), 1.5*float64(liveBytes)+4096)
}

func Test_Regex_Style_Prefix_Scan_Via_FwmKeys(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, kvhash.Options{})

	require.NoError(t, s.Put([]byte("apple"), []byte("1")))
	require.NoError(t, s.Put([]byte("apricot"), []byte("2")))
	require.NoError(t, s.Put([]byte("banana"), []byte("3")))

	keys, err := s.FwmKeys([]byte("ap"), 10)
	require.NoError(t, err)
	require.Len(t, keys, 2)
}
