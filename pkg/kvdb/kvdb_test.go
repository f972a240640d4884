package kvdb_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finnpan/dbm-sub001/pkg/kvdb"
)

func Test_Open_Memory_Location_Scenario1(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*#bnum=16")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	v, err = db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	require.EqualValues(t, 2, db.RecordCount())

	st, err := db.Stat()
	require.NoError(t, err)
	require.EqualValues(t, 2, st.RecordCount)
	require.False(t, st.Fatal)
}

func Test_Stat_On_Persistent_Store_Reports_File_And_Bucket_Counts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "stat.tch")

	db, err := kvdb.Open(path + "#mode=wc#bnum=32")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	st, err := db.Stat()
	require.NoError(t, err)
	require.EqualValues(t, 1, st.RecordCount)
	require.EqualValues(t, 32, st.BucketCount)
	require.Greater(t, st.FileSize, uint64(0))
}

func Test_Open_Persistent_Location_CloseReopen_Scenario2(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.tch")

	db, err := kvdb.Open(path + "#mode=wc#apow=4#opts=l")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		k := []byte("k" + string(rune('0'+i)))
		v := []byte("v" + string(rune('0'+i)))
		require.NoError(t, db.Put(k, v))
	}

	require.NoError(t, db.Close())

	db, err = kvdb.Open(path + "#mode=w")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	seen := map[string]bool{}

	require.NoError(t, db.ForEach(func(key, _ []byte) bool {
		seen[string(key)] = true
		return true
	}))

	require.Len(t, seen, 10)

	for i := 0; i < 10; i++ {
		require.True(t, seen["k"+string(rune('0'+i))])
	}
}

func Test_Transaction_Abort_Scenario3(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tx.tch")

	db, err := kvdb.Open(path + "#mode=wc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.TranBegin())
	require.NoError(t, db.Put([]byte("x"), []byte("1")))
	require.NoError(t, db.Put([]byte("y"), []byte("2")))
	require.NoError(t, db.TranAbort())

	_, err = db.Get([]byte("x"))
	require.ErrorIs(t, err, kvdb.ErrNoRec)

	_, err = db.Get([]byte("y"))
	require.ErrorIs(t, err, kvdb.ErrNoRec)
}

func Test_Transaction_Commit_Scenario4(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tx2.tch")

	db, err := kvdb.Open(path + "#mode=wc")
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("x"), []byte("1")))
	require.NoError(t, db.TranBegin())
	require.NoError(t, db.Put([]byte("x"), []byte("2")))
	require.NoError(t, db.TranCommit())
	require.NoError(t, db.Close())

	db, err = kvdb.Open(path + "#mode=w")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v, err := db.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func Test_TranBegin_On_Memory_Returns_Invalid(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.ErrorIs(t, db.TranBegin(), kvdb.ErrInvalid)
}

func Test_Unregistered_Skeleton_Path_Returns_Invalid(t *testing.T) {
	t.Parallel()

	_, err := kvdb.Open("myserver.example.com:1978")
	require.ErrorIs(t, err, kvdb.ErrInvalid)
}

func Test_PutKeep_Leaves_Original_Value(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PutKeep([]byte("k"), []byte("v1")))
	require.ErrorIs(t, db.PutKeep([]byte("k"), []byte("v2")), kvdb.ErrKeep)

	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
}

func Test_AddInt_Accumulates(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	n1, err := db.AddInt([]byte("n"), 3)
	require.NoError(t, err)
	require.EqualValues(t, 3, n1)

	n2, err := db.AddInt([]byte("n"), 4)
	require.NoError(t, err)
	require.EqualValues(t, 7, n2)
}
