package kvdb_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finnpan/dbm-sub001/pkg/kvdb"
)

func Test_Misc_PutList_GetList_Scenario5(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Misc("putlist", []string{"a", "1", "b", "2"})
	require.NoError(t, err)

	out, err := db.Misc("getlist", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "1", "b", "2"}, out)
}

func Test_Misc_Regex_On_Persistent_Scenario6(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "regex.tch")

	db, err := kvdb.Open(path + "#mode=wc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Put([]byte("apple"), []byte("1")))
	require.NoError(t, db.Put([]byte("apricot"), []byte("2")))
	require.NoError(t, db.Put([]byte("banana"), []byte("3")))

	out, err := db.Misc("regex", []string{"^ap", "10"})
	require.NoError(t, err)

	keys := map[string]bool{}
	for i := 0; i < len(out); i += 2 {
		keys[out[i]] = true
	}

	require.True(t, keys["apple"])
	require.True(t, keys["apricot"])
	require.False(t, keys["banana"])
}

func Test_Misc_Regex_CaseInsensitive_Prefix(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Put([]byte("Apple"), []byte("1")))

	out, err := db.Misc("regex", []string{"*^apple$"})
	require.NoError(t, err)
	require.Equal(t, []string{"Apple", "1"}, out)
}

func Test_Misc_GetPart_Clamps_Offset_And_Length(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Put([]byte("k"), []byte("hello world")))

	out, err := db.Misc("getpart", []string{"k", "6", "5"})
	require.NoError(t, err)
	require.Equal(t, []string{"world"}, out)

	out, err = db.Misc("getpart", []string{"k", "6", "-1"})
	require.NoError(t, err)
	require.Equal(t, []string{"world"}, out)
}

func Test_Misc_IterInit_IterNext_Drains_All_Keys(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	_, err = db.Misc("iterinit", nil)
	require.NoError(t, err)

	seen := map[string]string{}

	for {
		out, err := db.Misc("iternext", nil)
		if err != nil {
			require.ErrorIs(t, err, kvdb.ErrNoRec)
			break
		}

		require.Len(t, out, 2)
		seen[out[0]] = out[1]
	}

	require.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)
}

func Test_Misc_Unknown_Command_Returns_Invalid(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Misc("bogus", nil)
	require.ErrorIs(t, err, kvdb.ErrInvalid)
}

func Test_Misc_Sync_On_Memory_Returns_Empty_List(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	out, err := db.Misc("sync", nil)
	require.NoError(t, err)
	require.Empty(t, out)
	require.NotNil(t, out)
}
