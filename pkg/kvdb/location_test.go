package kvdb_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finnpan/dbm-sub001/pkg/kvdb"
)

func Test_Location_Unknown_Option_Key_Ignored(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Open("*#bogus=1#capnum=5")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for i := 0; i < 20; i++ {
		k := []byte{byte('a' + i)}
		require.NoError(t, db.Put(k, []byte("v")))
	}
}

func Test_Location_Malformed_Option_Errors(t *testing.T) {
	t.Parallel()

	_, err := kvdb.Open("*#noequalssign")
	require.ErrorIs(t, err, kvdb.ErrInvalid)
}

func Test_Location_Bad_Mode_Char_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "x.tch")

	_, err := kvdb.Open(path + "#mode=z")
	require.ErrorIs(t, err, kvdb.ErrInvalid)
}

func Test_Location_Hdb_Suffix_Also_Selects_Persistent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "x.hdb")

	db, err := kvdb.Open(path + "#mode=wc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.Equal(t, kvdb.KindPersistent, db.Kind())
}
