package fs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finnpan/dbm-sub001/pkg/fs"
)

func Test_AtomicWriter_Write_Replaces_Existing_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "store.tcs")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	w := fs.NewAtomicWriter(fs.NewReal())
	err := w.Write(path, strings.NewReader("new contents"), fs.AtomicWriteOptions{SyncDir: true, Perm: 0o600})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new contents", string(got))
}

func Test_Locker_TryLock_Fails_When_Already_Held(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockPath := filepath.Join(dir, "store.tcs.lock")

	locker := fs.NewLocker(fs.NewReal())

	first, err := locker.TryLock(lockPath)
	require.NoError(t, err)
	defer first.Close()

	_, err = locker.TryLock(lockPath)
	require.ErrorIs(t, err, fs.ErrWouldBlock)
}

func Test_Locker_SharedLocks_Do_Not_Conflict_With_Each_Other(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockPath := filepath.Join(dir, "store.tcs.lock")

	locker := fs.NewLocker(fs.NewReal())

	a, err := locker.TryRLock(lockPath)
	require.NoError(t, err)
	defer a.Close()

	b, err := locker.TryRLock(lockPath)
	require.NoError(t, err)
	defer b.Close()
}

func Test_CrashFS_Fails_The_Nth_Durability_Call(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	crashed := fs.NewCrashFS(fs.NewReal(), 2)

	f, err := crashed.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("entry-one"))
	require.NoError(t, err)

	require.NoError(t, f.Sync())

	_, err = f.Write([]byte("entry-two"))
	require.ErrorIs(t, err, fs.ErrSimulatedCrash)
}
