package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "graph")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)

	_, err = f.WriteAt([]byte("J"), 0)
	assert.NoError(t, err)

	assert.NoError(t, f.Truncate(100))
	assert.NoError(t, f.Sync())
	assert.NotZero(t, f.Fd())
	assert.Equal(t, fpath, f.Name())

	info, err := f.Stat()
	assert.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "Jello", string(buf))

	assert.NoError(t, f.Close())

	newPath := filepath.Join(dir, "graph2")
	assert.NoError(t, lfs.Rename(fpath, newPath))

	assert.NoError(t, lfs.Truncate(newPath, 3))
	info, err = lfs.Stat(newPath)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())

	assert.NoError(t, lfs.Remove(newPath))
	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalFS_OpenMissingReturnsNilFile(t *testing.T) {
	f, err := LocalFS{}.OpenFile(filepath.Join(t.TempDir(), "missing"), os.O_RDONLY, 0)
	assert.Error(t, err)
	assert.Nil(t, f)
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("faulty", Fault{FailAfterBytes: 5})

	fpath := filepath.Join(t.TempDir(), "faulty.bin")
	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.WriteAt([]byte("!"), 5)
	assert.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, ffs.Opened())
}

func TestFaultyFS_SyncTruncateClose(t *testing.T) {
	boom := errors.New("boom")
	ffs := NewFaultyFS(nil)

	fpath := filepath.Join(t.TempDir(), "graph")
	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	// Rules apply to files opened before the rule was added.
	ffs.AddRule("graph", Fault{FailAfterBytes: -1, FailOnSync: true, FailOnTruncate: true, FailOnClose: true, Err: boom})

	assert.ErrorIs(t, f.Sync(), boom)
	assert.ErrorIs(t, f.Truncate(10), boom)
	assert.ErrorIs(t, ffs.Truncate(fpath, 10), boom)
	assert.ErrorIs(t, f.Close(), boom)

	ffs.ClearRules()
	assert.NoError(t, ffs.Truncate(fpath, 10))
}

func TestFaultyFS_Delegation(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(LocalFS{})

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, ffs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.NoError(t, ffs.Rename(fpath, fpath+".renamed"))
	_, err = ffs.Stat(fpath + ".renamed")
	assert.NoError(t, err)

	ffs.FailRename = true
	assert.Error(t, ffs.Rename(fpath+".renamed", fpath))

	assert.NoError(t, ffs.Remove(fpath+".renamed"))
}
