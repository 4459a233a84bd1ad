package segment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmap/internal/mmap"
	"github.com/hupe1980/segmap/resource"
)

const testSegSize = 4096

func newTable(t *testing.T, n int) (*Table, *os.File) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "table"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	require.NoError(t, f.Truncate(int64(n*testSegSize)))

	tbl := NewTable(testSegSize)
	for i := 0; i < n; i++ {
		m, err := mmap.Map(f.Fd(), int64(i*testSegSize), testSegSize, true)
		require.NoError(t, err)
		tbl.Append(m)
	}
	t.Cleanup(func() { _, _ = tbl.ReleaseAll() })
	return tbl, f
}

func TestTable_AppendAndCapacity(t *testing.T) {
	tbl, _ := newTable(t, 3)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, int64(3*testSegSize), tbl.Capacity())
	assert.Equal(t, testSegSize, tbl.SegmentSize())
	assert.Len(t, tbl.View(2), testSegSize)
	assert.Equal(t, int64(2*testSegSize), tbl.Get(2).Offset())
}

func TestTable_AppendWrongSizePanics(t *testing.T) {
	tbl, f := newTable(t, 1)

	m, err := mmap.Map(f.Fd(), 0, 100, true)
	require.NoError(t, err)
	defer m.Close()

	assert.Panics(t, func() { tbl.Append(m) })
}

func TestTable_FlushDirty(t *testing.T) {
	tbl, f := newTable(t, 4)

	copy(tbl.View(1), "one")
	tbl.MarkDirty(1)
	copy(tbl.View(3), "three")
	tbl.MarkDirty(3)
	assert.Equal(t, 2, tbl.DirtyCount())
	assert.True(t, tbl.IsDirty(3))
	assert.False(t, tbl.IsDirty(0))

	rc := resource.NewController(resource.Config{MaxFlushWorkers: 2})
	require.NoError(t, tbl.FlushDirty(context.Background(), rc))
	assert.Equal(t, 0, tbl.DirtyCount())

	buf := make([]byte, 5)
	_, err := f.ReadAt(buf, 3*testSegSize)
	require.NoError(t, err)
	assert.Equal(t, "three", string(buf))

	// Nothing dirty is a no-op, with or without a controller.
	require.NoError(t, tbl.FlushDirty(context.Background(), nil))
}

func TestTable_TruncateTo(t *testing.T) {
	tbl, _ := newTable(t, 5)
	tbl.MarkDirty(4)
	tbl.MarkDirty(1)
	last := tbl.Get(4)

	released, err := tbl.TruncateTo(2)
	require.NoError(t, err)
	assert.Equal(t, 3, released)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, int64(2*testSegSize), tbl.Capacity())
	assert.True(t, last.Closed())
	assert.False(t, tbl.IsDirty(4))
	assert.True(t, tbl.IsDirty(1))

	released, err = tbl.TruncateTo(10)
	require.NoError(t, err)
	assert.Zero(t, released)
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_ReleaseAll(t *testing.T) {
	tbl, _ := newTable(t, 3)
	first := tbl.Get(0)

	released, err := tbl.ReleaseAll()
	require.NoError(t, err)
	assert.Equal(t, 3, released)
	assert.Zero(t, tbl.Len())
	assert.Zero(t, tbl.Capacity())
	assert.True(t, first.Closed())

	released, err = tbl.ReleaseAll()
	require.NoError(t, err)
	assert.Zero(t, released)
}

func TestTable_Advise(t *testing.T) {
	tbl, _ := newTable(t, 2)
	assert.NoError(t, tbl.Advise(mmap.AccessRandom))
}
