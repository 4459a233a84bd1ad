package segmap

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmap/internal/fs"
	"github.com/hupe1980/segmap/internal/mmap"
	"github.com/hupe1980/segmap/resource"
	"github.com/hupe1980/segmap/testutil"
)

func newStore(t *testing.T, dir, name string, optFns ...Option) *Store {
	t.Helper()
	s := New(dir, name, optFns...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SegmentScenario(t *testing.T) {
	s := newStore(t, t.TempDir(), "graph", WithSegmentSize(1024))
	require.NoError(t, s.Create(4000))

	assert.Equal(t, 4, s.SegmentCount())
	assert.Equal(t, int64(4096), s.Capacity())

	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, 0x11223344)
	s.SetBytes(1022, v, 4)

	assert.Equal(t, []byte{0x11, 0x22}, s.table.View(0)[1022:1024])
	assert.Equal(t, []byte{0x33, 0x44}, s.table.View(1)[0:2])
	assert.True(t, s.table.IsDirty(0))
	assert.True(t, s.table.IsDirty(1))

	got := make([]byte, 4)
	s.GetBytes(1022, got, 4)
	assert.Equal(t, uint32(0x11223344), binary.BigEndian.Uint32(got))

	require.NoError(t, s.TrimTo(2048))
	assert.Equal(t, 2, s.SegmentCount())
	assert.Equal(t, int64(2048), s.Capacity())
}

func TestStore_LoadExistingNothingToLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		s := newStore(t, dir, "missing")
		ok, err := s.LoadExisting()
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, s.SegmentCount())
	})

	t.Run("empty", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), nil, 0o644))
		s := newStore(t, dir, "empty")
		ok, err := s.LoadExisting()
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, s.SegmentCount())
	})

	t.Run("malformed", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "junk"), make([]byte, 500), 0o644))
		s := newStore(t, dir, "junk")
		ok, err := s.LoadExisting()
		require.NoError(t, err)
		assert.False(t, ok)

		// The store is still usable for Create.
		require.NoError(t, s.Create(100))
		assert.Equal(t, 1, s.SegmentCount())
	})

	t.Run("short", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "short"), []byte("SGMP"), 0o644))
		s := newStore(t, dir, "short")
		ok, err := s.LoadExisting()
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := New(dir, "graph", WithSegmentSize(256))
	require.NoError(t, s.Create(1000))
	s.SetInt(0, 42)
	s.SetInt(300, -7)
	s.SetShort(600, 1234)
	s.SetBytes(254, []byte("span"), 4)
	s.SetHeader(0, 99)
	s.SetHeader(HeaderFields-1, -1)
	capacity := s.Capacity()
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())

	// A different configured size is replaced by the persisted one.
	r := newStore(t, dir, "graph", WithSegmentSize(4096))
	ok, err := r.LoadExisting()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 256, r.SegmentSize())
	assert.Equal(t, capacity, r.Capacity())
	assert.Equal(t, int32(42), r.GetInt(0))
	assert.Equal(t, int32(-7), r.GetInt(300))
	assert.Equal(t, int16(1234), r.GetShort(600))
	assert.Equal(t, int32(99), r.GetHeader(0))
	assert.Equal(t, int32(-1), r.GetHeader(HeaderFields-1))

	buf := make([]byte, 4)
	r.GetBytes(254, buf, 4)
	assert.Equal(t, "span", string(buf))
}

func TestStore_Lifecycle(t *testing.T) {
	s := newStore(t, t.TempDir(), "graph", WithSegmentSize(128))

	_, err := s.EnsureCapacity(10)
	assert.ErrorIs(t, err, ErrNotCreated)

	require.NoError(t, s.Create(0))
	assert.Equal(t, 1, s.SegmentCount(), "create maps at least 40 bytes")

	assert.ErrorIs(t, s.Create(10), ErrAlreadyCreated)
	assert.ErrorIs(t, s.SetSegmentSize(1024), ErrAlreadyCreated)

	_, err = s.LoadExisting()
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	_, err = s.EnsureCapacity(-1)
	assert.ErrorIs(t, err, ErrNegativeCapacity)

	grown, err := s.EnsureCapacity(129)
	require.NoError(t, err)
	assert.True(t, grown)
	assert.Equal(t, 2, s.SegmentCount())

	grown, err = s.EnsureCapacity(200)
	require.NoError(t, err)
	assert.False(t, grown)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Create(10), ErrClosed)
	_, err = s.LoadExisting()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Flush(), ErrClosed)
	assert.ErrorIs(t, s.TrimTo(0), ErrClosed)
	assert.ErrorIs(t, s.Rename("other"), ErrClosed)
	_, err = s.EnsureCapacity(10)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, s.SegmentCount())
}

func TestStore_SegmentSizeNormalization(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, MinSegmentSize},
		{1, MinSegmentSize},
		{1000, 512},
		{1 << 16, 1 << 16},
		{MaxSegmentSize, MaxSegmentSize},
		{math.MaxInt, MaxSegmentSize},
	}
	for _, tt := range tests {
		s := New(t.TempDir(), "x", WithSegmentSize(tt.in))
		assert.Equal(t, tt.want, s.SegmentSize(), "in %d", tt.in)
	}

	assert.Equal(t, DefaultSegmentSize, New(t.TempDir(), "x").SegmentSize())
}

func TestStore_MaxSegmentSizeReloads(t *testing.T) {
	if testing.Short() || math.MaxInt == math.MaxInt32 {
		t.Skip("maps a 1GiB segment")
	}
	dir := t.TempDir()
	s := newStore(t, dir, "graph", WithSegmentSize(math.MaxInt))
	require.NoError(t, s.Create(40))
	assert.Equal(t, MaxSegmentSize, s.SegmentSize())
	s.SetInt(8, 5)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	again := newStore(t, dir, "graph")
	ok, err := again.LoadExisting()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MaxSegmentSize, again.SegmentSize())
	assert.Equal(t, int32(5), again.GetInt(8))
}

func TestStore_Rename(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t, dir, "graph", WithSegmentSize(1024))
	require.NoError(t, s.Create(2048))
	s.SetInt(1024, 7)
	require.NoError(t, s.Flush())

	require.NoError(t, s.Rename("graph2"))
	assert.Equal(t, "graph2", s.Name())
	assert.Equal(t, filepath.Join(dir, "graph2"), s.Path())
	assert.False(t, s.IsClosed())
	assert.Equal(t, int32(7), s.GetInt(1024))

	_, err := os.Stat(filepath.Join(dir, "graph"))
	assert.True(t, os.IsNotExist(err))

	// Rejected names are a silent no-op.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "taken"), nil, 0o644))
	require.NoError(t, s.Rename("taken"))
	require.NoError(t, s.Rename("graph2"))
	require.NoError(t, s.Rename(""))
	assert.Equal(t, "graph2", s.Name())
	assert.Equal(t, int32(7), s.GetInt(1024))
}

func TestStore_RenameCheck(t *testing.T) {
	var from, to string
	s := newStore(t, t.TempDir(), "graph", WithRenameCheck(func(fromPath, toPath string) bool {
		from, to = fromPath, toPath
		return false
	}))
	require.NoError(t, s.Create(100))

	require.NoError(t, s.Rename("other"))
	assert.Equal(t, s.Path(), from)
	assert.Equal(t, filepath.Join(filepath.Dir(s.Path()), "other"), to)
	assert.Equal(t, "graph", s.Name())
}

func TestStore_ReadOnly(t *testing.T) {
	dir := t.TempDir()

	w := New(dir, "graph", WithSegmentSize(512))
	require.NoError(t, w.Create(1024))
	w.SetInt(8, 5)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	r := newStore(t, dir, "graph", WithReadOnly())
	ok, err := r.LoadExisting()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, r.ReadOnly())
	assert.Equal(t, int32(5), r.GetInt(8))

	assert.PanicsWithValue(t, ErrReadOnly, func() { r.SetInt(8, 6) })
	assert.PanicsWithValue(t, ErrReadOnly, func() { r.SetBytes(0, []byte{1}, 1) })
	assert.PanicsWithValue(t, ErrReadOnly, func() { r.SetHeader(0, 1) })
	assert.NoError(t, r.Flush())

	// Read-only stores never extend the file.
	_, err = r.EnsureCapacity(4096)
	assert.ErrorIs(t, err, ErrShortFile)
	assert.Equal(t, 2, r.SegmentCount())

	missing := newStore(t, dir, "missing", WithReadOnly())
	assert.Error(t, missing.Create(100))
}

func TestStore_AccessorContracts(t *testing.T) {
	s := newStore(t, t.TempDir(), "graph", WithSegmentSize(128))
	require.NoError(t, s.Create(256))

	assert.Panics(t, func() { s.SetBytes(0, make([]byte, 129), 129) })
	assert.Panics(t, func() { s.GetBytes(0, make([]byte, 4), 8) })
	assert.Panics(t, func() { s.GetHeader(HeaderFields) })
	assert.Panics(t, func() { s.SetHeader(-1, 0) })

	// Fixed-width values must not straddle a segment boundary.
	assert.Panics(t, func() { s.SetInt(126, 1) })
	assert.NotPanics(t, func() { s.SetInt(124, 1) })

	// Exactly one full segment from a boundary does not spill.
	full := make([]byte, 128)
	for i := range full {
		full[i] = byte(i)
	}
	s.SetBytes(128, full, 128)
	got := make([]byte, 128)
	s.GetBytes(128, got, 128)
	assert.Equal(t, full, got)
}

func TestStore_ByteOrder(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			dir := t.TempDir()
			s := newStore(t, dir, "graph", WithSegmentSize(128), WithByteOrder(order))
			require.NoError(t, s.Create(128))
			s.SetInt(0, 0x11223344)
			require.NoError(t, s.Flush())

			raw, err := os.ReadFile(filepath.Join(dir, "graph"))
			require.NoError(t, err)
			assert.Equal(t, uint32(0x11223344), order.Uint32(raw[HeaderOffset:]))
			assert.Equal(t, order, s.ByteOrder())
		})
	}
}

func TestStore_GrowthModes(t *testing.T) {
	for _, mode := range []GrowthMode{GrowthDefault, GrowthIncremental, GrowthCleanRemap} {
		t.Run(mode.String(), func(t *testing.T) {
			s := newStore(t, t.TempDir(), "graph", WithSegmentSize(128), WithGrowth(mode))
			require.NoError(t, s.Create(128))
			s.SetInt(64, 3)

			for c := int64(256); c <= 2048; c *= 2 {
				_, err := s.EnsureCapacity(c)
				require.NoError(t, err)
			}
			assert.Equal(t, 16, s.SegmentCount())
			assert.Equal(t, int32(3), s.GetInt(64))
			assert.Equal(t, mode, s.Growth())
		})
	}
}

func TestStore_MapFailure(t *testing.T) {
	calls := 0
	failAfterFirst := func(fd uintptr, offset int64, size int, writable bool) (*mmap.Mapping, error) {
		calls++
		if offset > HeaderOffset {
			return nil, errors.New("out of address space")
		}
		return mmap.Map(fd, offset, size, writable)
	}
	metrics := &BasicMetricsCollector{}
	s := newStore(t, t.TempDir(), "graph",
		WithSegmentSize(128),
		WithRetryDelay(0),
		WithMetricsCollector(metrics),
		withMapFunc(failAfterFirst),
	)
	require.NoError(t, s.Create(128))

	_, err := s.EnsureCapacity(512)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMapFailed)

	var me *MapError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1, me.Segment)
	assert.Equal(t, 4, me.Segments)
	assert.Equal(t, s.Path(), me.Path)

	assert.Equal(t, 1, s.SegmentCount())
	assert.Equal(t, 3, calls, "one map plus one retry")

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.GrowCount)
	assert.Equal(t, int64(1), stats.GrowErrors)
	assert.Equal(t, int64(1), stats.SegmentsMapped)
}

func TestStore_FailedGrowthKeepsReloadCapacity(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("open files cannot shrink on windows")
	}
	failThird := func(fd uintptr, offset int64, size int, writable bool) (*mmap.Mapping, error) {
		if offset == HeaderOffset+3*int64(size) {
			return nil, errors.New("out of address space")
		}
		return mmap.Map(fd, offset, size, writable)
	}
	dir := t.TempDir()
	s := newStore(t, dir, "graph",
		WithSegmentSize(1024),
		WithRetryDelay(0),
		withMapFunc(failThird),
	)
	require.NoError(t, s.Create(2048))
	s.SetInt(1024, 11)

	_, err := s.EnsureCapacity(8192)
	require.ErrorIs(t, err, ErrMapFailed)
	assert.Equal(t, int64(2048), s.Capacity())

	st, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderOffset+2048), st.Size())

	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	again := newStore(t, dir, "graph")
	ok, err := again.LoadExisting()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2048), again.Capacity())
	assert.Equal(t, int32(11), again.GetInt(1024))
}

func TestStore_MappedLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MappedLimitBytes: 3 * 128})

	a := newStore(t, t.TempDir(), "a", WithSegmentSize(128), WithResourceController(rc))
	require.NoError(t, a.Create(256))
	b := newStore(t, t.TempDir(), "b", WithSegmentSize(128), WithResourceController(rc))
	require.NoError(t, b.Create(128))

	_, err := a.EnsureCapacity(384)
	assert.ErrorIs(t, err, resource.ErrMappedLimitExceeded)
	assert.Equal(t, int64(3*128), rc.MappedUsage())

	require.NoError(t, b.Close())
	_, err = a.EnsureCapacity(384)
	require.NoError(t, err)
	assert.Equal(t, int64(3*128), rc.MappedUsage())
}

func TestStore_FlushFaults(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	metrics := &BasicMetricsCollector{}
	s := newStore(t, t.TempDir(), "graph",
		WithSegmentSize(128),
		WithMetricsCollector(metrics),
		withFileSystem(faulty),
	)
	require.NoError(t, s.Create(128))
	s.SetInt(0, 1)

	faulty.AddRule("graph", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	err := s.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segmap: flush")

	faulty.ClearRules()
	require.NoError(t, s.Flush())

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.FlushCount)
	assert.Equal(t, int64(1), stats.FlushErrors)
}

func TestStore_RenameFault(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	faulty.FailRename = true
	dir := t.TempDir()
	s := newStore(t, dir, "graph", WithSegmentSize(128), withFileSystem(faulty))
	require.NoError(t, s.Create(256))
	s.SetInt(128, 9)
	require.NoError(t, s.Flush())

	err := s.Rename("graph2")
	require.Error(t, err)

	// The store stays usable under its old name.
	assert.False(t, s.IsClosed())
	assert.Equal(t, "graph", s.Name())
	assert.Equal(t, filepath.Join(dir, "graph"), s.Path())
	assert.Equal(t, int64(256), s.Capacity())
	assert.Equal(t, int32(9), s.GetInt(128))
}

func TestStore_CopyTo(t *testing.T) {
	dir := t.TempDir()
	src := newStore(t, dir, "src", WithSegmentSize(256))
	require.NoError(t, src.Create(1024))
	for pos := int64(0); pos < src.Capacity(); pos += 4 {
		src.SetInt(pos, int32(pos))
	}
	src.SetHeader(3, 33)

	for _, size := range []int{128, 1024} {
		dst := newStore(t, dir, "dst", WithSegmentSize(size))
		require.NoError(t, src.CopyTo(dst))

		assert.GreaterOrEqual(t, dst.Capacity(), src.Capacity())
		assert.Equal(t, int32(33), dst.GetHeader(3))
		for pos := int64(0); pos < src.Capacity(); pos += 4 {
			require.Equal(t, int32(pos), dst.GetInt(pos))
		}
		require.NoError(t, dst.Close())
		require.NoError(t, os.Remove(dst.Path()))
	}
}

func TestStore_Advise(t *testing.T) {
	s := newStore(t, t.TempDir(), "graph", WithSegmentSize(4096))
	require.NoError(t, s.Create(8192))
	assert.NoError(t, s.Advise(AccessRandom))
	assert.NoError(t, s.Advise(AccessSequential))
}

func TestStore_LoadMetrics(t *testing.T) {
	dir := t.TempDir()
	metrics := &BasicMetricsCollector{}

	s := newStore(t, dir, "graph", WithMetricsCollector(metrics))
	ok, err := s.LoadExisting()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.Create(100))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	r := newStore(t, dir, "graph", WithMetricsCollector(metrics))
	ok, err = r.LoadExisting()
	require.NoError(t, err)
	require.True(t, ok)

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.LoadCount)
	assert.Equal(t, int64(1), stats.LoadMisses)
}

func TestStore_RandomAccessModel(t *testing.T) {
	const capacity = 8 * 256
	rng := testutil.NewRNG(99)
	model := make([]byte, capacity)

	dir := t.TempDir()
	s := newStore(t, dir, "graph", WithSegmentSize(256))
	require.NoError(t, s.Create(capacity))

	for _, pos := range rng.AlignedOffsets(500, capacity, 4, 4) {
		v := rng.Int31()
		s.SetInt(pos, v)
		binary.LittleEndian.PutUint32(model[pos:], uint32(v))
	}
	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(256)
		pos := int64(rng.Intn(capacity - n + 1))
		b := rng.Bytes(n)
		s.SetBytes(pos, b, n)
		copy(model[pos:], b)
	}
	// Hot segments get extra short writes.
	for i := 0; i < 100; i++ {
		seg := rng.Zipf(s.SegmentCount(), 1.3)
		pos := int64(seg*256 + rng.Intn(128))
		s.SetShort(pos, int16(i))
		binary.LittleEndian.PutUint16(model[pos:], uint16(i))
	}

	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "graph"))
	require.NoError(t, err)
	assert.Equal(t, model, raw[HeaderOffset:HeaderOffset+capacity])

	again := newStore(t, dir, "graph")
	ok, err := again.LoadExisting()
	require.NoError(t, err)
	require.True(t, ok)
	got := make([]byte, 256)
	for pos := int64(0); pos < capacity; pos += 256 {
		again.GetBytes(pos, got, 256)
		require.Equal(t, model[pos:pos+256], got)
	}
}
