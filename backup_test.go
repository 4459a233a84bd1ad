package segmap

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmap/blobstore"
	"github.com/hupe1980/segmap/resource"
	"github.com/hupe1980/segmap/testutil"
)

func fillStore(t *testing.T, s *Store) {
	t.Helper()
	rng := testutil.NewRNG(7)
	buf := make([]byte, 64)
	for pos := int64(0); pos < s.Capacity(); pos += 512 {
		rng.FillBytes(buf)
		s.SetBytes(pos, buf, len(buf))
	}
	s.SetInt(4, 42)
	s.SetHeader(0, 7)
	s.SetHeader(HeaderFields-1, -3)
}

func assertSameContent(t *testing.T, want, got *Store) {
	t.Helper()
	require.Equal(t, want.Capacity(), got.Capacity())
	require.Equal(t, want.SegmentSize(), got.SegmentSize())
	for i := 0; i < want.SegmentCount(); i++ {
		require.Equal(t, want.table.View(i), got.table.View(i), "segment %d", i)
	}
	for i := 0; i < HeaderFields; i++ {
		assert.Equal(t, want.GetHeader(i), got.GetHeader(i))
	}
}

func TestBackup_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := newStore(t, dir, "graph", WithSegmentSize(1024))
			require.NoError(t, src.Create(5000))
			fillStore(t, src)

			bs := blobstore.NewMemoryStore()
			info, err := src.Backup(ctx, bs, "graph-1", WithCompression(c), WithBlockSize(700))
			require.NoError(t, err)
			assert.Equal(t, "graph-1", info.Name)
			assert.Equal(t, int64(5120), info.Capacity)
			assert.Equal(t, 1024, info.SegmentSize)
			assert.Equal(t, c, info.Compression)
			assert.False(t, info.Committed)
			assert.Positive(t, info.Bytes)

			// Backup flushes first.
			assert.Zero(t, src.table.DirtyCount())

			dst, err := Restore(ctx, bs, "graph-1", dir, "restored")
			require.NoError(t, err)
			t.Cleanup(func() { _ = dst.Close() })

			assertSameContent(t, src, dst)
			assert.Equal(t, int32(42), dst.GetInt(4))

			// The restored file is flushed and loads on its own.
			require.NoError(t, dst.Close())
			again := newStore(t, dir, "restored")
			ok, err := again.LoadExisting()
			require.NoError(t, err)
			require.True(t, ok)
			assertSameContent(t, src, again)
		})
	}
}

func TestBackup_LocalStoreAndCommit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bs := blobstore.NewLocalStore(filepath.Join(dir, "backups"))

	src := newStore(t, dir, "graph", WithSegmentSize(256), WithByteOrder(binary.BigEndian))
	require.NoError(t, src.Create(1000))
	fillStore(t, src)

	info, err := src.Backup(ctx, bs, "graph-1", WithCommit())
	require.NoError(t, err)
	assert.True(t, info.Committed)
	assert.Equal(t, CompressionZSTD, info.Compression)

	src.SetInt(8, 99)
	_, err = src.Backup(ctx, bs, "graph-2", WithCommit(), WithCompression(CompressionLZ4))
	require.NoError(t, err)

	current, err := blobstore.ReadAll(ctx, bs, blobstore.CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "graph-2", string(current))

	dst, err := RestoreLatest(ctx, bs, dir, "latest")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })

	assert.Equal(t, binary.BigEndian, dst.ByteOrder())
	assert.Equal(t, 256, dst.SegmentSize())
	assert.Equal(t, int32(99), dst.GetInt(8))
	assertSameContent(t, src, dst)

	names, err := bs.List(ctx, "graph-")
	require.NoError(t, err)
	assert.Equal(t, []string{"graph-1", "graph-2"}, names)
}

func TestBackup_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bs := blobstore.NewMemoryStore()

	s := New(dir, "graph", WithSegmentSize(128))
	_, err := s.Backup(ctx, bs, "b")
	assert.ErrorIs(t, err, ErrNotCreated)

	require.NoError(t, s.Create(128))
	_, err = s.Backup(ctx, bs, "b", WithCompression(Compression(9)))
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Backup(cancelled, bs, "b")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = bs.Open(ctx, "b")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, s.Close())
	_, err = s.Backup(ctx, bs, "b")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRestore_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bs := blobstore.NewMemoryStore()

	src := newStore(t, dir, "graph", WithSegmentSize(128))
	require.NoError(t, src.Create(512))
	fillStore(t, src)
	_, err := src.Backup(ctx, bs, "good")
	require.NoError(t, err)

	t.Run("missing blob", func(t *testing.T) {
		_, err := Restore(ctx, bs, "nope", dir, "r1")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("missing current", func(t *testing.T) {
		_, err := RestoreLatest(ctx, blobstore.NewMemoryStore(), dir, "r2")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("target exists", func(t *testing.T) {
		_, err := Restore(ctx, bs, "good", dir, "graph")
		assert.ErrorIs(t, err, ErrAlreadyCreated)
	})

	t.Run("read only", func(t *testing.T) {
		_, err := Restore(ctx, bs, "good", dir, "r3", WithReadOnly())
		assert.ErrorIs(t, err, ErrReadOnly)
	})

	t.Run("bad magic", func(t *testing.T) {
		require.NoError(t, bs.Put(ctx, "junk", make([]byte, backupHeaderSize+10)))
		_, err := Restore(ctx, bs, "junk", dir, "r4")
		assert.ErrorIs(t, err, ErrCorruptBackup)
	})

	t.Run("truncated", func(t *testing.T) {
		good, err := blobstore.ReadAll(ctx, bs, "good")
		require.NoError(t, err)
		require.NoError(t, bs.Put(ctx, "cut", good[:len(good)-5]))

		_, err = Restore(ctx, bs, "cut", dir, "r5")
		assert.ErrorIs(t, err, ErrCorruptBackup)

		// A failed restore leaves no file behind.
		_, statErr := os.Stat(filepath.Join(dir, "r5"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("corrupt tail", func(t *testing.T) {
		good, err := blobstore.ReadAll(ctx, bs, "good")
		require.NoError(t, err)
		tail := append(append([]byte{}, good...), 0xff, 0xff, 0xff)
		require.NoError(t, bs.Put(ctx, "tail", tail))

		_, err = Restore(ctx, bs, "tail", dir, "r7")
		assert.ErrorIs(t, err, ErrCorruptBackup)
		_, statErr := os.Stat(filepath.Join(dir, "r7"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("short header", func(t *testing.T) {
		require.NoError(t, bs.Put(ctx, "tiny", []byte(backupMagic)))
		_, err := Restore(ctx, bs, "tiny", dir, "r6")
		assert.ErrorIs(t, err, ErrCorruptBackup)
	})
}

func TestBackup_Metrics(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bs := blobstore.NewMemoryStore()
	mc := &BasicMetricsCollector{}
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 30})

	src := newStore(t, dir, "graph",
		WithSegmentSize(128),
		WithMetricsCollector(mc),
		WithResourceController(rc),
	)
	require.NoError(t, src.Create(256))
	info, err := src.Backup(ctx, bs, "m")
	require.NoError(t, err)

	dst, err := Restore(ctx, bs, "m", dir, "restored", WithMetricsCollector(mc), WithResourceController(rc))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.BackupCount)
	assert.Equal(t, info.Bytes, stats.BackupBytes)
	assert.Equal(t, int64(1), stats.RestoreCount)
	assert.Zero(t, stats.RestoreErrors)

	_, err = Restore(ctx, bs, "missing", dir, "other", WithMetricsCollector(mc))
	require.Error(t, err)
	assert.Equal(t, int64(1), mc.GetStats().RestoreErrors)
}
