package segmap

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/segmap/blobstore"
	"github.com/hupe1980/segmap/internal/compress"
	"github.com/hupe1980/segmap/resource"
)

// Backup blob layout, big-endian:
//
//	[magic "SGBK"][version u16][compression u8][byte order u8]
//	[segment size u32][capacity u64][HeaderFields x i32]
//
// followed by the logical byte space as compressed blocks.
const (
	backupMagic      = "SGBK"
	backupVersion    = 1
	backupHeaderSize = 4 + 2 + 1 + 1 + 4 + 8 + 4*HeaderFields
)

// Compression selects the block codec of a backup.
type Compression = compress.Type

// Supported backup compressions.
const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZSTD = compress.ZSTD
)

// BackupInfo describes a written or restored backup.
type BackupInfo struct {
	Name        string
	Bytes       int64
	Capacity    int64
	SegmentSize int
	Compression Compression
	Committed   bool
	Duration    time.Duration
}

type backupOptions struct {
	compression Compression
	blockSize   int
	commit      bool
}

// BackupOption configures Backup.
type BackupOption func(*backupOptions)

// WithCompression selects the block codec. The default is CompressionZSTD.
func WithCompression(c Compression) BackupOption {
	return func(o *backupOptions) {
		o.compression = c
	}
}

// WithBlockSize sets the uncompressed block size.
func WithBlockSize(n int) BackupOption {
	return func(o *backupOptions) {
		o.blockSize = n
	}
}

// WithCommit points the CURRENT blob at the backup once it is written.
func WithCommit() BackupOption {
	return func(o *backupOptions) {
		o.commit = true
	}
}

// Backup flushes the store and streams its content and header slots to the
// blob name in bs. The blob is only published when the whole stream was
// written.
func (s *Store) Backup(ctx context.Context, bs blobstore.BlobStore, name string, optFns ...BackupOption) (BackupInfo, error) {
	if s.closed {
		return BackupInfo{}, ErrClosed
	}
	if s.mapper == nil {
		return BackupInfo{}, ErrNotCreated
	}

	o := backupOptions{compression: CompressionZSTD, blockSize: compress.DefaultBlockSize}
	for _, fn := range optFns {
		fn(&o)
	}
	if !o.compression.Valid() {
		return BackupInfo{}, fmt.Errorf("%w: %d", compress.ErrUnknownType, o.compression)
	}

	start := time.Now()
	info := BackupInfo{
		Name:        name,
		Capacity:    s.Capacity(),
		SegmentSize: s.segSize,
		Compression: o.compression,
	}

	err := s.FlushContext(ctx)
	if err == nil {
		info.Bytes, err = s.writeBackup(ctx, bs, name, o)
	}
	if err == nil && o.commit {
		err = bs.Put(ctx, blobstore.CurrentName, []byte(name))
		info.Committed = err == nil
	}
	err = opError("backup", s.path, err)
	info.Duration = time.Since(start)

	s.opts.metricsCollector.RecordBackup(info.Bytes, info.Duration, err)
	s.logger.LogBackup(ctx, "backup", name, info.Bytes, err)
	return info, err
}

func (s *Store) writeBackup(ctx context.Context, bs blobstore.BlobStore, name string, o backupOptions) (int64, error) {
	wb, err := bs.Create(ctx, name)
	if err != nil {
		return 0, err
	}

	n, err := s.encodeBackup(ctx, resource.NewRateLimitedWriter(ctx, wb, s.opts.resourceController), o)
	if err != nil {
		return 0, errors.Join(err, blobstore.Abort(wb))
	}
	if err := wb.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) encodeBackup(ctx context.Context, w io.Writer, o backupOptions) (int64, error) {
	var hdr [backupHeaderSize]byte
	copy(hdr[0:4], backupMagic)
	binary.BigEndian.PutUint16(hdr[4:], backupVersion)
	hdr[6] = byte(o.compression)
	if s.opts.byteOrder == binary.BigEndian {
		hdr[7] = 1
	}
	binary.BigEndian.PutUint32(hdr[8:], uint32(s.segSize))
	binary.BigEndian.PutUint64(hdr[12:], uint64(s.Capacity()))
	for i, v := range s.fields {
		binary.BigEndian.PutUint32(hdr[20+4*i:], uint32(v))
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}

	cw, err := compress.NewWriter(w, o.compression, o.blockSize)
	if err != nil {
		return 0, err
	}
	for i := 0; i < s.table.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := cw.Write(s.table.View(i)); err != nil {
			return 0, err
		}
	}
	if err := cw.Flush(); err != nil {
		return 0, err
	}
	return backupHeaderSize + cw.BytesWritten(), nil
}

type backupHeader struct {
	compression Compression
	bigEndian   bool
	segmentSize int
	capacity    int64
	fields      [HeaderFields]int32
}

func decodeBackupHeader(b []byte) (backupHeader, error) {
	var h backupHeader
	if !bytes.Equal(b[0:4], []byte(backupMagic)) {
		return h, fmt.Errorf("%w: bad magic", ErrCorruptBackup)
	}
	if v := binary.BigEndian.Uint16(b[4:]); v != backupVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrCorruptBackup, v)
	}
	h.compression = Compression(b[6])
	if !h.compression.Valid() {
		return h, fmt.Errorf("%w: unknown compression %d", ErrCorruptBackup, b[6])
	}
	h.bigEndian = b[7] == 1
	h.segmentSize = int(binary.BigEndian.Uint32(b[8:]))
	h.capacity = int64(binary.BigEndian.Uint64(b[12:]))
	if h.segmentSize < MinSegmentSize || h.segmentSize > MaxSegmentSize || h.segmentSize&(h.segmentSize-1) != 0 {
		return h, fmt.Errorf("%w: invalid segment size %d", ErrCorruptBackup, h.segmentSize)
	}
	if h.capacity < 0 || h.capacity%int64(h.segmentSize) != 0 {
		return h, fmt.Errorf("%w: invalid capacity %d", ErrCorruptBackup, h.capacity)
	}
	for i := range h.fields {
		h.fields[i] = int32(binary.BigEndian.Uint32(b[20+4*i:]))
	}
	return h, nil
}

// Restore creates the store name in location from the backup blob name. The
// segment size and byte order are taken from the backup and override the
// corresponding options. The target file must not exist or be empty.
func Restore(ctx context.Context, bs blobstore.BlobStore, name, location, storeName string, optFns ...Option) (*Store, error) {
	start := time.Now()
	o := applyOptions(optFns)
	logger := o.logger.WithStore(storeName, o.pathResolver(location, storeName))

	st, n, err := restore(ctx, bs, name, location, storeName, o, optFns)

	o.metricsCollector.RecordRestore(n, time.Since(start), err)
	logger.LogBackup(ctx, "restore", name, n, err)
	return st, err
}

// RestoreLatest restores the backup CURRENT points to.
func RestoreLatest(ctx context.Context, bs blobstore.BlobStore, location, storeName string, optFns ...Option) (*Store, error) {
	current, err := blobstore.ReadAll(ctx, bs, blobstore.CurrentName)
	if err != nil {
		return nil, fmt.Errorf("segmap: read %s: %w", blobstore.CurrentName, err)
	}
	name := strings.TrimSpace(string(current))
	if name == "" {
		return nil, fmt.Errorf("segmap: %w: empty %s", ErrCorruptBackup, blobstore.CurrentName)
	}
	return Restore(ctx, bs, name, location, storeName, optFns...)
}

func restore(ctx context.Context, bs blobstore.BlobStore, name, location, storeName string, o options, optFns []Option) (*Store, int64, error) {
	path := o.pathResolver(location, storeName)
	if o.readOnly {
		return nil, 0, opError("restore", path, ErrReadOnly)
	}
	if st, err := o.fsys.Stat(path); err == nil && st.Size() > 0 {
		return nil, 0, opError("restore", path, ErrAlreadyCreated)
	} else if err != nil && !os.IsNotExist(err) {
		return nil, 0, opError("restore", path, err)
	}

	blob, err := bs.Open(ctx, name)
	if err != nil {
		return nil, 0, opError("restore", path, err)
	}
	defer func() { _ = blob.Close() }()

	rc, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return nil, 0, opError("restore", path, err)
	}
	defer func() { _ = rc.Close() }()
	r := resource.NewRateLimitedReader(ctx, rc, o.resourceController)

	var raw [backupHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, 0, opError("restore", path, fmt.Errorf("%w: header: %w", ErrCorruptBackup, err))
	}
	h, err := decodeBackupHeader(raw[:])
	if err != nil {
		return nil, 0, opError("restore", path, err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if h.bigEndian {
		order = binary.BigEndian
	}
	s := New(location, storeName, append(optFns, WithSegmentSize(h.segmentSize), WithByteOrder(order))...)

	if err := s.replay(ctx, r, h); err != nil {
		_ = s.Close()
		if rmErr := o.fsys.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = errors.Join(err, rmErr)
		}
		return nil, 0, opError("restore", path, err)
	}
	return s, blob.Size(), nil
}

// replay fills a freshly created store from the block stream.
func (s *Store) replay(ctx context.Context, r io.Reader, h backupHeader) error {
	if err := s.Create(h.capacity); err != nil {
		return err
	}

	cr, err := compress.NewReader(r, h.compression)
	if err != nil {
		return err
	}
	segments := int(h.capacity / int64(h.segmentSize))
	for i := 0; i < segments; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(cr, s.table.View(i)); err != nil {
			return fmt.Errorf("%w: segment %d: %w", ErrCorruptBackup, i, err)
		}
		s.table.MarkDirty(i)
	}
	var extra [1]byte
	n, err := cr.Read(extra[:])
	if n > 0 {
		return fmt.Errorf("%w: trailing data", ErrCorruptBackup)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing block: %w", ErrCorruptBackup, err)
	}

	s.fields = h.fields
	return s.FlushContext(ctx)
}
