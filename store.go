package segmap

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/segmap/internal/addr"
	"github.com/hupe1980/segmap/internal/engine"
	"github.com/hupe1980/segmap/internal/fs"
	"github.com/hupe1980/segmap/internal/header"
	"github.com/hupe1980/segmap/internal/segment"
)

const (
	// HeaderOffset is the file offset of the first segment.
	HeaderOffset = header.Size

	// HeaderFields is the number of caller-controlled header slots.
	HeaderFields = header.Fields

	// minCreateBytes is the smallest capacity Create maps.
	minCreateBytes = 40
)

// Store is a flat, randomly addressable byte space backed by a single file
// and exposed through fixed-size memory-mapped segments.
//
// Store is not safe for concurrent use.
type Store struct {
	name     string
	location string
	path     string
	opts     options
	logger   *Logger

	segSize int
	tr      addr.Translator

	file   fs.File
	table  *segment.Table
	mapper *engine.Mapper
	fields [HeaderFields]int32
	closed bool
}

// New returns a Store for the file name inside location. No file is
// touched until Create or LoadExisting is called.
func New(location, name string, optFns ...Option) *Store {
	o := applyOptions(optFns)

	s := &Store{
		name:     name,
		location: location,
		path:     o.pathResolver(location, name),
		opts:     o,
	}
	s.logger = o.logger.WithStore(name, s.path)
	s.setSegmentSize(o.segmentSize)
	return s
}

// SetSegmentSize changes the segment size before any segment exists.
// The size is rounded down to a power of two within
// [MinSegmentSize, MaxSegmentSize].
func (s *Store) SetSegmentSize(size int) error {
	if s.closed {
		return ErrClosed
	}
	if s.table.Len() > 0 {
		return ErrAlreadyCreated
	}
	s.setSegmentSize(size)
	return nil
}

func (s *Store) setSegmentSize(size int) {
	size, power := addr.Normalize(size, MinSegmentSize, MaxSegmentSize)
	s.segSize = size
	s.tr = addr.New(power)
	s.table = segment.NewTable(size)
	s.mapper = nil
}

// Create maps at least initialBytes (and never less than 40 bytes) of a new
// or existing backing file.
func (s *Store) Create(initialBytes int64) error {
	if s.closed {
		return ErrClosed
	}
	if s.table.Len() > 0 {
		return ErrAlreadyCreated
	}
	if initialBytes < minCreateBytes {
		initialBytes = minCreateBytes
	}
	if err := s.open(); err != nil {
		return opError("create", s.path, err)
	}
	if _, err := s.ensureCapacity(initialBytes); err != nil {
		return opError("create", s.path, err)
	}
	s.logger.Debug("store created",
		"segments", s.table.Len(),
		"segment_size", s.segSize,
	)
	return nil
}

// LoadExisting maps the content of an existing store file. It returns false
// without error when there is nothing usable to load: the file is missing,
// empty, or carries no valid header.
func (s *Store) LoadExisting() (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	if s.table.Len() > 0 {
		return false, ErrAlreadyInitialized
	}

	start := time.Now()
	loaded, err := s.load()
	err = opError("load", s.path, err)

	s.opts.metricsCollector.RecordLoad(loaded, time.Since(start), err)
	s.logger.LogLoad(context.Background(), loaded, s.table.Len(), err)
	return loaded, err
}

func (s *Store) load() (bool, error) {
	st, err := s.opts.fsys.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if st.Size() == 0 {
		return false, nil
	}

	if err := s.open(); err != nil {
		return false, err
	}

	h, err := header.Read(s.file, st.Size())
	if err != nil {
		if errors.Is(err, header.ErrNoHeader) ||
			errors.Is(err, header.ErrBadMagic) ||
			errors.Is(err, header.ErrUnsupportedVersion) {
			s.logger.Debug("no usable header", "error", err)
			return false, nil
		}
		return false, err
	}
	if h.Length < HeaderOffset {
		s.logger.Debug("invalid persisted length", "length", h.Length)
		return false, nil
	}
	if h.SegmentSize < MinSegmentSize || h.SegmentSize > MaxSegmentSize || !addr.IsPow2(int64(h.SegmentSize)) {
		s.logger.Debug("invalid persisted segment size", "segment_size", h.SegmentSize)
		return false, nil
	}
	if h.BigEndian != (s.opts.byteOrder == binary.BigEndian) {
		s.logger.Warn("byte order differs from the one the file was written with",
			"file_big_endian", h.BigEndian,
		)
	}

	if int(h.SegmentSize) != s.segSize {
		s.setSegmentSize(int(h.SegmentSize))
		s.newMapper()
	}
	s.fields = h.Fields

	if _, err := s.ensureCapacity(h.Length - HeaderOffset); err != nil {
		return false, err
	}
	return true, nil
}

// open opens the backing file once and builds the mapper for it.
func (s *Store) open() error {
	if s.file != nil {
		if s.mapper == nil {
			s.newMapper()
		}
		return nil
	}

	flag := os.O_RDONLY
	if !s.opts.readOnly {
		flag = os.O_RDWR | os.O_CREATE
		if err := s.opts.fsys.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return err
		}
	}
	f, err := s.opts.fsys.OpenFile(s.path, flag, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	s.newMapper()
	return nil
}

func (s *Store) newMapper() {
	optFns := []engine.Option{
		engine.WithCleanRemap(s.opts.growth.cleanRemap()),
		engine.WithRetryDelay(s.opts.retryDelay),
		engine.WithResourceController(s.opts.resourceController),
		engine.WithLogger(s.logger.Logger),
	}
	if s.opts.mapFn != nil {
		optFns = append(optFns, engine.WithMapFunc(s.opts.mapFn))
	}
	s.mapper = engine.New(s.file, s.table, !s.opts.readOnly, optFns...)
}

// EnsureCapacity maps enough segments to address bytes logical bytes.
// It reports whether new segments were mapped.
func (s *Store) EnsureCapacity(bytes int64) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	if s.mapper == nil {
		return false, ErrNotCreated
	}
	grown, err := s.ensureCapacity(bytes)
	return grown, opError("grow", s.path, err)
}

func (s *Store) ensureCapacity(bytes int64) (bool, error) {
	start := time.Now()
	before := s.table.Len()

	grown, err := s.mapper.EnsureCapacity(bytes)
	if grown || err != nil {
		s.opts.metricsCollector.RecordGrow(s.table.Len()-before, time.Since(start), err)
	}
	if err != nil {
		logger := s.logger
		var me *MapError
		if errors.As(err, &me) {
			logger = logger.WithSegment(me.Segment)
		}
		logger.Error("capacity growth failed", "target", bytes, "error", err)
	}
	return grown, err
}

// Flush writes dirty segments back to the file, persists the header and
// syncs the file. It is a no-op for read-only stores.
func (s *Store) Flush() error {
	return s.FlushContext(context.Background())
}

// FlushContext is Flush with a context bounding the parallel segment sync.
func (s *Store) FlushContext(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.opts.readOnly || s.file == nil {
		return nil
	}

	start := time.Now()
	dirty := s.table.DirtyCount()

	err := s.flush(ctx)
	err = opError("flush", s.path, err)

	s.opts.metricsCollector.RecordFlush(dirty, time.Since(start), err)
	s.logger.LogFlush(ctx, dirty, err)
	return err
}

func (s *Store) flush(ctx context.Context) error {
	if err := s.table.FlushDirty(ctx, s.opts.resourceController); err != nil {
		return err
	}
	st, err := s.file.Stat()
	if err != nil {
		return err
	}
	h := header.Header{
		Length:      st.Size(),
		SegmentSize: int32(s.segSize),
		BigEndian:   s.opts.byteOrder == binary.BigEndian,
		Fields:      s.fields,
	}
	if err := header.Write(s.file, &h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return s.file.Sync()
}

// TrimTo releases segments so that capacity rounds up to whole segments,
// never below one segment, and shrinks the file where the platform allows.
func (s *Store) TrimTo(capacity int64) error {
	if s.closed {
		return ErrClosed
	}
	if s.mapper == nil {
		return nil
	}

	start := time.Now()
	before := s.table.Len()

	err := opError("trim", s.path, s.mapper.TrimTo(capacity))
	released := before - s.table.Len()

	if released > 0 || err != nil {
		s.opts.metricsCollector.RecordTrim(released, time.Since(start), err)
		s.logger.Debug("store trimmed",
			"released", released,
			"segments", s.table.Len(),
		)
	}
	return err
}

// Rename moves the backing file to newName in the same location and reopens
// it. Unflushed changes are lost, so call Flush first. When the rename
// check rejects the new name, Rename does nothing. When the file system
// rename fails, the store is reopened under its current name.
func (s *Store) Rename(newName string) error {
	if s.closed {
		return ErrClosed
	}

	to := s.opts.pathResolver(s.location, newName)
	if newName == "" || !s.opts.renameCheck(s.path, to) {
		s.logger.Debug("rename skipped", "to", to)
		return nil
	}

	if err := s.Close(); err != nil {
		return err
	}
	if err := s.opts.fsys.Rename(s.path, to); err != nil {
		err = opError("rename", s.path, err)
		s.closed = false
		if _, loadErr := s.LoadExisting(); loadErr != nil {
			err = errors.Join(err, loadErr)
		}
		return err
	}
	if err := engine.SyncDir(s.opts.fsys, filepath.Dir(to)); err != nil {
		s.logger.Debug("directory sync after rename failed", "error", err)
	}

	s.logger.Debug("store renamed", "to", to)
	s.name = newName
	s.path = to
	s.logger = s.opts.logger.WithStore(newName, to)
	s.closed = false

	_, err := s.LoadExisting()
	return err
}

// Capacity returns the number of addressable bytes.
func (s *Store) Capacity() int64 { return s.table.Capacity() }

// SegmentCount returns the number of mapped segments.
func (s *Store) SegmentCount() int { return s.table.Len() }

// SegmentSize returns the segment size in bytes.
func (s *Store) SegmentSize() int { return s.segSize }

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// IsClosed reports whether Close has been called.
func (s *Store) IsClosed() bool { return s.closed }

// ByteOrder returns the byte order of the fixed-width accessors.
func (s *Store) ByteOrder() binary.ByteOrder { return s.opts.byteOrder }

// ReadOnly reports whether the store was opened read-only.
func (s *Store) ReadOnly() bool { return s.opts.readOnly }

// Growth returns the configured growth mode.
func (s *Store) Growth() GrowthMode { return s.opts.growth }
