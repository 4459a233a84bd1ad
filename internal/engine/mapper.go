package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"time"

	"github.com/hupe1980/segmap/internal/addr"
	"github.com/hupe1980/segmap/internal/fs"
	"github.com/hupe1980/segmap/internal/header"
	"github.com/hupe1980/segmap/internal/mmap"
	"github.com/hupe1980/segmap/internal/segment"
	"github.com/hupe1980/segmap/resource"
)

// DefaultRetryDelay is the pause before the single retry of a failed map.
const DefaultRetryDelay = 5 * time.Millisecond

// maxSegments bounds segment indices to what the dirty bitmap can address.
const maxSegments = math.MaxUint32

// MapFunc maps size bytes of the file behind fd at offset.
type MapFunc func(fd uintptr, offset int64, size int, writable bool) (*mmap.Mapping, error)

// Mapper grows and shrinks the segment table of one open file.
// It is not safe for concurrent use.
type Mapper struct {
	file     fs.File
	table    *segment.Table
	tr       addr.Translator
	writable bool

	cleanRemap bool
	retryDelay time.Duration
	mapFn      MapFunc
	rc         *resource.Controller
	logger     *slog.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithCleanRemap selects clean-remap growth instead of incremental growth.
func WithCleanRemap(clean bool) Option {
	return func(m *Mapper) {
		m.cleanRemap = clean
	}
}

// WithRetryDelay sets the pause before retrying a failed map.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Mapper) {
		if d >= 0 {
			m.retryDelay = d
		}
	}
}

// WithMapFunc replaces the OS mapping call. Used by tests to inject failures.
func WithMapFunc(fn MapFunc) Option {
	return func(m *Mapper) {
		if fn != nil {
			m.mapFn = fn
		}
	}
}

// WithResourceController accounts mapped bytes against rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(m *Mapper) {
		m.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Mapper for file whose segments are tracked in table.
// The table's segment size must be a power of two.
func New(file fs.File, table *segment.Table, writable bool, optFns ...Option) *Mapper {
	size := table.SegmentSize()
	if !addr.IsPow2(int64(size)) {
		panic(fmt.Sprintf("engine: segment size %d is not a power of two", size))
	}

	m := &Mapper{
		file:       file,
		table:      table,
		tr:         addr.New(uint(bits.TrailingZeros(uint(size)))),
		writable:   writable,
		cleanRemap: DefaultCleanRemap,
		retryDelay: DefaultRetryDelay,
		mapFn:      mmap.Map,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(m)
	}
	return m
}

// Table returns the segment table.
func (m *Mapper) Table() *segment.Table { return m.table }

// CleanRemap reports whether growth remaps every segment.
func (m *Mapper) CleanRemap() bool { return m.cleanRemap }

// EnsureCapacity maps enough segments to cover target logical bytes.
// It returns true when new segments were mapped and false when the current
// capacity already suffices. On error the table is left at its previous
// capacity.
func (m *Mapper) EnsureCapacity(target int64) (bool, error) {
	if target < 0 {
		return false, fmt.Errorf("%w: %d", ErrNegativeCapacity, target)
	}
	if target <= m.table.Capacity() {
		return false, nil
	}

	needed := m.tr.SegmentsFor(target)
	if needed == 0 {
		return false, ErrNoSegments
	}
	if needed > maxSegments {
		return false, fmt.Errorf("%w: %d segments of %d bytes", ErrTooManySegments, needed, m.tr.Size())
	}

	prev := m.table.Len()
	first := prev
	if m.cleanRemap {
		if err := m.releaseFrom(0); err != nil {
			return false, err
		}
		first = 0
	}

	st, err := m.file.Stat()
	if err != nil {
		return false, m.rollback(first, prev, -1, err)
	}
	fileSize := st.Size()

	err = m.ensureFileLength(fileSize, header.Size+needed*m.tr.Size())
	if err == nil {
		err = m.mapRange(first, int(needed))
	}
	if err != nil {
		return false, m.rollback(first, prev, fileSize, err)
	}

	m.logger.Debug("segments mapped",
		"from", first,
		"to", needed,
		"capacity", m.table.Capacity(),
		"clean_remap", m.cleanRemap,
	)
	return true, nil
}

// TrimTo unmaps trailing segments so that exactly
// ceil(max(capacity, segmentSize) / segmentSize) remain, then shrinks the
// file to match. Requests at or above the current capacity are no-ops.
func (m *Mapper) TrimTo(capacity int64) error {
	size := m.tr.Size()
	if capacity < size {
		capacity = size
	}
	remaining := int(m.tr.SegmentsFor(capacity))
	if remaining >= m.table.Len() {
		return nil
	}

	if err := m.releaseFrom(remaining); err != nil {
		return err
	}
	if !m.writable {
		return nil
	}
	if !canResizeOpenFile {
		m.logger.Debug("file length kept, open file cannot shrink", "segments", remaining)
		return nil
	}
	return m.file.Truncate(header.Size + int64(remaining)*size)
}

// ReleaseAll unmaps every segment.
func (m *Mapper) ReleaseAll() error {
	return m.releaseFrom(0)
}

func (m *Mapper) mapRange(first, needed int) error {
	for i := first; i < needed; i++ {
		seg, err := m.mapSegment(i, needed)
		if err != nil {
			return err
		}
		m.table.Append(seg)
	}
	return nil
}

// mapSegment maps segment i, retrying once after retryDelay.
func (m *Mapper) mapSegment(i, total int) (*mmap.Mapping, error) {
	size := int(m.tr.Size())
	offset := header.Size + int64(i)*int64(size)
	mapErr := func(err error) error {
		return &MapError{
			Segment:  i,
			Segments: total,
			Offset:   offset,
			Size:     size,
			Path:     m.file.Name(),
			Err:      err,
		}
	}

	if err := m.rc.AcquireMapped(int64(size)); err != nil {
		return nil, mapErr(err)
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var seg *mmap.Mapping
		if seg, err = m.mapFn(m.file.Fd(), offset, size, m.writable); err == nil {
			return seg, nil
		}
		if attempt == 0 {
			m.logger.Warn("segment map failed, retrying",
				"segment", i,
				"offset", offset,
				"delay", m.retryDelay,
				"error", err,
			)
			time.Sleep(m.retryDelay)
		}
	}

	m.rc.ReleaseMapped(int64(size))
	return nil, mapErr(fmt.Errorf("%w: %w", ErrMapFailed, err))
}

// rollback releases what a failed growth mapped, shrinks the file back to
// fileSize and restores prev segments. In incremental mode the first
// segments were never touched. In clean-remap mode they were released up
// front and have to be mapped again. A negative fileSize leaves the file
// length alone.
func (m *Mapper) rollback(first, prev int, fileSize int64, cause error) error {
	errs := []error{cause}
	if err := m.releaseFrom(first); err != nil {
		errs = append(errs, err)
	}
	if err := m.restoreFileLength(fileSize); err != nil {
		errs = append(errs, err)
	}
	if m.table.Len() < prev {
		if err := m.mapRange(m.table.Len(), prev); err != nil {
			m.logger.Error("restoring segments after failed growth", "segments", prev, "error", err)
			errs = append(errs, err)
			_ = m.releaseFrom(0)
		}
	}
	return errors.Join(errs...)
}

func (m *Mapper) releaseFrom(n int) error {
	released, err := m.table.TruncateTo(n)
	m.rc.ReleaseMapped(int64(released) * m.tr.Size())
	return err
}

// ensureFileLength grows a file of size bytes to at least n bytes. Mapping
// past the end of a file does not extend it, so the file is sized first.
func (m *Mapper) ensureFileLength(size, n int64) error {
	if size >= n {
		return nil
	}
	if !m.writable {
		return fmt.Errorf("%w: %s is %d bytes, need %d", ErrShortFile, m.file.Name(), size, n)
	}
	return m.file.Truncate(n)
}

// restoreFileLength truncates the file back to size after a failed growth,
// so the length persisted by the next flush matches the mapped segments.
func (m *Mapper) restoreFileLength(size int64) error {
	if size < 0 || !m.writable {
		return nil
	}
	if !canResizeOpenFile {
		m.logger.Debug("file length kept after failed growth, open file cannot shrink", "size", size)
		return nil
	}
	st, err := m.file.Stat()
	if err != nil {
		return err
	}
	if st.Size() <= size {
		return nil
	}
	return m.file.Truncate(size)
}
