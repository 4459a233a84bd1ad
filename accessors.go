package segmap

import (
	"fmt"

	"github.com/hupe1980/segmap/internal/mmap"
)

// Fixed-width accessors resolve a single segment and do not split. A value
// must not start in the last width-1 bytes of a segment; doing so panics
// with a slice bounds error. Variable-length accessors split across a
// segment boundary.

// SetInt writes a 32-bit integer at pos in the store byte order.
func (s *Store) SetInt(pos int64, v int32) {
	s.opts.byteOrder.PutUint32(s.writeView(pos, 4), uint32(v))
}

// GetInt reads the 32-bit integer at pos.
func (s *Store) GetInt(pos int64) int32 {
	return int32(s.opts.byteOrder.Uint32(s.readView(pos, 4)))
}

// SetShort writes a 16-bit integer at pos in the store byte order.
func (s *Store) SetShort(pos int64, v int16) {
	s.opts.byteOrder.PutUint16(s.writeView(pos, 2), uint16(v))
}

// GetShort reads the 16-bit integer at pos.
func (s *Store) GetShort(pos int64) int16 {
	return int16(s.opts.byteOrder.Uint16(s.readView(pos, 2)))
}

// SetBytes writes the first length bytes of values at pos. length must not
// exceed the segment size or len(values).
func (s *Store) SetBytes(pos int64, values []byte, length int) {
	s.checkLength(values, length)
	s.checkWritable()

	seg, off, head, tail := s.tr.Split(pos, length)
	copy(s.table.View(seg)[off:off+head], values[:head])
	s.table.MarkDirty(seg)
	if tail > 0 {
		copy(s.table.View(seg + 1)[:tail], values[head:length])
		s.table.MarkDirty(seg + 1)
	}
}

// GetBytes reads length bytes at pos into values. length must not exceed
// the segment size or len(values).
func (s *Store) GetBytes(pos int64, values []byte, length int) {
	s.checkLength(values, length)

	seg, off, head, tail := s.tr.Split(pos, length)
	copy(values[:head], s.table.View(seg)[off:off+head])
	if tail > 0 {
		copy(values[head:length], s.table.View(seg + 1)[:tail])
	}
}

// SetHeader sets caller header slot index. Slots are persisted on Flush and
// restored by LoadExisting.
func (s *Store) SetHeader(index int, v int32) {
	s.checkWritable()
	s.fields[s.checkField(index)] = v
}

// GetHeader returns caller header slot index.
func (s *Store) GetHeader(index int) int32 {
	return s.fields[s.checkField(index)]
}

// AccessPattern is a paging hint for Advise.
type AccessPattern = mmap.AccessPattern

// Access patterns accepted by Advise.
const (
	AccessDefault    = mmap.AccessDefault
	AccessSequential = mmap.AccessSequential
	AccessRandom     = mmap.AccessRandom
	AccessWillNeed   = mmap.AccessWillNeed
	AccessDontNeed   = mmap.AccessDontNeed
)

// Advise forwards an access pattern hint to every mapped segment.
func (s *Store) Advise(pattern AccessPattern) error {
	if s.closed {
		return ErrClosed
	}
	return opError("advise", s.path, s.table.Advise(pattern))
}

// CopyTo copies the logical content and header slots into dst, creating or
// growing dst as needed. Segment sizes may differ.
func (s *Store) CopyTo(dst *Store) error {
	if s.closed || dst.closed {
		return ErrClosed
	}
	if dst.opts.readOnly {
		return ErrReadOnly
	}

	capacity := s.Capacity()
	if dst.mapper == nil {
		if err := dst.Create(capacity); err != nil {
			return err
		}
	} else if _, err := dst.EnsureCapacity(capacity); err != nil {
		return err
	}

	chunk := min(s.segSize, dst.segSize)
	buf := make([]byte, chunk)
	for pos := int64(0); pos < capacity; pos += int64(chunk) {
		s.GetBytes(pos, buf, chunk)
		dst.SetBytes(pos, buf, chunk)
	}
	dst.fields = s.fields
	return nil
}

func (s *Store) writeView(pos int64, n int) []byte {
	s.checkWritable()
	seg, off := s.tr.Resolve(pos)
	s.table.MarkDirty(seg)
	return s.table.View(seg)[off : off+n]
}

func (s *Store) readView(pos int64, n int) []byte {
	seg, off := s.tr.Resolve(pos)
	return s.table.View(seg)[off : off+n]
}

func (s *Store) checkWritable() {
	if s.opts.readOnly {
		panic(ErrReadOnly)
	}
}

func (s *Store) checkLength(values []byte, length int) {
	if length > s.segSize {
		panic(fmt.Sprintf("segmap: length %d exceeds segment size %d", length, s.segSize))
	}
	if length > len(values) {
		panic(fmt.Sprintf("segmap: length %d exceeds buffer of %d bytes", length, len(values)))
	}
}

func (s *Store) checkField(index int) int {
	if index < 0 || index >= HeaderFields {
		panic(fmt.Sprintf("segmap: header slot %d out of range [0, %d)", index, HeaderFields))
	}
	return index
}
