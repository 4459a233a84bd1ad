// Package segment holds the ordered table of mapped segments backing a store.
//
// Slot i always covers logical bytes [i*size, (i+1)*size). The table only
// grows by appending; shrinking happens through TruncateTo and ReleaseAll,
// which unmap every removed segment exactly once before dropping the slot.
package segment

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segmap/internal/mmap"
	"github.com/hupe1980/segmap/resource"
)

// Table is the ordered collection of mapped segments. It is not safe for
// concurrent use.
type Table struct {
	size     int
	segments []*mmap.Mapping
	// views caches segments[i].Bytes() for the accessor fast path.
	views [][]byte
	dirty *roaring.Bitmap
}

// NewTable creates an empty table for segments of size bytes.
func NewTable(size int) *Table {
	return &Table{
		size:  size,
		dirty: roaring.New(),
	}
}

// SegmentSize returns the size of each segment in bytes.
func (t *Table) SegmentSize() int { return t.size }

// Len returns the number of mapped segments.
func (t *Table) Len() int { return len(t.segments) }

// Capacity returns Len() * SegmentSize().
func (t *Table) Capacity() int64 { return int64(len(t.segments)) * int64(t.size) }

// Append adds m as the next segment. m must be exactly SegmentSize() bytes.
func (t *Table) Append(m *mmap.Mapping) {
	if m.Size() != t.size {
		panic(fmt.Sprintf("segment: mapping of %d bytes in table of %d-byte segments", m.Size(), t.size))
	}
	t.segments = append(t.segments, m)
	t.views = append(t.views, m.Bytes())
}

// Get returns segment i.
func (t *Table) Get(i int) *mmap.Mapping { return t.segments[i] }

// View returns the bytes of segment i.
func (t *Table) View(i int) []byte { return t.views[i] }

// MarkDirty records that segment i was written since the last flush.
func (t *Table) MarkDirty(i int) { t.dirty.Add(uint32(i)) }

// DirtyCount returns the number of segments written since the last flush.
func (t *Table) DirtyCount() int { return int(t.dirty.GetCardinality()) }

// IsDirty reports whether segment i was written since the last flush.
func (t *Table) IsDirty(i int) bool { return t.dirty.Contains(uint32(i)) }

// FlushDirty msyncs every dirty segment, at most rc.FlushWorkers() at a
// time. Segments that flushed successfully are marked clean.
func (t *Table) FlushDirty(ctx context.Context, rc *resource.Controller) error {
	if t.dirty.IsEmpty() {
		return nil
	}

	indices := t.dirty.ToArray()
	flushed := make([]bool, len(indices))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.FlushWorkers())
	for n, idx := range indices {
		m := t.segments[idx]
		g.Go(func() error {
			if err := rc.AcquireWorker(ctx); err != nil {
				return err
			}
			defer rc.ReleaseWorker()
			if err := m.Flush(); err != nil {
				return fmt.Errorf("flush segment %d: %w", idx, err)
			}
			flushed[n] = true
			return nil
		})
	}
	err := g.Wait()

	for n, idx := range indices {
		if flushed[n] {
			t.dirty.Remove(idx)
		}
	}
	return err
}

// Advise forwards an access pattern hint to every segment.
func (t *Table) Advise(pattern mmap.AccessPattern) error {
	var errs []error
	for i, m := range t.segments {
		if err := m.Advise(pattern); err != nil {
			errs = append(errs, fmt.Errorf("advise segment %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// TruncateTo releases every segment at index >= n and returns how many were
// released. Each mapping is unmapped, then its slot is cleared. Unmap
// errors are collected but never leave a slot populated.
func (t *Table) TruncateTo(n int) (int, error) {
	if n < 0 {
		n = 0
	}
	if n >= len(t.segments) {
		return 0, nil
	}

	var errs []error
	for i := len(t.segments) - 1; i >= n; i-- {
		if err := t.segments[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("unmap segment %d: %w", i, err))
		}
		t.segments[i] = nil
		t.views[i] = nil
	}
	released := len(t.segments) - n
	t.segments = t.segments[:n]
	t.views = t.views[:n]
	t.dirty.RemoveRange(uint64(n), uint64(n+released))

	return released, errors.Join(errs...)
}

// ReleaseAll releases every segment and returns how many were released.
func (t *Table) ReleaseAll() (int, error) {
	return t.TruncateTo(0)
}
