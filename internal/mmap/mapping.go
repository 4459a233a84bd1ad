package mmap

import (
	"io"
	"os"
	"sync/atomic"
)

// Mapping represents one memory-mapped file range.
// It owns the underlying OS mapping and is responsible for unmapping it.
type Mapping struct {
	// raw is the slice returned by the OS, starting at the aligned offset.
	raw []byte
	// data is the caller-visible window into raw.
	data     []byte
	offset   int64
	writable bool
	closed   atomic.Bool
}

// Map maps size bytes of the file behind fd starting at offset.
// The offset does not need to be page aligned. A writable mapping is shared,
// so stores become visible in the file after Flush (or whenever the kernel
// writes the pages back).
//
// The file must already be at least offset+size bytes long; accessing a
// mapped page beyond the end of the file faults on most platforms.
func Map(fd uintptr, offset int64, size int, writable bool) (*Mapping, error) {
	if offset < 0 {
		return nil, ErrInvalidOffset
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	gran := int64(granularity())
	aligned := offset &^ (gran - 1)
	delta := int(offset - aligned)

	raw, err := osMap(fd, aligned, size+delta, writable)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		raw:      raw,
		data:     raw[delta : delta+size : delta+size],
		offset:   offset,
		writable: writable,
	}, nil
}

// Open maps the whole file at path into memory as read-only.
// An empty file yields an empty mapping.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return &Mapping{}, nil
	}
	if size < 0 || int64(int(size)) != size {
		return nil, ErrInvalidSize
	}

	return Map(f.Fd(), 0, int(size), false)
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	raw := m.raw
	m.raw, m.data = nil, nil
	if raw == nil {
		return nil
	}
	return osUnmap(raw)
}

// Bytes returns the mapped window.
// Warning: The slice is valid only until Close() is called.
// Accessing the slice after Close() results in undefined behavior (likely a crash).
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapped window in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Offset returns the file offset of the first mapped byte.
func (m *Mapping) Offset() int64 {
	return m.offset
}

// Writable reports whether the mapping was created read-write.
func (m *Mapping) Writable() bool {
	return m.writable
}

// Closed reports whether Close has been called.
func (m *Mapping) Closed() bool {
	return m.closed.Load()
}

// Flush synchronously writes modified pages back to the file.
func (m *Mapping) Flush() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.writable {
		return ErrReadOnly
	}
	if m.raw == nil {
		return nil
	}
	return osFlush(m.raw)
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.raw == nil {
		return nil
	}
	return osAdvise(m.raw, pattern)
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (n int, err error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n = copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
