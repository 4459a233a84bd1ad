// Package mmap provides memory-mapped views over byte ranges of a file.
//
// # Overview
//
// A [Mapping] owns exactly one OS mapping. It is created with [Map] for an
// arbitrary (not necessarily page-aligned) file range, or with [Open] for a
// read-only view of a whole file. The mapping is released exactly once by
// [Mapping.Close]; later calls are no-ops.
//
// # Usage
//
//	m, err := mmap.Map(f.Fd(), offset, size, true)
//	if err != nil { ... }
//	defer m.Close()
//
//	buf := m.Bytes()      // exactly size bytes starting at offset
//	buf[0] = 1
//	_ = m.Flush()         // msync / FlushViewOfFile
//
// # Alignment
//
// The OS requires mapping offsets aligned to the page size (unix) or the
// allocation granularity (windows). Map aligns the offset down, maps the
// extra prefix, and exposes only the requested window.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), msync(2), madvise(2)
//   - Windows: CreateFileMapping/MapViewOfFile/FlushViewOfFile (advise is a no-op)
//
// # Thread Safety
//
// Close is idempotent and protected by an atomic flag. Callers must not use
// the slice returned by Bytes after Close returns.
package mmap
