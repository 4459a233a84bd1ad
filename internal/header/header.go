// Package header encodes the fixed metadata block at the start of a store file.
//
// Layout (big-endian, Size bytes):
//
//	┌───────┬─────────┬───────┬──────────┬──────────┬──────────────┬────────────────────┐
//	│ magic │ version │ order │ reserved │ length   │ segment size │ Fields × int32     │
//	│ 4B    │ 2B      │ 1B    │ 1B       │ int64    │ int32        │ 80B                │
//	└───────┴─────────┴───────┴──────────┴──────────┴──────────────┴────────────────────┘
//
// The logical address space starts right after the block, at file offset Size.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Size is the length of the header block and the file offset of segment 0.
	Size = 100
	// Fields is the number of caller-controlled int32 slots.
	Fields = 20
	// Version is the current layout version.
	Version = 1

	fieldsOffset = 20
)

var magic = [4]byte{'S', 'G', 'M', 'P'}

var (
	// ErrNoHeader is returned when the file is empty or shorter than the header.
	ErrNoHeader = errors.New("header: missing")
	// ErrBadMagic is returned when the file does not start with the store marker.
	ErrBadMagic = errors.New("header: bad magic")
	// ErrUnsupportedVersion is returned for layouts newer than Version.
	ErrUnsupportedVersion = errors.New("header: unsupported version")
)

// Header is the persisted store metadata.
type Header struct {
	// Length is the backing file length at the last flush, header included.
	Length int64
	// SegmentSize is the segment size in bytes at the last flush.
	SegmentSize int32
	// BigEndian records the data byte order. It is informational only.
	BigEndian bool
	// Fields are opaque slots owned by the caller.
	Fields [Fields]int32
}

// Encode writes h into a new Size-byte block.
func Encode(h *Header) []byte {
	b := make([]byte, Size)
	copy(b[0:4], magic[:])
	binary.BigEndian.PutUint16(b[4:], Version)
	if h.BigEndian {
		b[6] = 1
	}
	binary.BigEndian.PutUint64(b[8:], uint64(h.Length))
	binary.BigEndian.PutUint32(b[16:], uint32(h.SegmentSize))
	for i, v := range h.Fields {
		binary.BigEndian.PutUint32(b[fieldsOffset+4*i:], uint32(v))
	}
	return b
}

// Decode parses a header block.
func Decode(b []byte) (Header, error) {
	var h Header
	if len(b) < Size {
		return h, ErrNoHeader
	}
	if [4]byte(b[0:4]) != magic {
		return h, ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(b[4:]); v > Version {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	h.BigEndian = b[6] == 1
	h.Length = int64(binary.BigEndian.Uint64(b[8:]))
	h.SegmentSize = int32(binary.BigEndian.Uint32(b[16:]))
	for i := range h.Fields {
		h.Fields[i] = int32(binary.BigEndian.Uint32(b[fieldsOffset+4*i:]))
	}
	return h, nil
}

// Write stores h at offset 0 of w.
func Write(w io.WriterAt, h *Header) error {
	_, err := w.WriteAt(Encode(h), 0)
	return err
}

// Read loads the header from r, whose total length is size.
// It returns ErrNoHeader when the file cannot hold a header.
func Read(r io.ReaderAt, size int64) (Header, error) {
	if size < Size {
		return Header{}, ErrNoHeader
	}
	b := make([]byte, Size)
	if _, err := r.ReadAt(b, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, ErrNoHeader
		}
		return Header{}, err
	}
	return Decode(b)
}
