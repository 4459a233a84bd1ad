package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNegativeCapacity is returned when a negative capacity is requested.
	ErrNegativeCapacity = errors.New("negative capacity")

	// ErrNoSegments is returned when a growth request would map zero segments.
	ErrNoSegments = errors.New("capacity yields no segments")

	// ErrMapFailed is returned when a segment could not be mapped after retrying.
	ErrMapFailed = errors.New("segment mapping failed")

	// ErrTooManySegments is returned when a capacity needs more segments than
	// can be addressed.
	ErrTooManySegments = errors.New("too many segments")

	// ErrShortFile is returned when a read-only file is too short to back
	// the requested capacity.
	ErrShortFile = errors.New("file too short")
)

// MapError describes a segment that could not be mapped.
type MapError struct {
	Segment  int   // index of the failing segment
	Segments int   // total segments the growth needed
	Offset   int64 // file offset of the segment
	Size     int
	Path     string
	Err      error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("map segment %d/%d of %s at offset %d (%d bytes): %v",
		e.Segment, e.Segments, e.Path, e.Offset, e.Size, e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }
