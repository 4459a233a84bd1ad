// Package addr translates logical byte positions into segment coordinates.
//
// Segment sizes are powers of two, so translation is a shift and a mask.
package addr

import "math/bits"

// Translator maps logical positions for one segment size. The zero value is
// not usable; construct with New.
type Translator struct {
	power uint
	size  int64
	mask  int64
}

// New returns a Translator for segments of 1<<power bytes.
func New(power uint) Translator {
	size := int64(1) << power
	return Translator{power: power, size: size, mask: size - 1}
}

// Size returns the segment size in bytes.
func (t Translator) Size() int64 { return t.size }

// Resolve returns the segment index and intra-segment offset of pos.
func (t Translator) Resolve(pos int64) (segment, offset int) {
	return int(pos >> t.power), int(pos & t.mask)
}

// Split resolves an access of length bytes at pos. head bytes live in
// segment starting at offset; the remaining tail bytes live at the start of
// segment+1. head+tail == length. length must not exceed the segment size.
func (t Translator) Split(pos int64, length int) (segment, offset, head, tail int) {
	segment, offset = t.Resolve(pos)
	head = length
	if room := int(t.size) - offset; head > room {
		head = room
	}
	return segment, offset, head, length - head
}

// SegmentsFor returns how many segments are needed to hold n bytes.
func (t Translator) SegmentsFor(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + t.mask) >> t.power
}

// Normalize rounds size down to a power of two within [minSize, maxSize].
// Both bounds must be powers of two. It returns the size and its exponent.
func Normalize(size, minSize, maxSize int) (int, uint) {
	if size < minSize {
		size = minSize
	}
	if size > maxSize {
		size = maxSize
	}
	power := uint(bits.Len(uint(size)) - 1)
	return 1 << power, power
}

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n int64) bool {
	return n > 0 && n&(n-1) == 0
}
