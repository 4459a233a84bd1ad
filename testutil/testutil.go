package testutil

import (
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int31 returns a non-negative pseudo-random int32.
func (r *RNG) Int31() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int31()
}

// FillBytes fills dst with random bytes.
// Locks only once per call (preferred over calling Intn in a loop).
func (r *RNG) FillBytes(dst []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.rand.Read(dst)
}

// Bytes returns n random bytes.
func (r *RNG) Bytes(n int) []byte {
	b := make([]byte, n)
	r.FillBytes(b)
	return b
}

// AlignedOffsets returns n offsets in [0, limit-width] that are multiples
// of align. Fixed-width values written at such offsets never straddle a
// segment boundary as long as align divides the segment size.
func (r *RNG) AlignedOffsets(n int, limit int64, align, width int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := (limit - int64(width)) / int64(align)
	out := make([]int64, n)
	for i := range out {
		out[i] = r.rand.Int63n(slots+1) * int64(align)
	}
	return out
}

// Zipf returns a value in [0, n) following a Zipf distribution with
// exponent s > 1. Small values are the most frequent, which models a hot
// set of segments.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(rand.NewZipf(r.rand, s, 1, uint64(n-1)).Uint64())
}
