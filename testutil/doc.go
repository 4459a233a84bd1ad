// Package testutil provides deterministic random data for tests, examples
// and benchmarks.
//
//	rng := testutil.NewRNG(seed)
//	buf := rng.Bytes(64)                                  // random payload
//	offs := rng.AlignedOffsets(100, capacity, 4, 4)       // int32 positions
//	seg := rng.Zipf(segments, 1.2)                        // skewed hot segment
package testutil
