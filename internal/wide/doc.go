// Package wide provides SIMD-friendly wide types for batched stencil sums.
//
// F32x8 holds eight float32 lanes in a fixed-size array. Operations are
// simple loops over the array so the Go compiler can vectorize them on
// supported architectures (SSE, AVX, NEON) without assembly or unsafe.
//
// # Lane layout
//
// The wide stencil kernel assigns one output point to each lane and walks
// the stencil entries of all eight points in lockstep. Lanes whose stencil is
// shorter than the longest one in the group receive a zero weight, so the
// masked lanes contribute nothing to the sum:
//
//	lane:    0    1    2   ...  7
//	point:   i    i+1  i+2 ...  i+7
//	weight:  w0k  w1k  w2k ...  w7k   (0 past each stencil's size)
//	value:   s0k  s1k  s2k ...  s7k   (gathered from the source view)
//	acc  +=  weight * value
package wide
