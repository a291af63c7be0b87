package stencil

import (
	"errors"
	"fmt"
)

// Table errors.
var (
	// ErrTableMismatch is returned when the per-entry arrays or the flattened
	// index/weight arrays disagree in length.
	ErrTableMismatch = errors.New("stencil: table array lengths do not match")

	// ErrTableOffsets is returned when offsets are not the contiguous prefix
	// sum of sizes.
	ErrTableOffsets = errors.New("stencil: table offsets are not contiguous")

	// ErrNegativeIndex is returned when a stencil references a negative
	// source point.
	ErrNegativeIndex = errors.New("stencil: negative source index")
)

// Table is an immutable stencil table.
//
// Entry i describes output point i as a weighted sum of Sizes()[i] source
// points whose indices and weights start at Offsets()[i] in the flattened
// Indices() and Weights() arrays. Entries are packed back to back:
//
//	offsets[0] = 0
//	offsets[i] = offsets[i-1] + sizes[i-1]
//
// A Table is built once and shared read-only by any number of concurrent
// Apply calls. The accessor slices alias the table's storage and must not be
// modified.
type Table struct {
	sizes   []uint8
	offsets []int32
	indices []int32
	weights []float32

	maxIndex int
}

// NewTable builds a table from per-entry sizes and the flattened indices and
// weights, computing the offsets.
func NewTable(sizes []uint8, indices []int32, weights []float32) (*Table, error) {
	offsets := make([]int32, len(sizes))
	var sum int
	for i, s := range sizes {
		offsets[i] = int32(sum) //nolint:gosec // bounded by len(indices) below
		sum += int(s)
	}
	if sum != len(indices) || len(indices) != len(weights) {
		return nil, fmt.Errorf("%w: sum(sizes)=%d indices=%d weights=%d",
			ErrTableMismatch, sum, len(indices), len(weights))
	}
	return newTable(sizes, offsets, indices, weights)
}

// NewTableWithOffsets builds a table from all four arrays, verifying that
// the offsets describe contiguous packing.
func NewTableWithOffsets(sizes []uint8, offsets, indices []int32, weights []float32) (*Table, error) {
	if len(offsets) != len(sizes) {
		return nil, fmt.Errorf("%w: sizes=%d offsets=%d", ErrTableMismatch, len(sizes), len(offsets))
	}
	var sum int
	for i, s := range sizes {
		if int(offsets[i]) != sum {
			return nil, fmt.Errorf("%w: offsets[%d]=%d, want %d", ErrTableOffsets, i, offsets[i], sum)
		}
		sum += int(s)
	}
	if sum != len(indices) || len(indices) != len(weights) {
		return nil, fmt.Errorf("%w: sum(sizes)=%d indices=%d weights=%d",
			ErrTableMismatch, sum, len(indices), len(weights))
	}
	return newTable(sizes, offsets, indices, weights)
}

func newTable(sizes []uint8, offsets, indices []int32, weights []float32) (*Table, error) {
	maxIndex := -1
	for k, idx := range indices {
		if idx < 0 {
			return nil, fmt.Errorf("%w: indices[%d]=%d", ErrNegativeIndex, k, idx)
		}
		if int(idx) > maxIndex {
			maxIndex = int(idx)
		}
	}
	return &Table{
		sizes:    sizes,
		offsets:  offsets,
		indices:  indices,
		weights:  weights,
		maxIndex: maxIndex,
	}, nil
}

// NumStencils returns the number of output points described by the table.
// It is safe to call on a nil table.
func (t *Table) NumStencils() int {
	if t == nil {
		return 0
	}
	return len(t.sizes)
}

// Sizes returns the number of contributions per output point.
func (t *Table) Sizes() []uint8 { return t.sizes }

// Offsets returns the start of each entry in Indices and Weights.
func (t *Table) Offsets() []int32 { return t.offsets }

// Indices returns the flattened source point indices.
func (t *Table) Indices() []int32 { return t.indices }

// Weights returns the flattened weights, parallel to Indices.
func (t *Table) Weights() []float32 { return t.weights }

// MaxSourceIndex returns the largest source point referenced by any entry,
// or -1 for a table without contributions.
func (t *Table) MaxSourceIndex() int {
	if t == nil {
		return -1
	}
	return t.maxIndex
}

// Stencil returns the indices and weights of entry i.
func (t *Table) Stencil(i int) (indices []int32, weights []float32) {
	off := int(t.offsets[i])
	end := off + int(t.sizes[i])
	return t.indices[off:end], t.weights[off:end]
}

// UpdateValues applies entries [start, end) of the table to src, writing
// the first length components of each output point into dst.
//
// src and dst are views positioned at point 0 of their regions:
//
//	dst[i*dstStride+c] = Σ_k w_k * src[idx_k*srcStride+c]
//
// An entry of size zero has no contributions and leaves its destination
// point untouched. This is the straightforward scalar evaluation that every
// kernel must reproduce.
func (t *Table) UpdateValues(src, dst []float32, length, srcStride, dstStride, start, end int) {
	for i := start; i < end; i++ {
		if t.sizes[i] == 0 {
			continue
		}
		base := i * dstStride
		out := dst[base : base+length]
		clear(out)

		off := int(t.offsets[i])
		for k := off; k < off+int(t.sizes[i]); k++ {
			w := t.weights[k]
			s := int(t.indices[k]) * srcStride
			in := src[s : s+length]
			for c := range out {
				out[c] += w * in[c]
			}
		}
	}
}
