package main

import "github.com/gogpu/stencil"

// tableBuilder accumulates stencils in point order.
type tableBuilder struct {
	sizes   []uint8
	indices []int32
	weights []float32
}

func (b *tableBuilder) add(indices []int, weights []float32) {
	b.sizes = append(b.sizes, uint8(len(indices))) //nolint:gosec // at most three entries
	for k, idx := range indices {
		b.indices = append(b.indices, int32(idx)) //nolint:gosec // point counts fit int32
		b.weights = append(b.weights, weights[k])
	}
}

func (b *tableBuilder) build() (*stencil.Table, error) {
	return stencil.NewTable(b.sizes, b.indices, b.weights)
}

// bsplineTable returns the uniform cubic B-spline subdivision stencils for a
// closed polygon of n points. Refined point 2j is the smoothed vertex j and
// point 2j+1 the midpoint of edge j.
func bsplineTable(n int) (*stencil.Table, error) {
	var b tableBuilder
	for j := range n {
		prev, next := (j+n-1)%n, (j+1)%n
		b.add([]int{prev, j, next}, []float32{1.0 / 8, 6.0 / 8, 1.0 / 8})
		b.add([]int{j, next}, []float32{0.5, 0.5})
	}
	return b.build()
}

// linearTable returns the stencils of linear subdivision on the same point
// layout as bsplineTable. Colors are interpolated this way.
func linearTable(n int) (*stencil.Table, error) {
	var b tableBuilder
	for j := range n {
		b.add([]int{j}, []float32{1})
		b.add([]int{j, (j + 1) % n}, []float32{0.5, 0.5})
	}
	return b.build()
}
