// Package stencil applies precomputed stencil tables to vertex data.
//
// # Overview
//
// Subdivision refines a control cage by expressing every new point as a
// weighted sum of existing points. Once the topology has been analysed, those
// sums are frozen into a stencil table. Applying the table is the part that
// runs every frame: control points move, the table stays the same, and the
// refined points are recomputed.
//
// stencil performs that apply step. It does not build tables, evaluate limit
// surfaces or tessellate patches.
//
// # Quick Start
//
//	table, _ := stencil.NewTable(
//	    []uint8{2},              // one refined point with two contributions
//	    []int32{0, 1},           // from control points 0 and 1
//	    []float32{0.5, 0.5},
//	)
//	ctx, _ := stencil.NewComputeContext(3, table, nil)
//
//	buf := []float32{a, b, c, 0} // three control points, room for one more
//	desc := stencil.BufferDescriptor{Offset: 0, Length: 1, Stride: 1}
//
//	ctl := stencil.NewController()
//	defer ctl.Close()
//	_ = ctl.Refine(ctx, buf, desc, nil, stencil.BufferDescriptor{})
//	if err := ctl.Synchronize(); err != nil {
//	    log.Fatal(err)
//	}
//	// buf[3] == 0.5*a + 0.5*b
//
// # Buffer Layout
//
// Each stream lives in one flat float32 buffer. Control points occupy the
// front; refined points are written directly after them using the same
// stride, so the destination offset is
//
//	dst.Offset = src.Offset + NumControlVertices * Stride
//
// The controller cuts the buffer into two disjoint slices at that offset
// before handing them to a kernel. Several attributes may be interleaved in
// one buffer; only the Length components described by the descriptor are
// written.
//
// # Streams
//
// A ComputeContext carries up to two tables: one for vertex data (positions)
// and one for varying data (colors, texture coordinates). Each stream is
// refined only if the context has a table for it and a buffer is bound.
//
// # Kernels
//
// The weighted sums run on a Kernel:
//   - SerialKernel: a plain loop on the calling goroutine
//   - ParallelKernel: a work-stealing goroutine pool (NewWideKernel adds
//     eight-lane inner loops)
//   - DynamicKernel: workers started on first use and stopped by Close
//   - GPU: compute shaders via gogpu/wgpu, enabled by importing
//     github.com/gogpu/stencil/gpu
//
// # Synchronization
//
// Apply is non-blocking. Synchronize blocks the calling goroutine until
// every batch issued so far has finished and reports any failures.
package stencil
