package stencil

import (
	"errors"
	"fmt"
)

// stream identifies one of the two attribute streams of a refinement level.
type stream int

const (
	streamVertex stream = iota
	streamVarying
)

// String returns the stream name.
func (s stream) String() string {
	if s == streamVarying {
		return "varying"
	}
	return "vertex"
}

// table returns the context's table for s, or nil.
func (c *ComputeContext) table(s stream) *Table {
	if s == streamVarying {
		return c.varying
	}
	return c.vertex
}

// Controller applies stencil tables to bound buffers.
//
// Apply issues one batch per stream and returns without waiting for it;
// Synchronize blocks until everything issued so far has completed. Code must
// not read refined points, or modify control points, between Apply and
// Synchronize.
//
// A Controller is driven by a single goroutine. Separate controllers may
// share a ComputeContext and its tables, and may share a kernel.
//
// Lifecycle:
//  1. NewController (cheap, allocates no backend resources)
//  2. BindVertexBuffers, Apply (repeat per level), Synchronize
//  3. Close releases a kernel the controller created itself
type Controller struct {
	opts controllerOptions

	kernel Kernel
	owned  bool

	// registered is set when kernel came from RegisterKernel. Such a kernel
	// is resolved again once a replacement has closed it.
	registered bool

	bind BindState

	// outstanding is set when a batch was dispatched since the last
	// Synchronize.
	outstanding bool

	// errs collects dispatch problems reported by the next Synchronize.
	errs []error
}

// NewController creates a controller. Construction never fails; the kernel
// is resolved on the first dispatch.
func NewController(opts ...ControllerOption) *Controller {
	o := defaultControllerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller{opts: o}
}

// Kernel returns the kernel the controller dispatches to, resolving it if
// needed.
func (c *Controller) Kernel() Kernel {
	if c.kernel != nil {
		return c.kernel
	}

	if c.opts.kernel != nil {
		c.kernel = c.opts.kernel
		return c.kernel
	}

	k, owned, err := NewKernel(c.opts.mode, c.opts.workers)
	if err != nil {
		Logger().Warn("stencil: kernel unavailable, using parallel CPU kernel",
			"mode", c.opts.mode, "err", err)
		k, owned = NewParallelKernel(c.opts.workers), true
	}
	c.kernel = k
	c.owned = owned
	c.registered = !owned
	Logger().Debug("stencil: controller kernel selected", "kernel", k.Name(), "owned", owned)
	return k
}

// Apply refines every bound stream that has a table in ctx.
//
// For each stream, the destination descriptor is the source descriptor
// advanced past ctx.NumControlVertices() points, and table entries
// [0, NumStencils) are dispatched as one batch. Streams without a table or
// without a bound buffer are skipped, as are empty tables. Apply does not
// wait for the batches; call Synchronize before reading the results.
//
// Apply panics if ctx is nil. A buffer too small for the refined points, or
// a kernel that refuses the batch, is reported by the next Synchronize and
// the affected stream is not evaluated.
func (c *Controller) Apply(ctx *ComputeContext) {
	if ctx == nil {
		panic("stencil: Apply called with nil compute context")
	}
	c.applyStream(ctx, streamVertex)
	c.applyStream(ctx, streamVarying)
}

func (c *Controller) applyStream(ctx *ComputeContext, s stream) {
	table := ctx.table(s)
	buf, srcDesc := c.bind.stream(s == streamVarying)
	if table == nil || buf == nil {
		return
	}

	dstDesc := srcDesc.Advance(ctx.NumControlVertices())

	start, end := 0, table.NumStencils()
	if end <= start {
		return
	}

	src, dst, ok := splitRegions(buf, srcDesc, dstDesc, end)
	if !ok {
		c.errs = append(c.errs, fmt.Errorf("%w: %s stream needs %d elements from offset %d, buffer has %d",
			ErrBufferTooSmall, s, dstDesc.Span(end), dstDesc.Offset, len(buf)))
		return
	}

	err := c.dispatch(Batch{
		Src:       src,
		Dst:       dst,
		Length:    srcDesc.Length,
		SrcStride: srcDesc.Stride,
		DstStride: dstDesc.Stride,
		Table:     table,
		Start:     start,
		End:       end,
	})
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("stencil: dispatch %s stream: %w", s, err))
		return
	}
	c.outstanding = true
}

// dispatch sends b to the kernel. If a registered kernel was closed by a
// replacement, the batch goes to the new registered kernel instead.
func (c *Controller) dispatch(b Batch) error {
	k := c.Kernel()
	err := k.Dispatch(b)
	if !c.registered || !errors.Is(err, ErrKernelClosed) {
		return err
	}

	c.kernel = nil
	c.registered = false
	// Close on the replaced kernel waited for its batches.
	c.outstanding = false
	next := c.Kernel()
	Logger().Debug("stencil: registered kernel was replaced", "old", k.Name(), "new", next.Name())
	return next.Dispatch(b)
}

// Synchronize blocks until every batch issued by Apply has completed and
// returns the problems collected since the previous call, including device
// failures reported by the kernel. It returns immediately when nothing is
// outstanding.
func (c *Controller) Synchronize() error {
	var waitErr error
	if c.outstanding {
		waitErr = c.kernel.Wait()
		c.outstanding = false
	}

	err := errors.Join(append(c.errs, waitErr)...)
	c.errs = nil
	return err
}

// Refine binds the given buffers, applies ctx and unbinds. Like Apply it
// does not wait for completion.
func (c *Controller) Refine(ctx *ComputeContext, vertex []float32, vertexDesc BufferDescriptor,
	varying []float32, varyingDesc BufferDescriptor) error {
	if err := c.BindVertexBuffers(vertex, vertexDesc, varying, varyingDesc); err != nil {
		return err
	}
	c.Apply(ctx)
	c.Unbind()
	return nil
}

// Close waits for outstanding work and releases a kernel the controller
// created. Kernels passed with WithKernel or registered globally are left
// open. Errors no Synchronize has reported are logged and dropped.
func (c *Controller) Close() {
	if c.kernel != nil {
		if c.owned {
			c.kernel.Close()
		} else if c.outstanding {
			if err := c.kernel.Wait(); err != nil {
				c.errs = append(c.errs, err)
			}
		}
	}
	if len(c.errs) > 0 {
		Logger().Warn("stencil: controller closed with unreported errors", "err", errors.Join(c.errs...))
	}

	c.kernel = nil
	c.owned = false
	c.registered = false
	c.outstanding = false
	c.errs = nil
}
