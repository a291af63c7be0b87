package stencil

import (
	"errors"
	"sync"
)

// ErrKernelClosed is returned by Dispatch after the kernel was closed.
var ErrKernelClosed = errors.New("stencil: kernel is closed")

// Batch is one weighted gather-sum request: evaluate table entries
// [Start, End) reading Src and writing Dst.
//
// Src and Dst are disjoint views of the caller's buffer positioned at point 0
// of the source and destination regions:
//
//	Dst[i*DstStride+c] = Σ_k weights[k] * Src[indices[k]*SrcStride+c]
//
// for every i in [Start, End) with a non-zero size and every c in
// [0, Length). Elements of Dst outside the first Length components of each
// point belong to other interleaved attributes and are never written.
type Batch struct {
	Src       []float32
	Dst       []float32
	Length    int
	SrcStride int
	DstStride int
	Table     *Table
	Start     int
	End       int
}

// Len returns the number of output points in the batch.
func (b *Batch) Len() int {
	return b.End - b.Start
}

// eval evaluates the sub-range [start, end) of the batch on the calling
// goroutine.
func (b *Batch) eval(start, end int) {
	b.Table.UpdateValues(b.Src, b.Dst, b.Length, b.SrcStride, b.DstStride, start, end)
}

// Kernel is a batch weighted gather-sum backend.
//
// Dispatch enqueues a batch and may return before the batch has been
// evaluated. Wait blocks until every batch dispatched so far has completed
// and its writes are visible to the caller; there is no timeout. Batches
// dispatched before one Wait may run concurrently with each other.
//
// Backends range from a plain loop (SerialKernel) over goroutine pools
// (ParallelKernel, DynamicKernel) to GPU compute (package gpu).
type Kernel interface {
	// Name returns the backend name (e.g., "serial", "parallel", "wgpu").
	Name() string

	// Init acquires backend resources. It is called once by RegisterKernel;
	// kernels created by constructors in this package are ready to use.
	Init() error

	// Close releases backend resources. Close waits for outstanding batches.
	Close()

	// Dispatch enqueues b. The batch's slices must stay untouched by the
	// caller until Wait returns.
	Dispatch(b Batch) error

	// Wait blocks until all dispatched batches have completed. A failure of
	// the underlying device is reported here.
	Wait() error
}

var (
	kernelMu sync.RWMutex
	kernel   Kernel
)

// RegisterKernel registers a kernel that new controllers use by default.
//
// Only one kernel can be registered. Subsequent calls replace the previous
// one, which is closed. The kernel's Init method is called during
// registration; if it fails, the kernel is not registered and the error is
// returned.
//
// GPU backend packages register themselves from init:
//
//	import _ "github.com/gogpu/stencil/gpu" // enables GPU evaluation
func RegisterKernel(k Kernel) error {
	if k == nil {
		return errors.New("stencil: kernel must not be nil")
	}
	if err := k.Init(); err != nil {
		return err
	}
	propagateLogger(k, Logger())

	kernelMu.Lock()
	old := kernel
	kernel = k
	kernelMu.Unlock()

	if old != nil && old != k {
		old.Close()
	}
	return nil
}

// RegisteredKernel returns the registered kernel, or nil if none.
func RegisteredKernel() Kernel {
	kernelMu.RLock()
	k := kernel
	kernelMu.RUnlock()
	return k
}

// unregisterKernel removes the registered kernel without closing it.
// Used by tests.
func unregisterKernel() Kernel {
	kernelMu.Lock()
	old := kernel
	kernel = nil
	kernelMu.Unlock()
	return old
}
