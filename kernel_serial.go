package stencil

import "sync/atomic"

// SerialKernel evaluates every batch on the dispatching goroutine with a
// plain loop. Dispatch returns after the batch is complete, so Wait has
// nothing to do.
//
// SerialKernel is the reference backend and the cheapest choice for small
// tables where scheduling would dominate.
type SerialKernel struct {
	closed atomic.Bool
}

var _ Kernel = (*SerialKernel)(nil)

// NewSerialKernel creates a serial kernel.
func NewSerialKernel() *SerialKernel {
	return &SerialKernel{}
}

func (k *SerialKernel) Name() string { return "serial" }

func (k *SerialKernel) Init() error { return nil }

func (k *SerialKernel) Close() { k.closed.Store(true) }

// Dispatch evaluates b immediately.
func (k *SerialKernel) Dispatch(b Batch) error {
	if k.closed.Load() {
		return ErrKernelClosed
	}
	b.eval(b.Start, b.End)
	return nil
}

// Wait returns immediately.
func (k *SerialKernel) Wait() error { return nil }
