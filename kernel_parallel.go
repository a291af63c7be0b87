package stencil

import (
	"sync"

	"github.com/gogpu/stencil/internal/parallel"
	"github.com/gogpu/stencil/internal/wide"
)

// inflight counts outstanding work. Unlike sync.WaitGroup, new work may be
// added while another goroutine is waiting.
type inflight struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func newInflight() *inflight {
	f := &inflight{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *inflight) add(n int) {
	f.mu.Lock()
	f.n += n
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	f.n--
	if f.n == 0 {
		f.cond.Broadcast()
	}
	f.mu.Unlock()
}

func (f *inflight) wait() {
	f.mu.Lock()
	for f.n > 0 {
		f.cond.Wait()
	}
	f.mu.Unlock()
}

// ParallelKernel evaluates batches on a work-stealing goroutine pool.
//
// Each batch is split into contiguous chunks of output points. Chunks never
// share a destination point and only read the source view, so they run
// without locks in any order. Dispatch returns once the chunks are queued.
//
// Thread safety: ParallelKernel is safe for concurrent use.
type ParallelKernel struct {
	name    string
	pool    *parallel.WorkerPool
	eval    func(b *Batch, start, end int)
	pending *inflight
}

var _ Kernel = (*ParallelKernel)(nil)

// NewParallelKernel creates a kernel backed by a pool of workers goroutines.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewParallelKernel(workers int) *ParallelKernel {
	return &ParallelKernel{
		name:    "parallel",
		pool:    parallel.NewWorkerPool(workers),
		eval:    (*Batch).eval,
		pending: newInflight(),
	}
}

// NewWideKernel creates a pool-backed kernel whose chunks evaluate eight
// output points per step with wide lanes.
func NewWideKernel(workers int) *ParallelKernel {
	k := NewParallelKernel(workers)
	k.name = "wide"
	k.eval = evalWide
	return k
}

func (k *ParallelKernel) Name() string { return k.name }

func (k *ParallelKernel) Init() error { return nil }

// Workers returns the number of pool goroutines.
func (k *ParallelKernel) Workers() int { return k.pool.Workers() }

// Close waits for outstanding chunks and stops the pool.
func (k *ParallelKernel) Close() {
	k.pending.wait()
	k.pool.Close()
}

// Dispatch splits b into chunks and queues them.
func (k *ParallelKernel) Dispatch(b Batch) error {
	if !k.pool.IsRunning() {
		return ErrKernelClosed
	}

	chunks := parallel.SplitRange(b.Start, b.End, k.pool.Workers())
	if len(chunks) == 0 {
		return nil
	}

	batch := &b
	k.pending.add(len(chunks))
	for i, c := range chunks {
		queued := k.pool.Go(func() {
			defer k.pending.done()
			k.eval(batch, c.Start, c.End)
		})
		if !queued {
			for range len(chunks) - i {
				k.pending.done()
			}
			return ErrKernelClosed
		}
	}

	Logger().Debug("stencil: batch queued",
		"kernel", k.name, "points", b.Len(), "chunks", len(chunks), "queued", k.pool.QueuedWork())
	return nil
}

// Wait blocks until every queued chunk has run.
func (k *ParallelKernel) Wait() error {
	k.pending.wait()
	return nil
}

// evalWide evaluates [start, end) eight points at a time. Lane j of each
// step holds output point i0+j; lanes past a stencil's size get a zero
// weight and a zero value.
func evalWide(b *Batch, start, end int) {
	t := b.Table
	for i0 := start; i0 < end; i0 += wide.Lanes {
		n := min(wide.Lanes, end-i0)

		maxSize := 0
		for j := range n {
			maxSize = max(maxSize, int(t.sizes[i0+j]))
		}
		if maxSize == 0 {
			continue
		}

		for c := range b.Length {
			acc := wide.SplatF32(0)
			for k := range maxSize {
				var w, v wide.F32x8
				for j := range n {
					i := i0 + j
					if k >= int(t.sizes[i]) {
						continue
					}
					e := int(t.offsets[i]) + k
					w[j] = t.weights[e]
					v[j] = b.Src[int(t.indices[e])*b.SrcStride+c]
				}
				acc = acc.MulAdd(w, v)
			}
			for j := range n {
				i := i0 + j
				if t.sizes[i] != 0 {
					b.Dst[i*b.DstStride+c] = acc[j]
				}
			}
		}
	}
}
