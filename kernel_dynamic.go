package stencil

import (
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/gogpu/stencil/internal/parallel"
)

// dynamicQueueSize bounds the task queue of a DynamicKernel.
const dynamicQueueSize = 256

// DynamicKernel evaluates batches on worker goroutines that are started on
// demand. A new kernel holds no goroutines; each submitted chunk starts one
// more worker until the limit is reached. Close stops every worker.
//
// ParallelKernel starts all of its workers up front, which suits per-frame
// refinement. DynamicKernel suits tools that refine rarely (editing, import)
// and may create kernels that never dispatch.
type DynamicKernel struct {
	mu      sync.RWMutex
	tasks   chan worker.Task
	stop    chan int
	workers []worker.Worker
	limit   int
	taskID  int
	closed  bool
	pending *inflight
}

var _ Kernel = (*DynamicKernel)(nil)

// NewDynamicKernel creates a kernel with up to workers goroutines.
// If workers is 0 or negative, one less than the CPU count is used.
func NewDynamicKernel(workers int) *DynamicKernel {
	if workers <= 0 {
		workers = max(runtime.NumCPU()-1, 1)
	}
	return &DynamicKernel{
		tasks:   make(chan worker.Task, dynamicQueueSize),
		stop:    make(chan int),
		limit:   workers,
		pending: newInflight(),
	}
}

func (k *DynamicKernel) Name() string { return "dynamic" }

func (k *DynamicKernel) Init() error { return nil }

// Workers returns the number of worker goroutines started so far.
func (k *DynamicKernel) Workers() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.workers)
}

// Close runs the queued tasks and stops the workers. Close is safe to call
// multiple times.
func (k *DynamicKernel) Close() {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	// Workers drain the buffered tasks before they see the closed channel.
	close(k.tasks)
	k.mu.Unlock()

	k.pending.wait()
}

// Dispatch splits b into chunks and submits one task per chunk.
func (k *DynamicKernel) Dispatch(b Batch) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrKernelClosed
	}

	chunks := parallel.SplitRange(b.Start, b.End, k.limit)
	if len(chunks) == 0 {
		return nil
	}

	batch := &b
	k.pending.add(len(chunks))
	for _, c := range chunks {
		k.grow()
		k.taskID++
		k.tasks <- worker.Task{
			ID: k.taskID,
			Do: func() (any, error) {
				defer k.pending.done()
				batch.eval(c.Start, c.End)
				return nil, nil
			},
		}
	}
	return nil
}

// grow starts another worker if the limit allows. Callers hold k.mu.
func (k *DynamicKernel) grow() {
	if len(k.workers) >= k.limit {
		return
	}
	id := len(k.workers)
	w := worker.NewWorker(id, k.tasks, k.stop, 0, func(id int) {
		Logger().Debug("stencil: dynamic worker exited", "worker", id)
	})
	w.Start()
	k.workers = append(k.workers, w)
}

// Wait blocks until every submitted task has run.
func (k *DynamicKernel) Wait() error {
	k.pending.wait()
	return nil
}
