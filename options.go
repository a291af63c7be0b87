package stencil

// ControllerOption configures a Controller during creation.
//
// Example:
//
//	// Default: registered kernel, otherwise a CPU pool
//	c := stencil.NewController()
//
//	// Explicit backend
//	c := stencil.NewController(stencil.WithExecutionMode(stencil.ModeWide), stencil.WithWorkers(4))
//
//	// Dependency injection
//	c := stencil.NewController(stencil.WithKernel(myKernel))
type ControllerOption func(*controllerOptions)

type controllerOptions struct {
	kernel  Kernel
	mode    ExecutionMode
	workers int
}

func defaultControllerOptions() controllerOptions {
	return controllerOptions{
		kernel:  nil, // chosen from mode
		mode:    ModeAuto,
		workers: 0, // GOMAXPROCS
	}
}

// WithKernel sets the kernel the controller dispatches to. The controller
// does not close a kernel passed this way. It takes precedence over
// WithExecutionMode.
func WithKernel(k Kernel) ControllerOption {
	return func(o *controllerOptions) {
		o.kernel = k
	}
}

// WithExecutionMode selects the backend by mode.
func WithExecutionMode(m ExecutionMode) ControllerOption {
	return func(o *controllerOptions) {
		o.mode = m
	}
}

// WithWorkers sets the goroutine count for pool-backed modes.
func WithWorkers(n int) ControllerOption {
	return func(o *controllerOptions) {
		o.workers = n
	}
}
