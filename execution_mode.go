package stencil

import (
	"fmt"
	"strings"
)

// ExecutionMode selects the kernel a Controller evaluates stencils with.
type ExecutionMode int

const (
	// ModeAuto uses the registered kernel if there is one, otherwise picks a
	// CPU kernel.
	ModeAuto ExecutionMode = iota

	// ModeSerial evaluates on the calling goroutine.
	ModeSerial

	// ModeParallel evaluates on a persistent work-stealing pool.
	ModeParallel

	// ModeWide evaluates on the pool with eight-lane inner loops.
	ModeWide

	// ModeDynamic evaluates on workers started on demand and stopped by Close.
	ModeDynamic

	// ModeGPU uses the registered GPU kernel (import package gpu).
	ModeGPU
)

// String returns the mode name.
func (m ExecutionMode) String() string {
	switch m {
	case ModeAuto:
		return "Auto"
	case ModeSerial:
		return "Serial"
	case ModeParallel:
		return "Parallel"
	case ModeWide:
		return "Wide"
	case ModeDynamic:
		return "Dynamic"
	case ModeGPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ParseExecutionMode parses a mode name, ignoring case.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	for m := ModeAuto; m <= ModeGPU; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return ModeAuto, fmt.Errorf("stencil: unknown execution mode %q", s)
}

// Thresholds for SelectMode.
const (
	// serialThreshold is the stencil count below which goroutine scheduling
	// costs more than the sums themselves.
	serialThreshold = 2048

	// gpuThreshold is the stencil count above which a GPU round trip pays off.
	gpuThreshold = 1 << 16
)

// SelectMode chooses a mode for a level with numStencils output points.
//
// Heuristics:
//   - Small levels (< 2048 points): Serial
//   - Large levels with a GPU kernel available: GPU
//   - Otherwise: Parallel
func SelectMode(numStencils int, gpuAvailable bool) ExecutionMode {
	switch {
	case numStencils < serialThreshold:
		return ModeSerial
	case gpuAvailable && numStencils >= gpuThreshold:
		return ModeGPU
	default:
		return ModeParallel
	}
}

// NewKernel creates a CPU kernel for m. workers <= 0 selects a default.
//
// ModeGPU returns the registered kernel, or an error if none is registered.
// ModeAuto returns the registered kernel if any, otherwise a ParallelKernel.
// The returned owned flag reports whether the caller must Close the kernel.
func NewKernel(m ExecutionMode, workers int) (k Kernel, owned bool, err error) {
	switch m {
	case ModeSerial:
		return NewSerialKernel(), true, nil
	case ModeParallel:
		return NewParallelKernel(workers), true, nil
	case ModeWide:
		return NewWideKernel(workers), true, nil
	case ModeDynamic:
		return NewDynamicKernel(workers), true, nil
	case ModeGPU:
		if r := RegisteredKernel(); r != nil {
			return r, false, nil
		}
		return nil, false, fmt.Errorf("stencil: %s mode requires a registered kernel", m)
	case ModeAuto:
		if r := RegisteredKernel(); r != nil {
			return r, false, nil
		}
		return NewParallelKernel(workers), true, nil
	default:
		return nil, false, fmt.Errorf("stencil: unknown execution mode %d", int(m))
	}
}
