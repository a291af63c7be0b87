//go:build !nogpu

// Package gpu registers the wgpu compute kernel for stencil evaluation.
//
// Import this package to let controllers in ModeAuto or ModeGPU evaluate
// stencil tables with a compute shader. The kernel uses wgpu/hal with the
// Vulkan backend.
//
// If GPU initialization fails (no Vulkan device available), registration is
// skipped with a warning and controllers fall back to CPU kernels.
//
// Usage:
//
//	import _ "github.com/gogpu/stencil/gpu" // enable GPU evaluation
package gpu

import (
	"errors"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/stencil"
	gpuimpl "github.com/gogpu/stencil/internal/gpu"
)

// ErrNotRegistered is returned by SetDeviceProvider when the GPU kernel
// could not be registered at startup.
var ErrNotRegistered = errors.New("gpu: stencil kernel is not registered")

func init() {
	if err := stencil.RegisterKernel(&gpuimpl.Kernel{}); err != nil {
		stencil.Logger().Warn("GPU stencil kernel not available", "err", err)
	}
}

// Available reports whether the GPU kernel is the registered kernel.
func Available() bool {
	_, ok := stencil.RegisteredKernel().(*gpuimpl.Kernel)
	return ok
}

// SetDeviceProvider makes the GPU kernel evaluate on a device shared by the
// host application instead of its own. This avoids opening a second device.
//
// The provider must also expose HalDevice() any and HalQueue() any for direct
// HAL access; gpucontext.DeviceProvider alone is rejected.
//
// Call it after importing this package and before the next Apply.
func SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	k, ok := stencil.RegisteredKernel().(*gpuimpl.Kernel)
	if !ok {
		return ErrNotRegistered
	}
	return k.SetDeviceProvider(provider)
}
