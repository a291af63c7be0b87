//go:build nogpu

// Package gpu is empty in builds tagged nogpu: no kernel is registered and
// controllers evaluate on CPU kernels.
package gpu

import (
	"errors"

	"github.com/gogpu/gpucontext"
)

// ErrNotRegistered is returned by SetDeviceProvider when the GPU kernel is
// not registered.
var ErrNotRegistered = errors.New("gpu: stencil kernel is not registered")

// Available reports false: GPU support is compiled out.
func Available() bool { return false }

// SetDeviceProvider always returns ErrNotRegistered.
func SetDeviceProvider(gpucontext.DeviceProvider) error { return ErrNotRegistered }
