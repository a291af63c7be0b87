//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/stencil"
	"github.com/gogpu/wgpu/hal"
)

// minBufferSize keeps zero-length arrays bindable.
const minBufferSize = 4

// paramsSize is the size of the shader's Params uniform.
const paramsSize = 32

// dispatchParams mirrors the shader's Params uniform.
type dispatchParams struct {
	Length    uint32
	SrcStride uint32
	DstStride uint32
	Start     uint32
	End       uint32
	RowWidth  uint32
}

func (p dispatchParams) bytes() []byte {
	out := make([]byte, paramsSize)
	for i, v := range []uint32{p.Length, p.SrcStride, p.DstStride, p.Start, p.End, p.RowWidth} {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func packF32(v []float32) []byte {
	out := make([]byte, max(len(v)*4, minBufferSize))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func unpackF32(b []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}

func packU32[T ~uint8 | ~int32](v []T) []byte {
	out := make([]byte, max(len(v)*4, minBufferSize))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(x)) //nolint:gosec // table indices are validated non-negative
	}
	return out
}

// tableBuffers holds a table's arrays in device storage buffers. Tables are
// immutable, so they are uploaded once and reused by every batch.
type tableBuffers struct {
	sizes, offsets, indices, weights hal.Buffer
	sizesLen, offsetsLen             uint64
	indicesLen, weightsLen           uint64
}

func (k *Kernel) uploadTable(t *stencil.Table) (*tableBuffers, error) {
	tb := &tableBuffers{}
	var err error
	upload := func(label string, data []byte) (hal.Buffer, uint64) {
		if err != nil {
			return nil, 0
		}
		var buf hal.Buffer
		buf, err = k.storageBuffer(label, data, false)
		return buf, uint64(len(data))
	}

	tb.sizes, tb.sizesLen = upload("stencil_sizes", packU32(t.Sizes()))
	tb.offsets, tb.offsetsLen = upload("stencil_offsets", packU32(t.Offsets()))
	tb.indices, tb.indicesLen = upload("stencil_indices", packU32(t.Indices()))
	tb.weights, tb.weightsLen = upload("stencil_weights", packF32(t.Weights()))
	if err != nil {
		k.destroyTable(tb)
		return nil, fmt.Errorf("upload table: %w", err)
	}
	return tb, nil
}

func (k *Kernel) destroyTable(tb *tableBuffers) {
	for _, b := range []hal.Buffer{tb.sizes, tb.offsets, tb.indices, tb.weights} {
		if b != nil {
			k.device.DestroyBuffer(b)
		}
	}
}

// storageBuffer creates a storage buffer initialized with data. copySrc adds
// the usage needed to read the buffer back.
func (k *Kernel) storageBuffer(label string, data []byte, copySrc bool) (hal.Buffer, error) {
	usage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	if copySrc {
		usage |= gputypes.BufferUsageCopySrc
	}
	buf, err := k.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label, Size: uint64(len(data)), Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", label, err)
	}
	k.queue.WriteBuffer(buf, 0, data)
	return buf, nil
}

// gridSize splits n invocations into a 2D grid of workgroups that stays within
// the per-dimension dispatch limit.
func gridSize(n int) (x, y, rowWidth uint32) {
	groups := (n + workgroupSize - 1) / workgroupSize
	if groups == 0 {
		return 0, 0, 0
	}
	gx := min(groups, maxWorkgroupsPerDim)
	gy := (groups + gx - 1) / gx
	return uint32(gx), uint32(gy), uint32(gx * workgroupSize) //nolint:gosec // bounded by maxWorkgroupsPerDim
}
