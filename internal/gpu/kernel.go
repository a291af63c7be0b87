//go:build !nogpu

package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/stencil"
	"github.com/gogpu/stencil/internal/cache"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

const (
	workgroupSize       = 64
	maxWorkgroupsPerDim = 65535

	// fenceTimeout bounds a single fence poll. Wait keeps polling until the
	// batch completes or the device reports an error.
	fenceTimeout = time.Second

	// maxCachedTables bounds the tables kept resident on the device.
	maxCachedTables = 64
)

var errNotInitialized = errors.New("gpu: stencil kernel not initialized")

// Kernel evaluates stencil batches with a wgpu/hal compute shader. It
// implements stencil.Kernel.
//
// Dispatch uploads the batch, records one compute pass and submits it with
// its own fence. Wait polls the fences in submission order, reads the
// destination points back and scatters them into the caller's buffer.
// Table arrays are uploaded once per table and kept in an LRU of
// maxCachedTables entries.
type Kernel struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	tables  *cache.LRU[*stencil.Table, *tableBuffers]
	pending []*submission

	// retired holds evicted tables until the batches that may read them
	// have completed.
	retired []*tableBuffers

	ready          bool
	closed         bool
	externalDevice bool // shared device, not destroyed on Close
}

var _ stencil.Kernel = (*Kernel)(nil)

// submission is one dispatched batch awaiting readback.
type submission struct {
	src, dst, staging, params hal.Buffer
	bindGroup                 hal.BindGroup
	cmd                       hal.CommandBuffer
	fence                     hal.Fence
	size                      uint64

	// out is the caller's destination window starting at point start.
	out        []float32
	sizes      []uint8
	start, end int
	length     int
	stride     int
}

func (k *Kernel) Name() string { return "wgpu" }

// Init opens a Vulkan device and builds the compute pipeline. It does nothing
// if the kernel already has a device.
func (k *Kernel) Init() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ready {
		k.closed = false
		return nil
	}
	if err := k.initGPU(); err != nil {
		k.releaseLocked()
		return err
	}
	k.closed = false
	return nil
}

func (k *Kernel) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("gpu: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("gpu: create instance: %w", err)
	}
	k.instance = instance

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("gpu: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("gpu: open device: %w", err)
	}
	k.device = openDev.Device
	k.queue = openDev.Queue

	if err := k.createPipeline(); err != nil {
		return fmt.Errorf("gpu: create pipeline: %w", err)
	}
	k.ready = true
	slogger().Info("gpu: stencil kernel initialized", "adapter", selected.Info.Name)
	return nil
}

func (k *Kernel) createPipeline() error {
	code, err := compileStencilShader()
	if err != nil {
		return err
	}
	k.shader, err = k.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "stencil",
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}

	storage := func(binding uint32, readOnly bool) gputypes.BindGroupLayoutEntry {
		typ := gputypes.BufferBindingTypeStorage
		if readOnly {
			typ = gputypes.BufferBindingTypeReadOnlyStorage
		}
		return gputypes.BindGroupLayoutEntry{
			Binding: binding, Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{Type: typ},
		}
	}
	k.bindLayout, err = k.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "stencil_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			storage(1, true), // sizes
			storage(2, true), // offsets
			storage(3, true), // indices
			storage(4, true), // weights
			storage(5, true), // src
			storage(6, false),
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}

	k.pipeLayout, err = k.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "stencil_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	k.pipeline, err = k.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "stencil_pipeline", Layout: k.pipeLayout,
		Compute: hal.ComputeState{Module: k.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	return nil
}

// SetLogger receives the logger propagated by stencil.SetLogger.
func (k *Kernel) SetLogger(l *slog.Logger) { setLogger(l) }

// SetDeviceProvider switches the kernel to a device owned by the host
// application. The provider must implement HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue. Outstanding batches are completed
// first and cached tables are re-uploaded on next use.
func (k *Kernel) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("gpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("gpu: provider HalQueue is not hal.Queue")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.waitLocked(); err != nil {
		slogger().Warn("gpu: batch failed while switching device", "err", err)
	}
	k.releaseLocked()

	k.device = device
	k.queue = queue
	k.externalDevice = true
	if err := k.createPipeline(); err != nil {
		k.releaseLocked()
		return fmt.Errorf("gpu: create pipeline with shared device: %w", err)
	}
	k.ready = true
	k.closed = false
	slogger().Info("gpu: switched to shared GPU device")
	return nil
}

// Dispatch uploads b and submits its compute pass.
func (k *Kernel) Dispatch(b stencil.Batch) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	switch {
	case k.closed:
		return stencil.ErrKernelClosed
	case !k.ready:
		return errNotInitialized
	}

	n := b.Len()
	if n <= 0 {
		return nil
	}
	dstStart := b.Start * b.DstStride
	dstEnd := (b.End-1)*b.DstStride + b.Length
	if dstEnd > len(b.Dst) {
		return fmt.Errorf("gpu: destination holds %d elements, batch needs %d", len(b.Dst), dstEnd)
	}

	tb, err := k.tableFor(b.Table)
	if err != nil {
		return err
	}

	s := &submission{
		out:    b.Dst[dstStart:dstEnd],
		sizes:  b.Table.Sizes(),
		start:  b.Start,
		end:    b.End,
		length: b.Length,
		stride: b.DstStride,
	}
	if err := k.encode(s, tb, b); err != nil {
		k.releaseSubmission(s)
		return err
	}
	k.pending = append(k.pending, s)

	slogger().Debug("gpu: stencil batch submitted", "points", n, "length", b.Length, "pending", len(k.pending), "tables", k.tables.Len())
	return nil
}

func (k *Kernel) tableFor(t *stencil.Table) (*tableBuffers, error) {
	if k.tables == nil {
		k.tables = cache.New(maxCachedTables, func(_ *stencil.Table, tb *tableBuffers) {
			k.retired = append(k.retired, tb)
		})
	}
	if tb, ok := k.tables.Get(t); ok {
		return tb, nil
	}
	tb, err := k.uploadTable(t)
	if err != nil {
		return nil, err
	}
	k.tables.Add(t, tb)
	return tb, nil
}

// encode creates the per-batch buffers, records the compute pass and the
// readback copy, and submits them.
func (k *Kernel) encode(s *submission, tb *tableBuffers, b stencil.Batch) error {
	var err error
	srcBytes := packF32(b.Src)
	if s.src, err = k.storageBuffer("stencil_src", srcBytes, false); err != nil {
		return err
	}
	// The destination window is uploaded so empty stencils read back unchanged.
	dstBytes := packF32(s.out)
	s.size = uint64(len(dstBytes))
	if s.dst, err = k.storageBuffer("stencil_dst", dstBytes, true); err != nil {
		return err
	}
	s.staging, err = k.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "stencil_staging", Size: s.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}

	gx, gy, rowWidth := gridSize(b.Len())
	params := dispatchParams{
		Length:    uint32(b.Length),    //nolint:gosec // bounded by stride
		SrcStride: uint32(b.SrcStride), //nolint:gosec // descriptor values fit uint32
		DstStride: uint32(b.DstStride), //nolint:gosec // descriptor values fit uint32
		Start:     uint32(b.Start),     //nolint:gosec // table size fits uint32
		End:       uint32(b.End),       //nolint:gosec // table size fits uint32
		RowWidth:  rowWidth,
	}
	s.params, err = k.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "stencil_params", Size: paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create params buffer: %w", err)
	}
	k.queue.WriteBuffer(s.params, 0, params.bytes())

	s.bindGroup, err = k.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "stencil_bind", Layout: k.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: s.params.NativeHandle(), Offset: 0, Size: paramsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: tb.sizes.NativeHandle(), Offset: 0, Size: tb.sizesLen}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: tb.offsets.NativeHandle(), Offset: 0, Size: tb.offsetsLen}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: tb.indices.NativeHandle(), Offset: 0, Size: tb.indicesLen}},
			{Binding: 4, Resource: gputypes.BufferBinding{Buffer: tb.weights.NativeHandle(), Offset: 0, Size: tb.weightsLen}},
			{Binding: 5, Resource: gputypes.BufferBinding{Buffer: s.src.NativeHandle(), Offset: 0, Size: uint64(len(srcBytes))}},
			{Binding: 6, Resource: gputypes.BufferBinding{Buffer: s.dst.NativeHandle(), Offset: 0, Size: s.size}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}

	encoder, err := k.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "stencil_encoder"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("stencil"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "stencil_pass"})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, s.bindGroup, nil)
	pass.Dispatch(gx, gy, 1)
	pass.End()
	encoder.CopyBufferToBuffer(s.dst, s.staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: s.size},
	})
	if s.cmd, err = encoder.EndEncoding(); err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}

	if s.fence, err = k.device.CreateFence(); err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	if err := k.queue.Submit([]hal.CommandBuffer{s.cmd}, s.fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// Wait blocks until every submitted batch has completed and its points are
// written back.
func (k *Kernel) Wait() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.waitLocked()
}

func (k *Kernel) waitLocked() error {
	pending := k.pending
	k.pending = nil

	var errs []error
	for _, s := range pending {
		if err := k.complete(s); err != nil {
			errs = append(errs, err)
		}
		k.releaseSubmission(s)
	}
	k.destroyRetired()
	return errors.Join(errs...)
}

// destroyRetired frees evicted tables. Callers ensure no pending batch
// references them.
func (k *Kernel) destroyRetired() {
	for _, tb := range k.retired {
		k.destroyTable(tb)
	}
	k.retired = nil
}

// complete waits for s's fence and scatters the refined points.
func (k *Kernel) complete(s *submission) error {
	for {
		ok, err := k.device.Wait(s.fence, 1, fenceTimeout)
		if err != nil {
			return fmt.Errorf("gpu: wait for stencil batch: %w", err)
		}
		if ok {
			break
		}
		slogger().Debug("gpu: stencil batch still running", "points", s.end-s.start)
	}

	readback := make([]byte, s.size)
	if err := k.queue.ReadBuffer(s.staging, 0, readback); err != nil {
		return fmt.Errorf("gpu: readback: %w", err)
	}
	values := make([]float32, len(s.out))
	unpackF32(readback, values)

	// Only the first length components of non-empty stencils belong to
	// this stream; other elements of the window are left alone.
	for i := s.start; i < s.end; i++ {
		if s.sizes[i] == 0 {
			continue
		}
		base := (i - s.start) * s.stride
		copy(s.out[base:base+s.length], values[base:base+s.length])
	}
	return nil
}

func (k *Kernel) releaseSubmission(s *submission) {
	if s.fence != nil {
		k.device.DestroyFence(s.fence)
	}
	if s.cmd != nil {
		k.device.FreeCommandBuffer(s.cmd)
	}
	if s.bindGroup != nil {
		k.device.DestroyBindGroup(s.bindGroup)
	}
	for _, b := range []hal.Buffer{s.src, s.dst, s.staging, s.params} {
		if b != nil {
			k.device.DestroyBuffer(b)
		}
	}
}

// Close completes outstanding batches and releases device resources. A
// shared device is left to its owner.
func (k *Kernel) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ready {
		if err := k.waitLocked(); err != nil {
			slogger().Warn("gpu: batch failed during close", "err", err)
		}
	}
	k.releaseLocked()
	k.closed = true
}

// releaseLocked destroys cached tables, the pipeline and, unless shared, the
// device and instance.
func (k *Kernel) releaseLocked() {
	if k.device != nil {
		if k.tables != nil {
			k.tables.Purge()
		}
		k.destroyRetired()
		if k.pipeline != nil {
			k.device.DestroyComputePipeline(k.pipeline)
		}
		if k.pipeLayout != nil {
			k.device.DestroyPipelineLayout(k.pipeLayout)
		}
		if k.bindLayout != nil {
			k.device.DestroyBindGroupLayout(k.bindLayout)
		}
		if k.shader != nil {
			k.device.DestroyShaderModule(k.shader)
		}
		if !k.externalDevice {
			k.device.Destroy()
		}
	}
	if k.instance != nil {
		k.instance.Destroy()
	}

	k.tables, k.retired = nil, nil
	k.pipeline, k.pipeLayout, k.bindLayout, k.shader = nil, nil, nil, nil
	k.device, k.queue, k.instance = nil, nil, nil
	k.ready = false
	k.externalDevice = false
}
