package stencil

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"
)

func mustTable(t *testing.T, sizes []uint8, indices []int32, weights []float32) *Table {
	t.Helper()
	table, err := NewTable(sizes, indices, weights)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func mustContext(t *testing.T, ncv int, vertex, varying *Table) *ComputeContext {
	t.Helper()
	ctx, err := NewComputeContext(ncv, vertex, varying)
	if err != nil {
		t.Fatalf("NewComputeContext: %v", err)
	}
	return ctx
}

func TestController_Midpoint(t *testing.T) {
	const a, b, c = 2.0, 6.0, 100.0
	table := mustTable(t, []uint8{2}, []int32{0, 1}, []float32{0.5, 0.5})
	ctx := mustContext(t, 3, table, nil)
	desc := BufferDescriptor{Offset: 0, Length: 1, Stride: 1}

	for _, mode := range []ExecutionMode{ModeSerial, ModeParallel, ModeWide, ModeDynamic} {
		t.Run(mode.String(), func(t *testing.T) {
			ctl := NewController(WithExecutionMode(mode))
			defer ctl.Close()

			buf := []float32{a, b, c, -1}
			if err := ctl.Refine(ctx, buf, desc, nil, BufferDescriptor{}); err != nil {
				t.Fatalf("Refine: %v", err)
			}
			if err := ctl.Synchronize(); err != nil {
				t.Fatalf("Synchronize: %v", err)
			}

			if want := float32(0.5*a + 0.5*b); buf[3] != want {
				t.Errorf("buf[3] = %f, want %f", buf[3], want)
			}
			if buf[0] != a || buf[1] != b || buf[2] != c {
				t.Errorf("control points modified: %v", buf[:3])
			}
		})
	}
}

func TestController_DestinationOffset(t *testing.T) {
	// Interleaved xyz + uv with stride 5; refine only uv.
	table := mustTable(t, []uint8{1, 1}, []int32{1, 0}, []float32{1, 1})
	ctx := mustContext(t, 2, table, nil)

	buf := []float32{
		0, 0, 0, 0.1, 0.2,
		1, 1, 1, 0.3, 0.4,
		9, 9, 9, 9, 9,
		9, 9, 9, 9, 9,
	}
	uv := BufferDescriptor{Offset: 3, Length: 2, Stride: 5}

	ctl := NewController(WithExecutionMode(ModeSerial))
	defer ctl.Close()
	if err := ctl.Refine(ctx, buf, uv, nil, BufferDescriptor{}); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if err := ctl.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	want := []float32{
		0, 0, 0, 0.1, 0.2,
		1, 1, 1, 0.3, 0.4,
		9, 9, 9, 0.3, 0.4,
		9, 9, 9, 0.1, 0.2,
	}
	for i := range buf {
		if buf[i] != want[i] {
			t.Errorf("buf[%d] = %f, want %f", i, buf[i], want[i])
		}
	}
}

func TestController_VaryingOnly(t *testing.T) {
	varying := mustTable(t, []uint8{2}, []int32{0, 1}, []float32{0.5, 0.5})
	ctx := mustContext(t, 2, nil, varying)
	desc := BufferDescriptor{Offset: 0, Length: 1, Stride: 1}

	vertexBuf := []float32{1, 3, 42}
	varyingBuf := []float32{10, 20, 0}

	ctl := NewController(WithExecutionMode(ModeSerial))
	defer ctl.Close()
	if err := ctl.Refine(ctx, vertexBuf, desc, varyingBuf, desc); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if err := ctl.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	if varyingBuf[2] != 15 {
		t.Errorf("varying refined value = %f, want 15", varyingBuf[2])
	}
	if vertexBuf[2] != 42 {
		t.Errorf("vertex buffer touched without a vertex table: %v", vertexBuf)
	}
}

// countingKernel records dispatches.
type countingKernel struct {
	SerialKernel
	batches []Batch
}

func (k *countingKernel) Dispatch(b Batch) error {
	k.batches = append(k.batches, b)
	return k.SerialKernel.Dispatch(b)
}

func TestController_EmptyTableNoDispatch(t *testing.T) {
	empty := mustTable(t, nil, nil, nil)
	ctx := mustContext(t, 2, empty, empty)
	desc := BufferDescriptor{Offset: 0, Length: 1, Stride: 1}

	k := &countingKernel{}
	ctl := NewController(WithKernel(k))
	defer ctl.Close()

	buf := []float32{1, 2, 77}
	if err := ctl.Refine(ctx, buf, desc, buf, desc); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if err := ctl.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	if len(k.batches) != 0 {
		t.Errorf("dispatched %d batches for empty tables, want 0", len(k.batches))
	}
	if buf[2] != 77 {
		t.Errorf("destination written: %v", buf)
	}
}

func TestController_ZeroSizeStencilsLeaveDestination(t *testing.T) {
	table := mustTable(t, []uint8{0, 0, 0}, nil, nil)
	ctx := mustContext(t, 2, table, nil)
	desc := BufferDescriptor{Offset: 0, Length: 2, Stride: 2}

	for _, mode := range []ExecutionMode{ModeSerial, ModeParallel, ModeWide, ModeDynamic} {
		t.Run(mode.String(), func(t *testing.T) {
			ctl := NewController(WithExecutionMode(mode))
			defer ctl.Close()

			buf := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
			if err := ctl.Refine(ctx, buf, desc, nil, BufferDescriptor{}); err != nil {
				t.Fatalf("Refine: %v", err)
			}
			if err := ctl.Synchronize(); err != nil {
				t.Fatalf("Synchronize: %v", err)
			}
			for i, v := range buf {
				if v != float32(i+1) {
					t.Errorf("buf[%d] = %f, want %d", i, v, i+1)
				}
			}
		})
	}
}

func TestController_UnboundStreamSkipped(t *testing.T) {
	table := mustTable(t, []uint8{1}, []int32{0}, []float32{1})
	ctx := mustContext(t, 1, table, table)

	k := &countingKernel{}
	ctl := NewController(WithKernel(k))
	defer ctl.Close()

	ctl.Apply(ctx)
	if err := ctl.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if len(k.batches) != 0 {
		t.Errorf("dispatched %d batches with nothing bound, want 0", len(k.batches))
	}
}

func TestController_BatchLayout(t *testing.T) {
	table := mustTable(t, []uint8{1, 1}, []int32{0, 2}, []float32{1, 1})
	ctx := mustContext(t, 3, table, nil)
	desc := BufferDescriptor{Offset: 1, Length: 2, Stride: 4}

	k := &countingKernel{}
	ctl := NewController(WithKernel(k))
	defer ctl.Close()

	buf := make([]float32, 1+5*4)
	if err := ctl.Refine(ctx, buf, desc, nil, BufferDescriptor{}); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if err := ctl.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	if len(k.batches) != 1 {
		t.Fatalf("dispatched %d batches, want 1", len(k.batches))
	}
	b := k.batches[0]
	dstOffset := desc.Offset + ctx.NumControlVertices()*desc.Stride
	if len(b.Src) != dstOffset-desc.Offset {
		t.Errorf("len(Src) = %d, want %d", len(b.Src), dstOffset-desc.Offset)
	}
	if cap(b.Src) != len(b.Src) {
		t.Errorf("source view can reach the destination: cap %d > len %d", cap(b.Src), len(b.Src))
	}
	if len(b.Dst) != len(buf)-dstOffset {
		t.Errorf("len(Dst) = %d, want %d", len(b.Dst), len(buf)-dstOffset)
	}
	if &b.Dst[0] != &buf[dstOffset] {
		t.Error("destination view does not start at src.Offset + numControlVertices*stride")
	}
	if b.Start != 0 || b.End != 2 || b.Length != 2 || b.SrcStride != 4 || b.DstStride != 4 {
		t.Errorf("unexpected batch layout: %+v", b)
	}
}

func TestController_BufferTooSmall(t *testing.T) {
	table := mustTable(t, []uint8{1, 1}, []int32{0, 0}, []float32{1, 1})
	ctx := mustContext(t, 1, table, nil)
	desc := BufferDescriptor{Offset: 0, Length: 1, Stride: 1}

	k := &countingKernel{}
	ctl := NewController(WithKernel(k))
	defer ctl.Close()

	buf := []float32{1, 0} // room for one refined point, table has two
	if err := ctl.Refine(ctx, buf, desc, nil, BufferDescriptor{}); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if err := ctl.Synchronize(); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("Synchronize() = %v, want ErrBufferTooSmall", err)
	}
	if len(k.batches) != 0 {
		t.Error("batch dispatched for a buffer that is too small")
	}
	if err := ctl.Synchronize(); err != nil {
		t.Errorf("second Synchronize() = %v, want nil", err)
	}
}

func TestController_DispatchErrorReported(t *testing.T) {
	table := mustTable(t, []uint8{1}, []int32{0}, []float32{1})
	ctx := mustContext(t, 1, table, nil)
	desc := BufferDescriptor{Offset: 0, Length: 1, Stride: 1}

	k := NewSerialKernel()
	k.Close()
	ctl := NewController(WithKernel(k))

	if err := ctl.Refine(ctx, []float32{1, 0}, desc, nil, BufferDescriptor{}); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if err := ctl.Synchronize(); !errors.Is(err, ErrKernelClosed) {
		t.Errorf("Synchronize() = %v, want ErrKernelClosed", err)
	}
}

func TestController_NilContextPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Apply(nil) did not panic")
		}
	}()
	NewController().Apply(nil)
}

func TestController_InvalidDescriptor(t *testing.T) {
	ctl := NewController()
	defer ctl.Close()

	err := ctl.BindVertexBuffers([]float32{1}, BufferDescriptor{Length: 2, Stride: 1}, nil, BufferDescriptor{})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("vertex: error = %v, want ErrInvalidDescriptor", err)
	}
	err = ctl.BindVertexBuffers(nil, BufferDescriptor{}, []float32{1}, BufferDescriptor{})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("varying: error = %v, want ErrInvalidDescriptor", err)
	}
}

func TestController_BindUnbind(t *testing.T) {
	ctl := NewController()
	defer ctl.Close()

	buf := []float32{1, 2, 3}
	desc := BufferDescriptor{Offset: 0, Length: 1, Stride: 1}
	if err := ctl.BindVertexBuffers(buf, desc, nil, desc); err != nil {
		t.Fatalf("BindVertexBuffers: %v", err)
	}

	state := ctl.BindState()
	if len(state.VertexBuffer) != 3 || state.VertexDesc != desc {
		t.Errorf("vertex stream not bound: %+v", state)
	}
	if state.VaryingBuffer != nil || state.VaryingDesc != (BufferDescriptor{}) {
		t.Errorf("unbound varying stream kept a descriptor: %+v", state)
	}

	ctl.Unbind()
	state = ctl.BindState()
	if state.VertexBuffer != nil || state.VertexDesc != (BufferDescriptor{}) {
		t.Errorf("Unbind left state: %+v", state)
	}
}

func TestController_SynchronizeWithoutWork(t *testing.T) {
	ctl := NewController()
	defer ctl.Close()
	if err := ctl.Synchronize(); err != nil {
		t.Errorf("Synchronize() = %v, want nil", err)
	}
}

func TestController_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	const ncv, n, length = 40, 900, 3
	table := randomTable(t, rng, n, ncv, 7)
	ctx := mustContext(t, ncv, table, table)
	desc := BufferDescriptor{Offset: 0, Length: length, Stride: length}

	buf := make([]float32, (ncv+n)*length)
	for i := range ncv * length {
		buf[i] = rng.Float32()
	}

	ctl := NewController(WithExecutionMode(ModeParallel), WithWorkers(3))
	defer ctl.Close()

	run := func() []float32 {
		if err := ctl.Refine(ctx, buf, desc, nil, BufferDescriptor{}); err != nil {
			t.Fatalf("Refine: %v", err)
		}
		if err := ctl.Synchronize(); err != nil {
			t.Fatalf("Synchronize: %v", err)
		}
		return append([]float32(nil), buf...)
	}

	first := run()
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("element %d differs between runs: %f vs %f", i, first[i], second[i])
		}
	}

	want := make([]float32, n*length)
	table.UpdateValues(buf[:ncv*length], want, length, length, length, 0, n)
	for i, v := range want {
		if !almostEqual(second[ncv*length+i], v) {
			t.Fatalf("refined element %d = %f, want %f", i, second[ncv*length+i], v)
		}
	}
}

func TestController_KernelSelection(t *testing.T) {
	t.Cleanup(func() { unregisterKernel() })

	tests := []struct {
		mode ExecutionMode
		want string
	}{
		{ModeSerial, "serial"},
		{ModeParallel, "parallel"},
		{ModeWide, "wide"},
		{ModeDynamic, "dynamic"},
		{ModeAuto, "parallel"},
		{ModeGPU, "parallel"}, // nothing registered: CPU fallback
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			ctl := NewController(WithExecutionMode(tt.mode))
			defer ctl.Close()
			if got := ctl.Kernel().Name(); got != tt.want {
				t.Errorf("Kernel().Name() = %q, want %q", got, tt.want)
			}
		})
	}

	stub := &stubKernel{}
	if err := RegisterKernel(stub); err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}
	ctl := NewController()
	if ctl.Kernel() != stub {
		t.Error("ModeAuto did not pick the registered kernel")
	}
	ctl.Close()
	if stub.closes != 0 {
		t.Error("controller closed a registered kernel it does not own")
	}
}

func TestController_ReplacedKernelResolvedAgain(t *testing.T) {
	t.Cleanup(func() { unregisterKernel() })

	table := mustTable(t, []uint8{2}, []int32{0, 1}, []float32{0.5, 0.5})
	ctx := mustContext(t, 2, table, nil)
	desc := BufferDescriptor{Offset: 0, Length: 1, Stride: 1}

	first := &stubKernel{}
	if err := RegisterKernel(first); err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}
	ctl := NewController()
	defer ctl.Close()

	buf := []float32{2, 4, 0}
	if err := ctl.Refine(ctx, buf, desc, nil, BufferDescriptor{}); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if err := ctl.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	second := &stubKernel{}
	if err := RegisterKernel(second); err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}
	if first.closes != 1 {
		t.Fatalf("replaced kernel closed %d times, want 1", first.closes)
	}

	buf = []float32{6, 8, 0}
	if err := ctl.Refine(ctx, buf, desc, nil, BufferDescriptor{}); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if err := ctl.Synchronize(); err != nil {
		t.Errorf("Synchronize after replacement = %v, want nil", err)
	}
	if buf[2] != 7 {
		t.Errorf("refined point = %f, want 7", buf[2])
	}
	if ctl.Kernel() != second {
		t.Error("controller still holds the replaced kernel")
	}
}

// waitErrKernel fails every Wait.
type waitErrKernel struct {
	SerialKernel
}

func (k *waitErrKernel) Wait() error { return errors.New("device lost") }

func TestController_CloseLogsUnreportedErrors(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var logs bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))

	table := mustTable(t, []uint8{1}, []int32{0}, []float32{1})
	ctx := mustContext(t, 1, table, nil)
	desc := BufferDescriptor{Offset: 0, Length: 1, Stride: 1}

	ctl := NewController(WithKernel(&waitErrKernel{}))
	if err := ctl.Refine(ctx, []float32{1, 0}, desc, nil, BufferDescriptor{}); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	// Too small: recorded, never reported.
	if err := ctl.Refine(ctx, []float32{1}, desc, nil, BufferDescriptor{}); err != nil {
		t.Fatalf("Refine: %v", err)
	}
	ctl.Close()

	out := logs.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "device lost") {
		t.Errorf("Close did not log the Wait error:\n%s", out)
	}
	if !strings.Contains(out, "buffer") {
		t.Errorf("Close did not log the recorded dispatch error:\n%s", out)
	}
	if err := ctl.Synchronize(); err != nil {
		t.Errorf("Synchronize after Close = %v, want nil", err)
	}
}
