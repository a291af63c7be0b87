package stencil

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDescriptor is returned when a buffer is bound with a
	// descriptor that cannot address a stream.
	ErrInvalidDescriptor = errors.New("stencil: invalid buffer descriptor")

	// ErrBufferTooSmall is reported when a bound buffer cannot hold the
	// refined points of a stream. The stream's batch is not dispatched.
	ErrBufferTooSmall = errors.New("stencil: buffer too small for refined points")
)

// BindState is the set of buffers a Controller refines: one flat buffer and
// descriptor per stream. A nil buffer leaves the stream unbound.
//
// The controller borrows the buffers; it never allocates or frees them.
type BindState struct {
	VertexBuffer  []float32
	VertexDesc    BufferDescriptor
	VaryingBuffer []float32
	VaryingDesc   BufferDescriptor
}

// Reset unbinds both streams.
func (s *BindState) Reset() {
	*s = BindState{}
}

// stream returns the buffer and descriptor bound for one stream.
func (s *BindState) stream(varying bool) ([]float32, BufferDescriptor) {
	if varying {
		return s.VaryingBuffer, s.VaryingDesc
	}
	return s.VertexBuffer, s.VertexDesc
}

// BindVertexBuffers binds the buffers subsequent Apply calls refine.
// A nil buffer leaves that stream unbound; Apply then skips it.
func (c *Controller) BindVertexBuffers(vertex []float32, vertexDesc BufferDescriptor,
	varying []float32, varyingDesc BufferDescriptor) error {
	if vertex != nil && !vertexDesc.IsValid() {
		return fmt.Errorf("%w: vertex %v", ErrInvalidDescriptor, vertexDesc)
	}
	if varying != nil && !varyingDesc.IsValid() {
		return fmt.Errorf("%w: varying %v", ErrInvalidDescriptor, varyingDesc)
	}

	c.bind = BindState{
		VertexBuffer:  vertex,
		VertexDesc:    vertexDesc,
		VaryingBuffer: varying,
		VaryingDesc:   varyingDesc,
	}
	if vertex == nil {
		c.bind.VertexDesc.Reset()
	}
	if varying == nil {
		c.bind.VaryingDesc.Reset()
	}
	return nil
}

// Unbind releases the bound buffers.
func (c *Controller) Unbind() {
	c.bind.Reset()
}

// BindState returns the currently bound buffers.
func (c *Controller) BindState() BindState {
	return c.bind
}

// splitRegions cuts buf into the source view [src.Offset, dst.Offset) and
// the destination view [dst.Offset, len(buf)). The views are disjoint
// sub-slices, so no destination write can alias a source read.
//
// It reports false if buf cannot hold n destination points.
func splitRegions(buf []float32, src, dst BufferDescriptor, n int) (srcView, dstView []float32, ok bool) {
	if dst.Offset < src.Offset || dst.Offset > len(buf) {
		return nil, nil, false
	}
	if len(buf)-dst.Offset < dst.Span(n) {
		return nil, nil, false
	}
	return buf[src.Offset:dst.Offset:dst.Offset], buf[dst.Offset:], true
}
