package stencil

import "fmt"

// BufferDescriptor describes how one attribute stream is packed inside a
// flat float32 buffer.
//
// Offset is the index of the first element of point 0, Length is the number
// of contiguous components per point and Stride is the distance in elements
// between the starts of consecutive points. Several streams can share one
// buffer by using the same Stride with different Offsets:
//
//	stride = 6
//	position: {Offset: 0, Length: 3, Stride: 6}
//	normal:   {Offset: 3, Length: 3, Stride: 6}
type BufferDescriptor struct {
	Offset int
	Length int
	Stride int
}

// IsValid reports whether the descriptor can address a stream.
func (d BufferDescriptor) IsValid() bool {
	return d.Offset >= 0 && d.Length > 0 && d.Length <= d.Stride
}

// Reset clears the descriptor.
func (d *BufferDescriptor) Reset() {
	*d = BufferDescriptor{}
}

// Advance returns a copy of d whose Offset is moved forward by points whole
// points. The destination of a refinement step is the source descriptor
// advanced past the control vertices.
func (d BufferDescriptor) Advance(points int) BufferDescriptor {
	d.Offset += points * d.Stride
	return d
}

// Span returns the number of elements needed to hold n points starting at
// Offset. It is zero when n <= 0.
func (d BufferDescriptor) Span(n int) int {
	if n <= 0 {
		return 0
	}
	return (n-1)*d.Stride + d.Length
}

// String returns a compact representation for logs.
func (d BufferDescriptor) String() string {
	return fmt.Sprintf("{offset=%d length=%d stride=%d}", d.Offset, d.Length, d.Stride)
}
