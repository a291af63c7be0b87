package stencil

import "testing"

func TestBufferDescriptor_IsValid(t *testing.T) {
	tests := []struct {
		name string
		desc BufferDescriptor
		want bool
	}{
		{"packed", BufferDescriptor{Offset: 0, Length: 3, Stride: 3}, true},
		{"interleaved", BufferDescriptor{Offset: 3, Length: 3, Stride: 6}, true},
		{"zero value", BufferDescriptor{}, false},
		{"negative offset", BufferDescriptor{Offset: -1, Length: 1, Stride: 1}, false},
		{"length exceeds stride", BufferDescriptor{Offset: 0, Length: 4, Stride: 3}, false},
		{"zero length", BufferDescriptor{Offset: 0, Length: 0, Stride: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.desc.IsValid(); got != tt.want {
				t.Errorf("%v.IsValid() = %v, want %v", tt.desc, got, tt.want)
			}
		})
	}
}

func TestBufferDescriptor_Advance(t *testing.T) {
	src := BufferDescriptor{Offset: 2, Length: 3, Stride: 5}

	for _, n := range []int{0, 1, 7, 100} {
		dst := src.Advance(n)
		if dst.Offset != src.Offset+n*src.Stride {
			t.Errorf("Advance(%d).Offset = %d, want %d", n, dst.Offset, src.Offset+n*src.Stride)
		}
		if dst.Length != src.Length || dst.Stride != src.Stride {
			t.Errorf("Advance(%d) changed length/stride: %v", n, dst)
		}
	}
	if src.Offset != 2 {
		t.Errorf("Advance modified the receiver: %v", src)
	}
}

func TestBufferDescriptor_Span(t *testing.T) {
	d := BufferDescriptor{Offset: 0, Length: 2, Stride: 5}
	tests := []struct {
		n    int
		want int
	}{
		{-1, 0},
		{0, 0},
		{1, 2},
		{3, 12},
	}
	for _, tt := range tests {
		if got := d.Span(tt.n); got != tt.want {
			t.Errorf("Span(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestBufferDescriptor_Reset(t *testing.T) {
	d := BufferDescriptor{Offset: 1, Length: 2, Stride: 3}
	d.Reset()
	if d != (BufferDescriptor{}) {
		t.Errorf("Reset() left %v", d)
	}
}

func TestBufferDescriptor_String(t *testing.T) {
	d := BufferDescriptor{Offset: 1, Length: 2, Stride: 3}
	if got, want := d.String(), "{offset=1 length=2 stride=3}"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
