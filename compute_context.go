package stencil

import (
	"errors"
	"fmt"
)

var (
	// ErrNegativeControlVertices is returned for a negative control vertex count.
	ErrNegativeControlVertices = errors.New("stencil: negative control vertex count")

	// ErrIndexOutOfRange is returned when a table references a source point
	// outside the control vertex region.
	ErrIndexOutOfRange = errors.New("stencil: source index outside control vertices")
)

// ComputeContext binds the stencil tables of one refinement level to the
// number of control vertices that precede the refined points in the shared
// buffer.
//
// Either table may be nil when the level has no data for that stream. A
// ComputeContext is read-only once built and may be used by several
// controllers at the same time.
type ComputeContext struct {
	vertex  *Table
	varying *Table

	numControlVertices int
}

// NewComputeContext creates a context for one refinement level.
//
// Every index referenced by a table must address one of the
// numControlVertices source points, so refined points are always written to
// a region disjoint from the points they are computed from.
func NewComputeContext(numControlVertices int, vertex, varying *Table) (*ComputeContext, error) {
	if numControlVertices < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeControlVertices, numControlVertices)
	}
	if m := vertex.MaxSourceIndex(); m >= numControlVertices {
		return nil, fmt.Errorf("%w: vertex table index %d, %d control vertices",
			ErrIndexOutOfRange, m, numControlVertices)
	}
	if m := varying.MaxSourceIndex(); m >= numControlVertices {
		return nil, fmt.Errorf("%w: varying table index %d, %d control vertices",
			ErrIndexOutOfRange, m, numControlVertices)
	}
	return &ComputeContext{
		vertex:             vertex,
		varying:            varying,
		numControlVertices: numControlVertices,
	}, nil
}

// HasVertexStencilTables reports whether the context carries a vertex table.
// A table with zero stencils still counts as present.
func (c *ComputeContext) HasVertexStencilTables() bool { return c.vertex != nil }

// HasVaryingStencilTables reports whether the context carries a varying table.
func (c *ComputeContext) HasVaryingStencilTables() bool { return c.varying != nil }

// NumStencilsInVertexStencilTables returns the number of vertex stencils.
func (c *ComputeContext) NumStencilsInVertexStencilTables() int { return c.vertex.NumStencils() }

// NumStencilsInVaryingStencilTables returns the number of varying stencils.
func (c *ComputeContext) NumStencilsInVaryingStencilTables() int { return c.varying.NumStencils() }

// VertexStencilTables returns the vertex table, or nil.
func (c *ComputeContext) VertexStencilTables() *Table { return c.vertex }

// VaryingStencilTables returns the varying table, or nil.
func (c *ComputeContext) VaryingStencilTables() *Table { return c.varying }

// NumControlVertices returns the number of points preceding the refined
// region in each stream.
func (c *ComputeContext) NumControlVertices() int { return c.numControlVertices }
