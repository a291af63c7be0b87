package main

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
	"seehuhn.de/go/geom/vec"

	"github.com/gogpu/stencil"
	"github.com/gogpu/stencil/gpu"
)

// stride is the number of floats per point: x, y, r, g, b.
const stride = 5

var (
	positionDesc = stencil.BufferDescriptor{Offset: 0, Length: 2, Stride: stride}
	colorDesc    = stencil.BufferDescriptor{Offset: 2, Length: 3, Stride: stride}
)

// level is one subdivision step. Its control points start at point first of
// the curve buffer and its refined points follow them.
type level struct {
	ctx   *stencil.ComputeContext
	first int
}

// curve holds every level of a closed curve in one interleaved buffer:
// the control polygon, then the points of each level in order.
type curve struct {
	buf     []float32
	levels  []level
	weights int

	// last and lastCount locate the finest level's points.
	last, lastCount int
}

func newCurve(points, levels int) (*curve, error) {
	c := &curve{}

	count, first, total := points, 0, points
	for i := range levels {
		vertex, err := bsplineTable(count)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", i+1, err)
		}
		varying, err := linearTable(count)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", i+1, err)
		}
		ctx, err := stencil.NewComputeContext(count, vertex, varying)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", i+1, err)
		}
		c.levels = append(c.levels, level{ctx: ctx, first: first})
		c.weights += len(vertex.Weights()) + len(varying.Weights())

		first += count
		count *= 2
		total += count
	}
	c.last, c.lastCount = first, count
	c.buf = make([]float32, total*stride)

	// Star-shaped control polygon with a color wheel.
	for i := range points {
		angle := 2 * math.Pi * float64(i) / float64(points)
		radius := 0.45
		if i%2 == 1 {
			radius = 0.2
		}
		p := c.buf[i*stride : (i+1)*stride]
		p[0] = float32(0.5 + radius*math.Cos(angle))
		p[1] = float32(0.5 + radius*math.Sin(angle))
		p[2], p[3], p[4] = hue(float64(i) / float64(points))
	}
	return c, nil
}

// refine evaluates all levels in order. ModeAuto picks a mode per level.
func (c *curve) refine(mode stencil.ExecutionMode, workers int) error {
	controllers := make(map[stencil.ExecutionMode]*stencil.Controller)
	defer func() {
		for _, ctl := range controllers {
			ctl.Close()
		}
	}()

	for i, lv := range c.levels {
		m := mode
		if m == stencil.ModeAuto {
			m = stencil.SelectMode(lv.ctx.NumStencilsInVertexStencilTables(), gpu.Available())
		}
		ctl, ok := controllers[m]
		if !ok {
			ctl = stencil.NewController(stencil.WithExecutionMode(m), stencil.WithWorkers(workers))
			controllers[m] = ctl
		}

		// Both streams live in the same buffer at different components.
		err := ctl.Refine(lv.ctx, c.buf, positionDesc.Advance(lv.first), c.buf, colorDesc.Advance(lv.first))
		if err != nil {
			return fmt.Errorf("level %d: %w", i+1, err)
		}
		// The next level reads this level's output.
		if err := ctl.Synchronize(); err != nil {
			return fmt.Errorf("level %d: %w", i+1, err)
		}
	}
	return nil
}

// point returns position and color of point i of the finest level.
func (c *curve) point(i int) (vec.Vec2, color.RGBA) {
	p := c.buf[(c.last+i)*stride:]
	return vec.Vec2{X: float64(p[0]), Y: float64(p[1])},
		color.RGBA{R: to8(p[2]), G: to8(p[3]), B: to8(p[4]), A: 0xff}
}

// render fills the curve and strokes it with the interpolated colors.
func (c *curve) render(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{0x18, 0x1c, 0x28, 0xff}), image.Point{}, draw.Src)

	scale := float64(min(width, height))
	r := vector.NewRasterizer(width, height)

	for i := range c.lastCount {
		p, _ := c.point(i)
		if i == 0 {
			moveTo(r, p.Mul(scale))
		} else {
			lineTo(r, p.Mul(scale))
		}
	}
	r.ClosePath()
	r.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{0x30, 0x36, 0x48, 0xff}), image.Point{})

	const halfWidth = 2
	for i := range c.lastCount {
		a, col := c.point(i)
		b, _ := c.point((i + 1) % c.lastCount)
		r.Reset(width, height)
		segment(r, a.Mul(scale), b.Mul(scale), halfWidth)
		r.Draw(img, img.Bounds(), image.NewUniform(col), image.Point{})
	}
	return img
}

// segment adds a quad of half-width hw around the line a-b.
func segment(r *vector.Rasterizer, a, b vec.Vec2, hw float64) {
	d := b.Sub(a)
	length := d.Length()
	if length == 0 {
		return
	}
	// Extend along the segment so neighbouring quads overlap at joints.
	t := d.Mul(hw / length)
	n := vec.Vec2{X: -t.Y, Y: t.X}
	a, b = a.Sub(t), b.Add(t)

	moveTo(r, a.Add(n))
	lineTo(r, b.Add(n))
	lineTo(r, b.Sub(n))
	lineTo(r, a.Sub(n))
	r.ClosePath()
}

func moveTo(r *vector.Rasterizer, p vec.Vec2) { r.MoveTo(float32(p.X), float32(p.Y)) }
func lineTo(r *vector.Rasterizer, p vec.Vec2) { r.LineTo(float32(p.X), float32(p.Y)) }

// hue returns a saturated color for t in [0, 1).
func hue(t float64) (r, g, b float32) {
	channel := func(phase float64) float32 {
		return float32(0.5 + 0.5*math.Cos(2*math.Pi*(t-phase)))
	}
	return channel(0), channel(1.0 / 3), channel(2.0 / 3)
}

func to8(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
}
