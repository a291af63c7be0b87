// Command stencildemo refines a closed cubic B-spline curve with stencil
// tables and renders the finest level to PNG.
package main

import (
	"flag"
	"image/png"
	"log"
	"log/slog"
	"os"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/stencil"
)

func main() {
	var (
		points  = flag.Int("points", 8, "control points of the closed polygon")
		levels  = flag.Int("levels", 6, "subdivision levels")
		mode    = flag.String("mode", "auto", "execution mode: auto, serial, parallel, wide, dynamic, gpu")
		workers = flag.Int("workers", 0, "goroutines for pool-backed modes (0 = default)")
		width   = flag.Int("width", 800, "image width")
		height  = flag.Int("height", 800, "image height")
		output  = flag.String("output", "curve.png", "output file")
		verbose = flag.Bool("v", false, "log kernel diagnostics")
	)
	flag.Parse()

	if *verbose {
		stencil.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	m, err := stencil.ParseExecutionMode(*mode)
	if err != nil {
		log.Fatal(err)
	}
	if *points < 3 {
		log.Fatalf("need at least 3 control points, got %d", *points)
	}

	c, err := newCurve(*points, *levels)
	if err != nil {
		log.Fatalf("Failed to build stencil tables: %v", err)
	}

	start := time.Now()
	if err := c.refine(m, *workers); err != nil {
		log.Fatalf("Failed to refine: %v", err)
	}
	elapsed := time.Since(start)

	if err := savePNG(*output, c, *width, *height); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}

	p := message.NewPrinter(language.English)
	p.Printf("%d levels: %d control points -> %d points, %d weights applied in %v\n",
		*levels, *points, c.lastCount, c.weights, elapsed)
	log.Printf("Curve saved to %s (%dx%d)\n", *output, *width, *height)
}

func savePNG(path string, c *curve, width, height int) (err error) {
	f, err := os.Create(path) //nolint:gosec // user-provided output path
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return png.Encode(f, c.render(width, height))
}
