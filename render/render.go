// Package render turns a page's content stream into pixels. The
// Renderer runs the content-stream interpreter against a Raster, a
// software drawing backend built on x/image and freetype.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/redforks/nipdf/contentstream"
	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/observability"
	"github.com/redforks/nipdf/resources"
)

// ErrRasterSize reports a requested output larger than Options.MaxPixels
// or a page with no area.
var ErrRasterSize = errors.New("raster size out of range")

const defaultMaxPixels = 1 << 27

// Options select the output size. When Width or Height is set the page is
// fitted to it: both set stretch the page, one keeps the aspect ratio.
// Otherwise Scale, in pixels per point, applies; zero means 1.
type Options struct {
	Width, Height int
	Scale         float64
	// Background fills the raster before drawing; nil is white. A fully
	// transparent colour leaves the raster transparent.
	Background color.Color
	// MaxPixels bounds Width*Height of the output. Zero means 1<<27.
	MaxPixels int64
}

// Result is a finished page.
type Result struct {
	Image *image.RGBA
	// Warnings lists everything that was skipped while drawing.
	Warnings []error
}

// Renderer renders pages of one document. It is safe for concurrent use:
// every RenderPage call owns its raster and graphics state.
type Renderer struct {
	proc  *contentstream.Processor
	src   raw.Source
	codec ImageCodec
	log   observability.Logger
}

// NewRenderer returns a renderer running proc over objects from src. A
// nil codec means DefaultCodec.
func NewRenderer(proc *contentstream.Processor, src raw.Source, codec ImageCodec, log observability.Logger) *Renderer {
	if codec == nil {
		codec = DefaultCodec{}
	}
	return &Renderer{proc: proc, src: src, codec: codec, log: observability.OrNop(log)}
}

// RenderPage draws page. The only errors are an unusable output size and
// the end of ctx; no partial raster is returned in either case.
func (r *Renderer) RenderPage(ctx context.Context, page *resources.Page, opts Options) (*Result, error) {
	m, w, h, err := PageTransform(page, opts)
	if err != nil {
		return nil, err
	}
	res := &Result{Image: image.NewRGBA(image.Rect(0, 0, w, h))}
	warn := func(err error) { res.Warnings = append(res.Warnings, err) }
	fillBackground(res.Image, opts.Background)

	data, err := page.Contents(ctx, r.src, warn)
	if err != nil {
		return nil, err
	}
	gs := contentstream.NewGraphicsState(m)
	crop := new(coords.Path)
	cb := page.CropBox
	crop.Rectangle(cb.MinX, cb.MinY, cb.Width(), cb.Height())
	gs.ClipTo(crop, contentstream.NonZero)

	var devWarnings []error
	dev := NewRaster(ctx, res.Image, r.codec, func(err error) { devWarnings = append(devWarnings, err) })
	runWarnings, err := r.proc.Run(ctx, data, resources.PageScope{Page: page}, gs, dev)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, runWarnings...)
	res.Warnings = append(res.Warnings, devWarnings...)
	if len(res.Warnings) > 0 {
		r.log.Debug("page rendered with warnings",
			observability.Int("page", page.Index),
			observability.Int("warnings", len(res.Warnings)))
	}
	return res, nil
}

// PageTransform returns the matrix from default user space to raster
// pixels and the raster size. The crop box fills the raster with the
// page's rotation applied and the y axis pointing down.
func PageTransform(page *resources.Page, opts Options) (coords.Matrix, int, int, error) {
	cb := page.CropBox
	pw, ph := page.Size()
	if pw <= 0 || ph <= 0 {
		return coords.Matrix{}, 0, 0, fmt.Errorf("%w: empty page box", ErrRasterSize)
	}
	var sx, sy float64
	switch {
	case opts.Width > 0 && opts.Height > 0:
		sx, sy = float64(opts.Width)/pw, float64(opts.Height)/ph
	case opts.Width > 0:
		sx = float64(opts.Width) / pw
		sy = sx
	case opts.Height > 0:
		sy = float64(opts.Height) / ph
		sx = sy
	default:
		sx = opts.Scale
		if sx <= 0 {
			sx = 1
		}
		sy = sx
	}
	limit := opts.MaxPixels
	if limit <= 0 {
		limit = defaultMaxPixels
	}
	// checked before the int conversion, which is undefined for huge floats
	if fw, fh := pw*sx, ph*sy; fw > float64(limit) || fh > float64(limit) {
		return coords.Matrix{}, 0, 0, fmt.Errorf("%w: %.0fx%.0f", ErrRasterSize, fw, fh)
	}
	w, h := int(math.Ceil(pw*sx-1e-9)), int(math.Ceil(ph*sy-1e-9))
	if opts.Width > 0 {
		w = opts.Width
	}
	if opts.Height > 0 {
		h = opts.Height
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if int64(w) > limit/int64(h) {
		return coords.Matrix{}, 0, 0, fmt.Errorf("%w: %dx%d", ErrRasterSize, w, h)
	}

	// rotate the crop box into a top-left origin, then scale
	x0, y0, x1, y1 := cb.MinX, cb.MinY, cb.MaxX, cb.MaxY
	var m coords.Matrix
	switch page.Rotate {
	case 90:
		m = coords.Matrix{0, 1, 1, 0, -y0, -x0}
	case 180:
		m = coords.Matrix{-1, 0, 0, 1, x1, -y0}
	case 270:
		m = coords.Matrix{0, -1, -1, 0, y1, x1}
	default:
		m = coords.Matrix{1, 0, 0, -1, -x0, y1}
	}
	return m.Multiply(coords.Scale(sx, sy)), w, h, nil
}
