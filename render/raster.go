package render

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/golang/freetype/raster"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/redforks/nipdf/contentstream"
	"github.com/redforks/nipdf/coords"
)

// Raster is the drawing backend. It implements contentstream.Device by
// painting onto an RGBA image in device space. A Raster belongs to one
// page and is not safe for concurrent use.
type Raster struct {
	Dst *image.RGBA

	ctx   context.Context
	codec ImageCodec
	warn  func(error)

	clips  map[*contentstream.Clip]*image.Alpha
	images map[*contentstream.Image]*image.NRGBA
	tiles  map[tileKey]*tile
	vr     *vector.Rasterizer
	fr     *raster.Rasterizer
}

// NewRaster returns a backend drawing onto dst. warn receives failures
// that leave part of the page unpainted, such as undecodable images.
func NewRaster(ctx context.Context, dst *image.RGBA, codec ImageCodec, warn func(error)) *Raster {
	if codec == nil {
		codec = DefaultCodec{}
	}
	if warn == nil {
		warn = func(error) {}
	}
	return &Raster{
		Dst:    dst,
		ctx:    ctx,
		codec:  codec,
		warn:   warn,
		clips:  make(map[*contentstream.Clip]*image.Alpha),
		images: make(map[*contentstream.Image]*image.NRGBA),
		tiles:  make(map[tileKey]*tile),
	}
}

func (r *Raster) Fill(path *coords.Path, rule contentstream.FillRule, paint contentstream.Paint, st contentstream.DrawState) {
	dp := path.Transform(st.CTM)
	area := r.clipArea(pixelBounds(dp.Bounds()), st.Clip)
	if area.Empty() {
		return
	}
	mask := r.coverage(dp, rule, area)
	r.composite(area, mask, paint, st)
}

func (r *Raster) Stroke(path *coords.Path, style contentstream.StrokeStyle, paint contentstream.Paint, st contentstream.DrawState) {
	dp := path.Transform(st.CTM)
	scale := st.CTM.ExpansionFactor()
	width := style.Width * scale
	if width < 1 {
		// zero and sub-pixel widths draw the thinnest visible line
		width = 1
	}
	hw := math.Ceil(width/2 + 1)
	b := dp.Bounds()
	b = coords.Rect{MinX: b.MinX - hw, MinY: b.MinY - hw, MaxX: b.MaxX + hw, MaxY: b.MaxY + hw}
	area := r.clipArea(pixelBounds(b), st.Clip)
	if area.Empty() {
		return
	}
	polys := flatten(dp)
	if len(style.Dash.Array) > 0 {
		polys = dash(polys, scaleDash(style.Dash, scale))
	}
	mask := r.strokeCoverage(polys, width, style, area)
	r.composite(area, mask, paint, st)
}

// clipArea limits a device rectangle to the destination and the clip.
func (r *Raster) clipArea(area image.Rectangle, clip *contentstream.Clip) image.Rectangle {
	area = area.Intersect(r.Dst.Bounds())
	if clip != nil && !area.Empty() {
		area = area.Intersect(r.clipMask(clip).Rect)
	}
	return area
}

// composite paints paint through mask, then through the clip.
func (r *Raster) composite(area image.Rectangle, mask *image.Alpha, paint contentstream.Paint, st contentstream.DrawState) {
	if st.Clip != nil {
		mulMask(mask, r.clipMask(st.Clip))
	}
	if paint.Pattern != nil {
		src, err := r.patternSource(paint, area)
		if err != nil {
			r.warn(err)
			return
		}
		if src == nil {
			return
		}
		draw.DrawMask(r.Dst, area, src, area.Min, mask, area.Min, draw.Over)
		return
	}
	if paint.Color.A == 0 {
		return
	}
	draw.DrawMask(r.Dst, area, image.NewUniform(paint.Color), image.Point{}, mask, area.Min, draw.Over)
}

// clipMask returns the coverage of a clip chain. The mask's Rect bounds
// the visible region; pixels outside it are clipped away.
func (r *Raster) clipMask(c *contentstream.Clip) *image.Alpha {
	if m, ok := r.clips[c]; ok {
		return m
	}
	area := pixelBounds(c.Path.Bounds()).Intersect(r.Dst.Bounds())
	var parent *image.Alpha
	if c.Parent != nil {
		parent = r.clipMask(c.Parent)
		area = area.Intersect(parent.Rect)
	}
	var m *image.Alpha
	if area.Empty() {
		m = &image.Alpha{}
	} else {
		m = r.coverage(c.Path, c.Rule, area)
		if parent != nil {
			mulMask(m, parent)
		}
	}
	r.clips[c] = m
	return m
}

// coverage rasterizes a device-space path into an alpha mask covering
// area. Non-zero fills use x/image/vector; even-odd fills need the
// freetype rasterizer's winding switch.
func (r *Raster) coverage(p *coords.Path, rule contentstream.FillRule, area image.Rectangle) *image.Alpha {
	w, h := area.Dx(), area.Dy()
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	ox, oy := float64(area.Min.X), float64(area.Min.Y)
	if rule == contentstream.EvenOdd {
		fr := r.freetype(w, h)
		fr.UseNonZeroWinding = false
		addFixed(fr, p, ox, oy)
		fr.Rasterize(raster.NewAlphaSrcPainter(mask))
	} else {
		if r.vr == nil {
			r.vr = vector.NewRasterizer(w, h)
		} else {
			r.vr.Reset(w, h)
		}
		addVector(r.vr, p, ox, oy)
		r.vr.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	}
	mask.Rect = mask.Rect.Add(area.Min)
	return mask
}

func (r *Raster) strokeCoverage(polys [][]coords.Point, width float64, style contentstream.StrokeStyle, area image.Rectangle) *image.Alpha {
	w, h := area.Dx(), area.Dy()
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	ox, oy := float64(area.Min.X), float64(area.Min.Y)
	var q raster.Path
	for _, poly := range polys {
		if len(poly) < 2 {
			continue
		}
		q.Start(fix(poly[0], ox, oy))
		for _, pt := range poly[1:] {
			q.Add1(fix(pt, ox, oy))
		}
	}
	if len(q) > 0 {
		fr := r.freetype(w, h)
		fr.UseNonZeroWinding = true
		fr.AddStroke(q, fixed.Int26_6(width*64), capper(style.Cap), joiner(style.Join))
		fr.Rasterize(raster.NewAlphaSrcPainter(mask))
	}
	mask.Rect = mask.Rect.Add(area.Min)
	return mask
}

func (r *Raster) freetype(w, h int) *raster.Rasterizer {
	if r.fr == nil {
		r.fr = raster.NewRasterizer(w, h)
	} else {
		r.fr.SetBounds(w, h)
	}
	r.fr.Clear()
	return r.fr
}

func capper(c contentstream.LineCap) raster.Capper {
	switch c {
	case contentstream.LineCapRound:
		return raster.RoundCapper
	case contentstream.LineCapSquare:
		return raster.SquareCapper
	}
	return raster.ButtCapper
}

// joiner maps line joins; miter joins are drawn round.
func joiner(j contentstream.LineJoin) raster.Joiner {
	if j == contentstream.LineJoinBevel {
		return raster.BevelJoiner
	}
	return raster.RoundJoiner
}

func fix(p coords.Point, ox, oy float64) fixed.Point26_6 {
	return fixed.Point26_6{X: fixed.Int26_6((p.X - ox) * 64), Y: fixed.Int26_6((p.Y - oy) * 64)}
}

// addVector feeds p to z, closing every subpath.
func addVector(z *vector.Rasterizer, p *coords.Path, ox, oy float64) {
	f := func(pt coords.Point) (float32, float32) { return float32(pt.X - ox), float32(pt.Y - oy) }
	open := false
	for _, s := range p.Segs {
		switch s.Op {
		case coords.OpMoveTo:
			if open {
				z.ClosePath()
			}
			z.MoveTo(f(s.Pts[0]))
			open = true
		case coords.OpLineTo:
			z.LineTo(f(s.Pts[0]))
		case coords.OpQuadTo:
			x1, y1 := f(s.Pts[0])
			x2, y2 := f(s.Pts[1])
			z.QuadTo(x1, y1, x2, y2)
		case coords.OpCubeTo:
			x1, y1 := f(s.Pts[0])
			x2, y2 := f(s.Pts[1])
			x3, y3 := f(s.Pts[2])
			z.CubeTo(x1, y1, x2, y2, x3, y3)
		case coords.OpClose:
			z.ClosePath()
			open = false
		}
	}
	if open {
		z.ClosePath()
	}
}

// addFixed feeds p to the freetype rasterizer, closing every subpath.
func addFixed(fr *raster.Rasterizer, p *coords.Path, ox, oy float64) {
	var start fixed.Point26_6
	open := false
	for _, s := range p.Segs {
		switch s.Op {
		case coords.OpMoveTo:
			if open {
				fr.Add1(start)
			}
			start = fix(s.Pts[0], ox, oy)
			fr.Start(start)
			open = true
		case coords.OpLineTo:
			fr.Add1(fix(s.Pts[0], ox, oy))
		case coords.OpQuadTo:
			fr.Add2(fix(s.Pts[0], ox, oy), fix(s.Pts[1], ox, oy))
		case coords.OpCubeTo:
			fr.Add3(fix(s.Pts[0], ox, oy), fix(s.Pts[1], ox, oy), fix(s.Pts[2], ox, oy))
		case coords.OpClose:
			fr.Add1(start)
			open = false
		}
	}
	if open {
		fr.Add1(start)
	}
}

// pixelBounds returns the pixels touched by a device rectangle.
func pixelBounds(b coords.Rect) image.Rectangle {
	if b.MaxX < b.MinX || b.MaxY < b.MinY || math.IsNaN(b.MinX) || math.IsNaN(b.MinY) {
		return image.Rectangle{}
	}
	const lim = 1 << 24
	cl := func(v float64) int { return int(math.Max(-lim, math.Min(lim, v))) }
	return image.Rect(cl(math.Floor(b.MinX)), cl(math.Floor(b.MinY)), cl(math.Ceil(b.MaxX)), cl(math.Ceil(b.MaxY)))
}

// mulMask multiplies dst by m over dst's Rect; pixels of dst outside m
// become transparent.
func mulMask(dst, m *image.Alpha) {
	for y := dst.Rect.Min.Y; y < dst.Rect.Max.Y; y++ {
		row := dst.Pix[dst.PixOffset(dst.Rect.Min.X, y):]
		for x := dst.Rect.Min.X; x < dst.Rect.Max.X; x++ {
			i := x - dst.Rect.Min.X
			if row[i] == 0 {
				continue
			}
			a := m.AlphaAt(x, y).A
			row[i] = uint8((uint32(row[i])*uint32(a) + 127) / 255)
		}
	}
}

// scaleAlpha multiplies every pixel of m by a/255.
func scaleAlpha(m *image.Alpha, a uint8) {
	if a == 255 {
		return
	}
	for i, v := range m.Pix {
		m.Pix[i] = uint8((uint32(v)*uint32(a) + 127) / 255)
	}
}

func fillBackground(dst *image.RGBA, c color.Color) {
	if c == nil {
		c = color.White
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}
