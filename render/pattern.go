package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/redforks/nipdf/contentstream"
	"github.com/redforks/nipdf/coords"
)

// maxTile bounds the side of a rendered pattern cell, in pixels.
const maxTile = 2048

func (r *Raster) Shade(sh *contentstream.Shading, alpha float64, st contentstream.DrawState) {
	area := r.Dst.Bounds()
	if sh.BBox != nil {
		area = area.Intersect(pixelBounds(sh.BBox.Transform(st.CTM)))
	}
	area = r.clipArea(area, st.Clip)
	if area.Empty() {
		return
	}
	inv, err := st.CTM.Inverse()
	if err != nil {
		return
	}
	src := shadeImage(sh, inv, area, false, unit8(alpha))
	var mask image.Image
	if st.Clip != nil {
		mask = r.clipMask(st.Clip)
	}
	draw.DrawMask(r.Dst, area, src, area.Min, mask, area.Min, draw.Over)
}

// shadeImage evaluates sh at the centre of every pixel of area; inv maps
// device space to shading space. Pattern fills also paint the shading's
// Background where the shading itself paints nothing.
func shadeImage(sh *contentstream.Shading, inv coords.Matrix, area image.Rectangle, background bool, alpha uint8) *image.NRGBA {
	out := image.NewNRGBA(area)
	bg, hasBG := sh.BackgroundColor()
	hasBG = hasBG && background
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			p := inv.Transform(coords.Point{X: float64(x) + 0.5, Y: float64(y) + 0.5})
			c, ok := sh.At(p)
			if !ok {
				if !hasBG {
					continue
				}
				c = bg
			}
			c.A = alpha
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// patternSource renders the pattern paint over area. A nil image means
// nothing is painted.
func (r *Raster) patternSource(paint contentstream.Paint, area image.Rectangle) (image.Image, error) {
	pat := paint.Pattern
	inv, err := pat.Matrix.Inverse()
	if err != nil {
		return nil, nil
	}
	if pat.Shading != nil {
		return shadeImage(pat.Shading, inv, area, true, paint.Color.A), nil
	}
	if pat.Tiling == nil {
		return nil, nil
	}
	t, err := r.tile(pat.Tiling, pat.Matrix)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(area)
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			q := inv.Transform(coords.Point{X: float64(x) + 0.5, Y: float64(y) + 0.5})
			c := t.at(q)
			if c.A == 0 {
				continue
			}
			if !pat.Tiling.Colored {
				// the cell's coverage masks the paint colour
				a := uint32(c.A) * uint32(paint.Color.A) / 255
				out.SetRGBA(x, y, color.RGBA{
					R: uint8(uint32(paint.Color.R) * a / 255),
					G: uint8(uint32(paint.Color.G) * a / 255),
					B: uint8(uint32(paint.Color.B) * a / 255),
					A: uint8(a),
				})
				continue
			}
			if pa := uint32(paint.Color.A); pa < 255 {
				c = color.RGBA{
					R: uint8(uint32(c.R) * pa / 255),
					G: uint8(uint32(c.G) * pa / 255),
					B: uint8(uint32(c.B) * pa / 255),
					A: uint8(uint32(c.A) * pa / 255),
				}
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out, nil
}

type tileKey struct {
	t *contentstream.Tiling
	m coords.Matrix
}

// tile is one pattern cell rendered at device resolution. Cell pixel
// (u, v) holds pattern point (ox + u/kx, oy + v/ky).
type tile struct {
	img          *image.RGBA
	ox, oy       float64
	xstep, ystep float64
	kx, ky       float64
}

func (t *tile) at(q coords.Point) color.RGBA {
	u := mod(q.X-t.ox, t.xstep) * t.kx
	v := mod(q.Y-t.oy, t.ystep) * t.ky
	b := t.img.Rect
	ix := clampInt(int(u), 0, b.Dx()-1)
	iy := clampInt(int(v), 0, b.Dy()-1)
	return t.img.RGBAAt(ix, iy)
}

// tile renders the cell of pattern t, whose pattern space maps to device
// space through m.
func (r *Raster) tile(t *contentstream.Tiling, m coords.Matrix) (*tile, error) {
	key := tileKey{t, m}
	if tl, ok := r.tiles[key]; ok {
		return tl, nil
	}
	xs, ys := math.Abs(t.XStep), math.Abs(t.YStep)
	sx, sy := math.Hypot(m[0], m[1]), math.Hypot(m[2], m[3])
	tw := clampInt(int(math.Ceil(xs*sx)), 1, maxTile)
	th := clampInt(int(math.Ceil(ys*sy)), 1, maxTile)
	tl := &tile{
		img:   image.NewRGBA(image.Rect(0, 0, tw, th)),
		ox:    t.BBox.MinX,
		oy:    t.BBox.MinY,
		xstep: xs,
		ystep: ys,
		kx:    float64(tw) / xs,
		ky:    float64(th) / ys,
	}
	cell := NewRaster(r.ctx, tl.img, r.codec, r.warn)
	tm := coords.Translate(-tl.ox, -tl.oy).Multiply(coords.Scale(tl.kx, tl.ky))
	if err := t.Draw(r.ctx, cell, tm); err != nil {
		if cerr := r.ctx.Err(); cerr != nil {
			return nil, cerr
		}
		r.warn(err)
	}
	r.tiles[key] = tl
	return tl, nil
}

func mod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m < 0 {
		m += b
	}
	return m
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
