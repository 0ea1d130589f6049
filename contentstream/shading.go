package contentstream

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/redforks/nipdf/cmm"
	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/function"
	"github.com/redforks/nipdf/ir/raw"
)

// ErrUnsupportedShading reports mesh shadings, types 4 to 7, and unknown
// shading types.
var ErrUnsupportedShading = errors.New("unsupported shading type")

const lutSize = 256

// Shading is a parsed function-based (1), axial (2) or radial (3)
// shading dictionary.
type Shading struct {
	Type       int
	ColorSpace cmm.ColorSpace
	Function   function.Function
	// Coords is [x0 y0 x1 y1] for axial and [x0 y0 r0 x1 y1 r1] for
	// radial shadings.
	Coords []float64
	// Domain is [t0 t1], or [x0 x1 y0 y1] for function-based shadings.
	Domain []float64
	Extend [2]bool
	// Matrix maps the domain of a function-based shading to shading
	// space.
	Matrix     coords.Matrix
	Background []float64
	BBox       *coords.Rect

	inverse coords.Matrix
	lut     []color.NRGBA
	valid   []bool
}

// ParseShading builds a shading from a dictionary or stream.
func ParseShading(ctx context.Context, src raw.Source, obj raw.Object, spaces *cmm.Cache, funcs *function.Cache) (*Shading, error) {
	d, ok := raw.DictOf(ctx, src, obj)
	if !ok {
		return nil, errors.New("shading is not a dictionary")
	}
	typ, _ := raw.IntOf(ctx, src, d.Lookup(ctx, src, "ShadingType"))
	if typ < 1 || typ > 3 {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedShading, typ)
	}
	cs, err := spaces.Get(ctx, src, d.Lookup(ctx, src, "ColorSpace"))
	if err != nil {
		return nil, fmt.Errorf("shading color space: %w", err)
	}
	if _, isPattern := cs.(*cmm.Pattern); isPattern {
		return nil, errors.New("shading in Pattern color space")
	}
	fn, err := funcs.Get(ctx, src, d.Lookup(ctx, src, "Function"))
	if err != nil {
		return nil, fmt.Errorf("shading function: %w", err)
	}
	s := &Shading{Type: int(typ), ColorSpace: cs, Function: fn, Matrix: coords.Identity()}
	if bg, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "Background")); ok && len(bg) == cs.NumComponents() {
		s.Background = bg
	}
	if v, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "BBox")); ok && len(v) == 4 {
		r := coords.NewRect(v[0], v[1], v[2], v[3])
		s.BBox = &r
	}
	s.Domain, _ = raw.Floats(ctx, src, d.Lookup(ctx, src, "Domain"))

	if s.Type == 1 {
		if len(s.Domain) != 4 {
			s.Domain = []float64{0, 1, 0, 1}
		}
		if m, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "Matrix")); ok && len(m) == 6 {
			copy(s.Matrix[:], m)
		}
		if s.inverse, err = s.Matrix.Inverse(); err != nil {
			return nil, fmt.Errorf("shading matrix: %w", err)
		}
		return s, nil
	}

	want := 4
	if s.Type == 3 {
		want = 6
	}
	s.Coords, _ = raw.Floats(ctx, src, d.Lookup(ctx, src, "Coords"))
	if len(s.Coords) != want {
		return nil, fmt.Errorf("shading type %d needs %d coords, got %d", s.Type, want, len(s.Coords))
	}
	if len(s.Domain) != 2 {
		s.Domain = []float64{0, 1}
	}
	if ext, ok := raw.ArrayOf(ctx, src, d.Lookup(ctx, src, "Extend")); ok && ext.Len() == 2 {
		for i, it := range ext.Items {
			if b, ok := raw.Deref(ctx, src, it).(raw.BoolObj); ok {
				s.Extend[i] = b.V
			}
		}
	}
	s.buildLUT()
	return s, nil
}

func (s *Shading) buildLUT() {
	s.lut = make([]color.NRGBA, lutSize)
	s.valid = make([]bool, lutSize)
	t0, t1 := s.Domain[0], s.Domain[1]
	for i := range s.lut {
		t := t0 + (t1-t0)*float64(i)/float64(lutSize-1)
		s.lut[i], s.valid[i] = s.eval([]float64{t})
	}
}

func (s *Shading) eval(in []float64) (color.NRGBA, bool) {
	out, err := s.Function.Eval(in)
	if err != nil || len(out) == 0 {
		return color.NRGBA{}, false
	}
	return cmm.NRGBA(s.ColorSpace, out, 1), true
}

// BackgroundColor is the colour painted outside the shading's extent when
// it is used as a pattern.
func (s *Shading) BackgroundColor() (color.NRGBA, bool) {
	if s.Background == nil {
		return color.NRGBA{}, false
	}
	return cmm.NRGBA(s.ColorSpace, s.Background, 1), true
}

// At returns the opaque colour of the shading at p in shading space; ok
// is false where the shading paints nothing.
func (s *Shading) At(p coords.Point) (c color.NRGBA, ok bool) {
	if s.BBox != nil && (p.X < s.BBox.MinX || p.X > s.BBox.MaxX || p.Y < s.BBox.MinY || p.Y > s.BBox.MaxY) {
		return color.NRGBA{}, false
	}
	switch s.Type {
	case 1:
		q := s.inverse.Transform(p)
		if q.X < s.Domain[0] || q.X > s.Domain[1] || q.Y < s.Domain[2] || q.Y > s.Domain[3] {
			return color.NRGBA{}, false
		}
		return s.eval([]float64{q.X, q.Y})
	case 2:
		u, ok := s.axial(p)
		if !ok {
			return color.NRGBA{}, false
		}
		return s.lookup(u)
	case 3:
		u, ok := s.radial(p)
		if !ok {
			return color.NRGBA{}, false
		}
		return s.lookup(u)
	}
	return color.NRGBA{}, false
}

// lookup maps the normalized parameter u in [0,1] through the LUT.
func (s *Shading) lookup(u float64) (color.NRGBA, bool) {
	i := int(math.Round(u * (lutSize - 1)))
	if i < 0 {
		i = 0
	} else if i >= lutSize {
		i = lutSize - 1
	}
	return s.lut[i], s.valid[i]
}

// extend clamps u to [0,1] when the matching Extend flag allows it.
func (s *Shading) extend(u float64) (float64, bool) {
	switch {
	case u < 0:
		return 0, s.Extend[0]
	case u > 1:
		return 1, s.Extend[1]
	}
	return u, true
}

func (s *Shading) axial(p coords.Point) (float64, bool) {
	x0, y0, x1, y1 := s.Coords[0], s.Coords[1], s.Coords[2], s.Coords[3]
	dx, dy := x1-x0, y1-y0
	den := dx*dx + dy*dy
	if den == 0 {
		return 0, false
	}
	return s.extend(((p.X-x0)*dx + (p.Y-y0)*dy) / den)
}

// radial solves |p - c(u)| = r(u) for the largest u whose circle is
// painted, where c and r interpolate between the two circles.
func (s *Shading) radial(p coords.Point) (float64, bool) {
	x0, y0, r0 := s.Coords[0], s.Coords[1], s.Coords[2]
	cdx, cdy, dr := s.Coords[3]-x0, s.Coords[4]-y0, s.Coords[5]-r0
	pdx, pdy := p.X-x0, p.Y-y0
	a := cdx*cdx + cdy*cdy - dr*dr
	b := pdx*cdx + pdy*cdy + r0*dr
	c := pdx*pdx + pdy*pdy - r0*r0

	var cands []float64
	if math.Abs(a) < 1e-9 {
		if b == 0 {
			return 0, false
		}
		cands = []float64{c / (2 * b)}
	} else {
		disc := b*b - a*c
		if disc < 0 {
			return 0, false
		}
		sq := math.Sqrt(disc)
		u1, u2 := (b+sq)/a, (b-sq)/a
		if u2 > u1 {
			u1, u2 = u2, u1
		}
		cands = []float64{u1, u2}
	}
	for _, u := range cands {
		if r0+u*dr < 0 {
			continue
		}
		if v, ok := s.extend(u); ok {
			return v, true
		}
	}
	return 0, false
}
