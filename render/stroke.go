package render

import (
	"math"

	"github.com/redforks/nipdf/contentstream"
	"github.com/redforks/nipdf/coords"
)

// flatTolerance is the maximum distance, in device pixels, between a
// curve and its flattened polyline.
const flatTolerance = 0.25

// flatten converts a device-space path into polylines, one per subpath.
// Closed subpaths end at their first point.
func flatten(p *coords.Path) [][]coords.Point {
	var out [][]coords.Point
	var cur []coords.Point
	flush := func() {
		if len(cur) > 0 {
			out = append(out, cur)
		}
		cur = nil
	}
	last := func() coords.Point { return cur[len(cur)-1] }
	for _, s := range p.Segs {
		switch s.Op {
		case coords.OpMoveTo:
			flush()
			cur = []coords.Point{s.Pts[0]}
		case coords.OpLineTo:
			if cur == nil {
				cur = []coords.Point{s.Pts[0]}
				continue
			}
			cur = append(cur, s.Pts[0])
		case coords.OpQuadTo:
			if cur == nil {
				continue
			}
			p0 := last()
			n := segments(dist(p0, s.Pts[0]) + dist(s.Pts[0], s.Pts[1]))
			for i := 1; i <= n; i++ {
				t := float64(i) / float64(n)
				u := 1 - t
				cur = append(cur, coords.Point{
					X: u*u*p0.X + 2*u*t*s.Pts[0].X + t*t*s.Pts[1].X,
					Y: u*u*p0.Y + 2*u*t*s.Pts[0].Y + t*t*s.Pts[1].Y,
				})
			}
		case coords.OpCubeTo:
			if cur == nil {
				continue
			}
			p0 := last()
			n := segments(dist(p0, s.Pts[0]) + dist(s.Pts[0], s.Pts[1]) + dist(s.Pts[1], s.Pts[2]))
			for i := 1; i <= n; i++ {
				t := float64(i) / float64(n)
				u := 1 - t
				a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
				cur = append(cur, coords.Point{
					X: a*p0.X + b*s.Pts[0].X + c*s.Pts[1].X + d*s.Pts[2].X,
					Y: a*p0.Y + b*s.Pts[0].Y + c*s.Pts[1].Y + d*s.Pts[2].Y,
				})
			}
		case coords.OpClose:
			if len(cur) > 0 {
				first := cur[0]
				cur = append(cur, first)
				flush()
				// drawing continues from the start of the closed subpath
				cur = []coords.Point{first}
			}
		}
	}
	flush()
	return out
}

// segments picks the number of chords for a curve whose control polygon
// has length l.
func segments(l float64) int {
	n := int(math.Ceil(math.Sqrt(l / flatTolerance)))
	if n < 1 {
		return 1
	}
	if n > 256 {
		return 256
	}
	return n
}

func dist(a, b coords.Point) float64 { return math.Hypot(b.X-a.X, b.Y-a.Y) }

// scaleDash converts a user-space dash pattern to device units. Patterns
// whose dashes are all zero, or that contain negative lengths, draw solid.
func scaleDash(d contentstream.Dash, scale float64) contentstream.Dash {
	out := contentstream.Dash{Phase: d.Phase * scale}
	total := 0.0
	for _, v := range d.Array {
		if v < 0 || math.IsNaN(v) {
			return contentstream.Dash{}
		}
		total += v
		out.Array = append(out.Array, v*scale)
	}
	if total == 0 {
		return contentstream.Dash{}
	}
	if len(out.Array)%2 == 1 {
		out.Array = append(out.Array, out.Array...)
	}
	return out
}

// dash splits polylines into the "on" intervals of d. The pattern
// restarts at d.Phase for every subpath.
func dash(polys [][]coords.Point, d contentstream.Dash) [][]coords.Point {
	if len(d.Array) == 0 {
		return polys
	}
	period := 0.0
	for _, v := range d.Array {
		period += v
	}
	if period < 0.5 {
		// sub-pixel patterns look solid
		return polys
	}
	var out [][]coords.Point
	for _, poly := range polys {
		// position within the pattern
		idx, rem := 0, d.Array[0]
		phase := math.Mod(d.Phase, period)
		if phase < 0 {
			phase += period
		}
		for phase > 0 {
			if phase < rem {
				rem -= phase
				break
			}
			phase -= rem
			idx = (idx + 1) % len(d.Array)
			rem = d.Array[idx]
		}
		on := idx%2 == 0
		var cur []coords.Point
		if on && len(poly) > 0 {
			cur = []coords.Point{poly[0]}
		}
		for i := 1; i < len(poly); i++ {
			a, b := poly[i-1], poly[i]
			seg := dist(a, b)
			pos := 0.0
			for seg-pos > rem {
				pos += rem
				t := pos / seg
				p := coords.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
				if on {
					cur = append(cur, p)
					out = append(out, cur)
					cur = nil
				} else {
					cur = []coords.Point{p}
				}
				on = !on
				idx = (idx + 1) % len(d.Array)
				rem = d.Array[idx]
			}
			rem -= seg - pos
			if on {
				cur = append(cur, b)
			}
		}
		if on && len(cur) > 1 {
			out = append(out, cur)
		}
	}
	return out
}
