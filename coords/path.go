package coords

import "math"

type SegmentOp uint8

const (
	OpMoveTo SegmentOp = iota
	OpLineTo
	OpQuadTo
	OpCubeTo
	OpClose
)

// Segment is one path command. Pts holds 1, 2 or 3 points for
// move/line, quad and cubic segments respectively; the last used point is the
// end point.
type Segment struct {
	Op  SegmentOp
	Pts [3]Point
}

// Path is a sequence of subpaths built with the usual construction operators.
// The zero value is an empty path ready to use.
type Path struct {
	Segs []Segment

	start, cur Point
	open       bool
}

func (p *Path) MoveTo(x, y float64) {
	pt := Point{x, y}
	if n := len(p.Segs); n > 0 && p.Segs[n-1].Op == OpMoveTo {
		p.Segs[n-1].Pts[0] = pt
	} else {
		p.Segs = append(p.Segs, Segment{Op: OpMoveTo, Pts: [3]Point{pt}})
	}
	p.start, p.cur, p.open = pt, pt, true
}

func (p *Path) ensureStart() {
	if !p.open {
		p.MoveTo(p.cur.X, p.cur.Y)
	}
}

func (p *Path) LineTo(x, y float64) {
	p.ensureStart()
	pt := Point{x, y}
	p.Segs = append(p.Segs, Segment{Op: OpLineTo, Pts: [3]Point{pt}})
	p.cur = pt
}

func (p *Path) QuadTo(x1, y1, x, y float64) {
	p.ensureStart()
	p.Segs = append(p.Segs, Segment{Op: OpQuadTo, Pts: [3]Point{{x1, y1}, {x, y}}})
	p.cur = Point{x, y}
}

func (p *Path) CubeTo(x1, y1, x2, y2, x, y float64) {
	p.ensureStart()
	p.Segs = append(p.Segs, Segment{Op: OpCubeTo, Pts: [3]Point{{x1, y1}, {x2, y2}, {x, y}}})
	p.cur = Point{x, y}
}

// Close closes the current subpath; the current point returns to its start.
func (p *Path) Close() {
	if !p.open {
		return
	}
	p.Segs = append(p.Segs, Segment{Op: OpClose})
	p.cur = p.start
	p.open = false
}

// Rectangle appends a closed rectangle subpath, as the re operator does.
func (p *Path) Rectangle(x, y, w, h float64) {
	p.MoveTo(x, y)
	p.LineTo(x+w, y)
	p.LineTo(x+w, y+h)
	p.LineTo(x, y+h)
	p.Close()
}

// CurrentPoint reports the current point, if the path has one.
func (p *Path) CurrentPoint() (Point, bool) {
	return p.cur, len(p.Segs) > 0
}

func (p *Path) Empty() bool { return len(p.Segs) == 0 }

func (p *Path) Reset() {
	p.Segs = p.Segs[:0]
	p.start, p.cur, p.open = Point{}, Point{}, false
}

// Clone returns a deep copy of p.
func (p *Path) Clone() *Path {
	out := *p
	out.Segs = append([]Segment(nil), p.Segs...)
	return &out
}

// Append adds all segments of q to p.
func (p *Path) Append(q *Path) {
	if q == nil {
		return
	}
	p.Segs = append(p.Segs, q.Segs...)
	p.start, p.cur, p.open = q.start, q.cur, q.open
}

// Transform returns a copy of p with every point mapped through m.
func (p *Path) Transform(m Matrix) *Path {
	out := &Path{Segs: make([]Segment, len(p.Segs))}
	for i, s := range p.Segs {
		out.Segs[i].Op = s.Op
		for j := 0; j < s.Op.points(); j++ {
			out.Segs[i].Pts[j] = m.Transform(s.Pts[j])
		}
	}
	out.start, out.cur, out.open = m.Transform(p.start), m.Transform(p.cur), p.open
	return out
}

// Bounds returns the control-point bounding box of p.
func (p *Path) Bounds() Rect {
	r := Rect{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, s := range p.Segs {
		for j := 0; j < s.Op.points(); j++ {
			r = r.extend(s.Pts[j])
		}
	}
	if math.IsInf(r.MinX, 1) {
		return Rect{}
	}
	return r
}

func (op SegmentOp) points() int {
	switch op {
	case OpMoveTo, OpLineTo:
		return 1
	case OpQuadTo:
		return 2
	case OpCubeTo:
		return 3
	}
	return 0
}

// Points returns the number of points used by a segment of this kind.
func (op SegmentOp) Points() int { return op.points() }
