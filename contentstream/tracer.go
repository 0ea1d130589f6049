package contentstream

import (
	"github.com/redforks/nipdf/coords"
)

// CallKind identifies a drawing call recorded by a Tracer.
type CallKind int

const (
	CallFill CallKind = iota
	CallStroke
	CallImage
	CallShade
)

func (k CallKind) String() string {
	switch k {
	case CallFill:
		return "fill"
	case CallStroke:
		return "stroke"
	case CallImage:
		return "image"
	case CallShade:
		return "shade"
	}
	return "unknown"
}

// Call is one recorded drawing operation.
type Call struct {
	Kind CallKind
	// Bounds is the device-space bounding box of the painted area before
	// clipping. Shadings fill the clip, so their Bounds is the clip's.
	Bounds coords.Rect
	// Path is in device space; nil for images and shadings.
	Path  *coords.Path
	Rule  FillRule
	Paint Paint
	Clip  *Clip
	Image *Image
}

// Tracer is a Device that records what a content stream draws instead of
// rasterizing it. It also collects the glyphs shown, in order.
type Tracer struct {
	Calls  []Call
	Glyphs []Glyph
}

func NewTracer() *Tracer {
	return &Tracer{}
}

func (t *Tracer) Fill(path *coords.Path, rule FillRule, paint Paint, st DrawState) {
	dp := path.Transform(st.CTM)
	t.Calls = append(t.Calls, Call{Kind: CallFill, Bounds: dp.Bounds(), Path: dp, Rule: rule, Paint: paint, Clip: st.Clip})
}

func (t *Tracer) Stroke(path *coords.Path, style StrokeStyle, paint Paint, st DrawState) {
	dp := path.Transform(st.CTM)
	b := dp.Bounds()
	// half the line width, scaled to device space
	hw := style.Width / 2 * st.CTM.ExpansionFactor()
	b = coords.Rect{MinX: b.MinX - hw, MinY: b.MinY - hw, MaxX: b.MaxX + hw, MaxY: b.MaxY + hw}
	t.Calls = append(t.Calls, Call{Kind: CallStroke, Bounds: b, Path: dp, Paint: paint, Clip: st.Clip})
}

func (t *Tracer) Image(img *Image, paint Paint, st DrawState) {
	t.Calls = append(t.Calls, Call{Kind: CallImage, Bounds: coords.NewRect(0, 0, 1, 1).Transform(st.CTM), Paint: paint, Clip: st.Clip, Image: img})
}

func (t *Tracer) Shade(sh *Shading, alpha float64, st DrawState) {
	c := Call{Kind: CallShade, Clip: st.Clip}
	if st.Clip != nil {
		c.Bounds = st.Clip.Path.Bounds()
	}
	t.Calls = append(t.Calls, c)
}

func (t *Tracer) ShowGlyph(g Glyph) { t.Glyphs = append(t.Glyphs, g) }

// Text joins the Unicode text of the recorded glyphs.
func (t *Tracer) Text() string {
	var n int
	for _, g := range t.Glyphs {
		n += len(g.Text)
	}
	buf := make([]byte, 0, n)
	for _, g := range t.Glyphs {
		buf = append(buf, g.Text...)
	}
	return string(buf)
}
