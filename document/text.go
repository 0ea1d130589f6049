package document

import (
	"context"
	"math"
	"strings"

	"github.com/redforks/nipdf/contentstream"
	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/observability"
)

// ExtractText returns the Unicode text of the page at index in content
// order. A new line starts when the baseline moves by more than half the
// font size; a space is inserted for horizontal gaps wider than a fifth
// of it. Glyphs without a Unicode mapping are dropped.
func (d *Document) ExtractText(ctx context.Context, index int) (string, error) {
	ctx, span := d.tracer.StartSpan(ctx, "document.ExtractText")
	defer span.Finish()
	span.SetTag("page", index)

	tc := &textCollector{}
	warnings, err := d.runPage(ctx, index, tc)
	if err != nil {
		span.SetError(err)
		return "", err
	}
	for _, w := range warnings {
		d.log.Debug("text extraction warning", observability.Int("page", index), observability.Error("error", w))
	}
	return tc.String(), nil
}

// textCollector is a Device that only listens to shown glyphs.
type textCollector struct {
	b       strings.Builder
	end     coords.Point
	started bool
}

func (*textCollector) Fill(*coords.Path, contentstream.FillRule, contentstream.Paint, contentstream.DrawState) {
}

func (*textCollector) Stroke(*coords.Path, contentstream.StrokeStyle, contentstream.Paint, contentstream.DrawState) {
}

func (*textCollector) Image(*contentstream.Image, contentstream.Paint, contentstream.DrawState) {}

func (*textCollector) Shade(*contentstream.Shading, float64, contentstream.DrawState) {}

func (t *textCollector) ShowGlyph(g contentstream.Glyph) {
	origin := g.Matrix.Transform(coords.Point{})
	up := g.Matrix.TransformVector(coords.Point{Y: 1})
	size := math.Hypot(up.X, up.Y)
	end := g.Matrix.Transform(coords.Point{X: g.Advance})
	if g.Vertical {
		end = g.Matrix.Transform(coords.Point{Y: g.Advance})
	}
	if g.Text == "" {
		t.end = end
		return
	}
	if t.started {
		dx, dy := origin.X-t.end.X, origin.Y-t.end.Y
		switch {
		case g.Vertical && math.Abs(dx) > size*0.5:
			t.b.WriteByte('\n')
		case !g.Vertical && math.Abs(dy) > size*0.5:
			t.b.WriteByte('\n')
		case !g.Vertical && dx > size*0.2 && !t.endsWithSpace() && g.Text != " ":
			t.b.WriteByte(' ')
		}
	}
	t.b.WriteString(g.Text)
	t.end = end
	t.started = true
}

func (t *textCollector) endsWithSpace() bool {
	s := t.b.String()
	return s == "" || strings.HasSuffix(s, " ") || strings.HasSuffix(s, "\n")
}

func (t *textCollector) String() string { return t.b.String() }
