package contentstream

import (
	"errors"
	"fmt"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/fonts"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/resources"
)

var errNoFont = errors.New("text shown without a font")

func registerTextOps(p *Processor) {
	p.register("BT", opBeginText)
	p.register("ET", opEndText)
	p.register("Tc", textParam(func(ts *TextState, v float64) { ts.CharSpacing = v }))
	p.register("Tw", textParam(func(ts *TextState, v float64) { ts.WordSpacing = v }))
	p.register("Tz", textParam(func(ts *TextState, v float64) { ts.HScale = v / 100 }))
	p.register("TL", textParam(func(ts *TextState, v float64) { ts.Leading = v }))
	p.register("Ts", textParam(func(ts *TextState, v float64) { ts.Rise = v }))
	p.register("Tr", textParam(func(ts *TextState, v float64) { ts.Render = TextRenderMode(clampInt(int(v), 0, 7)) }))
	p.register("Tf", opSetFont)
	p.register("Td", opMoveText)
	p.register("TD", opMoveTextLeading)
	p.register("Tm", opTextMatrix)
	p.register("T*", opNextLine)
	p.register("Tj", opShowText)
	p.register("TJ", opShowTextArray)
	p.register("'", opNextLineShow)
	p.register(`"`, opNextLineShowSpaced)
}

func textParam(set func(ts *TextState, v float64)) func(*ExecutionContext, []raw.Object) error {
	return func(ec *ExecutionContext, operands []raw.Object) error {
		v, err := numbers(operands, 1)
		if err != nil {
			return err
		}
		set(&ec.State.Text, v[0])
		return nil
	}
}

func opBeginText(ec *ExecutionContext, _ []raw.Object) error {
	ec.tm, ec.tlm = coords.Identity(), coords.Identity()
	ec.textClip, ec.textClipUsed = new(coords.Path), false
	return nil
}

// opEndText applies the glyph outlines accumulated by the clipping
// render modes as one clip.
func opEndText(ec *ExecutionContext, _ []raw.Object) error {
	if ec.textClipUsed {
		ec.State.Clip = &Clip{Path: ec.textClip, Rule: NonZero, Parent: ec.State.Clip}
	}
	ec.textClip, ec.textClipUsed = nil, false
	return nil
}

func opSetFont(ec *ExecutionContext, operands []raw.Object) error {
	if len(operands) < 2 {
		return fmt.Errorf("%w: want font and size", ErrOperands)
	}
	name, ok := operands[len(operands)-2].(raw.NameObj)
	size, ok2 := numberOf(operands[len(operands)-1])
	if !ok || !ok2 {
		return fmt.Errorf("%w: want font and size", ErrOperands)
	}
	ts := &ec.State.Text
	ts.FontSize = size
	ctx, src := ec.Context, ec.src()
	obj, err := resources.Lookup(ctx, src, ec.Scope, resources.CategoryFont, name.Val)
	if err != nil {
		ts.Font = nil
		return err
	}
	f, err := ec.proc.cfg.Fonts.Load(ctx, src, obj)
	ts.Font = f
	if err != nil {
		return fmt.Errorf("font /%s: %w", name.Val, err)
	}
	return nil
}

func (ec *ExecutionContext) moveText(tx, ty float64) {
	ec.tlm = coords.Translate(tx, ty).Multiply(ec.tlm)
	ec.tm = ec.tlm
}

func opMoveText(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 2)
	if err != nil {
		return err
	}
	ec.moveText(v[0], v[1])
	return nil
}

func opMoveTextLeading(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 2)
	if err != nil {
		return err
	}
	ec.State.Text.Leading = -v[1]
	ec.moveText(v[0], v[1])
	return nil
}

func opTextMatrix(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 6)
	if err != nil {
		return err
	}
	ec.tlm = matrixOf(v)
	ec.tm = ec.tlm
	return nil
}

func opNextLine(ec *ExecutionContext, _ []raw.Object) error {
	ec.moveText(0, -ec.State.Text.Leading)
	return nil
}

func lastString(operands []raw.Object) ([]byte, error) {
	if len(operands) == 0 {
		return nil, fmt.Errorf("%w: want a string", ErrOperands)
	}
	s, ok := operands[len(operands)-1].(raw.StringObj)
	if !ok {
		return nil, fmt.Errorf("%w: want a string, got %s", ErrOperands, operands[len(operands)-1].Type())
	}
	return s.Bytes, nil
}

func opShowText(ec *ExecutionContext, operands []raw.Object) error {
	s, err := lastString(operands)
	if err != nil {
		return err
	}
	return ec.showText(s)
}

func opNextLineShow(ec *ExecutionContext, operands []raw.Object) error {
	s, err := lastString(operands)
	if err != nil {
		return err
	}
	ec.moveText(0, -ec.State.Text.Leading)
	return ec.showText(s)
}

func opNextLineShowSpaced(ec *ExecutionContext, operands []raw.Object) error {
	if len(operands) < 3 {
		return fmt.Errorf("%w: want aw ac string", ErrOperands)
	}
	v, err := numbers(operands[:len(operands)-1], 2)
	if err != nil {
		return err
	}
	s, err := lastString(operands)
	if err != nil {
		return err
	}
	ec.State.Text.WordSpacing, ec.State.Text.CharSpacing = v[0], v[1]
	ec.moveText(0, -ec.State.Text.Leading)
	return ec.showText(s)
}

// opShowTextArray is TJ: numbers move the next glyph back by thousandths
// of the font size.
func opShowTextArray(ec *ExecutionContext, operands []raw.Object) error {
	if len(operands) == 0 {
		return fmt.Errorf("%w: want an array", ErrOperands)
	}
	arr, ok := operands[len(operands)-1].(*raw.ArrayObj)
	if !ok {
		return fmt.Errorf("%w: want an array", ErrOperands)
	}
	ts := &ec.State.Text
	for _, it := range arr.Items {
		switch v := it.(type) {
		case raw.StringObj:
			if err := ec.showText(v.Bytes); err != nil {
				return err
			}
		case raw.NumberObj:
			adj := -v.Float() / 1000 * ts.FontSize
			if ts.Font != nil && ts.Font.Vertical() {
				ec.tm = coords.Translate(0, adj).Multiply(ec.tm)
			} else {
				ec.tm = coords.Translate(adj*ts.HScale, 0).Multiply(ec.tm)
			}
		}
	}
	return nil
}

// showText draws each character of s and advances the text matrix.
func (ec *ExecutionContext) showText(s []byte) error {
	ts := &ec.State.Text
	f := ts.Font
	if f == nil {
		return errNoFont
	}
	obs, _ := ec.Device.(TextObserver)
	for _, c := range f.Decode(s) {
		trm := coords.Matrix{ts.FontSize * ts.HScale, 0, 0, ts.FontSize, 0, ts.Rise}.Multiply(ec.tm)
		glyphM := trm
		var adv float64
		if f.Vertical() {
			w1y, vx, vy := f.VerticalMetrics(c)
			glyphM = coords.Translate(-vx, -vy).Multiply(trm)
			adv = w1y
		} else {
			adv = f.Width(c)
		}
		if err := ec.drawGlyph(f, c, glyphM); err != nil {
			return err
		}
		if obs != nil {
			obs.ShowGlyph(Glyph{
				Char:     c,
				Text:     f.Unicode(c),
				Matrix:   glyphM.Multiply(ec.State.CTM),
				Advance:  adv,
				FontSize: ts.FontSize,
				Vertical: f.Vertical(),
			})
		}
		spacing := ts.CharSpacing
		if c.IsSpace() {
			spacing += ts.WordSpacing
		}
		if f.Vertical() {
			ec.tm = coords.Translate(0, adv*ts.FontSize+spacing).Multiply(ec.tm)
		} else {
			ec.tm = coords.Translate((adv*ts.FontSize+spacing)*ts.HScale, 0).Multiply(ec.tm)
		}
	}
	return nil
}

// drawGlyph paints one glyph whose text space maps to user space through
// m. Only the end of the context is returned as an error.
func (ec *ExecutionContext) drawGlyph(f *fonts.Font, c fonts.Char, m coords.Matrix) error {
	mode := ec.State.Text.Render
	if t3 := f.Type3(); t3 != nil {
		return ec.drawType3Glyph(f, t3, c, m)
	}
	if mode == TextInvisible {
		return nil
	}
	outline, err := f.Glyph(c)
	if err != nil && !ec.run.glyphWarned[f] {
		ec.run.glyphWarned[f] = true
		ec.Warn(fmt.Errorf("font %s: %w", f.BaseFont, err))
	}
	if outline == nil || outline.Empty() {
		return nil
	}
	path := outline.Transform(m)
	st := ec.State.DrawState()
	if mode.fills() {
		if p, ok := ec.paint(true); ok {
			ec.Device.Fill(path, NonZero, p, st)
		}
	}
	if mode.strokes() {
		if p, ok := ec.paint(false); ok {
			ec.Device.Stroke(path, ec.State.Stroke, p, st)
		}
	}
	if mode.clips() && ec.textClip != nil {
		ec.textClip.Append(path.Transform(ec.State.CTM))
		ec.textClipUsed = true
	}
	return nil
}

// drawType3Glyph runs the glyph procedure with glyph space mapped through
// the font matrix. Type 3 glyphs are painted in every visible mode.
func (ec *ExecutionContext) drawType3Glyph(f *fonts.Font, t3 *fonts.Type3, c fonts.Char, m coords.Matrix) error {
	mode := ec.State.Text.Render
	if mode == TextInvisible || mode == TextClip {
		return nil
	}
	proc, ok := f.CharProc(c)
	if !ok {
		return nil
	}
	data, err := ec.src().DecodeStream(ec.Context, proc)
	if err != nil {
		ec.Warn(fmt.Errorf("Type3 glyph %d: %w", c.Code, err))
		return nil
	}
	gs := ec.State.Clone()
	gs.CTM = t3.Matrix.Multiply(m).Multiply(ec.State.CTM)
	scope := ec.Scope
	if t3.Resources != nil {
		scope = resources.Nest(ec.Scope, t3.Resources)
	}
	if err := ec.nested(ec.Context, data, scope, gs, ec.Device, ec.lock); err != nil {
		if cerr := ec.Context.Err(); cerr != nil {
			return cerr
		}
		ec.Warn(fmt.Errorf("Type3 glyph %d: %w", c.Code, err))
	}
	return nil
}
