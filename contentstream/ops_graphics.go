package contentstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/redforks/nipdf/cmm"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/resources"
)

func registerGraphicsOps(p *Processor) {
	p.register("q", opSave)
	p.register("Q", opRestore)
	p.register("cm", opConcat)
	p.register("w", opLineWidth)
	p.register("J", opLineCap)
	p.register("j", opLineJoin)
	p.register("M", opMiterLimit)
	p.register("d", opDash)
	p.register("ri", opIntent)
	p.register("i", opFlatness)
	p.register("gs", opExtGState)
	p.register("d0", opGlyphWidth)
	p.register("d1", opGlyphBox)
	p.register("BX", func(ec *ExecutionContext, _ []raw.Object) error { ec.compat++; return nil })
	p.register("EX", func(ec *ExecutionContext, _ []raw.Object) error {
		if ec.compat > 0 {
			ec.compat--
		}
		return nil
	})
	// marked content carries no drawing
	for _, op := range []string{"BMC", "BDC", "EMC", "MP", "DP"} {
		p.register(op, func(*ExecutionContext, []raw.Object) error { return nil })
	}
}

func opSave(ec *ExecutionContext, _ []raw.Object) error {
	ec.stack.Save(ec.State)
	return nil
}

// opRestore pops the state into the caller's GraphicsState; an unbalanced
// Q is reported and ignored.
func opRestore(ec *ExecutionContext, _ []raw.Object) error {
	gs, err := ec.stack.Restore()
	if err != nil {
		return err
	}
	*ec.State = *gs
	return nil
}

func opConcat(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 6)
	if err != nil {
		return err
	}
	m := matrixOf(v)
	if !m.IsFinite() {
		return fmt.Errorf("%w: non-finite matrix", ErrOperands)
	}
	ec.State.CTM = m.Multiply(ec.State.CTM)
	return nil
}

func opLineWidth(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 1)
	if err != nil {
		return err
	}
	ec.State.Stroke.Width = v[0]
	return nil
}

func opLineCap(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 1)
	if err != nil {
		return err
	}
	ec.State.Stroke.Cap = LineCap(clampInt(int(v[0]), 0, 2))
	return nil
}

func opLineJoin(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 1)
	if err != nil {
		return err
	}
	ec.State.Stroke.Join = LineJoin(clampInt(int(v[0]), 0, 2))
	return nil
}

func opMiterLimit(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 1)
	if err != nil {
		return err
	}
	if v[0] >= 1 {
		ec.State.Stroke.MiterLimit = v[0]
	}
	return nil
}

func opDash(ec *ExecutionContext, operands []raw.Object) error {
	if len(operands) < 2 {
		return fmt.Errorf("%w: want array and phase", ErrOperands)
	}
	d, ok := dashOf(operands[len(operands)-2], operands[len(operands)-1])
	if !ok {
		return fmt.Errorf("%w: malformed dash", ErrOperands)
	}
	ec.State.Stroke.Dash = d
	return nil
}

// dashOf reads a dash array and phase. An all-zero array draws solid
// lines.
func dashOf(arrObj, phaseObj raw.Object) (Dash, bool) {
	arr, ok := arrObj.(*raw.ArrayObj)
	if !ok {
		return Dash{}, false
	}
	phase, _ := numberOf(phaseObj)
	d := Dash{Phase: phase}
	total := 0.0
	for _, it := range arr.Items {
		v, ok := numberOf(it)
		if !ok || v < 0 {
			return Dash{}, false
		}
		d.Array = append(d.Array, v)
		total += v
	}
	if total == 0 {
		d.Array = nil
	}
	return d, true
}

func opIntent(ec *ExecutionContext, operands []raw.Object) error {
	name, err := lastName(operands)
	if err != nil {
		return err
	}
	ec.State.Intent = cmm.ParseIntent(name)
	return nil
}

// opFlatness accepts i; curves are flattened by the device.
func opFlatness(_ *ExecutionContext, operands []raw.Object) error {
	_, err := numbers(operands, 1)
	return err
}

func opExtGState(ec *ExecutionContext, operands []raw.Object) error {
	name, err := lastName(operands)
	if err != nil {
		return err
	}
	ctx, src := ec.Context, ec.src()
	obj, err := resources.Lookup(ctx, src, ec.Scope, resources.CategoryExtGState, name)
	if err != nil {
		return err
	}
	d, ok := raw.DictOf(ctx, src, obj)
	if !ok {
		return fmt.Errorf("ExtGState /%s is not a dictionary", name)
	}
	return ec.applyExtGState(d)
}

func (ec *ExecutionContext) applyExtGState(d *raw.DictObj) error {
	ctx, src := ec.Context, ec.src()
	gs := ec.State
	var errs []error
	for _, key := range d.Keys() {
		v := d.Lookup(ctx, src, key)
		switch key {
		case "LW":
			if f, ok := raw.NumberOf(ctx, src, v); ok {
				gs.Stroke.Width = f
			}
		case "LC":
			if n, ok := raw.IntOf(ctx, src, v); ok {
				gs.Stroke.Cap = LineCap(clampInt(int(n), 0, 2))
			}
		case "LJ":
			if n, ok := raw.IntOf(ctx, src, v); ok {
				gs.Stroke.Join = LineJoin(clampInt(int(n), 0, 2))
			}
		case "ML":
			if f, ok := raw.NumberOf(ctx, src, v); ok && f >= 1 {
				gs.Stroke.MiterLimit = f
			}
		case "D":
			if arr, ok := raw.ArrayOf(ctx, src, v); ok && arr.Len() == 2 {
				if dash, ok := dashOf(raw.Deref(ctx, src, arr.Items[0]), raw.Deref(ctx, src, arr.Items[1])); ok {
					gs.Stroke.Dash = dash
				}
			}
		case "RI":
			if n, ok := raw.NameOf(ctx, src, v); ok {
				gs.Intent = cmm.ParseIntent(n)
			}
		case "CA":
			if f, ok := raw.NumberOf(ctx, src, v); ok {
				gs.StrokeAlpha = clamp01(f)
			}
		case "ca":
			if f, ok := raw.NumberOf(ctx, src, v); ok {
				gs.FillAlpha = clamp01(f)
			}
		case "BM":
			gs.BlendMode = blendMode(ctx, src, v)
		case "Font":
			arr, ok := raw.ArrayOf(ctx, src, v)
			if !ok || arr.Len() != 2 {
				errs = append(errs, errors.New("ExtGState /Font is not [font size]"))
				continue
			}
			size, _ := raw.NumberOf(ctx, src, arr.Items[1])
			f, err := ec.proc.cfg.Fonts.Load(ctx, src, arr.Items[0])
			if err != nil {
				errs = append(errs, fmt.Errorf("ExtGState font: %w", err))
			}
			gs.Text.Font, gs.Text.FontSize = f, size
		case "SMask":
			if n, ok := v.(raw.NameObj); ok && n.Val == "None" {
				continue
			}
			if !raw.IsNull(v) {
				errs = append(errs, errors.New("soft mask ignored"))
			}
		}
	}
	return errors.Join(errs...)
}

// blendMode picks the first mode of a /BM array.
func blendMode(ctx context.Context, src raw.Resolver, v raw.Object) string {
	if n, ok := v.(raw.NameObj); ok {
		return n.Val
	}
	if arr, ok := raw.ArrayOf(ctx, src, v); ok && arr.Len() > 0 {
		if n, ok := raw.NameOf(ctx, src, arr.Items[0]); ok {
			return n
		}
	}
	return "Normal"
}

// opGlyphWidth is d0: the Type 3 glyph sets its own colours.
func opGlyphWidth(_ *ExecutionContext, operands []raw.Object) error {
	_, err := numbers(operands, 2)
	return err
}

// opGlyphBox is d1: the Type 3 glyph is a shape painted in the text's
// fill colour, so colour operators inside it are ignored.
func opGlyphBox(ec *ExecutionContext, operands []raw.Object) error {
	if _, err := numbers(operands, 6); err != nil {
		return err
	}
	if ec.lock == nil {
		if p, ok := ec.paint(true); ok {
			ec.lock = &p
		}
	}
	return nil
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

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
