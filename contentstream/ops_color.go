package contentstream

import (
	"context"
	"fmt"
	"image/color"

	"github.com/redforks/nipdf/cmm"
	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/resources"
)

func registerColorOps(p *Processor) {
	p.register("CS", func(ec *ExecutionContext, ops []raw.Object) error { return ec.setSpace(false, ops) })
	p.register("cs", func(ec *ExecutionContext, ops []raw.Object) error { return ec.setSpace(true, ops) })
	p.register("SC", func(ec *ExecutionContext, ops []raw.Object) error { return ec.setColor(false, ops) })
	p.register("sc", func(ec *ExecutionContext, ops []raw.Object) error { return ec.setColor(true, ops) })
	p.register("SCN", func(ec *ExecutionContext, ops []raw.Object) error { return ec.setColor(false, ops) })
	p.register("scn", func(ec *ExecutionContext, ops []raw.Object) error { return ec.setColor(true, ops) })

	device := func(fill bool, cs cmm.ColorSpace) func(*ExecutionContext, []raw.Object) error {
		return func(ec *ExecutionContext, ops []raw.Object) error {
			v, err := numbers(ops, cs.NumComponents())
			if err != nil {
				return err
			}
			ec.setDeviceColor(fill, cs, v)
			return nil
		}
	}
	p.register("G", device(false, cmm.DeviceGray{}))
	p.register("g", device(true, cmm.DeviceGray{}))
	p.register("RG", device(false, cmm.DeviceRGB{}))
	p.register("rg", device(true, cmm.DeviceRGB{}))
	p.register("K", device(false, cmm.DeviceCMYK{}))
	p.register("k", device(true, cmm.DeviceCMYK{}))
}

func (ec *ExecutionContext) setDeviceColor(fill bool, cs cmm.ColorSpace, v []float64) {
	gs := ec.State
	if fill {
		gs.FillSpace, gs.FillColor, gs.FillPattern = cs, v, nil
	} else {
		gs.StrokeSpace, gs.StrokeColor, gs.StrokePattern = cs, v, nil
	}
}

func (ec *ExecutionContext) setSpace(fill bool, operands []raw.Object) error {
	if len(operands) == 0 {
		return fmt.Errorf("%w: want a color space", ErrOperands)
	}
	cs, err := ec.colorSpace(operands[len(operands)-1])
	if err != nil {
		return err
	}
	ec.setDeviceColor(fill, cs, cs.InitialColor())
	return nil
}

// setColor handles SC, SCN, sc and scn. A trailing name selects a
// pattern; the numbers before it colour uncoloured patterns.
func (ec *ExecutionContext) setColor(fill bool, operands []raw.Object) error {
	gs := ec.State
	cs := gs.StrokeSpace
	if fill {
		cs = gs.FillSpace
	}
	var pat *Pattern
	if n := len(operands); n > 0 {
		if name, ok := operands[n-1].(raw.NameObj); ok {
			if _, isPattern := cs.(*cmm.Pattern); !isPattern {
				return fmt.Errorf("%w: pattern /%s in %s space", ErrOperands, name.Val, cs.Family())
			}
			var err error
			if pat, err = ec.pattern(name.Val); err != nil {
				return err
			}
			operands = operands[:n-1]
		}
	}
	var comps []float64
	for _, o := range operands {
		if v, ok := numberOf(o); ok {
			comps = append(comps, v)
		}
	}
	if want := cs.NumComponents(); len(comps) > want {
		comps = comps[len(comps)-want:]
	}
	if fill {
		gs.FillColor = comps
		if pat != nil {
			gs.FillPattern = pat
		}
	} else {
		gs.StrokeColor = comps
		if pat != nil {
			gs.StrokePattern = pat
		}
	}
	return nil
}

// colorSpace resolves a colour space operand: a family name, a resource
// name or a colour space array.
func (ec *ExecutionContext) colorSpace(obj raw.Object) (cmm.ColorSpace, error) {
	ctx, src := ec.Context, ec.src()
	cache := ec.proc.cfg.ColorSpaces
	if n, ok := obj.(raw.NameObj); ok {
		if cs, err := cmm.Parse(ctx, src, n); err == nil {
			return cs, nil
		}
		res, err := resources.Lookup(ctx, src, ec.Scope, resources.CategoryColorSpace, n.Val)
		if err != nil {
			return nil, err
		}
		return cache.Get(ctx, src, res)
	}
	return cache.Get(ctx, src, obj)
}

// paint returns the fill or stroke paint of the current state; ok is
// false when nothing should be painted.
func (ec *ExecutionContext) paint(fill bool) (Paint, bool) {
	if ec.lock != nil {
		return *ec.lock, true
	}
	gs := ec.State
	cs, comps, pat, alpha := gs.StrokeSpace, gs.StrokeColor, gs.StrokePattern, gs.StrokeAlpha
	if fill {
		cs, comps, pat, alpha = gs.FillSpace, gs.FillColor, gs.FillPattern, gs.FillAlpha
	}
	if cmm.IsNone(cs) {
		return Paint{}, false
	}
	if pc, ok := cs.(*cmm.Pattern); ok {
		if pat == nil {
			return Paint{}, false
		}
		p := Paint{Pattern: pat, Color: color.NRGBA{A: alpha8(alpha)}}
		if pc.Under != nil {
			p.Color = cmm.NRGBA(pc.Under, comps, alpha)
		}
		return p, true
	}
	return Paint{Color: cmm.NRGBA(cs, comps, alpha)}, true
}

func alpha8(a float64) uint8 { return uint8(clamp01(a)*255 + 0.5) }

// pattern resolves a Pattern resource. Its matrix is relative to the
// default space of the stream the pattern is used in.
func (ec *ExecutionContext) pattern(name string) (*Pattern, error) {
	ctx, src := ec.Context, ec.src()
	obj, err := resources.Lookup(ctx, src, ec.Scope, resources.CategoryPattern, name)
	if err != nil {
		return nil, err
	}
	d, ok := raw.DictOf(ctx, src, obj)
	if !ok {
		return nil, fmt.Errorf("pattern /%s is not a dictionary", name)
	}
	m := coords.Identity()
	if v, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "Matrix")); ok && len(v) == 6 {
		m = matrixOf(v)
	}
	pat := &Pattern{Matrix: m.Multiply(ec.base)}
	typ, _ := raw.IntOf(ctx, src, d.Lookup(ctx, src, "PatternType"))
	switch typ {
	case 2:
		shObj, _ := d.Get("Shading")
		if pat.Shading, err = ec.shading(shObj); err != nil {
			return nil, err
		}
		if _, hasGS := d.Get("ExtGState"); hasGS {
			ec.proc.log.Debug("shading pattern ExtGState ignored")
		}
		return pat, nil
	case 1:
		s, ok := raw.StreamOf(ctx, src, obj)
		if !ok {
			return nil, fmt.Errorf("tiling pattern /%s is not a stream", name)
		}
		if pat.Tiling, err = ec.tiling(s); err != nil {
			return nil, fmt.Errorf("tiling pattern /%s: %w", name, err)
		}
		return pat, nil
	}
	return nil, fmt.Errorf("pattern /%s has unknown PatternType %d", name, typ)
}

func (ec *ExecutionContext) tiling(s *raw.StreamObj) (*Tiling, error) {
	ctx, src := ec.Context, ec.src()
	d := s.Dict
	box, ok := resources.Rect(ctx, src, d.Lookup(ctx, src, "BBox"))
	if !ok || box.Empty() {
		return nil, fmt.Errorf("%w: bad BBox", ErrOperands)
	}
	xstep, _ := raw.NumberOf(ctx, src, d.Lookup(ctx, src, "XStep"))
	ystep, _ := raw.NumberOf(ctx, src, d.Lookup(ctx, src, "YStep"))
	if xstep == 0 || ystep == 0 {
		return nil, fmt.Errorf("%w: zero step", ErrOperands)
	}
	paintType, _ := raw.IntOf(ctx, src, d.Lookup(ctx, src, "PaintType"))
	data, err := src.DecodeStream(ctx, s)
	if err != nil {
		return nil, err
	}
	res, _ := raw.DictOf(ctx, src, d.Lookup(ctx, src, "Resources"))
	scope := resources.Nest(ec.Scope, res)
	t := &Tiling{BBox: box, XStep: xstep, YStep: ystep, Colored: paintType != 2}
	// Uncoloured cells are drawn in opaque black; the device uses their
	// coverage as a mask for the paint colour.
	var lock *Paint
	if !t.Colored {
		lock = &Paint{Color: color.NRGBA{A: 255}}
	}
	t.Draw = func(ctx context.Context, dev Device, m coords.Matrix) error {
		gs := NewGraphicsState(m)
		path := new(coords.Path)
		path.Rectangle(box.MinX, box.MinY, box.Width(), box.Height())
		gs.ClipTo(path, NonZero)
		return ec.nested(ctx, data, scope, gs, dev, lock)
	}
	return t, nil
}

// shading parses a shading, sharing indirect ones between pages.
func (ec *ExecutionContext) shading(obj raw.Object) (*Shading, error) {
	ctx, src := ec.Context, ec.src()
	cfg := ec.proc.cfg
	if obj == nil {
		return nil, fmt.Errorf("%w: missing shading", ErrOperands)
	}
	ref, ok := obj.(raw.RefObj)
	if !ok {
		return ParseShading(ctx, src, obj, cfg.ColorSpaces, cfg.Functions)
	}
	if e, ok := ec.proc.shadings.Load(ref.R); ok {
		se := e.(shadingEntry)
		return se.sh, se.err
	}
	sh, err := ParseShading(ctx, src, obj, cfg.ColorSpaces, cfg.Functions)
	if ctx.Err() != nil {
		return sh, err
	}
	e, _ := ec.proc.shadings.LoadOrStore(ref.R, shadingEntry{sh: sh, err: err})
	se := e.(shadingEntry)
	return se.sh, se.err
}
