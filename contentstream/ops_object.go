package contentstream

import (
	"errors"
	"fmt"

	"github.com/redforks/nipdf/cmm"
	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/filters"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/resources"
)

var errImageSize = errors.New("image dimensions out of range")

func registerObjectOps(p *Processor) {
	p.register("Do", opDo)
	p.register("BI", opInlineImage)
	p.register("sh", opShade)
}

func opDo(ec *ExecutionContext, operands []raw.Object) error {
	name, err := lastName(operands)
	if err != nil {
		return err
	}
	ctx, src := ec.Context, ec.src()
	obj, err := resources.Lookup(ctx, src, ec.Scope, resources.CategoryXObject, name)
	if err != nil {
		return err
	}
	s, ok := raw.StreamOf(ctx, src, obj)
	if !ok {
		return fmt.Errorf("XObject /%s is not a stream", name)
	}
	sub, _ := raw.NameOf(ctx, src, s.Dict.Lookup(ctx, src, "Subtype"))
	switch sub {
	case "Form":
		return ec.form(name, s)
	case "Image":
		img, err := ec.image(s.Dict, s)
		if err != nil {
			return fmt.Errorf("image /%s: %w", name, err)
		}
		ec.drawImage(img)
		return nil
	case "PS":
		return nil
	}
	return fmt.Errorf("XObject /%s has unknown Subtype %q", name, sub)
}

// form runs a form XObject in a child context: its matrix is
// concatenated and its bounding box clips everything it draws.
func (ec *ExecutionContext) form(name string, s *raw.StreamObj) error {
	ctx, src := ec.Context, ec.src()
	data, err := src.DecodeStream(ctx, s)
	if err != nil {
		return fmt.Errorf("form /%s: %w", name, err)
	}
	gs := ec.State.Clone()
	if v, ok := raw.Floats(ctx, src, s.Dict.Lookup(ctx, src, "Matrix")); ok && len(v) == 6 {
		if m := matrixOf(v); m.IsFinite() {
			gs.CTM = m.Multiply(gs.CTM)
		}
	}
	if box, ok := resources.Rect(ctx, src, s.Dict.Lookup(ctx, src, "BBox")); ok {
		path := new(coords.Path)
		path.Rectangle(box.MinX, box.MinY, box.Width(), box.Height())
		gs.ClipTo(path, NonZero)
	}
	res, _ := raw.DictOf(ctx, src, s.Dict.Lookup(ctx, src, "Resources"))
	if err := ec.nested(ctx, data, resources.Nest(ec.Scope, res), gs, ec.Device, ec.lock); err != nil {
		return fmt.Errorf("form /%s: %w", name, err)
	}
	return nil
}

func opInlineImage(ec *ExecutionContext, operands []raw.Object) error {
	if len(operands) == 0 {
		return fmt.Errorf("%w: empty inline image", ErrOperands)
	}
	ii, ok := operands[len(operands)-1].(*InlineImage)
	if !ok {
		return fmt.Errorf("%w: want an inline image", ErrOperands)
	}
	img, err := ec.image(ii.Dict, raw.NewStream(ii.Dict, ii.Data))
	if err != nil {
		return fmt.Errorf("inline image: %w", err)
	}
	img.Stream = nil
	ec.drawImage(img)
	return nil
}

func (ec *ExecutionContext) drawImage(img *Image) {
	p := Paint{Color: cmm.NRGBA(cmm.DeviceGray{}, []float64{0}, ec.State.FillAlpha)}
	if img.ImageMask {
		var ok bool
		if p, ok = ec.paint(true); !ok {
			return
		}
	}
	ec.Device.Image(img, p, ec.State.DrawState())
}

// image reads an image dictionary and decodes its stream up to the image
// codec, if any.
func (ec *ExecutionContext) image(d *raw.DictObj, s *raw.StreamObj) (*Image, error) {
	ctx, src := ec.Context, ec.src()
	img := &Image{Dict: d, Stream: s}
	w, _ := raw.IntOf(ctx, src, d.Lookup(ctx, src, "Width"))
	h, _ := raw.IntOf(ctx, src, d.Lookup(ctx, src, "Height"))
	if w <= 0 || h <= 0 || w > ec.proc.cfg.Limits.MaxImagePixels/h {
		return nil, fmt.Errorf("%w: %dx%d", errImageSize, w, h)
	}
	img.Width, img.Height = int(w), int(h)
	if b, ok := raw.Deref(ctx, src, d.Lookup(ctx, src, "ImageMask")).(raw.BoolObj); ok {
		img.ImageMask = b.V
	}
	if b, ok := raw.Deref(ctx, src, d.Lookup(ctx, src, "Interpolate")).(raw.BoolObj); ok {
		img.Interpolate = b.V
	}
	names, params := filters.ExtractFilters(ctx, src, d)
	_, _, img.Codec, _ = filters.SplitImageFilter(names, params)

	bpc, _ := raw.IntOf(ctx, src, d.Lookup(ctx, src, "BitsPerComponent"))
	img.BitsPerComponent = int(bpc)
	if img.ImageMask {
		img.BitsPerComponent = 1
	} else if csObj := d.Lookup(ctx, src, "ColorSpace"); !raw.IsNull(csObj) {
		cs, err := ec.colorSpace(csObj)
		if err != nil {
			return nil, err
		}
		img.ColorSpace = cs
	} else if img.Codec == "" {
		return nil, errors.New("image without a colour space")
	}
	if img.BitsPerComponent == 0 && img.Codec == "" {
		img.BitsPerComponent = 8
	}
	if v, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "Decode")); ok {
		img.Decode = v
	}
	data, err := src.DecodeStream(ctx, s)
	if err != nil {
		return nil, err
	}
	img.Data = data

	if !img.ImageMask {
		switch m := d.Lookup(ctx, src, "Mask").(type) {
		case *raw.ArrayObj:
			for _, it := range m.Items {
				if n, ok := raw.IntOf(ctx, src, it); ok {
					img.MaskColors = append(img.MaskColors, int(n))
				}
			}
		case *raw.StreamObj:
			// a stencil mask marks the painted pixels
			if mask, err := ec.image(m.Dict, m); err == nil && mask.ImageMask {
				mask.Decode = invertDecode(mask.Decode)
				mask.ImageMask, mask.ColorSpace = false, cmm.DeviceGray{}
				img.SMask = mask
			}
		}
		if sm, ok := raw.StreamOf(ctx, src, d.Lookup(ctx, src, "SMask")); ok {
			mask, err := ec.softMask(sm)
			if err != nil {
				ec.Warn(fmt.Errorf("soft mask: %w", err))
			} else {
				img.SMask = mask
			}
		}
	}
	return img, nil
}

// softMask reads an SMask image. Its samples are alpha values in a
// DeviceGray space.
func (ec *ExecutionContext) softMask(s *raw.StreamObj) (*Image, error) {
	d := raw.Dict()
	for _, k := range s.Dict.Keys() {
		v, _ := s.Dict.Get(k)
		d.Set(k, v)
	}
	d.Set("ColorSpace", raw.NameObj{Val: "DeviceGray"})
	d.Set("ImageMask", raw.BoolObj{V: false})
	mask, err := ec.image(d, s)
	if err != nil {
		return nil, err
	}
	mask.Dict = s.Dict
	return mask, nil
}

// invertDecode turns a stencil mask, where 0 paints, into an alpha
// channel where 1 is opaque.
func invertDecode(dec []float64) []float64 {
	if len(dec) == 2 && dec[0] == 1 {
		return []float64{0, 1}
	}
	return []float64{1, 0}
}

func opShade(ec *ExecutionContext, operands []raw.Object) error {
	name, err := lastName(operands)
	if err != nil {
		return err
	}
	obj, err := resources.Lookup(ec.Context, ec.src(), ec.Scope, resources.CategoryShading, name)
	if err != nil {
		return err
	}
	sh, err := ec.shading(obj)
	if err != nil {
		return fmt.Errorf("shading /%s: %w", name, err)
	}
	ec.Device.Shade(sh, ec.State.FillAlpha, ec.State.DrawState())
	return nil
}
