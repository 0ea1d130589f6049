package cmm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redforks/nipdf/function"
	"github.com/redforks/nipdf/ir/raw"
)

// ErrUnknownColorSpace reports a colour space family this package does not
// implement, or a malformed colour space array.
var ErrUnknownColorSpace = errors.New("unknown color space")

// maxNesting bounds base and alternate spaces nested inside each other.
const maxNesting = 4

// maxIndexedHiVal is the largest palette index allowed by Indexed.
const maxIndexedHiVal = 255

// Cache shares parsed colour spaces between concurrent pages. Indirect
// colour spaces and ICC profile streams are parsed once per reference;
// the first stored result wins. A nil *Cache parses every time.
type Cache struct {
	// Functions caches tint transforms.
	Functions *function.Cache
	// Intent selects the A2B table of ICC profiles.
	Intent RenderingIntent

	spaces sync.Map // raw.ObjectRef -> cacheEntry
	iccs   sync.Map // raw.ObjectRef -> cacheEntry
}

type cacheEntry struct {
	cs  ColorSpace
	err error
}

// Parse builds the colour space described by obj with no caching.
func Parse(ctx context.Context, src raw.Source, obj raw.Object) (ColorSpace, error) {
	var c *Cache
	return c.Get(ctx, src, obj)
}

// Get builds the colour space described by obj: a family name or an array
// such as [/Indexed /DeviceRGB 255 <...>].
func (c *Cache) Get(ctx context.Context, src raw.Source, obj raw.Object) (ColorSpace, error) {
	return c.memo(ctx, c.spacesMap(), obj, func() (ColorSpace, error) {
		return c.parse(ctx, src, obj, 0)
	})
}

func (c *Cache) spacesMap() *sync.Map {
	if c == nil {
		return nil
	}
	return &c.spaces
}

func (c *Cache) iccMap() *sync.Map {
	if c == nil {
		return nil
	}
	return &c.iccs
}

func (c *Cache) memo(ctx context.Context, m *sync.Map, obj raw.Object, build func() (ColorSpace, error)) (ColorSpace, error) {
	ref, ok := obj.(raw.RefObj)
	if !ok || m == nil {
		return build()
	}
	if e, ok := m.Load(ref.R); ok {
		ce := e.(cacheEntry)
		return ce.cs, ce.err
	}
	cs, err := build()
	if ctx.Err() != nil {
		return cs, err
	}
	e, _ := m.LoadOrStore(ref.R, cacheEntry{cs: cs, err: err})
	ce := e.(cacheEntry)
	return ce.cs, ce.err
}

func (c *Cache) functions() *function.Cache {
	if c == nil {
		return nil
	}
	return c.Functions
}

func (c *Cache) intent() RenderingIntent {
	if c == nil {
		return IntentRelativeColorimetric
	}
	return c.Intent
}

// ByComponents returns the device space with n components.
func ByComponents(n int) (ColorSpace, bool) {
	switch n {
	case 1:
		return DeviceGray{}, true
	case 3:
		return DeviceRGB{}, true
	case 4:
		return DeviceCMYK{}, true
	}
	return nil, false
}

func byName(name string) (ColorSpace, bool) {
	switch name {
	case "DeviceGray", "G", "CalGray":
		return DeviceGray{}, true
	case "DeviceRGB", "RGB", "CalRGB":
		return DeviceRGB{}, true
	case "DeviceCMYK", "CMYK":
		return DeviceCMYK{}, true
	case "Pattern":
		return &Pattern{}, true
	}
	return nil, false
}

func (c *Cache) parse(ctx context.Context, src raw.Source, obj raw.Object, depth int) (ColorSpace, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("%w: nested too deeply", ErrUnknownColorSpace)
	}
	obj = raw.Deref(ctx, src, obj)
	if name, ok := obj.(raw.NameObj); ok {
		if cs, ok := byName(name.Val); ok {
			return cs, nil
		}
		return nil, fmt.Errorf("%w: /%s", ErrUnknownColorSpace, name.Val)
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok || arr.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColorSpace, obj.Type())
	}
	family, ok := raw.NameOf(ctx, src, arr.Items[0])
	if !ok {
		return nil, fmt.Errorf("%w: family is not a name", ErrUnknownColorSpace)
	}
	arg := func(i int) raw.Object {
		if i < arr.Len() {
			return arr.Items[i]
		}
		return raw.NullObj{}
	}
	switch family {
	case "CalGray", "CalRGB", "DeviceGray", "DeviceRGB", "DeviceCMYK", "G", "RGB", "CMYK":
		cs, _ := byName(family)
		return cs, nil
	case "Lab":
		return parseLab(ctx, src, arg(1)), nil
	case "ICCBased":
		return c.memo(ctx, c.iccMap(), arg(1), func() (ColorSpace, error) {
			return c.parseICC(ctx, src, arg(1), depth)
		})
	case "Indexed", "I":
		return c.parseIndexed(ctx, src, arg(1), arg(2), arg(3), depth)
	case "Separation":
		name, _ := raw.NameOf(ctx, src, arg(1))
		alt, f, err := c.alternate(ctx, src, arg(2), arg(3), depth)
		if err != nil {
			return nil, err
		}
		return &Separation{Name: name, Alternate: alt, Tint: f}, nil
	case "DeviceN":
		names, ok := raw.ArrayOf(ctx, src, arg(1))
		if !ok || names.Len() == 0 {
			return nil, fmt.Errorf("%w: DeviceN without colorants", ErrUnknownColorSpace)
		}
		s := &DeviceN{}
		for _, it := range names.Items {
			n, _ := raw.NameOf(ctx, src, it)
			s.Names = append(s.Names, n)
		}
		var err error
		if s.Alternate, s.Tint, err = c.alternate(ctx, src, arg(2), arg(3), depth); err != nil {
			return nil, err
		}
		return s, nil
	case "Pattern":
		if arr.Len() < 2 {
			return &Pattern{}, nil
		}
		under, err := c.parse(ctx, src, arg(1), depth+1)
		if err != nil {
			return nil, err
		}
		return &Pattern{Under: under}, nil
	}
	return nil, fmt.Errorf("%w: /%s", ErrUnknownColorSpace, family)
}

func parseLab(ctx context.Context, src raw.Source, obj raw.Object) *Lab {
	l := &Lab{Range: [4]float64{-100, 100, -100, 100}}
	if d, ok := raw.DictOf(ctx, src, obj); ok {
		if r, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "Range")); ok && len(r) == 4 {
			copy(l.Range[:], r)
		}
	}
	return l
}

func (c *Cache) parseICC(ctx context.Context, src raw.Source, obj raw.Object, depth int) (ColorSpace, error) {
	s, ok := raw.StreamOf(ctx, src, obj)
	if !ok {
		return nil, fmt.Errorf("%w: ICCBased without a profile stream", ErrUnknownColorSpace)
	}
	n, _ := raw.IntOf(ctx, src, s.Dict.Lookup(ctx, src, "N"))
	var alt ColorSpace
	if a := s.Dict.Lookup(ctx, src, "Alternate"); !raw.IsNull(a) {
		if cs, err := c.parse(ctx, src, a, depth+1); err == nil {
			alt = cs
		}
	}
	data, derr := src.DecodeStream(ctx, s)
	var profile *ICCProfile
	if derr == nil {
		profile, _ = NewICCProfile(data)
	}
	if n == 0 && profile != nil {
		n = int64(numChannels(profile.ColorSpace()))
	}
	if alt == nil {
		if profile != nil && profile.ColorSpace() == "Lab " {
			alt = &Lab{Range: [4]float64{-128, 127, -128, 127}}
		} else if cs, ok := ByComponents(int(n)); ok {
			alt = cs
		}
	}
	if alt == nil || alt.NumComponents() != int(n) {
		return nil, fmt.Errorf("%w: ICCBased with %d components", ErrUnknownColorSpace, n)
	}
	ranges, ok := raw.Floats(ctx, src, s.Dict.Lookup(ctx, src, "Range"))
	if !ok || len(ranges) != 2*int(n) {
		ranges = alt.DefaultDecode(8)
	}
	if _, isLab := alt.(*Lab); isLab {
		return alt, nil
	}
	out := &ICCBased{N: int(n), Alternate: alt, Ranges: ranges, Profile: profile}
	if profile != nil && numChannels(profile.ColorSpace()) == out.N {
		if xf, err := NewSRGBTransform(profile, c.intent()); err == nil {
			out.xf = xf
		}
	}
	return out, nil
}

func (c *Cache) parseIndexed(ctx context.Context, src raw.Source, baseObj, hiObj, lookupObj raw.Object, depth int) (ColorSpace, error) {
	base, err := c.parse(ctx, src, baseObj, depth+1)
	if err != nil {
		return nil, err
	}
	switch base.(type) {
	case *Indexed, *Pattern:
		return nil, fmt.Errorf("%w: Indexed over %s", ErrUnknownColorSpace, base.Family())
	}
	hi, ok := raw.IntOf(ctx, src, hiObj)
	if !ok || hi < 0 {
		return nil, fmt.Errorf("%w: bad Indexed hival", ErrUnknownColorSpace)
	}
	if hi > maxIndexedHiVal {
		hi = maxIndexedHiVal
	}
	var lookup []byte
	switch v := raw.Deref(ctx, src, lookupObj).(type) {
	case raw.StringObj:
		lookup = v.Bytes
	case *raw.StreamObj:
		if lookup, err = src.DecodeStream(ctx, v); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: Indexed lookup is %s", ErrUnknownColorSpace, v.Type())
	}
	return &Indexed{Base: base, HiVal: int(hi), Lookup: lookup}, nil
}

func (c *Cache) alternate(ctx context.Context, src raw.Source, altObj, fnObj raw.Object, depth int) (ColorSpace, function.Function, error) {
	alt, err := c.parse(ctx, src, altObj, depth+1)
	if err != nil {
		return nil, nil, err
	}
	switch alt.(type) {
	case *Indexed, *Pattern, *Separation, *DeviceN:
		return nil, nil, fmt.Errorf("%w: alternate space %s", ErrUnknownColorSpace, alt.Family())
	}
	f, err := c.functions().Get(ctx, src, fnObj)
	if err != nil {
		return nil, nil, err
	}
	return alt, f, nil
}
