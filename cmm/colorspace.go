package cmm

import (
	"image/color"
	"math"
	"sync"
	"sync/atomic"

	"github.com/redforks/nipdf/function"
)

// ColorSpace maps colour components to sRGB. Implementations are immutable
// and safe for concurrent use.
type ColorSpace interface {
	// Family is the PDF family name, such as "DeviceRGB" or "Indexed".
	Family() string
	NumComponents() int
	// InitialColor is the colour selected by CS/cs.
	InitialColor() []float64
	// ToRGB converts components to sRGB in [0,1]. Missing components read
	// as zero.
	ToRGB(c []float64) (r, g, b float64)
	// DefaultDecode is the image Decode array for bpc bits per component.
	DefaultDecode(bpc int) []float64
}

// NRGBA converts c in cs to an 8-bit colour with the given alpha.
func NRGBA(cs ColorSpace, c []float64, alpha float64) color.NRGBA {
	r, g, b := cs.ToRGB(c)
	return color.NRGBA{R: to8(r), G: to8(g), B: to8(b), A: to8(alpha)}
}

func to8(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func comp(c []float64, i int) float64 {
	if i < len(c) {
		return c[i]
	}
	return 0
}

func unitDecode(n int) []float64 {
	d := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		d = append(d, 0, 1)
	}
	return d
}

type DeviceGray struct{}

func (DeviceGray) Family() string              { return "DeviceGray" }
func (DeviceGray) NumComponents() int          { return 1 }
func (DeviceGray) InitialColor() []float64     { return []float64{0} }
func (DeviceGray) DefaultDecode(int) []float64 { return unitDecode(1) }

func (DeviceGray) ToRGB(c []float64) (r, g, b float64) {
	v := clamp01(comp(c, 0))
	return v, v, v
}

type DeviceRGB struct{}

func (DeviceRGB) Family() string              { return "DeviceRGB" }
func (DeviceRGB) NumComponents() int          { return 3 }
func (DeviceRGB) InitialColor() []float64     { return []float64{0, 0, 0} }
func (DeviceRGB) DefaultDecode(int) []float64 { return unitDecode(3) }

func (DeviceRGB) ToRGB(c []float64) (r, g, b float64) {
	return clamp01(comp(c, 0)), clamp01(comp(c, 1)), clamp01(comp(c, 2))
}

type DeviceCMYK struct{}

func (DeviceCMYK) Family() string              { return "DeviceCMYK" }
func (DeviceCMYK) NumComponents() int          { return 4 }
func (DeviceCMYK) InitialColor() []float64     { return []float64{0, 0, 0, 1} }
func (DeviceCMYK) DefaultDecode(int) []float64 { return unitDecode(4) }

// ToRGB approximates a coated press: each of the 16 ink combinations has
// a measured sRGB value and the result interpolates between them.
func (DeviceCMYK) ToRGB(col []float64) (r, g, b float64) {
	c, m, y, k := clamp01(comp(col, 0)), clamp01(comp(col, 1)), clamp01(comp(col, 2)), clamp01(comp(col, 3))
	c1, m1, y1, k1 := 1-c, 1-m, 1-y, 1-k

	x := c1 * m1 * y1 * k1
	r, g, b = x, x, x

	x = c1 * m1 * y1 * k
	r += 0.1373 * x
	g += 0.1216 * x
	b += 0.1255 * x

	x = c1 * m1 * y * k1
	r += x
	g += 0.9490 * x

	x = c1 * m1 * y * k
	r += 0.1098 * x
	g += 0.1020 * x

	x = c1 * m * y1 * k1
	r += 0.9255 * x
	b += 0.5490 * x

	x = c1 * m * y1 * k
	r += 0.1412 * x

	x = c1 * m * y * k1
	r += 0.9294 * x
	g += 0.1098 * x
	b += 0.1412 * x

	x = c1 * m * y * k
	r += 0.1333 * x

	x = c * m1 * y1 * k1
	g += 0.6784 * x
	b += 0.9373 * x

	x = c * m1 * y1 * k
	g += 0.0588 * x
	b += 0.1412 * x

	x = c * m1 * y * k1
	g += 0.6510 * x
	b += 0.3137 * x

	x = c * m1 * y * k
	g += 0.0745 * x

	x = c * m * y1 * k1
	r += 0.1804 * x
	g += 0.1922 * x
	b += 0.5725 * x

	x = c * m * y1 * k
	b += 0.0078 * x

	x = c * m * y * k1
	r += 0.2118 * x
	g += 0.2119 * x
	b += 0.2235 * x

	return clamp01(r), clamp01(g), clamp01(b)
}

// Lab is a CIE L*a*b* space. Range bounds a* and b*.
type Lab struct {
	Range [4]float64
}

func (Lab) Family() string     { return "Lab" }
func (Lab) NumComponents() int { return 3 }

func (l Lab) InitialColor() []float64 {
	return []float64{0, clampTo(0, l.Range[0], l.Range[1]), clampTo(0, l.Range[2], l.Range[3])}
}

func (l Lab) DefaultDecode(int) []float64 {
	return []float64{0, 100, l.Range[0], l.Range[1], l.Range[2], l.Range[3]}
}

func (l Lab) ToRGB(c []float64) (r, g, b float64) {
	L := clampTo(comp(c, 0), 0, 100)
	a := clampTo(comp(c, 1), l.Range[0], l.Range[1])
	bb := clampTo(comp(c, 2), l.Range[2], l.Range[3])
	return XYZToSRGB(labToXYZ(L, a, bb))
}

func clampTo(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}

// maxMemo bounds the memoized conversions of one ICC space.
const maxMemo = 1 << 15

// ICCBased converts through an embedded profile, or through Alternate when
// the profile has no usable transform.
type ICCBased struct {
	N         int
	Alternate ColorSpace
	Ranges    []float64
	Profile   *ICCProfile
	xf        Transform

	memo  sync.Map // [4]uint8 -> [3]float64
	count atomic.Int32
}

func (*ICCBased) Family() string                { return "ICCBased" }
func (s *ICCBased) NumComponents() int          { return s.N }
func (s *ICCBased) DefaultDecode(int) []float64 { return s.Ranges }

func (s *ICCBased) InitialColor() []float64 {
	out := make([]float64, s.N)
	for i := range out {
		out[i] = clampTo(0, s.Ranges[2*i], s.Ranges[2*i+1])
	}
	return out
}

func (s *ICCBased) ToRGB(c []float64) (r, g, b float64) {
	if s.xf == nil {
		return s.Alternate.ToRGB(c)
	}
	in := make([]float64, s.N)
	var key [4]uint8
	for i := range in {
		lo, hi := s.Ranges[2*i], s.Ranges[2*i+1]
		if hi > lo {
			in[i] = clamp01((comp(c, i) - lo) / (hi - lo))
		}
		if i < len(key) {
			key[i] = to8(in[i])
		}
	}
	memoize := s.N <= len(key)
	if memoize {
		if v, ok := s.memo.Load(key); ok {
			rgb := v.([3]float64)
			return rgb[0], rgb[1], rgb[2]
		}
		for i := range in {
			in[i] = float64(key[i]) / 255
		}
	}
	out, err := s.xf.Convert(in)
	if err != nil || len(out) < 3 {
		return s.Alternate.ToRGB(c)
	}
	rgb := [3]float64{clamp01(out[0]), clamp01(out[1]), clamp01(out[2])}
	if memoize && s.count.Load() < maxMemo {
		if _, loaded := s.memo.LoadOrStore(key, rgb); !loaded {
			s.count.Add(1)
		}
	}
	return rgb[0], rgb[1], rgb[2]
}

// Indexed maps a single index through a lookup table into Base.
type Indexed struct {
	Base   ColorSpace
	HiVal  int
	Lookup []byte
}

func (*Indexed) Family() string          { return "Indexed" }
func (*Indexed) NumComponents() int      { return 1 }
func (*Indexed) InitialColor() []float64 { return []float64{0} }

func (s *Indexed) DefaultDecode(bpc int) []float64 {
	return []float64{0, math.Exp2(float64(bpc)) - 1}
}

// BaseColor returns the base-space components for index i.
func (s *Indexed) BaseColor(i int) []float64 {
	if i < 0 {
		i = 0
	}
	if i > s.HiVal {
		i = s.HiVal
	}
	n := s.Base.NumComponents()
	dec := s.Base.DefaultDecode(8)
	out := make([]float64, n)
	for k := range out {
		var v float64
		if off := i*n + k; off < len(s.Lookup) {
			v = float64(s.Lookup[off]) / 255
		}
		lo, hi := 0.0, 1.0
		if 2*k+1 < len(dec) {
			lo, hi = dec[2*k], dec[2*k+1]
		}
		out[k] = lo + v*(hi-lo)
	}
	return out
}

func (s *Indexed) ToRGB(c []float64) (r, g, b float64) {
	return s.Base.ToRGB(s.BaseColor(int(math.Round(comp(c, 0)))))
}

// Separation is a single colorant rendered through its tint transform.
type Separation struct {
	Name      string
	Alternate ColorSpace
	Tint      function.Function
}

func (*Separation) Family() string              { return "Separation" }
func (*Separation) NumComponents() int          { return 1 }
func (*Separation) InitialColor() []float64     { return []float64{1} }
func (*Separation) DefaultDecode(int) []float64 { return unitDecode(1) }

// IsNone reports a colorant that never marks the page.
func (s *Separation) IsNone() bool { return s.Name == "None" }

func (s *Separation) ToRGB(c []float64) (r, g, b float64) {
	t := clamp01(comp(c, 0))
	if s.Name == "All" {
		v := 1 - t
		return v, v, v
	}
	return tint(s.Tint, s.Alternate, []float64{t})
}

func tint(f function.Function, alt ColorSpace, in []float64) (r, g, b float64) {
	out, err := f.Eval(in)
	if err != nil {
		return alt.ToRGB(alt.InitialColor())
	}
	return alt.ToRGB(out)
}

// DeviceN is a set of named colorants rendered through a tint transform.
type DeviceN struct {
	Names     []string
	Alternate ColorSpace
	Tint      function.Function
}

func (*DeviceN) Family() string                { return "DeviceN" }
func (s *DeviceN) NumComponents() int          { return len(s.Names) }
func (s *DeviceN) DefaultDecode(int) []float64 { return unitDecode(len(s.Names)) }

func (s *DeviceN) InitialColor() []float64 {
	out := make([]float64, len(s.Names))
	for i := range out {
		out[i] = 1
	}
	return out
}

// IsNone reports a space whose colorants are all None.
func (s *DeviceN) IsNone() bool {
	for _, n := range s.Names {
		if n != "None" {
			return false
		}
	}
	return true
}

func (s *DeviceN) ToRGB(c []float64) (r, g, b float64) {
	in := make([]float64, len(s.Names))
	for i := range in {
		in[i] = clamp01(comp(c, i))
	}
	return tint(s.Tint, s.Alternate, in)
}

// Pattern selects a pattern as the colour. Uncoloured patterns carry
// their components in Under.
type Pattern struct {
	Under ColorSpace
}

func (*Pattern) Family() string { return "Pattern" }

func (s *Pattern) NumComponents() int {
	if s.Under == nil {
		return 0
	}
	return s.Under.NumComponents()
}

func (s *Pattern) InitialColor() []float64 { return nil }

func (s *Pattern) DefaultDecode(int) []float64 { return nil }

func (s *Pattern) ToRGB(c []float64) (r, g, b float64) {
	if s.Under == nil {
		return 0, 0, 0
	}
	return s.Under.ToRGB(c)
}

// IsNone reports whether painting in cs leaves the page untouched.
func IsNone(cs ColorSpace) bool {
	switch s := cs.(type) {
	case *Separation:
		return s.IsNone()
	case *DeviceN:
		return s.IsNone()
	}
	return false
}
