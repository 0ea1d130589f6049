package cmm

import (
	"errors"
	"fmt"
	"math"
)

// D50 white point of the profile connection space.
const (
	D50X = 0.9642
	D50Y = 1.0000
	D50Z = 0.8249
)

// sRGB primaries adapted to D50 (Bradford), linear RGB to XYZ.
var srgbToXYZ = [9]float64{
	0.4360747, 0.3850649, 0.1430804,
	0.2225045, 0.7168786, 0.0606169,
	0.0139322, 0.0971045, 0.7141733,
}

var xyzToSRGB = mustInvert(srgbToXYZ)

func mustInvert(m [9]float64) [9]float64 {
	inv, err := invertMatrix(m)
	if err != nil {
		panic(err)
	}
	return inv
}

// NewSRGBTransform builds a transform from the device space of p to sRGB
// components in [0,1]. It uses the A2B LUT for intent when present,
// falling back to A2B0, then to the matrix/TRC (RGB) or gray TRC model.
func NewSRGBTransform(p *ICCProfile, intent RenderingIntent) (Transform, error) {
	for _, sig := range []string{intent.tag(), "A2B0"} {
		if lut, err := p.ReadLUTTag(sig); err == nil {
			if lut.InputChannels != numChannels(p.ColorSpace()) || lut.OutputChannels != 3 {
				return nil, fmt.Errorf("%w: %s is %d->%d", ErrBadProfile, sig, lut.InputChannels, lut.OutputChannels)
			}
			return &lutTransform{lut: lut, lab: p.PCS() == "Lab "}, nil
		}
	}
	switch p.ColorSpace() {
	case "RGB ":
		m, err := tryCreateMatrixTRC(p)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "GRAY":
		trc, err := p.ReadCurveTag("kTRC")
		if err != nil {
			return nil, err
		}
		return grayTRCTransform{trc}, nil
	}
	return nil, fmt.Errorf("%w: no usable transform for %q", ErrBadProfile, p.ColorSpace())
}

type lutTransform struct {
	lut *LUT
	lab bool
}

func (t *lutTransform) Convert(in []float64) ([]float64, error) {
	pcs, err := t.lut.Convert(in)
	if err != nil {
		return nil, err
	}
	var xyz [3]float64
	if t.lab {
		scale := 255.0
		lscale := 100.0
		if t.lut.Wide {
			// legacy 16-bit Lab: 0xff00 is L=100, a/b 0x8000 is zero
			scale = 65535.0 / 256
			lscale = 100 * 65535.0 / 65280
		}
		xyz = labToXYZ(pcs[0]*lscale, pcs[1]*scale-128, pcs[2]*scale-128)
	} else {
		for i := range xyz {
			xyz[i] = pcs[i] * 65535 / 32768
		}
	}
	r, g, b := XYZToSRGB(xyz)
	return []float64{r, g, b}, nil
}

type matrixTRCTransform struct {
	trc    [3]*Curve
	matrix [9]float64 // rX, gX, bX, rY, gY, bY, rZ, gZ, bZ
}

func (t *matrixTRCTransform) Convert(in []float64) ([]float64, error) {
	if len(in) < 3 {
		return nil, errors.New("input too short")
	}
	r := t.trc[0].Eval(in[0])
	g := t.trc[1].Eval(in[1])
	b := t.trc[2].Eval(in[2])
	xyz := mulVec(t.matrix, [3]float64{r, g, b})
	sr, sg, sb := XYZToSRGB(xyz)
	return []float64{sr, sg, sb}, nil
}

func tryCreateMatrixTRC(p *ICCProfile) (*matrixTRCTransform, error) {
	var cols [3][3]float64
	t := &matrixTRCTransform{}
	for i, c := range []string{"r", "g", "b"} {
		xyz, err := p.ReadXYZTag(c + "XYZ")
		if err != nil {
			return nil, err
		}
		cols[i] = xyz
		if t.trc[i], err = p.ReadCurveTag(c + "TRC"); err != nil {
			return nil, err
		}
	}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			t.matrix[3*row+col] = cols[col][row]
		}
	}
	return t, nil
}

type grayTRCTransform struct{ trc *Curve }

func (t grayTRCTransform) Convert(in []float64) ([]float64, error) {
	if len(in) < 1 {
		return nil, errors.New("input too short")
	}
	y := t.trc.Eval(in[0])
	v := encodeSRGB(y)
	return []float64{v, v, v}, nil
}

func numChannels(cs string) int {
	switch cs {
	case "RGB ", "Lab ", "XYZ ", "CMY ", "HSV ", "HLS ", "YCbr", "Luv ", "Yxy ":
		return 3
	case "CMYK":
		return 4
	case "GRAY":
		return 1
	}
	// nCLR signatures: '2CLR' .. 'FCLR'
	if len(cs) == 4 && cs[1:] == "CLR" {
		if n := hexDigit(cs[0]); n >= 2 {
			return n
		}
	}
	return 0
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return 0
}

// XYZToSRGB converts a D50 XYZ colour to gamma-encoded sRGB, clipping out
// of gamut values.
func XYZToSRGB(xyz [3]float64) (r, g, b float64) {
	lin := mulVec(xyzToSRGB, xyz)
	return encodeSRGB(lin[0]), encodeSRGB(lin[1]), encodeSRGB(lin[2])
}

func encodeSRGB(v float64) float64 {
	v = clamp01(v)
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

func mulVec(m [9]float64, v [3]float64) [3]float64 {
	return [3]float64{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

// labToXYZ converts CIE L*a*b* into D50 XYZ. Colours relative to another
// white point are von Kries scaled onto D50, which leaves only the D50
// white in the result.
func labToXYZ(L, a, b float64) [3]float64 {
	fy := (L + 16) / 116
	fx := fy + a/500
	fz := fy - b/200
	fInv := func(t float64) float64 {
		if t > 6.0/29 {
			return t * t * t
		}
		return 108.0 / 841 * (t - 4.0/29)
	}
	return [3]float64{
		fInv(fx) * D50X,
		fInv(fy) * D50Y,
		fInv(fz) * D50Z,
	}
}

func invertMatrix(m [9]float64) ([9]float64, error) {
	a, b, c := m[0], m[1], m[2]
	d, e, f := m[3], m[4], m[5]
	g, h, i := m[6], m[7], m[8]

	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	if math.Abs(det) < 1e-10 {
		return [9]float64{}, errors.New("matrix is singular")
	}
	invDet := 1.0 / det

	return [9]float64{
		(e*i - f*h) * invDet, (c*h - b*i) * invDet, (b*f - c*e) * invDet,
		(f*g - d*i) * invDet, (a*i - c*g) * invDet, (c*d - a*f) * invDet,
		(d*h - e*g) * invDet, (g*b - a*h) * invDet, (a*e - b*d) * invDet,
	}, nil
}
