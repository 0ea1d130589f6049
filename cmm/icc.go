package cmm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

const iccHeaderSize = 128

var (
	// ErrBadProfile reports ICC data that cannot be parsed.
	ErrBadProfile = errors.New("invalid ICC profile")
	errNoTag      = errors.New("tag not found")
)

// ICCProfile is a parsed ICC profile header and tag directory. Tag data is
// parsed lazily by the Read*Tag accessors.
type ICCProfile struct {
	data []byte
	tags map[string][]byte
}

// NewICCProfile validates the header and tag table of an ICC profile.
func NewICCProfile(data []byte) (*ICCProfile, error) {
	if len(data) < iccHeaderSize+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadProfile, len(data))
	}
	if string(data[36:40]) != "acsp" {
		return nil, fmt.Errorf("%w: missing acsp signature", ErrBadProfile)
	}
	n := int(binary.BigEndian.Uint32(data[iccHeaderSize:]))
	if n < 0 || n > (len(data)-iccHeaderSize-4)/12 {
		return nil, fmt.Errorf("%w: %d tags", ErrBadProfile, n)
	}
	p := &ICCProfile{data: data, tags: make(map[string][]byte, n)}
	for i := 0; i < n; i++ {
		e := data[iccHeaderSize+4+12*i:]
		sig := string(e[0:4])
		off := int64(binary.BigEndian.Uint32(e[4:8]))
		size := int64(binary.BigEndian.Uint32(e[8:12]))
		if off+size > int64(len(data)) {
			// tags pointing past the end are dropped, the rest of the profile may still be usable
			continue
		}
		p.tags[sig] = data[off : off+size]
	}
	return p, nil
}

// Name returns the profile description, or "ICC Profile" when the profile
// carries none.
func (p *ICCProfile) Name() string {
	d, ok := p.GetTag("desc")
	if !ok || len(d) < 12 {
		return "ICC Profile"
	}
	switch string(d[0:4]) {
	case "desc":
		n := int(binary.BigEndian.Uint32(d[8:12]))
		if n > 0 && 12+n <= len(d) {
			return strings.TrimRight(string(d[12:12+n]), "\x00")
		}
	case "mluc":
		if len(d) >= 28 {
			size := int(binary.BigEndian.Uint32(d[20:24]))
			off := int(binary.BigEndian.Uint32(d[24:28]))
			if off+size <= len(d) {
				return decodeUTF16(d[off : off+size])
			}
		}
	}
	return "ICC Profile"
}

func decodeUTF16(b []byte) string {
	var sb strings.Builder
	for i := 0; i+1 < len(b); i += 2 {
		if r := rune(binary.BigEndian.Uint16(b[i:])); r != 0 {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ColorSpace returns the device space signature, such as "RGB " or "CMYK".
func (p *ICCProfile) ColorSpace() string { return string(p.data[16:20]) }

// PCS returns the connection space signature, "XYZ " or "Lab ".
func (p *ICCProfile) PCS() string { return string(p.data[20:24]) }

// Class returns the profile class, such as "mntr" or "prtr".
func (p *ICCProfile) Class() string { return string(p.data[12:16]) }

// Version returns the major profile version.
func (p *ICCProfile) Version() int { return int(p.data[8]) }

func (p *ICCProfile) Data() []byte { return p.data }

// GetTag returns the raw bytes of the tag with signature sig.
func (p *ICCProfile) GetTag(sig string) ([]byte, bool) {
	b, ok := p.tags[sig]
	return b, ok
}

// ReadXYZTag reads an XYZType tag.
func (p *ICCProfile) ReadXYZTag(sig string) ([3]float64, error) {
	d, ok := p.GetTag(sig)
	if !ok {
		return [3]float64{}, fmt.Errorf("%s: %w", sig, errNoTag)
	}
	if len(d) < 20 || string(d[0:4]) != "XYZ " {
		return [3]float64{}, fmt.Errorf("%w: %s is not an XYZ tag", ErrBadProfile, sig)
	}
	var xyz [3]float64
	for i := range xyz {
		xyz[i] = s15Fixed16ToFloat(binary.BigEndian.Uint32(d[8+4*i:]))
	}
	return xyz, nil
}

// ReadCurveTag reads a curveType or parametricCurveType tag.
func (p *ICCProfile) ReadCurveTag(sig string) (*Curve, error) {
	d, ok := p.GetTag(sig)
	if !ok {
		return nil, fmt.Errorf("%s: %w", sig, errNoTag)
	}
	if len(d) < 12 {
		return nil, fmt.Errorf("%w: %s too short", ErrBadProfile, sig)
	}
	switch string(d[0:4]) {
	case "curv":
		n := int(binary.BigEndian.Uint32(d[8:12]))
		switch {
		case n == 0:
			return &Curve{gamma: 1}, nil
		case n == 1:
			if len(d) < 14 {
				return nil, fmt.Errorf("%w: %s truncated", ErrBadProfile, sig)
			}
			return &Curve{gamma: float64(binary.BigEndian.Uint16(d[12:14])) / 256}, nil
		case 12+2*n > len(d):
			return nil, fmt.Errorf("%w: %s truncated", ErrBadProfile, sig)
		}
		table := make([]float64, n)
		for i := range table {
			table[i] = float64(binary.BigEndian.Uint16(d[12+2*i:])) / 65535
		}
		return &Curve{table: table}, nil
	case "para":
		fn := int(binary.BigEndian.Uint16(d[8:10]))
		counts := [...]int{1, 3, 4, 5, 7}
		if fn >= len(counts) || len(d) < 12+4*counts[fn] {
			return nil, fmt.Errorf("%w: %s parametric type %d", ErrBadProfile, sig, fn)
		}
		params := make([]float64, counts[fn])
		for i := range params {
			params[i] = s15Fixed16ToFloat(binary.BigEndian.Uint32(d[12+4*i:]))
		}
		return &Curve{para: fn, params: params}, nil
	}
	return nil, fmt.Errorf("%w: %s has type %q", ErrBadProfile, sig, d[0:4])
}

// Curve is a tone reproduction curve mapping [0,1] onto [0,1].
type Curve struct {
	gamma  float64
	table  []float64
	para   int
	params []float64
}

// Eval applies the curve to x.
func (c *Curve) Eval(x float64) float64 {
	x = clamp01(x)
	switch {
	case c.table != nil:
		return interp1D(x, c.table)
	case c.params != nil:
		return c.parametric(x)
	}
	return math.Pow(x, c.gamma)
}

func (c *Curve) parametric(x float64) float64 {
	p := c.params
	g := p[0]
	var y float64
	switch c.para {
	case 0:
		y = math.Pow(x, g)
	case 1:
		if x >= -p[2]/p[1] {
			y = math.Pow(p[1]*x+p[2], g)
		}
	case 2:
		y = p[3]
		if x >= -p[2]/p[1] {
			y = math.Pow(p[1]*x+p[2], g) + p[3]
		}
	case 3:
		y = p[3] * x
		if x >= p[4] {
			y = math.Pow(p[1]*x+p[2], g)
		}
	case 4:
		y = p[3]*x + p[6]
		if x >= p[4] {
			y = math.Pow(p[1]*x+p[2], g) + p[5]
		}
	}
	if math.IsNaN(y) {
		return 0
	}
	return clamp01(y)
}

func s15Fixed16ToFloat(v uint32) float64 {
	return float64(int32(v)) / 65536
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
