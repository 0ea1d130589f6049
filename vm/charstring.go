package vm

import (
	"errors"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/recovery"
)

const (
	// EexecKey seeds decryption of the private portion of a Type 1 font.
	EexecKey = 55665
	// CharstringKey seeds decryption of individual charstrings and subrs.
	CharstringKey = 4330

	// MaxCharstringStack bounds the operand stack of both charstring
	// machines. Type 2 allows 48 operands; Type 1 fonts in the wild
	// overshoot their nominal 24.
	MaxCharstringStack = 48
	// MaxSubrDepth bounds subroutine nesting.
	MaxSubrDepth = 10
	// MaxCharstringSteps bounds the number of operators one glyph may
	// execute, counting those run inside subroutines.
	MaxCharstringSteps = 1 << 16
)

var errStepLimit = errors.New("charstring exceeds step limit")

// PathSink receives the outline of a glyph. *coords.Path satisfies it.
type PathSink interface {
	MoveTo(x, y float64)
	LineTo(x, y float64)
	CubeTo(x1, y1, x2, y2, x, y float64)
	Close()
}

var _ PathSink = (*coords.Path)(nil)

// GlyphMetrics are the metrics a charstring declares, in charstring units.
type GlyphMetrics struct {
	SideBearing coords.Point
	Advance     coords.Point
	// HasWidth is false when the program never set a width.
	HasWidth bool
}

// Decrypt reverses the eexec/charstring cipher with the given key and
// drops the first skip plaintext bytes. A negative skip returns data
// unchanged, matching a font whose lenIV is -1.
func Decrypt(data []byte, key uint16, skip int) []byte {
	if skip < 0 {
		return data
	}
	r := key
	out := make([]byte, len(data))
	for i, c := range data {
		out[i] = c ^ byte(r>>8)
		r = (uint16(c)+r)*52845 + 22719
	}
	if skip > len(out) {
		skip = len(out)
	}
	return out[skip:]
}

// Encrypt applies the cipher Decrypt reverses, prefixing skip zero bytes.
func Encrypt(plain []byte, key uint16, skip int) []byte {
	r := key
	in := append(make([]byte, skip), plain...)
	out := make([]byte, len(in))
	for i, p := range in {
		c := p ^ byte(r>>8)
		out[i] = c
		r = (uint16(c)+r)*52845 + 22719
	}
	return out
}

// frame is one entry of a charstring call stack.
type frame struct {
	code []byte
	ip   int
}

type csStack struct {
	v []float64
}

func (s *csStack) push(x float64) error {
	if len(s.v) >= MaxCharstringStack {
		return recovery.ErrStackOverflow
	}
	s.v = append(s.v, x)
	return nil
}

func (s *csStack) pop() (float64, error) {
	if len(s.v) == 0 {
		return 0, recovery.ErrStackUnderflow
	}
	x := s.v[len(s.v)-1]
	s.v = s.v[:len(s.v)-1]
	return x, nil
}

// need fails unless at least n operands are present.
func (s *csStack) need(n int) error {
	if len(s.v) < n {
		return recovery.ErrStackUnderflow
	}
	return nil
}

func (s *csStack) clear() { s.v = s.v[:0] }

// readNumber decodes an operand that starts with b0 at code[ip-1].
// fixed selects the Type 2 meaning of 255 (16.16) over Type 1 (int32).
func readNumber(code []byte, ip int, b0 byte, fixed bool) (float64, int, bool) {
	switch {
	case b0 >= 32 && b0 <= 246:
		return float64(int(b0) - 139), ip, true
	case b0 >= 247 && b0 <= 250:
		if ip >= len(code) {
			return 0, ip, false
		}
		return float64((int(b0)-247)*256 + int(code[ip]) + 108), ip + 1, true
	case b0 >= 251 && b0 <= 254:
		if ip >= len(code) {
			return 0, ip, false
		}
		return float64(-(int(b0)-251)*256 - int(code[ip]) - 108), ip + 1, true
	case b0 == 255:
		if ip+4 > len(code) {
			return 0, ip, false
		}
		v := int32(uint32(code[ip])<<24 | uint32(code[ip+1])<<16 | uint32(code[ip+2])<<8 | uint32(code[ip+3]))
		if fixed {
			return float64(v) / 65536, ip + 4, true
		}
		return float64(v), ip + 4, true
	}
	return 0, ip, false
}

// pen tracks the current point and forwards absolute coordinates to a
// sink.
type pen struct {
	sink   PathSink
	x, y   float64
	open   bool
	offset coords.Point
}

func (p *pen) moveTo(dx, dy float64) {
	p.x += dx
	p.y += dy
	p.sink.MoveTo(p.x+p.offset.X, p.y+p.offset.Y)
	p.open = true
}

func (p *pen) lineTo(dx, dy float64) {
	p.x += dx
	p.y += dy
	p.sink.LineTo(p.x+p.offset.X, p.y+p.offset.Y)
}

func (p *pen) curveTo(dx1, dy1, dx2, dy2, dx3, dy3 float64) {
	x1, y1 := p.x+dx1, p.y+dy1
	x2, y2 := x1+dx2, y1+dy2
	p.x, p.y = x2+dx3, y2+dy3
	o := p.offset
	p.sink.CubeTo(x1+o.X, y1+o.Y, x2+o.X, y2+o.Y, p.x+o.X, p.y+o.Y)
}

func (p *pen) closePath() {
	if p.open {
		p.sink.Close()
		p.open = false
	}
}

// seacRequest is an accented character composed from two standard
// encoding codes, run after the calling glyph finishes.
type seacRequest struct {
	base, accent int
	dx, dy       float64
}

// StandardEncodingCode resolves the character codes seac composites
// refer to into charstrings. It returns nil for a code it cannot map.
type StandardEncodingCode func(code int) []byte
