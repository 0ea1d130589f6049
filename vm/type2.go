package vm

import (
	"fmt"
	"math"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/recovery"
)

// Type2Program holds the subroutines and width defaults of one CFF font
// (or one FD of a CID-keyed CFF font).
type Type2Program struct {
	GlobalSubrs   [][]byte
	LocalSubrs    [][]byte
	DefaultWidthX float64
	NominalWidthX float64
	// Seac resolves the base and accent of endchar composites.
	Seac StandardEncodingCode
}

// SubrBias is the value added to a Type 2 subr operand to index a subr
// INDEX holding count entries.
func SubrBias(count int) int {
	switch {
	case count < 1240:
		return 107
	case count < 33900:
		return 1131
	}
	return 32768
}

type type2Machine struct {
	prog  *Type2Program
	stack csStack
	calls []frame
	pen   pen
	steps int

	nStems    int
	haveWidth bool
	width     float64
	transient [32]float64
	seed      uint32
	seac      *seacRequest
}

// Run decodes a Type 2 charstring into sink. The returned advance is
// the charstring's explicit width or DefaultWidthX.
func (p *Type2Program) Run(cs []byte, sink PathSink) (GlyphMetrics, error) {
	m := &type2Machine{prog: p, pen: pen{sink: sink}, seed: 0x2545f491}
	err := m.exec(cs)
	metrics := m.metrics()
	if err != nil || m.seac == nil {
		return metrics, err
	}
	req := m.seac
	var base, accent []byte
	if p.Seac != nil {
		base, accent = p.Seac(req.base), p.Seac(req.accent)
	}
	if base == nil || accent == nil {
		return metrics, &recovery.VMError{Op: "endchar", Err: fmt.Errorf("composite code %d/%d not in font", req.base, req.accent)}
	}
	for _, part := range []struct {
		cs     []byte
		offset coords.Point
	}{
		{base, coords.Point{}},
		{accent, coords.Point{X: req.dx, Y: req.dy}},
	} {
		sub := &type2Machine{prog: p, pen: pen{sink: sink, offset: part.offset}, steps: m.steps, seed: m.seed}
		if err := sub.exec(part.cs); err != nil {
			return metrics, err
		}
		if sub.seac != nil {
			return metrics, &recovery.VMError{Op: "endchar", Err: fmt.Errorf("nested composite")}
		}
		m.steps = sub.steps
	}
	return metrics, nil
}

func (m *type2Machine) metrics() GlyphMetrics {
	w := m.prog.DefaultWidthX
	if m.haveWidth {
		w = m.prog.NominalWidthX + m.width
	}
	return GlyphMetrics{Advance: coords.Point{X: w}, HasWidth: true}
}

func (m *type2Machine) exec(cs []byte) error {
	cur := frame{code: cs}
	decided := false
	// width consumes the optional leading width operand of the first
	// stack-clearing operator; even reports whether that operator's own
	// argument count is even.
	width := func(even bool) {
		if decided {
			return
		}
		decided = true
		n := len(m.stack.v)
		if n > 0 && (n%2 == 1) == even {
			m.haveWidth = true
			m.width = m.stack.v[0]
			m.stack.v = append(m.stack.v[:0], m.stack.v[1:]...)
		}
	}
	for {
		if cur.ip >= len(cur.code) {
			if len(m.calls) == 0 {
				m.pen.closePath()
				return nil
			}
			cur = m.calls[len(m.calls)-1]
			m.calls = m.calls[:len(m.calls)-1]
			continue
		}
		b0 := cur.code[cur.ip]
		cur.ip++
		if b0 >= 32 || b0 == 28 {
			var v float64
			if b0 == 28 {
				if cur.ip+2 > len(cur.code) {
					return &recovery.VMError{Op: "shortint", Err: fmt.Errorf("truncated operand")}
				}
				v = float64(int16(uint16(cur.code[cur.ip])<<8 | uint16(cur.code[cur.ip+1])))
				cur.ip += 2
			} else {
				var ok bool
				v, cur.ip, ok = readNumber(cur.code, cur.ip, b0, true)
				if !ok {
					return &recovery.VMError{Op: "number", Err: fmt.Errorf("truncated operand")}
				}
			}
			if err := m.stack.push(v); err != nil {
				return &recovery.VMError{Op: "number", Err: err}
			}
			continue
		}
		m.steps++
		if m.steps > MaxCharstringSteps {
			return &recovery.VMError{Err: errStepLimit}
		}
		op := int(b0)
		if b0 == 12 {
			if cur.ip >= len(cur.code) {
				return &recovery.VMError{Op: "escape", Err: fmt.Errorf("truncated operator")}
			}
			op = 1200 + int(cur.code[cur.ip])
			cur.ip++
		}
		var err error
		switch op {
		case 10, 29: // callsubr callgsubr
			subrs := m.prog.LocalSubrs
			if op == 29 {
				subrs = m.prog.GlobalSubrs
			}
			var n float64
			if n, err = m.stack.pop(); err != nil {
				break
			}
			i := int(n) + SubrBias(len(subrs))
			if i < 0 || i >= len(subrs) {
				err = fmt.Errorf("%w: subr %d", recovery.ErrRangeCheck, i)
				break
			}
			if len(m.calls) >= MaxSubrDepth {
				err = recovery.ErrStackOverflow
				break
			}
			m.calls = append(m.calls, cur)
			cur = frame{code: subrs[i]}
		case 11: // return
			if len(m.calls) == 0 {
				err = recovery.ErrStackUnderflow
				break
			}
			cur = m.calls[len(m.calls)-1]
			m.calls = m.calls[:len(m.calls)-1]
		case 14: // endchar
			width(true)
			if len(m.stack.v) >= 4 {
				a := m.stack.v[len(m.stack.v)-4:]
				m.seac = &seacRequest{dx: a[0], dy: a[1], base: int(a[2]), accent: int(a[3])}
			}
			m.pen.closePath()
			return nil
		case 1, 3, 18, 23: // hstem vstem hstemhm vstemhm
			width(true)
			m.nStems += len(m.stack.v) / 2
			m.stack.clear()
		case 19, 20: // hintmask cntrmask
			width(true)
			// operands here are an implied vstem list
			m.nStems += len(m.stack.v) / 2
			m.stack.clear()
			cur.ip += (m.nStems + 7) / 8
			if cur.ip > len(cur.code) {
				err = fmt.Errorf("truncated mask")
			}
		case 21: // rmoveto
			width(true)
			err = m.moveTo(2)
		case 22: // hmoveto
			width(false)
			err = m.moveTo(0)
		case 4: // vmoveto
			width(false)
			err = m.moveTo(1)
		default:
			err = m.op(op)
		}
		if err != nil {
			return &recovery.VMError{Op: type2OpName(op), Err: err}
		}
	}
}

// moveTo closes the current subpath and starts another. kind 0 is
// horizontal, 1 vertical, 2 both.
func (m *type2Machine) moveTo(kind int) error {
	s := &m.stack
	need := 1
	if kind == 2 {
		need = 2
	}
	if err := s.need(need); err != nil {
		return err
	}
	a := s.v[len(s.v)-need:]
	var dx, dy float64
	switch kind {
	case 0:
		dx = a[0]
	case 1:
		dy = a[0]
	default:
		dx, dy = a[0], a[1]
	}
	m.pen.closePath()
	m.pen.moveTo(dx, dy)
	s.clear()
	return nil
}

func (m *type2Machine) op(op int) error {
	s := &m.stack
	a := s.v
	switch op {
	case 5: // rlineto
		if len(a) < 2 {
			return recovery.ErrStackUnderflow
		}
		for i := 0; i+2 <= len(a); i += 2 {
			m.pen.lineTo(a[i], a[i+1])
		}
	case 6, 7: // hlineto vlineto
		if len(a) < 1 {
			return recovery.ErrStackUnderflow
		}
		horizontal := op == 6
		for _, d := range a {
			if horizontal {
				m.pen.lineTo(d, 0)
			} else {
				m.pen.lineTo(0, d)
			}
			horizontal = !horizontal
		}
	case 8: // rrcurveto
		if len(a) < 6 {
			return recovery.ErrStackUnderflow
		}
		for i := 0; i+6 <= len(a); i += 6 {
			m.pen.curveTo(a[i], a[i+1], a[i+2], a[i+3], a[i+4], a[i+5])
		}
	case 24: // rcurveline
		if len(a) < 8 {
			return recovery.ErrStackUnderflow
		}
		i := 0
		for ; i+6 <= len(a)-2; i += 6 {
			m.pen.curveTo(a[i], a[i+1], a[i+2], a[i+3], a[i+4], a[i+5])
		}
		m.pen.lineTo(a[i], a[i+1])
	case 25: // rlinecurve
		if len(a) < 8 {
			return recovery.ErrStackUnderflow
		}
		i := 0
		for ; i+2 <= len(a)-6; i += 2 {
			m.pen.lineTo(a[i], a[i+1])
		}
		m.pen.curveTo(a[i], a[i+1], a[i+2], a[i+3], a[i+4], a[i+5])
	case 26: // vvcurveto
		if len(a) < 4 {
			return recovery.ErrStackUnderflow
		}
		var dx1 float64
		if len(a)%2 == 1 {
			dx1, a = a[0], a[1:]
		}
		for i := 0; i+4 <= len(a); i += 4 {
			m.pen.curveTo(dx1, a[i], a[i+1], a[i+2], 0, a[i+3])
			dx1 = 0
		}
	case 27: // hhcurveto
		if len(a) < 4 {
			return recovery.ErrStackUnderflow
		}
		var dy1 float64
		if len(a)%2 == 1 {
			dy1, a = a[0], a[1:]
		}
		for i := 0; i+4 <= len(a); i += 4 {
			m.pen.curveTo(a[i], dy1, a[i+1], a[i+2], a[i+3], 0)
			dy1 = 0
		}
	case 30, 31: // vhcurveto hvcurveto
		if len(a) < 4 {
			return recovery.ErrStackUnderflow
		}
		horizontal := op == 31
		for i := 0; i+4 <= len(a); i += 4 {
			var last float64
			if len(a)-i == 5 {
				last = a[i+4]
			}
			if horizontal {
				m.pen.curveTo(a[i], 0, a[i+1], a[i+2], last, a[i+3])
			} else {
				m.pen.curveTo(0, a[i], a[i+1], a[i+2], a[i+3], last)
			}
			horizontal = !horizontal
		}
	case 1234: // hflex
		if len(a) < 7 {
			return recovery.ErrStackUnderflow
		}
		m.pen.curveTo(a[0], 0, a[1], a[2], a[3], 0)
		m.pen.curveTo(a[4], 0, a[5], -a[2], a[6], 0)
	case 1235: // flex
		if len(a) < 13 {
			return recovery.ErrStackUnderflow
		}
		m.pen.curveTo(a[0], a[1], a[2], a[3], a[4], a[5])
		m.pen.curveTo(a[6], a[7], a[8], a[9], a[10], a[11])
	case 1236: // hflex1
		if len(a) < 9 {
			return recovery.ErrStackUnderflow
		}
		m.pen.curveTo(a[0], a[1], a[2], a[3], a[4], 0)
		m.pen.curveTo(a[5], 0, a[6], a[7], a[8], -(a[1] + a[3] + a[7]))
	case 1237: // flex1
		if len(a) < 11 {
			return recovery.ErrStackUnderflow
		}
		var dx, dy float64
		for i := 0; i < 10; i += 2 {
			dx += a[i]
			dy += a[i+1]
		}
		dx6, dy6 := a[10], -dy
		if math.Abs(dx) <= math.Abs(dy) {
			dx6, dy6 = -dx, a[10]
		}
		m.pen.curveTo(a[0], a[1], a[2], a[3], a[4], a[5])
		m.pen.curveTo(a[6], a[7], a[8], a[9], dx6, dy6)
	default:
		return m.arith(op)
	}
	s.clear()
	return nil
}

// arith runs the operators that compute on the stack rather than draw.
func (m *type2Machine) arith(op int) error {
	s := &m.stack
	switch op {
	case 1203, 1204: // and or
		b, err := s.pop()
		if err != nil {
			return err
		}
		x, err := s.pop()
		if err != nil {
			return err
		}
		r := x != 0 && b != 0
		if op == 1204 {
			r = x != 0 || b != 0
		}
		return s.push(b2f(r))
	case 1205: // not
		x, err := s.pop()
		if err != nil {
			return err
		}
		return s.push(b2f(x == 0))
	case 1209, 1214, 1226: // abs neg sqrt
		x, err := s.pop()
		if err != nil {
			return err
		}
		switch op {
		case 1209:
			x = math.Abs(x)
		case 1214:
			x = -x
		default:
			if x < 0 {
				return recovery.ErrRangeCheck
			}
			x = math.Sqrt(x)
		}
		return s.push(x)
	case 1210, 1211, 1212, 1224, 1215: // add sub div mul eq
		b, err := s.pop()
		if err != nil {
			return err
		}
		x, err := s.pop()
		if err != nil {
			return err
		}
		switch op {
		case 1210:
			x += b
		case 1211:
			x -= b
		case 1212:
			if b == 0 {
				return recovery.ErrRangeCheck
			}
			x /= b
		case 1224:
			x *= b
		default:
			x = b2f(x == b)
		}
		return s.push(x)
	case 1218: // drop
		_, err := s.pop()
		return err
	case 1220: // put
		i, err := s.pop()
		if err != nil {
			return err
		}
		v, err := s.pop()
		if err != nil {
			return err
		}
		if i < 0 || int(i) >= len(m.transient) {
			return recovery.ErrRangeCheck
		}
		m.transient[int(i)] = v
		return nil
	case 1221: // get
		i, err := s.pop()
		if err != nil {
			return err
		}
		if i < 0 || int(i) >= len(m.transient) {
			return recovery.ErrRangeCheck
		}
		return s.push(m.transient[int(i)])
	case 1222: // ifelse
		if err := s.need(4); err != nil {
			return err
		}
		a := s.v[len(s.v)-4:]
		r := a[0]
		if a[2] > a[3] {
			r = a[1]
		}
		s.v = append(s.v[:len(s.v)-4], r)
		return nil
	case 1223: // random
		// xorshift keeps output identical across runs
		m.seed ^= m.seed << 13
		m.seed ^= m.seed >> 17
		m.seed ^= m.seed << 5
		return s.push((float64(m.seed%65535) + 1) / 65536)
	case 1227: // dup
		if err := s.need(1); err != nil {
			return err
		}
		return s.push(s.v[len(s.v)-1])
	case 1228: // exch
		if err := s.need(2); err != nil {
			return err
		}
		n := len(s.v)
		s.v[n-1], s.v[n-2] = s.v[n-2], s.v[n-1]
		return nil
	case 1229: // index
		i, err := s.pop()
		if err != nil {
			return err
		}
		if i < 0 {
			i = 0
		}
		if int(i) >= len(s.v) {
			return recovery.ErrRangeCheck
		}
		return s.push(s.v[len(s.v)-1-int(i)])
	case 1230: // roll
		jf, err := s.pop()
		if err != nil {
			return err
		}
		nf, err := s.pop()
		if err != nil {
			return err
		}
		n, j := int(nf), int(jf)
		if n < 0 || n > len(s.v) {
			return recovery.ErrRangeCheck
		}
		if n == 0 {
			return nil
		}
		seg := s.v[len(s.v)-n:]
		j = (j%n + n) % n
		tmp := make([]float64, n)
		for i := range seg {
			tmp[(i+j)%n] = seg[i]
		}
		copy(seg, tmp)
		return nil
	}
	return recovery.ErrUndefined
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func type2OpName(op int) string {
	if name, ok := type2Ops[op]; ok {
		return name
	}
	return fmt.Sprintf("op%d", op)
}

var type2Ops = map[int]string{
	1: "hstem", 3: "vstem", 4: "vmoveto", 5: "rlineto", 6: "hlineto",
	7: "vlineto", 8: "rrcurveto", 10: "callsubr", 11: "return",
	14: "endchar", 18: "hstemhm", 19: "hintmask", 20: "cntrmask",
	21: "rmoveto", 22: "hmoveto", 23: "vstemhm", 24: "rcurveline",
	25: "rlinecurve", 26: "vvcurveto", 27: "hhcurveto", 29: "callgsubr",
	30: "vhcurveto", 31: "hvcurveto",
	1203: "and", 1204: "or", 1205: "not", 1209: "abs", 1210: "add",
	1211: "sub", 1212: "div", 1214: "neg", 1215: "eq", 1218: "drop",
	1220: "put", 1221: "get", 1222: "ifelse", 1223: "random",
	1224: "mul", 1226: "sqrt", 1227: "dup", 1228: "exch", 1229: "index",
	1230: "roll", 1234: "hflex", 1235: "flex", 1236: "hflex1", 1237: "flex1",
}
