package vm

import (
	"errors"
	"fmt"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/recovery"
)

var errSeacDone = errors.New("seac")

// Type1Program holds what a Type 1 charstring needs besides its own
// bytes. Charstrings and subrs are already decrypted.
type Type1Program struct {
	Subrs [][]byte
	// Seac resolves the base and accent of accented composites.
	Seac StandardEncodingCode
}

type type1Machine struct {
	prog  *Type1Program
	stack csStack
	ps    []float64 // values handed back by callothersubr
	calls []frame
	pen   pen
	steps int

	metrics GlyphMetrics
	flexing bool
	flex    []coords.Point
	seac    *seacRequest
}

// Run decodes charstring cs into sink and returns the glyph's metrics.
// A seac composite draws its base and accent characters in turn.
func (p *Type1Program) Run(cs []byte, sink PathSink) (GlyphMetrics, error) {
	m := &type1Machine{prog: p, pen: pen{sink: sink}}
	if err := m.exec(cs); err != nil {
		return m.metrics, err
	}
	req := m.seac
	if req == nil {
		return m.metrics, nil
	}
	metrics := m.metrics
	base, accent := p.lookup(req.base), p.lookup(req.accent)
	if base == nil || accent == nil {
		return metrics, &recovery.VMError{Op: "seac", Err: fmt.Errorf("composite code %d/%d not in font", req.base, req.accent)}
	}
	for _, part := range []struct {
		cs     []byte
		offset coords.Point
	}{
		{base, coords.Point{}},
		{accent, coords.Point{X: req.dx, Y: req.dy}},
	} {
		sub := &type1Machine{prog: p, pen: pen{sink: sink, offset: part.offset}, steps: m.steps}
		if err := sub.exec(part.cs); err != nil {
			return metrics, err
		}
		if sub.seac != nil {
			return metrics, &recovery.VMError{Op: "seac", Err: fmt.Errorf("nested composite")}
		}
		m.steps = sub.steps
	}
	return metrics, nil
}

func (p *Type1Program) lookup(code int) []byte {
	if p.Seac == nil {
		return nil
	}
	return p.Seac(code)
}

func (m *type1Machine) exec(cs []byte) error {
	cur := frame{code: cs}
	for {
		if cur.ip >= len(cur.code) {
			// Falling off a subr acts as return; off the glyph as endchar.
			if len(m.calls) == 0 {
				return nil
			}
			cur = m.calls[len(m.calls)-1]
			m.calls = m.calls[:len(m.calls)-1]
			continue
		}
		b0 := cur.code[cur.ip]
		cur.ip++
		if b0 >= 32 {
			v, ip, ok := readNumber(cur.code, cur.ip, b0, false)
			if !ok {
				return &recovery.VMError{Op: "number", Err: fmt.Errorf("truncated operand")}
			}
			cur.ip = ip
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
		switch op {
		case 10: // callsubr
			n, err := m.stack.pop()
			if err != nil {
				return &recovery.VMError{Op: "callsubr", Err: err}
			}
			i := int(n)
			if i < 0 || i >= len(m.prog.Subrs) {
				return &recovery.VMError{Op: "callsubr", Err: fmt.Errorf("%w: subr %d", recovery.ErrRangeCheck, i)}
			}
			if len(m.calls) >= MaxSubrDepth {
				return &recovery.VMError{Op: "callsubr", Err: recovery.ErrStackOverflow}
			}
			m.calls = append(m.calls, cur)
			cur = frame{code: m.prog.Subrs[i]}
		case 11: // return
			if len(m.calls) == 0 {
				return &recovery.VMError{Op: "return", Err: recovery.ErrStackUnderflow}
			}
			cur = m.calls[len(m.calls)-1]
			m.calls = m.calls[:len(m.calls)-1]
		case 14: // endchar
			m.pen.closePath()
			return nil
		default:
			if err := m.op(op); err == errSeacDone {
				m.pen.closePath()
				return nil
			} else if err != nil {
				return &recovery.VMError{Op: type1OpName(op), Err: err}
			}
		}
	}
}

func (m *type1Machine) op(op int) error {
	s := &m.stack
	a := s.v
	switch op {
	case 1, 3, 1200 + 1, 1200 + 2: // hstem vstem vstem3 hstem3
		s.clear()
	case 1200: // dotsection
		s.clear()
	case 13: // hsbw
		if err := s.need(2); err != nil {
			return err
		}
		m.setWidth(a[len(a)-2], 0, a[len(a)-1], 0)
		s.clear()
	case 1200 + 7: // sbw
		if err := s.need(4); err != nil {
			return err
		}
		n := len(a)
		m.setWidth(a[n-4], a[n-3], a[n-2], a[n-1])
		s.clear()
	case 21: // rmoveto
		if err := s.need(2); err != nil {
			return err
		}
		m.moveTo(a[len(a)-2], a[len(a)-1])
		s.clear()
	case 22: // hmoveto
		if err := s.need(1); err != nil {
			return err
		}
		m.moveTo(a[len(a)-1], 0)
		s.clear()
	case 4: // vmoveto
		if err := s.need(1); err != nil {
			return err
		}
		m.moveTo(0, a[len(a)-1])
		s.clear()
	case 5: // rlineto
		if err := s.need(2); err != nil {
			return err
		}
		m.pen.lineTo(a[len(a)-2], a[len(a)-1])
		s.clear()
	case 6: // hlineto
		if err := s.need(1); err != nil {
			return err
		}
		m.pen.lineTo(a[len(a)-1], 0)
		s.clear()
	case 7: // vlineto
		if err := s.need(1); err != nil {
			return err
		}
		m.pen.lineTo(0, a[len(a)-1])
		s.clear()
	case 8: // rrcurveto
		if err := s.need(6); err != nil {
			return err
		}
		a = a[len(a)-6:]
		m.pen.curveTo(a[0], a[1], a[2], a[3], a[4], a[5])
		s.clear()
	case 30: // vhcurveto
		if err := s.need(4); err != nil {
			return err
		}
		a = a[len(a)-4:]
		m.pen.curveTo(0, a[0], a[1], a[2], a[3], 0)
		s.clear()
	case 31: // hvcurveto
		if err := s.need(4); err != nil {
			return err
		}
		a = a[len(a)-4:]
		m.pen.curveTo(a[0], 0, a[1], a[2], 0, a[3])
		s.clear()
	case 9: // closepath
		m.pen.closePath()
		s.clear()
	case 1200 + 6: // seac
		if err := s.need(5); err != nil {
			return err
		}
		a = a[len(a)-5:]
		m.seac = &seacRequest{
			base:   int(a[3]),
			accent: int(a[4]),
			dx:     a[1] - a[0],
			dy:     a[2],
		}
		s.clear()
		// endchar follows in well-formed fonts; stop here regardless
		m.calls = m.calls[:0]
		return errSeacDone
	case 1200 + 12: // div
		b, err := s.pop()
		if err != nil {
			return err
		}
		x, err := s.pop()
		if err != nil {
			return err
		}
		if b == 0 {
			return recovery.ErrRangeCheck
		}
		return s.push(x / b)
	case 1200 + 16: // callothersubr
		return m.callOtherSubr()
	case 1200 + 17: // pop
		if len(m.ps) == 0 {
			return recovery.ErrStackUnderflow
		}
		v := m.ps[len(m.ps)-1]
		m.ps = m.ps[:len(m.ps)-1]
		return s.push(v)
	case 1200 + 33: // setcurrentpoint
		if err := s.need(2); err != nil {
			return err
		}
		m.pen.x, m.pen.y = a[len(a)-2], a[len(a)-1]
		s.clear()
	default:
		return recovery.ErrUndefined
	}
	return nil
}

func (m *type1Machine) setWidth(sbx, sby, wx, wy float64) {
	m.metrics = GlyphMetrics{
		SideBearing: coords.Point{X: sbx, Y: sby},
		Advance:     coords.Point{X: wx, Y: wy},
		HasWidth:    true,
	}
	m.pen.x, m.pen.y = sbx, sby
}

func (m *type1Machine) moveTo(dx, dy float64) {
	if m.flexing {
		m.pen.x += dx
		m.pen.y += dy
		m.flex = append(m.flex, coords.Point{X: m.pen.x, Y: m.pen.y})
		return
	}
	m.pen.moveTo(dx, dy)
}

// callOtherSubr implements the flex and hint replacement othersubrs and
// passes arguments of any other through to pop.
func (m *type1Machine) callOtherSubr() error {
	s := &m.stack
	idx, err := s.pop()
	if err != nil {
		return err
	}
	nf, err := s.pop()
	if err != nil {
		return err
	}
	n := int(nf)
	if n < 0 || n > len(s.v) {
		return recovery.ErrRangeCheck
	}
	switch int(idx) {
	case 0: // end flex
		if n != 3 {
			return recovery.ErrRangeCheck
		}
		a := s.v[len(s.v)-3:]
		endX, endY := a[1], a[2]
		s.v = s.v[:len(s.v)-3]
		m.flexing = false
		if len(m.flex) == 7 {
			p := m.flex
			o := m.pen.offset
			m.pen.sink.CubeTo(p[1].X+o.X, p[1].Y+o.Y, p[2].X+o.X, p[2].Y+o.Y, p[3].X+o.X, p[3].Y+o.Y)
			m.pen.sink.CubeTo(p[4].X+o.X, p[4].Y+o.Y, p[5].X+o.X, p[5].Y+o.Y, p[6].X+o.X, p[6].Y+o.Y)
		} else if len(m.flex) > 0 {
			last := m.flex[len(m.flex)-1]
			m.pen.sink.LineTo(last.X+m.pen.offset.X, last.Y+m.pen.offset.Y)
		}
		m.flex = nil
		m.ps = append(m.ps, endY, endX)
		return nil
	case 1: // start flex
		s.v = s.v[:len(s.v)-n]
		m.flexing = true
		m.flex = m.flex[:0]
		return nil
	case 2: // flex point, recorded by rmoveto
		s.v = s.v[:len(s.v)-n]
		return nil
	case 3: // hint replacement
		s.v = s.v[:len(s.v)-n]
		m.ps = append(m.ps, 3)
		return nil
	}
	for i := 0; i < n; i++ {
		v, _ := s.pop()
		m.ps = append(m.ps, v)
	}
	return nil
}

func type1OpName(op int) string {
	if name, ok := type1Ops[op]; ok {
		return name
	}
	return fmt.Sprintf("op%d", op)
}

var type1Ops = map[int]string{
	1: "hstem", 3: "vstem", 4: "vmoveto", 5: "rlineto", 6: "hlineto",
	7: "vlineto", 8: "rrcurveto", 9: "closepath", 13: "hsbw", 21: "rmoveto",
	22: "hmoveto", 30: "vhcurveto", 31: "hvcurveto",
	1200: "dotsection", 1201: "vstem3", 1202: "hstem3", 1206: "seac",
	1207: "sbw", 1212: "div", 1216: "callothersubr", 1217: "pop",
	1233: "setcurrentpoint",
}
