// Package vm holds the stack machines used while rendering: the PostScript
// calculator behind Type 4 functions and the Type 1 and Type 2 charstring
// interpreters that turn glyph programs into outlines.
//
// Every machine runs as a flat loop over an instruction pointer and an
// operand stack. Nothing recurses on the host stack, so a hostile program
// costs bounded time and memory and fails with a *recovery.VMError.
package vm

import (
	"fmt"
	"math"

	pstrconv "github.com/tdewolff/parse/v2/strconv"

	"github.com/redforks/nipdf/recovery"
)

// MaxCalculatorStack is the operand stack limit of the calculator.
const MaxCalculatorStack = 100

type opcode uint8

const (
	opPushInt opcode = iota
	opPushReal
	opPushBool
	opJumpIfFalse
	opJump

	opAbs
	opAdd
	opAtan
	opCeiling
	opCos
	opCvi
	opCvr
	opDiv
	opExp
	opFloor
	opIdiv
	opLn
	opLog
	opMod
	opMul
	opNeg
	opRound
	opSin
	opSqrt
	opSub
	opTruncate

	opAnd
	opBitshift
	opEq
	opGe
	opGt
	opLe
	opLt
	opNe
	opNot
	opOr
	opXor

	opCopy
	opDup
	opExch
	opIndex
	opPop
	opRoll
)

var opNames = map[string]opcode{
	"abs": opAbs, "add": opAdd, "atan": opAtan, "ceiling": opCeiling,
	"cos": opCos, "cvi": opCvi, "cvr": opCvr, "div": opDiv, "exp": opExp,
	"floor": opFloor, "idiv": opIdiv, "ln": opLn, "log": opLog, "mod": opMod,
	"mul": opMul, "neg": opNeg, "round": opRound, "sin": opSin, "sqrt": opSqrt,
	"sub": opSub, "truncate": opTruncate,
	"and": opAnd, "bitshift": opBitshift, "eq": opEq, "ge": opGe, "gt": opGt,
	"le": opLe, "lt": opLt, "ne": opNe, "not": opNot, "or": opOr, "xor": opXor,
	"copy": opCopy, "dup": opDup, "exch": opExch, "index": opIndex,
	"pop": opPop, "roll": opRoll,
}

var opStrings = func() map[opcode]string {
	m := make(map[opcode]string, len(opNames))
	for name, op := range opNames {
		m[op] = name
	}
	return m
}()

type instruction struct {
	op opcode
	i  int64
	f  float64
}

// Program is a compiled calculator procedure. It is immutable and safe
// for concurrent use.
type Program struct {
	code []instruction
}

// Compile parses a Type 4 function body such as "{ 2 mul }". Conditionals
// become forward jumps so evaluation never recurses.
func Compile(src []byte) (*Program, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, &recovery.VMError{Op: "compile", Err: err}
	}
	if len(toks) == 0 || toks[0].kind != tokOpen {
		return nil, &recovery.VMError{Op: "compile", Err: fmt.Errorf("program must start with '{'")}
	}
	code, next, err := compileBlock(toks, 1, true)
	if err != nil {
		return nil, &recovery.VMError{Op: "compile", Err: err}
	}
	if next != len(toks) {
		return nil, &recovery.VMError{Op: "compile", Err: fmt.Errorf("trailing tokens after program")}
	}
	return &Program{code: code}, nil
}

type tokKind uint8

const (
	tokInt tokKind = iota
	tokReal
	tokName
	tokOpen
	tokClose
)

type token struct {
	kind tokKind
	i    int64
	f    float64
	name string
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '{', '}', '(', ')', '<', '>', '[', ']', '/', '%':
		return true
	}
	return isSpace(c)
}

// maxProcNesting bounds how deeply procedure bodies may nest.
const maxProcNesting = 64

func tokenize(src []byte) ([]token, error) {
	var out []token
	depth := 0
	for pos := 0; pos < len(src); {
		c := src[pos]
		switch {
		case isSpace(c):
			pos++
		case c == '%':
			for pos < len(src) && src[pos] != '\n' && src[pos] != '\r' {
				pos++
			}
		case c == '{':
			if depth++; depth > maxProcNesting {
				return nil, fmt.Errorf("procedures nested deeper than %d", maxProcNesting)
			}
			out = append(out, token{kind: tokOpen})
			pos++
		case c == '}':
			depth--
			out = append(out, token{kind: tokClose})
			pos++
		default:
			start := pos
			for pos < len(src) && !isDelim(src[pos]) {
				pos++
			}
			if start == pos {
				return nil, fmt.Errorf("unexpected character %q at %d", c, pos)
			}
			out = append(out, numberOrName(src[start:pos]))
		}
	}
	return out, nil
}

func numberOrName(w []byte) token {
	if i, n := pstrconv.ParseInt(w); n == len(w) {
		return token{kind: tokInt, i: i}
	}
	if f, n := pstrconv.ParseFloat(w); n == len(w) {
		return token{kind: tokReal, f: f}
	}
	return token{kind: tokName, name: string(w)}
}

func compileBlock(toks []token, pos int, inBlock bool) ([]instruction, int, error) {
	var code []instruction
	// procedure bodies waiting for if/ifelse
	var pending [][]instruction
	for pos < len(toks) {
		tok := toks[pos]
		pos++
		if tok.kind != tokOpen && tok.kind != tokClose && len(pending) > 0 &&
			!(tok.kind == tokName && (tok.name == "if" || tok.name == "ifelse")) {
			return nil, 0, fmt.Errorf("procedure body not followed by if or ifelse")
		}
		switch tok.kind {
		case tokInt:
			code = append(code, instruction{op: opPushInt, i: tok.i})
		case tokReal:
			code = append(code, instruction{op: opPushReal, f: tok.f})
		case tokOpen:
			block, next, err := compileBlock(toks, pos, true)
			if err != nil {
				return nil, 0, err
			}
			pos = next
			pending = append(pending, block)
		case tokClose:
			if !inBlock {
				return nil, 0, fmt.Errorf("unexpected '}'")
			}
			if len(pending) > 0 {
				return nil, 0, fmt.Errorf("unused procedure body")
			}
			return code, pos, nil
		case tokName:
			switch tok.name {
			case "true", "false":
				code = append(code, instruction{op: opPushBool, i: boolInt(tok.name == "true")})
			case "if":
				if len(pending) != 1 {
					return nil, 0, fmt.Errorf("if needs exactly one procedure body")
				}
				body := pending[0]
				pending = pending[:0]
				code = append(code, instruction{op: opJumpIfFalse, i: int64(len(body))})
				code = append(code, body...)
			case "ifelse":
				if len(pending) != 2 {
					return nil, 0, fmt.Errorf("ifelse needs exactly two procedure bodies")
				}
				yes, no := pending[0], pending[1]
				pending = pending[:0]
				code = append(code, instruction{op: opJumpIfFalse, i: int64(len(yes) + 1)})
				code = append(code, yes...)
				code = append(code, instruction{op: opJump, i: int64(len(no))})
				code = append(code, no...)
			default:
				op, ok := opNames[tok.name]
				if !ok {
					return nil, 0, fmt.Errorf("%w: %s", recovery.ErrUndefined, tok.name)
				}
				code = append(code, instruction{op: op})
			}
		}
	}
	if inBlock {
		return nil, 0, fmt.Errorf("unterminated '{'")
	}
	return code, pos, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

type kind uint8

const (
	kindInt kind = iota
	kindReal
	kindBool
)

type value struct {
	k kind
	i int64
	f float64
}

func intVal(i int64) value    { return value{k: kindInt, i: i} }
func realVal(f float64) value { return value{k: kindReal, f: f} }
func boolVal(b bool) value    { return value{k: kindBool, i: boolInt(b)} }
func (v value) isNum() bool   { return v.k != kindBool }
func (v value) truth() bool   { return v.i != 0 }
func (v value) float() float64 {
	if v.k == kindReal {
		return v.f
	}
	return float64(v.i)
}

type calcStack struct {
	v  [MaxCalculatorStack]value
	sp int
}

func (s *calcStack) push(v value) error {
	if s.sp == len(s.v) {
		return recovery.ErrStackOverflow
	}
	s.v[s.sp] = v
	s.sp++
	return nil
}

func (s *calcStack) pop() (value, error) {
	if s.sp == 0 {
		return value{}, recovery.ErrStackUnderflow
	}
	s.sp--
	return s.v[s.sp], nil
}

func (s *calcStack) popNum() (value, error) {
	v, err := s.pop()
	if err == nil && !v.isNum() {
		err = recovery.ErrTypeCheck
	}
	return v, err
}

func (s *calcStack) popInt() (int64, error) {
	v, err := s.pop()
	if err == nil && v.k != kindInt {
		err = recovery.ErrTypeCheck
	}
	return v.i, err
}

func (s *calcStack) pop2Num() (a, b value, err error) {
	if b, err = s.popNum(); err != nil {
		return
	}
	a, err = s.popNum()
	return
}

// Exec pushes in, runs the program and returns the top nOut values, bottom
// first. A program that leaves fewer than nOut numbers fails.
func (p *Program) Exec(in []float64, nOut int) ([]float64, error) {
	var s calcStack
	for _, x := range in {
		if err := s.push(realVal(x)); err != nil {
			return nil, &recovery.VMError{Op: "input", Err: err}
		}
	}
	for ip := 0; ip < len(p.code); ip++ {
		ins := p.code[ip]
		var err error
		switch ins.op {
		case opJumpIfFalse:
			var c value
			if c, err = s.pop(); err == nil {
				if c.k != kindBool {
					err = recovery.ErrTypeCheck
				} else if !c.truth() {
					ip += int(ins.i)
				}
			}
		case opJump:
			ip += int(ins.i)
		default:
			err = s.step(ins)
		}
		if err != nil {
			return nil, &recovery.VMError{Op: ins.name(), Err: err}
		}
	}
	if s.sp < nOut {
		return nil, &recovery.VMError{Op: "result", Err: recovery.ErrStackUnderflow}
	}
	out := make([]float64, nOut)
	for i, v := range s.v[s.sp-nOut : s.sp] {
		if !v.isNum() {
			return nil, &recovery.VMError{Op: "result", Err: recovery.ErrTypeCheck}
		}
		out[i] = v.float()
	}
	return out, nil
}

func (ins instruction) name() string {
	switch ins.op {
	case opPushInt, opPushReal, opPushBool:
		return "push"
	case opJump, opJumpIfFalse:
		return "if"
	}
	return opStrings[ins.op]
}

// step executes one non-branching instruction.
func (s *calcStack) step(ins instruction) error {
	switch ins.op {
	case opPushInt:
		return s.push(intVal(ins.i))
	case opPushReal:
		return s.push(realVal(ins.f))
	case opPushBool:
		return s.push(boolVal(ins.i != 0))

	case opAdd, opSub, opMul:
		a, b, err := s.pop2Num()
		if err != nil {
			return err
		}
		return s.push(arith(ins.op, a, b))
	case opDiv:
		a, b, err := s.pop2Num()
		if err != nil {
			return err
		}
		if b.float() == 0 {
			return recovery.ErrRangeCheck
		}
		return s.push(realVal(a.float() / b.float()))
	case opIdiv, opMod:
		b, err := s.popInt()
		if err != nil {
			return err
		}
		a, err := s.popInt()
		if err != nil {
			return err
		}
		if b == 0 {
			return recovery.ErrRangeCheck
		}
		if ins.op == opIdiv {
			return s.push(intVal(a / b))
		}
		return s.push(intVal(a % b))
	case opAbs, opNeg, opCeiling, opFloor, opRound, opTruncate:
		a, err := s.popNum()
		if err != nil {
			return err
		}
		return s.push(unary(ins.op, a))
	case opCvi:
		a, err := s.popNum()
		if err != nil {
			return err
		}
		f := math.Trunc(a.float())
		if f > math.MaxInt32 || f < math.MinInt32 || math.IsNaN(f) {
			return recovery.ErrRangeCheck
		}
		return s.push(intVal(int64(f)))
	case opCvr:
		a, err := s.popNum()
		if err != nil {
			return err
		}
		return s.push(realVal(a.float()))
	case opSqrt, opSin, opCos, opLn, opLog:
		a, err := s.popNum()
		if err != nil {
			return err
		}
		x := a.float()
		var r float64
		switch ins.op {
		case opSqrt:
			if x < 0 {
				return recovery.ErrRangeCheck
			}
			r = math.Sqrt(x)
		case opSin:
			r = math.Sin(x * math.Pi / 180)
		case opCos:
			r = math.Cos(x * math.Pi / 180)
		case opLn:
			if x <= 0 {
				return recovery.ErrRangeCheck
			}
			r = math.Log(x)
		case opLog:
			if x <= 0 {
				return recovery.ErrRangeCheck
			}
			r = math.Log10(x)
		}
		return s.push(realVal(r))
	case opAtan:
		num, den, err := s.pop2Num()
		if err != nil {
			return err
		}
		if num.float() == 0 && den.float() == 0 {
			return recovery.ErrRangeCheck
		}
		deg := math.Atan2(num.float(), den.float()) * 180 / math.Pi
		if deg < 0 {
			deg += 360
		}
		return s.push(realVal(deg))
	case opExp:
		base, e, err := s.pop2Num()
		if err != nil {
			return err
		}
		r := math.Pow(base.float(), e.float())
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return recovery.ErrRangeCheck
		}
		return s.push(realVal(r))

	case opAnd, opOr, opXor:
		b, err := s.pop()
		if err != nil {
			return err
		}
		a, err := s.pop()
		if err != nil {
			return err
		}
		if a.k != b.k || a.k == kindReal {
			return recovery.ErrTypeCheck
		}
		var r int64
		switch ins.op {
		case opAnd:
			r = a.i & b.i
		case opOr:
			r = a.i | b.i
		case opXor:
			r = a.i ^ b.i
		}
		return s.push(value{k: a.k, i: r})
	case opNot:
		a, err := s.pop()
		if err != nil {
			return err
		}
		switch a.k {
		case kindBool:
			return s.push(boolVal(!a.truth()))
		case kindInt:
			return s.push(intVal(^a.i))
		}
		return recovery.ErrTypeCheck
	case opBitshift:
		shift, err := s.popInt()
		if err != nil {
			return err
		}
		a, err := s.popInt()
		if err != nil {
			return err
		}
		x := uint32(a)
		switch {
		case shift >= 32 || shift <= -32:
			x = 0
		case shift >= 0:
			x <<= uint(shift)
		default:
			x >>= uint(-shift)
		}
		return s.push(intVal(int64(int32(x))))
	case opEq, opNe:
		b, err := s.pop()
		if err != nil {
			return err
		}
		a, err := s.pop()
		if err != nil {
			return err
		}
		var eq bool
		switch {
		case a.isNum() && b.isNum():
			eq = a.float() == b.float()
		case a.k == kindBool && b.k == kindBool:
			eq = a.i == b.i
		}
		return s.push(boolVal(eq == (ins.op == opEq)))
	case opGe, opGt, opLe, opLt:
		a, b, err := s.pop2Num()
		if err != nil {
			return err
		}
		x, y := a.float(), b.float()
		var r bool
		switch ins.op {
		case opGe:
			r = x >= y
		case opGt:
			r = x > y
		case opLe:
			r = x <= y
		case opLt:
			r = x < y
		}
		return s.push(boolVal(r))

	case opPop:
		_, err := s.pop()
		return err
	case opDup:
		if s.sp == 0 {
			return recovery.ErrStackUnderflow
		}
		return s.push(s.v[s.sp-1])
	case opExch:
		if s.sp < 2 {
			return recovery.ErrStackUnderflow
		}
		s.v[s.sp-1], s.v[s.sp-2] = s.v[s.sp-2], s.v[s.sp-1]
		return nil
	case opCopy:
		n, err := s.popInt()
		if err != nil {
			return err
		}
		if n < 0 || int(n) > s.sp {
			return recovery.ErrRangeCheck
		}
		if s.sp+int(n) > len(s.v) {
			return recovery.ErrStackOverflow
		}
		copy(s.v[s.sp:], s.v[s.sp-int(n):s.sp])
		s.sp += int(n)
		return nil
	case opIndex:
		n, err := s.popInt()
		if err != nil {
			return err
		}
		if n < 0 || int(n) >= s.sp {
			return recovery.ErrRangeCheck
		}
		return s.push(s.v[s.sp-1-int(n)])
	case opRoll:
		j, err := s.popInt()
		if err != nil {
			return err
		}
		n, err := s.popInt()
		if err != nil {
			return err
		}
		if n < 0 || int(n) > s.sp {
			return recovery.ErrRangeCheck
		}
		if n == 0 {
			return nil
		}
		roll(s.v[s.sp-int(n):s.sp], int(j%n+n)%int(n))
		return nil
	}
	return recovery.ErrUndefined
}

// roll rotates v by j positions toward the top.
func roll(v []value, j int) {
	if j == 0 {
		return
	}
	tmp := make([]value, len(v))
	for i := range v {
		tmp[(i+j)%len(v)] = v[i]
	}
	copy(v, tmp)
}

func arith(op opcode, a, b value) value {
	if a.k == kindInt && b.k == kindInt {
		var r int64
		switch op {
		case opAdd:
			r = a.i + b.i
		case opSub:
			r = a.i - b.i
		case opMul:
			r = a.i * b.i
		}
		if r >= math.MinInt32 && r <= math.MaxInt32 {
			return intVal(r)
		}
		return realVal(float64(r))
	}
	x, y := a.float(), b.float()
	switch op {
	case opAdd:
		return realVal(x + y)
	case opSub:
		return realVal(x - y)
	}
	return realVal(x * y)
}

func unary(op opcode, a value) value {
	if a.k == kindInt {
		switch op {
		case opAbs:
			if a.i < 0 {
				return intVal(-a.i)
			}
		case opNeg:
			return intVal(-a.i)
		}
		return a
	}
	x := a.f
	switch op {
	case opAbs:
		x = math.Abs(x)
	case opNeg:
		x = -x
	case opCeiling:
		x = math.Ceil(x)
	case opFloor:
		x = math.Floor(x)
	case opRound:
		x = math.Floor(x + 0.5)
	case opTruncate:
		x = math.Trunc(x)
	}
	return realVal(x)
}
