package fonts

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/vm"
)

var errType1 = errors.New("type1")

// maxType1Glyphs bounds the CharStrings and Subrs a font may declare.
const maxType1Glyphs = 1 << 16

// type1Font is a parsed Type 1 font program (FontFile), in PFA or PFB
// form.
type type1Font struct {
	name   string
	names  []string
	glyphs [][]byte
	byName map[string]int
	enc    *Encoding
	mat    coords.Matrix
	prog   *vm.Type1Program
}

func parseType1(data []byte) (*type1Font, error) {
	plain, encrypted, err := splitType1(data)
	if err != nil {
		return nil, err
	}
	f := &type1Font{mat: coords.Matrix{0.001, 0, 0, 0.001, 0, 0}, byName: make(map[string]int)}
	f.readClear(plain)

	private := vm.Decrypt(encrypted, vm.EexecKey, 4)
	lenIV := 4
	if l := find(private, "/lenIV", 0); l != nil {
		l.token()
		if v, err := strconv.Atoi(l.token()); err == nil {
			lenIV = v
		}
	}
	subrs := readSubrs(private, lenIV)
	if err := f.readCharStrings(private, lenIV); err != nil {
		return nil, err
	}
	f.prog = &vm.Type1Program{Subrs: subrs, Seac: f.seac}
	return f, nil
}

// splitType1 returns the cleartext portion and the still encrypted
// binary portion of a font program.
func splitType1(data []byte) (plain, encrypted []byte, err error) {
	if len(data) > 0 && data[0] == 0x80 {
		return parsePFB(data)
	}
	i := bytes.Index(data, []byte("eexec"))
	if i < 0 {
		return nil, nil, fmt.Errorf("%w: no eexec section", errType1)
	}
	plain = data[:i+5]
	rest := data[i+5:]
	for len(rest) > 0 && isPSSpace(rest[0]) {
		rest = rest[1:]
	}
	if isHexStart(rest) {
		var clean []byte
		for _, c := range rest {
			if isPSSpace(c) {
				continue
			}
			if !isHexDigit(c) {
				break
			}
			clean = append(clean, c)
		}
		clean = clean[:len(clean)&^1]
		dec := make([]byte, len(clean)/2)
		if _, err := hex.Decode(dec, clean); err != nil {
			return nil, nil, fmt.Errorf("%w: eexec hex: %v", errType1, err)
		}
		rest = dec
	}
	return plain, rest, nil
}

func isHexStart(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	for _, c := range b[:4] {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

// parsePFB joins the segments of a PFB file: ASCII segments before the
// first binary one are cleartext, binary segments are the eexec part.
func parsePFB(data []byte) (plain, encrypted []byte, err error) {
	for len(data) >= 2 {
		if data[0] != 0x80 {
			return nil, nil, fmt.Errorf("%w: invalid pfb header byte %x", errType1, data[0])
		}
		kind := data[1]
		if kind == 3 {
			break
		}
		if len(data) < 6 {
			return nil, nil, fmt.Errorf("%w: pfb segment truncated", errType1)
		}
		n := int(binary.LittleEndian.Uint32(data[2:6]))
		data = data[6:]
		if n > len(data) {
			n = len(data)
		}
		switch {
		case kind == 1 && encrypted == nil:
			plain = append(plain, data[:n]...)
		case kind == 2:
			encrypted = append(encrypted, data[:n]...)
		}
		data = data[n:]
	}
	if encrypted == nil {
		return nil, nil, fmt.Errorf("%w: pfb has no binary segment", errType1)
	}
	return plain, encrypted, nil
}

func (f *type1Font) readClear(plain []byte) {
	if l := find(plain, "/FontName", 0); l != nil {
		l.token()
		if tok := l.token(); len(tok) > 1 && tok[0] == '/' {
			f.name = tok[1:]
		}
	}
	if l := find(plain, "/FontMatrix", 0); l != nil {
		l.token()
		if open := l.token(); open == "[" || open == "{" {
			var m coords.Matrix
			ok := true
			for i := range m {
				v, err := strconv.ParseFloat(l.token(), 64)
				if err != nil {
					ok = false
					break
				}
				m[i] = v
			}
			if ok {
				f.mat = m
			}
		}
	}
	l := find(plain, "/Encoding", 0)
	if l == nil {
		return
	}
	l.token()
	if l.token() == "StandardEncoding" {
		f.enc = stdEnc.Clone()
		return
	}
	enc := new(Encoding)
	for {
		tok := l.token()
		if tok == "" || tok == "def" || tok == "readonly" {
			break
		}
		if tok != "dup" {
			continue
		}
		code, err := strconv.Atoi(l.token())
		name := l.token()
		if err == nil && code >= 0 && code < 256 && len(name) > 1 && name[0] == '/' {
			enc[code] = name[1:]
		}
	}
	f.enc = enc
}

func readSubrs(private []byte, lenIV int) [][]byte {
	l := find(private, "/Subrs", 0)
	if l == nil {
		return nil
	}
	l.token()
	count, err := strconv.Atoi(l.token())
	if err != nil || count < 0 || count > maxType1Glyphs {
		return nil
	}
	subrs := make([][]byte, count)
	for seen := 0; seen < count; {
		tok := l.token()
		if tok == "" || tok == "/CharStrings" {
			break
		}
		if tok != "dup" {
			continue
		}
		idx, err1 := strconv.Atoi(l.token())
		n, err2 := strconv.Atoi(l.token())
		l.token() // RD or -|
		bin := l.binary(n)
		if err1 != nil || err2 != nil || bin == nil {
			break
		}
		if idx >= 0 && idx < count {
			subrs[idx] = vm.Decrypt(bin, vm.CharstringKey, lenIV)
		}
		seen++
	}
	return subrs
}

func (f *type1Font) readCharStrings(private []byte, lenIV int) error {
	l := find(private, "/CharStrings", 0)
	if l == nil {
		return fmt.Errorf("%w: no CharStrings", errType1)
	}
	l.token()
	for {
		tok := l.token()
		if tok == "" || tok == "end" {
			break
		}
		if len(tok) < 2 || tok[0] != '/' {
			continue
		}
		n, err := strconv.Atoi(l.token())
		if err != nil {
			continue
		}
		l.token() // RD or -|
		bin := l.binary(n)
		if bin == nil {
			break
		}
		name := tok[1:]
		if _, dup := f.byName[name]; !dup {
			f.byName[name] = len(f.glyphs)
			f.names = append(f.names, name)
			f.glyphs = append(f.glyphs, vm.Decrypt(bin, vm.CharstringKey, lenIV))
		}
		if len(f.glyphs) >= maxType1Glyphs {
			break
		}
	}
	if len(f.glyphs) == 0 {
		return fmt.Errorf("%w: empty CharStrings", errType1)
	}
	return nil
}

func (f *type1Font) seac(code int) []byte {
	if code < 0 || code > 255 {
		return nil
	}
	if gid, ok := f.byName[standardEncoding[code]]; ok {
		return f.glyphs[gid]
	}
	return nil
}

func (f *type1Font) glyph(gid int, p *coords.Path) (float64, error) {
	if gid < 0 || gid >= len(f.glyphs) {
		if gid, ok := f.byName[".notdef"]; ok {
			m, err := f.prog.Run(f.glyphs[gid], p)
			return m.Advance.X, err
		}
		return 0, nil
	}
	m, err := f.prog.Run(f.glyphs[gid], p)
	return m.Advance.X, err
}

func (f *type1Font) matrix() coords.Matrix { return f.mat }
func (f *type1Font) numGlyphs() int        { return len(f.glyphs) }

func (f *type1Font) gidByName(name string) (int, bool) {
	gid, ok := f.byName[name]
	return gid, ok
}

func (f *type1Font) gidByRune(r rune) (int, bool) {
	if name, ok := runeGlyphs[r]; ok {
		return f.gidByName(name)
	}
	return 0, false
}

func (f *type1Font) builtinEncoding() *Encoding { return f.enc }

// psLexer splits PostScript source into tokens, enough to walk the
// font dictionaries of a Type 1 program.
type psLexer struct {
	b []byte
	p int
}

// find returns a lexer positioned at the first occurrence of key at or
// after from, or nil.
func find(b []byte, key string, from int) *psLexer {
	i := bytes.Index(b[from:], []byte(key))
	if i < 0 {
		return nil
	}
	return &psLexer{b: b, p: from + i}
}

func isPSSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isPSDelim(c byte) bool {
	switch c {
	case '/', '[', ']', '{', '}', '(', ')', '<', '>', '%':
		return true
	}
	return false
}

// token returns the next token, or "" at end of input. Strings are
// skipped whole and returned as "()".
func (l *psLexer) token() string {
	for l.p < len(l.b) {
		c := l.b[l.p]
		if isPSSpace(c) {
			l.p++
			continue
		}
		if c == '%' {
			for l.p < len(l.b) && l.b[l.p] != '\n' && l.b[l.p] != '\r' {
				l.p++
			}
			continue
		}
		break
	}
	if l.p >= len(l.b) {
		return ""
	}
	start := l.p
	switch c := l.b[l.p]; c {
	case '[', ']', '{', '}':
		l.p++
		return string(c)
	case '(':
		depth := 0
		for ; l.p < len(l.b); l.p++ {
			switch l.b[l.p] {
			case '\\':
				l.p++
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 {
				l.p++
				return "()"
			}
		}
		return "()"
	case '/':
		l.p++
	}
	for l.p < len(l.b) && !isPSSpace(l.b[l.p]) && !isPSDelim(l.b[l.p]) {
		l.p++
	}
	if l.p == start {
		l.p++
	}
	return string(l.b[start:l.p])
}

// binary returns the n bytes following the single space after an RD
// token.
func (l *psLexer) binary(n int) []byte {
	start := l.p + 1
	if n < 0 || start+n > len(l.b) {
		return nil
	}
	l.p = start + n
	return l.b[start:l.p]
}
