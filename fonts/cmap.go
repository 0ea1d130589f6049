package fonts

import (
	"errors"
	"fmt"
	"io"
	"strings"

	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/redforks/nipdf/scanner"
)

// maxRangeExpansion bounds the codes one bfrange entry may define.
const maxRangeExpansion = 1 << 16

// maxUseCMapDepth bounds usecmap chains.
const maxUseCMapDepth = 4

// CMap maps byte strings to CIDs (an encoding CMap) or to text (a
// ToUnicode CMap). Parsed CMaps are immutable.
type CMap struct {
	Name     string
	Vertical bool

	spaces   []codespace
	single   map[codeKey]int
	ranges   []cidRange
	notdef   []cidRange
	text     map[codeKey]string
	identity bool
	// unicodeKeyed marks a predefined Uni*-UCS2/UTF16 CMap: codes are
	// UTF-16 units and there is no CID table.
	unicodeKeyed bool
}

type codeKey struct {
	code uint32
	n    int
}

type codespace struct {
	lo, hi []byte
}

type cidRange struct {
	lo, hi uint32
	n      int
	cid    int
}

// IdentityCMap returns Identity-H, or Identity-V when vertical.
func IdentityCMap(vertical bool) *CMap {
	name := "Identity-H"
	if vertical {
		name = "Identity-V"
	}
	return &CMap{Name: name, Vertical: vertical, identity: true,
		spaces: []codespace{{lo: []byte{0, 0}, hi: []byte{0xff, 0xff}}}}
}

// PredefinedCMap returns the named CMaps that need no data files:
// Identity-H/V and the Unicode-keyed UCS2/UTF16 CMaps.
func PredefinedCMap(name string) (*CMap, bool) {
	switch name {
	case "Identity-H", "Identity-V":
		return IdentityCMap(name == "Identity-V"), true
	}
	if strings.HasPrefix(name, "Uni") && (strings.Contains(name, "UCS2") || strings.Contains(name, "UTF16")) {
		cm := IdentityCMap(strings.HasSuffix(name, "-V"))
		cm.Name = name
		cm.identity = false
		cm.unicodeKeyed = true
		return cm, true
	}
	return nil, false
}

// IsIdentity reports whether codes are CIDs unchanged.
func (c *CMap) IsIdentity() bool { return c.identity }

// UnicodeKeyed reports whether codes are UTF-16 code units.
func (c *CMap) UnicodeKeyed() bool { return c.unicodeKeyed }

// Decode splits s into character codes using the codespace ranges and
// maps each to its CID.
func (c *CMap) Decode(s []byte) []Char {
	out := make([]Char, 0, len(s)/2+1)
	for len(s) > 0 {
		n := c.codeLen(s)
		if n > len(s) {
			n = len(s)
		}
		code := beUint(s[:n])
		out = append(out, Char{Code: code, Len: n, CID: c.CID(code, n)})
		s = s[n:]
	}
	return out
}

func (c *CMap) codeLen(s []byte) int {
	for n := 1; n <= 4 && n <= len(s); n++ {
		for _, sp := range c.spaces {
			if sp.matches(s[:n]) {
				return n
			}
		}
	}
	// No full match: take the length of a range starting like s.
	for _, sp := range c.spaces {
		if len(sp.lo) > 0 && s[0] >= sp.lo[0] && s[0] <= sp.hi[0] {
			return len(sp.lo)
		}
	}
	if len(c.spaces) == 0 {
		if c.identity {
			return 2
		}
		return 1
	}
	n := len(c.spaces[0].lo)
	for _, sp := range c.spaces[1:] {
		if len(sp.lo) < n {
			n = len(sp.lo)
		}
	}
	return n
}

func (sp codespace) matches(b []byte) bool {
	if len(b) != len(sp.lo) {
		return false
	}
	for i, v := range b {
		if v < sp.lo[i] || v > sp.hi[i] {
			return false
		}
	}
	return true
}

// CID maps an n-byte code. Unmapped codes yield the notdef CID, 0 by
// default.
func (c *CMap) CID(code uint32, n int) int {
	if c.identity || c.unicodeKeyed {
		return int(code)
	}
	if cid, ok := c.single[codeKey{code, n}]; ok {
		return cid
	}
	for i := len(c.ranges) - 1; i >= 0; i-- {
		r := c.ranges[i]
		if r.n == n && code >= r.lo && code <= r.hi {
			return r.cid + int(code-r.lo)
		}
	}
	for _, r := range c.notdef {
		if r.n == n && code >= r.lo && code <= r.hi {
			return r.cid
		}
	}
	return 0
}

// Unicode returns the text a ToUnicode CMap assigns to an n-byte code.
func (c *CMap) Unicode(code uint32, n int) (string, bool) {
	if c.unicodeKeyed {
		return string(rune(code)), true
	}
	if s, ok := c.text[codeKey{code, n}]; ok {
		return s, true
	}
	// Producers disagree on code widths between the font CMap and the
	// ToUnicode CMap; try the other common width.
	for _, alt := range []int{1, 2} {
		if alt != n {
			if s, ok := c.text[codeKey{code, alt}]; ok {
				return s, true
			}
		}
	}
	return "", false
}

// HasText reports whether the CMap defines any bfchar or bfrange.
func (c *CMap) HasText() bool { return len(c.text) > 0 || c.unicodeKeyed }

func beUint(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}

var errCMapSyntax = errors.New("cmap syntax")

// ParseCMap reads an embedded CMap program. usecmap resolves through
// parent, which may be nil for ToUnicode CMaps.
func ParseCMap(data []byte, parent func(name string) (*CMap, bool)) (*CMap, error) {
	return parseCMap(data, parent, 0)
}

type cmapOperand struct {
	tok scanner.Token
	arr [][]byte
}

func parseCMap(data []byte, parent func(string) (*CMap, bool), depth int) (*CMap, error) {
	cm := &CMap{single: make(map[codeKey]int), text: make(map[codeKey]string)}
	sc := scanner.New(data, scanner.Config{Component: "cmap"})
	var ops []cmapOperand
	for {
		tok, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(cm.spaces) > 0 || len(cm.text) > 0 {
				break
			}
			return nil, fmt.Errorf("%w: %v", errCMapSyntax, err)
		}
		switch tok.Type {
		case scanner.TokenArray:
			arr, err := readStringArray(sc)
			if err != nil {
				return nil, err
			}
			ops = append(ops, cmapOperand{arr: arr})
			continue
		case scanner.TokenKeyword:
		default:
			ops = append(ops, cmapOperand{tok: tok})
			continue
		}
		switch tok.Str {
		case "endcodespacerange":
			for i := 0; i+1 < len(ops); i += 2 {
				lo, hi := ops[i].tok.Bytes, ops[i+1].tok.Bytes
				if len(lo) > 0 && len(lo) == len(hi) && len(lo) <= 4 {
					cm.spaces = append(cm.spaces, codespace{lo: lo, hi: hi})
				}
			}
		case "endcidrange", "endnotdefrange":
			for i := 0; i+2 < len(ops); i += 3 {
				lo, hi := ops[i].tok.Bytes, ops[i+1].tok.Bytes
				if len(lo) == 0 || len(lo) > 4 || ops[i+2].tok.Type != scanner.TokenNumber {
					continue
				}
				r := cidRange{lo: beUint(lo), hi: beUint(hi), n: len(lo), cid: int(ops[i+2].tok.Number())}
				if tok.Str == "endcidrange" {
					cm.ranges = append(cm.ranges, r)
				} else {
					cm.notdef = append(cm.notdef, r)
				}
			}
		case "endcidchar":
			for i := 0; i+1 < len(ops); i += 2 {
				code := ops[i].tok.Bytes
				if len(code) == 0 || len(code) > 4 || ops[i+1].tok.Type != scanner.TokenNumber {
					continue
				}
				cm.single[codeKey{beUint(code), len(code)}] = int(ops[i+1].tok.Number())
			}
		case "endbfchar":
			for i := 0; i+1 < len(ops); i += 2 {
				code := ops[i].tok.Bytes
				if len(code) == 0 || len(code) > 4 {
					continue
				}
				if s, ok := bfText(ops[i+1].tok); ok {
					cm.text[codeKey{beUint(code), len(code)}] = s
				}
			}
		case "endbfrange":
			for i := 0; i+2 < len(ops); i += 3 {
				cm.addBFRange(ops[i].tok.Bytes, ops[i+1].tok.Bytes, ops[i+2])
			}
		case "usecmap":
			if len(ops) > 0 && ops[len(ops)-1].tok.Type == scanner.TokenName {
				if err := cm.use(ops[len(ops)-1].tok.Str, parent, depth); err != nil {
					return nil, err
				}
			}
		case "def":
			if len(ops) >= 2 && ops[len(ops)-2].tok.Type == scanner.TokenName {
				v := ops[len(ops)-1].tok
				switch ops[len(ops)-2].tok.Str {
				case "WMode":
					cm.Vertical = v.Type == scanner.TokenNumber && v.Number() == 1
				case "CMapName":
					if v.Type == scanner.TokenName {
						cm.Name = v.Str
					}
				}
			}
		}
		ops = ops[:0]
	}
	return cm, nil
}

func readStringArray(sc scanner.Scanner) ([][]byte, error) {
	var out [][]byte
	for {
		tok, err := sc.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated array", errCMapSyntax)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return out, nil
		}
		if tok.Type == scanner.TokenString {
			out = append(out, tok.Bytes)
		}
	}
}

func (cm *CMap) use(name string, parent func(string) (*CMap, bool), depth int) error {
	if depth >= maxUseCMapDepth {
		return fmt.Errorf("%w: usecmap nested too deeply", errCMapSyntax)
	}
	base, ok := PredefinedCMap(name)
	if !ok && parent != nil {
		base, ok = parent(name)
	}
	if !ok {
		return nil
	}
	// Inherited mappings rank below the CMap's own; later ranges win.
	inherited := append([]cidRange(nil), base.ranges...)
	if base.identity {
		inherited = append(inherited, cidRange{lo: 0, hi: 0xffff, n: 2, cid: 0})
	}
	cm.ranges = append(inherited, cm.ranges...)
	cm.spaces = append(cm.spaces, base.spaces...)
	for k, v := range base.single {
		if _, own := cm.single[k]; !own {
			cm.single[k] = v
		}
	}
	cm.notdef = append(cm.notdef, base.notdef...)
	for k, v := range base.text {
		if _, own := cm.text[k]; !own {
			cm.text[k] = v
		}
	}
	if base.Vertical {
		cm.Vertical = true
	}
	return nil
}

func (cm *CMap) addBFRange(lo, hi []byte, dst cmapOperand) {
	if len(lo) == 0 || len(lo) > 4 || len(lo) != len(hi) {
		return
	}
	from, to := beUint(lo), beUint(hi)
	if to < from || to-from >= maxRangeExpansion {
		return
	}
	n := len(lo)
	if dst.arr != nil {
		for i, b := range dst.arr {
			if from+uint32(i) > to {
				break
			}
			cm.text[codeKey{from + uint32(i), n}] = utf16Text(b)
		}
		return
	}
	base := dst.tok.Bytes
	if dst.tok.Type != scanner.TokenString || len(base) == 0 {
		return
	}
	for code := from; ; code++ {
		b := append([]byte(nil), base...)
		// the last byte increments; carries do not propagate
		b[len(b)-1] += byte(code - from)
		cm.text[codeKey{code, n}] = utf16Text(b)
		if code == to {
			break
		}
	}
}

func bfText(tok scanner.Token) (string, bool) {
	switch tok.Type {
	case scanner.TokenString:
		return utf16Text(tok.Bytes), true
	case scanner.TokenName:
		return GlyphUnicode(tok.Str)
	}
	return "", false
}

var utf16be = xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM)

func utf16Text(b []byte) string {
	if len(b) == 1 {
		return string(rune(b[0]))
	}
	out, err := utf16be.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}
