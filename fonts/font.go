package fonts

import (
	"fmt"
	"sync"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/ir/raw"
)

// Char is one character code decoded from a string operand.
type Char struct {
	Code uint32
	// Len is the number of bytes the code occupied.
	Len int
	// CID is the character identifier of composite fonts; simple fonts
	// repeat the code.
	CID int
}

// IsSpace reports whether word spacing applies to c: the single-byte
// code 32, whatever font it belongs to.
func (c Char) IsSpace() bool { return c.Len == 1 && c.Code == 32 }

// Kind identifies which outline source draws a font's glyphs.
type Kind int

const (
	KindType1 Kind = iota
	KindCFF
	KindTrueType
	KindType3
)

func (k Kind) String() string {
	switch k {
	case KindType1:
		return "Type1"
	case KindCFF:
		return "CFF"
	case KindTrueType:
		return "TrueType"
	case KindType3:
		return "Type3"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// program is the closed set of outline sources: *type1Font, *cffFont,
// *ttFont, *sfntFont and *ftFont. Glyph coordinates are in glyph space;
// matrix maps them to text space.
type program interface {
	glyph(gid int, p *coords.Path) (advance float64, err error)
	matrix() coords.Matrix
	numGlyphs() int
	gidByName(name string) (int, bool)
	gidByRune(r rune) (int, bool)
}

type cidProgram interface {
	gidByCID(cid int) (int, bool)
}

type encodedProgram interface {
	builtinEncoding() *Encoding
}

type symbolProgram interface {
	gidBySymbol(code byte) (int, bool)
}

func programKind(p program) Kind {
	switch p.(type) {
	case *type1Font:
		return KindType1
	case *cffFont:
		return KindCFF
	}
	return KindTrueType
}

type widthRange struct {
	first, last int
	w           float64
}

// cidWidths holds a CIDFont /W array.
type cidWidths struct {
	single map[int]float64
	ranges []widthRange
}

func (w *cidWidths) lookup(cid int) (float64, bool) {
	if v, ok := w.single[cid]; ok {
		return v, true
	}
	for _, r := range w.ranges {
		if cid >= r.first && cid <= r.last {
			return r.w, true
		}
	}
	return 0, false
}

// vMetric is one /W2 entry: the vertical advance and the position
// vector.
type vMetric struct {
	w1y, vx, vy float64
}

// Font is a loaded font resource. It is immutable after loading except
// for its glyph cache and may be shared by concurrent pages.
type Font struct {
	BaseFont string
	Subtype  string
	Kind     Kind
	// Substituted is true when the glyphs come from a substitute face
	// rather than an embedded program.
	Substituted bool

	prog      program
	composite bool

	// simple fonts
	enc          *Encoding
	codeGID      [256]int
	firstChar    int
	widths       []float64
	hasWidths    bool
	missingWidth float64

	// composite fonts
	cmap     *CMap
	cidToGID []uint16
	cw       cidWidths
	dw       float64
	vertical bool
	dw2      vMetric
	w2       map[int]vMetric

	toUnicode *CMap
	type3     *Type3

	glyphs sync.Map // gid -> glyphEntry
}

type glyphEntry struct {
	path *coords.Path
	adv  float64
	err  error
}

// Type3 holds the glyph procedures of a Type 3 font, which the content
// stream interpreter runs itself.
type Type3 struct {
	Matrix coords.Matrix
	// Resources is the font's resource dictionary, or nil when glyph
	// procedures use the page resources.
	Resources *raw.DictObj
	procs     map[string]*raw.StreamObj
}

// Proc returns the glyph procedure for a glyph name.
func (t *Type3) Proc(name string) (*raw.StreamObj, bool) {
	s, ok := t.procs[name]
	return s, ok
}

// Type3 returns the procedures of a Type 3 font, or nil.
func (f *Font) Type3() *Type3 { return f.type3 }

// CharProc returns the glyph procedure drawing c in a Type 3 font.
func (f *Font) CharProc(c Char) (*raw.StreamObj, bool) {
	if f.type3 == nil || f.enc == nil || c.Code > 255 {
		return nil, false
	}
	return f.type3.Proc(f.enc[c.Code])
}

// Vertical reports whether the font uses vertical writing mode.
func (f *Font) Vertical() bool { return f.vertical }

// Decode splits a string operand into character codes.
func (f *Font) Decode(s []byte) []Char {
	if f.composite {
		return f.cmap.Decode(s)
	}
	out := make([]Char, len(s))
	for i, b := range s {
		out[i] = Char{Code: uint32(b), Len: 1, CID: int(b)}
	}
	return out
}

// Width returns the horizontal displacement of c in text space units,
// before scaling by the font size.
func (f *Font) Width(c Char) float64 {
	if f.composite {
		if w, ok := f.cw.lookup(c.CID); ok {
			return w / 1000
		}
		return f.dw / 1000
	}
	var w float64
	idx := int(c.Code) - f.firstChar
	switch {
	case f.hasWidths && idx >= 0 && idx < len(f.widths):
		w = f.widths[idx]
	case f.hasWidths:
		w = f.missingWidth
	case f.type3 == nil && f.prog != nil:
		return f.programAdvance(c)
	default:
		w = f.missingWidth
	}
	if f.type3 != nil {
		return f.type3.Matrix.TransformVector(coords.Point{X: w}).X
	}
	return w / 1000
}

// VerticalMetrics returns the vertical advance w1y and the position
// vector (vx, vy) of c in text space units.
func (f *Font) VerticalMetrics(c Char) (w1y, vx, vy float64) {
	m, ok := f.w2[c.CID]
	if !ok {
		m = f.dw2
		m.vx = f.Width(c) * 1000 / 2
	}
	return m.w1y / 1000, m.vx / 1000, m.vy / 1000
}

func (f *Font) programAdvance(c Char) float64 {
	e := f.loadGlyph(f.gid(c))
	return f.prog.matrix().TransformVector(coords.Point{X: e.adv}).X
}

// gid maps a decoded character to a glyph index of the program.
func (f *Font) gid(c Char) int {
	if !f.composite {
		if c.Code > 255 {
			return 0
		}
		return f.codeGID[c.Code]
	}
	cid := c.CID
	switch {
	case f.cidToGID != nil:
		if cid < len(f.cidToGID) {
			return int(f.cidToGID[cid])
		}
		return 0
	case f.Substituted:
		if s := f.Unicode(c); s != "" {
			if gid, ok := f.prog.gidByRune([]rune(s)[0]); ok {
				return gid
			}
		}
		return 0
	}
	if cp, ok := f.prog.(cidProgram); ok {
		if gid, ok := cp.gidByCID(cid); ok {
			return gid
		}
		return 0
	}
	return cid
}

func (f *Font) loadGlyph(gid int) glyphEntry {
	if e, ok := f.glyphs.Load(gid); ok {
		return e.(glyphEntry)
	}
	p := new(coords.Path)
	adv, err := f.prog.glyph(gid, p)
	if err != nil {
		// a malformed program draws nothing for this glyph
		p = new(coords.Path)
	}
	e, _ := f.glyphs.LoadOrStore(gid, glyphEntry{path: p, adv: adv, err: err})
	return e.(glyphEntry)
}

// Glyph returns the outline of c in text space, where one unit is the
// font size. A glyph whose program fails yields an empty path and the
// error.
func (f *Font) Glyph(c Char) (*coords.Path, error) {
	if f.prog == nil {
		return new(coords.Path), nil
	}
	e := f.loadGlyph(f.gid(c))
	m := f.prog.matrix()
	if f.Substituted && e.adv > 0 {
		// Stretch the substitute glyph to the width the document declares.
		declared := f.Width(c)
		natural := m.TransformVector(coords.Point{X: e.adv}).X
		if declared > 0 && natural > 0 {
			m = m.Multiply(coords.Scale(declared/natural, 1))
		}
	}
	return e.path.Transform(m), e.err
}

// Unicode returns the text of c: through the ToUnicode CMap, else the
// glyph name of simple fonts, else the Unicode-keyed CMap of composite
// fonts. It returns "" when nothing is known.
func (f *Font) Unicode(c Char) string {
	if f.toUnicode != nil {
		if s, ok := f.toUnicode.Unicode(c.Code, c.Len); ok {
			return s
		}
	}
	if !f.composite {
		if f.enc != nil && c.Code < 256 {
			if s, ok := f.enc.Unicode(byte(c.Code)); ok {
				return s
			}
		}
		return ""
	}
	if f.cmap.UnicodeKeyed() {
		return string(rune(c.Code))
	}
	return ""
}
