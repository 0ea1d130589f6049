package fonts

import (
	"fmt"
	"strings"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"github.com/redforks/nipdf/coords"
)

// Font descriptor flags.
const (
	FlagFixedPitch  = 1 << 0
	FlagSerif       = 1 << 1
	FlagSymbolic    = 1 << 2
	FlagScript      = 1 << 3
	FlagNonsymbolic = 1 << 5
	FlagItalic      = 1 << 6
	FlagForceBold   = 1 << 18
)

// FontQuery describes a font that is not embedded and must be
// substituted.
type FontQuery struct {
	// Name is the BaseFont with any subset tag removed.
	Name   string
	Family string
	Flags  int
	Weight int
}

func (q FontQuery) bold() bool {
	if q.Weight >= 600 || q.Flags&FlagForceBold != 0 {
		return true
	}
	for _, w := range []string{"Bold", "Black", "Heavy", "Semibold", "Demi"} {
		if strings.Contains(q.Name, w) {
			return true
		}
	}
	return false
}

func (q FontQuery) italic() bool {
	return q.Flags&FlagItalic != 0 || strings.Contains(q.Name, "Italic") || strings.Contains(q.Name, "Oblique")
}

func (q FontQuery) monospace() bool {
	if q.Flags&FlagFixedPitch != 0 {
		return true
	}
	base, _ := NormalizeStandard14(q.Name)
	return strings.HasPrefix(base, "Courier") || strings.Contains(q.Name, "Mono")
}

// Locator finds a TrueType face for a non-embedded font. The returned
// key identifies the face so parsed programs can be shared.
type Locator interface {
	Locate(q FontQuery) (key string, data []byte, err error)
}

// GoFontLocator substitutes every font with one of the Go fonts,
// picking the proportional or monospaced family and the bold and italic
// variants from the query.
type GoFontLocator struct{}

func (GoFontLocator) Locate(q FontQuery) (string, []byte, error) {
	bold, italic := q.bold(), q.italic()
	if q.monospace() {
		switch {
		case bold && italic:
			return "gomonobolditalic", gomonobolditalic.TTF, nil
		case bold:
			return "gomonobold", gomonobold.TTF, nil
		case italic:
			return "gomonoitalic", gomonoitalic.TTF, nil
		}
		return "gomono", gomono.TTF, nil
	}
	switch {
	case bold && italic:
		return "gobolditalic", gobolditalic.TTF, nil
	case bold:
		return "gobold", gobold.TTF, nil
	case italic:
		return "goitalic", goitalic.TTF, nil
	}
	return "goregular", goregular.TTF, nil
}

// StripSubsetTag removes the "ABCDEF+" prefix of subset fonts.
func StripSubsetTag(name string) string {
	if len(name) > 7 && name[6] == '+' {
		for _, c := range name[:6] {
			if c < 'A' || c > 'Z' {
				return name
			}
		}
		return name[7:]
	}
	return name
}

// NormalizeStandard14 maps a font name to one of the standard 14 fonts.
// Besides the standard names it accepts the TrueType names producers
// write for them (ArialMT, TimesNewRomanPS-BoldMT, CourierNew,Italic).
func NormalizeStandard14(name string) (string, bool) {
	name = StripSubsetTag(name)
	base, style := name, ""
	if i := strings.IndexAny(name, ",-"); i > 0 {
		base, style = name[:i], name[i+1:]
	}
	base = strings.TrimSuffix(strings.TrimSuffix(base, "MT"), "PS")
	style = strings.TrimSuffix(style, "MT")
	var bold, italic bool
	switch style {
	case "", "Roman", "Regular":
	case "Bold":
		bold = true
	case "Italic", "Oblique":
		italic = true
	case "BoldItalic", "BoldOblique":
		bold, italic = true, true
	default:
		return "", false
	}
	var family string
	switch base {
	case "Arial", "Helvetica":
		family = "Helvetica"
	case "TimesNewRoman", "Times":
		family = "Times"
	case "CourierNew", "Courier":
		family = "Courier"
	case "Symbol":
		return "Symbol", true
	case "ZapfDingbats":
		return "ZapfDingbats", true
	default:
		return "", false
	}
	if family == "Times" {
		switch {
		case bold && italic:
			return "Times-BoldItalic", true
		case bold:
			return "Times-Bold", true
		case italic:
			return "Times-Italic", true
		}
		return "Times-Roman", true
	}
	switch {
	case bold && italic:
		return family + "-BoldOblique", true
	case bold:
		return family + "-Bold", true
	case italic:
		return family + "-Oblique", true
	}
	return family, true
}

// ftFont draws substitute glyphs with the freetype TrueType parser.
type ftFont struct {
	f     *truetype.Font
	scale fixed.Int26_6
	upem  float64
}

func parseSubstitute(data []byte) (*ftFont, error) {
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: substitute: %v", errTrueType, err)
	}
	upem := f.FUnitsPerEm()
	return &ftFont{f: f, scale: fixed.Int26_6(upem) << 6, upem: float64(upem)}, nil
}

func (t *ftFont) glyph(gid int, p *coords.Path) (float64, error) {
	var g truetype.GlyphBuf
	if err := g.Load(t.f, t.scale, truetype.Index(gid), font.HintingNone); err != nil {
		return 0, err
	}
	start := 0
	pts := make([]ttPoint, 0, len(g.Points))
	for _, end := range g.Ends {
		pts = pts[:0]
		for _, pt := range g.Points[start:end] {
			pts = append(pts, ttPoint{unfix(pt.X), unfix(pt.Y), pt.Flags&1 != 0})
		}
		appendQuadContour(p, pts)
		start = end
	}
	return unfix(g.AdvanceWidth), nil
}

func (t *ftFont) matrix() coords.Matrix { return coords.Scale(1/t.upem, 1/t.upem) }

// numGlyphs is unknown to the freetype API; glyph indices are checked
// by GlyphBuf.Load.
func (t *ftFont) numGlyphs() int { return 0xffff }

func (t *ftFont) gidByRune(r rune) (int, bool) {
	idx := t.f.Index(r)
	return int(idx), idx != 0
}

func (t *ftFont) gidByName(name string) (int, bool) {
	text, ok := GlyphUnicode(name)
	if !ok {
		return 0, false
	}
	rs := []rune(text)
	return t.gidByRune(rs[0])
}
