package fonts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/font/opentype/tables"

	"github.com/redforks/nipdf/coords"
)

var errTrueType = errors.New("truetype")

// maxCompositeDepth bounds nested composite glyphs.
const maxCompositeDepth = 8

// macGlyphOrder is the standard Macintosh glyph order used by post
// table formats 1 and 2.
var macGlyphOrder = strings.Fields(`
.notdef .null nonmarkingreturn space exclam quotedbl numbersign dollar
percent ampersand quotesingle parenleft parenright asterisk plus comma
hyphen period slash zero one two three four five six seven eight nine
colon semicolon less equal greater question at A B C D E F G H I J K L
M N O P Q R S T U V W X Y Z bracketleft backslash bracketright
asciicircum underscore grave a b c d e f g h i j k l m n o p q r s t u
v w x y z braceleft bar braceright asciitilde Adieresis Aring Ccedilla
Eacute Ntilde Odieresis Udieresis aacute agrave acircumflex adieresis
atilde aring ccedilla eacute egrave ecircumflex edieresis iacute igrave
icircumflex idieresis ntilde oacute ograve ocircumflex odieresis otilde
uacute ugrave ucircumflex udieresis dagger degree cent sterling section
bullet paragraph germandbls registered copyright trademark acute
dieresis notequal AE Oslash infinity plusminus lessequal greaterequal
yen mu partialdiff summation product pi integral ordfeminine
ordmasculine Omega ae oslash questiondown exclamdown logicalnot radical
florin approxequal Delta guillemotleft guillemotright ellipsis
nonbreakingspace Agrave Atilde Otilde OE oe endash emdash quotedblleft
quotedblright quoteleft quoteright divide lozenge ydieresis Ydieresis
fraction currency guilsinglleft guilsinglright fi fl daggerdbl
periodcentered quotesinglbase quotedblbase perthousand Acircumflex
Ecircumflex Aacute Edieresis Egrave Iacute Icircumflex Idieresis Igrave
Oacute Ocircumflex apple Ograve Uacute Ucircumflex Ugrave dotlessi
circumflex tilde macron breve dotaccent ring cedilla hungarumlaut
ogonek caron Lslash lslash Scaron scaron Zcaron zcaron brokenbar Eth
eth Yacute yacute Thorn thorn minus multiply onesuperior twosuperior
threesuperior onehalf onequarter threequarters franc Gbreve gbreve
Idotaccent Scedilla scedilla Cacute cacute Ccaron ccaron dcroat
`)

// ttFont reads glyf outlines through the go-text table parsers, one
// table at a time. Embedded TrueType programs are often subset without
// the tables stricter loaders insist on, so only head, loca and glyf are
// required and a damaged cmap record or glyph costs only itself.
type ttFont struct {
	upem    float64
	loca    []uint32
	glyf    []byte
	metrics []tables.LongHorMetric
	nGlyphs int
	cmaps   []ttCmap
	byName  map[string]int
}

type ttCmap struct {
	platform, encoding int
	cmap               font.Cmap
}

func (c ttCmap) lookup(code uint32) (int, bool) {
	gid, ok := c.cmap.Lookup(rune(code))
	return int(gid), ok && gid != 0
}

func parseTrueType(data []byte) (*ttFont, error) {
	table, err := sfntTables(data)
	if err != nil {
		return nil, err
	}
	return newTTFont(table)
}

func newTTFont(table func(tag string) []byte) (*ttFont, error) {
	head, _, err := tables.ParseHead(table("head"))
	if err != nil {
		return nil, fmt.Errorf("%w: head table missing", errTrueType)
	}
	locaData, glyf := table("loca"), table("glyf")
	if locaData == nil || glyf == nil {
		return nil, fmt.Errorf("%w: glyf or loca table missing", errTrueType)
	}
	f := &ttFont{upem: float64(head.UnitsPerEm), glyf: glyf}
	if f.upem < 16 || f.upem > 16384 {
		f.upem = 1000
	}
	long := head.IndexToLocFormat != 0
	if long {
		f.nGlyphs = len(locaData)/4 - 1
	} else {
		f.nGlyphs = len(locaData)/2 - 1
	}
	if maxp, _, err := tables.ParseMaxp(table("maxp")); err == nil && int(maxp.NumGlyphs) < f.nGlyphs {
		f.nGlyphs = int(maxp.NumGlyphs)
	}
	if f.nGlyphs < 0 {
		f.nGlyphs = 0
	}
	if f.loca, err = tables.ParseLoca(locaData, f.nGlyphs, long); err != nil {
		return nil, fmt.Errorf("%w: %v", errTrueType, err)
	}
	if hhea, _, err := tables.ParseHhea(table("hhea")); err == nil {
		hmtx := table("hmtx")
		n := min(int(hhea.NumOfLongMetrics), len(hmtx)/4)
		if m, _, err := tables.ParseHmtx(hmtx, n, 0); err == nil {
			f.metrics = m.Metrics
		}
	}
	f.cmaps = parseCmapTable(table("cmap"))
	if names := parsePostNames(table("post")); names != nil {
		f.byName = make(map[string]int, len(names))
		for gid, n := range names {
			if _, ok := f.byName[n]; !ok && n != "" {
				f.byName[n] = gid
			}
		}
	}
	return f, nil
}

// glyphData returns the glyf bytes of gid, nil for an empty or
// out-of-range glyph.
func (f *ttFont) glyphData(gid int) []byte {
	if gid < 0 || gid >= f.nGlyphs {
		return nil
	}
	start, end := f.loca[gid], f.loca[gid+1]
	if start >= end || int64(end) > int64(len(f.glyf)) {
		return nil
	}
	return f.glyf[start:end]
}

func (f *ttFont) advance(gid int) float64 {
	if len(f.metrics) == 0 {
		return 0
	}
	if gid >= len(f.metrics) {
		gid = len(f.metrics) - 1
	}
	return float64(uint16(f.metrics[gid].AdvanceWidth))
}

func (f *ttFont) glyph(gid int, p *coords.Path) (float64, error) {
	err := f.outline(gid, p, 0)
	return f.advance(gid), err
}

func (f *ttFont) outline(gid int, p *coords.Path, depth int) error {
	data := f.glyphData(gid)
	if len(data) < 10 {
		return nil
	}
	g, _, err := tables.ParseGlyph(data)
	if err != nil {
		return fmt.Errorf("%w: glyph %d: %v", errTrueType, gid, err)
	}
	switch d := g.Data.(type) {
	case tables.SimpleGlyph:
		return simpleGlyph(d, p)
	case tables.CompositeGlyph:
		if depth >= maxCompositeDepth {
			return fmt.Errorf("%w: composite glyph %d nested too deeply", errTrueType, gid)
		}
		return f.compositeGlyph(d, p, depth)
	}
	return nil
}

type ttPoint struct {
	x, y float64
	on   bool
}

func simpleGlyph(g tables.SimpleGlyph, p *coords.Path) error {
	pts := make([]ttPoint, len(g.Points))
	for i, pt := range g.Points {
		pts[i] = ttPoint{float64(pt.X), float64(pt.Y), pt.Flag&1 != 0}
	}
	first := 0
	for _, e := range g.EndPtsOfContours {
		end := int(e)
		if end < first || end >= len(pts) {
			return fmt.Errorf("%w: bad contour end", errTrueType)
		}
		appendQuadContour(p, pts[first:end+1])
		first = end + 1
	}
	return nil
}

// appendQuadContour adds one closed TrueType contour, inserting the
// implied on-curve points between consecutive off-curve points.
func appendQuadContour(p *coords.Path, pts []ttPoint) {
	n := len(pts)
	if n == 0 {
		return
	}
	mid := func(a, b ttPoint) ttPoint { return ttPoint{(a.x + b.x) / 2, (a.y + b.y) / 2, true} }
	var start ttPoint
	var rest []ttPoint
	switch {
	case pts[0].on:
		start, rest = pts[0], pts[1:]
	case pts[n-1].on:
		start, rest = pts[n-1], pts[:n-1]
	default:
		start, rest = mid(pts[n-1], pts[0]), pts
	}
	p.MoveTo(start.x, start.y)
	var ctrl ttPoint
	pending := false
	for _, pt := range rest {
		if pt.on {
			if pending {
				p.QuadTo(ctrl.x, ctrl.y, pt.x, pt.y)
				pending = false
			} else {
				p.LineTo(pt.x, pt.y)
			}
			continue
		}
		if pending {
			m := mid(ctrl, pt)
			p.QuadTo(ctrl.x, ctrl.y, m.x, m.y)
		}
		ctrl, pending = pt, true
	}
	if pending {
		p.QuadTo(ctrl.x, ctrl.y, start.x, start.y)
	}
	p.Close()
}

func (f *ttFont) compositeGlyph(g tables.CompositeGlyph, p *coords.Path, depth int) error {
	for _, part := range g.Glyphs {
		var dx, dy float64
		if !part.IsAnchored() {
			x, y := part.ArgsAsTranslation()
			dx, dy = float64(x), float64(y)
		}
		// anchored components are placed unshifted; point matching is not supported
		s := part.Scale
		m := coords.Matrix{float64(s[0]), float64(s[1]), float64(s[2]), float64(s[3]), dx, dy}
		var sub coords.Path
		if err := f.outline(int(part.GlyphIndex), &sub, depth+1); err != nil {
			return err
		}
		if !sub.Empty() {
			p.Append(sub.Transform(m))
		}
	}
	return nil
}

func (f *ttFont) matrix() coords.Matrix { return coords.Scale(1/f.upem, 1/f.upem) }
func (f *ttFont) numGlyphs() int        { return f.nGlyphs }

// gidByName maps a glyph name through the post table, then through the
// Unicode cmap.
func (f *ttFont) gidByName(name string) (int, bool) {
	if gid, ok := f.byName[name]; ok {
		return gid, true
	}
	if s, ok := GlyphUnicode(name); ok {
		if rs := []rune(s); len(rs) == 1 {
			return f.gidByRune(rs[0])
		}
	}
	return 0, false
}

func (f *ttFont) gidByRune(r rune) (int, bool) {
	for _, c := range f.cmaps {
		if c.platform == 3 && (c.encoding == 1 || c.encoding == 10) || c.platform == 0 {
			if gid, ok := c.lookup(uint32(r)); ok {
				return gid, true
			}
		}
	}
	return 0, false
}

// gidBySymbol maps a code of a symbolic font: the (3,0) cmap with the
// code in the F000 private area, then the Mac Roman cmap, then any
// cmap with the bare code.
func (f *ttFont) gidBySymbol(code byte) (int, bool) {
	for _, c := range f.cmaps {
		if c.platform == 3 && c.encoding == 0 {
			for _, base := range []uint32{0, 0xf000, 0xf100, 0xf200} {
				if gid, ok := c.lookup(base | uint32(code)); ok {
					return gid, true
				}
			}
		}
	}
	for _, c := range f.cmaps {
		if c.platform == 1 && c.encoding == 0 {
			if gid, ok := c.lookup(uint32(code)); ok {
				return gid, true
			}
		}
	}
	for _, c := range f.cmaps {
		if gid, ok := c.lookup(uint32(code)); ok {
			return gid, true
		}
	}
	return 0, false
}

// hasCmap reports whether the font carries the given cmap subtable.
func (f *ttFont) hasCmap(platform, encoding int) bool {
	for _, c := range f.cmaps {
		if c.platform == platform && c.encoding == encoding {
			return true
		}
	}
	return false
}

// parseCmapTable reads each encoding record on its own so one damaged
// subtable does not hide the others.
func parseCmapTable(b []byte) []ttCmap {
	if len(b) < 4 {
		return nil
	}
	n := int(b[2])<<8 | int(b[3])
	var out []ttCmap
	for i := 0; i < n && 4+8*i+8 <= len(b); i++ {
		rec, _, err := tables.ParseEncodingRecord(b[4+8*i:], b)
		if err != nil || rec.Subtable == nil {
			continue
		}
		cm, _, err := font.ProcessCmap(tables.Cmap{Records: []tables.EncodingRecord{rec}}, tables.FPNone)
		if err != nil {
			continue
		}
		out = append(out, ttCmap{platform: int(rec.PlatformID), encoding: int(rec.EncodingID), cmap: cm})
	}
	return out
}

// parsePostNames returns the glyph names of a format 1 or 2 post table.
func parsePostNames(b []byte) []string {
	post, _, err := tables.ParsePost(b)
	if err != nil {
		return nil
	}
	switch names := post.Names.(type) {
	case tables.PostNames10:
		return macGlyphOrder
	case tables.PostNames20:
		var extra []string
		data := names.StringData
		for p := 0; p < len(data); {
			l := int(data[p])
			if p+1+l > len(data) {
				break
			}
			extra = append(extra, string(data[p+1:p+1+l]))
			p += 1 + l
		}
		out := make([]string, len(names.GlyphNameIndexes))
		for gid, idx := range names.GlyphNameIndexes {
			switch i := int(idx); {
			case i < len(macGlyphOrder):
				out[gid] = macGlyphOrder[i]
			case i-len(macGlyphOrder) < len(extra):
				out[gid] = extra[i-len(macGlyphOrder)]
			}
		}
		return out
	}
	return nil
}
