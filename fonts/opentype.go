package fonts

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-text/typesetting/font/opentype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/redforks/nipdf/coords"
)

// OpenTypeTable represents an entry in the OpenType table directory.
type OpenTypeTable struct {
	Tag      string
	CheckSum uint32
	Offset   uint32
	Length   uint32
}

// ParseOpenTypeTableDirectory parses the header and table directory of an OpenType/TrueType font.
func ParseOpenTypeTableDirectory(data []byte) (map[string]OpenTypeTable, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("table directory truncated")
	}
	// 0x00010000 or 'true' for TrueType, 'OTTO' for CFF outlines; both
	// share the directory layout.
	numTables := int(binary.BigEndian.Uint16(data[4:]))
	if 12+16*numTables > len(data) {
		return nil, fmt.Errorf("table directory truncated")
	}
	tables := make(map[string]OpenTypeTable, numTables)
	for i := 0; i < numTables; i++ {
		rec := data[12+16*i:]
		tag := string(rec[:4])
		tables[tag] = OpenTypeTable{
			Tag:      tag,
			CheckSum: binary.BigEndian.Uint32(rec[4:]),
			Offset:   binary.BigEndian.Uint32(rec[8:]),
			Length:   binary.BigEndian.Uint32(rec[12:]),
		}
	}
	return tables, nil
}

// ExtractTable returns the raw data of a specific table.
func ExtractTable(data []byte, table OpenTypeTable) ([]byte, error) {
	end := uint64(table.Offset) + uint64(table.Length)
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("table %s out of bounds", table.Tag)
	}
	return data[table.Offset:end], nil
}

// sfntTables returns an accessor for the raw tables of an sfnt file.
// Missing tables read as nil.
func sfntTables(data []byte) (func(tag string) []byte, error) {
	if loader, err := opentype.NewLoader(bytes.NewReader(data)); err == nil {
		raw := make(map[string][]byte)
		return func(tag string) []byte {
			if b, ok := raw[tag]; ok {
				return b
			}
			t := opentype.NewTag(tag[0], tag[1], tag[2], tag[3])
			var b []byte
			if loader.HasTable(t) {
				b, _ = loader.RawTable(t)
			}
			raw[tag] = b
			return b
		}, nil
	}
	dir, err := ParseOpenTypeTableDirectory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTrueType, err)
	}
	return func(tag string) []byte {
		t, ok := dir[tag]
		if !ok {
			return nil
		}
		b, _ := ExtractTable(data, t)
		return b
	}, nil
}

// isOpenTypeCFF reports whether data is an sfnt wrapper around CFF
// outlines.
func isOpenTypeCFF(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "OTTO"
}

// openTypeCFF extracts and parses the CFF table of an OpenType font.
func openTypeCFF(data []byte) (*cffFont, error) {
	table, err := sfntTables(data)
	if err != nil {
		return nil, err
	}
	cff := table("CFF ")
	if cff == nil {
		return nil, fmt.Errorf("%w: OpenType font has no CFF table", errCFF)
	}
	return parseCFF(cff)
}

// sfntFont draws glyphs of a complete OpenType font, either outline
// flavour, through x/image/font/sfnt.
type sfntFont struct {
	f    *sfnt.Font
	ppem fixed.Int26_6
	upem float64

	namesOnce sync.Once
	byName    map[string]int
}

func parseSFNT(data []byte) (*sfntFont, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, err
	}
	upem := f.UnitsPerEm()
	if upem == 0 {
		return nil, fmt.Errorf("%w: invalid unitsPerEm", errTrueType)
	}
	// ppem equal to unitsPerEm yields outlines in font units.
	return &sfntFont{f: f, ppem: fixed.Int26_6(upem) << 6, upem: float64(upem)}, nil
}

func unfix(v fixed.Int26_6) float64 { return float64(v) / 64 }

func (s *sfntFont) glyph(gid int, p *coords.Path) (float64, error) {
	var buf sfnt.Buffer
	x := sfnt.GlyphIndex(gid)
	segs, err := s.f.LoadGlyph(&buf, x, s.ppem, nil)
	if err != nil {
		return 0, err
	}
	started := false
	for _, seg := range segs {
		a := seg.Args
		// sfnt segments are y-down.
		switch seg.Op {
		case sfnt.SegmentOpMoveTo:
			if started {
				p.Close()
			}
			p.MoveTo(unfix(a[0].X), -unfix(a[0].Y))
			started = true
		case sfnt.SegmentOpLineTo:
			p.LineTo(unfix(a[0].X), -unfix(a[0].Y))
		case sfnt.SegmentOpQuadTo:
			p.QuadTo(unfix(a[0].X), -unfix(a[0].Y), unfix(a[1].X), -unfix(a[1].Y))
		case sfnt.SegmentOpCubeTo:
			p.CubeTo(unfix(a[0].X), -unfix(a[0].Y), unfix(a[1].X), -unfix(a[1].Y), unfix(a[2].X), -unfix(a[2].Y))
		}
	}
	if started {
		p.Close()
	}
	adv, err := s.f.GlyphAdvance(&buf, x, s.ppem, font.HintingNone)
	if err != nil {
		return 0, nil
	}
	return unfix(adv), nil
}

func (s *sfntFont) matrix() coords.Matrix { return coords.Scale(1/s.upem, 1/s.upem) }
func (s *sfntFont) numGlyphs() int        { return s.f.NumGlyphs() }

func (s *sfntFont) gidByRune(r rune) (int, bool) {
	var buf sfnt.Buffer
	x, err := s.f.GlyphIndex(&buf, r)
	if err != nil || x == 0 {
		return 0, false
	}
	return int(x), true
}

func (s *sfntFont) gidByName(name string) (int, bool) {
	s.namesOnce.Do(func() {
		var buf sfnt.Buffer
		s.byName = make(map[string]int)
		for i := 0; i < s.f.NumGlyphs(); i++ {
			n, err := s.f.GlyphName(&buf, sfnt.GlyphIndex(i))
			if err != nil {
				break
			}
			if _, ok := s.byName[n]; !ok && n != "" {
				s.byName[n] = i
			}
		}
	})
	if gid, ok := s.byName[name]; ok {
		return gid, true
	}
	if text, ok := GlyphUnicode(name); ok {
		if rs := []rune(text); len(rs) == 1 {
			return s.gidByRune(rs[0])
		}
	}
	return 0, false
}
