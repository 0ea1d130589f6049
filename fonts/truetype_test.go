package fonts

import (
	"encoding/binary"
	"math"
	"testing"

	"golang.org/x/image/font/gofont/goregular"

	"github.com/redforks/nipdf/coords"
)

func TestParseTrueTypeGoRegular(t *testing.T) {
	tt, err := parseTrueType(goregular.TTF)
	if err != nil {
		t.Fatalf("parseTrueType: %v", err)
	}
	if tt.upem != 2048 {
		t.Errorf("upem = %v", tt.upem)
	}
	if !tt.hasCmap(3, 1) {
		t.Error("expected a (3,1) cmap")
	}
	gid, ok := tt.gidByRune('A')
	if !ok || gid == 0 {
		t.Fatalf("gidByRune(A) = %d, %v", gid, ok)
	}
	if byName, ok := tt.gidByName("A"); !ok || byName != gid {
		t.Errorf("gidByName(A) = %d, %v; want %d", byName, ok, gid)
	}
	if _, ok := tt.gidByRune('\U000F0000'); ok {
		t.Error("private use code point mapped")
	}

	var p coords.Path
	adv, err := tt.glyph(gid, &p)
	if err != nil {
		t.Fatalf("glyph: %v", err)
	}
	if adv <= 0 || p.Empty() {
		t.Fatalf("glyph A: advance %v, %d segments", adv, len(p.Segs))
	}

	// The sfnt reader must agree on metrics and extents.
	sf, err := parseSFNT(goregular.TTF)
	if err != nil {
		t.Fatalf("parseSFNT: %v", err)
	}
	var q coords.Path
	sadv, err := sf.glyph(gid, &q)
	if err != nil {
		t.Fatalf("sfnt glyph: %v", err)
	}
	if sadv != adv {
		t.Errorf("advance %v, sfnt advance %v", adv, sadv)
	}
	a, b := p.Bounds(), q.Bounds()
	for _, d := range []float64{a.MinX - b.MinX, a.MinY - b.MinY, a.MaxX - b.MaxX, a.MaxY - b.MaxY} {
		if math.Abs(d) > 1 {
			t.Errorf("bounds differ: %+v vs %+v", a, b)
			break
		}
	}
	if a.MinY < -1 || a.MaxY <= 0 {
		t.Errorf("A should sit on the baseline with y up: %+v", a)
	}
}

func TestTrueTypeAccentedGlyphsMatchSFNT(t *testing.T) {
	tt, err := parseTrueType(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	sf, err := parseSFNT(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range "ÁÅéñ" {
		gid, ok := tt.gidByRune(r)
		if !ok {
			t.Errorf("%q not mapped", r)
			continue
		}
		var p, q coords.Path
		if _, err := tt.glyph(gid, &p); err != nil {
			t.Errorf("%q: %v", r, err)
			continue
		}
		if _, err := sf.glyph(gid, &q); err != nil {
			t.Fatal(err)
		}
		a, b := p.Bounds(), q.Bounds()
		if math.Abs(a.MinX-b.MinX) > 1 || math.Abs(a.MaxY-b.MaxY) > 1 || math.Abs(a.MaxX-b.MaxX) > 1 {
			t.Errorf("%q bounds %+v, sfnt %+v", r, a, b)
		}
	}
}

func TestTrueTypeDamagedCmapRecord(t *testing.T) {
	table, err := sfntTables(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	orig := table("cmap")
	var unicodeOff uint32
	for i := 0; i < int(binary.BigEndian.Uint16(orig[2:])); i++ {
		rec := orig[4+8*i:]
		if binary.BigEndian.Uint16(rec) == 3 && binary.BigEndian.Uint16(rec[2:]) == 1 {
			unicodeOff = binary.BigEndian.Uint32(rec[4:])
		}
	}
	if unicodeOff == 0 {
		t.Fatal("no (3,1) cmap")
	}
	// a (3,0) record pointing past the table, then the real (3,1) one
	cmap := []byte{0, 0, 0, 2, 0, 3, 0, 0, 0x7f, 0, 0, 0, 0, 3, 0, 1, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(cmap[16:], 20+unicodeOff)
	cmap = append(cmap, orig...)

	tt, err := newTTFont(func(tag string) []byte {
		if tag == "cmap" {
			return cmap
		}
		return table(tag)
	})
	if err != nil {
		t.Fatal(err)
	}
	if tt.hasCmap(3, 0) {
		t.Error("damaged (3,0) record kept")
	}
	if gid, ok := tt.gidByRune('A'); !ok || gid == 0 {
		t.Errorf("gidByRune(A) = %d, %v", gid, ok)
	}
}

func TestParseTrueTypeMissingTables(t *testing.T) {
	if _, err := parseTrueType([]byte("not a font at all")); err == nil {
		t.Error("expected error")
	}
	_, err := newTTFont(func(tag string) []byte {
		if tag == "head" {
			return make([]byte, 54)
		}
		return nil
	})
	if err == nil {
		t.Error("expected error without glyf and loca")
	}
}

func TestAppendQuadContour(t *testing.T) {
	tests := []struct {
		name  string
		pts   []ttPoint
		start coords.Point
		quads int
	}{
		{"square", []ttPoint{{0, 0, true}, {10, 0, true}, {10, 10, true}, {0, 10, true}}, coords.Point{}, 0},
		{"implied midpoints", []ttPoint{{0, 0, true}, {10, 0, false}, {10, 10, false}, {0, 10, true}}, coords.Point{}, 2},
		{"starts off curve", []ttPoint{{10, 0, false}, {10, 10, true}, {0, 10, false}, {0, 0, true}}, coords.Point{X: 0, Y: 0}, 2},
		{"all off curve", []ttPoint{{0, 0, false}, {10, 0, false}, {10, 10, false}, {0, 10, false}}, coords.Point{X: 0, Y: 5}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p coords.Path
			appendQuadContour(&p, tt.pts)
			if len(p.Segs) == 0 || p.Segs[0].Op != coords.OpMoveTo {
				t.Fatalf("path does not start with a move: %+v", p.Segs)
			}
			if got := p.Segs[0].Pts[0]; got != tt.start {
				t.Errorf("start = %v, want %v", got, tt.start)
			}
			quads := 0
			for _, s := range p.Segs {
				if s.Op == coords.OpQuadTo {
					quads++
				}
			}
			if quads != tt.quads {
				t.Errorf("quads = %d, want %d", quads, tt.quads)
			}
			if last := p.Segs[len(p.Segs)-1]; last.Op != coords.OpClose {
				t.Errorf("contour not closed")
			}
		})
	}
}
