package fonts

import (
	"bytes"
	"math"
	"testing"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/redforks/nipdf/coords"
)

func TestNormalizeStandard14(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Helvetica", "Helvetica", true},
		{"Helvetica-BoldOblique", "Helvetica-BoldOblique", true},
		{"ArialMT", "Helvetica", true},
		{"Arial,Bold", "Helvetica-Bold", true},
		{"Arial-BoldItalicMT", "Helvetica-BoldOblique", true},
		{"TimesNewRomanPSMT", "Times-Roman", true},
		{"TimesNewRomanPS-BoldMT", "Times-Bold", true},
		{"Times-Italic", "Times-Italic", true},
		{"CourierNew,Italic", "Courier-Oblique", true},
		{"ABCDEF+Courier", "Courier", true},
		{"Symbol", "Symbol", true},
		{"ZapfDingbats", "ZapfDingbats", true},
		{"Garamond", "", false},
		{"Arial-Narrow", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeStandard14(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeStandard14(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStripSubsetTag(t *testing.T) {
	tests := map[string]string{
		"ABCDEF+Calibri": "Calibri",
		"Calibri":        "Calibri",
		"abcdef+Calibri": "abcdef+Calibri",
		"ABC+Calibri":    "ABC+Calibri",
	}
	for in, want := range tests {
		if got := StripSubsetTag(in); got != want {
			t.Errorf("StripSubsetTag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGoFontLocator(t *testing.T) {
	tests := []struct {
		q    FontQuery
		key  string
		data []byte
	}{
		{FontQuery{Name: "Helvetica"}, "goregular", goregular.TTF},
		{FontQuery{Name: "Helvetica-Bold"}, "gobold", gobold.TTF},
		{FontQuery{Name: "Unknown", Weight: 700}, "gobold", gobold.TTF},
		{FontQuery{Name: "Courier-Oblique"}, "gomonoitalic", gomonoitalic.TTF},
		{FontQuery{Name: "Anything", Flags: FlagFixedPitch | FlagItalic}, "gomonoitalic", gomonoitalic.TTF},
	}
	for _, tt := range tests {
		key, data, err := GoFontLocator{}.Locate(tt.q)
		if err != nil {
			t.Fatalf("Locate(%+v): %v", tt.q, err)
		}
		if key != tt.key || !bytes.Equal(data, tt.data) {
			t.Errorf("Locate(%+v) = %s, want %s", tt.q, key, tt.key)
		}
	}
}

func TestSubstituteProgram(t *testing.T) {
	f, err := parseSubstitute(goregular.TTF)
	if err != nil {
		t.Fatalf("parseSubstitute: %v", err)
	}
	gid, ok := f.gidByName("eacute")
	if !ok {
		t.Fatal("eacute missing")
	}
	if r, _ := f.gidByRune('é'); r != gid {
		t.Errorf("gidByRune = %d, gidByName = %d", r, gid)
	}
	tt, _ := parseTrueType(goregular.TTF)
	want, _ := tt.gidByRune('é')
	if gid != want {
		t.Errorf("freetype gid %d, cmap gid %d", gid, want)
	}
	p1, p2 := new(coords.Path), new(coords.Path)
	a1, err := f.glyph(gid, p1)
	if err != nil {
		t.Fatalf("glyph: %v", err)
	}
	a2, _ := tt.glyph(gid, p2)
	if a1 != a2 {
		t.Errorf("advance %v, want %v", a1, a2)
	}
	b1, b2 := p1.Bounds(), p2.Bounds()
	if math.Abs(b1.MinX-b2.MinX) > 1 || math.Abs(b1.MaxY-b2.MaxY) > 1 {
		t.Errorf("bounds %+v, want %+v", b1, b2)
	}
}
