package fonts

import "testing"

func TestNamedEncodings(t *testing.T) {
	tests := []struct {
		enc  string
		code byte
		want string
	}{
		{"StandardEncoding", 'A', "A"},
		{"StandardEncoding", 0x27, "quoteright"},
		{"StandardEncoding", 0xae, "fi"},
		{"WinAnsiEncoding", 0x80, "Euro"},
		{"WinAnsiEncoding", 0xe9, "eacute"},
		{"WinAnsiEncoding", 0x27, "quotesingle"},
		{"MacRomanEncoding", 0x8e, "eacute"},
		{"MacRomanEncoding", 0xa5, "bullet"},
		{"SymbolEncoding", 'a', "alpha"},
		{"SymbolEncoding", 'W', "Omega"},
	}
	for _, tt := range tests {
		enc, ok := NamedEncoding(tt.enc)
		if !ok {
			t.Fatalf("NamedEncoding(%s) missing", tt.enc)
		}
		if got := enc[tt.code]; got != tt.want {
			t.Errorf("%s[%#x] = %q, want %q", tt.enc, tt.code, got, tt.want)
		}
	}
	if _, ok := NamedEncoding("NoSuchEncoding"); ok {
		t.Error("unknown encoding resolved")
	}
}

func TestEncodingCloneIsIndependent(t *testing.T) {
	a := StandardEncoding()
	a['A'] = "Alpha"
	if b := StandardEncoding(); b['A'] != "A" {
		t.Errorf("shared table modified: %q", b['A'])
	}
}

func TestEncodingUnicode(t *testing.T) {
	enc, _ := NamedEncoding("WinAnsiEncoding")
	if s, ok := enc.Unicode(0x80); !ok || s != "€" {
		t.Errorf("Unicode(0x80) = %q, %v", s, ok)
	}
	if code, ok := enc.Code("eacute"); !ok || code != 0xe9 {
		t.Errorf("Code(eacute) = %#x, %v", code, ok)
	}
}

func TestGlyphUnicode(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"A", "A", true},
		{"space", " ", true},
		{"eacute", "é", true},
		{"fi", "\ufb01", true},
		{"uni0041", "A", true},
		{"uni00410042", "AB", true},
		{"u1F600", "\U0001F600", true},
		{"A.sc", "A", true},
		{"f_i", "fi", true},
		{"g123", "", false},
		{".notdef", "", false},
	}
	for _, tt := range tests {
		got, ok := GlyphUnicode(tt.name)
		if ok != tt.ok || got != tt.want {
			t.Errorf("GlyphUnicode(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
