package fonts

import (
	"testing"
)

const toUnicodeCMap = `/CIDInit /ProcSet findresource begin
12 dict begin
begincmap
/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def
/CMapName /Adobe-Identity-UCS def
/CMapType 2 def
1 begincodespacerange
<0000> <FFFF>
endcodespacerange
3 beginbfchar
<0003> <0020>
<0024> <0041>
<0025> <00660069>
endbfchar
2 beginbfrange
<0030> <0032> <0061>
<0040> <0041> [<0078> <D835DC00>]
endbfrange
endcmap
CMapName currentdict /CMap defineresource pop
end
end`

func TestToUnicodeCMap(t *testing.T) {
	cm, err := ParseCMap([]byte(toUnicodeCMap), nil)
	if err != nil {
		t.Fatalf("ParseCMap: %v", err)
	}
	if cm.Name != "Adobe-Identity-UCS" {
		t.Errorf("Name = %q", cm.Name)
	}
	tests := []struct {
		code uint32
		n    int
		want string
	}{
		{0x03, 2, " "},
		{0x24, 2, "A"},
		{0x25, 2, "fi"},
		{0x30, 2, "a"},
		{0x32, 2, "c"},
		{0x40, 2, "x"},
		{0x41, 2, "\U0001D400"},
		// one-byte codes from a simple font fall back to the two-byte entries
		{0x24, 1, "A"},
	}
	for _, tt := range tests {
		got, ok := cm.Unicode(tt.code, tt.n)
		if !ok || got != tt.want {
			t.Errorf("Unicode(%#x, %d) = %q, %v; want %q", tt.code, tt.n, got, ok, tt.want)
		}
	}
	if _, ok := cm.Unicode(0x33, 2); ok {
		t.Error("code past the bfrange should be unmapped")
	}
	if !cm.HasText() {
		t.Error("HasText = false")
	}
}

const mixedWidthCMap = `/CMapName /Test-H def
/WMode 0 def
2 begincodespacerange
<00> <80>
<8140> <9FFC>
endcodespacerange
2 begincidrange
<20> <7E> 1
<8140> <817E> 633
endcidrange
1 begincidchar
<8150> 9000
endcidchar
1 beginnotdefrange
<00> <1F> 1
endnotdefrange`

func TestEncodingCMapDecode(t *testing.T) {
	cm, err := ParseCMap([]byte(mixedWidthCMap), nil)
	if err != nil {
		t.Fatalf("ParseCMap: %v", err)
	}
	got := cm.Decode([]byte{0x41, 0x81, 0x41, 0x05, 0x81, 0x50})
	want := []Char{
		{Code: 0x41, Len: 1, CID: 0x41 - 0x20 + 1},
		{Code: 0x8141, Len: 2, CID: 634},
		{Code: 0x05, Len: 1, CID: 1},
		{Code: 0x8150, Len: 2, CID: 9000},
	}
	if len(got) != len(want) {
		t.Fatalf("Decode = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("char %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if cm.Vertical {
		t.Error("WMode 0 parsed as vertical")
	}
}

func TestCMapTruncatedCode(t *testing.T) {
	cm, err := ParseCMap([]byte(mixedWidthCMap), nil)
	if err != nil {
		t.Fatalf("ParseCMap: %v", err)
	}
	got := cm.Decode([]byte{0x41, 0x81})
	if len(got) != 2 || got[1].Len != 1 {
		t.Fatalf("Decode = %+v", got)
	}
}

func TestUseCMap(t *testing.T) {
	src := `/CMapName /Child def
/WMode 1 def
1 begincidchar
<0005> 77
endcidchar
/Identity-V usecmap`
	cm, err := ParseCMap([]byte(src), nil)
	if err != nil {
		t.Fatalf("ParseCMap: %v", err)
	}
	chars := cm.Decode([]byte{0x00, 0x05, 0x01, 0x00})
	if len(chars) != 2 {
		t.Fatalf("Decode = %+v", chars)
	}
	if chars[0].CID != 77 {
		t.Errorf("own mapping CID = %d, want 77", chars[0].CID)
	}
	if chars[1].CID != 0x100 {
		t.Errorf("inherited identity CID = %d, want 256", chars[1].CID)
	}
	if !cm.Vertical {
		t.Error("expected vertical")
	}
}

func TestPredefinedCMaps(t *testing.T) {
	h, ok := PredefinedCMap("Identity-H")
	if !ok || !h.IsIdentity() || h.Vertical {
		t.Fatalf("Identity-H = %+v, %v", h, ok)
	}
	v, _ := PredefinedCMap("Identity-V")
	if !v.Vertical {
		t.Error("Identity-V not vertical")
	}
	chars := h.Decode([]byte{0x12, 0x34})
	if len(chars) != 1 || chars[0].CID != 0x1234 {
		t.Errorf("Identity decode = %+v", chars)
	}

	u, ok := PredefinedCMap("UniGB-UCS2-H")
	if !ok || !u.UnicodeKeyed() {
		t.Fatalf("UniGB-UCS2-H = %+v, %v", u, ok)
	}
	if s, _ := u.Unicode(0x4e2d, 2); s != "中" {
		t.Errorf("Unicode = %q", s)
	}
	if _, ok := PredefinedCMap("GBK-EUC-H"); ok {
		t.Error("GBK-EUC-H needs data files and should be unavailable")
	}
}
