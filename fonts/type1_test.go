package fonts

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/vm"
)

const type1Clear = `%!PS-AdobeFont-1.0: TestType1 001.000
11 dict begin
/FontName /TestType1 def
/FontMatrix [0.001 0 0 0.001 0 0] readonly def
/Encoding 256 array
0 1 255 {1 index exch /.notdef put} for
dup 65 /A put
dup 66 /B put
readonly def
currentdict end
currentfile eexec
`

// type1Private builds the decrypted private part with the given glyphs.
func type1Private(glyphs map[string][]byte, order []string) []byte {
	var b bytes.Buffer
	b.WriteString("dup /Private 8 dict dup begin\n/lenIV 4 def\n/Subrs 1 array\n")
	sub := vm.Encrypt(charstring(csOp(11)), vm.CharstringKey, 4) // return
	fmt.Fprintf(&b, "dup 0 %d RD ", len(sub))
	b.Write(sub)
	b.WriteString(" NP\nND\n2 index /CharStrings ")
	fmt.Fprintf(&b, "%d dict dup begin\n", len(order))
	for _, name := range order {
		cs := vm.Encrypt(glyphs[name], vm.CharstringKey, 4)
		fmt.Fprintf(&b, "/%s %d RD ", name, len(cs))
		b.Write(cs)
		b.WriteString(" ND\n")
	}
	b.WriteString("end\nend\nmark currentfile closefile\n")
	return b.Bytes()
}

func type1Glyphs() (map[string][]byte, []string) {
	return map[string][]byte{
		".notdef": charstring(0, 250, opHsbw, opEndchar),
		"A":       charstring(0, 500, opHsbw, 100, 0, opRmoveto, 300, 0, opRlineto, 0, 700, opRlineto, opClosepath, opEndchar),
	}, []string{".notdef", "A"}
}

func buildType1() []byte {
	glyphs, order := type1Glyphs()
	enc := vm.Encrypt(type1Private(glyphs, order), vm.EexecKey, 4)
	return append([]byte(type1Clear), enc...)
}

func checkType1(t *testing.T, f *type1Font) {
	t.Helper()
	if f.name != "TestType1" {
		t.Errorf("name = %q", f.name)
	}
	if f.builtinEncoding()[65] != "A" || f.builtinEncoding()[66] != "B" {
		t.Errorf("encoding = %q %q", f.builtinEncoding()[65], f.builtinEncoding()[66])
	}
	gid, ok := f.gidByName("A")
	if !ok {
		t.Fatal("glyph A missing")
	}
	var p coords.Path
	adv, err := f.glyph(gid, &p)
	if err != nil {
		t.Fatalf("glyph: %v", err)
	}
	if adv != 500 {
		t.Errorf("advance = %v, want 500", adv)
	}
	b := p.Bounds()
	if b.MinX != 100 || b.MinY != 0 || b.MaxX != 400 || b.MaxY != 700 {
		t.Errorf("bounds = %+v", b)
	}
	if _, ok := f.gidByRune('A'); !ok {
		t.Error("gidByRune(A) failed")
	}
}

func TestParseType1PFA(t *testing.T) {
	f, err := parseType1(buildType1())
	if err != nil {
		t.Fatalf("parseType1: %v", err)
	}
	checkType1(t, f)
}

func TestParseType1HexEexec(t *testing.T) {
	glyphs, order := type1Glyphs()
	enc := vm.Encrypt(type1Private(glyphs, order), vm.EexecKey, 4)
	var b bytes.Buffer
	b.WriteString(type1Clear)
	h := hex.EncodeToString(enc)
	for len(h) > 64 {
		b.WriteString(h[:64])
		b.WriteByte('\n')
		h = h[64:]
	}
	b.WriteString(h)
	b.WriteString("\n0000000000000000\ncleartomark\n")
	f, err := parseType1(b.Bytes())
	if err != nil {
		t.Fatalf("parseType1: %v", err)
	}
	checkType1(t, f)
}

func pfbSegment(kind byte, data []byte) []byte {
	out := []byte{0x80, kind}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}

func TestParseType1PFB(t *testing.T) {
	glyphs, order := type1Glyphs()
	enc := vm.Encrypt(type1Private(glyphs, order), vm.EexecKey, 4)
	var data []byte
	data = append(data, pfbSegment(1, []byte(type1Clear))...)
	data = append(data, pfbSegment(2, enc)...)
	data = append(data, pfbSegment(1, []byte("cleartomark\n"))...)
	data = append(data, 0x80, 3)
	f, err := parseType1(data)
	if err != nil {
		t.Fatalf("parseType1: %v", err)
	}
	checkType1(t, f)
}

func TestParseType1Errors(t *testing.T) {
	if _, err := parseType1([]byte("%!PS no encrypted part")); err == nil {
		t.Error("expected error without eexec")
	}
	enc := vm.Encrypt([]byte("/CharStrings 0 dict dup begin end"), vm.EexecKey, 4)
	if _, err := parseType1(append([]byte(type1Clear), enc...)); err == nil {
		t.Error("expected error for empty CharStrings")
	}
}
