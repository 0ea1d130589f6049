package cmm

import (
	"encoding/binary"
	"math"
	"sort"
	"testing"
)

// makeProfile assembles a profile with the given tags, in signature order.
func makeProfile(class, space, pcs string, tags map[string][]byte) []byte {
	sigs := make([]string, 0, len(tags))
	for s := range tags {
		sigs = append(sigs, s)
	}
	sort.Strings(sigs)
	data := make([]byte, iccHeaderSize+4+12*len(sigs))
	copy(data[12:16], class)
	copy(data[16:20], space)
	copy(data[20:24], pcs)
	copy(data[36:40], "acsp")
	data[8] = 2
	binary.BigEndian.PutUint32(data[iccHeaderSize:], uint32(len(sigs)))
	for i, s := range sigs {
		e := data[iccHeaderSize+4+12*i:]
		copy(e[0:4], s)
		binary.BigEndian.PutUint32(e[4:8], uint32(len(data)))
		binary.BigEndian.PutUint32(e[8:12], uint32(len(tags[s])))
		data = append(data, tags[s]...)
	}
	binary.BigEndian.PutUint32(data[0:4], uint32(len(data)))
	return data
}

func fixed(v float64) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(int32(math.Round(v*65536))))
	return b
}

func xyzTag(x, y, z float64) []byte {
	b := append([]byte("XYZ \x00\x00\x00\x00"), fixed(x)...)
	b = append(b, fixed(y)...)
	return append(b, fixed(z)...)
}

func gammaTag(g float64) []byte {
	return []byte{'c', 'u', 'r', 'v', 0, 0, 0, 0, 0, 0, 0, 1, byte(int(g*256) >> 8), byte(int(g * 256))}
}

func tableTag(vals ...uint16) []byte {
	b := []byte("curv\x00\x00\x00\x00")
	b = binary.BigEndian.AppendUint32(b, uint32(len(vals)))
	for _, v := range vals {
		b = binary.BigEndian.AppendUint16(b, v)
	}
	return b
}

func TestICCProfileParse(t *testing.T) {
	desc := append([]byte("desc\x00\x00\x00\x00\x00\x00\x00\x05"), "sRGB\x00"...)
	p, err := NewICCProfile(makeProfile("mntr", "RGB ", "XYZ ", map[string][]byte{
		"desc": desc,
		"wtpt": xyzTag(D50X, D50Y, D50Z),
	}))
	if err != nil {
		t.Fatalf("NewICCProfile failed: %v", err)
	}
	if p.Class() != "mntr" {
		t.Errorf("expected class 'mntr', got '%s'", p.Class())
	}
	if p.ColorSpace() != "RGB " || p.PCS() != "XYZ " || p.Version() != 2 {
		t.Errorf("header = %q %q v%d", p.ColorSpace(), p.PCS(), p.Version())
	}
	if p.Name() != "sRGB" {
		t.Errorf("name = %q", p.Name())
	}
	w, err := p.ReadXYZTag("wtpt")
	if err != nil || math.Abs(w[2]-D50Z) > 1e-4 {
		t.Errorf("wtpt = %v, %v", w, err)
	}
	if _, err := p.ReadXYZTag("rXYZ"); err == nil {
		t.Errorf("missing tag read")
	}
}

func TestICCProfileRejects(t *testing.T) {
	good := makeProfile("mntr", "RGB ", "XYZ ", nil)
	noSig := append([]byte(nil), good...)
	copy(noSig[36:40], "xxxx")
	manyTags := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(manyTags[iccHeaderSize:], 1000)
	for name, data := range map[string][]byte{
		"short":     good[:100],
		"signature": noSig,
		"tag count": manyTags,
	} {
		if _, err := NewICCProfile(data); err == nil {
			t.Errorf("%s: parsed", name)
		}
	}
}

func TestCurves(t *testing.T) {
	p, err := NewICCProfile(makeProfile("mntr", "GRAY", "XYZ ", map[string][]byte{
		"idnt": []byte("curv\x00\x00\x00\x00\x00\x00\x00\x00"),
		"gama": gammaTag(2),
		"tabl": tableTag(0, 0x4000, 0xffff),
		"para": append([]byte("para\x00\x00\x00\x00\x00\x00\x00\x00"), fixed(2)...),
	}))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		tag     string
		in, out float64
	}{
		{"idnt", 0.3, 0.3},
		{"gama", 0.5, 0.25},
		{"tabl", 0.5, float64(0x4000) / 65535},
		{"tabl", 0.75, (float64(0x4000)/65535 + 1) / 2},
		{"para", 0.5, 0.25},
		{"gama", 2, 1},
	}
	for _, tt := range tests {
		c, err := p.ReadCurveTag(tt.tag)
		if err != nil {
			t.Fatalf("%s: %v", tt.tag, err)
		}
		if got := c.Eval(tt.in); math.Abs(got-tt.out) > 1e-6 {
			t.Errorf("%s(%g) = %g, want %g", tt.tag, tt.in, got, tt.out)
		}
	}
}
