package cmm

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestInterpCLUT3D(t *testing.T) {
	// 2x2x2 grid, first dimension slowest: output = x*10 + y*20 + z*40
	gridPoints := 2
	table := make([]float64, 8)
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			for z := 0; z < 2; z++ {
				table[x*4+y*2+z] = float64(x*10 + y*20 + z*40)
			}
		}
	}

	tests := []struct {
		in  []float64
		out float64
	}{
		{[]float64{0, 0, 0}, 0},
		{[]float64{1, 0, 0}, 10},
		{[]float64{0, 1, 0}, 20},
		{[]float64{0, 0, 1}, 40},
		{[]float64{1, 1, 1}, 70},
		{[]float64{0.5, 0, 0}, 5},
		{[]float64{0, 0.5, 0}, 10},
		{[]float64{0, 0, 0.5}, 20},
		{[]float64{0.5, 0.5, 0}, 15},
		{[]float64{0.5, 0.5, 0.5}, 35},
	}

	for _, tc := range tests {
		res := interpCLUT(tc.in, table, 1, gridPoints)
		if len(res) != 1 {
			t.Errorf("Expected 1 output, got %d", len(res))
			continue
		}
		if math.Abs(res[0]-tc.out) > 0.001 {
			t.Errorf("Input %v: expected %v, got %v", tc.in, tc.out, res[0])
		}
	}
}

func TestInterpCLUT4D(t *testing.T) {
	// 3 grid points per axis, output = sum of inputs
	g := 3
	table := make([]float64, g*g*g*g)
	for i := range table {
		idx := i
		var sum float64
		for d := 0; d < 4; d++ {
			sum += float64(idx%g) / float64(g-1)
			idx /= g
		}
		table[i] = sum
	}
	in := []float64{0.1, 0.4, 0.75, 1}
	res := interpCLUT(in, table, 1, g)
	if math.Abs(res[0]-2.25) > 1e-9 {
		t.Fatalf("4D interpolation = %v", res[0])
	}
}

// lut8 builds an mft1 tag with identity curves and the given grid.
func lut8(in, out, grid int, clut []byte) []byte {
	b := []byte("mft1\x00\x00\x00\x00")
	b = append(b, byte(in), byte(out), byte(grid), 0)
	for i := 0; i < 9; i++ {
		v := 0.0
		if i%4 == 0 {
			v = 1
		}
		b = append(b, fixed(v)...)
	}
	ident := func() {
		for i := 0; i < 256; i++ {
			b = append(b, byte(i))
		}
	}
	for i := 0; i < in; i++ {
		ident()
	}
	b = append(b, clut...)
	for i := 0; i < out; i++ {
		ident()
	}
	return b
}

func TestLUTTag(t *testing.T) {
	// one-input gray ramp to XYZ PCS: 0 -> black, 1 -> D50 white
	white := []byte{123, 127, 105} // D50 * 128, truncated
	p, err := NewICCProfile(makeProfile("prtr", "GRAY", "XYZ ", map[string][]byte{
		"A2B0": lut8(1, 3, 2, append([]byte{0, 0, 0}, white...)),
	}))
	if err != nil {
		t.Fatal(err)
	}
	lut, err := p.ReadLUTTag("A2B0")
	if err != nil {
		t.Fatalf("read lut: %v", err)
	}
	if lut.InputChannels != 1 || lut.OutputChannels != 3 || lut.Wide {
		t.Fatalf("lut = %d->%d wide=%v", lut.InputChannels, lut.OutputChannels, lut.Wide)
	}
	out, err := lut.Convert([]float64{0.5})
	if err != nil || math.Abs(out[0]-float64(white[0])/255/2) > 1e-3 {
		t.Fatalf("convert = %v, %v", out, err)
	}
	if _, err := lut.Convert([]float64{0.5, 0.5}); err == nil {
		t.Fatalf("channel mismatch accepted")
	}

	xf, err := NewSRGBTransform(p, IntentPerceptual)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	rgb, _ := xf.Convert([]float64{1})
	for _, v := range rgb {
		if v < 0.95 {
			t.Fatalf("white = %v", rgb)
		}
	}
	rgb, _ = xf.Convert([]float64{0})
	for _, v := range rgb {
		if v > 0.01 {
			t.Fatalf("black = %v", rgb)
		}
	}
}

func TestLUTTagTruncated(t *testing.T) {
	tag := lut8(3, 3, 2, make([]byte, 24))
	p, _ := NewICCProfile(makeProfile("prtr", "RGB ", "Lab ", map[string][]byte{
		"A2B0": tag[:len(tag)-10],
		"A2B1": []byte("mft2\x00\x00\x00\x00\x03\x03\x02\x00"),
		"A2B2": binary.BigEndian.AppendUint32([]byte("mAB "), 0),
	}))
	for _, sig := range []string{"A2B0", "A2B1", "A2B2", "B2A0"} {
		if _, err := p.ReadLUTTag(sig); err == nil {
			t.Errorf("%s: parsed", sig)
		}
	}
}
