package cmm

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redforks/nipdf/function"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/recovery"
)

type memSource struct {
	objs    map[int]raw.Object
	decodes atomic.Int32
}

func (m *memSource) Resolve(_ context.Context, obj raw.Object) (raw.Object, error) {
	if r, ok := obj.(raw.RefObj); ok {
		o, ok := m.objs[r.R.Num]
		if !ok {
			return nil, &recovery.BrokenReference{Num: r.R.Num, Reason: "missing"}
		}
		return o, nil
	}
	return obj, nil
}

func (m *memSource) DecodeStream(_ context.Context, s *raw.StreamObj) ([]byte, error) {
	m.decodes.Add(1)
	return s.Data, nil
}

func parseObj(t *testing.T, src string) raw.Object {
	t.Helper()
	obj, err := raw.ParseBytes([]byte(src))
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return obj
}

func mustSpace(t *testing.T, src raw.Source, obj raw.Object) ColorSpace {
	t.Helper()
	cs, err := Parse(context.Background(), src, obj)
	if err != nil {
		t.Fatalf("parse color space: %v", err)
	}
	return cs
}

func nearRGB(t *testing.T, cs ColorSpace, in []float64, want [3]float64) {
	t.Helper()
	r, g, b := cs.ToRGB(in)
	got := [3]float64{r, g, b}
	for i := range got {
		if math.Abs(got[i]-want[i]) > 2e-3 {
			t.Fatalf("%s%v = %v, want %v", cs.Family(), in, got, want)
		}
	}
}

func TestDeviceSpaces(t *testing.T) {
	src := &memSource{}
	gray := mustSpace(t, src, raw.NameLiteral("G"))
	nearRGB(t, gray, []float64{0.5}, [3]float64{0.5, 0.5, 0.5})
	nearRGB(t, gray, []float64{7}, [3]float64{1, 1, 1})

	rgb := mustSpace(t, src, parseObj(t, "[/CalRGB << /WhitePoint [0.95 1 1.09] >>]"))
	if rgb.Family() != "DeviceRGB" {
		t.Fatalf("CalRGB parsed as %s", rgb.Family())
	}
	nearRGB(t, rgb, []float64{0.2, 0.4}, [3]float64{0.2, 0.4, 0})

	cmyk := mustSpace(t, src, raw.NameLiteral("DeviceCMYK"))
	nearRGB(t, cmyk, []float64{0, 0, 0, 0}, [3]float64{1, 1, 1})
	nearRGB(t, cmyk, cmyk.InitialColor(), [3]float64{0.1373, 0.1216, 0.1255})
	nearRGB(t, cmyk, []float64{0, 0, 1, 0}, [3]float64{1, 0.9490, 0})

	if c := NRGBA(rgb, []float64{1, 0.5, 0}, 1); c.R != 255 || c.G != 128 || c.B != 0 || c.A != 255 {
		t.Fatalf("NRGBA = %+v", c)
	}
}

func TestLab(t *testing.T) {
	lab := mustSpace(t, &memSource{}, parseObj(t, "[/Lab << /WhitePoint [0.9505 1 1.089] /Range [-50 50 -50 50] >>]"))
	nearRGB(t, lab, []float64{100, 0, 0}, [3]float64{1, 1, 1})
	nearRGB(t, lab, []float64{0, 0, 0}, [3]float64{0, 0, 0})
	if d := lab.DefaultDecode(8); len(d) != 6 || d[1] != 100 || d[2] != -50 {
		t.Fatalf("decode = %v", d)
	}
	r, g, b := lab.ToRGB([]float64{50, 50, 0})
	if r <= g || r <= b {
		t.Fatalf("positive a* is not red: %v %v %v", r, g, b)
	}
}

func TestIndexed(t *testing.T) {
	src := &memSource{objs: map[int]raw.Object{
		9: raw.NewStream(raw.Dict(), []byte{0, 0, 255, 255, 255, 255}),
	}}
	idx := mustSpace(t, src, parseObj(t, "[/Indexed /DeviceRGB 1 <ff000000ff00>]"))
	nearRGB(t, idx, []float64{0}, [3]float64{1, 0, 0})
	nearRGB(t, idx, []float64{1}, [3]float64{0, 1, 0})
	nearRGB(t, idx, []float64{5}, [3]float64{0, 1, 0})
	if d := idx.DefaultDecode(4); d[1] != 15 {
		t.Fatalf("decode = %v", d)
	}

	streamed := mustSpace(t, src, parseObj(t, "[/I /RGB 1 9 0 R]"))
	nearRGB(t, streamed, []float64{0}, [3]float64{0, 0, 1})
	nearRGB(t, streamed, []float64{1}, [3]float64{1, 1, 1})

	short := mustSpace(t, src, parseObj(t, "[/Indexed /DeviceGray 3 <80>]"))
	nearRGB(t, short, []float64{3}, [3]float64{0, 0, 0})
}

func TestSeparationAndDeviceN(t *testing.T) {
	src := &memSource{}
	sep := mustSpace(t, src, parseObj(t, `[/Separation /Spot /DeviceCMYK
		<< /FunctionType 2 /Domain [0 1] /C0 [0 0 0 0] /C1 [0 0 0 1] /N 1 >>]`))
	nearRGB(t, sep, []float64{0}, [3]float64{1, 1, 1})
	nearRGB(t, sep, sep.InitialColor(), [3]float64{0.1373, 0.1216, 0.1255})

	all := mustSpace(t, src, parseObj(t, `[/Separation /All /DeviceGray
		<< /FunctionType 2 /Domain [0 1] /C0 [1] /C1 [0] /N 1 >>]`))
	nearRGB(t, all, []float64{0.25}, [3]float64{0.75, 0.75, 0.75})

	none := mustSpace(t, src, parseObj(t, `[/Separation /None /DeviceGray
		<< /FunctionType 2 /Domain [0 1] /N 1 >>]`))
	if !IsNone(none) || IsNone(all) {
		t.Fatalf("IsNone wrong")
	}
}

func TestDeviceNTintProgram(t *testing.T) {
	src := &memSource{objs: map[int]raw.Object{
		4: raw.NewStream(parseObj(t, "<< /FunctionType 4 /Domain [0 1 0 1] /Range [0 1 0 1 0 1 0 1] >>").(*raw.DictObj),
			[]byte("{ 0 0 }")),
	}}
	dn := mustSpace(t, src, parseObj(t, "[/DeviceN [/Cyan /Magenta] /DeviceCMYK 4 0 R]"))
	nearRGB(t, dn, []float64{0, 0}, [3]float64{1, 1, 1})
	r, g, b := dn.ToRGB([]float64{1, 0})
	if r > 0.1 || g < 0.6 || b < 0.9 {
		t.Fatalf("cyan = %v %v %v", r, g, b)
	}
}

func TestFailingTintUsesAlternateInitialColor(t *testing.T) {
	src := &memSource{objs: map[int]raw.Object{
		4: raw.NewStream(parseObj(t, "<< /FunctionType 4 /Domain [0 1] /Range [0 1] >>").(*raw.DictObj),
			[]byte("{ pop pop }")),
	}}
	sep := mustSpace(t, src, parseObj(t, "[/Separation /Spot /DeviceGray 4 0 R]"))
	nearRGB(t, sep, []float64{1}, [3]float64{0, 0, 0})
}

func srgbProfile() []byte {
	return makeProfile("mntr", "RGB ", "XYZ ", map[string][]byte{
		"rXYZ": xyzTag(srgbToXYZ[0], srgbToXYZ[3], srgbToXYZ[6]),
		"gXYZ": xyzTag(srgbToXYZ[1], srgbToXYZ[4], srgbToXYZ[7]),
		"bXYZ": xyzTag(srgbToXYZ[2], srgbToXYZ[5], srgbToXYZ[8]),
		"rTRC": gammaTag(1),
		"gTRC": gammaTag(1),
		"bTRC": gammaTag(1),
	})
}

func TestICCBasedMatrixTRC(t *testing.T) {
	src := &memSource{objs: map[int]raw.Object{
		7: raw.NewStream(parseObj(t, "<< /N 3 >>").(*raw.DictObj), srgbProfile()),
	}}
	cs := mustSpace(t, src, parseObj(t, "[/ICCBased 7 0 R]"))
	icc, ok := cs.(*ICCBased)
	if !ok || icc.xf == nil {
		t.Fatalf("profile transform not built: %#v", cs)
	}
	// linear input through a gamma 1 profile comes out sRGB-encoded
	nearRGB(t, cs, []float64{0.2, 0.2, 0.2}, [3]float64{0.4845, 0.4845, 0.4845})
	nearRGB(t, cs, []float64{1, 0, 0}, [3]float64{1, 0, 0})
	// memoized second lookup agrees
	nearRGB(t, cs, []float64{0.2, 0.2, 0.2}, [3]float64{0.4845, 0.4845, 0.4845})
}

func TestICCBasedFallsBackToAlternate(t *testing.T) {
	src := &memSource{objs: map[int]raw.Object{
		7: raw.NewStream(parseObj(t, "<< /N 4 >>").(*raw.DictObj), []byte("not a profile")),
		8: raw.NewStream(parseObj(t, "<< /N 1 /Alternate /DeviceGray >>").(*raw.DictObj), nil),
		9: raw.NewStream(parseObj(t, "<< /N 2 >>").(*raw.DictObj), nil),
	}}
	cmyk := mustSpace(t, src, parseObj(t, "[/ICCBased 7 0 R]"))
	if cmyk.NumComponents() != 4 {
		t.Fatalf("components = %d", cmyk.NumComponents())
	}
	nearRGB(t, cmyk, []float64{0, 0, 0, 0}, [3]float64{1, 1, 1})
	gray := mustSpace(t, src, parseObj(t, "[/ICCBased 8 0 R]"))
	nearRGB(t, gray, []float64{0.25}, [3]float64{0.25, 0.25, 0.25})
	if _, err := Parse(context.Background(), src, parseObj(t, "[/ICCBased 9 0 R]")); !errors.Is(err, ErrUnknownColorSpace) {
		t.Fatalf("N 2 without alternate: %v", err)
	}
}

func TestPatternSpace(t *testing.T) {
	src := &memSource{}
	p := mustSpace(t, src, raw.NameLiteral("Pattern"))
	if p.NumComponents() != 0 || p.InitialColor() != nil {
		t.Fatalf("colored pattern space = %#v", p)
	}
	under := mustSpace(t, src, parseObj(t, "[/Pattern /DeviceRGB]"))
	if under.NumComponents() != 3 {
		t.Fatalf("uncolored pattern components = %d", under.NumComponents())
	}
	nearRGB(t, under, []float64{0, 0, 1}, [3]float64{0, 0, 1})
}

func TestParseRejects(t *testing.T) {
	src := &memSource{objs: map[int]raw.Object{}}
	src.objs[3] = parseObj(t, "[/Indexed 3 0 R 1 <00>]")
	for name, obj := range map[string]raw.Object{
		"unknown name":      raw.NameLiteral("DeviceHSV"),
		"unknown family":    parseObj(t, "[/Foo]"),
		"empty array":       parseObj(t, "[]"),
		"number":            raw.NumberInt(1),
		"indexed pattern":   parseObj(t, "[/Indexed /Pattern 1 <00>]"),
		"indexed bad hival": parseObj(t, "[/Indexed /DeviceGray -1 <00>]"),
		"indexed lookup":    parseObj(t, "[/Indexed /DeviceGray 1 5]"),
		"self nesting":      raw.Ref(3, 0),
		"separation alt":    parseObj(t, "[/Separation /A [/Indexed /DeviceGray 1 <00>] << /FunctionType 2 /Domain [0 1] /N 1 >>]"),
		"separation fn":     parseObj(t, "[/Separation /A /DeviceGray 5]"),
		"devicen empty":     parseObj(t, "[/DeviceN [] /DeviceGray << /FunctionType 2 /Domain [0 1] /N 1 >>]"),
	} {
		if _, err := Parse(context.Background(), src, obj); err == nil {
			t.Errorf("%s: parsed", name)
		}
	}
}

func TestCacheSharesProfiles(t *testing.T) {
	src := &memSource{objs: map[int]raw.Object{
		7:  raw.NewStream(parseObj(t, "<< /N 3 >>").(*raw.DictObj), srgbProfile()),
		10: parseObj(t, "[/ICCBased 7 0 R]"),
	}}
	c := &Cache{Functions: &function.Cache{}}
	var wg sync.WaitGroup
	got := make([]ColorSpace, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// direct arrays still share the profile stream by reference
			cs, err := c.Get(context.Background(), src, parseObj(t, "[/ICCBased 7 0 R]"))
			if err != nil {
				t.Errorf("get: %v", err)
			}
			got[i] = cs
		}(i)
	}
	wg.Wait()
	for _, cs := range got[1:] {
		if cs != got[0] {
			t.Fatalf("ICC profile parsed more than once")
		}
	}
	a, _ := c.Get(context.Background(), src, raw.Ref(10, 0))
	b, _ := c.Get(context.Background(), src, raw.Ref(10, 0))
	if a != b || a != got[0] {
		t.Fatalf("indirect color space not shared")
	}
}

func TestParseIntent(t *testing.T) {
	if ParseIntent("Perceptual") != IntentPerceptual || ParseIntent("bogus") != IntentRelativeColorimetric {
		t.Fatalf("ParseIntent wrong")
	}
	if IntentSaturation.tag() != "A2B2" || IntentPerceptual.tag() != "A2B0" {
		t.Fatalf("intent tags wrong")
	}
}
