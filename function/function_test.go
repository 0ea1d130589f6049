package function

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/recovery"
)

// memSource resolves references from a map and returns stream data as is.
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

func stream(t *testing.T, dict string, data []byte) *raw.StreamObj {
	t.Helper()
	return raw.NewStream(parseObj(t, dict).(*raw.DictObj), data)
}

func near(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-6 {
			return false
		}
	}
	return true
}

func TestCalculatorDoublesInput(t *testing.T) {
	src := &memSource{}
	s := stream(t, "<< /FunctionType 4 /Domain [0 10] /Range [0 100] >>", []byte("{ 2 mul }"))
	f, err := Parse(context.Background(), src, s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := f.Eval([]float64{3})
	if err != nil || !near(out, []float64{6}) {
		t.Fatalf("eval = %v, %v", out, err)
	}
	// inputs clamp to the domain, outputs to the range
	if out, _ := f.Eval([]float64{-4}); !near(out, []float64{0}) {
		t.Fatalf("clamped input = %v", out)
	}
}

func TestMalformedCalculatorYieldsNoOutput(t *testing.T) {
	f, err := NewCalculator([]byte("{ pop pop }"), []float64{0, 1}, []float64{0, 1})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := f.Eval([]float64{0.5})
	var ve *recovery.VMError
	if !errors.As(err, &ve) || out != nil {
		t.Fatalf("eval = %v, %v", out, err)
	}
}

func TestExponential(t *testing.T) {
	src := &memSource{}
	f, err := Parse(context.Background(), src, parseObj(t, "<< /FunctionType 2 /Domain [0 1] /C0 [1 0 0] /C1 [0 0 1] /N 2 >>"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Inputs() != 1 || f.Outputs() != 3 {
		t.Fatalf("signature %d -> %d", f.Inputs(), f.Outputs())
	}
	out, _ := f.Eval([]float64{0.5})
	if !near(out, []float64{0.75, 0, 0.25}) {
		t.Fatalf("eval = %v", out)
	}
	defaults, err := Parse(context.Background(), src, parseObj(t, "<< /FunctionType 2 /Domain [0 1] /N 1 >>"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out, _ := defaults.Eval([]float64{0.3}); !near(out, []float64{0.3}) {
		t.Fatalf("default C0/C1 = %v", out)
	}
}

func TestStitching(t *testing.T) {
	src := &memSource{}
	f, err := Parse(context.Background(), src, parseObj(t, `<< /FunctionType 3 /Domain [0 1] /Bounds [0.5]
		/Encode [0 1 1 0]
		/Functions [
			<< /FunctionType 2 /Domain [0 1] /C0 [0] /C1 [10] /N 1 >>
			<< /FunctionType 2 /Domain [0 1] /C0 [20] /C1 [30] /N 1 >>
		] >>`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tests := []struct{ in, want float64 }{
		{0, 0},
		{0.25, 5},
		{0.5, 30}, // second function, encoded to 1
		{0.75, 25},
		{1, 20},
		{2, 20}, // clamped to the domain
	}
	for _, tt := range tests {
		out, err := f.Eval([]float64{tt.in})
		if err != nil || !near(out, []float64{tt.want}) {
			t.Errorf("f(%g) = %v, %v; want %g", tt.in, out, err, tt.want)
		}
	}
}

func TestSampledOneInput(t *testing.T) {
	src := &memSource{}
	s := stream(t, "<< /FunctionType 0 /Domain [0 1] /Range [0 1 0 1] /Size [3] /BitsPerSample 8 >>",
		[]byte{0, 255, 255, 0, 0, 255})
	f, err := Parse(context.Background(), src, s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tests := []struct {
		in   float64
		want []float64
	}{
		{0, []float64{0, 1}},
		{0.5, []float64{1, 0}},
		{0.25, []float64{0.5, 0.5}},
		{1, []float64{0, 1}},
	}
	for _, tt := range tests {
		if out, err := f.Eval([]float64{tt.in}); err != nil || !near(out, tt.want) {
			t.Errorf("f(%g) = %v, %v; want %v", tt.in, out, err, tt.want)
		}
	}
}

func TestSampledTwoInputsBilinear(t *testing.T) {
	src := &memSource{}
	// 2x2 grid, 4 bits per sample: corners 0, 15 / 15, 0
	s := stream(t, "<< /FunctionType 0 /Domain [0 1 0 1] /Range [0 1] /Size [2 2] /BitsPerSample 4 >>",
		[]byte{0x0f, 0xf0})
	f, err := Parse(context.Background(), src, s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, tt := range []struct {
		x, y, want float64
	}{
		{0, 0, 0}, {1, 0, 1}, {0, 1, 1}, {1, 1, 0}, {0.5, 0.5, 0.5}, {0.5, 0, 0.5},
	} {
		if out, _ := f.Eval([]float64{tt.x, tt.y}); !near(out, []float64{tt.want}) {
			t.Errorf("f(%g,%g) = %v, want %g", tt.x, tt.y, out, tt.want)
		}
	}
}

func TestSampledSixteenAndTwelveBits(t *testing.T) {
	src := &memSource{}
	s16 := stream(t, "<< /FunctionType 0 /Domain [0 1] /Range [0 1] /Size [2] /BitsPerSample 16 >>",
		[]byte{0, 0, 0xff, 0xff})
	f, err := Parse(context.Background(), src, s16)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out, _ := f.Eval([]float64{1}); !near(out, []float64{1}) {
		t.Fatalf("16-bit = %v", out)
	}
	s12 := stream(t, "<< /FunctionType 0 /Domain [0 1] /Range [0 4095] /Size [2] /BitsPerSample 12 >>",
		[]byte{0x12, 0x34, 0x56})
	f, err = Parse(context.Background(), src, s12)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out, _ := f.Eval([]float64{0}); !near(out, []float64{0x123}) {
		t.Fatalf("12-bit first = %v", out)
	}
	if out, _ := f.Eval([]float64{1}); !near(out, []float64{0x456}) {
		t.Fatalf("12-bit second = %v", out)
	}
}

func TestArrayOfFunctions(t *testing.T) {
	src := &memSource{}
	f, err := Parse(context.Background(), src, parseObj(t, `[
		<< /FunctionType 2 /Domain [0 1] /C0 [0] /C1 [1] /N 1 >>
		<< /FunctionType 2 /Domain [0 1] /C0 [1] /C1 [0] /N 1 >>
	]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out, _ := f.Eval([]float64{0.25}); !near(out, []float64{0.25, 0.75}) {
		t.Fatalf("eval = %v", out)
	}
}

func TestParseRejects(t *testing.T) {
	src := &memSource{}
	for name, obj := range map[string]raw.Object{
		"no type":         parseObj(t, "<< /Domain [0 1] >>"),
		"unknown type":    parseObj(t, "<< /FunctionType 9 /Domain [0 1] >>"),
		"odd domain":      parseObj(t, "<< /FunctionType 2 /Domain [0] /N 1 >>"),
		"mismatched C":    parseObj(t, "<< /FunctionType 2 /Domain [0 1] /C0 [0 0] /C1 [1] /N 1 >>"),
		"bad bounds":      parseObj(t, "<< /FunctionType 3 /Domain [0 1] /Functions [<< /FunctionType 2 /Domain [0 1] /N 1 >>] /Bounds [0.5] /Encode [0 1] >>"),
		"sampled as dict": parseObj(t, "<< /FunctionType 0 /Domain [0 1] /Range [0 1] /Size [2] /BitsPerSample 8 >>"),
		"short samples":   stream(t, "<< /FunctionType 0 /Domain [0 1] /Range [0 1] /Size [4] /BitsPerSample 8 >>", []byte{1}),
		"bad program":     stream(t, "<< /FunctionType 4 /Domain [0 1] /Range [0 1] >>", []byte("{ 1 add")),
		"not a function":  raw.NumberInt(3),
	} {
		if _, err := Parse(context.Background(), src, obj); err == nil {
			t.Errorf("%s: parsed", name)
		}
	}
}

func TestSelfNestedStitchingTerminates(t *testing.T) {
	src := &memSource{objs: map[int]raw.Object{}}
	src.objs[7] = parseObj(t, "<< /FunctionType 3 /Domain [0 1] /Functions [7 0 R] /Bounds [] /Encode [0 1] >>")
	if _, err := Parse(context.Background(), src, raw.Ref(7, 0)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v", err)
	}
}

func TestCacheParsesOnce(t *testing.T) {
	src := &memSource{objs: map[int]raw.Object{
		5: stream(t, "<< /FunctionType 4 /Domain [0 1] /Range [0 1] >>", []byte("{ 1 exch sub }")),
	}}
	var c Cache
	var wg sync.WaitGroup
	fs := make([]Function, 16)
	for i := range fs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := c.Get(context.Background(), src, raw.Ref(5, 0))
			if err != nil {
				t.Errorf("get: %v", err)
			}
			fs[i] = f
		}(i)
	}
	wg.Wait()
	for _, f := range fs[1:] {
		if f != fs[0] {
			t.Fatalf("cache returned different functions")
		}
	}
	if out, _ := fs[0].Eval([]float64{0.25}); !near(out, []float64{0.75}) {
		t.Fatalf("eval = %v", out)
	}
	before := src.decodes.Load()
	if _, err := c.Get(context.Background(), src, raw.Ref(5, 0)); err != nil {
		t.Fatalf("get: %v", err)
	}
	if src.decodes.Load() != before {
		t.Fatalf("cached lookup decoded the stream again")
	}
}
