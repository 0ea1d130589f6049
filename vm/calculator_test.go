package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/redforks/nipdf/recovery"
)

func run(t *testing.T, src string, in []float64, nOut int) ([]float64, error) {
	t.Helper()
	p, err := Compile([]byte(src))
	if err != nil {
		return nil, err
	}
	return p.Exec(in, nOut)
}

func TestDoubleTheInput(t *testing.T) {
	out, err := run(t, "{ 2 mul }", []float64{3}, 1)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(out) != 1 || out[0] != 6 {
		t.Fatalf("out = %v, want [6]", out)
	}
}

func TestCalculatorPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		in   []float64
		want []float64
	}{
		{"add", "{ add }", []float64{1, 2}, []float64{3}},
		{"sub keeps order", "{ sub 2 }", []float64{1, 2}, []float64{-1, 2}},
		{"ifelse true", "{ dup 0.5 gt { pop 1 } { pop 0 } ifelse }", []float64{0.7}, []float64{1}},
		{"ifelse false", "{ dup 0.5 gt { pop 1 } { pop 0 } ifelse }", []float64{0.2}, []float64{0}},
		{"if skipped", "{ dup 0 lt { neg } if }", []float64{4}, []float64{4}},
		{"if taken", "{ dup 0 lt { neg } if }", []float64{-4}, []float64{4}},
		{"nested if", "{ dup 1 gt { dup 2 gt { pop 3 } if } if }", []float64{5}, []float64{3}},
		{"roll", "{ pop 1 2 3 3 1 roll }", []float64{0}, []float64{3, 1, 2}},
		{"negative roll", "{ pop 1 2 3 3 -1 roll }", []float64{0}, []float64{2, 3, 1}},
		{"index", "{ 10 20 2 index }", []float64{5}, []float64{5, 10, 20, 5}},
		{"copy", "{ 7 2 copy }", []float64{1}, []float64{1, 7, 1, 7}},
		{"exch", "{ exch }", []float64{1, 2}, []float64{2, 1}},
		{"idiv and mod", "{ pop 7 2 idiv 7 2 mod }", []float64{0}, []float64{3, 1}},
		{"cvi truncates", "{ cvi }", []float64{-2.7}, []float64{-2}},
		{"round half up", "{ round }", []float64{-2.5}, []float64{-2}},
		{"sin degrees", "{ sin }", []float64{90}, []float64{1}},
		{"atan quadrant", "{ atan }", []float64{-1, 0}, []float64{270}},
		{"exp", "{ exp }", []float64{2, 10}, []float64{1024}},
		{"bitshift", "{ pop 1 4 bitshift 256 -4 bitshift }", []float64{0}, []float64{16, 16}},
		{"boolean logic", "{ 1 gt true and { 1 } { 0 } ifelse }", []float64{2}, []float64{1}},
		{"integer not", "{ pop 0 not }", []float64{0}, []float64{-1}},
		{"comments", "{ % leading\n 3 add % trailing\n }", []float64{1}, []float64{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.src, tt.in, len(tt.want))
			if err != nil {
				t.Fatalf("exec: %v", err)
			}
			for i := range tt.want {
				if math.Abs(out[i]-tt.want[i]) > 1e-9 {
					t.Fatalf("out = %v, want %v", out, tt.want)
				}
			}
		})
	}
}

func TestMalformedPrograms(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		in     []float64
		target error
	}{
		{"underflow", "{ add }", []float64{1}, recovery.ErrStackUnderflow},
		{"unknown operator", "{ 1 frobnicate }", nil, recovery.ErrUndefined},
		{"bool arithmetic", "{ true add }", []float64{1}, recovery.ErrTypeCheck},
		{"idiv of reals", "{ 2 idiv }", []float64{1.5}, recovery.ErrTypeCheck},
		{"division by zero", "{ 0 div }", []float64{1}, recovery.ErrRangeCheck},
		{"overflow", "{ 0 1 2 3 4 5 6 7 8 9 10 copy 10 copy 10 copy 10 copy 10 copy 10 copy 10 copy 10 copy 10 copy 10 copy }", []float64{0}, recovery.ErrStackOverflow},
		{"too few results", "{ pop }", []float64{1}, recovery.ErrStackUnderflow},
		{"if without condition", "{ { 1 } if }", nil, recovery.ErrStackUnderflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.src, tt.in, 1)
			if err == nil {
				t.Fatalf("out = %v, want error", out)
			}
			var ve *recovery.VMError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %T %v, want *recovery.VMError", err, err)
			}
			if !errors.Is(err, tt.target) {
				t.Fatalf("err = %v, want %v", err, tt.target)
			}
			if out != nil {
				t.Fatalf("failed program returned output %v", out)
			}
		})
	}
}

func TestCompileRejectsBadSyntax(t *testing.T) {
	for _, src := range []string{
		"",
		"2 mul",
		"{ 2 mul",
		"{ 2 mul } }",
		"{ { 1 } 2 }",
		"{ { 1 } { 2 } { 3 } ifelse }",
		"{ (str) }",
	} {
		if _, err := Compile([]byte(src)); err == nil {
			t.Errorf("Compile(%q) succeeded", src)
		}
	}
}

func TestDeepNestingRejected(t *testing.T) {
	src := make([]byte, 0, 4096)
	for i := 0; i < 1000; i++ {
		src = append(src, '{')
	}
	if _, err := Compile(src); err == nil {
		t.Fatalf("deeply nested program compiled")
	}
}

func TestExecIsDeterministic(t *testing.T) {
	p, err := Compile([]byte("{ 360 mul sin 2 exp 3 1 roll pop pop }"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	in := []float64{0.123, 4, 5}
	first, err := p.Exec(in, 1)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	for i := 0; i < 100; i++ {
		again, _ := p.Exec(in, 1)
		if math.Float64bits(again[0]) != math.Float64bits(first[0]) {
			t.Fatalf("run %d: %v != %v", i, again, first)
		}
	}
}

func FuzzCalculator(f *testing.F) {
	f.Add([]byte("{ 2 mul }"), 3.0)
	f.Add([]byte("{ dup 0 lt { neg } { 1 add } ifelse }"), -1.0)
	f.Add([]byte("{ 1 2 3 3 1 roll index copy }"), 0.0)
	f.Fuzz(func(t *testing.T, src []byte, x float64) {
		p, err := Compile(src)
		if err != nil {
			return
		}
		p.Exec([]float64{x}, 1)
	})
}
