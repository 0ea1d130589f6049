// Package function evaluates PDF functions: sampled (type 0), exponential
// (type 2), stitching (type 3) and PostScript calculator (type 4)
// programs, plus arrays of single-output functions acting as one.
package function

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/vm"
)

// ErrMalformed reports a function dictionary that cannot be evaluated.
var ErrMalformed = errors.New("malformed function")

// maxNesting bounds stitching functions nested inside each other.
const maxNesting = 8

// Function maps Inputs() numbers to Outputs() numbers. Implementations
// are immutable and safe for concurrent use. Eval returns a nil slice and
// an error when the function cannot produce a result; callers substitute
// their own default.
type Function interface {
	Inputs() int
	Outputs() int
	Eval(in []float64) ([]float64, error)
}

// signature carries Domain and Range, shared by every function type.
type signature struct {
	domain []float64
	rng    []float64
}

func (s signature) Inputs() int { return len(s.domain) / 2 }

func (s signature) clipIn(in []float64) ([]float64, error) {
	n := s.Inputs()
	if len(in) < n {
		return nil, fmt.Errorf("%w: %d inputs, want %d", ErrMalformed, len(in), n)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = clamp(in[i], s.domain[2*i], s.domain[2*i+1])
	}
	return out, nil
}

func (s signature) clipOut(out []float64) []float64 {
	for i := range out {
		if 2*i+1 < len(s.rng) {
			out[i] = clamp(out[i], s.rng[2*i], s.rng[2*i+1])
		}
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}

// interpolate maps x from [xmin,xmax] onto [ymin,ymax].
func interpolate(x, xmin, xmax, ymin, ymax float64) float64 {
	if xmax == xmin {
		return ymin
	}
	return ymin + (x-xmin)*(ymax-ymin)/(xmax-xmin)
}

// Parse builds the function described by obj: a dictionary, a stream or
// an array of single-output functions.
func Parse(ctx context.Context, src raw.Source, obj raw.Object) (Function, error) {
	return parse(ctx, src, obj, 0)
}

func parse(ctx context.Context, src raw.Source, obj raw.Object, depth int) (Function, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("%w: nested too deeply", ErrMalformed)
	}
	if arr, ok := raw.ArrayOf(ctx, src, obj); ok {
		return parseArray(ctx, src, arr, depth)
	}
	resolved := raw.Deref(ctx, src, obj)
	dict, ok := raw.DictOf(ctx, src, resolved)
	if !ok {
		return nil, fmt.Errorf("%w: not a dictionary", ErrMalformed)
	}
	typ, ok := dict.Int("FunctionType")
	if !ok {
		return nil, fmt.Errorf("%w: missing /FunctionType", ErrMalformed)
	}
	domain, ok := raw.Floats(ctx, src, dict.Lookup(ctx, src, "Domain"))
	if !ok || len(domain) < 2 || len(domain)%2 != 0 {
		return nil, fmt.Errorf("%w: bad /Domain", ErrMalformed)
	}
	sig := signature{domain: domain}
	if rng, ok := raw.Floats(ctx, src, dict.Lookup(ctx, src, "Range")); ok && len(rng)%2 == 0 {
		sig.rng = rng
	}
	switch typ {
	case 0:
		s, ok := resolved.(*raw.StreamObj)
		if !ok {
			return nil, fmt.Errorf("%w: sampled function is not a stream", ErrMalformed)
		}
		return parseSampled(ctx, src, s, sig)
	case 2:
		return parseExponential(ctx, src, dict, sig)
	case 3:
		return parseStitching(ctx, src, dict, sig, depth)
	case 4:
		s, ok := resolved.(*raw.StreamObj)
		if !ok {
			return nil, fmt.Errorf("%w: calculator function is not a stream", ErrMalformed)
		}
		return parseCalculator(ctx, src, s, sig)
	}
	return nil, fmt.Errorf("%w: unknown /FunctionType %d", ErrMalformed, typ)
}

// Multi evaluates several single-output functions on the same input.
type Multi []Function

func (m Multi) Inputs() int  { return m[0].Inputs() }
func (m Multi) Outputs() int { return len(m) }

func (m Multi) Eval(in []float64) ([]float64, error) {
	out := make([]float64, 0, len(m))
	for _, f := range m {
		r, err := f.Eval(in)
		if err != nil {
			return nil, err
		}
		out = append(out, r[0])
	}
	return out, nil
}

func parseArray(ctx context.Context, src raw.Source, arr *raw.ArrayObj, depth int) (Function, error) {
	if arr.Len() == 0 {
		return nil, fmt.Errorf("%w: empty function array", ErrMalformed)
	}
	m := make(Multi, 0, arr.Len())
	for _, it := range arr.Items {
		f, err := parse(ctx, src, it, depth+1)
		if err != nil {
			return nil, err
		}
		if f.Outputs() != 1 {
			return nil, fmt.Errorf("%w: array member has %d outputs", ErrMalformed, f.Outputs())
		}
		m = append(m, f)
	}
	if len(m) == 1 {
		return m[0], nil
	}
	return m, nil
}

// Exponential is a type 2 function: C0 + x^N * (C1 - C0).
type Exponential struct {
	signature
	C0, C1 []float64
	N      float64
}

func parseExponential(ctx context.Context, src raw.Source, d *raw.DictObj, sig signature) (*Exponential, error) {
	if sig.Inputs() != 1 {
		return nil, fmt.Errorf("%w: exponential function takes one input", ErrMalformed)
	}
	f := &Exponential{signature: sig, C0: []float64{0}, C1: []float64{1}}
	if c0, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "C0")); ok {
		f.C0 = c0
	}
	if c1, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "C1")); ok {
		f.C1 = c1
	}
	if len(f.C0) != len(f.C1) {
		return nil, fmt.Errorf("%w: /C0 and /C1 differ in length", ErrMalformed)
	}
	n, ok := raw.NumberOf(ctx, src, d.Lookup(ctx, src, "N"))
	if !ok {
		return nil, fmt.Errorf("%w: missing /N", ErrMalformed)
	}
	f.N = n
	return f, nil
}

func (f *Exponential) Outputs() int { return len(f.C0) }

func (f *Exponential) Eval(in []float64) ([]float64, error) {
	x, err := f.clipIn(in)
	if err != nil {
		return nil, err
	}
	p := math.Pow(x[0], f.N)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return nil, fmt.Errorf("%w: %g^%g undefined", ErrMalformed, x[0], f.N)
	}
	out := make([]float64, len(f.C0))
	for i := range out {
		out[i] = f.C0[i] + p*(f.C1[i]-f.C0[i])
	}
	return f.clipOut(out), nil
}

// Stitching is a type 3 function: one of several subfunctions chosen by
// Bounds, with its input remapped through Encode.
type Stitching struct {
	signature
	Functions []Function
	Bounds    []float64
	Encode    []float64
}

func parseStitching(ctx context.Context, src raw.Source, d *raw.DictObj, sig signature, depth int) (*Stitching, error) {
	if sig.Inputs() != 1 {
		return nil, fmt.Errorf("%w: stitching function takes one input", ErrMalformed)
	}
	arr, ok := raw.ArrayOf(ctx, src, d.Lookup(ctx, src, "Functions"))
	if !ok || arr.Len() == 0 {
		return nil, fmt.Errorf("%w: missing /Functions", ErrMalformed)
	}
	f := &Stitching{signature: sig}
	for _, it := range arr.Items {
		sub, err := parse(ctx, src, it, depth+1)
		if err != nil {
			return nil, err
		}
		f.Functions = append(f.Functions, sub)
	}
	k := len(f.Functions)
	f.Bounds, _ = raw.Floats(ctx, src, d.Lookup(ctx, src, "Bounds"))
	f.Encode, _ = raw.Floats(ctx, src, d.Lookup(ctx, src, "Encode"))
	if len(f.Bounds) != k-1 || len(f.Encode) != 2*k {
		return nil, fmt.Errorf("%w: /Bounds or /Encode length does not match %d functions", ErrMalformed, k)
	}
	for _, sub := range f.Functions[1:] {
		if sub.Outputs() != f.Functions[0].Outputs() {
			return nil, fmt.Errorf("%w: subfunctions differ in outputs", ErrMalformed)
		}
	}
	return f, nil
}

func (f *Stitching) Outputs() int { return f.Functions[0].Outputs() }

func (f *Stitching) Eval(in []float64) ([]float64, error) {
	x, err := f.clipIn(in)
	if err != nil {
		return nil, err
	}
	i := 0
	for i < len(f.Bounds) && x[0] >= f.Bounds[i] {
		i++
	}
	lo, hi := f.domain[0], f.domain[1]
	if i > 0 {
		lo = f.Bounds[i-1]
	}
	if i < len(f.Bounds) {
		hi = f.Bounds[i]
	}
	t := interpolate(x[0], lo, hi, f.Encode[2*i], f.Encode[2*i+1])
	out, err := f.Functions[i].Eval([]float64{t})
	if err != nil {
		return nil, err
	}
	return f.clipOut(out), nil
}

// Calculator is a type 4 function running a compiled PostScript program.
type Calculator struct {
	signature
	prog *vm.Program
}

func parseCalculator(ctx context.Context, src raw.Source, s *raw.StreamObj, sig signature) (*Calculator, error) {
	if len(sig.rng) == 0 {
		return nil, fmt.Errorf("%w: calculator function without /Range", ErrMalformed)
	}
	body, err := src.DecodeStream(ctx, s)
	if err != nil {
		return nil, err
	}
	prog, err := vm.Compile(body)
	if err != nil {
		return nil, err
	}
	return &Calculator{signature: sig, prog: prog}, nil
}

// NewCalculator compiles a calculator program with the given domain and
// range.
func NewCalculator(src []byte, domain, rng []float64) (*Calculator, error) {
	prog, err := vm.Compile(src)
	if err != nil {
		return nil, err
	}
	return &Calculator{signature: signature{domain: domain, rng: rng}, prog: prog}, nil
}

func (f *Calculator) Outputs() int { return len(f.rng) / 2 }

func (f *Calculator) Eval(in []float64) ([]float64, error) {
	x, err := f.clipIn(in)
	if err != nil {
		return nil, err
	}
	out, err := f.prog.Exec(x, f.Outputs())
	if err != nil {
		return nil, err
	}
	return f.clipOut(out), nil
}

// Cache shares parsed functions between concurrent users. Indirect
// functions are parsed once per reference; the first stored result wins.
type Cache struct {
	m sync.Map // raw.ObjectRef -> cacheEntry
}

type cacheEntry struct {
	f   Function
	err error
}

// Get parses obj, consulting the cache when obj is an indirect reference.
func (c *Cache) Get(ctx context.Context, src raw.Source, obj raw.Object) (Function, error) {
	ref, ok := obj.(raw.RefObj)
	if !ok || c == nil {
		return Parse(ctx, src, obj)
	}
	if e, ok := c.m.Load(ref.R); ok {
		ce := e.(cacheEntry)
		return ce.f, ce.err
	}
	f, err := Parse(ctx, src, obj)
	if ctx.Err() != nil {
		return f, err
	}
	e, _ := c.m.LoadOrStore(ref.R, cacheEntry{f: f, err: err})
	ce := e.(cacheEntry)
	return ce.f, ce.err
}
