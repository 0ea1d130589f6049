package function

import (
	"context"
	"fmt"
	"math"

	"github.com/redforks/nipdf/ir/raw"
)

// maxSampledInputs bounds the dimensionality of a sample table; each
// evaluation touches 2^m corners.
const maxSampledInputs = 8

// Sampled is a type 0 function: a table of samples over an m-dimensional
// grid, interpolated linearly between grid points.
type Sampled struct {
	signature
	size    []int
	bps     int
	encode  []float64
	decode  []float64
	samples []byte
	nOut    int
}

func parseSampled(ctx context.Context, src raw.Source, s *raw.StreamObj, sig signature) (*Sampled, error) {
	d := s.Dict
	m := sig.Inputs()
	if m > maxSampledInputs {
		return nil, fmt.Errorf("%w: %d inputs", ErrMalformed, m)
	}
	if len(sig.rng) == 0 {
		return nil, fmt.Errorf("%w: sampled function without /Range", ErrMalformed)
	}
	sizes, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "Size"))
	if !ok || len(sizes) != m {
		return nil, fmt.Errorf("%w: bad /Size", ErrMalformed)
	}
	bps, _ := raw.IntOf(ctx, src, d.Lookup(ctx, src, "BitsPerSample"))
	switch bps {
	case 1, 2, 4, 8, 12, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: /BitsPerSample %d", ErrMalformed, bps)
	}
	f := &Sampled{signature: sig, bps: int(bps), nOut: len(sig.rng) / 2}
	points := 1
	for _, sz := range sizes {
		if sz < 1 || sz > 1<<20 {
			return nil, fmt.Errorf("%w: /Size entry %g", ErrMalformed, sz)
		}
		f.size = append(f.size, int(sz))
		points *= int(sz)
		if points > 1<<24 {
			return nil, fmt.Errorf("%w: sample table too large", ErrMalformed)
		}
	}
	if enc, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "Encode")); ok && len(enc) == 2*m {
		f.encode = enc
	} else {
		for _, sz := range f.size {
			f.encode = append(f.encode, 0, float64(sz-1))
		}
	}
	if dec, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "Decode")); ok && len(dec) == 2*f.nOut {
		f.decode = dec
	} else {
		f.decode = sig.rng
	}
	data, err := src.DecodeStream(ctx, s)
	if err != nil {
		return nil, err
	}
	need := (points*f.nOut*f.bps + 7) / 8
	if len(data) < need {
		return nil, fmt.Errorf("%w: %d sample bytes, want %d", ErrMalformed, len(data), need)
	}
	f.samples = data
	return f, nil
}

func (f *Sampled) Outputs() int { return f.nOut }

// sample reads output j at flat grid index idx.
func (f *Sampled) sample(idx, j int) float64 {
	bit := (idx*f.nOut + j) * f.bps
	var v uint64
	for n := f.bps; n > 0; {
		off := bit % 8
		take := 8 - off
		if take > n {
			take = n
		}
		b := uint64(f.samples[bit/8]) >> uint(8-off-take)
		v = v<<uint(take) | b&(1<<uint(take)-1)
		bit += take
		n -= take
	}
	return float64(v)
}

func (f *Sampled) Eval(in []float64) ([]float64, error) {
	x, err := f.clipIn(in)
	if err != nil {
		return nil, err
	}
	m := len(f.size)
	// lower grid index and fractional weight per dimension
	lo := make([]int, m)
	frac := make([]float64, m)
	for i := 0; i < m; i++ {
		e := interpolate(x[i], f.domain[2*i], f.domain[2*i+1], f.encode[2*i], f.encode[2*i+1])
		e = clamp(e, 0, float64(f.size[i]-1))
		fl := math.Floor(e)
		lo[i] = int(fl)
		frac[i] = e - fl
		if lo[i] == f.size[i]-1 {
			frac[i] = 0
		}
	}
	out := make([]float64, f.nOut)
	maxV := math.Exp2(float64(f.bps)) - 1
	for j := 0; j < f.nOut; j++ {
		var v float64
		for corner := 0; corner < 1<<uint(m); corner++ {
			w := 1.0
			idx, stride := 0, 1
			for i := 0; i < m; i++ {
				g := lo[i]
				if corner&(1<<uint(i)) != 0 {
					if frac[i] == 0 {
						w = 0
						break
					}
					g++
					w *= frac[i]
				} else {
					w *= 1 - frac[i]
				}
				idx += g * stride
				stride *= f.size[i]
			}
			if w != 0 {
				v += w * f.sample(idx, j)
			}
		}
		out[j] = interpolate(v, 0, maxV, f.decode[2*j], f.decode[2*j+1])
	}
	return f.clipOut(out), nil
}
