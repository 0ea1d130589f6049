package cmm

import (
	"encoding/binary"
	"fmt"
)

// maxLUTInputs bounds the CLUT dimensionality; interpolation visits 2^n
// grid corners.
const maxLUTInputs = 8

// LUT is a lut8Type or lut16Type transform: matrix, input curves, an
// n-dimensional colour lookup table and output curves. Table values are
// normalized to [0,1].
type LUT struct {
	InputChannels  int
	OutputChannels int
	GridPoints     int
	Matrix         [9]float64
	InputTables    [][]float64
	CLUT           []float64
	OutputTables   [][]float64
	// Wide is set for lut16Type, whose Lab encoding differs from lut8Type.
	Wide bool
}

// ReadLUTTag reads a lut8Type ('mft1') or lut16Type ('mft2') tag.
func (p *ICCProfile) ReadLUTTag(sig string) (*LUT, error) {
	d, ok := p.GetTag(sig)
	if !ok {
		return nil, fmt.Errorf("%s: %w", sig, errNoTag)
	}
	if len(d) < 48 {
		return nil, fmt.Errorf("%w: %s too short", ErrBadProfile, sig)
	}
	switch string(d[0:4]) {
	case "mft1":
		return parseLUT(d, false)
	case "mft2":
		return parseLUT(d, true)
	}
	return nil, fmt.Errorf("%w: %s has unsupported type %q", ErrBadProfile, sig, d[0:4])
}

func parseLUT(d []byte, wide bool) (*LUT, error) {
	lut := &LUT{
		InputChannels:  int(d[8]),
		OutputChannels: int(d[9]),
		GridPoints:     int(d[10]),
		Wide:           wide,
	}
	if lut.InputChannels < 1 || lut.InputChannels > maxLUTInputs || lut.OutputChannels < 1 || lut.GridPoints < 2 {
		return nil, fmt.Errorf("%w: lut %d->%d, %d grid points", ErrBadProfile, lut.InputChannels, lut.OutputChannels, lut.GridPoints)
	}
	for i := range lut.Matrix {
		lut.Matrix[i] = s15Fixed16ToFloat(binary.BigEndian.Uint32(d[12+4*i:]))
	}
	r := lutReader{data: d, off: 48, wide: wide}
	inEntries, outEntries := 256, 256
	if wide {
		if len(d) < 52 {
			return nil, fmt.Errorf("%w: lut16 header truncated", ErrBadProfile)
		}
		inEntries = int(binary.BigEndian.Uint16(d[48:50]))
		outEntries = int(binary.BigEndian.Uint16(d[50:52]))
		r.off = 52
		if inEntries < 2 || outEntries < 2 {
			return nil, fmt.Errorf("%w: lut16 table sizes %d/%d", ErrBadProfile, inEntries, outEntries)
		}
	}
	var err error
	if lut.InputTables, err = r.tables(lut.InputChannels, inEntries); err != nil {
		return nil, err
	}
	points := 1
	for i := 0; i < lut.InputChannels; i++ {
		points *= lut.GridPoints
	}
	if lut.CLUT, err = r.values(points * lut.OutputChannels); err != nil {
		return nil, err
	}
	if lut.OutputTables, err = r.tables(lut.OutputChannels, outEntries); err != nil {
		return nil, err
	}
	return lut, nil
}

type lutReader struct {
	data []byte
	off  int
	wide bool
}

func (r *lutReader) values(n int) ([]float64, error) {
	size := 1
	if r.wide {
		size = 2
	}
	if n < 0 || r.off+n*size > len(r.data) {
		return nil, fmt.Errorf("%w: lut tables truncated", ErrBadProfile)
	}
	out := make([]float64, n)
	for i := range out {
		if r.wide {
			out[i] = float64(binary.BigEndian.Uint16(r.data[r.off:])) / 65535
		} else {
			out[i] = float64(r.data[r.off]) / 255
		}
		r.off += size
	}
	return out, nil
}

func (r *lutReader) tables(channels, entries int) ([][]float64, error) {
	out := make([][]float64, channels)
	for c := range out {
		t, err := r.values(entries)
		if err != nil {
			return nil, err
		}
		out[c] = t
	}
	return out, nil
}

// Convert runs the pipeline: matrix (3 inputs only), input curves, CLUT,
// output curves.
func (lut *LUT) Convert(in []float64) ([]float64, error) {
	if len(in) != lut.InputChannels {
		return nil, fmt.Errorf("lut expects %d channels, got %d", lut.InputChannels, len(in))
	}
	temp := make([]float64, len(in))
	copy(temp, in)
	if lut.InputChannels == 3 {
		m := lut.Matrix
		x := temp[0]*m[0] + temp[1]*m[1] + temp[2]*m[2]
		y := temp[0]*m[3] + temp[1]*m[4] + temp[2]*m[5]
		z := temp[0]*m[6] + temp[1]*m[7] + temp[2]*m[8]
		temp[0], temp[1], temp[2] = x, y, z
	}
	for c := range temp {
		temp[c] = interp1D(temp[c], lut.InputTables[c])
	}
	out := interpCLUT(temp, lut.CLUT, lut.OutputChannels, lut.GridPoints)
	for c := range out {
		out[c] = interp1D(out[c], lut.OutputTables[c])
	}
	return out, nil
}

func interp1D(val float64, table []float64) float64 {
	if val <= 0 {
		return table[0]
	}
	if val >= 1 {
		return table[len(table)-1]
	}
	f := val * float64(len(table)-1)
	idx := int(f)
	frac := f - float64(idx)
	return table[idx]*(1-frac) + table[idx+1]*frac
}

// interpCLUT interpolates multilinearly in a grid whose first dimension
// varies slowest.
func interpCLUT(in []float64, clut []float64, outCh, gridPoints int) []float64 {
	n := len(in)
	g := float64(gridPoints - 1)
	lo := make([]int, n)
	frac := make([]float64, n)
	for i, v := range in {
		x := clamp01(v) * g
		lo[i] = int(x)
		if lo[i] >= gridPoints-1 {
			lo[i] = gridPoints - 2
		}
		frac[i] = x - float64(lo[i])
	}
	out := make([]float64, outCh)
	for corner := 0; corner < 1<<uint(n); corner++ {
		w := 1.0
		idx := 0
		for i := 0; i < n; i++ {
			gi := lo[i]
			if corner&(1<<uint(n-1-i)) != 0 {
				gi++
				w *= frac[i]
			} else {
				w *= 1 - frac[i]
			}
			idx = idx*gridPoints + gi
		}
		if w == 0 {
			continue
		}
		for c := 0; c < outCh; c++ {
			out[c] += w * clut[idx*outCh+c]
		}
	}
	return out
}
