package filters

import (
	"fmt"

	"github.com/redforks/nipdf/ir/raw"
)

const (
	maxColors  = 64
	maxColumns = 1 << 24
)

// applyPredictor undoes the /Predictor transform shared by Flate and LZW.
// 1 is identity, 2 is TIFF horizontal differencing, 10..15 are PNG row
// filters where each row carries its own filter byte.
func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	columns := intParam(params, "Columns", 1)
	if colors < 1 || colors > maxColors || columns < 1 || columns > maxColumns {
		return nil, fmt.Errorf("predictor: invalid Colors %d or Columns %d", colors, columns)
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("predictor: invalid BitsPerComponent %d", bpc)
	}
	rowBytes := (columns*colors*bpc + 7) / 8
	bpp := (colors*bpc + 7) / 8
	switch {
	case predictor == 2:
		return tiffPredictor(data, rowBytes, colors, bpc), nil
	case predictor >= 10:
		return pngPredictor(data, rowBytes, bpp)
	}
	return nil, fmt.Errorf("predictor: unsupported value %d", predictor)
}

// pngPredictor decodes rows of rowBytes+1 bytes. A short final row is kept.
func pngPredictor(data []byte, rowBytes, bpp int) ([]byte, error) {
	// no row can be longer than the input
	if rowBytes > len(data) {
		rowBytes = len(data)
	}
	stride := rowBytes + 1
	rows := (len(data) + stride - 1) / stride
	out := make([]byte, 0, rows*rowBytes)
	prev := make([]byte, rowBytes)
	cur := make([]byte, rowBytes)
	for off := 0; off < len(data); off += stride {
		end := off + stride
		if end > len(data) {
			end = len(data)
		}
		filter := data[off]
		row := data[off+1 : end]
		for i := range cur {
			cur[i] = 0
		}
		copy(cur, row)
		n := len(row)
		switch filter {
		case 0:
		case 1:
			for i := bpp; i < n; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2:
			for i := 0; i < n; i++ {
				cur[i] += prev[i]
			}
		case 3:
			for i := 0; i < n; i++ {
				var left int
				if i >= bpp {
					left = int(cur[i-bpp])
				}
				cur[i] += byte((left + int(prev[i])) / 2)
			}
		case 4:
			for i := 0; i < n; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return out, fmt.Errorf("predictor: unknown PNG row filter %d", filter)
		}
		out = append(out, cur[:n]...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// tiffPredictor adds each sample to the same component of the pixel on its
// left, within each row.
func tiffPredictor(data []byte, rowBytes, colors, bpc int) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	for off := 0; off+rowBytes <= len(out); off += rowBytes {
		row := out[off : off+rowBytes]
		switch bpc {
		case 8:
			for i := colors; i < len(row); i++ {
				row[i] += row[i-colors]
			}
		case 16:
			for i := 2 * colors; i+1 < len(row); i += 2 {
				v := uint16(row[i])<<8 | uint16(row[i+1])
				p := uint16(row[i-2*colors])<<8 | uint16(row[i-2*colors+1])
				v += p
				row[i], row[i+1] = byte(v>>8), byte(v)
			}
		default:
			mask := 1<<bpc - 1
			samples := rowBytes * 8 / bpc
			for s := colors; s < samples; s++ {
				v := getBits(row, s, bpc) + getBits(row, s-colors, bpc)
				setBits(row, s, bpc, v&mask)
			}
		}
	}
	return out
}

func getBits(row []byte, idx, bpc int) int {
	bit := idx * bpc
	shift := 8 - bpc - bit%8
	return int(row[bit/8]>>shift) & (1<<bpc - 1)
}

func setBits(row []byte, idx, bpc, v int) {
	bit := idx * bpc
	shift := 8 - bpc - bit%8
	mask := byte((1<<bpc - 1) << shift)
	row[bit/8] = row[bit/8]&^mask | byte(v<<shift)&mask
}
