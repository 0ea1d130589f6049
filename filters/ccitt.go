package filters

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/image/ccitt"

	"github.com/redforks/nipdf/ir/raw"
)

const (
	maxCCITTColumns = 1 << 20
	maxCCITTRows    = 1 << 24
)

type ccittDecoder struct{}

func NewCCITTFaxDecoder() Decoder { return ccittDecoder{} }
func (ccittDecoder) Name() string { return "CCITTFaxDecode" }

// Decode produces packed 1-bit rows, MSB first. K < 0 selects Group 4,
// K == 0 Group 3 one-dimensional. Mixed Group 3 (K > 0) is not supported
// by the codec.
func (ccittDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	k := intParam(params, "K", 0)
	if k > 0 {
		return nil, fmt.Errorf("CCITT mixed 1D/2D coding (K=%d) not supported", k)
	}
	cols := intParam(params, "Columns", 1728)
	rows := intParam(params, "Rows", 0)
	if cols < 1 || cols > maxCCITTColumns || rows > maxCCITTRows {
		return nil, fmt.Errorf("CCITT: invalid Columns %d or Rows %d", cols, rows)
	}
	if limit := SizeLimit(ctx); limit > 0 && rows > 0 && int64((cols+7)/8)*int64(rows) > limit {
		return nil, errSizeLimit
	}
	if rows <= 0 {
		rows = ccitt.AutoDetectHeight
	}
	mode := ccitt.Group3
	if k < 0 {
		mode = ccitt.Group4
	}
	opts := &ccitt.Options{
		Invert: boolParam(params, "BlackIs1", false),
		Align:  boolParam(params, "EncodedByteAlign", false),
	}
	rd := ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, mode, cols, rows, opts)
	return drain(ctx, rd, (cols+7)/8*64)
}
