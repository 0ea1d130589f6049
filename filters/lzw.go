package filters

import (
	"bytes"
	"context"

	"github.com/hhrutter/lzw"

	"github.com/redforks/nipdf/ir/raw"
)

type lzwDecoder struct{}

func NewLZWDecoder() Decoder    { return lzwDecoder{} }
func (lzwDecoder) Name() string { return "LZWDecode" }

// EarlyChange defaults to 1, which is what every PDF writer emits.
func earlyChange(params *raw.DictObj) bool {
	return intParam(params, "EarlyChange", 1) == 1
}

func (lzwDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	rc := lzw.NewReader(bytes.NewReader(in), earlyChange(params))
	defer rc.Close()
	out, err := drain(ctx, rc, len(in)*3)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	pred, perr := applyPredictor(out, params)
	if perr != nil {
		return nil, perr
	}
	return pred, err
}

func (lzwDecoder) Encode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var buf bytes.Buffer
	wc := lzw.NewWriter(&buf, earlyChange(params))
	if _, err := wc.Write(in); err != nil {
		return nil, err
	}
	if err := wc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
