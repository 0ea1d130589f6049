package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"errors"
	"io"

	"github.com/redforks/nipdf/ir/raw"
)

type flateDecoder struct{}

func NewFlateDecoder() Decoder    { return flateDecoder{} }
func (flateDecoder) Name() string { return "FlateDecode" }

// Decode inflates a zlib stream. Streams with a damaged zlib header are
// retried as raw deflate, and a truncated or checksum-failing stream yields
// what was inflated alongside the error.
func (flateDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	out, err := inflate(ctx, in)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	pred, perr := applyPredictor(out, params)
	if perr != nil {
		return nil, perr
	}
	return pred, err
}

func (flateDecoder) Encode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(ctx context.Context, in []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		// header missing or corrupt
		body := in
		if len(body) > 2 && !errors.Is(err, io.EOF) && (body[0]&0x0f) == 8 {
			body = body[2:]
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		return drain(ctx, fr, len(in)*4)
	}
	defer zr.Close()
	out, err := drain(ctx, zr, len(in)*4)
	if errors.Is(err, zlib.ErrChecksum) {
		// payload is complete; only the trailer is wrong
		return out, nil
	}
	return out, err
}
