package filters

import (
	"bytes"
	"context"
	stdascii85 "encoding/ascii85"
	"errors"
	"fmt"

	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/scanner"
)

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder    { return ascii85Decoder{} }
func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	body := bytes.TrimSpace(in)
	body = bytes.TrimPrefix(body, []byte("<~"))
	if i := bytes.Index(body, []byte("~>")); i >= 0 {
		body = body[:i]
	} else if i := bytes.IndexByte(body, '~'); i >= 0 {
		body = body[:i]
	}
	out := make([]byte, len(body)*4/5+4*bytes.Count(body, []byte("z"))+4)
	n, _, err := stdascii85.Decode(out, body, true)
	if err != nil {
		return out[:n], err
	}
	return out[:n], nil
}

func (ascii85Decoder) Encode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	out := make([]byte, stdascii85.MaxEncodedLen(len(in)), stdascii85.MaxEncodedLen(len(in))+2)
	n := stdascii85.Encode(out, in)
	return append(out[:n], '~', '>'), nil
}

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder    { return asciiHexDecoder{} }
func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

// Decode skips whitespace, stops at '>' and pads an odd final digit with 0.
func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	out := make([]byte, 0, len(in)/2)
	var hi byte
	half := false
	for i, c := range in {
		if c == '>' {
			break
		}
		if scanner.IsWhitespace(c) {
			continue
		}
		v, ok := unhex(c)
		if !ok {
			return out, fmt.Errorf("invalid hex digit %q at %d", c, i)
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		out = append(out, hi<<4)
	}
	return out, nil
}

func (asciiHexDecoder) Encode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, len(in)*2+1)
	for _, b := range in {
		out = append(out, digits[b>>4], digits[b&0x0f])
	}
	return append(out, '>'), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder    { return runLengthDecoder{} }
func (runLengthDecoder) Name() string { return "RunLengthDecode" }

var errRunLengthTruncated = errors.New("run-length data truncated")

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	out := make([]byte, 0, len(in)*2)
	limit := SizeLimit(ctx)
	for i := 0; i < len(in); {
		if limit > 0 && int64(len(out)) > limit {
			return nil, errSizeLimit
		}
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			end := i + n + 1
			if end > len(in) {
				return append(out, in[i:]...), errRunLengthTruncated
			}
			out = append(out, in[i:end]...)
			i = end
		default:
			if i >= len(in) {
				return out, errRunLengthTruncated
			}
			for k := 0; k < 257-n; k++ {
				out = append(out, in[i])
			}
			i++
		}
	}
	return out, nil
}

// Encode emits repeat runs for three or more equal bytes and literal runs
// otherwise, ending with the EOD marker.
func (runLengthDecoder) Encode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var out []byte
	i := 0
	for i < len(in) {
		run := 1
		for i+run < len(in) && run < 128 && in[i+run] == in[i] {
			run++
		}
		if run >= 3 {
			out = append(out, byte(257-run), in[i])
			i += run
			continue
		}
		start := i
		for i < len(in) && i-start < 128 {
			if i+2 < len(in) && in[i] == in[i+1] && in[i] == in[i+2] {
				break
			}
			i++
		}
		out = append(out, byte(i-start-1))
		out = append(out, in[start:i]...)
	}
	return append(out, 128), nil
}
