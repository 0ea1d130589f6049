package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/recovery"
)

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func predictorParams(predictor, colors, bpc, columns int64) *raw.DictObj {
	params := raw.Dict()
	params.Set("Predictor", raw.NumberInt(predictor))
	params.Set("Colors", raw.NumberInt(colors))
	params.Set("BitsPerComponent", raw.NumberInt(bpc))
	params.Set("Columns", raw.NumberInt(columns))
	return params
}

func TestFlateDecode(t *testing.T) {
	dec := NewFlateDecoder()
	out, err := dec.Decode(context.Background(), zlibBytes(t, []byte("hello world")), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeRawDeflate(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestSpeed)
	w.Write([]byte("no zlib header"))
	w.Close()

	out, err := NewFlateDecoder().Decode(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "no zlib header" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeTruncatedKeepsPrefix(t *testing.T) {
	payload := make([]byte, 20000)
	seed := uint32(7)
	for i := range payload {
		seed = seed*1103515245 + 12345
		payload[i] = 'a' + byte(seed>>16)%26
	}
	comp := zlibBytes(t, payload)
	comp = comp[:len(comp)/2]

	p := DefaultPipeline(Limits{}).WithRecovery(&recovery.LenientStrategy{})
	out, err := p.Decode(context.Background(), comp, []string{"FlateDecode"}, nil)
	if err != nil {
		t.Fatalf("lenient decode failed: %v", err)
	}
	if len(out) == 0 || !bytes.HasPrefix(payload, out) {
		t.Fatalf("expected a prefix of the payload, got %d bytes", len(out))
	}

	strict := DefaultPipeline(Limits{}).WithRecovery(recovery.NewStrictStrategy())
	_, err = strict.Decode(context.Background(), comp, []string{"FlateDecode"}, nil)
	var fe *recovery.FilterError
	if !errors.As(err, &fe) || fe.Filter != "FlateDecode" {
		t.Fatalf("expected FilterError from strict pipeline, got %v", err)
	}
}

func TestFlateDecodeWithPredictor(t *testing.T) {
	// PNG predictor row: filter byte 1 (Sub), then row bytes.
	comp := zlibBytes(t, []byte{1, 10, 12, 20})
	out, err := NewFlateDecoder().Decode(context.Background(), comp, predictorParams(12, 1, 8, 3))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	want := []byte{10, 22, 42}
	if !bytes.Equal(out, want) {
		t.Fatalf("predictor output mismatch: got %v want %v", out, want)
	}
}

func TestPNGPredictorRows(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"none", []byte{0, 1, 2, 0, 3, 4}, []byte{1, 2, 3, 4}},
		{"up", []byte{0, 1, 2, 2, 1, 1}, []byte{1, 2, 2, 3}},
		{"average", []byte{0, 4, 8, 3, 2, 2}, []byte{4, 8, 4, 8}},
		{"paeth", []byte{0, 5, 9, 4, 1, 1}, []byte{5, 9, 6, 10}},
		{"short last row", []byte{0, 1, 2, 0, 7}, []byte{1, 2, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := applyPredictor(tt.in, predictorParams(15, 1, 8, 2))
			if err != nil {
				t.Fatalf("predictor: %v", err)
			}
			if !bytes.Equal(out, tt.want) {
				t.Fatalf("got %v want %v", out, tt.want)
			}
		})
	}
}

func TestTIFFPredictor(t *testing.T) {
	out, err := applyPredictor([]byte{10, 1, 1, 5, 5, 5}, predictorParams(2, 1, 8, 3))
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	if !bytes.Equal(out, []byte{10, 11, 12, 5, 10, 15}) {
		t.Fatalf("unexpected output %v", out)
	}
	// 4 bits per component, 4 columns: 0x1 0x1 0x1 0x1 -> 1 2 3 4
	out, err = applyPredictor([]byte{0x11, 0x11}, predictorParams(2, 1, 4, 4))
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	if !bytes.Equal(out, []byte{0x12, 0x34}) {
		t.Fatalf("unexpected 4-bit output %x", out)
	}
}

func TestLZWDecodeWithPredictor(t *testing.T) {
	params := predictorParams(12, 1, 8, 3)
	enc, err := lzwDecoder{}.Encode(context.Background(), []byte{0, 1, 2, 3}, params)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := NewLZWDecoder().Decode(context.Background(), enc, params)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestRunLengthDecode(t *testing.T) {
	// literal run of 3 bytes (len=2), then repeat 'A' 2 times (len=255 => count=2), then EOD 128
	data := []byte{2, 'h', 'i', '!', 255, 'A', 128}
	out, err := NewRunLengthDecoder().Decode(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hi!AA" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestASCII85Decode(t *testing.T) {
	dec := NewASCII85Decoder()
	for _, in := range []string{"<~87cURD_*#4DfTZ)+T~>", "87cURD_*#4\n DfTZ)+T~>", "87cURD_*#4DfTZ)+T"} {
		out, err := dec.Decode(context.Background(), []byte(in), nil)
		if err != nil {
			t.Fatalf("decode %q: %v", in, err)
		}
		if string(out) != "Hello, World!" {
			t.Fatalf("decode %q: unexpected output %q", in, out)
		}
	}
	out, err := dec.Decode(context.Background(), []byte("z~>"), nil)
	if err != nil || !bytes.Equal(out, []byte{0, 0, 0, 0}) {
		t.Fatalf("z group: %v %v", out, err)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	dec := NewASCIIHexDecoder()
	out, err := dec.Decode(context.Background(), []byte("68 65 6c\n6c6f20776f726c64>"), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
	out, _ = dec.Decode(context.Background(), []byte("7>"), nil)
	if !bytes.Equal(out, []byte{0x70}) {
		t.Fatalf("odd digit not padded: %x", out)
	}
	if _, err := dec.Decode(context.Background(), []byte("zz"), nil); err == nil {
		t.Fatalf("expected error for invalid digit")
	}
}

func TestRoundTrip(t *testing.T) {
	payload := append(bytes.Repeat([]byte("abcabcabc"), 50), bytes.Repeat([]byte{0}, 300)...)
	payload = append(payload, 1, 2, 3, 255, 254)
	chains := [][]string{
		{"FlateDecode"},
		{"LZWDecode"},
		{"RunLengthDecode"},
		{"ASCII85Decode"},
		{"ASCIIHexDecode"},
		{"ASCII85Decode", "FlateDecode"},
		{"ASCIIHexDecode", "LZWDecode", "RunLengthDecode"},
	}
	p := DefaultPipeline(Limits{})
	for _, chain := range chains {
		enc, err := p.Encode(context.Background(), payload, chain, nil)
		if err != nil {
			t.Fatalf("%v encode: %v", chain, err)
		}
		dec, err := p.Decode(context.Background(), enc, chain, nil)
		if err != nil {
			t.Fatalf("%v decode: %v", chain, err)
		}
		if !bytes.Equal(dec, payload) {
			t.Fatalf("%v round trip mismatch: %d bytes vs %d", chain, len(dec), len(payload))
		}
	}
}

func TestPipelineUnknownFilter(t *testing.T) {
	p := DefaultPipeline(Limits{})
	_, err := p.Decode(context.Background(), []byte{0}, []string{"BogusDecode"}, nil)
	var fe *recovery.FilterError
	if !errors.As(err, &fe) || fe.Filter != "BogusDecode" || !errors.Is(err, recovery.ErrUnsupportedFilter) {
		t.Fatalf("expected unsupported filter error, got %v", err)
	}
	if _, err := p.Encode(context.Background(), []byte{0}, []string{"DCTDecode"}, nil); err == nil {
		t.Fatalf("expected DCTDecode to have no encoder")
	}
}

func TestPipelineSizeLimit(t *testing.T) {
	comp := zlibBytes(t, bytes.Repeat([]byte{'x'}, 4096))
	p := DefaultPipeline(Limits{MaxDecompressedSize: 1024}).WithRecovery(&recovery.LenientStrategy{})
	if _, err := p.Decode(context.Background(), comp, []string{"FlateDecode"}, nil); err == nil {
		t.Fatalf("expected size limit error")
	}
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := DefaultPipeline(Limits{MaxDecodeTime: time.Second})
	_, err := p.Decode(ctx, zlibBytes(t, []byte("x")), []string{"FlateDecode"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestImagePassthrough(t *testing.T) {
	p := DefaultPipeline(Limits{})
	jpegish := []byte{0xff, 0xd8, 0xff, 0xd9}
	enc := append([]byte(nil), jpegish...)
	hexed, _ := asciiHexDecoder{}.Encode(context.Background(), enc, nil)
	names := []string{"AHx", "DCT"}
	pre, _, codec, _ := SplitImageFilter(names, nil)
	if codec != "DCTDecode" || len(pre) != 1 {
		t.Fatalf("split: pre=%v codec=%q", pre, codec)
	}
	out, err := p.Decode(context.Background(), hexed, names, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out, jpegish) {
		t.Fatalf("framed payload altered: %x", out)
	}
}

func TestExtractFilters(t *testing.T) {
	dict := raw.Dict()
	dict.Set("Filter", raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode")))
	dict.Set("DecodeParms", raw.NewArray(raw.NullObj{}, predictorParams(12, 1, 8, 4)))
	names, params := ExtractFilters(context.Background(), nil, dict)
	if len(names) != 2 || names[1] != "FlateDecode" {
		t.Fatalf("names: %v", names)
	}
	if params[0] != nil || params[1] == nil {
		t.Fatalf("params misaligned: %v", params)
	}

	inline := raw.Dict()
	inline.Set("F", raw.NameLiteral("AHx"))
	names, _ = ExtractInlineFilters(context.Background(), nil, inline)
	if len(names) != 1 || names[0] != "ASCIIHexDecode" {
		t.Fatalf("inline names: %v", names)
	}
	if names, _ := ExtractFilters(context.Background(), nil, inline); names != nil {
		t.Fatalf("F must not be read as a filter on regular streams: %v", names)
	}
}
