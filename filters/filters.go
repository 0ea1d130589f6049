package filters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/recovery"
)

// Decoder reverses one stream filter. params may be nil.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

// Encoder applies one stream filter. Only the lossless general-purpose
// filters have encoders.
type Encoder interface {
	Name() string
	Encode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

// Abbreviated filter names permitted in inline images.
var abbreviations = map[string]string{
	"AHx": "ASCIIHexDecode",
	"A85": "ASCII85Decode",
	"LZW": "LZWDecode",
	"Fl":  "FlateDecode",
	"RL":  "RunLengthDecode",
	"CCF": "CCITTFaxDecode",
	"DCT": "DCTDecode",
}

// CanonicalName expands an inline-image abbreviation to the full filter name.
func CanonicalName(name string) string {
	if full, ok := abbreviations[name]; ok {
		return full
	}
	return name
}

type Pipeline struct {
	decoders []Decoder
	limits   Limits
	recovery recovery.Strategy
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// DefaultPipeline has every built-in decoder registered.
func DefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline(AllDecoders(), limits)
}

// AllDecoders returns one instance of every built-in decoder.
func AllDecoders() []Decoder {
	return []Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewRunLengthDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewCCITTFaxDecoder(),
		NewDCTDecoder(),
		NewJPXDecoder(),
		NewCryptDecoder(),
	}
}

// WithRecovery sets the strategy consulted when a filter fails part way.
// Under a non-failing strategy the bytes decoded before the fault are kept.
func (p *Pipeline) WithRecovery(s recovery.Strategy) *Pipeline {
	p.recovery = s
	return p
}

func (p *Pipeline) Limits() Limits { return p.limits }

func (p *Pipeline) findDecoder(name string) Decoder {
	name = CanonicalName(name)
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Decode runs input through filterNames in order. params[i] belongs to
// filterNames[i]; missing entries are nil.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []*raw.DictObj) ([]byte, error) {
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, &recovery.FilterError{Filter: name, Err: recovery.ErrUnsupportedFilter}
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(WithSizeLimit(ctx, p.limits.MaxDecompressedSize), data, param)
		if err == nil && p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			err = errSizeLimit
		}
		if err != nil {
			ferr := &recovery.FilterError{Filter: dec.Name(), Err: err}
			if len(out) == 0 || errors.Is(err, errSizeLimit) || ctx.Err() != nil {
				return nil, ferr
			}
			loc := recovery.Location{Component: "filter"}
			if recovery.Decide(p.recovery, ctx, ferr, loc) == recovery.ActionFail {
				return nil, ferr
			}
		}
		data = out
	}
	return data, nil
}

// Encode applies filterNames so that Decode with the same arguments
// restores input: the last filter is applied first.
func (p *Pipeline) Encode(ctx context.Context, input []byte, filterNames []string, params []*raw.DictObj) ([]byte, error) {
	data := input
	for i := len(filterNames) - 1; i >= 0; i-- {
		name := CanonicalName(filterNames[i])
		enc, ok := p.findDecoder(name).(Encoder)
		if !ok {
			return nil, &recovery.FilterError{Filter: name, Err: fmt.Errorf("no encoder: %w", recovery.ErrUnsupportedFilter)}
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := enc.Encode(ctx, data, param)
		if err != nil {
			return nil, &recovery.FilterError{Filter: name, Err: err}
		}
		data = out
	}
	return data, nil
}

type Registry struct{ decoders map[string]Decoder }

func (r *Registry) Register(d Decoder) {
	if r.decoders == nil {
		r.decoders = make(map[string]Decoder)
	}
	r.decoders[d.Name()] = d
}

func (r *Registry) Get(name string) (Decoder, bool) {
	d, ok := r.decoders[CanonicalName(name)]
	return d, ok
}

// Pipeline builds a pipeline over every registered decoder.
func (r *Registry) Pipeline(limits Limits) *Pipeline {
	ds := make([]Decoder, 0, len(r.decoders))
	for _, d := range r.decoders {
		ds = append(ds, d)
	}
	return NewPipeline(ds, limits)
}

var errSizeLimit = errors.New("decompressed size exceeds limit")

// ctxReader stops a long decode once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type sizeLimitKey struct{}

// WithSizeLimit bounds the output of decoders run under ctx to n bytes.
// n <= 0 leaves the output unbounded.
func WithSizeLimit(ctx context.Context, n int64) context.Context {
	if n <= 0 {
		return ctx
	}
	return context.WithValue(ctx, sizeLimitKey{}, n)
}

// SizeLimit returns the bound set by WithSizeLimit, or 0.
func SizeLimit(ctx context.Context) int64 {
	n, _ := ctx.Value(sizeLimitKey{}).(int64)
	return n
}

// maxSizeHint caps preallocation derived from stream parameters.
const maxSizeHint = 16 << 20

// drain copies r into a buffer, stopping with errSizeLimit once the
// ctx size limit is passed. On a read error the bytes produced so far
// are returned with the error.
func drain(ctx context.Context, r io.Reader, sizeHint int) ([]byte, error) {
	limit := SizeLimit(ctx)
	if sizeHint < 0 || sizeHint > maxSizeHint {
		sizeHint = maxSizeHint
	}
	if limit > 0 && int64(sizeHint) > limit {
		sizeHint = int(limit)
	}
	var out bytes.Buffer
	out.Grow(sizeHint)
	src := io.Reader(ctxReader{ctx: ctx, r: r})
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}
	_, err := io.Copy(&out, src)
	if err == nil && limit > 0 && int64(out.Len()) > limit {
		return nil, errSizeLimit
	}
	return out.Bytes(), err
}

func intParam(params *raw.DictObj, key string, def int) int {
	if v, ok := params.Int(key); ok {
		return int(v)
	}
	return def
}

func boolParam(params *raw.DictObj, key string, def bool) bool {
	if v, ok := params.Bool(key); ok {
		return v
	}
	return def
}
