package filters

import (
	"context"

	"github.com/redforks/nipdf/ir/raw"
)

// Image codec filters are not expanded here. Their decoders pass the framed
// payload through so the image layer can hand it to a codec.
var imageFilters = map[string]bool{
	"DCTDecode":   true,
	"JPXDecode":   true,
	"JBIG2Decode": true,
}

// IsImageFilter reports whether name is decoded by an image codec rather
// than the stream pipeline.
func IsImageFilter(name string) bool { return imageFilters[CanonicalName(name)] }

// SplitImageFilter separates a trailing image codec filter from the
// general-purpose filters that precede it. codec is empty when the chain
// ends with a general-purpose filter.
func SplitImageFilter(names []string, params []*raw.DictObj) (pre []string, preParams []*raw.DictObj, codec string, codecParams *raw.DictObj) {
	if len(names) == 0 || !IsImageFilter(names[len(names)-1]) {
		return names, params, "", nil
	}
	last := len(names) - 1
	pre = names[:last]
	if len(params) > last {
		codecParams = params[last]
		preParams = params[:last]
	} else {
		preParams = params
	}
	return pre, preParams, CanonicalName(names[last]), codecParams
}

type passthroughDecoder struct{ name string }

func (p passthroughDecoder) Name() string { return p.name }
func (p passthroughDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	return in, nil
}

func NewDCTDecoder() Decoder { return passthroughDecoder{name: "DCTDecode"} }
func NewJPXDecoder() Decoder { return passthroughDecoder{name: "JPXDecode"} }

// NewCryptDecoder returns the /Crypt filter. Decryption happens when the
// stream is loaded, so by the time the pipeline runs the filter is identity.
func NewCryptDecoder() Decoder { return passthroughDecoder{name: "Crypt"} }
