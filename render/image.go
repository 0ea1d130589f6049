package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/redforks/nipdf/cmm"
	"github.com/redforks/nipdf/contentstream"
	"github.com/redforks/nipdf/coords"
)

// ErrUnsupportedCodec is returned by codecs for image formats they cannot
// decode.
var ErrUnsupportedCodec = errors.New("unsupported image codec")

// ImageCodec decodes image payloads that keep their own compression after
// the general-purpose filters, such as DCTDecode and JPXDecode data.
type ImageCodec interface {
	Decode(codec string, data []byte) (image.Image, error)
}

// DefaultCodec decodes baseline and progressive JPEG. Other codecs report
// ErrUnsupportedCodec.
type DefaultCodec struct{}

func (DefaultCodec) Decode(codec string, data []byte) (image.Image, error) {
	if codec != "DCTDecode" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
	return jpeg.Decode(bytes.NewReader(data))
}

func (r *Raster) Image(img *contentstream.Image, paint contentstream.Paint, st contentstream.DrawState) {
	if paint.Color.A == 0 {
		return
	}
	src, ok := r.images[img]
	if !ok {
		var err error
		src, err = r.decodeImage(img)
		if err != nil {
			r.warn(fmt.Errorf("image %dx%d: %w", img.Width, img.Height, err))
		}
		r.images[img] = src
	}
	if src == nil {
		return
	}
	if img.ImageMask {
		src = colorize(src, paint.Color)
	} else if paint.Color.A < 255 {
		src = fade(src, paint.Color.A)
	}

	// image space has its origin at the top left; the image fills the unit
	// square of user space
	m := st.CTM
	if !m.IsFinite() || m[0]*m[3]-m[1]*m[2] == 0 {
		return
	}
	w, h := float64(src.Rect.Dx()), float64(src.Rect.Dy())
	s2d := f64.Aff3{m[0] / w, -m[2] / h, m[2] + m[4], m[1] / w, -m[3] / h, m[3] + m[5]}
	area := r.clipArea(pixelBounds(coords.NewRect(0, 0, 1, 1).Transform(st.CTM)), st.Clip)
	if area.Empty() {
		return
	}
	opts := &draw.Options{}
	if st.Clip != nil {
		opts.DstMask = r.clipMask(st.Clip)
	}
	interp(img, src, st).Transform(r.Dst, s2d, src, src.Rect, draw.Over, opts)
}

// interp picks nearest neighbour sampling for enlarged images unless the
// image asks for interpolation, so that pixel art stays crisp.
func interp(img *contentstream.Image, src *image.NRGBA, st contentstream.DrawState) draw.Transformer {
	if img.Interpolate {
		return draw.BiLinear
	}
	scale := st.CTM.ExpansionFactor()
	if scale*scale < float64(src.Rect.Dx()*src.Rect.Dy()) {
		return draw.ApproxBiLinear
	}
	return draw.NearestNeighbor
}

// colorize turns a stencil mask into paint coloured pixels.
func colorize(mask *image.NRGBA, c color.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(mask.Rect)
	for i := 0; i < len(mask.Pix); i += 4 {
		a := uint8((uint32(mask.Pix[i+3])*uint32(c.A) + 127) / 255)
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = c.R, c.G, c.B, a
	}
	return out
}

func fade(src *image.NRGBA, a uint8) *image.NRGBA {
	out := image.NewNRGBA(src.Rect)
	copy(out.Pix, src.Pix)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = uint8((uint32(out.Pix[i])*uint32(a) + 127) / 255)
	}
	return out
}

// decodeImage produces the image's pixels, top row first. Stencil masks
// come back as opaque black where they paint.
func (r *Raster) decodeImage(img *contentstream.Image) (*image.NRGBA, error) {
	var out *image.NRGBA
	var err error
	switch {
	case img.ImageMask:
		out, err = decodeStencil(img)
	case img.Codec != "":
		out, err = r.decodeCodec(img)
	default:
		out, err = decodeSamples(img)
	}
	if err != nil {
		return nil, err
	}
	if img.SMask != nil {
		alpha, err := r.decodeImage(img.SMask)
		if err != nil {
			return nil, fmt.Errorf("soft mask: %w", err)
		}
		applyAlpha(out, alpha)
	}
	return out, nil
}

func (r *Raster) decodeCodec(img *contentstream.Image) (*image.NRGBA, error) {
	dec, err := r.codec.Decode(img.Codec, img.Data)
	if err != nil {
		return nil, err
	}
	b := dec.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	cmyk, isCMYK := dec.(*image.CMYK)
	switch {
	case isCMYK:
		// ink values go through the image's colour space, honouring an
		// inverting Decode array
		cs := img.ColorSpace
		if cs == nil || cs.NumComponents() != 4 {
			cs = cmm.DeviceCMYK{}
		}
		invert := len(img.Decode) >= 2 && img.Decode[0] > img.Decode[1]
		comps := make([]float64, 4)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := cmyk.CMYKAt(b.Min.X+x, b.Min.Y+y)
				for i, v := range []uint8{c.C, c.M, c.Y, c.K} {
					comps[i] = float64(v) / 255
					if invert {
						comps[i] = 1 - comps[i]
					}
				}
				rr, gg, bb := cs.ToRGB(comps)
				out.SetNRGBA(x, y, color.NRGBA{R: unit8(rr), G: unit8(gg), B: unit8(bb), A: 255})
			}
		}
	default:
		draw.Draw(out, out.Rect, dec, b.Min, draw.Src)
	}
	return out, nil
}

// decodeStencil reads a 1-bit stencil mask. Sample 0 paints unless the
// Decode array is [1 0].
func decodeStencil(img *contentstream.Image) (*image.NRGBA, error) {
	w, h := img.Width, img.Height
	rowBytes := (w + 7) / 8
	data := padded(img.Data, rowBytes*h)
	paintOn := byte(0)
	if len(img.Decode) >= 2 && img.Decode[0] == 1 {
		paintOn = 1
	}
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := data[y*rowBytes:]
		for x := 0; x < w; x++ {
			bit := (row[x/8] >> (7 - uint(x%8))) & 1
			if bit == paintOn {
				out.Pix[y*out.Stride+x*4+3] = 255
			}
		}
	}
	return out, nil
}

// decodeSamples unpacks raw samples through the Decode array and the
// colour space.
func decodeSamples(img *contentstream.Image) (*image.NRGBA, error) {
	cs := img.ColorSpace
	if cs == nil {
		return nil, errors.New("no colour space")
	}
	bpc := img.BitsPerComponent
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("unsupported BitsPerComponent %d", bpc)
	}
	n := cs.NumComponents()
	if n <= 0 {
		return nil, fmt.Errorf("colour space %s cannot be used for images", cs.Family())
	}
	w, h := img.Width, img.Height
	rowBytes := (w*n*bpc + 7) / 8
	data := padded(img.Data, rowBytes*h)
	dec := img.Decode
	if len(dec) < 2*n {
		dec = cs.DefaultDecode(bpc)
	}
	maxv := float64(uint32(1)<<uint(bpc) - 1)

	// small single-component images go through a lookup table
	var lut []color.NRGBA
	if n == 1 && bpc <= 8 {
		lut = make([]color.NRGBA, 1<<uint(bpc))
		for s := range lut {
			v := dec[0] + float64(s)*(dec[1]-dec[0])/maxv
			lut[s] = cmm.NRGBA(cs, []float64{v}, 1)
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	samples := make([]int, n)
	comps := make([]float64, n)
	for y := 0; y < h; y++ {
		br := bitReader{data: data[y*rowBytes : (y+1)*rowBytes]}
		for x := 0; x < w; x++ {
			for i := 0; i < n; i++ {
				samples[i] = br.read(bpc)
			}
			var c color.NRGBA
			if lut != nil {
				c = lut[samples[0]]
			} else {
				for i := range comps {
					comps[i] = dec[2*i] + float64(samples[i])*(dec[2*i+1]-dec[2*i])/maxv
				}
				c = cmm.NRGBA(cs, comps, 1)
			}
			if colorKeyed(samples, img.MaskColors) {
				c.A = 0
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out, nil
}

// colorKeyed reports whether samples fall inside every /Mask range.
func colorKeyed(samples, ranges []int) bool {
	if len(ranges) < 2*len(samples) {
		return false
	}
	for i, v := range samples {
		if v < ranges[2*i] || v > ranges[2*i+1] {
			return false
		}
	}
	return true
}

// applyAlpha multiplies img's alpha by the grey level of mask, scaling
// the mask to img's size when they differ.
func applyAlpha(img, mask *image.NRGBA) {
	if mask.Rect.Size() != img.Rect.Size() {
		scaled := image.NewNRGBA(img.Rect)
		draw.BiLinear.Scale(scaled, scaled.Rect, mask, mask.Rect, draw.Src, nil)
		mask = scaled
	}
	for i := 0; i+3 < len(img.Pix) && i+3 < len(mask.Pix); i += 4 {
		// the mask is grey: any channel holds the level, scaled by its own alpha
		level := uint32(mask.Pix[i]) * uint32(mask.Pix[i+3]) / 255
		img.Pix[i+3] = uint8((uint32(img.Pix[i+3])*level + 127) / 255)
	}
}

// padded extends short image data with zeros.
func padded(data []byte, n int) []byte {
	if len(data) >= n {
		return data
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}

func unit8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// bitReader reads big-endian samples of 1 to 16 bits.
type bitReader struct {
	data []byte
	pos  int // in bits
}

func (b *bitReader) read(bits int) int {
	switch bits {
	case 8:
		i := b.pos / 8
		b.pos += 8
		if i >= len(b.data) {
			return 0
		}
		return int(b.data[i])
	case 16:
		i := b.pos / 8
		b.pos += 16
		if i+1 >= len(b.data) {
			return 0
		}
		return int(b.data[i])<<8 | int(b.data[i+1])
	}
	v := 0
	for k := 0; k < bits; k++ {
		i := b.pos / 8
		bit := 0
		if i < len(b.data) {
			bit = int(b.data[i]>>(7-uint(b.pos%8))) & 1
		}
		v = v<<1 | bit
		b.pos++
	}
	return v
}
