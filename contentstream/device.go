package contentstream

import (
	"context"
	"image/color"

	"github.com/redforks/nipdf/cmm"
	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/fonts"
	"github.com/redforks/nipdf/ir/raw"
)

// Device receives the drawing calls of a content stream. Paths arrive in
// user space; DrawState.CTM maps them to device space. Implementations
// need not be safe for concurrent use: a device belongs to one page.
type Device interface {
	Fill(path *coords.Path, rule FillRule, paint Paint, st DrawState)
	Stroke(path *coords.Path, style StrokeStyle, paint Paint, st DrawState)
	// Image paints img into the unit square of user space. paint is the
	// fill colour, used by stencil masks.
	Image(img *Image, paint Paint, st DrawState)
	// Shade paints sh over the whole clip region; sh is in user space.
	Shade(sh *Shading, alpha float64, st DrawState)
}

// TextObserver is implemented by devices that want the text shown,
// such as text extraction.
type TextObserver interface {
	ShowGlyph(g Glyph)
}

// Glyph describes one shown character.
type Glyph struct {
	Char fonts.Char
	// Text is the Unicode text of the character, "" when unknown.
	Text string
	// Matrix maps text space, where one unit is the font size, to device
	// space.
	Matrix coords.Matrix
	// Advance is the horizontal (or, for vertical fonts, vertical)
	// displacement in text space.
	Advance  float64
	FontSize float64
	Vertical bool
}

// DrawState is the part of the graphics state every drawing call needs.
type DrawState struct {
	CTM  coords.Matrix
	Clip *Clip
	// BlendMode is the /BM name; devices may treat anything but Normal as
	// Normal.
	BlendMode string
}

// Clip is an immutable chain of clipping paths in device space. The
// visible region is the intersection of every path in the chain. A nil
// *Clip clips nothing.
type Clip struct {
	Path   *coords.Path
	Rule   FillRule
	Parent *Clip
}

// Depth is the number of paths in the chain.
func (c *Clip) Depth() int {
	n := 0
	for ; c != nil; c = c.Parent {
		n++
	}
	return n
}

// Paint is the colour source of a fill or stroke: a solid colour, or a
// pattern when Pattern is set. Color carries the constant alpha.
type Paint struct {
	Color   color.NRGBA
	Pattern *Pattern
}

// Pattern is a resolved pattern colour.
type Pattern struct {
	// Matrix maps pattern space to device space.
	Matrix  coords.Matrix
	Shading *Shading
	Tiling  *Tiling
}

// Tiling is a tiling pattern cell, repeated every XStep and YStep in
// pattern space.
type Tiling struct {
	BBox         coords.Rect
	XStep, YStep float64
	// Colored is false for uncoloured patterns, whose cell is drawn in the
	// Paint's colour.
	Colored bool
	// Draw runs the cell's content stream onto dev with m mapping
	// pattern space to dev's space.
	Draw func(ctx context.Context, dev Device, m coords.Matrix) error
}

// Image is an image XObject or inline image, decoded up to its image
// codec.
type Image struct {
	// Dict is the image dictionary with inline abbreviations expanded.
	Dict *raw.DictObj
	// Data is the stream payload after general-purpose filters. When Codec
	// is set it is still encoded in that format.
	Data   []byte
	Codec  string
	Width  int
	Height int
	// BitsPerComponent is 1 for stencil masks.
	BitsPerComponent int
	// ColorSpace is nil for stencil masks and for codec payloads that
	// carry their own colour space.
	ColorSpace  cmm.ColorSpace
	ImageMask   bool
	Decode      []float64
	Interpolate bool
	// SMask is the soft mask image, a DeviceGray alpha channel.
	SMask *Image
	// MaskColors are the colour key ranges of a /Mask array, two raw
	// sample values per component.
	MaskColors []int
	// Stream is nil for inline images.
	Stream *raw.StreamObj
}
