package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/observability"
)

// DefaultMediaBox is US Letter, used when no node of the tree declares
// a MediaBox.
var DefaultMediaBox = coords.Rect{MaxX: 612, MaxY: 792}

// Page is a leaf of the page tree with its inheritable attributes
// resolved.
type Page struct {
	Index int
	// Ref is the page object's reference, zero for a direct page
	// dictionary.
	Ref  raw.ObjectRef
	Dict *raw.DictObj

	MediaBox coords.Rect
	// CropBox is clipped to MediaBox; it equals MediaBox when absent or
	// degenerate.
	CropBox coords.Rect
	// Rotate is the clockwise rotation, normalized to 0, 90, 180 or 270.
	Rotate    int
	Resources *raw.DictObj
}

// Size returns the displayed width and height of the page in points,
// with the rotation applied.
func (p *Page) Size() (w, h float64) {
	w, h = p.CropBox.Width(), p.CropBox.Height()
	if p.Rotate == 90 || p.Rotate == 270 {
		w, h = h, w
	}
	return w, h
}

// Contents decodes the page's content streams and joins them with a
// newline between streams. A stream that fails to decode is skipped and
// reported through warn; the others still render.
func (p *Page) Contents(ctx context.Context, src raw.Source, warn func(error)) ([]byte, error) {
	var streams []*raw.StreamObj
	switch c := p.Dict.Lookup(ctx, src, "Contents").(type) {
	case *raw.StreamObj:
		streams = append(streams, c)
	case *raw.ArrayObj:
		for _, it := range c.Items {
			if s, ok := raw.StreamOf(ctx, src, it); ok {
				streams = append(streams, s)
			}
		}
	}
	var out []byte
	for i, s := range streams {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := src.DecodeStream(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if warn != nil {
				warn(fmt.Errorf("page %d content stream %d: %w", p.Index, i, err))
			}
			if len(data) == 0 {
				continue
			}
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, data...)
	}
	return out, nil
}

// TreeConfig bounds the page tree walk.
type TreeConfig struct {
	// MaxDepth bounds Kids nesting. Zero means 64.
	MaxDepth int
	Logger   observability.Logger
}

// ErrNoPages reports a catalog without a usable page tree.
var ErrNoPages = errors.New("document has no page tree")

type inherited struct {
	mediaBox  *coords.Rect
	cropBox   *coords.Rect
	rotate    int
	resources *raw.DictObj
}

type treeWalker struct {
	src     raw.Resolver
	cfg     TreeConfig
	log     observability.Logger
	visited map[raw.ObjectRef]bool
	pages   []*Page
}

// LoadPages flattens the page tree under the catalog's /Pages into
// document order. Kids that are not dictionaries, repeated nodes and
// nodes nested beyond the depth bound are skipped with a warning.
func LoadPages(ctx context.Context, src raw.Resolver, catalog *raw.DictObj, cfg TreeConfig) ([]*Page, error) {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 64
	}
	w := &treeWalker{src: src, cfg: cfg, log: observability.OrNop(cfg.Logger), visited: make(map[raw.ObjectRef]bool)}
	root, _ := catalog.Get("Pages")
	if _, ok := raw.DictOf(ctx, src, root); !ok {
		return nil, ErrNoPages
	}
	if err := w.walk(ctx, root, inherited{}, 0); err != nil {
		return nil, err
	}
	return w.pages, nil
}

func (w *treeWalker) walk(ctx context.Context, obj raw.Object, inh inherited, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ref raw.ObjectRef
	if r, ok := obj.(raw.RefObj); ok {
		ref = r.R
		if w.visited[ref] {
			w.log.Warn("page tree node visited twice, skipping", observability.Int("object", ref.Num))
			return nil
		}
		w.visited[ref] = true
	}
	node, ok := raw.DictOf(ctx, w.src, obj)
	if !ok {
		w.log.Warn("page tree kid is not a dictionary", observability.Int("object", ref.Num))
		return nil
	}
	inh = w.inherit(ctx, node, inh)

	kids, hasKids := raw.ArrayOf(ctx, w.src, node.Lookup(ctx, w.src, "Kids"))
	typ, _ := raw.NameOf(ctx, w.src, node.Lookup(ctx, w.src, "Type"))
	if typ == "Page" || typ != "Pages" && !hasKids {
		w.pages = append(w.pages, w.leaf(node, ref, inh))
		return nil
	}
	if depth >= w.cfg.MaxDepth {
		w.log.Warn("page tree too deep, skipping subtree", observability.Int("object", ref.Num), observability.Int("depth", depth))
		return nil
	}
	if !hasKids {
		return nil
	}
	for _, kid := range kids.Items {
		if err := w.walk(ctx, kid, inh, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *treeWalker) inherit(ctx context.Context, node *raw.DictObj, inh inherited) inherited {
	if r, ok := Rect(ctx, w.src, node.Lookup(ctx, w.src, "MediaBox")); ok {
		inh.mediaBox = &r
	}
	if r, ok := Rect(ctx, w.src, node.Lookup(ctx, w.src, "CropBox")); ok {
		inh.cropBox = &r
	}
	if v, ok := raw.IntOf(ctx, w.src, node.Lookup(ctx, w.src, "Rotate")); ok {
		inh.rotate = int(v)
	}
	if res, ok := raw.DictOf(ctx, w.src, node.Lookup(ctx, w.src, "Resources")); ok {
		inh.resources = res
	}
	return inh
}

func (w *treeWalker) leaf(node *raw.DictObj, ref raw.ObjectRef, inh inherited) *Page {
	p := &Page{Index: len(w.pages), Ref: ref, Dict: node, MediaBox: DefaultMediaBox, Resources: inh.resources}
	if inh.mediaBox != nil && !inh.mediaBox.Empty() {
		p.MediaBox = *inh.mediaBox
	}
	p.CropBox = p.MediaBox
	if inh.cropBox != nil {
		if c := inh.cropBox.Intersect(p.MediaBox); !c.Empty() {
			p.CropBox = c
		}
	}
	p.Rotate = ((inh.rotate/90)%4 + 4) % 4 * 90
	if p.Resources == nil {
		p.Resources = raw.Dict()
	}
	return p
}

// Rect reads a rectangle array such as a MediaBox or BBox, normalizing
// the corner order.
func Rect(ctx context.Context, src raw.Resolver, obj raw.Object) (coords.Rect, bool) {
	v, ok := raw.Floats(ctx, src, obj)
	if !ok || len(v) != 4 {
		return coords.Rect{}, false
	}
	return coords.NewRect(v[0], v[1], v[2], v[3]), true
}
