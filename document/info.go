package document

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/redforks/nipdf/filters"
	"github.com/redforks/nipdf/ir/raw"
)

// Info is the document information dictionary with text strings
// decoded, plus catalog-level metadata.
type Info struct {
	Title        string
	Author       string
	Subject      string
	Keywords     string
	Creator      string
	Producer     string
	CreationDate string
	ModDate      string
	// Lang is the catalog's natural language, such as "en-US".
	Lang   string
	Marked bool
	// XMP is the decoded catalog /Metadata stream, if any.
	XMP []byte
}

// Info reads the trailer's /Info dictionary and catalog metadata.
// Missing or damaged entries are left empty.
func (d *Document) Info(ctx context.Context) Info {
	src := d.doc.Loader
	var info Info
	if dict, ok := raw.DictOf(ctx, src, d.doc.Trailer.Lookup(ctx, src, "Info")); ok {
		for key, dst := range map[string]*string{
			"Title":        &info.Title,
			"Author":       &info.Author,
			"Subject":      &info.Subject,
			"Keywords":     &info.Keywords,
			"Creator":      &info.Creator,
			"Producer":     &info.Producer,
			"CreationDate": &info.CreationDate,
			"ModDate":      &info.ModDate,
		} {
			if s, ok := raw.StringOf(ctx, src, dict.Lookup(ctx, src, key)); ok {
				*dst = TextString(s)
			}
		}
	}
	cat := d.doc.Catalog
	if s, ok := raw.StringOf(ctx, src, cat.Lookup(ctx, src, "Lang")); ok {
		info.Lang = TextString(s)
	}
	if mi, ok := raw.DictOf(ctx, src, cat.Lookup(ctx, src, "MarkInfo")); ok {
		if b, ok := raw.Deref(ctx, src, mi.Lookup(ctx, src, "Marked")).(raw.BoolObj); ok {
			info.Marked = b.V
		}
	}
	if s, ok := raw.StreamOf(ctx, src, cat.Lookup(ctx, src, "Metadata")); ok {
		if data, err := src.DecodeStream(ctx, s); err == nil {
			info.XMP = data
		}
	}
	return info
}

// pdfDocHigh maps the PDFDocEncoding codes that differ from Latin-1.
var pdfDocHigh = map[byte]rune{
	0x80: '•', 0x81: '†', 0x82: '‡', 0x83: '…',
	0x84: '—', 0x85: '–', 0x86: 'ƒ', 0x87: '⁄',
	0x88: '‹', 0x89: '›', 0x8A: '−', 0x8B: '‰',
	0x8C: '„', 0x8D: '“', 0x8E: '”', 0x8F: '‘',
	0x90: '’', 0x91: '‚', 0x92: '™', 0x93: 'ﬁ',
	0x94: 'ﬂ', 0x95: 'Ł', 0x96: 'Œ', 0x97: 'Š',
	0x98: 'Ÿ', 0x99: 'Ž', 0x9A: 'ı', 0x9B: 'ł',
	0x9C: 'œ', 0x9D: 'š', 0x9E: 'ž', 0xA0: '€',
}

// TextString decodes a PDF text string: UTF-16 with a byte order mark,
// UTF-8 with a BOM, or PDFDocEncoding.
func TextString(b []byte) string {
	switch {
	case bytes.HasPrefix(b, []byte{0xFE, 0xFF}):
		if out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(b); err == nil {
			return string(out)
		}
	case bytes.HasPrefix(b, []byte{0xFF, 0xFE}):
		if out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(b); err == nil {
			return string(out)
		}
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return string(b[3:])
	}
	var sb strings.Builder
	for _, c := range b {
		if r, ok := pdfDocHigh[c]; ok {
			sb.WriteRune(r)
			continue
		}
		sb.WriteRune(charmap.ISO8859_1.DecodeByte(c))
	}
	return sb.String()
}

// Bookmark is an outline entry. Page is -1 when the destination does not
// resolve to a page of this document.
type Bookmark struct {
	Title    string
	Page     int
	Children []Bookmark
}

const maxOutlineDepth = 32

// Outlines walks the document outline tree.
func (d *Document) Outlines(ctx context.Context) []Bookmark {
	src := d.doc.Loader
	root, ok := raw.DictOf(ctx, src, d.doc.Catalog.Lookup(ctx, src, "Outlines"))
	if !ok {
		return nil
	}
	w := &outlineWalker{d: d, seen: make(map[raw.ObjectRef]bool), pages: make(map[raw.ObjectRef]int)}
	for _, p := range d.pages {
		if p.Ref != (raw.ObjectRef{}) {
			w.pages[p.Ref] = p.Index
		}
	}
	first, _ := root.Get("First")
	return w.branch(ctx, first, 0)
}

type outlineWalker struct {
	d     *Document
	seen  map[raw.ObjectRef]bool
	pages map[raw.ObjectRef]int
}

func (w *outlineWalker) branch(ctx context.Context, obj raw.Object, depth int) []Bookmark {
	if depth > maxOutlineDepth {
		return nil
	}
	src := w.d.doc.Loader
	var list []Bookmark
	for obj != nil && !raw.IsNull(obj) && ctx.Err() == nil {
		if r, ok := obj.(raw.RefObj); ok {
			if w.seen[r.R] {
				break
			}
			w.seen[r.R] = true
		}
		item, ok := raw.DictOf(ctx, src, obj)
		if !ok {
			break
		}
		b := Bookmark{Page: -1}
		if s, ok := raw.StringOf(ctx, src, item.Lookup(ctx, src, "Title")); ok {
			b.Title = TextString(s)
		}
		if dest, ok := item.Get("Dest"); ok {
			b.Page = w.destPage(ctx, dest, 0)
		} else if a, ok := raw.DictOf(ctx, src, item.Lookup(ctx, src, "A")); ok {
			if s, _ := raw.NameOf(ctx, src, a.Lookup(ctx, src, "S")); s == "GoTo" {
				dest, _ := a.Get("D")
				b.Page = w.destPage(ctx, dest, 0)
			}
		}
		first, _ := item.Get("First")
		b.Children = w.branch(ctx, first, depth+1)
		list = append(list, b)
		obj, _ = item.Get("Next")
	}
	return list
}

// destPage resolves an explicit destination array, or a named one through
// the catalog's /Dests dictionary or /Names tree.
func (w *outlineWalker) destPage(ctx context.Context, dest raw.Object, depth int) int {
	if depth > 4 {
		return -1
	}
	src := w.d.doc.Loader
	switch v := raw.Deref(ctx, src, dest).(type) {
	case *raw.ArrayObj:
		if len(v.Items) == 0 {
			return -1
		}
		switch p := v.Items[0].(type) {
		case raw.RefObj:
			if idx, ok := w.pages[p.R]; ok {
				return idx
			}
		case raw.NumberObj:
			// remote-style page number
			if n := int(p.Float()); n >= 0 && n < len(w.d.pages) {
				return n
			}
		}
	case *raw.DictObj:
		d, _ := v.Get("D")
		return w.destPage(ctx, d, depth+1)
	case raw.NameObj:
		if dests, ok := raw.DictOf(ctx, src, w.d.doc.Catalog.Lookup(ctx, src, "Dests")); ok {
			return w.destPage(ctx, dests.Lookup(ctx, src, v.Val), depth+1)
		}
	case raw.StringObj:
		names, ok := raw.DictOf(ctx, src, w.d.doc.Catalog.Lookup(ctx, src, "Names"))
		if !ok {
			return -1
		}
		tree, _ := names.Get("Dests")
		if found := w.lookupName(ctx, tree, string(v.Bytes), 0); found != nil {
			return w.destPage(ctx, found, depth+1)
		}
	}
	return -1
}

// lookupName searches a name tree for key.
func (w *outlineWalker) lookupName(ctx context.Context, node raw.Object, key string, depth int) raw.Object {
	if depth > maxOutlineDepth {
		return nil
	}
	src := w.d.doc.Loader
	d, ok := raw.DictOf(ctx, src, node)
	if !ok {
		return nil
	}
	if names, ok := raw.ArrayOf(ctx, src, d.Lookup(ctx, src, "Names")); ok {
		for i := 0; i+1 < len(names.Items); i += 2 {
			if k, ok := raw.StringOf(ctx, src, names.Items[i]); ok && string(k) == key {
				return names.Items[i+1]
			}
		}
	}
	if kids, ok := raw.ArrayOf(ctx, src, d.Lookup(ctx, src, "Kids")); ok {
		for _, kid := range kids.Items {
			if found := w.lookupName(ctx, kid, key, depth+1); found != nil {
				return found
			}
		}
	}
	return nil
}

// FontInfo describes a font resource and the pages that use it.
type FontInfo struct {
	ResourceName string
	BaseFont     string
	Subtype      string
	Encoding     string
	Embedded     bool
	HasToUnicode bool
	Pages        []int
}

// Fonts reports the distinct fonts in page resources, sorted by name.
// Fonts used only inside form XObjects are not listed.
func (d *Document) Fonts(ctx context.Context) []FontInfo {
	src := d.doc.Loader
	byDict := make(map[*raw.DictObj]*FontInfo)
	var order []*raw.DictObj
	for _, p := range d.pages {
		fd, ok := raw.DictOf(ctx, src, p.Resources.Lookup(ctx, src, "Font"))
		if !ok {
			continue
		}
		for _, name := range fd.Keys() {
			f, ok := raw.DictOf(ctx, src, fd.Lookup(ctx, src, name))
			if !ok {
				continue
			}
			info, ok := byDict[f]
			if !ok {
				info = &FontInfo{ResourceName: name, Embedded: fontEmbedded(ctx, src, f)}
				info.BaseFont, _ = raw.NameOf(ctx, src, f.Lookup(ctx, src, "BaseFont"))
				info.Subtype, _ = raw.NameOf(ctx, src, f.Lookup(ctx, src, "Subtype"))
				info.Encoding, _ = raw.NameOf(ctx, src, f.Lookup(ctx, src, "Encoding"))
				_, info.HasToUnicode = raw.StreamOf(ctx, src, f.Lookup(ctx, src, "ToUnicode"))
				byDict[f] = info
				order = append(order, f)
			}
			if n := len(info.Pages); n == 0 || info.Pages[n-1] != p.Index {
				info.Pages = append(info.Pages, p.Index)
			}
		}
	}
	out := make([]FontInfo, 0, len(order))
	for _, f := range order {
		out = append(out, *byDict[f])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BaseFont == out[j].BaseFont {
			return out[i].ResourceName < out[j].ResourceName
		}
		return out[i].BaseFont < out[j].BaseFont
	})
	return out
}

func fontEmbedded(ctx context.Context, src raw.Source, f *raw.DictObj) bool {
	desc, ok := raw.DictOf(ctx, src, f.Lookup(ctx, src, "FontDescriptor"))
	if !ok {
		if kids, ok := raw.ArrayOf(ctx, src, f.Lookup(ctx, src, "DescendantFonts")); ok && len(kids.Items) > 0 {
			if cid, ok := raw.DictOf(ctx, src, kids.Items[0]); ok {
				return fontEmbedded(ctx, src, cid)
			}
		}
		return false
	}
	for _, k := range []string{"FontFile", "FontFile2", "FontFile3"} {
		if _, ok := raw.StreamOf(ctx, src, desc.Lookup(ctx, src, k)); ok {
			return true
		}
	}
	return false
}

// ImageInfo describes an image XObject in a page's resources.
type ImageInfo struct {
	Page             int
	ResourceName     string
	Width, Height    int
	BitsPerComponent int
	ColorSpace       string
	Filters          []string
}

// Images lists the image XObjects named in the resources of the page at
// index, without decoding them.
func (d *Document) Images(ctx context.Context, index int) ([]ImageInfo, error) {
	p, err := d.Page(index)
	if err != nil {
		return nil, err
	}
	src := d.doc.Loader
	xd, ok := raw.DictOf(ctx, src, p.Resources.Lookup(ctx, src, "XObject"))
	if !ok {
		return nil, nil
	}
	var out []ImageInfo
	for _, name := range xd.Keys() {
		s, ok := raw.StreamOf(ctx, src, xd.Lookup(ctx, src, name))
		if !ok {
			continue
		}
		if sub, _ := raw.NameOf(ctx, src, s.Dict.Lookup(ctx, src, "Subtype")); sub != "Image" {
			continue
		}
		info := ImageInfo{Page: index, ResourceName: name}
		w, _ := raw.IntOf(ctx, src, s.Dict.Lookup(ctx, src, "Width"))
		h, _ := raw.IntOf(ctx, src, s.Dict.Lookup(ctx, src, "Height"))
		bpc, _ := raw.IntOf(ctx, src, s.Dict.Lookup(ctx, src, "BitsPerComponent"))
		info.Width, info.Height, info.BitsPerComponent = int(w), int(h), int(bpc)
		switch cs := raw.Deref(ctx, src, s.Dict.Lookup(ctx, src, "ColorSpace")).(type) {
		case raw.NameObj:
			info.ColorSpace = cs.Val
		case *raw.ArrayObj:
			if len(cs.Items) > 0 {
				info.ColorSpace, _ = raw.NameOf(ctx, src, cs.Items[0])
			}
		}
		info.Filters, _ = filters.ExtractFilters(ctx, src, s.Dict)
		out = append(out, info)
	}
	return out, nil
}
