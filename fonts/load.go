package fonts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/observability"
)

// ErrNoFont reports a font resource that is not a font dictionary.
var ErrNoFont = errors.New("not a font dictionary")

// maxCIDs bounds CIDToGIDMap streams and W ranges.
const maxCIDs = 1 << 16

// Cache loads font resources and shares them between concurrent pages.
// Indirect fonts load once per reference; the first stored result wins.
// The zero value substitutes with GoFontLocator and logs nothing.
type Cache struct {
	Locator Locator
	Logger  observability.Logger

	fonts sync.Map // raw.ObjectRef -> cacheEntry
	subs  sync.Map // locator key -> substituteEntry
}

type cacheEntry struct {
	f   *Font
	err error
}

type substituteEntry struct {
	p   *ftFont
	err error
}

// Load builds the font described by obj, a font dictionary or a
// reference to one.
func (c *Cache) Load(ctx context.Context, src raw.Source, obj raw.Object) (*Font, error) {
	ref, ok := obj.(raw.RefObj)
	if !ok {
		return c.load(ctx, src, obj)
	}
	if e, ok := c.fonts.Load(ref.R); ok {
		ce := e.(cacheEntry)
		return ce.f, ce.err
	}
	f, err := c.load(ctx, src, obj)
	if ctx.Err() != nil {
		return f, err
	}
	e, _ := c.fonts.LoadOrStore(ref.R, cacheEntry{f: f, err: err})
	ce := e.(cacheEntry)
	return ce.f, ce.err
}

func (c *Cache) logger() observability.Logger { return observability.OrNop(c.Logger) }

func (c *Cache) locator() Locator {
	if c.Locator == nil {
		return GoFontLocator{}
	}
	return c.Locator
}

func (c *Cache) load(ctx context.Context, src raw.Source, obj raw.Object) (*Font, error) {
	d, ok := raw.DictOf(ctx, src, obj)
	if !ok {
		return nil, ErrNoFont
	}
	subtype, _ := raw.NameOf(ctx, src, d.Lookup(ctx, src, "Subtype"))
	base, _ := raw.NameOf(ctx, src, d.Lookup(ctx, src, "BaseFont"))
	f := &Font{BaseFont: base, Subtype: subtype}
	var err error
	switch subtype {
	case "Type0":
		err = c.loadComposite(ctx, src, d, f)
	case "Type3":
		err = c.loadType3(ctx, src, d, f)
	default:
		err = c.loadSimple(ctx, src, d, f)
	}
	if err != nil {
		return nil, fmt.Errorf("font %s: %w", base, err)
	}
	if tu := d.Lookup(ctx, src, "ToUnicode"); !raw.IsNull(tu) {
		if s, ok := tu.(*raw.StreamObj); ok {
			if data, err := src.DecodeStream(ctx, s); err == nil {
				f.toUnicode, err = ParseCMap(data, nil)
				if err != nil {
					c.logger().Warn("bad ToUnicode cmap", observability.String("font", base), observability.Error("error", err))
				}
			}
		}
	}
	return f, nil
}

// descriptor collects what substitution and encoding resolution need
// from a FontDescriptor.
type descriptor struct {
	dict   *raw.DictObj
	flags  int
	query  FontQuery
	hasAny bool
}

func readDescriptor(ctx context.Context, src raw.Source, obj raw.Object, base string) descriptor {
	out := descriptor{query: FontQuery{Name: StripSubsetTag(base)}}
	d, ok := raw.DictOf(ctx, src, obj)
	if !ok {
		return out
	}
	out.dict, out.hasAny = d, true
	if v, ok := raw.IntOf(ctx, src, d.Lookup(ctx, src, "Flags")); ok {
		out.flags = int(v)
	}
	out.query.Flags = out.flags
	if v, ok := raw.NumberOf(ctx, src, d.Lookup(ctx, src, "FontWeight")); ok {
		out.query.Weight = int(v)
	}
	if s, ok := raw.StringOf(ctx, src, d.Lookup(ctx, src, "FontFamily")); ok {
		out.query.Family = string(s)
	}
	return out
}

func (d descriptor) symbolic() bool {
	return d.flags&FlagSymbolic != 0 && d.flags&FlagNonsymbolic == 0
}

// program loads the embedded font program of a descriptor, falling back
// to a substitute when it is missing or unreadable.
func (c *Cache) program(ctx context.Context, src raw.Source, desc descriptor, cid bool) (program, bool, error) {
	if desc.dict != nil {
		p, err := c.embedded(ctx, src, desc.dict, cid)
		if err == nil && p != nil {
			return p, false, nil
		}
		if err != nil {
			c.logger().Warn("embedded font unusable, substituting",
				observability.String("font", desc.query.Name), observability.Error("error", err))
		}
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	p, err := c.substitute(desc.query)
	return p, true, err
}

func (c *Cache) embedded(ctx context.Context, src raw.Source, d *raw.DictObj, cid bool) (program, error) {
	for _, key := range []string{"FontFile", "FontFile2", "FontFile3"} {
		s, ok := raw.StreamOf(ctx, src, d.Lookup(ctx, src, key))
		if !ok {
			continue
		}
		data, err := src.DecodeStream(ctx, s)
		if err != nil {
			return nil, err
		}
		switch key {
		case "FontFile":
			return parseType1(data)
		case "FontFile2":
			if tt, err := parseTrueType(data); err == nil {
				return tt, nil
			}
			return parseSFNT(data)
		}
		sub, _ := raw.NameOf(ctx, src, s.Dict.Lookup(ctx, src, "Subtype"))
		if sub == "OpenType" || isOpenTypeCFF(data) || len(data) > 4 && string(data[:4]) == "\x00\x01\x00\x00" {
			return openTypeProgram(data, cid)
		}
		return parseCFF(data)
	}
	return nil, nil
}

// openTypeProgram reads an OpenType FontFile3. CID-keyed users need the
// CFF charset, so they read the CFF table directly.
func openTypeProgram(data []byte, cid bool) (program, error) {
	if cid && isOpenTypeCFF(data) {
		return openTypeCFF(data)
	}
	if s, err := parseSFNT(data); err == nil {
		return s, nil
	}
	if isOpenTypeCFF(data) {
		return openTypeCFF(data)
	}
	return parseTrueType(data)
}

func (c *Cache) substitute(q FontQuery) (program, error) {
	key, data, err := c.locator().Locate(q)
	if err != nil {
		return nil, err
	}
	if e, ok := c.subs.Load(key); ok {
		se := e.(substituteEntry)
		return se.p, se.err
	}
	p, err := parseSubstitute(data)
	e, _ := c.subs.LoadOrStore(key, substituteEntry{p: p, err: err})
	se := e.(substituteEntry)
	if se.err != nil {
		return nil, se.err
	}
	return se.p, nil
}

func (c *Cache) loadSimple(ctx context.Context, src raw.Source, d *raw.DictObj, f *Font) error {
	desc := readDescriptor(ctx, src, d.Lookup(ctx, src, "FontDescriptor"), f.BaseFont)
	if std, ok := NormalizeStandard14(f.BaseFont); ok {
		desc.query.Name = std
	}
	prog, substituted, err := c.program(ctx, src, desc, false)
	if err != nil {
		return err
	}
	f.prog, f.Substituted, f.Kind = prog, substituted, programKind(prog)
	c.readWidths(ctx, src, d, desc, f)
	f.enc = c.simpleEncoding(ctx, src, d, f)
	c.mapCodes(f, desc)
	return nil
}

func (c *Cache) readWidths(ctx context.Context, src raw.Source, d *raw.DictObj, desc descriptor, f *Font) {
	if fc, ok := raw.IntOf(ctx, src, d.Lookup(ctx, src, "FirstChar")); ok {
		f.firstChar = int(fc)
	}
	if ws, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "Widths")); ok {
		f.widths, f.hasWidths = ws, true
	}
	if desc.dict != nil {
		if mw, ok := raw.NumberOf(ctx, src, desc.dict.Lookup(ctx, src, "MissingWidth")); ok {
			f.missingWidth = mw
		}
	}
}

// simpleEncoding resolves the code to glyph name table: the /Encoding
// entry or its BaseEncoding, else the standard 14 font's own encoding,
// else the program's built-in encoding, else StandardEncoding; then the
// Differences are applied. TrueType fonts without an Encoding have no
// table and map codes through their cmap.
func (c *Cache) simpleEncoding(ctx context.Context, src raw.Source, d *raw.DictObj, f *Font) *Encoding {
	var enc *Encoding
	var diffs *raw.ArrayObj
	encObj := d.Lookup(ctx, src, "Encoding")
	switch e := encObj.(type) {
	case raw.NameObj:
		var ok bool
		if enc, ok = NamedEncoding(e.Val); !ok {
			c.logger().Warn("unknown encoding", observability.String("font", f.BaseFont), observability.String("encoding", e.Val))
		}
	case *raw.DictObj:
		if name, ok := raw.NameOf(ctx, src, e.Lookup(ctx, src, "BaseEncoding")); ok {
			enc, _ = NamedEncoding(name)
		}
		diffs, _ = raw.ArrayOf(ctx, src, e.Lookup(ctx, src, "Differences"))
	}
	if f.Subtype == "TrueType" && raw.IsNull(encObj) {
		return nil
	}
	if enc == nil {
		switch std, _ := NormalizeStandard14(f.BaseFont); std {
		case "":
		case "Symbol":
			enc = symbolEnc.Clone()
		case "ZapfDingbats":
		default:
			enc = stdEnc.Clone()
		}
	}
	if enc == nil {
		if ep, ok := f.prog.(encodedProgram); ok && ep.builtinEncoding() != nil {
			enc = ep.builtinEncoding().Clone()
		}
	}
	if enc == nil {
		enc = stdEnc.Clone()
	}
	if diffs != nil {
		applyDifferences(ctx, src, enc, diffs)
	}
	return enc
}

func applyDifferences(ctx context.Context, src raw.Source, enc *Encoding, diffs *raw.ArrayObj) {
	code := -1
	for _, it := range diffs.Items {
		switch v := raw.Deref(ctx, src, it).(type) {
		case raw.NumberObj:
			code = int(v.Int())
		case raw.NameObj:
			if code >= 0 && code < 256 {
				enc[code] = v.Val
				code++
			}
		}
	}
}

// mapCodes fills the code to glyph index table of a simple font.
func (c *Cache) mapCodes(f *Font, desc descriptor) {
	tt, isTT := f.prog.(*ttFont)
	sym, hasSymbol := f.prog.(symbolProgram)
	for code := 0; code < 256; code++ {
		name := ""
		if f.enc != nil {
			name = f.enc[code]
		}
		if name != "" {
			if gid, ok := f.prog.gidByName(name); ok {
				f.codeGID[code] = gid
				continue
			}
		}
		if hasSymbol && (f.enc == nil || desc.symbolic() || isTT && !tt.hasCmap(3, 1)) {
			if gid, ok := sym.gidBySymbol(byte(code)); ok {
				f.codeGID[code] = gid
				continue
			}
		}
		if f.Substituted && name == "" {
			if gid, ok := f.prog.gidByRune(rune(code)); ok {
				f.codeGID[code] = gid
			}
		}
	}
}

func (c *Cache) loadType3(ctx context.Context, src raw.Source, d *raw.DictObj, f *Font) error {
	t3 := &Type3{Matrix: coords.Matrix{0.001, 0, 0, 0.001, 0, 0}, procs: make(map[string]*raw.StreamObj)}
	if m, ok := raw.Floats(ctx, src, d.Lookup(ctx, src, "FontMatrix")); ok && len(m) == 6 {
		copy(t3.Matrix[:], m)
	}
	procs, ok := raw.DictOf(ctx, src, d.Lookup(ctx, src, "CharProcs"))
	if !ok {
		return errors.New("Type3 font without CharProcs")
	}
	for _, k := range procs.Keys() {
		if s, ok := raw.StreamOf(ctx, src, procs.Lookup(ctx, src, k)); ok {
			t3.procs[k] = s
		}
	}
	t3.Resources, _ = raw.DictOf(ctx, src, d.Lookup(ctx, src, "Resources"))
	f.type3, f.Kind = t3, KindType3
	desc := readDescriptor(ctx, src, d.Lookup(ctx, src, "FontDescriptor"), f.BaseFont)
	c.readWidths(ctx, src, d, desc, f)
	enc := new(Encoding)
	if e, ok := raw.DictOf(ctx, src, d.Lookup(ctx, src, "Encoding")); ok {
		if name, ok := raw.NameOf(ctx, src, e.Lookup(ctx, src, "BaseEncoding")); ok {
			if base, ok := NamedEncoding(name); ok {
				enc = base
			}
		}
		if diffs, ok := raw.ArrayOf(ctx, src, e.Lookup(ctx, src, "Differences")); ok {
			applyDifferences(ctx, src, enc, diffs)
		}
	}
	f.enc = enc
	return nil
}

func (c *Cache) loadComposite(ctx context.Context, src raw.Source, d *raw.DictObj, f *Font) error {
	f.composite = true
	f.cmap = c.encodingCMap(ctx, src, d.Lookup(ctx, src, "Encoding"), f.BaseFont)
	f.vertical = f.cmap.Vertical
	descendants, ok := raw.ArrayOf(ctx, src, d.Lookup(ctx, src, "DescendantFonts"))
	if !ok || descendants.Len() == 0 {
		return errors.New("Type0 font without DescendantFonts")
	}
	cd, ok := raw.DictOf(ctx, src, descendants.Items[0])
	if !ok {
		return errors.New("descendant font is not a dictionary")
	}
	cidSub, _ := raw.NameOf(ctx, src, cd.Lookup(ctx, src, "Subtype"))
	desc := readDescriptor(ctx, src, cd.Lookup(ctx, src, "FontDescriptor"), f.BaseFont)
	prog, substituted, err := c.program(ctx, src, desc, true)
	if err != nil {
		return err
	}
	f.prog, f.Substituted, f.Kind = prog, substituted, programKind(prog)

	f.dw = 1000
	if dw, ok := raw.NumberOf(ctx, src, cd.Lookup(ctx, src, "DW")); ok {
		f.dw = dw
	}
	if w, ok := raw.ArrayOf(ctx, src, cd.Lookup(ctx, src, "W")); ok {
		f.cw = parseW(ctx, src, w)
	}
	f.dw2 = vMetric{w1y: -1000, vy: 880}
	if dw2, ok := raw.Floats(ctx, src, cd.Lookup(ctx, src, "DW2")); ok && len(dw2) == 2 {
		f.dw2 = vMetric{vy: dw2[0], w1y: dw2[1]}
	}
	if w2, ok := raw.ArrayOf(ctx, src, cd.Lookup(ctx, src, "W2")); ok {
		f.w2 = parseW2(ctx, src, w2)
	}
	if cidSub == "CIDFontType2" && !substituted {
		if s, ok := raw.StreamOf(ctx, src, cd.Lookup(ctx, src, "CIDToGIDMap")); ok {
			data, err := src.DecodeStream(ctx, s)
			if err != nil {
				c.logger().Warn("CIDToGIDMap unreadable", observability.String("font", f.BaseFont), observability.Error("error", err))
			} else {
				n := len(data) / 2
				if n > maxCIDs {
					n = maxCIDs
				}
				f.cidToGID = make([]uint16, n)
				for i := range f.cidToGID {
					f.cidToGID[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
				}
			}
		}
	}
	return nil
}

func (c *Cache) encodingCMap(ctx context.Context, src raw.Source, obj raw.Object, font string) *CMap {
	switch e := obj.(type) {
	case raw.NameObj:
		if cm, ok := PredefinedCMap(e.Val); ok {
			return cm
		}
		c.logger().Warn("predefined cmap not available, using Identity",
			observability.String("font", font), observability.String("cmap", e.Val))
	case *raw.StreamObj:
		data, err := src.DecodeStream(ctx, e)
		if err == nil {
			var cm *CMap
			if cm, err = ParseCMap(data, PredefinedCMap); err == nil {
				if name, ok := raw.NameOf(ctx, src, e.Dict.Lookup(ctx, src, "UseCMap")); ok {
					err = cm.use(name, PredefinedCMap, 0)
				}
				if err == nil {
					return cm
				}
			}
		}
		c.logger().Warn("embedded cmap unreadable, using Identity",
			observability.String("font", font), observability.Error("error", err))
	}
	return IdentityCMap(false)
}

// parseW reads "c [w1 w2 ...]" and "cfirst clast w" entries.
func parseW(ctx context.Context, src raw.Source, arr *raw.ArrayObj) cidWidths {
	out := cidWidths{single: make(map[int]float64)}
	items := arr.Items
	for i := 0; i < len(items); {
		first, ok := raw.IntOf(ctx, src, items[i])
		if !ok || i+1 >= len(items) {
			break
		}
		if ws, ok := raw.ArrayOf(ctx, src, items[i+1]); ok {
			for j, it := range ws.Items {
				if w, ok := raw.NumberOf(ctx, src, it); ok && j < maxCIDs {
					out.single[int(first)+j] = w
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(items) {
			break
		}
		last, ok1 := raw.IntOf(ctx, src, items[i+1])
		w, ok2 := raw.NumberOf(ctx, src, items[i+2])
		if ok1 && ok2 && last >= first {
			out.ranges = append(out.ranges, widthRange{first: int(first), last: int(last), w: w})
		}
		i += 3
	}
	return out
}

// parseW2 reads "c [w1y vx vy ...]" and "cfirst clast w1y vx vy"
// entries.
func parseW2(ctx context.Context, src raw.Source, arr *raw.ArrayObj) map[int]vMetric {
	out := make(map[int]vMetric)
	items := arr.Items
	for i := 0; i < len(items); {
		first, ok := raw.IntOf(ctx, src, items[i])
		if !ok || i+1 >= len(items) {
			break
		}
		if vs, ok := raw.Floats(ctx, src, items[i+1]); ok {
			for j := 0; j+2 < len(vs); j += 3 {
				out[int(first)+j/3] = vMetric{w1y: vs[j], vx: vs[j+1], vy: vs[j+2]}
			}
			i += 2
			continue
		}
		if i+4 >= len(items) {
			break
		}
		last, _ := raw.IntOf(ctx, src, items[i+1])
		vs := make([]float64, 3)
		for k := range vs {
			vs[k], _ = raw.NumberOf(ctx, src, items[i+2+k])
		}
		for cid := first; cid <= last && cid-first < maxCIDs; cid++ {
			out[int(cid)] = vMetric{w1y: vs[0], vx: vs[1], vy: vs[2]}
		}
		i += 5
	}
	return out
}
