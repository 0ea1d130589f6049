package xref

import (
	"bytes"
	"context"

	"github.com/redforks/nipdf/filters"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/observability"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/scanner"
)

// Repair scans the entire file to reconstruct the directory from
// "<num> <gen> obj" markers. When a number is defined more than once, the
// last definition in file order wins. Members of object streams are added
// for ids with no direct definition. The trailer is the last trailer
// dictionary (or xref stream dictionary) in the file, and when that has no
// usable /Root, the first catalog found.
func Repair(ctx context.Context, data []byte, cfg ResolverConfig) (Table, error) {
	t := newTable()
	t.kind = "repaired"
	t.repaired = true
	t.sections = 1
	for _, m := range findObjectMarkers(data) {
		t.entries[m.num] = Entry{Kind: EntryInFile, Offset: m.offset, Gen: m.gen}
	}
	if len(t.entries) == 0 {
		return nil, recovery.NewParseError("xref", 0, "repair failed: no objects found")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := raw.NewObjectParser(data, raw.ParserConfig{Recovery: &recovery.LenientStrategy{}})
	var streams []int
	var catalog int
	for _, num := range t.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := t.entries[num]
		if err := p.SeekTo(e.Offset); err != nil {
			continue
		}
		_, obj, err := p.ParseIndirect()
		if err != nil {
			continue
		}
		dict, ok := raw.DictOf(ctx, nil, obj)
		if !ok {
			continue
		}
		switch typ, _ := dict.Name("Type"); typ {
		case "ObjStm":
			streams = append(streams, num)
		case "XRef":
			if _, ok := dict.Get("Root"); ok {
				mergeTrailer(t.trailer, dict)
			}
		case "Catalog":
			if catalog == 0 {
				catalog = num
			}
		}
	}
	for _, tr := range findTrailers(data) {
		mergeTrailer(t.trailer, tr)
	}

	if cfg.Decoder == nil {
		cfg.Decoder = plainDecoder(filters.DefaultPipeline(cfg.Limits).WithRecovery(cfg.Recovery))
	}
	for _, snum := range streams {
		addObjectStreamMembers(ctx, t, p, snum, cfg)
	}
	if catalog == 0 {
		catalog = findCatalogInStreams(ctx, t, p, cfg)
	}
	if ref, ok := t.trailer.KV["Root"].(raw.RefObj); !ok || !t.has(ref.R.Num) {
		if catalog == 0 {
			return nil, recovery.NewParseError("xref", 0, "repair failed: no document catalog")
		}
		t.trailer.Set("Root", raw.Ref(catalog, t.entries[catalog].Gen))
	}
	t.trailer.Set("Size", raw.NumberInt(int64(t.maxNum()+1)))
	observability.OrNop(cfg.Logger).Info("xref repaired", observability.Int("objects", len(t.entries)))
	return t, nil
}

// mergeTrailer lets later trailers override earlier keys.
func mergeTrailer(dst, src *raw.DictObj) {
	for _, k := range src.Keys() {
		switch k {
		case "Prev", "XRefStm", "W", "Index", "Length", "Filter", "DecodeParms", "Type":
			continue
		}
		dst.Set(k, src.KV[k])
	}
}

func (t *table) has(num int) bool {
	e, ok := t.entries[num]
	return ok && e.Kind != EntryFree
}

func (t *table) maxNum() int {
	m := 0
	for n := range t.entries {
		if n > m {
			m = n
		}
	}
	return m
}

func addObjectStreamMembers(ctx context.Context, t *table, p *raw.ObjectParser, snum int, cfg ResolverConfig) {
	s, ok := loadStream(p, t.entries[snum])
	if !ok {
		return
	}
	payload, err := cfg.Decoder(ctx, s)
	if err != nil {
		return
	}
	members, _, _ := ParseObjectStreamHeader(s.Dict, payload)
	for i, m := range members {
		if _, direct := t.entries[m.Num]; !direct {
			t.entries[m.Num] = Entry{Kind: EntryInStream, Stream: snum, Index: i}
		}
	}
}

// findCatalogInStreams looks for a catalog packed into an object stream.
func findCatalogInStreams(ctx context.Context, t *table, p *raw.ObjectParser, cfg ResolverConfig) int {
	cache := make(map[int][]byte)
	for _, num := range t.Objects() {
		e := t.entries[num]
		if e.Kind != EntryInStream {
			continue
		}
		payload, ok := cache[e.Stream]
		if !ok {
			if s, ok := loadStream(p, t.entries[e.Stream]); ok {
				payload, _ = cfg.Decoder(ctx, s)
			}
			cache[e.Stream] = payload
		}
		if bytes.Contains(payload, []byte("/Catalog")) {
			s, _ := loadStream(p, t.entries[e.Stream])
			if s == nil {
				continue
			}
			members, first, err := ParseObjectStreamHeader(s.Dict, payload)
			if err != nil || e.Index >= len(members) {
				continue
			}
			op := raw.NewObjectParser(payload, raw.ParserConfig{})
			if op.SeekTo(first+members[e.Index].Offset) != nil {
				continue
			}
			if obj, err := op.ParseObject(); err == nil {
				if d, ok := obj.(*raw.DictObj); ok {
					if typ, _ := d.Name("Type"); typ == "Catalog" {
						return num
					}
				}
			}
		}
	}
	return 0
}

func loadStream(p *raw.ObjectParser, e Entry) (*raw.StreamObj, bool) {
	if e.Kind != EntryInFile || p.SeekTo(e.Offset) != nil {
		return nil, false
	}
	_, obj, err := p.ParseIndirect()
	if err != nil {
		return nil, false
	}
	s, ok := obj.(*raw.StreamObj)
	return s, ok
}

type marker struct {
	num, gen int
	offset   int64
}

// findObjectMarkers finds every "num gen obj" at a token boundary.
func findObjectMarkers(data []byte) []marker {
	var out []marker
	for i := 0; ; {
		j := bytes.Index(data[i:], []byte("obj"))
		if j < 0 {
			break
		}
		pos := i + j
		i = pos + 3
		if pos+3 < len(data) && !scanner.IsWhitespace(data[pos+3]) && !scanner.IsDelimiter(data[pos+3]) {
			continue // "objects", "endobj" is caught below
		}
		k := pos - 1
		if k < 0 || !scanner.IsWhitespace(data[k]) {
			continue
		}
		for k >= 0 && scanner.IsWhitespace(data[k]) {
			k--
		}
		gen, genStart, ok := readIntBackward(data, k)
		if !ok || genStart == 0 || !scanner.IsWhitespace(data[genStart-1]) {
			continue
		}
		k = genStart - 1
		for k >= 0 && scanner.IsWhitespace(data[k]) {
			k--
		}
		num, numStart, ok := readIntBackward(data, k)
		if !ok {
			continue
		}
		if numStart > 0 && !scanner.IsWhitespace(data[numStart-1]) && !scanner.IsDelimiter(data[numStart-1]) {
			continue
		}
		out = append(out, marker{num: num, gen: gen, offset: int64(numStart)})
	}
	return out
}

func readIntBackward(data []byte, end int) (int, int, bool) {
	start := end
	for start >= 0 && data[start] >= '0' && data[start] <= '9' {
		start--
	}
	start++
	if start > end || end-start > 9 {
		return 0, 0, false
	}
	v := 0
	for _, c := range data[start : end+1] {
		v = v*10 + int(c-'0')
	}
	return v, start, true
}

// findTrailers parses every "trailer" dictionary in file order.
func findTrailers(data []byte) []*raw.DictObj {
	var out []*raw.DictObj
	p := raw.NewObjectParser(data, raw.ParserConfig{Recovery: &recovery.LenientStrategy{}})
	for i := 0; ; {
		j := bytes.Index(data[i:], []byte("trailer"))
		if j < 0 {
			break
		}
		pos := i + j + len("trailer")
		i = pos
		if p.SeekTo(int64(pos)) != nil {
			continue
		}
		obj, err := p.ParseObject()
		if err != nil {
			continue
		}
		if d, ok := obj.(*raw.DictObj); ok {
			out = append(out, d)
		}
	}
	return out
}
