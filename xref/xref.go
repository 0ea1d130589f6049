package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redforks/nipdf/filters"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/observability"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/scanner"
)

type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInFile
	EntryInStream
)

// Entry locates one object. InFile entries use Offset and Gen; InStream
// entries use Stream (the object stream's number) and Index.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the merged object directory of a document.
type Table interface {
	Lookup(objNum int) (Entry, bool)
	Objects() []int
	Trailer() *raw.DictObj
	// Type is "table", "stream", "hybrid" or "repaired".
	Type() string
	Repaired() bool
	Sections() int
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, data []byte) (Table, error)
}

// StreamDecoder decodes an xref or object stream payload.
type StreamDecoder func(ctx context.Context, s *raw.StreamObj) ([]byte, error)

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Logger       observability.Logger
	// Decoder decodes object streams found by the repair scan. Defaults to
	// the plain filter pipeline, which cannot read encrypted files.
	Decoder StreamDecoder
	Limits  filters.Limits
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 50
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	pipeline := filters.DefaultPipeline(cfg.Limits).WithRecovery(cfg.Recovery)
	if cfg.Decoder == nil {
		cfg.Decoder = plainDecoder(pipeline)
	}
	return &chainResolver{cfg: cfg, pipeline: pipeline}
}

func plainDecoder(pipeline *filters.Pipeline) StreamDecoder {
	return func(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
		names, params := filters.ExtractFilters(ctx, nil, s.Dict)
		return pipeline.Decode(ctx, s.Data, names, params)
	}
}

type chainResolver struct {
	cfg      ResolverConfig
	pipeline *filters.Pipeline
}

// Resolve walks the startxref chain newest-first. When no usable section
// can be read it falls back to Repair; a break later in the chain keeps
// the sections read so far.
func (c *chainResolver) Resolve(ctx context.Context, data []byte) (Table, error) {
	t, err := c.walk(ctx, data)
	if err == nil {
		return t, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	loc := recovery.Location{Component: "xref"}
	if recovery.Decide(c.cfg.Recovery, ctx, err, loc) == recovery.ActionFail {
		return nil, err
	}
	c.cfg.Logger.Info("rebuilding xref by full scan", observability.Error("cause", err))
	return Repair(ctx, data, c.cfg)
}

func (c *chainResolver) walk(ctx context.Context, data []byte) (*table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := newTable()
	visited := make(map[int64]bool)
	var hasTable, hasStream bool
	offset := start
	for depth := 0; offset >= 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= c.cfg.MaxXRefDepth {
			c.warn(ctx, offset, fmt.Errorf("xref chain longer than %d sections", c.cfg.MaxXRefDepth))
			break
		}
		if visited[offset] {
			c.warn(ctx, offset, errors.New("xref /Prev loop"))
			break
		}
		visited[offset] = true
		sec, err := c.readSection(ctx, data, offset)
		if err != nil {
			if t.sections == 0 {
				return nil, err
			}
			c.warn(ctx, offset, err)
			break
		}
		if sec.stream {
			hasStream = true
		} else {
			hasTable = true
		}
		if stmOff, ok := sec.trailer.Int("XRefStm"); ok && !visited[stmOff] {
			visited[stmOff] = true
			if hyb, err := c.readSection(ctx, data, stmOff); err == nil && hyb.stream {
				hasStream = true
				sec.supplement(hyb)
			} else if err != nil {
				c.warn(ctx, stmOff, fmt.Errorf("XRefStm: %w", err))
			}
		}
		t.merge(sec)
		prev, ok := sec.trailer.Int("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	if _, ok := t.trailer.Get("Root"); !ok {
		return nil, recovery.NewParseError("xref", start, "trailer has no /Root")
	}
	switch {
	case hasTable && hasStream:
		t.kind = "hybrid"
	case hasStream:
		t.kind = "stream"
	default:
		t.kind = "table"
	}
	return t, nil
}

func (c *chainResolver) warn(ctx context.Context, offset int64, err error) {
	perr := &recovery.ParseError{Offset: offset, Component: "xref", Err: err}
	recovery.Decide(c.cfg.Recovery, ctx, perr, recovery.Location{ByteOffset: offset, Component: "xref"})
}

// readSection parses a classic table plus trailer or an xref stream at
// offset.
func (c *chainResolver) readSection(ctx context.Context, data []byte, offset int64) (*section, error) {
	if offset <= 0 || offset >= int64(len(data)) {
		return nil, recovery.NewParseError("xref", offset, "xref offset %d outside file of %d bytes", offset, len(data))
	}
	p := raw.NewObjectParser(data, raw.ParserConfig{Recovery: c.cfg.Recovery})
	if err := p.SeekTo(offset); err != nil {
		return nil, err
	}
	tok, err := p.Next()
	if err != nil {
		return nil, recovery.NewParseError("xref", offset, "reading xref: %v", err)
	}
	if tok.IsKeyword("xref") {
		return parseTable(p, offset)
	}
	if tok.Type != scanner.TokenNumber {
		return nil, recovery.NewParseError("xref", offset, "no xref table or stream at offset")
	}
	p.Unread(tok)
	_, obj, err := p.ParseIndirect()
	if err != nil {
		return nil, err
	}
	s, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, recovery.NewParseError("xref", offset, "object at xref offset is %s, not a stream", obj.Type())
	}
	if typ, _ := s.Dict.Name("Type"); typ != "XRef" {
		return nil, recovery.NewParseError("xref", offset, "stream at xref offset has /Type /%s", typ)
	}
	names, params := filters.ExtractFilters(ctx, nil, s.Dict)
	payload, err := c.pipeline.Decode(ctx, s.Data, names, params)
	if err != nil {
		return nil, fmt.Errorf("xref stream at %d: %w", offset, err)
	}
	return parseStream(s.Dict, payload, offset)
}

// findStartXRef reads the offset after the last startxref keyword.
func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, recovery.NewParseError("xref", int64(len(data)), "startxref not found")
	}
	p := raw.NewObjectParser(data[idx+len("startxref"):], raw.ParserConfig{})
	tok, err := p.Next()
	if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt {
		return 0, recovery.NewParseError("xref", int64(idx), "startxref without offset")
	}
	return tok.Int, nil
}

// section is one xref table or stream plus its trailer.
type section struct {
	entries map[int]Entry
	trailer *raw.DictObj
	stream  bool
}

// supplement adds entries from a hybrid file's XRefStm. They fill ids the
// table omits or marks free.
func (s *section) supplement(o *section) {
	for num, e := range o.entries {
		if cur, ok := s.entries[num]; !ok || cur.Kind == EntryFree {
			s.entries[num] = e
		}
	}
}

type table struct {
	entries  map[int]Entry
	trailer  *raw.DictObj
	kind     string
	repaired bool
	sections int
}

func newTable() *table {
	return &table{entries: make(map[int]Entry), trailer: raw.Dict()}
}

// merge records an older section under a newer one: ids already present,
// free or not, keep their newer entry. Trailer keys missing from newer
// trailers are filled in.
func (t *table) merge(s *section) {
	t.sections++
	for num, e := range s.entries {
		if _, seen := t.entries[num]; !seen {
			t.entries[num] = e
		}
	}
	for _, k := range s.trailer.Keys() {
		if k == "Prev" || k == "XRefStm" {
			continue
		}
		if _, ok := t.trailer.Get(k); !ok {
			t.trailer.Set(k, s.trailer.KV[k])
		}
	}
}

func (t *table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == EntryFree {
		return Entry{}, false
	}
	return e, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Trailer() *raw.DictObj { return t.trailer }
func (t *table) Type() string          { return t.kind }
func (t *table) Repaired() bool        { return t.repaired }
func (t *table) Sections() int         { return t.sections }
