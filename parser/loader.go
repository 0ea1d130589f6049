package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redforks/nipdf/filters"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/observability"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/scanner"
	"github.com/redforks/nipdf/security"
	"github.com/redforks/nipdf/xref"
)

// ObjectLoader resolves the indirect objects of one document and decodes
// their streams. Implementations are safe for concurrent use.
type ObjectLoader interface {
	raw.Source
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
	// Table is the current directory; it changes once if a damaged entry
	// forces a full-file rescan.
	Table() xref.Table
}

type ObjectLoaderBuilder struct {
	data       []byte
	table      xref.Table
	security   security.Handler
	encryptRef raw.ObjectRef
	limits     security.Limits
	recovery   recovery.Strategy
	logger     observability.Logger
	pipeline   *filters.Pipeline
}

func (b *ObjectLoaderBuilder) WithTable(t xref.Table) *ObjectLoaderBuilder {
	b.table = t
	return b
}

func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder {
	b.data = data
	return b
}

// WithSecurity decrypts strings and streams with h. encryptRef names the
// encryption dictionary, which is never decrypted.
func (b *ObjectLoaderBuilder) WithSecurity(h security.Handler, encryptRef raw.ObjectRef) *ObjectLoaderBuilder {
	b.security = h
	b.encryptRef = encryptRef
	return b
}

func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}

func (b *ObjectLoaderBuilder) WithRecovery(s recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = s
	return b
}

func (b *ObjectLoaderBuilder) WithLogger(l observability.Logger) *ObjectLoaderBuilder {
	b.logger = l
	return b
}

// WithPipeline replaces the default filter pipeline.
func (b *ObjectLoaderBuilder) WithPipeline(p *filters.Pipeline) *ObjectLoaderBuilder {
	b.pipeline = p
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.data == nil || b.table == nil {
		return nil, errors.New("loader needs file data and an xref table")
	}
	limits := b.limits.WithDefaults()
	sec := b.security
	if sec == nil {
		sec = security.NoopHandler()
	}
	pipeline := b.pipeline
	if pipeline == nil {
		pipeline = filters.DefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		})
	}
	return &objectLoader{
		data:     b.data,
		table:    b.table,
		sec:      sec,
		encrypt:  b.encryptRef,
		limits:   limits,
		recovery: b.recovery,
		logger:   observability.OrNop(b.logger),
		pipeline: pipeline.WithRecovery(b.recovery),
	}, nil
}

type objectLoader struct {
	data     []byte
	sec      security.Handler
	encrypt  raw.ObjectRef
	limits   security.Limits
	recovery recovery.Strategy
	logger   observability.Logger
	pipeline *filters.Pipeline

	mu     sync.RWMutex
	table  xref.Table
	repair sync.Once

	objects sync.Map // object number -> cached
	streams sync.Map // object stream number -> *objectStream
}

type cached struct {
	gen int
	obj raw.Object
}

type objectStream struct {
	members []xref.ObjectStreamMember
	first   int64
	payload []byte
}

// resolution path of the current Load call chain, carried in the context
type pathKey struct{}

type path struct {
	num   int
	depth int
	next  *path
}

func (p *path) contains(num int) bool {
	for ; p != nil; p = p.next {
		if p.num == num {
			return true
		}
	}
	return false
}

func (p *path) len() int {
	if p == nil {
		return 0
	}
	return p.depth
}

func (o *objectLoader) Table() xref.Table {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.table
}

// Resolve follows obj until it is no longer a reference.
func (o *objectLoader) Resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	seen := map[int]bool{}
	for {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if seen[ref.R.Num] {
			return nil, &recovery.BrokenReference{Num: ref.R.Num, Gen: ref.R.Gen, Reason: "reference chain loops"}
		}
		seen[ref.R.Num] = true
		next, err := o.Load(ctx, ref.R)
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

// Load returns the object ref names. Results are memoized; concurrent
// first loads of one object may both parse it, and the first stored value
// wins.
func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c, ok := o.objects.Load(ref.Num); ok {
		return o.checkGen(ref, c.(cached))
	}
	p, _ := ctx.Value(pathKey{}).(*path)
	if p.contains(ref.Num) {
		return nil, &recovery.BrokenReference{Num: ref.Num, Gen: ref.Gen, Reason: "reference cycle"}
	}
	if p.len() >= o.limits.MaxIndirectDepth {
		return nil, &recovery.BrokenReference{Num: ref.Num, Gen: ref.Gen, Reason: "indirect depth limit"}
	}
	ctx = context.WithValue(ctx, pathKey{}, &path{num: ref.Num, depth: p.len() + 1, next: p})

	gen, obj, err := o.loadFresh(ctx, ref.Num)
	if err != nil {
		var broken *recovery.BrokenReference
		if errors.As(err, &broken) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &recovery.BrokenReference{Num: ref.Num, Gen: ref.Gen, Reason: err.Error()}
	}
	actual, _ := o.objects.LoadOrStore(ref.Num, cached{gen: gen, obj: obj})
	return o.checkGen(ref, actual.(cached))
}

func (o *objectLoader) checkGen(ref raw.ObjectRef, c cached) (raw.Object, error) {
	if c.gen == ref.Gen {
		return c.obj, nil
	}
	if ref.Gen == 0 && o.Table().Repaired() {
		return c.obj, nil
	}
	return nil, &recovery.BrokenReference{
		Num:    ref.Num,
		Gen:    ref.Gen,
		Reason: fmt.Sprintf("directory holds generation %d", c.gen),
	}
}

func (o *objectLoader) loadFresh(ctx context.Context, num int) (int, raw.Object, error) {
	t := o.Table()
	e, ok := t.Lookup(num)
	if !ok {
		return 0, nil, fmt.Errorf("object %d not in directory", num)
	}
	obj, err := o.loadEntry(ctx, num, e)
	if err == nil || t.Repaired() || ctx.Err() != nil || e.Kind != xref.EntryInFile {
		return gen(e), obj, err
	}

	loc := recovery.Location{ByteOffset: e.Offset, ObjectNum: num, Component: "loader"}
	if recovery.Decide(o.recovery, ctx, &recovery.ParseError{Offset: e.Offset, Component: "loader", Err: err}, loc) == recovery.ActionFail {
		return 0, nil, err
	}
	rt, rerr := o.repairTable(ctx)
	if rerr != nil {
		return 0, nil, err
	}
	if e, ok = rt.Lookup(num); !ok {
		return 0, nil, err
	}
	obj, err = o.loadEntry(ctx, num, e)
	return gen(e), obj, err
}

func gen(e xref.Entry) int {
	if e.Kind == xref.EntryInStream {
		return 0
	}
	return e.Gen
}

// repairTable rebuilds the directory by scanning the whole file. It runs
// at most once per loader.
func (o *objectLoader) repairTable(ctx context.Context) (xref.Table, error) {
	var err error
	o.repair.Do(func() {
		o.logger.Warn("directory entry points at the wrong object, rescanning file")
		var t xref.Table
		t, err = xref.Repair(ctx, o.data, xref.ResolverConfig{
			Recovery: o.recovery,
			Logger:   o.logger,
			Decoder:  o.DecodeStream,
		})
		if err != nil {
			return
		}
		o.mu.Lock()
		o.table = t
		o.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	t := o.Table()
	if !t.Repaired() {
		return nil, errors.New("directory rescan failed")
	}
	return t, nil
}

func (o *objectLoader) loadEntry(ctx context.Context, num int, e xref.Entry) (raw.Object, error) {
	if e.Kind == xref.EntryInStream {
		return o.loadFromStream(ctx, num, e)
	}
	return o.loadAt(ctx, num, e)
}

func (o *objectLoader) parserFor(ctx context.Context, data []byte, component string) *raw.ObjectParser {
	return raw.NewObjectParser(data, raw.ParserConfig{
		Scanner: scanner.Config{
			MaxStringLength: o.limits.MaxStringLength,
			MaxStreamLength: o.limits.MaxStreamLength,
			Component:       component,
		},
		Recovery: o.recovery,
		MaxDepth: o.limits.MaxNesting,
		LengthResolver: func(r raw.ObjectRef) (int64, bool) {
			obj, err := o.Load(ctx, r)
			if err != nil {
				return 0, false
			}
			n, ok := obj.(raw.NumberObj)
			return n.Int(), ok && n.Int() >= 0
		},
	})
}

func (o *objectLoader) loadAt(ctx context.Context, num int, e xref.Entry) (raw.Object, error) {
	p := o.parserFor(ctx, o.data, "object")
	if err := p.SeekTo(e.Offset); err != nil {
		return nil, err
	}
	ref, obj, err := p.ParseIndirect()
	if err != nil {
		return nil, err
	}
	if ref.Num != num {
		return nil, fmt.Errorf("offset %d holds object %d", e.Offset, ref.Num)
	}
	if o.sec.IsEncrypted() && ref != o.encrypt && !isXRefStream(obj) {
		obj = o.decryptStrings(ctx, ref, obj)
	}
	return obj, nil
}

func (o *objectLoader) loadFromStream(ctx context.Context, num int, e xref.Entry) (raw.Object, error) {
	os, err := o.objectStream(ctx, e.Stream)
	if err != nil {
		return nil, err
	}
	idx := e.Index
	if idx < 0 || idx >= len(os.members) || os.members[idx].Num != num {
		idx = -1
		for i, m := range os.members {
			if m.Num == num {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("object %d not in object stream %d", num, e.Stream)
		}
	}
	start := os.first + os.members[idx].Offset
	if start < os.first || start >= int64(len(os.payload)) {
		return nil, fmt.Errorf("object %d: offset %d outside object stream %d", num, start, e.Stream)
	}
	p := o.parserFor(ctx, os.payload, "objstm")
	if err := p.SeekTo(start); err != nil {
		return nil, err
	}
	return p.ParseObject()
}

func (o *objectLoader) objectStream(ctx context.Context, num int) (*objectStream, error) {
	if v, ok := o.streams.Load(num); ok {
		return v.(*objectStream), nil
	}
	obj, err := o.Load(ctx, raw.ObjectRef{Num: num})
	if err != nil {
		return nil, err
	}
	s, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object stream %d is a %s", num, obj.Type())
	}
	payload, err := o.DecodeStream(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", num, err)
	}
	members, first, err := xref.ParseObjectStreamHeader(s.Dict, payload)
	if err != nil && len(members) == 0 {
		return nil, err
	}
	v, _ := o.streams.LoadOrStore(num, &objectStream{members: members, first: first, payload: payload})
	return v.(*objectStream), nil
}

// DecodeStream decrypts s when needed, runs its filter chain and caches the
// result on s.
func (o *objectLoader) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	if d, ok := s.Decoded(); ok {
		return d, nil
	}
	data := s.Data
	if o.needsDecrypt(s) {
		dec, err := o.decryptStream(s)
		if err != nil {
			var de *recovery.DecryptionError
			if !errors.As(err, &de) {
				err = &recovery.DecryptionError{Err: err}
			}
			return nil, err
		}
		data = dec
	}
	names, params := filters.ExtractFilters(ctx, o, s.Dict)
	out, err := o.pipeline.Decode(ctx, data, names, params)
	if err != nil {
		return nil, err
	}
	return s.StoreDecoded(out), nil
}

func (o *objectLoader) needsDecrypt(s *raw.StreamObj) bool {
	if !o.sec.IsEncrypted() || s.Ref.Num == 0 || s.Ref == o.encrypt {
		return false
	}
	return !isXRefStream(s)
}

func (o *objectLoader) decryptStream(s *raw.StreamObj) ([]byte, error) {
	class := security.DataClassStream
	if typ, _ := s.Dict.Name("Type"); typ == "Metadata" {
		class = security.DataClassMetadataStream
	}
	return o.sec.DecryptWithFilter(s.Ref.Num, s.Ref.Gen, s.Data, class, cryptFilterName(s.Dict))
}

// cryptFilterName reads /Name from the parameters of a /Crypt filter;
// "" selects the document default.
func cryptFilterName(d *raw.DictObj) string {
	names, params := filters.ExtractFilters(context.Background(), nil, d)
	for i, n := range names {
		if n != "Crypt" {
			continue
		}
		if params[i] == nil {
			return "Identity"
		}
		name, _ := params[i].Name("Name")
		if name == "" {
			return "Identity"
		}
		return name
	}
	return ""
}

func (o *objectLoader) decryptStrings(ctx context.Context, ref raw.ObjectRef, obj raw.Object) raw.Object {
	switch v := obj.(type) {
	case raw.StringObj:
		dec, err := o.sec.Decrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString)
		if err != nil {
			recovery.Decide(o.recovery, ctx, err, recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "decrypt"})
			return v
		}
		return raw.StringObj{Bytes: dec, Hex: v.Hex}
	case *raw.ArrayObj:
		for i, it := range v.Items {
			v.Items[i] = o.decryptStrings(ctx, ref, it)
		}
	case *raw.DictObj:
		for k, it := range v.KV {
			v.KV[k] = o.decryptStrings(ctx, ref, it)
		}
	case *raw.StreamObj:
		o.decryptStrings(ctx, ref, v.Dict)
	}
	return obj
}

func isXRefStream(obj raw.Object) bool {
	s, ok := obj.(*raw.StreamObj)
	if !ok {
		return false
	}
	typ, _ := s.Dict.Name("Type")
	return typ == "XRef"
}
