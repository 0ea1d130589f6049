package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/redforks/nipdf/filters"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/observability"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/security"
	"github.com/redforks/nipdf/xref"
)

// Config controls opening a document: directory resolution, decryption
// and object loading.
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   security.Limits
	Password string
	Logger   observability.Logger
}

// Document is an opened file: its directory, trailer and a loader that
// resolves objects on demand.
type Document struct {
	Loader   ObjectLoader
	Trailer  *raw.DictObj
	Version  string
	Security security.Handler
	// Catalog is the resolved /Root dictionary.
	Catalog *raw.DictObj
}

// Encrypted reports whether the document uses a security handler.
func (d *Document) Encrypted() bool { return d.Security.IsEncrypted() }

// DocumentParser opens documents held in memory.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	cfg.Logger = observability.OrNop(cfg.Logger)
	if cfg.Recovery == nil {
		cfg.Recovery = &recovery.LenientStrategy{Logger: cfg.Logger}
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.Logger == nil {
		cfg.XRef.Logger = cfg.Logger
	}
	if cfg.XRef.MaxXRefDepth == 0 {
		cfg.XRef.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	if cfg.XRef.Limits == (filters.Limits{}) {
		cfg.XRef.Limits = filters.Limits{
			MaxDecompressedSize: cfg.Limits.MaxDecompressedSize,
			MaxDecodeTime:       cfg.Limits.MaxDecodeTime,
		}
	}
	return &DocumentParser{cfg: cfg}
}

// SetPassword updates the password tried against encrypted documents.
func (p *DocumentParser) SetPassword(pwd string) {
	p.cfg.Password = pwd
}

// Parse resolves the directory, sets up decryption and loads the catalog.
// Only structural failures are returned: no directory even after a full
// scan, no catalog, or a password that opens nothing.
func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	if p.cfg.Limits.MaxParseTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Limits.MaxParseTime)
		defer cancel()
	}
	table, err := xref.NewResolver(p.cfg.XRef).Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	doc, err := p.open(ctx, data, table)
	if err == nil || table.Repaired() || ctx.Err() != nil {
		return doc, err
	}
	// The chain parsed but its entries lead nowhere usable.
	if recovery.Decide(p.cfg.Recovery, ctx, err, recovery.Location{Component: "parser"}) == recovery.ActionFail {
		return nil, err
	}
	var de *recovery.DecryptionError
	if errors.As(err, &de) {
		return nil, err
	}
	p.cfg.Logger.Warn("catalog unreachable through xref, rescanning file", observability.Error("cause", err))
	repaired, rerr := xref.Repair(ctx, data, p.cfg.XRef)
	if rerr != nil {
		return nil, err
	}
	return p.open(ctx, data, repaired)
}

func (p *DocumentParser) open(ctx context.Context, data []byte, table xref.Table) (*Document, error) {
	trailer := table.Trailer()
	sec, encRef, err := p.selectSecurity(ctx, data, table, trailer)
	if err != nil {
		return nil, err
	}
	loader, err := (&ObjectLoaderBuilder{}).
		WithData(data).
		WithTable(table).
		WithSecurity(sec, encRef).
		WithLimits(p.cfg.Limits).
		WithRecovery(p.cfg.Recovery).
		WithLogger(p.cfg.Logger).
		Build()
	if err != nil {
		return nil, err
	}
	rootObj, _ := trailer.Get("Root")
	catalog, ok := raw.DictOf(ctx, loader, rootObj)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, recovery.NewParseError("parser", 0, "document catalog is missing or not a dictionary")
	}
	doc := &Document{
		Loader:   loader,
		Trailer:  trailer,
		Version:  headerVersion(data),
		Security: sec,
		Catalog:  catalog,
	}
	if v, ok := catalog.Name("Version"); ok && v > doc.Version {
		doc.Version = v
	}
	p.cfg.Logger.Debug("document opened",
		observability.String("xref", table.Type()),
		observability.Int("objects", len(table.Objects())),
		observability.String("version", doc.Version))
	return doc, nil
}

// selectSecurity builds and authenticates the handler named by /Encrypt.
func (p *DocumentParser) selectSecurity(ctx context.Context, data []byte, table xref.Table, trailer *raw.DictObj) (security.Handler, raw.ObjectRef, error) {
	encObj, ok := trailer.Get("Encrypt")
	if !ok || raw.IsNull(encObj) {
		return security.NoopHandler(), raw.ObjectRef{}, nil
	}
	var encRef raw.ObjectRef
	if r, ok := encObj.(raw.RefObj); ok {
		encRef = r.R
	}
	plain, err := (&ObjectLoaderBuilder{}).WithData(data).WithTable(table).WithLimits(p.cfg.Limits).WithRecovery(p.cfg.Recovery).Build()
	if err != nil {
		return nil, encRef, err
	}
	encDict, ok := raw.DictOf(ctx, plain, encObj)
	if !ok {
		return nil, encRef, &recovery.DecryptionError{Err: errors.New("encryption dictionary unreadable")}
	}
	h, err := (&security.HandlerBuilder{}).WithEncryptDict(encDict).WithTrailer(trailer).Build()
	if err != nil {
		var de *recovery.DecryptionError
		if !errors.As(err, &de) {
			err = &recovery.DecryptionError{Err: err}
		}
		return nil, encRef, err
	}
	if err := h.Authenticate(p.cfg.Password); err != nil {
		return nil, encRef, err
	}
	return h, encRef, nil
}

var headerRe = regexp.MustCompile(`%PDF-(\d\.\d)`)

// headerVersion reads the version from a %PDF- header within the first
// kilobyte, tolerating leading garbage.
func headerVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if m := headerRe.FindSubmatch(head); m != nil {
		return string(m[1])
	}
	if bytes.HasPrefix(data, []byte("%!PS-Adobe")) {
		return "1.0"
	}
	return ""
}
