// Package document is the public entry point: it opens a file, exposes
// its pages and objects, and renders or extracts text from pages.
//
// A Document is safe for concurrent use. Pages may be rendered in
// parallel; they share only the object, font, colour space and function
// caches, all of which tolerate concurrent population.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/redforks/nipdf/cmm"
	"github.com/redforks/nipdf/contentstream"
	"github.com/redforks/nipdf/fonts"
	"github.com/redforks/nipdf/function"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/observability"
	"github.com/redforks/nipdf/parser"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/render"
	"github.com/redforks/nipdf/resources"
	"github.com/redforks/nipdf/security"
)

// ErrPageIndex reports a page index outside [0, PageCount).
var ErrPageIndex = errors.New("page index out of range")

// Config controls opening and rendering. The zero value opens
// unencrypted or empty-password files leniently, substitutes missing
// fonts with the Go fonts and logs nothing.
type Config struct {
	Password string
	// Recovery decides how damaged structure is handled; nil means
	// recovery.LenientStrategy.
	Recovery recovery.Strategy
	Logger   observability.Logger
	Tracer   observability.Tracer
	// Limits bound resource use; zero fields take security.DefaultLimits.
	Limits      security.Limits
	FontLocator fonts.Locator
	ImageCodec  render.ImageCodec
	// Workers bounds RenderPages concurrency; zero means GOMAXPROCS.
	Workers int
}

// Document is an opened file.
type Document struct {
	cfg    Config
	log    observability.Logger
	tracer observability.Tracer

	doc   *parser.Document
	pages []*resources.Page
	proc  *contentstream.Processor
	rend  *render.Renderer

	unmap func() error
}

// Open parses data. data must not change while the Document is in use.
// Damaged files are repaired where possible; the error is non-nil only
// when no usable catalog can be found, the password is wrong, or ctx
// ends.
func Open(ctx context.Context, data []byte, cfg Config) (*Document, error) {
	cfg.Logger = observability.OrNop(cfg.Logger)
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Recovery == nil {
		cfg.Recovery = &recovery.LenientStrategy{Logger: cfg.Logger}
	}

	ctx, span := cfg.Tracer.StartSpan(ctx, "document.Open")
	defer span.Finish()
	span.SetTag("bytes", len(data))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := parser.NewDocumentParser(parser.Config{
		Recovery: cfg.Recovery,
		Limits:   cfg.Limits,
		Password: cfg.Password,
		Logger:   cfg.Logger,
	})
	pd, err := p.Parse(ctx, data)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	pages, err := resources.LoadPages(ctx, pd.Loader, pd.Catalog, resources.TreeConfig{Logger: cfg.Logger})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			span.SetError(cerr)
			return nil, cerr
		}
		// a document without a page tree still opens for inspection
		cfg.Logger.Warn("page tree unreadable", observability.Error("error", err))
	}

	funcs := &function.Cache{}
	proc := contentstream.NewProcessor(contentstream.Config{
		Source:      pd.Loader,
		Fonts:       &fonts.Cache{Locator: cfg.FontLocator, Logger: cfg.Logger},
		ColorSpaces: &cmm.Cache{Functions: funcs},
		Functions:   funcs,
		Limits:      cfg.Limits,
		Recovery:    cfg.Recovery,
		Logger:      cfg.Logger,
	})
	d := &Document{
		cfg:    cfg,
		log:    cfg.Logger,
		tracer: cfg.Tracer,
		doc:    pd,
		pages:  pages,
		proc:   proc,
		rend:   render.NewRenderer(proc, pd.Loader, cfg.ImageCodec, cfg.Logger),
	}
	span.SetTag("pages", len(pages))
	d.log.Info("document opened",
		observability.Int("pages", len(pages)),
		observability.String("version", pd.Version),
		observability.Any("encrypted", pd.Encrypted()))
	return d, nil
}

// OpenFile maps the file at path read-only and opens it. Close releases
// the mapping.
func OpenFile(ctx context.Context, path string, cfg Config) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return nil, recovery.NewParseError("document", 0, "empty file")
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	d, err := Open(ctx, m, cfg)
	if err != nil {
		m.Unmap()
		return nil, err
	}
	d.unmap = m.Unmap
	return d, nil
}

// Close releases the file mapping of a Document from OpenFile. The
// Document must not be used afterwards.
func (d *Document) Close() error {
	if d.unmap == nil {
		return nil
	}
	err := d.unmap()
	d.unmap = nil
	return err
}

func (d *Document) PageCount() int { return len(d.pages) }

// Page returns the page at index with its inherited attributes resolved.
func (d *Document) Page(index int) (*resources.Page, error) {
	if index < 0 || index >= len(d.pages) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageIndex, index, len(d.pages))
	}
	return d.pages[index], nil
}

func (d *Document) Trailer() *raw.DictObj { return d.doc.Trailer }
func (d *Document) Catalog() *raw.DictObj { return d.doc.Catalog }

// Version is the newer of the header version and the catalog's
// /Version.
func (d *Document) Version() string { return d.doc.Version }

func (d *Document) Encrypted() bool { return d.doc.Encrypted() }

func (d *Document) Permissions() security.Permissions { return d.doc.Security.Permissions() }

// Source resolves references and decodes streams of this document.
func (d *Document) Source() raw.Source { return d.doc.Loader }

// DumpObject loads object num gen for inspection. Streams are decoded
// so FormatObject can report their decoded size.
func (d *Document) DumpObject(ctx context.Context, num, gen int) (raw.Object, error) {
	obj, err := d.doc.Loader.Load(ctx, raw.ObjectRef{Num: num, Gen: gen})
	if err != nil {
		return nil, err
	}
	if s, ok := obj.(*raw.StreamObj); ok {
		if _, err := d.doc.Loader.DecodeStream(ctx, s); err != nil {
			d.log.Debug("dump: stream does not decode", observability.Int("object", num), observability.Error("error", err))
		}
	}
	return obj, nil
}

// FormatObject renders obj in PDF syntax.
func FormatObject(obj raw.Object) string { return raw.Format(obj) }
