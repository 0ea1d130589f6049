// Command nipdf inspects and renders PDF files.
//
//	nipdf info <pdf>
//	nipdf dump [-obj N] [-gen G] <pdf>
//	nipdf render [-pages 1,3-5] [-scale S] [-width W] [-height H] [-out DIR] <pdf>
//	nipdf text [-pages ...] <pdf>
//	nipdf trace -page N <pdf>
//	nipdf fonts <pdf>
//	nipdf outline <pdf>
//	nipdf images [-pages ...] <pdf>
//	nipdf tokens [-offset N] [-limit N] <pdf>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/redforks/nipdf/document"
	"github.com/redforks/nipdf/observability"
	"github.com/redforks/nipdf/render"
	"github.com/redforks/nipdf/scanner"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string, g globals) error
}

type globals struct {
	password string
	verbose  bool
	workers  int
	stdout   io.Writer
}

var commands = []command{
	{"info", "document information and metadata", runInfo},
	{"dump", "print an object, or the trailer, in PDF syntax", runDump},
	{"render", "render pages to PNG", runRender},
	{"text", "extract page text", runText},
	{"trace", "list what a page draws", runTrace},
	{"fonts", "report font usage across pages", runFonts},
	{"outline", "print the document outline", runOutline},
	{"images", "list image XObjects per page", runImages},
	{"tokens", "print the lexical tokens of the raw file", runTokens},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "nipdf: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: nipdf [-password P] [-v] <command> [flags] <pdf>\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.usage)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("nipdf", flag.ContinueOnError)
	fs.Usage = func() {
		usage(fs.Output())
		fs.PrintDefaults()
	}
	password := fs.String("password", "", "password to open encrypted PDFs")
	verbose := fs.Bool("v", false, "log parsing and rendering diagnostics to stderr")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return usageError("missing command")
	}
	g := globals{password: *password, verbose: *verbose, stdout: stdout}
	name := fs.Arg(0)
	for _, c := range commands {
		if c.name == name {
			return c.run(ctx, fs.Args()[1:], g)
		}
	}
	fs.Usage()
	return usageError(fmt.Sprintf("unknown command %q", name))
}

func (g globals) open(ctx context.Context, path string) (*document.Document, error) {
	cfg := document.Config{Password: g.password, Workers: g.workers}
	if g.verbose {
		cfg.Logger = observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		cfg.Tracer = observability.LogTracer(cfg.Logger)
	}
	doc, err := document.OpenFile(ctx, path, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return doc, nil
}

// parseCommand parses a subcommand's flags and returns the single PDF path.
func parseCommand(name string, fs *flag.FlagSet, args []string) (string, error) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: nipdf %s [flags] <pdf>\n", name)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return "", usageError(err.Error())
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return "", usageError("missing pdf path")
	}
	return fs.Arg(0), nil
}

// parsePages turns "1,3-5" (1-based) into 0-based indexes. An empty spec
// selects every page.
func parsePages(spec string, count int) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		out := make([]int, count)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	var out []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, usageError(fmt.Sprintf("bad page %q", part))
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil {
				return nil, usageError(fmt.Sprintf("bad page range %q", part))
			}
		}
		if a < 1 || b < a || b > count {
			return nil, usageError(fmt.Sprintf("page %q outside 1-%d", part, count))
		}
		for p := a; p <= b; p++ {
			out = append(out, p-1)
		}
	}
	return out, nil
}

func emit(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func runInfo(ctx context.Context, args []string, g globals) error {
	path, err := parseCommand("info", flag.NewFlagSet("info", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	doc, err := g.open(ctx, path)
	if err != nil {
		return err
	}
	defer doc.Close()
	info := doc.Info(ctx)
	type pageSize struct {
		Page   int    `json:"page"`
		Size   string `json:"size"`
		Rotate int    `json:"rotate,omitempty"`
	}
	sizes := make([]pageSize, 0, doc.PageCount())
	for i := 0; i < doc.PageCount(); i++ {
		p, _ := doc.Page(i)
		w, h := p.Size()
		sizes = append(sizes, pageSize{Page: i + 1, Size: fmt.Sprintf("%gx%g", w, h), Rotate: p.Rotate})
	}
	return emit(g.stdout, struct {
		Version   string     `json:"version"`
		Pages     int        `json:"pages"`
		Encrypted bool       `json:"encrypted"`
		Title     string     `json:"title,omitempty"`
		Author    string     `json:"author,omitempty"`
		Subject   string     `json:"subject,omitempty"`
		Keywords  string     `json:"keywords,omitempty"`
		Creator   string     `json:"creator,omitempty"`
		Producer  string     `json:"producer,omitempty"`
		Created   string     `json:"created,omitempty"`
		Modified  string     `json:"modified,omitempty"`
		Lang      string     `json:"lang,omitempty"`
		Tagged    bool       `json:"tagged,omitempty"`
		XMPBytes  int        `json:"xmpBytes,omitempty"`
		PageSizes []pageSize `json:"pageSizes"`
	}{
		Version: doc.Version(), Pages: doc.PageCount(), Encrypted: doc.Encrypted(),
		Title: info.Title, Author: info.Author, Subject: info.Subject, Keywords: info.Keywords,
		Creator: info.Creator, Producer: info.Producer, Created: info.CreationDate, Modified: info.ModDate,
		Lang: info.Lang, Tagged: info.Marked, XMPBytes: len(info.XMP), PageSizes: sizes,
	})
}

func runDump(ctx context.Context, args []string, g globals) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	num := fs.Int("obj", 0, "object number; 0 dumps the trailer")
	gen := fs.Int("gen", 0, "generation number")
	path, err := parseCommand("dump", fs, args)
	if err != nil {
		return err
	}
	doc, err := g.open(ctx, path)
	if err != nil {
		return err
	}
	defer doc.Close()
	if *num == 0 {
		_, err = fmt.Fprintln(g.stdout, document.FormatObject(doc.Trailer()))
		return err
	}
	obj, err := doc.DumpObject(ctx, *num, *gen)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(g.stdout, "%d %d obj\n%s\nendobj\n", *num, *gen, document.FormatObject(obj))
	return err
}

func runRender(ctx context.Context, args []string, g globals) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	pages := fs.String("pages", "", "1-based pages to render, such as 1,3-5; default all")
	scale := fs.Float64("scale", 1, "pixels per point")
	width := fs.Int("width", 0, "fit the page to this width in pixels")
	height := fs.Int("height", 0, "fit the page to this height in pixels")
	out := fs.String("out", ".", "output directory")
	workers := fs.Int("workers", 0, "pages rendered at once; 0 means GOMAXPROCS")
	path, err := parseCommand("render", fs, args)
	if err != nil {
		return err
	}
	g.workers = *workers
	doc, err := g.open(ctx, path)
	if err != nil {
		return err
	}
	defer doc.Close()
	indexes, err := parsePages(*pages, doc.PageCount())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	opts := render.Options{Scale: *scale, Width: *width, Height: *height}
	var failed int
	for _, r := range doc.RenderPages(ctx, indexes, opts) {
		if r.Err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "page %d: %v\n", r.Index+1, r.Err)
			failed++
			continue
		}
		name := filepath.Join(*out, fmt.Sprintf("%s-%03d.png", base, r.Index+1))
		if err := writePNG(name, r.Result); err != nil {
			return err
		}
		fmt.Fprintf(g.stdout, "%s (%d warnings)\n", name, len(r.Result.Warnings))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pages failed", failed, len(indexes))
	}
	return nil
}

func writePNG(name string, res *render.Result) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(f, res.Image); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return f.Close()
}

func runText(ctx context.Context, args []string, g globals) error {
	fs := flag.NewFlagSet("text", flag.ContinueOnError)
	pages := fs.String("pages", "", "1-based pages, such as 1,3-5; default all")
	path, err := parseCommand("text", fs, args)
	if err != nil {
		return err
	}
	doc, err := g.open(ctx, path)
	if err != nil {
		return err
	}
	defer doc.Close()
	indexes, err := parsePages(*pages, doc.PageCount())
	if err != nil {
		return err
	}
	for _, i := range indexes {
		text, err := doc.ExtractText(ctx, i)
		if err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
		fmt.Fprintf(g.stdout, "== page %d ==\n%s\n", i+1, text)
	}
	return nil
}

func runTrace(ctx context.Context, args []string, g globals) error {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	page := fs.Int("page", 1, "1-based page")
	path, err := parseCommand("trace", fs, args)
	if err != nil {
		return err
	}
	doc, err := g.open(ctx, path)
	if err != nil {
		return err
	}
	defer doc.Close()
	tr, warnings, err := doc.TracePage(ctx, *page-1)
	if err != nil {
		return err
	}
	for _, c := range tr.Calls {
		b := c.Bounds
		fmt.Fprintf(g.stdout, "%-6s [%.1f %.1f %.1f %.1f] color=%v pattern=%v\n",
			c.Kind, b.MinX, b.MinY, b.MaxX, b.MaxY, c.Paint.Color, c.Paint.Pattern != nil)
	}
	if text := tr.Text(); text != "" {
		fmt.Fprintf(g.stdout, "text %q\n", text)
	}
	for _, w := range warnings {
		fmt.Fprintf(g.stdout, "warning: %v\n", w)
	}
	return nil
}

func runFonts(ctx context.Context, args []string, g globals) error {
	path, err := parseCommand("fonts", flag.NewFlagSet("fonts", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	doc, err := g.open(ctx, path)
	if err != nil {
		return err
	}
	defer doc.Close()
	return emit(g.stdout, doc.Fonts(ctx))
}

func runOutline(ctx context.Context, args []string, g globals) error {
	path, err := parseCommand("outline", flag.NewFlagSet("outline", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	doc, err := g.open(ctx, path)
	if err != nil {
		return err
	}
	defer doc.Close()
	printOutline(g.stdout, doc.Outlines(ctx), 0)
	return nil
}

func printOutline(w io.Writer, items []document.Bookmark, depth int) {
	for _, b := range items {
		page := "-"
		if b.Page >= 0 {
			page = strconv.Itoa(b.Page + 1)
		}
		fmt.Fprintf(w, "%s%s ... %s\n", strings.Repeat("  ", depth), b.Title, page)
		printOutline(w, b.Children, depth+1)
	}
}

func runImages(ctx context.Context, args []string, g globals) error {
	fs := flag.NewFlagSet("images", flag.ContinueOnError)
	pages := fs.String("pages", "", "1-based pages, such as 1,3-5; default all")
	path, err := parseCommand("images", fs, args)
	if err != nil {
		return err
	}
	doc, err := g.open(ctx, path)
	if err != nil {
		return err
	}
	defer doc.Close()
	indexes, err := parsePages(*pages, doc.PageCount())
	if err != nil {
		return err
	}
	var all []document.ImageInfo
	for _, i := range indexes {
		list, err := doc.Images(ctx, i)
		if err != nil {
			return err
		}
		all = append(all, list...)
	}
	return emit(g.stdout, all)
}

func runTokens(ctx context.Context, args []string, g globals) error {
	fs := flag.NewFlagSet("tokens", flag.ContinueOnError)
	offset := fs.Int64("offset", 0, "byte offset to start scanning at")
	limit := fs.Int("limit", 200000, "maximum tokens to print")
	path, err := parseCommand("tokens", fs, args)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s := scanner.New(data, scanner.Config{})
	if err := s.SeekTo(*offset); err != nil {
		return err
	}
	for i := 0; i < *limit && ctx.Err() == nil; i++ {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("at %d: %w", s.Position(), err)
		}
		fmt.Fprintf(g.stdout, "%d %s %s\n", tok.Pos, tok.Type, tokenText(tok))
	}
	return ctx.Err()
}

func tokenText(t scanner.Token) string {
	switch t.Type {
	case scanner.TokenNumber:
		if t.IsInt {
			return strconv.FormatInt(t.Int, 10)
		}
		return strconv.FormatFloat(t.Float, 'g', -1, 64)
	case scanner.TokenBoolean:
		return strconv.FormatBool(t.Bool)
	case scanner.TokenString:
		return strconv.Quote(string(t.Bytes))
	case scanner.TokenStream, scanner.TokenInlineImage:
		return fmt.Sprintf("<%d bytes>", len(t.Bytes))
	}
	return t.Str
}
