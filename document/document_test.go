package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/redforks/nipdf/internal/pdftest"
	"github.com/redforks/nipdf/render"
)

func open(t *testing.T, data []byte) *Document {
	t.Helper()
	d, err := Open(context.Background(), data, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func TestOpenSimple(t *testing.T) {
	d := open(t, pdftest.SimpleDocument(
		pdftest.Page{Content: "0 0 1 rg 0 0 100 100 re f"},
		pdftest.Page{MediaBox: "0 0 300 100", Extra: "/Rotate 90"},
	))
	if got := d.PageCount(); got != 2 {
		t.Fatalf("PageCount = %d, want 2", got)
	}
	if d.Encrypted() {
		t.Error("unexpected encryption")
	}
	if v := d.Version(); v != "1.7" {
		t.Errorf("Version = %q", v)
	}
	p, err := d.Page(1)
	if err != nil {
		t.Fatal(err)
	}
	if w, h := p.Size(); w != 100 || h != 300 {
		t.Errorf("rotated size = %v x %v", w, h)
	}
	if _, err := d.Page(2); !errors.Is(err, ErrPageIndex) {
		t.Errorf("Page(2) err = %v, want ErrPageIndex", err)
	}
	if _, err := d.Page(-1); !errors.Is(err, ErrPageIndex) {
		t.Errorf("Page(-1) err = %v, want ErrPageIndex", err)
	}
}

func TestRenderPage(t *testing.T) {
	d := open(t, pdftest.SimpleDocument(pdftest.Page{Content: "0 0 1 rg 0 0 100 100 re f"}))
	res, err := d.RenderPage(context.Background(), 0, render.Options{})
	if err != nil {
		t.Fatalf("RenderPage: %v", err)
	}
	if b := res.Image.Bounds(); b.Dx() != 200 || b.Dy() != 200 {
		t.Fatalf("size = %v", b)
	}
	// bottom-left quadrant is blue, top-right stays white
	if c := res.Image.RGBAAt(50, 150); c.B != 255 || c.R != 0 {
		t.Errorf("filled pixel = %v", c)
	}
	if c := res.Image.RGBAAt(150, 50); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("background pixel = %v", c)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings: %v", res.Warnings)
	}
	if _, err := d.RenderPage(context.Background(), 5, render.Options{}); !errors.Is(err, ErrPageIndex) {
		t.Errorf("err = %v, want ErrPageIndex", err)
	}
}

func TestRenderPagesOrder(t *testing.T) {
	d, err := Open(context.Background(), pdftest.SimpleDocument(
		pdftest.Page{MediaBox: "0 0 10 10"},
		pdftest.Page{MediaBox: "0 0 20 10"},
		pdftest.Page{MediaBox: "0 0 30 10"},
	), Config{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	results := d.RenderPages(context.Background(), []int{2, 0, 1, 7}, render.Options{})
	want := []int{30, 10, 20}
	for i, w := range want {
		r := results[i]
		if r.Err != nil {
			t.Fatalf("page %d: %v", r.Index, r.Err)
		}
		if got := r.Result.Image.Bounds().Dx(); got != w {
			t.Errorf("result %d width = %d, want %d", i, got, w)
		}
	}
	if results[3].Index != 7 || !errors.Is(results[3].Err, ErrPageIndex) {
		t.Errorf("bad index result = %+v", results[3])
	}
}

func TestRenderCancelled(t *testing.T) {
	d := open(t, pdftest.SimpleDocument(pdftest.Page{Content: "0 0 10 10 re f"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.RenderPage(ctx, 0, render.Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	for _, r := range d.RenderPages(ctx, []int{0}, render.Options{}) {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("RenderPages err = %v", r.Err)
		}
	}
}

func TestOpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Open(ctx, pdftest.SimpleDocument(pdftest.Page{}), Config{}); err == nil {
		t.Error("Open succeeded on a cancelled context")
	}
}

func TestExtractText(t *testing.T) {
	d := open(t, pdftest.SimpleDocument(pdftest.Page{
		Content: "BT /F1 12 Tf 10 100 Td (Hello) Tj 100 0 Td (world) Tj 0 -20 Td (Next) Tj ET",
	}))
	got, err := d.ExtractText(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := "Hello world\nNext"; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestTracePage(t *testing.T) {
	d := open(t, pdftest.SimpleDocument(pdftest.Page{Content: "0 0 10 10 re f 1 2 xx"}))
	tr, warnings, err := d.TracePage(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if tr == nil {
		t.Fatal("nil tracer")
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want the unknown operator", warnings)
	}
}

func TestDumpObject(t *testing.T) {
	d := open(t, pdftest.SimpleDocument(pdftest.Page{Content: "q Q"}))
	obj, err := d.DumpObject(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s := FormatObject(obj); !strings.Contains(s, "/Catalog") {
		t.Errorf("formatted catalog = %q", s)
	}
	if _, err := d.DumpObject(context.Background(), 5, 0); err != nil {
		t.Errorf("content stream: %v", err)
	}
}

func infoDocument() []byte {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R /Outlines 6 0 R /Lang (en-US) /MarkInfo << /Marked true >> /Names << /Dests 10 0 R >> >>")
	b.Object(2, "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>")
	b.Object(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 50 50] /Resources << /Font << /F1 5 0 R >> /XObject << /Im1 11 0 R >> >> >>")
	b.Object(4, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 50 50] /Resources << /Font << /F1 5 0 R /F2 12 0 R >> >> >>")
	b.Object(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	b.Object(6, "<< /Type /Outlines /First 7 0 R /Last 8 0 R /Count 2 >>")
	b.Object(7, "<< /Title (Intro) /Parent 6 0 R /Next 8 0 R /Dest [3 0 R /Fit] /First 9 0 R /Last 9 0 R >>")
	b.Object(8, "<< /Title <FEFF00C9007400650020> /Parent 6 0 R /Prev 7 0 R /A << /S /GoTo /D (second) >> >>")
	b.Object(9, "<< /Title (Detail) /Parent 7 0 R /Dest [4 0 R /XYZ 0 0 0] >>")
	b.Object(10, "<< /Names [(second) [4 0 R /Fit]] >>")
	b.Stream(11, "/Type /XObject /Subtype /Image /Width 2 /Height 3 /BitsPerComponent 8 /ColorSpace /DeviceRGB /Filter /FlateDecode", []byte{0})
	b.Object(12, "<< /Type /Font /Subtype /TrueType /BaseFont /Arial /ToUnicode 13 0 R >>")
	b.Stream(13, "", []byte("begincmap endcmap"))
	b.Object(14, "<< /Title <FEFF00480069> /Author (Jos\xe9) /Producer (a\x84b) >>")
	b.XRefTable("/Size 15 /Root 1 0 R /Info 14 0 R")
	return b.Bytes()
}

func TestInfo(t *testing.T) {
	d := open(t, infoDocument())
	info := d.Info(context.Background())
	if info.Title != "Hi" {
		t.Errorf("Title = %q", info.Title)
	}
	if info.Author != "José" {
		t.Errorf("Author = %q", info.Author)
	}
	if info.Producer != "a—b" {
		t.Errorf("Producer = %q", info.Producer)
	}
	if info.Lang != "en-US" || !info.Marked {
		t.Errorf("Lang = %q Marked = %v", info.Lang, info.Marked)
	}
}

func TestTextString(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("plain"), "plain"},
		{[]byte{0xFE, 0xFF, 0x00, 0x41, 0x26, 0x3A}, "A☺"},
		{[]byte{0xFF, 0xFE, 0x41, 0x00}, "A"},
		{[]byte{0xEF, 0xBB, 0xBF, 'o', 'k'}, "ok"},
		{[]byte{0xA0, 0x93}, "€ﬁ"},
		{[]byte{0xE9}, "é"},
	}
	for _, tt := range tests {
		if got := TextString(tt.in); got != tt.want {
			t.Errorf("TextString(% x) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutlines(t *testing.T) {
	d := open(t, infoDocument())
	got := d.Outlines(context.Background())
	if len(got) != 2 {
		t.Fatalf("outlines = %+v", got)
	}
	if got[0].Title != "Intro" || got[0].Page != 0 {
		t.Errorf("first = %+v", got[0])
	}
	if len(got[0].Children) != 1 || got[0].Children[0].Title != "Detail" || got[0].Children[0].Page != 1 {
		t.Errorf("children = %+v", got[0].Children)
	}
	if got[1].Title != "Éte " || got[1].Page != 1 {
		t.Errorf("named destination = %+v", got[1])
	}
}

func TestOutlinesCycle(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R /Outlines 4 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.Object(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 10 10] >>")
	b.Object(4, "<< /First 5 0 R >>")
	b.Object(5, "<< /Title (a) /Next 6 0 R /Dest [99 0 R /Fit] >>")
	b.Object(6, "<< /Title (b) /Next 5 0 R >>")
	b.XRefTable("/Size 7 /Root 1 0 R")
	d := open(t, b.Bytes())
	got := d.Outlines(context.Background())
	if len(got) != 2 || got[0].Page != -1 {
		t.Errorf("outlines = %+v", got)
	}
}

func TestFonts(t *testing.T) {
	d := open(t, infoDocument())
	got := d.Fonts(context.Background())
	if len(got) != 2 {
		t.Fatalf("fonts = %+v", got)
	}
	arial, helv := got[0], got[1]
	if arial.BaseFont != "Arial" || !arial.HasToUnicode || arial.Embedded || len(arial.Pages) != 1 || arial.Pages[0] != 1 {
		t.Errorf("Arial = %+v", arial)
	}
	if helv.BaseFont != "Helvetica" || helv.Encoding != "WinAnsiEncoding" || len(helv.Pages) != 2 {
		t.Errorf("Helvetica = %+v", helv)
	}
}

func TestImages(t *testing.T) {
	d := open(t, infoDocument())
	got, err := d.Images(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("images = %+v", got)
	}
	im := got[0]
	if im.ResourceName != "Im1" || im.Width != 2 || im.Height != 3 || im.ColorSpace != "DeviceRGB" {
		t.Errorf("image = %+v", im)
	}
	if len(im.Filters) != 1 || im.Filters[0] != "FlateDecode" {
		t.Errorf("filters = %v", im.Filters)
	}
	if got, _ := d.Images(context.Background(), 1); len(got) != 0 {
		t.Errorf("page 1 images = %+v", got)
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pdf")
	if err := os.WriteFile(path, pdftest.SimpleDocument(pdftest.Page{}), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := OpenFile(context.Background(), path, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if d.PageCount() != 1 {
		t.Errorf("PageCount = %d", d.PageCount())
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	empty := filepath.Join(dir, "empty.pdf")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(context.Background(), empty, Config{}); err == nil {
		t.Error("empty file opened")
	}
	if _, err := OpenFile(context.Background(), filepath.Join(dir, "missing.pdf"), Config{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}
}

func TestOpenHugePredictorColumns(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.Object(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 10 10] >>")
	b.XRefStream(4, "/Root 1 0 R /DecodeParms << /Predictor 12 /Columns 200000000000 >>",
		[]pdftest.StreamEntry{b.InFile(1), b.InFile(2), b.InFile(3)})
	d, err := Open(context.Background(), b.Bytes(), Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.PageCount() != 1 {
		t.Errorf("PageCount = %d, want 1", d.PageCount())
	}
}
