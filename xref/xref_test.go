package xref_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/redforks/nipdf/internal/pdftest"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/xref"
)

func lenient() xref.Resolver {
	return xref.NewResolver(xref.ResolverConfig{Recovery: &recovery.LenientStrategy{}})
}

func strict() xref.Resolver {
	return xref.NewResolver(xref.ResolverConfig{Recovery: recovery.NewStrictStrategy()})
}

func objOffset(t *testing.T, data []byte, num int) int64 {
	t.Helper()
	idx := bytes.LastIndex(data, []byte(fmt.Sprintf("\n%d 0 obj", num)))
	if idx < 0 {
		t.Fatalf("object %d not in fixture", num)
	}
	return int64(idx + 1)
}

func TestClassicTable(t *testing.T) {
	data := pdftest.SimpleDocument(pdftest.Page{Content: "0 0 m 10 10 l S"})
	table, err := strict().Resolve(context.Background(), data)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if table.Type() != "table" || table.Repaired() {
		t.Fatalf("type = %q repaired = %v", table.Type(), table.Repaired())
	}
	for num := 1; num <= 5; num++ {
		e, ok := table.Lookup(num)
		if !ok || e.Kind != xref.EntryInFile {
			t.Fatalf("object %d: %+v %v", num, e, ok)
		}
		if want := objOffset(t, data, num); e.Offset != want {
			t.Errorf("object %d offset = %d, want %d", num, e.Offset, want)
		}
	}
	if _, ok := table.Lookup(0); ok {
		t.Errorf("free object 0 should not resolve")
	}
	root, ok := table.Trailer().Get("Root")
	if !ok || root.(raw.RefObj).R.Num != 1 {
		t.Errorf("root = %v", root)
	}
}

func TestXRefStreamWithObjectStream(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.ObjectStream(5, []pdftest.Member{
		{Num: 3, Body: "<< /A 1 >>"},
		{Num: 4, Body: "(four)"},
	})
	b.XRefStream(6, "/Root 1 0 R", []pdftest.StreamEntry{
		b.InFile(1), b.InFile(2), b.InFile(5),
		pdftest.InStream(3, 5, 0), pdftest.InStream(4, 5, 1),
	})
	table, err := strict().Resolve(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if table.Type() != "stream" {
		t.Fatalf("type = %q", table.Type())
	}
	e, ok := table.Lookup(4)
	if !ok || e.Kind != xref.EntryInStream || e.Stream != 5 || e.Index != 1 {
		t.Fatalf("object 4 = %+v %v", e, ok)
	}
	e, ok = table.Lookup(6)
	if !ok || e.Kind != xref.EntryInFile || e.Offset != b.Offset(6) {
		t.Fatalf("xref stream entry = %+v %v", e, ok)
	}
	if _, ok := table.Trailer().Get("W"); !ok {
		t.Errorf("stream dictionary should serve as trailer")
	}
}

func TestHybridXRefStm(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.Object(5, "(table only)")
	b.ObjectStream(7, []pdftest.Member{{Num: 3, Body: "(packed)"}})
	stm := b.XRefStream(8, "", []pdftest.StreamEntry{b.InFile(7), pdftest.InStream(3, 7, 0)})
	b.XRefTable(fmt.Sprintf("/Size 9 /Root 1 0 R /XRefStm %d", stm), 1, 2, 5)

	table, err := strict().Resolve(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if table.Type() != "hybrid" {
		t.Fatalf("type = %q", table.Type())
	}
	if e, ok := table.Lookup(5); !ok || e.Offset != b.Offset(5) {
		t.Errorf("object 5 = %+v %v", e, ok)
	}
	if e, ok := table.Lookup(3); !ok || e.Kind != xref.EntryInStream || e.Stream != 7 {
		t.Errorf("object 3 = %+v %v", e, ok)
	}
}

func TestIncrementalUpdateNewestWins(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.Object(3, "(old)")
	first := b.XRefTable("/Size 4 /Root 1 0 R /Info 3 0 R")
	oldOffset := b.Offset(3)
	b.Object(3, "(new)")
	b.XRefTable(fmt.Sprintf("/Size 4 /Root 1 0 R /Prev %d", first))

	table, err := strict().Resolve(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	e, ok := table.Lookup(3)
	if !ok || e.Offset == oldOffset || e.Offset != b.Offset(3) {
		t.Fatalf("object 3 = %+v, want offset %d", e, b.Offset(3))
	}
	if table.Sections() != 2 {
		t.Errorf("sections = %d", table.Sections())
	}
	if _, ok := table.Trailer().Get("Info"); !ok {
		t.Errorf("older trailer keys should be inherited")
	}
	if _, ok := table.Trailer().Get("Prev"); ok {
		t.Errorf("/Prev should not leak into the merged trailer")
	}
}

func TestNewerFreeEntryHidesOlder(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.Object(3, "(deleted later)")
	first := b.XRefTable("/Size 4 /Root 1 0 R")
	off := b.Len()
	b.Raw("xref\n3 1\n0000000000 00001 f\r\n")
	b.Raw(fmt.Sprintf("trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\n", first))
	b.StartXRef(off)

	table, err := strict().Resolve(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e, ok := table.Lookup(3); ok {
		t.Fatalf("freed object still resolves: %+v", e)
	}
	for _, n := range table.Objects() {
		if n == 3 {
			t.Fatalf("Objects lists freed object")
		}
	}
}

func TestFirstSubsectionNumberedFromOne(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	off := b.Len()
	b.Raw("xref\n1 3\n0000000000 65535 f\r\n")
	b.Raw(fmt.Sprintf("%010d 00000 n\r\n%010d 00000 n\r\n", b.Offset(1), b.Offset(2)))
	b.Raw("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	b.StartXRef(off)

	table, err := strict().Resolve(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != b.Offset(1) {
		t.Errorf("object 1 = %+v %v", e, ok)
	}
	if e, ok := table.Lookup(2); !ok || e.Offset != b.Offset(2) {
		t.Errorf("object 2 = %+v %v", e, ok)
	}
}

func TestPrevLoopTerminates(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	off := b.Len()
	b.Raw(fmt.Sprintf("xref\n0 3\n0000000000 65535 f\r\n%010d 00000 n\r\n%010d 00000 n\r\n", b.Offset(1), b.Offset(2)))
	b.Raw(fmt.Sprintf("trailer\n<< /Size 3 /Root 1 0 R /Prev %d >>\n", off))
	b.StartXRef(off)

	table, err := lenient().Resolve(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if table.Sections() != 1 {
		t.Errorf("sections = %d", table.Sections())
	}
}

func TestStartXRefPastEOFRepairs(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.XRefTable("/Size 3 /Root 1 0 R")
	b.StartXRef(1 << 30)
	data := b.Bytes()

	if _, err := strict().Resolve(context.Background(), data); err == nil {
		t.Fatalf("strict resolve should fail")
	}
	table, err := lenient().Resolve(context.Background(), data)
	if err != nil {
		t.Fatalf("lenient resolve: %v", err)
	}
	if !table.Repaired() || table.Type() != "repaired" {
		t.Fatalf("expected repaired table, got %q", table.Type())
	}
	if e, ok := table.Lookup(2); !ok || e.Offset != b.Offset(2) {
		t.Errorf("object 2 = %+v %v", e, ok)
	}
}

func TestCancelledResolve(t *testing.T) {
	data := pdftest.SimpleDocument(pdftest.Page{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := lenient().Resolve(ctx, data); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseObjectStreamHeader(t *testing.T) {
	dict := raw.Dict()
	dict.Set("N", raw.NumberInt(2))
	dict.Set("First", raw.NumberInt(10))
	payload := []byte("7 0 9 5   (a) (b)")
	members, first, err := xref.ParseObjectStreamHeader(dict, payload)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if first != 10 || len(members) != 2 || members[1].Num != 9 || members[1].Offset != 5 {
		t.Fatalf("members = %+v first = %d", members, first)
	}

	dict.Set("First", raw.NumberInt(100))
	if _, _, err := xref.ParseObjectStreamHeader(dict, payload); err == nil {
		t.Errorf("/First past the payload should fail")
	}
}
