package xref_test

import (
	"context"
	"testing"

	"github.com/redforks/nipdf/internal/pdftest"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/xref"
)

func TestMissingStartXRef(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	data := b.Bytes()

	if _, err := strict().Resolve(context.Background(), data); err == nil {
		t.Fatalf("strict resolve should fail without startxref")
	}
	table, err := lenient().Resolve(context.Background(), data)
	if err != nil {
		t.Fatalf("lenient resolve: %v", err)
	}
	root, ok := table.Trailer().Get("Root")
	if !ok || root.(raw.RefObj).R.Num != 1 {
		t.Fatalf("root = %v", root)
	}
	if size, _ := table.Trailer().Int("Size"); size != 3 {
		t.Errorf("size = %d", size)
	}
}

func TestRepairLastDefinitionWins(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.Object(3, "(first)")
	b.Object(3, "(second)")

	table, err := xref.Repair(context.Background(), b.Bytes(), xref.ResolverConfig{})
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	e, ok := table.Lookup(3)
	if !ok || e.Offset != b.Offset(3) {
		t.Fatalf("object 3 = %+v, want offset %d", e, b.Offset(3))
	}
	if got := table.Objects(); len(got) != 3 {
		t.Errorf("objects = %v", got)
	}
}

func TestRepairIgnoresLookalikeKeywords(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R /Note (12 0 objects) >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	table, err := xref.Repair(context.Background(), b.Bytes(), xref.ResolverConfig{})
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if _, ok := table.Lookup(12); ok {
		t.Errorf("text inside a string should not be taken for an object header")
	}
}

func TestRepairFindsCatalogInObjectStream(t *testing.T) {
	b := pdftest.New()
	b.ObjectStream(5, []pdftest.Member{
		{Num: 1, Body: "<< /Type /Catalog /Pages 2 0 R >>"},
		{Num: 2, Body: "<< /Type /Pages /Kids [] /Count 0 >>"},
	})

	table, err := lenient().Resolve(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	e, ok := table.Lookup(1)
	if !ok || e.Kind != xref.EntryInStream || e.Stream != 5 || e.Index != 0 {
		t.Fatalf("object 1 = %+v %v", e, ok)
	}
	root, _ := table.Trailer().Get("Root")
	if ref, ok := root.(raw.RefObj); !ok || ref.R.Num != 1 {
		t.Fatalf("root = %v", root)
	}
}

func TestRepairNoObjects(t *testing.T) {
	if _, err := xref.Repair(context.Background(), []byte("%PDF-1.4\njunk"), xref.ResolverConfig{}); err == nil {
		t.Fatalf("repair of a file without objects should fail")
	}
}
