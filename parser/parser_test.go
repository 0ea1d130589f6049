package parser_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/redforks/nipdf/internal/pdftest"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/parser"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/security"
)

func TestParseClassicDocument(t *testing.T) {
	data := pdftest.SimpleDocument(pdftest.Page{Content: "0 0 m 10 10 l S"})
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Version != "1.7" {
		t.Errorf("version = %q", doc.Version)
	}
	if typ, _ := doc.Catalog.Name("Type"); typ != "Catalog" {
		t.Errorf("catalog type = %q", typ)
	}
	if doc.Encrypted() {
		t.Errorf("plain document reported encrypted")
	}
}

func TestCatalogVersionOverridesHeader(t *testing.T) {
	b := pdftest.NewVersion("1.4")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R /Version /1.6 >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.XRefTable("/Size 3 /Root 1 0 R")
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Version != "1.6" {
		t.Errorf("version = %q", doc.Version)
	}
}

func TestParseRecoversFromBrokenStartXRef(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.Object(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 10 10] >>")
	b.XRefTable("/Size 4 /Root 1 0 R")
	b.StartXRef(1 << 20)
	data := b.Bytes()

	strict := parser.NewDocumentParser(parser.Config{Recovery: recovery.NewStrictStrategy()})
	if _, err := strict.Parse(context.Background(), data); err == nil {
		t.Fatalf("strict parse should fail")
	}
	doc, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("lenient parse: %v", err)
	}
	page, ok := raw.DictOf(context.Background(), doc.Loader, raw.Ref(3, 0))
	if !ok {
		t.Fatalf("page object unresolved")
	}
	if typ, _ := page.Name("Type"); typ != "Page" {
		t.Errorf("page type = %q", typ)
	}
}

func TestParseWithoutCatalogFails(t *testing.T) {
	b := pdftest.New()
	b.Object(1, "(not a catalog)")
	b.XRefTable("/Size 2 /Root 1 0 R")
	if _, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), b.Bytes()); err == nil {
		t.Fatalf("parse should fail without a catalog")
	}
}

func encryptedDocument(t *testing.T, revision int) []byte {
	t.Helper()
	fileID := []byte("0123456789abcdef")
	encDict, _, err := security.StandardEncryption{
		UserPassword:    "user",
		OwnerPassword:   "owner",
		FileID:          fileID,
		Revision:        revision,
		EncryptMetadata: true,
	}.Build()
	if err != nil {
		t.Fatalf("encryption dict: %v", err)
	}
	trailer := raw.Dict()
	trailer.Set("ID", raw.NewArray(raw.StringObj{Bytes: fileID, Hex: true}, raw.StringObj{Bytes: fileID, Hex: true}))
	h, err := (&security.HandlerBuilder{}).WithEncryptDict(encDict).WithTrailer(trailer).Build()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if err := h.Authenticate("owner"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	b := pdftest.New()
	b.Object(9, raw.Format(encDict))
	b.Encrypt(h)
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.Object(3, fmt.Sprintf("<< /Title %s >>", b.EncString(3, "Secret Title")))
	b.FlateStream(4, "", []byte("q 1 0 0 1 5 5 cm Q"))
	b.XRefTable(fmt.Sprintf("/Size 10 /Root 1 0 R /Info 3 0 R /Encrypt 9 0 R /ID [<%x> <%x>]", fileID, fileID))
	return b.Bytes()
}

func TestParseEncryptedDocument(t *testing.T) {
	for _, rev := range []int{2, 3, 4, 6} {
		t.Run(fmt.Sprintf("R%d", rev), func(t *testing.T) {
			data := encryptedDocument(t, rev)
			ctx := context.Background()
			doc, err := parser.NewDocumentParser(parser.Config{Password: "user"}).Parse(ctx, data)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !doc.Encrypted() {
				t.Fatalf("document should be encrypted")
			}
			info, ok := raw.DictOf(ctx, doc.Loader, raw.Ref(3, 0))
			if !ok {
				t.Fatalf("info unresolved")
			}
			if title, _ := raw.StringOf(ctx, doc.Loader, info.KV["Title"]); string(title) != "Secret Title" {
				t.Errorf("title = %q", title)
			}
			s, ok := raw.StreamOf(ctx, doc.Loader, raw.Ref(4, 0))
			if !ok {
				t.Fatalf("content stream unresolved")
			}
			payload, err := doc.Loader.DecodeStream(ctx, s)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if string(payload) != "q 1 0 0 1 5 5 cm Q" {
				t.Errorf("payload = %q", payload)
			}
		})
	}
}

func TestParseEncryptedWrongPassword(t *testing.T) {
	data := encryptedDocument(t, 3)
	_, err := parser.NewDocumentParser(parser.Config{Password: "nope"}).Parse(context.Background(), data)
	if !errors.Is(err, recovery.ErrInvalidPassword) {
		t.Fatalf("err = %v, want invalid password", err)
	}
	var de *recovery.DecryptionError
	if !errors.As(err, &de) {
		t.Errorf("err should be a DecryptionError: %T", err)
	}
}
