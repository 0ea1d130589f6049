package parser_test

import (
	"context"
	"testing"
	"time"

	"github.com/redforks/nipdf/internal/pdftest"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/parser"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/security"
)

// fuzzLimits keeps every input well under a second.
var fuzzLimits = security.Limits{
	MaxDecompressedSize: 1 << 20,
	MaxStringLength:     1 << 16,
	MaxStreamLength:     1 << 20,
	MaxImagePixels:      1 << 20,
	MaxDecodeTime:       50 * time.Millisecond,
	MaxParseTime:        time.Second,
}

const fuzzMaxObjects = 256

func FuzzDocumentParser(f *testing.F) {
	f.Add(pdftest.SimpleDocument(pdftest.Page{Content: "0 0 m 1 1 l S"}))
	f.Add([]byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > 1<<20 {
			return
		}
		for _, s := range []recovery.Strategy{recovery.NewStrictStrategy(), &recovery.LenientStrategy{}} {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			doc, err := parser.NewDocumentParser(parser.Config{Recovery: s, Limits: fuzzLimits}).Parse(ctx, data)
			if err != nil {
				cancel()
				continue
			}
			// a forged xref can declare far more objects than the file holds
			for i, num := range doc.Loader.Table().Objects() {
				if i >= fuzzMaxObjects || ctx.Err() != nil {
					break
				}
				obj, err := doc.Loader.Load(ctx, raw.ObjectRef{Num: num})
				if s, ok := obj.(*raw.StreamObj); ok && err == nil {
					doc.Loader.DecodeStream(ctx, s)
				}
			}
			cancel()
		}
	})
}
