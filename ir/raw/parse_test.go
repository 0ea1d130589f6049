package raw

import (
	"errors"
	"strings"
	"testing"

	"github.com/redforks/nipdf/recovery"
)

func TestParseIndirectObjectsAndStream(t *testing.T) {
	src := "" +
		"1 0 obj\n" +
		"<< /Type /Catalog /Pages 2 0 R /Empty null >>\n" +
		"endobj\n" +
		"2 0 obj\n" +
		"<< /Length 5 >>\n" +
		"stream\n" +
		"hello\n" +
		"endstream\n" +
		"endobj\n"

	p := NewObjectParser([]byte(src), ParserConfig{})
	ref, obj, err := p.ParseIndirect()
	if err != nil {
		t.Fatalf("parse 1: %v", err)
	}
	if ref != (ObjectRef{Num: 1}) {
		t.Fatalf("unexpected ref %v", ref)
	}
	d, ok := obj.(*DictObj)
	if !ok {
		t.Fatalf("expected dict, got %T", obj)
	}
	if name, _ := d.Name("Type"); name != "Catalog" {
		t.Fatalf("unexpected /Type %q", name)
	}
	if pages, _ := d.Get("Pages"); pages != Ref(2, 0) {
		t.Fatalf("expected 2 0 R, got %v", pages)
	}
	if _, ok := d.Get("Empty"); ok {
		t.Fatalf("null-valued entries should be dropped")
	}

	ref, obj, err = p.ParseIndirect()
	if err != nil {
		t.Fatalf("parse 2: %v", err)
	}
	s, ok := obj.(*StreamObj)
	if !ok {
		t.Fatalf("expected stream, got %T", obj)
	}
	if string(s.Data) != "hello" || s.Ref != ref {
		t.Fatalf("unexpected stream %q ref %v", s.Data, s.Ref)
	}
}

func TestParseIndirectLengthResolver(t *testing.T) {
	src := "7 0 obj << /Length 9 0 R >> stream\nabcendstreamxyz\nendstream endobj"
	cfg := ParserConfig{LengthResolver: func(ref ObjectRef) (int64, bool) {
		if ref.Num == 9 {
			return 15, true
		}
		return 0, false
	}}
	_, obj, err := NewObjectParser([]byte(src), cfg).ParseIndirect()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := string(obj.(*StreamObj).Data); got != "abcendstreamxyz" {
		t.Fatalf("unexpected stream data %q", got)
	}
}

func TestParseReferencesInArray(t *testing.T) {
	obj, err := ParseBytes([]byte("[1 0 R 2 3 4 0 R /N (s) <41>]"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := NewArray(Ref(1, 0), NumberInt(2), NumberInt(3), Ref(4, 0), NameLiteral("N"), Str([]byte("s")), Str([]byte("A")))
	if !Equal(obj, want) {
		t.Fatalf("got %s, want %s", Format(obj), Format(want))
	}
}

func TestParseMissingDictEnd(t *testing.T) {
	src := "1 0 obj\n<< /Type /Catalog /Pages 2 0 R\nendobj\n"
	_, obj, err := NewObjectParser([]byte(src), ParserConfig{}).ParseIndirect()
	if err != nil {
		t.Fatalf("lenient parse should recover: %v", err)
	}
	if name, _ := obj.(*DictObj).Name("Type"); name != "Catalog" {
		t.Fatalf("unexpected dict %s", Format(obj))
	}

	_, _, err = NewObjectParser([]byte(src), ParserConfig{Recovery: recovery.NewStrictStrategy()}).ParseIndirect()
	var perr *recovery.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("strict parse should fail with ParseError, got %v", err)
	}
}

func TestParseDepthLimit(t *testing.T) {
	src := strings.Repeat("[", 100) + strings.Repeat("]", 100)
	if _, err := NewObjectParser([]byte(src), ParserConfig{MaxDepth: 10}).ParseObject(); err == nil {
		t.Fatalf("expected depth error")
	}
}

func TestParseEmptyObject(t *testing.T) {
	_, obj, err := NewObjectParser([]byte("3 0 obj endobj"), ParserConfig{}).ParseIndirect()
	if err != nil || !IsNull(obj) {
		t.Fatalf("expected null object, got %v %v", obj, err)
	}
}

func TestFormat(t *testing.T) {
	d := Dict()
	d.Set("Type", NameLiteral("Font"))
	d.Set("Widths", NewArray(NumberInt(500), NumberFloat(250.5)))
	d.Set("Name", Str([]byte("a(b)")))
	d.Set("ID", StringObj{Bytes: []byte{0xff, 0x00}})
	d.Set("Odd Name", Bool(true))
	got := Format(d)
	for _, want := range []string{"/Type /Font", "[500 250.5]", `(a\(b\))`, "<FF00>", "/Odd#20Name true"} {
		if !strings.Contains(got, want) {
			t.Fatalf("formatted %q missing %q", got, want)
		}
	}
}

func TestStreamStoreDecodedFirstWins(t *testing.T) {
	s := NewStream(nil, []byte("raw"))
	if _, ok := s.Decoded(); ok {
		t.Fatalf("fresh stream should have no decoded payload")
	}
	first := s.StoreDecoded([]byte("one"))
	second := s.StoreDecoded([]byte("two"))
	if string(first) != "one" || string(second) != "one" {
		t.Fatalf("first stored payload should win: %q %q", first, second)
	}
}
