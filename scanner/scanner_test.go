package scanner

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/redforks/nipdf/recovery"
)

func newScanner(t *testing.T, data string, cfg Config) Scanner {
	t.Helper()
	return New([]byte(data), cfg)
}

func nextToken(t *testing.T, s Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := newScanner(t, "%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2 3] /Flag true /Null null >>\nendobj", Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected first token number 1, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 0 {
		t.Fatalf("expected generation number 0, got %+v", tok)
	}
	if tok = nextToken(t, s); !tok.IsKeyword("obj") {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Name value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Nums" {
		t.Fatalf("expected Nums key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	for i := int64(1); i <= 3; i++ {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || !tok.IsInt || tok.Int != i {
			t.Fatalf("expected array number %d, got %+v", i, tok)
		}
	}
	if tok = nextToken(t, s); !tok.IsKeyword("]") {
		t.Fatalf("expected array close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Flag" {
		t.Fatalf("expected Flag key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true boolean, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Null" {
		t.Fatalf("expected Null key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null value, got %+v", tok)
	}
	if tok = nextToken(t, s); !tok.IsKeyword(">>") {
		t.Fatalf("expected dict close, got %+v", tok)
	}
	if tok = nextToken(t, s); !tok.IsKeyword("endobj") {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_Numbers(t *testing.T) {
	cases := []struct {
		in    string
		isInt bool
		want  float64
	}{
		{"42", true, 42},
		{"-17", true, -17},
		{"+5", true, 5},
		{"3.25", false, 3.25},
		{"-.5", false, -0.5},
		{"4.", false, 4},
		{"--3", true, -3},
		{"-", true, 0},
		{"1.2.3", false, 1.2},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			tok := nextToken(t, newScanner(t, tc.in, Config{}))
			if tok.Type != TokenNumber {
				t.Fatalf("expected number, got %+v", tok)
			}
			if tok.IsInt != tc.isInt || tok.Number() != tc.want {
				t.Fatalf("got %+v, want int=%v value=%v", tok, tc.isInt, tc.want)
			}
		})
	}
}

func TestScanner_NameHexEscapes(t *testing.T) {
	tok := nextToken(t, newScanner(t, "/Name#20With#23Hash", Config{}))
	if tok.Type != TokenName || tok.Str != "Name With#Hash" {
		t.Fatalf("unexpected name decode: %+v", tok)
	}
}

func TestScanner_EmptyName(t *testing.T) {
	s := newScanner(t, "/ /A", Config{})
	if tok := nextToken(t, s); tok.Type != TokenName || tok.Str != "" {
		t.Fatalf("expected empty name, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Str != "A" {
		t.Fatalf("expected /A, got %+v", tok)
	}
}

func TestScanner_LiteralStringEscapes(t *testing.T) {
	tok := nextToken(t, newScanner(t, "(Hi\\n\\050\\051\\t(nested) \\\\ \\7)", Config{}))
	if tok.Type != TokenString {
		t.Fatalf("expected string, got %+v", tok)
	}
	if want := []byte("Hi\n()\t(nested) \\ \x07"); !bytes.Equal(tok.Bytes, want) {
		t.Fatalf("unexpected literal string: %q", tok.Bytes)
	}
}

func TestScanner_LiteralStringLineContinuation(t *testing.T) {
	tok := nextToken(t, newScanner(t, "(Line\\\r\ncontinued\r\nnext)", Config{}))
	if got := string(tok.Bytes); got != "Linecontinued\nnext" {
		t.Fatalf("unexpected literal string with continuation: %q", got)
	}
}

func TestScanner_HexStringOddLength(t *testing.T) {
	tok := nextToken(t, newScanner(t, "<48 65 6c6c6f3>", Config{}))
	want := []byte("Hello0")
	if tok.Type != TokenString || !tok.Hex || !bytes.Equal(tok.Bytes, want) {
		t.Fatalf("expected padded hex string %q, got %+v", want, tok)
	}
}

func TestScanner_StreamWithLength(t *testing.T) {
	s := newScanner(t, "stream\r\nabcde\r\nendstream endobj", Config{})
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abcde" {
		t.Fatalf("unexpected stream token: %+v", tok)
	}
	if tok = nextToken(t, s); !tok.IsKeyword("endobj") {
		t.Fatalf("expected endobj after stream, got %+v", tok)
	}
}

func TestScanner_StreamLengthContainingEndstream(t *testing.T) {
	s := newScanner(t, "stream\nxxendstreamyy\nendstream", Config{})
	s.SetNextStreamLength(13)
	tok := nextToken(t, s)
	if string(tok.Bytes) != "xxendstreamyy" {
		t.Fatalf("declared length should win when endstream follows it: %q", tok.Bytes)
	}
}

func TestScanner_StreamFallbackToEndstream(t *testing.T) {
	s := newScanner(t, "stream\nabc\r\nendstream\n", Config{})
	s.SetNextStreamLength(100)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abc" {
		t.Fatalf("unexpected stream payload: %+v", tok)
	}
}

func TestScanner_StreamCRPrecedingEndstream(t *testing.T) {
	tok := nextToken(t, newScanner(t, "stream\rdata\rendstream\r", Config{}))
	if tok.Type != TokenStream || string(tok.Bytes) != "data" {
		t.Fatalf("unexpected stream payload: %+v", tok)
	}
}

func TestScanner_InlineImage(t *testing.T) {
	s := newScanner(t, "ID abc\nEI\nBT", Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenInlineImage || string(tok.Bytes) != "abc" {
		t.Fatalf("unexpected inline image token: %+v", tok)
	}
	if tok = nextToken(t, s); !tok.IsKeyword("BT") {
		t.Fatalf("expected BT after inline image, got %+v", tok)
	}
}

func TestScanner_InlineImageWithHint(t *testing.T) {
	// binary payload containing " EI " must not terminate early when the size is known
	s := newScanner(t, "ID \x01 EI \x02 EI Q", Config{})
	s.SetNextStreamLength(6)
	tok := nextToken(t, s)
	if string(tok.Bytes) != "\x01 EI \x02" {
		t.Fatalf("unexpected inline payload %q", tok.Bytes)
	}
	if tok = nextToken(t, s); !tok.IsKeyword("Q") {
		t.Fatalf("expected Q, got %+v", tok)
	}
}

func TestScanner_ContentOperators(t *testing.T) {
	s := newScanner(t, "q 1 0 0 1 100 100 cm 0 0 100 100 re f* Q", Config{})
	var kws []string
	for {
		tok, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok.Type == TokenKeyword {
			kws = append(kws, tok.Str)
		}
	}
	want := []string{"q", "cm", "re", "f*", "Q"}
	if len(kws) != len(want) {
		t.Fatalf("got keywords %v, want %v", kws, want)
	}
	for i := range want {
		if kws[i] != want[i] {
			t.Fatalf("got keywords %v, want %v", kws, want)
		}
	}
}

func TestScanner_StrictUnterminatedLiteralString(t *testing.T) {
	s := newScanner(t, "(abc", Config{Recovery: recovery.NewStrictStrategy()})
	_, err := s.Next()
	var perr *recovery.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestScanner_StrictUnterminatedHexString(t *testing.T) {
	s := newScanner(t, "<abc", Config{Recovery: recovery.NewStrictStrategy()})
	if _, err := s.Next(); err == nil {
		t.Fatalf("expected unterminated hex string error")
	}
}

type fixRecovery struct{ calls int }

func (f *fixRecovery) OnError(ctx recovery.Context, err error, loc recovery.Location) recovery.Action {
	f.calls++
	return recovery.ActionFix
}

func TestScanner_FixUnterminatedLiteralString(t *testing.T) {
	rec := &fixRecovery{}
	tok := nextToken(t, newScanner(t, "(abc", Config{Recovery: rec}))
	if tok.Type != TokenString || string(tok.Bytes) != "abc" || rec.calls != 1 {
		t.Fatalf("unexpected token after recovery: %+v (calls %d)", tok, rec.calls)
	}
}

func TestScanner_FixUnterminatedHexString(t *testing.T) {
	tok := nextToken(t, newScanner(t, "<4142", Config{Recovery: &fixRecovery{}}))
	if tok.Type != TokenString || string(tok.Bytes) != "AB" {
		t.Fatalf("unexpected token after recovery: %+v", tok)
	}
}

func TestScanner_FixTruncatedStream(t *testing.T) {
	s := newScanner(t, "stream\nabc", Config{Recovery: &fixRecovery{}})
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abc" {
		t.Fatalf("unexpected stream payload after recovery: %+v", tok)
	}
}

func TestScanner_MaxLiteralStringLength(t *testing.T) {
	s := newScanner(t, "(abcdef) 7", Config{MaxStringLength: 3, Recovery: &fixRecovery{}})
	tok := nextToken(t, s)
	if len(tok.Bytes) != 4 {
		t.Fatalf("expected truncated string, got %q", tok.Bytes)
	}
	if tok = nextToken(t, s); tok.Int != 7 {
		t.Fatalf("expected scanning to resume after the string, got %+v", tok)
	}
}

func TestScanner_SeekTo(t *testing.T) {
	s := newScanner(t, "1 2 3", Config{})
	if err := s.SeekTo(4); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if tok := nextToken(t, s); tok.Int != 3 {
		t.Fatalf("expected 3 after seek, got %+v", tok)
	}
	if err := s.SeekTo(99); err == nil {
		t.Fatalf("expected out of range seek error")
	}
}
