package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	pstrconv "github.com/tdewolff/parse/v2/strconv"

	"github.com/redforks/nipdf/recovery"
)

type TokenType int

const (
	TokenDict        TokenType = iota // '<<'
	TokenArray                        // '['
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenStream                       // stream body, 'stream' ... 'endstream'
	TokenInlineImage                  // inline image data following ID ... EI (content stream only)
	TokenKeyword                      // other keywords (obj, endobj, >>, ], {, }, operators)
)

func (t TokenType) String() string {
	switch t {
	case TokenDict:
		return "dict"
	case TokenArray:
		return "array"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenStream:
		return "stream"
	case TokenInlineImage:
		return "inline-image"
	case TokenKeyword:
		return "keyword"
	}
	return "unknown"
}

// Token is one lexical unit. Which payload field is meaningful depends on Type:
// Str for names and keywords, Bytes for strings, streams and inline images,
// Int/Float/IsInt for numbers and Bool for booleans.
type Token struct {
	Type  TokenType
	Str   string
	Bytes []byte
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Hex   bool
	Pos   int64
}

// Number returns the numeric value of a number token as float64.
func (t Token) Number() float64 {
	if t.IsInt {
		return float64(t.Int)
	}
	return t.Float
}

func (t Token) IsKeyword(kw string) bool { return t.Type == TokenKeyword && t.Str == kw }

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	// SetNextStreamLength hints the declared /Length of the stream whose
	// 'stream' keyword is about to be scanned. A negative value clears it.
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	MaxInlineImage  int64
	Recovery        recovery.Strategy
	// Component labels recovery locations, e.g. "content" or "object".
	Component string
}

const (
	defaultMaxString = 32 * 1024 * 1024
	defaultMaxInline = 64 * 1024 * 1024
)

type pdfScanner struct {
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
}

// New returns a scanner over data. All input is held in memory; the scanner
// never performs I/O.
func New(data []byte, cfg Config) Scanner {
	if cfg.MaxStringLength <= 0 {
		cfg.MaxStringLength = defaultMaxString
	}
	if cfg.MaxInlineImage <= 0 {
		cfg.MaxInlineImage = defaultMaxInline
	}
	if cfg.Component == "" {
		cfg.Component = "scanner"
	}
	return &pdfScanner{data: data, cfg: cfg, nextStreamLen: -1}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return fmt.Errorf("seek %d out of range [0,%d]", offset, len(s.data))
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

// recover consults the recovery strategy; a non-nil return aborts scanning.
func (s *pdfScanner) recover(err error, offset int64) error {
	perr := &recovery.ParseError{Offset: offset, Component: s.cfg.Component, Err: err}
	loc := recovery.Location{ByteOffset: offset, Component: s.cfg.Component}
	if recovery.Decide(s.cfg.Recovery, nil, perr, loc) == recovery.ActionFail {
		return perr
	}
	return nil
}

func (s *pdfScanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		if err := s.recover(errors.New("unexpected '>'"), start); err != nil {
			return Token{}, err
		}
		return s.Next()
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']', '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case ')':
		s.pos++
		if err := s.recover(errors.New("unbalanced ')'"), start); err != nil {
			return Token{}, err
		}
		return s.Next()
	}
	return s.scanRegular()
}

func (s *pdfScanner) peekAhead(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if IsWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		return
	}
}

// scanRegular reads a run of regular characters: a number or a keyword.
func (s *pdfScanner) scanRegular() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !IsWhitespace(s.data[s.pos]) && !IsDelimiter(s.data[s.pos]) {
		s.pos++
	}
	word := s.data[start:s.pos]
	if len(word) == 0 {
		// a stray delimiter that no case handled
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	if looksNumeric(word[0]) {
		if tok, ok := parseNumber(word); ok {
			tok.Pos = start
			return tok, nil
		}
	}
	kw := string(word)
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	case "ID":
		return s.scanInlineImage(start)
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

func looksNumeric(c byte) bool {
	return (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.'
}

// parseNumber accepts the lenient number forms seen in real files: a lone sign
// or dot is zero, a doubled sign is tolerated and trailing garbage after a
// valid prefix is dropped.
func parseNumber(word []byte) (Token, bool) {
	w := word
	for len(w) > 1 && (w[0] == '-' || w[0] == '+') && (w[1] == '-' || w[1] == '+') {
		w = w[1:]
	}
	if len(w) == 1 && (w[0] == '-' || w[0] == '+' || w[0] == '.') {
		return Token{Type: TokenNumber, IsInt: true}, true
	}
	if bytes.IndexByte(w, '.') < 0 {
		if i, n := pstrconv.ParseInt(w); n == len(w) && n > 0 {
			return Token{Type: TokenNumber, Int: i, IsInt: true}, true
		}
	}
	f, n := pstrconv.ParseFloat(w)
	if n == 0 {
		return Token{}, false
	}
	for _, c := range w[n:] {
		if !looksNumeric(c) {
			return Token{}, false
		}
	}
	return Token{Type: TokenNumber, Float: f}, true
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if IsWhitespace(c) || IsDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) {
			hi, ok1 := unhex(s.data[s.pos+1])
			lo, ok2 := unhex(s.data[s.pos+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				s.pos += 3
				continue
			}
		}
		out = append(out, c)
		s.pos++
	}
	return Token{Type: TokenName, Str: string(out), Pos: start}, nil
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	depth := 1
	var out []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Bytes: out, Pos: start}, nil
			}
			out = append(out, c)
		case '\\':
			if s.pos >= int64(len(s.data)) {
				continue
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos < int64(len(s.data)); i++ {
						d := s.data[s.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						s.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '\r':
			// bare CR and CRLF both read as LF
			if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
				s.pos++
			}
			out = append(out, '\n')
		default:
			out = append(out, c)
		}
		if int64(len(out)) > s.cfg.MaxStringLength {
			if err := s.recover(fmt.Errorf("string exceeds %d bytes", s.cfg.MaxStringLength), start); err != nil {
				return Token{}, err
			}
			s.skipToStringEnd(depth)
			return Token{Type: TokenString, Bytes: out, Pos: start}, nil
		}
	}
	if err := s.recover(errors.New("unterminated literal string"), start); err != nil {
		return Token{}, err
	}
	return Token{Type: TokenString, Bytes: out, Pos: start}, nil
}

func (s *pdfScanner) skipToStringEnd(depth int) {
	for s.pos < int64(len(s.data)) && depth > 0 {
		switch s.data[s.pos] {
		case '\\':
			s.pos++
		case '(':
			depth++
		case ')':
			depth--
		}
		s.pos++
	}
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var out []byte
	var hi byte
	half := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			if half {
				out = append(out, hi<<4)
			}
			return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
		}
		if IsWhitespace(c) {
			continue
		}
		v, ok := unhex(c)
		if !ok {
			if err := s.recover(fmt.Errorf("invalid hex digit %q", c), s.pos-1); err != nil {
				return Token{}, err
			}
			continue
		}
		if half {
			out = append(out, hi<<4|v)
			half = false
		} else {
			hi = v
			half = true
		}
	}
	if err := s.recover(errors.New("unterminated hex string"), start); err != nil {
		return Token{}, err
	}
	if half {
		out = append(out, hi<<4)
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

var endstream = []byte("endstream")

// scanStream reads stream data after the 'stream' keyword. The declared length
// is trusted only when 'endstream' follows it; otherwise the data runs to the
// next 'endstream' marker.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	hint := s.nextStreamLen
	s.nextStreamLen = -1
	// the keyword is followed by CRLF or LF; tolerate a lone CR or spaces
	for s.pos < int64(len(s.data)) && (s.data[s.pos] == ' ' || s.data[s.pos] == '\t') {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos

	if hint >= 0 && dataStart+hint <= int64(len(s.data)) {
		end := dataStart + hint
		p := end
		for p < int64(len(s.data)) && IsWhitespace(s.data[p]) {
			p++
		}
		if bytes.HasPrefix(s.data[p:], endstream) {
			s.pos = p + int64(len(endstream))
			return s.streamToken(start, s.data[dataStart:end])
		}
	}

	idx := bytes.Index(s.data[dataStart:], endstream)
	if idx < 0 {
		if err := s.recover(errors.New("missing endstream"), start); err != nil {
			return Token{}, err
		}
		end := int64(len(s.data))
		if hint >= 0 && dataStart+hint < end {
			end = dataStart + hint
		}
		s.pos = end
		return s.streamToken(start, s.data[dataStart:end])
	}
	end := dataStart + int64(idx)
	s.pos = end + int64(len(endstream))
	if hint >= 0 {
		if err := s.recover(fmt.Errorf("stream /Length %d does not match data", hint), start); err != nil {
			return Token{}, err
		}
	}
	// drop the EOL that precedes endstream
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	return s.streamToken(start, s.data[dataStart:end])
}

func (s *pdfScanner) streamToken(start int64, data []byte) (Token, error) {
	if s.cfg.MaxStreamLength > 0 && int64(len(data)) > s.cfg.MaxStreamLength {
		if err := s.recover(fmt.Errorf("stream length %d exceeds limit", len(data)), start); err != nil {
			return Token{}, err
		}
		data = data[:s.cfg.MaxStreamLength]
	}
	return Token{Type: TokenStream, Bytes: data, Pos: start}, nil
}

// scanInlineImage reads the raw bytes between 'ID' and 'EI'. The hint, when
// set, is the exact byte size of an unfiltered image.
func (s *pdfScanner) scanInlineImage(start int64) (Token, error) {
	hint := s.nextStreamLen
	s.nextStreamLen = -1
	if s.pos < int64(len(s.data)) && IsWhitespace(s.data[s.pos]) {
		s.pos++
	}
	dataStart := s.pos
	if hint >= 0 && dataStart+hint <= int64(len(s.data)) {
		p := dataStart + hint
		q := p
		for q < int64(len(s.data)) && IsWhitespace(s.data[q]) {
			q++
		}
		if s.isEIAt(q) {
			s.pos = q + 2
			return Token{Type: TokenInlineImage, Bytes: s.data[dataStart:p], Pos: start}, nil
		}
	}
	for p := dataStart; p+1 < int64(len(s.data)); p++ {
		if p-dataStart > s.cfg.MaxInlineImage {
			break
		}
		if p > dataStart && IsWhitespace(s.data[p-1]) && s.isEIAt(p) {
			end := p - 1
			s.pos = p + 2
			return Token{Type: TokenInlineImage, Bytes: s.data[dataStart:end], Pos: start}, nil
		}
	}
	if err := s.recover(errors.New("inline image without EI"), start); err != nil {
		return Token{}, err
	}
	s.pos = int64(len(s.data))
	return Token{Type: TokenInlineImage, Bytes: s.data[dataStart:], Pos: start}, nil
}

func (s *pdfScanner) isEIAt(p int64) bool {
	if p+1 >= int64(len(s.data)) || s.data[p] != 'E' || s.data[p+1] != 'I' {
		return false
	}
	if p+2 == int64(len(s.data)) {
		return true
	}
	c := s.data[p+2]
	return IsWhitespace(c) || IsDelimiter(c)
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func IsWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func IsDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
