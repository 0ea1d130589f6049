package raw

import (
	"errors"
	"fmt"
	"io"

	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/scanner"
)

// ParserConfig controls object parsing.
type ParserConfig struct {
	Scanner  scanner.Config
	Recovery recovery.Strategy
	// MaxDepth bounds array/dictionary nesting. Default 64.
	MaxDepth int
	// LengthResolver resolves an indirect stream /Length. When nil or failing,
	// the stream extent is found by searching for endstream.
	LengthResolver func(ref ObjectRef) (int64, bool)
}

// ObjectParser builds objects from the token stream of a byte slice.
type ObjectParser struct {
	s   scanner.Scanner
	tr  tokenReader
	cfg ParserConfig
}

func NewObjectParser(data []byte, cfg ParserConfig) *ObjectParser {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 64
	}
	if cfg.Scanner.Recovery == nil {
		cfg.Scanner.Recovery = cfg.Recovery
	}
	if cfg.Scanner.Component == "" {
		cfg.Scanner.Component = "object"
	}
	s := scanner.New(data, cfg.Scanner)
	return &ObjectParser{s: s, tr: tokenReader{s: s}, cfg: cfg}
}

// SeekTo moves to offset and drops any buffered lookahead.
func (p *ObjectParser) SeekTo(offset int64) error {
	p.tr.buf = p.tr.buf[:0]
	return p.s.SeekTo(offset)
}

// Position is the offset of the next unread token.
func (p *ObjectParser) Position() int64 {
	if n := len(p.tr.buf); n > 0 {
		return p.tr.buf[n-1].Pos
	}
	return p.s.Position()
}

// Next returns the next raw token.
func (p *ObjectParser) Next() (scanner.Token, error) { return p.tr.next() }

// Unread pushes tok back; tokens come back in LIFO order.
func (p *ObjectParser) Unread(tok scanner.Token) { p.tr.unread(tok) }

// ParseObject parses one direct object at the current position.
func (p *ObjectParser) ParseObject() (Object, error) {
	return p.parseObject(0)
}

// ParseIndirect parses "num gen obj <object> [stream] [endobj]" at the current
// position.
func (p *ObjectParser) ParseIndirect() (ObjectRef, Object, error) {
	start := p.Position()
	num, err := p.expectInt()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	gen, err := p.expectInt()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	tok, err := p.tr.next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	if !tok.IsKeyword("obj") {
		return ObjectRef{}, nil, recovery.NewParseError("object", tok.Pos, "expected obj keyword, got %v %q", tok.Type, tok.Str)
	}
	ref := ObjectRef{Num: int(num), Gen: int(gen)}

	tok, err = p.tr.next()
	if err != nil {
		return ref, nil, p.eofError(start, err)
	}
	if tok.IsKeyword("endobj") {
		return ref, NullObj{}, nil
	}
	p.tr.unread(tok)
	obj, err := p.parseObject(0)
	if err != nil {
		return ref, nil, err
	}
	if dict, ok := obj.(*DictObj); ok && len(p.tr.buf) == 0 {
		p.s.SetNextStreamLength(p.streamLength(dict))
		if tok, err := p.tr.next(); err == nil {
			if tok.Type == scanner.TokenStream {
				obj = &StreamObj{Dict: dict, Data: tok.Bytes, Ref: ref}
			} else {
				p.tr.unread(tok)
			}
		}
		p.s.SetNextStreamLength(-1)
	}
	if tok, err := p.tr.next(); err == nil && !tok.IsKeyword("endobj") {
		p.tr.unread(tok)
	}
	return ref, obj, nil
}

func (p *ObjectParser) streamLength(dict *DictObj) int64 {
	switch v := dict.KV["Length"].(type) {
	case NumberObj:
		return v.Int()
	case RefObj:
		if p.cfg.LengthResolver != nil {
			if n, ok := p.cfg.LengthResolver(v.R); ok {
				return n
			}
		}
	}
	return -1
}

func (p *ObjectParser) expectInt() (int64, error) {
	tok, err := p.tr.next()
	if err != nil {
		return 0, err
	}
	if tok.Type != scanner.TokenNumber || !tok.IsInt || tok.Int < 0 {
		return 0, recovery.NewParseError("object", tok.Pos, "expected object header integer, got %v", tok.Type)
	}
	return tok.Int, nil
}

func (p *ObjectParser) warn(err error, offset int64) bool {
	perr := &recovery.ParseError{Offset: offset, Component: "object", Err: err}
	return recovery.Decide(p.cfg.Recovery, nil, perr, recovery.Location{ByteOffset: offset, Component: "object"}) != recovery.ActionFail
}

func (p *ObjectParser) eofError(offset int64, err error) error {
	if errors.Is(err, io.EOF) {
		return recovery.NewParseError("object", offset, "unexpected end of data")
	}
	return err
}

func (p *ObjectParser) parseObject(depth int) (Object, error) {
	tok, err := p.tr.next()
	if err != nil {
		return nil, p.eofError(p.s.Position(), err)
	}
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt && tok.Int >= 0 {
			if ref, ok := p.tryRef(tok); ok {
				return ref, nil
			}
		}
		if tok.IsInt {
			return NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return NumberObj{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		return StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenArray:
		return p.parseArray(depth+1, tok.Pos)
	case scanner.TokenDict:
		return p.parseDict(depth+1, tok.Pos)
	}
	return nil, recovery.NewParseError("object", tok.Pos, "unexpected %v token %q", tok.Type, tok.Str)
}

// tryRef looks ahead for "gen R" after an integer.
func (p *ObjectParser) tryRef(num scanner.Token) (Object, bool) {
	t1, err := p.tr.next()
	if err != nil {
		return nil, false
	}
	if t1.Type != scanner.TokenNumber || !t1.IsInt || t1.Int < 0 {
		p.tr.unread(t1)
		return nil, false
	}
	t2, err := p.tr.next()
	if err != nil {
		p.tr.unread(t1)
		return nil, false
	}
	if t2.IsKeyword("R") {
		return RefObj{R: ObjectRef{Num: int(num.Int), Gen: int(t1.Int)}}, true
	}
	p.tr.unread(t2)
	p.tr.unread(t1)
	return nil, false
}

func (p *ObjectParser) checkDepth(depth int, offset int64) error {
	if depth > p.cfg.MaxDepth {
		return recovery.NewParseError("object", offset, "nesting depth %d exceeds %d", depth, p.cfg.MaxDepth)
	}
	return nil
}

func (p *ObjectParser) parseArray(depth int, start int64) (Object, error) {
	if err := p.checkDepth(depth, start); err != nil {
		return nil, err
	}
	arr := &ArrayObj{}
	for {
		tok, err := p.tr.next()
		if err != nil {
			if p.warn(fmt.Errorf("unterminated array: %w", err), start) {
				return arr, nil
			}
			return nil, p.eofError(start, err)
		}
		if tok.IsKeyword("]") {
			return arr, nil
		}
		if tok.Type == scanner.TokenKeyword {
			if tok.Str == "endobj" || tok.Str == ">>" {
				if p.warn(fmt.Errorf("unexpected %q in array", tok.Str), tok.Pos) {
					p.tr.unread(tok)
					return arr, nil
				}
			} else if p.warn(fmt.Errorf("unexpected keyword %q in array", tok.Str), tok.Pos) {
				continue
			}
			return nil, recovery.NewParseError("object", tok.Pos, "unexpected keyword %q in array", tok.Str)
		}
		p.tr.unread(tok)
		item, err := p.parseObject(depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (p *ObjectParser) parseDict(depth int, start int64) (Object, error) {
	if err := p.checkDepth(depth, start); err != nil {
		return nil, err
	}
	d := Dict()
	for {
		tok, err := p.tr.next()
		if err != nil {
			if p.warn(fmt.Errorf("unterminated dictionary: %w", err), start) {
				return d, nil
			}
			return nil, p.eofError(start, err)
		}
		if tok.IsKeyword(">>") {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			if tok.Type == scanner.TokenKeyword && (tok.Str == "endobj" || tok.Str == "stream" || tok.Str == "]") {
				if p.warn(fmt.Errorf("unexpected %q in dictionary (missing >>?)", tok.Str), tok.Pos) {
					p.tr.unread(tok)
					return d, nil
				}
			} else if tok.Type == scanner.TokenStream {
				// a stream body after an unterminated dictionary
				if p.warn(errors.New("stream inside unterminated dictionary"), tok.Pos) {
					p.tr.unread(tok)
					return d, nil
				}
			} else if p.warn(fmt.Errorf("expected name key in dictionary, got %v", tok.Type), tok.Pos) {
				continue
			}
			return nil, recovery.NewParseError("object", tok.Pos, "expected name key in dictionary, got %v", tok.Type)
		}
		key := tok.Str
		next, err := p.tr.next()
		if err != nil {
			if p.warn(fmt.Errorf("dictionary key /%s without value", key), tok.Pos) {
				return d, nil
			}
			return nil, p.eofError(start, err)
		}
		if next.IsKeyword(">>") {
			if p.warn(fmt.Errorf("dictionary key /%s without value", key), tok.Pos) {
				return d, nil
			}
			return nil, recovery.NewParseError("object", tok.Pos, "dictionary key /%s without value", key)
		}
		p.tr.unread(next)
		val, err := p.parseObject(depth)
		if err != nil {
			return nil, err
		}
		// a null value is equivalent to an absent entry
		if _, isNull := val.(NullObj); isNull {
			continue
		}
		d.Set(key, val)
	}
}

type tokenReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func (r *tokenReader) next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *tokenReader) unread(tok scanner.Token) {
	r.buf = append(r.buf, tok)
}

// ParseBytes parses a single direct object from data.
func ParseBytes(data []byte) (Object, error) {
	return NewObjectParser(data, ParserConfig{}).ParseObject()
}
