package contentstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/scanner"
)

// Operation is one operator with the operands that precede it.
type Operation struct {
	Operator string
	Operands []raw.Object
	// Offset is the byte offset of the operator in the content stream.
	Offset int64
}

// InlineImage is the operand of the BI operator: the image dictionary,
// with abbreviated keys expanded, and the bytes between ID and EI.
type InlineImage struct {
	Dict *raw.DictObj
	Data []byte
}

func (*InlineImage) Type() string     { return "inline-image" }
func (*InlineImage) IsIndirect() bool { return false }

// maxOperands bounds the operands collected for one operator; a stream
// of operands with no operator is garbage and is dropped.
const maxOperands = 4096

var inlineKeys = map[string]string{
	"BPC": "BitsPerComponent",
	"CS":  "ColorSpace",
	"D":   "Decode",
	"DP":  "DecodeParms",
	"F":   "Filter",
	"H":   "Height",
	"IM":  "ImageMask",
	"I":   "Interpolate",
	"W":   "Width",
	"L":   "Length",
}

// Lexer splits a content stream into operations.
type Lexer struct {
	p    *raw.ObjectParser
	warn func(error)
}

// NewLexer returns a lexer over data. warn, which may be nil, receives
// recoverable syntax problems.
func NewLexer(data []byte, cfg scanner.Config, warn func(error)) *Lexer {
	if cfg.Component == "" {
		cfg.Component = "content"
	}
	if warn == nil {
		warn = func(error) {}
	}
	return &Lexer{p: raw.NewObjectParser(data, raw.ParserConfig{Scanner: cfg, Recovery: cfg.Recovery}), warn: warn}
}

// Next returns the next operation, or io.EOF at the end of the stream.
// Operands left without an operator at the end are dropped.
func (l *Lexer) Next() (Operation, error) {
	var operands []raw.Object
	for {
		tok, err := l.p.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Operation{}, err
			}
			if len(operands) > 0 {
				l.warn(&recovery.Warning{Offset: l.p.Position(), Err: fmt.Errorf("%d trailing operands", len(operands))})
			}
			return Operation{}, io.EOF
		}
		var obj raw.Object
		switch tok.Type {
		case scanner.TokenKeyword:
			switch tok.Str {
			case "]", ">>", "{", "}":
				l.warn(&recovery.Warning{Offset: tok.Pos, Err: fmt.Errorf("unexpected %q", tok.Str)})
				continue
			case "BI":
				img, err := l.inlineImage(tok.Pos)
				if err != nil {
					return Operation{}, err
				}
				return Operation{Operator: "BI", Operands: []raw.Object{img}, Offset: tok.Pos}, nil
			}
			return Operation{Operator: tok.Str, Operands: operands, Offset: tok.Pos}, nil
		case scanner.TokenArray, scanner.TokenDict:
			l.p.Unread(tok)
			if obj, err = l.p.ParseObject(); err != nil {
				return Operation{}, err
			}
		case scanner.TokenInlineImage, scanner.TokenStream:
			l.warn(&recovery.Warning{Offset: tok.Pos, Err: fmt.Errorf("stray %v data", tok.Type)})
			continue
		default:
			obj = tokenObject(tok)
		}
		if len(operands) >= maxOperands {
			l.warn(&recovery.Warning{Offset: tok.Pos, Err: errors.New("too many operands, dropping")})
			operands = operands[:0]
		}
		operands = append(operands, obj)
	}
}

func tokenObject(tok scanner.Token) raw.Object {
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberObj{I: tok.Int, IsInt: true}
		}
		return raw.NumberObj{F: tok.Float}
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}
	case scanner.TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}
	case scanner.TokenBoolean:
		return raw.BoolObj{V: tok.Bool}
	}
	return raw.NullObj{}
}

// inlineImage reads "key value ... ID data EI" after BI.
func (l *Lexer) inlineImage(start int64) (*InlineImage, error) {
	dict := raw.Dict()
	for {
		tok, err := l.p.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, recovery.NewParseError("content", start, "inline image without ID")
			}
			return nil, err
		}
		switch {
		case tok.Type == scanner.TokenInlineImage:
			return &InlineImage{Dict: dict, Data: tok.Bytes}, nil
		case tok.IsKeyword("EI"):
			l.warn(&recovery.Warning{Op: "BI", Offset: tok.Pos, Err: errors.New("inline image without data")})
			return &InlineImage{Dict: dict}, nil
		case tok.Type != scanner.TokenName:
			l.warn(&recovery.Warning{Op: "BI", Offset: tok.Pos, Err: fmt.Errorf("inline image key is %v", tok.Type)})
			continue
		}
		key := tok.Str
		if full, ok := inlineKeys[key]; ok {
			key = full
		}
		val, err := l.operand()
		if err != nil {
			return nil, err
		}
		if val != nil {
			dict.Set(key, val)
		}
	}
}

// operand reads one direct value; a keyword in value position is pushed
// back and yields nil.
func (l *Lexer) operand() (raw.Object, error) {
	tok, err := l.p.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenArray, scanner.TokenDict:
		l.p.Unread(tok)
		return l.p.ParseObject()
	case scanner.TokenKeyword, scanner.TokenInlineImage:
		l.p.Unread(tok)
		return nil, nil
	}
	return tokenObject(tok), nil
}

// Parse splits a whole content stream into operations. It is meant for
// inspection and tests; rendering streams operations through a Lexer.
func Parse(data []byte) ([]Operation, error) {
	l := NewLexer(data, scanner.Config{}, nil)
	var ops []Operation
	for {
		op, err := l.Next()
		if errors.Is(err, io.EOF) {
			return ops, nil
		}
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
}
