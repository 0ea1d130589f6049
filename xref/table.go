package xref

import (
	"fmt"

	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/scanner"
)

// parseTable reads classic xref subsections after the "xref" keyword, then
// the trailer dictionary.
func parseTable(p *raw.ObjectParser, offset int64) (*section, error) {
	sec := &section{entries: make(map[int]Entry)}
	first := true
	for {
		tok, err := p.Next()
		if err != nil {
			return nil, recovery.NewParseError("xref", offset, "xref table without trailer")
		}
		if tok.IsKeyword("trailer") {
			break
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, recovery.NewParseError("xref", tok.Pos, "invalid xref subsection header %v %q", tok.Type, tok.Str)
		}
		countTok, err := p.Next()
		if err != nil || countTok.Type != scanner.TokenNumber || !countTok.IsInt || countTok.Int < 0 {
			return nil, recovery.NewParseError("xref", tok.Pos, "invalid xref subsection count")
		}
		start := int(tok.Int)
		for i := 0; i < int(countTok.Int); i++ {
			e, free, err := tableEntry(p)
			if err != nil {
				return nil, err
			}
			num := start + i
			// A common writer bug numbers the first subsection from 1 while
			// still listing the free head of object 0.
			if first && i == 0 && start == 1 && free && e.Gen == 65535 {
				start = 0
				num = 0
			}
			if _, dup := sec.entries[num]; dup {
				continue
			}
			if free {
				sec.entries[num] = Entry{Kind: EntryFree, Gen: e.Gen}
				continue
			}
			if e.Offset <= 0 {
				// "0000000000 00000 n" points nowhere
				continue
			}
			sec.entries[num] = e
		}
		first = false
	}
	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("trailer: %w", err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, recovery.NewParseError("xref", offset, "trailer is %s, not a dictionary", obj.Type())
	}
	sec.trailer = dict
	return sec, nil
}

func tableEntry(p *raw.ObjectParser) (Entry, bool, error) {
	off, err := p.Next()
	if err != nil {
		return Entry{}, false, recovery.NewParseError("xref", p.Position(), "truncated xref entry")
	}
	gen, err := p.Next()
	if err != nil {
		return Entry{}, false, recovery.NewParseError("xref", off.Pos, "truncated xref entry")
	}
	kind, err := p.Next()
	if err != nil {
		return Entry{}, false, recovery.NewParseError("xref", off.Pos, "truncated xref entry")
	}
	if off.Type != scanner.TokenNumber || gen.Type != scanner.TokenNumber || kind.Type != scanner.TokenKeyword {
		return Entry{}, false, recovery.NewParseError("xref", off.Pos, "malformed xref entry")
	}
	e := Entry{Kind: EntryInFile, Offset: int64(off.Number()), Gen: int(gen.Number())}
	switch kind.Str {
	case "n":
		return e, false, nil
	case "f":
		return e, true, nil
	}
	return Entry{}, false, recovery.NewParseError("xref", kind.Pos, "xref entry type %q", kind.Str)
}
