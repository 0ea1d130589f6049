package xref

import (
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/scanner"
)

// parseStream decodes the binary entries of a cross-reference stream.
func parseStream(dict *raw.DictObj, payload []byte, offset int64) (*section, error) {
	wArr, ok := dict.KV["W"].(*raw.ArrayObj)
	if !ok || wArr.Len() < 3 {
		return nil, recovery.NewParseError("xref", offset, "xref stream without /W")
	}
	var w [3]int
	rowLen := 0
	for i := 0; i < 3; i++ {
		n, ok := wArr.Items[i].(raw.NumberObj)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return nil, recovery.NewParseError("xref", offset, "invalid /W entry")
		}
		w[i] = int(n.Int())
		rowLen += w[i]
	}
	if rowLen == 0 {
		return nil, recovery.NewParseError("xref", offset, "xref stream /W is all zero")
	}
	size, _ := dict.Int("Size")
	index := []int64{0, size}
	if arr, ok := dict.KV["Index"].(*raw.ArrayObj); ok && arr.Len() >= 2 {
		index = index[:0]
		for _, it := range arr.Items {
			if n, ok := it.(raw.NumberObj); ok {
				index = append(index, n.Int())
			}
		}
	}
	sec := &section{entries: make(map[int]Entry), trailer: dict, stream: true}
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+rowLen > len(payload) {
				// truncated payload keeps the rows read so far
				return sec, nil
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			num := start + j
			if _, dup := sec.entries[num]; dup {
				continue
			}
			switch typ {
			case 0:
				sec.entries[num] = Entry{Kind: EntryFree, Gen: int(f3)}
			case 1:
				if f2 > 0 {
					sec.entries[num] = Entry{Kind: EntryInFile, Offset: f2, Gen: int(f3)}
				}
			case 2:
				sec.entries[num] = Entry{Kind: EntryInStream, Stream: int(f2), Index: int(f3)}
			}
			// other types are reserved and read as null references
		}
	}
	return sec, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// ObjectStreamMember is one header pair of an object stream.
type ObjectStreamMember struct {
	Num    int
	Offset int64 // relative to /First
}

// ParseObjectStreamHeader reads the /N "num offset" pairs at the start of a
// decoded object stream.
func ParseObjectStreamHeader(dict *raw.DictObj, payload []byte) ([]ObjectStreamMember, int64, error) {
	n, _ := dict.Int("N")
	first, ok := dict.Int("First")
	if !ok || first < 0 || first > int64(len(payload)) {
		return nil, 0, recovery.NewParseError("objstm", 0, "invalid /First %d", first)
	}
	if n < 0 || n > first {
		return nil, 0, recovery.NewParseError("objstm", 0, "invalid /N %d", n)
	}
	s := scanner.New(payload[:first], scanner.Config{Component: "objstm"})
	members := make([]ObjectStreamMember, 0, n)
	for i := int64(0); i < n; i++ {
		numTok, err := s.Next()
		if err != nil {
			break
		}
		offTok, err := s.Next()
		if err != nil {
			break
		}
		if numTok.Type != scanner.TokenNumber || offTok.Type != scanner.TokenNumber {
			return members, first, recovery.NewParseError("objstm", numTok.Pos, "non-numeric object stream header")
		}
		members = append(members, ObjectStreamMember{Num: int(numTok.Number()), Offset: int64(offTok.Number())})
	}
	return members, first, nil
}
