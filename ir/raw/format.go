package raw

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Format renders obj in PDF syntax for inspection. Streams print their
// dictionary followed by a length note instead of the payload.
func Format(obj Object) string {
	var b strings.Builder
	writeObject(&b, obj, 0)
	return b.String()
}

func writeObject(b *strings.Builder, obj Object, indent int) {
	switch v := obj.(type) {
	case nil, NullObj:
		b.WriteString("null")
	case BrokenObj:
		fmt.Fprintf(b, "null %% broken %s: %s", v.R, v.Reason)
	case BoolObj:
		b.WriteString(strconv.FormatBool(v.V))
	case NumberObj:
		b.WriteString(FormatNumber(v))
	case NameObj:
		b.WriteString(FormatName(v.Val))
	case StringObj:
		b.WriteString(FormatString(v))
	case RefObj:
		b.WriteString(v.R.String())
	case *ArrayObj:
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeObject(b, it, indent)
		}
		b.WriteByte(']')
	case *DictObj:
		writeDict(b, v, indent)
	case *StreamObj:
		writeDict(b, v.Dict, indent)
		fmt.Fprintf(b, "\nstream %% %d raw bytes", len(v.Data))
		if d, ok := v.Decoded(); ok {
			fmt.Fprintf(b, ", %d decoded", len(d))
		}
	default:
		fmt.Fprintf(b, "%% unknown %T", obj)
	}
}

func writeDict(b *strings.Builder, d *DictObj, indent int) {
	if d.Len() == 0 {
		b.WriteString("<< >>")
		return
	}
	pad := strings.Repeat("  ", indent+1)
	b.WriteString("<<\n")
	for _, k := range d.Keys() {
		b.WriteString(pad)
		b.WriteString(FormatName(k))
		b.WriteByte(' ')
		writeObject(b, d.KV[k], indent+1)
		b.WriteByte('\n')
	}
	b.WriteString(strings.Repeat("  ", indent))
	b.WriteString(">>")
}

func FormatNumber(n NumberObj) string {
	if n.IsInt {
		return strconv.FormatInt(n.I, 10)
	}
	s := strconv.FormatFloat(n.F, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// FormatName escapes delimiters, whitespace and non-printable bytes as #xx.
func FormatName(name string) string {
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x21 || c > 0x7e || c == '#' || strings.IndexByte("()<>[]{}/%", c) >= 0 {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// FormatString writes a literal string when the bytes are printable text and
// a hex string otherwise.
func FormatString(s StringObj) string {
	printable := !s.Hex
	for _, c := range s.Bytes {
		if (c < 0x20 && c != '\n' && c != '\r' && c != '\t') || c > 0x7e {
			printable = false
			break
		}
	}
	if !printable {
		return fmt.Sprintf("<%X>", s.Bytes)
	}
	var b bytes.Buffer
	b.WriteByte('(')
	for _, c := range s.Bytes {
		switch c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports structural equality. Stream payloads compare by raw bytes.
func Equal(a, b Object) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case NullObj, BoolObj, NameObj, RefObj, BrokenObj:
		return a == b
	case NumberObj:
		y, ok := b.(NumberObj)
		return ok && x.Float() == y.Float()
	case StringObj:
		y, ok := b.(StringObj)
		return ok && bytes.Equal(x.Bytes, y.Bytes)
	case *ArrayObj:
		y, ok := b.(*ArrayObj)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i := range x.Items {
			if !Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case *DictObj:
		y, ok := b.(*DictObj)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for k, v := range x.KV {
			w, ok := y.KV[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case *StreamObj:
		y, ok := b.(*StreamObj)
		return ok && Equal(x.Dict, y.Dict) && bytes.Equal(x.Data, y.Data)
	}
	return false
}
