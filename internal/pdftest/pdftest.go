// Package pdftest assembles small PDF files for tests.
package pdftest

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/redforks/nipdf/security"
)

// Builder writes objects sequentially and records their offsets so a
// cross-reference section can be appended.
type Builder struct {
	buf      bytes.Buffer
	offsets  map[int]int64
	gens     map[int]int
	pending  []int
	lastXRef int64
	handler  security.Handler
}

func New() *Builder {
	return NewVersion("1.7")
}

func NewVersion(version string) *Builder {
	b := &Builder{offsets: make(map[int]int64), gens: make(map[int]int), lastXRef: -1}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
	return b
}

// Encrypt makes later Stream payloads and EncString values encrypted
// with h.
func (b *Builder) Encrypt(h security.Handler) { b.handler = h }

// Len is the current write offset.
func (b *Builder) Len() int64 { return int64(b.buf.Len()) }

// Offset returns where object num was last written.
func (b *Builder) Offset(num int) int64 { return b.offsets[num] }

// LastXRef is the offset of the most recent xref section, or -1.
func (b *Builder) LastXRef() int64 { return b.lastXRef }

func (b *Builder) Raw(s string) { b.buf.WriteString(s) }

func (b *Builder) RawBytes(p []byte) { b.buf.Write(p) }

func (b *Builder) Bytes() []byte { return append([]byte(nil), b.buf.Bytes()...) }

func (b *Builder) begin(num, gen int) int64 {
	off := b.Len()
	b.offsets[num] = off
	b.gens[num] = gen
	b.pending = append(b.pending, num)
	fmt.Fprintf(&b.buf, "%d %d obj\n", num, gen)
	return off
}

// Object writes "num 0 obj body endobj".
func (b *Builder) Object(num int, body string) int64 {
	return b.ObjectGen(num, 0, body)
}

func (b *Builder) ObjectGen(num, gen int, body string) int64 {
	off := b.begin(num, gen)
	b.buf.WriteString(body)
	b.buf.WriteString("\nendobj\n")
	return off
}

// Stream writes a stream object. dict holds the dictionary entries without
// the angle brackets; /Length is appended.
func (b *Builder) Stream(num int, dict string, data []byte) int64 {
	if b.handler != nil {
		enc, err := b.handler.Encrypt(num, 0, data, security.DataClassStream)
		if err != nil {
			panic(err)
		}
		data = enc
	}
	off := b.begin(num, 0)
	fmt.Fprintf(&b.buf, "<< %s /Length %d >>\nstream\n", dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	return off
}

// FlateStream compresses data and writes it with /Filter /FlateDecode.
func (b *Builder) FlateStream(num int, dict string, data []byte) int64 {
	return b.Stream(num, dict+" /Filter /FlateDecode", Deflate(data))
}

// EncString returns s as a hex string literal, encrypted for object num
// when the builder encrypts.
func (b *Builder) EncString(num int, s string) string {
	data := []byte(s)
	if b.handler != nil {
		enc, err := b.handler.Encrypt(num, 0, data, security.DataClassString)
		if err != nil {
			panic(err)
		}
		data = enc
	}
	return "<" + hex.EncodeToString(data) + ">"
}

// Member is one object packed into an object stream.
type Member struct {
	Num  int
	Body string
}

// ObjectStream writes an uncompressed /ObjStm holding members.
func (b *Builder) ObjectStream(num int, members []Member) int64 {
	var header, body strings.Builder
	for _, m := range members {
		fmt.Fprintf(&header, "%d %d ", m.Num, body.Len())
		body.WriteString(m.Body)
		body.WriteString("\n")
	}
	first := header.Len()
	dict := fmt.Sprintf("/Type /ObjStm /N %d /First %d", len(members), first)
	return b.Stream(num, dict, []byte(header.String()+body.String()))
}

// XRefTable writes a classic xref section for the objects written since
// the previous section (or for nums when given), then trailer and
// startxref. The first section also lists the free head of object 0.
func (b *Builder) XRefTable(trailer string, nums ...int) int64 {
	if len(nums) == 0 {
		nums = b.takePending()
	} else {
		b.pending = nil
	}
	if b.lastXRef < 0 {
		nums = append(nums, 0)
	}
	sort.Ints(nums)
	off := b.Len()
	b.buf.WriteString("xref\n")
	for i := 0; i < len(nums); {
		j := i + 1
		for j < len(nums) && nums[j] == nums[j-1]+1 {
			j++
		}
		fmt.Fprintf(&b.buf, "%d %d\n", nums[i], j-i)
		for _, n := range nums[i:j] {
			if n == 0 {
				b.buf.WriteString("0000000000 65535 f\r\n")
				continue
			}
			fmt.Fprintf(&b.buf, "%010d %05d n\r\n", b.offsets[n], b.gens[n])
		}
		i = j
	}
	fmt.Fprintf(&b.buf, "trailer\n<< %s >>\n", trailer)
	b.StartXRef(off)
	b.lastXRef = off
	return off
}

func (b *Builder) takePending() []int {
	seen := make(map[int]bool)
	var out []int
	for _, n := range b.pending {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	b.pending = nil
	return out
}

// StreamEntry is one row of a cross-reference stream.
type StreamEntry struct {
	Num    int
	Type   int
	F2, F3 int64
}

// InFile is a type 1 row pointing at where num was written.
func (b *Builder) InFile(num int) StreamEntry {
	return StreamEntry{Num: num, Type: 1, F2: b.offsets[num], F3: int64(b.gens[num])}
}

// InStream is a type 2 row for a member of object stream stm.
func InStream(num, stm, index int) StreamEntry {
	return StreamEntry{Num: num, Type: 2, F2: int64(stm), F3: int64(index)}
}

// XRefStream writes an xref stream as object num with widths [1 4 2] and
// an /Index built from entries, then startxref. The stream's own entry is
// added automatically.
func (b *Builder) XRefStream(num int, trailer string, entries []StreamEntry) int64 {
	off := b.Len()
	entries = append(entries, StreamEntry{Num: num, Type: 1, F2: off})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Num < entries[j].Num })
	var rows bytes.Buffer
	var index []string
	for i := 0; i < len(entries); {
		j := i + 1
		for j < len(entries) && entries[j].Num == entries[j-1].Num+1 {
			j++
		}
		index = append(index, fmt.Sprintf("%d %d", entries[i].Num, j-i))
		for _, e := range entries[i:j] {
			rows.WriteByte(byte(e.Type))
			rows.Write([]byte{byte(e.F2 >> 24), byte(e.F2 >> 16), byte(e.F2 >> 8), byte(e.F2)})
			rows.Write([]byte{byte(e.F3 >> 8), byte(e.F3)})
		}
		i = j
	}
	size := entries[len(entries)-1].Num + 1
	dict := fmt.Sprintf("/Type /XRef /W [1 4 2] /Index [%s] /Size %d %s",
		strings.Join(index, " "), size, trailer)
	h := b.handler
	b.handler = nil // xref streams are never encrypted
	b.Stream(num, dict, rows.Bytes())
	b.handler = h
	b.pending = nil
	b.StartXRef(off)
	b.lastXRef = off
	return off
}

func (b *Builder) StartXRef(off int64) {
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", off)
}

// Deflate zlib-compresses data.
func Deflate(data []byte) []byte {
	var out bytes.Buffer
	w := zlib.NewWriter(&out)
	w.Write(data)
	w.Close()
	return out.Bytes()
}

// Page describes one page of SimpleDocument.
type Page struct {
	Content  string
	MediaBox string // defaults to "0 0 200 200"
	Extra    string // extra page dictionary entries
}

// SimpleDocument writes a catalog, a page tree and one content stream per
// page. Every page gets a Helvetica /F1 font resource. Objects are
// numbered 1 (catalog), 2 (pages), 3 (font), then a page/content pair per
// page.
func SimpleDocument(pages ...Page) []byte {
	b := New()
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	b.Object(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	for i, p := range pages {
		box := p.MediaBox
		if box == "" {
			box = "0 0 200 200"
		}
		b.Object(4+2*i, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [%s] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R %s >>",
			box, 5+2*i, p.Extra))
		b.Stream(5+2*i, "", []byte(p.Content))
	}
	b.XRefTable(fmt.Sprintf("/Size %d /Root 1 0 R", 4+2*len(pages)))
	return b.Bytes()
}
