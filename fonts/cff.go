package fonts

import (
	"encoding/binary"
	"errors"
	"fmt"

	pstrconv "github.com/tdewolff/parse/v2/strconv"

	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/vm"
)

// CFF DICT operators; two-byte operators are 1200 + second byte.
const (
	opCharset         = 15
	opEncoding        = 16
	opCharStrings     = 17
	opPrivate         = 18
	opSubrs           = 19
	opDefaultWidthX   = 20
	opNominalWidthX   = 21
	opCharstringType  = 1206
	opFontMatrix      = 1207
	opROS             = 1230
	opFDArray         = 1236
	opFDSelect        = 1237
	maxCFFDictOperand = 48
)

var errCFF = errors.New("cff")

// cffFont is a parsed bare CFF font program (FontFile3 /Type1C or
// /CIDFontType0C, or the CFF table of an OpenType font).
type cffFont struct {
	name        string
	strings     [][]byte
	charStrings [][]byte
	// charset maps glyph index to SID, or to CID for CID-keyed fonts.
	charset []int
	byName  map[string]int
	byCID   map[int]int
	enc     *Encoding
	mat     coords.Matrix
	progs   []*vm.Type2Program
	fdSel   []uint8
	cid     bool
}

type cffDict map[int][]float64

func (d cffDict) num(op int, def float64) float64 {
	if v := d[op]; len(v) > 0 {
		return v[0]
	}
	return def
}

func parseCFF(data []byte) (*cffFont, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: header truncated", errCFF)
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("%w: unsupported major version %d", errCFF, data[0])
	}
	names, off, err := readIndex(data, int(data[2]))
	if err != nil {
		return nil, fmt.Errorf("%w: name index: %v", errCFF, err)
	}
	topDicts, off, err := readIndex(data, off)
	if err != nil || len(topDicts) == 0 {
		return nil, fmt.Errorf("%w: top dict index: %v", errCFF, err)
	}
	strs, off, err := readIndex(data, off)
	if err != nil {
		return nil, fmt.Errorf("%w: string index: %v", errCFF, err)
	}
	gsubrs, _, err := readIndex(data, off)
	if err != nil {
		return nil, fmt.Errorf("%w: global subr index: %v", errCFF, err)
	}
	top, err := parseDict(topDicts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: top dict: %v", errCFF, err)
	}
	if t := top.num(opCharstringType, 2); t != 2 {
		return nil, fmt.Errorf("%w: charstring type %v", errCFF, t)
	}

	f := &cffFont{strings: strs, mat: coords.Matrix{0.001, 0, 0, 0.001, 0, 0}}
	if len(names) > 0 {
		f.name = string(names[0])
	}
	if m := top[opFontMatrix]; len(m) == 6 {
		copy(f.mat[:], m)
	}
	csOff := int(top.num(opCharStrings, -1))
	if csOff <= 0 {
		return nil, fmt.Errorf("%w: no CharStrings", errCFF)
	}
	if f.charStrings, _, err = readIndex(data, csOff); err != nil {
		return nil, fmt.Errorf("%w: charstrings: %v", errCFF, err)
	}
	n := len(f.charStrings)
	_, f.cid = top[opROS]
	if f.charset, err = readCharset(data, int(top.num(opCharset, 0)), n); err != nil {
		return nil, err
	}

	if f.cid {
		f.byCID = make(map[int]int, n)
		for gid, cid := range f.charset {
			if _, ok := f.byCID[cid]; !ok {
				f.byCID[cid] = gid
			}
		}
		fds, _, err := readIndex(data, int(top.num(opFDArray, 0)))
		if err != nil || len(fds) == 0 {
			return nil, fmt.Errorf("%w: FDArray: %v", errCFF, err)
		}
		for _, fd := range fds {
			d, err := parseDict(fd)
			if err != nil {
				return nil, fmt.Errorf("%w: font dict: %v", errCFF, err)
			}
			f.progs = append(f.progs, readPrivate(data, d, gsubrs))
		}
		if f.fdSel, err = readFDSelect(data, int(top.num(opFDSelect, 0)), n); err != nil {
			return nil, err
		}
	} else {
		f.progs = []*vm.Type2Program{readPrivate(data, top, gsubrs)}
		f.byName = make(map[string]int, n)
		for gid, sid := range f.charset {
			name := f.sid(sid)
			if _, ok := f.byName[name]; !ok {
				f.byName[name] = gid
			}
		}
		if f.enc, err = f.readEncoding(data, int(top.num(opEncoding, 0))); err != nil {
			return nil, err
		}
	}
	for _, p := range f.progs {
		p.Seac = f.seac
	}
	return f, nil
}

func readPrivate(data []byte, d cffDict, gsubrs [][]byte) *vm.Type2Program {
	p := &vm.Type2Program{GlobalSubrs: gsubrs}
	pr := d[opPrivate]
	if len(pr) < 2 {
		return p
	}
	size, off := int(pr[0]), int(pr[1])
	if off < 0 || size < 0 || off+size > len(data) {
		return p
	}
	priv, err := parseDict(data[off : off+size])
	if err != nil {
		return p
	}
	p.DefaultWidthX = priv.num(opDefaultWidthX, 0)
	p.NominalWidthX = priv.num(opNominalWidthX, 0)
	if rel := int(priv.num(opSubrs, 0)); rel > 0 {
		p.LocalSubrs, _, _ = readIndex(data, off+rel)
	}
	return p
}

// readIndex reads the INDEX at off and returns its items and the
// offset following it.
func readIndex(data []byte, off int) ([][]byte, int, error) {
	if off < 0 || off+2 > len(data) {
		return nil, off, fmt.Errorf("index at %d out of range", off)
	}
	count := int(binary.BigEndian.Uint16(data[off:]))
	if count == 0 {
		return nil, off + 2, nil
	}
	if off+3 > len(data) {
		return nil, off, fmt.Errorf("index at %d truncated", off)
	}
	offSize := int(data[off+2])
	if offSize < 1 || offSize > 4 {
		return nil, off, fmt.Errorf("bad offSize %d", offSize)
	}
	offs := off + 3
	base := offs + (count+1)*offSize - 1
	if base >= len(data)+1 {
		return nil, off, fmt.Errorf("index at %d truncated", off)
	}
	items := make([][]byte, count)
	prev := readOffset(data[offs:], offSize)
	for i := 0; i < count; i++ {
		next := readOffset(data[offs+(i+1)*offSize:], offSize)
		if prev < 1 || next < prev || base+next > len(data) {
			return nil, off, fmt.Errorf("invalid index offsets")
		}
		items[i] = data[base+prev : base+next]
		prev = next
	}
	return items, base + prev, nil
}

func readOffset(b []byte, size int) int {
	v := 0
	for i := 0; i < size; i++ {
		v = v<<8 | int(b[i])
	}
	return v
}

func parseDict(data []byte) (cffDict, error) {
	dict := make(cffDict)
	var operands []float64
	for i := 0; i < len(data); {
		b := data[i]
		switch {
		case b <= 21:
			op := int(b)
			i++
			if b == 12 {
				if i >= len(data) {
					return nil, fmt.Errorf("truncated operator")
				}
				op = 1200 + int(data[i])
				i++
			}
			dict[op] = operands
			operands = nil
		case b == 30:
			v, n := readReal(data[i+1:])
			operands = append(operands, v)
			i += 1 + n
		case b == 28 || b == 29 || (b >= 32 && b <= 254):
			v, n, err := readInteger(data[i:])
			if err != nil {
				return nil, err
			}
			operands = append(operands, float64(v))
			i += n
		default:
			i++
		}
		if len(operands) > maxCFFDictOperand {
			return nil, fmt.Errorf("too many operands")
		}
	}
	return dict, nil
}

// readReal decodes a nibble-coded real and returns it with the number of
// bytes used.
func readReal(data []byte) (float64, int) {
	var s []byte
	for i, b := range data {
		for _, nib := range [2]byte{b >> 4, b & 0x0f} {
			switch {
			case nib <= 9:
				s = append(s, '0'+nib)
			case nib == 0xa:
				s = append(s, '.')
			case nib == 0xb:
				s = append(s, 'E')
			case nib == 0xc:
				s = append(s, 'E', '-')
			case nib == 0xe:
				s = append(s, '-')
			case nib == 0xf:
				v, _ := pstrconv.ParseFloat(s)
				return v, i + 1
			}
		}
	}
	v, _ := pstrconv.ParseFloat(s)
	return v, len(data)
}

func readInteger(b []byte) (int, int, error) {
	b0 := b[0]
	switch {
	case b0 >= 32 && b0 <= 246:
		return int(b0) - 139, 1, nil
	case b0 >= 247 && b0 <= 250 && len(b) >= 2:
		return (int(b0)-247)*256 + int(b[1]) + 108, 2, nil
	case b0 >= 251 && b0 <= 254 && len(b) >= 2:
		return -(int(b0)-251)*256 - int(b[1]) - 108, 2, nil
	case b0 == 28 && len(b) >= 3:
		return int(int16(binary.BigEndian.Uint16(b[1:]))), 3, nil
	case b0 == 29 && len(b) >= 5:
		return int(int32(binary.BigEndian.Uint32(b[1:]))), 5, nil
	}
	return 0, 1, fmt.Errorf("invalid integer prefix %d", b0)
}

// readCharset returns the SID (or CID) of every glyph. Offsets 0-2 are
// the predefined charsets, read as identity.
func readCharset(data []byte, off, n int) ([]int, error) {
	out := make([]int, n)
	if off <= 2 {
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	if off >= len(data) {
		return nil, fmt.Errorf("%w: charset offset %d", errCFF, off)
	}
	format := data[off]
	p := off + 1
	gid := 1
	u16 := func() int {
		if p+2 > len(data) {
			p = len(data)
			return 0
		}
		v := int(binary.BigEndian.Uint16(data[p:]))
		p += 2
		return v
	}
	switch format {
	case 0:
		for ; gid < n && p+2 <= len(data); gid++ {
			out[gid] = u16()
		}
	case 1, 2:
		for gid < n && p < len(data) {
			first := u16()
			var left int
			if format == 1 {
				if p >= len(data) {
					break
				}
				left = int(data[p])
				p++
			} else {
				left = u16()
			}
			for k := 0; k <= left && gid < n; k++ {
				out[gid] = first + k
				gid++
			}
		}
	default:
		return nil, fmt.Errorf("%w: charset format %d", errCFF, format)
	}
	return out, nil
}

func (f *cffFont) readEncoding(data []byte, off int) (*Encoding, error) {
	switch off {
	case 0:
		return stdEnc.Clone(), nil
	case 1:
		return expertEnc.Clone(), nil
	}
	if off >= len(data) {
		return nil, fmt.Errorf("%w: encoding offset %d", errCFF, off)
	}
	enc := new(Encoding)
	format := data[off]
	p := off + 1
	name := func(gid int) string {
		if gid < len(f.charset) {
			return f.sid(f.charset[gid])
		}
		return ""
	}
	if p >= len(data) {
		return enc, nil
	}
	switch format & 0x7f {
	case 0:
		nCodes := int(data[p])
		p++
		for i := 0; i < nCodes && p < len(data); i++ {
			enc[data[p]] = name(i + 1)
			p++
		}
	case 1:
		nRanges := int(data[p])
		p++
		gid := 1
		for i := 0; i < nRanges && p+2 <= len(data); i++ {
			first, left := int(data[p]), int(data[p+1])
			p += 2
			for k := 0; k <= left && first+k < 256; k++ {
				enc[first+k] = name(gid)
				gid++
			}
		}
	default:
		return nil, fmt.Errorf("%w: encoding format %d", errCFF, format)
	}
	if format&0x80 != 0 && p < len(data) {
		nSups := int(data[p])
		p++
		for i := 0; i < nSups && p+3 <= len(data); i++ {
			enc[data[p]] = f.sid(int(binary.BigEndian.Uint16(data[p+1:])))
			p += 3
		}
	}
	return enc, nil
}

func readFDSelect(data []byte, off, n int) ([]uint8, error) {
	out := make([]uint8, n)
	if off <= 0 || off >= len(data) {
		return out, nil
	}
	switch data[off] {
	case 0:
		if off+1+n > len(data) {
			return nil, fmt.Errorf("%w: FDSelect truncated", errCFF)
		}
		copy(out, data[off+1:])
	case 3:
		if off+3 > len(data) {
			return nil, fmt.Errorf("%w: FDSelect truncated", errCFF)
		}
		nRanges := int(binary.BigEndian.Uint16(data[off+1:]))
		p := off + 3
		for i := 0; i < nRanges && p+5 <= len(data); i++ {
			first := int(binary.BigEndian.Uint16(data[p:]))
			fd := data[p+2]
			next := int(binary.BigEndian.Uint16(data[p+3:]))
			for g := first; g < next && g < n; g++ {
				out[g] = fd
			}
			p += 3
		}
	default:
		return nil, fmt.Errorf("%w: FDSelect format %d", errCFF, data[off])
	}
	return out, nil
}

func (f *cffFont) sid(sid int) string {
	if sid < len(cffStandardStrings) {
		return cffStandardStrings[sid]
	}
	if i := sid - len(cffStandardStrings); i < len(f.strings) {
		return string(f.strings[i])
	}
	return ""
}

func (f *cffFont) seac(code int) []byte {
	if code < 0 || code > 255 || f.byName == nil {
		return nil
	}
	if gid, ok := f.byName[standardEncoding[code]]; ok {
		return f.charStrings[gid]
	}
	return nil
}

func (f *cffFont) glyph(gid int, p *coords.Path) (float64, error) {
	if gid < 0 || gid >= len(f.charStrings) {
		gid = 0
	}
	prog := f.progs[0]
	if f.fdSel != nil && int(f.fdSel[gid]) < len(f.progs) {
		prog = f.progs[f.fdSel[gid]]
	}
	m, err := prog.Run(f.charStrings[gid], p)
	return m.Advance.X, err
}

func (f *cffFont) matrix() coords.Matrix { return f.mat }
func (f *cffFont) numGlyphs() int        { return len(f.charStrings) }

func (f *cffFont) gidByName(name string) (int, bool) {
	gid, ok := f.byName[name]
	return gid, ok
}

func (f *cffFont) gidByRune(r rune) (int, bool) {
	if name, ok := runeGlyphs[r]; ok {
		return f.gidByName(name)
	}
	return 0, false
}

func (f *cffFont) gidByCID(cid int) (int, bool) {
	if !f.cid {
		return cid, cid < len(f.charStrings)
	}
	gid, ok := f.byCID[cid]
	return gid, ok
}

func (f *cffFont) builtinEncoding() *Encoding { return f.enc }
