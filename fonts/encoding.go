package fonts

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Encoding maps single-byte character codes to glyph names. An empty entry
// has no glyph.
type Encoding [256]string

// Clone returns a copy that can be modified by Differences.
func (e *Encoding) Clone() *Encoding {
	out := *e
	return &out
}

// Unicode returns the text of code according to its glyph name.
func (e *Encoding) Unicode(code byte) (string, bool) {
	return GlyphUnicode(e[code])
}

// Code returns the first code mapped to name.
func (e *Encoding) Code(name string) (int, bool) {
	for i, n := range e {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

var (
	stdEnc      = Encoding(standardEncoding)
	winAnsiEnc  = fromCharmap(charmap.Windows1252, winAnsiExtras)
	macRomanEnc = fromCharmap(charmap.Macintosh, macRomanExtras)
	symbolEnc   = symbolEncoding()
)

// winAnsiExtras are the codes where PDF's WinAnsiEncoding differs from
// code page 1252: unused codes show a bullet, 0xA0 and 0xAD are plain
// space and hyphen.
var winAnsiExtras = map[byte]string{
	0x7f: "bullet", 0x81: "bullet", 0x8d: "bullet", 0x8f: "bullet",
	0x90: "bullet", 0x9d: "bullet", 0xa0: "space", 0xad: "hyphen",
}

// macRomanExtras undo the later Mac OS changes (euro over currency) and
// drop the Apple logo.
var macRomanExtras = map[byte]string{0xdb: "currency", 0xf0: ""}

func fromCharmap(cm *charmap.Charmap, extras map[byte]string) Encoding {
	var e Encoding
	for c := 0x20; c < 256; c++ {
		if r := cm.DecodeByte(byte(c)); r != 0xfffd {
			e[c] = runeGlyphs[r]
		}
	}
	for c, n := range extras {
		e[c] = n
	}
	return e
}

// symbolCodes lists the glyph names of the Symbol font from 0x20, one
// field per code; "-" marks an unused code.
const symbolCodes = `space exclam universal numbersign existential percent ampersand suchthat
parenleft parenright asteriskmath plus comma minus period slash zero one two three four
five six seven eight nine colon semicolon less equal greater question congruent Alpha Beta
Chi Delta Epsilon Phi Gamma Eta Iota theta1 Kappa Lambda Mu Nu Omicron Pi Theta Rho Sigma
Tau Upsilon sigma1 Omega Xi Psi Zeta bracketleft therefore bracketright perpendicular
underscore radicalex alpha beta chi delta epsilon phi gamma eta iota phi1 kappa lambda mu
nu omicron pi theta rho sigma tau upsilon omega1 omega xi psi zeta braceleft bar braceright
similar - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - Euro Upsilon1
minute lessequal fraction infinity florin club diamond heart spade arrowboth arrowleft
arrowup arrowright arrowdown degree plusminus second greaterequal multiply proportional
partialdiff bullet divide notequal equivalence approxequal ellipsis arrowvertex
arrowhorizex carriagereturn aleph Ifraktur Rfraktur weierstrass circlemultiply circleplus
emptyset intersection union propersuperset reflexsuperset notsubset propersubset
reflexsubset element notelement angle gradient registerserif copyrightserif
trademarkserif product radical dotmath logicalnot logicaland logicalor arrowdblboth
arrowdblleft arrowdblup arrowdblright arrowdbldown lozenge angleleft registersans
copyrightsans trademarksans summation`

func symbolEncoding() Encoding {
	var e Encoding
	for i, n := range strings.Fields(symbolCodes) {
		if n != "-" && 0x20+i < len(e) {
			e[0x20+i] = n
		}
	}
	e[0xf1] = "angleright"
	e[0xf2] = "integral"
	return e
}

// StandardEncoding returns a copy of Adobe StandardEncoding.
func StandardEncoding() *Encoding { return stdEnc.Clone() }

// NamedEncoding returns a copy of a predefined encoding.
// MacExpertEncoding has no glyphs in the substitute fonts and reads as
// StandardEncoding.
func NamedEncoding(name string) (*Encoding, bool) {
	switch name {
	case "StandardEncoding", "MacExpertEncoding":
		return stdEnc.Clone(), true
	case "WinAnsiEncoding":
		return winAnsiEnc.Clone(), true
	case "MacRomanEncoding":
		return macRomanEnc.Clone(), true
	case "SymbolEncoding":
		return symbolEnc.Clone(), true
	}
	return nil, false
}

// expertEnc is used by CFF fonts naming the predefined Expert encoding.
var expertEnc = Encoding(expertEncoding)
