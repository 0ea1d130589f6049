// Package cmm converts PDF colour spaces to sRGB. Device, CIE-based,
// ICC-based and special (Indexed, Separation, DeviceN, Pattern) spaces
// are supported; ICC profiles with matrix/TRC or lut8/lut16 A2B0
// transforms are honoured, anything else falls back to the alternate
// space.
package cmm

// Transform converts a colour value from one space to another.
type Transform interface {
	Convert(src []float64) ([]float64, error)
}

// RenderingIntent selects the gamut mapping of a conversion.
type RenderingIntent int

const (
	IntentPerceptual RenderingIntent = iota
	IntentRelativeColorimetric
	IntentSaturation
	IntentAbsoluteColorimetric
)

// ParseIntent maps a /RI or ri operand to an intent; unknown names select
// relative colorimetric.
func ParseIntent(name string) RenderingIntent {
	switch name {
	case "Perceptual":
		return IntentPerceptual
	case "Saturation":
		return IntentSaturation
	case "AbsoluteColorimetric":
		return IntentAbsoluteColorimetric
	}
	return IntentRelativeColorimetric
}

// tag returns the A2B tag used for intent; profiles only carrying A2B0
// serve every intent.
func (i RenderingIntent) tag() string {
	switch i {
	case IntentRelativeColorimetric, IntentAbsoluteColorimetric:
		return "A2B1"
	case IntentSaturation:
		return "A2B2"
	}
	return "A2B0"
}
