package contentstream

import (
	"errors"

	"github.com/redforks/nipdf/cmm"
	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/fonts"
)

// ErrEmptyStateStack reports Q without a matching q.
var ErrEmptyStateStack = errors.New("graphics state stack empty")

// GraphicsState is the part of the interpreter state saved by q and
// restored by Q.
type GraphicsState struct {
	CTM    coords.Matrix
	Clip   *Clip
	Stroke StrokeStyle

	FillSpace     cmm.ColorSpace
	FillColor     []float64
	FillPattern   *Pattern
	StrokeSpace   cmm.ColorSpace
	StrokeColor   []float64
	StrokePattern *Pattern
	FillAlpha     float64
	StrokeAlpha   float64
	BlendMode     string
	Intent        cmm.RenderingIntent

	Text TextState
}

// TextState holds the text parameters; Tm and Tlm live outside the
// graphics state because q and Q do not save them.
type TextState struct {
	Font        *fonts.Font
	FontSize    float64
	CharSpacing float64
	WordSpacing float64
	// HScale is Tz divided by 100.
	HScale  float64
	Leading float64
	Rise    float64
	Render  TextRenderMode
}

// NewGraphicsState returns the initial state of a page whose default
// user space maps to device space through ctm.
func NewGraphicsState(ctm coords.Matrix) *GraphicsState {
	return &GraphicsState{
		CTM:         ctm,
		Stroke:      StrokeStyle{Width: 1, MiterLimit: 10},
		FillSpace:   cmm.DeviceGray{},
		FillColor:   []float64{0},
		StrokeSpace: cmm.DeviceGray{},
		StrokeColor: []float64{0},
		FillAlpha:   1,
		StrokeAlpha: 1,
		BlendMode:   "Normal",
		Intent:      cmm.IntentRelativeColorimetric,
		Text:        TextState{HScale: 1},
	}
}

// Clone returns a copy that shares nothing mutable with gs. Clip chains
// and patterns are immutable and stay shared.
func (gs *GraphicsState) Clone() *GraphicsState {
	c := *gs
	c.FillColor = append([]float64(nil), gs.FillColor...)
	c.StrokeColor = append([]float64(nil), gs.StrokeColor...)
	c.Stroke.Dash.Array = append([]float64(nil), gs.Stroke.Dash.Array...)
	return &c
}

// DrawState returns what a device needs to draw under gs.
func (gs *GraphicsState) DrawState() DrawState {
	return DrawState{CTM: gs.CTM, Clip: gs.Clip, BlendMode: gs.BlendMode}
}

// ClipTo intersects the clip region with path, given in user space.
func (gs *GraphicsState) ClipTo(path *coords.Path, rule FillRule) {
	gs.Clip = &Clip{Path: path.Transform(gs.CTM), Rule: rule, Parent: gs.Clip}
}

type stateStack struct {
	saved []*GraphicsState
}

func (s *stateStack) Save(gs *GraphicsState) { s.saved = append(s.saved, gs.Clone()) }

func (s *stateStack) Restore() (*GraphicsState, error) {
	n := len(s.saved)
	if n == 0 {
		return nil, ErrEmptyStateStack
	}
	gs := s.saved[n-1]
	s.saved = s.saved[:n-1]
	return gs, nil
}

func (s *stateStack) Len() int { return len(s.saved) }
