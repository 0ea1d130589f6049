// Package contentstream interprets page content streams. A Processor
// dispatches each operator to its OperatorHandler, which updates the
// graphics state and emits drawing calls to a Device.
package contentstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/redforks/nipdf/cmm"
	"github.com/redforks/nipdf/coords"
	"github.com/redforks/nipdf/fonts"
	"github.com/redforks/nipdf/function"
	"github.com/redforks/nipdf/ir/raw"
	"github.com/redforks/nipdf/observability"
	"github.com/redforks/nipdf/recovery"
	"github.com/redforks/nipdf/resources"
	"github.com/redforks/nipdf/scanner"
	"github.com/redforks/nipdf/security"
)

var (
	// ErrUnknownOperator is the warning for an operator with no handler.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrOperands reports missing or mistyped operands.
	ErrOperands = errors.New("bad operands")
	// ErrTooDeep reports nested forms, patterns or Type 3 glyphs beyond
	// security.Limits.MaxXObjectDepth.
	ErrTooDeep = errors.New("content nested too deeply")
)

// Config carries the collaborators shared by every page a Processor
// runs. Nil caches are created by NewProcessor.
type Config struct {
	Source      raw.Source
	Fonts       *fonts.Cache
	ColorSpaces *cmm.Cache
	Functions   *function.Cache
	Limits      security.Limits
	Recovery    recovery.Strategy
	Logger      observability.Logger
}

// OperatorHandler executes one operator.
type OperatorHandler interface {
	Handle(ec *ExecutionContext, operands []raw.Object) error
}

// HandlerFunc adapts a function to OperatorHandler.
type HandlerFunc func(ec *ExecutionContext, operands []raw.Object) error

func (f HandlerFunc) Handle(ec *ExecutionContext, operands []raw.Object) error {
	return f(ec, operands)
}

// Processor interprets content streams. It is safe for concurrent use
// once its handlers are registered; each Run owns its own state.
type Processor struct {
	cfg      Config
	log      observability.Logger
	handlers map[string]OperatorHandler
	shadings sync.Map // raw.ObjectRef -> shadingEntry
}

type shadingEntry struct {
	sh  *Shading
	err error
}

// NewProcessor returns a processor with handlers for every standard
// operator.
func NewProcessor(cfg Config) *Processor {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Functions == nil {
		cfg.Functions = &function.Cache{}
	}
	if cfg.ColorSpaces == nil {
		cfg.ColorSpaces = &cmm.Cache{Functions: cfg.Functions}
	}
	if cfg.Fonts == nil {
		cfg.Fonts = &fonts.Cache{Logger: cfg.Logger}
	}
	p := &Processor{cfg: cfg, log: observability.OrNop(cfg.Logger), handlers: make(map[string]OperatorHandler)}
	registerGraphicsOps(p)
	registerPathOps(p)
	registerColorOps(p)
	registerTextOps(p)
	registerObjectOps(p)
	return p
}

// RegisterHandler installs h for op, replacing any previous handler. It
// must not be called while pages are running.
func (p *Processor) RegisterHandler(op string, h OperatorHandler) { p.handlers[op] = h }

func (p *Processor) register(op string, f func(ec *ExecutionContext, operands []raw.Object) error) {
	p.handlers[op] = HandlerFunc(f)
}

// Run interprets data, a page's content stream, drawing onto dev. gs is
// the initial graphics state and is updated in place. The returned
// warnings describe everything that was skipped; the error is non-nil
// only when ctx ends the run, in which case the drawing is incomplete.
func (p *Processor) Run(ctx context.Context, data []byte, scope resources.Scope, gs *GraphicsState, dev Device) ([]error, error) {
	run := &pageRun{glyphWarned: make(map[*fonts.Font]bool)}
	ec := newContext(ctx, p, run, scope, gs, dev, 0)
	err := ec.exec(data)
	return run.warnings, err
}

// pageRun is shared by a page's stream and every stream nested in it.
type pageRun struct {
	warnings    []error
	glyphWarned map[*fonts.Font]bool
}

// ExecutionContext is the state of one content stream being
// interpreted. Forms, tiling cells and Type 3 glyphs run in a child
// context with their own state stack.
type ExecutionContext struct {
	Context context.Context
	State   *GraphicsState
	Scope   resources.Scope
	Device  Device

	proc  *Processor
	run   *pageRun
	stack stateStack
	depth int
	// base is the CTM that pattern matrices are relative to.
	base coords.Matrix

	path        coords.Path
	clipPending bool
	clipRule    FillRule

	tm, tlm      coords.Matrix
	textClip     *coords.Path
	textClipUsed bool

	// lock replaces every colour: uncoloured tiling cells and d1 glyphs.
	lock   *Paint
	compat int
	op     Operation
}

func newContext(ctx context.Context, p *Processor, run *pageRun, scope resources.Scope, gs *GraphicsState, dev Device, depth int) *ExecutionContext {
	return &ExecutionContext{
		Context: ctx,
		State:   gs,
		Scope:   scope,
		Device:  dev,
		proc:    p,
		run:     run,
		depth:   depth,
		base:    gs.CTM,
		tm:      coords.Identity(),
		tlm:     coords.Identity(),
	}
}

func (ec *ExecutionContext) src() raw.Source { return ec.proc.cfg.Source }

func (ec *ExecutionContext) exec(data []byte) error {
	lim := ec.proc.cfg.Limits
	lex := NewLexer(data, scanner.Config{
		MaxStringLength: lim.MaxStringLength,
		Recovery:        ec.proc.cfg.Recovery,
	}, ec.warn)
	for {
		if err := ec.Context.Err(); err != nil {
			return err
		}
		op, err := lex.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// the rest of the stream cannot be tokenized
			ec.warn(err)
			return nil
		}
		if err := ec.dispatch(op); err != nil {
			return err
		}
	}
}

// dispatch runs one operator. Handler failures and panics become
// warnings; only the end of the context is returned.
func (ec *ExecutionContext) dispatch(op Operation) (err error) {
	h, ok := ec.proc.handlers[op.Operator]
	if !ok {
		if ec.compat > 0 {
			ec.proc.log.Debug("operator ignored in compatibility section", observability.String("op", op.Operator))
			return nil
		}
		ec.warnOp(op, ErrUnknownOperator)
		return nil
	}
	ec.op = op
	defer func() {
		if r := recover(); r != nil {
			ec.warnOp(op, fmt.Errorf("handler panic: %v", r))
			err = nil
		}
	}()
	if herr := h.Handle(ec, op.Operands); herr != nil {
		if cerr := ec.Context.Err(); cerr != nil {
			return cerr
		}
		ec.warnOp(op, herr)
	}
	return nil
}

// Warn records a diagnostic against the operator being executed.
func (ec *ExecutionContext) Warn(err error) { ec.warnOp(ec.op, err) }

func (ec *ExecutionContext) warnOp(op Operation, err error) {
	ec.warn(&recovery.Warning{Op: op.Operator, Offset: op.Offset, Err: err})
}

func (ec *ExecutionContext) warn(err error) {
	ec.run.warnings = append(ec.run.warnings, err)
	var w *recovery.Warning
	if errors.As(err, &w) {
		ec.proc.log.Warn("content stream",
			observability.String("component", "content"),
			observability.String("op", w.Op),
			observability.Int64("offset", w.Offset),
			observability.Error("error", w.Err))
		return
	}
	ec.proc.log.Warn("content stream", observability.String("component", "content"), observability.Error("error", err))
}

// nested runs a form, tiling cell or Type 3 glyph procedure in a child
// context.
func (ec *ExecutionContext) nested(ctx context.Context, data []byte, scope resources.Scope, gs *GraphicsState, dev Device, lock *Paint) error {
	if ec.depth+1 > ec.proc.cfg.Limits.MaxXObjectDepth {
		return fmt.Errorf("%w: depth %d", ErrTooDeep, ec.depth+1)
	}
	child := newContext(ctx, ec.proc, ec.run, scope, gs, dev, ec.depth+1)
	child.lock = lock
	return child.exec(data)
}

// StackDepth is the number of states saved by q and not yet restored.
func (ec *ExecutionContext) StackDepth() int { return ec.stack.Len() }

// operand helpers

func numberOf(o raw.Object) (float64, bool) {
	if n, ok := o.(raw.NumberObj); ok {
		return n.Float(), true
	}
	return 0, false
}

// numbers returns the last n operands as numbers. Extra leading operands
// are ignored.
func numbers(operands []raw.Object, n int) ([]float64, error) {
	if len(operands) < n {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrOperands, n, len(operands))
	}
	out := make([]float64, n)
	for i, o := range operands[len(operands)-n:] {
		v, ok := numberOf(o)
		if !ok {
			return nil, fmt.Errorf("%w: operand %d is %s", ErrOperands, i, o.Type())
		}
		out[i] = v
	}
	return out, nil
}

func lastName(operands []raw.Object) (string, error) {
	if len(operands) == 0 {
		return "", fmt.Errorf("%w: want a name", ErrOperands)
	}
	n, ok := operands[len(operands)-1].(raw.NameObj)
	if !ok {
		return "", fmt.Errorf("%w: want a name, got %s", ErrOperands, operands[len(operands)-1].Type())
	}
	return n.Val, nil
}

func matrixOf(v []float64) coords.Matrix {
	return coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
}
