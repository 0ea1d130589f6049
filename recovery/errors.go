package recovery

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrInvalidPassword   = errors.New("invalid password")
	ErrUnsupportedCipher = errors.New("unsupported cipher")
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrTypeCheck         = errors.New("type check")
	ErrUndefined         = errors.New("undefined operator")
	ErrRangeCheck        = errors.New("range check")
)

// ParseError reports a malformed token stream or truncated file structure.
type ParseError struct {
	Offset    int64
	Component string
	Err       error
}

func (e *ParseError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("parse error at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: parse error at offset %d: %v", e.Component, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError builds a ParseError from a message.
func NewParseError(component string, offset int64, format string, args ...any) *ParseError {
	return &ParseError{Offset: offset, Component: component, Err: fmt.Errorf(format, args...)}
}

// BrokenReference is returned when an indirect object cannot be resolved or
// resolving it would revisit an object already on the resolution path.
type BrokenReference struct {
	Num, Gen int
	Reason   string
}

func (e *BrokenReference) Error() string {
	return fmt.Sprintf("broken reference %d %d R: %s", e.Num, e.Gen, e.Reason)
}

type FilterError struct {
	Filter string
	Err    error
}

func (e *FilterError) Error() string { return fmt.Sprintf("filter %s: %v", e.Filter, e.Err) }
func (e *FilterError) Unwrap() error { return e.Err }

type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string { return "decrypt: " + e.Err.Error() }
func (e *DecryptionError) Unwrap() error { return e.Err }

// VMError reports a malformed function or charstring program.
type VMError struct {
	Op  string
	Err error
}

func (e *VMError) Error() string {
	if e.Op == "" {
		return "vm: " + e.Err.Error()
	}
	return fmt.Sprintf("vm: %s: %v", e.Op, e.Err)
}

func (e *VMError) Unwrap() error { return e.Err }

// Warning is a non-fatal diagnostic produced while interpreting a content stream.
type Warning struct {
	Op     string
	Offset int64
	Err    error
}

func (w *Warning) Error() string {
	if w.Op == "" {
		return fmt.Sprintf("warning at %d: %v", w.Offset, w.Err)
	}
	return fmt.Sprintf("warning at %d (%s): %v", w.Offset, w.Op, w.Err)
}

func (w *Warning) Unwrap() error { return w.Err }
