// Package observability holds the logging and tracing hooks the engine
// reports through. Both default to no-ops.
package observability

import (
	"context"
	"time"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field is a structured log attribute.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field        { return Field{key, value} }
func Int(key string, value int) Field       { return Field{key, value} }
func Int64(key string, value int64) Field   { return Field{key, value} }
func Float(key string, value float64) Field { return Field{key, value} }
func Error(key string, err error) Field     { return Field{key, err} }
func Any(key string, value any) Field       { return Field{key, value} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// OrNop returns l, or NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}

// Tracer starts spans around document operations such as opening a file
// or rendering a page.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

type Span interface {
	SetTag(key string, value any)
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, any) {}
func (nopSpan) SetError(error)     {}
func (nopSpan) Finish()            {}

// LogTracer reports each finished span to a Logger at Debug level, with
// its tags and duration. Failed spans are logged at Warn.
func LogTracer(l Logger) Tracer { return logTracer{log: OrNop(l)} }

type logTracer struct{ log Logger }

func (t logTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &logSpan{log: t.log, name: name, start: time.Now()}
}

// logSpan is used by one goroutine at a time.
type logSpan struct {
	log   Logger
	name  string
	start time.Time
	tags  []Field
	err   error
}

func (s *logSpan) SetTag(key string, value any) { s.tags = append(s.tags, Field{key, value}) }
func (s *logSpan) SetError(err error)           { s.err = err }

func (s *logSpan) Finish() {
	fields := append([]Field{String("span", s.name), Any("duration", time.Since(s.start))}, s.tags...)
	if s.err != nil {
		s.log.Warn("span failed", append(fields, Error("error", s.err))...)
		return
	}
	s.log.Debug("span finished", fields...)
}
