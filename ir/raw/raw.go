package raw

import (
	"context"
	"fmt"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects. Concrete types are
// NameObj, NumberObj, BoolObj, NullObj, StringObj, *ArrayObj, *DictObj,
// *StreamObj, RefObj and the BrokenObj sentinel.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Resolver follows indirect references. Resolve returns non-reference
// objects unchanged.
type Resolver interface {
	Resolve(ctx context.Context, obj Object) (Object, error)
}

// StreamDecoder produces the logical payload of a stream: decrypted, then
// run through its filter chain.
type StreamDecoder interface {
	DecodeStream(ctx context.Context, s *StreamObj) ([]byte, error)
}

// Source is what higher layers (functions, fonts, color spaces, the
// interpreter) need from a document.
type Source interface {
	Resolver
	StreamDecoder
}

// Deref resolves obj through r, returning NullObj when resolution fails.
func Deref(ctx context.Context, r Resolver, obj Object) Object {
	if obj == nil {
		return NullObj{}
	}
	if _, ok := obj.(RefObj); !ok || r == nil {
		return obj
	}
	out, err := r.Resolve(ctx, obj)
	if err != nil || out == nil {
		return NullObj{}
	}
	return out
}

// DictOf resolves obj and returns it as a dictionary. A stream yields its
// dictionary.
func DictOf(ctx context.Context, r Resolver, obj Object) (*DictObj, bool) {
	switch v := Deref(ctx, r, obj).(type) {
	case *DictObj:
		return v, true
	case *StreamObj:
		return v.Dict, true
	}
	return nil, false
}

func ArrayOf(ctx context.Context, r Resolver, obj Object) (*ArrayObj, bool) {
	a, ok := Deref(ctx, r, obj).(*ArrayObj)
	return a, ok
}

func StreamOf(ctx context.Context, r Resolver, obj Object) (*StreamObj, bool) {
	s, ok := Deref(ctx, r, obj).(*StreamObj)
	return s, ok
}

func NumberOf(ctx context.Context, r Resolver, obj Object) (float64, bool) {
	n, ok := Deref(ctx, r, obj).(NumberObj)
	return n.Float(), ok
}

func IntOf(ctx context.Context, r Resolver, obj Object) (int64, bool) {
	n, ok := Deref(ctx, r, obj).(NumberObj)
	return n.Int(), ok
}

func NameOf(ctx context.Context, r Resolver, obj Object) (string, bool) {
	n, ok := Deref(ctx, r, obj).(NameObj)
	return n.Val, ok
}

func StringOf(ctx context.Context, r Resolver, obj Object) ([]byte, bool) {
	s, ok := Deref(ctx, r, obj).(StringObj)
	return s.Bytes, ok
}

// Floats resolves an array of numbers. Non-numeric items make it fail.
func Floats(ctx context.Context, r Resolver, obj Object) ([]float64, bool) {
	arr, ok := ArrayOf(ctx, r, obj)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, arr.Len())
	for _, it := range arr.Items {
		f, ok := NumberOf(ctx, r, it)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// Lookup returns the resolved value of d[key].
func (d *DictObj) Lookup(ctx context.Context, r Resolver, key string) Object {
	o, ok := d.Get(key)
	if !ok {
		return NullObj{}
	}
	return Deref(ctx, r, o)
}

// LookupAny returns the first present key, which handles abbreviated inline
// image keys and similar aliases.
func (d *DictObj) LookupAny(ctx context.Context, r Resolver, keys ...string) Object {
	for _, k := range keys {
		if o, ok := d.Get(k); ok {
			return Deref(ctx, r, o)
		}
	}
	return NullObj{}
}
