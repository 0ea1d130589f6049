package raw

import (
	"sort"
	"sync/atomic"
)

// Name object
type NameObj struct{ Val string }

func (n NameObj) Type() string     { return "name" }
func (n NameObj) IsIndirect() bool { return false }
func (n NameObj) Value() string    { return n.Val }

// Number object
type NumberObj struct {
	I     int64
	F     float64
	IsInt bool
}

func (n NumberObj) Type() string     { return "number" }
func (n NumberObj) IsIndirect() bool { return false }
func (n NumberObj) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}
func (n NumberObj) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}
func (n NumberObj) IsInteger() bool { return n.IsInt }

// Boolean object
type BoolObj struct{ V bool }

func (b BoolObj) Type() string     { return "boolean" }
func (b BoolObj) IsIndirect() bool { return false }
func (b BoolObj) Value() bool      { return b.V }

// Null object
type NullObj struct{}

func (n NullObj) Type() string     { return "null" }
func (n NullObj) IsIndirect() bool { return false }

// String object. Hex records the source syntax only; Bytes is the value.
type StringObj struct {
	Bytes []byte
	Hex   bool
}

func (s StringObj) Type() string     { return "string" }
func (s StringObj) IsIndirect() bool { return false }
func (s StringObj) Value() []byte    { return s.Bytes }
func (s StringObj) IsHex() bool      { return s.Hex }

// Array object
type ArrayObj struct{ Items []Object }

func (a *ArrayObj) Type() string     { return "array" }
func (a *ArrayObj) IsIndirect() bool { return false }
func (a *ArrayObj) Get(i int) (Object, bool) {
	if a == nil || i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}
func (a *ArrayObj) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Items)
}
func (a *ArrayObj) Append(o Object) { a.Items = append(a.Items, o) }

// Dictionary object
type DictObj struct{ KV map[string]Object }

func (d *DictObj) Type() string     { return "dict" }
func (d *DictObj) IsIndirect() bool { return false }

// Get returns the entry for key without following references.
func (d *DictObj) Get(key string) (Object, bool) {
	if d == nil {
		return nil, false
	}
	o, ok := d.KV[key]
	return o, ok
}

func (d *DictObj) Set(key string, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key] = value
}

// Keys returns the keys in sorted order.
func (d *DictObj) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *DictObj) Len() int {
	if d == nil {
		return 0
	}
	return len(d.KV)
}

// Name returns the name stored under key, if it is a direct name.
func (d *DictObj) Name(key string) (string, bool) {
	o, _ := d.Get(key)
	n, ok := o.(NameObj)
	return n.Val, ok
}

// Int returns the integer stored under key, if it is a direct number.
func (d *DictObj) Int(key string) (int64, bool) {
	o, _ := d.Get(key)
	n, ok := o.(NumberObj)
	return n.Int(), ok
}

// Number returns the number stored under key, if it is a direct number.
func (d *DictObj) Number(key string) (float64, bool) {
	o, _ := d.Get(key)
	n, ok := o.(NumberObj)
	return n.Float(), ok
}

// Bool returns the boolean stored under key, if it is a direct boolean.
func (d *DictObj) Bool(key string) (bool, bool) {
	o, _ := d.Get(key)
	b, ok := o.(BoolObj)
	return b.V, ok
}

// Stream object. Data is the raw (still encoded, possibly encrypted) payload;
// the decoded payload is cached on first successful decode.
type StreamObj struct {
	Dict *DictObj
	Data []byte
	// Ref is the indirect object the stream was loaded from; it keys decryption.
	Ref ObjectRef

	decoded atomic.Pointer[[]byte]
}

func (s *StreamObj) Type() string         { return "stream" }
func (s *StreamObj) IsIndirect() bool     { return false }
func (s *StreamObj) Dictionary() *DictObj { return s.Dict }
func (s *StreamObj) RawData() []byte      { return s.Data }
func (s *StreamObj) Length() int64        { return int64(len(s.Data)) }

// Decoded returns the cached decoded payload.
func (s *StreamObj) Decoded() ([]byte, bool) {
	p := s.decoded.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// StoreDecoded caches data unless another goroutine already did; it returns
// the payload that won.
func (s *StreamObj) StoreDecoded(data []byte) []byte {
	if s.decoded.CompareAndSwap(nil, &data) {
		return data
	}
	return *s.decoded.Load()
}

// Reference object
type RefObj struct{ R ObjectRef }

func (r RefObj) Type() string     { return "ref" }
func (r RefObj) IsIndirect() bool { return true }
func (r RefObj) Ref() ObjectRef   { return r.R }

// BrokenObj stands in for an object that could not be resolved, including a
// reference found on its own resolution path. Consumers treat it as null.
type BrokenObj struct {
	R      ObjectRef
	Reason string
}

func (b BrokenObj) Type() string     { return "broken" }
func (b BrokenObj) IsIndirect() bool { return false }

// Helpers
func NameLiteral(v string) NameObj    { return NameObj{Val: v} }
func NumberInt(i int64) NumberObj     { return NumberObj{I: i, IsInt: true} }
func NumberFloat(f float64) NumberObj { return NumberObj{F: f, IsInt: false} }
func Bool(v bool) BoolObj             { return BoolObj{V: v} }
func Str(bytes []byte) StringObj      { return StringObj{Bytes: bytes} }
func NewArray(items ...Object) *ArrayObj {
	return &ArrayObj{Items: items}
}
func Dict() *DictObj { return &DictObj{KV: make(map[string]Object)} }
func NewStream(dict *DictObj, data []byte) *StreamObj {
	if dict == nil {
		dict = Dict()
	}
	return &StreamObj{Dict: dict, Data: data}
}
func Ref(num, gen int) RefObj { return RefObj{R: ObjectRef{Num: num, Gen: gen}} }

// IsNull reports whether o is absent, null or a broken reference.
func IsNull(o Object) bool {
	switch o.(type) {
	case nil, NullObj, BrokenObj:
		return true
	}
	return false
}
