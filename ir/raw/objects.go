package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Kind enumerates the closed set of PDF object variants. ImageStream is a
// refinement of Stream used by graph passes that rewrite raster data.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindName
	KindArray
	KindDict
	KindStream
	KindImageStream
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindName:
		return "name"
	case KindArray:
		return "array"
	case KindDict:
		return "dictionary"
	case KindStream:
		return "stream"
	case KindImageStream:
		return "image stream"
	case KindRef:
		return "reference"
	}
	return "unknown"
}

// Object is the common interface over the tagged union of PDF values.
type Object interface {
	Kind() Kind
}

// Name is a PDF name object such as /Subtype.
type Name struct{ Val string }

func (Name) Kind() Kind { return KindName }

// Number is a PDF numeric value, integer or real.
type Number struct {
	I     int64
	F     float64
	IsInt bool
}

func (Number) Kind() Kind { return KindNumber }

func (n Number) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}

func (n Number) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}

// Bool is a PDF boolean.
type Bool struct{ V bool }

func (Bool) Kind() Kind { return KindBool }

// Null is the PDF null object.
type Null struct{}

func (Null) Kind() Kind { return KindNull }

// String is a PDF string. Hex records whether the source used hex notation
// so the writer can round-trip binary payloads safely.
type String struct {
	Bytes []byte
	Hex   bool
}

func (String) Kind() Kind { return KindString }

// Array is a PDF array object.
type Array struct{ Items []Object }

func (*Array) Kind() Kind { return KindArray }

func (a *Array) Len() int { return len(a.Items) }

func (a *Array) At(i int) (Object, bool) {
	if i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}

func (a *Array) Append(items ...Object) { a.Items = append(a.Items, items...) }

// Dict is a PDF dictionary object.
type Dict struct{ KV map[string]Object }

func (*Dict) Kind() Kind { return KindDict }

func NewDict() *Dict { return &Dict{KV: make(map[string]Object)} }

func (d *Dict) Get(key string) (Object, bool) {
	if d == nil || d.KV == nil {
		return nil, false
	}
	o, ok := d.KV[key]
	return o, ok
}

func (d *Dict) Set(key string, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key] = value
}

func (d *Dict) Delete(key string) {
	if d != nil && d.KV != nil {
		delete(d.KV, key)
	}
}

func (d *Dict) Has(key string) bool { _, ok := d.Get(key); return ok }

func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.KV)
}

// Name returns the string value of a name entry, or "" when the entry is
// missing or not a name.
func (d *Dict) Name(key string) string {
	if v, ok := d.Get(key); ok {
		if n, ok := v.(Name); ok {
			return n.Val
		}
	}
	return ""
}

// Int returns the integer value of a numeric entry.
func (d *Dict) Int(key string) (int64, bool) {
	if v, ok := d.Get(key); ok {
		if n, ok := v.(Number); ok {
			return n.Int(), true
		}
	}
	return 0, false
}

// StringBytes returns the raw bytes of a string entry.
func (d *Dict) StringBytes(key string) ([]byte, bool) {
	if v, ok := d.Get(key); ok {
		if s, ok := v.(String); ok {
			return s.Bytes, true
		}
	}
	return nil, false
}

// Bool returns the value of a boolean entry.
func (d *Dict) Bool(key string) (bool, bool) {
	if v, ok := d.Get(key); ok {
		if b, ok := v.(Bool); ok {
			return b.V, true
		}
	}
	return false, false
}

// Dictionary returns a dictionary entry, or nil when missing or mistyped.
func (d *Dict) Dictionary(key string) *Dict {
	if v, ok := d.Get(key); ok {
		if sub, ok := v.(*Dict); ok {
			return sub
		}
	}
	return nil
}

// Stream is a PDF stream: a dictionary plus an encoded byte payload.
type Stream struct {
	Dict *Dict
	Data []byte
}

func (*Stream) Kind() Kind { return KindStream }

// NewStream builds a stream and keeps its Length entry consistent with the
// payload.
func NewStream(dict *Dict, data []byte) *Stream {
	s := &Stream{Dict: dict, Data: data}
	if s.Dict == nil {
		s.Dict = NewDict()
	}
	s.Dict.Set("Length", Integer(int64(len(data))))
	return s
}

// SetData replaces the payload and recomputes Length.
func (s *Stream) SetData(data []byte) {
	s.Data = data
	if s.Dict == nil {
		s.Dict = NewDict()
	}
	s.Dict.Set("Length", Integer(int64(len(data))))
}

// Ref is an indirect object reference.
type Ref struct{ R ObjectRef }

func (Ref) Kind() Kind { return KindRef }

// Constructors in the style the writer and tests lean on.
func NameOf(v string) Name         { return Name{Val: v} }
func Integer(i int64) Number       { return Number{I: i, IsInt: true} }
func Real(f float64) Number        { return Number{F: f} }
func Boolean(v bool) Bool          { return Bool{V: v} }
func Str(b []byte) String          { return String{Bytes: b} }
func HexStr(b []byte) String       { return String{Bytes: b, Hex: true} }
func NewArray(it ...Object) *Array { return &Array{Items: it} }
func RefTo(num, gen int) Ref       { return Ref{R: ObjectRef{Num: num, Gen: gen}} }

// Classify maps an object onto the closed Kind set, distinguishing image
// streams from every other stream by an exact, case-sensitive match on the
// dictionary's Subtype entry.
func Classify(obj Object) Kind {
	switch o := obj.(type) {
	case nil:
		return KindNull
	case Null:
		return KindNull
	case Bool:
		return KindBool
	case Number:
		return KindNumber
	case String:
		return KindString
	case Name:
		return KindName
	case *Array:
		return KindArray
	case *Dict:
		return KindDict
	case *Stream:
		if o.Dict.Name("Subtype") == "Image" {
			return KindImageStream
		}
		return KindStream
	case Ref:
		return KindRef
	}
	return KindNull
}
