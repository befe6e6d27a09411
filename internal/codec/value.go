// Package codec converts between native record values and the document
// store's typed wire format.
//
// Values are an explicit sum type: every Value carries exactly one Kind tag
// and the codec switches on that tag, never on structural type inspection.
// A Boolean therefore cannot be mistaken for an Integer on the way out or on
// the way back in.
package codec

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind is the declared tag of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindBoolean
	KindInteger
	KindFloat
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a tagged union over String, Boolean, Integer, Float and Map.
// The zero Value has KindInvalid and encodes through the string fallback.
type Value struct {
	kind Kind
	str  string
	b    bool
	i    int64
	f    float64
	m    Record
}

// String returns a String value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a Boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Int returns an Integer value.
func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

// Float returns a Float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Map returns a Map value wrapping a nested record.
func Map(r Record) Value { return Value{kind: KindMap, m: r.clone()} }

// Kind reports the value's tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBoolean }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == KindInteger }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsMap returns a copy of the nested record.
func (v Value) AsMap() (Record, bool) {
	if v.kind != KindMap {
		return Record{}, false
	}
	return v.m.clone(), true
}

// Native returns the value as a plain Go value (string, bool, int64, float64
// or map[string]any). Invalid values return nil.
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindMap:
		return v.m.Native()
	default:
		return nil
	}
}

// String renders the value the way the string fallback would.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindMap:
		return fmt.Sprint(v.m.Native())
	default:
		return ""
	}
}

// Equal reports whether two values carry the same tag and payload. NaN is
// equal to NaN so that round trips of non-finite doubles compare cleanly.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBoolean:
		return v.b == o.b
	case KindInteger:
		return v.i == o.i
	case KindFloat:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case KindMap:
		return v.m.Equal(o.m)
	default:
		return true
	}
}

// Field is a single named value of a Record.
type Field struct {
	Name  string
	Value Value
}

// F is shorthand for building a Field.
func F(name string, v Value) Field { return Field{Name: name, Value: v} }

// Record is an ordered mapping from unique field names to values.
// Records are treated as immutable: With returns a modified copy.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord builds a record from fields in order. A repeated name replaces
// the earlier value but keeps its original position.
func NewRecord(fields ...Field) Record {
	r := Record{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		r.set(f.Name, f.Value)
	}
	return r
}

func (r *Record) set(name string, v Value) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = v
		return
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: v})
}

// With returns a copy of r with name set to v.
func (r Record) With(name string, v Value) Record {
	c := r.clone()
	c.set(name, v)
	return c
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Get returns the value stored under name.
func (r Record) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Value{}, false
	}
	return r.fields[i].Value, true
}

// Names returns field names in record order.
func (r Record) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// Fields returns a copy of the fields in record order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Native converts the record to a map of plain Go values.
func (r Record) Native() map[string]any {
	out := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		out[f.Name] = f.Value.Native()
	}
	return out
}

// Equal compares two records as mappings; field order is not significant.
func (r Record) Equal(o Record) bool {
	if len(r.fields) != len(o.fields) {
		return false
	}
	for _, f := range r.fields {
		ov, ok := o.Get(f.Name)
		if !ok || !f.Value.Equal(ov) {
			return false
		}
	}
	return true
}

func (r Record) clone() Record {
	c := Record{
		fields: make([]Field, len(r.fields)),
		index:  make(map[string]int, len(r.fields)),
	}
	copy(c.fields, r.fields)
	for k, v := range r.index {
		c.index[k] = v
	}
	return c
}

// sortedNames returns the keys of m in lexical order.
func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
