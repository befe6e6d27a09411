package codec

import (
	"strconv"
)

// Encode converts a Value to its wire form. It dispatches on the declared
// tag in the order String, Boolean, Integer, Float, Map; anything else is
// sent as a string of the value. A Boolean always yields booleanValue.
func Encode(v Value) WireValue {
	switch v.kind {
	case KindString:
		s := v.str
		return WireValue{StringValue: &s}
	case KindBoolean:
		b := v.b
		return WireValue{BooleanValue: &b}
	case KindInteger:
		s := strconv.FormatInt(v.i, 10)
		return WireValue{IntegerValue: &s}
	case KindFloat:
		d := Double(v.f)
		return WireValue{DoubleValue: &d}
	case KindMap:
		return WireValue{MapValue: &MapValue{Fields: EncodeRecord(v.m)}}
	default:
		s := v.String()
		return WireValue{StringValue: &s}
	}
}

// Decode converts a wire value back to a Value, choosing the branch by which
// type key is present. Unknown or absent keys, and integers that are not
// valid decimal int64s, decode to a String of the raw content.
func Decode(w WireValue) Value {
	switch {
	case w.StringValue != nil:
		return String(*w.StringValue)
	case w.IntegerValue != nil:
		i, err := strconv.ParseInt(*w.IntegerValue, 10, 64)
		if err != nil {
			return String(*w.IntegerValue)
		}
		return Int(i)
	case w.DoubleValue != nil:
		return Float(float64(*w.DoubleValue))
	case w.BooleanValue != nil:
		return Bool(*w.BooleanValue)
	case w.MapValue != nil:
		return Value{kind: KindMap, m: DecodeRecord(w.MapValue.Fields)}
	}
	if len(w.Other) > 0 {
		return String(rawScalar(w.Other[sortedNames(w.Other)[0]]))
	}
	return String("")
}

// EncodeRecord encodes every field of r.
func EncodeRecord(r Record) map[string]WireValue {
	out := make(map[string]WireValue, r.Len())
	for _, f := range r.fields {
		out[f.Name] = Encode(f.Value)
	}
	return out
}

// DecodeRecord decodes a wire field map. Fields come back in lexical order
// because the wire map carries no ordering.
func DecodeRecord(fields map[string]WireValue) Record {
	r := Record{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, name := range sortedNames(fields) {
		r.set(name, Decode(fields[name]))
	}
	return r
}
