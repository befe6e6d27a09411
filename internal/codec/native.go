package codec

import (
	"encoding/json"
	"fmt"
	"math"
)

// FromNative converts a plain Go value to a Value using the same dispatch
// order as Encode. Unsupported types become a String of the value and ok is
// false; the caller is expected to log the fallback.
func FromNative(x any) (v Value, ok bool) {
	switch t := x.(type) {
	case Value:
		return t, true
	case string:
		return String(t), true
	case bool:
		return Bool(t), true
	case int:
		return Int(int64(t)), true
	case int8:
		return Int(int64(t)), true
	case int16:
		return Int(int64(t)), true
	case int32:
		return Int(int64(t)), true
	case int64:
		return Int(t), true
	case uint8:
		return Int(int64(t)), true
	case uint16:
		return Int(int64(t)), true
	case uint32:
		return Int(int64(t)), true
	case uint:
		if uint64(t) <= math.MaxInt64 {
			return Int(int64(t)), true
		}
	case uint64:
		if t <= math.MaxInt64 {
			return Int(int64(t)), true
		}
	case float32:
		return Float(float64(t)), true
	case float64:
		return Float(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), true
		}
		if f, err := t.Float64(); err == nil {
			return Float(f), true
		}
	case Record:
		return Map(t), true
	case *Record:
		if t != nil {
			return Map(*t), true
		}
	case map[string]any:
		clean := true
		r := RecordFromMap(t, func(string, any) { clean = false })
		return Map(r), clean
	}
	return String(fmt.Sprint(x)), false
}

// RecordFromMap builds a record from a native map with fields in lexical
// order. onFallback, when set, is called for every field (nested fields use
// dotted names) that went through the string fallback.
func RecordFromMap(m map[string]any, onFallback func(name string, value any)) Record {
	return recordFromMap("", m, onFallback)
}

func recordFromMap(prefix string, m map[string]any, onFallback func(string, any)) Record {
	r := Record{
		fields: make([]Field, 0, len(m)),
		index:  make(map[string]int, len(m)),
	}
	for _, name := range sortedNames(m) {
		x := m[name]
		if nested, isMap := x.(map[string]any); isMap {
			r.set(name, Value{kind: KindMap, m: recordFromMap(prefix+name+".", nested, onFallback)})
			continue
		}
		v, ok := FromNative(x)
		if !ok && onFallback != nil {
			onFallback(prefix+name, x)
		}
		r.set(name, v)
	}
	return r
}
