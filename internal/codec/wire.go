package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Wire type keys.
const (
	KeyString  = "stringValue"
	KeyBoolean = "booleanValue"
	KeyInteger = "integerValue"
	KeyDouble  = "doubleValue"
	KeyMap     = "mapValue"
)

// WireValue is the store's tagged JSON representation of a value, e.g.
// {"booleanValue": true} or {"integerValue": "42"}.
//
// Exactly one member is expected to be set. Members this codec does not
// understand (timestampValue, nullValue, ...) are kept in Other.
type WireValue struct {
	StringValue  *string
	BooleanValue *bool
	IntegerValue *string // decimal string, as sent on the wire
	DoubleValue  *Double
	MapValue     *MapValue
	Other        map[string]json.RawMessage
}

// MapValue is the wire form of a nested record.
type MapValue struct {
	Fields map[string]WireValue `json:"fields,omitempty"`
}

// Type returns the wire type key carried by w, or "" for an empty value.
func (w WireValue) Type() string {
	switch {
	case w.StringValue != nil:
		return KeyString
	case w.IntegerValue != nil:
		return KeyInteger
	case w.DoubleValue != nil:
		return KeyDouble
	case w.BooleanValue != nil:
		return KeyBoolean
	case w.MapValue != nil:
		return KeyMap
	}
	if len(w.Other) > 0 {
		return sortedNames(w.Other)[0]
	}
	return ""
}

// MarshalJSON emits the single tagged member.
func (w WireValue) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 1+len(w.Other))
	for k, v := range w.Other {
		out[k] = v
	}
	if w.StringValue != nil {
		out[KeyString] = *w.StringValue
	}
	if w.BooleanValue != nil {
		out[KeyBoolean] = *w.BooleanValue
	}
	if w.IntegerValue != nil {
		out[KeyInteger] = *w.IntegerValue
	}
	if w.DoubleValue != nil {
		out[KeyDouble] = *w.DoubleValue
	}
	if w.MapValue != nil {
		out[KeyMap] = w.MapValue
	}
	return json.Marshal(out)
}

// UnmarshalJSON records which members are present so Decode can branch on
// presence rather than on zero values.
func (w *WireValue) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return fmt.Errorf("wire value: %w", err)
	}
	*w = WireValue{}
	for key, raw := range members {
		switch key {
		case KeyString:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("wire value %s: %w", key, err)
			}
			w.StringValue = &s
		case KeyBoolean:
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return fmt.Errorf("wire value %s: %w", key, err)
			}
			w.BooleanValue = &b
		case KeyInteger:
			s := rawScalar(raw)
			w.IntegerValue = &s
		case KeyDouble:
			var d Double
			if err := json.Unmarshal(raw, &d); err != nil {
				return fmt.Errorf("wire value %s: %w", key, err)
			}
			w.DoubleValue = &d
		case KeyMap:
			var m MapValue
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("wire value %s: %w", key, err)
			}
			w.MapValue = &m
		default:
			if w.Other == nil {
				w.Other = make(map[string]json.RawMessage)
			}
			w.Other[key] = raw
		}
	}
	return nil
}

// rawScalar returns the content of a JSON string, "" for null, and the raw
// JSON text for anything else.
func rawScalar(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

// Double is a wire double. Non-finite values travel as the strings "NaN",
// "Infinity" and "-Infinity".
type Double float64

func (d Double) MarshalJSON() ([]byte, error) {
	f := float64(d)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(f)
}

func (d *Double) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*d = Double(math.NaN())
		case "Infinity":
			*d = Double(math.Inf(1))
		case "-Infinity":
			*d = Double(math.Inf(-1))
		default:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid double %q", s)
			}
			*d = Double(f)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*d = Double(f)
	return nil
}
