package codec

import (
	"encoding/json"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_BooleanNeverInteger(t *testing.T) {
	for _, b := range []bool{true, false} {
		w := Encode(Bool(b))
		require.NotNil(t, w.BooleanValue, "bool %v", b)
		assert.Equal(t, b, *w.BooleanValue)
		assert.Nil(t, w.IntegerValue, "bool %v leaked into integerValue", b)
		assert.Equal(t, KeyBoolean, w.Type())

		got := Decode(w)
		assert.Equal(t, KindBoolean, got.Kind())
		v, ok := got.AsBool()
		assert.True(t, ok)
		assert.Equal(t, b, v)
	}
}

func TestEncode_IntegerIsDecimalString(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, math.MaxInt64, math.MinInt64} {
		w := Encode(Int(n))
		require.NotNil(t, w.IntegerValue)
		assert.Equal(t, strconv.FormatInt(n, 10), *w.IntegerValue)
		assert.Nil(t, w.BooleanValue)

		raw, err := json.Marshal(w)
		require.NoError(t, err)
		assert.JSONEq(t, `{"integerValue":"`+strconv.FormatInt(n, 10)+`"}`, string(raw))
	}
}

func TestRoundTrip_AllKinds(t *testing.T) {
	nested := NewRecord(
		F("inner", String("x")),
		F("deeper", Map(NewRecord(F("flag", Bool(false)), F("n", Int(7))))),
	)
	values := []Value{
		String(""),
		String("hello"),
		Bool(true),
		Bool(false),
		Int(0),
		Int(-12345),
		Float(0),
		Float(3.25),
		Float(-1e300),
		Float(math.NaN()),
		Float(math.Inf(1)),
		Float(math.Inf(-1)),
		Map(NewRecord()),
		Map(nested),
	}
	for _, v := range values {
		t.Run(v.Kind().String()+"/"+v.String(), func(t *testing.T) {
			assert.True(t, Decode(Encode(v)).Equal(v))

			// and across the JSON boundary
			raw, err := json.Marshal(Encode(v))
			require.NoError(t, err)
			var w WireValue
			require.NoError(t, json.Unmarshal(raw, &w))
			assert.True(t, Decode(w).Equal(v), "json round trip of %s", raw)
		})
	}
}

func TestEncodeRecord_BooleanFieldPayload(t *testing.T) {
	rec := NewRecord(F("name", String("B")), F("active", Bool(false)))

	raw, err := json.Marshal(map[string]any{"fields": EncodeRecord(rec)})
	require.NoError(t, err)

	assert.Contains(t, string(raw), `"active":{"booleanValue":false}`)
	assert.NotContains(t, string(raw), `"integerValue":"0"`)
}

func TestDecode_PresenceNotZeroValue(t *testing.T) {
	var w WireValue
	require.NoError(t, json.Unmarshal([]byte(`{"booleanValue":false}`), &w))
	assert.Equal(t, KindBoolean, Decode(w).Kind())

	require.NoError(t, json.Unmarshal([]byte(`{"integerValue":"0"}`), &w))
	assert.Equal(t, KindInteger, Decode(w).Kind())

	require.NoError(t, json.Unmarshal([]byte(`{"doubleValue":1}`), &w))
	got := Decode(w)
	assert.Equal(t, KindFloat, got.Kind())
	f, _ := got.AsFloat()
	assert.Equal(t, 1.0, f)
}

func TestDecode_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"timestamp content", `{"timestampValue":"2024-01-02T03:04:05Z"}`, "2024-01-02T03:04:05Z"},
		{"null value", `{"nullValue":null}`, ""},
		{"array raw json", `{"arrayValue":{"values":[]}}`, `{"values":[]}`},
		{"empty object", `{}`, ""},
		{"integer not decimal", `{"integerValue":"12abc"}`, "12abc"},
		{"integer overflow", `{"integerValue":"99999999999999999999"}`, "99999999999999999999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w WireValue
			require.NoError(t, json.Unmarshal([]byte(tt.in), &w))
			got := Decode(w)
			s, ok := got.AsString()
			require.True(t, ok, "expected string fallback, got %s", got.Kind())
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestDecode_IntegerAsJSONNumber(t *testing.T) {
	var w WireValue
	require.NoError(t, json.Unmarshal([]byte(`{"integerValue":42}`), &w))
	n, ok := Decode(w).AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), n)
}

func TestDecodeRecord_Nested(t *testing.T) {
	doc := `{
		"name": {"stringValue": "A"},
		"active": {"booleanValue": true},
		"qty": {"integerValue": "3"},
		"price": {"doubleValue": 2.5},
		"meta": {"mapValue": {"fields": {"ok": {"booleanValue": false}}}}
	}`
	var fields map[string]WireValue
	require.NoError(t, json.Unmarshal([]byte(doc), &fields))

	rec := DecodeRecord(fields)
	assert.Equal(t, []string{"active", "meta", "name", "price", "qty"}, rec.Names())

	want := NewRecord(
		F("name", String("A")),
		F("active", Bool(true)),
		F("qty", Int(3)),
		F("price", Float(2.5)),
		F("meta", Map(NewRecord(F("ok", Bool(false))))),
	)
	assert.True(t, rec.Equal(want))
}

func TestEncode_InvalidFallsBackToString(t *testing.T) {
	w := Encode(Value{})
	require.NotNil(t, w.StringValue)
	assert.Equal(t, "", *w.StringValue)
}

func TestDouble_NonFiniteWireForms(t *testing.T) {
	raw, err := json.Marshal(Encode(Float(math.Inf(-1))))
	require.NoError(t, err)
	assert.JSONEq(t, `{"doubleValue":"-Infinity"}`, string(raw))

	var d Double
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &d))
	require.NoError(t, json.Unmarshal([]byte(`"1.5"`), &d))
	assert.Equal(t, Double(1.5), d)
}
