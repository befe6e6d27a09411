package codec

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNative(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind Kind
		ok   bool
	}{
		{"string", "x", KindString, true},
		{"bool true", true, KindBoolean, true},
		{"bool false", false, KindBoolean, true},
		{"int", 5, KindInteger, true},
		{"int8", int8(-3), KindInteger, true},
		{"uint32", uint32(9), KindInteger, true},
		{"uint64 in range", uint64(10), KindInteger, true},
		{"uint64 overflow", uint64(math.MaxUint64), KindString, false},
		{"float32", float32(1.5), KindFloat, true},
		{"float64", 2.5, KindFloat, true},
		{"json int", json.Number("12"), KindInteger, true},
		{"json float", json.Number("1.25"), KindFloat, true},
		{"record", NewRecord(F("a", Int(1))), KindMap, true},
		{"map", map[string]any{"a": 1}, KindMap, true},
		{"value passthrough", Bool(true), KindBoolean, true},
		{"time fallback", time.Unix(0, 0).UTC(), KindString, false},
		{"nil fallback", nil, KindString, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := FromNative(tt.in)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestFromNative_BoolStaysBoolean(t *testing.T) {
	v, ok := FromNative(false)
	require.True(t, ok)
	w := Encode(v)
	assert.NotNil(t, w.BooleanValue)
	assert.Nil(t, w.IntegerValue)
}

func TestRecordFromMap_ReportsFallbacks(t *testing.T) {
	var fallbacks []string
	rec := RecordFromMap(map[string]any{
		"name":    "A",
		"active":  true,
		"created": time.Unix(0, 0).UTC(),
		"meta":    map[string]any{"ch": make(chan int)},
	}, func(name string, _ any) { fallbacks = append(fallbacks, name) })

	assert.Equal(t, []string{"active", "created", "meta", "name"}, rec.Names())
	assert.ElementsMatch(t, []string{"created", "meta.ch"}, fallbacks)

	active, _ := rec.Get("active")
	assert.Equal(t, KindBoolean, active.Kind())
}

func TestRecord_WithIsCopy(t *testing.T) {
	base := NewRecord(F("a", Int(1)))
	next := base.With("b", Bool(true)).With("a", Int(2))

	assert.Equal(t, 1, base.Len())
	a, _ := base.Get("a")
	assert.True(t, a.Equal(Int(1)))

	assert.Equal(t, []string{"a", "b"}, next.Names())
	a, _ = next.Get("a")
	assert.True(t, a.Equal(Int(2)))
}

func TestNewRecord_DuplicateKeepsPosition(t *testing.T) {
	r := NewRecord(F("x", Int(1)), F("y", Int(2)), F("x", Int(3)))
	assert.Equal(t, []string{"x", "y"}, r.Names())
	x, _ := r.Get("x")
	assert.True(t, x.Equal(Int(3)))
}
