package variables

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/varflow/pkg/schema"
)

func TestInfer(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		wantType ValueType
		want     any
	}{
		{"nil", nil, TypeNone, nil},
		{"string", "a", TypeString, "a"},
		{"int", 7, TypeNumber, float64(7)},
		{"json number", json.Number("1.5"), TypeNumber, 1.5},
		{"object", map[string]any{"a": 1.0}, TypeObject, map[string]any{"a": 1.0}},
		{"strings", []any{"a", "b"}, TypeArrayString, []string{"a", "b"}},
		{"numbers", []any{1.0, 2}, TypeArrayNumber, []float64{1, 2}},
		{"objects", []any{map[string]any{}}, TypeArrayObject, []map[string]any{{}}},
		{"mixed", []any{"a", 1.0}, TypeArrayAny, []any{"a", 1.0}},
		{"empty", []any{}, TypeArrayAny, []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, got, err := Infer(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInfer_Unsupported(t *testing.T) {
	_, _, err := Infer(true)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeTypeMismatch))
}

func TestBuild(t *testing.T) {
	v, err := Build("answer", []any{"x"}, WithSelector(Selector{"llm", "answer"}))
	require.NoError(t, err)
	assert.Equal(t, TypeArrayString, v.ValueType)
	assert.Equal(t, Selector{"llm", "answer"}, v.Selector)
	assert.True(t, v.Consistent())
}

func TestDecodeValue(t *testing.T) {
	got, err := DecodeValue(TypeArrayString, []byte(`["a","b"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = DecodeValue(TypeObject, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, got)

	_, err = DecodeValue(TypeNumber, []byte(`"nope"`))
	assert.Error(t, err)
}

func TestEmptyValue(t *testing.T) {
	for _, vt := range []ValueType{TypeString, TypeSecret, TypeNumber, TypeObject,
		TypeArrayAny, TypeArrayString, TypeArrayNumber, TypeArrayObject, TypeNone} {
		assert.True(t, vt.Matches(EmptyValue(vt)), "empty form of %s must match its type", vt)
	}
	assert.Equal(t, []string{}, EmptyValue(TypeArrayString))
	assert.Equal(t, "", EmptyValue(TypeString))
}

func TestValueType_Array(t *testing.T) {
	assert.True(t, TypeArrayString.IsArray())
	assert.True(t, TypeArrayAny.IsArray())
	assert.False(t, TypeObject.IsArray())
	assert.Equal(t, TypeString, TypeArrayString.ElementType())
	assert.Equal(t, ValueType(""), TypeArrayAny.ElementType())
}
