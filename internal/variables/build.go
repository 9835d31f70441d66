package variables

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/varflow/pkg/schema"
)

// Build infers the value type from a raw payload and returns a Variable.
// Used for user inputs and node outputs, where no type is declared.
func Build(name string, value any, opts ...Option) (Variable, error) {
	t, normalized, err := Infer(value)
	if err != nil {
		return Variable{}, err
	}
	return New(name, t, normalized, opts...)
}

// Infer returns the value type for a raw payload and the payload normalised
// to that type's Go representation.
func Infer(value any) (ValueType, any, error) {
	switch v := value.(type) {
	case nil:
		return TypeNone, nil, nil
	case string:
		return TypeString, v, nil
	case map[string]any:
		return TypeObject, v, nil
	case []string:
		return TypeArrayString, v, nil
	case []float64:
		return TypeArrayNumber, v, nil
	case []map[string]any:
		return TypeArrayObject, v, nil
	case []any:
		return inferSlice(v)
	}
	if f, ok := toFloat(value); ok {
		return TypeNumber, f, nil
	}
	return "", nil, schema.NewErrorf(schema.ErrCodeTypeMismatch, "unsupported value of type %T", value)
}

func inferSlice(items []any) (ValueType, any, error) {
	if len(items) == 0 {
		return TypeArrayAny, []any{}, nil
	}
	switch items[0].(type) {
	case string:
		if out, err := coerceStrings(items); err == nil {
			return TypeArrayString, out, nil
		}
	case map[string]any:
		if out, err := coerceObjects(items); err == nil {
			return TypeArrayObject, out, nil
		}
	default:
		if out, err := coerceNumbers(items); err == nil {
			return TypeArrayNumber, out, nil
		}
	}
	return TypeArrayAny, items, nil
}

// Coerce converts value to the Go payload for t. nil coerces to the empty
// form of t. JSON-decoded shapes ([]any, float64, json.Number) are accepted.
func Coerce(t ValueType, value any) (any, error) {
	if value == nil {
		return EmptyValue(t), nil
	}
	if t.Matches(value) {
		return value, nil
	}
	switch t {
	case TypeNumber:
		if f, ok := toFloat(value); ok {
			return f, nil
		}
	case TypeArrayAny:
		if items, ok := AsSlice(value); ok {
			return items, nil
		}
	case TypeArrayString:
		if items, ok := AsSlice(value); ok {
			return coerceStrings(items)
		}
	case TypeArrayNumber:
		if items, ok := AsSlice(value); ok {
			return coerceNumbers(items)
		}
	case TypeArrayObject:
		if items, ok := AsSlice(value); ok {
			return coerceObjects(items)
		}
	}
	return nil, mismatch(t, value)
}

// DecodeValue decodes a JSON payload stored for a variable of type t.
func DecodeValue(t ValueType, raw []byte) (any, error) {
	if len(raw) == 0 {
		return EmptyValue(t), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s value: %w", t, err)
	}
	return Coerce(t, v)
}

// AsSlice widens any supported array payload to []any.
func AsSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func coerceStrings(items []any) ([]string, error) {
	out := make([]string, len(items))
	for i, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, mismatch(TypeArrayString, items)
		}
		out[i] = s
	}
	return out, nil
}

func coerceNumbers(items []any) ([]float64, error) {
	out := make([]float64, len(items))
	for i, it := range items {
		f, ok := toFloat(it)
		if !ok {
			return nil, mismatch(TypeArrayNumber, items)
		}
		out[i] = f
	}
	return out, nil
}

func coerceObjects(items []any) ([]map[string]any, error) {
	out := make([]map[string]any, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, mismatch(TypeArrayObject, items)
		}
		out[i] = m
	}
	return out, nil
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func mismatch(t ValueType, value any) error {
	return schema.NewErrorf(schema.ErrCodeTypeMismatch, "value of type %T is not a valid %s payload", value, t)
}
