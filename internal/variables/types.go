package variables

import "strings"

// ValueType tags the payload kind of a Variable.
type ValueType string

const (
	TypeNone        ValueType = "none"
	TypeString      ValueType = "string"
	TypeSecret      ValueType = "secret"
	TypeNumber      ValueType = "number"
	TypeObject      ValueType = "object"
	TypeArrayAny    ValueType = "array[any]"
	TypeArrayString ValueType = "array[string]"
	TypeArrayNumber ValueType = "array[number]"
	TypeArrayObject ValueType = "array[object]"
)

var knownTypes = map[ValueType]bool{
	TypeNone:        true,
	TypeString:      true,
	TypeSecret:      true,
	TypeNumber:      true,
	TypeObject:      true,
	TypeArrayAny:    true,
	TypeArrayString: true,
	TypeArrayNumber: true,
	TypeArrayObject: true,
}

// Valid reports whether t is a recognized tag.
func (t ValueType) Valid() bool {
	return knownTypes[t]
}

// IsArray reports whether t is one of the array kinds.
func (t ValueType) IsArray() bool {
	return strings.HasPrefix(string(t), "array[")
}

// ElementType returns the element tag of an array kind, or "" for scalars.
func (t ValueType) ElementType() ValueType {
	switch t {
	case TypeArrayAny:
		return ""
	case TypeArrayString:
		return TypeString
	case TypeArrayNumber:
		return TypeNumber
	case TypeArrayObject:
		return TypeObject
	}
	return ""
}

// EmptyValue returns the empty form of t: empty slice for arrays, empty
// string for string kinds, zero for numbers, empty map for objects.
func EmptyValue(t ValueType) any {
	switch t {
	case TypeString, TypeSecret:
		return ""
	case TypeNumber:
		return float64(0)
	case TypeObject:
		return map[string]any{}
	case TypeArrayAny:
		return []any{}
	case TypeArrayString:
		return []string{}
	case TypeArrayNumber:
		return []float64{}
	case TypeArrayObject:
		return []map[string]any{}
	}
	return nil
}

// Matches reports whether v is a valid Go payload for t.
func (t ValueType) Matches(v any) bool {
	switch t {
	case TypeNone:
		return v == nil
	case TypeString, TypeSecret:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeArrayAny:
		_, ok := v.([]any)
		return ok
	case TypeArrayString:
		_, ok := v.([]string)
		return ok
	case TypeArrayNumber:
		_, ok := v.([]float64)
		return ok
	case TypeArrayObject:
		_, ok := v.([]map[string]any)
		return ok
	}
	return false
}
