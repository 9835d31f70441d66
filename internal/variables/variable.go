package variables

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/rendis/varflow/pkg/schema"
)

// Variable is a type-tagged value with identity. It is immutable by
// replacement: writers build a new Variable with WithValue and never
// mutate Value in place.
type Variable struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Selector    Selector  `json:"selector,omitempty"`
	ValueType   ValueType `json:"value_type"`
	Value       any       `json:"value"`
}

// Option customizes a Variable at construction.
type Option func(*Variable)

// WithID sets an explicit id instead of a generated one.
func WithID(id string) Option {
	return func(v *Variable) { v.ID = id }
}

// WithDescription sets the description.
func WithDescription(desc string) Option {
	return func(v *Variable) { v.Description = desc }
}

// WithSelector sets the variable's own address.
func WithSelector(sel Selector) Option {
	return func(v *Variable) { v.Selector = NewSelector(sel...) }
}

// New builds a Variable of type t. The value is coerced to the Go payload
// for t (JSON-decoded slices and numbers are accepted). A fresh id is
// assigned unless WithID is given.
func New(name string, t ValueType, value any, opts ...Option) (Variable, error) {
	if !t.Valid() {
		return Variable{}, schema.NewErrorf(schema.ErrCodeTypeMismatch, "unknown value type %q", t)
	}
	coerced, err := Coerce(t, value)
	if err != nil {
		return Variable{}, err
	}
	v := Variable{Name: name, ValueType: t, Value: coerced}
	for _, opt := range opts {
		opt(&v)
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return v, nil
}

// NewString builds a string Variable.
func NewString(name, value string, opts ...Option) Variable {
	return mustNew(name, TypeString, value, opts)
}

// NewSecret builds a secret Variable.
func NewSecret(name, value string, opts ...Option) Variable {
	return mustNew(name, TypeSecret, value, opts)
}

// NewNumber builds a number Variable.
func NewNumber(name string, value float64, opts ...Option) Variable {
	return mustNew(name, TypeNumber, value, opts)
}

// NewObject builds an object Variable.
func NewObject(name string, value map[string]any, opts ...Option) Variable {
	if value == nil {
		value = map[string]any{}
	}
	return mustNew(name, TypeObject, value, opts)
}

// NewArrayString builds an array[string] Variable.
func NewArrayString(name string, value []string, opts ...Option) Variable {
	if value == nil {
		value = []string{}
	}
	return mustNew(name, TypeArrayString, value, opts)
}

// NewArrayNumber builds an array[number] Variable.
func NewArrayNumber(name string, value []float64, opts ...Option) Variable {
	if value == nil {
		value = []float64{}
	}
	return mustNew(name, TypeArrayNumber, value, opts)
}

// NewArrayObject builds an array[object] Variable.
func NewArrayObject(name string, value []map[string]any, opts ...Option) Variable {
	if value == nil {
		value = []map[string]any{}
	}
	return mustNew(name, TypeArrayObject, value, opts)
}

// NewArrayAny builds an array[any] Variable.
func NewArrayAny(name string, value []any, opts ...Option) Variable {
	if value == nil {
		value = []any{}
	}
	return mustNew(name, TypeArrayAny, value, opts)
}

func mustNew(name string, t ValueType, value any, opts []Option) Variable {
	v, err := New(name, t, value, opts...)
	if err != nil {
		// Typed constructors only pass payloads that match t.
		panic(err)
	}
	return v
}

// WithValue returns a copy carrying the same identity fields and a new value.
func (v Variable) WithValue(value any) Variable {
	out := v
	out.Selector = NewSelector(v.Selector...)
	out.Value = value
	return out
}

// ToObject returns the raw payload.
func (v Variable) ToObject() any {
	return v.Value
}

// Consistent reports whether the payload matches the declared value type.
func (v Variable) Consistent() bool {
	return v.ValueType.Matches(v.Value)
}

// Text renders the value for display. Secrets are masked.
func (v Variable) Text() string {
	switch val := v.Value.(type) {
	case nil:
		return ""
	case string:
		if v.ValueType == TypeSecret {
			return mask(val)
		}
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	b, err := json.Marshal(v.Value)
	if err != nil {
		return ""
	}
	return string(b)
}

func mask(s string) string {
	if len(s) < 8 {
		return "******"
	}
	return s[:2] + "******" + s[len(s)-2:]
}
