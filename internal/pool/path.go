package pool

import (
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/varflow/internal/variables"
)

var (
	getpathOnce sync.Once
	getpathCode *gojq.Code
	getpathErr  error
)

// getpath returns the compiled `getpath($path)` program, shared across pools.
// Compiled code is safe for concurrent use.
func getpath() (*gojq.Code, error) {
	getpathOnce.Do(func() {
		query, err := gojq.Parse("getpath($path)")
		if err != nil {
			getpathErr = err
			return
		}
		getpathCode, getpathErr = gojq.Compile(query,
			gojq.WithVariables([]string{"$path"}),
			gojq.WithEnvironLoader(func() []string { return nil }),
		)
	})
	return getpathCode, getpathErr
}

// resolveAttribute descends into an object payload along sel[2:].
// Missing keys, non-object payloads and null results are all absent.
func resolveAttribute(v variables.Variable, sel variables.Selector) (variables.Variable, bool) {
	obj, ok := v.Value.(map[string]any)
	if !ok {
		return variables.Variable{}, false
	}
	code, err := getpath()
	if err != nil {
		return variables.Variable{}, false
	}

	path := make([]any, 0, len(sel)-2)
	for _, seg := range sel[2:] {
		path = append(path, seg)
	}

	iter := code.Run(normalizeForJQ(obj), path)
	result, ok := iter.Next()
	if !ok || result == nil {
		return variables.Variable{}, false
	}
	if _, isErr := result.(error); isErr {
		return variables.Variable{}, false
	}

	attr, err := variables.Build(sel[len(sel)-1], result, variables.WithSelector(sel))
	if err != nil {
		return variables.Variable{}, false
	}
	return attr, true
}

// normalizeForJQ converts typed Go slices to []any, which is the only
// array shape gojq accepts.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForJQ(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []float64:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return v
	}
}
