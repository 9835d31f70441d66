// Package expressions evaluates expr-lang guard expressions against
// variable values.
package expressions

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// Evaluator compiles and runs expr-lang expressions. It supports array
// builtins (len, filter, any, all, count), nil coalescing (??), optional
// chaining (?.) and pipes (|).
// Compiled programs are cached and safe to share across goroutines.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates an Evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Check compiles expression without running it.
func (e *Evaluator) Check(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs expression with env as its top-level variables.
func (e *Evaluator) Evaluate(expression string, env map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"evaluate %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// EvaluateBool runs expression and requires a boolean result.
func (e *Evaluator) EvaluateBool(expression string, env map[string]any) (bool, error) {
	out, err := e.Evaluate(expression, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"expression %q returned %T, want bool", expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expression")
	}

	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	e.cache[expression] = prg
	return prg, nil
}

// Env maps each scope to its variables' plain values, so a guard can say
// `len(conversation.history) < 10`.
func Env(scopes map[string][]variables.Variable) map[string]any {
	env := make(map[string]any, len(scopes))
	for scope, vars := range scopes {
		values := make(map[string]any, len(vars))
		for _, v := range vars {
			values[v.Name] = v.ToObject()
		}
		env[scope] = values
	}
	return env
}
