// Package pool implements the per-run variable store shared by every node.
package pool

import (
	"maps"
	"slices"
	"sync"

	"github.com/rendis/varflow/internal/system"
	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// Options seeds a VariablePool at construction.
type Options struct {
	System       system.SystemVariable
	UserInputs   map[string]any
	Environment  []variables.Variable
	Conversation []variables.Variable
}

// VariablePool maps selectors to Variables for the lifetime of one run.
// All methods are safe for concurrent use.
//
// Entries live under two levels: the scope segment (a reserved scope or a
// node id) and the variable name. Selectors longer than two segments are
// resolved by descending into object payloads.
type VariablePool struct {
	mu   sync.RWMutex
	vars map[string]map[string]variables.Variable

	system     system.SystemVariable
	userInputs map[string]any
}

// New builds a pool seeded with system variables, user inputs, environment
// variables and conversation variables.
func New(opts Options) (*VariablePool, error) {
	p := &VariablePool{
		vars:       make(map[string]map[string]variables.Variable),
		system:     opts.System,
		userInputs: maps.Clone(opts.UserInputs),
	}

	for key, value := range opts.System.ToMap() {
		if err := p.AddValue(variables.NewSelector(variables.ScopeSystem, key), value); err != nil {
			return nil, err
		}
	}
	for key, value := range opts.UserInputs {
		if err := p.AddValue(variables.NewSelector(variables.ScopeUserInputs, key), value); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "user input %q: %s", key, err.Error()).WithCause(err)
		}
	}
	if err := p.seed(variables.ScopeEnvironment, opts.Environment); err != nil {
		return nil, err
	}
	if err := p.seed(variables.ScopeConversation, opts.Conversation); err != nil {
		return nil, err
	}
	return p, nil
}

// seed adds declared variables under scope, stamping an address on those
// created without one.
func (p *VariablePool) seed(scope string, vars []variables.Variable) error {
	for _, v := range vars {
		sel := variables.NewSelector(scope, v.Name)
		if len(v.Selector) == 0 {
			v.Selector = sel
		}
		if err := p.Add(sel, v); err != nil {
			return err
		}
	}
	return nil
}

// Add inserts or replaces the Variable at sel. The selector must have
// exactly two segments.
func (p *VariablePool) Add(sel variables.Selector, v variables.Variable) error {
	if len(sel) != variables.MinSelectorLength || !sel.Valid() {
		return schema.NewErrorf(schema.ErrCodeInvalidSelector,
			"invalid selector %q: expected [scope, name]", sel.String())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	scope, ok := p.vars[sel[0]]
	if !ok {
		scope = make(map[string]variables.Variable)
		p.vars[sel[0]] = scope
	}
	scope[sel[1]] = v
	return nil
}

// AddValue builds a Variable from a raw payload and adds it at sel.
func (p *VariablePool) AddValue(sel variables.Selector, value any) error {
	v, err := variables.Build(sel.Name(), value, variables.WithSelector(sel))
	if err != nil {
		return err
	}
	return p.Add(sel, v)
}

// Get returns the Variable at sel. The boolean is false when the selector
// does not resolve; absence is not an error.
func (p *VariablePool) Get(sel variables.Selector) (variables.Variable, bool) {
	if !sel.Valid() {
		return variables.Variable{}, false
	}

	p.mu.RLock()
	v, ok := p.vars[sel[0]][sel[1]]
	p.mu.RUnlock()
	if !ok {
		return variables.Variable{}, false
	}
	if len(sel) == variables.MinSelectorLength {
		return v, true
	}
	return resolveAttribute(v, sel)
}

// Has reports whether sel resolves.
func (p *VariablePool) Has(sel variables.Selector) bool {
	_, ok := p.Get(sel)
	return ok
}

// SystemVariables returns the run's system facts.
func (p *VariablePool) SystemVariables() system.SystemVariable {
	return p.system
}

// UserInputs returns a copy of the inputs the pool was seeded with.
func (p *VariablePool) UserInputs() map[string]any {
	return maps.Clone(p.userInputs)
}

// Scope returns the variables held under one scope, ordered by name.
func (p *VariablePool) Scope(scope string) []variables.Variable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := slices.Sorted(maps.Keys(p.vars[scope]))
	out := make([]variables.Variable, 0, len(names))
	for _, name := range names {
		out = append(out, p.vars[scope][name])
	}
	return out
}

// Entry is one selector/variable pair in a Snapshot.
type Entry struct {
	Selector variables.Selector
	Variable variables.Variable
}

// Snapshot returns every entry ordered by scope then name.
func (p *VariablePool) Snapshot() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []Entry
	for _, scope := range slices.Sorted(maps.Keys(p.vars)) {
		for _, name := range slices.Sorted(maps.Keys(p.vars[scope])) {
			out = append(out, Entry{
				Selector: variables.NewSelector(scope, name),
				Variable: p.vars[scope][name],
			})
		}
	}
	return out
}
