// Package all wires every built-in node kind into a registry.
package all

import (
	"github.com/rendis/varflow/internal/nodes"
	"github.com/rendis/varflow/internal/nodes/assigner"
	"github.com/rendis/varflow/internal/nodes/start"
)

// NewRegistry returns a registry holding the start and assigner kinds.
// validator may be nil to skip data-block validation.
func NewRegistry(validator nodes.DataValidator, opts ...assigner.Option) *nodes.Registry {
	r := nodes.NewRegistry(validator)
	for _, k := range []nodes.Kind{start.Kind(), assigner.Kind(opts...)} {
		if err := r.Register(k); err != nil {
			// Built-in kinds have distinct types.
			panic(err)
		}
	}
	return r
}
