package nodes

import (
	"maps"
	"slices"
	"sync"

	"github.com/rendis/varflow/pkg/schema"
)

// Constructor builds a node of one kind.
type Constructor func(p Params) (Node, error)

// Kind registers a node implementation under its type discriminator.
type Kind struct {
	Type schema.NodeType
	New  Constructor
	// DataSchema is an optional JSON Schema for the node's data block.
	DataSchema []byte
}

// DataValidator checks a decoded data block against a JSON Schema.
type DataValidator interface {
	ValidateData(doc map[string]any, dataSchema []byte) error
}

// Registry selects a constructor by the config's data.type.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	kinds     map[schema.NodeType]Kind
	validator DataValidator
}

// NewRegistry creates an empty registry. validator may be nil to skip
// data-block validation.
func NewRegistry(validator DataValidator) *Registry {
	return &Registry{
		kinds:     make(map[schema.NodeType]Kind),
		validator: validator,
	}
}

// Register adds a kind. Registering the same type twice is a conflict.
func (r *Registry) Register(k Kind) error {
	if k.Type == "" || k.New == nil {
		return schema.NewError(schema.ErrCodeValidation, "node kind needs a type and a constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[k.Type]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q already registered", k.Type)
	}
	r.kinds[k.Type] = k
	return nil
}

// Has reports whether t is registered.
func (r *Registry) Has(t schema.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[t]
	return ok
}

// Types lists the registered types in sorted order.
func (r *Registry) Types() []schema.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.kinds))
}

// New validates the node's data block and constructs it.
func (r *Registry) New(p Params) (Node, error) {
	if p.Config == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "node config is nil")
	}
	r.mu.RLock()
	k, ok := r.kinds[p.Config.Data.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", p.Config.Data.Type).
			WithNode(p.Config.ID)
	}

	if r.validator != nil && len(k.DataSchema) > 0 {
		doc, err := p.Config.Data.Map()
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "node data is not an object").
				WithNode(p.Config.ID).WithCause(err)
		}
		if err := r.validator.ValidateData(doc, k.DataSchema); err != nil {
			if verr, ok := err.(*schema.VarflowError); ok {
				return nil, verr.WithNode(p.Config.ID)
			}
			return nil, err
		}
	}
	return k.New(p)
}
