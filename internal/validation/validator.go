package validation

import "github.com/rendis/varflow/pkg/schema"

// Validator checks graph documents before execution and node data blocks
// at construction. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateGraph(cfg *schema.GraphConfig) error
	ValidateData(doc map[string]any, dataSchema []byte) error
}

// NodeTypeLookup reports whether a node type has an implementation.
// nodes.Registry satisfies it.
type NodeTypeLookup interface {
	Has(t schema.NodeType) bool
}
