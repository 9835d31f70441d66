package validation

import "github.com/rendis/varflow/pkg/schema"

// GraphValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node types, edge endpoints, declarations, assigner selectors)
// 3. DAG (cycles, reachability)
type GraphValidator struct {
	jsonSchema *JSONSchemaValidator
	types      NodeTypeLookup
}

// NewGraphValidator creates a GraphValidator.
// lookup may be nil to skip node type checks.
func NewGraphValidator(lookup NodeTypeLookup) (*GraphValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{
		jsonSchema: jsv,
		types:      lookup,
	}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (gv *GraphValidator) Validate(cfg *schema.GraphConfig) *schema.ValidationResult {
	if cfg == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "graph config is nil")
		return r
	}

	result := validateStructural(gv.jsonSchema, cfg)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(cfg, gv.types))

	// Skip DAG if semantic errors; the graph may be invalid.
	if result.Valid() {
		result.Merge(validateDAG(cfg))
	}

	return result
}

// ValidateGraph satisfies the Validator interface.
func (gv *GraphValidator) ValidateGraph(cfg *schema.GraphConfig) error {
	return gv.Validate(cfg).ToError()
}

// ValidateData delegates to the underlying JSONSchemaValidator.
func (gv *GraphValidator) ValidateData(doc map[string]any, dataSchema []byte) error {
	return gv.jsonSchema.ValidateData(doc, dataSchema)
}

// SetNodeTypes replaces the node type lookup. It lets a registry that
// itself validates data through this validator be wired in afterwards.
func (gv *GraphValidator) SetNodeTypes(lookup NodeTypeLookup) {
	gv.types = lookup
}

// validateStructural wraps JSONSchemaValidator.ValidateGraph, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, cfg *schema.GraphConfig) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateGraph(cfg)
	if err == nil {
		return result
	}

	verr, ok := err.(*schema.VarflowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if verr.Details != nil {
		if violations, ok := verr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, verr.Message)
	return result
}
