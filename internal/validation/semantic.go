package validation

import (
	"fmt"

	"github.com/rendis/varflow/internal/nodes/assigner"
	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// validateSemantic checks references the JSON Schema cannot express:
// unique node ids, registered node types, edge endpoints, declared variables
// and the selectors assigner nodes point at.
func validateSemantic(cfg *schema.GraphConfig, lookup NodeTypeLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(cfg.Nodes))
	starts := 0
	for i, n := range cfg.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if nodeIDs[n.ID] {
			result.AddError(path+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = true
		if isReservedScope(n.ID) {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("node id %q collides with a reserved scope", n.ID))
		}
		if n.Data.Type == schema.NodeTypeStart {
			starts++
		}
		if lookup != nil && !lookup.Has(n.Data.Type) {
			result.AddError(path+".data.type", schema.ErrCodeValidation,
				fmt.Sprintf("node type %q not registered", n.Data.Type))
		}
	}
	if starts > 1 {
		result.AddError("nodes", schema.ErrCodeValidation, fmt.Sprintf("graph has %d start nodes", starts))
	}

	for i, e := range cfg.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Target))
		}
		if e.Source == e.Target {
			result.AddError(path, schema.ErrCodeCycleDetected,
				fmt.Sprintf("node %q has an edge to itself", e.Source))
		}
	}

	declared := map[string]map[string]variables.ValueType{
		variables.ScopeConversation: validateDeclarations("conversation_variables", cfg.ConversationVariables, result),
		variables.ScopeEnvironment:  validateDeclarations("environment_variables", cfg.EnvironmentVariables, result),
	}

	for i, n := range cfg.Nodes {
		if n.Data.Type == schema.NodeTypeAssigner {
			validateAssigner(n, fmt.Sprintf("nodes[%d].data", i), nodeIDs, declared, result)
		}
	}

	return result
}

// validateDeclarations checks names are unique and default values match
// their declared type. It returns the declared name to type map.
func validateDeclarations(path string, specs []schema.VariableSpec, result *schema.ValidationResult) map[string]variables.ValueType {
	names := make(map[string]variables.ValueType, len(specs))
	for i, spec := range specs {
		p := fmt.Sprintf("%s[%d]", path, i)
		if _, dup := names[spec.Name]; dup {
			result.AddError(p+".name", schema.ErrCodeValidation, fmt.Sprintf("duplicate variable %q", spec.Name))
			continue
		}
		t := variables.ValueType(spec.ValueType)
		names[spec.Name] = t
		if _, err := variables.New(spec.Name, t, spec.Value); err != nil {
			result.AddError(p+".value", schema.ErrCodeTypeMismatch,
				fmt.Sprintf("default for %q does not match %s", spec.Name, t))
		}
	}
	return names
}

func validateAssigner(n schema.NodeConfig, path string, nodeIDs map[string]bool, declared map[string]map[string]variables.ValueType, result *schema.ValidationResult) {
	data, err := assigner.DecodeData(n.Data.Raw)
	if err != nil {
		return // data schema reports malformed blocks
	}

	target := data.AssignedVariableSelector
	if len(target) != variables.MinSelectorLength {
		result.AddError(path+".assigned_variable_selector", schema.ErrCodeInvalidSelector,
			fmt.Sprintf("assigned variable selector %s must be [scope, name]", target))
	} else if names, ok := declared[target.Scope()]; ok {
		t, exists := names[target.Name()]
		if !exists {
			result.AddError(path+".assigned_variable_selector", schema.ErrCodeResolution,
				fmt.Sprintf("%s variable %q is not declared", target.Scope(), target.Name()))
		}
		if exists && data.WriteMode == string(assigner.WriteModeAppend) && !t.IsArray() {
			result.AddError(path+".write_mode", schema.ErrCodeAppendOnNonArray,
				fmt.Sprintf("cannot append to %s variable %q", t, target.Name()))
		}
	}

	mode, err := assigner.ParseWriteMode(data.WriteMode)
	if err != nil {
		result.AddError(path+".write_mode", schema.ErrCodeUnsupportedMode,
			fmt.Sprintf("unsupported write mode %q", data.WriteMode))
		return
	}
	if !mode.NeedsInput() {
		return
	}
	in := data.InputVariableSelector
	if !in.Valid() {
		result.AddError(path+".input_variable_selector", schema.ErrCodeInvalidSelector,
			fmt.Sprintf("write mode %s requires an input selector", mode))
		return
	}
	if !isReservedScope(in.Scope()) && !nodeIDs[in.Scope()] {
		result.AddWarning(path+".input_variable_selector", schema.ErrCodeResolution,
			fmt.Sprintf("input selector %s does not name a node or scope", in))
	}
}

func isReservedScope(s string) bool {
	switch s {
	case variables.ScopeSystem, variables.ScopeEnvironment, variables.ScopeConversation, variables.ScopeUserInputs:
		return true
	}
	return false
}
