package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/varflow/pkg/schema"
)

func TestSemantic_Valid(t *testing.T) {
	result := validateSemantic(validGraph(), newMockLookup(schema.NodeTypeStart, schema.NodeTypeAssigner))
	assert.True(t, result.Valid(), result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestSemantic_UnknownNodeType(t *testing.T) {
	result := validateSemantic(validGraph(), newMockLookup(schema.NodeTypeStart))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "nodes[1].data.type", result.Errors[0].Path)
}

func TestSemantic_NilLookupSkipsTypeCheck(t *testing.T) {
	cfg := validGraph()
	cfg.Nodes[0].Data.Type = "mystery"
	result := validateSemantic(cfg, nil)
	assert.True(t, result.Valid())
}

func TestSemantic_DuplicateAndReservedIDs(t *testing.T) {
	cfg := validGraph()
	cfg.Nodes = append(cfg.Nodes, startNode("sys"), assignerNode("assign", map[string]any{
		"assigned_variable_selector": []string{"conversation", "history"},
		"write_mode":                 "clear",
	}))
	result := validateSemantic(cfg, nil)

	var msgs []string
	for _, e := range result.Errors {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, `duplicate node id "assign"`)
	assert.Contains(t, msgs, `node id "sys" collides with a reserved scope`)
	assert.Contains(t, msgs, "graph has 2 start nodes")
}

func TestSemantic_EdgeReferences(t *testing.T) {
	cfg := validGraph()
	cfg.Edges = append(cfg.Edges, edge("assign", "ghost"), edge("assign", "assign"))
	result := validateSemantic(cfg, nil)

	codes := issueCodes(result.Errors)
	assert.Contains(t, codes, schema.ErrCodeValidation)
	assert.Contains(t, codes, schema.ErrCodeCycleDetected)
}

func TestSemantic_Declarations(t *testing.T) {
	cfg := validGraph()
	cfg.ConversationVariables = append(cfg.ConversationVariables,
		schema.VariableSpec{Name: "history", ValueType: "string"},
		schema.VariableSpec{Name: "count", ValueType: "number", Value: "many"},
	)
	result := validateSemantic(cfg, nil)

	require.Len(t, result.Errors, 2)
	assert.Equal(t, "conversation_variables[1].name", result.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeTypeMismatch, result.Errors[1].Code)
}

func TestSemantic_Assigner(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		errCode  string
		warnCode string
	}{
		{
			name: "undeclared conversation target",
			data: map[string]any{
				"assigned_variable_selector": []string{"conversation", "missing"},
				"write_mode":                 "clear",
			},
			errCode: schema.ErrCodeResolution,
		},
		{
			name: "append to scalar",
			data: map[string]any{
				"assigned_variable_selector": []string{"conversation", "name"},
				"write_mode":                 "append",
				"input_variable_selector":    []string{"sys", "query"},
			},
			errCode: schema.ErrCodeAppendOnNonArray,
		},
		{
			name: "unknown write mode",
			data: map[string]any{
				"assigned_variable_selector": []string{"conversation", "name"},
				"write_mode":                 "merge",
			},
			errCode: schema.ErrCodeUnsupportedMode,
		},
		{
			name: "overwrite without input",
			data: map[string]any{
				"assigned_variable_selector": []string{"conversation", "name"},
				"write_mode":                 "over_write",
			},
			errCode: schema.ErrCodeInvalidSelector,
		},
		{
			name: "target too long",
			data: map[string]any{
				"assigned_variable_selector": []string{"conversation", "name", "first"},
				"write_mode":                 "clear",
			},
			errCode: schema.ErrCodeInvalidSelector,
		},
		{
			name: "input from unknown node",
			data: map[string]any{
				"assigned_variable_selector": []string{"conversation", "name"},
				"write_mode":                 "over-write",
				"input_variable_selector":    []string{"llm", "text"},
			},
			warnCode: schema.ErrCodeResolution,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &schema.GraphConfig{
				Nodes: []schema.NodeConfig{startNode("start"), assignerNode("assign", tt.data)},
				Edges: []schema.EdgeConfig{edge("start", "assign")},
				ConversationVariables: []schema.VariableSpec{
					{Name: "name", ValueType: "string"},
				},
			}
			result := validateSemantic(cfg, nil)
			if tt.errCode != "" {
				assert.Contains(t, issueCodes(result.Errors), tt.errCode)
			} else {
				assert.True(t, result.Valid(), result.Errors)
			}
			if tt.warnCode != "" {
				assert.Contains(t, issueCodes(result.Warnings), tt.warnCode)
			}
		})
	}
}
