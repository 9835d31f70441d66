package validation

import (
	"encoding/json"

	"github.com/rendis/varflow/pkg/schema"
)

type mockLookup map[schema.NodeType]bool

func newMockLookup(types ...schema.NodeType) mockLookup {
	m := mockLookup{}
	for _, t := range types {
		m[t] = true
	}
	return m
}

func (m mockLookup) Has(t schema.NodeType) bool { return m[t] }

func startNode(id string) schema.NodeConfig {
	return schema.NodeConfig{ID: id, Data: schema.NodeData{
		Type: schema.NodeTypeStart,
		Raw:  json.RawMessage(`{"type":"start","title":"Start"}`),
	}}
}

func assignerNode(id string, data map[string]any) schema.NodeConfig {
	data["type"] = "assigner"
	raw, _ := json.Marshal(data)
	return schema.NodeConfig{ID: id, Data: schema.NodeData{Type: schema.NodeTypeAssigner, Raw: raw}}
}

func edge(src, dst string) schema.EdgeConfig {
	return schema.EdgeConfig{ID: src + "-" + dst, Source: src, Target: dst}
}

// validGraph is a start node feeding one assigner that appends the query
// to a declared conversation array.
func validGraph() *schema.GraphConfig {
	return &schema.GraphConfig{
		Nodes: []schema.NodeConfig{
			startNode("start"),
			assignerNode("assign", map[string]any{
				"assigned_variable_selector": []string{"conversation", "history"},
				"write_mode":                 "append",
				"input_variable_selector":    []string{"sys", "query"},
			}),
		},
		Edges: []schema.EdgeConfig{edge("start", "assign")},
		ConversationVariables: []schema.VariableSpec{
			{Name: "history", ValueType: "array[string]", Value: []any{}},
		},
	}
}

func issueCodes(issues []schema.ValidationIssue) []string {
	var out []string
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}
