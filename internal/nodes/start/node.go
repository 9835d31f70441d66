// Package start implements the entry node. It republishes the run's user
// inputs and system variables as its own outputs.
package start

import (
	"context"
	"encoding/json"
	"iter"
	"maps"

	"github.com/rendis/varflow/internal/nodes"
	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// InputSpec declares one user input the start node expects.
type InputSpec struct {
	Variable string `json:"variable"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// NodeData is the start node's data block.
type NodeData struct {
	Type      schema.NodeType `json:"type"`
	Title     string          `json:"title,omitempty"`
	Variables []InputSpec     `json:"variables,omitempty"`
}

// DataSchema constrains the start data block. Each declared input must
// name its variable.
var DataSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "const": "start" },
    "title": { "type": "string" },
    "variables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["variable"],
        "properties": {
          "variable": { "type": "string", "minLength": 1 },
          "label": { "type": "string" },
          "type": { "type": "string" },
          "required": { "type": "boolean" }
        }
      }
    }
  }
}`)

// Node is the start node.
type Node struct {
	*nodes.BaseNode
	data NodeData
}

// New builds a start node from p.
func New(p nodes.Params) (*Node, error) {
	base, err := nodes.NewBaseNode(p)
	if err != nil {
		return nil, err
	}
	var data NodeData
	if len(p.Config.Data.Raw) > 0 {
		if err := json.Unmarshal(p.Config.Data.Raw, &data); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "invalid start data").
				WithNode(p.Config.ID).WithCause(err)
		}
	}
	return &Node{BaseNode: base, data: data}, nil
}

// Kind is the registry entry for the start node.
func Kind() nodes.Kind {
	return nodes.Kind{
		Type:       schema.NodeTypeStart,
		New:        func(p nodes.Params) (nodes.Node, error) { return New(p) },
		DataSchema: DataSchema,
	}
}

func (n *Node) Run(ctx context.Context) iter.Seq[nodes.Event] {
	return n.Execute(ctx, n.run)
}

func (n *Node) run(_ context.Context, _ func(nodes.Event) bool) (*nodes.NodeRunResult, error) {
	pool := n.State.VariablePool
	inputs := pool.UserInputs()
	if inputs == nil {
		inputs = map[string]any{}
	}

	outputs := maps.Clone(inputs)
	for _, spec := range n.data.Variables {
		if _, ok := outputs[spec.Variable]; ok {
			continue
		}
		if spec.Default != nil {
			outputs[spec.Variable] = spec.Default
			continue
		}
		if spec.Required {
			return &nodes.NodeRunResult{Inputs: inputs},
				schema.NewErrorf(schema.ErrCodeValidation, "required input %q is missing", spec.Variable).WithNode(n.NodeID())
		}
	}
	for key, value := range pool.SystemVariables().ToMap() {
		outputs[variables.ScopeSystem+"."+key] = value
	}
	return nodes.Succeeded(inputs, nil, outputs), nil
}
