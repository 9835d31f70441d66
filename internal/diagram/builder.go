package diagram

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/varflow/internal/graph"
	"github.com/rendis/varflow/internal/nodes/assigner"
	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/pkg/schema"
)

// Build constructs a Model from a graph config and optional node states,
// as returned by store.Replay. Nodes follow topological order.
func Build(title string, cfg *schema.GraphConfig, states map[string]*store.NodeState) (*Model, error) {
	g, err := graph.Init(cfg)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	m := &Model{Title: title, Levels: g.Levels}
	for _, id := range g.Sorted {
		nc := g.Nodes[id]
		n := &Node{
			ID:     id,
			Label:  nodeLabel(nc),
			Detail: nodeDetail(nc),
			Kind:   kindOf(nc.Data.Type),
		}
		if st, ok := states[id]; ok {
			n.Status = overlay(st)
		}
		m.Nodes = append(m.Nodes, n)

		for _, e := range g.Outgoing[id] {
			m.Edges = append(m.Edges, Edge{From: e.Source, To: e.Target})
		}
	}
	return m, nil
}

func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeStart:
		return NodeKindStart
	case schema.NodeTypeAssigner:
		return NodeKindAssigner
	default:
		return NodeKindOther
	}
}

func nodeLabel(nc *schema.NodeConfig) string {
	if nc.Data.Title != "" {
		return nc.Data.Title
	}
	return nc.ID
}

// nodeDetail summarises what an assigner writes.
func nodeDetail(nc *schema.NodeConfig) string {
	if nc.Data.Type != schema.NodeTypeAssigner {
		return ""
	}
	data, err := assigner.DecodeData(nc.Data.Raw)
	if err != nil {
		return ""
	}
	detail := data.WriteMode + " " + strings.Join(data.AssignedVariableSelector, ".")
	if len(data.InputVariableSelector) > 0 {
		detail += " <- " + strings.Join(data.InputVariableSelector, ".")
	}
	return detail
}

func overlay(st *store.NodeState) *StatusOverlay {
	o := &StatusOverlay{Status: st.Status, DurationMs: st.DurationMs}
	if len(st.Error) > 0 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(st.Error, &failure) == nil {
			o.Error = failure.Error
		}
	}
	return o
}
