// Package diagram renders graphs, optionally overlaid with the node states
// of a run, as Mermaid, ASCII or graphviz images.
package diagram

import "github.com/rendis/varflow/pkg/schema"

// NodeKind classifies a diagram node by its node type.
type NodeKind string

const (
	NodeKindStart    NodeKind = "start"
	NodeKindAssigner NodeKind = "assigner"
	NodeKindOther    NodeKind = "other"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one graph node.
type Node struct {
	ID     string
	Label  string
	Detail string // e.g. "append conversation.history <- start.message"
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the run state of a node.
type StatusOverlay struct {
	Status     schema.NodeStatus
	DurationMs int64
	Error      string
}

// Edge is a dependency between two nodes.
type Edge struct {
	From string
	To   string
}

func (m *Model) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
