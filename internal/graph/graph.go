// Package graph holds the static graph description and the per-run context
// handed to every node.
package graph

import (
	"fmt"
	"slices"

	"github.com/rendis/varflow/pkg/schema"
)

// Graph is the validated, indexed form of a GraphConfig.
type Graph struct {
	RootNodeID string
	Nodes      map[string]*schema.NodeConfig  // node ID → config
	Outgoing   map[string][]schema.EdgeConfig // source ID → edges
	Incoming   map[string][]schema.EdgeConfig // target ID → edges
	Sorted     []string                       // topological order
	Levels     [][]string                     // dependency levels, roots first
}

// Init indexes and validates a graph config. It checks node ids, edge
// endpoints, self loops and cycles (Kahn's algorithm), and picks the root.
func Init(cfg *schema.GraphConfig) (*Graph, error) {
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph config is nil")
	}
	if len(cfg.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph has no nodes")
	}

	g := &Graph{
		Nodes:    make(map[string]*schema.NodeConfig, len(cfg.Nodes)),
		Outgoing: make(map[string][]schema.EdgeConfig),
		Incoming: make(map[string][]schema.EdgeConfig),
	}

	for i := range cfg.Nodes {
		node := &cfg.Nodes[i]
		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("node at index %d has empty ID", i))
		}
		if _, exists := g.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}
		g.Nodes[node.ID] = node
	}

	for _, edge := range cfg.Edges {
		if _, ok := g.Nodes[edge.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s has non-existent source: %s", edge.ID, edge.Source)
		}
		if _, ok := g.Nodes[edge.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s has non-existent target: %s", edge.ID, edge.Target)
		}
		if edge.Source == edge.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s has an edge to itself", edge.Source)
		}
		g.Outgoing[edge.Source] = append(g.Outgoing[edge.Source], edge)
		g.Incoming[edge.Target] = append(g.Incoming[edge.Target], edge)
	}

	if err := g.sort(); err != nil {
		return nil, err
	}

	root, err := g.findRoot()
	if err != nil {
		return nil, err
	}
	g.RootNodeID = root
	return g, nil
}

// HasNode reports whether id names a node in the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.Nodes[id]
	return ok
}

// NodeConfig returns the config for id.
func (g *Graph) NodeConfig(id string) (*schema.NodeConfig, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// sort computes the topological order and dependency levels.
func (g *Graph) sort() error {
	inDegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = len(g.Incoming[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	slices.Sort(queue)

	sorted := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		targets := make([]string, 0, len(g.Outgoing[node]))
		for _, e := range g.Outgoing[node] {
			targets = append(targets, e.Target)
		}
		slices.Sort(targets)

		for _, t := range targets {
			inDegree[t]--
			if inDegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}

	if len(sorted) != len(g.Nodes) {
		return schema.NewError(schema.ErrCodeCycleDetected, "graph contains a cycle")
	}

	g.Sorted = sorted
	g.Levels = g.computeLevels()
	return nil
}

// computeLevels groups nodes whose sources all sit in earlier levels.
func (g *Graph) computeLevels() [][]string {
	depth := make(map[string]int, len(g.Nodes))
	maxLevel := 0
	for _, id := range g.Sorted {
		d := 0
		for _, e := range g.Incoming[id] {
			if depth[e.Source]+1 > d {
				d = depth[e.Source] + 1
			}
		}
		depth[id] = d
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range g.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// findRoot prefers the single start node; otherwise the single node with
// no incoming edges.
func (g *Graph) findRoot() (string, error) {
	var starts []string
	for _, id := range g.Sorted {
		if g.Nodes[id].Data.Type == schema.NodeTypeStart {
			starts = append(starts, id)
		}
	}
	switch len(starts) {
	case 1:
		return starts[0], nil
	case 0:
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "graph has %d start nodes", len(starts))
	}

	if roots := g.Levels[0]; len(roots) == 1 {
		return roots[0], nil
	}
	return "", schema.NewError(schema.ErrCodeValidation, "graph has no unique root node")
}
