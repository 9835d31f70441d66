package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/varflow/pkg/schema"
)

// validateDAG performs graph analysis on the edge list:
// cycle detection (Kahn's algorithm) and dead-node reachability (BFS from roots).
func validateDAG(cfg *schema.GraphConfig) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		nodeIDs[n.ID] = true
	}

	// successors[id] = targets of edges leaving id.
	successors := make(map[string][]string, len(cfg.Nodes))
	inDegree := make(map[string]int, len(cfg.Nodes))
	for id := range nodeIDs {
		inDegree[id] = 0
	}
	seen := make(map[[2]string]bool, len(cfg.Edges))
	for _, e := range cfg.Edges {
		k := [2]string{e.Source, e.Target}
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] || seen[k] {
			continue // invalid refs already caught by semantic
		}
		seen[k] = true
		successors[e.Source] = append(successors[e.Source], e.Target)
		inDegree[e.Target]++
	}

	remaining := make(map[string]int, len(inDegree))
	queue := make([]string, 0, len(cfg.Nodes))
	for id, deg := range inDegree {
		remaining[id] = deg
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	// Sort roots for deterministic output.
	sort.Strings(queue)
	roots := append([]string(nil), queue...)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range successors[node] {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(nodeIDs) {
		result.AddError("edges", schema.ErrCodeCycleDetected, "graph contains a cycle")
		return result // cycle makes reachability analysis meaningless
	}

	// Prefer the start node as the only root when there is one.
	for _, n := range cfg.Nodes {
		if n.Data.Type == schema.NodeTypeStart && inDegree[n.ID] == 0 {
			roots = []string{n.ID}
			break
		}
	}

	reachable := make(map[string]bool, len(nodeIDs))
	bfsQueue := append([]string(nil), roots...)
	for _, r := range roots {
		reachable[r] = true
	}
	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, next := range successors[node] {
			if !reachable[next] {
				reachable[next] = true
				bfsQueue = append(bfsQueue, next)
			}
		}
	}

	for _, n := range cfg.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID),
				schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from the root", n.ID))
		}
	}

	return result
}
