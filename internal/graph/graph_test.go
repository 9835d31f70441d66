package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/varflow/internal/pool"
	"github.com/rendis/varflow/pkg/schema"
)

func node(id string, typ schema.NodeType) schema.NodeConfig {
	return schema.NodeConfig{ID: id, Data: schema.NodeData{Type: typ}}
}

func edge(src, dst string) schema.EdgeConfig {
	return schema.EdgeConfig{ID: src + "-" + dst, Source: src, Target: dst}
}

func TestInit_StartAssigner(t *testing.T) {
	g, err := Init(&schema.GraphConfig{
		Nodes: []schema.NodeConfig{node("start", schema.NodeTypeStart), node("assigner", schema.NodeTypeAssigner)},
		Edges: []schema.EdgeConfig{edge("start", "assigner")},
	})
	require.NoError(t, err)

	assert.Equal(t, "start", g.RootNodeID)
	assert.True(t, g.HasNode("assigner"))
	assert.False(t, g.HasNode("missing"))
	assert.Equal(t, []string{"start", "assigner"}, g.Sorted)
	assert.Equal(t, [][]string{{"start"}, {"assigner"}}, g.Levels)
	require.Len(t, g.Outgoing["start"], 1)
	assert.Equal(t, "assigner", g.Outgoing["start"][0].Target)

	cfg, ok := g.NodeConfig("assigner")
	require.True(t, ok)
	assert.Equal(t, schema.NodeTypeAssigner, cfg.Data.Type)
}

func TestInit_DiamondLevels(t *testing.T) {
	g, err := Init(&schema.GraphConfig{
		Nodes: []schema.NodeConfig{
			node("start", schema.NodeTypeStart),
			node("b", schema.NodeTypeAssigner),
			node("a", schema.NodeTypeAssigner),
			node("join", schema.NodeTypeAssigner),
		},
		Edges: []schema.EdgeConfig{
			edge("start", "a"), edge("start", "b"), edge("a", "join"), edge("b", "join"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"start"}, {"a", "b"}, {"join"}}, g.Levels)
}

func TestInit_RootWithoutStartNode(t *testing.T) {
	g, err := Init(&schema.GraphConfig{
		Nodes: []schema.NodeConfig{node("x", schema.NodeTypeAssigner), node("y", schema.NodeTypeAssigner)},
		Edges: []schema.EdgeConfig{edge("x", "y")},
	})
	require.NoError(t, err)
	assert.Equal(t, "x", g.RootNodeID)
}

func TestInit_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *schema.GraphConfig
		code string
	}{
		{"nil", nil, schema.ErrCodeValidation},
		{"empty", &schema.GraphConfig{}, schema.ErrCodeValidation},
		{"empty id", &schema.GraphConfig{Nodes: []schema.NodeConfig{node("", schema.NodeTypeStart)}}, schema.ErrCodeValidation},
		{"duplicate", &schema.GraphConfig{Nodes: []schema.NodeConfig{
			node("a", schema.NodeTypeStart), node("a", schema.NodeTypeAssigner)}}, schema.ErrCodeValidation},
		{"dangling target", &schema.GraphConfig{
			Nodes: []schema.NodeConfig{node("a", schema.NodeTypeStart)},
			Edges: []schema.EdgeConfig{edge("a", "ghost")}}, schema.ErrCodeValidation},
		{"self loop", &schema.GraphConfig{
			Nodes: []schema.NodeConfig{node("a", schema.NodeTypeStart)},
			Edges: []schema.EdgeConfig{edge("a", "a")}}, schema.ErrCodeCycleDetected},
		{"cycle", &schema.GraphConfig{
			Nodes: []schema.NodeConfig{node("s", schema.NodeTypeStart), node("a", schema.NodeTypeAssigner), node("b", schema.NodeTypeAssigner)},
			Edges: []schema.EdgeConfig{edge("s", "a"), edge("a", "b"), edge("b", "a")}}, schema.ErrCodeCycleDetected},
		{"two starts", &schema.GraphConfig{
			Nodes: []schema.NodeConfig{node("s1", schema.NodeTypeStart), node("s2", schema.NodeTypeStart)}}, schema.ErrCodeValidation},
		{"no unique root", &schema.GraphConfig{
			Nodes: []schema.NodeConfig{node("a", schema.NodeTypeAssigner), node("b", schema.NodeTypeAssigner)}}, schema.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(tt.cfg)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestRuntimeState(t *testing.T) {
	p, err := pool.New(pool.Options{})
	require.NoError(t, err)

	start := time.Now()
	s := NewRuntimeState(p, start)
	assert.Same(t, p, s.VariablePool)
	assert.GreaterOrEqual(t, s.Elapsed(), time.Duration(0))

	assert.Equal(t, int64(1), s.IncrementNodeRunSteps())
	assert.Equal(t, int64(2), s.IncrementNodeRunSteps())
	assert.Equal(t, int64(2), s.NodeRunSteps())

	s.SetOutput("answer", "42")
	out := s.Outputs()
	out["answer"] = "mutated"
	assert.Equal(t, "42", s.Outputs()["answer"])
}
