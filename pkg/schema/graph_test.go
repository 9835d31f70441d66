package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphConfig_UnmarshalKeepsRawData(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "start", "data": {"type": "start"}},
			{"id": "assigner", "data": {"type": "assigner", "title": "set", "write_mode": "clear"}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "assigner"}]
	}`

	var cfg GraphConfig
	require.NoError(t, json.Unmarshal([]byte(doc), &cfg))
	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, NodeTypeStart, cfg.Nodes[0].Data.Type)
	assert.Equal(t, NodeTypeAssigner, cfg.Nodes[1].Data.Type)
	assert.Equal(t, "set", cfg.Nodes[1].Data.Title)

	m, err := cfg.Nodes[1].Data.Map()
	require.NoError(t, err)
	assert.Equal(t, "clear", m["write_mode"])
}

func TestNodeData_MarshalRoundTripsRaw(t *testing.T) {
	var d NodeData
	require.NoError(t, json.Unmarshal([]byte(`{"type":"assigner","write_mode":"append"}`), &d))

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"assigner","write_mode":"append"}`, string(b))

	b, err = json.Marshal(NodeData{Type: NodeTypeStart})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"start"}`, string(b))
}
