package all

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/varflow/internal/graph"
	"github.com/rendis/varflow/internal/nodes"
	"github.com/rendis/varflow/internal/nodes/assigner"
	"github.com/rendis/varflow/internal/pool"
	"github.com/rendis/varflow/internal/validation"
	"github.com/rendis/varflow/pkg/schema"
)

func params(t *testing.T, id string, raw string) nodes.Params {
	t.Helper()
	var data schema.NodeData
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	p, err := pool.New(pool.Options{})
	require.NoError(t, err)
	return nodes.Params{
		Config:       &schema.NodeConfig{ID: id, Data: data},
		RuntimeState: graph.NewRuntimeState(p, time.Now()),
	}
}

func TestNewRegistry_Types(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, []schema.NodeType{schema.NodeTypeAssigner, schema.NodeTypeStart}, r.Types())
}

func TestNewRegistry_BuildsKinds(t *testing.T) {
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	r := NewRegistry(v, assigner.WithStrictTypes())

	n, err := r.New(params(t, "start", `{"type":"start","title":"Start"}`))
	require.NoError(t, err)
	assert.Equal(t, schema.NodeTypeStart, n.Type())
	assert.Equal(t, "Start", n.Title())

	n, err = r.New(params(t, "assign", `{"type":"assigner","assigned_variable_selector":["conversation","x"],"write_mode":"clear"}`))
	require.NoError(t, err)
	_, ok := n.(*assigner.Node)
	assert.True(t, ok)
}

func TestNewRegistry_RejectsInvalidData(t *testing.T) {
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	r := NewRegistry(v)

	_, err = r.New(params(t, "assign", `{"type":"assigner","assigned_variable_selector":["conversation"],"write_mode":"clear"}`))
	require.Error(t, err)
	verr, ok := err.(*schema.VarflowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, verr.Code)
	assert.Equal(t, "assign", verr.NodeID)
}

func TestNewRegistry_RejectsUnnamedStartInput(t *testing.T) {
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	r := NewRegistry(v)

	_, err = r.New(params(t, "start", `{"type":"start","variables":[{"label":"Query","required":true}]}`))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = r.New(params(t, "start", `{"type":"start","variables":[{"variable":"query","required":true}]}`))
	assert.NoError(t, err)
}

func TestNewRegistry_UnknownModePassesConstruction(t *testing.T) {
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	r := NewRegistry(v)

	_, err = r.New(params(t, "assign", `{"type":"assigner","assigned_variable_selector":["conversation","x"],"write_mode":"merge"}`))
	assert.NoError(t, err)
}
