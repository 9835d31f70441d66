package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/pkg/schema"
)

type memAppender struct {
	mu     sync.Mutex
	events []*store.Event
	err    error
}

func (a *memAppender) AppendEvent(_ context.Context, e *store.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	e.Sequence = int64(len(a.events) + 1)
	a.events = append(a.events, e)
	return nil
}

func (a *memAppender) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Type)
	}
	return out
}

func TestNodeFSM_ValidLifecycle(t *testing.T) {
	ctx := context.Background()
	app := &memAppender{}
	fsm := NewNodeFSM(app)

	require.NoError(t, fsm.Transition(ctx, "r1", "n1", schema.NodeStatusPending, schema.NodeStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, "r1", "n1", schema.NodeStatusRunning, schema.NodeStatusSucceeded,
		map[string]any{"value": 1}))
	require.NoError(t, fsm.Transition(ctx, "r1", "n2", schema.NodeStatusPending, schema.NodeStatusSkipped, nil))

	assert.Equal(t, []string{schema.EventNodeStarted, schema.EventNodeSucceeded, schema.EventNodeSkipped}, app.types())
	assert.JSONEq(t, `{"value":1}`, string(app.events[1].Payload))
	assert.Equal(t, "n1", app.events[0].NodeID)

	states, err := store.Replay("r1", app.events)
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusSucceeded, states["n1"].Status)
	assert.Equal(t, schema.NodeStatusSkipped, states["n2"].Status)
}

func TestNodeFSM_InvalidTransitions(t *testing.T) {
	fsm := NewNodeFSM(nil)
	cases := []struct {
		from, to schema.NodeStatus
	}{
		{schema.NodeStatusPending, schema.NodeStatusSucceeded},
		{schema.NodeStatusRunning, schema.NodeStatusSkipped},
		{schema.NodeStatusSucceeded, schema.NodeStatusRunning},
		{schema.NodeStatusFailed, schema.NodeStatusRunning},
		{schema.NodeStatusSkipped, schema.NodeStatusRunning},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			err := fsm.Transition(context.Background(), "r1", "n1", tc.from, tc.to, nil)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
			var verr *schema.VarflowError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "n1", verr.Details["node_id"])
		})
	}
}

func TestRunFSM_Lifecycle(t *testing.T) {
	ctx := context.Background()
	app := &memAppender{}
	fsm := NewRunFSM(app)

	require.NoError(t, fsm.Start(ctx, "r1", map[string]any{"node_count": 2}))
	require.NoError(t, fsm.Transition(ctx, "r1", schema.RunStatusRunning, schema.RunStatusFailed, map[string]any{"error": "x"}))
	assert.Equal(t, []string{schema.EventRunStarted, schema.EventRunFailed}, app.types())

	err := fsm.Transition(ctx, "r1", schema.RunStatusFailed, schema.RunStatusSucceeded, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
}

func TestFSM_HooksRunAroundEvent(t *testing.T) {
	ctx := context.Background()
	app := &memAppender{}
	fsm := NewNodeFSM(app)

	var order []string
	fsm.OnBefore(schema.NodeStatusPending, schema.NodeStatusRunning, func(from, to string) error {
		order = append(order, "before:"+from+"->"+to)
		assert.Empty(t, app.types())
		return nil
	})
	fsm.OnAfter(schema.NodeStatusPending, schema.NodeStatusRunning, func(from, to string) error {
		order = append(order, "after")
		assert.Len(t, app.types(), 1)
		return nil
	})

	require.NoError(t, fsm.Transition(ctx, "r1", "n1", schema.NodeStatusPending, schema.NodeStatusRunning, nil))
	assert.Equal(t, []string{"before:pending->running", "after"}, order)
}

func TestFSM_BeforeHookAborts(t *testing.T) {
	app := &memAppender{}
	fsm := NewRunFSM(app)
	fsm.OnBefore(schema.RunStatusRunning, schema.RunStatusSucceeded, func(string, string) error {
		return errors.New("veto")
	})

	err := fsm.Transition(context.Background(), "r1", schema.RunStatusRunning, schema.RunStatusSucceeded, nil)
	require.EqualError(t, err, "veto")
	assert.Empty(t, app.types())
}

func TestFSM_AppendFailureIsStoreError(t *testing.T) {
	fsm := NewNodeFSM(&memAppender{err: errors.New("disk full")})
	err := fsm.Transition(context.Background(), "r1", "n1", schema.NodeStatusPending, schema.NodeStatusRunning, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
}

func TestFSM_UnencodablePayload(t *testing.T) {
	fsm := NewNodeFSM(&memAppender{})
	err := fsm.Transition(context.Background(), "r1", "n1", schema.NodeStatusPending, schema.NodeStatusRunning,
		map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	var jerr *json.UnsupportedTypeError
	assert.ErrorAs(t, err, &jerr)
}
