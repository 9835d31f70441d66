package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store and EventLog; FSMs emit events through it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidRunTransitions lists the allowed run status transitions.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusRunning: {schema.RunStatusSucceeded, schema.RunStatusFailed},
}

// ValidNodeTransitions lists the allowed node status transitions.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending: {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning: {schema.NodeStatusSucceeded, schema.NodeStatusFailed},
}

type hookKey[S ~string] struct{ from, to S }

// machine is the transition table, hooks and event emission shared by the
// run and node FSMs.
type machine[S ~string] struct {
	kind      string
	appender  EventAppender
	allowed   map[S][]S
	eventType func(to S) string

	mu     sync.Mutex
	before map[hookKey[S]][]TransitionHook
	after  map[hookKey[S]][]TransitionHook
}

func newMachine[S ~string](kind string, appender EventAppender, allowed map[S][]S, eventType func(S) string) *machine[S] {
	return &machine[S]{
		kind:      kind,
		appender:  appender,
		allowed:   allowed,
		eventType: eventType,
		before:    make(map[hookKey[S]][]TransitionHook),
		after:     make(map[hookKey[S]][]TransitionHook),
	}
}

func (m *machine[S]) onBefore(from, to S, hook TransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := hookKey[S]{from, to}
	m.before[k] = append(m.before[k], hook)
}

func (m *machine[S]) onAfter(from, to S, hook TransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := hookKey[S]{from, to}
	m.after[k] = append(m.after[k], hook)
}

func (m *machine[S]) transition(ctx context.Context, runID, nodeID string, from, to S, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.allowed[from], to) {
		details := map[string]any{"run_id": runID, "from": string(from), "to": string(to)}
		if nodeID != "" {
			details["node_id"] = nodeID
		}
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid %s transition: %s -> %s", m.kind, from, to).WithDetails(details)
	}

	k := hookKey[S]{from, to}
	for _, hook := range m.before[k] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if et := m.eventType(to); et != "" && m.appender != nil {
		event := &store.Event{RunID: runID, NodeID: nodeID, Type: et}
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "encode %s event payload: %s", m.kind, err.Error()).WithCause(err)
			}
			event.Payload = raw
		}
		if err := m.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit %s event: %s", m.kind, err.Error()).WithCause(err)
		}
	}

	for _, hook := range m.after[k] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

// RunFSM manages run lifecycle transitions.
type RunFSM struct {
	m *machine[schema.RunStatus]
}

// NewRunFSM creates a RunFSM that emits events via appender. appender may be nil.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{m: newMachine("run", appender, ValidRunTransitions, runEventType)}
}

// Start records the run_started event. Runs are created running.
func (f *RunFSM) Start(ctx context.Context, runID string, payload any) error {
	if f.m.appender == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "encode run event payload").WithCause(err)
	}
	if err := f.m.appender.AppendEvent(ctx, &store.Event{RunID: runID, Type: schema.EventRunStarted, Payload: raw}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
	}
	return nil
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) { f.m.onBefore(from, to, hook) }

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) { f.m.onAfter(from, to, hook) }

// Transition validates a run transition and emits its event.
// The caller persists the new status.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus, payload any) error {
	return f.m.transition(ctx, runID, "", from, to, payload)
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusSucceeded:
		return schema.EventRunSucceeded
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}

// NodeFSM manages node lifecycle transitions within a run.
type NodeFSM struct {
	m *machine[schema.NodeStatus]
}

// NewNodeFSM creates a NodeFSM that emits events via appender. appender may be nil.
func NewNodeFSM(appender EventAppender) *NodeFSM {
	return &NodeFSM{m: newMachine("node", appender, ValidNodeTransitions, nodeEventType)}
}

// OnBefore registers a hook called before a node transition.
func (f *NodeFSM) OnBefore(from, to schema.NodeStatus, hook TransitionHook) { f.m.onBefore(from, to, hook) }

// OnAfter registers a hook called after a node transition.
func (f *NodeFSM) OnAfter(from, to schema.NodeStatus, hook TransitionHook) { f.m.onAfter(from, to, hook) }

// Transition validates a node transition and emits its event with payload.
func (f *NodeFSM) Transition(ctx context.Context, runID, nodeID string, from, to schema.NodeStatus, payload any) error {
	return f.m.transition(ctx, runID, nodeID, from, to, payload)
}

func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusRunning:
		return schema.EventNodeStarted
	case schema.NodeStatusSucceeded:
		return schema.EventNodeSucceeded
	case schema.NodeStatusFailed:
		return schema.EventNodeFailed
	case schema.NodeStatusSkipped:
		return schema.EventNodeSkipped
	default:
		return ""
	}
}
