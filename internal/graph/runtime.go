package graph

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/varflow/internal/pool"
)

// RuntimeState is the mutable per-run context shared by every node.
// The pool is shared by reference, never copied.
type RuntimeState struct {
	VariablePool *pool.VariablePool
	StartAt      time.Time

	nodeRunSteps atomic.Int64

	mu      sync.Mutex
	outputs map[string]any
}

// NewRuntimeState wraps p. startAt should come from time.Now so that it
// carries a monotonic reading.
func NewRuntimeState(p *pool.VariablePool, startAt time.Time) *RuntimeState {
	return &RuntimeState{
		VariablePool: p,
		StartAt:      startAt,
		outputs:      make(map[string]any),
	}
}

// Elapsed returns the monotonic time since StartAt.
func (s *RuntimeState) Elapsed() time.Duration {
	return time.Since(s.StartAt)
}

// IncrementNodeRunSteps records one more node execution and returns the total.
func (s *RuntimeState) IncrementNodeRunSteps() int64 {
	return s.nodeRunSteps.Add(1)
}

// NodeRunSteps returns the number of node executions so far.
func (s *RuntimeState) NodeRunSteps() int64 {
	return s.nodeRunSteps.Load()
}

// SetOutput records a run-level output.
func (s *RuntimeState) SetOutput(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[key] = value
}

// Outputs returns a copy of the run-level outputs.
func (s *RuntimeState) Outputs() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.outputs)
}
