// Package nodes defines the execution contract shared by every node kind.
package nodes

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/varflow/internal/convvar"
	"github.com/rendis/varflow/internal/graph"
	"github.com/rendis/varflow/pkg/schema"
)

// Node is a unit of execution. Run returns a lazy, single-use stream:
// no work happens until the caller ranges over it, and ranging over it a
// second time yields nothing.
type Node interface {
	ID() string
	NodeID() string
	Type() schema.NodeType
	Title() string
	Run(ctx context.Context) iter.Seq[Event]
}

// Params is everything a node is constructed with.
type Params struct {
	// ID identifies this node execution; generated when empty.
	ID           string
	Config       *schema.NodeConfig
	InitParams   graph.InitParams
	Graph        *graph.Graph
	RuntimeState *graph.RuntimeState

	// ConvVarUpdaterFactory is only needed by nodes that persist
	// conversation variables.
	ConvVarUpdaterFactory convvar.Factory
}

// Body computes a node's result. Progress events go through emit; emit
// returns false once the consumer has stopped.
type Body func(ctx context.Context, emit func(Event) bool) (*NodeRunResult, error)

// BaseNode carries the fields and stream plumbing common to all kinds.
// Kinds embed it and implement Run with Execute.
type BaseNode struct {
	id         string
	nodeID     string
	title      string
	nodeType   schema.NodeType
	InitParams graph.InitParams
	Graph      *graph.Graph
	State      *graph.RuntimeState

	consumed atomic.Bool
}

// NewBaseNode validates the common params.
func NewBaseNode(p Params) (*BaseNode, error) {
	if p.Config == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "node config is nil")
	}
	if p.Config.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "node config has empty id")
	}
	if p.RuntimeState == nil || p.RuntimeState.VariablePool == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "runtime state with a variable pool is required").WithNode(p.Config.ID)
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &BaseNode{
		id:         id,
		nodeID:     p.Config.ID,
		title:      p.Config.Data.Title,
		nodeType:   p.Config.Data.Type,
		InitParams: p.InitParams,
		Graph:      p.Graph,
		State:      p.RuntimeState,
	}, nil
}

func (b *BaseNode) ID() string            { return b.id }
func (b *BaseNode) NodeID() string        { return b.nodeID }
func (b *BaseNode) Type() schema.NodeType { return b.nodeType }
func (b *BaseNode) Title() string         { return b.title }

// Execute wraps body into the node's event stream. Errors and panics from
// body become a failed terminal event; they never escape to the caller.
func (b *BaseNode) Execute(ctx context.Context, body Body) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !b.consumed.CompareAndSwap(false, true) {
			return
		}

		stopped := false
		emit := func(e Event) bool {
			if stopped {
				return false
			}
			if !yield(e) {
				stopped = true
			}
			return !stopped
		}

		start := time.Now()
		result := b.invoke(ctx, body, emit)
		if stopped {
			return
		}
		result.ElapsedTime = time.Since(start)
		yield(RunCompletedEvent{Result: result})
	}
}

func (b *BaseNode) invoke(ctx context.Context, body Body, emit func(Event) bool) (result *NodeRunResult) {
	defer func() {
		if r := recover(); r != nil {
			result = Failed(schema.NewErrorf(schema.ErrCodeExecution, "node panicked: %v", r), nil)
		}
	}()

	if err := ctx.Err(); err != nil {
		return Failed(schema.NewError(schema.ErrCodeCancelled, err.Error()).WithCause(err), nil)
	}

	result, err := body(ctx, emit)
	if err != nil {
		var inputs map[string]any
		if result != nil {
			inputs = result.Inputs
		}
		return Failed(err, inputs)
	}
	if result == nil {
		return Failed(fmt.Errorf("node %s returned no result", b.nodeID), nil)
	}
	return result
}

// Collect drains a stream and returns its events and terminal result.
// The result is nil only if the stream yielded no terminal event.
func Collect(seq iter.Seq[Event]) ([]Event, *NodeRunResult) {
	var events []Event
	var result *NodeRunResult
	for e := range seq {
		events = append(events, e)
		if done, ok := e.(RunCompletedEvent); ok {
			result = done.Result
		}
	}
	return events, result
}
