package nodes

import (
	"time"

	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// Event is one element of a node's execution stream: zero or more
// progress events followed by exactly one RunCompletedEvent.
type Event interface {
	isNodeEvent()
}

// RunStreamChunkEvent carries partial output while a node is still running.
type RunStreamChunkEvent struct {
	Selector variables.Selector
	Chunk    string
}

// RunCompletedEvent is the terminal event of every stream.
type RunCompletedEvent struct {
	Result *NodeRunResult
}

func (RunStreamChunkEvent) isNodeEvent() {}
func (RunCompletedEvent) isNodeEvent()   {}

// NodeRunResult is the outcome reported by the terminal event.
type NodeRunResult struct {
	Status      schema.NodeStatus `json:"status"`
	Inputs      map[string]any    `json:"inputs,omitempty"`
	ProcessData map[string]any    `json:"process_data,omitempty"`
	Outputs     map[string]any    `json:"outputs,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorType   string            `json:"error_type,omitempty"`
	ElapsedTime time.Duration     `json:"elapsed_time"`
}

// Succeeded builds a successful result.
func Succeeded(inputs, processData, outputs map[string]any) *NodeRunResult {
	return &NodeRunResult{
		Status:      schema.NodeStatusSucceeded,
		Inputs:      inputs,
		ProcessData: processData,
		Outputs:     outputs,
	}
}

// Failed builds a failed result from err. The error type is the
// VarflowError code when there is one.
func Failed(err error, inputs map[string]any) *NodeRunResult {
	return &NodeRunResult{
		Status:    schema.NodeStatusFailed,
		Inputs:    inputs,
		Error:     errorMessage(err),
		ErrorType: schema.CodeOf(err),
	}
}

func errorMessage(err error) string {
	if verr, ok := err.(*schema.VarflowError); ok {
		return verr.Message
	}
	return err.Error()
}
