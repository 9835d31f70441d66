package schema

// Event type constants for the node event log.
const (
	EventRunStarted   = "run_started"
	EventRunSucceeded = "run_succeeded"
	EventRunFailed    = "run_failed"

	EventNodeStarted     = "node_started"
	EventNodeStreamChunk = "node_stream_chunk"
	EventNodeSucceeded   = "node_succeeded"
	EventNodeFailed      = "node_failed"
	EventNodeSkipped     = "node_skipped"

	EventVariableUpdated = "variable_updated"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// NodeStatus represents the lifecycle state of a single node execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)
