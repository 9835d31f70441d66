package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/varflow/pkg/schema"
)

// ConversationVariable is the durable form of a conversation-scoped Variable.
// (ConversationID, Name) is the primary key.
type ConversationVariable struct {
	ConversationID string          `json:"conversation_id"`
	Name           string          `json:"name"`
	ID             string          `json:"id"`
	Description    string          `json:"description,omitempty"`
	Selector       []string        `json:"selector,omitempty"`
	ValueType      string          `json:"value_type"`
	Value          json.RawMessage `json:"value"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// WorkflowRun is the persisted record of one graph execution.
type WorkflowRun struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenant_id,omitempty"`
	AppID          string           `json:"app_id,omitempty"`
	WorkflowID     string           `json:"workflow_id,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Status         schema.RunStatus `json:"status"`
	Inputs         json.RawMessage  `json:"inputs,omitempty"`
	Outputs        json.RawMessage  `json:"outputs,omitempty"`
	Error          string           `json:"error,omitempty"`
	TotalSteps     int64            `json:"total_steps"`
	ElapsedMs      int64            `json:"elapsed_ms"`
	CreatedAt      time.Time        `json:"created_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
}

// Event is an immutable entry in a run's node event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// NodeState is the state of one node reconstructed from the event log.
type NodeState struct {
	RunID       string            `json:"run_id"`
	NodeID      string            `json:"node_id"`
	Status      schema.NodeStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status     *schema.RunStatus `json:"status,omitempty"`
	Outputs    json.RawMessage   `json:"outputs,omitempty"`
	Error      *string           `json:"error,omitempty"`
	TotalSteps *int64            `json:"total_steps,omitempty"`
	ElapsedMs  *int64            `json:"elapsed_ms,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	Status         *schema.RunStatus `json:"status,omitempty"`
	Limit          int               `json:"limit,omitempty"`
}
