package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Conversation variables
	UpsertConversationVariables(ctx context.Context, vars []*ConversationVariable) error
	GetConversationVariable(ctx context.Context, conversationID, name string) (*ConversationVariable, error)
	ListConversationVariables(ctx context.Context, conversationID string) ([]*ConversationVariable, error)
	DeleteConversationVariables(ctx context.Context, conversationID string) error

	// Workflow runs
	CreateRun(ctx context.Context, run *WorkflowRun) error
	GetRun(ctx context.Context, id string) (*WorkflowRun, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*WorkflowRun, error)

	// Node event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
