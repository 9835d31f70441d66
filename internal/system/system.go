// Package system holds the read-only bundle of engine-provided run facts
// exposed under the "sys" scope.
package system

// Keys under the sys scope.
const (
	KeyUserID         = "user_id"
	KeyAppID          = "app_id"
	KeyWorkflowID     = "workflow_id"
	KeyWorkflowRunID  = "workflow_run_id"
	KeyQuery          = "query"
	KeyConversationID = "conversation_id"
	KeyDialogueCount  = "dialogue_count"
)

// SystemVariable is immutable after construction; pass it by value.
type SystemVariable struct {
	UserID         string
	AppID          string
	WorkflowID     string
	WorkflowRunID  string
	Query          string
	ConversationID string
	DialogueCount  int
}

// ToMap returns the set fields keyed by their sys-scope names.
// Unset string fields and a zero dialogue count are omitted.
func (s SystemVariable) ToMap() map[string]any {
	m := make(map[string]any, 7)
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put(KeyUserID, s.UserID)
	put(KeyAppID, s.AppID)
	put(KeyWorkflowID, s.WorkflowID)
	put(KeyWorkflowRunID, s.WorkflowRunID)
	put(KeyQuery, s.Query)
	put(KeyConversationID, s.ConversationID)
	if s.DialogueCount > 0 {
		m[KeyDialogueCount] = s.DialogueCount
	}
	return m
}
