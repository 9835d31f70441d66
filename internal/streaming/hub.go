// Package streaming fans run events out to live subscribers.
package streaming

import "context"

// StreamEvent is a real-time event emitted while a run executes.
type StreamEvent struct {
	RunID     string `json:"run_id"`
	NodeID    string `json:"node_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	NodeID     string   `json:"node_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
