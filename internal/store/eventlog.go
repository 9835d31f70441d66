package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/varflow/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; a write forces the lock
	// before the sequence is read.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM node_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO node_events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// ReplayEvents replays all events for a run and returns the reconstructed node states.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*NodeState, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	return Replay(runID, events)
}

// Replay folds an ordered event slice into per-node states.
func Replay(runID string, events []*Event) (map[string]*NodeState, error) {
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	states := make(map[string]*NodeState)
	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		ns, ok := states[e.NodeID]
		if !ok {
			ns = &NodeState{
				RunID:  runID,
				NodeID: e.NodeID,
				Status: schema.NodeStatusPending,
			}
			states[e.NodeID] = ns
		}

		switch e.Type {
		case schema.EventNodeStarted:
			ns.Status = schema.NodeStatusRunning
			ts := e.Timestamp
			ns.StartedAt = &ts

		case schema.EventNodeSucceeded:
			ns.Status = schema.NodeStatusSucceeded
			ts := e.Timestamp
			ns.CompletedAt = &ts
			ns.Output = e.Payload
			if ns.StartedAt != nil {
				ns.DurationMs = ts.Sub(*ns.StartedAt).Milliseconds()
			}

		case schema.EventNodeFailed:
			ns.Status = schema.NodeStatusFailed
			ts := e.Timestamp
			ns.CompletedAt = &ts
			ns.Error = e.Payload

		case schema.EventNodeSkipped:
			ns.Status = schema.NodeStatusSkipped
		}
	}

	return states, nil
}
