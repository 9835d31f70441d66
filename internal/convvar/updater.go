// Package convvar persists conversation-scoped variables across runs.
package convvar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rendis/varflow/internal/logging"
	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// Updater stages conversation variable writes and makes them durable on Flush.
// The assigner calls Update then Flush exactly once per conversation write.
type Updater interface {
	Update(ctx context.Context, conversationID string, v variables.Variable) error
	Flush(ctx context.Context) error
}

// Factory hands out a fresh Updater per write.
type Factory func() Updater

// Repository is the slice of store.Store this package needs.
type Repository interface {
	UpsertConversationVariables(ctx context.Context, vars []*store.ConversationVariable) error
	ListConversationVariables(ctx context.Context, conversationID string) ([]*store.ConversationVariable, error)
}

type pendingKey struct {
	conversationID string
	name           string
}

// StoreUpdater buffers the last write per (conversation, name) and upserts
// the whole buffer in one transaction on Flush.
type StoreUpdater struct {
	repo   Repository
	logger *slog.Logger

	mu      sync.Mutex
	pending map[pendingKey]*store.ConversationVariable
	order   []pendingKey
}

// NewStoreUpdater creates an updater backed by repo.
func NewStoreUpdater(repo Repository, logger *slog.Logger) *StoreUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreUpdater{
		repo:    repo,
		logger:  logger,
		pending: make(map[pendingKey]*store.ConversationVariable),
	}
}

// NewStoreFactory returns a Factory producing StoreUpdaters over repo.
func NewStoreFactory(repo Repository, logger *slog.Logger) Factory {
	return func() Updater { return NewStoreUpdater(repo, logger) }
}

// Update stages v for conversationID. A later Update for the same name
// replaces the staged row.
func (u *StoreUpdater) Update(ctx context.Context, conversationID string, v variables.Variable) error {
	rec, err := ToRecord(conversationID, v)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	k := pendingKey{conversationID: conversationID, name: v.Name}
	if _, ok := u.pending[k]; !ok {
		u.order = append(u.order, k)
	}
	u.pending[k] = rec
	return nil
}

// Flush writes every staged row. On failure the buffer is kept so the caller
// may retry; on success it is cleared.
func (u *StoreUpdater) Flush(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.order) == 0 {
		return nil
	}

	rows := make([]*store.ConversationVariable, 0, len(u.order))
	for _, k := range u.order {
		rows = append(rows, u.pending[k])
	}
	if err := u.repo.UpsertConversationVariables(ctx, rows); err != nil {
		return schema.NewError(schema.ErrCodeStore, "flush conversation variables").WithCause(err)
	}

	logging.LogWith(ctx, u.logger).Debug("conversation variables flushed", slog.Int("count", len(rows)))
	u.pending = make(map[pendingKey]*store.ConversationVariable)
	u.order = nil
	return nil
}

// Pending reports how many rows are staged.
func (u *StoreUpdater) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.order)
}

// ToRecord converts a Variable into its durable row.
func ToRecord(conversationID string, v variables.Variable) (*store.ConversationVariable, error) {
	if conversationID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "conversation id is required")
	}
	if v.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "conversation variable name is required")
	}
	raw, err := json.Marshal(v.Value)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "encode %s: %v", v.Name, err).WithCause(err)
	}
	return &store.ConversationVariable{
		ConversationID: conversationID,
		Name:           v.Name,
		ID:             v.ID,
		Description:    v.Description,
		Selector:       []string(v.Selector),
		ValueType:      string(v.ValueType),
		Value:          raw,
	}, nil
}

// FromRecord converts a durable row back into a Variable. A payload that no
// longer fits its value type, as left by a permissive overwrite, is kept
// as decoded so the committed value survives the reload.
func FromRecord(rec *store.ConversationVariable) (variables.Variable, error) {
	t := variables.ValueType(rec.ValueType)
	if !t.Valid() {
		return variables.Variable{}, fmt.Errorf("conversation variable %s: unknown value type %q", rec.Name, rec.ValueType)
	}
	sel := variables.Selector(rec.Selector)
	if len(sel) == 0 {
		sel = variables.NewSelector(variables.ScopeConversation, rec.Name)
	}
	value, err := variables.DecodeValue(t, rec.Value)
	if err != nil {
		var raw any
		if jerr := json.Unmarshal(rec.Value, &raw); jerr != nil {
			return variables.Variable{}, fmt.Errorf("conversation variable %s: %w", rec.Name, err)
		}
		return variables.Variable{
			ID:          rec.ID,
			Name:        rec.Name,
			Description: rec.Description,
			Selector:    sel,
			ValueType:   t,
			Value:       raw,
		}, nil
	}
	return variables.New(rec.Name, t, value,
		variables.WithID(rec.ID),
		variables.WithDescription(rec.Description),
		variables.WithSelector(sel),
	)
}
