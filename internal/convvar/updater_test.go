package convvar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// memRepo is an in-memory Repository that counts upsert calls.
type memRepo struct {
	mu      sync.Mutex
	rows    map[string]map[string]*store.ConversationVariable
	upserts int
	fail    error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]map[string]*store.ConversationVariable)}
}

func (r *memRepo) UpsertConversationVariables(_ context.Context, vars []*store.ConversationVariable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if r.fail != nil {
		return r.fail
	}
	for _, v := range vars {
		if r.rows[v.ConversationID] == nil {
			r.rows[v.ConversationID] = make(map[string]*store.ConversationVariable)
		}
		r.rows[v.ConversationID][v.Name] = v
	}
	return nil
}

func (r *memRepo) ListConversationVariables(_ context.Context, conversationID string) ([]*store.ConversationVariable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	var out []*store.ConversationVariable
	for _, v := range r.rows[conversationID] {
		out = append(out, v)
	}
	return out, nil
}

func newLibSQLRepo(t *testing.T) *store.LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(dir, "convvar.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func convVar(name string, value []string) variables.Variable {
	return variables.NewArrayString(name, value,
		variables.WithSelector(variables.NewSelector(variables.ScopeConversation, name)))
}

func TestStoreUpdater_UpdateThenFlush(t *testing.T) {
	repo := newMemRepo()
	u := NewStoreUpdater(repo, nil)
	ctx := context.Background()

	require.NoError(t, u.Update(ctx, "conv-1", convVar("history", []string{"a"})))
	assert.Equal(t, 1, u.Pending())
	assert.Equal(t, 0, repo.upserts, "update must not touch the store")

	require.NoError(t, u.Flush(ctx))
	assert.Equal(t, 1, repo.upserts)
	assert.Equal(t, 0, u.Pending())

	row := repo.rows["conv-1"]["history"]
	require.NotNil(t, row)
	assert.Equal(t, "array[string]", row.ValueType)
	assert.JSONEq(t, `["a"]`, string(row.Value))
	assert.Equal(t, []string{"conversation", "history"}, row.Selector)
}

func TestStoreUpdater_LastWriteWins(t *testing.T) {
	repo := newMemRepo()
	u := NewStoreUpdater(repo, nil)
	ctx := context.Background()

	require.NoError(t, u.Update(ctx, "conv-1", convVar("history", []string{"a"})))
	require.NoError(t, u.Update(ctx, "conv-1", convVar("history", []string{"a", "b"})))
	assert.Equal(t, 1, u.Pending())

	require.NoError(t, u.Flush(ctx))
	assert.JSONEq(t, `["a","b"]`, string(repo.rows["conv-1"]["history"].Value))
}

func TestStoreUpdater_FlushEmptyIsNoop(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, NewStoreUpdater(repo, nil).Flush(context.Background()))
	assert.Equal(t, 0, repo.upserts)
}

func TestStoreUpdater_FlushFailureKeepsBuffer(t *testing.T) {
	repo := newMemRepo()
	repo.fail = errors.New("disk full")
	u := NewStoreUpdater(repo, nil)
	ctx := context.Background()

	require.NoError(t, u.Update(ctx, "conv-1", convVar("history", []string{"a"})))
	err := u.Flush(ctx)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, u.Pending())

	repo.fail = nil
	require.NoError(t, u.Flush(ctx))
	assert.Equal(t, 0, u.Pending())
}

func TestStoreUpdater_UpdateValidation(t *testing.T) {
	u := NewStoreUpdater(newMemRepo(), nil)
	ctx := context.Background()

	err := u.Update(ctx, "", convVar("history", nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = u.Update(ctx, "conv-1", variables.Variable{ValueType: variables.TypeString, Value: "x"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Equal(t, 0, u.Pending())
}

func TestNewStoreFactory_FreshUpdaterEachCall(t *testing.T) {
	f := NewStoreFactory(newMemRepo(), nil)
	a, b := f(), f()
	require.NoError(t, a.Update(context.Background(), "conv-1", convVar("x", nil)))
	assert.Equal(t, 1, a.(*StoreUpdater).Pending())
	assert.Equal(t, 0, b.(*StoreUpdater).Pending())
}

func TestRecordRoundTrip(t *testing.T) {
	v := variables.NewObject("profile", map[string]any{"name": "ada", "age": float64(36)},
		variables.WithID("var-7"),
		variables.WithDescription("user profile"),
		variables.WithSelector(variables.NewSelector(variables.ScopeConversation, "profile")))

	rec, err := ToRecord("conv-1", v)
	require.NoError(t, err)

	back, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, v, back)
}

func TestFromRecord_DefaultsSelector(t *testing.T) {
	back, err := FromRecord(&store.ConversationVariable{
		ConversationID: "conv-1", Name: "n", ID: "id-1", ValueType: "number", Value: []byte(`3`),
	})
	require.NoError(t, err)
	assert.Equal(t, variables.NewSelector("conversation", "n"), back.Selector)
	assert.Equal(t, float64(3), back.Value)
}

func TestFromRecord_KeepsDriftedPayload(t *testing.T) {
	back, err := FromRecord(&store.ConversationVariable{
		ConversationID: "conv-1", Name: "note", ID: "id-2", ValueType: "string", Value: []byte(`42`),
	})
	require.NoError(t, err)
	assert.Equal(t, "id-2", back.ID)
	assert.Equal(t, variables.TypeString, back.ValueType)
	assert.Equal(t, float64(42), back.Value)
	assert.False(t, back.Consistent())
}

func TestFromRecord_Unreadable(t *testing.T) {
	_, err := FromRecord(&store.ConversationVariable{
		ConversationID: "conv-1", Name: "note", ValueType: "string", Value: []byte(`{not json`),
	})
	require.Error(t, err)

	_, err = FromRecord(&store.ConversationVariable{
		ConversationID: "conv-1", Name: "note", ValueType: "bool", Value: []byte(`true`),
	})
	require.Error(t, err)
}

func TestStoreUpdater_LibSQL(t *testing.T) {
	repo := newLibSQLRepo(t)
	ctx := context.Background()

	u := NewStoreUpdater(repo, nil)
	require.NoError(t, u.Update(ctx, "conv-1", convVar("history", []string{"hi"})))
	require.NoError(t, u.Flush(ctx))

	got, err := repo.GetConversationVariable(ctx, "conv-1", "history")
	require.NoError(t, err)
	assert.JSONEq(t, `["hi"]`, string(got.Value))
}
