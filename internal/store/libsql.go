package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/varflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Conversation Variables ---

// UpsertConversationVariables writes every row in a single transaction.
// Either all rows land or none do.
func (s *LibSQLStore) UpsertConversationVariables(ctx context.Context, vars []*ConversationVariable) error {
	if len(vars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, v := range vars {
		if v.ConversationID == "" || v.Name == "" {
			return schema.NewError(schema.ErrCodeValidation, "conversation variable requires conversation_id and name")
		}
		selector, err := nullableSelector(v.Selector)
		if err != nil {
			return fmt.Errorf("marshal selector: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_variables (conversation_id, name, id, description, selector, value_type, value, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(conversation_id, name) DO UPDATE SET
			   id=excluded.id, description=excluded.description, selector=excluded.selector,
			   value_type=excluded.value_type, value=excluded.value, updated_at=excluded.updated_at`,
			v.ConversationID, v.Name, v.ID, nullStr(v.Description), selector, v.ValueType, nullRaw(v.Value),
			timeOrNow(v.CreatedAt), now,
		)
		if err != nil {
			return fmt.Errorf("upsert conversation variable %s/%s: %w", v.ConversationID, v.Name, err)
		}
		v.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation variables: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetConversationVariable(ctx context.Context, conversationID, name string) (*ConversationVariable, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, name, id, description, selector, value_type, value, created_at, updated_at
		 FROM conversation_variables WHERE conversation_id = ? AND name = ?`, conversationID, name,
	)
	v, err := scanConversationVariable(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("conversation variable", conversationID+"/"+name)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *LibSQLStore) ListConversationVariables(ctx context.Context, conversationID string) ([]*ConversationVariable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, name, id, description, selector, value_type, value, created_at, updated_at
		 FROM conversation_variables WHERE conversation_id = ? ORDER BY name`, conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vars []*ConversationVariable
	for rows.Next() {
		v, err := scanConversationVariable(rows)
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

func (s *LibSQLStore) DeleteConversationVariables(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_variables WHERE conversation_id = ?`, conversationID,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversationVariable(row rowScanner) (*ConversationVariable, error) {
	v := &ConversationVariable{}
	var desc, selector, value sql.NullString
	if err := row.Scan(&v.ConversationID, &v.Name, &v.ID, &desc, &selector, &v.ValueType, &value, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Description = desc.String
	v.Value = rawOrNil(value)
	if selector.Valid && selector.String != "" {
		if err := json.Unmarshal([]byte(selector.String), &v.Selector); err != nil {
			return nil, fmt.Errorf("unmarshal selector: %w", err)
		}
	}
	return v, nil
}

// --- Workflow Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *WorkflowRun) error {
	run.CreatedAt = timeOrNow(run.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, tenant_id, app_id, workflow_id, conversation_id, status, inputs, outputs, error, total_steps, elapsed_ms, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.TenantID), nullStr(run.AppID), nullStr(run.WorkflowID), nullStr(run.ConversationID),
		string(run.Status), nullRaw(run.Inputs), nullRaw(run.Outputs), nullStr(run.Error),
		run.TotalSteps, run.ElapsedMs, run.CreatedAt, nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `id, tenant_id, app_id, workflow_id, conversation_id, status, inputs, outputs, error, total_steps, elapsed_ms, created_at, finished_at`

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Outputs != nil {
		sets = append(sets, "outputs = ?")
		args = append(args, nullRaw(update.Outputs))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.TotalSteps != nil {
		sets = append(sets, "total_steps = ?")
		args = append(args, *update.TotalSteps)
	}
	if update.ElapsedMs != nil {
		sets = append(sets, "elapsed_ms = ?")
		args = append(args, *update.ElapsedMs)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*WorkflowRun, error) {
	var where []string
	var args []any

	if filter.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM workflow_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*WorkflowRun, error) {
	r := &WorkflowRun{}
	var tenantID, appID, workflowID, conversationID, inputs, outputs, errMsg sql.NullString
	var status string
	var finished sql.NullTime
	if err := row.Scan(&r.ID, &tenantID, &appID, &workflowID, &conversationID, &status, &inputs, &outputs, &errMsg,
		&r.TotalSteps, &r.ElapsedMs, &r.CreatedAt, &finished); err != nil {
		return nil, err
	}
	r.TenantID = tenantID.String
	r.AppID = appID.String
	r.WorkflowID = workflowID.String
	r.ConversationID = conversationID.String
	r.Status = schema.RunStatus(status)
	r.Inputs = rawOrNil(inputs)
	r.Outputs = rawOrNil(outputs)
	r.Error = errMsg.String
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Get next sequence number for this run
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM node_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO node_events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM node_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.VarflowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullableSelector(sel []string) (any, error) {
	if len(sel) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(sel)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
