package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/varflow/internal/engine"
	"github.com/rendis/varflow/internal/nodes/all"
	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/internal/streaming"
	"github.com/rendis/varflow/internal/validation"
	"github.com/rendis/varflow/pkg/schema"
)

const historyGraph = `{
  "conversation_variables": [{"name": "history", "value_type": "array[string]", "value": []}],
  "nodes": [
    {"id": "start", "data": {"type": "start", "variables": [{"variable": "message", "required": true}]}},
    {"id": "remember", "data": {
      "type": "assigner",
      "assigned_variable_selector": ["conversation", "history"],
      "write_mode": "append",
      "input_variable_selector": ["start", "message"]
    }}
  ],
  "edges": [{"id": "e1", "source": "start", "target": "remember"}]
}`

type fixture struct {
	store *store.LibSQLStore
	hub   *streaming.MemoryHub
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	gv, err := validation.NewGraphValidator(nil)
	require.NoError(t, err)
	reg := all.NewRegistry(gv)
	gv.SetNodeTypes(reg)

	hub := streaming.NewMemoryHub()
	s := New(Deps{
		Store:     st,
		Runner:    engine.NewRunner(reg, engine.WithStore(st), engine.WithHub(hub)),
		Validator: gv,
		Hub:       hub,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{store: st, hub: hub, srv: srv}
}

func (f *fixture) postRun(t *testing.T, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+"/api/runs", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (f *fixture) get(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestServer_RunThenInspect(t *testing.T) {
	f := newFixture(t)
	graph := json.RawMessage(historyGraph)

	resp, res := f.postRun(t, map[string]any{
		"run_id": "r1", "graph": graph, "conversation_id": "c1",
		"inputs": map[string]any{"message": "hi"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, res)
	assert.Equal(t, "succeeded", res["status"])

	resp, _ = f.postRun(t, map[string]any{
		"graph": graph, "conversation_id": "c1",
		"inputs": map[string]any{"message": "there"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var vars []store.ConversationVariable
	require.Equal(t, http.StatusOK, f.get(t, "/api/conversations/c1/variables", &vars))
	require.Len(t, vars, 1)
	assert.JSONEq(t, `["hi","there"]`, string(vars[0].Value))

	var detail struct {
		Run   store.WorkflowRun           `json:"run"`
		Nodes map[string]*store.NodeState `json:"nodes"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs/r1", &detail))
	assert.Equal(t, schema.RunStatusSucceeded, detail.Run.Status)
	assert.Equal(t, schema.NodeStatusSucceeded, detail.Nodes["remember"].Status)

	var events []store.Event
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs/r1/events?since=1", &events))
	require.NotEmpty(t, events)
	assert.Equal(t, int64(2), events[0].Sequence)

	var runs []store.WorkflowRun
	require.Equal(t, http.StatusOK, f.get(t, "/api/runs?conversation_id=c1&status=succeeded", &runs))
	assert.Len(t, runs, 2)
}

func TestServer_DeleteVariables(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.postRun(t, map[string]any{
		"graph": json.RawMessage(historyGraph), "conversation_id": "c1",
		"inputs": map[string]any{"message": "hi"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/conversations/c1/variables", nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	dresp.Body.Close()
	assert.Equal(t, http.StatusOK, dresp.StatusCode)

	var vars []store.ConversationVariable
	require.Equal(t, http.StatusOK, f.get(t, "/api/conversations/c1/variables", &vars))
	assert.Empty(t, vars)
}

func TestServer_FailedRunIsReportedInResult(t *testing.T) {
	f := newFixture(t)
	resp, res := f.postRun(t, map[string]any{"graph": json.RawMessage(historyGraph), "conversation_id": "c1"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "failed", res["status"])
	assert.Contains(t, res["error"], "message")
}

func TestServer_Errors(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/api/runs", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, body := f.postRun(t, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	assert.Equal(t, map[string]any{"message": "graph is required"}, body["error"])

	r, body = f.postRun(t, map[string]any{"graph": json.RawMessage(`{
	  "nodes": [{"id": "a", "data": {"type": "start"}}, {"id": "b", "data": {"type": "start"}}],
	  "edges": [{"source": "a", "target": "b"}, {"source": "b", "target": "a"}]
	}`)})
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	assert.Contains(t, body, "error")

	var out map[string]any
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/runs/missing", &out))
	assert.Equal(t, schema.ErrCodeNotFound, out["error"].(map[string]any)["code"])
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/runs/missing/events", &out))
}

func TestServer_SSERun(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/sse/runs/r1?event_type=run_succeeded", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		body := `{"run_id": "r1", "conversation_id": "c1", "inputs": {"message": "hi"}, "graph": ` + historyGraph + `}`
		if resp, err := http.Post(f.srv.URL+"/api/runs", "application/json", strings.NewReader(body)); err == nil {
			resp.Body.Close()
		}
	}()

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		if sc.Text() == "" {
			break
		}
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: "+schema.EventRunSucceeded, lines[0])

	var ev streaming.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev))
	assert.Equal(t, "r1", ev.RunID)
}

func TestServer_SSEDisabledWithoutHub(t *testing.T) {
	s := New(Deps{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse/events", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, httpStatus(schema.ErrCodeNotFound))
	assert.Equal(t, http.StatusBadRequest, httpStatus(schema.ErrCodeCycleDetected))
	assert.Equal(t, http.StatusInternalServerError, httpStatus(schema.ErrCodeStore))
}
