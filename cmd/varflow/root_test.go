package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleGraph = "../../examples/chat-memory/graph.yaml"

func execute(t *testing.T, cfg Config, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(cfg)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testConfig(t *testing.T) Config {
	return Config{
		DBPath:   filepath.Join(t.TempDir(), "data", "varflow.db"),
		LogLevel: "error",
		PoolSize: 2,
	}
}

func TestRunThenVars(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg, "run", "-g", exampleGraph, "--conversation-id", "demo", "--run-id", "r1", "-i", "message=hello")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Status:  succeeded")
	assert.Contains(t, out, "remember")

	_, err = execute(t, cfg, "run", "-g", exampleGraph, "--conversation-id", "demo", "-i", "message=again", "-i", "turn=2")
	require.NoError(t, err)

	out, err = execute(t, cfg, "vars", "--conversation-id", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, `["hello","again"]`)
	assert.Contains(t, out, `"again"`)
	assert.Contains(t, out, `[1,2]`)

	out, err = execute(t, cfg, "events", "--run-id", "r1")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: succeeded")
	assert.Contains(t, out, "variable_updated")
	assert.Contains(t, out, "run_succeeded")
	for _, id := range []string{"start", "remember", "latest", "count"} {
		assert.Regexp(t, `(?m)^\s+`+id+`\s+succeeded`, out)
	}

	out, err = execute(t, cfg, "vars", "--conversation-id", "demo", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared")
	out, err = execute(t, cfg, "vars", "--conversation-id", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "No variables")
}

func TestRun_MissingRequiredInputFails(t *testing.T) {
	out, err := execute(t, testConfig(t), "run", "-g", exampleGraph, "--conversation-id", "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, "VALIDATION_ERROR")
	assert.Contains(t, out, "skipped")
}

func TestRun_ClearGraphJSON(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, cfg, "run", "-g", exampleGraph, "--conversation-id", "c", "-i", "message=x")
	require.NoError(t, err)

	out, err := execute(t, cfg, "run", "-g", "../../examples/chat-memory/reset.json", "--conversation-id", "c", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "succeeded"`)

	out, err = execute(t, cfg, "vars", "--conversation-id", "c", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "history"`)
	assert.Contains(t, out, `"value": []`)
}

func TestValidate(t *testing.T) {
	out, err := execute(t, testConfig(t), "validate", "-g", exampleGraph)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (4 nodes, 3 edges)")
}

func TestValidate_ReportsIssues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	writeFile(t, path, `{
  "nodes": [
    {"id": "start", "data": {"type": "start"}},
    {"id": "a", "data": {"type": "assigner", "assigned_variable_selector": ["conversation", "nope"], "write_mode": "over_write", "input_variable_selector": ["start", "x"]}}
  ],
  "edges": [{"id": "e1", "source": "start", "target": "a"}]
}`)
	out, err := execute(t, testConfig(t), "validate", "-g", path)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(out, "error "), out)
	assert.Contains(t, out, "RESOLUTION_ERROR")
}

func TestRequiredFlags(t *testing.T) {
	_, err := execute(t, testConfig(t), "run")
	assert.ErrorContains(t, err, `"graph"`)
	_, err = execute(t, testConfig(t), "vars")
	assert.ErrorContains(t, err, `"conversation-id"`)
	_, err = execute(t, testConfig(t), "events")
	assert.ErrorContains(t, err, `"run-id"`)
	_, err = execute(t, testConfig(t), "schedule")
	assert.ErrorContains(t, err, `"graph"`)
	_, err = execute(t, testConfig(t), "diagram")
	assert.ErrorContains(t, err, `"graph"`)
}

func TestSchedule_RejectsBadSchedules(t *testing.T) {
	_, err := execute(t, testConfig(t), "schedule", "-g", exampleGraph, "--cron", "whenever")
	assert.ErrorContains(t, err, "parse cron")

	_, err = execute(t, testConfig(t), "schedule", "-g", exampleGraph, "--conversation-id", "c",
		"--cron", "@hourly", "--vacuum-cron", "nope")
	assert.ErrorContains(t, err, "parse cron")

	_, err = execute(t, testConfig(t), "schedule", "-g", exampleGraph, "--cron", "@hourly", "--when", "true")
	assert.ErrorContains(t, err, "conversation id")
}

func TestEvents_UnknownRun(t *testing.T) {
	_, err := execute(t, testConfig(t), "events", "--run-id", "nope")
	assert.ErrorContains(t, err, "NOT_FOUND")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, testConfig(t), "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestDiagram(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg, "diagram", "-g", exampleGraph)
	require.NoError(t, err)
	assert.Contains(t, out, "=== graph ===")
	assert.Contains(t, out, "append conversation.history <- start.message")
	assert.NotContains(t, out, "[OK]")

	out, err = execute(t, cfg, "diagram", "-g", exampleGraph, "-f", "mermaid")
	require.NoError(t, err)
	assert.Contains(t, out, "start --> remember")
}

func TestDiagram_RunOverlay(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, cfg, "run", "-g", exampleGraph, "--conversation-id", "d", "--run-id", "r1", "-i", "message=hi")
	require.NoError(t, err)

	out, err := execute(t, cfg, "diagram", "-g", exampleGraph, "--run-id", "r1", "-f", "mermaid")
	require.NoError(t, err)
	for _, id := range []string{"start", "remember", "latest", "count"} {
		assert.Contains(t, out, "class "+id+" succeeded")
	}

	_, err = execute(t, cfg, "diagram", "-g", exampleGraph, "--run-id", "missing")
	assert.ErrorContains(t, err, "NOT_FOUND")
}

func TestDiagram_ImageOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.svg")
	out, err := execute(t, testConfig(t), "diagram", "-g", exampleGraph, "-f", "svg", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = execute(t, testConfig(t), "diagram", "-g", exampleGraph, "-f", "png")
	assert.ErrorContains(t, err, "needs --output")
	_, err = execute(t, testConfig(t), "diagram", "-g", exampleGraph, "-f", "dot")
	assert.ErrorContains(t, err, `unknown format "dot"`)
}

func TestServe_StopsOnCancel(t *testing.T) {
	cmd := newRootCmd(testConfig(t))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"serve", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(500 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, out.String(), "Listening on http://127.0.0.1:")
}

func TestServe_BadAddress(t *testing.T) {
	_, err := execute(t, testConfig(t), "serve", "--addr", "not-an-address")
	assert.ErrorContains(t, err, "listen not-an-address")
}
