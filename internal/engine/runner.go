package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/varflow/internal/convvar"
	"github.com/rendis/varflow/internal/graph"
	"github.com/rendis/varflow/internal/logging"
	"github.com/rendis/varflow/internal/nodes"
	"github.com/rendis/varflow/internal/pool"
	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/internal/streaming"
	"github.com/rendis/varflow/internal/system"
	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// DefaultPoolSize bounds concurrent nodes within a level.
const DefaultPoolSize = 4

// RunRequest describes one workflow run.
type RunRequest struct {
	// RunID is generated when empty.
	RunID          string
	Graph          *schema.GraphConfig
	Params         graph.InitParams
	ConversationID string
	Query          string
	Inputs         map[string]any
	DialogueCount  int
}

// RunResult is the outcome of a run.
type RunResult struct {
	RunID      string                          `json:"run_id"`
	Status     schema.RunStatus                `json:"status"`
	Nodes      map[string]*nodes.NodeRunResult `json:"nodes"`
	Outputs    map[string]any                  `json:"outputs,omitempty"`
	Error      string                          `json:"error,omitempty"`
	TotalSteps int64                           `json:"total_steps"`
	Elapsed    time.Duration                   `json:"elapsed"`
}

// Runner executes graphs level by level. Nodes of one level run
// concurrently; a level with a failed node ends the run and every node
// not yet executed is skipped.
type Runner struct {
	registry *nodes.Registry
	store    store.Store
	appender EventAppender
	hub      streaming.EventHub
	factory  convvar.Factory
	poolSize int
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore persists runs, conversation variables and events in s.
func WithStore(s store.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithEventAppender overrides where node events are recorded.
// By default they go to the store, when one is set.
func WithEventAppender(a EventAppender) Option {
	return func(r *Runner) { r.appender = a }
}

// WithHub publishes run events to h.
func WithHub(h streaming.EventHub) Option {
	return func(r *Runner) { r.hub = h }
}

// WithUpdaterFactory overrides the conversation variable updater handed to
// nodes. By default updaters write to the store.
func WithUpdaterFactory(f convvar.Factory) Option {
	return func(r *Runner) { r.factory = f }
}

// WithPoolSize sets the per-level concurrency.
func WithPoolSize(n int) Option {
	return func(r *Runner) { r.poolSize = n }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner over registry.
func NewRunner(registry *nodes.Registry, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		poolSize: DefaultPoolSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.appender == nil && r.store != nil {
		r.appender = r.store
	}
	if r.appender != nil {
		r.appender = &serialAppender{inner: r.appender}
	}
	if r.factory == nil && r.store != nil {
		r.factory = convvar.NewStoreFactory(r.store, r.logger)
	}
	return r
}

// run is the mutable state of one execution.
type run struct {
	id      string
	graph   *graph.Graph
	state   *graph.RuntimeState
	params  graph.InitParams
	nodeFSM *NodeFSM

	mu       sync.Mutex
	statuses map[string]schema.NodeStatus
	results  map[string]*nodes.NodeRunResult
	err      error
}

func (x *run) status(id string) schema.NodeStatus {
	x.mu.Lock()
	defer x.mu.Unlock()
	if s, ok := x.statuses[id]; ok {
		return s
	}
	return schema.NodeStatusPending
}

func (x *run) finish(id string, result *nodes.NodeRunResult) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.statuses[id] = result.Status
	x.results[id] = result
}

// fail records the first run-level error.
func (x *run) fail(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err == nil {
		x.err = err
	}
}

func (x *run) failure() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Run executes req. The returned error covers setup only: an invalid graph,
// unreadable conversation state, or a run record that cannot be created.
// Node failures are reported through RunResult.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Graph == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "run request has no graph")
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logging.WithRunID(ctx, runID)
	if req.ConversationID != "" {
		ctx = logging.WithConversationID(ctx, req.ConversationID)
	}
	logger := logging.LogWith(ctx, r.logger)

	g, err := graph.Init(req.Graph)
	if err != nil {
		return nil, err
	}
	env, err := convvar.FromSpecs(variables.ScopeEnvironment, req.Graph.EnvironmentVariables)
	if err != nil {
		return nil, err
	}
	var repo convvar.Repository
	if r.store != nil {
		repo = r.store
	}
	conv, err := convvar.Load(ctx, repo, req.ConversationID, req.Graph.ConversationVariables, r.logger)
	if err != nil {
		return nil, err
	}

	params := req.Params
	params.GraphConfig = req.Graph
	vp, err := pool.New(pool.Options{
		System: system.SystemVariable{
			UserID:         params.UserID,
			AppID:          params.AppID,
			WorkflowID:     params.WorkflowID,
			WorkflowRunID:  runID,
			Query:          req.Query,
			ConversationID: req.ConversationID,
			DialogueCount:  req.DialogueCount,
		},
		UserInputs:   req.Inputs,
		Environment:  env,
		Conversation: conv,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if r.store != nil {
		inputs, _ := json.Marshal(req.Inputs)
		if err := r.store.CreateRun(ctx, &store.WorkflowRun{
			ID:             runID,
			TenantID:       params.TenantID,
			AppID:          params.AppID,
			WorkflowID:     params.WorkflowID,
			ConversationID: req.ConversationID,
			Status:         schema.RunStatusRunning,
			Inputs:         inputs,
		}); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "create run %s", runID).WithCause(err)
		}
	}

	runFSM := NewRunFSM(r.appender)
	x := &run{
		id:       runID,
		graph:    g,
		state:    graph.NewRuntimeState(vp, start),
		params:   params,
		nodeFSM:  NewNodeFSM(r.appender),
		statuses: make(map[string]schema.NodeStatus, len(g.Nodes)),
		results:  make(map[string]*nodes.NodeRunResult, len(g.Nodes)),
	}

	startPayload := map[string]any{"node_count": len(g.Nodes), "levels": len(g.Levels)}
	if err := runFSM.Start(ctx, runID, startPayload); err != nil {
		x.fail(err)
	}
	r.publish(ctx, runID, "", schema.EventRunStarted, startPayload)
	logger.Info("run started", slog.Int("nodes", len(g.Nodes)), slog.Int("levels", len(g.Levels)))

	if x.failure() == nil {
		r.walk(ctx, x)
	}
	r.skipRemaining(ctx, x)
	return r.complete(ctx, x, runFSM, logger), nil
}

// walk executes levels in order until one of them has a failure.
func (r *Runner) walk(ctx context.Context, x *run) {
	wp := NewWorkerPool(r.poolSize)
	defer func() {
		wp.Shutdown()
		m := wp.Metrics()
		logging.LogWith(ctx, r.logger).Debug("node pool drained",
			slog.Int64("succeeded", m.Succeeded), slog.Int64("failed", m.Failed), slog.Int64("panics", m.Panics))
	}()

	for i, level := range x.graph.Levels {
		if err := ctx.Err(); err != nil {
			x.fail(schema.NewError(schema.ErrCodeCancelled, err.Error()).WithCause(err))
			return
		}

		scheduled := true
		for _, id := range level {
			if !r.ready(x, id) {
				continue
			}
			err := wp.Submit(ctx, id, func(ctx context.Context) *nodes.NodeRunResult {
				return r.executeNode(ctx, x, id)
			})
			if err != nil {
				logging.LogWith(ctx, r.logger).Warn("level not fully scheduled",
					slog.Int("level", i), slog.String("node", id), slog.Any("running", wp.Running()))
				x.fail(schema.NewErrorf(schema.ErrCodeCancelled, "level %d not scheduled: %s", i, err.Error()).WithCause(err))
				scheduled = false
				break
			}
		}
		failed := wp.Wait()

		if !scheduled || len(failed) > 0 {
			if x.failure() == nil {
				x.fail(r.firstNodeError(x, failed))
			}
			return
		}
	}
}

// ready reports whether every predecessor of id succeeded. A node that is
// not ready is skipped.
func (r *Runner) ready(x *run, id string) bool {
	for _, e := range x.graph.Incoming[id] {
		if x.status(e.Source) != schema.NodeStatusSucceeded {
			return false
		}
	}
	return true
}

func (r *Runner) firstNodeError(x *run, failed []string) error {
	for _, id := range failed {
		x.mu.Lock()
		res := x.results[id]
		x.mu.Unlock()
		if res != nil && res.Status == schema.NodeStatusFailed {
			return schema.NewError(schema.ErrCodeNodeFailed, res.Error).WithNode(id).
				WithDetails(map[string]any{"error_type": res.ErrorType})
		}
	}
	if len(failed) > 0 {
		return schema.NewErrorf(schema.ErrCodeNodeFailed, "node %s did not complete", failed[0]).WithNode(failed[0])
	}
	return schema.NewError(schema.ErrCodeNodeFailed, "level failed")
}

// executeNode runs one node to completion and commits its outputs.
func (r *Runner) executeNode(ctx context.Context, x *run, id string) *nodes.NodeRunResult {
	ctx = logging.WithNodeID(ctx, id)
	logger := logging.LogWith(ctx, r.logger)
	cfg := x.graph.Nodes[id]

	startPayload := map[string]any{"node_type": cfg.Data.Type, "title": cfg.Data.Title}
	if err := x.nodeFSM.Transition(ctx, x.id, id, schema.NodeStatusPending, schema.NodeStatusRunning, startPayload); err != nil {
		x.fail(err)
		result := nodes.Failed(err, nil)
		x.finish(id, result)
		return result
	}
	r.publish(ctx, x.id, id, schema.EventNodeStarted, startPayload)

	result := r.consume(ctx, x, id, cfg)
	if result.Status == schema.NodeStatusSucceeded {
		if err := r.commitOutputs(x, id, result.Outputs); err != nil {
			result = nodes.Failed(err, result.Inputs)
		}
	}

	if result.Status == schema.NodeStatusSucceeded {
		x.state.IncrementNodeRunSteps()
		if len(x.graph.Outgoing[id]) == 0 {
			x.state.SetOutput(id, result.Outputs)
		}
		r.transitionNode(ctx, x, id, schema.NodeStatusSucceeded, result)
		r.publish(ctx, x.id, id, schema.EventNodeSucceeded, result)
		r.recordVariableUpdate(ctx, x, id, result)
		logger.Debug("node succeeded", slog.Duration("elapsed", result.ElapsedTime))
	} else {
		failure := map[string]any{"error": result.Error, "error_type": result.ErrorType}
		r.transitionNode(ctx, x, id, schema.NodeStatusFailed, failure)
		r.publish(ctx, x.id, id, schema.EventNodeFailed, failure)
		logger.Warn("node failed", slog.String("error", result.Error), slog.String("error_type", result.ErrorType))
	}

	x.finish(id, result)
	return result
}

// consume builds the node and drains its stream, forwarding chunks to the hub.
func (r *Runner) consume(ctx context.Context, x *run, id string, cfg *schema.NodeConfig) *nodes.NodeRunResult {
	node, err := r.registry.New(nodes.Params{
		Config:                cfg,
		InitParams:            x.params,
		Graph:                 x.graph,
		RuntimeState:          x.state,
		ConvVarUpdaterFactory: r.factory,
	})
	if err != nil {
		return nodes.Failed(err, nil)
	}

	var result *nodes.NodeRunResult
	for ev := range node.Run(ctx) {
		switch e := ev.(type) {
		case nodes.RunStreamChunkEvent:
			r.publish(ctx, x.id, id, schema.EventNodeStreamChunk, map[string]any{
				"selector": e.Selector,
				"chunk":    e.Chunk,
			})
		case nodes.RunCompletedEvent:
			result = e.Result
		}
	}
	if result == nil {
		return nodes.Failed(schema.NewError(schema.ErrCodeExecution, "node stream ended without a result").WithNode(id), nil)
	}
	return result
}

// commitOutputs writes every output under [node_id, key].
func (r *Runner) commitOutputs(x *run, id string, outputs map[string]any) error {
	for _, key := range slices.Sorted(maps.Keys(outputs)) {
		if err := x.state.VariablePool.AddValue(variables.NewSelector(id, key), outputs[key]); err != nil {
			return schema.NewErrorf(schema.ErrCodeTypeMismatch, "output %q: %s", key, err.Error()).WithNode(id).WithCause(err)
		}
	}
	return nil
}

func (r *Runner) transitionNode(ctx context.Context, x *run, id string, to schema.NodeStatus, payload any) {
	if err := x.nodeFSM.Transition(ctx, x.id, id, schema.NodeStatusRunning, to, payload); err != nil {
		logging.LogWith(ctx, r.logger).Error("record node transition", slog.String("to", string(to)), slog.String("error", err.Error()))
		x.fail(err)
	}
}

// recordVariableUpdate emits variable_updated for nodes that report an
// assigned selector.
func (r *Runner) recordVariableUpdate(ctx context.Context, x *run, id string, result *nodes.NodeRunResult) {
	sel, ok := result.ProcessData["assigned_variable_selector"]
	if !ok {
		return
	}
	payload := map[string]any{
		"selector":   sel,
		"write_mode": result.ProcessData["write_mode"],
		"value":      result.Outputs["value"],
	}
	if r.appender != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			err = r.appender.AppendEvent(ctx, &store.Event{
				RunID: x.id, NodeID: id, Type: schema.EventVariableUpdated, Payload: raw,
			})
		}
		if err != nil {
			logging.LogWith(ctx, r.logger).Warn("record variable update", slog.String("error", err.Error()))
		}
	}
	r.publish(ctx, x.id, id, schema.EventVariableUpdated, payload)
}

// skipRemaining marks every node that never ran as skipped.
func (r *Runner) skipRemaining(ctx context.Context, x *run) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range x.graph.Sorted {
		if x.status(id) != schema.NodeStatusPending {
			continue
		}
		if err := x.nodeFSM.Transition(ctx, x.id, id, schema.NodeStatusPending, schema.NodeStatusSkipped, nil); err != nil {
			x.fail(err)
		}
		x.finish(id, &nodes.NodeRunResult{Status: schema.NodeStatusSkipped})
		r.publish(ctx, x.id, id, schema.EventNodeSkipped, nil)
	}
}

// complete records the terminal run state. It runs even when ctx is
// cancelled so the run record is always closed.
func (r *Runner) complete(ctx context.Context, x *run, runFSM *RunFSM, logger *slog.Logger) *RunResult {
	ctx = context.WithoutCancel(ctx)

	res := &RunResult{
		RunID:      x.id,
		Status:     schema.RunStatusSucceeded,
		Outputs:    x.state.Outputs(),
		TotalSteps: x.state.NodeRunSteps(),
		Elapsed:    x.state.Elapsed(),
	}
	x.mu.Lock()
	res.Nodes = maps.Clone(x.results)
	x.mu.Unlock()

	eventType := schema.EventRunSucceeded
	payload := map[string]any{"outputs": res.Outputs, "total_steps": res.TotalSteps}
	if err := x.failure(); err != nil {
		res.Status = schema.RunStatusFailed
		res.Error = err.Error()
		eventType = schema.EventRunFailed
		payload = map[string]any{"error": res.Error, "error_type": schema.CodeOf(err)}
	}

	if err := runFSM.Transition(ctx, x.id, schema.RunStatusRunning, res.Status, payload); err != nil {
		logger.Error("record run transition", slog.String("error", err.Error()))
	}

	if r.store != nil {
		outputs, _ := json.Marshal(res.Outputs)
		now := time.Now().UTC()
		elapsed := res.Elapsed.Milliseconds()
		update := store.RunUpdate{
			Status:     &res.Status,
			Outputs:    outputs,
			TotalSteps: &res.TotalSteps,
			ElapsedMs:  &elapsed,
			FinishedAt: &now,
		}
		if res.Error != "" {
			update.Error = &res.Error
		}
		if err := r.store.UpdateRun(ctx, x.id, update); err != nil {
			logger.Error("update run record", slog.String("error", err.Error()))
		}
	}
	r.publish(ctx, x.id, "", eventType, payload)

	logger.Info("run finished",
		slog.String("status", string(res.Status)),
		slog.Int64("steps", res.TotalSteps),
		slog.Duration("elapsed", res.Elapsed))
	return res
}

func (r *Runner) publish(ctx context.Context, runID, nodeID, eventType string, payload any) {
	if r.hub == nil {
		return
	}
	err := r.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
		RunID:     runID,
		NodeID:    nodeID,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		r.logger.DebugContext(ctx, "publish event", slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}

// serialAppender orders appends from concurrently running nodes so the
// per-run sequence is assigned without contention.
type serialAppender struct {
	mu    sync.Mutex
	inner EventAppender
}

func (a *serialAppender) AppendEvent(ctx context.Context, event *store.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.AppendEvent(ctx, event)
}
