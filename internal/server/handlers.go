package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rendis/varflow/internal/engine"
	"github.com/rendis/varflow/internal/graph"
	"github.com/rendis/varflow/internal/logging"
	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/pkg/schema"
)

// runRequest is the body of POST /api/runs.
type runRequest struct {
	RunID          string              `json:"run_id"`
	Graph          *schema.GraphConfig `json:"graph"`
	ConversationID string              `json:"conversation_id"`
	Query          string              `json:"query"`
	Inputs         map[string]any      `json:"inputs"`
	DialogueCount  int                 `json:"dialogue_count"`
	UserID         string              `json:"user_id"`
	AppID          string              `json:"app_id"`
	WorkflowID     string              `json:"workflow_id"`
}

// handleCreateRun validates and runs a graph synchronously. Node failures
// are reported in the result; only setup failures produce an error status.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Graph == nil {
		writeError(w, http.StatusBadRequest, "graph is required")
		return
	}
	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateGraph(body.Graph); err != nil {
			writeErr(w, err)
			return
		}
	}

	workflowType := schema.WorkflowTypeWorkflow
	if body.ConversationID != "" {
		workflowType = schema.WorkflowTypeChat
	}
	res, err := s.deps.Runner.Run(ctx, engine.RunRequest{
		RunID: body.RunID,
		Graph: body.Graph,
		Params: graph.InitParams{
			AppID:        body.AppID,
			WorkflowID:   body.WorkflowID,
			UserID:       body.UserID,
			WorkflowType: workflowType,
			UserFrom:     schema.UserFromEndUser,
			InvokeFrom:   schema.InvokeFromServiceAPI,
		},
		ConversationID: body.ConversationID,
		Query:          body.Query,
		Inputs:         body.Inputs,
		DialogueCount:  body.DialogueCount,
	})
	if err != nil {
		logging.LogWith(ctx, s.deps.Logger).Warn("run setup failed", slog.String("error", err.Error()))
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		ConversationID: q.Get("conversation_id"),
		Limit:          queryInt(r, "limit", 50),
	}
	if status := q.Get("status"); status != "" {
		st := schema.RunStatus(status)
		filter.Status = &st
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []*store.WorkflowRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns the run record and the node states replayed from
// its event log.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	run, err := s.deps.Store.GetRun(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	events, err := s.deps.Store.GetEvents(ctx, id, 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	states, err := store.Replay(id, events)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "nodes": states})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if _, err := s.deps.Store.GetRun(ctx, id); err != nil {
		writeErr(w, err)
		return
	}
	events, err := s.deps.Store.GetEvents(ctx, id, int64(queryInt(r, "since", 0)))
	if err != nil {
		writeErr(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Store.ListConversationVariables(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if rows == nil {
		rows = []*store.ConversationVariable{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDeleteVariables(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteConversationVariables(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "conversation_id": id})
}
