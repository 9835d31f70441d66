// Package server exposes runs, their event logs and conversation variables
// over HTTP, with live run events streamed as Server-Sent Events.
package server

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/varflow/internal/engine"
	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/internal/streaming"
	"github.com/rendis/varflow/pkg/schema"
)

// GraphValidator checks a graph before it is run.
type GraphValidator interface {
	ValidateGraph(cfg *schema.GraphConfig) error
}

// Deps holds the dependencies for the server.
type Deps struct {
	Store     store.Store
	Runner    *engine.Runner
	Validator GraphValidator
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)

	mux.HandleFunc("GET /api/conversations/{id}/variables", s.handleListVariables)
	mux.HandleFunc("DELETE /api/conversations/{id}/variables", s.handleDeleteVariables)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
