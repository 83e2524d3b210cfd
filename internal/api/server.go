// Package api exposes the engine over HTTP: a JSON API for the caller
// surface, inbound webhook and event endpoints for the dispatcher, and SSE
// tails of the execution log.
package api

import (
	"log/slog"
	"net/http"

	"github.com/windlass-dev/windlass/internal/actions"
	"github.com/windlass-dev/windlass/internal/definitions"
	"github.com/windlass-dev/windlass/internal/dispatch"
	"github.com/windlass-dev/windlass/internal/engine"
	"github.com/windlass-dev/windlass/internal/streaming"
)

// Deps holds the collaborators the server routes to.
type Deps struct {
	Engine      *engine.Service
	Dispatcher  *dispatch.Dispatcher
	Definitions *definitions.Service
	Registry    *actions.Registry
	Hub         streaming.Hub
	Logger      *slog.Logger
}

// Server is the HTTP front of the engine.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Workflow definitions.
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/versions", s.handleWorkflowVersions)
	mux.HandleFunc("POST /api/workflows/{id}/activate", s.handleActivateWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/deactivate", s.handleDeactivateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/stats", s.handleWorkflowStats)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleWorkflowDiagram)

	// Triggers.
	mux.HandleFunc("POST /api/workflows/{id}/trigger", s.handleTrigger)
	mux.HandleFunc("POST /webhooks/{token}", s.handleWebhook)
	mux.HandleFunc("POST /api/events", s.handleEvent)
	mux.HandleFunc("POST /api/email", s.handleEmail)

	// Executions.
	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/log", s.handleExecutionLog)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancelExecution)
	mux.HandleFunc("GET /api/executions/{id}/events", s.handleExecutionEvents)

	// Approval chains.
	mux.HandleFunc("POST /api/approvals", s.handleCreateApproval)
	mux.HandleFunc("GET /api/approvals", s.handleListApprovals)
	mux.HandleFunc("GET /api/approvals/{id}", s.handleGetApproval)
	mux.HandleFunc("POST /api/approvals/{id}/decide", s.handleDecideApproval)

	// Action catalog.
	mux.HandleFunc("GET /api/actions", s.handleListActions)

	return mux
}
