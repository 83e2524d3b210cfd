package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/windlass-dev/windlass/internal/approval"
	"github.com/windlass-dev/windlass/internal/diagram"
	"github.com/windlass-dev/windlass/internal/dispatch"
	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/pkg/schema"
)

// --- Workflow definitions ---

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var def schema.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	rec, err := s.deps.Definitions.Put(r.Context(), &def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"workflow_id": rec.WorkflowID,
		"version":     rec.Version,
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Definitions.Get(r.Context(), r.PathValue("id"), queryInt(r, "version", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleWorkflowVersions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Definitions.Versions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	s.setWorkflowActive(w, r, true)
}

func (s *Server) handleDeactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	s.setWorkflowActive(w, r, false)
}

func (s *Server) setWorkflowActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := r.PathValue("id")
	var err error
	if active {
		err = s.deps.Definitions.Activate(r.Context(), id)
	} else {
		err = s.deps.Definitions.Deactivate(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow_id": id, "is_active": active})
}

func (s *Server) handleWorkflowStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Engine.WorkflowStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Definitions.Get(r.Context(), r.PathValue("id"), queryInt(r, "version", 0))
	if err != nil {
		writeError(w, err)
		return
	}

	model := diagram.FromDefinition(&rec.Definition)
	var rendered string
	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		rendered = diagram.RenderMermaid(model)
	case "ascii":
		rendered = diagram.RenderASCII(model)
	default:
		writeBadRequest(w, "unknown diagram format "+format)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(rendered))
}

// --- Triggers ---

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Input       json.RawMessage `json:"input,omitempty"`
		TriggeredBy string          `json:"triggered_by,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	executionID, err := s.deps.Engine.TriggerWorkflow(r.Context(), r.PathValue("id"), body.Input, dispatch.TriggerOptions{
		TriggeredBy:    body.TriggeredBy,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": executionID})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "read payload: "+err.Error())
		return
	}

	executionID, err := s.deps.Dispatcher.HandleWebhook(r.Context(),
		r.PathValue("token"),
		r.Header.Get("X-Webhook-Secret"),
		payload,
		r.Header.Get("Idempotency-Key"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": executionID})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventType string          `json:"event_type"`
		Source    string          `json:"source,omitempty"`
		Payload   json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if body.EventType == "" {
		writeBadRequest(w, "event_type is required")
		return
	}

	ids, err := s.deps.Dispatcher.DispatchEvent(r.Context(), body.EventType, body.Source, body.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"execution_ids": ids})
}

func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mailbox string          `json:"mailbox"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if body.Mailbox == "" {
		writeBadRequest(w, "mailbox is required")
		return
	}

	ids, err := s.deps.Dispatcher.DispatchEmail(r.Context(), body.Mailbox, body.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"execution_ids": ids})
}

// --- Executions ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := schema.ExecutionStatus(v)
		filter.Status = &status
	}

	execs, err := s.deps.Engine.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Engine.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Engine.GetExecutionLogs(r.Context(), r.PathValue("id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Engine.CancelExecution(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id})
}

// --- Approval chains ---

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExecutionID string   `json:"execution_id,omitempty"`
		NodeID      string   `json:"node_id,omitempty"`
		Subject     string   `json:"subject,omitempty"`
		Approvers   []string `json:"approvers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	chain, err := s.deps.Engine.CreateApprovalChain(r.Context(), approval.CreateChainRequest{
		ExecutionID: body.ExecutionID,
		NodeID:      body.NodeID,
		Subject:     body.Subject,
		Approvers:   body.Approvers,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chain)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	filter := store.ChainFilter{
		ExecutionID: r.URL.Query().Get("execution_id"),
		Approver:    r.URL.Query().Get("approver"),
		Limit:       queryInt(r, "limit", 50),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := schema.ChainStatus(v)
		filter.Status = &status
	}

	chains, err := s.deps.Engine.ListApprovalChains(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chains)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	chain, err := s.deps.Engine.GetApprovalChain(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StepIndex int             `json:"step_index"`
		Decision  schema.Decision `json:"decision"`
		DecidedBy string          `json:"decided_by"`
		Notes     string          `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	chain, err := s.deps.Engine.DecideApprovalStep(r.Context(), r.PathValue("id"),
		body.StepIndex, body.Decision, body.DecidedBy, body.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

// --- Action catalog ---

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}
