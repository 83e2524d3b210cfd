package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windlass-dev/windlass/internal/actions"
	"github.com/windlass-dev/windlass/internal/approval"
	"github.com/windlass-dev/windlass/internal/definitions"
	"github.com/windlass-dev/windlass/internal/dispatch"
	"github.com/windlass-dev/windlass/internal/engine"
	"github.com/windlass-dev/windlass/internal/expressions"
	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/internal/streaming"
	"github.com/windlass-dev/windlass/internal/validation"
	"github.com/windlass-dev/windlass/pkg/schema"
)

type apiRig struct {
	server *httptest.Server
	engine *engine.Service
	hub    *streaming.MemoryHub
	store  store.Store
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	hub := streaming.NewMemoryHub()
	st := streaming.NewLogFanout(store.NewMemoryStore(), hub)

	registry := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(registry, actions.HTTPConfig{}, nil))

	exprs, err := expressions.NewRegistry()
	require.NoError(t, err)
	validator, err := validation.NewValidator(registry)
	require.NoError(t, err)

	defs := definitions.NewService(st, validator, nil)
	dispatcher := dispatch.NewDispatcher(st, defs, clock.New(), nil)
	approvals := approval.NewEngine(st, clock.New(), nil, nil)
	interp := engine.NewInterpreter(st, registry, exprs, actions.NewNotifierMux(nil), nil)
	svc := engine.NewService(st, defs, dispatcher, approvals, interp, clock.New(), engine.Config{PoolSize: 2}, nil)

	server := httptest.NewServer(NewServer(Deps{
		Engine:      svc,
		Dispatcher:  dispatcher,
		Definitions: defs,
		Registry:    registry,
		Hub:         hub,
	}).Handler())
	t.Cleanup(server.Close)

	return &apiRig{server: server, engine: svc, hub: hub, store: st}
}

func (r *apiRig) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.server.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (r *apiRig) createWorkflow(t *testing.T, def *schema.WorkflowDefinition) string {
	t.Helper()
	resp, body := r.do(t, http.MethodPost, "/api/workflows", def, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created struct {
		WorkflowID string `json:"workflow_id"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	return created.WorkflowID
}

func logWorkflow(name string) *schema.WorkflowDefinition {
	cfg, _ := json.Marshal(schema.ActionConfig{Name: "core.log", Params: map[string]any{"message": "hi"}})
	return &schema.WorkflowDefinition{
		Name:        name,
		TriggerType: schema.TriggerManual,
		Nodes: []schema.Node{
			{ID: "say", Type: schema.NodeAction, Position: 1, Config: cfg},
		},
	}
}

func TestCreateWorkflow(t *testing.T) {
	r := newAPIRig(t)

	t.Run("valid definition stored", func(t *testing.T) {
		id := r.createWorkflow(t, logWorkflow("greeter"))
		assert.NotEmpty(t, id)

		resp, body := r.do(t, http.MethodGet, "/api/workflows/"+id, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var rec store.Definition
		require.NoError(t, json.Unmarshal(body, &rec))
		assert.Equal(t, 1, rec.Version)
		assert.True(t, rec.IsActive)
	})

	t.Run("invalid definition rejected with violations", func(t *testing.T) {
		def := logWorkflow("broken")
		def.Nodes[0].Config, _ = json.Marshal(schema.ActionConfig{Name: "no.such.action"})

		resp, body := r.do(t, http.MethodPost, "/api/workflows", def, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), schema.ErrCodeValidation)
	})

	t.Run("unknown workflow is 404", func(t *testing.T) {
		resp, _ := r.do(t, http.MethodGet, "/api/workflows/ghost", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestTriggerAndExecutionLifecycle(t *testing.T) {
	r := newAPIRig(t)
	id := r.createWorkflow(t, logWorkflow("runner"))

	resp, body := r.do(t, http.MethodPost, "/api/workflows/"+id+"/trigger",
		map[string]any{"input": map[string]any{"k": "v"}}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var triggered struct {
		ExecutionID string `json:"execution_id"`
	}
	require.NoError(t, json.Unmarshal(body, &triggered))

	require.NoError(t, r.engine.DrainPending(context.Background()))

	resp, body = r.do(t, http.MethodGet, "/api/executions/"+triggered.ExecutionID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exec store.Execution
	require.NoError(t, json.Unmarshal(body, &exec))
	assert.Equal(t, schema.ExecutionCompleted, exec.Status)

	resp, body = r.do(t, http.MethodGet, "/api/executions/"+triggered.ExecutionID+"/log", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []store.LogEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	assert.NotEmpty(t, entries)

	resp, body = r.do(t, http.MethodGet, "/api/executions?workflow_id="+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var execs []store.Execution
	require.NoError(t, json.Unmarshal(body, &execs))
	assert.Len(t, execs, 1)
}

func TestTrigger_IdempotencyKeyHeader(t *testing.T) {
	r := newAPIRig(t)
	id := r.createWorkflow(t, logWorkflow("once"))
	headers := map[string]string{"Idempotency-Key": "req-7"}

	_, body := r.do(t, http.MethodPost, "/api/workflows/"+id+"/trigger", nil, headers)
	var first struct {
		ExecutionID string `json:"execution_id"`
	}
	require.NoError(t, json.Unmarshal(body, &first))

	_, body = r.do(t, http.MethodPost, "/api/workflows/"+id+"/trigger", nil, headers)
	var second struct {
		ExecutionID string `json:"execution_id"`
	}
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, first.ExecutionID, second.ExecutionID)
}

func TestCancelExecution(t *testing.T) {
	r := newAPIRig(t)
	id := r.createWorkflow(t, logWorkflow("stopped"))

	_, body := r.do(t, http.MethodPost, "/api/workflows/"+id+"/trigger", nil, nil)
	var triggered struct {
		ExecutionID string `json:"execution_id"`
	}
	require.NoError(t, json.Unmarshal(body, &triggered))

	resp, _ := r.do(t, http.MethodPost, "/api/executions/"+triggered.ExecutionID+"/cancel", nil, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// A second cancel hits a terminal execution.
	resp, body = r.do(t, http.MethodPost, "/api/executions/"+triggered.ExecutionID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), schema.ErrCodeInvalidTransition)
}

func TestWebhookEndpoint(t *testing.T) {
	r := newAPIRig(t)

	def := logWorkflow("hooked")
	def.TriggerType = schema.TriggerWebhook
	id := r.createWorkflow(t, def)

	_, body := r.do(t, http.MethodGet, "/api/workflows/"+id, nil, nil)
	var rec store.Definition
	require.NoError(t, json.Unmarshal(body, &rec))
	require.NotEmpty(t, rec.WebhookToken)

	var cfg schema.WebhookTriggerConfig
	require.NoError(t, json.Unmarshal(rec.Definition.TriggerConfig, &cfg))

	t.Run("valid secret accepted", func(t *testing.T) {
		resp, _ := r.do(t, http.MethodPost, "/webhooks/"+rec.WebhookToken,
			map[string]any{"event": "push"}, map[string]string{"X-Webhook-Secret": cfg.Secret})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		resp, _ := r.do(t, http.MethodPost, "/webhooks/"+rec.WebhookToken,
			map[string]any{"event": "push"}, map[string]string{"X-Webhook-Secret": "nope"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown token is 404", func(t *testing.T) {
		resp, _ := r.do(t, http.MethodPost, "/webhooks/ghost", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestEventEndpoint(t *testing.T) {
	r := newAPIRig(t)

	def := logWorkflow("on-signup")
	def.TriggerType = schema.TriggerEvent
	def.TriggerConfig, _ = json.Marshal(schema.EventTriggerConfig{EventType: "user.signup"})
	r.createWorkflow(t, def)

	resp, body := r.do(t, http.MethodPost, "/api/events",
		map[string]any{"event_type": "user.signup", "source": "web"}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		ExecutionIDs []string `json:"execution_ids"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.ExecutionIDs, 1)

	resp, _ = r.do(t, http.MethodPost, "/api/events", map[string]any{"source": "web"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApprovalEndpoints(t *testing.T) {
	r := newAPIRig(t)

	resp, body := r.do(t, http.MethodPost, "/api/approvals",
		map[string]any{"subject": "deploy", "approvers": []string{"alice", "bob"}}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var chain store.ApprovalChain
	require.NoError(t, json.Unmarshal(body, &chain))
	require.Len(t, chain.Steps, 2)

	t.Run("out of order decision is conflict", func(t *testing.T) {
		resp, body := r.do(t, http.MethodPost, "/api/approvals/"+chain.ID+"/decide",
			map[string]any{"step_index": 1, "decision": "approve", "decided_by": "bob"}, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Contains(t, string(body), schema.ErrCodeOutOfOrder)
	})

	t.Run("in order decisions approve the chain", func(t *testing.T) {
		resp, _ := r.do(t, http.MethodPost, "/api/approvals/"+chain.ID+"/decide",
			map[string]any{"step_index": 0, "decision": "approve", "decided_by": "alice"}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := r.do(t, http.MethodPost, "/api/approvals/"+chain.ID+"/decide",
			map[string]any{"step_index": 1, "decision": "approve", "decided_by": "bob"}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var updated store.ApprovalChain
		require.NoError(t, json.Unmarshal(body, &updated))
		assert.Equal(t, schema.ChainApproved, updated.Status)
	})

	t.Run("get and list", func(t *testing.T) {
		resp, _ := r.do(t, http.MethodGet, "/api/approvals/"+chain.ID, nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := r.do(t, http.MethodGet, "/api/approvals?approver=alice", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var chains []store.ApprovalChain
		require.NoError(t, json.Unmarshal(body, &chains))
		assert.NotEmpty(t, chains)
	})
}

func TestWorkflowDiagramEndpoint(t *testing.T) {
	r := newAPIRig(t)
	id := r.createWorkflow(t, logWorkflow("drawn"))

	resp, body := r.do(t, http.MethodGet, "/api/workflows/"+id+"/diagram", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "graph TD")

	resp, body = r.do(t, http.MethodGet, "/api/workflows/"+id+"/diagram?format=ascii", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "=== drawn ===")

	resp, _ = r.do(t, http.MethodGet, "/api/workflows/"+id+"/diagram?format=png", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListActionsEndpoint(t *testing.T) {
	r := newAPIRig(t)

	resp, body := r.do(t, http.MethodGet, "/api/actions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []actions.ActionInfo
	require.NoError(t, json.Unmarshal(body, &infos))
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "core.log")
	assert.Contains(t, names, "http.request")
}

func TestExecutionEventsSSE(t *testing.T) {
	r := newAPIRig(t)
	id := r.createWorkflow(t, logWorkflow("streamed"))

	_, body := r.do(t, http.MethodPost, "/api/workflows/"+id+"/trigger", nil, nil)
	var triggered struct {
		ExecutionID string `json:"execution_id"`
	}
	require.NoError(t, json.Unmarshal(body, &triggered))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/executions/%s/events", r.server.URL, triggered.ExecutionID), nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	done := make(chan error, 1)
	go func() { done <- r.engine.DrainPending(context.Background()) }()

	reader := bufio.NewReader(resp.Body)
	var events []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
		}
		if len(events) > 0 && events[len(events)-1] == store.EventExecutionCompleted {
			break
		}
	}

	require.NoError(t, <-done)
	assert.Contains(t, events, store.EventExecutionStarted)
	assert.Contains(t, events, store.EventNodeCompleted)
}
