package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windlass-dev/windlass/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedDefinition(t *testing.T, s Store, workflowID string) *Definition {
	t.Helper()
	def := &Definition{
		WorkflowID:  workflowID,
		TriggerType: schema.TriggerManual,
		IsActive:    true,
		Definition: schema.WorkflowDefinition{
			Name:        "test-workflow",
			TriggerType: schema.TriggerManual,
			Nodes: []schema.Node{
				{ID: "n1", Type: schema.NodeAction, Position: 1},
			},
		},
	}
	require.NoError(t, s.CreateDefinition(context.Background(), def))
	return def
}

func seedExecution(t *testing.T, s Store, workflowID string) *Execution {
	t.Helper()
	exec := &Execution{
		ID:              uuid.New().String(),
		WorkflowID:      workflowID,
		WorkflowVersion: 1,
		TriggerType:     schema.TriggerManual,
		Status:          schema.ExecutionPending,
		Input:           json.RawMessage(`{"key":"value"}`),
	}
	require.NoError(t, s.CreateExecution(context.Background(), exec))
	return exec
}

// --- Definition Tests ---

func TestCreateDefinition_AssignsVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d1 := seedDefinition(t, s, "wf-1")
	assert.Equal(t, 1, d1.Version)

	d2 := seedDefinition(t, s, "wf-1")
	assert.Equal(t, 2, d2.Version)

	latest, err := s.GetDefinition(ctx, "wf-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	pinned, err := s.GetDefinition(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pinned.Version)

	versions, err := s.ListDefinitionVersions(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestGetDefinition_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDefinition(context.Background(), "nonexistent", 0)
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestSetDefinitionActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDefinition(t, s, "wf-1")

	require.NoError(t, s.SetDefinitionActive(ctx, "wf-1", false))

	active, err := s.ListActiveDefinitions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListActiveDefinitions_LatestVersionOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDefinition(t, s, "wf-1")
	seedDefinition(t, s, "wf-1")

	active, err := s.ListActiveDefinitions(ctx, string(schema.TriggerManual))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Version)
}

func TestFindDefinitionByWebhookToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := &Definition{
		WorkflowID:   "wf-hook",
		TriggerType:  schema.TriggerWebhook,
		WebhookToken: "tok-123",
		IsActive:     true,
		Definition: schema.WorkflowDefinition{
			Name:        "hooked",
			TriggerType: schema.TriggerWebhook,
			Nodes:       []schema.Node{{ID: "n1", Type: schema.NodeAction, Position: 1}},
		},
	}
	require.NoError(t, s.CreateDefinition(ctx, def))

	got, err := s.FindDefinitionByWebhookToken(ctx, "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "wf-hook", got.WorkflowID)

	_, err = s.FindDefinitionByWebhookToken(ctx, "unknown")
	require.Error(t, err)
}

// --- Execution Tests ---

func TestCreateAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := seedExecution(t, s, "wf-1")

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)
	assert.Equal(t, schema.ExecutionPending, got.Status)
	assert.JSONEq(t, `{"key":"value"}`, string(got.Input))
	assert.False(t, got.CancelRequested)
}

func TestClaimExecution_OnlyOnceFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := seedExecution(t, s, "wf-1")

	claimed, err := s.ClaimExecution(ctx, exec.ID, "worker-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	again, err := s.ClaimExecution(ctx, exec.ID, "worker-2")
	require.NoError(t, err)
	assert.False(t, again)

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionRunning, got.Status)
	assert.Equal(t, "worker-1", got.ClaimedBy)
	assert.NotNil(t, got.StartedAt)
}

func TestListClaimable_FIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &Execution{
		ID: "exec-a", WorkflowID: "wf-1", WorkflowVersion: 1,
		TriggerType: schema.TriggerManual, Status: schema.ExecutionPending,
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	second := &Execution{
		ID: "exec-b", WorkflowID: "wf-1", WorkflowVersion: 1,
		TriggerType: schema.TriggerManual, Status: schema.ExecutionPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateExecution(ctx, second))
	require.NoError(t, s.CreateExecution(ctx, first))

	claimable, err := s.ListClaimable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimable, 2)
	assert.Equal(t, "exec-a", claimable[0].ID)
	assert.Equal(t, "exec-b", claimable[1].ID)
}

func TestCancelPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := seedExecution(t, s, "wf-1")

	ok, err := s.CancelPending(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// Once cancelled it cannot be claimed.
	claimed, err := s.ClaimExecution(ctx, exec.ID, "worker-1")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRequestCancel_SetsFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := seedExecution(t, s, "wf-1")

	claimed, err := s.ClaimExecution(ctx, exec.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.RequestCancel(ctx, exec.ID))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, schema.ExecutionRunning, got.Status)
}

func TestUpdateExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := seedExecution(t, s, "wf-1")

	status := schema.ExecutionCompleted
	now := time.Now().UTC()
	node := "n3"
	require.NoError(t, s.UpdateExecution(ctx, exec.ID, ExecutionUpdate{
		Status:        &status,
		Output:        json.RawMessage(`{"result":42}`),
		CurrentNodeID: &node,
		CompletedAt:   &now,
	}))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, got.Status)
	assert.JSONEq(t, `{"result":42}`, string(got.Output))
	assert.Equal(t, "n3", got.CurrentNodeID)
	assert.NotNil(t, got.CompletedAt)
}

func TestListExecutions_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &Execution{
		ID: "exec-old", WorkflowID: "wf-1", WorkflowVersion: 1,
		TriggerType: schema.TriggerManual, Status: schema.ExecutionPending,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	newer := &Execution{
		ID: "exec-new", WorkflowID: "wf-1", WorkflowVersion: 1,
		TriggerType: schema.TriggerManual, Status: schema.ExecutionPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateExecution(ctx, older))
	require.NoError(t, s.CreateExecution(ctx, newer))

	list, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "exec-new", list[0].ID)
	assert.Equal(t, "exec-old", list[1].ID)
}

func TestListOverdueRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := seedExecution(t, s, "wf-1")
	require.NoError(t, s.UpdateExecution(ctx, exec.ID, ExecutionUpdate{}))

	overdue := &Execution{
		ID: "exec-slow", WorkflowID: "wf-1", WorkflowVersion: 1,
		TriggerType: schema.TriggerManual, Status: schema.ExecutionRunning,
		TimeoutSec: 60,
	}
	started := time.Now().UTC().Add(-2 * time.Minute)
	overdue.StartedAt = &started
	require.NoError(t, s.CreateExecution(ctx, overdue))

	within := &Execution{
		ID: "exec-fast", WorkflowID: "wf-1", WorkflowVersion: 1,
		TriggerType: schema.TriggerManual, Status: schema.ExecutionRunning,
		TimeoutSec: 3600,
	}
	within.StartedAt = &started
	require.NoError(t, s.CreateExecution(ctx, within))

	got, err := s.ListOverdueRunning(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "exec-slow", got[0].ID)
}

// --- Dedup Tests ---

func TestPutDedupKey_FirstWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bound, err := s.PutDedupKey(ctx, "key-1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", bound)

	bound, err = s.PutDedupKey(ctx, "key-1", "exec-2")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", bound)
}

// --- Approval Chain Tests ---

func TestApprovalChain_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chain := &ApprovalChain{
		ID:          uuid.New().String(),
		ExecutionID: "exec-1",
		Subject:     "deploy to prod",
		Status:      schema.ChainPending,
		Steps: []schema.ApprovalStep{
			{Sequence: 1, Approver: "alice", Status: schema.StepPending},
			{Sequence: 2, Approver: "bob", Status: schema.StepPending},
		},
	}
	require.NoError(t, s.CreateApprovalChain(ctx, chain))

	got, err := s.GetApprovalChain(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ChainPending, got.Status)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "alice", got.Steps[0].Approver)
	assert.Equal(t, 1, got.RowVersion)
}

func TestUpdateApprovalChain_OptimisticLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chain := &ApprovalChain{
		ID:     uuid.New().String(),
		Status: schema.ChainPending,
		Steps: []schema.ApprovalStep{
			{Sequence: 1, Approver: "alice", Status: schema.StepPending},
		},
	}
	require.NoError(t, s.CreateApprovalChain(ctx, chain))

	stale, err := s.GetApprovalChain(ctx, chain.ID)
	require.NoError(t, err)

	chain.Steps[0].Status = schema.StepApproved
	chain.Status = schema.ChainApproved
	require.NoError(t, s.UpdateApprovalChain(ctx, chain))
	assert.Equal(t, 2, chain.RowVersion)

	stale.Status = schema.ChainRejected
	err = s.UpdateApprovalChain(ctx, stale)
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)
}

func TestListApprovalChains_ByApprover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chain := &ApprovalChain{
		ID:     uuid.New().String(),
		Status: schema.ChainPending,
		Steps: []schema.ApprovalStep{
			{Sequence: 1, Approver: "alice", Status: schema.StepApproved},
			{Sequence: 2, Approver: "bob", Status: schema.StepPending},
		},
	}
	require.NoError(t, s.CreateApprovalChain(ctx, chain))

	forBob, err := s.ListApprovalChains(ctx, ChainFilter{Approver: "bob"})
	require.NoError(t, err)
	assert.Len(t, forBob, 1)

	forAlice, err := s.ListApprovalChains(ctx, ChainFilter{Approver: "alice"})
	require.NoError(t, err)
	assert.Empty(t, forAlice)
}

// --- Stats Tests ---

func TestWorkflowStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute)
	done := time.Now().UTC()
	completed := &Execution{
		ID: "exec-done", WorkflowID: "wf-1", WorkflowVersion: 1,
		TriggerType: schema.TriggerManual, Status: schema.ExecutionCompleted,
		StartedAt: &started, CompletedAt: &done,
	}
	require.NoError(t, s.CreateExecution(ctx, completed))
	seedExecution(t, s, "wf-1")

	stats, err := s.WorkflowStats(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Pending)
	assert.NotNil(t, stats.LastExecutionAt)
}
