// Package approval implements ordered approval chains: a constrained
// interpreter for strictly sequential human decision steps gating a request.
package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/pkg/schema"
)

// DefaultDueIn is how long after creation a step's informational due date is
// set. Due dates are surfaced for external escalation, never enforced here.
const DefaultDueIn = 48 * time.Hour

// StepNotifier is told when a step becomes the chain's active pending step.
// Delivery failures are logged, not propagated; approval state never depends
// on notification success.
type StepNotifier interface {
	NotifyStep(ctx context.Context, chain *store.ApprovalChain, step *schema.ApprovalStep) error
}

// Engine drives approval chain state.
type Engine struct {
	store    store.Store
	clock    clock.Clock
	notifier StepNotifier
	logger   *slog.Logger
}

// NewEngine creates an approval Engine. notifier may be nil.
func NewEngine(st store.Store, clk clock.Clock, notifier StepNotifier, logger *slog.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, clock: clk, notifier: notifier, logger: logger}
}

// CreateChainRequest describes a new approval chain. Approvers decide in the
// order given.
type CreateChainRequest struct {
	ExecutionID string
	NodeID      string
	Subject     string
	Approvers   []string
	DueIn       time.Duration // per-step due window (informational; default 48h)
}

// CreateChain persists a new chain with one pending step per approver. A
// chain with zero approvers is auto-approved immediately.
func (e *Engine) CreateChain(ctx context.Context, req CreateChainRequest) (*store.ApprovalChain, error) {
	dueIn := req.DueIn
	if dueIn <= 0 {
		dueIn = DefaultDueIn
	}
	now := e.clock.Now().UTC()
	dueAt := now.Add(dueIn)

	steps := make([]schema.ApprovalStep, 0, len(req.Approvers))
	for i, approver := range req.Approvers {
		steps = append(steps, schema.ApprovalStep{
			Sequence: i + 1,
			Approver: approver,
			Status:   schema.StepPending,
			DueAt:    &dueAt,
		})
	}

	chain := &store.ApprovalChain{
		ID:          uuid.NewString(),
		ExecutionID: req.ExecutionID,
		NodeID:      req.NodeID,
		Subject:     req.Subject,
		Status:      schema.ChainPending,
		Steps:       steps,
	}
	if len(steps) == 0 {
		chain.Status = schema.ChainApproved
		completed := now
		chain.CompletedAt = &completed
	}

	if err := e.store.CreateApprovalChain(ctx, chain); err != nil {
		return nil, err
	}

	if err := e.logChainEvent(ctx, chain, store.EventApprovalRequested, "approval chain created"); err != nil {
		return nil, err
	}
	if len(steps) > 0 {
		e.notifyStep(ctx, chain, &chain.Steps[0])
	}
	return chain, nil
}

// GetChain returns one chain by ID.
func (e *Engine) GetChain(ctx context.Context, id string) (*store.ApprovalChain, error) {
	return e.store.GetApprovalChain(ctx, id)
}

// ListChains returns chains matching the filter.
func (e *Engine) ListChains(ctx context.Context, filter store.ChainFilter) ([]*store.ApprovalChain, error) {
	return e.store.ListApprovalChains(ctx, filter)
}

// Decide records one approver's decision on a step. stepIndex is zero-based
// and must name the chain's current pending step: deciding any other step
// fails with OUT_OF_ORDER, and re-deciding an already-decided step fails
// with ALREADY_DECIDED. Approving the final step approves the chain; a
// rejection skips every remaining step and rejects the chain. Writes go
// through the store's optimistic row-version check, so a concurrent decision
// on the same chain surfaces as CONFLICT.
func (e *Engine) Decide(ctx context.Context, chainID string, stepIndex int, decision schema.Decision, decidedBy, comment string) (*store.ApprovalChain, error) {
	if decision != schema.DecisionApprove && decision != schema.DecisionReject {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown decision %q", decision)
	}

	chain, err := e.store.GetApprovalChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if chain.Status != schema.ChainPending {
		return nil, schema.NewErrorf(schema.ErrCodeAlreadyDecided,
			"chain %s is already %s", chainID, chain.Status)
	}
	if stepIndex < 0 || stepIndex >= len(chain.Steps) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"step index %d out of range (chain has %d steps)", stepIndex, len(chain.Steps))
	}

	current := currentStepIndex(chain)
	if chain.Steps[stepIndex].Status != schema.StepPending {
		return nil, schema.NewErrorf(schema.ErrCodeAlreadyDecided,
			"step %d is already %s", stepIndex, chain.Steps[stepIndex].Status)
	}
	if stepIndex != current {
		return nil, schema.NewErrorf(schema.ErrCodeOutOfOrder,
			"step %d cannot be decided before step %d", stepIndex, current)
	}

	now := e.clock.Now().UTC()
	step := &chain.Steps[stepIndex]
	step.Decision = decision
	step.DecidedBy = decidedBy
	step.Comment = comment
	step.DecidedAt = &now

	switch decision {
	case schema.DecisionApprove:
		step.Status = schema.StepApproved
		if stepIndex == len(chain.Steps)-1 {
			chain.Status = schema.ChainApproved
			chain.CompletedAt = &now
		}
	case schema.DecisionReject:
		step.Status = schema.StepRejected
		for i := stepIndex + 1; i < len(chain.Steps); i++ {
			chain.Steps[i].Status = schema.StepSkipped
		}
		chain.Status = schema.ChainRejected
		chain.CompletedAt = &now
	}

	if err := e.store.UpdateApprovalChain(ctx, chain); err != nil {
		return nil, err
	}

	if err := e.logChainEvent(ctx, chain, store.EventApprovalDecided,
		string(decision)+" by "+decidedBy); err != nil {
		return nil, err
	}
	if chain.Status == schema.ChainPending {
		e.notifyStep(ctx, chain, &chain.Steps[stepIndex+1])
	}
	return chain, nil
}

// currentStepIndex returns the index of the first pending step, or len(steps)
// when every step is decided.
func currentStepIndex(chain *store.ApprovalChain) int {
	for i := range chain.Steps {
		if chain.Steps[i].Status == schema.StepPending {
			return i
		}
	}
	return len(chain.Steps)
}

func (e *Engine) logChainEvent(ctx context.Context, chain *store.ApprovalChain, event, message string) error {
	if chain.ExecutionID == "" {
		return nil
	}
	return e.store.AppendLogEntry(ctx, &store.LogEntry{
		ExecutionID: chain.ExecutionID,
		NodeID:      chain.NodeID,
		Level:       schema.LogInfo,
		Event:       event,
		Message:     message,
	})
}

func (e *Engine) notifyStep(ctx context.Context, chain *store.ApprovalChain, step *schema.ApprovalStep) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyStep(ctx, chain, step); err != nil {
		e.logger.WarnContext(ctx, "approval step notification failed",
			"chain_id", chain.ID,
			"approver", step.Approver,
			"error", err,
		)
	}
}
