package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/windlass-dev/windlass/internal/approval"
	"github.com/windlass-dev/windlass/internal/definitions"
	"github.com/windlass-dev/windlass/internal/dispatch"
	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/pkg/schema"
)

// DefaultPoolSize is the default worker pool concurrency.
const DefaultPoolSize = 10

// Config holds engine tuning knobs.
type Config struct {
	PoolSize         int           // max concurrent execution runs
	PollInterval     time.Duration // claim loop resolution (default 250ms)
	WatchdogInterval time.Duration // timeout sweep resolution (default 1s)
	WorkerID         string        // lease owner identity (default: generated)
}

// Service is the engine facade consumed by callers (the UI layer, the CLI).
// It wires the definition catalog, the trigger dispatcher, the interpreter,
// and the approval engine together, and owns the background claim loop and
// timeout watchdog.
type Service struct {
	store       store.Store
	definitions *definitions.Service
	dispatcher  *dispatch.Dispatcher
	approvals   *approval.Engine
	interp      *Interpreter
	fsm         *ExecutionFSM
	pool        *WorkerPool
	clock       clock.Clock
	logger      *slog.Logger
	config      Config

	mu      sync.Mutex
	running map[string]*activeRun
	cancel  context.CancelFunc
	done    chan struct{}
}

// activeRun tracks one in-flight execution owned by this instance.
type activeRun struct {
	cancel   context.CancelFunc
	mu       sync.Mutex
	timedOut bool
}

func (a *activeRun) markTimedOut() {
	a.mu.Lock()
	a.timedOut = true
	a.mu.Unlock()
	a.cancel()
}

func (a *activeRun) isTimedOut() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timedOut
}

// NewService creates the engine Service.
func NewService(st store.Store, defs *definitions.Service, dispatcher *dispatch.Dispatcher, approvals *approval.Engine, interp *Interpreter, clk clock.Clock, cfg Config, logger *slog.Logger) *Service {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = time.Second
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		definitions: defs,
		dispatcher:  dispatcher,
		approvals:   approvals,
		interp:      interp,
		fsm:         NewExecutionFSM(st),
		pool:        NewWorkerPool(cfg.PoolSize),
		clock:       clk,
		logger:      logger,
		config:      cfg,
		running:     make(map[string]*activeRun),
	}
}

// --- Caller surface ---

// CreateWorkflow validates and stores a definition as a new version.
func (s *Service) CreateWorkflow(ctx context.Context, def *schema.WorkflowDefinition) (*store.Definition, error) {
	return s.definitions.Put(ctx, def)
}

// GetWorkflow returns a stored definition version (0 = latest).
func (s *Service) GetWorkflow(ctx context.Context, workflowID string, version int) (*store.Definition, error) {
	return s.definitions.Get(ctx, workflowID, version)
}

// TriggerWorkflow fires a workflow manually and returns the execution ID.
func (s *Service) TriggerWorkflow(ctx context.Context, workflowID string, input json.RawMessage, opts dispatch.TriggerOptions) (string, error) {
	return s.dispatcher.Trigger(ctx, workflowID, input, opts)
}

// GetExecution returns one execution by ID.
func (s *Service) GetExecution(ctx context.Context, id string) (*store.Execution, error) {
	return s.store.GetExecution(ctx, id)
}

// ListExecutions returns executions matching the filter, newest first.
func (s *Service) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*store.Execution, error) {
	return s.store.ListExecutions(ctx, filter)
}

// GetExecutionLogs returns an execution's log entries with sequence > since.
func (s *Service) GetExecutionLogs(ctx context.Context, executionID string, since int64) ([]*store.LogEntry, error) {
	return s.store.GetLogEntries(ctx, executionID, since)
}

// CancelExecution requests cancellation. A pending execution (not yet
// claimed) is cancelled immediately; a running one has its flag set and stops
// cooperatively at the next node or iteration boundary. Terminal executions
// are refused.
func (s *Service) CancelExecution(ctx context.Context, id string) error {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return err
	}

	switch exec.Status {
	case schema.ExecutionPending:
		cancelled, err := s.store.CancelPending(ctx, id)
		if err != nil {
			return err
		}
		if cancelled {
			return nil
		}
		// A worker claimed it between the read and the CAS; fall through to
		// the cooperative path.
		return s.store.RequestCancel(ctx, id)

	case schema.ExecutionRunning:
		return s.store.RequestCancel(ctx, id)

	default:
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"execution %s is already %s", id, exec.Status)
	}
}

// DecideApprovalStep records an approver's decision on a chain step.
func (s *Service) DecideApprovalStep(ctx context.Context, chainID string, stepIndex int, decision schema.Decision, decidedBy, notes string) (*store.ApprovalChain, error) {
	return s.approvals.Decide(ctx, chainID, stepIndex, decision, decidedBy, notes)
}

// CreateApprovalChain opens a new ordered approval chain.
func (s *Service) CreateApprovalChain(ctx context.Context, req approval.CreateChainRequest) (*store.ApprovalChain, error) {
	return s.approvals.CreateChain(ctx, req)
}

// GetApprovalChain returns one chain by ID.
func (s *Service) GetApprovalChain(ctx context.Context, chainID string) (*store.ApprovalChain, error) {
	return s.approvals.GetChain(ctx, chainID)
}

// ListApprovalChains returns chains matching the filter.
func (s *Service) ListApprovalChains(ctx context.Context, filter store.ChainFilter) ([]*store.ApprovalChain, error) {
	return s.approvals.ListChains(ctx, filter)
}

// WorkflowStats aggregates execution counts and timing for one workflow.
func (s *Service) WorkflowStats(ctx context.Context, workflowID string) (*store.WorkflowStats, error) {
	return s.store.WorkflowStats(ctx, workflowID)
}

// PoolMetrics returns a snapshot of the worker pool counters.
func (s *Service) PoolMetrics() PoolMetrics {
	return s.pool.Metrics()
}

// --- Background loops ---

// Start launches the claim loop and the timeout watchdog.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("engine started",
		"worker_id", s.config.WorkerID,
		"pool_size", s.config.PoolSize,
	)
	return nil
}

// Stop shuts down the background loops and waits for in-flight executions.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.pool.Shutdown()
	s.logger.Info("engine stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	claimTicker := s.clock.Ticker(s.config.PollInterval)
	defer claimTicker.Stop()
	watchdogTicker := s.clock.Ticker(s.config.WatchdogInterval)
	defer watchdogTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-claimTicker.C:
			if _, err := s.ClaimOnce(ctx); err != nil {
				s.logger.Error("claim pass failed", "error", err.Error())
			}
		case <-watchdogTicker.C:
			if err := s.SweepTimeouts(ctx); err != nil {
				s.logger.Error("timeout sweep failed", "error", err.Error())
			}
		}
	}
}

// ClaimOnce claims up to the pool's free capacity of pending executions, FIFO
// in creation order, and hands them to workers. Returns how many executions
// were claimed. Exposed for synchronous drivers and tests.
func (s *Service) ClaimOnce(ctx context.Context) (int, error) {
	free := s.pool.FreeSlots()
	if free == 0 {
		return 0, nil
	}

	claimable, err := s.store.ListClaimable(ctx, free)
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, exec := range claimable {
		ok, err := s.store.ClaimExecution(ctx, exec.ID, s.config.WorkerID)
		if err != nil {
			return claimed, err
		}
		if !ok {
			continue // cancelled or taken by another worker
		}
		if err := s.fsm.Transition(ctx, exec.ID, schema.ExecutionPending, schema.ExecutionRunning, ""); err != nil {
			return claimed, err
		}
		claimed++

		executionID := exec.ID
		if err := s.pool.Submit(ctx, func(workerCtx context.Context) error {
			return s.runExecution(executionID)
		}); err != nil {
			return claimed, err
		}
	}
	return claimed, nil
}

// DrainPending synchronously claims and runs everything currently claimable.
// Used by one-shot drivers and tests.
func (s *Service) DrainPending(ctx context.Context) error {
	for {
		claimed, err := s.ClaimOnce(ctx)
		if err != nil {
			return err
		}
		if claimed == 0 {
			return nil
		}
		s.pool.Wait()
	}
}

// runExecution runs one claimed execution to a terminal state. The run
// context is deliberately detached from the claim loop's context so shutdown
// does not kill in-flight runs mid-node; the watchdog and cancel requests
// stop them instead.
func (s *Service) runExecution(executionID string) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := &activeRun{cancel: cancel}
	s.mu.Lock()
	s.running[executionID] = run
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, executionID)
		s.mu.Unlock()
	}()

	exec, err := s.store.GetExecution(runCtx, executionID)
	if err != nil {
		return err
	}
	def, err := s.store.GetDefinition(runCtx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return s.finalize(executionID, &RunResult{
			Status: schema.ExecutionFailed,
			Err:    asEngineError(err),
		}, run)
	}

	result, err := s.interp.Run(runCtx, exec, &def.Definition)
	if err != nil {
		result = &RunResult{Status: schema.ExecutionFailed, Err: asEngineError(err)}
	}
	return s.finalize(executionID, result, run)
}

// finalize persists the terminal state. Uses a fresh context: the run context
// may already be cancelled, and the terminal write must still land.
func (s *Service) finalize(executionID string, result *RunResult, run *activeRun) error {
	ctx := context.Background()

	status := result.Status
	message := ""
	var errPayload json.RawMessage
	if result.Err != nil {
		message = result.Err.Message
		if raw, err := json.Marshal(result.Err); err == nil {
			errPayload = raw
		}
	}

	if status == schema.ExecutionCancelled && run.isTimedOut() {
		timeoutErr := schema.NewError(schema.ErrCodeTimeout, "execution exceeded its wall-clock ceiling")
		message = timeoutErr.Message
		if raw, err := json.Marshal(timeoutErr); err == nil {
			errPayload = raw
		}
		if err := s.store.AppendLogEntry(ctx, &store.LogEntry{
			ExecutionID: executionID,
			Level:       schema.LogError,
			Event:       store.EventExecutionTimedOut,
			Message:     message,
		}); err != nil {
			return err
		}
	}

	if err := s.fsm.Transition(ctx, executionID, schema.ExecutionRunning, status, message); err != nil {
		return err
	}

	completedAt := s.clock.Now().UTC()
	update := store.ExecutionUpdate{
		Status:      &status,
		Output:      result.Output,
		Error:       errPayload,
		CompletedAt: &completedAt,
	}
	if err := s.store.UpdateExecution(ctx, executionID, update); err != nil {
		return err
	}

	s.logger.Info("execution finished",
		"execution_id", executionID,
		"status", status,
	)
	return nil
}

// SweepTimeouts force-cancels running executions whose wall-clock duration
// exceeded their ceiling. Runs owned by this instance get their context
// cancelled so the stop is prompt even mid-backoff; orphaned rows (a crashed
// owner) are finalized directly.
func (s *Service) SweepTimeouts(ctx context.Context) error {
	overdue, err := s.store.ListOverdueRunning(ctx, s.clock.Now().UTC())
	if err != nil {
		return err
	}

	for _, exec := range overdue {
		if err := s.store.RequestCancel(ctx, exec.ID); err != nil {
			return err
		}

		s.mu.Lock()
		run := s.running[exec.ID]
		s.mu.Unlock()

		if run != nil {
			run.markTimedOut()
			continue
		}

		// No local owner: finalize the row here.
		orphan := &activeRun{cancel: func() {}, timedOut: true}
		result := &RunResult{
			Status: schema.ExecutionCancelled,
			Err:    schema.NewError(schema.ErrCodeTimeout, "execution exceeded its wall-clock ceiling"),
		}
		if err := s.finalize(exec.ID, result, orphan); err != nil {
			return err
		}
	}
	return nil
}
