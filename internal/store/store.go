package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Definitions (immutable, versioned)
	CreateDefinition(ctx context.Context, def *Definition) error
	GetDefinition(ctx context.Context, workflowID string, version int) (*Definition, error)
	ListDefinitionVersions(ctx context.Context, workflowID string) ([]*Definition, error)
	ListActiveDefinitions(ctx context.Context, triggerType string) ([]*Definition, error)
	SetDefinitionActive(ctx context.Context, workflowID string, active bool) error
	FindDefinitionByWebhookToken(ctx context.Context, token string) (*Definition, error)

	// Executions
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	ListClaimable(ctx context.Context, limit int) ([]*Execution, error)
	ClaimExecution(ctx context.Context, id, claimedBy string) (bool, error)
	CancelPending(ctx context.Context, id string) (bool, error)
	RequestCancel(ctx context.Context, id string) error
	ListOverdueRunning(ctx context.Context, asOf time.Time) ([]*Execution, error)

	// Execution log (append-only)
	AppendLogEntry(ctx context.Context, entry *LogEntry) error
	GetLogEntries(ctx context.Context, executionID string, since int64) ([]*LogEntry, error)

	// Trigger dedup
	PutDedupKey(ctx context.Context, key, executionID string) (string, error)

	// Approval chains
	CreateApprovalChain(ctx context.Context, chain *ApprovalChain) error
	GetApprovalChain(ctx context.Context, id string) (*ApprovalChain, error)
	UpdateApprovalChain(ctx context.Context, chain *ApprovalChain) error
	ListApprovalChains(ctx context.Context, filter ChainFilter) ([]*ApprovalChain, error)

	// Aggregates
	WorkflowStats(ctx context.Context, workflowID string) (*WorkflowStats, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
