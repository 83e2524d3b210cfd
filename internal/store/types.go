package store

import (
	"encoding/json"
	"time"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// Definition is one persisted, immutable version of a workflow definition.
// Versions are assigned by the store (1-based, per workflow); IsActive marks
// whether new executions may be triggered from this workflow.
type Definition struct {
	WorkflowID   string                    `json:"workflow_id"`
	Version      int                       `json:"version"`
	Definition   schema.WorkflowDefinition `json:"definition"`
	TriggerType  schema.TriggerType        `json:"trigger_type"`
	WebhookToken string                    `json:"webhook_token,omitempty"`
	IsActive     bool                      `json:"is_active"`
	CreatedAt    time.Time                 `json:"created_at"`
}

// Execution is the persisted state of one workflow run. WorkflowVersion pins
// the run to the definition version it was triggered under; TimeoutSec is
// copied from the definition at dispatch so the watchdog never has to join.
type Execution struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	WorkflowVersion int                    `json:"workflow_version"`
	TriggerType     schema.TriggerType     `json:"trigger_type"`
	TriggeredBy     string                 `json:"triggered_by,omitempty"`
	Status          schema.ExecutionStatus `json:"status"`
	Input           json.RawMessage        `json:"input,omitempty"`
	Context         json.RawMessage        `json:"context,omitempty"`
	Output          json.RawMessage        `json:"output,omitempty"`
	Error           json.RawMessage        `json:"error,omitempty"`
	CurrentNodeID   string                 `json:"current_node_id,omitempty"`
	CancelRequested bool                   `json:"cancel_requested"`
	TimeoutSec      int                    `json:"timeout_sec,omitempty"`
	ClaimedBy       string                 `json:"claimed_by,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// LogEntry is an immutable record in an execution's append-only log. Sequence
// is assigned by the store and is contiguous per execution.
type LogEntry struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Sequence    int64           `json:"sequence"`
	NodeID      string          `json:"node_id,omitempty"`
	Attempt     int             `json:"attempt,omitempty"`
	Level       schema.LogLevel `json:"level"`
	Event       string          `json:"event"`
	Message     string          `json:"message,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Log event types written by the engine.
const (
	EventExecutionQueued    = "execution.queued"
	EventExecutionStarted   = "execution.started"
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"
	EventExecutionCancelled = "execution.cancelled"
	EventExecutionTimedOut  = "execution.timed_out"
	EventNodeStarted        = "node.started"
	EventNodeCompleted      = "node.completed"
	EventNodeFailed         = "node.failed"
	EventNodeRetrying       = "node.retrying"
	EventLoopIteration      = "loop.iteration"
	EventApprovalRequested  = "approval.requested"
	EventApprovalDecided    = "approval.decided"
)

// ApprovalChain is a persisted ordered approver chain. Steps are stored as a
// JSON document on the chain row; RowVersion implements optimistic locking so
// concurrent decisions on the same chain cannot both win.
type ApprovalChain struct {
	ID          string                `json:"id"`
	ExecutionID string                `json:"execution_id,omitempty"`
	NodeID      string                `json:"node_id,omitempty"`
	Subject     string                `json:"subject,omitempty"`
	Status      schema.ChainStatus    `json:"status"`
	Steps       []schema.ApprovalStep `json:"steps"`
	RowVersion  int                   `json:"row_version"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// WorkflowStats aggregates execution counts and timing per workflow.
type WorkflowStats struct {
	WorkflowID      string     `json:"workflow_id"`
	Total           int        `json:"total"`
	Pending         int        `json:"pending"`
	Running         int        `json:"running"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	Cancelled       int        `json:"cancelled"`
	AvgDurationMs   int64      `json:"avg_duration_ms,omitempty"`
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`
}

// --- Filter and update types ---

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Since      *time.Time              `json:"since,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution.
type ExecutionUpdate struct {
	Status        *schema.ExecutionStatus `json:"status,omitempty"`
	Context       json.RawMessage         `json:"context,omitempty"`
	Output        json.RawMessage         `json:"output,omitempty"`
	Error         json.RawMessage         `json:"error,omitempty"`
	CurrentNodeID *string                 `json:"current_node_id,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// ChainFilter specifies criteria for listing approval chains.
type ChainFilter struct {
	ExecutionID string              `json:"execution_id,omitempty"`
	Approver    string              `json:"approver,omitempty"`
	Status      *schema.ChainStatus `json:"status,omitempty"`
	Limit       int                 `json:"limit,omitempty"`
}
