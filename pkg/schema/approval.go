package schema

import "time"

// ApprovalStepStatus is the state of one step in an approval chain.
type ApprovalStepStatus string

const (
	StepPending  ApprovalStepStatus = "pending"
	StepApproved ApprovalStepStatus = "approved"
	StepRejected ApprovalStepStatus = "rejected"
	StepSkipped  ApprovalStepStatus = "skipped"
)

// ChainStatus is the aggregate state of an approval chain. A chain is
// approved only after its last step approves; a single rejection terminates
// it and skips every remaining step.
type ChainStatus string

const (
	ChainPending  ChainStatus = "pending"
	ChainApproved ChainStatus = "approved"
	ChainRejected ChainStatus = "rejected"
)

// Decision is a human verdict on an approval step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ApprovalStep is one approver slot in a chain. Steps are strictly ordered by
// Sequence (1-based) and must be decided in order; DueAt is informational and
// never auto-decides a step.
type ApprovalStep struct {
	Sequence  int                `json:"sequence"`
	Approver  string             `json:"approver"`
	Status    ApprovalStepStatus `json:"status"`
	Decision  Decision           `json:"decision,omitempty"`
	Comment   string             `json:"comment,omitempty"`
	DecidedBy string             `json:"decided_by,omitempty"`
	DecidedAt *time.Time         `json:"decided_at,omitempty"`
	DueAt     *time.Time         `json:"due_at,omitempty"`
}
