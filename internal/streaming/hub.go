package streaming

import (
	"context"
	"encoding/json"
)

// ExecutionEvent is a real-time event emitted while an execution runs. Event
// carries the execution log event name (node.started, execution.completed, ...);
// Payload is the log entry payload when one was recorded.
type ExecutionEvent struct {
	WorkflowID  string          `json:"workflow_id"`
	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id,omitempty"`
	Event       string          `json:"event"`
	Message     string          `json:"message,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Filter narrows which events a subscriber receives. Zero values match
// everything.
type Filter struct {
	WorkflowID  string   `json:"workflow_id,omitempty"`
	ExecutionID string   `json:"execution_id,omitempty"`
	Events      []string `json:"events,omitempty"`
}

// Hub is the pub/sub surface for live execution events. The append-only log in
// the store stays the source of truth; the hub is a best-effort live feed for
// watchers (SSE tails).
type Hub interface {
	Publish(ctx context.Context, event ExecutionEvent) error
	Subscribe(ctx context.Context, filter Filter) (<-chan ExecutionEvent, func(), error)
}
