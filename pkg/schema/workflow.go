package schema

import "encoding/json"

// WorkflowDefinition is the versioned, JSON-serializable workflow format.
// A definition is immutable once stored: edits produce a new version so that
// running executions stay pinned to the version they were triggered under.
type WorkflowDefinition struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	Version       int             `json:"version,omitempty"`
	TriggerType   TriggerType     `json:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config,omitempty"` // shape depends on trigger_type
	Nodes         []Node          `json:"nodes"`
	IsActive      bool            `json:"is_active"`
	MaxRetries    int             `json:"max_retries,omitempty"` // default per-node retry budget
	Timeout       string          `json:"timeout,omitempty"`     // execution wall-clock ceiling (e.g. "10m")
}

// Node is one typed step in a workflow's graph. Nodes are owned by their
// definition and never shared. Position values are unique and strictly
// increasing; condition and loop nodes reference other positions for
// branching and those references must resolve.
type Node struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Name     string          `json:"name,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"` // type-specific, validated per type
	Position int             `json:"position"`
	Retry    *RetryPolicy    `json:"retry,omitempty"` // overrides the workflow default
}

// NodeType enumerates the kinds of nodes in a workflow graph.
type NodeType string

const (
	NodeAction        NodeType = "action"
	NodeCondition     NodeType = "condition"
	NodeLoop          NodeType = "loop"
	NodeHTTPRequest   NodeType = "httpRequest"
	NodeDataTransform NodeType = "dataTransform"
	NodeNotification  NodeType = "notification"
)

// TriggerType enumerates the stimulus classes that start an execution.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
	TriggerEvent    TriggerType = "event"
	TriggerEmail    TriggerType = "email"
)

// RetryPolicy configures same-node retry behavior after a node error.
type RetryPolicy struct {
	Max      int    `json:"max"`                 // max retry attempts (0 = no retry)
	Backoff  string `json:"backoff,omitempty"`   // constant | exponential (default: constant)
	Delay    string `json:"delay,omitempty"`     // initial delay (e.g. "1s", "500ms")
	MaxDelay string `json:"max_delay,omitempty"` // cap for exponential backoff
}

// --- Trigger config variants ---

// ScheduleTriggerConfig is the trigger_config shape for schedule workflows.
type ScheduleTriggerConfig struct {
	Cron string `json:"cron"`
}

// WebhookTriggerConfig is the trigger_config shape for webhook workflows.
// Token and Secret are generated when the definition is stored.
type WebhookTriggerConfig struct {
	Token  string `json:"token,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// EventTriggerConfig is the trigger_config shape for event workflows.
type EventTriggerConfig struct {
	EventType string `json:"event_type"`
	Source    string `json:"source,omitempty"`
}

// EmailTriggerConfig is the trigger_config shape for email workflows.
type EmailTriggerConfig struct {
	Mailbox string `json:"mailbox"`
}

// --- Node config variants ---

// ActionConfig is the config shape for generic action nodes. Name selects a
// registered action handler; Params are passed through to it.
type ActionConfig struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ConditionConfig is the config shape for condition nodes. Expression must
// evaluate to a boolean against the execution context. On true the walk
// continues to the next position; on false it jumps to ElseTarget, or
// terminates the execution successfully when ElseTarget is unset.
type ConditionConfig struct {
	Expression string `json:"expression"`
	Language   string `json:"language,omitempty"` // cel | expr (default: cel)
	ElseTarget *int   `json:"else_target,omitempty"`
}

// LoopConfig is the config shape for loop nodes. Collection is an expression
// producing a list; the nodes at positions BodyStart..BodyEnd (inclusive) run
// once per item, sequentially. An empty collection is a zero-iteration no-op.
type LoopConfig struct {
	Collection string `json:"collection"`
	Language   string `json:"language,omitempty"` // cel | expr (default: cel)
	BodyStart  int    `json:"body_start"`
	BodyEnd    int    `json:"body_end"`
}

// HTTPRequestConfig is the config shape for httpRequest nodes.
type HTTPRequestConfig struct {
	Method            string            `json:"method,omitempty"` // default GET
	URL               string            `json:"url"`
	Headers           map[string]string `json:"headers,omitempty"`
	Body              any               `json:"body,omitempty"`
	Timeout           string            `json:"timeout,omitempty"`
	FailOnErrorStatus bool              `json:"fail_on_error_status,omitempty"`
}

// DataTransformConfig is the config shape for dataTransform nodes.
// Expression is a jq program evaluated against the execution context;
// the result is written to the context under Target.
type DataTransformConfig struct {
	Expression string `json:"expression"`
	Target     string `json:"target,omitempty"` // context key (default: "transformed")
}

// NotificationConfig is the config shape for notification nodes. Delivery is
// a pass-through to the registered Notifier collaborator.
type NotificationConfig struct {
	Channel    string   `json:"channel"` // email | slack | sms | ...
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Message    string   `json:"message"`
}
