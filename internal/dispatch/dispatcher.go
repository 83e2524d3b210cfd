// Package dispatch converts external stimuli (manual calls, cron ticks,
// inbound webhooks, events, email) into pending executions. Exactly one
// execution is created per stimulus; callers supplying an idempotency key get
// at-most-once dispatch even when the stimulus is retried.
package dispatch

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/windlass-dev/windlass/internal/definitions"
	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/pkg/schema"
)

// Dispatcher creates pending executions from trigger stimuli. It never runs
// anything itself; claimable executions are consumed by the engine's worker
// loop, so a slow interpreter cannot block new triggers from being enqueued.
type Dispatcher struct {
	store       store.Store
	definitions *definitions.Service
	clock       clock.Clock
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(st store.Store, defs *definitions.Service, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: st, definitions: defs, clock: clk, logger: logger}
}

// TriggerOptions carries optional dispatch metadata.
type TriggerOptions struct {
	TriggeredBy    string
	IdempotencyKey string
}

// Trigger fires a workflow manually and returns the new execution ID. When an
// idempotency key is supplied and was seen before, the execution it originally
// produced is returned instead of a new one.
func (d *Dispatcher) Trigger(ctx context.Context, workflowID string, input json.RawMessage, opts TriggerOptions) (string, error) {
	def, err := d.activeDefinition(ctx, workflowID)
	if err != nil {
		return "", err
	}
	return d.fire(ctx, def, schema.TriggerManual, input, opts)
}

// HandleWebhook fires the workflow owning token with the raw payload as
// input. When the definition carries a secret, the caller-presented secret
// must match.
func (d *Dispatcher) HandleWebhook(ctx context.Context, token, secret string, payload json.RawMessage, idempotencyKey string) (string, error) {
	def, err := d.definitions.ResolveWebhook(ctx, token)
	if err != nil {
		return "", err
	}
	if !def.IsActive {
		return "", inactiveError(def.WorkflowID)
	}

	var cfg schema.WebhookTriggerConfig
	if err := json.Unmarshal(def.Definition.TriggerConfig, &cfg); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "decode webhook config: %s", err.Error()).WithCause(err)
	}
	if cfg.Secret != "" && subtle.ConstantTimeCompare([]byte(cfg.Secret), []byte(secret)) != 1 {
		return "", schema.NewError(schema.ErrCodeValidation, "webhook secret mismatch")
	}

	return d.fire(ctx, def, schema.TriggerWebhook, payload, TriggerOptions{IdempotencyKey: idempotencyKey})
}

// DispatchEvent fans an event out to every active event-triggered workflow
// whose trigger config matches the event type (and source, when configured).
// Returns the IDs of the executions created.
func (d *Dispatcher) DispatchEvent(ctx context.Context, eventType, source string, payload json.RawMessage) ([]string, error) {
	defs, err := d.definitions.ListActive(ctx, schema.TriggerEvent)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, def := range defs {
		var cfg schema.EventTriggerConfig
		if err := json.Unmarshal(def.Definition.TriggerConfig, &cfg); err != nil {
			continue
		}
		if cfg.EventType != eventType {
			continue
		}
		if cfg.Source != "" && cfg.Source != source {
			continue
		}
		id, err := d.fire(ctx, def, schema.TriggerEvent, payload, TriggerOptions{TriggeredBy: source})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DispatchEmail fans an inbound email out to every active email-triggered
// workflow watching the mailbox.
func (d *Dispatcher) DispatchEmail(ctx context.Context, mailbox string, payload json.RawMessage) ([]string, error) {
	defs, err := d.definitions.ListActive(ctx, schema.TriggerEmail)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, def := range defs {
		var cfg schema.EmailTriggerConfig
		if err := json.Unmarshal(def.Definition.TriggerConfig, &cfg); err != nil {
			continue
		}
		if cfg.Mailbox != mailbox {
			continue
		}
		id, err := d.fire(ctx, def, schema.TriggerEmail, payload, TriggerOptions{TriggeredBy: mailbox})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// fire creates one pending execution for the stimulus. With an idempotency
// key, the key is bound to the execution ID before the row is created: a
// retried stimulus resolves to the original execution and creates nothing.
func (d *Dispatcher) fire(ctx context.Context, def *store.Definition, triggerType schema.TriggerType, input json.RawMessage, opts TriggerOptions) (string, error) {
	executionID := uuid.NewString()

	if opts.IdempotencyKey != "" {
		bound, err := d.store.PutDedupKey(ctx, opts.IdempotencyKey, executionID)
		if err != nil {
			return "", err
		}
		if bound != executionID {
			d.logger.InfoContext(ctx, "duplicate stimulus deduplicated",
				"workflow_id", def.WorkflowID,
				"idempotency_key", opts.IdempotencyKey,
				"execution_id", bound,
			)
			return bound, nil
		}
	}

	exec := &store.Execution{
		ID:              executionID,
		WorkflowID:      def.WorkflowID,
		WorkflowVersion: def.Version,
		TriggerType:     triggerType,
		TriggeredBy:     opts.TriggeredBy,
		Status:          schema.ExecutionPending,
		Input:           input,
		TimeoutSec:      timeoutSeconds(def.Definition.Timeout),
		CreatedAt:       d.clock.Now().UTC(),
	}
	// No log entry yet: an execution cancelled before a worker claims it
	// finishes with an empty log. The claim writes the first entry.
	if err := d.store.CreateExecution(ctx, exec); err != nil {
		return "", err
	}

	d.logger.InfoContext(ctx, "execution queued",
		"workflow_id", def.WorkflowID,
		"workflow_version", def.Version,
		"execution_id", executionID,
		"trigger_type", triggerType,
	)
	return executionID, nil
}

func (d *Dispatcher) activeDefinition(ctx context.Context, workflowID string) (*store.Definition, error) {
	def, err := d.definitions.Get(ctx, workflowID, 0)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, inactiveError(workflowID)
	}
	return def, nil
}

func inactiveError(workflowID string) error {
	return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s is deactivated", workflowID)
}

// timeoutSeconds converts a definition's wall-clock ceiling into whole
// seconds, rounding up so sub-second ceilings still time out.
func timeoutSeconds(timeout string) int {
	if timeout == "" {
		return 0
	}
	dur, err := time.ParseDuration(timeout)
	if err != nil || dur <= 0 {
		return 0
	}
	secs := int(dur / time.Second)
	if dur%time.Second != 0 {
		secs++
	}
	return secs
}
