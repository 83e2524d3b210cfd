package engine

import (
	"context"
	"sync"

	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/pkg/schema"
)

// TransitionHook is called before or after an execution state transition.
type TransitionHook func(from, to schema.ExecutionStatus) error

// LogAppender is satisfied by the Store; FSMs emit lifecycle log entries
// through it on transitions.
type LogAppender interface {
	AppendLogEntry(ctx context.Context, entry *store.LogEntry) error
}

type hookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM validates execution lifecycle transitions and writes the
// corresponding execution log entries. The caller persists the new status to
// the store; claiming (pending -> running) goes through the store's
// compare-and-set instead, which is the sole mutual-exclusion point.
type ExecutionFSM struct {
	mu       sync.Mutex
	appender LogAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewExecutionFSM creates an ExecutionFSM that emits log entries via the
// given appender.
func NewExecutionFSM(appender LogAppender) *ExecutionFSM {
	return &ExecutionFSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates an execution state transition and emits the matching
// lifecycle log entry. message lands on the log entry (empty = event only).
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, from, to schema.ExecutionStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	event := lifecycleEvent(to)
	if event != "" {
		entry := &store.LogEntry{
			ExecutionID: executionID,
			Level:       lifecycleLevel(to),
			Event:       event,
			Message:     message,
		}
		if err := f.appender.AppendLogEntry(ctx, entry); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit lifecycle log entry: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	return nil
}

func isValidTransition(from, to schema.ExecutionStatus) bool {
	allowed, ok := ValidExecutionTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func lifecycleEvent(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionPending:
		return store.EventExecutionQueued
	case schema.ExecutionRunning:
		return store.EventExecutionStarted
	case schema.ExecutionCompleted:
		return store.EventExecutionCompleted
	case schema.ExecutionFailed:
		return store.EventExecutionFailed
	case schema.ExecutionCancelled:
		return store.EventExecutionCancelled
	default:
		return ""
	}
}

func lifecycleLevel(to schema.ExecutionStatus) schema.LogLevel {
	switch to {
	case schema.ExecutionFailed:
		return schema.LogError
	case schema.ExecutionCancelled:
		return schema.LogWarning
	default:
		return schema.LogInfo
	}
}

// ValidExecutionTransitions defines the allowed execution state transitions.
// A pending execution may be cancelled directly before any worker claims it.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionPending:   {schema.ExecutionRunning, schema.ExecutionCancelled},
	schema.ExecutionRunning:   {schema.ExecutionCompleted, schema.ExecutionFailed, schema.ExecutionCancelled},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
	schema.ExecutionCancelled: {},
}
