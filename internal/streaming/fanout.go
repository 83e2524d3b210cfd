package streaming

import (
	"context"
	"sync"

	"github.com/windlass-dev/windlass/internal/store"
)

// LogFanout decorates a Store so every appended log entry is also published to
// a Hub. The store write always wins: a hub failure is ignored, the append is
// not.
type LogFanout struct {
	store.Store
	hub Hub

	mu        sync.Mutex
	workflows map[string]string // execution ID -> workflow ID
}

// NewLogFanout wraps st so log appends fan out to hub.
func NewLogFanout(st store.Store, hub Hub) *LogFanout {
	return &LogFanout{
		Store:     st,
		hub:       hub,
		workflows: make(map[string]string),
	}
}

func (f *LogFanout) CreateExecution(ctx context.Context, exec *store.Execution) error {
	if err := f.Store.CreateExecution(ctx, exec); err != nil {
		return err
	}
	f.mu.Lock()
	f.workflows[exec.ID] = exec.WorkflowID
	f.mu.Unlock()
	return nil
}

func (f *LogFanout) UpdateExecution(ctx context.Context, id string, update store.ExecutionUpdate) error {
	if err := f.Store.UpdateExecution(ctx, id, update); err != nil {
		return err
	}
	if update.Status != nil && update.Status.Terminal() {
		f.mu.Lock()
		delete(f.workflows, id)
		f.mu.Unlock()
	}
	return nil
}

func (f *LogFanout) AppendLogEntry(ctx context.Context, entry *store.LogEntry) error {
	if err := f.Store.AppendLogEntry(ctx, entry); err != nil {
		return err
	}
	_ = f.hub.Publish(ctx, ExecutionEvent{
		WorkflowID:  f.workflowID(ctx, entry.ExecutionID),
		ExecutionID: entry.ExecutionID,
		NodeID:      entry.NodeID,
		Event:       entry.Event,
		Message:     entry.Message,
		Payload:     entry.Payload,
	})
	return nil
}

// workflowID resolves the execution's workflow, consulting the store for
// executions created before this process started.
func (f *LogFanout) workflowID(ctx context.Context, executionID string) string {
	f.mu.Lock()
	id, ok := f.workflows[executionID]
	f.mu.Unlock()
	if ok {
		return id
	}

	exec, err := f.Store.GetExecution(ctx, executionID)
	if err != nil {
		return ""
	}
	f.mu.Lock()
	f.workflows[executionID] = exec.WorkflowID
	f.mu.Unlock()
	return exec.WorkflowID
}
