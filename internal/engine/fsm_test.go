package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/pkg/schema"
)

type capturedLog struct {
	entries []*store.LogEntry
}

func (c *capturedLog) AppendLogEntry(_ context.Context, entry *store.LogEntry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func TestTransition_ValidPaths(t *testing.T) {
	cases := []struct {
		from, to schema.ExecutionStatus
		event    string
		level    schema.LogLevel
	}{
		{schema.ExecutionPending, schema.ExecutionRunning, store.EventExecutionStarted, schema.LogInfo},
		{schema.ExecutionPending, schema.ExecutionCancelled, store.EventExecutionCancelled, schema.LogWarning},
		{schema.ExecutionRunning, schema.ExecutionCompleted, store.EventExecutionCompleted, schema.LogInfo},
		{schema.ExecutionRunning, schema.ExecutionFailed, store.EventExecutionFailed, schema.LogError},
		{schema.ExecutionRunning, schema.ExecutionCancelled, store.EventExecutionCancelled, schema.LogWarning},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			log := &capturedLog{}
			fsm := NewExecutionFSM(log)

			err := fsm.Transition(context.Background(), "exec-1", tc.from, tc.to, "msg")
			require.NoError(t, err)
			require.Len(t, log.entries, 1)
			assert.Equal(t, "exec-1", log.entries[0].ExecutionID)
			assert.Equal(t, tc.event, log.entries[0].Event)
			assert.Equal(t, tc.level, log.entries[0].Level)
			assert.Equal(t, "msg", log.entries[0].Message)
		})
	}
}

func TestTransition_InvalidPathsRejected(t *testing.T) {
	cases := []struct {
		from, to schema.ExecutionStatus
	}{
		{schema.ExecutionPending, schema.ExecutionCompleted},
		{schema.ExecutionPending, schema.ExecutionFailed},
		{schema.ExecutionRunning, schema.ExecutionPending},
		{schema.ExecutionCompleted, schema.ExecutionRunning},
		{schema.ExecutionFailed, schema.ExecutionRunning},
		{schema.ExecutionCancelled, schema.ExecutionRunning},
		{schema.ExecutionCompleted, schema.ExecutionCancelled},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			log := &capturedLog{}
			fsm := NewExecutionFSM(log)

			err := fsm.Transition(context.Background(), "exec-1", tc.from, tc.to, "")
			require.Error(t, err)

			var engineErr *schema.EngineError
			require.ErrorAs(t, err, &engineErr)
			assert.Equal(t, schema.ErrCodeInvalidTransition, engineErr.Code)
			assert.Empty(t, log.entries, "invalid transitions must not emit log entries")
		})
	}
}

func TestTransition_HooksRunInOrder(t *testing.T) {
	log := &capturedLog{}
	fsm := NewExecutionFSM(log)

	var order []string
	fsm.OnBefore(schema.ExecutionRunning, schema.ExecutionCompleted, func(from, to schema.ExecutionStatus) error {
		order = append(order, "before")
		return nil
	})
	fsm.OnAfter(schema.ExecutionRunning, schema.ExecutionCompleted, func(from, to schema.ExecutionStatus) error {
		order = append(order, "after")
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), "exec-1", schema.ExecutionRunning, schema.ExecutionCompleted, ""))
	assert.Equal(t, []string{"before", "after"}, order)
	assert.Len(t, log.entries, 1)
}

func TestTransition_BeforeHookErrorBlocksLogEntry(t *testing.T) {
	log := &capturedLog{}
	fsm := NewExecutionFSM(log)

	fsm.OnBefore(schema.ExecutionRunning, schema.ExecutionFailed, func(from, to schema.ExecutionStatus) error {
		return errors.New("veto")
	})

	err := fsm.Transition(context.Background(), "exec-1", schema.ExecutionRunning, schema.ExecutionFailed, "")
	require.EqualError(t, err, "veto")
	assert.Empty(t, log.entries)
}

func TestTransition_HookScopedToItsEdge(t *testing.T) {
	log := &capturedLog{}
	fsm := NewExecutionFSM(log)

	called := 0
	fsm.OnAfter(schema.ExecutionRunning, schema.ExecutionFailed, func(from, to schema.ExecutionStatus) error {
		called++
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), "exec-1", schema.ExecutionRunning, schema.ExecutionCompleted, ""))
	assert.Zero(t, called)
}
