package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// AppendLogEntry appends an entry with a monotonically increasing
// per-execution sequence. The sequence read and the insert run in one
// transaction so concurrent writers cannot interleave.
func (s *LibSQLStore) AppendLogEntry(ctx context.Context, entry *LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx starts a deferred transaction; a write-intent
	// statement upgrades it to a write lock before the sequence read.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_log WHERE execution_id = ?`,
		entry.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	entry.Sequence = seq

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = schema.LogInfo
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO execution_log (execution_id, sequence, node_id, attempt, level, event, message, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ExecutionID, seq, nullStr(entry.NodeID), entry.Attempt,
		string(entry.Level), entry.Event, nullStr(entry.Message),
		nullRaw(entry.Payload), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log entry: %w", err)
	}
	return nil
}

// GetLogEntries returns entries for an execution with sequence > since,
// ordered by sequence ASC.
func (s *LibSQLStore) GetLogEntries(ctx context.Context, executionID string, since int64) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, sequence, node_id, attempt, level, event, message, payload, timestamp
		 FROM execution_log WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		var nodeID, message, payload sql.NullString
		var level string
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Sequence, &nodeID, &e.Attempt,
			&level, &e.Event, &message, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Message = message.String
		e.Level = schema.LogLevel(level)
		e.Payload = rawOrNil(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// NodeRun is a per-node summary reconstructed from the execution log.
type NodeRun struct {
	NodeID      string     `json:"node_id"`
	Status      string     `json:"status"` // running, completed, failed
	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}

// ReplayNodeRuns rebuilds per-node run summaries from the append-only log,
// in first-seen order. Returns an error if sequence gaps are detected.
func ReplayNodeRuns(entries []*LogEntry) ([]*NodeRun, error) {
	runs := make(map[string]*NodeRun)
	var order []string

	for i, e := range entries {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", e.ExecutionID, expected, e.Sequence)
		}
		if e.NodeID == "" {
			continue
		}

		run, ok := runs[e.NodeID]
		if !ok {
			run = &NodeRun{NodeID: e.NodeID}
			runs[e.NodeID] = run
			order = append(order, e.NodeID)
		}

		switch e.Event {
		case EventNodeStarted:
			run.Status = "running"
			run.Attempts++
			ts := e.Timestamp
			if run.StartedAt == nil {
				run.StartedAt = &ts
			}
		case EventNodeCompleted:
			run.Status = "completed"
			ts := e.Timestamp
			run.CompletedAt = &ts
			if run.StartedAt != nil {
				run.DurationMs = ts.Sub(*run.StartedAt).Milliseconds()
			}
		case EventNodeFailed:
			run.Status = "failed"
		case EventNodeRetrying:
			// The next node.started bumps the attempt counter.
		}
	}

	out := make([]*NodeRun, 0, len(runs))
	for _, id := range order {
		out = append(out, runs[id])
	}
	return out, nil
}
