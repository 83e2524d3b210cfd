package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Definitions ---

const definitionColumns = `workflow_id, version, definition, trigger_type, webhook_token, is_active, created_at`

// CreateDefinition inserts a new definition version. The version is assigned
// inside the transaction (MAX+1 per workflow) and written back to def.
func (s *LibSQLStore) CreateDefinition(ctx context.Context, def *Definition) error {
	raw, err := json.Marshal(def.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM workflow_definitions WHERE workflow_id = ?`,
		def.WorkflowID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("next version: %w", err)
	}
	def.Version = next

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_definitions (workflow_id, version, definition, trigger_type, webhook_token, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		def.WorkflowID, def.Version, string(raw), string(def.TriggerType),
		nullStr(def.WebhookToken), boolInt(def.IsActive), timeOrNow(def.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert definition: %w", err)
	}

	return tx.Commit()
}

// GetDefinition returns the given version of a workflow definition, or the
// latest version when version <= 0.
func (s *LibSQLStore) GetDefinition(ctx context.Context, workflowID string, version int) (*Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE workflow_id = ?`
	args := []any{workflowID}
	if version > 0 {
		query += ` AND version = ?`
		args = append(args, version)
	} else {
		query += ` ORDER BY version DESC LIMIT 1`
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	def, err := scanDefinition(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", workflowID)
	}
	return def, err
}

func (s *LibSQLStore) ListDefinitionVersions(ctx context.Context, workflowID string) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+definitionColumns+` FROM workflow_definitions WHERE workflow_id = ? ORDER BY version ASC`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

// ListActiveDefinitions returns the latest version of every active workflow,
// optionally restricted to one trigger type.
func (s *LibSQLStore) ListActiveDefinitions(ctx context.Context, triggerType string) ([]*Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions d
		 WHERE is_active = 1
		   AND version = (SELECT MAX(version) FROM workflow_definitions WHERE workflow_id = d.workflow_id)`
	var args []any
	if triggerType != "" {
		query += ` AND trigger_type = ?`
		args = append(args, triggerType)
	}
	query += ` ORDER BY workflow_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

func (s *LibSQLStore) SetDefinitionActive(ctx context.Context, workflowID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_definitions SET is_active = ? WHERE workflow_id = ?`,
		boolInt(active), workflowID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", workflowID)
}

func (s *LibSQLStore) FindDefinitionByWebhookToken(ctx context.Context, token string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM workflow_definitions d
		 WHERE webhook_token = ? AND is_active = 1
		   AND version = (SELECT MAX(version) FROM workflow_definitions WHERE workflow_id = d.workflow_id)`,
		token,
	)
	def, err := scanDefinition(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("webhook", token)
	}
	return def, err
}

func scanDefinitions(rows *sql.Rows) ([]*Definition, error) {
	var defs []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows.Scan)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func scanDefinition(scan func(...any) error) (*Definition, error) {
	d := &Definition{}
	var raw, triggerType string
	var token sql.NullString
	var active int
	if err := scan(&d.WorkflowID, &d.Version, &raw, &triggerType, &token, &active, &d.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &d.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	d.TriggerType = schema.TriggerType(triggerType)
	d.WebhookToken = token.String
	d.IsActive = active != 0
	return d, nil
}

// --- Executions ---

const executionColumns = `id, workflow_id, workflow_version, trigger_type, triggered_by, status, input, context, output, error, current_node_id, cancel_requested, timeout_sec, claimed_by, created_at, started_at, completed_at, updated_at`

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.WorkflowVersion, string(exec.TriggerType),
		nullStr(exec.TriggeredBy), string(exec.Status),
		nullRaw(exec.Input), nullRaw(exec.Context), nullRaw(exec.Output), nullRaw(exec.Error),
		nullStr(exec.CurrentNodeID), boolInt(exec.CancelRequested), exec.TimeoutSec,
		nullStr(exec.ClaimedBy), timeOrNow(exec.CreatedAt),
		nullTime(exec.StartedAt), nullTime(exec.CompletedAt), timeOrNow(exec.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id,
	)
	exec, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Context != nil {
		sets = append(sets, "context = ?")
		args = append(args, string(update.Context))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.CurrentNodeID != nil {
		sets = append(sets, "current_node_id = ?")
		args = append(args, nullStr(*update.CurrentNodeID))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListClaimable returns pending executions oldest first, skipping those with
// a pending cancel request.
func (s *LibSQLStore) ListClaimable(ctx context.Context, limit int) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		 WHERE status = 'pending' AND cancel_requested = 0
		 ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ClaimExecution moves a pending execution to running with a compare-and-set
// on status, so at most one interpreter wins the claim.
func (s *LibSQLStore) ClaimExecution(ctx context.Context, id, claimedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions
		 SET status = 'running', claimed_by = ?, started_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'pending' AND cancel_requested = 0`,
		claimedBy, time.Now().UTC(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelPending moves a pending execution straight to cancelled. Returns false
// if the execution was no longer pending.
func (s *LibSQLStore) CancelPending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions
		 SET status = 'cancelled', completed_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RequestCancel sets the cancel flag; the interpreter observes it at node and
// iteration boundaries.
func (s *LibSQLStore) RequestCancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET cancel_requested = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

// ListOverdueRunning returns running executions whose wall-clock budget has
// elapsed as of asOf. Deadline math happens in Go so the comparison does not
// depend on the driver's timestamp encoding.
func (s *LibSQLStore) ListOverdueRunning(ctx context.Context, asOf time.Time) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE status = 'running' AND timeout_sec > 0 AND started_at IS NOT NULL`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	execs, err := scanExecutions(rows)
	if err != nil {
		return nil, err
	}

	var overdue []*Execution
	for _, e := range execs {
		deadline := e.StartedAt.Add(time.Duration(e.TimeoutSec) * time.Second)
		if !asOf.Before(deadline) {
			overdue = append(overdue, e)
		}
	}
	return overdue, nil
}

func scanExecutions(rows *sql.Rows) ([]*Execution, error) {
	var execs []*Execution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func scanExecution(scan func(...any) error) (*Execution, error) {
	e := &Execution{}
	var (
		triggeredBy, currentNode, claimedBy   sql.NullString
		input, execCtx, output, errJSON       sql.NullString
		startedAt, completedAt                sql.NullTime
		triggerType, status                   string
		cancelRequested                       int
	)
	if err := scan(&e.ID, &e.WorkflowID, &e.WorkflowVersion, &triggerType, &triggeredBy, &status,
		&input, &execCtx, &output, &errJSON, &currentNode, &cancelRequested, &e.TimeoutSec,
		&claimedBy, &e.CreatedAt, &startedAt, &completedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.TriggerType = schema.TriggerType(triggerType)
	e.TriggeredBy = triggeredBy.String
	e.Status = schema.ExecutionStatus(status)
	e.Input = rawOrNil(input)
	e.Context = rawOrNil(execCtx)
	e.Output = rawOrNil(output)
	e.Error = rawOrNil(errJSON)
	e.CurrentNodeID = currentNode.String
	e.CancelRequested = cancelRequested != 0
	e.ClaimedBy = claimedBy.String
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return e, nil
}

// --- Trigger dedup ---

// PutDedupKey records an idempotency key. Returns the execution ID the key is
// bound to: executionID on first insert, or the previously recorded ID when
// the key was already present.
func (s *LibSQLStore) PutDedupKey(ctx context.Context, key, executionID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dedup_keys (key, execution_id) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		key, executionID,
	); err != nil {
		return "", fmt.Errorf("insert dedup key: %w", err)
	}

	var bound string
	if err := tx.QueryRowContext(ctx,
		`SELECT execution_id FROM dedup_keys WHERE key = ?`, key,
	).Scan(&bound); err != nil {
		return "", fmt.Errorf("read dedup key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit dedup key: %w", err)
	}
	return bound, nil
}

// --- Approval chains ---

const chainColumns = `id, execution_id, node_id, subject, status, steps, row_version, created_at, updated_at, completed_at`

func (s *LibSQLStore) CreateApprovalChain(ctx context.Context, chain *ApprovalChain) error {
	steps, err := json.Marshal(chain.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	if chain.RowVersion == 0 {
		chain.RowVersion = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approval_chains (`+chainColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chain.ID, nullStr(chain.ExecutionID), nullStr(chain.NodeID), nullStr(chain.Subject),
		string(chain.Status), string(steps), chain.RowVersion,
		timeOrNow(chain.CreatedAt), timeOrNow(chain.UpdatedAt), nullTime(chain.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetApprovalChain(ctx context.Context, id string) (*ApprovalChain, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chainColumns+` FROM approval_chains WHERE id = ?`, id,
	)
	chain, err := scanChain(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("approval_chain", id)
	}
	return chain, err
}

// UpdateApprovalChain persists a chain with an optimistic version check. The
// write only lands if nobody else updated the row since it was read; a lost
// race surfaces as a CONFLICT error.
func (s *LibSQLStore) UpdateApprovalChain(ctx context.Context, chain *ApprovalChain) error {
	steps, err := json.Marshal(chain.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_chains
		 SET status = ?, steps = ?, completed_at = ?, row_version = row_version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND row_version = ?`,
		string(chain.Status), string(steps), nullTime(chain.CompletedAt),
		chain.ID, chain.RowVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"approval chain %q was modified concurrently", chain.ID)
	}
	chain.RowVersion++
	return nil
}

func (s *LibSQLStore) ListApprovalChains(ctx context.Context, filter ChainFilter) ([]*ApprovalChain, error) {
	var where []string
	var args []any

	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + chainColumns + ` FROM approval_chains`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []*ApprovalChain
	for rows.Next() {
		c, err := scanChain(rows.Scan)
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}
	chains = filterChainsByApprover(chains, filter.Approver)
	return chains, rows.Err()
}

// filterChainsByApprover keeps chains whose current pending step belongs to
// the given approver. Steps live in a JSON column, so this filter runs in Go.
func filterChainsByApprover(chains []*ApprovalChain, approver string) []*ApprovalChain {
	if approver == "" {
		return chains
	}
	var out []*ApprovalChain
	for _, c := range chains {
		for _, step := range c.Steps {
			if step.Status == schema.StepPending {
				if step.Approver == approver {
					out = append(out, c)
				}
				break
			}
		}
	}
	return out
}

func scanChain(scan func(...any) error) (*ApprovalChain, error) {
	c := &ApprovalChain{}
	var execID, nodeID, subject sql.NullString
	var status, steps string
	var completedAt sql.NullTime
	if err := scan(&c.ID, &execID, &nodeID, &subject, &status, &steps, &c.RowVersion,
		&c.CreatedAt, &c.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	c.ExecutionID = execID.String
	c.NodeID = nodeID.String
	c.Subject = subject.String
	c.Status = schema.ChainStatus(status)
	if err := json.Unmarshal([]byte(steps), &c.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return c, nil
}

// --- Aggregates ---

func (s *LibSQLStore) WorkflowStats(ctx context.Context, workflowID string) (*WorkflowStats, error) {
	stats := &WorkflowStats{WorkflowID: workflowID}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM executions WHERE workflow_id = ? GROUP BY status`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch schema.ExecutionStatus(status) {
		case schema.ExecutionPending:
			stats.Pending = count
		case schema.ExecutionRunning:
			stats.Running = count
		case schema.ExecutionCompleted:
			stats.Completed = count
		case schema.ExecutionFailed:
			stats.Failed = count
		case schema.ExecutionCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avgMs sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT AVG((julianday(completed_at) - julianday(started_at)) * 86400000.0)
		 FROM executions
		 WHERE workflow_id = ? AND status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL`,
		workflowID,
	).Scan(&avgMs)
	if err != nil {
		return nil, err
	}
	if avgMs.Valid {
		stats.AvgDurationMs = int64(avgMs.Float64)
	}

	var last sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM executions WHERE workflow_id = ?`, workflowID,
	).Scan(&last)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		stats.LastExecutionAt = &last.Time
	}

	return stats, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
