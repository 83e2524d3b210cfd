package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// MemoryStore is an in-process Store implementation. It backs unit tests and
// ephemeral deployments where durability across restarts is not required.
type MemoryStore struct {
	mu          sync.Mutex
	definitions map[string][]*Definition // workflow_id -> versions ascending
	executions  map[string]*Execution
	logs        map[string][]*LogEntry // execution_id -> entries by sequence
	dedup       map[string]string      // key -> execution_id
	chains      map[string]*ApprovalChain
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string][]*Definition),
		executions:  make(map[string]*Execution),
		logs:        make(map[string][]*LogEntry),
		dedup:       make(map[string]string),
		chains:      make(map[string]*ApprovalChain),
	}
}

func (m *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (m *MemoryStore) Vacuum(ctx context.Context) error  { return nil }
func (m *MemoryStore) Close() error                      { return nil }

// --- Definitions ---

func (m *MemoryStore) CreateDefinition(ctx context.Context, def *Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.definitions[def.WorkflowID]
	def.Version = len(versions) + 1
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	cp := *def
	m.definitions[def.WorkflowID] = append(versions, &cp)
	return nil
}

func (m *MemoryStore) GetDefinition(ctx context.Context, workflowID string, version int) (*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.definitions[workflowID]
	if len(versions) == 0 {
		return nil, storeNotFound("workflow", workflowID)
	}
	if version <= 0 {
		cp := *versions[len(versions)-1]
		return &cp, nil
	}
	if version > len(versions) {
		return nil, storeNotFound("workflow", workflowID)
	}
	cp := *versions[version-1]
	return &cp, nil
}

func (m *MemoryStore) ListDefinitionVersions(ctx context.Context, workflowID string) ([]*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Definition
	for _, d := range m.definitions[workflowID] {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) ListActiveDefinitions(ctx context.Context, triggerType string) ([]*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Definition
	for _, versions := range m.definitions {
		latest := versions[len(versions)-1]
		if !latest.IsActive {
			continue
		}
		if triggerType != "" && string(latest.TriggerType) != triggerType {
			continue
		}
		cp := *latest
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out, nil
}

func (m *MemoryStore) SetDefinitionActive(ctx context.Context, workflowID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.definitions[workflowID]
	if len(versions) == 0 {
		return storeNotFound("workflow", workflowID)
	}
	for _, d := range versions {
		d.IsActive = active
	}
	return nil
}

func (m *MemoryStore) FindDefinitionByWebhookToken(ctx context.Context, token string) (*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, versions := range m.definitions {
		latest := versions[len(versions)-1]
		if latest.IsActive && latest.WebhookToken == token {
			cp := *latest
			return &cp, nil
		}
	}
	return nil, storeNotFound("webhook", token)
}

// --- Executions ---

func (m *MemoryStore) CreateExecution(ctx context.Context, exec *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	exec.UpdatedAt = exec.CreatedAt
	cp := *exec
	m.executions[exec.ID] = &cp
	return nil
}

func (m *MemoryStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, storeNotFound("execution", id)
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return storeNotFound("execution", id)
	}
	if update.Status != nil {
		e.Status = *update.Status
	}
	if update.Context != nil {
		e.Context = update.Context
	}
	if update.Output != nil {
		e.Output = update.Output
	}
	if update.Error != nil {
		e.Error = update.Error
	}
	if update.CurrentNodeID != nil {
		e.CurrentNodeID = *update.CurrentNodeID
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		e.CompletedAt = &t
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Execution
	for _, e := range m.executions {
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	out = paginate(out, filter.Limit, filter.Offset)
	return out, nil
}

func (m *MemoryStore) ListClaimable(ctx context.Context, limit int) ([]*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Execution
	for _, e := range m.executions {
		if e.Status != schema.ExecutionPending || e.CancelRequested {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	out = paginate(out, limit, 0)
	return out, nil
}

func (m *MemoryStore) ClaimExecution(ctx context.Context, id, claimedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok || e.Status != schema.ExecutionPending || e.CancelRequested {
		return false, nil
	}
	now := time.Now().UTC()
	e.Status = schema.ExecutionRunning
	e.ClaimedBy = claimedBy
	e.StartedAt = &now
	e.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) CancelPending(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok || e.Status != schema.ExecutionPending {
		return false, nil
	}
	now := time.Now().UTC()
	e.Status = schema.ExecutionCancelled
	e.CompletedAt = &now
	e.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) RequestCancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return storeNotFound("execution", id)
	}
	e.CancelRequested = true
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListOverdueRunning(ctx context.Context, asOf time.Time) ([]*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Execution
	for _, e := range m.executions {
		if e.Status != schema.ExecutionRunning || e.TimeoutSec <= 0 || e.StartedAt == nil {
			continue
		}
		deadline := e.StartedAt.Add(time.Duration(e.TimeoutSec) * time.Second)
		if !asOf.Before(deadline) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Execution log ---

func (m *MemoryStore) AppendLogEntry(ctx context.Context, entry *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.logs[entry.ExecutionID]
	entry.Sequence = int64(len(entries) + 1)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = schema.LogInfo
	}
	cp := *entry
	m.logs[entry.ExecutionID] = append(entries, &cp)
	return nil
}

func (m *MemoryStore) GetLogEntries(ctx context.Context, executionID string, since int64) ([]*LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*LogEntry
	for _, e := range m.logs[executionID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Trigger dedup ---

func (m *MemoryStore) PutDedupKey(ctx context.Context, key, executionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bound, ok := m.dedup[key]; ok {
		return bound, nil
	}
	m.dedup[key] = executionID
	return executionID, nil
}

// --- Approval chains ---

func (m *MemoryStore) CreateApprovalChain(ctx context.Context, chain *ApprovalChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if chain.RowVersion == 0 {
		chain.RowVersion = 1
	}
	if chain.CreatedAt.IsZero() {
		chain.CreatedAt = time.Now().UTC()
	}
	chain.UpdatedAt = chain.CreatedAt
	cp := *chain
	cp.Steps = append([]schema.ApprovalStep(nil), chain.Steps...)
	m.chains[chain.ID] = &cp
	return nil
}

func (m *MemoryStore) GetApprovalChain(ctx context.Context, id string) (*ApprovalChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chains[id]
	if !ok {
		return nil, storeNotFound("approval_chain", id)
	}
	cp := *c
	cp.Steps = append([]schema.ApprovalStep(nil), c.Steps...)
	return &cp, nil
}

func (m *MemoryStore) UpdateApprovalChain(ctx context.Context, chain *ApprovalChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chains[chain.ID]
	if !ok {
		return storeNotFound("approval_chain", chain.ID)
	}
	if c.RowVersion != chain.RowVersion {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"approval chain %q was modified concurrently", chain.ID)
	}
	c.Status = chain.Status
	c.Steps = append([]schema.ApprovalStep(nil), chain.Steps...)
	c.CompletedAt = chain.CompletedAt
	c.RowVersion++
	c.UpdatedAt = time.Now().UTC()
	chain.RowVersion = c.RowVersion
	return nil
}

func (m *MemoryStore) ListApprovalChains(ctx context.Context, filter ChainFilter) ([]*ApprovalChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ApprovalChain
	for _, c := range m.chains {
		if filter.ExecutionID != "" && c.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		cp := *c
		cp.Steps = append([]schema.ApprovalStep(nil), c.Steps...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	out = filterChainsByApprover(out, filter.Approver)
	out = paginate(out, filter.Limit, 0)
	return out, nil
}

// --- Aggregates ---

func (m *MemoryStore) WorkflowStats(ctx context.Context, workflowID string) (*WorkflowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &WorkflowStats{WorkflowID: workflowID}
	var totalMs, completedWithTimes int64

	for _, e := range m.executions {
		if e.WorkflowID != workflowID {
			continue
		}
		stats.Total++
		switch e.Status {
		case schema.ExecutionPending:
			stats.Pending++
		case schema.ExecutionRunning:
			stats.Running++
		case schema.ExecutionCompleted:
			stats.Completed++
			if e.StartedAt != nil && e.CompletedAt != nil {
				totalMs += e.CompletedAt.Sub(*e.StartedAt).Milliseconds()
				completedWithTimes++
			}
		case schema.ExecutionFailed:
			stats.Failed++
		case schema.ExecutionCancelled:
			stats.Cancelled++
		}
		if stats.LastExecutionAt == nil || e.CreatedAt.After(*stats.LastExecutionAt) {
			t := e.CreatedAt
			stats.LastExecutionAt = &t
		}
	}
	if completedWithTimes > 0 {
		stats.AvgDurationMs = totalMs / completedWithTimes
	}
	return stats, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
