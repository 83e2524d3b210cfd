package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"

	"github.com/windlass-dev/windlass/internal/actions"
	"github.com/windlass-dev/windlass/internal/expressions"
	"github.com/windlass-dev/windlass/internal/logging"
	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/pkg/schema"
)

// Interpreter walks a workflow's node graph for one execution. Nodes run
// strictly sequentially in position order; cancellation is cooperative and
// checked at node and loop-iteration boundaries. Given deterministic action
// collaborators, a run is deterministic for a fixed (definition version,
// input) pair.
type Interpreter struct {
	store    store.Store
	actions  *actions.Registry
	exprs    *expressions.Registry
	notifier actions.Notifier
	logger   *slog.Logger
}

// NewInterpreter creates an Interpreter.
func NewInterpreter(st store.Store, registry *actions.Registry, exprs *expressions.Registry, notifier actions.Notifier, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		store:    st,
		actions:  registry,
		exprs:    exprs,
		notifier: notifier,
		logger:   logger,
	}
}

// RunResult is the terminal outcome of one interpreted run.
type RunResult struct {
	Status schema.ExecutionStatus
	Output json.RawMessage
	Err    *schema.EngineError
}

// runState is the mutable state of one run: the trigger input (read-only),
// the execution context, and per-node results keyed by node ID.
type runState struct {
	exec    *store.Execution
	def     *schema.WorkflowDefinition
	nodes   []schema.Node // sorted by position
	byPos   map[int]int   // position -> index into nodes
	input   map[string]any
	context map[string]any
	results map[string]any
}

func (st *runState) scope(item any, index int) expressions.Scope {
	return expressions.Scope{
		Input:   st.input,
		Context: st.context,
		Nodes:   st.results,
		Item:    item,
		Index:   index,
	}
}

// Run interprets the execution against its pinned definition version and
// returns the terminal result. The returned error is reserved for
// infrastructure failures (store unavailable); domain failures land on
// RunResult.Err with status failed or cancelled.
func (r *Interpreter) Run(ctx context.Context, exec *store.Execution, def *schema.WorkflowDefinition) (*RunResult, error) {
	ctx = logging.WithIDs(ctx, exec.WorkflowID, exec.ID, "")

	st := &runState{
		exec:    exec,
		def:     def,
		nodes:   append([]schema.Node(nil), def.Nodes...),
		byPos:   make(map[int]int, len(def.Nodes)),
		input:   decodeObject(exec.Input),
		context: decodeObject(exec.Context),
		results: make(map[string]any),
	}
	sort.Slice(st.nodes, func(i, j int) bool { return st.nodes[i].Position < st.nodes[j].Position })
	for i, n := range st.nodes {
		st.byPos[n.Position] = i
	}

	if err := r.walk(ctx, st); err != nil {
		engineErr := asEngineError(err)
		if engineErr.Code == schema.ErrCodeCancelled {
			return &RunResult{Status: schema.ExecutionCancelled, Err: engineErr}, nil
		}
		if engineErr.Code == schema.ErrCodeStore {
			return nil, engineErr
		}
		return &RunResult{Status: schema.ExecutionFailed, Err: engineErr}, nil
	}

	output, err := json.Marshal(st.context)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "encode output: %s", err.Error()).WithCause(err)
	}
	return &RunResult{Status: schema.ExecutionCompleted, Output: output}, nil
}

// walk runs the position-ordered node sequence. Returning nil means the run
// fell past the last node (or a false condition with no else target ended it
// early) and completes successfully.
func (r *Interpreter) walk(ctx context.Context, st *runState) error {
	i := 0
	for i < len(st.nodes) {
		if err := r.checkCancelled(ctx, st.exec.ID); err != nil {
			return err
		}

		node := &st.nodes[i]
		if err := r.markCurrentNode(ctx, st.exec.ID, node.ID); err != nil {
			return err
		}

		switch node.Type {
		case schema.NodeCondition:
			next, terminate, err := r.runCondition(ctx, st, node, i)
			if err != nil {
				return err
			}
			if terminate {
				return nil
			}
			i = next

		case schema.NodeLoop:
			next, err := r.runLoop(ctx, st, node, i)
			if err != nil {
				return err
			}
			i = next

		default:
			if err := r.runLeafWithRetry(ctx, st, node, nil, 0); err != nil {
				return err
			}
			i++
		}
	}
	return nil
}

// runCondition evaluates the node's expression. True continues to the next
// node; false jumps to the else target, or ends the run successfully when no
// target is configured.
func (r *Interpreter) runCondition(ctx context.Context, st *runState, node *schema.Node, index int) (next int, terminate bool, err error) {
	var cfg schema.ConditionConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return 0, false, configError(node, err)
	}

	if err := r.logNode(ctx, st, node, 1, schema.LogInfo, store.EventNodeStarted, ""); err != nil {
		return 0, false, err
	}

	engine, err := r.exprs.ForLanguage(cfg.Language)
	if err != nil {
		return 0, false, r.failNode(ctx, st, node, 1, asEngineError(err).WithNode(node.ID))
	}
	value, err := engine.Evaluate(ctx, cfg.Expression, st.scope(nil, 0).Map())
	if err != nil {
		return 0, false, r.failNode(ctx, st, node, 1, asEngineError(err).WithNode(node.ID))
	}
	result, ok := value.(bool)
	if !ok {
		err := schema.NewErrorf(schema.ErrCodeNodeExecution,
			"condition expression produced %T, want bool", value).WithNode(node.ID)
		return 0, false, r.failNode(ctx, st, node, 1, err)
	}

	st.results[node.ID] = map[string]any{"result": result}
	if err := r.logNodePayload(ctx, st, node, 1, store.EventNodeCompleted, "", map[string]any{"result": result}); err != nil {
		return 0, false, err
	}

	if result {
		return index + 1, false, nil
	}
	if cfg.ElseTarget == nil {
		return 0, true, nil
	}
	target, ok := st.byPos[*cfg.ElseTarget]
	if !ok {
		err := schema.NewErrorf(schema.ErrCodeNodeExecution,
			"else_target %d does not resolve", *cfg.ElseTarget).WithNode(node.ID)
		return 0, false, r.failNode(ctx, st, node, 1, err)
	}
	return target, false, nil
}

// runLoop evaluates the collection expression and runs the body node range
// once per item, sequentially, re-checking cancellation every iteration. An
// empty collection is a zero-iteration no-op.
func (r *Interpreter) runLoop(ctx context.Context, st *runState, node *schema.Node, index int) (int, error) {
	var cfg schema.LoopConfig
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return 0, configError(node, err)
	}

	if err := r.logNode(ctx, st, node, 1, schema.LogInfo, store.EventNodeStarted, ""); err != nil {
		return 0, err
	}

	engine, err := r.exprs.ForLanguage(cfg.Language)
	if err != nil {
		return 0, r.failNode(ctx, st, node, 1, asEngineError(err).WithNode(node.ID))
	}
	value, err := engine.Evaluate(ctx, cfg.Collection, st.scope(nil, 0).Map())
	if err != nil {
		return 0, r.failNode(ctx, st, node, 1, asEngineError(err).WithNode(node.ID))
	}
	items, err := asList(value)
	if err != nil {
		return 0, r.failNode(ctx, st, node, 1, asEngineError(err).WithNode(node.ID))
	}

	body := st.nodesInRange(cfg.BodyStart, cfg.BodyEnd)
	for idx, item := range items {
		if err := r.checkCancelled(ctx, st.exec.ID); err != nil {
			return 0, err
		}
		payload := map[string]any{"index": idx, "of": len(items)}
		if err := r.logNodePayload(ctx, st, node, 1, store.EventLoopIteration, "", payload); err != nil {
			return 0, err
		}
		for _, bodyNode := range body {
			if err := r.checkCancelled(ctx, st.exec.ID); err != nil {
				return 0, err
			}
			if err := r.runLeafWithRetry(ctx, st, bodyNode, item, idx); err != nil {
				return 0, err
			}
		}
	}

	st.results[node.ID] = map[string]any{"iterations": len(items)}
	if err := r.logNodePayload(ctx, st, node, 1, store.EventNodeCompleted, "", map[string]any{"iterations": len(items)}); err != nil {
		return 0, err
	}

	// Resume past the loop body.
	next := index + 1
	for next < len(st.nodes) && st.nodes[next].Position <= cfg.BodyEnd {
		next++
	}
	return next, nil
}

// runLeafWithRetry runs a leaf node under its retry policy. Each retry
// restores the pre-node state snapshot so the node re-runs against the exact
// context it first saw, and every attempt gets its own log entries.
func (r *Interpreter) runLeafWithRetry(ctx context.Context, st *runState, node *schema.Node, item any, index int) error {
	policy := retryPolicyFor(st.def, node)
	maxAttempts := 1
	if policy != nil && policy.Max > 0 {
		maxAttempts = policy.Max + 1
	}
	bo := newBackoff(policy)

	snapshot, err := snapshotState(st)
	if err != nil {
		return err
	}

	var lastErr *schema.EngineError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := restoreState(st, snapshot); err != nil {
				return err
			}
			if err := r.logNode(ctx, st, node, attempt, schema.LogWarning, store.EventNodeRetrying, lastErr.Message); err != nil {
				return err
			}
			if err := waitBackoff(ctx, bo.NextBackOff()); err != nil {
				return schema.NewError(schema.ErrCodeCancelled, "execution cancelled during retry backoff").
					WithNode(node.ID).WithCause(err)
			}
		}

		if err := r.logNode(ctx, st, node, attempt, schema.LogInfo, store.EventNodeStarted, ""); err != nil {
			return err
		}

		result, execErr := r.executeLeaf(ctx, st, node, item, index)
		if execErr == nil {
			st.results[node.ID] = result
			// Node results merge into the context so the final output
			// carries them.
			if result != nil {
				st.context[node.ID] = result
			}
			if err := r.logNode(ctx, st, node, attempt, schema.LogInfo, store.EventNodeCompleted, ""); err != nil {
				return err
			}
			return nil
		}

		lastErr = asEngineError(execErr).WithNode(node.ID)
		if err := r.logNode(ctx, st, node, attempt, schema.LogError, store.EventNodeFailed, lastErr.Message); err != nil {
			return err
		}
		if ctx.Err() != nil || lastErr.Code == schema.ErrCodeCancelled {
			return schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithNode(node.ID).WithCause(lastErr)
		}
		if !IsRetryableError(lastErr) {
			return lastErr
		}
	}

	if maxAttempts > 1 {
		return schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"node failed after %d attempts: %s", maxAttempts, lastErr.Message).
			WithNode(node.ID).WithCause(lastErr)
	}
	return lastErr
}

// executeLeaf dispatches one leaf node to its collaborator and returns the
// node result to record under nodes[node.ID].
func (r *Interpreter) executeLeaf(ctx context.Context, st *runState, node *schema.Node, item any, index int) (any, error) {
	ctx = logging.WithNodeID(ctx, node.ID)
	scope := st.scope(item, index).Map()

	switch node.Type {
	case schema.NodeAction:
		var cfg schema.ActionConfig
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return nil, configError(node, err)
		}
		return r.invokeAction(ctx, cfg.Name, cfg.Params, scope)

	case schema.NodeHTTPRequest:
		var cfg schema.HTTPRequestConfig
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return nil, configError(node, err)
		}
		return r.invokeAction(ctx, "http.request", httpParams(cfg), scope)

	case schema.NodeDataTransform:
		var cfg schema.DataTransformConfig
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return nil, configError(node, err)
		}
		result, err := r.exprs.JQ().Evaluate(ctx, cfg.Expression, scope)
		if err != nil {
			return nil, err
		}
		target := cfg.Target
		if target == "" {
			target = "transformed"
		}
		st.context[target] = result
		return result, nil

	case schema.NodeNotification:
		var cfg schema.NotificationConfig
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return nil, configError(node, err)
		}
		notification := actions.Notification{
			Channel:    cfg.Channel,
			Recipients: cfg.Recipients,
			Subject:    cfg.Subject,
			Message:    cfg.Message,
		}
		if err := r.notifier.Notify(ctx, notification); err != nil {
			return nil, err
		}
		return map[string]any{"delivered": true, "channel": cfg.Channel}, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "unsupported node type %q", node.Type)
	}
}

func (r *Interpreter) invokeAction(ctx context.Context, name string, params map[string]any, scope map[string]any) (any, error) {
	action, err := r.actions.Get(name)
	if err != nil {
		return nil, err
	}
	output, err := action.Execute(ctx, actions.ActionInput{Params: params, Scope: scope})
	if err != nil {
		return nil, err
	}
	if output == nil || len(output.Data) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(output.Data, &result); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"action %s returned invalid JSON: %s", name, err.Error()).WithCause(err)
	}
	return result, nil
}

// checkCancelled enforces cooperative cancellation: the run context (timeout
// watchdog, shutdown) and the store's cancel_requested flag are both honored
// at node and iteration boundaries.
func (r *Interpreter) checkCancelled(ctx context.Context, executionID string) error {
	if ctx.Err() != nil {
		return schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithCause(ctx.Err())
	}
	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.CancelRequested {
		return schema.NewError(schema.ErrCodeCancelled, "cancellation requested")
	}
	return nil
}

func (r *Interpreter) markCurrentNode(ctx context.Context, executionID, nodeID string) error {
	return r.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{CurrentNodeID: &nodeID})
}

// failNode logs a node failure entry and returns the error.
func (r *Interpreter) failNode(ctx context.Context, st *runState, node *schema.Node, attempt int, nodeErr *schema.EngineError) error {
	if err := r.logNode(ctx, st, node, attempt, schema.LogError, store.EventNodeFailed, nodeErr.Message); err != nil {
		return err
	}
	return nodeErr
}

func (r *Interpreter) logNode(ctx context.Context, st *runState, node *schema.Node, attempt int, level schema.LogLevel, event, message string) error {
	return r.store.AppendLogEntry(ctx, &store.LogEntry{
		ExecutionID: st.exec.ID,
		NodeID:      node.ID,
		Attempt:     attempt,
		Level:       level,
		Event:       event,
		Message:     message,
	})
}

func (r *Interpreter) logNodePayload(ctx context.Context, st *runState, node *schema.Node, attempt int, event, message string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	return r.store.AppendLogEntry(ctx, &store.LogEntry{
		ExecutionID: st.exec.ID,
		NodeID:      node.ID,
		Attempt:     attempt,
		Level:       schema.LogInfo,
		Event:       event,
		Message:     message,
		Payload:     raw,
	})
}

// nodesInRange returns pointers to the nodes with positions in [start, end],
// in position order.
func (st *runState) nodesInRange(start, end int) []*schema.Node {
	var out []*schema.Node
	for i := range st.nodes {
		if st.nodes[i].Position >= start && st.nodes[i].Position <= end {
			out = append(out, &st.nodes[i])
		}
	}
	return out
}

// stateSnapshot is a deep copy of the mutable run state, taken before a node
// attempt so retries re-run from the exact pre-node view.
type stateSnapshot struct {
	context json.RawMessage
	results json.RawMessage
}

func snapshotState(st *runState) (*stateSnapshot, error) {
	ctxRaw, err := json.Marshal(st.context)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "snapshot context: %s", err.Error()).WithCause(err)
	}
	resRaw, err := json.Marshal(st.results)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "snapshot results: %s", err.Error()).WithCause(err)
	}
	return &stateSnapshot{context: ctxRaw, results: resRaw}, nil
}

func restoreState(st *runState, snap *stateSnapshot) error {
	var restoredCtx map[string]any
	if err := json.Unmarshal(snap.context, &restoredCtx); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "restore context: %s", err.Error()).WithCause(err)
	}
	var restoredRes map[string]any
	if err := json.Unmarshal(snap.results, &restoredRes); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "restore results: %s", err.Error()).WithCause(err)
	}
	st.context = restoredCtx
	st.results = restoredRes
	return nil
}

// decodeObject parses a JSON payload into a map, treating empty or non-object
// payloads as an empty map.
func decodeObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// httpParams maps an httpRequest node's config onto http.request params.
func httpParams(cfg schema.HTTPRequestConfig) map[string]any {
	params := map[string]any{"url": cfg.URL}
	if cfg.Method != "" {
		params["method"] = cfg.Method
	}
	if len(cfg.Headers) > 0 {
		headers := make(map[string]any, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		params["headers"] = headers
	}
	if cfg.Body != nil {
		params["body"] = cfg.Body
	}
	if cfg.Timeout != "" {
		params["timeout"] = cfg.Timeout
	}
	if cfg.FailOnErrorStatus {
		params["fail_on_error_status"] = true
	}
	return params
}

// asList coerces an evaluated collection into a []any. Expression engines may
// hand back wrapped values (e.g. CEL ref.Val elements); those are unwrapped
// through their Value() accessor.
func asList(value any) ([]any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("collection expression produced %T, want a list", value)
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		if wrapped, ok := elem.(interface{ Value() any }); ok {
			elem = wrapped.Value()
		}
		out[i] = elem
	}
	return out, nil
}

// asEngineError coerces any error into a typed EngineError, wrapping untyped
// errors as node execution failures.
func asEngineError(err error) *schema.EngineError {
	var engineErr *schema.EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	return schema.NewError(schema.ErrCodeNodeExecution, err.Error()).WithCause(err)
}

func configError(node *schema.Node, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"decode %s node config: %s", node.Type, err.Error()).WithNode(node.ID).WithCause(err)
}
