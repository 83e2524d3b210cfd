package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// RegisterBuiltins wires the standard action set into the registry.
func RegisterBuiltins(r *Registry, httpCfg HTTPConfig, logger *slog.Logger) error {
	builtins := []Action{
		NewHTTPRequestAction(httpCfg),
		NewHTTPGetAction(httpCfg),
		NewHTTPPostAction(httpCfg),
		NewLogAction(logger),
		NewDelayAction(),
	}
	for _, a := range builtins {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// LogAction implements "core.log": it writes a message to the structured log
// and echoes its params. Useful for wiring and debugging workflows.
type LogAction struct {
	logger *slog.Logger
}

// NewLogAction creates a core.log action.
func NewLogAction(logger *slog.Logger) *LogAction {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAction{logger: logger}
}

func (a *LogAction) Name() string { return "core.log" }

func (a *LogAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Log a message at the given level and echo the params.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "message": {"type": "string"},
    "level": {"type": "string", "enum": ["debug","info","warning","error"], "default": "info"}
  },
  "required": ["message"]
}`),
	}
}

func (a *LogAction) Validate(params map[string]any) error {
	if stringParam(params, "message", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "core.log: missing required param 'message'")
	}
	return nil
}

func (a *LogAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	msg := stringParam(input.Params, "message", "")
	switch stringParam(input.Params, "level", "info") {
	case "debug":
		a.logger.DebugContext(ctx, msg)
	case "warning":
		a.logger.WarnContext(ctx, msg)
	case "error":
		a.logger.ErrorContext(ctx, msg)
	default:
		a.logger.InfoContext(ctx, msg)
	}

	data, err := json.Marshal(map[string]any{"message": msg})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeNodeExecution, "core.log: marshal output").WithCause(err)
	}
	return &ActionOutput{Data: data}, nil
}

// DelayAction implements "core.delay": it sleeps for the configured duration,
// respecting context cancellation.
type DelayAction struct{}

// NewDelayAction creates a core.delay action.
func NewDelayAction() *DelayAction { return &DelayAction{} }

func (a *DelayAction) Name() string { return "core.delay" }

func (a *DelayAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Pause the workflow for a fixed duration.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "duration": {"type": "string"}
  },
  "required": ["duration"]
}`),
	}
}

func (a *DelayAction) Validate(params map[string]any) error {
	d := stringParam(params, "duration", "")
	if d == "" {
		return schema.NewError(schema.ErrCodeValidation, "core.delay: missing required param 'duration'")
	}
	if _, err := time.ParseDuration(d); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "core.delay: invalid duration %q", d)
	}
	return nil
}

func (a *DelayAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	d, _ := time.ParseDuration(stringParam(input.Params, "duration", ""))

	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "core.delay: interrupted").WithCause(ctx.Err())
	}

	data, _ := json.Marshal(map[string]any{"slept": d.String()})
	return &ActionOutput{Data: data}, nil
}
