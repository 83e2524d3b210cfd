// Package definitions manages the versioned workflow definition catalog.
// Definitions are immutable once stored: every Put produces a new version,
// and running executions stay pinned to the version they were triggered
// under.
package definitions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/internal/validation"
	"github.com/windlass-dev/windlass/pkg/schema"
)

// Service validates and stores workflow definitions.
type Service struct {
	store     store.Store
	validator *validation.Validator
	logger    *slog.Logger
}

// NewService creates a definitions Service.
func NewService(st store.Store, validator *validation.Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, validator: validator, logger: logger}
}

// Put validates def and stores it as a new version. If def.ID is empty a new
// workflow ID is assigned; otherwise the definition becomes the next version
// of that workflow. For webhook-triggered workflows the first version gets a
// generated token and secret, and later versions inherit them so callers'
// webhook URLs keep working across edits.
func (s *Service) Put(ctx context.Context, def *schema.WorkflowDefinition) (*store.Definition, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	if result := s.validator.ValidateDefinition(def); !result.Valid() {
		return nil, result.ToError()
	}

	prev, err := s.latest(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	isActive := true
	if prev != nil {
		isActive = prev.IsActive
	}

	webhookToken := ""
	if def.TriggerType == schema.TriggerWebhook {
		webhookToken, err = s.ensureWebhookCredentials(def, prev)
		if err != nil {
			return nil, err
		}
	}

	rec := &store.Definition{
		WorkflowID:   def.ID,
		Definition:   *def,
		TriggerType:  def.TriggerType,
		WebhookToken: webhookToken,
		IsActive:     isActive,
	}
	if err := s.store.CreateDefinition(ctx, rec); err != nil {
		return nil, err
	}
	def.Version = rec.Version

	s.logger.InfoContext(ctx, "workflow definition stored",
		"workflow_id", rec.WorkflowID,
		"version", rec.Version,
		"trigger_type", rec.TriggerType,
	)
	return rec, nil
}

// Get returns one stored version. version <= 0 resolves to the latest.
func (s *Service) Get(ctx context.Context, workflowID string, version int) (*store.Definition, error) {
	return s.store.GetDefinition(ctx, workflowID, version)
}

// Versions returns every stored version of a workflow, oldest first.
func (s *Service) Versions(ctx context.Context, workflowID string) ([]*store.Definition, error) {
	return s.store.ListDefinitionVersions(ctx, workflowID)
}

// Activate re-enables triggering for a workflow.
func (s *Service) Activate(ctx context.Context, workflowID string) error {
	return s.store.SetDefinitionActive(ctx, workflowID, true)
}

// Deactivate disables triggering for a workflow. Already-running executions
// are unaffected.
func (s *Service) Deactivate(ctx context.Context, workflowID string) error {
	return s.store.SetDefinitionActive(ctx, workflowID, false)
}

// ListActive returns the latest active version of every workflow with the
// given trigger type. An empty triggerType matches all trigger types.
func (s *Service) ListActive(ctx context.Context, triggerType schema.TriggerType) ([]*store.Definition, error) {
	return s.store.ListActiveDefinitions(ctx, string(triggerType))
}

// ResolveWebhook finds the definition owning a webhook token.
func (s *Service) ResolveWebhook(ctx context.Context, token string) (*store.Definition, error) {
	if token == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "webhook token is empty")
	}
	return s.store.FindDefinitionByWebhookToken(ctx, token)
}

// latest fetches the newest stored version, or nil if the workflow is new.
func (s *Service) latest(ctx context.Context, workflowID string) (*store.Definition, error) {
	if workflowID == "" {
		return nil, nil
	}
	prev, err := s.store.GetDefinition(ctx, workflowID, 0)
	if err != nil {
		var engineErr *schema.EngineError
		if errors.As(err, &engineErr) && engineErr.Code == schema.ErrCodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	return prev, nil
}

// ensureWebhookCredentials fills in the token and secret on def's trigger
// config, inheriting them from prev when present, and returns the token.
func (s *Service) ensureWebhookCredentials(def *schema.WorkflowDefinition, prev *store.Definition) (string, error) {
	var cfg schema.WebhookTriggerConfig
	if len(def.TriggerConfig) > 0 {
		if err := json.Unmarshal(def.TriggerConfig, &cfg); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "parse webhook trigger_config: %s", err.Error()).WithCause(err)
		}
	}

	if cfg.Token == "" && prev != nil && prev.WebhookToken != "" {
		var prevCfg schema.WebhookTriggerConfig
		if err := json.Unmarshal(prev.Definition.TriggerConfig, &prevCfg); err == nil {
			cfg.Token = prevCfg.Token
			cfg.Secret = prevCfg.Secret
		}
	}
	if cfg.Token == "" {
		cfg.Token = uuid.NewString()
	}
	if cfg.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return "", err
		}
		cfg.Secret = secret
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "encode webhook trigger_config: %s", err.Error()).WithCause(err)
	}
	def.TriggerConfig = raw
	return cfg.Token, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "generate webhook secret: %s", err.Error()).WithCause(err)
	}
	return hex.EncodeToString(buf), nil
}
