package definitions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windlass-dev/windlass/internal/store"
	"github.com/windlass-dev/windlass/internal/validation"
	"github.com/windlass-dev/windlass/pkg/schema"
)

type openLookup struct{}

func (openLookup) Has(string) bool { return true }

func newTestService(t *testing.T) *Service {
	t.Helper()
	v, err := validation.NewValidator(openLookup{})
	require.NoError(t, err)
	return NewService(store.NewMemoryStore(), v, nil)
}

func manualDefinition(name string) *schema.WorkflowDefinition {
	cfg, _ := json.Marshal(schema.ActionConfig{Name: "core.log"})
	return &schema.WorkflowDefinition{
		Name:        name,
		TriggerType: schema.TriggerManual,
		Nodes: []schema.Node{
			{ID: "n1", Type: schema.NodeAction, Position: 1, Config: cfg},
		},
	}
}

func TestPut_AssignsIDAndVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	def := manualDefinition("onboarding")
	rec, err := svc.Put(ctx, def)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.WorkflowID)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, rec.WorkflowID, def.ID)
	assert.Equal(t, 1, def.Version)
	assert.True(t, rec.IsActive)
}

func TestPut_NewVersionPerEdit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	def := manualDefinition("onboarding")
	first, err := svc.Put(ctx, def)
	require.NoError(t, err)

	def.Name = "onboarding v2"
	second, err := svc.Put(ctx, def)
	require.NoError(t, err)

	assert.Equal(t, first.WorkflowID, second.WorkflowID)
	assert.Equal(t, 2, second.Version)

	// The first version is untouched.
	v1, err := svc.Get(ctx, first.WorkflowID, 1)
	require.NoError(t, err)
	assert.Equal(t, "onboarding", v1.Definition.Name)

	latest, err := svc.Get(ctx, first.WorkflowID, 0)
	require.NoError(t, err)
	assert.Equal(t, "onboarding v2", latest.Definition.Name)

	versions, err := svc.Versions(ctx, first.WorkflowID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestPut_RejectsInvalidDefinition(t *testing.T) {
	svc := newTestService(t)

	def := manualDefinition("broken")
	def.Nodes = nil

	_, err := svc.Put(context.Background(), def)
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeValidation, engineErr.Code)
}

func TestPut_GeneratesWebhookCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	def := manualDefinition("hook")
	def.TriggerType = schema.TriggerWebhook
	def.TriggerConfig = nil

	rec, err := svc.Put(ctx, def)
	require.NoError(t, err)
	require.NotEmpty(t, rec.WebhookToken)

	var cfg schema.WebhookTriggerConfig
	require.NoError(t, json.Unmarshal(def.TriggerConfig, &cfg))
	assert.Equal(t, rec.WebhookToken, cfg.Token)
	assert.Len(t, cfg.Secret, 64)

	resolved, err := svc.ResolveWebhook(ctx, rec.WebhookToken)
	require.NoError(t, err)
	assert.Equal(t, rec.WorkflowID, resolved.WorkflowID)
}

func TestPut_CarriesWebhookTokenAcrossVersions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	def := manualDefinition("hook")
	def.TriggerType = schema.TriggerWebhook
	first, err := svc.Put(ctx, def)
	require.NoError(t, err)

	var firstCfg schema.WebhookTriggerConfig
	require.NoError(t, json.Unmarshal(def.TriggerConfig, &firstCfg))

	def.TriggerConfig = nil
	def.Name = "hook v2"
	second, err := svc.Put(ctx, def)
	require.NoError(t, err)

	assert.Equal(t, first.WebhookToken, second.WebhookToken)

	var secondCfg schema.WebhookTriggerConfig
	require.NoError(t, json.Unmarshal(def.TriggerConfig, &secondCfg))
	assert.Equal(t, firstCfg.Secret, secondCfg.Secret)
}

func TestActivateDeactivate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Put(ctx, manualDefinition("toggled"))
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, rec.WorkflowID))
	active, err := svc.ListActive(ctx, schema.TriggerManual)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, svc.Activate(ctx, rec.WorkflowID))
	active, err = svc.ListActive(ctx, schema.TriggerManual)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, rec.WorkflowID, active[0].WorkflowID)
}

func TestResolveWebhook_EmptyToken(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ResolveWebhook(context.Background(), "")
	require.Error(t, err)
}
