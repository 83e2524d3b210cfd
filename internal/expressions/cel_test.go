package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windlass-dev/windlass/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCELEvaluate_Condition(t *testing.T) {
	e := newCEL(t)
	scope := Scope{
		Input:   map[string]any{"amount": 150},
		Context: map[string]any{"approved": true},
	}

	out, err := e.Evaluate(context.Background(), `input.amount > 100 && context.approved`, scope.Map())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEvaluate_NodeResults(t *testing.T) {
	e := newCEL(t)
	scope := Scope{
		Nodes: map[string]any{
			"fetch": map[string]any{"status": 200},
		},
	}

	out, err := e.Evaluate(context.Background(), `nodes.fetch.status == 200`, scope.Map())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEvaluate_LoopScope(t *testing.T) {
	e := newCEL(t)
	scope := Scope{
		Item:  map[string]any{"name": "widget"},
		Index: 2,
	}

	out, err := e.Evaluate(context.Background(), `item.name == "widget" && index == 2`, scope.Map())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEvaluate_MissingScopeDefaults(t *testing.T) {
	e := newCEL(t)

	out, err := e.Evaluate(context.Background(), `size(input) == 0`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEvaluate_CompileError(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), `input.amount >`, Scope{}.Map())
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestCELEvaluate_Empty(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestCELEvaluate_CachesPrograms(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	_, err := e.Evaluate(ctx, `1 + 1 == 2`, nil)
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)

	_, err = e.Evaluate(ctx, `1 + 1 == 2`, nil)
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}
