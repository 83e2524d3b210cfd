package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ForLanguage(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	def, err := r.ForLanguage("")
	require.NoError(t, err)
	assert.Equal(t, "cel", def.Name())

	ex, err := r.ForLanguage("expr")
	require.NoError(t, err)
	assert.Equal(t, "expr", ex.Name())

	_, err = r.ForLanguage("lua")
	require.Error(t, err)
}

func TestScopeMap_Defaults(t *testing.T) {
	m := Scope{}.Map()
	assert.Equal(t, map[string]any{}, m["input"])
	assert.Equal(t, map[string]any{}, m["context"])
	assert.Equal(t, map[string]any{}, m["nodes"])
	assert.Nil(t, m["item"])
	assert.Equal(t, 0, m["index"])
}
