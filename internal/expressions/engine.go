package expressions

import (
	"context"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// Engine evaluates expressions against an execution scope.
// Three implementations: CEL and Expr for conditions and loop collections,
// GoJQ for data transforms.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Registry resolves an Engine by language name. The zero language resolves to
// the default engine (CEL).
type Registry struct {
	engines map[string]Engine
	def     Engine
}

// NewRegistry builds a registry with all three engines wired in.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	exprEngine := NewExprEngine()
	jqEngine := NewGoJQEngine()

	r := &Registry{
		engines: map[string]Engine{
			celEngine.Name():  celEngine,
			exprEngine.Name(): exprEngine,
			jqEngine.Name():   jqEngine,
		},
		def: celEngine,
	}
	return r, nil
}

// ForLanguage returns the engine for the given language, or the default
// engine when language is empty.
func (r *Registry) ForLanguage(language string) (Engine, error) {
	if language == "" {
		return r.def, nil
	}
	eng, ok := r.engines[language]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression language %q", language)
	}
	return eng, nil
}

// JQ returns the jq engine for data transforms.
func (r *Registry) JQ() *GoJQEngine {
	return r.engines["jq"].(*GoJQEngine)
}
