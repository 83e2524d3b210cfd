package expressions

// Scope is the evaluation environment an expression sees. It mirrors the
// execution state at the moment of evaluation:
//   - input:   the trigger payload
//   - context: the mutable execution context
//   - nodes:   per-node results keyed by node ID
//   - item:    current loop item (nil outside a loop)
//   - index:   current loop index (0 outside a loop)
type Scope struct {
	Input   map[string]any
	Context map[string]any
	Nodes   map[string]any
	Item    any
	Index   int
}

// scopeKeys lists the top-level variables every engine exposes.
var scopeKeys = []string{"input", "context", "nodes", "item", "index"}

// Map flattens the scope into the data map engines evaluate against.
// Missing maps are replaced with empty ones so expressions never hit
// nil-reference errors.
func (s Scope) Map() map[string]any {
	m := make(map[string]any, len(scopeKeys))
	m["input"] = orEmpty(s.Input)
	m["context"] = orEmpty(s.Context)
	m["nodes"] = orEmpty(s.Nodes)
	m["item"] = s.Item
	m["index"] = s.Index
	return m
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
