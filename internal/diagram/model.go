// Package diagram renders workflow definitions as Mermaid flowcharts and
// ASCII diagrams. The renderers share an intermediate model built from the
// position-ordered node walk: condition false-branches, loop bodies, and the
// implicit terminal edges all become explicit.
package diagram

// NodeKind classifies a diagram node by its workflow node type.
type NodeKind string

const (
	KindStart        NodeKind = "start"
	KindEnd          NodeKind = "end"
	KindAction       NodeKind = "action"
	KindCondition    NodeKind = "condition"
	KindLoop         NodeKind = "loop"
	KindHTTPRequest  NodeKind = "httpRequest"
	KindTransform    NodeKind = "dataTransform"
	KindNotification NodeKind = "notification"
)

// Model is the intermediate representation shared by the renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one diagram node. Loop nodes carry their body as children.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
	Body  []*Node
}

// Edge is a directed flow edge. Label marks branch edges (yes/no/each/done).
type Edge struct {
	From  string
	To    string
	Label string
}
