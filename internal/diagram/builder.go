package diagram

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/windlass-dev/windlass/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// FromDefinition builds the diagram model for a workflow definition. The walk
// mirrors the interpreter: nodes in position order, a false condition jumping
// to its else target (or ending the run), loop bodies between body_start and
// body_end.
func FromDefinition(def *schema.WorkflowDefinition) *Model {
	nodes := append([]schema.Node(nil), def.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Position < nodes[j].Position })

	byPos := make(map[int]string, len(nodes))
	for _, n := range nodes {
		byPos[n.Position] = n.ID
	}

	model := &Model{
		Title: def.Name,
		Nodes: []*Node{{ID: startID, Label: "Start", Kind: KindStart}},
	}

	top := topLevel(nodes)
	if len(top) > 0 {
		model.Edges = append(model.Edges, Edge{From: startID, To: top[0].ID})
	} else {
		model.Edges = append(model.Edges, Edge{From: startID, To: endID})
	}

	for i, n := range top {
		next := endID
		if i+1 < len(top) {
			next = top[i+1].ID
		}

		node := &Node{ID: n.ID, Label: nodeLabel(&n), Kind: kindOf(n.Type)}
		model.Nodes = append(model.Nodes, node)

		switch n.Type {
		case schema.NodeCondition:
			var cfg schema.ConditionConfig
			_ = json.Unmarshal(n.Config, &cfg)
			model.Edges = append(model.Edges, Edge{From: n.ID, To: next, Label: "yes"})
			elseTo := endID
			if cfg.ElseTarget != nil {
				if id, ok := byPos[*cfg.ElseTarget]; ok {
					elseTo = id
				}
			}
			model.Edges = append(model.Edges, Edge{From: n.ID, To: elseTo, Label: "no"})

		case schema.NodeLoop:
			var cfg schema.LoopConfig
			_ = json.Unmarshal(n.Config, &cfg)
			for _, body := range nodesInRange(nodes, cfg.BodyStart, cfg.BodyEnd) {
				node.Body = append(node.Body, &Node{
					ID:    body.ID,
					Label: nodeLabel(&body),
					Kind:  kindOf(body.Type),
				})
			}
			model.Edges = append(model.Edges, Edge{From: n.ID, To: next, Label: "done"})

		default:
			model.Edges = append(model.Edges, Edge{From: n.ID, To: next})
		}
	}

	model.Nodes = append(model.Nodes, &Node{ID: endID, Label: "End", Kind: KindEnd})
	return model
}

// topLevel filters out nodes covered by a preceding loop's body range; those
// render as children of the loop node instead.
func topLevel(sorted []schema.Node) []schema.Node {
	covered := make(map[int]bool)
	for _, n := range sorted {
		if n.Type != schema.NodeLoop {
			continue
		}
		var cfg schema.LoopConfig
		if json.Unmarshal(n.Config, &cfg) != nil {
			continue
		}
		for pos := cfg.BodyStart; pos <= cfg.BodyEnd; pos++ {
			covered[pos] = true
		}
	}

	var out []schema.Node
	for _, n := range sorted {
		if !covered[n.Position] {
			out = append(out, n)
		}
	}
	return out
}

func nodesInRange(sorted []schema.Node, start, end int) []schema.Node {
	var out []schema.Node
	for _, n := range sorted {
		if n.Position >= start && n.Position <= end {
			out = append(out, n)
		}
	}
	return out
}

func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeCondition:
		return KindCondition
	case schema.NodeLoop:
		return KindLoop
	case schema.NodeHTTPRequest:
		return KindHTTPRequest
	case schema.NodeDataTransform:
		return KindTransform
	case schema.NodeNotification:
		return KindNotification
	default:
		return KindAction
	}
}

// nodeLabel is the node's display name, annotated with the action it runs
// when one is configured.
func nodeLabel(n *schema.Node) string {
	label := n.Name
	if label == "" {
		label = n.ID
	}
	if n.Type == schema.NodeAction {
		var cfg schema.ActionConfig
		if json.Unmarshal(n.Config, &cfg) == nil && cfg.Name != "" {
			return fmt.Sprintf("%s (%s)", label, cfg.Name)
		}
	}
	return label
}
