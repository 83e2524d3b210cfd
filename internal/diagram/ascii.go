package diagram

import (
	"fmt"
	"strings"
)

// RenderASCII renders the model as a vertical text diagram with box-drawing
// characters. Branch and loop edges are annotated inline.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	branches := branchAnnotations(model)
	for i, node := range model.Nodes {
		writeBox(&b, node, branches[node.ID])
		if len(node.Body) > 0 {
			for _, body := range node.Body {
				fmt.Fprintf(&b, "    • %s [%s]\n", body.Label, body.Kind)
			}
		}
		if i < len(model.Nodes)-1 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	return b.String()
}

func writeBox(b *strings.Builder, node *Node, annotation string) {
	label := node.Label
	if annotation != "" {
		label += "  " + annotation
	}

	width := len(label) + 4
	fmt.Fprintf(b, "┌%s┐\n", strings.Repeat("─", width-2))
	fmt.Fprintf(b, "│ %s │\n", label)
	fmt.Fprintf(b, "└%s┘\n", strings.Repeat("─", width-2))
}

// branchAnnotations summarizes each node's labeled outgoing edges, e.g.
// "(no -> __end__)" on a condition without an else target.
func branchAnnotations(model *Model) map[string]string {
	out := make(map[string]string)
	for _, edge := range model.Edges {
		if edge.Label == "" || edge.Label == "yes" {
			continue
		}
		note := fmt.Sprintf("(%s -> %s)", edge.Label, edge.To)
		if prev := out[edge.From]; prev != "" {
			note = prev + " " + note
		}
		out[edge.From] = note
	}
	return out
}
