package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders the model as a Mermaid flowchart.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
		if len(node.Body) == 0 {
			continue
		}
		fmt.Fprintf(&b, "    subgraph %s_body[\"%s body\"]\n", safeID(node.ID), node.ID)
		for i, body := range node.Body {
			fmt.Fprintf(&b, "        %s\n", mermaidNodeDef(body))
			if i > 0 {
				fmt.Fprintf(&b, "        %s --> %s\n", safeID(node.Body[i-1].ID), safeID(body.ID))
			}
		}
		b.WriteString("    end\n")
		fmt.Fprintf(&b, "    %s -.->|each| %s_body\n", safeID(node.ID), safeID(node.ID))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", safeID(edge.From), label, safeID(edge.To))
	}

	return b.String()
}

func mermaidNodeDef(node *Node) string {
	id := safeID(node.ID)
	label := node.Label

	switch node.Kind {
	case KindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case KindLoop:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case KindStart, KindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	case KindHTTPRequest:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case KindNotification:
		return fmt.Sprintf("%s([%q])", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// safeID converts a node ID to a Mermaid-safe identifier.
func safeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
