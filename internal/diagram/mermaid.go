package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/varflow/pkg/schema"
)

// RenderMermaid renders a Model as a Mermaid flowchart.
func RenderMermaid(model *Model) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}
	for _, edge := range model.Edges {
		fmt.Fprintf(&b, "    %s --> %s\n", mermaidSafeID(edge.From), mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef succeeded fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		if node.Status != nil {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), mermaidStatusClass(node.Status.Status))
		}
	}
	return b.String()
}

func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(node.Label)
	if node.Detail != "" {
		label += "<br/>" + mermaidEscapeLabel(node.Detail)
	}

	switch node.Kind {
	case NodeKindStart:
		return fmt.Sprintf("%s((\"%s\"))", id, label)
	case NodeKindAssigner:
		return fmt.Sprintf("%s[/\"%s\"/]", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// mermaidSafeID replaces characters Mermaid does not accept in ids.
func mermaidSafeID(id string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(id)
}

func mermaidEscapeLabel(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "<-", "&larr;", "\n", " ").Replace(s)
}

func mermaidStatusClass(status schema.NodeStatus) string {
	switch status {
	case schema.NodeStatusSucceeded, schema.NodeStatusFailed, schema.NodeStatusRunning, schema.NodeStatusSkipped:
		return string(status)
	default:
		return "pending"
	}
}
