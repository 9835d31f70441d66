package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rendis/varflow/pkg/schema"
)

func statusTag(status schema.NodeStatus) string {
	switch status {
	case schema.NodeStatusSucceeded:
		return "[OK]"
	case schema.NodeStatusFailed:
		return "[FAIL]"
	case schema.NodeStatusRunning:
		return "[RUN]"
	case schema.NodeStatusSkipped:
		return "[SKIP]"
	case schema.NodeStatusPending:
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a Model level by level with box-drawing characters.
func RenderASCII(model *Model) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for i, level := range model.Levels {
		var boxes []asciiBox
		for _, id := range level {
			if node := model.node(id); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if i < len(model.Levels)-1 && len(boxes) > 0 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	var failures []string
	for _, node := range model.Nodes {
		if node.Status != nil && node.Status.Error != "" {
			failures = append(failures, fmt.Sprintf("  %s: %s", node.ID, node.Status.Error))
		}
	}
	if len(failures) > 0 {
		b.WriteString("\nErrors:\n")
		b.WriteString(strings.Join(failures, "\n"))
		b.WriteByte('\n')
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	content := []string{node.Label}
	if node.Detail != "" {
		content = append(content, node.Detail)
	}
	if node.Status != nil {
		tag := statusTag(node.Status.Status)
		if node.Status.DurationMs > 0 {
			tag += fmt.Sprintf(" %dms", node.Status.DurationMs)
		}
		content = append(content, tag)
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, line := range content {
		pad := strings.Repeat(" ", maxLen-utf8.RuneCountInString(line))
		lines = append(lines, "│ "+line+pad+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}
	for row := range height {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}
