package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/rendis/varflow/pkg/schema"
)

// Image formats supported by RenderImage.
const (
	FormatPNG = "png"
	FormatSVG = "svg"
)

// RenderImage renders a Model with graphviz's dot layout.
func RenderImage(ctx context.Context, model *Model, format string) ([]byte, error) {
	var gvFormat graphviz.Format
	switch format {
	case FormatPNG:
		gvFormat = graphviz.PNG
	case FormatSVG:
		gvFormat = graphviz.SVG
	default:
		return nil, fmt.Errorf("diagram: unsupported image format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		n, err := graph.CreateNodeByName(node.ID)
		if err != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, err)
		}
		label := node.Label
		if node.Detail != "" {
			label += "\n" + node.Detail
		}
		n.SetLabel(label)
		applyNodeStyle(n, node)
		gvNodes[node.ID] = n
	}

	for _, edge := range model.Edges {
		from, to := gvNodes[edge.From], gvNodes[edge.To]
		if from == nil || to == nil {
			continue
		}
		if _, err := graph.CreateEdgeByName("", from, to); err != nil {
			return nil, fmt.Errorf("diagram: create edge %s->%s: %w", edge.From, edge.To, err)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func applyNodeStyle(n *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindStart:
		n.SetShape(cgraph.EllipseShape)
	case NodeKindAssigner:
		n.SetShape(cgraph.HexagonShape)
	default:
		n.SetShape(cgraph.BoxShape)
	}
	if node.Status != nil {
		applyStatusColor(n, node.Status.Status)
	}
}

func applyStatusColor(n *cgraph.Node, status schema.NodeStatus) {
	n.SetStyle(cgraph.FilledNodeStyle)
	switch status {
	case schema.NodeStatusSucceeded:
		n.SetFillColor("#2d6a2d")
		n.SetFontColor("white")
	case schema.NodeStatusFailed:
		n.SetFillColor("#8b1a1a")
		n.SetFontColor("white")
	case schema.NodeStatusRunning:
		n.SetFillColor("#1a5276")
		n.SetFontColor("white")
	case schema.NodeStatusSkipped:
		n.SetFillColor("#e8e8e8")
		n.SetFontColor("#888888")
		n.SetStyle(cgraph.DashedNodeStyle)
	default:
		n.SetFillColor("#d3d3d3")
		n.SetFontColor("black")
	}
}
