package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/varflow/internal/diagram"
	"github.com/rendis/varflow/internal/store"
)

type diagramFlags struct {
	graphPath string
	runID     string
	format    string
	output    string
}

func (a *app) diagramCmd() *cobra.Command {
	var f diagramFlags
	cmd := &cobra.Command{
		Use:   "diagram",
		Short: "Render a graph, optionally with the node states of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.diagram(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.graphPath, "graph", "g", "", "graph file, YAML or JSON (required)")
	fl.StringVar(&f.runID, "run-id", "", "overlay the node states replayed from this run")
	fl.StringVarP(&f.format, "format", "f", "ascii", "output format: ascii, mermaid, png, svg")
	fl.StringVarP(&f.output, "output", "o", "", "write to this file instead of stdout")
	_ = cmd.MarkFlagRequired("graph")
	return cmd
}

func (a *app) diagram(cmd *cobra.Command, f diagramFlags) error {
	ctx := cmd.Context()
	cfg, err := loadGraph(f.graphPath)
	if err != nil {
		return err
	}

	var states map[string]*store.NodeState
	if f.runID != "" {
		st, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if _, err := st.GetRun(ctx, f.runID); err != nil {
			return err
		}
		if states, err = store.NewEventLog(st).ReplayEvents(ctx, f.runID); err != nil {
			return err
		}
	}

	title := strings.TrimSuffix(filepath.Base(f.graphPath), filepath.Ext(f.graphPath))
	if f.runID != "" {
		title += " (" + f.runID + ")"
	}
	model, err := diagram.Build(title, cfg, states)
	if err != nil {
		return err
	}

	var out []byte
	switch f.format {
	case "ascii":
		out = []byte(diagram.RenderASCII(model))
	case "mermaid":
		out = []byte(diagram.RenderMermaid(model))
	case diagram.FormatPNG, diagram.FormatSVG:
		if f.output == "" && f.format == diagram.FormatPNG {
			return fmt.Errorf("png output needs --output")
		}
		if out, err = diagram.RenderImage(ctx, model, f.format); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q (want ascii, mermaid, png or svg)", f.format)
	}

	if f.output == "" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	if err := os.WriteFile(f.output, out, 0o644); err != nil {
		return fmt.Errorf("write diagram: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", f.output)
	return nil
}
