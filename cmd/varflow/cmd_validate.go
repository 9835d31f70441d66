package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) validateCmd() *cobra.Command {
	var graphPath string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a graph without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadGraph(graphPath)
			if err != nil {
				return err
			}
			_, gv, err := a.registry(a.logger(cmd))
			if err != nil {
				return err
			}
			result := gv.Validate(cfg)

			out := cmd.OutOrStdout()
			if jsonOut {
				if err := writeJSON(out, result); err != nil {
					return err
				}
			} else {
				for _, issue := range result.Sorted() {
					fmt.Fprintf(out, "%s %s\n", issue.Severity, issue)
				}
				if result.Valid() {
					fmt.Fprintf(out, "%s: ok (%d nodes, %d edges)\n", graphPath, len(cfg.Nodes), len(cfg.Edges))
				}
			}
			return result.ToError()
		},
	}
	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "graph file, JSON or YAML (required)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the validation result as JSON")
	_ = cmd.MarkFlagRequired("graph")
	return cmd
}
