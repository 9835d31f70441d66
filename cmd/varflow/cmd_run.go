package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rendis/varflow/internal/engine"
	"github.com/rendis/varflow/internal/graph"
	"github.com/rendis/varflow/pkg/schema"
)

type runFlags struct {
	graphPath      string
	conversationID string
	runID          string
	query          string
	inputs         []string
	userID         string
	appID          string
	workflowID     string
	jsonOut        bool
}

func (a *app) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate and execute a graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.graphPath, "graph", "g", "", "graph file, JSON or YAML (required)")
	fl.StringVar(&f.conversationID, "conversation-id", "", "conversation whose variables are loaded and persisted")
	fl.StringVar(&f.runID, "run-id", "", "run id (generated when empty)")
	fl.StringVar(&f.query, "query", "", "user query exposed as sys.query")
	fl.StringArrayVarP(&f.inputs, "input", "i", nil, "user input as key=value (repeatable)")
	fl.StringVar(&f.userID, "user-id", "", "user id exposed as sys.user_id")
	fl.StringVar(&f.appID, "app-id", "", "app id exposed as sys.app_id")
	fl.StringVar(&f.workflowID, "workflow-id", "", "workflow id exposed as sys.workflow_id")
	fl.IntVar(&a.cfg.PoolSize, "pool-size", a.cfg.PoolSize, "max nodes executing concurrently")
	fl.BoolVar(&f.jsonOut, "json", false, "print the full run result as JSON")
	_ = cmd.MarkFlagRequired("graph")
	return cmd
}

func (a *app) run(cmd *cobra.Command, f runFlags) error {
	ctx := cmd.Context()
	logger := a.logger(cmd)

	cfg, err := loadGraph(f.graphPath)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(f.inputs)
	if err != nil {
		return err
	}

	reg, gv, err := a.registry(logger)
	if err != nil {
		return err
	}
	if err := gv.ValidateGraph(cfg); err != nil {
		return err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	runner := engine.NewRunner(reg,
		engine.WithStore(st),
		engine.WithPoolSize(a.cfg.PoolSize),
		engine.WithLogger(logger),
	)
	res, err := runner.Run(ctx, engine.RunRequest{
		RunID: f.runID,
		Graph: cfg,
		Params: graph.InitParams{
			AppID:        f.appID,
			WorkflowID:   f.workflowID,
			UserID:       f.userID,
			WorkflowType: workflowType(f.conversationID),
			UserFrom:     schema.UserFromAccount,
			InvokeFrom:   schema.InvokeFromDebugger,
		},
		ConversationID: f.conversationID,
		Query:          f.query,
		Inputs:         inputs,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f.jsonOut {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Run:     %s\n", res.RunID)
		fmt.Fprintf(out, "Status:  %s\n", res.Status)
		fmt.Fprintf(out, "Steps:   %d\n", res.TotalSteps)
		fmt.Fprintf(out, "Elapsed: %s\n", res.Elapsed)
		for _, id := range slices.Sorted(maps.Keys(res.Nodes)) {
			n := res.Nodes[id]
			if n.Error != "" {
				fmt.Fprintf(out, "  %-16s %-9s [%s] %s\n", id, n.Status, n.ErrorType, n.Error)
				continue
			}
			fmt.Fprintf(out, "  %-16s %s\n", id, n.Status)
		}
	}
	if res.Status != schema.RunStatusSucceeded {
		return fmt.Errorf("run %s failed: %s", res.RunID, res.Error)
	}
	return nil
}

func workflowType(conversationID string) schema.WorkflowType {
	if conversationID != "" {
		return schema.WorkflowTypeChat
	}
	return schema.WorkflowTypeWorkflow
}
