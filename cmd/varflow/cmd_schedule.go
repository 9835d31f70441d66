package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/varflow/internal/engine"
	"github.com/rendis/varflow/internal/graph"
	"github.com/rendis/varflow/internal/scheduler"
	"github.com/rendis/varflow/pkg/schema"
)

type scheduleFlags struct {
	graphPath      string
	conversationID string
	cron           string
	when           string
	inputs         []string
	vacuumCron     string
	interval       time.Duration
}

func (a *app) scheduleCmd() *cobra.Command {
	var f scheduleFlags
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run a graph on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.schedule(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.graphPath, "graph", "g", "", "graph file, JSON or YAML (required)")
	fl.StringVar(&f.conversationID, "conversation-id", "", "conversation the scheduled runs belong to")
	fl.StringVar(&f.cron, "cron", "*/5 * * * *", "cron expression for graph runs")
	fl.StringVar(&f.when, "when", "", "expr guard over conversation variables, e.g. 'len(conversation.history) < 100'")
	fl.StringArrayVarP(&f.inputs, "input", "i", nil, "user input as key=value (repeatable)")
	fl.StringVar(&f.vacuumCron, "vacuum-cron", "", "cron expression for store VACUUM (disabled when empty)")
	fl.DurationVar(&f.interval, "interval", scheduler.DefaultInterval, "how often due jobs are checked")
	_ = cmd.MarkFlagRequired("graph")
	return cmd
}

func (a *app) schedule(cmd *cobra.Command, f scheduleFlags) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	sched := scheduler.New(st, logger, scheduler.WithInterval(f.interval))
	now := time.Now()

	out := cmd.OutOrStdout()
	err = sched.Add(scheduler.Job{
		ID:             "run:" + f.graphPath,
		Cron:           f.cron,
		When:           f.when,
		ConversationID: f.conversationID,
		Run: func(ctx context.Context) error {
			res, err := runner.Run(ctx, engine.RunRequest{
				Graph:          cfg,
				Params:         a.scheduledParams(f.conversationID),
				ConversationID: f.conversationID,
				Inputs:         inputs,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s run %s %s (%d steps)\n", time.Now().Format(time.RFC3339), res.RunID, res.Status, res.TotalSteps)
			if res.Status != schema.RunStatusSucceeded {
				return fmt.Errorf("run %s: %s", res.RunID, res.Error)
			}
			return nil
		},
	}, now)
	if err != nil {
		return err
	}
	if f.vacuumCron != "" {
		if err := sched.Add(scheduler.Job{ID: "vacuum", Cron: f.vacuumCron, Run: st.Vacuum}, now); err != nil {
			return err
		}
	}

	for _, j := range sched.Jobs() {
		fmt.Fprintf(out, "scheduled %s (%s), next at %s\n", j.ID, j.Cron, j.NextRunAt.Format(time.RFC3339))
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	sched.Stop()
	return nil
}

func (a *app) scheduledParams(conversationID string) graph.InitParams {
	return graph.InitParams{
		WorkflowType: workflowType(conversationID),
		UserFrom:     schema.UserFromAccount,
		InvokeFrom:   schema.InvokeFromServiceAPI,
	}
}
