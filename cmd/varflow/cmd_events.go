package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rendis/varflow/internal/store"
)

type eventsFlags struct {
	runID   string
	since   int64
	replay  bool
	jsonOut bool
}

func (a *app) eventsCmd() *cobra.Command {
	var f eventsFlags
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print a run's event log and replayed node states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.events(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.runID, "run-id", "", "run id (required)")
	fl.Int64Var(&f.since, "since", 0, "only events after this sequence")
	fl.BoolVar(&f.replay, "replay", true, "print node states rebuilt from the log")
	fl.BoolVar(&f.jsonOut, "json", false, "print as JSON")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func (a *app) events(cmd *cobra.Command, f eventsFlags) error {
	ctx := cmd.Context()
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(ctx, f.runID)
	if err != nil {
		return err
	}
	log := store.NewEventLog(st)
	events, err := log.GetEvents(ctx, f.runID, f.since)
	if err != nil {
		return err
	}
	var states map[string]*store.NodeState
	if f.replay {
		if states, err = log.ReplayEvents(ctx, f.runID); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if f.jsonOut {
		return writeJSON(out, map[string]any{"run": run, "events": events, "nodes": states})
	}

	fmt.Fprintf(out, "Run:    %s\n", run.ID)
	fmt.Fprintf(out, "Status: %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(out, "Error:  %s\n", run.Error)
	}
	fmt.Fprintf(out, "Events: (%d)\n", len(events))
	for _, e := range events {
		fmt.Fprintf(out, "  %4d %s %-18s %-12s %s\n",
			e.Sequence, e.Timestamp.Format("15:04:05.000"), e.Type, e.NodeID, e.Payload)
	}
	if f.replay {
		fmt.Fprintf(out, "Nodes:\n")
		for _, id := range slices.Sorted(maps.Keys(states)) {
			ns := states[id]
			fmt.Fprintf(out, "  %-16s %-9s %dms\n", id, ns.Status, ns.DurationMs)
		}
	}
	return nil
}
