package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type varsFlags struct {
	conversationID string
	clear          bool
	jsonOut        bool
}

func (a *app) varsCmd() *cobra.Command {
	var f varsFlags
	cmd := &cobra.Command{
		Use:   "vars",
		Short: "List persisted conversation variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.vars(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.conversationID, "conversation-id", "", "conversation id (required)")
	fl.BoolVar(&f.clear, "clear", false, "delete the conversation's variables")
	fl.BoolVar(&f.jsonOut, "json", false, "print as JSON")
	_ = cmd.MarkFlagRequired("conversation-id")
	return cmd
}

func (a *app) vars(cmd *cobra.Command, f varsFlags) error {
	ctx := cmd.Context()
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if f.clear {
		if err := st.DeleteConversationVariables(ctx, f.conversationID); err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared conversation %s\n", f.conversationID)
		return nil
	}

	rows, err := st.ListConversationVariables(ctx, f.conversationID)
	if err != nil {
		return err
	}
	if f.jsonOut {
		return writeJSON(out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintf(out, "No variables for conversation %s\n", f.conversationID)
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(out, "%-20s %-14s %s\n", r.Name, r.ValueType, r.Value)
	}
	return nil
}
