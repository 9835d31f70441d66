package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rendis/varflow/internal/logging"
	"github.com/rendis/varflow/internal/nodes"
	"github.com/rendis/varflow/internal/nodes/all"
	"github.com/rendis/varflow/internal/nodes/assigner"
	"github.com/rendis/varflow/internal/store"
	"github.com/rendis/varflow/internal/validation"
)

// version is set at build time via -ldflags.
var version = "dev"

// app carries the resolved configuration shared by every subcommand.
type app struct {
	cfg Config
}

func newRootCmd(cfg Config) *cobra.Command {
	a := &app{cfg: cfg}
	root := &cobra.Command{
		Use:   "varflow",
		Short: "Run workflow graphs with conversation-scoped variables",
		Long: "varflow executes start/assigner workflow graphs against a variable pool\n" +
			"and persists conversation variables between runs.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfg.DBPath, "db", a.cfg.DBPath, "libSQL database path")
	pf.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level: debug, info, warn, error")

	root.AddCommand(
		a.runCmd(),
		a.varsCmd(),
		a.eventsCmd(),
		a.validateCmd(),
		a.diagramCmd(),
		a.scheduleCmd(),
		a.serveCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the varflow version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func (a *app) logger(cmd *cobra.Command) *slog.Logger {
	return logging.New(cmd.ErrOrStderr(), a.cfg.LogLevel)
}

// openStore opens and migrates the configured database.
func (a *app) openStore(ctx context.Context) (*store.LibSQLStore, error) {
	if dir := filepath.Dir(a.cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	s, err := store.NewLibSQLStore("file:" + a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// registry builds the node registry and the validator that checks both
// graphs and node data blocks against it.
func (a *app) registry(logger *slog.Logger) (*nodes.Registry, *validation.GraphValidator, error) {
	gv, err := validation.NewGraphValidator(nil)
	if err != nil {
		return nil, nil, err
	}
	opts := []assigner.Option{assigner.WithLogger(logger)}
	if a.cfg.StrictTypes {
		opts = append(opts, assigner.WithStrictTypes())
	}
	reg := all.NewRegistry(gv, opts...)
	gv.SetNodeTypes(reg)
	return reg, gv, nil
}
