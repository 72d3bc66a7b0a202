// Package cmd provides the CLI commands for fieldq.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fieldq"
)

var debugMode bool

// NewRootCmd creates the root command for the fieldq CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fieldq",
		Short: "Evaluate field-index queries against an index fixture",
		Long: `fieldq loads a field-index fixture and evaluates a query tree of
equality, range, list and prefix terms against it, spilling large terms to an
ivarator cache directory.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr")

	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newFSTCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

func newLogger() *fieldq.Logger {
	if debugMode {
		return fieldq.NewTextLogger(slog.LevelDebug)
	}
	return fieldq.NewTextLogger(slog.LevelWarn)
}
