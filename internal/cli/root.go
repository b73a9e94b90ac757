package cli

import (
	"github.com/spf13/cobra"

	"github.com/hray3182/instancegen/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string

	// Logger overrides the logger built from LogLevel.
	Logger logger.Logger
}

// NewRootCommand creates the root command for the instancegen CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instancegen",
		Short: "Materialize recurring event instances",
		Long: `instancegen expands weekly and monthly recurrence rules into concrete event
instances and maintains each organization's rolling generation window.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), defaults to LOG_LEVEL")

	cmd.AddCommand(NewExpandCommand(opts))
	cmd.AddCommand(NewDescribeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWindowCommand(opts))

	return cmd
}

// newLogger returns opts.Logger or builds one, preferring the --log-level
// flag over fallback.
func (opts *RootOptions) newLogger(fallback string) (logger.Logger, error) {
	if opts.Logger != nil {
		return opts.Logger, nil
	}
	level := opts.LogLevel
	if level == "" {
		level = fallback
	}
	return logger.New(level)
}
