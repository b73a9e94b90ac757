package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hray3182/instancegen/internal/calendar"
	"github.com/hray3182/instancegen/internal/window"
)

// NewWindowCommand creates the window command group.
func NewWindowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Manage per-organization generation windows",
	}

	cmd.AddCommand(newWindowInitCommand(rootOpts))
	cmd.AddCommand(newWindowExtendCommand(rootOpts))
	cmd.AddCommand(newWindowCleanupCommand(rootOpts))
	cmd.AddCommand(newWindowStatsCommand(rootOpts))
	cmd.AddCommand(newWindowValidateCommand())

	return cmd
}

func newWindowInitCommand(rootOpts *RootOptions) *cobra.Command {
	var org, createdBy string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an organization's window config with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg, err := a.manager.InitializeWindow(cmd.Context(), org, createdBy)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "id of the user creating the config")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newWindowExtendCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		org    string
		months int
	)

	cmd := &cobra.Command{
		Use:   "extend",
		Short: "Push an organization's window end further out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			end, err := a.manager.ExtendWindow(cmd.Context(), org, months)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Window for %s now ends %s\n", org, calendar.FormatTimestamp(end))
			return nil
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().IntVar(&months, "months", 1, "months to add")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newWindowCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	var org string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete instances that ended before the retention start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.manager.CleanupOldInstances(cmd.Context(), org)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d instances\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newWindowStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var org string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report how many instances cleanup would delete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.manager.GetCleanupStats(cmd.Context(), org)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newWindowValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a window config file (YAML or JSON) without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidate, err := readCandidate(args[0])
			if err != nil {
				return err
			}
			if err := window.Validate(candidate); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}

func readCandidate(path string) (window.ConfigCandidate, error) {
	var candidate window.ConfigCandidate
	data, err := os.ReadFile(path)
	if err != nil {
		return candidate, &InputDataError{Path: path, Err: err}
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &candidate)
	} else {
		err = yaml.Unmarshal(data, &candidate)
	}
	if err != nil {
		return candidate, &InputDataError{Path: path, Err: err}
	}
	return candidate, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
