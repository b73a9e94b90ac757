package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hray3182/instancegen/internal/calendar"
	"github.com/hray3182/instancegen/internal/expander"
	"github.com/hray3182/instancegen/internal/logger"
	"github.com/hray3182/instancegen/internal/models"
)

// ExpandOptions holds flags for the expand command.
type ExpandOptions struct {
	TemplatesPath string
	RulesPath     string
	OutPath       string
	MonthsAhead   int
	GeneratedAt   string
}

// NewExpandCommand creates the offline expand command.
func NewExpandCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExpandOptions{}

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand rules from JSON files into a JSON file of instances",
		Long: `Read recurring event templates and recurrence rules from JSON files, expand
them, and write the generated instances as a JSON array. No database is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExpand(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.TemplatesPath, "templates", "templates.json", "JSON array of recurring event templates")
	cmd.Flags().StringVar(&opts.RulesPath, "rules", "rules.json", "JSON array of recurrence rules")
	cmd.Flags().StringVar(&opts.OutPath, "out", "instances.json", "output file for generated instances")
	cmd.Flags().IntVar(&opts.MonthsAhead, "months-ahead", expander.DefaultMonthsAhead, "calendar months to generate from each rule's start")
	cmd.Flags().StringVar(&opts.GeneratedAt, "generated-at", "", "timestamp stamped on every instance (default now)")

	return cmd
}

func runExpand(cmd *cobra.Command, rootOpts *RootOptions, opts *ExpandOptions) error {
	log, err := rootOpts.newLogger("info")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if opts.MonthsAhead < 1 {
		return fmt.Errorf("--months-ahead must be at least 1, got %d", opts.MonthsAhead)
	}

	var generatedAt time.Time
	if opts.GeneratedAt != "" {
		if generatedAt, err = calendar.ParseTimestamp(opts.GeneratedAt); err != nil {
			return fmt.Errorf("invalid --generated-at: %w", err)
		}
	}

	templates, err := readTemplates(opts.TemplatesPath)
	if err != nil {
		return err
	}
	rules, err := readRules(opts.RulesPath)
	if err != nil {
		return err
	}

	instances, err := expander.Expand(templates, rules, expander.Options{
		MonthsAhead: opts.MonthsAhead,
		GeneratedAt: generatedAt,
		OnSkip: func(skip expander.SkippedRule) {
			log.Warn("Skipping recurrence rule",
				logger.String("rule_id", skip.RuleID),
				logger.Int("rule_index", skip.RuleIndex),
				logger.String("reason", string(skip.Reason)))
		},
	})
	if err != nil {
		return err
	}
	if instances == nil {
		instances = []models.GeneratedInstance{}
	}

	data, err := json.MarshalIndent(instances, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode instances: %w", err)
	}
	if err := os.WriteFile(opts.OutPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.OutPath, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d instances\n", len(instances))
	return nil
}
