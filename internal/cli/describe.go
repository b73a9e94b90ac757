package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hray3182/instancegen/internal/rrule"
)

// NewDescribeCommand creates the describe command, which prints each rule as
// an RFC 5545 RRULE.
func NewDescribeCommand(_ *RootOptions) *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print recurrence rules as RRULE strings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules, err := readRules(rulesPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, rule := range rules {
				s, err := rrule.String(rule)
				if err != nil {
					s = "unsupported: " + err.Error()
				}
				fmt.Fprintf(out, "%d\t%s\t%s\n", i+1, rule.ID, s)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "rules.json", "JSON array of recurrence rules")
	return cmd
}
