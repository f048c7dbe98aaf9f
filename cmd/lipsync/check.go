package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lipsync-studio/internal/diagnostics"
	"lipsync-studio/internal/domain"
)

var errChecksFailed = errors.New("one or more checks failed")

func (c *cli) checkCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether tools, code, weights and workspace are ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := diagnostics.NewChecker().Run(c.settings)
			if err := c.printReport(report, asJSON); err != nil {
				return err
			}
			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("%w: %d of %d", errChecksFailed, len(failed), len(report.Items))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func (c *cli) printReport(report domain.DiagnosticReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	for _, item := range report.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", item.Status, item.Name, item.Message)
		if item.Status == domain.DiagnosticStatusFail && item.Hint != "" {
			fmt.Fprintf(w, "\t\thint: %s\n", item.Hint)
		}
	}
	return w.Flush()
}
