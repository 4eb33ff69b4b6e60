package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/sweepbench/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Print the results table and metric summaries of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		metric, _ := cmd.Flags().GetString("metric")
		asJSON, _ := cmd.Flags().GetBool("json")
		w := cmd.OutOrStdout()

		if metric != "" {
			database, cleanup, err := openDB()
			if err != nil {
				return err
			}
			defer cleanup()

			points, err := report.MetricTrend(database, metric)
			if err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(points, "", "  ")
				fmt.Fprintln(w, string(data))
				return nil
			}
			fmt.Fprintf(w, "%-10s %-6s %s\n", "RUN", "COUNT", "MEAN")
			for _, p := range points {
				fmt.Fprintf(w, "%-10s %-6d %g\n", p.RunID, p.Count, p.Mean)
			}
			return nil
		}

		table, err := report.FromRun(st, args[0])
		if err != nil {
			return err
		}
		summaries := report.Summarize(table)

		if asJSON {
			out := struct {
				Table     *report.Table          `json:"table"`
				Summaries []report.MetricSummary `json:"summaries"`
			}{table, summaries}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Fprintln(w, string(data))
			return nil
		}

		fmt.Fprintf(w, "run %s (%s): %s\n", table.RunID, table.Workspace, table.Status)
		for _, f := range table.ExpandFailures {
			fmt.Fprintf(w, "failed to expand %s: %s\n", f.Definition, f.Error)
		}
		for _, row := range table.Rows {
			fmt.Fprintf(w, "\n%s [%s", row.Instance, row.Status)
			if row.Outcome != "" {
				fmt.Fprintf(w, "/%s", row.Outcome)
			}
			fmt.Fprint(w, "]")
			if row.Cause != "" {
				fmt.Fprintf(w, " (%s)", row.Cause)
			}
			fmt.Fprintln(w)
			for _, m := range row.Metrics {
				if m.Numeric {
					fmt.Fprintf(w, "  %-30s %g %s\n", m.Name, m.Value, m.Unit)
				} else {
					fmt.Fprintf(w, "  %-30s %q\n", m.Name, m.Raw)
				}
			}
			for _, n := range row.NotFound {
				fmt.Fprintf(w, "  %-30s not found\n", n)
			}
			for _, warn := range row.Warnings {
				fmt.Fprintf(w, "  warning: %s\n", warn)
			}
		}

		if len(summaries) > 0 {
			fmt.Fprintf(w, "\n%-30s %-6s %-12s %-12s %-12s\n", "METRIC", "COUNT", "MIN", "MEAN", "MAX")
			for _, s := range summaries {
				fmt.Fprintf(w, "%-30s %-6d %-12g %-12g %-12g\n", s.Name, s.Count, s.Min, s.Mean, s.Max)
			}
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("json", false, "Output as JSON")
	reportCmd.Flags().String("metric", "", "Show a metric's trend across runs instead")
}
