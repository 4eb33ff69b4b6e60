package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run summaries, or the instance table of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		w := cmd.OutOrStdout()

		if len(args) == 1 {
			instances, err := st.ListInstances(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(instances, "", "  ")
				fmt.Fprintln(w, string(data))
				return nil
			}
			fmt.Fprintf(w, "%-40s %-10s %-10s %s\n", "INSTANCE", "STATUS", "OUTCOME", "CAUSE")
			fmt.Fprintf(w, "%-40s %-10s %-10s %s\n",
				strings.Repeat("-", 40), strings.Repeat("-", 10), strings.Repeat("-", 10), strings.Repeat("-", 5))
			for _, inst := range instances {
				fmt.Fprintf(w, "%-40s %-10s %-10s %s\n", inst.Name, inst.Status, inst.Outcome, inst.Cause)
			}
			return nil
		}

		runs, err := st.ListRuns()
		if err != nil {
			return err
		}
		if asJSON {
			data, _ := json.MarshalIndent(runs, "", "  ")
			fmt.Fprintln(w, string(data))
			return nil
		}
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs found.")
			return nil
		}
		fmt.Fprintf(w, "%-10s %-20s %-10s %-6s %s\n", "RUN", "WORKSPACE", "STATUS", "INST", "CREATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%-10s %-20s %-10s %-6d %s\n", r.ID, r.Workspace, r.Status, len(r.Instances), r.CreatedAt)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}
