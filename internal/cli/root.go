package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "sweepbench",
	Short: "Declarative benchmark experiment orchestration",
	Long: `sweepbench expands declarative experiment definitions (vectors, zip
groups, matrices) into named experiment instances, renders their execution
artifacts, and drives a setup → execute → analyze pipeline that extracts
figures of merit from captured output.

Run state lives under ~/.sweepbench/ (SQLite for events and metrics, JSON
for run and instance records).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "workspace config path (default: ./sweepbench.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(dbCmd)
}
