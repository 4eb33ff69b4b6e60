package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/sweepbench/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the event-log database",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and apply schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := db.DefaultDBPath()
		if err != nil {
			return err
		}
		database, err := db.Open(path)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database ready at %s\n", path)
		return nil
	},
}

var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the database file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := db.DefaultDBPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbPathCmd)
}
