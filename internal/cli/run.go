package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/sweepbench/internal/orchestrator"
	"github.com/lucasnoah/sweepbench/internal/render"
	"github.com/lucasnoah/sweepbench/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Expand all definitions and drive the full pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, workspaceDir, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := validateConfig(cfg); err != nil {
			return err
		}

		defs, err := cfg.Definitions()
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		database, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		workers, _ := cmd.Flags().GetInt("workers")
		if workers <= 0 {
			workers = cfg.Workspace.Defaults.Workers
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if timeout, _ := cmd.Flags().GetString("timeout"); timeout != "" {
			d, err := time.ParseDuration(timeout)
			if err != nil {
				return fmt.Errorf("parse --timeout %q: %w", timeout, err)
			}
			for _, def := range defs {
				def.Exec.Timeout = d
			}
		}

		pollInterval := 500 * time.Millisecond
		if cfg.Workspace.Defaults.PollInterval != "" {
			if d, err := time.ParseDuration(cfg.Workspace.Defaults.PollInterval); err == nil {
				pollInterval = d
			}
		}

		orch := orchestrator.New(
			st,
			database,
			render.NewRenderer(workspaceDir),
			&runner.ExecRunner{},
			runner.NewLocalSubmitter(),
			orchestrator.Options{Workers: workers, PollInterval: pollInterval, DryRun: dryRun},
		)
		orch.SetProgress(cmd.ErrOrStderr())

		// Ctrl-C cancels the run: no new phases start, in-flight
		// instances are marked failed with a cancellation cause.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		rep, err := orch.Run(ctx, cfg.Workspace.Name, defs)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			data, _ := json.MarshalIndent(rep, "", "  ")
			fmt.Fprintln(w, string(data))
			return nil
		}

		fmt.Fprintf(w, "run %s: %d succeeded, %d failed in execute, %d failed in setup, %d analyzed\n",
			rep.RunID, rep.Succeeded, rep.ExecuteFailed, rep.SetupFailed, rep.Analyzed)
		for _, f := range rep.ExpandFailures {
			fmt.Fprintf(w, "  failed to expand %s: %s\n", f.Definition, f.Error)
		}
		if rep.Cancelled {
			fmt.Fprintln(w, "  run was cancelled")
		}
		fmt.Fprintf(w, "inspect with: sweepbench report %s\n", rep.RunID)
		return nil
	},
}

func init() {
	runCmd.Flags().Int("workers", 0, "Concurrent instance pipelines (default from config)")
	runCmd.Flags().Bool("dry-run", false, "Stop after the setup phase")
	runCmd.Flags().String("timeout", "", "Execute-phase timeout for every instance (e.g. 30m)")
	runCmd.Flags().Bool("json", false, "Output the full report as JSON")
}
