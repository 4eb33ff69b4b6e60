package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/sweepbench/internal/experiment"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the workspace config and check that every definition expands",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
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

		w := cmd.OutOrStdout()
		failures := 0
		for _, def := range defs {
			instances, err := experiment.Expand(def)
			if err != nil {
				failures++
				fmt.Fprintf(w, "FAIL  %s: %v\n", def.Path(), err)
				continue
			}
			fmt.Fprintf(w, "ok    %s (%d instances)\n", def.Path(), len(instances))
		}

		if failures > 0 {
			return fmt.Errorf("%d definition(s) failed to expand", failures)
		}
		fmt.Fprintf(w, "workspace %q is valid\n", cfg.Workspace.Name)
		return nil
	},
}
