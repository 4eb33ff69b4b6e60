package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/sweepbench/internal/experiment"
)

var expandCmd = &cobra.Command{
	Use:   "expand",
	Short: "Expand all definitions and print the instance table without running",
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

		type expansion struct {
			Definition string                 `json:"definition"`
			Error      string                 `json:"error,omitempty"`
			Instances  []*experiment.Instance `json:"instances,omitempty"`
		}
		var expansions []expansion
		failures := 0
		for _, def := range defs {
			instances, err := experiment.Expand(def)
			if err != nil {
				failures++
				expansions = append(expansions, expansion{Definition: def.Path(), Error: err.Error()})
				continue
			}
			expansions = append(expansions, expansion{Definition: def.Path(), Instances: instances})
		}

		w := cmd.OutOrStdout()
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			data, _ := json.MarshalIndent(expansions, "", "  ")
			fmt.Fprintln(w, string(data))
		} else {
			for _, ex := range expansions {
				if ex.Error != "" {
					fmt.Fprintf(w, "%s: FAILED TO EXPAND: %s\n", ex.Definition, ex.Error)
					continue
				}
				fmt.Fprintf(w, "%s (%d instances):\n", ex.Definition, len(ex.Instances))
				for _, inst := range ex.Instances {
					fmt.Fprintf(w, "  %-40s %s\n", inst.Name, formatVars(inst.Variables))
				}
			}
		}

		if failures > 0 {
			return fmt.Errorf("%d definition(s) failed to expand", failures)
		}
		return nil
	},
}

// formatVars renders a resolved variable map as "a=1 b=2", sorted by name.
func formatVars(variables map[string]string) string {
	names := make([]string, 0, len(variables))
	for n := range variables {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "=" + variables[n]
	}
	return strings.Join(parts, " ")
}

func init() {
	expandCmd.Flags().Bool("json", false, "Output as JSON")
}
