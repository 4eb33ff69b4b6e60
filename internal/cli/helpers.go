package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/sweepbench/internal/config"
	"github.com/lucasnoah/sweepbench/internal/db"
	"github.com/lucasnoah/sweepbench/internal/store"
)

// loadConfig loads the workspace config from the --config flag or the
// default search path, returning the config file's directory so templates
// resolve against it rather than the working directory.
func loadConfig(cmd *cobra.Command) (*config.WorkspaceConfig, string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg, loaded, err := config.LoadDefault()
		if err != nil {
			return nil, "", err
		}
		dir, err := filepath.Abs(filepath.Dir(loaded))
		if err != nil {
			return nil, "", fmt.Errorf("resolve config dir: %w", err)
		}
		return cfg, dir, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, filepath.Dir(path), nil
}

// validateConfig runs validation and returns an error naming every problem.
func validateConfig(cfg *config.WorkspaceConfig) error {
	errs := config.Validate(cfg)
	if len(errs) == 0 {
		return nil
	}
	msg := fmt.Sprintf("config has %d problem(s):", len(errs))
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

// openStore returns the default run store.
func openStore() (*store.Store, error) {
	return store.DefaultStore()
}

// openDB opens and migrates the default database.
func openDB() (*db.DB, func(), error) {
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}
