package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a workspace configuration from the given YAML file
// path. After parsing, it applies workspace defaults to experiments that
// don't specify their own values.
func Load(path string) (*WorkspaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg WorkspaceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a workspace config in standard locations and
// loads the first one found, returning the path it loaded so callers can
// resolve templates against its directory. Search order: ./sweepbench.yaml,
// ~/.sweepbench/config.yaml
func LoadDefault() (*WorkspaceConfig, string, error) {
	candidates := []string{"sweepbench.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".sweepbench", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			if err != nil {
				return nil, "", err
			}
			return cfg, path, nil
		}
	}

	return nil, "", fmt.Errorf("no workspace config found (searched: %v)", candidates)
}

// applyDefaults merges workspace-level defaults into experiments that don't
// set their own values.
func applyDefaults(cfg *WorkspaceConfig) {
	ws := &cfg.Workspace
	if ws.Defaults.Workers <= 0 {
		ws.Defaults.Workers = 4
	}

	for appName, app := range ws.Applications {
		for wlName, wl := range app.Workloads {
			for i := range wl.Experiments {
				e := &wl.Experiments[i]
				if e.Timeout == "" {
					e.Timeout = ws.Defaults.Timeout
				}
				if e.Prepare == "" {
					e.Prepare = ws.Defaults.Prepare
				}
				if e.Batch == nil {
					b := ws.Defaults.Batch
					e.Batch = &b
				}
			}
			app.Workloads[wlName] = wl
		}
		ws.Applications[appName] = app
	}
}
