package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasnoah/sweepbench/internal/experiment"
	"github.com/lucasnoah/sweepbench/internal/vars"
)

// chdir changes into dir for the duration of the test, restoring the
// previous working directory afterward (t.Chdir requires Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore chdir: %v", err)
		}
	})
}

const sampleConfig = `
workspace:
  name: md-scaling
  defaults:
    timeout: 10m
    workers: 2
  variables:
    scheduler: slurm
  applications:
    gromacs:
      variables:
        ppn: 14
      workloads:
        benchPEP:
          variables:
            input: benchPEP.tpr
          experiments:
            - name: full_node
              template: "pep_n{nodes}"
              script: run.sh.tmpl
              variables:
                nodes: [1, 2, 4]
                n_ranks: "{nodes}*{ppn}"
              criteria:
                - name: perf
                  pattern: 'Performance:\s+([\d.]+)'
                  unit: ns/day
                  policy: last
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweepbench.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ws := cfg.Workspace
	if ws.Name != "md-scaling" {
		t.Errorf("name = %q", ws.Name)
	}
	if ws.Defaults.Workers != 2 {
		t.Errorf("workers = %d", ws.Defaults.Workers)
	}

	exp := ws.Applications["gromacs"].Workloads["benchPEP"].Experiments[0]
	if exp.Timeout != "10m" {
		t.Errorf("default timeout not applied: %q", exp.Timeout)
	}
	if exp.Batch == nil || *exp.Batch {
		t.Errorf("batch default should be false, got %v", exp.Batch)
	}

	v, ok := exp.Variables.Get("nodes")
	if !ok || v.Kind != vars.KindVector {
		t.Fatalf("nodes = %+v, ok=%v", v, ok)
	}
	if v, _ := exp.Variables.Get("n_ranks"); v.Kind != vars.KindReference {
		t.Errorf("n_ranks kind = %v, want reference", v.Kind)
	}
	gromacs := ws.Applications["gromacs"]
	if v, _ := gromacs.Variables.Get("ppn"); !v.IsNumber {
		t.Errorf("ppn should be numeric: %+v", v)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDefault(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sweepbench.yaml"), []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chdir(t, dir)

	cfg, loaded, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	if cfg.Workspace.Name != "md-scaling" {
		t.Errorf("name = %q", cfg.Workspace.Name)
	}
	// The returned path anchors script lookup to the config's directory.
	if loaded != "sweepbench.yaml" {
		t.Errorf("loaded path = %q", loaded)
	}
}

func TestLoadDefaultMissing(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	if _, _, err := LoadDefault(); err == nil {
		t.Fatal("expected error when no config exists")
	}
}

func TestLoadDefaultWorkers(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
workspace:
  name: w
  applications: {}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace.Defaults.Workers != 4 {
		t.Errorf("workers default = %d, want 4", cfg.Workspace.Defaults.Workers)
	}
}

func TestVarMapPreservesOrder(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
workspace:
  name: w
  variables:
    zeta: 1
    alpha: 2
    mid: 3
  applications: {}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	names := cfg.Workspace.Variables.Names
	if len(names) != 3 || names[0] != "zeta" || names[1] != "alpha" || names[2] != "mid" {
		t.Errorf("declaration order lost: %v", names)
	}
}

func TestVarMapDuplicate(t *testing.T) {
	_, err := Load(writeConfig(t, `
workspace:
  name: w
  variables:
    a: 1
    a: 2
  applications: {}
`))
	if err == nil || !strings.Contains(err.Error(), `"a"`) {
		t.Fatalf("expected duplicate-variable error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
workspace:
  name: w
  applications:
    app:
      workloads:
        wl:
          experiments:
            - name: e1
              template: "t{ }"
              script: run.sh
              variables:
                a: [1, 2]
              zips:
                - name: z
                  vars: [a, missing]
              criteria:
                - name: bad
                  pattern: 'no groups'
            - name: e1
              template: t2
              script: run.sh
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	errs := Validate(cfg)
	if len(errs) == 0 {
		t.Fatal("expected validation errors")
	}

	joined := make([]string, len(errs))
	for i, e := range errs {
		joined[i] = e.Error()
	}
	all := strings.Join(joined, "\n")
	for _, want := range []string{
		`undeclared variable "missing"`,
		"at least one capture group",
		`duplicate experiment name "e1"`,
	} {
		if !strings.Contains(all, want) {
			t.Errorf("missing validation error %q in:\n%s", want, all)
		}
	}
}

func TestValidateTemplateReferences(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
workspace:
  name: w
  variables:
    suite: gromacs
  applications:
    app:
      workloads:
        wl:
          experiments:
            - name: e
              template: "{suite}_{ghost}_n{nodes}"
              script: run.sh
              variables:
                nodes: [1, 2]
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	errs := Validate(cfg)
	// suite (workspace layer) and nodes (experiment layer) are declared;
	// only ghost should be flagged.
	if len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}
	if !strings.Contains(errs[0].Error(), `undeclared variable "ghost"`) ||
		!strings.Contains(errs[0].Field, ".template") {
		t.Errorf("error = %v", errs[0])
	}
}

func TestValidateClean(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestDefinitions(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defs, err := cfg.Definitions()
	if err != nil {
		t.Fatalf("Definitions: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("got %d definitions", len(defs))
	}

	def := defs[0]
	if def.Path() != "gromacs/benchPEP/full_node" {
		t.Errorf("path = %q", def.Path())
	}
	if len(def.Sweep.Vectors) != 1 || def.Sweep.Vectors[0].Name != "nodes" {
		t.Errorf("sweep vectors = %v", def.Sweep.Vectors)
	}
	if len(def.Criteria) != 1 || string(def.Criteria[0].Policy) != "last" {
		t.Errorf("criteria = %+v", def.Criteria)
	}
	if def.Criteria[0].Captures[0].Unit != "ns/day" {
		t.Errorf("criterion unit = %q", def.Criteria[0].Captures[0].Unit)
	}
	if def.Exec.Timeout.String() != "10m0s" {
		t.Errorf("timeout = %v", def.Exec.Timeout)
	}

	// Scope layering: experiment-level reference resolves through the tree.
	instances, err := experiment.Expand(def)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(instances) != 3 {
		t.Fatalf("got %d instances", len(instances))
	}
	if got := instances[2].Variables["n_ranks"]; got != "56" {
		t.Errorf("n_ranks for nodes=4 is %q, want 56", got)
	}
	if got := instances[0].Name; got != "pep_n1" {
		t.Errorf("instance name = %q", got)
	}
}

func TestDefinitionsScalarShadowsVector(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
workspace:
  name: w
  variables:
    nodes: [1, 2, 4]
  applications:
    app:
      workloads:
        wl:
          experiments:
            - name: pinned
              template: "pinned_{nodes}"
              script: run.sh
              variables:
                nodes: 2
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defs, err := cfg.Definitions()
	if err != nil {
		t.Fatalf("Definitions: %v", err)
	}
	if len(defs[0].Sweep.Vectors) != 0 {
		t.Errorf("scalar re-declaration should drop the outer vector, got %v", defs[0].Sweep.Vectors)
	}
	instances, err := experiment.Expand(defs[0])
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(instances) != 1 || instances[0].Name != "pinned_2" {
		t.Errorf("instances = %v", instances)
	}
}

func TestDefinitionsBadTimeout(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
workspace:
  name: w
  applications:
    app:
      workloads:
        wl:
          experiments:
            - name: e
              template: t
              script: run.sh
              timeout: forever
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.Definitions(); err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected timeout parse error, got %v", err)
	}
}
