package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeWorkspaceConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweepbench.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validWorkspace = `
workspace:
  name: md-scaling
  applications:
    gromacs:
      workloads:
        benchPEP:
          experiments:
            - name: scale
              template: "pep_n{nodes}"
              script: run.sh.tmpl
              variables:
                nodes: [1, 2, 4]
`

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectedSubcommands := []string{
		"validate", "expand", "run", "status", "report", "db", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestDBSubcommands(t *testing.T) {
	for _, sub := range []string{"init", "path"} {
		out, err := executeCommand("db", sub, "--help")
		if err != nil {
			t.Errorf("db %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("db %s --help produced no output", sub)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	path := writeWorkspaceConfig(t, validWorkspace)
	out, err := executeCommand("validate", "--config", path)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok    gromacs/benchPEP/scale (3 instances)") {
		t.Errorf("validate output: %s", out)
	}
	if !strings.Contains(out, `workspace "md-scaling" is valid`) {
		t.Errorf("validate output: %s", out)
	}
}

func TestValidateCommandReportsProblems(t *testing.T) {
	path := writeWorkspaceConfig(t, `
workspace:
  name: broken
  applications:
    app:
      workloads:
        wl:
          experiments:
            - name: e
              template: t
`)
	_, err := executeCommand("validate", "--config", path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), ".script") {
		t.Errorf("error should name the missing field: %v", err)
	}
}

func TestExpandCommand(t *testing.T) {
	path := writeWorkspaceConfig(t, validWorkspace)
	out, err := executeCommand("expand", "--config", path)
	if err != nil {
		t.Fatalf("expand failed: %v\n%s", err, out)
	}
	for _, want := range []string{"pep_n1", "pep_n2", "pep_n4", "nodes=4"} {
		if !strings.Contains(out, want) {
			t.Errorf("expand output missing %q:\n%s", want, out)
		}
	}
}

func TestExpandCommandReportsFailure(t *testing.T) {
	path := writeWorkspaceConfig(t, `
workspace:
  name: w
  applications:
    app:
      workloads:
        wl:
          experiments:
            - name: clash
              template: "fixed"
              script: run.sh.tmpl
              variables:
                nodes: [1, 2]
`)
	out, err := executeCommand("expand", "--config", path)
	if err == nil {
		t.Fatal("expected expand failure for non-unique names")
	}
	if !strings.Contains(out, "FAILED TO EXPAND") {
		t.Errorf("expand output: %s", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}
