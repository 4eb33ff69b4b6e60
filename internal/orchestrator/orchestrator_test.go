package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/sweepbench/internal/criteria"
	"github.com/lucasnoah/sweepbench/internal/experiment"
	"github.com/lucasnoah/sweepbench/internal/render"
	"github.com/lucasnoah/sweepbench/internal/runner"
	"github.com/lucasnoah/sweepbench/internal/store"
	"github.com/lucasnoah/sweepbench/internal/sweep"
	"github.com/lucasnoah/sweepbench/internal/vars"
)

// fakeResult scripts one instance's execution outcome.
type fakeResult struct {
	stdout   string
	stderr   string
	exitCode int
}

// fakeSubmitter hands out immediately-done handles with scripted results,
// keyed by the instance directory's base name.
type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	results map[string]fakeResult
}

func (f *fakeSubmitter) Submit(ctx context.Context, dir, command string) (runner.Handle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	res := f.results[filepath.Base(dir)]
	return &fakeHandle{res: res}, nil
}

func (f *fakeSubmitter) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHandle struct {
	res fakeResult
}

func (h *fakeHandle) Done() (bool, error)      { return true, nil }
func (h *fakeHandle) ExitCode() int            { return h.res.exitCode }
func (h *fakeHandle) Output() (string, string) { return h.res.stdout, h.res.stderr }

// fakeCmd scripts the blocking command runner. Per-directory results (keyed
// by the directory's base name) win over the flat exitCode/stderr pair.
type fakeCmd struct {
	mu       sync.Mutex
	exitCode int
	stderr   string
	results  map[string]fakeResult
	commands []string
}

func (f *fakeCmd) Run(ctx context.Context, dir, command string) (string, string, int, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	if res, ok := f.results[filepath.Base(dir)]; ok {
		return res.stdout, res.stderr, res.exitCode, nil
	}
	return "", f.stderr, f.exitCode, nil
}

func (f *fakeCmd) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func benchDefinition(t *testing.T, nodes ...string) *experiment.Definition {
	t.Helper()
	scope := vars.NewScope(vars.LayerGlobal, vars.LayerExperiment)
	if err := scope.Define(vars.LayerExperiment, "nodes", vars.Vector(nodes...)); err != nil {
		t.Fatalf("Define: %v", err)
	}
	perf, err := criteria.New("perf", `Performance:\s+([\d.]+)`, []criteria.Capture{{Unit: "ns/day"}}, criteria.PolicyLast)
	if err != nil {
		t.Fatalf("criteria.New: %v", err)
	}
	return &experiment.Definition{
		Application: "gromacs",
		Workload:    "benchPEP",
		Name:        "scale",
		NameTmpl:    "bench_n{nodes}",
		Scope:       scope,
		Sweep:       sweep.Decl{Vectors: []sweep.Vector{{Name: "nodes", Values: nodes}}},
		Criteria:    []criteria.Criterion{perf},
		Exec:        experiment.ExecOptions{ScriptTemplate: "run.sh.tmpl", Batch: true},
	}
}

func testHarness(t *testing.T, sub runner.Submitter, cmd runner.CommandRunner) (*Orchestrator, *store.Store) {
	t.Helper()
	ws := t.TempDir()
	script := "#!/bin/sh\nexec ./bench -n {{.nodes}}\n"
	if err := os.WriteFile(filepath.Join(ws, "run.sh.tmpl"), []byte(script), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	st := store.NewStore(t.TempDir())
	o := New(st, nil, render.NewRenderer(ws), cmd, sub, Options{Workers: 2, PollInterval: time.Millisecond})
	return o, st
}

func TestRunHappyPath(t *testing.T) {
	sub := &fakeSubmitter{results: map[string]fakeResult{
		"bench_n1": {stdout: "Performance: 10.5 ns/day\n"},
		"bench_n2": {stdout: "Performance: 19.8 ns/day\n"},
	}}
	o, st := testHarness(t, sub, &fakeCmd{})

	report, err := o.Run(context.Background(), "md-scaling", []*experiment.Definition{benchDefinition(t, "1", "2")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 2 || report.Analyzed != 2 || report.SetupFailed != 0 || report.ExecuteFailed != 0 {
		t.Errorf("report: %+v", report)
	}
	if len(report.Results) != 2 {
		t.Fatalf("got %d results", len(report.Results))
	}
	// Slot order matches expansion order regardless of worker interleaving.
	if report.Results[0].Instance.Name != "bench_n1" || report.Results[1].Instance.Name != "bench_n2" {
		t.Errorf("result order: %s, %s", report.Results[0].Instance.Name, report.Results[1].Instance.Name)
	}

	ev := report.Results[0].Evaluation
	if ev == nil || len(ev.Metrics) != 1 || ev.Metrics[0].Value != 10.5 {
		t.Errorf("evaluation: %+v", ev)
	}

	rec, err := st.GetRun(report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != "completed" {
		t.Errorf("run status = %q", rec.Status)
	}

	inst, err := st.GetInstance(report.RunID, "bench_n2")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != experiment.StatusAnalyzed || inst.Outcome != experiment.StatusSucceeded {
		t.Errorf("instance: status=%s outcome=%s", inst.Status, inst.Outcome)
	}

	// The rendered script must exist and carry the instance's variables.
	data, err := os.ReadFile(filepath.Join(inst.Dir, "run.sh.tmpl"))
	if err != nil {
		t.Fatalf("read rendered script: %v", err)
	}
	if !strings.Contains(string(data), "-n 2") {
		t.Errorf("rendered script: %q", data)
	}
}

func TestRunFailureIsolation(t *testing.T) {
	sub := &fakeSubmitter{results: map[string]fakeResult{
		"bench_n1": {stdout: "Performance: 10.5 ns/day\n"},
		"bench_n2": {stderr: "segfault\n", exitCode: 2},
	}}
	o, st := testHarness(t, sub, &fakeCmd{})

	report, err := o.Run(context.Background(), "w", []*experiment.Definition{benchDefinition(t, "1", "2")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 1 || report.ExecuteFailed != 1 {
		t.Errorf("report: %+v", report)
	}
	// Both instances reach analysis; partial results survive a sibling failure.
	if report.Analyzed != 2 {
		t.Errorf("analyzed = %d, want 2", report.Analyzed)
	}

	failed, err := st.GetInstance(report.RunID, "bench_n2")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if failed.Outcome != experiment.StatusFailed || failed.ExitCode != 2 {
		t.Errorf("failed instance: %+v", failed)
	}
	if !strings.Contains(failed.Cause, "exit code 2") {
		t.Errorf("cause = %q", failed.Cause)
	}

	// Failed output is still captured for analysis.
	_, stderr, err := st.ReadOutput(report.RunID, "bench_n2")
	if err != nil {
		t.Fatalf("ReadOutput: %v", err)
	}
	if !strings.Contains(stderr, "segfault") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunLocalExecution(t *testing.T) {
	sub := &fakeSubmitter{}
	cmd := &fakeCmd{results: map[string]fakeResult{
		"bench_n1": {stdout: "Performance: 10.5 ns/day\n"},
		"bench_n2": {stderr: "oom\n", exitCode: 2},
	}}
	o, st := testHarness(t, sub, cmd)

	def := benchDefinition(t, "1", "2")
	def.Exec.Batch = false
	report, err := o.Run(context.Background(), "w", []*experiment.Definition{def})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sub.submits() != 0 {
		t.Errorf("local instances must not reach the submitter, got %d submits", sub.submits())
	}
	if report.Succeeded != 1 || report.ExecuteFailed != 1 || report.Analyzed != 2 {
		t.Errorf("report: %+v", report)
	}

	ev := report.Results[0].Evaluation
	if ev == nil || len(ev.Metrics) != 1 || ev.Metrics[0].Value != 10.5 {
		t.Errorf("evaluation: %+v", ev)
	}

	failed, err := st.GetInstance(report.RunID, "bench_n2")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if failed.ExitCode != 2 || !strings.Contains(failed.Cause, "exit code 2") {
		t.Errorf("failed instance: %+v", failed)
	}

	found := false
	for _, c := range cmd.ran() {
		if c == "./run.sh.tmpl" {
			found = true
		}
	}
	if !found {
		t.Errorf("rendered script not run locally, commands = %v", cmd.ran())
	}
}

func TestRunBatchUsesSubmitter(t *testing.T) {
	sub := &fakeSubmitter{results: map[string]fakeResult{
		"bench_n1": {stdout: "Performance: 10.5 ns/day\n"},
	}}
	cmd := &fakeCmd{}
	o, _ := testHarness(t, sub, cmd)

	report, err := o.Run(context.Background(), "w", []*experiment.Definition{benchDefinition(t, "1")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sub.submits() != 1 {
		t.Errorf("batch instance should submit once, got %d", sub.submits())
	}
	// Without a prepare step the blocking runner stays idle for batch instances.
	if cs := cmd.ran(); len(cs) != 0 {
		t.Errorf("unexpected local commands: %v", cs)
	}
	if report.Succeeded != 1 {
		t.Errorf("report: %+v", report)
	}
}

func TestRunSetupFailure(t *testing.T) {
	o, st := testHarness(t, &fakeSubmitter{results: map[string]fakeResult{}}, &fakeCmd{})

	def := benchDefinition(t, "1")
	def.Exec.ScriptTemplate = "missing.tmpl"
	report, err := o.Run(context.Background(), "w", []*experiment.Definition{def})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.SetupFailed != 1 || report.Analyzed != 0 {
		t.Errorf("report: %+v", report)
	}

	inst, err := st.GetInstance(report.RunID, "bench_n1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != experiment.StatusFailed || inst.Outcome != "" {
		t.Errorf("instance: status=%s outcome=%s", inst.Status, inst.Outcome)
	}
}

func TestRunPrepareFailure(t *testing.T) {
	cmd := &fakeCmd{exitCode: 1, stderr: "module not found"}
	o, _ := testHarness(t, &fakeSubmitter{results: map[string]fakeResult{}}, cmd)

	def := benchDefinition(t, "1")
	def.Exec.Prepare = "module load gromacs/{{.nodes}}"
	report, err := o.Run(context.Background(), "w", []*experiment.Definition{def})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.SetupFailed != 1 {
		t.Errorf("report: %+v", report)
	}
	if len(cmd.commands) != 1 || cmd.commands[0] != "module load gromacs/1" {
		t.Errorf("prepare command = %v (should be rendered)", cmd.commands)
	}
	if !strings.Contains(report.Results[0].Instance.Cause, "prepare exited 1") {
		t.Errorf("cause = %q", report.Results[0].Instance.Cause)
	}
}

func TestRunDryRun(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "run.sh.tmpl"), []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	st := store.NewStore(t.TempDir())
	o := New(st, nil, render.NewRenderer(ws), &fakeCmd{}, &fakeSubmitter{}, Options{DryRun: true})

	report, err := o.Run(context.Background(), "w", []*experiment.Definition{benchDefinition(t, "1")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 0 || report.Analyzed != 0 || report.SetupFailed != 0 {
		t.Errorf("report: %+v", report)
	}
	inst, err := st.GetInstance(report.RunID, "bench_n1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != experiment.StatusRendered {
		t.Errorf("dry-run instance status = %s, want rendered", inst.Status)
	}
}

func TestRunExpandFailureIsolation(t *testing.T) {
	sub := &fakeSubmitter{results: map[string]fakeResult{
		"bench_n1": {stdout: "Performance: 10.5 ns/day\n"},
	}}
	o, st := testHarness(t, sub, &fakeCmd{})

	bad := benchDefinition(t, "1", "2")
	bad.Name = "broken"
	bad.Sweep.Zips = []sweep.ZipGroup{{Name: "z", Members: []string{"ghost"}}}
	good := benchDefinition(t, "1")

	report, err := o.Run(context.Background(), "w", []*experiment.Definition{bad, good})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.ExpandFailures) != 1 || report.ExpandFailures[0].Definition != "gromacs/benchPEP/broken" {
		t.Errorf("expand failures: %+v", report.ExpandFailures)
	}
	if report.Succeeded != 1 {
		t.Errorf("good definition should still run: %+v", report)
	}

	rec, err := st.GetRun(report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(rec.ExpandFailures) != 1 {
		t.Errorf("expand failures not persisted: %+v", rec)
	}
}

func TestRunPersistFailureDropsDefinition(t *testing.T) {
	sub := &fakeSubmitter{results: map[string]fakeResult{
		"bench_n2": {stdout: "Performance: 19.8 ns/day\n"},
	}}
	o, st := testHarness(t, sub, &fakeCmd{})

	// A NUL byte in the second expanded name makes persisting that instance
	// fail after the first one was already written to disk.
	bad := benchDefinition(t, "1", "bad\x00")
	bad.Name = "broken"
	good := benchDefinition(t, "2")

	report, err := o.Run(context.Background(), "w", []*experiment.Definition{bad, good})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.ExpandFailures) != 1 || report.ExpandFailures[0].Definition != "gromacs/benchPEP/broken" {
		t.Fatalf("expand failures: %+v", report.ExpandFailures)
	}
	// The half-persisted definition contributes no instances, including the
	// one that saved before the failure.
	if len(report.Results) != 1 || report.Results[0].Instance.Name != "bench_n2" {
		t.Fatalf("results: %+v", report.Results)
	}
	if report.Succeeded != 1 {
		t.Errorf("report: %+v", report)
	}

	rec, err := st.GetRun(report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(rec.Instances) != 1 || rec.Instances[0] != "bench_n2" {
		t.Errorf("run record instances = %v", rec.Instances)
	}
}

func TestRunInstanceNameCollision(t *testing.T) {
	sub := &fakeSubmitter{results: map[string]fakeResult{
		"bench_n1": {stdout: "ok\n"},
	}}
	o, _ := testHarness(t, sub, &fakeCmd{})

	first := benchDefinition(t, "1")
	second := benchDefinition(t, "1")
	second.Name = "rerun"

	report, err := o.Run(context.Background(), "w", []*experiment.Definition{first, second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.ExpandFailures) != 1 {
		t.Fatalf("expand failures: %+v", report.ExpandFailures)
	}
	if !strings.Contains(report.ExpandFailures[0].Error, "collides") {
		t.Errorf("error = %q", report.ExpandFailures[0].Error)
	}
	if len(report.Results) != 1 {
		t.Errorf("first definition should keep its instance, got %d results", len(report.Results))
	}
}

func TestRunCancelled(t *testing.T) {
	o, st := testHarness(t, &fakeSubmitter{results: map[string]fakeResult{}}, &fakeCmd{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := o.Run(ctx, "w", []*experiment.Definition{benchDefinition(t, "1", "2")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Cancelled {
		t.Error("report should be marked cancelled")
	}
	if report.Succeeded != 0 || report.Analyzed != 0 {
		t.Errorf("report: %+v", report)
	}

	rec, err := st.GetRun(report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != "cancelled" {
		t.Errorf("run status = %q", rec.Status)
	}
	for _, res := range report.Results {
		if !strings.Contains(res.Instance.Cause, "cancelled") {
			t.Errorf("instance %s cause = %q", res.Instance.Name, res.Instance.Cause)
		}
	}
}
