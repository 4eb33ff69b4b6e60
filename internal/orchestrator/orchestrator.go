// Package orchestrator drives the setup → execute → analyze pipeline across
// expanded experiment instances. Instances run independently: a failure in
// one phase records on that instance and never blocks a sibling.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/sweepbench/internal/criteria"
	"github.com/lucasnoah/sweepbench/internal/db"
	"github.com/lucasnoah/sweepbench/internal/experiment"
	"github.com/lucasnoah/sweepbench/internal/render"
	"github.com/lucasnoah/sweepbench/internal/runner"
	"github.com/lucasnoah/sweepbench/internal/store"
)

// Options configures a run.
type Options struct {
	Workers      int           // concurrent instance pipelines; defaults to 4
	PollInterval time.Duration // execute-phase poll cadence; defaults to 500ms
	DryRun       bool          // stop after the setup phase
}

// Orchestrator sequences pipeline phases across instances.
type Orchestrator struct {
	store     *store.Store
	db        *db.DB // optional; event logging is best-effort
	renderer  *render.Renderer
	cmd       runner.CommandRunner // prepare commands and local (blocking) execution
	submitter runner.Submitter     // batch (submit-then-poll) execution
	opts      Options
	progress  io.Writer
}

// New creates an Orchestrator. database may be nil to skip event logging.
func New(st *store.Store, database *db.DB, renderer *render.Renderer, cmd runner.CommandRunner, submitter runner.Submitter, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		store:     st,
		db:        database,
		renderer:  renderer,
		cmd:       cmd,
		submitter: submitter,
		opts:      opts,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, "  → "+format+"\n", args...)
	}
}

// Result pairs an instance's final record with its analyze-phase output.
type Result struct {
	Instance   *experiment.Instance `json:"instance"`
	Evaluation *criteria.Evaluation `json:"evaluation,omitempty"`
}

// Report aggregates a full run.
type Report struct {
	RunID          string                `json:"run_id"`
	ExpandFailures []store.ExpandFailure `json:"expand_failures,omitempty"`
	SetupFailed    int                   `json:"setup_failed"`
	ExecuteFailed  int                   `json:"execute_failed"`
	Succeeded      int                   `json:"succeeded"`
	Analyzed       int                   `json:"analyzed"`
	Cancelled      bool                  `json:"cancelled"`
	Results        []Result              `json:"results"`
}

// job binds an instance to the definition it was expanded from.
type job struct {
	def  *experiment.Definition
	inst *experiment.Instance
	slot int // position in Report.Results, fixed at expansion time
}

// Run expands every definition and drives the pipeline over all instances.
// Expansion errors abort only the offending definition; phase errors record
// on the offending instance. The returned report covers both.
func (o *Orchestrator) Run(ctx context.Context, workspaceName string, defs []*experiment.Definition) (*Report, error) {
	runID := uuid.New().String()[:8]
	if _, err := o.store.CreateRun(runID, workspaceName); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.dbLog(func() error { return o.db.LogRunEvent(runID, "started", workspaceName) })
	o.logf("run %s: expanding %d definition(s)", runID, len(defs))

	report := &Report{RunID: runID}
	jobs := o.expand(runID, defs, report)
	report.Results = make([]Result, len(jobs))
	for _, j := range jobs {
		report.Results[j.slot] = Result{Instance: j.inst}
	}
	o.logf("run %s: %d instance(s), %d definition(s) failed to expand", runID, len(jobs), len(report.ExpandFailures))

	var mu sync.Mutex
	var wg sync.WaitGroup
	queue := make(chan job)

	for w := 0; w < o.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				res := o.runInstance(ctx, runID, j)
				mu.Lock()
				report.Results[j.slot] = res
				switch {
				case res.Instance.Status == experiment.StatusFailed && res.Instance.Outcome == "":
					report.SetupFailed++
				case res.Instance.Outcome == experiment.StatusFailed:
					report.ExecuteFailed++
				case res.Instance.Outcome == experiment.StatusSucceeded:
					report.Succeeded++
				}
				if res.Instance.Status == experiment.StatusAnalyzed {
					report.Analyzed++
				}
				mu.Unlock()
			}
		}()
	}

	for _, j := range jobs {
		queue <- j
	}
	close(queue)
	wg.Wait()

	status := "completed"
	event := "completed"
	if ctx.Err() != nil {
		report.Cancelled = true
		status, event = "cancelled", "cancelled"
	}
	if err := o.store.UpdateRun(runID, func(r *store.RunRecord) { r.Status = status }); err != nil {
		return nil, fmt.Errorf("finalize run: %w", err)
	}
	o.dbLog(func() error { return o.db.LogRunEvent(runID, event, "") })
	return report, nil
}

// expand instantiates every definition, recording per-definition failures
// and persisting the pending instances.
func (o *Orchestrator) expand(runID string, defs []*experiment.Definition, report *Report) []job {
	var jobs []job
	seen := make(map[string]string) // instance name -> definition path
	for _, def := range defs {
		instances, err := experiment.Expand(def)
		if err != nil {
			o.recordExpandFailure(runID, report, def.Path(), err)
			continue
		}

		// Instance names key directories, so they must be unique across
		// the whole run, not just within one definition.
		collision := ""
		for _, inst := range instances {
			if other, ok := seen[inst.Name]; ok {
				collision = fmt.Sprintf("instance name %q collides with definition %s", inst.Name, other)
				break
			}
		}
		if collision != "" {
			o.recordExpandFailure(runID, report, def.Path(), fmt.Errorf("%s", collision))
			continue
		}

		saveFailed := false
		defJobs := make([]job, 0, len(instances))
		for _, inst := range instances {
			seen[inst.Name] = def.Path()
			inst.Dir = o.store.InstanceDir(runID, inst.Name)
			if err := o.store.SaveInstance(runID, inst); err != nil {
				o.recordExpandFailure(runID, report, def.Path(), err)
				saveFailed = true
				break
			}
			defJobs = append(defJobs, job{def: def, inst: inst, slot: len(jobs) + len(defJobs)})
		}
		if saveFailed {
			// A half-persisted definition must not run at all.
			continue
		}
		jobs = append(jobs, defJobs...)
	}

	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.inst.Name
	}
	_ = o.store.UpdateRun(runID, func(r *store.RunRecord) {
		r.Instances = names
		r.ExpandFailures = report.ExpandFailures
	})
	o.dbLog(func() error { return o.db.LogRunEvent(runID, "expanded", fmt.Sprintf("%d instances", len(jobs))) })
	return jobs
}

func (o *Orchestrator) recordExpandFailure(runID string, report *Report, defPath string, err error) {
	o.logf("definition %s failed to expand: %v", defPath, err)
	report.ExpandFailures = append(report.ExpandFailures, store.ExpandFailure{Definition: defPath, Error: err.Error()})
	o.dbLog(func() error { return o.db.LogRunEvent(runID, "expand_failed", fmt.Sprintf("%s: %v", defPath, err)) })
}

// runInstance drives one instance through its phases. Phases are strictly
// sequential within the instance; any failure records on the instance.
func (o *Orchestrator) runInstance(ctx context.Context, runID string, j job) Result {
	inst := j.inst

	if ctx.Err() != nil {
		o.failInstance(runID, inst, "setup", "run cancelled before setup")
		return Result{Instance: inst}
	}

	if err := o.setup(ctx, runID, j); err != nil {
		o.failInstance(runID, inst, "setup", err.Error())
		return Result{Instance: inst}
	}
	inst.Status = experiment.StatusRendered
	o.saveInstance(runID, inst)
	o.logf("%s: rendered", inst.Name)

	if o.opts.DryRun {
		return Result{Instance: inst}
	}

	o.execute(ctx, runID, j)
	if ctx.Err() != nil && inst.Status == experiment.StatusFailed {
		// Cancelled mid-flight: leave the failure cause, skip analysis.
		return Result{Instance: inst}
	}

	ev := o.analyze(runID, j)
	return Result{Instance: inst, Evaluation: ev}
}

// setup materializes the instance directory, renders the execution script
// and extra templates, and runs the optional prepare command.
func (o *Orchestrator) setup(ctx context.Context, runID string, j job) error {
	start := time.Now()
	inst, def := j.inst, j.def

	if err := render.Materialize(inst.Dir); err != nil {
		return err
	}
	if _, err := o.renderer.RenderFile(inst.Dir, def.Exec.ScriptTemplate, inst.Variables, true); err != nil {
		return err
	}
	for _, tmpl := range def.Exec.ExtraTemplates {
		if _, err := o.renderer.RenderFile(inst.Dir, tmpl, inst.Variables, false); err != nil {
			return err
		}
	}

	if def.Exec.Prepare != "" {
		prepared, err := render.Render(def.Exec.Prepare, inst.Variables)
		if err != nil {
			return fmt.Errorf("render prepare command: %w", err)
		}
		_, stderr, code, err := o.cmd.Run(ctx, inst.Dir, prepared)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		if code != 0 {
			return fmt.Errorf("prepare exited %d: %s", code, tail(stderr, 400))
		}
	}

	o.logPhase(runID, inst.Name, "setup", "ok", nil, start, "")
	return nil
}

// execResult is the raw outcome of one execute attempt, shared by the
// blocking and submit-then-poll paths.
type execResult struct {
	stdout    string
	stderr    string
	exitCode  int
	launchErr error
	timedOut  bool
}

// execute runs the rendered script. Local instances block on the command
// runner; batch instances go through the submitter and poll the handle until
// done, timeout, or cancellation. "Succeeded" here means "ran to completion
// with exit 0"; criteria are checked in the analyze phase.
func (o *Orchestrator) execute(ctx context.Context, runID string, j job) {
	start := time.Now()
	inst, def := j.inst, j.def

	inst.Status = experiment.StatusRunning
	o.saveInstance(runID, inst)

	execCtx := ctx
	cancel := context.CancelFunc(func() {})
	if def.Exec.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, def.Exec.Timeout)
	}
	defer cancel()

	command := "./" + filepath.Base(def.Exec.ScriptTemplate)
	var res execResult
	if def.Exec.Batch {
		res = o.executeBatch(execCtx, inst, command)
	} else {
		res = o.executeLocal(execCtx, inst, command)
	}

	if err := o.store.WriteOutput(runID, inst.Name, res.stdout, res.stderr); err != nil {
		o.logf("%s: write output: %v", inst.Name, err)
	}

	switch {
	case res.timedOut && ctx.Err() != nil:
		o.failExecute(runID, inst, "run cancelled", res.exitCode, start)
	case res.timedOut:
		o.failExecute(runID, inst, fmt.Sprintf("timeout after %s", def.Exec.Timeout), res.exitCode, start)
	case res.launchErr != nil:
		o.failExecute(runID, inst, fmt.Sprintf("launch: %v", res.launchErr), -1, start)
	case res.exitCode != 0:
		o.failExecute(runID, inst, fmt.Sprintf("exit code %d", res.exitCode), res.exitCode, start)
	default:
		inst.Status = experiment.StatusSucceeded
		inst.Outcome = experiment.StatusSucceeded
		inst.ExitCode = 0
		o.saveInstance(runID, inst)
		code := 0
		o.logPhase(runID, inst.Name, "execute", "ok", &code, start, "")
		o.logf("%s: succeeded", inst.Name)
	}
}

// executeLocal blocks on the command runner until the script exits.
func (o *Orchestrator) executeLocal(execCtx context.Context, inst *experiment.Instance, command string) execResult {
	o.logf("%s: running", inst.Name)
	stdout, stderr, code, err := o.cmd.Run(execCtx, inst.Dir, command)
	res := execResult{stdout: stdout, stderr: stderr, exitCode: code}
	if execCtx.Err() != nil {
		res.timedOut = true
	} else if err != nil {
		res.launchErr = err
	}
	return res
}

// executeBatch submits the script and polls the handle until it reports done.
func (o *Orchestrator) executeBatch(execCtx context.Context, inst *experiment.Instance, command string) execResult {
	handle, err := o.submitter.Submit(execCtx, inst.Dir, command)
	if err != nil {
		return execResult{exitCode: -1, launchErr: err}
	}
	o.logf("%s: running", inst.Name)

	var res execResult
	var handleErr error
	for {
		done, err := handle.Done()
		if done {
			handleErr = err
			break
		}
		select {
		case <-execCtx.Done():
			res.timedOut = true
		case <-time.After(o.opts.PollInterval):
		}
		if res.timedOut {
			// The submit context is cancelled; give the handle a moment
			// to observe the kill so output is captured.
			handleErr = waitDone(handle, 10*time.Second)
			break
		}
	}

	res.stdout, res.stderr = handle.Output()
	res.exitCode = handle.ExitCode()
	if handleErr != nil && !res.timedOut {
		res.launchErr = handleErr
	}
	return res
}

// analyze evaluates criteria over whatever output was captured. It runs for
// succeeded and failed instances alike; no output just means zero metrics.
func (o *Orchestrator) analyze(runID string, j job) *criteria.Evaluation {
	start := time.Now()
	inst := j.inst

	stdout, stderr, err := o.store.ReadOutput(runID, inst.Name)
	if err != nil {
		o.logf("%s: read output: %v", inst.Name, err)
	}
	output := stdout
	if stderr != "" {
		output += "\n" + stderr
	}

	ev := criteria.Evaluate(output, j.def.Criteria)
	if err := o.store.SaveEvaluation(runID, inst.Name, &ev); err != nil {
		o.logf("%s: save evaluation: %v", inst.Name, err)
	}
	o.dbLog(func() error { return o.db.InsertMetrics(runID, inst.Name, ev.Metrics) })

	inst.Status = experiment.StatusAnalyzed
	o.saveInstance(runID, inst)
	o.logPhase(runID, inst.Name, "analyze", "ok", nil, start, fmt.Sprintf("%d metrics", len(ev.Metrics)))
	o.logf("%s: analyzed (%d metrics, %d not found)", inst.Name, len(ev.Metrics), len(ev.NotFound))
	return &ev
}

// --- Helpers ---

func (o *Orchestrator) failInstance(runID string, inst *experiment.Instance, phase, cause string) {
	inst.Status = experiment.StatusFailed
	inst.Cause = cause
	o.saveInstance(runID, inst)
	o.logPhase(runID, inst.Name, phase, "fail", nil, time.Now(), cause)
	o.logf("%s: %s failed: %s", inst.Name, phase, cause)
}

func (o *Orchestrator) failExecute(runID string, inst *experiment.Instance, cause string, exitCode int, start time.Time) {
	inst.Status = experiment.StatusFailed
	inst.Outcome = experiment.StatusFailed
	inst.Cause = cause
	inst.ExitCode = exitCode
	o.saveInstance(runID, inst)
	o.logPhase(runID, inst.Name, "execute", "fail", &exitCode, start, cause)
	o.logf("%s: execute failed: %s", inst.Name, cause)
}

func (o *Orchestrator) saveInstance(runID string, inst *experiment.Instance) {
	if err := o.store.SaveInstance(runID, inst); err != nil {
		o.logf("%s: save state: %v", inst.Name, err)
	}
}

func (o *Orchestrator) logPhase(runID, instance, phase, outcome string, exitCode *int, start time.Time, detail string) {
	o.dbLog(func() error {
		return o.db.LogPhaseEvent(runID, instance, phase, outcome, exitCode, int(time.Since(start).Milliseconds()), detail)
	})
}

// dbLog runs a logging call if a database is attached, ignoring errors:
// the run must not fail because the event log does.
func (o *Orchestrator) dbLog(fn func() error) {
	if o.db != nil {
		_ = fn()
	}
}

// waitDone polls a handle until it reports done or the grace period ends.
func waitDone(h runner.Handle, grace time.Duration) error {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		done, err := h.Done()
		if done {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
