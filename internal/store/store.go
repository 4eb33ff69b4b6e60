// Package store persists run and instance state on disk. Layout:
//
//	<base>/<run-id>/run.json
//	<base>/<run-id>/instances/<name>/instance.json
//	<base>/<run-id>/instances/<name>/stdout.log, stderr.log, analysis.json
//
// Instance directories double as the working directories the pipeline
// renders into and executes from; records are kept after the run.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lucasnoah/sweepbench/internal/criteria"
	"github.com/lucasnoah/sweepbench/internal/experiment"
)

// ExpandFailure records a definition that failed configuration-time
// expansion and therefore produced no instances.
type ExpandFailure struct {
	Definition string `json:"definition"`
	Error      string `json:"error"`
}

// RunRecord is the top-level persisted state for one run.
type RunRecord struct {
	ID             string          `json:"id"`
	Workspace      string          `json:"workspace"`
	Status         string          `json:"status"` // "running", "completed", "cancelled"
	Instances      []string        `json:"instances"`
	ExpandFailures []ExpandFailure `json:"expand_failures,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// Store manages run state on disk.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.sweepbench/runs, creating the
// directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".sweepbench", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

// InstanceDir returns the working directory owned by one instance.
func (s *Store) InstanceDir(runID, name string) string {
	return filepath.Join(s.runDir(runID), "instances", name)
}

func (s *Store) instancePath(runID, name string) string {
	return filepath.Join(s.InstanceDir(runID, name), "instance.json")
}

// CreateRun initialises a new run on disk.
func (s *Store) CreateRun(runID, workspace string) (*RunRecord, error) {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	}
	if err := os.MkdirAll(filepath.Join(dir, "instances"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir instances: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rec := &RunRecord{
		ID:        runID,
		Workspace: workspace,
		Status:    "running",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.writeRun(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRun loads a run record.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse run %s: %w", runID, err)
	}
	return &rec, nil
}

// UpdateRun applies fn to the run record and writes it back.
func (s *Store) UpdateRun(runID string, fn func(*RunRecord)) error {
	rec, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.writeRun(rec)
}

// ListRuns returns every run record, newest first.
func (s *Store) ListRuns() ([]RunRecord, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.baseDir, err)
	}
	var runs []RunRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := s.GetRun(e.Name())
		if err != nil {
			continue // skip unreadable entries
		}
		runs = append(runs, *rec)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
	return runs, nil
}

func (s *Store) writeRun(rec *RunRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := os.WriteFile(s.runPath(rec.ID), data, 0o644); err != nil {
		return fmt.Errorf("write run %s: %w", rec.ID, err)
	}
	return nil
}

// SaveInstance writes an instance record, creating its directory.
func (s *Store) SaveInstance(runID string, inst *experiment.Instance) error {
	dir := s.InstanceDir(runID, inst.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal instance %s: %w", inst.Name, err)
	}
	if err := os.WriteFile(s.instancePath(runID, inst.Name), data, 0o644); err != nil {
		return fmt.Errorf("write instance %s: %w", inst.Name, err)
	}
	return nil
}

// GetInstance loads one instance record.
func (s *Store) GetInstance(runID, name string) (*experiment.Instance, error) {
	data, err := os.ReadFile(s.instancePath(runID, name))
	if err != nil {
		return nil, fmt.Errorf("read instance %s: %w", name, err)
	}
	var inst experiment.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("parse instance %s: %w", name, err)
	}
	return &inst, nil
}

// UpdateInstance applies fn to an instance record and writes it back.
func (s *Store) UpdateInstance(runID, name string, fn func(*experiment.Instance)) error {
	inst, err := s.GetInstance(runID, name)
	if err != nil {
		return err
	}
	fn(inst)
	return s.SaveInstance(runID, inst)
}

// ListInstances loads every instance record of a run, in run-record order.
func (s *Store) ListInstances(runID string) ([]*experiment.Instance, error) {
	rec, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	instances := make([]*experiment.Instance, 0, len(rec.Instances))
	for _, name := range rec.Instances {
		inst, err := s.GetInstance(runID, name)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// WriteOutput stores the captured stdout and stderr of an instance.
func (s *Store) WriteOutput(runID, name, stdout, stderr string) error {
	dir := s.InstanceDir(runID, name)
	if err := os.WriteFile(filepath.Join(dir, "stdout.log"), []byte(stdout), 0o644); err != nil {
		return fmt.Errorf("write stdout: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stderr.log"), []byte(stderr), 0o644); err != nil {
		return fmt.Errorf("write stderr: %w", err)
	}
	return nil
}

// ReadOutput returns the captured output of an instance. Missing files read
// as empty: an instance that never ran has no output, not an error.
func (s *Store) ReadOutput(runID, name string) (stdout string, stderr string, err error) {
	dir := s.InstanceDir(runID, name)
	out, err := os.ReadFile(filepath.Join(dir, "stdout.log"))
	if err != nil && !os.IsNotExist(err) {
		return "", "", fmt.Errorf("read stdout: %w", err)
	}
	errOut, err := os.ReadFile(filepath.Join(dir, "stderr.log"))
	if err != nil && !os.IsNotExist(err) {
		return "", "", fmt.Errorf("read stderr: %w", err)
	}
	return string(out), string(errOut), nil
}

// SaveEvaluation writes the analyze-phase result next to the instance record.
func (s *Store) SaveEvaluation(runID, name string, ev *criteria.Evaluation) error {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal evaluation %s: %w", name, err)
	}
	path := filepath.Join(s.InstanceDir(runID, name), "analysis.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write evaluation %s: %w", name, err)
	}
	return nil
}

// GetEvaluation loads the analyze-phase result, or nil if analysis never ran.
func (s *Store) GetEvaluation(runID, name string) (*criteria.Evaluation, error) {
	data, err := os.ReadFile(filepath.Join(s.InstanceDir(runID, name), "analysis.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read evaluation %s: %w", name, err)
	}
	var ev criteria.Evaluation
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse evaluation %s: %w", name, err)
	}
	return &ev, nil
}
