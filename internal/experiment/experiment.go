// Package experiment defines experiment definitions and their expansion
// into named, fully resolved experiment instances.
package experiment

import (
	"fmt"
	"time"

	"github.com/lucasnoah/sweepbench/internal/criteria"
	"github.com/lucasnoah/sweepbench/internal/expander"
	"github.com/lucasnoah/sweepbench/internal/sweep"
	"github.com/lucasnoah/sweepbench/internal/vars"
)

// Status tracks an instance through the pipeline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRendered  Status = "rendered"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAnalyzed  Status = "analyzed"
)

// ExecOptions configures how an instance's pipeline phases run.
type ExecOptions struct {
	ScriptTemplate string        // execution script template path
	ExtraTemplates []string      // additional templates rendered during setup
	Prepare        string        // optional prepare command run during setup
	Timeout        time.Duration // execute-phase timeout; 0 means none
	Batch          bool          // submit-then-poll instead of blocking
}

// Definition is one experiment declaration under an (application, workload)
// pair: a name template, a populated variable scope, sweep declarations,
// success criteria, and execution options.
type Definition struct {
	Application string
	Workload    string
	Name        string
	NameTmpl    string
	Scope       *vars.Scope
	Sweep       sweep.Decl
	Criteria    []criteria.Criterion
	Exec        ExecOptions
}

// Path returns the application/workload/name identifier of the definition.
func (d *Definition) Path() string {
	return fmt.Sprintf("%s/%s/%s", d.Application, d.Workload, d.Name)
}

// Instance is the unit of execution: one resolved point of a definition's
// sweep. Records are kept after the run; instances are mutated through phase
// transitions but never destroyed.
type Instance struct {
	Name       string            `json:"name"`
	Definition string            `json:"definition"`
	Variables  map[string]string `json:"variables"` // every placeholder resolved to a terminal scalar
	Tuple      sweep.Tuple       `json:"tuple"`     // the swept bindings that produced this instance
	Dir        string            `json:"dir,omitempty"`
	Status     Status            `json:"status"`
	Outcome    Status            `json:"outcome,omitempty"` // succeeded or failed, kept through analyzed
	Cause      string            `json:"cause,omitempty"`   // failure cause, if any
	ExitCode   int               `json:"exit_code"`
}

// DuplicateExperimentNameError reports a name template that does not
// disambiguate across the sweep.
type DuplicateExperimentNameError struct {
	Definition string
	Name       string
}

func (e *DuplicateExperimentNameError) Error() string {
	return fmt.Sprintf("experiment definition %s: name template resolves to %q for more than one sweep tuple", e.Definition, e.Name)
}

// Expand instantiates the definition: one instance per sweep tuple, each
// with a unique expanded name and a fully resolved variable mapping.
// Expansion errors abort only this definition.
func Expand(def *Definition) ([]*Instance, error) {
	tuples, err := sweep.Expand(def.Sweep)
	if err != nil {
		return nil, fmt.Errorf("expand sweep for %s: %w", def.Path(), err)
	}

	seen := make(map[string]bool, len(tuples))
	instances := make([]*Instance, 0, len(tuples))
	for _, t := range tuples {
		inst, err := instantiate(def, t)
		if err != nil {
			return nil, err
		}
		if seen[inst.Name] {
			return nil, &DuplicateExperimentNameError{Definition: def.Path(), Name: inst.Name}
		}
		seen[inst.Name] = true
		instances = append(instances, inst)
	}
	return instances, nil
}

// instantiate builds one instance from a sweep tuple: the tuple becomes the
// innermost scope layer, then the name template and every variable in scope
// are expanded to terminal scalars.
func instantiate(def *Definition, t sweep.Tuple) (*Instance, error) {
	scope := def.Scope.Child(vars.LayerInstance)
	for _, b := range t {
		if err := scope.Define(vars.LayerInstance, b.Name, vars.Scalar(b.Value)); err != nil {
			return nil, err
		}
	}

	name, err := expander.Expand(scope, def.NameTmpl)
	if err != nil {
		return nil, fmt.Errorf("expand name template for %s (%s): %w", def.Path(), t, err)
	}
	if name == "" {
		return nil, fmt.Errorf("experiment definition %s: name template expands to an empty name", def.Path())
	}

	resolved := make(map[string]string)
	for _, varName := range scope.Names() {
		v, err := scope.Resolve(varName)
		if err != nil {
			return nil, err
		}
		if v.Kind == vars.KindVector {
			// Shadowed by the tuple in every well-formed declaration.
			return nil, fmt.Errorf("experiment definition %s: vector %q is not bound by any sweep", def.Path(), varName)
		}
		s, err := expander.ExpandValue(scope, v)
		if err != nil {
			return nil, fmt.Errorf("resolve variable %q for instance %q: %w", varName, name, err)
		}
		resolved[varName] = s
	}

	return &Instance{
		Name:       name,
		Definition: def.Path(),
		Variables:  resolved,
		Tuple:      t,
		Status:     StatusPending,
	}, nil
}
