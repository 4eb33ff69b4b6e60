package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/lucasnoah/sweepbench/internal/criteria"
	"github.com/lucasnoah/sweepbench/internal/experiment"
	"github.com/lucasnoah/sweepbench/internal/sweep"
	"github.com/lucasnoah/sweepbench/internal/vars"
)

// Definitions converts the parsed workspace into experiment definitions,
// building each definition's layered scope and sweep declaration.
// Applications and workloads are visited in sorted name order so the
// definition list is deterministic; experiments keep declaration order.
func (cfg *WorkspaceConfig) Definitions() ([]*experiment.Definition, error) {
	ws := cfg.Workspace

	appNames := make([]string, 0, len(ws.Applications))
	for name := range ws.Applications {
		appNames = append(appNames, name)
	}
	sort.Strings(appNames)

	var defs []*experiment.Definition
	for _, appName := range appNames {
		app := ws.Applications[appName]

		wlNames := make([]string, 0, len(app.Workloads))
		for name := range app.Workloads {
			wlNames = append(wlNames, name)
		}
		sort.Strings(wlNames)

		for _, wlName := range wlNames {
			wl := app.Workloads[wlName]
			for i := range wl.Experiments {
				def, err := buildDefinition(&ws, appName, &app, wlName, &wl, &wl.Experiments[i])
				if err != nil {
					return nil, err
				}
				defs = append(defs, def)
			}
		}
	}
	return defs, nil
}

// buildDefinition assembles one experiment.Definition: the four scope
// layers, the sweep declaration in variable declaration order, compiled
// criteria, and execution options.
func buildDefinition(ws *Workspace, appName string, app *Application, wlName string, wl *Workload, e *Experiment) (*experiment.Definition, error) {
	scope := vars.NewScope(vars.LayerGlobal, vars.LayerApplication, vars.LayerWorkload, vars.LayerExperiment)

	vecs := newVectorSet()
	for _, l := range []struct {
		layer string
		vm    *VarMap
	}{
		{vars.LayerGlobal, &ws.Variables},
		{vars.LayerApplication, &app.Variables},
		{vars.LayerWorkload, &wl.Variables},
		{vars.LayerExperiment, &e.Variables},
	} {
		for _, name := range l.vm.Names {
			v := l.vm.Values[name]
			if err := scope.Define(l.layer, name, v); err != nil {
				return nil, err
			}
			if v.Kind == vars.KindVector {
				vecs.add(sweep.Vector{Name: name, Values: v.Vector})
			} else {
				vecs.remove(name) // a more specific scalar shadows an outer vector
			}
		}
	}

	zips := make([]sweep.ZipGroup, len(e.Zips))
	for i, z := range e.Zips {
		zips[i] = sweep.ZipGroup{Name: z.Name, Members: z.Vars}
	}

	crits := make([]criteria.Criterion, 0, len(e.Criteria))
	for _, c := range e.Criteria {
		captures := make([]criteria.Capture, 0, len(c.Captures))
		for _, cg := range c.Captures {
			captures = append(captures, criteria.Capture{Name: cg.Name, Unit: cg.Unit})
		}
		if len(captures) == 0 {
			captures = []criteria.Capture{{Unit: c.Unit}}
		}
		crit, err := criteria.New(c.Name, c.Pattern, captures, criteria.Policy(c.Policy))
		if err != nil {
			return nil, fmt.Errorf("experiment %s/%s/%s: %w", appName, wlName, e.Name, err)
		}
		crits = append(crits, crit)
	}

	var timeout time.Duration
	if e.Timeout != "" {
		d, err := time.ParseDuration(e.Timeout)
		if err != nil {
			return nil, fmt.Errorf("experiment %s/%s/%s: parse timeout %q: %w", appName, wlName, e.Name, e.Timeout, err)
		}
		timeout = d
	}

	batch := false
	if e.Batch != nil {
		batch = *e.Batch
	}

	return &experiment.Definition{
		Application: appName,
		Workload:    wlName,
		Name:        e.Name,
		NameTmpl:    e.Template,
		Scope:       scope,
		Sweep: sweep.Decl{
			Vectors: vecs.ordered,
			Zips:    zips,
			Matrix:  e.Matrix,
		},
		Criteria: crits,
		Exec: experiment.ExecOptions{
			ScriptTemplate: e.Script,
			ExtraTemplates: e.Templates,
			Prepare:        e.Prepare,
			Timeout:        timeout,
			Batch:          batch,
		},
	}, nil
}

// vectorSet keeps vectors in declaration order across scope layers; a
// re-declaration replaces the earlier entry at the later position.
type vectorSet struct {
	ordered []sweep.Vector
	index   map[string]int
}

func newVectorSet() *vectorSet {
	return &vectorSet{index: make(map[string]int)}
}

func (s *vectorSet) add(v sweep.Vector) {
	s.remove(v.Name)
	s.index[v.Name] = len(s.ordered)
	s.ordered = append(s.ordered, v)
}

func (s *vectorSet) remove(name string) {
	i, ok := s.index[name]
	if !ok {
		return
	}
	s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
	delete(s.index, name)
	for n, j := range s.index {
		if j > i {
			s.index[n] = j - 1
		}
	}
}
