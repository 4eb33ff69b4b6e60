package config

import (
	"fmt"
	"regexp"

	"github.com/lucasnoah/sweepbench/internal/criteria"
	"github.com/lucasnoah/sweepbench/internal/expander"
	"github.com/lucasnoah/sweepbench/internal/vars"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a WorkspaceConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
// Sweep-shape errors (zip length mismatches, reference cycles) surface
// later, during expansion, scoped to the offending definition.
func Validate(cfg *WorkspaceConfig) []ValidationError {
	var errs []ValidationError
	ws := cfg.Workspace

	if ws.Name == "" {
		errs = append(errs, ValidationError{Field: "workspace.name", Message: "is required"})
	}
	if len(ws.Applications) == 0 {
		errs = append(errs, ValidationError{Field: "workspace.applications", Message: "at least one application is required"})
	}

	for appName, app := range ws.Applications {
		for wlName, wl := range app.Workloads {
			if len(wl.Experiments) == 0 {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("workspace.applications.%s.workloads.%s", appName, wlName),
					Message: "at least one experiment is required",
				})
			}
			outer := make(map[string]bool)
			for _, vm := range []*VarMap{&ws.Variables, &app.Variables, &wl.Variables} {
				for _, n := range vm.Names {
					outer[n] = true
				}
			}
			seen := make(map[string]bool)
			for i, e := range wl.Experiments {
				prefix := fmt.Sprintf("workspace.applications.%s.workloads.%s.experiments[%d]", appName, wlName, i)
				validateExperiment(e, prefix, seen, outer, &errs)
			}
		}
	}
	return errs
}

func validateExperiment(e Experiment, prefix string, seen, outer map[string]bool, errs *[]ValidationError) {
	if e.Name == "" {
		*errs = append(*errs, ValidationError{Field: prefix + ".name", Message: "is required"})
	} else if seen[e.Name] {
		*errs = append(*errs, ValidationError{
			Field:   prefix + ".name",
			Message: fmt.Sprintf("duplicate experiment name %q", e.Name),
		})
	}
	seen[e.Name] = true

	if e.Template == "" {
		*errs = append(*errs, ValidationError{Field: prefix + ".template", Message: "is required"})
	} else {
		for _, name := range expander.References(e.Template) {
			if _, ok := e.Variables.Get(name); ok {
				continue
			}
			if outer[name] {
				continue
			}
			*errs = append(*errs, ValidationError{
				Field:   prefix + ".template",
				Message: fmt.Sprintf("references undeclared variable %q", name),
			})
		}
	}
	if e.Script == "" {
		*errs = append(*errs, ValidationError{Field: prefix + ".script", Message: "is required"})
	}

	for zi, z := range e.Zips {
		zPrefix := fmt.Sprintf("%s.zips[%d]", prefix, zi)
		if z.Name == "" {
			*errs = append(*errs, ValidationError{Field: zPrefix + ".name", Message: "is required"})
		}
		if len(z.Vars) == 0 {
			*errs = append(*errs, ValidationError{Field: zPrefix + ".vars", Message: "at least one vector is required"})
		}
		for _, m := range z.Vars {
			v, ok := e.Variables.Get(m)
			if !ok {
				*errs = append(*errs, ValidationError{
					Field:   zPrefix + ".vars",
					Message: fmt.Sprintf("references undeclared variable %q", m),
				})
				continue
			}
			if v.Kind != vars.KindVector {
				*errs = append(*errs, ValidationError{
					Field:   zPrefix + ".vars",
					Message: fmt.Sprintf("variable %q is not a vector", m),
				})
			}
		}
	}

	for ci, c := range e.Criteria {
		cPrefix := fmt.Sprintf("%s.criteria[%d]", prefix, ci)
		if c.Name == "" {
			*errs = append(*errs, ValidationError{Field: cPrefix + ".name", Message: "is required"})
		}
		if c.Pattern == "" {
			*errs = append(*errs, ValidationError{Field: cPrefix + ".pattern", Message: "is required"})
		} else if re, err := regexp.Compile(c.Pattern); err != nil {
			*errs = append(*errs, ValidationError{
				Field:   cPrefix + ".pattern",
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		} else if re.NumSubexp() < 1 {
			*errs = append(*errs, ValidationError{
				Field:   cPrefix + ".pattern",
				Message: "pattern needs at least one capture group",
			})
		}
		if _, err := criteria.ParsePolicy(c.Policy); err != nil {
			*errs = append(*errs, ValidationError{Field: cPrefix + ".policy", Message: err.Error()})
		}
	}
}
