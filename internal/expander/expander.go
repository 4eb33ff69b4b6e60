// Package expander resolves {name} placeholders against a variable scope.
//
// Resolution is depth-first: a referenced variable's own value is fully
// expanded (and arithmetic-folded) before it is substituted into the outer
// string. A visited set tracked per top-level Expand call detects reference
// cycles; independent calls do not share state.
package expander

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasnoah/sweepbench/internal/vars"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// CircularReferenceError reports a variable whose resolution requires
// resolving itself, directly or transitively.
type CircularReferenceError struct {
	Path []string // resolution chain ending at the repeated name
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular variable reference: %s", strings.Join(e.Path, " -> "))
}

// Expand substitutes every {name} placeholder in template with the scope's
// fully resolved value of name. If the entire result is an arithmetic
// expression it is folded to a single numeric literal. Expanding an already
// fully expanded string is a no-op.
func Expand(scope *vars.Scope, template string) (string, error) {
	r := &resolver{
		scope:    scope,
		visiting: make(map[string]bool),
		resolved: make(map[string]string),
	}
	out, err := r.expandString(template)
	if err != nil {
		return "", err
	}
	if folded, ok := tryFold(out); ok {
		return folded, nil
	}
	return out, nil
}

// ExpandValue resolves a declared value to its terminal scalar form.
// Vectors are rejected; scalars pass through untouched.
func ExpandValue(scope *vars.Scope, v vars.Value) (string, error) {
	switch v.Kind {
	case vars.KindScalar:
		return v.Scalar, nil
	case vars.KindReference:
		return Expand(scope, v.Scalar)
	case vars.KindVector:
		return "", fmt.Errorf("cannot expand vector value %s to a scalar", v)
	}
	return "", fmt.Errorf("unknown value kind %v", v.Kind)
}

// References returns the placeholder names appearing in s, in order of first
// appearance.
func References(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// resolver carries the per-call state of one top-level Expand.
type resolver struct {
	scope    *vars.Scope
	visiting map[string]bool   // names on the current resolution path
	path     []string          // the path itself, for cycle reporting
	resolved map[string]string // memoized terminal values
}

// expandString substitutes every placeholder in s, collecting missing names
// so one error can report all of them.
func (r *resolver) expandString(s string) (string, error) {
	var missing []string
	var hardErr error

	out := placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		if hardErr != nil {
			return match
		}
		name := match[1 : len(match)-1]
		val, err := r.resolveName(name)
		if err != nil {
			var unres *vars.UnresolvedReferenceError
			switch e := err.(type) {
			case *vars.UnresolvedReferenceError:
				unres = e
			}
			if unres != nil {
				missing = append(missing, unres.Names...)
			} else {
				hardErr = err
			}
			return match
		}
		return val
	})

	if hardErr != nil {
		return "", hardErr
	}
	if len(missing) > 0 {
		return "", &vars.UnresolvedReferenceError{Names: dedup(missing)}
	}
	return out, nil
}

// resolveName resolves one variable to a terminal scalar, recursing through
// reference values.
func (r *resolver) resolveName(name string) (string, error) {
	if v, ok := r.resolved[name]; ok {
		return v, nil
	}
	if r.visiting[name] {
		return "", &CircularReferenceError{Path: append(append([]string{}, r.path...), name)}
	}

	val, err := r.scope.Resolve(name)
	if err != nil {
		return "", err
	}
	if val.Kind == vars.KindVector {
		return "", fmt.Errorf("variable %q is a vector and cannot be substituted into a string; bind it through a sweep first", name)
	}

	r.visiting[name] = true
	r.path = append(r.path, name)
	expanded, err := r.expandString(val.Scalar)
	r.path = r.path[:len(r.path)-1]
	delete(r.visiting, name)
	if err != nil {
		return "", err
	}

	if folded, ok := tryFold(expanded); ok {
		expanded = folded
	}
	r.resolved[name] = expanded
	return expanded, nil
}

func dedup(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
