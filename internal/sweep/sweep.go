// Package sweep expands vector, zip, and matrix declarations into the
// ordered list of concrete variable-assignment tuples for one experiment
// definition.
package sweep

import (
	"fmt"
	"strings"
)

// Vector is one declared sweep variable with its ordered values.
type Vector struct {
	Name   string
	Values []string
}

// ZipGroup names a set of vectors iterated in lock-step.
type ZipGroup struct {
	Name    string
	Members []string
}

// Decl is the full sweep declaration of one experiment definition.
// Vectors and Zips keep declaration order; Matrix optionally reorders the
// groups to cross (groups it does not name keep declaration order after the
// named ones).
type Decl struct {
	Vectors []Vector
	Zips    []ZipGroup
	Matrix  []string
}

// Binding assigns one swept variable a concrete value.
type Binding struct {
	Name  string
	Value string
}

// Tuple is one complete assignment of every swept variable, in group
// declaration order.
type Tuple []Binding

// Get returns the value bound to name, or "" if the tuple does not bind it.
func (t Tuple) Get(name string) string {
	for _, b := range t {
		if b.Name == name {
			return b.Value
		}
	}
	return ""
}

// String renders a tuple as "a=1 b=2" for diagnostics.
func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, b := range t {
		parts[i] = b.Name + "=" + b.Value
	}
	return strings.Join(parts, " ")
}

// SweepLengthMismatchError reports a zip group whose member vectors have
// unequal lengths.
type SweepLengthMismatchError struct {
	Group   string
	Lengths map[string]int
}

func (e *SweepLengthMismatchError) Error() string {
	parts := make([]string, 0, len(e.Lengths))
	for name, n := range e.Lengths {
		parts = append(parts, fmt.Sprintf("%s=%d", name, n))
	}
	return fmt.Sprintf("zip group %q members have unequal lengths (%s)", e.Group, strings.Join(parts, ", "))
}

// group is one independent sweep dimension after zip resolution.
type group struct {
	name    string
	length  int
	members []Vector // index-aligned columns
}

// row returns the bindings for one index of the group.
func (g *group) row(i int) []Binding {
	bindings := make([]Binding, len(g.members))
	for j, m := range g.members {
		bindings[j] = Binding{Name: m.Name, Value: m.Values[i]}
	}
	return bindings
}

// Expand produces the ordered tuple sequence for the declaration. Groups are
// combined by Cartesian product with the last group iterating fastest
// (row-major order); the result is stable across reruns of the same
// declaration.
func Expand(d Decl) ([]Tuple, error) {
	groups, err := buildGroups(d)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return []Tuple{{}}, nil
	}

	total := 1
	for _, g := range groups {
		total *= g.length
	}

	tuples := make([]Tuple, 0, total)
	for idx := 0; idx < total; idx++ {
		// Decompose idx into per-group indices, last group fastest.
		rem := idx
		indices := make([]int, len(groups))
		for i := len(groups) - 1; i >= 0; i-- {
			indices[i] = rem % groups[i].length
			rem /= groups[i].length
		}
		var t Tuple
		for i, g := range groups {
			t = append(t, g.row(indices[i])...)
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

// Count returns the number of tuples Expand would produce.
func Count(d Decl) (int, error) {
	groups, err := buildGroups(d)
	if err != nil {
		return 0, err
	}
	total := 1
	for _, g := range groups {
		total *= g.length
	}
	return total, nil
}

// buildGroups resolves zips and loose vectors into ordered groups and
// validates the declaration.
func buildGroups(d Decl) ([]group, error) {
	byName := make(map[string]Vector, len(d.Vectors))
	for _, v := range d.Vectors {
		if _, ok := byName[v.Name]; ok {
			return nil, fmt.Errorf("vector %q declared twice", v.Name)
		}
		if len(v.Values) == 0 {
			return nil, fmt.Errorf("vector %q is empty", v.Name)
		}
		byName[v.Name] = v
	}

	zipped := make(map[string]string) // vector name -> zip group name
	var groups []group
	for _, z := range d.Zips {
		if len(z.Members) == 0 {
			return nil, fmt.Errorf("zip group %q has no members", z.Name)
		}
		g := group{name: z.Name}
		lengths := make(map[string]int)
		mismatch := false
		for _, m := range z.Members {
			v, ok := byName[m]
			if !ok {
				return nil, fmt.Errorf("zip group %q references unknown vector %q", z.Name, m)
			}
			if prev, ok := zipped[m]; ok {
				return nil, fmt.Errorf("vector %q is in both zip groups %q and %q", m, prev, z.Name)
			}
			zipped[m] = z.Name
			lengths[m] = len(v.Values)
			if len(v.Values) != len(byName[z.Members[0]].Values) {
				mismatch = true
			}
			g.members = append(g.members, v)
		}
		if mismatch {
			return nil, &SweepLengthMismatchError{Group: z.Name, Lengths: lengths}
		}
		g.length = len(g.members[0].Values)
		groups = append(groups, g)
	}

	// Loose vectors become singleton groups, in declaration order.
	for _, v := range d.Vectors {
		if _, ok := zipped[v.Name]; ok {
			continue
		}
		groups = append(groups, group{name: v.Name, length: len(v.Values), members: []Vector{v}})
	}

	if len(d.Matrix) > 0 {
		return orderByMatrix(groups, d.Matrix)
	}
	return groups, nil
}

// orderByMatrix reorders groups per the matrix declaration. Named groups
// come first in matrix order; unnamed ones follow in declaration order.
func orderByMatrix(groups []group, matrix []string) ([]group, error) {
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		index[g.name] = i
	}

	used := make(map[string]bool)
	var ordered []group
	for _, name := range matrix {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("matrix references unknown sweep group %q", name)
		}
		if used[name] {
			return nil, fmt.Errorf("matrix names sweep group %q twice", name)
		}
		used[name] = true
		ordered = append(ordered, groups[i])
	}
	for _, g := range groups {
		if !used[g.name] {
			ordered = append(ordered, g)
		}
	}
	return ordered, nil
}
