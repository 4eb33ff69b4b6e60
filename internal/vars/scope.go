package vars

import (
	"fmt"
	"sort"
	"strings"
)

// Standard layer names, most specific last. Scopes built with NewScope walk
// them in reverse so the most specific definition wins.
const (
	LayerGlobal      = "global"
	LayerApplication = "application"
	LayerWorkload    = "workload"
	LayerExperiment  = "experiment"
	LayerInstance    = "instance"
)

// UnresolvedReferenceError reports placeholder names with no definition in
// any scope layer.
type UnresolvedReferenceError struct {
	Names []string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved variable reference: %s", strings.Join(e.Names, ", "))
}

// layer is one named mapping in the stack.
type layer struct {
	name string
	defs map[string]Value
}

// Scope is an ordered stack of named variable layers. Lookup walks from the
// most specific layer (last pushed) to the least specific; the first
// definition found wins. There is no ambient state: the only mutation path
// is Define.
type Scope struct {
	layers []layer
}

// NewScope creates a scope with the given layer names, least specific first.
func NewScope(names ...string) *Scope {
	s := &Scope{}
	for _, n := range names {
		s.Push(n)
	}
	return s
}

// Push appends a new, more specific layer and returns the scope.
func (s *Scope) Push(name string) *Scope {
	s.layers = append(s.layers, layer{name: name, defs: make(map[string]Value)})
	return s
}

// Child returns a copy of the scope with one extra innermost layer. The
// parent layers are shared (reads only); the child layer is private.
func (s *Scope) Child(name string) *Scope {
	c := &Scope{layers: make([]layer, len(s.layers), len(s.layers)+1)}
	copy(c.layers, s.layers)
	c.layers = append(c.layers, layer{name: name, defs: make(map[string]Value)})
	return c
}

// Define inserts or overwrites a definition in the named layer.
func (s *Scope) Define(layerName, name string, v Value) error {
	for i := range s.layers {
		if s.layers[i].name == layerName {
			s.layers[i].defs[name] = v
			return nil
		}
	}
	return fmt.Errorf("define %q: no layer %q (have: %s)", name, layerName, strings.Join(s.Layers(), ", "))
}

// Resolve returns the first definition of name walking layers from most to
// least specific.
func (s *Scope) Resolve(name string) (Value, error) {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if v, ok := s.layers[i].defs[name]; ok {
			return v, nil
		}
	}
	return Value{}, &UnresolvedReferenceError{Names: []string{name}}
}

// Has reports whether name is defined in any layer.
func (s *Scope) Has(name string) bool {
	_, err := s.Resolve(name)
	return err == nil
}

// Layers returns the layer names, least specific first, for diagnostics.
func (s *Scope) Layers() []string {
	names := make([]string, len(s.layers))
	for i, l := range s.layers {
		names[i] = l.name
	}
	return names
}

// Names returns every defined variable name across all layers, sorted.
// Shadowed definitions appear once.
func (s *Scope) Names() []string {
	seen := make(map[string]bool)
	for _, l := range s.layers {
		for n := range l.defs {
			seen[n] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
