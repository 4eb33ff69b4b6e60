package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/sweepbench/internal/vars"
)

// WorkspaceConfig is the top-level structure parsed from workspace YAML.
type WorkspaceConfig struct {
	Workspace Workspace `yaml:"workspace"`
}

// Workspace describes a full benchmark study: defaults, global variables,
// and the application → workload → experiment tree.
type Workspace struct {
	Name         string                 `yaml:"name"`
	Defaults     Defaults               `yaml:"defaults"`
	Variables    VarMap                 `yaml:"variables"`
	Applications map[string]Application `yaml:"applications"`
}

// Defaults holds values applied to experiments that don't set their own.
type Defaults struct {
	Timeout      string `yaml:"timeout"`
	Workers      int    `yaml:"workers"`
	Prepare      string `yaml:"prepare"`
	Batch        bool   `yaml:"batch"`
	PollInterval string `yaml:"poll_interval"`
}

// Application groups workloads and application-level variables.
type Application struct {
	Variables VarMap              `yaml:"variables"`
	Workloads map[string]Workload `yaml:"workloads"`
}

// Workload groups experiment definitions and workload-level variables.
type Workload struct {
	Variables   VarMap       `yaml:"variables"`
	Experiments []Experiment `yaml:"experiments"`
}

// Experiment is one experiment definition: a name template, variables
// (scalars, references, vectors), sweep declarations, execution artifacts,
// and success criteria.
type Experiment struct {
	Name      string      `yaml:"name"`
	Template  string      `yaml:"template"` // instance name template with {placeholders}
	Variables VarMap      `yaml:"variables"`
	Zips      []Zip       `yaml:"zips"`
	Matrix    []string    `yaml:"matrix"`
	Script    string      `yaml:"script"`    // execution script template path
	Templates []string    `yaml:"templates"` // extra templates rendered during setup
	Prepare   string      `yaml:"prepare"`
	Timeout   string      `yaml:"timeout"`
	Batch     *bool       `yaml:"batch"`
	Criteria  []Criterion `yaml:"criteria"`
}

// Zip declares a set of vectors iterated in lock-step.
type Zip struct {
	Name string   `yaml:"name"`
	Vars []string `yaml:"vars"`
}

// Criterion declares one success criterion over captured output.
type Criterion struct {
	Name     string    `yaml:"name"`
	Pattern  string    `yaml:"pattern"`
	Unit     string    `yaml:"unit"`
	Policy   string    `yaml:"policy"` // first (default), last, all
	Captures []Capture `yaml:"captures"`
}

// Capture names one capture group of a criterion pattern.
type Capture struct {
	Name string `yaml:"name"`
	Unit string `yaml:"unit"`
}

// VarMap is a variable mapping that preserves YAML declaration order.
// Vector declaration order determines sweep expansion order, and plain Go
// maps would lose it.
type VarMap struct {
	Names  []string
	Values map[string]vars.Value
}

// Get returns the value declared for name.
func (m *VarMap) Get(name string) (vars.Value, bool) {
	v, ok := m.Values[name]
	return v, ok
}

// UnmarshalYAML decodes a YAML mapping into ordered vars.Values.
func (m *VarMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("variables must be a mapping (line %d)", node.Line)
	}
	m.Values = make(map[string]vars.Value)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		name := keyNode.Value
		if _, ok := m.Values[name]; ok {
			return fmt.Errorf("variable %q declared twice (line %d)", name, keyNode.Line)
		}
		v, err := decodeValue(valNode)
		if err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		m.Names = append(m.Names, name)
		m.Values[name] = v
	}
	return nil
}

// decodeValue converts a YAML value node into the tagged variant: scalars
// keep their numeric-ness, sequences become vectors, strings containing
// {name} become references.
func decodeValue(node *yaml.Node) (vars.Value, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return decodeScalar(node), nil
	case yaml.SequenceNode:
		elems := make([]string, 0, len(node.Content))
		for _, e := range node.Content {
			if e.Kind != yaml.ScalarNode {
				return vars.Value{}, fmt.Errorf("vector elements must be scalars (line %d)", e.Line)
			}
			elems = append(elems, e.Value)
		}
		return vars.Vector(elems...), nil
	}
	return vars.Value{}, fmt.Errorf("unsupported value shape (line %d)", node.Line)
}

func decodeScalar(node *yaml.Node) vars.Value {
	switch node.Tag {
	case "!!int", "!!float":
		return vars.Number(node.Value)
	}
	return vars.Scalar(node.Value)
}
