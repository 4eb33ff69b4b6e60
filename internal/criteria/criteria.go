// Package criteria evaluates success criteria against captured experiment
// output, extracting named figures of merit.
package criteria

import (
	"fmt"
	"regexp"
	"strconv"
)

// Policy selects which matches count when a criterion matches more than once.
type Policy string

const (
	PolicyFirst Policy = "first"
	PolicyLast  Policy = "last"
	PolicyAll   Policy = "all"
)

// ParsePolicy validates a policy string, defaulting empty to first.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyFirst:
		return PolicyFirst, nil
	case PolicyLast:
		return PolicyLast, nil
	case PolicyAll:
		return PolicyAll, nil
	}
	return "", fmt.Errorf("unknown match policy %q (want first, last, or all)", s)
}

// Capture tags one regex capture group with a name and unit. A unit of
// "text" keeps the raw string; any other unit is treated as numeric and the
// capture is coerced to a float.
type Capture struct {
	Name string
	Unit string
}

// Criterion is a named matcher over experiment output.
type Criterion struct {
	Name     string
	Pattern  *regexp.Regexp
	Captures []Capture
	Policy   Policy
}

// New compiles a criterion. The pattern must contain at least one capture
// group; captures may name fewer groups than the pattern has, but not more.
// An empty captures list gets a single unnamed numeric capture.
func New(name, pattern string, captures []Capture, policy Policy) (Criterion, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Criterion{}, fmt.Errorf("criterion %q: compile pattern: %w", name, err)
	}
	if re.NumSubexp() < 1 {
		return Criterion{}, fmt.Errorf("criterion %q: pattern has no capture group", name)
	}
	if len(captures) > re.NumSubexp() {
		return Criterion{}, fmt.Errorf("criterion %q: %d captures declared but pattern has %d groups", name, len(captures), re.NumSubexp())
	}
	if len(captures) == 0 {
		captures = []Capture{{}}
	}
	p, err := ParsePolicy(string(policy))
	if err != nil {
		return Criterion{}, fmt.Errorf("criterion %q: %w", name, err)
	}
	return Criterion{Name: name, Pattern: re, Captures: captures, Policy: p}, nil
}

// Metric is one extracted figure of merit.
type Metric struct {
	Criterion string  `json:"criterion"`
	Name      string  `json:"name"`
	Raw       string  `json:"raw"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit,omitempty"`
	Numeric   bool    `json:"numeric"`
}

// Evaluation is the result of applying all criteria to one instance's
// output. A criterion that never matched is listed in NotFound; a capture
// that failed numeric coercion produces a warning and a non-numeric metric.
type Evaluation struct {
	Metrics  []Metric `json:"metrics,omitempty"`
	NotFound []string `json:"not_found,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Evaluate applies every criterion to the output. It is read-only over the
// output and never fails: missing matches and coercion problems are recorded,
// not raised.
func Evaluate(output string, criteria []Criterion) Evaluation {
	var ev Evaluation
	for _, c := range criteria {
		matches := c.Pattern.FindAllStringSubmatch(output, -1)
		if len(matches) == 0 {
			ev.NotFound = append(ev.NotFound, c.Name)
			continue
		}

		selected := matches
		switch c.Policy {
		case PolicyFirst:
			selected = matches[:1]
		case PolicyLast:
			selected = matches[len(matches)-1:]
		}

		for mi, m := range selected {
			for ci, cg := range c.Captures {
				raw := m[ci+1]
				metric := Metric{
					Criterion: c.Name,
					Name:      metricName(c, cg, mi, len(selected) > 1),
					Raw:       raw,
					Unit:      cg.Unit,
				}
				if cg.Unit != "text" {
					v, err := strconv.ParseFloat(raw, 64)
					if err != nil {
						ev.Warnings = append(ev.Warnings, fmt.Sprintf("criterion %q: capture %q is not numeric", c.Name, raw))
					} else {
						metric.Value = v
						metric.Numeric = true
					}
				}
				ev.Metrics = append(ev.Metrics, metric)
			}
		}
	}
	return ev
}

// metricName builds the results-table name for one capture of one match.
// Single-capture criteria use the criterion name; named captures append
// their name; the "all" policy indexes repeated matches.
func metricName(c Criterion, cg Capture, matchIdx int, indexed bool) string {
	name := c.Name
	if cg.Name != "" {
		name = c.Name + "." + cg.Name
	}
	if indexed {
		name = fmt.Sprintf("%s[%d]", name, matchIdx)
	}
	return name
}
