// Package report flattens finished runs into structured result tables and
// metric summaries. It produces data for an external printer; formatting
// stays in the CLI.
package report

import (
	"fmt"
	"sort"

	"github.com/lucasnoah/sweepbench/internal/criteria"
	"github.com/lucasnoah/sweepbench/internal/db"
	"github.com/lucasnoah/sweepbench/internal/store"
)

// Row is one line of the results table: an instance, its resolved
// variables, its phase outcomes, and the metrics extracted from its output.
type Row struct {
	Instance   string            `json:"instance"`
	Definition string            `json:"definition"`
	Variables  map[string]string `json:"variables"`
	Status     string            `json:"status"`
	Outcome    string            `json:"outcome,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	ExitCode   int               `json:"exit_code"`
	Metrics    []criteria.Metric `json:"metrics,omitempty"`
	NotFound   []string          `json:"not_found,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// Table is the full results table for one run.
type Table struct {
	RunID          string                `json:"run_id"`
	Workspace      string                `json:"workspace"`
	Status         string                `json:"status"`
	ExpandFailures []store.ExpandFailure `json:"expand_failures,omitempty"`
	Rows           []Row                 `json:"rows"`
}

// FromRun assembles the results table of a stored run. Row order follows
// the run record's instance order, which is expansion order.
func FromRun(st *store.Store, runID string) (*Table, error) {
	rec, err := st.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	table := &Table{
		RunID:          rec.ID,
		Workspace:      rec.Workspace,
		Status:         rec.Status,
		ExpandFailures: rec.ExpandFailures,
	}
	for _, name := range rec.Instances {
		inst, err := st.GetInstance(runID, name)
		if err != nil {
			return nil, err
		}
		row := Row{
			Instance:   inst.Name,
			Definition: inst.Definition,
			Variables:  inst.Variables,
			Status:     string(inst.Status),
			Outcome:    string(inst.Outcome),
			Cause:      inst.Cause,
			ExitCode:   inst.ExitCode,
		}
		ev, err := st.GetEvaluation(runID, name)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			row.Metrics = ev.Metrics
			row.NotFound = ev.NotFound
			row.Warnings = ev.Warnings
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// MetricSummary aggregates one named metric across a run's instances.
type MetricSummary struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit,omitempty"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
}

// Summarize computes per-metric statistics over a results table, sorted by
// metric name. Non-numeric metrics are skipped.
func Summarize(table *Table) []MetricSummary {
	values := make(map[string][]float64)
	units := make(map[string]string)
	for _, row := range table.Rows {
		for _, m := range row.Metrics {
			if !m.Numeric {
				continue
			}
			values[m.Name] = append(values[m.Name], m.Value)
			units[m.Name] = m.Unit
		}
	}

	var summaries []MetricSummary
	for name, vs := range values {
		s := MetricSummary{Name: name, Unit: units[name], Count: len(vs), Min: vs[0], Max: vs[0]}
		sum := 0.0
		for _, v := range vs {
			sum += v
			if v < s.Min {
				s.Min = v
			}
			if v > s.Max {
				s.Max = v
			}
		}
		s.Mean = sum / float64(len(vs))
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// TrendPoint is one run's aggregate for a metric, for cross-run history.
type TrendPoint struct {
	RunID string  `json:"run_id"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
}

// MetricTrend returns the per-run mean of a named metric across all runs in
// the event log, oldest run first.
func MetricTrend(database *db.DB, name string) ([]TrendPoint, error) {
	rows, err := database.MetricHistory(name)
	if err != nil {
		return nil, err
	}

	var points []TrendPoint
	idx := make(map[string]int)
	sums := make(map[string]float64)
	for _, m := range rows {
		if !m.Numeric {
			continue
		}
		i, ok := idx[m.RunID]
		if !ok {
			i = len(points)
			idx[m.RunID] = i
			points = append(points, TrendPoint{RunID: m.RunID})
		}
		points[i].Count++
		sums[m.RunID] += m.Value
	}
	for i := range points {
		if points[i].Count > 0 {
			points[i].Mean = sums[points[i].RunID] / float64(points[i].Count)
		}
	}
	return points, nil
}
