package db

import (
	"database/sql"
	"fmt"

	"github.com/lucasnoah/sweepbench/internal/criteria"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	RunID     string
	Event     string
	Detail    string
	Timestamp string
}

// PhaseEvent represents a row in the phase_events table.
type PhaseEvent struct {
	ID         int
	RunID      string
	Instance   string
	Phase      string
	Outcome    string
	ExitCode   *int
	DurationMs int
	Detail     string
	Timestamp  string
}

// MetricRow represents a row in the metrics table.
type MetricRow struct {
	ID        int
	RunID     string
	Instance  string
	Criterion string
	Name      string
	Value     float64
	Raw       string
	Unit      string
	Numeric   bool
	Timestamp string
}

// LogRunEvent inserts a run-level event.
func (d *DB) LogRunEvent(runID, event, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_events (run_id, event, detail) VALUES (?, ?, ?)`,
		runID, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// LogPhaseEvent inserts a per-instance phase outcome.
func (d *DB) LogPhaseEvent(runID, instance, phase, outcome string, exitCode *int, durationMs int, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO phase_events (run_id, instance, phase, outcome, exit_code, duration_ms, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, instance, phase, outcome, exitCode, durationMs, detail,
	)
	if err != nil {
		return fmt.Errorf("log phase event: %w", err)
	}
	return nil
}

// InsertMetrics records every metric of one instance's evaluation.
func (d *DB) InsertMetrics(runID, instance string, metrics []criteria.Metric) error {
	for _, m := range metrics {
		_, err := d.conn.Exec(
			`INSERT INTO metrics (run_id, instance, criterion, name, value, raw, unit, numeric)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, instance, m.Criterion, m.Name, m.Value, m.Raw, m.Unit, m.Numeric,
		)
		if err != nil {
			return fmt.Errorf("insert metric %q: %w", m.Name, err)
		}
	}
	return nil
}

// RunEvents returns every event of a run in insertion order.
func (d *DB) RunEvents(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, event, detail, timestamp FROM run_events
		 WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PhaseEvents returns every phase outcome of a run, ordered by instance then
// insertion order.
func (d *DB) PhaseEvents(runID string) ([]PhaseEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, instance, phase, outcome, exit_code, duration_ms, detail, timestamp
		 FROM phase_events WHERE run_id = ? ORDER BY instance ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query phase events: %w", err)
	}
	defer rows.Close()

	var events []PhaseEvent
	for rows.Next() {
		var e PhaseEvent
		var exitCode sql.NullInt64
		var durationMs sql.NullInt64
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Instance, &e.Phase, &e.Outcome, &exitCode, &durationMs, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan phase event: %w", err)
		}
		if exitCode.Valid {
			v := int(exitCode.Int64)
			e.ExitCode = &v
		}
		if durationMs.Valid {
			e.DurationMs = int(durationMs.Int64)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Metrics returns every metric of a run, ordered by instance then name.
func (d *DB) Metrics(runID string) ([]MetricRow, error) {
	return d.queryMetrics(
		`SELECT id, run_id, instance, criterion, name, value, raw, unit, numeric, timestamp
		 FROM metrics WHERE run_id = ? ORDER BY instance ASC, name ASC`,
		runID,
	)
}

// MetricHistory returns a named metric across all runs, oldest first.
func (d *DB) MetricHistory(name string) ([]MetricRow, error) {
	return d.queryMetrics(
		`SELECT id, run_id, instance, criterion, name, value, raw, unit, numeric, timestamp
		 FROM metrics WHERE name = ? ORDER BY id ASC`,
		name,
	)
}

func (d *DB) queryMetrics(query string, args ...interface{}) ([]MetricRow, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []MetricRow
	for rows.Next() {
		var m MetricRow
		var value sql.NullFloat64
		var unit sql.NullString
		if err := rows.Scan(&m.ID, &m.RunID, &m.Instance, &m.Criterion, &m.Name, &value, &m.Raw, &unit, &m.Numeric, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		if value.Valid {
			m.Value = value.Float64
		}
		if unit.Valid {
			m.Unit = unit.String
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
