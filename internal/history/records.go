package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"discflow/internal/pipeline"
	"discflow/internal/progress"
)

// StageRecord is one persisted stage run.
type StageRecord struct {
	RunID      string
	Stage      string
	Outcome    string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// PluginRecord is the final state of one plugin invocation within a run.
type PluginRecord struct {
	RunID      string
	PluginID   string
	State      progress.State
	Percent    float64
	Status     string
	Error      string
	Elapsed    time.Duration
	RecordedAt time.Time
}

// RecordStage stores a finished stage run. Recording the same run id twice
// replaces the earlier row.
func (s *Store) RecordStage(ctx context.Context, run pipeline.StageRun) error {
	if run.RunID == "" {
		return fmt.Errorf("record stage %s: run id is required", run.Stage)
	}
	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	started := run.StartedAt
	if started.IsZero() {
		started = finished
	}
	var errMsg string
	if run.Err != nil {
		errMsg = run.Err.Error()
	}
	err := s.exec(ctx,
		`INSERT OR REPLACE INTO stage_runs (
            run_id, stage, outcome, error_message, started_at, finished_at, duration_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.Stage,
		run.Outcome(),
		nullableString(errMsg),
		formatTime(started),
		formatTime(finished),
		finished.Sub(started).Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert stage run: %w", err)
	}
	return nil
}

// RecordPlugin stores a plugin's terminal snapshot under runID.
func (s *Store) RecordPlugin(ctx context.Context, runID string, snap progress.Snapshot) error {
	var errMsg string
	if snap.Err != nil {
		errMsg = snap.Err.Error()
	}
	err := s.exec(ctx,
		`INSERT INTO plugin_runs (
            run_id, plugin_id, state, percent, status_message, error_message, elapsed_ms, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		snap.PluginID,
		string(snap.State),
		snap.Percent,
		nullableString(snap.Status),
		nullableString(errMsg),
		snap.Elapsed.Milliseconds(),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert plugin run: %w", err)
	}
	return nil
}

// ListStages returns the newest stage runs first. A non-positive limit
// returns every row.
func (s *Store) ListStages(ctx context.Context, limit int) ([]StageRecord, error) {
	ctx = ensureContext(ctx)
	query := `SELECT run_id, stage, outcome, error_message, started_at, finished_at, duration_ms
        FROM stage_runs ORDER BY finished_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage runs: %w", err)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		var (
			rec               StageRecord
			errMsg            sql.NullString
			started, finished string
			durationMS        int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Stage, &rec.Outcome, &errMsg, &started, &finished, &durationMS); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		rec.Error = errMsg.String
		rec.StartedAt = parseTime(started)
		rec.FinishedAt = parseTime(finished)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage runs: %w", err)
	}
	return out, nil
}

// PluginsForRun returns the plugin records of one run in the order they
// finished.
func (s *Store) PluginsForRun(ctx context.Context, runID string) ([]PluginRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, plugin_id, state, percent, status_message, error_message, elapsed_ms, recorded_at
        FROM plugin_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query plugin runs: %w", err)
	}
	defer rows.Close()

	var out []PluginRecord
	for rows.Next() {
		var (
			rec       PluginRecord
			state     string
			status    sql.NullString
			errMsg    sql.NullString
			elapsedMS int64
			recorded  string
		)
		if err := rows.Scan(&rec.RunID, &rec.PluginID, &state, &rec.Percent, &status, &errMsg, &elapsedMS, &recorded); err != nil {
			return nil, fmt.Errorf("scan plugin run: %w", err)
		}
		rec.State = progress.State(state)
		rec.Status = status.String
		rec.Error = errMsg.String
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		rec.RecordedAt = parseTime(recorded)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plugin runs: %w", err)
	}
	return out, nil
}
