package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"missioncontrol/internal/core"
)

const cronRunColumns = `id, job_id, started_at, completed_at, status, duration_ms, error_message, result_summary, created_at`

func (s *Store) InsertCronRun(ctx context.Context, run *core.CronRun) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cron_runs (`+cronRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.JobID, formatTime(run.StartedAt), nullableTime(run.CompletedAt), run.Status,
		nullableInt64(run.DurationMs), nullableString(run.ErrorMessage), nullableString(run.ResultSummary),
		formatTime(run.CreatedAt))
	return classify("insert cron run", err)
}

// CompleteCronRun records the outcome. A run that already completed is not touched again.
func (s *Store) CompleteCronRun(ctx context.Context, run *core.CronRun) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE cron_runs
		SET status = ?, completed_at = ?, duration_ms = ?, error_message = ?, result_summary = ?
		WHERE id = ? AND completed_at IS NULL
	`, run.Status, nullableTime(run.CompletedAt), nullableInt64(run.DurationMs), nullableString(run.ErrorMessage),
		nullableString(run.ResultSummary), run.ID)
	if err != nil {
		return classify("complete cron run", err)
	}
	return expectOne(res, "cron run", run.ID)
}

func (s *Store) GetCronRun(ctx context.Context, id string) (*core.CronRun, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+cronRunColumns+` FROM cron_runs WHERE id = ?`, id)
	run, err := scanCronRun(row)
	if err != nil {
		return nil, classify("get cron run "+id, err)
	}
	return run, nil
}

func (s *Store) ListCronRuns(ctx context.Context, jobID string, limit, offset int) ([]*core.CronRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+cronRunColumns+`
		FROM cron_runs
		WHERE job_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, jobID, limit, offset)
	if err != nil {
		return nil, classify("list cron runs", err)
	}
	defer rows.Close()
	var runs []*core.CronRun
	for rows.Next() {
		run, err := scanCronRun(rows)
		if err != nil {
			return nil, classify("scan cron run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list cron runs", err)
	}
	return runs, nil
}

// RunLogPath returns the absolute path for the run's combined log file.
func (s *Store) RunLogPath(runID string) string {
	return filepath.Join(s.StateDir, "runs", runID, "combined.log")
}

// EnsureRunLogDir makes sure the directory for a run's log exists.
func (s *Store) EnsureRunLogDir(runID string) error {
	return os.MkdirAll(filepath.Dir(s.RunLogPath(runID)), 0o755)
}

// PruneOldRunLogs removes log files beyond the retention limit for a job. Run rows are kept.
func (s *Store) PruneOldRunLogs(ctx context.Context, jobID string) error {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM cron_runs
		WHERE job_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT -1 OFFSET ?
	`, jobID, s.LogRetention)
	if err != nil {
		return classify("query runs for pruning", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		path := s.RunLogPath(id)
		_ = os.Remove(path)
		dir := filepath.Dir(path)
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return rows.Err()
}

func scanCronRun(row scanner) (*core.CronRun, error) {
	var (
		run         core.CronRun
		startedAt   string
		completedAt sql.NullString
		status      string
		durationMs  sql.NullInt64
		errMsg      sql.NullString
		summary     sql.NullString
		createdAt   string
	)
	if err := row.Scan(&run.ID, &run.JobID, &startedAt, &completedAt, &status, &durationMs, &errMsg, &summary, &createdAt); err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = parseNullTime(completedAt)
	run.Status = core.RunStatus(status)
	if durationMs.Valid {
		d := durationMs.Int64
		run.DurationMs = &d
	}
	run.ErrorMessage = nullString(errMsg)
	run.ResultSummary = nullString(summary)
	run.CreatedAt = parseTime(createdAt)
	return &run, nil
}
