package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"missioncontrol/internal/core"
)

const cronJobColumns = `id, name, enabled, schedule_kind, schedule_expr, timezone, session_target, agent_id, payload, delivery,
	next_run_at, last_run_at, last_status, last_duration_ms, last_error, consecutive_errors, created_at, updated_at`

func (s *Store) InsertCronJob(ctx context.Context, job *core.CronJob) error {
	payload, delivery, err := encodeJobDocs(job)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO cron_jobs (`+cronJobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Name, job.Enabled, job.ScheduleKind, job.ScheduleExpr, job.Timezone, job.SessionTarget,
		nullableString(job.AgentID), payload, delivery,
		nullableTime(job.NextRunAt), nullableTime(job.LastRunAt), nullableRunStatus(job.LastStatus),
		nullableInt64(job.LastDurationMs), nullableString(job.LastError), job.ConsecutiveErrors,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	return classify("insert cron job", err)
}

// UpdateCronJob writes the definition, enabled flag and next_run_at. Run state is left to RecordCronJobResult.
func (s *Store) UpdateCronJob(ctx context.Context, job *core.CronJob) error {
	payload, delivery, err := encodeJobDocs(job)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE cron_jobs
		SET name = ?, enabled = ?, schedule_kind = ?, schedule_expr = ?, timezone = ?, session_target = ?,
			agent_id = ?, payload = ?, delivery = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, job.Name, job.Enabled, job.ScheduleKind, job.ScheduleExpr, job.Timezone, job.SessionTarget,
		nullableString(job.AgentID), payload, delivery, nullableTime(job.NextRunAt), formatTime(job.UpdatedAt), job.ID)
	if err != nil {
		return classify("update cron job", err)
	}
	return expectOne(res, "cron job", job.ID)
}

func (s *Store) GetCronJob(ctx context.Context, id string) (*core.CronJob, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+cronJobColumns+` FROM cron_jobs WHERE id = ?`, id)
	job, err := scanCronJob(row)
	if err != nil {
		return nil, classify("get cron job "+id, err)
	}
	return job, nil
}

func (s *Store) GetCronJobByName(ctx context.Context, name string) (*core.CronJob, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+cronJobColumns+` FROM cron_jobs WHERE name = ?`, name)
	job, err := scanCronJob(row)
	if err != nil {
		return nil, classify("get cron job "+name, err)
	}
	return job, nil
}

func (s *Store) ListCronJobs(ctx context.Context, enabledOnly bool) ([]*core.CronJob, error) {
	query := `SELECT ` + cronJobColumns + ` FROM cron_jobs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("query cron jobs", err)
	}
	defer rows.Close()
	var jobs []*core.CronJob
	for rows.Next() {
		job, err := scanCronJob(rows)
		if err != nil {
			return nil, classify("scan cron job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query cron jobs", err)
	}
	return jobs, nil
}

func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return classify("delete cron job", err)
	}
	return expectOne(res, "cron job", id)
}

func (s *Store) UpdateCronJobNextRun(ctx context.Context, id string, nextRunAt *time.Time, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE cron_jobs SET next_run_at = ?, updated_at = ? WHERE id = ?
	`, nullableTime(nextRunAt), formatTime(at), id)
	if err != nil {
		return classify("update next_run_at", err)
	}
	return expectOne(res, "cron job", id)
}

// RecordCronJobResult writes a finished run back onto its job. It can only turn a job off:
// a job disabled while the run was in flight stays disabled and keeps no next_run_at.
func (s *Store) RecordCronJobResult(ctx context.Context, r core.CronJobResult) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE cron_jobs
		SET enabled = (enabled AND ?), last_run_at = ?, last_status = ?, last_duration_ms = ?, last_error = ?,
			consecutive_errors = ?,
			next_run_at = CASE WHEN enabled AND ? THEN ? ELSE NULL END,
			updated_at = ?
		WHERE id = ?
	`, r.Enabled, formatTime(r.LastRunAt), r.LastStatus, r.LastDurationMs, nullableString(r.LastError),
		r.ConsecutiveErrors, r.Enabled, nullableTime(r.NextRunAt), formatTime(r.UpdatedAt), r.JobID)
	if err != nil {
		return classify("record cron job result", err)
	}
	return expectOne(res, "cron job", r.JobID)
}

func encodeJobDocs(job *core.CronJob) (payload string, delivery any, err error) {
	payload, err = encodeJSON(job.Payload)
	if err != nil {
		return "", nil, err
	}
	if job.Delivery != nil {
		d, err := encodeJSON(job.Delivery)
		if err != nil {
			return "", nil, err
		}
		delivery = d
	}
	return payload, delivery, nil
}

func scanCronJob(row scanner) (*core.CronJob, error) {
	var (
		job            core.CronJob
		kind           string
		target         string
		agentID        sql.NullString
		payload        string
		delivery       sql.NullString
		nextRun        sql.NullString
		lastRun        sql.NullString
		lastStatus     sql.NullString
		lastDurationMs sql.NullInt64
		lastError      sql.NullString
		createdAt      string
		updatedAt      string
	)
	if err := row.Scan(&job.ID, &job.Name, &job.Enabled, &kind, &job.ScheduleExpr, &job.Timezone, &target, &agentID,
		&payload, &delivery, &nextRun, &lastRun, &lastStatus, &lastDurationMs, &lastError, &job.ConsecutiveErrors,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.ScheduleKind = core.ScheduleKind(kind)
	job.SessionTarget = core.SessionTarget(target)
	job.AgentID = nullString(agentID)
	if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", job.ID, err)
	}
	if delivery.Valid && delivery.String != "" {
		var d core.Delivery
		if err := json.Unmarshal([]byte(delivery.String), &d); err != nil {
			return nil, fmt.Errorf("decode delivery of %s: %w", job.ID, err)
		}
		job.Delivery = &d
	}
	job.NextRunAt = parseNullTime(nextRun)
	job.LastRunAt = parseNullTime(lastRun)
	if lastStatus.Valid {
		st := core.RunStatus(lastStatus.String)
		job.LastStatus = &st
	}
	if lastDurationMs.Valid {
		d := lastDurationMs.Int64
		job.LastDurationMs = &d
	}
	job.LastError = nullString(lastError)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}

func nullableRunStatus(v *core.RunStatus) any {
	if v == nil {
		return nil
	}
	return string(*v)
}
