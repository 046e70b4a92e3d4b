package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "@") || strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: only 5-field cron expressions are supported", ErrScheduleInvalid)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression: %v", ErrScheduleInvalid, err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}

// ParseInterval reads a fixed-interval schedule value in milliseconds.
func ParseInterval(value string) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: interval %q is not a millisecond count", ErrScheduleInvalid, value)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%w: interval must be positive", ErrScheduleInvalid)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ParseOneShot reads an RFC 3339 one-shot timestamp.
func ParseOneShot(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", ErrScheduleInvalid, value, err)
	}
	return t.UTC(), nil
}

// LoadLocation resolves a job timezone. Empty means fallback.
func LoadLocation(name string, fallback *time.Location) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		if fallback == nil {
			return time.UTC, nil
		}
		return fallback, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrScheduleInvalid, name)
	}
	return loc, nil
}

// ValidateSchedule checks a schedule definition at write time. One-shot timestamps must lie after now.
func ValidateSchedule(kind ScheduleKind, value, timezone string, now time.Time) error {
	if _, err := LoadLocation(timezone, time.UTC); err != nil {
		return err
	}
	switch kind {
	case ScheduleCron:
		_, err := ParseCron(value)
		return err
	case ScheduleEvery:
		_, err := ParseInterval(value)
		return err
	case ScheduleAt:
		at, err := ParseOneShot(value)
		if err != nil {
			return err
		}
		if !at.After(now) {
			return fmt.Errorf("%w: one-shot time %s is not in the future", ErrScheduleInvalid, at.Format(time.RFC3339))
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown schedule kind %q", ErrScheduleInvalid, kind)
	}
}

// NextFire computes when job should fire next. ok is false when the job will not fire again.
//
//   - cron: first match strictly after last_run_at, or after now if it never ran, in the job timezone.
//   - every: last_run_at + interval, or now if it never ran.
//   - at: the timestamp, only if it is after now and the job never ran.
func NextFire(job *CronJob, now time.Time) (next time.Time, ok bool, err error) {
	if !job.Enabled {
		return time.Time{}, false, nil
	}
	switch job.ScheduleKind {
	case ScheduleCron:
		schedule, err := ParseCron(job.ScheduleExpr)
		if err != nil {
			return time.Time{}, false, err
		}
		loc, err := LoadLocation(job.Timezone, time.UTC)
		if err != nil {
			return time.Time{}, false, err
		}
		ref := now
		if job.LastRunAt != nil {
			ref = *job.LastRunAt
		}
		next := schedule.Next(ref.In(loc))
		if next.IsZero() {
			return time.Time{}, false, nil
		}
		return next.UTC(), true, nil
	case ScheduleEvery:
		interval, err := ParseInterval(job.ScheduleExpr)
		if err != nil {
			return time.Time{}, false, err
		}
		if job.LastRunAt == nil {
			return now.UTC(), true, nil
		}
		return job.LastRunAt.Add(interval).UTC(), true, nil
	case ScheduleAt:
		at, err := ParseOneShot(job.ScheduleExpr)
		if err != nil {
			return time.Time{}, false, err
		}
		if job.LastRunAt != nil || !at.After(now) {
			return time.Time{}, false, nil
		}
		return at, true, nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: unknown schedule kind %q", ErrScheduleInvalid, job.ScheduleKind)
	}
}
