package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"missioncontrol/internal/notify"
)

const defaultTickInterval = 15 * time.Second

// SchedulerConfig wires a Scheduler.
type SchedulerConfig struct {
	Store      CronStore
	Dispatcher Dispatcher
	Notifier   notify.Notifier
	Logger     *slog.Logger
	Clock      clockwork.Clock
	// Location is the timezone given to jobs created without one.
	Location *time.Location
	// TickInterval is how often due jobs are looked for. Values under a second are raised to one.
	TickInterval time.Duration
	// MaxConsecutiveErrors disables a job once its consecutive_errors exceeds it. Zero turns the policy off.
	MaxConsecutiveErrors int
}

// Scheduler fires cron jobs. A robfig cron runner drives Tick at a constant delay; each due job
// fires in its own goroutine and at most one firing per job is in flight.
type Scheduler struct {
	store      CronStore
	dispatcher Dispatcher
	notifier   notify.Notifier
	logger     *slog.Logger
	clock      clockwork.Clock
	location   *time.Location
	tick       time.Duration
	maxErrors  int

	cron    *cron.Cron
	running sync.Map // jobID -> struct{}{}
	wg      sync.WaitGroup

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = &notify.NoOpNotifier{}
	}
	return &Scheduler{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		notifier:   notifier,
		logger:     cfg.Logger,
		clock:      clockOrReal(cfg.Clock),
		location:   location,
		tick:       tick,
		maxErrors:  cfg.MaxConsecutiveErrors,
		cron:       cron.New(cron.WithLocation(location)),
	}
}

// Start begins the tick loop. ctx is used for background work (store updates, dispatches).
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Schedule(cron.Every(s.tick), cron.FuncJob(func() {
		s.Tick(s.ctxOrBackground())
	}))
	s.cron.Start()
}

// Stop stops the tick loop. The returned context is done once in-flight firings have been recorded.
func (s *Scheduler) Stop() context.Context {
	cronCtx := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// Wait blocks until every launched firing has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Sync fills in next_run_at for enabled jobs that lack one.
func (s *Scheduler) Sync(ctx context.Context) error {
	jobs, err := s.store.ListCronJobs(ctx, true)
	if err != nil {
		return fmt.Errorf("list cron jobs: %w", err)
	}
	for _, job := range jobs {
		if job.NextRunAt != nil {
			continue
		}
		s.refreshNextRun(ctx, job)
	}
	return nil
}

// Tick fires every enabled job whose next_run_at has passed and returns the runs it started.
func (s *Scheduler) Tick(ctx context.Context) []*CronRun {
	jobs, err := s.store.ListCronJobs(ctx, true)
	if err != nil {
		s.logger.Error("list cron jobs for tick", "err", err)
		return nil
	}
	now := nowUTC(s.clock)
	var started []*CronRun
	for _, job := range jobs {
		if job.NextRunAt == nil {
			s.refreshNextRun(ctx, job)
			continue
		}
		if job.NextRunAt.After(now) {
			continue
		}
		run, err := s.launch(ctx, job)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				s.logger.Info("skipping firing because job is still running", "job_id", job.ID)
				continue
			}
			s.logger.Error("launch cron job", "job_id", job.ID, "err", err)
			continue
		}
		started = append(started, run)
	}
	return started
}

// CreateJob validates and stores a new job with its first next_run_at.
func (s *Scheduler) CreateJob(ctx context.Context, job *CronJob) error {
	now := nowUTC(s.clock)
	s.normalize(job)
	if err := s.validate(job, now); err != nil {
		return err
	}
	job.ID = NewID()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.ConsecutiveErrors = 0
	if err := s.assignNextRun(job, now); err != nil {
		return err
	}
	if err := s.store.InsertCronJob(ctx, job); err != nil {
		return err
	}
	s.logger.Info("cron job created", "job_id", job.ID, "name", job.Name, "kind", job.ScheduleKind, "next_run_at", job.NextRunAt)
	return nil
}

// UpdateJob stores a changed definition and recomputes next_run_at.
func (s *Scheduler) UpdateJob(ctx context.Context, job *CronJob) error {
	now := nowUTC(s.clock)
	s.normalize(job)
	if err := s.validate(job, now); err != nil {
		return err
	}
	job.UpdatedAt = now
	if err := s.assignNextRun(job, now); err != nil {
		return err
	}
	if err := s.store.UpdateCronJob(ctx, job); err != nil {
		return err
	}
	s.logger.Info("cron job updated", "job_id", job.ID, "enabled", job.Enabled, "next_run_at", job.NextRunAt)
	return nil
}

// SetEnabled toggles a job.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) (*CronJob, error) {
	job, err := s.store.GetCronJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Enabled = enabled
	now := nowUTC(s.clock)
	job.UpdatedAt = now
	if err := s.assignNextRun(job, now); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCronJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// DeleteJob removes a job and its runs.
func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	if err := s.store.DeleteCronJob(ctx, id); err != nil {
		return err
	}
	s.logger.Info("cron job deleted", "job_id", id)
	return nil
}

// RunNow fires a job immediately, outside its schedule. It fails with ErrConflict while the job is running.
func (s *Scheduler) RunNow(ctx context.Context, id string) (*CronRun, error) {
	job, err := s.store.GetCronJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.launch(ctx, job)
}

// IsRunning reports whether a firing of the job is in flight.
func (s *Scheduler) IsRunning(jobID string) bool {
	_, ok := s.running.Load(jobID)
	return ok
}

func (s *Scheduler) launch(ctx context.Context, job *CronJob) (*CronRun, error) {
	if _, loaded := s.running.LoadOrStore(job.ID, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: job %s is already running", ErrConflict, job.ID)
	}
	now := nowUTC(s.clock)
	run := &CronRun{
		ID:        NewID(),
		JobID:     job.ID,
		StartedAt: now,
		Status:    RunStatusRunning,
		CreatedAt: now,
	}
	if err := s.store.InsertCronRun(ctx, run); err != nil {
		s.running.Delete(job.ID)
		return nil, err
	}
	started := *run
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Delete(job.ID)
		s.complete(s.ctxOrBackground(), job, run)
	}()
	return &started, nil
}

// complete dispatches and records the outcome on both the run and the job.
func (s *Scheduler) complete(ctx context.Context, job *CronJob, run *CronRun) {
	summary, dispatchErr := s.dispatcher.Dispatch(ctx, job, run)

	completedAt := nowUTC(s.clock)
	duration := completedAt.Sub(run.StartedAt).Milliseconds()
	run.CompletedAt = &completedAt
	run.DurationMs = &duration
	if summary != "" {
		run.ResultSummary = ptrString(summary)
	}
	switch {
	case dispatchErr == nil:
		run.Status = RunStatusOK
	case errors.Is(dispatchErr, ErrDispatchTimeout):
		run.Status = RunStatusTimeout
		run.ErrorMessage = ptrString(dispatchErr.Error())
	default:
		run.Status = RunStatusError
		run.ErrorMessage = ptrString(dispatchErr.Error())
	}
	if err := s.store.CompleteCronRun(ctx, run); err != nil {
		s.logger.Error("complete cron run", "job_id", job.ID, "run_id", run.ID, "err", err)
	}

	consecutive := 0
	if run.Status != RunStatusOK {
		consecutive = job.ConsecutiveErrors + 1
	}
	enabled := job.Enabled
	if job.ScheduleKind == ScheduleAt {
		enabled = false
	}
	if s.maxErrors > 0 && consecutive > s.maxErrors && enabled {
		enabled = false
		s.logger.Warn("cron job auto-disabled", "job_id", job.ID, "name", job.Name, "consecutive_errors", consecutive)
	}

	job.Enabled = enabled
	job.LastRunAt = ptrTime(run.StartedAt)
	job.LastStatus = &run.Status
	job.LastDurationMs = &duration
	job.LastError = run.ErrorMessage
	job.ConsecutiveErrors = consecutive
	job.NextRunAt = nil
	if next, ok, err := NextFire(job, completedAt); err != nil {
		s.logger.Error("compute next fire", "job_id", job.ID, "err", err)
	} else if ok {
		job.NextRunAt = &next
	}

	if err := s.store.RecordCronJobResult(ctx, CronJobResult{
		JobID:             job.ID,
		Enabled:           enabled,
		LastRunAt:         run.StartedAt,
		LastStatus:        run.Status,
		LastDurationMs:    duration,
		LastError:         run.ErrorMessage,
		ConsecutiveErrors: consecutive,
		NextRunAt:         job.NextRunAt,
		UpdatedAt:         completedAt,
	}); err != nil {
		s.logger.Error("record cron job result", "job_id", job.ID, "err", err)
	}

	logAttrs := []any{"job_id", job.ID, "run_id", run.ID, "status", run.Status, "duration_ms", duration}
	if run.Status == RunStatusOK {
		s.logger.Info("cron run finished", logAttrs...)
	} else {
		s.logger.Warn("cron run failed", append(logAttrs, "err", dispatchErr)...)
	}

	s.announce(ctx, job, run)
	if err := s.store.PruneOldRunLogs(ctx, job.ID); err != nil {
		s.logger.Warn("prune run logs", "job_id", job.ID, "err", err)
	}
}

func (s *Scheduler) announce(ctx context.Context, job *CronJob, run *CronRun) {
	if job.Delivery == nil || job.Delivery.Mode != DeliveryAnnounce {
		return
	}
	body := fmt.Sprintf("%s in %dms", run.Status.Label(), derefInt64(run.DurationMs))
	if run.ResultSummary != nil {
		body += "\n" + *run.ResultSummary
	}
	if run.ErrorMessage != nil {
		body += "\nerror: " + *run.ErrorMessage
	}
	if job.Delivery.To != "" {
		body = "to " + job.Delivery.To + ": " + body
	}
	if err := s.notifier.Send(ctx, notify.Message{
		Channel: job.Delivery.Channel,
		Title:   job.Name,
		Body:    body,
	}); err != nil {
		s.logger.Warn("announce cron run", "job_id", job.ID, "run_id", run.ID, "err", err)
	}
}

func (s *Scheduler) refreshNextRun(ctx context.Context, job *CronJob) {
	now := nowUTC(s.clock)
	next, ok, err := NextFire(job, now)
	if err != nil {
		s.logger.Error("compute next fire", "job_id", job.ID, "err", err)
		return
	}
	if !ok {
		return
	}
	job.NextRunAt = &next
	if err := s.store.UpdateCronJobNextRun(ctx, job.ID, &next, now); err != nil {
		s.logger.Warn("update next_run_at failed", "job_id", job.ID, "err", err)
	}
}

func (s *Scheduler) assignNextRun(job *CronJob, now time.Time) error {
	job.NextRunAt = nil
	next, ok, err := NextFire(job, now)
	if err != nil {
		return err
	}
	if ok {
		job.NextRunAt = &next
	}
	return nil
}

func (s *Scheduler) normalize(job *CronJob) {
	job.Name = strings.TrimSpace(job.Name)
	job.ScheduleExpr = strings.TrimSpace(job.ScheduleExpr)
	if job.Timezone == "" {
		job.Timezone = s.location.String()
	}
	if job.SessionTarget == "" {
		job.SessionTarget = SessionIsolated
	}
	if job.Payload.Kind == "" {
		job.Payload.Kind = PayloadAgentTurn
	}
}

func (s *Scheduler) validate(job *CronJob, now time.Time) error {
	if job.Name == "" {
		return fmt.Errorf("%w: job name is required", ErrInvalidArgument)
	}
	if !job.SessionTarget.Valid() {
		return fmt.Errorf("%w: session target %q", ErrInvalidArgument, job.SessionTarget)
	}
	if !job.Payload.Kind.Valid() {
		return fmt.Errorf("%w: payload kind %q", ErrInvalidArgument, job.Payload.Kind)
	}
	if job.Delivery != nil && job.Delivery.Mode != DeliveryAnnounce && job.Delivery.Mode != DeliveryNone {
		return fmt.Errorf("%w: delivery mode %q", ErrInvalidArgument, job.Delivery.Mode)
	}
	if job.ScheduleKind == ScheduleAt && job.LastRunAt != nil {
		// A fired one-shot keeps its past timestamp.
		_, err := ParseOneShot(job.ScheduleExpr)
		return err
	}
	return ValidateSchedule(job.ScheduleKind, job.ScheduleExpr, job.Timezone, now)
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
