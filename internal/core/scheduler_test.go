package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/internal/core"
)

// scriptedDispatcher returns queued errors in order, then succeeds.
// When gate is set every dispatch waits for it to close.
type scriptedDispatcher struct {
	mu    sync.Mutex
	errs  []error
	calls int
	gate  chan struct{}
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, job *core.CronJob, run *core.CronRun) (string, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return "", err
	}
	return "done", nil
}

func (d *scriptedDispatcher) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (f *fixture) scheduler(d core.Dispatcher, notifier *recordingNotifier, maxErrors int) *core.Scheduler {
	cfg := core.SchedulerConfig{
		Store:                f.store,
		Dispatcher:           d,
		Logger:               f.logger,
		Clock:                f.clock,
		Location:             time.UTC,
		MaxConsecutiveErrors: maxErrors,
	}
	if notifier != nil {
		cfg.Notifier = notifier
	}
	return core.NewScheduler(cfg)
}

func everyJob(name string, ms string) *core.CronJob {
	return &core.CronJob{
		Name:         name,
		Enabled:      true,
		ScheduleKind: core.ScheduleEvery,
		ScheduleExpr: ms,
		Payload:      core.Payload{Kind: core.PayloadAgentTurn, Message: "check the board"},
	}
}

func TestCreateJobNormalizesAndSchedules(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(&scriptedDispatcher{}, nil, 0)
	job := everyJob("  System Admin Heartbeat ", "900000")
	job.Payload.Kind = ""

	require.NoError(t, s.CreateJob(f.ctx, job))

	stored, err := f.store.GetCronJob(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "System Admin Heartbeat", stored.Name)
	assert.Equal(t, "UTC", stored.Timezone)
	assert.Equal(t, core.SessionIsolated, stored.SessionTarget)
	assert.Equal(t, core.PayloadAgentTurn, stored.Payload.Kind)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.Equal(epoch))
}

func TestCreateJobRejections(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(&scriptedDispatcher{}, nil, 0)
	require.NoError(t, s.CreateJob(f.ctx, everyJob("Taken", "1000")))

	assert.ErrorIs(t, s.CreateJob(f.ctx, everyJob("Taken", "1000")), core.ErrDuplicateKey)
	assert.ErrorIs(t, s.CreateJob(f.ctx, everyJob("", "1000")), core.ErrInvalidArgument)
	assert.ErrorIs(t, s.CreateJob(f.ctx, everyJob("Zero", "0")), core.ErrScheduleInvalid)

	past := everyJob("Past", "")
	past.ScheduleKind = core.ScheduleAt
	past.ScheduleExpr = epoch.Add(-time.Minute).Format(time.RFC3339)
	assert.ErrorIs(t, s.CreateJob(f.ctx, past), core.ErrScheduleInvalid)

	badTarget := everyJob("Target", "1000")
	badTarget.SessionTarget = "shared"
	assert.ErrorIs(t, s.CreateJob(f.ctx, badTarget), core.ErrInvalidArgument)

	badDelivery := everyJob("Delivery", "1000")
	badDelivery.Delivery = &core.Delivery{Mode: "broadcast"}
	assert.ErrorIs(t, s.CreateJob(f.ctx, badDelivery), core.ErrInvalidArgument)
}

func TestTickFiresDueJobsAndReschedules(t *testing.T) {
	f := newFixture(t)
	d := &scriptedDispatcher{}
	s := f.scheduler(d, nil, 0)
	job := everyJob("Every fifteen", "900000")
	require.NoError(t, s.CreateJob(f.ctx, job))
	later := everyJob("Not yet", "900000")
	require.NoError(t, s.CreateJob(f.ctx, later))
	require.NoError(t, f.store.UpdateCronJobNextRun(f.ctx, later.ID, ptr(epoch.Add(time.Hour)), epoch))

	runs := s.Tick(f.ctx)
	require.Len(t, runs, 1)
	assert.Equal(t, job.ID, runs[0].JobID)
	assert.Equal(t, core.RunStatusRunning, runs[0].Status)
	s.Wait()

	stored, err := f.store.GetCronJob(f.ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastStatus)
	assert.Equal(t, core.RunStatusOK, *stored.LastStatus)
	require.NotNil(t, stored.NextRunAt)
	assert.Equal(t, int64(900000), stored.NextRunAt.Sub(*stored.LastRunAt).Milliseconds())
	assert.Zero(t, stored.ConsecutiveErrors)

	run, err := f.store.GetCronRun(f.ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusOK, run.Status)
	require.NotNil(t, run.ResultSummary)
	assert.Equal(t, "done", *run.ResultSummary)

	assert.Empty(t, s.Tick(f.ctx), "nothing is due until the interval passes")
	f.clock.Advance(15 * time.Minute)
	assert.Len(t, s.Tick(f.ctx), 1)
	s.Wait()
	assert.Equal(t, 2, d.Calls())
}

func TestOneShotFiresOnceAndDisables(t *testing.T) {
	f := newFixture(t)
	d := &scriptedDispatcher{}
	s := f.scheduler(d, nil, 0)
	job := everyJob("Release reminder", "")
	job.ScheduleKind = core.ScheduleAt
	job.ScheduleExpr = epoch.Add(time.Minute).Format(time.RFC3339)
	require.NoError(t, s.CreateJob(f.ctx, job))

	assert.Empty(t, s.Tick(f.ctx))
	f.clock.Advance(time.Minute)
	require.Len(t, s.Tick(f.ctx), 1)
	s.Wait()

	stored, err := f.store.GetCronJob(f.ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Nil(t, stored.NextRunAt)

	f.clock.Advance(time.Hour)
	assert.Empty(t, s.Tick(f.ctx))
	assert.Equal(t, 1, d.Calls())
}

func TestConsecutiveErrorsAndAutoDisable(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	d := &scriptedDispatcher{errs: []error{boom, boom, nil, boom, boom, boom}}
	s := f.scheduler(d, nil, 2)
	job := everyJob("Flaky", "60000")
	require.NoError(t, s.CreateJob(f.ctx, job))

	fire := func() *core.CronJob {
		t.Helper()
		_, err := s.RunNow(f.ctx, job.ID)
		require.NoError(t, err)
		s.Wait()
		stored, err := f.store.GetCronJob(f.ctx, job.ID)
		require.NoError(t, err)
		return stored
	}

	assert.Equal(t, 1, fire().ConsecutiveErrors)
	second := fire()
	assert.Equal(t, 2, second.ConsecutiveErrors)
	require.NotNil(t, second.LastError)
	assert.Equal(t, "boom", *second.LastError)

	reset := fire()
	assert.Zero(t, reset.ConsecutiveErrors)
	assert.Nil(t, reset.LastError)

	fire()
	fire()
	disabled := fire()
	assert.Equal(t, 3, disabled.ConsecutiveErrors)
	assert.False(t, disabled.Enabled)
	assert.Nil(t, disabled.NextRunAt)
}

func TestErrorsNeverDisableWithoutCeiling(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	d := &scriptedDispatcher{errs: []error{boom, boom, boom, boom}}
	s := f.scheduler(d, nil, 0)
	job := everyJob("Stubborn", "60000")
	require.NoError(t, s.CreateJob(f.ctx, job))

	for i := 0; i < 4; i++ {
		_, err := s.RunNow(f.ctx, job.ID)
		require.NoError(t, err)
		s.Wait()
	}

	stored, err := f.store.GetCronJob(f.ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
	assert.Equal(t, 4, stored.ConsecutiveErrors)
}

func TestTimeoutIsRecordedAsTimeout(t *testing.T) {
	f := newFixture(t)
	d := &scriptedDispatcher{errs: []error{core.ErrDispatchTimeout}}
	s := f.scheduler(d, nil, 0)
	job := everyJob("Slow", "60000")
	require.NoError(t, s.CreateJob(f.ctx, job))

	run, err := s.RunNow(f.ctx, job.ID)
	require.NoError(t, err)
	s.Wait()

	stored, err := f.store.GetCronRun(f.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusTimeout, stored.Status)
}

func TestRunNowConflictsWhileRunning(t *testing.T) {
	f := newFixture(t)
	d := &scriptedDispatcher{gate: make(chan struct{})}
	s := f.scheduler(d, nil, 0)
	job := everyJob("Exclusive", "60000")
	require.NoError(t, s.CreateJob(f.ctx, job))

	_, err := s.RunNow(f.ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, s.IsRunning(job.ID))

	_, err = s.RunNow(f.ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Empty(t, s.Tick(f.ctx), "a running job is skipped by the tick")

	close(d.gate)
	s.Wait()
	assert.False(t, s.IsRunning(job.ID))
	assert.Equal(t, 1, d.Calls())

	_, err = s.RunNow(f.ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDisableWhileRunningSticks(t *testing.T) {
	f := newFixture(t)
	d := &scriptedDispatcher{gate: make(chan struct{})}
	s := f.scheduler(d, nil, 0)
	job := everyJob("Paused Mid Run", "60000")
	require.NoError(t, s.CreateJob(f.ctx, job))

	_, err := s.RunNow(f.ctx, job.ID)
	require.NoError(t, err)
	_, err = s.SetEnabled(f.ctx, job.ID, false)
	require.NoError(t, err)

	close(d.gate)
	s.Wait()

	stored, err := f.store.GetCronJob(f.ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled, "a finished run must not re-enable the job")
	assert.Nil(t, stored.NextRunAt)
	require.NotNil(t, stored.LastStatus)
	assert.Equal(t, core.RunStatusOK, *stored.LastStatus)
	assert.Empty(t, s.Tick(f.ctx))
}

func TestAnnounceDelivery(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	s := f.scheduler(&scriptedDispatcher{}, notifier, 0)
	loud := everyJob("Loud", "60000")
	loud.Delivery = &core.Delivery{Mode: core.DeliveryAnnounce, Channel: "ops", To: "pulse"}
	quiet := everyJob("Quiet", "60000")
	quiet.Delivery = &core.Delivery{Mode: core.DeliveryNone}
	require.NoError(t, s.CreateJob(f.ctx, loud))
	require.NoError(t, s.CreateJob(f.ctx, quiet))

	require.Len(t, s.Tick(f.ctx), 2)
	s.Wait()

	msgs := notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Loud", msgs[0].Title)
	assert.Equal(t, "ops", msgs[0].Channel)
	assert.Contains(t, msgs[0].Body, "to pulse: ")
	assert.Contains(t, msgs[0].Body, "done")
}

func TestSyncFillsMissingNextRun(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(&scriptedDispatcher{}, nil, 0)
	job := everyJob("Imported", "60000")
	job.ID = core.NewID()
	job.Timezone = "UTC"
	job.SessionTarget = core.SessionIsolated
	job.CreatedAt = epoch
	job.UpdatedAt = epoch
	require.NoError(t, f.store.InsertCronJob(f.ctx, job))

	require.NoError(t, s.Sync(f.ctx))

	stored, err := f.store.GetCronJob(f.ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.Equal(epoch))
}

func TestSetEnabledAndDelete(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(&scriptedDispatcher{}, nil, 0)
	job := everyJob("Toggle", "60000")
	require.NoError(t, s.CreateJob(f.ctx, job))

	off, err := s.SetEnabled(f.ctx, job.ID, false)
	require.NoError(t, err)
	assert.False(t, off.Enabled)
	assert.Nil(t, off.NextRunAt)
	assert.Empty(t, s.Tick(f.ctx))

	on, err := s.SetEnabled(f.ctx, job.ID, true)
	require.NoError(t, err)
	require.NotNil(t, on.NextRunAt)

	require.NoError(t, s.DeleteJob(f.ctx, job.ID))
	assert.ErrorIs(t, s.DeleteJob(f.ctx, job.ID), core.ErrNotFound)
}

func ptr[T any](v T) *T {
	return &v
}
