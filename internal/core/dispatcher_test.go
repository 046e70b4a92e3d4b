package core_test

import (
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/internal/core"
)

func dispatchFixture(t *testing.T) (*fixture, *core.CronJob, *core.CronRun) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("dispatch tests use /bin/sh")
	}
	f := newFixture(t)
	job := &core.CronJob{
		ID:            "job-1",
		Name:          "Pulse Heartbeat",
		SessionTarget: core.SessionMain,
		Payload:       core.Payload{Kind: core.PayloadSystemEvent, Message: "check HEARTBEAT.md"},
	}
	run := &core.CronRun{ID: core.NewID(), JobID: job.ID}
	return f, job, run
}

func TestDispatchWithoutCommandRecordsPayload(t *testing.T) {
	f, job, run := dispatchFixture(t)
	d := core.NewCommandDispatcher("", 0, f.store, f.logger)

	summary, err := d.Dispatch(f.ctx, job, run)
	require.NoError(t, err)
	assert.Equal(t, "systemEvent payload recorded for main session", summary)

	data, err := os.ReadFile(f.store.RunLogPath(run.ID))
	require.NoError(t, err)
	assert.Equal(t, "[Pulse Heartbeat] systemEvent -> main session: check HEARTBEAT.md\n", string(data))
}

func TestDispatchPassesPayloadInEnvironment(t *testing.T) {
	f, job, run := dispatchFixture(t)
	d := core.NewCommandDispatcher(`echo "first"; echo "$MISSION_SESSION_TARGET:$MISSION_MESSAGE"`, time.Minute, f.store, f.logger)

	summary, err := d.Dispatch(f.ctx, job, run)
	require.NoError(t, err)
	assert.Equal(t, "main:check HEARTBEAT.md", summary)

	data, err := os.ReadFile(f.store.RunLogPath(run.ID))
	require.NoError(t, err)
	assert.Equal(t, "first\nmain:check HEARTBEAT.md\n", string(data))
}

func TestDispatchExitCode(t *testing.T) {
	f, job, run := dispatchFixture(t)
	d := core.NewCommandDispatcher("echo failing >&2; exit 3", 0, f.store, f.logger)

	summary, err := d.Dispatch(f.ctx, job, run)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Equal(t, "failing", summary)
}

func TestDispatchTimeout(t *testing.T) {
	f, job, run := dispatchFixture(t)
	d := core.NewCommandDispatcher("exec sleep 5", 100*time.Millisecond, f.store, f.logger)

	start := time.Now()
	_, err := d.Dispatch(f.ctx, job, run)

	assert.ErrorIs(t, err, core.ErrDispatchTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestDispatchWatchdogFiringAtStart(t *testing.T) {
	f, job, _ := dispatchFixture(t)
	d := core.NewCommandDispatcher("true", time.Microsecond, f.store, f.logger)

	// The watchdog fires while the process is still being spawned or reaped.
	for i := 0; i < 20; i++ {
		run := &core.CronRun{ID: core.NewID(), JobID: job.ID}
		_, err := d.Dispatch(f.ctx, job, run)
		if err != nil {
			assert.ErrorIs(t, err, core.ErrDispatchTimeout)
		}
	}
}
