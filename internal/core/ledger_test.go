package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/internal/core"
)

func TestRecentActivityJoinsNames(t *testing.T) {
	f := newFixture(t)
	agent := f.addAgent(t, "Pulse")
	task := f.addTask(t, "Triage inbox")
	_, err := f.tasks().MoveTask(f.ctx, task.ID, core.TaskStatusInProgress, core.MoveOptions{AgentID: agent.ID})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	require.NoError(t, f.tasks().DeleteTask(f.ctx, task.ID))

	ledger := core.NewLedger(f.store, f.store, f.store, f.clock, f.logger, 30*time.Second)
	entries := ledger.RecentActivity(f.ctx, 0)

	require.Len(t, entries, 1)
	assert.Equal(t, core.ActionStarted, entries[0].Action)
	require.NotNil(t, entries[0].AgentName)
	assert.Equal(t, "Pulse", *entries[0].AgentName)
	assert.Nil(t, entries[0].TaskTitle, "deleted tasks leave the title empty")
}

func TestRecentActivityLimits(t *testing.T) {
	f := newFixture(t)
	agent := f.addAgent(t, "Pulse")
	lv := f.liveness()
	for i := 0; i < core.DefaultActivityLimit+5; i++ {
		f.clock.Advance(time.Second)
		require.NoError(t, lv.MarkStatus(f.ctx, agent.ID, core.AgentStatusOffline, ""))
	}
	ledger := core.NewLedger(f.store, f.store, f.store, f.clock, f.logger, 0)

	assert.Len(t, ledger.RecentActivity(f.ctx, 0), core.DefaultActivityLimit)
	assert.Len(t, ledger.RecentActivity(f.ctx, 3), 3)
	assert.Len(t, ledger.RecentActivity(f.ctx, 10_000), core.DefaultActivityLimit+5)
}

func TestLedgerDegradesToEmpty(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, "Pulse")
	require.NoError(t, f.store.Close())
	ledger := core.NewLedger(f.store, f.store, f.store, f.clock, f.logger, 0)

	assert.NotNil(t, ledger.RecentActivity(f.ctx, 5))
	assert.Empty(t, ledger.RecentActivity(f.ctx, 5))
	assert.Empty(t, ledger.ListAgents(f.ctx))
	assert.Empty(t, ledger.ListTasks(f.ctx, core.TaskFilter{}))

	stats := ledger.Stats(f.ctx)
	assert.Zero(t, stats.Agents)
	assert.Len(t, stats.TasksByStatus, len(core.TaskStatuses))
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	busy := f.addAgent(t, "BackendArchitect")
	f.addAgent(t, "FrontendProduct")
	task := f.addTask(t, "Migration")
	f.addTask(t, "Later")
	done := f.addTask(t, "Shipped")

	_, err := f.liveness().Wake(f.ctx, busy.ID)
	require.NoError(t, err)
	_, err = f.tasks().MoveTask(f.ctx, task.ID, core.TaskStatusInProgress, core.MoveOptions{AgentID: busy.ID})
	require.NoError(t, err)
	_, err = f.tasks().MoveTask(f.ctx, done.ID, core.TaskStatusDone, core.MoveOptions{})
	require.NoError(t, err)

	stats := core.NewLedger(f.store, f.store, f.store, f.clock, f.logger, 30*time.Second).Stats(f.ctx)

	assert.Equal(t, 2, stats.Agents)
	assert.Equal(t, 1, stats.WorkingAgents)
	assert.Equal(t, 1, stats.ActiveAgents)
	assert.Equal(t, 2, stats.PendingTasks)
	assert.Equal(t, 1, stats.TasksByStatus[core.TaskStatusBacklog])
	assert.Equal(t, 1, stats.TasksByStatus[core.TaskStatusInProgress])
	assert.Equal(t, 1, stats.TasksByStatus[core.TaskStatusDone])
	assert.Equal(t, 0, stats.TasksByStatus[core.TaskStatusBlocked])
	assert.Equal(t, 30, stats.RefreshSeconds)
	assert.Zero(t, stats.UptimeSeconds)
	assert.NotZero(t, stats.MemoryAllocBytes)
	assert.GreaterOrEqual(t, stats.MemorySysBytes, stats.MemoryAllocBytes)

	f.clock.Advance(core.ActiveWindow)
	later := core.NewLedger(f.store, f.store, f.store, f.clock, f.logger, 0).Stats(f.ctx)
	assert.Equal(t, 0, later.ActiveAgents)
	assert.Equal(t, 1, later.WorkingAgents, "activity does not depend on status")
}

func TestStatsUptimeCountsFromLedgerStart(t *testing.T) {
	f := newFixture(t)
	ledger := core.NewLedger(f.store, f.store, f.store, f.clock, f.logger, 0)

	f.clock.Advance(90*time.Minute + 30*time.Second)

	assert.Equal(t, int64(5430), ledger.Stats(f.ctx).UptimeSeconds)
}
