package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/internal/core"
	"missioncontrol/internal/logging"
	"missioncontrol/internal/notify"
	"missioncontrol/internal/store"
)

func newTestServer(t *testing.T) (*MCPServer, *store.Store, *clockwork.FakeClock) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), 5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := logging.Discard()
	s := NewMCPServer(Deps{
		Tasks:    core.NewTaskManager(st, st, st, clock, logger),
		Liveness: core.NewLiveness(st, st, st, st, clock, logger),
		Ledger:   core.NewLedger(st, st, st, clock, logger, 30*time.Second),
		Scheduler: core.NewScheduler(core.SchedulerConfig{
			Store:      st,
			Dispatcher: core.NewCommandDispatcher("", time.Minute, st, logger),
			Notifier:   &notify.NoOpNotifier{},
			Logger:     logger,
			Clock:      clock,
		}),
		Cron:     st,
		Logger:   logger,
		Location: time.UTC,
		Clock:    clock,
	})
	now := clock.Now()
	require.NoError(t, st.InsertAgent(context.Background(), &core.Agent{
		ID: "A1", Name: "Scout", Status: core.AgentStatusIdle, CreatedAt: now, UpdatedAt: now,
	}))
	return s, st, clock
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestAgentToolsDriveTaskLifecycle(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()
	task, err := s.Tasks.CreateTask(ctx, core.NewTask{Title: "Index feeds"})
	require.NoError(t, err)

	res, err := s.handleWake(ctx, call(map[string]any{"agent_id": "A1"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "Scout is Working")
	assert.Contains(t, text(t, res), "No open tasks.")

	res, err = s.handleTaskStart(ctx, call(map[string]any{"agent_id": "A1", "task_id": task.ID}))
	require.NoError(t, err)
	assert.Equal(t, "Index feeds is now In Progress", text(t, res))

	res, err = s.handleTaskComplete(ctx, call(map[string]any{"agent_id": "A1", "task_id": task.ID, "result": `{"indexed":12}`}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	history, err := st.ListTaskHistory(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, float64(12), history[1].Details["result"].(map[string]any)["indexed"])

	res, err = s.handleReport(ctx, call(map[string]any{"agent_id": "A1", "summary": "done"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	agent, err := st.GetAgent(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, core.AgentStatusIdle, agent.Status)
}

func TestToolErrorsAreResults(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleWake(ctx, call(map[string]any{"agent_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleTaskList(ctx, call(map[string]any{"status": "archived"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleRunJob(ctx, call(map[string]any{"job_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCronPreviewTool(t *testing.T) {
	s, _, _ := newTestServer(t)

	res, err := s.handleCronPreview(context.Background(), call(map[string]any{"expr": "0 9 * * *", "tz": "UTC", "count": float64(2)}))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "1. 2026-03-02 09:00:00 UTC")
	assert.Contains(t, out, "2. 2026-03-03 09:00:00 UTC")

	res, err = s.handleCronPreview(context.Background(), call(map[string]any{"kind": "every", "expr": "-5"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestParseResult(t *testing.T) {
	assert.Nil(t, parseResult("  "))
	assert.Equal(t, map[string]any{"ok": true}, parseResult(`{"ok":true}`))
	assert.Equal(t, map[string]any{"summary": "shipped"}, parseResult("shipped"))
}
