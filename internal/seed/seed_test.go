package seed_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/internal/core"
	"missioncontrol/internal/logging"
	"missioncontrol/internal/notify"
	"missioncontrol/internal/seed"
	"missioncontrol/internal/store"
)

const sample = `
agents:
  - name: Pulse
    role: Coordinator
  - name: Scout
tasks:
  - title: Index feeds
    owner: Scout
  - title: Ship report
    status: done
  - title: Orphan
    owner: Nobody
cron_jobs:
  - name: Pulse Heartbeat
    agent: Pulse
    schedule: {kind: cron, expr: "0,15,30,45 * * * *", tz: America/Sao_Paulo}
    session_target: main
    payload: {kind: systemEvent, message: check in}
  - name: Broken
    schedule: {kind: cron, expr: "every day"}
    payload: {kind: agentTurn, message: x}
`

func newSeeder(t *testing.T) (*seed.Seeder, *store.Store, *bytes.Buffer) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), 5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := logging.Discard()
	scheduler := core.NewScheduler(core.SchedulerConfig{
		Store:      st,
		Dispatcher: core.NewCommandDispatcher("", time.Minute, st, logger),
		Notifier:   &notify.NoOpNotifier{},
		Logger:     logger,
		Clock:      clock,
	})
	var out bytes.Buffer
	s := seed.New(seed.Options{Store: st, Jobs: scheduler, Clock: clock, Logger: logger, Out: &out})
	return s, st, &out
}

func TestApplyUpsertsAndContinuesOnError(t *testing.T) {
	s, st, _ := newSeeder(t)
	ctx := context.Background()
	doc, err := seed.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	report := s.Apply(ctx, doc)
	assert.Equal(t, 5, report.Inserted)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, "Orphan", report.Errors[0].Key)
	assert.ErrorIs(t, report.Errors[0], core.ErrNotFound)
	assert.ErrorIs(t, report.Errors[1], core.ErrScheduleInvalid)

	scout, err := st.GetAgentByName(ctx, "Scout")
	require.NoError(t, err)
	task, err := st.GetTaskByTitle(ctx, "Index feeds")
	require.NoError(t, err)
	require.NotNil(t, task.AssignedAgentID)
	assert.Equal(t, scout.ID, *task.AssignedAgentID)

	done, err := st.GetTaskByTitle(ctx, "Ship report")
	require.NoError(t, err)
	assert.NotNil(t, done.CompletedAt)

	job, err := st.GetCronJobByName(ctx, "Pulse Heartbeat")
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", job.Timezone)
	assert.Equal(t, core.SessionMain, job.SessionTarget)
	assert.NotNil(t, job.NextRunAt)

	again := s.Apply(ctx, doc)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 5, again.Updated)

	sameScout, err := st.GetAgentByName(ctx, "Scout")
	require.NoError(t, err)
	assert.Equal(t, scout.ID, sameScout.ID)
}

func TestDryRunWritesNothing(t *testing.T) {
	var out bytes.Buffer
	s := seed.New(seed.Options{Out: &out, Logger: logging.Discard()})
	doc, err := seed.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	report := s.DryRun(doc)
	assert.True(t, report.DryRun)
	assert.Equal(t, 6, report.Planned)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Inserted)
	assert.Contains(t, out.String(), "[dry-run] task [backlog] Orphan (Nobody) owner not in this file")
	assert.Contains(t, out.String(), "[dry-run] cron job Pulse Heartbeat (cron)")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := seed.Parse(strings.NewReader("agents:\n  - name: A\n    colour: red\n"))
	assert.Error(t, err)
}

func TestBundledSeedFileIsValid(t *testing.T) {
	doc, err := seed.Load(filepath.Join("..", "..", "seed", "mission.yaml"))
	require.NoError(t, err)

	s := seed.New(seed.Options{Logger: logging.Discard()})
	report := s.DryRun(doc)
	assert.Zero(t, report.Failed, "%v", report.Errors)
	assert.Equal(t, 5, len(doc.Agents))
	assert.Equal(t, 5, len(doc.CronJobs))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := seed.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseBoardSections(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "TASKS.md"))
	require.NoError(t, err)
	defer f.Close()

	tasks, err := seed.ParseBoard(f)
	require.NoError(t, err)

	assert.Equal(t, []seed.TaskDoc{
		{Title: "Write onboarding guide", Owner: "Growth", Status: core.TaskStatusBacklog},
		{Title: "Audit cron schedules", Status: core.TaskStatusBacklog},
		{Title: "Migrate board to the database", Owner: "Backend Architect", Status: core.TaskStatusInProgress},
		{Title: "Wire the log stream", Owner: "Frontend", Status: core.TaskStatusInProgress},
		{Title: "Bootstrap gateway", Owner: "System Admin", Status: core.TaskStatusDone},
		{Title: "Draft roadmap", Status: core.TaskStatusDone},
	}, tasks)
}

func TestParseBoardHeadingVariants(t *testing.T) {
	board := "## BACKLOG\n- [ ] a\n##In-Progress\n- [ ] b\n## inprogress\n- [ ] c\n  - [ ] indented (X)  \n- not a checkbox\n"

	tasks, err := seed.ParseBoard(strings.NewReader(board))
	require.NoError(t, err)

	require.Len(t, tasks, 4)
	assert.Equal(t, core.TaskStatusBacklog, tasks[0].Status)
	assert.Equal(t, core.TaskStatusInProgress, tasks[1].Status)
	assert.Equal(t, core.TaskStatusInProgress, tasks[2].Status)
	assert.Equal(t, seed.TaskDoc{Title: "indented", Owner: "X", Status: core.TaskStatusInProgress}, tasks[3])
}

func TestParseAgentRegistry(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "AGENTS.md"))
	require.NoError(t, err)
	defer f.Close()

	agents, err := seed.ParseAgentRegistry(f)
	require.NoError(t, err)

	require.Len(t, agents, 5, "the second table is not part of the registry")
	assert.Equal(t, seed.AgentDoc{
		Name:         "Pulse (Main)",
		Role:         "Technical Lead",
		Status:       core.AgentStatusWorking,
		Capabilities: []string{"planning", "review"},
	}, agents[0])
	assert.Equal(t, core.AgentStatusWorking, agents[1].Status, "ativo counts as working")
	assert.Nil(t, agents[1].Capabilities)
	assert.Equal(t, core.AgentStatusWorking, agents[2].Status)
	assert.Equal(t, core.AgentStatusIdle, agents[3].Status)
	assert.Equal(t, core.AgentStatusIdle, agents[4].Status)
	assert.Equal(t, "SEO/Marketing", agents[4].Role)
}

func TestParseAgentRegistryWithoutTable(t *testing.T) {
	_, err := seed.ParseAgentRegistry(strings.NewReader("# Agents\n\nnone yet\n"))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestLoadMarkdownAppliesBoard(t *testing.T) {
	s, st, _ := newSeeder(t)
	ctx := context.Background()

	doc, err := seed.LoadMarkdown(filepath.Join("testdata", "TASKS.md"), filepath.Join("testdata", "AGENTS.md"))
	require.NoError(t, err)
	require.Len(t, doc.Agents, 5)
	require.Len(t, doc.Tasks, 6)
	assert.Empty(t, doc.CronJobs)

	report := s.Apply(ctx, doc)
	assert.Equal(t, 11, report.Inserted)
	assert.Zero(t, report.Failed, "%v", report.Errors)

	architect, err := st.GetAgentByName(ctx, "Backend Architect")
	require.NoError(t, err)
	assert.Equal(t, core.AgentStatusWorking, architect.Status)

	task, err := st.GetTaskByTitle(ctx, "Migrate board to the database")
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusInProgress, task.Status)
	assert.Equal(t, core.PriorityMedium, task.Priority)
	require.NotNil(t, task.AssignedAgentID)
	assert.Equal(t, architect.ID, *task.AssignedAgentID)

	shipped, err := st.GetTaskByTitle(ctx, "Bootstrap gateway")
	require.NoError(t, err)
	assert.NotNil(t, shipped.CompletedAt)

	again := s.Apply(ctx, doc)
	assert.Equal(t, 11, again.Updated)
	assert.Zero(t, again.Inserted)
}

func TestLoadMarkdownNeedsASource(t *testing.T) {
	_, err := seed.LoadMarkdown("", "")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = seed.LoadMarkdown(filepath.Join(t.TempDir(), "TASKS.md"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)

	doc, err := seed.LoadMarkdown(filepath.Join("testdata", "TASKS.md"), "")
	require.NoError(t, err)
	assert.Empty(t, doc.Agents)
	assert.Len(t, doc.Tasks, 6)
}
