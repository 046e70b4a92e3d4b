package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"missioncontrol/internal/store"
)

const bundledSeed = "../../seed/mission.yaml"

func newTestApp(t *testing.T) (*cli.App, *bytes.Buffer, string) {
	t.Helper()
	var out bytes.Buffer
	app := BuildApp(Deps{
		Out:   &out,
		Clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
	})
	return app, &out, t.TempDir()
}

func TestMigratePrintsAppliedVersions(t *testing.T) {
	app, out, dir := newTestApp(t)

	require.NoError(t, app.RunContext(context.Background(), []string{"missionctl", "--state-dir", dir, "migrate"}))

	assert.Contains(t, out.String(), "applied 0001_init")
	assert.Contains(t, out.String(), "applied 0002_cron")
	assert.FileExists(t, filepath.Join(dir, "mission.db"))
}

func TestSeedDryRunNeverOpensStore(t *testing.T) {
	var out bytes.Buffer
	app := BuildApp(Deps{
		Out: &out,
		OpenStore: func(context.Context, string, int) (*store.Store, error) {
			t.Fatal("dry run opened the store")
			return nil, nil
		},
	})

	require.NoError(t, app.RunContext(context.Background(), []string{"missionctl", "seed", "--dry-run", bundledSeed}))

	assert.Contains(t, out.String(), "[dry-run] agent Pulse")
	assert.Contains(t, out.String(), "[dry-run] cron job Pulse Heartbeat (cron)")
	assert.Contains(t, out.String(), "planned=13 failed=0")
}

func TestSeedThenCheck(t *testing.T) {
	app, out, dir := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.RunContext(ctx, []string{"missionctl", "--state-dir", dir, "seed", bundledSeed}))
	assert.Contains(t, out.String(), "inserted=13 updated=0 failed=0")

	out.Reset()
	require.NoError(t, app.RunContext(ctx, []string{"missionctl", "--state-dir", dir, "seed", bundledSeed}))
	assert.Contains(t, out.String(), "inserted=0 updated=13 failed=0")

	out.Reset()
	require.NoError(t, app.RunContext(ctx, []string{"missionctl", "--state-dir", dir, "check"}))
	assert.Regexp(t, `agents\s+5`, out.String())
	assert.Regexp(t, `cron_jobs\s+5`, out.String())
	assert.Regexp(t, `tasks\s+3`, out.String())
}

func TestSeedFailedRowsExitNonZero(t *testing.T) {
	app, out, dir := newTestApp(t)
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
agents:
  - name: Solo
tasks:
  - title: Orphan
    owner: Nobody
`), 0o644))

	err := app.RunContext(context.Background(), []string{"missionctl", "--state-dir", dir, "seed", file})

	var exit cli.ExitCoder
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 1, exit.ExitCode())
	assert.Contains(t, out.String(), "inserted=1 updated=0 failed=1")
}

func TestSeedRequiresFile(t *testing.T) {
	app, _, _ := newTestApp(t)

	err := app.RunContext(context.Background(), []string{"missionctl", "seed"})

	var exit cli.ExitCoder
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 2, exit.ExitCode())
}

func TestSeedFromMarkdownBoard(t *testing.T) {
	app, out, dir := newTestApp(t)
	ctx := context.Background()
	board := filepath.Join("..", "seed", "testdata", "TASKS.md")
	agents := filepath.Join("..", "seed", "testdata", "AGENTS.md")

	require.NoError(t, app.RunContext(ctx, []string{"missionctl", "seed", "--dry-run", "--board", board, "--agents", agents}))
	assert.Contains(t, out.String(), "[dry-run] task [in_progress] Migrate board to the database (Backend Architect)")
	assert.Contains(t, out.String(), "planned=11 failed=0")

	out.Reset()
	require.NoError(t, app.RunContext(ctx, []string{"missionctl", "--state-dir", dir, "seed", "--board", board, "--agents", agents}))
	assert.Contains(t, out.String(), "inserted=11 updated=0 failed=0")

	out.Reset()
	require.NoError(t, app.RunContext(ctx, []string{"missionctl", "--state-dir", dir, "check"}))
	assert.Regexp(t, `agents\s+5`, out.String())
	assert.Regexp(t, `tasks\s+6`, out.String())
	assert.Regexp(t, `agents working 3, active 0 of 5`, out.String())
}

func TestSeedRejectsFileWithBoard(t *testing.T) {
	app, _, dir := newTestApp(t)

	err := app.RunContext(context.Background(), []string{"missionctl", "--state-dir", dir, "seed", "--board", "TASKS.md", bundledSeed})

	var exit cli.ExitCoder
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 2, exit.ExitCode())
}

func TestAuditOnEmptyStore(t *testing.T) {
	app, out, dir := newTestApp(t)

	require.NoError(t, app.RunContext(context.Background(), []string{"missionctl", "--state-dir", dir, "audit"}))

	assert.Equal(t, "nothing stale\n", out.String())
}

func TestStateDirFromEnvironment(t *testing.T) {
	app, out, dir := newTestApp(t)
	t.Setenv("MISSION_STATE_DIR", dir)

	require.NoError(t, app.RunContext(context.Background(), []string{"missionctl", "migrate"}))

	assert.Contains(t, out.String(), "applied 0001_init")
	assert.FileExists(t, filepath.Join(dir, "mission.db"))
}
