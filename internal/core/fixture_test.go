package core_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"missioncontrol/internal/core"
	"missioncontrol/internal/notify"
	"missioncontrol/internal/store"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx    context.Context
	store  *store.Store
	clock  *clockwork.FakeClock
	logger *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir(), 5)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &fixture{
		ctx:    ctx,
		store:  st,
		clock:  clockwork.NewFakeClockAt(epoch),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *fixture) tasks() *core.TaskManager {
	return core.NewTaskManager(f.store, f.store, f.store, f.clock, f.logger)
}

func (f *fixture) liveness() *core.Liveness {
	return core.NewLiveness(f.store, f.store, f.store, f.store, f.clock, f.logger)
}

func (f *fixture) addAgent(t *testing.T, name string) *core.Agent {
	t.Helper()
	now := f.clock.Now().UTC()
	agent := &core.Agent{
		ID:           core.NewID(),
		Name:         name,
		Capabilities: []string{},
		Status:       core.AgentStatusIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.store.InsertAgent(f.ctx, agent))
	return agent
}

func (f *fixture) addTask(t *testing.T, title string) *core.Task {
	t.Helper()
	task, err := f.tasks().CreateTask(f.ctx, core.NewTask{Title: title})
	require.NoError(t, err)
	return task
}

func (f *fixture) history(t *testing.T, taskID string) []string {
	t.Helper()
	entries, err := f.store.ListTaskHistory(f.ctx, taskID)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (r *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingNotifier) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.messages...)
}
