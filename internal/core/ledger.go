package core

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultActivityLimit = 20
	MaxActivityLimit     = 200
)

// SystemStats summarises the fleet for the dashboard header.
type SystemStats struct {
	Agents          int                `json:"agents"`
	WorkingAgents   int                `json:"working_agents"`
	ActiveAgents    int                `json:"active_agents"`
	PendingTasks    int                `json:"pending_tasks"`
	TasksByStatus   map[TaskStatus]int `json:"tasks_by_status"`
	RefreshInterval time.Duration      `json:"-"`
	RefreshSeconds  int                `json:"refresh_interval_seconds"`
	GeneratedAt     time.Time          `json:"generated_at"`
	// Process figures: time since the ledger was built and Go heap/runtime memory.
	UptimeSeconds    int64  `json:"uptime_seconds"`
	MemoryAllocBytes uint64 `json:"memory_alloc_bytes"`
	MemorySysBytes   uint64 `json:"memory_sys_bytes"`
}

// Ledger is the read side used by dashboards. Store failures never surface to callers:
// every read degrades to an empty result and a logged error.
type Ledger struct {
	agents  AgentStore
	tasks   TaskStore
	history HistoryStore
	clock   clockwork.Clock
	logger  *slog.Logger
	refresh time.Duration
	started time.Time
}

// NewLedger constructs the read model. refresh is the interval dashboards are told to poll at.
func NewLedger(agents AgentStore, tasks TaskStore, history HistoryStore, clock clockwork.Clock, logger *slog.Logger, refresh time.Duration) *Ledger {
	clock = clockOrReal(clock)
	return &Ledger{
		agents:  agents,
		tasks:   tasks,
		history: history,
		clock:   clock,
		logger:  logger,
		refresh: refresh,
		started: clock.Now(),
	}
}

// RecentActivity returns the newest history entries, enriched with agent and task names.
func (l *Ledger) RecentActivity(ctx context.Context, limit int) []*ActivityEntry {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	entries, err := l.history.RecentActivity(ctx, limit)
	if err != nil {
		l.logger.Error("load recent activity", "limit", limit, "err", err)
		return []*ActivityEntry{}
	}
	if entries == nil {
		return []*ActivityEntry{}
	}
	return entries
}

// ListAgents returns every agent by name with its activity flag.
func (l *Ledger) ListAgents(ctx context.Context) []*AgentView {
	agents, err := l.agents.ListAgents(ctx)
	if err != nil {
		l.logger.Error("list agents", "err", err)
		return []*AgentView{}
	}
	now := nowUTC(l.clock)
	views := make([]*AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, &AgentView{Agent: a, Active: IsActive(a, now)})
	}
	return views
}

// ListTasks returns tasks newest first with their assignee joined.
func (l *Ledger) ListTasks(ctx context.Context, filter TaskFilter) []*Task {
	tasks, err := l.tasks.ListTasks(ctx, filter)
	if err != nil {
		l.logger.Error("list tasks", "err", err)
		return []*Task{}
	}
	if tasks == nil {
		return []*Task{}
	}
	return tasks
}

// Stats counts agents and tasks and reports process uptime and memory.
func (l *Ledger) Stats(ctx context.Context) SystemStats {
	now := nowUTC(l.clock)
	stats := SystemStats{
		TasksByStatus:   make(map[TaskStatus]int, len(TaskStatuses)),
		RefreshInterval: l.refresh,
		RefreshSeconds:  int(l.refresh / time.Second),
		GeneratedAt:     now,
		UptimeSeconds:   int64(now.Sub(l.started) / time.Second),
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.MemoryAllocBytes = mem.Alloc
	stats.MemorySysBytes = mem.Sys
	for _, st := range TaskStatuses {
		stats.TasksByStatus[st] = 0
	}
	for _, a := range l.ListAgents(ctx) {
		stats.Agents++
		if a.Status == AgentStatusWorking {
			stats.WorkingAgents++
		}
		if a.Active {
			stats.ActiveAgents++
		}
	}
	for _, t := range l.ListTasks(ctx, TaskFilter{}) {
		stats.TasksByStatus[t.Status]++
		if t.Status != TaskStatusDone {
			stats.PendingTasks++
		}
	}
	return stats
}
