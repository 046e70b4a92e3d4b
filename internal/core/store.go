package core

import (
	"context"
	"time"
)

// AgentStore persists agents. Every mutation touches a single row.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	MarkAgentAwake(ctx context.Context, id string, at time.Time) error
	TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error
	MarkAgentIdle(ctx context.Context, id string, at time.Time) error
	SetAgentStatus(ctx context.Context, id string, status AgentStatus, at time.Time) error
	SetAgentCurrentTask(ctx context.Context, agentID, taskID string, at time.Time) error
	ClearAgentCurrentTask(ctx context.Context, agentID, taskID string, at time.Time) error
	ListStaleAgents(ctx context.Context, heartbeatBefore time.Time) ([]*Agent, error)
}

// TaskStore persists tasks.
type TaskStore interface {
	InsertTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	UpdateTaskStatus(ctx context.Context, update TaskStatusUpdate) error
	UpdateTaskAssignee(ctx context.Context, id string, agentID *string, at time.Time) error
	DeleteTask(ctx context.Context, id string) error
	ListStalledTasks(ctx context.Context, updatedBefore time.Time) ([]*Task, error)
}

// HistoryStore appends to and reads from the activity ledger.
type HistoryStore interface {
	InsertHistory(ctx context.Context, entry *HistoryEntry) error
	ListTaskHistory(ctx context.Context, taskID string) ([]*HistoryEntry, error)
	RecentActivity(ctx context.Context, limit int) ([]*ActivityEntry, error)
}

// MemoryStore keeps agent memory and system events.
type MemoryStore interface {
	InsertMemory(ctx context.Context, entry *MemoryEntry) error
	RecentMemory(ctx context.Context, agentID string, limit int) ([]*MemoryEntry, error)
	InsertSystemEvent(ctx context.Context, event *SystemEvent) error
}

// CronStore abstracts the persistence used by the scheduler and dispatcher.
type CronStore interface {
	InsertCronJob(ctx context.Context, job *CronJob) error
	UpdateCronJob(ctx context.Context, job *CronJob) error
	GetCronJob(ctx context.Context, id string) (*CronJob, error)
	ListCronJobs(ctx context.Context, enabledOnly bool) ([]*CronJob, error)
	DeleteCronJob(ctx context.Context, id string) error
	UpdateCronJobNextRun(ctx context.Context, id string, nextRunAt *time.Time, at time.Time) error
	RecordCronJobResult(ctx context.Context, result CronJobResult) error

	InsertCronRun(ctx context.Context, run *CronRun) error
	CompleteCronRun(ctx context.Context, run *CronRun) error
	GetCronRun(ctx context.Context, id string) (*CronRun, error)
	ListCronRuns(ctx context.Context, jobID string, limit, offset int) ([]*CronRun, error)

	// Log helpers
	EnsureRunLogDir(runID string) error
	RunLogPath(runID string) string
	PruneOldRunLogs(ctx context.Context, jobID string) error
}

// Store is everything the daemon needs from persistence.
type Store interface {
	AgentStore
	TaskStore
	HistoryStore
	MemoryStore
	CronStore
}
