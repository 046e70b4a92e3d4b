package core

import (
	"time"
)

// AgentStatus represents the lifecycle state reported for an agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusWorking AgentStatus = "working"
	AgentStatusOffline AgentStatus = "offline"
	AgentStatusError   AgentStatus = "error"
)

// TaskStatus is the column a task currently sits in.
type TaskStatus string

const (
	TaskStatusBacklog    TaskStatus = "backlog"
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// TaskStatuses lists every task status in board order.
var TaskStatuses = []TaskStatus{
	TaskStatusBacklog,
	TaskStatusTodo,
	TaskStatusInProgress,
	TaskStatusDone,
	TaskStatusBlocked,
}

// Priority ranks tasks.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ScheduleKind selects how a cron job computes its next fire time.
type ScheduleKind string

const (
	ScheduleCron  ScheduleKind = "cron"
	ScheduleEvery ScheduleKind = "every"
	ScheduleAt    ScheduleKind = "at"
)

// SessionTarget is the execution context a job dispatches into.
type SessionTarget string

const (
	SessionMain     SessionTarget = "main"
	SessionIsolated SessionTarget = "isolated"
)

// PayloadKind describes what the dispatched payload asks for.
type PayloadKind string

const (
	PayloadAgentTurn   PayloadKind = "agentTurn"
	PayloadSystemEvent PayloadKind = "systemEvent"
)

// DeliveryMode controls whether run results are announced.
type DeliveryMode string

const (
	DeliveryAnnounce DeliveryMode = "announce"
	DeliveryNone     DeliveryMode = "none"
)

// RunStatus represents the lifecycle state of a cron run.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusError   RunStatus = "error"
	RunStatusTimeout RunStatus = "timeout"
)

// Agent is an autonomous worker tracked for liveness and task ownership.
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Role          *string     `json:"role,omitempty"`
	Capabilities  []string    `json:"capabilities"`
	Status        AgentStatus `json:"status"`
	LastHeartbeat *time.Time  `json:"last_heartbeat,omitempty"`
	CurrentTaskID *string     `json:"current_task_id,omitempty"`
	MemoryPath    *string     `json:"memory_path,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// AgentRef is the slice of an agent joined onto task listings.
type AgentRef struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Role   *string     `json:"role,omitempty"`
	Status AgentStatus `json:"status"`
}

// Task is a unit of work moving across the board.
type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     *string    `json:"description,omitempty"`
	Status          TaskStatus `json:"status"`
	Priority        Priority   `json:"priority"`
	AssignedAgentID *string    `json:"assigned_agent_id,omitempty"`
	Tags            []string   `json:"tags"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`

	// AssignedAgent is only populated by listing queries.
	AssignedAgent *AgentRef `json:"assigned_agent,omitempty"`
}

// HistoryEntry is one append-only record of a task or agent state change.
type HistoryEntry struct {
	ID        string         `json:"id"`
	TaskID    *string        `json:"task_id,omitempty"`
	AgentID   *string        `json:"agent_id,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// ActivityEntry is a history entry enriched with whatever the joins could find.
type ActivityEntry struct {
	HistoryEntry
	AgentName *string `json:"agent_name,omitempty"`
	AgentRole *string `json:"agent_role,omitempty"`
	TaskTitle *string `json:"task_title,omitempty"`
}

// MemoryEntry is a note an agent leaves for its next wake.
type MemoryEntry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemEvent records agent-level occurrences that are not tied to a task.
type SystemEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	AgentID   *string        `json:"agent_id,omitempty"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Payload is what a cron job hands to its execution target.
type Payload struct {
	Kind    PayloadKind `json:"kind" yaml:"kind"`
	Message string      `json:"message" yaml:"message"`
}

// Delivery decides where a run's outcome is announced.
type Delivery struct {
	Mode    DeliveryMode `json:"mode" yaml:"mode"`
	Channel string       `json:"channel,omitempty" yaml:"channel,omitempty"`
	To      string       `json:"to,omitempty" yaml:"to,omitempty"`
}

// CronJob is a scheduled dispatch definition plus its mutable run state.
type CronJob struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Enabled       bool          `json:"enabled"`
	ScheduleKind  ScheduleKind  `json:"schedule_kind"`
	ScheduleExpr  string        `json:"schedule_expr"`
	Timezone      string        `json:"timezone"`
	SessionTarget SessionTarget `json:"session_target"`
	AgentID       *string       `json:"agent_id,omitempty"`
	Payload       Payload       `json:"payload"`
	Delivery      *Delivery     `json:"delivery,omitempty"`

	NextRunAt         *time.Time `json:"next_run_at,omitempty"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	LastStatus        *RunStatus `json:"last_status,omitempty"`
	LastDurationMs    *int64     `json:"last_duration_ms,omitempty"`
	LastError         *string    `json:"last_error,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CronRun is one firing of a cron job.
type CronRun struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Status        RunStatus  `json:"status"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	ResultSummary *string    `json:"result_summary,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CronJobResult is the run state written back to a job after a firing.
type CronJobResult struct {
	JobID             string
	Enabled           bool
	LastRunAt         time.Time
	LastStatus        RunStatus
	LastDurationMs    int64
	LastError         *string
	ConsecutiveErrors int
	NextRunAt         *time.Time
	UpdatedAt         time.Time
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	Status          *TaskStatus
	AssignedAgentID *string
	// ExcludeDone drops finished tasks, used when an agent wakes.
	ExcludeDone bool
}

// TaskStatusUpdate carries every column touched by a single status move.
type TaskStatusUpdate struct {
	ID          string
	Status      TaskStatus
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Notes       *string
	// AssignedAgentID is only written when non-nil.
	AssignedAgentID *string
}
