package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// History action tags written by the task manager and liveness tracker.
const (
	ActionStarted   = "started"
	ActionCompleted = "completed"
	ActionBlocked   = "blocked"
	ActionWake      = "wake"
	ActionIdle      = "idle"
)

// NewTask is the input for CreateTask.
type NewTask struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// MoveOptions carries the context of a status move.
type MoveOptions struct {
	// AgentID is the acting agent, if any. On a move to in_progress it takes ownership.
	AgentID string
	// Result is attached to the "completed" history entry.
	Result map[string]any
	// Reason is stored in notes on a move to blocked.
	Reason string
}

// TaskManager applies task state transitions and writes their history.
type TaskManager struct {
	tasks   TaskStore
	agents  AgentStore
	history HistoryStore
	clock   clockwork.Clock
	logger  *slog.Logger
}

// NewTaskManager constructs a TaskManager. A nil clock uses the real clock.
func NewTaskManager(tasks TaskStore, agents AgentStore, history HistoryStore, clock clockwork.Clock, logger *slog.Logger) *TaskManager {
	return &TaskManager{
		tasks:   tasks,
		agents:  agents,
		history: history,
		clock:   clockOrReal(clock),
		logger:  logger,
	}
}

// CreateTask inserts a backlog task. The title is the natural key.
func (m *TaskManager) CreateTask(ctx context.Context, in NewTask) (*Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: priority %q", ErrInvalidArgument, priority)
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	now := nowUTC(m.clock)
	task := &Task{
		ID:          NewID(),
		Title:       title,
		Description: in.Description,
		Status:      TaskStatusBacklog,
		Priority:    priority,
		Tags:        tags,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.tasks.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task created", "task_id", task.ID, "title", task.Title)
	return task, nil
}

// GetTask returns a single task.
func (m *TaskManager) GetTask(ctx context.Context, id string) (*Task, error) {
	return m.tasks.GetTask(ctx, id)
}

// MoveTask moves a task to status and applies the side effects of entering (and leaving) a column.
// Moving a task to the status it already has is a no-op.
func (m *TaskManager) MoveTask(ctx context.Context, id string, status TaskStatus, opts MoveOptions) (*Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	task, err := m.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == status {
		return task, nil
	}

	now := nowUTC(m.clock)
	previous := task.Status
	update := TaskStatusUpdate{
		ID:        task.ID,
		Status:    status,
		UpdatedAt: now,
	}
	action := string(status)
	details := map[string]any{"from": string(previous), "to": string(status)}

	owner := task.AssignedAgentID
	switch status {
	case TaskStatusInProgress:
		if opts.AgentID != "" {
			if _, err := m.agents.GetAgent(ctx, opts.AgentID); err != nil {
				return nil, err
			}
			owner = ptrString(opts.AgentID)
			update.AssignedAgentID = owner
		}
		action = ActionStarted
	case TaskStatusDone:
		update.CompletedAt = ptrTime(now)
		action = ActionCompleted
		if opts.Result != nil {
			details["result"] = opts.Result
		}
	case TaskStatusBlocked:
		update.Notes = ptrString(opts.Reason)
		action = ActionBlocked
		details["reason"] = opts.Reason
	}

	if err := m.tasks.UpdateTaskStatus(ctx, update); err != nil {
		return nil, err
	}
	task.Status = status
	task.UpdatedAt = now
	task.CompletedAt = update.CompletedAt
	task.Notes = update.Notes
	task.AssignedAgentID = owner

	actor := owner
	if opts.AgentID != "" {
		actor = ptrString(opts.AgentID)
	}
	m.appendHistory(ctx, &HistoryEntry{
		ID:        NewID(),
		TaskID:    ptrString(task.ID),
		AgentID:   actor,
		Action:    action,
		Details:   details,
		CreatedAt: now,
	})

	switch {
	case status == TaskStatusInProgress && owner != nil:
		if err := m.agents.SetAgentCurrentTask(ctx, *owner, task.ID, now); err != nil {
			m.logger.Warn("set agent current task", "agent_id", *owner, "task_id", task.ID, "err", err)
		}
	case previous == TaskStatusInProgress && owner != nil:
		if err := m.agents.ClearAgentCurrentTask(ctx, *owner, task.ID, now); err != nil {
			m.logger.Warn("clear agent current task", "agent_id", *owner, "task_id", task.ID, "err", err)
		}
	}

	m.logger.Info("task moved", "task_id", task.ID, "from", previous, "to", status)
	return task, nil
}

// AssignTask sets or clears the assignee. It writes no history.
func (m *TaskManager) AssignTask(ctx context.Context, id string, agentID *string) (*Task, error) {
	task, err := m.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if agentID != nil {
		if _, err := m.agents.GetAgent(ctx, *agentID); err != nil {
			return nil, err
		}
	}
	now := nowUTC(m.clock)
	if err := m.tasks.UpdateTaskAssignee(ctx, id, agentID, now); err != nil {
		return nil, err
	}
	task.AssignedAgentID = agentID
	task.UpdatedAt = now
	return task, nil
}

// DeleteTask removes a task. Its history stays in the ledger.
func (m *TaskManager) DeleteTask(ctx context.Context, id string) error {
	if err := m.tasks.DeleteTask(ctx, id); err != nil {
		return err
	}
	m.logger.Info("task deleted", "task_id", id)
	return nil
}

// TaskHistory returns the history of one task, oldest first.
func (m *TaskManager) TaskHistory(ctx context.Context, id string) ([]*HistoryEntry, error) {
	if _, err := m.tasks.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return m.history.ListTaskHistory(ctx, id)
}

// appendHistory is best effort: the state change already happened and a lost entry only
// shows up later as staleness in the audit sweep.
func (m *TaskManager) appendHistory(ctx context.Context, entry *HistoryEntry) {
	if err := m.history.InsertHistory(ctx, entry); err != nil {
		m.logger.Error("append task history", "task_id", derefString(entry.TaskID), "action", entry.Action, "err", err)
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
