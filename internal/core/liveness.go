package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// WakeMemoryLimit is how many memory entries Wake hands back.
const WakeMemoryLimit = 5

// Memory kinds written by the liveness tracker.
const (
	MemoryHeartbeat = "heartbeat"
	MemoryReport    = "report"
)

// SystemEventAgentReport is the system event type appended by Report.
const SystemEventAgentReport = "agent_report"

// WakeState is everything an agent needs to resume work.
type WakeState struct {
	Agent  *Agent         `json:"agent"`
	Tasks  []*Task        `json:"tasks"`
	Memory []*MemoryEntry `json:"memory"`
}

// AgentView pairs an agent with its derived activity.
type AgentView struct {
	*Agent
	Active bool `json:"active"`
}

// IsActive reports whether the agent's last heartbeat is younger than ActiveWindow.
// It is independent of the agent's status.
func IsActive(agent *Agent, now time.Time) bool {
	if agent == nil || agent.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*agent.LastHeartbeat) < ActiveWindow
}

// Liveness records heartbeats and drives agent status transitions.
type Liveness struct {
	agents  AgentStore
	tasks   TaskStore
	history HistoryStore
	memory  MemoryStore
	clock   clockwork.Clock
	logger  *slog.Logger
}

// NewLiveness constructs a liveness tracker.
func NewLiveness(agents AgentStore, tasks TaskStore, history HistoryStore, memory MemoryStore, clock clockwork.Clock, logger *slog.Logger) *Liveness {
	return &Liveness{
		agents:  agents,
		tasks:   tasks,
		history: history,
		memory:  memory,
		clock:   clockOrReal(clock),
		logger:  logger,
	}
}

// Wake loads the agent's open tasks and recent memory and marks it working.
// A store failure while loading returns ErrLoad: the caller has no state, the agent is not dead.
func (l *Liveness) Wake(ctx context.Context, agentID string) (*WakeState, error) {
	agent, err := l.agents.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: agent %s: %w", ErrLoad, agentID, err)
	}
	tasks, err := l.tasks.ListTasks(ctx, TaskFilter{AssignedAgentID: &agentID, ExcludeDone: true})
	if err != nil {
		return nil, fmt.Errorf("%w: tasks for %s: %w", ErrLoad, agentID, err)
	}
	memory, err := l.memory.RecentMemory(ctx, agentID, WakeMemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: memory for %s: %w", ErrLoad, agentID, err)
	}

	now := nowUTC(l.clock)
	if err := l.agents.MarkAgentAwake(ctx, agentID, now); err != nil {
		return nil, err
	}
	agent.Status = AgentStatusWorking
	agent.LastHeartbeat = ptrTime(now)
	agent.UpdatedAt = now

	l.appendHistory(ctx, agentID, ActionWake, map[string]any{"open_tasks": len(tasks)}, now)
	l.logger.Info("agent woke", "agent_id", agentID, "open_tasks", len(tasks), "memory", len(memory))

	if tasks == nil {
		tasks = []*Task{}
	}
	if memory == nil {
		memory = []*MemoryEntry{}
	}
	return &WakeState{Agent: agent, Tasks: tasks, Memory: memory}, nil
}

// Heartbeat stores a heartbeat note and refreshes last_heartbeat. Status is left alone.
func (l *Liveness) Heartbeat(ctx context.Context, agentID, note string) error {
	now := nowUTC(l.clock)
	if err := l.agents.TouchAgentHeartbeat(ctx, agentID, now); err != nil {
		return err
	}
	if err := l.memory.InsertMemory(ctx, &MemoryEntry{
		ID:        NewID(),
		AgentID:   agentID,
		Kind:      MemoryHeartbeat,
		Content:   note,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	l.logger.Debug("agent heartbeat", "agent_id", agentID)
	return nil
}

// Report records the agent's closing summary and puts it back to idle.
func (l *Liveness) Report(ctx context.Context, agentID, summary string) error {
	if _, err := l.agents.GetAgent(ctx, agentID); err != nil {
		return err
	}
	now := nowUTC(l.clock)
	if err := l.memory.InsertMemory(ctx, &MemoryEntry{
		ID:        NewID(),
		AgentID:   agentID,
		Kind:      MemoryReport,
		Content:   summary,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := l.agents.MarkAgentIdle(ctx, agentID, now); err != nil {
		return err
	}
	if err := l.memory.InsertSystemEvent(ctx, &SystemEvent{
		ID:        NewID(),
		Type:      SystemEventAgentReport,
		AgentID:   ptrString(agentID),
		Data:      map[string]any{"summary": summary},
		CreatedAt: now,
	}); err != nil {
		l.logger.Error("append system event", "agent_id", agentID, "err", err)
	}
	l.appendHistory(ctx, agentID, ActionIdle, map[string]any{"summary": summary}, now)
	l.logger.Info("agent reported", "agent_id", agentID)
	return nil
}

// MarkStatus lets an operator flag an agent offline or in error.
func (l *Liveness) MarkStatus(ctx context.Context, agentID string, status AgentStatus, reason string) error {
	switch status {
	case AgentStatusOffline, AgentStatusError:
	case AgentStatusIdle, AgentStatusWorking:
		return fmt.Errorf("%w: %s is set through wake or report", ErrInvalidArgument, status)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	now := nowUTC(l.clock)
	if err := l.agents.SetAgentStatus(ctx, agentID, status, now); err != nil {
		return err
	}
	details := map[string]any{}
	if reason != "" {
		details["reason"] = reason
	}
	l.appendHistory(ctx, agentID, string(status), details, now)
	l.logger.Warn("agent status set", "agent_id", agentID, "status", status, "reason", reason)
	return nil
}

func (l *Liveness) appendHistory(ctx context.Context, agentID, action string, details map[string]any, at time.Time) {
	err := l.history.InsertHistory(ctx, &HistoryEntry{
		ID:        NewID(),
		AgentID:   ptrString(agentID),
		Action:    action,
		Details:   details,
		CreatedAt: at,
	})
	if err != nil {
		l.logger.Error("append agent history", "agent_id", agentID, "action", action, "err", err)
	}
}
