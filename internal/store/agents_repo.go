package store

import (
	"context"
	"database/sql"
	"time"

	"missioncontrol/internal/core"
)

const agentColumns = `id, name, role, capabilities, status, last_heartbeat, current_task_id, memory_path, created_at, updated_at`

func (s *Store) InsertAgent(ctx context.Context, agent *core.Agent) error {
	caps, err := encodeJSON(nonNilStrings(agent.Capabilities))
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.Name, nullableString(agent.Role), caps, agent.Status,
		nullableTime(agent.LastHeartbeat), nullableString(agent.CurrentTaskID), nullableString(agent.MemoryPath),
		formatTime(agent.CreatedAt), formatTime(agent.UpdatedAt))
	return classify("insert agent", err)
}

// UpdateAgentProfile rewrites the descriptive columns of an agent, used by seeding.
func (s *Store) UpdateAgentProfile(ctx context.Context, agent *core.Agent) error {
	caps, err := encodeJSON(nonNilStrings(agent.Capabilities))
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE agents
		SET name = ?, role = ?, capabilities = ?, status = ?, memory_path = ?, updated_at = ?
		WHERE id = ?
	`, agent.Name, nullableString(agent.Role), caps, agent.Status, nullableString(agent.MemoryPath),
		formatTime(agent.UpdatedAt), agent.ID)
	if err != nil {
		return classify("update agent", err)
	}
	return expectOne(res, "agent", agent.ID)
}

func (s *Store) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if err != nil {
		return nil, classify("get agent "+id, err)
	}
	return agent, nil
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (*core.Agent, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = ?`, name)
	agent, err := scanAgent(row)
	if err != nil {
		return nil, classify("get agent "+name, err)
	}
	return agent, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]*core.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name`)
}

func (s *Store) ListStaleAgents(ctx context.Context, heartbeatBefore time.Time) ([]*core.Agent, error) {
	return s.queryAgents(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?
		ORDER BY last_heartbeat
	`, core.AgentStatusWorking, formatTime(heartbeatBefore))
}

func (s *Store) MarkAgentAwake(ctx context.Context, id string, at time.Time) error {
	return s.updateAgent(ctx, id, `status = ?, last_heartbeat = ?, updated_at = ?`,
		core.AgentStatusWorking, formatTime(at), formatTime(at))
}

func (s *Store) TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error {
	return s.updateAgent(ctx, id, `last_heartbeat = ?, updated_at = ?`, formatTime(at), formatTime(at))
}

func (s *Store) MarkAgentIdle(ctx context.Context, id string, at time.Time) error {
	return s.updateAgent(ctx, id, `status = ?, current_task_id = NULL, last_heartbeat = ?, updated_at = ?`,
		core.AgentStatusIdle, formatTime(at), formatTime(at))
}

// SetAgentStatus sets a status other than working, which also drops the current task.
func (s *Store) SetAgentStatus(ctx context.Context, id string, status core.AgentStatus, at time.Time) error {
	if status == core.AgentStatusWorking {
		return s.updateAgent(ctx, id, `status = ?, updated_at = ?`, status, formatTime(at))
	}
	return s.updateAgent(ctx, id, `status = ?, current_task_id = NULL, updated_at = ?`, status, formatTime(at))
}

func (s *Store) SetAgentCurrentTask(ctx context.Context, agentID, taskID string, at time.Time) error {
	return s.updateAgent(ctx, agentID, `current_task_id = ?, status = ?, updated_at = ?`,
		taskID, core.AgentStatusWorking, formatTime(at))
}

// ClearAgentCurrentTask clears current_task_id only if it still points at taskID.
func (s *Store) ClearAgentCurrentTask(ctx context.Context, agentID, taskID string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE agents SET current_task_id = NULL, updated_at = ?
		WHERE id = ? AND current_task_id = ?
	`, formatTime(at), agentID, taskID)
	return classify("clear agent current task", err)
}

func (s *Store) updateAgent(ctx context.Context, id, set string, args ...any) error {
	args = append(args, id)
	res, err := s.DB.ExecContext(ctx, `UPDATE agents SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return classify("update agent", err)
	}
	return expectOne(res, "agent", id)
}

func (s *Store) queryAgents(ctx context.Context, query string, args ...any) ([]*core.Agent, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query agents", err)
	}
	defer rows.Close()
	var agents []*core.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, classify("scan agent", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query agents", err)
	}
	return agents, nil
}

func scanAgent(row scanner) (*core.Agent, error) {
	var (
		agent       core.Agent
		role        sql.NullString
		caps        string
		status      string
		heartbeat   sql.NullString
		currentTask sql.NullString
		memoryPath  sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(&agent.ID, &agent.Name, &role, &caps, &status, &heartbeat, &currentTask, &memoryPath, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	agent.Role = nullString(role)
	agent.Capabilities = decodeStrings(caps)
	agent.Status = core.AgentStatus(status)
	agent.LastHeartbeat = parseNullTime(heartbeat)
	agent.CurrentTaskID = nullString(currentTask)
	agent.MemoryPath = nullString(memoryPath)
	agent.CreatedAt = parseTime(createdAt)
	agent.UpdatedAt = parseTime(updatedAt)
	return &agent, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
