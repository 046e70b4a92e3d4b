package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"missioncontrol/internal/core"
)

const taskColumns = `t.id, t.title, t.description, t.status, t.priority, t.assigned_agent_id, t.tags, t.due_date, t.notes, t.created_at, t.updated_at, t.completed_at`

func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	tags, err := encodeJSON(nonNilStrings(task.Tags))
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, assigned_agent_id, tags, due_date, notes, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Title, nullableString(task.Description), task.Status, task.Priority,
		nullableString(task.AssignedAgentID), tags, nullableTime(task.DueDate), nullableString(task.Notes),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt), nullableTime(task.CompletedAt))
	return classify("insert task", err)
}

// UpdateTaskDefinition rewrites every column of a task except its id and created_at, used by seeding.
func (s *Store) UpdateTaskDefinition(ctx context.Context, task *core.Task) error {
	tags, err := encodeJSON(nonNilStrings(task.Tags))
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, status = ?, priority = ?, assigned_agent_id = ?, tags = ?, due_date = ?,
			notes = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`, task.Title, nullableString(task.Description), task.Status, task.Priority, nullableString(task.AssignedAgentID),
		tags, nullableTime(task.DueDate), nullableString(task.Notes), formatTime(task.UpdatedAt),
		nullableTime(task.CompletedAt), task.ID)
	if err != nil {
		return classify("update task", err)
	}
	return expectOne(res, "task", task.ID)
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, classify("get task "+id, err)
	}
	return task, nil
}

func (s *Store) GetTaskByTitle(ctx context.Context, title string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.title = ?`, title)
	task, err := scanTask(row)
	if err != nil {
		return nil, classify("get task "+title, err)
	}
	return task, nil
}

// ListTasks returns tasks newest first with the assigned agent joined.
func (s *Store) ListTasks(ctx context.Context, filter core.TaskFilter) ([]*core.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		where = append(where, "t.status = ?")
		args = append(args, *filter.Status)
	}
	if filter.AssignedAgentID != nil {
		where = append(where, "t.assigned_agent_id = ?")
		args = append(args, *filter.AssignedAgentID)
	}
	if filter.ExcludeDone {
		where = append(where, "t.status <> ?")
		args = append(args, core.TaskStatusDone)
	}
	query := `
		SELECT ` + taskColumns + `, a.id, a.name, a.role, a.status
		FROM tasks t
		LEFT JOIN agents a ON a.id = t.assigned_agent_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY t.created_at DESC, t.rowid DESC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query tasks", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTaskWithAgent(rows)
		if err != nil {
			return nil, classify("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query tasks", err)
	}
	return tasks, nil
}

func (s *Store) ListStalledTasks(ctx context.Context, updatedBefore time.Time) ([]*core.Task, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks t
		WHERE t.status = ? AND t.updated_at < ?
		ORDER BY t.updated_at
	`, core.TaskStatusInProgress, formatTime(updatedBefore))
	if err != nil {
		return nil, classify("query stalled tasks", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, classify("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query stalled tasks", err)
	}
	return tasks, nil
}

// UpdateTaskStatus writes a status move as one row update.
func (s *Store) UpdateTaskStatus(ctx context.Context, u core.TaskStatusUpdate) error {
	set := `status = ?, updated_at = ?, completed_at = ?, notes = ?`
	args := []any{u.Status, formatTime(u.UpdatedAt), nullableTime(u.CompletedAt), nullableString(u.Notes)}
	if u.AssignedAgentID != nil {
		set += `, assigned_agent_id = ?`
		args = append(args, *u.AssignedAgentID)
	}
	args = append(args, u.ID)
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return classify("update task status", err)
	}
	return expectOne(res, "task", u.ID)
}

func (s *Store) UpdateTaskAssignee(ctx context.Context, id string, agentID *string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks SET assigned_agent_id = ?, updated_at = ? WHERE id = ?
	`, nullableString(agentID), formatTime(at), id)
	if err != nil {
		return classify("update task assignee", err)
	}
	return expectOne(res, "task", id)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return classify("delete task", err)
	}
	return expectOne(res, "task", id)
}

func scanTaskFields(row scanner, extra ...any) (*core.Task, error) {
	var (
		task        core.Task
		description sql.NullString
		status      string
		priority    string
		assigned    sql.NullString
		tags        string
		dueDate     sql.NullString
		notes       sql.NullString
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	dest := []any{&task.ID, &task.Title, &description, &status, &priority, &assigned, &tags, &dueDate, &notes,
		&createdAt, &updatedAt, &completedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	task.Description = nullString(description)
	task.Status = core.TaskStatus(status)
	task.Priority = core.Priority(priority)
	task.AssignedAgentID = nullString(assigned)
	task.Tags = decodeStrings(tags)
	task.DueDate = parseNullTime(dueDate)
	task.Notes = nullString(notes)
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)
	task.CompletedAt = parseNullTime(completedAt)
	return &task, nil
}

func scanTask(row scanner) (*core.Task, error) {
	return scanTaskFields(row)
}

func scanTaskWithAgent(row scanner) (*core.Task, error) {
	var agentID, agentName, agentRole, agentStatus sql.NullString
	task, err := scanTaskFields(row, &agentID, &agentName, &agentRole, &agentStatus)
	if err != nil {
		return nil, err
	}
	if agentID.Valid {
		task.AssignedAgent = &core.AgentRef{
			ID:     agentID.String,
			Name:   agentName.String,
			Role:   nullString(agentRole),
			Status: core.AgentStatus(agentStatus.String),
		}
	}
	return task, nil
}
