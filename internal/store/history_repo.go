package store

import (
	"context"
	"database/sql"

	"missioncontrol/internal/core"
)

func (s *Store) InsertHistory(ctx context.Context, entry *core.HistoryEntry) error {
	details, err := encodeJSON(nonNilObject(entry.Details))
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO task_history (id, task_id, agent_id, action, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, nullableString(entry.TaskID), nullableString(entry.AgentID), entry.Action, details,
		formatTime(entry.CreatedAt))
	return classify("insert task history", err)
}

// ListTaskHistory returns one task's entries in insertion order.
func (s *Store) ListTaskHistory(ctx context.Context, taskID string) ([]*core.HistoryEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, agent_id, action, details, created_at
		FROM task_history
		WHERE task_id = ?
		ORDER BY created_at, rowid
	`, taskID)
	if err != nil {
		return nil, classify("query task history", err)
	}
	defer rows.Close()
	var entries []*core.HistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, classify("scan task history", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query task history", err)
	}
	return entries, nil
}

// RecentActivity returns the newest entries with a best-effort join on agents and tasks.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]*core.ActivityEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT h.id, h.task_id, h.agent_id, h.action, h.details, h.created_at, a.name, a.role, t.title
		FROM task_history h
		LEFT JOIN agents a ON a.id = h.agent_id
		LEFT JOIN tasks t ON t.id = h.task_id
		ORDER BY h.created_at DESC, h.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify("query recent activity", err)
	}
	defer rows.Close()
	var entries []*core.ActivityEntry
	for rows.Next() {
		var agentName, agentRole, taskTitle sql.NullString
		entry, err := scanHistory(rows, &agentName, &agentRole, &taskTitle)
		if err != nil {
			return nil, classify("scan recent activity", err)
		}
		entries = append(entries, &core.ActivityEntry{
			HistoryEntry: *entry,
			AgentName:    nullString(agentName),
			AgentRole:    nullString(agentRole),
			TaskTitle:    nullString(taskTitle),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query recent activity", err)
	}
	return entries, nil
}

func (s *Store) InsertMemory(ctx context.Context, entry *core.MemoryEntry) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO agent_memory (id, agent_id, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ID, entry.AgentID, entry.Kind, entry.Content, formatTime(entry.CreatedAt))
	return classify("insert agent memory", err)
}

// RecentMemory returns an agent's newest memory entries first.
func (s *Store) RecentMemory(ctx context.Context, agentID string, limit int) ([]*core.MemoryEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, agent_id, kind, content, created_at
		FROM agent_memory
		WHERE agent_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, classify("query agent memory", err)
	}
	defer rows.Close()
	var entries []*core.MemoryEntry
	for rows.Next() {
		var (
			entry     core.MemoryEntry
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.AgentID, &entry.Kind, &entry.Content, &createdAt); err != nil {
			return nil, classify("scan agent memory", err)
		}
		entry.CreatedAt = parseTime(createdAt)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query agent memory", err)
	}
	return entries, nil
}

func (s *Store) InsertSystemEvent(ctx context.Context, event *core.SystemEvent) error {
	data, err := encodeJSON(nonNilObject(event.Data))
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO system_events (id, type, agent_id, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, event.Type, nullableString(event.AgentID), data, formatTime(event.CreatedAt))
	return classify("insert system event", err)
}

func scanHistory(row scanner, extra ...any) (*core.HistoryEntry, error) {
	var (
		entry     core.HistoryEntry
		taskID    sql.NullString
		agentID   sql.NullString
		details   string
		createdAt string
	)
	dest := append([]any{&entry.ID, &taskID, &agentID, &entry.Action, &details, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	entry.TaskID = nullString(taskID)
	entry.AgentID = nullString(agentID)
	entry.Details = decodeObject(details)
	entry.CreatedAt = parseTime(createdAt)
	return &entry, nil
}

func nonNilObject(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
