package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"missioncontrol/internal/core"
)

func (s *MCPServer) handleWake(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := mcp.ParseString(request, "agent_id", "")
	state, err := s.Liveness.Wake(ctx, agentID)
	if err != nil {
		return toolError("wake failed", err), nil
	}

	result := fmt.Sprintf("%s is %s\n", state.Agent.Name, state.Agent.Status.Label())
	if len(state.Tasks) == 0 {
		result += "\nNo open tasks.\n"
	} else {
		result += fmt.Sprintf("\n%d open task(s):\n", len(state.Tasks))
		for _, t := range state.Tasks {
			result += formatTaskLine(t)
		}
	}
	if len(state.Memory) > 0 {
		result += "\nRecent memory:\n"
		for _, m := range state.Memory {
			result += fmt.Sprintf("  [%s] %s: %s\n", formatTime(&m.CreatedAt), m.Kind, truncateString(m.Content, 120))
		}
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleHeartbeat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := mcp.ParseString(request, "agent_id", "")
	if err := s.Liveness.Heartbeat(ctx, agentID, mcp.ParseString(request, "note", "")); err != nil {
		return toolError("heartbeat failed", err), nil
	}
	return mcp.NewToolResultText("Heartbeat recorded"), nil
}

func (s *MCPServer) handleReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := mcp.ParseString(request, "agent_id", "")
	if err := s.Liveness.Report(ctx, agentID, mcp.ParseString(request, "summary", "")); err != nil {
		return toolError("report failed", err), nil
	}
	return mcp.NewToolResultText("Report recorded; agent is idle"), nil
}

func (s *MCPServer) handleTaskStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.moveTask(ctx, request, core.TaskStatusInProgress, core.MoveOptions{})
}

func (s *MCPServer) handleTaskComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.moveTask(ctx, request, core.TaskStatusDone, core.MoveOptions{
		Result: parseResult(mcp.ParseString(request, "result", "")),
	})
}

func (s *MCPServer) handleTaskBlock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.moveTask(ctx, request, core.TaskStatusBlocked, core.MoveOptions{
		Reason: mcp.ParseString(request, "reason", ""),
	})
}

func (s *MCPServer) moveTask(ctx context.Context, request mcp.CallToolRequest, status core.TaskStatus, opts core.MoveOptions) (*mcp.CallToolResult, error) {
	opts.AgentID = mcp.ParseString(request, "agent_id", "")
	taskID := mcp.ParseString(request, "task_id", "")
	task, err := s.Tasks.MoveTask(ctx, taskID, status, opts)
	if err != nil {
		return toolError("move task failed", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s is now %s", task.Title, task.Status.Label())), nil
}

func (s *MCPServer) handleTaskList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var filter core.TaskFilter
	if statusStr := mcp.ParseString(request, "status", ""); statusStr != "" {
		status := core.TaskStatus(statusStr)
		if !status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", statusStr)), nil
		}
		filter.Status = &status
	}
	if agentID := mcp.ParseString(request, "agent_id", ""); agentID != "" {
		filter.AssignedAgentID = &agentID
	}

	tasks := s.Ledger.ListTasks(ctx, filter)
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}
	result := fmt.Sprintf("Found %d task(s):\n\n", len(tasks))
	for _, t := range tasks {
		result += formatTaskLine(t)
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleActivity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(mcp.ParseFloat64(request, "limit", core.DefaultActivityLimit))
	entries := s.Ledger.RecentActivity(ctx, limit)
	if len(entries) == 0 {
		return mcp.NewToolResultText("No activity yet"), nil
	}
	var b strings.Builder
	for _, e := range entries {
		who := "-"
		if e.AgentName != nil {
			who = *e.AgentName
		}
		fmt.Fprintf(&b, "[%s] %s %s", formatTime(&e.CreatedAt), who, e.Action)
		if e.TaskTitle != nil {
			fmt.Fprintf(&b, " %q", *e.TaskTitle)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.Cron.ListCronJobs(ctx, mcp.ParseBoolean(request, "enabled_only", false))
	if err != nil {
		s.Logger.Error("list cron jobs", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list jobs: %v", err)), nil
	}
	if len(jobs) == 0 {
		return mcp.NewToolResultText("No jobs found"), nil
	}
	result := fmt.Sprintf("Found %d job(s):\n\n", len(jobs))
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		result += fmt.Sprintf("%s (%s)\n", j.Name, state)
		result += fmt.Sprintf("  ID: %s\n", j.ID)
		result += fmt.Sprintf("  Schedule: %s %s\n", j.ScheduleKind, j.ScheduleExpr)
		if j.NextRunAt != nil {
			result += fmt.Sprintf("  Next run: %s\n", formatTime(j.NextRunAt))
		}
		if j.LastStatus != nil {
			result += fmt.Sprintf("  Last run: %s (%s)\n", formatTime(j.LastRunAt), j.LastStatus.Label())
		}
		if j.ConsecutiveErrors > 0 {
			result += fmt.Sprintf("  Consecutive errors: %d\n", j.ConsecutiveErrors)
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleRunJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	run, err := s.Scheduler.RunNow(ctx, jobID)
	if err != nil {
		return toolError("run job failed", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Job started\nRun ID: %s\nStarted: %s", run.ID, formatTime(&run.StartedAt))), nil
}

func (s *MCPServer) handleCronPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := core.ScheduleKind(mcp.ParseString(request, "kind", string(core.ScheduleCron)))
	expr := strings.TrimSpace(mcp.ParseString(request, "expr", ""))
	tz := mcp.ParseString(request, "tz", s.Location.String())
	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 10 {
		count = 5
	}

	now := s.Clock.Now().UTC()
	if err := core.ValidateSchedule(kind, expr, tz, now); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid schedule: %v", err)), nil
	}
	job := &core.CronJob{Enabled: true, ScheduleKind: kind, ScheduleExpr: expr, Timezone: tz}
	result := "Next fire times:\n"
	for i := 0; i < count; i++ {
		next, ok, err := core.NextFire(job, now)
		if err != nil || !ok {
			break
		}
		result += fmt.Sprintf("  %d. %s\n", i+1, next.In(s.Location).Format("2006-01-02 15:04:05 MST"))
		job.LastRunAt = &next
	}
	return mcp.NewToolResultText(result), nil
}

func toolError(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// parseResult accepts a JSON object or falls back to wrapping plain text.
func parseResult(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj
	}
	return map[string]any{"summary": raw}
}

func formatTaskLine(t *core.Task) string {
	line := fmt.Sprintf("  - [%s] %s (%s priority) %s\n", t.Status.Label(), t.Title, t.Priority.Label(), t.ID)
	if t.AssignedAgent != nil {
		line += fmt.Sprintf("    Assignee: %s (%s)\n", t.AssignedAgent.Name, t.AssignedAgent.Status.Label())
	}
	return line
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
