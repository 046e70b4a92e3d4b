package mcp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"missioncontrol/internal/core"
)

const (
	serverName    = "missioncontrol"
	serverVersion = "1.0.0"
)

// Deps are the services the tools call into.
type Deps struct {
	Tasks     *core.TaskManager
	Liveness  *core.Liveness
	Ledger    *core.Ledger
	Scheduler *core.Scheduler
	Cron      core.CronStore
	Logger    *slog.Logger
	Location  *time.Location
	Clock     clockwork.Clock
}

// MCPServer exposes the agent write API and a few read helpers as MCP tools.
type MCPServer struct {
	Deps
	srv *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(deps Deps) *MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	s := &MCPServer{
		Deps: deps,
		srv:  server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(true)),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.Logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.srv)
}

// Handler serves MCP over streamable HTTP, for mounting at /mcp.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.srv)
}

func (s *MCPServer) registerTools() {
	s.srv.AddTool(mcp.NewTool("agent_wake",
		mcp.WithDescription("Load an agent's open tasks and recent memory and mark it working"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent ID")),
	), s.handleWake)

	s.srv.AddTool(mcp.NewTool("agent_heartbeat",
		mcp.WithDescription("Record a heartbeat note; agent status is unchanged"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent ID")),
		mcp.WithString("note", mcp.Description("What the agent is doing")),
	), s.handleHeartbeat)

	s.srv.AddTool(mcp.NewTool("agent_report",
		mcp.WithDescription("Record the closing summary and put the agent back to idle"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent ID")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Summary of the session")),
	), s.handleReport)

	s.srv.AddTool(mcp.NewTool("task_start",
		mcp.WithDescription("Move a task to in_progress and take ownership of it"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent ID")),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	), s.handleTaskStart)

	s.srv.AddTool(mcp.NewTool("task_complete",
		mcp.WithDescription("Move a task to done"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent ID")),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
		mcp.WithString("result", mcp.Description("Result as a JSON object or plain text")),
	), s.handleTaskComplete)

	s.srv.AddTool(mcp.NewTool("task_block",
		mcp.WithDescription("Move a task to blocked with a reason"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent ID")),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why the task cannot proceed")),
	), s.handleTaskBlock)

	s.srv.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List tasks, newest first"),
		mcp.WithString("status",
			mcp.Description("Filter by status"),
			mcp.Enum(taskStatusNames()...),
		),
		mcp.WithString("agent_id", mcp.Description("Filter by assignee")),
	), s.handleTaskList)

	s.srv.AddTool(mcp.NewTool("activity_recent",
		mcp.WithDescription("Most recent history entries across all tasks and agents"),
		mcp.WithNumber("limit",
			mcp.Description("Number of entries, default 20"),
			mcp.Min(1),
			mcp.Max(core.MaxActivityLimit),
		),
	), s.handleActivity)

	s.srv.AddTool(mcp.NewTool("cron_list_jobs",
		mcp.WithDescription("List scheduled jobs"),
		mcp.WithBoolean("enabled_only", mcp.Description("Only enabled jobs")),
	), s.handleListJobs)

	s.srv.AddTool(mcp.NewTool("cron_run_job",
		mcp.WithDescription("Fire a job now, outside its schedule"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID")),
	), s.handleRunJob)

	s.srv.AddTool(mcp.NewTool("cron_preview",
		mcp.WithDescription("Preview the next fire times of a schedule"),
		mcp.WithString("kind",
			mcp.Description("Schedule kind, default cron"),
			mcp.Enum(string(core.ScheduleCron), string(core.ScheduleEvery), string(core.ScheduleAt)),
		),
		mcp.WithString("expr", mcp.Required(), mcp.Description("Cron expression, interval in ms, or RFC3339 timestamp")),
		mcp.WithString("tz", mcp.Description("IANA timezone for cron expressions")),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleCronPreview)

	s.Logger.Info("MCP tools registered", "count", 11)
}

func taskStatusNames() []string {
	names := make([]string, 0, len(core.TaskStatuses))
	for _, st := range core.TaskStatuses {
		names = append(names, string(st))
	}
	return names
}
