package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"missioncontrol/internal/notify"
)

// AuditReport is the outcome of one sweep.
type AuditReport struct {
	CheckedAt    time.Time `json:"checked_at"`
	StaleAgents  []*Agent  `json:"stale_agents"`
	StalledTasks []*Task   `json:"stalled_tasks"`
}

// Empty reports whether the sweep found nothing.
func (r AuditReport) Empty() bool {
	return len(r.StaleAgents) == 0 && len(r.StalledTasks) == 0
}

// Auditor scans for silent failures. It never mutates agents or tasks.
type Auditor struct {
	agents AgentStore
	tasks  TaskStore
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewAuditor constructs an auditor.
func NewAuditor(agents AgentStore, tasks TaskStore, clock clockwork.Clock, logger *slog.Logger) *Auditor {
	return &Auditor{agents: agents, tasks: tasks, clock: clockOrReal(clock), logger: logger}
}

// StaleAgents returns working agents whose last heartbeat is older than StaleAgentWindow.
func (a *Auditor) StaleAgents(ctx context.Context) []*Agent {
	cutoff := nowUTC(a.clock).Add(-StaleAgentWindow)
	agents, err := a.agents.ListStaleAgents(ctx, cutoff)
	if err != nil {
		a.logger.Error("audit stale agents", "err", err)
		return []*Agent{}
	}
	if agents == nil {
		return []*Agent{}
	}
	return agents
}

// StalledTasks returns in-progress tasks not updated within StalledTaskWindow.
func (a *Auditor) StalledTasks(ctx context.Context) []*Task {
	cutoff := nowUTC(a.clock).Add(-StalledTaskWindow)
	tasks, err := a.tasks.ListStalledTasks(ctx, cutoff)
	if err != nil {
		a.logger.Error("audit stalled tasks", "err", err)
		return []*Task{}
	}
	if tasks == nil {
		return []*Task{}
	}
	return tasks
}

// Sweep runs both scans.
func (a *Auditor) Sweep(ctx context.Context) AuditReport {
	return AuditReport{
		CheckedAt:    nowUTC(a.clock),
		StaleAgents:  a.StaleAgents(ctx),
		StalledTasks: a.StalledTasks(ctx),
	}
}

// AuditRunner runs the sweep on an interval and escalates findings.
type AuditRunner struct {
	auditor   *Auditor
	notifier  notify.Notifier
	logger    *slog.Logger
	interval  time.Duration
	scheduler gocron.Scheduler
}

// NewAuditRunner builds a runner backed by a gocron scheduler on the given clock.
func NewAuditRunner(auditor *Auditor, notifier notify.Notifier, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) (*AuditRunner, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: audit interval must be positive", ErrInvalidArgument)
	}
	if notifier == nil {
		notifier = &notify.NoOpNotifier{}
	}
	s, err := gocron.NewScheduler(gocron.WithClock(clockOrReal(clock)))
	if err != nil {
		return nil, fmt.Errorf("create audit scheduler: %w", err)
	}
	return &AuditRunner{
		auditor:   auditor,
		notifier:  notifier,
		logger:    logger,
		interval:  interval,
		scheduler: s,
	}, nil
}

// Start registers the sweep job and starts the scheduler. ctx bounds each sweep.
func (r *AuditRunner) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.RunOnce(ctx) }),
		gocron.WithName("audit-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule audit sweep: %w", err)
	}
	r.scheduler.Start()
	r.logger.Info("audit sweep scheduled", "interval", r.interval)
	return nil
}

// Stop shuts the scheduler down, waiting for a sweep in flight.
func (r *AuditRunner) Stop() error {
	return r.scheduler.Shutdown()
}

// RunOnce sweeps and notifies when something is stuck.
func (r *AuditRunner) RunOnce(ctx context.Context) AuditReport {
	report := r.auditor.Sweep(ctx)
	if report.Empty() {
		r.logger.Debug("audit sweep clean")
		return report
	}
	r.logger.Warn("audit sweep found stuck work", "stale_agents", len(report.StaleAgents), "stalled_tasks", len(report.StalledTasks))
	if err := r.notifier.Send(ctx, notify.Message{
		Title: "Mission control audit",
		Body:  FormatAuditReport(report),
	}); err != nil {
		r.logger.Error("send audit notification", "err", err)
	}
	return report
}

// FormatAuditReport renders a report as plain text.
func FormatAuditReport(report AuditReport) string {
	var b strings.Builder
	if len(report.StaleAgents) > 0 {
		fmt.Fprintf(&b, "%d stale agent(s):\n", len(report.StaleAgents))
		for _, a := range report.StaleAgents {
			fmt.Fprintf(&b, "- %s (last heartbeat %s)\n", a.Name, formatOptionalTime(a.LastHeartbeat))
		}
	}
	if len(report.StalledTasks) > 0 {
		fmt.Fprintf(&b, "%d stalled task(s):\n", len(report.StalledTasks))
		for _, t := range report.StalledTasks {
			fmt.Fprintf(&b, "- %s (updated %s)\n", t.Title, t.UpdatedAt.UTC().Format(time.RFC3339))
		}
	}
	if b.Len() == 0 {
		return "nothing stale"
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
