// Package seed loads agents, tasks and cron jobs from a YAML document, or agents and tasks from
// a Markdown board and agent registry, and upserts them by natural key: agents by name, tasks by
// title, cron jobs by name.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"missioncontrol/internal/core"
	"missioncontrol/internal/validation"
)

// AgentDoc is one agent row in a seed file.
type AgentDoc struct {
	Name         string           `yaml:"name"`
	Role         string           `yaml:"role,omitempty"`
	Capabilities []string         `yaml:"capabilities,omitempty"`
	Status       core.AgentStatus `yaml:"status,omitempty"`
	MemoryPath   string           `yaml:"memory_path,omitempty"`
}

// TaskDoc is one task row. Owner is an agent name.
type TaskDoc struct {
	Title       string          `yaml:"title"`
	Description string          `yaml:"description,omitempty"`
	Status      core.TaskStatus `yaml:"status,omitempty"`
	Priority    core.Priority   `yaml:"priority,omitempty"`
	Owner       string          `yaml:"owner,omitempty"`
	Tags        []string        `yaml:"tags,omitempty"`
	Notes       string          `yaml:"notes,omitempty"`
}

// Document is a whole seed file. Cron jobs stay untyped until schema validation.
type Document struct {
	Agents   []AgentDoc       `yaml:"agents"`
	Tasks    []TaskDoc        `yaml:"tasks"`
	CronJobs []map[string]any `yaml:"cron_jobs"`
}

// Load reads a seed document from path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &doc, nil
}

// Store is what a live seed writes through.
type Store interface {
	InsertAgent(ctx context.Context, agent *core.Agent) error
	UpdateAgentProfile(ctx context.Context, agent *core.Agent) error
	GetAgentByName(ctx context.Context, name string) (*core.Agent, error)
	InsertTask(ctx context.Context, task *core.Task) error
	UpdateTaskDefinition(ctx context.Context, task *core.Task) error
	GetTaskByTitle(ctx context.Context, title string) (*core.Task, error)
	GetCronJobByName(ctx context.Context, name string) (*core.CronJob, error)
}

// Jobs creates and updates cron jobs; *core.Scheduler satisfies it.
type Jobs interface {
	CreateJob(ctx context.Context, job *core.CronJob) error
	UpdateJob(ctx context.Context, job *core.CronJob) error
}

// RowError records one failed row.
type RowError struct {
	Kind string
	Key  string
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Key, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Report counts what a seed did, or would do in a dry run.
type Report struct {
	DryRun   bool
	Planned  int
	Inserted int
	Updated  int
	Failed   int
	Errors   []RowError
}

func (r *Report) fail(kind, key string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, RowError{Kind: kind, Key: key, Err: err})
}

// Seeder applies documents.
type Seeder struct {
	store  Store
	jobs   Jobs
	clock  clockwork.Clock
	logger *slog.Logger
	out    io.Writer
}

// Options wires a Seeder. Store and Jobs may be nil for dry runs.
type Options struct {
	Store  Store
	Jobs   Jobs
	Clock  clockwork.Clock
	Logger *slog.Logger
	// Out receives one line per row.
	Out io.Writer
}

// New constructs a Seeder.
func New(opts Options) *Seeder {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Seeder{store: opts.Store, jobs: opts.Jobs, clock: opts.Clock, logger: opts.Logger, out: opts.Out}
}

// DryRun validates every row and reports what would be written. The store is never touched.
func (s *Seeder) DryRun(doc *Document) Report {
	report := Report{DryRun: true}
	known := make(map[string]bool, len(doc.Agents))

	for _, a := range doc.Agents {
		if err := checkAgent(a); err != nil {
			report.fail("agent", a.Name, err)
			continue
		}
		known[a.Name] = true
		report.Planned++
		fmt.Fprintf(s.out, "[dry-run] agent %s\n", a.Name)
	}
	for _, t := range doc.Tasks {
		if err := checkTask(t); err != nil {
			report.fail("task", t.Title, err)
			continue
		}
		report.Planned++
		owner := ""
		if t.Owner != "" {
			owner = " (" + t.Owner + ")"
			if !known[t.Owner] {
				owner += " owner not in this file"
			}
		}
		fmt.Fprintf(s.out, "[dry-run] task [%s] %s%s\n", taskStatus(t), t.Title, owner)
	}
	for _, raw := range doc.CronJobs {
		def, err := s.checkJob(raw)
		if err != nil {
			report.fail("cron job", jobName(raw), err)
			continue
		}
		report.Planned++
		fmt.Fprintf(s.out, "[dry-run] cron job %s (%s)\n", def.Name, def.Schedule.Kind)
	}
	return report
}

// Apply upserts every row, continuing past failures.
func (s *Seeder) Apply(ctx context.Context, doc *Document) Report {
	var report Report
	if s.store == nil || s.jobs == nil {
		report.fail("seed", "", errors.New("no store configured"))
		return report
	}
	for _, a := range doc.Agents {
		s.record(&report, "agent", a.Name, s.upsertAgent(ctx, a))
	}
	for _, t := range doc.Tasks {
		s.record(&report, "task", t.Title, s.upsertTask(ctx, t))
	}
	for _, raw := range doc.CronJobs {
		s.record(&report, "cron job", jobName(raw), s.upsertJob(ctx, raw))
	}
	return report
}

type outcome int

const (
	inserted outcome = iota + 1
	updated
)

type result struct {
	outcome outcome
	err     error
}

func (s *Seeder) record(report *Report, kind, key string, res result) {
	if res.err != nil {
		report.fail(kind, key, res.err)
		s.logger.Error("seed row failed", "kind", kind, "key", key, "err", res.err)
		fmt.Fprintf(s.out, "failed   %s %s: %v\n", kind, key, res.err)
		return
	}
	switch res.outcome {
	case inserted:
		report.Inserted++
		fmt.Fprintf(s.out, "inserted %s %s\n", kind, key)
	case updated:
		report.Updated++
		fmt.Fprintf(s.out, "updated  %s %s\n", kind, key)
	}
}

func (s *Seeder) upsertAgent(ctx context.Context, doc AgentDoc) result {
	if err := checkAgent(doc); err != nil {
		return result{err: err}
	}
	now := s.clock.Now().UTC()
	status := doc.Status
	if status == "" {
		status = core.AgentStatusIdle
	}

	existing, err := s.store.GetAgentByName(ctx, doc.Name)
	switch {
	case errors.Is(err, core.ErrNotFound):
		agent := &core.Agent{
			ID:           core.NewID(),
			Name:         doc.Name,
			Role:         optional(doc.Role),
			Capabilities: doc.Capabilities,
			Status:       status,
			MemoryPath:   optional(doc.MemoryPath),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return result{outcome: inserted, err: s.store.InsertAgent(ctx, agent)}
	case err != nil:
		return result{err: err}
	}
	existing.Role = optional(doc.Role)
	existing.Capabilities = doc.Capabilities
	existing.Status = status
	existing.MemoryPath = optional(doc.MemoryPath)
	existing.UpdatedAt = now
	return result{outcome: updated, err: s.store.UpdateAgentProfile(ctx, existing)}
}

func (s *Seeder) upsertTask(ctx context.Context, doc TaskDoc) result {
	if err := checkTask(doc); err != nil {
		return result{err: err}
	}
	now := s.clock.Now().UTC()

	var owner *string
	if doc.Owner != "" {
		agent, err := s.store.GetAgentByName(ctx, doc.Owner)
		if err != nil {
			return result{err: fmt.Errorf("owner %q: %w", doc.Owner, err)}
		}
		owner = &agent.ID
	}

	task, err := s.store.GetTaskByTitle(ctx, doc.Title)
	isNew := errors.Is(err, core.ErrNotFound)
	if err != nil && !isNew {
		return result{err: err}
	}
	if isNew {
		task = &core.Task{ID: core.NewID(), Title: doc.Title, CreatedAt: now}
	}
	task.Description = optional(doc.Description)
	task.Status = taskStatus(doc)
	task.Priority = doc.Priority
	if task.Priority == "" {
		task.Priority = core.PriorityMedium
	}
	task.AssignedAgentID = owner
	task.Tags = doc.Tags
	task.Notes = optional(doc.Notes)
	task.UpdatedAt = now
	if task.Status == core.TaskStatusDone {
		if task.CompletedAt == nil {
			task.CompletedAt = &now
		}
	} else {
		task.CompletedAt = nil
	}

	if isNew {
		return result{outcome: inserted, err: s.store.InsertTask(ctx, task)}
	}
	return result{outcome: updated, err: s.store.UpdateTaskDefinition(ctx, task)}
}

func (s *Seeder) upsertJob(ctx context.Context, raw map[string]any) result {
	def, err := validation.CronJobValue(raw)
	if err != nil {
		return result{err: err}
	}
	if err := def.ResolveAgent(ctx, s.store); err != nil {
		return result{err: err}
	}

	job, err := s.store.GetCronJobByName(ctx, def.Name)
	switch {
	case errors.Is(err, core.ErrNotFound):
		job = &core.CronJob{}
		if err := def.Apply(job); err != nil {
			return result{err: err}
		}
		return result{outcome: inserted, err: s.jobs.CreateJob(ctx, job)}
	case err != nil:
		return result{err: err}
	}
	if err := def.Apply(job); err != nil {
		return result{err: err}
	}
	return result{outcome: updated, err: s.jobs.UpdateJob(ctx, job)}
}

func (s *Seeder) checkJob(raw map[string]any) (core.JobDefinition, error) {
	def, err := validation.CronJobValue(raw)
	if err != nil {
		return def, err
	}
	value, err := def.Schedule.ScheduleValue()
	if err != nil {
		return def, err
	}
	tz := def.Schedule.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return def, core.ValidateSchedule(def.Schedule.Kind, value, tz, s.clock.Now().UTC())
}

func checkAgent(a AgentDoc) error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: agent name is required", core.ErrInvalidArgument)
	}
	if a.Status != "" && !a.Status.Valid() {
		return fmt.Errorf("%w: agent status %q", core.ErrInvalidStatus, a.Status)
	}
	return nil
}

func checkTask(t TaskDoc) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: task title is required", core.ErrInvalidArgument)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("%w: task status %q", core.ErrInvalidStatus, t.Status)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", core.ErrInvalidArgument, t.Priority)
	}
	return nil
}

func taskStatus(t TaskDoc) core.TaskStatus {
	if t.Status == "" {
		return core.TaskStatusBacklog
	}
	return t.Status
}

func jobName(raw map[string]any) string {
	if name, ok := raw["name"].(string); ok {
		return name
	}
	return ""
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
