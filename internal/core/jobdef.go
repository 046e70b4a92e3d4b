package core

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// ScheduleSpec is the document form of a schedule, shared by the HTTP API and seed files.
type ScheduleSpec struct {
	Kind     ScheduleKind `json:"kind" yaml:"kind"`
	Expr     string       `json:"expr,omitempty" yaml:"expr,omitempty"`
	EveryMs  int64        `json:"every_ms,omitempty" yaml:"every_ms,omitempty"`
	At       string       `json:"at,omitempty" yaml:"at,omitempty"`
	Timezone string       `json:"tz,omitempty" yaml:"tz,omitempty"`
}

// JobDefinition is the user-editable part of a cron job.
type JobDefinition struct {
	Name          string        `json:"name" yaml:"name"`
	Enabled       *bool         `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Schedule      ScheduleSpec  `json:"schedule" yaml:"schedule"`
	SessionTarget SessionTarget `json:"session_target,omitempty" yaml:"session_target,omitempty"`
	AgentID       *string       `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	// Agent names the bound agent; seeding resolves it to AgentID.
	Agent    string    `json:"agent,omitempty" yaml:"agent,omitempty"`
	Payload  Payload   `json:"payload" yaml:"payload"`
	Delivery *Delivery `json:"delivery,omitempty" yaml:"delivery,omitempty"`
}

// ScheduleValue flattens the schedule into the stored schedule_expr.
func (s ScheduleSpec) ScheduleValue() (string, error) {
	switch s.Kind {
	case ScheduleCron:
		return s.Expr, nil
	case ScheduleEvery:
		return strconv.FormatInt(s.EveryMs, 10), nil
	case ScheduleAt:
		return s.At, nil
	default:
		return "", fmt.Errorf("%w: unknown schedule kind %q", ErrScheduleInvalid, s.Kind)
	}
}

// Apply copies the definition onto job. Run state is left untouched.
func (d JobDefinition) Apply(job *CronJob) error {
	value, err := d.Schedule.ScheduleValue()
	if err != nil {
		return err
	}
	job.Name = d.Name
	job.Enabled = d.Enabled == nil || *d.Enabled
	job.ScheduleKind = d.Schedule.Kind
	job.ScheduleExpr = value
	job.Timezone = d.Schedule.Timezone
	job.SessionTarget = d.SessionTarget
	job.AgentID = d.AgentID
	job.Payload = d.Payload
	job.Delivery = d.Delivery
	return nil
}

// DefinitionOf is the inverse of Apply.
func DefinitionOf(job *CronJob) JobDefinition {
	enabled := job.Enabled
	sched := ScheduleSpec{Kind: job.ScheduleKind, Timezone: job.Timezone}
	switch job.ScheduleKind {
	case ScheduleCron:
		sched.Expr = job.ScheduleExpr
	case ScheduleEvery:
		if d, err := ParseInterval(job.ScheduleExpr); err == nil {
			sched.EveryMs = d.Milliseconds()
		}
	case ScheduleAt:
		sched.At = job.ScheduleExpr
		if t, err := ParseOneShot(job.ScheduleExpr); err == nil {
			sched.At = t.Format(time.RFC3339)
		}
	}
	return JobDefinition{
		Name:          job.Name,
		Enabled:       &enabled,
		Schedule:      sched,
		SessionTarget: job.SessionTarget,
		AgentID:       job.AgentID,
		Payload:       job.Payload,
		Delivery:      job.Delivery,
	}
}

// AgentLookup finds agents by their unique name.
type AgentLookup interface {
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
}

// ResolveAgent binds def to the agent named by def.Agent, when set.
func (d *JobDefinition) ResolveAgent(ctx context.Context, agents AgentLookup) error {
	if d.Agent == "" {
		return nil
	}
	agent, err := agents.GetAgentByName(ctx, d.Agent)
	if err != nil {
		return fmt.Errorf("resolve agent %q: %w", d.Agent, err)
	}
	d.AgentID = ptrString(agent.ID)
	return nil
}
