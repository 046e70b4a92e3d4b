package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"missioncontrol/internal/core"
	"missioncontrol/internal/validation"
)

const maxJobBody = 64 << 10

type cronPreviewRequest struct {
	Kind     core.ScheduleKind `json:"kind"`
	Expr     string            `json:"expr"`
	Timezone string            `json:"tz,omitempty"`
	Now      string            `json:"now,omitempty"`
	Count    int               `json:"count,omitempty"`
}

type cronPreviewResponse struct {
	Valid     bool     `json:"valid"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (s *Server) handleCronPreview(w http.ResponseWriter, r *http.Request) {
	var req cronPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, cronPreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}
	expr := strings.TrimSpace(req.Expr)
	if expr == "" {
		writeJSON(w, http.StatusBadRequest, cronPreviewResponse{Valid: false, Message: "schedule expression is required"})
		return
	}
	if req.Kind == "" {
		req.Kind = core.ScheduleCron
	}
	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	base := s.clock.Now().UTC()
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.UTC()
		}
	}
	tz := req.Timezone
	if tz == "" {
		tz = s.Location.String()
	}
	if err := core.ValidateSchedule(req.Kind, expr, tz, base); err != nil {
		writeJSON(w, http.StatusOK, cronPreviewResponse{Valid: false, Message: err.Error()})
		return
	}

	times := previewFires(&core.CronJob{Enabled: true, ScheduleKind: req.Kind, ScheduleExpr: expr, Timezone: tz}, base, count)
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, cronPreviewResponse{Valid: true, NextTimes: formatted})
}

// previewFires walks NextFire as if each fire had run on time.
func previewFires(job *core.CronJob, now time.Time, count int) []time.Time {
	var out []time.Time
	for len(out) < count {
		next, ok, err := core.NextFire(job, now)
		if err != nil || !ok {
			break
		}
		out = append(out, next)
		fired := next
		job.LastRunAt = &fired
	}
	return out
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Cron.ListCronJobs(r.Context(), false)
	if err != nil {
		s.logger.Error("list cron jobs", "err", err)
		jobs = []*core.CronJob{}
	}
	if jobs == nil {
		jobs = []*core.CronJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJobBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "failed to read body")
		return
	}
	def, err := validation.CronJobDocument(body)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	if err := def.ResolveAgent(r.Context(), s.Agents); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	job := &core.CronJob{}
	if err := def.Apply(job); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	if err := s.Scheduler.CreateJob(r.Context(), job); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Cron.GetCronJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Cron.GetCronJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJobBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "failed to read body")
		return
	}
	def, err := validation.MergeCronJob(core.DefinitionOf(job), body)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	if err := def.ResolveAgent(r.Context(), s.Agents); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	if err := def.Apply(job); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	if err := s.Scheduler.UpdateJob(r.Context(), job); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.Scheduler.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	run, err := s.Scheduler.RunNow(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}
