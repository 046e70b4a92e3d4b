package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"missioncontrol/internal/core"
)

type moveTaskRequest struct {
	Status  core.TaskStatus `json:"status"`
	AgentID string          `json:"agent_id"`
	Reason  string          `json:"reason"`
	Result  map[string]any  `json:"result"`
}

type assignTaskRequest struct {
	AgentID *string `json:"agent_id"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var filter core.TaskFilter
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		st := core.TaskStatus(status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown task status "+status)
			return
		}
		filter.Status = &st
	}
	if agentID := strings.TrimSpace(r.URL.Query().Get("agent_id")); agentID != "" {
		filter.AssignedAgentID = &agentID
	}
	writeJSON(w, http.StatusOK, s.Ledger.ListTasks(r.Context(), filter))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req core.NewTask
	if err := decodeBody(r, &req); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	task, err := s.Tasks.CreateTask(r.Context(), req)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Tasks.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.Tasks.DeleteTask(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var req moveTaskRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	task, err := s.Tasks.MoveTask(r.Context(), chi.URLParam(r, "taskID"), req.Status, core.MoveOptions{
		AgentID: req.AgentID,
		Reason:  req.Reason,
		Result:  req.Result,
	})
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req assignTaskRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	if req.AgentID != nil && strings.TrimSpace(*req.AgentID) == "" {
		req.AgentID = nil
	}
	task, err := s.Tasks.AssignTask(r.Context(), chi.URLParam(r, "taskID"), req.AgentID)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Tasks.TaskHistory(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*core.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
