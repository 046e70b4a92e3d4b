package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"missioncontrol/internal/core"
)

type heartbeatRequest struct {
	Note string `json:"note"`
}

type reportRequest struct {
	Summary string `json:"summary"`
}

type agentStatusRequest struct {
	Status core.AgentStatus `json:"status"`
	Reason string           `json:"reason"`
}

type completeRequest struct {
	Result map[string]any `json:"result"`
}

type blockRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Ledger.ListAgents(r.Context()))
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	state, err := s.Liveness.Wake(r.Context(), chi.URLParam(r, "agentID"))
	s.writeProtocol(w, r, state, err)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeProtocol(w, r, nil, err)
		return
	}
	err := s.Liveness.Heartbeat(r.Context(), chi.URLParam(r, "agentID"), req.Note)
	s.writeProtocol(w, r, nil, err)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeProtocol(w, r, nil, err)
		return
	}
	err := s.Liveness.Report(r.Context(), chi.URLParam(r, "agentID"), req.Summary)
	s.writeProtocol(w, r, nil, err)
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req agentStatusRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeProtocol(w, r, nil, err)
		return
	}
	err := s.Liveness.MarkStatus(r.Context(), chi.URLParam(r, "agentID"), req.Status, req.Reason)
	s.writeProtocol(w, r, nil, err)
}

func (s *Server) handleTaskStart(w http.ResponseWriter, r *http.Request) {
	task, err := s.Tasks.MoveTask(r.Context(), chi.URLParam(r, "taskID"), core.TaskStatusInProgress, core.MoveOptions{
		AgentID: chi.URLParam(r, "agentID"),
	})
	s.writeProtocol(w, r, task, err)
}

func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeProtocol(w, r, nil, err)
		return
	}
	task, err := s.Tasks.MoveTask(r.Context(), chi.URLParam(r, "taskID"), core.TaskStatusDone, core.MoveOptions{
		AgentID: chi.URLParam(r, "agentID"),
		Result:  req.Result,
	})
	s.writeProtocol(w, r, task, err)
}

func (s *Server) handleTaskBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeProtocol(w, r, nil, err)
		return
	}
	task, err := s.Tasks.MoveTask(r.Context(), chi.URLParam(r, "taskID"), core.TaskStatusBlocked, core.MoveOptions{
		AgentID: chi.URLParam(r, "agentID"),
		Reason:  req.Reason,
	})
	s.writeProtocol(w, r, task, err)
}
