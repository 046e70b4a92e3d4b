package api

import (
	"net/http"

	"missioncontrol/internal/core"
)

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), core.DefaultActivityLimit)
	writeJSON(w, http.StatusOK, s.Ledger.RecentActivity(r.Context(), limit))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Ledger.Stats(r.Context()))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Auditor.Sweep(r.Context()))
}
