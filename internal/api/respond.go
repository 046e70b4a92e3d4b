package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"missioncontrol/internal/core"
)

// protocolResponse is the envelope of the agent write API.
type protocolResponse struct {
	Success bool           `json:"success"`
	Error   *protocolError `json:"error,omitempty"`
	Data    any            `json:"data,omitempty"`
}

type protocolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}

// writeCoreError maps a core error onto its HTTP status.
func (s *Server) writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, code, err.Error())
}

func (s *Server) writeProtocol(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("agent call failed", "path", r.URL.Path, "err", err)
		}
		writeJSON(w, status, protocolResponse{Error: &protocolError{Code: code, Message: err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, protocolResponse{Success: true, Data: data})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrLoad):
		return http.StatusServiceUnavailable, "load_failed"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrSourceUnavailable):
		return http.StatusNotFound, "source_unavailable"
	case errors.Is(err, core.ErrDuplicateKey):
		return http.StatusConflict, "duplicate_key"
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrScheduleInvalid):
		return http.StatusBadRequest, "schedule_invalid"
	case errors.Is(err, core.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.Join(core.ErrInvalidArgument, errors.New("invalid JSON payload"))
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
