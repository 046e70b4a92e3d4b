package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"missioncontrol/internal/core"
)

const runLogPollInterval = 500 * time.Millisecond

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.Cron.GetCronJob(r.Context(), jobID); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	runs, err := s.Cron.ListCronRuns(r.Context(), jobID, limit, offset)
	if err != nil {
		s.logger.Error("list cron runs", "job_id", jobID, "err", err)
		runs = nil
	}
	if runs == nil {
		runs = []*core.CronRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Cron.GetCronRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.Cron.GetCronRun(r.Context(), runID)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}

	tail := parseIntDefault(r.URL.Query().Get("tail"), 0)
	follow := strings.EqualFold(r.URL.Query().Get("follow"), "1") || strings.EqualFold(r.URL.Query().Get("follow"), "true")

	file, err := os.Open(s.Cron.RunLogPath(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "not_found", "log not found")
		} else {
			s.logger.Error("open run log", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to read log")
		}
		return
	}
	defer file.Close()

	data, err := readTailLines(file, tail)
	if err != nil {
		s.logger.Error("read run log", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read log")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	flusher, ok := w.(http.Flusher)
	if !follow || !ok || run.Status.Finished() {
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	if len(data) > 0 {
		_, _ = w.Write(data)
		if data[len(data)-1] != '\n' {
			_, _ = w.Write([]byte("\n"))
		}
	}
	flusher.Flush()

	offset, _ := file.Seek(0, io.SeekEnd)
	ticker := s.clock.NewTicker(runLogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.Chan():
			pos, err := file.Seek(0, io.SeekEnd)
			if err != nil {
				return
			}
			if pos > offset {
				buf := make([]byte, pos-offset)
				if _, err := file.ReadAt(buf, offset); err == nil {
					_, _ = w.Write(buf)
					flusher.Flush()
				}
				offset = pos
			}
			if !run.Status.Finished() {
				if refreshed, err := s.Cron.GetCronRun(r.Context(), runID); err == nil {
					run = refreshed
				}
			}
			if run.Status.Finished() && pos == offset {
				return
			}
		}
	}
}

func readTailLines(file *os.File, tail int) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if tail <= 0 {
		return data, nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return []byte(strings.Join(lines, "\n") + "\n"), nil
}
