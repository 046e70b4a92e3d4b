package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"missioncontrol/internal/logtail"
)

const wsWriteTimeout = 10 * time.Second

// handleLogStream serves the activity log as newline-delimited JSON, one flushed event per line.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported", "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	err := s.Streamer.Follow(r.Context(), func(ev logtail.Event) error {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && r.Context().Err() == nil {
		s.logger.Debug("log stream ended", "err", err)
	}
}

// handleLogSocket serves the same events as JSON websocket frames.
func (s *Server) handleLogSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Viewers never send; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	err = s.Streamer.Follow(ctx, func(ev logtail.Event) error {
		writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		return wsjson.Write(writeCtx, conn, ev)
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Debug("log socket ended", "err", err)
	}
}
