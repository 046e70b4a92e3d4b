package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"

	"missioncontrol/internal/core"
	"missioncontrol/internal/logtail"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Tasks     *core.TaskManager
	Liveness  *core.Liveness
	Ledger    *core.Ledger
	Auditor   *core.Auditor
	Scheduler *core.Scheduler
	Agents    core.AgentStore
	Cron      core.CronStore
	Streamer  *logtail.Streamer
	// MCP is mounted at /mcp when set.
	MCP      http.Handler
	Logger   *slog.Logger
	Location *time.Location
	Clock    clockwork.Clock
}

// Server holds the HTTP server state.
type Server struct {
	Deps
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	clock      clockwork.Clock
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(accessLog(logger, clock))
	router.Use(middleware.Recoverer)
	if deps.Location == nil {
		deps.Location = time.Local
	}

	s := &Server{
		Deps:   deps,
		router: router,
		logger: logger,
		clock:  clock,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // log streams stay open
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	if s.MCP != nil {
		s.router.Handle("/mcp", s.MCP)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Route("/{agentID}", func(r chi.Router) {
				r.Post("/wake", s.handleWake)
				r.Post("/heartbeat", s.handleHeartbeat)
				r.Post("/report", s.handleReport)
				r.Post("/status", s.handleAgentStatus)
				r.Post("/tasks/{taskID}/start", s.handleTaskStart)
				r.Post("/tasks/{taskID}/complete", s.handleTaskComplete)
				r.Post("/tasks/{taskID}/block", s.handleTaskBlock)
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/move", s.handleMoveTask)
				r.Put("/assignee", s.handleAssignTask)
				r.Get("/history", s.handleTaskHistory)
			})
		})

		r.Get("/activity", s.handleActivity)
		r.Get("/stats", s.handleStats)
		r.Get("/audit", s.handleAudit)

		r.Route("/cron", func(r chi.Router) {
			r.Post("/preview", s.handleCronPreview)
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.handleListJobs)
				r.Post("/", s.handleCreateJob)
				r.Route("/{jobID}", func(r chi.Router) {
					r.Get("/", s.handleGetJob)
					r.Patch("/", s.handleUpdateJob)
					r.Delete("/", s.handleDeleteJob)
					r.Post("/run", s.handleRunJob)
					r.Get("/runs", s.handleListRuns)
				})
			})
			r.Route("/runs/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/log", s.handleRunLog)
			})
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/stream", s.handleLogStream)
			r.Get("/ws", s.handleLogSocket)
		})
	})
}
