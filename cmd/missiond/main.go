package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"

	"missioncontrol/internal/api"
	"missioncontrol/internal/config"
	"missioncontrol/internal/core"
	"missioncontrol/internal/logging"
	"missioncontrol/internal/logtail"
	missionmcp "missioncontrol/internal/mcp"
	"missioncontrol/internal/notify"
	"missioncontrol/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// stdout belongs to the MCP transport in mcp and both modes.
	logger := logging.New(logging.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Writer:    os.Stderr,
		Component: "missiond",
	})

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir, cfg.Log.RunLogKeep)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.Close()

	clock := clockwork.NewRealClock()
	location := cfg.Scheduler.Location

	notifier, closeNotifier := buildNotifier(cfg, logger)
	defer closeNotifier()

	tasks := core.NewTaskManager(storeInst, storeInst, storeInst, clock, logger)
	liveness := core.NewLiveness(storeInst, storeInst, storeInst, storeInst, clock, logger)
	ledger := core.NewLedger(storeInst, storeInst, storeInst, clock, logger, cfg.Activity.RefreshInterval)
	auditor := core.NewAuditor(storeInst, storeInst, clock, logger)

	dispatcher := core.NewCommandDispatcher(cfg.Scheduler.DispatchCommand, cfg.Scheduler.DispatchTimeout, storeInst, logger)
	scheduler := core.NewScheduler(core.SchedulerConfig{
		Store:                storeInst,
		Dispatcher:           dispatcher,
		Notifier:             notifier,
		Logger:               logger,
		Clock:                clock,
		Location:             location,
		TickInterval:         cfg.Scheduler.TickInterval,
		MaxConsecutiveErrors: cfg.Scheduler.MaxConsecutiveErrors,
	})

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	scheduler.Start(ctx)
	if err := scheduler.Sync(ctx); err != nil {
		logger.Error("initial sync", "err", err)
	}

	auditRunner, err := core.NewAuditRunner(auditor, notifier, cfg.Scheduler.AuditInterval, clock, logger)
	if err != nil {
		logger.Error("create audit runner", "err", err)
		os.Exit(1)
	}
	if err := auditRunner.Start(ctx); err != nil {
		logger.Error("start audit runner", "err", err)
		os.Exit(1)
	}

	mcpServer := missionmcp.NewMCPServer(missionmcp.Deps{
		Tasks:     tasks,
		Liveness:  liveness,
		Ledger:    ledger,
		Scheduler: scheduler,
		Cron:      storeInst,
		Logger:    logger,
		Location:  location,
		Clock:     clock,
	})

	streamer := logtail.NewStreamer(logtail.Config{
		Path:         cfg.Activity.LogPath,
		PollInterval: cfg.Activity.PollInterval,
		Clock:        clock,
		Logger:       logger,
	})

	server := api.NewServer(cfg.Server.Addr, api.Deps{
		Tasks:     tasks,
		Liveness:  liveness,
		Ledger:    ledger,
		Auditor:   auditor,
		Scheduler: scheduler,
		Agents:    storeInst,
		Cron:      storeInst,
		Streamer:  streamer,
		MCP:       mcpServer.Handler(),
		Logger:    logger,
		Location:  location,
		Clock:     clock,
	})

	switch cfg.Server.Mode {
	case config.ModeHTTP, "":
		runHTTP(ctx, server, nil, logger)
	case config.ModeMCP:
		runMCP(ctx, cancel, mcpServer, logger)
	case config.ModeBoth:
		runHTTP(ctx, server, mcpServer, logger)
	default:
		logger.Error("invalid mode", "mode", cfg.Server.Mode, "valid", []string{config.ModeHTTP, config.ModeMCP, config.ModeBoth})
		os.Exit(1)
	}

	shutdown(server, scheduler, auditRunner, cfg.Server.ShutdownGrace, logger)
}

// runHTTP serves the API until a signal arrives or a server fails. A non-nil
// mcpServer is also served over stdio.
func runHTTP(ctx context.Context, server *api.Server, mcpServer *missionmcp.MCPServer, logger *slog.Logger) {
	serverErr := make(chan error, 2)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	if mcpServer != nil {
		go func() {
			if err := mcpServer.Run(); err != nil {
				serverErr <- err
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case <-ctx.Done():
	}
}

// runMCP serves MCP over stdio only; it returns when stdin closes or a signal arrives.
func runMCP(ctx context.Context, cancel context.CancelFunc, mcpServer *missionmcp.MCPServer, logger *slog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan error, 1)
	go func() { done <- mcpServer.Run() }()

	select {
	case <-sigs:
		logger.Info("received signal, shutting down")
		cancel()
	case err := <-done:
		if err != nil {
			logger.Error("mcp server error", "err", err)
		}
	case <-ctx.Done():
	}
}

func shutdown(server *api.Server, scheduler *core.Scheduler, auditRunner *core.AuditRunner, grace time.Duration, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	if err := auditRunner.Stop(); err != nil {
		logger.Warn("audit runner stop", "err", err)
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduler stop timed out")
	}
}

// buildNotifier fans announcements out to every configured sink.
func buildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func()) {
	var sinks []notify.Notifier
	closers := []func(){}

	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			logger.Warn("bark notifier disabled", "err", err)
		} else {
			sinks = append(sinks, bark)
		}
	}
	if len(cfg.Notification.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafkaNotifier(cfg.Notification.Kafka.Brokers, cfg.Notification.Kafka.Topic)
		if err != nil {
			logger.Warn("kafka notifier disabled", "err", err)
		} else {
			sinks = append(sinks, kafka)
			closers = append(closers, func() {
				if err := kafka.Close(); err != nil {
					logger.Warn("close kafka notifier", "err", err)
				}
			})
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(sinks) == 0 {
		return &notify.NoOpNotifier{}, closeAll
	}
	logger.Info("notifications enabled", "sinks", len(sinks))
	return notify.NewMultiNotifier(sinks...), closeAll
}
