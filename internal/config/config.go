package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Run modes for the daemon.
const (
	ModeHTTP = "http"
	ModeMCP  = "mcp"
	ModeBoth = "both"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr          string
	Mode          string
	ShutdownGrace time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
	// RunLogKeep is how many run logs each cron job retains.
	RunLogKeep int
}

// SchedulerConfig holds cron and audit timing.
type SchedulerConfig struct {
	Timezone        string
	Location        *time.Location
	TickInterval    time.Duration
	AuditInterval   time.Duration
	DispatchCommand string
	DispatchTimeout time.Duration
	// MaxConsecutiveErrors disables a job once exceeded. Zero never disables.
	MaxConsecutiveErrors int
}

// ActivityConfig holds live log and dashboard settings.
type ActivityConfig struct {
	LogPath         string
	PollInterval    time.Duration
	RefreshInterval time.Duration
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// KafkaConfig holds the Kafka announcement sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark  BarkConfig
	Kafka KafkaConfig
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Scheduler    SchedulerConfig
	Activity     ActivityConfig
	Notification NotificationConfig
	StateDir     string
}

const (
	defaultAddr            = "127.0.0.1:7070"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultRunLogKeep      = 20
	defaultShutdownGrace   = 5 * time.Second
	defaultTickInterval    = 15 * time.Second
	defaultAuditInterval   = 5 * time.Minute
	defaultDispatchTimeout = 10 * time.Minute
	defaultPollInterval    = 2 * time.Second
	defaultRefreshInterval = 30 * time.Second
	defaultKafkaTopic      = "mission.announcements"
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Parse reads os.Args, the environment and an optional .env file.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "missioncontrol", ".env"))
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f) // optional
	}
	return Load(os.Args[1:])
}

// Load builds a Config from the current environment and args.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:          getEnvString("MISSION_ADDR", defaultAddr),
			Mode:          getEnvString("MISSION_MODE", ModeHTTP),
			ShutdownGrace: getEnvDuration("MISSION_SHUTDOWN_GRACE", defaultShutdownGrace),
		},
		Log: LogConfig{
			Level:      getEnvString("MISSION_LOG_LEVEL", defaultLogLevel),
			Format:     getEnvString("MISSION_LOG_FORMAT", defaultLogFormat),
			RunLogKeep: getEnvInt("MISSION_RUN_LOG_KEEP", defaultRunLogKeep),
		},
		Scheduler: SchedulerConfig{
			Timezone:             getEnvString("MISSION_TIMEZONE", ""),
			TickInterval:         getEnvDuration("MISSION_TICK_INTERVAL", defaultTickInterval),
			AuditInterval:        getEnvDuration("MISSION_AUDIT_INTERVAL", defaultAuditInterval),
			DispatchCommand:      getEnvString("MISSION_DISPATCH_COMMAND", ""),
			DispatchTimeout:      getEnvDuration("MISSION_DISPATCH_TIMEOUT", defaultDispatchTimeout),
			MaxConsecutiveErrors: getEnvInt("MISSION_CRON_MAX_ERRORS", 0),
		},
		Activity: ActivityConfig{
			LogPath:         getEnvString("MISSION_ACTIVITY_LOG", ""),
			PollInterval:    getEnvDuration("MISSION_LOG_POLL_INTERVAL", defaultPollInterval),
			RefreshInterval: getEnvDuration("MISSION_REFRESH_INTERVAL", defaultRefreshInterval),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("MISSION_BARK_URL", ""),
				Enabled: getEnvBool("MISSION_BARK_ENABLED", false),
			},
			Kafka: KafkaConfig{
				Brokers: splitList(getEnvString("MISSION_KAFKA_BROKERS", "")),
				Topic:   getEnvString("MISSION_KAFKA_TOPIC", defaultKafkaTopic),
			},
		},
		StateDir: getEnvString("MISSION_STATE_DIR", ""),
	}

	fs := flag.NewFlagSet("missiond", flag.ContinueOnError)
	var (
		addr, mode, stateDir, logLevel, logFormat, timezone, activityLog string
		runLogKeep                                                       int
		shutdownGrace                                                    time.Duration
	)
	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&mode, "mode", "", "Run mode: http, mcp or both")
	fs.StringVar(&stateDir, "state-dir", "", "Directory to store database and run logs")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&timezone, "timezone", "", "Default IANA timezone for cron jobs")
	fs.StringVar(&activityLog, "activity-log", "", "Shared activity log file to stream")
	fs.IntVar(&runLogKeep, "run-log-keep", 0, "Number of recent runs to retain per cron job")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = addr
		case "mode":
			cfg.Server.Mode = mode
		case "state-dir":
			cfg.StateDir = stateDir
		case "log-level":
			cfg.Log.Level = logLevel
		case "log-format":
			cfg.Log.Format = logFormat
		case "timezone":
			cfg.Scheduler.Timezone = timezone
		case "activity-log":
			cfg.Activity.LogPath = activityLog
		case "run-log-keep":
			cfg.Log.RunLogKeep = runLogKeep
		case "shutdown-grace":
			cfg.Server.ShutdownGrace = shutdownGrace
		}
	})

	switch cfg.Server.Mode {
	case ModeHTTP, ModeMCP, ModeBoth:
	default:
		return nil, fmt.Errorf("invalid mode %q: want http, mcp or both", cfg.Server.Mode)
	}

	if cfg.StateDir == "" {
		dir, err := DefaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.Activity.LogPath == "" {
		cfg.Activity.LogPath = filepath.Join(cfg.StateDir, "activity.log")
	}

	loc := time.Local
	if cfg.Scheduler.Timezone != "" {
		l, err := time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Scheduler.Timezone, err)
		}
		loc = l
	}
	cfg.Scheduler.Location = loc

	if cfg.Log.RunLogKeep < 1 {
		cfg.Log.RunLogKeep = defaultRunLogKeep
	}
	if cfg.Scheduler.TickInterval <= 0 {
		cfg.Scheduler.TickInterval = defaultTickInterval
	}
	if cfg.Scheduler.MaxConsecutiveErrors < 0 {
		cfg.Scheduler.MaxConsecutiveErrors = 0
	}
	return cfg, nil
}

// DefaultStateDir is the per-user directory used when no state dir is configured.
func DefaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "missioncontrol")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
