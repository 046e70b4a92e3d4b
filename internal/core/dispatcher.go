package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ErrDispatchTimeout is returned when the execution target outlives its deadline.
var ErrDispatchTimeout = errors.New("dispatch timed out")

const maxSummaryLen = 500

// Dispatcher hands a job's payload to its execution target and waits for the outcome.
// The returned string is a short human summary of the result.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *CronJob, run *CronRun) (string, error)
}

// RunLogs locates per-run log files.
type RunLogs interface {
	EnsureRunLogDir(runID string) error
	RunLogPath(runID string) string
}

// CommandDispatcher runs a shell command per firing with the payload in its environment.
// With no command configured it only writes the payload to the run log.
type CommandDispatcher struct {
	command string
	timeout time.Duration
	logs    RunLogs
	logger  *slog.Logger
}

// NewCommandDispatcher creates a dispatcher. timeout <= 0 means no watchdog.
func NewCommandDispatcher(command string, timeout time.Duration, logs RunLogs, logger *slog.Logger) *CommandDispatcher {
	return &CommandDispatcher{
		command: strings.TrimSpace(command),
		timeout: timeout,
		logs:    logs,
		logger:  logger,
	}
}

// Dispatch runs the configured command and reports its last line of output.
func (d *CommandDispatcher) Dispatch(ctx context.Context, job *CronJob, run *CronRun) (string, error) {
	if err := d.logs.EnsureRunLogDir(run.ID); err != nil {
		return "", fmt.Errorf("ensure run log dir: %w", err)
	}
	logFile, err := os.OpenFile(d.logs.RunLogPath(run.ID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	if d.command == "" {
		fmt.Fprintf(logFile, "[%s] %s -> %s session: %s\n", job.Name, job.Payload.Kind, job.SessionTarget, job.Payload.Message)
		return truncate(fmt.Sprintf("%s payload recorded for %s session", job.Payload.Kind, job.SessionTarget), maxSummaryLen), nil
	}

	tail := &tailBuffer{limit: 4096}
	out := &syncWriter{w: io.MultiWriter(logFile, tail)}

	cmd := commandFor(ctx, d.command)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(), dispatchEnv(job, run)...)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}

	// The watchdog only sees the process once Start has returned.
	var timeoutTriggered atomic.Bool
	var watchdog *time.Timer
	if d.timeout > 0 {
		proc := cmd.Process
		watchdog = time.AfterFunc(d.timeout, func() {
			timeoutTriggered.Store(true)
			d.logger.Warn("dispatch exceeded timeout, sending termination", "job_id", job.ID, "run_id", run.ID, "timeout", d.timeout)
			sendTermination(proc)
			time.AfterFunc(5*time.Second, func() {
				_ = proc.Kill()
			})
		})
	}
	waitErr := cmd.Wait()
	if watchdog != nil {
		watchdog.Stop()
	}

	summary := lastLine(tail.Bytes())
	switch {
	case timeoutTriggered.Load():
		return summary, fmt.Errorf("%w after %s", ErrDispatchTimeout, d.timeout)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return summary, fmt.Errorf("command exited with code %d", exitErr.ExitCode())
		}
		return summary, waitErr
	}
	return summary, nil
}

func dispatchEnv(job *CronJob, run *CronRun) []string {
	env := []string{
		"MISSION_JOB_ID=" + job.ID,
		"MISSION_JOB_NAME=" + job.Name,
		"MISSION_RUN_ID=" + run.ID,
		"MISSION_SESSION_TARGET=" + string(job.SessionTarget),
		"MISSION_PAYLOAD_KIND=" + string(job.Payload.Kind),
		"MISSION_MESSAGE=" + job.Payload.Message,
	}
	if job.AgentID != nil {
		env = append(env, "MISSION_AGENT_ID="+*job.AgentID)
	}
	return env
}

func commandFor(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command) // #nosec G204
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command) // #nosec G204
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	return t.buf
}

func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(string(lines[i])); line != "" {
			return truncate(line, maxSummaryLen)
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func sendTermination(process *os.Process) {
	if process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = process.Kill()
		return
	}
	_ = process.Signal(syscall.SIGTERM)
}
