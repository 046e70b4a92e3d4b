package logtail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

const (
	// NotFoundMessage is the single event sent when the log is missing at attach time.
	NotFoundMessage = "Log file not found or inaccessible."
	// ClosedMessage is the final event sent when the log disappears mid-stream.
	ClosedMessage = "Log file is no longer available; closing stream."

	defaultPollInterval = 2 * time.Second
)

// Config wires a Streamer.
type Config struct {
	Path     string
	Backfill int64
	// PollInterval rereads the file even without a change notification. Zero uses the default.
	PollInterval time.Duration
	Clock        clockwork.Clock
	Logger       *slog.Logger
}

// Streamer fans the log out to viewers. Every Follow call owns its own cursor and watch.
type Streamer struct {
	path     string
	backfill int64
	poll     time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewStreamer constructs a streamer over cfg.Path.
func NewStreamer(cfg Config) *Streamer {
	backfill := cfg.Backfill
	if backfill <= 0 {
		backfill = DefaultBackfill
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{path: cfg.Path, backfill: backfill, poll: poll, clock: clock, logger: logger}
}

// Path returns the followed file.
func (s *Streamer) Path() string {
	return s.path
}

// errStop ends a follow loop without reporting an error to the caller.
var errStop = errors.New("stop streaming")

// Follow sends the backfill and then every new line to emit until ctx is done, emit fails,
// or the file goes away. A missing file produces one NotFoundMessage event and no watch.
// The returned error is emit's error, if any.
func (s *Streamer) Follow(ctx context.Context, emit func(Event) error) error {
	cursor, err := Attach(s.path, s.backfill, s.clock)
	if err != nil {
		s.logger.Warn("log source unavailable", "path", s.path, "err", err)
		return emit(SystemEvent(NotFoundMessage, s.clock.Now()))
	}

	drain := func() error {
		events, err := cursor.ReadNew()
		if err != nil {
			s.logger.Warn("log source lost", "path", s.path, "err", err)
			if emitErr := emit(SystemEvent(ClosedMessage, s.clock.Now())); emitErr != nil {
				return emitErr
			}
			return errStop
		}
		for _, ev := range events {
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	}
	finish := func(err error) error {
		if errors.Is(err, errStop) {
			return nil
		}
		return err
	}

	if err := drain(); err != nil {
		return finish(err)
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("file watcher unavailable, polling only", "err", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(s.path); err != nil {
			s.logger.Warn("watch log file, polling only", "path", s.path, "err", err)
		} else {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := s.clock.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// The watch is bound to the old inode either way.
				if err := drain(); err != nil {
					return finish(err)
				}
				return emit(SystemEvent(ClosedMessage, s.clock.Now()))
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := drain(); err != nil {
					return finish(err)
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("log watcher error", "path", s.path, "err", err)
		case <-ticker.Chan():
			if err := drain(); err != nil {
				return finish(err)
			}
		}
	}
}
