package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"

	"missioncontrol/internal/config"
	"missioncontrol/internal/core"
	"missioncontrol/internal/logging"
	"missioncontrol/internal/notify"
	"missioncontrol/internal/seed"
	"missioncontrol/internal/store"
)

// Deps lets tests replace the store and clock.
type Deps struct {
	Out       io.Writer
	Clock     clockwork.Clock
	OpenStore func(ctx context.Context, stateDir string, runLogKeep int) (*store.Store, error)
}

// BuildApp assembles the missionctl command tree.
func BuildApp(deps Deps) *cli.App {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.OpenStore == nil {
		deps.OpenStore = store.Open
	}
	return &cli.App{
		Name:      "missionctl",
		Usage:     "operate the mission control store",
		Writer:    deps.Out,
		ErrWriter: deps.Out,
		// Exit codes are applied by the caller so tests can inspect them.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "state-dir", EnvVars: []string{"MISSION_STATE_DIR"}, Usage: "directory holding mission.db and run logs"},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"MISSION_LOG_LEVEL"}, Value: "warn"},
			&cli.StringFlag{Name: "log-format", EnvVars: []string{"MISSION_LOG_FORMAT"}, Value: "text"},
			&cli.StringFlag{Name: "timezone", EnvVars: []string{"MISSION_TIMEZONE"}, Usage: "default timezone for seeded cron jobs"},
			&cli.IntFlag{Name: "run-log-keep", EnvVars: []string{"MISSION_RUN_LOG_KEEP"}, Value: 20},
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply pending schema migrations",
				Action: func(c *cli.Context) error {
					return withStore(c, deps, func(st *store.Store, _ *slog.Logger) error {
						applied, err := st.AppliedMigrations(c.Context)
						if err != nil {
							return err
						}
						for _, v := range applied {
							fmt.Fprintf(deps.Out, "applied %s\n", v)
						}
						return nil
					})
				},
			},
			{
				Name:      "seed",
				Usage:     "upsert agents, tasks and cron jobs from a YAML file, or from a Markdown board and agent registry",
				ArgsUsage: "[FILE]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "validate and print intended writes without touching the store"},
					&cli.StringFlag{Name: "board", Usage: "Markdown task board (TASKS.md) to seed tasks from"},
					&cli.StringFlag{Name: "agents", Usage: "Markdown agent registry (AGENTS.md) to seed agents from"},
				},
				Action: func(c *cli.Context) error {
					return runSeed(c, deps)
				},
			},
			{
				Name:  "audit",
				Usage: "print stale agents and stalled tasks",
				Action: func(c *cli.Context) error {
					return withStore(c, deps, func(st *store.Store, logger *slog.Logger) error {
						report := core.NewAuditor(st, st, deps.Clock, logger).Sweep(c.Context)
						fmt.Fprintln(deps.Out, core.FormatAuditReport(report))
						return nil
					})
				},
			},
			{
				Name:  "check",
				Usage: "print row counts and tasks per status",
				Action: func(c *cli.Context) error {
					return withStore(c, deps, func(st *store.Store, logger *slog.Logger) error {
						counts, err := st.CountRows(c.Context)
						if err != nil {
							return err
						}
						tables := make([]string, 0, len(counts))
						for table := range counts {
							tables = append(tables, table)
						}
						sort.Strings(tables)
						for _, table := range tables {
							fmt.Fprintf(deps.Out, "%-14s %d\n", table, counts[table])
						}
						stats := core.NewLedger(st, st, st, deps.Clock, logger, 0).Stats(c.Context)
						fmt.Fprintln(deps.Out)
						for _, status := range core.TaskStatuses {
							fmt.Fprintf(deps.Out, "%-14s %d\n", status.Label(), stats.TasksByStatus[status])
						}
						fmt.Fprintf(deps.Out, "\nagents working %d, active %d of %d\n", stats.WorkingAgents, stats.ActiveAgents, stats.Agents)
						return nil
					})
				},
			},
		},
	}
}

func runSeed(c *cli.Context, deps Deps) error {
	markdown := c.String("board") != "" || c.String("agents") != ""
	if (markdown && c.NArg() != 0) || (!markdown && c.NArg() != 1) {
		return cli.Exit("usage: missionctl seed FILE | --board TASKS.md --agents AGENTS.md [--dry-run]", 2)
	}
	var (
		doc *seed.Document
		err error
	)
	if markdown {
		doc, err = seed.LoadMarkdown(c.String("board"), c.String("agents"))
	} else {
		doc, err = seed.Load(c.Args().First())
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger := newLogger(c)

	var report seed.Report
	if c.Bool("dry-run") {
		report = seed.New(seed.Options{Clock: deps.Clock, Logger: logger, Out: deps.Out}).DryRun(doc)
	} else {
		err := withStore(c, deps, func(st *store.Store, logger *slog.Logger) error {
			location, err := core.LoadLocation(c.String("timezone"), time.Local)
			if err != nil {
				return err
			}
			scheduler := core.NewScheduler(core.SchedulerConfig{
				Store:      st,
				Dispatcher: core.NewCommandDispatcher("", 0, st, logger),
				Notifier:   &notify.NoOpNotifier{},
				Logger:     logger,
				Clock:      deps.Clock,
				Location:   location,
			})
			report = seed.New(seed.Options{Store: st, Jobs: scheduler, Clock: deps.Clock, Logger: logger, Out: deps.Out}).Apply(c.Context, doc)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if report.DryRun {
		fmt.Fprintf(deps.Out, "planned=%d failed=%d\n", report.Planned, report.Failed)
	} else {
		fmt.Fprintf(deps.Out, "inserted=%d updated=%d failed=%d\n", report.Inserted, report.Updated, report.Failed)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(deps.Out, "  %v\n", e)
	}
	if report.Failed > 0 {
		return cli.Exit(fmt.Sprintf("seed finished with %d failed row(s)", report.Failed), 1)
	}
	return nil
}

func withStore(c *cli.Context, deps Deps, fn func(*store.Store, *slog.Logger) error) error {
	stateDir := c.String("state-dir")
	if stateDir == "" {
		dir, err := config.DefaultStateDir()
		if err != nil {
			return fmt.Errorf("resolve default state dir: %w", err)
		}
		stateDir = dir
	}
	st, err := deps.OpenStore(c.Context, stateDir, c.Int("run-log-keep"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("open store: %v", err), 1)
	}
	defer st.Close()
	return fn(st, newLogger(c))
}

func newLogger(c *cli.Context) *slog.Logger {
	return logging.New(logging.Options{
		Level:     c.String("log-level"),
		Format:    c.String("log-format"),
		Writer:    os.Stderr,
		Component: "missionctl",
	})
}
