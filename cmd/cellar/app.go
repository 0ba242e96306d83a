package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/bamsammich/cellar/internal/backup"
	"github.com/bamsammich/cellar/internal/bottle"
	"github.com/bamsammich/cellar/internal/config"
	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/result"
	"github.com/bamsammich/cellar/internal/stats"
	"github.com/bamsammich/cellar/internal/task"
	"github.com/bamsammich/cellar/internal/ui"
	"github.com/bamsammich/cellar/internal/versioning"
)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	logger  *slog.Logger
	bottles *bottle.Registry
	tasks   *task.Registry
	logFile *os.File
	stdout  io.Writer
	stderr  io.Writer
	cfg     config.Config
	flags   globalFlags
}

func (a *app) setup(cmd *cobra.Command, flags globalFlags) error {
	a.flags = flags
	a.stdout, a.stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()

	var err error
	if flags.configFile != "" {
		a.cfg, err = config.LoadFile(flags.configFile)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := a.setupLogging(); err != nil {
		return err
	}

	root := a.cfg.BottlesRoot()
	if cmd.Flags().Changed("bottles") {
		root = flags.bottlesDir
	}
	a.bottles, err = bottle.NewRegistry(root, a.logger)
	if err != nil {
		return fmt.Errorf("bottles: %w", err)
	}

	a.tasks = task.NewRegistry()
	a.tasks.OnChange(func(t *task.Task, removed bool) {
		a.logger.Debug("task", "title", t.Title(), "subtitle", t.Subtitle(), "done", removed)
	})
	return nil
}

func (a *app) setupLogging() error {
	level := slog.LevelWarn
	switch {
	case a.flags.verbose:
		level = slog.LevelDebug
	case a.flags.quiet:
		level = slog.LevelError
	}
	var handler slog.Handler = slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level})

	if a.flags.logFile != "" {
		f, err := os.OpenFile(a.flags.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		jsonHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = ui.NewMultiHandler(handler, jsonHandler)
	}
	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

// lookup finds the bottle called name.
func (a *app) lookup(name string) (bottle.Config, error) {
	cfg, ok := a.bottles.Lookup(name)
	if !ok {
		return bottle.Config{}, &exitError{msg: fmt.Sprintf("no bottle named %q", name), code: exitCode(result.NotFound)}
	}
	return cfg, nil
}

// versioningFor opens the versioning facade of the bottle at root.
func (a *app) versioningFor(root string, cfg bottle.Config, events event.Sink, collector *stats.Collector) *versioning.Manager {
	workers := 0
	if a.cfg.Versioning.HashWorkers != nil {
		workers = *a.cfg.Versioning.HashWorkers
	}
	ignore := slices.Concat(cfg.Parameters.VersioningExclusionPatterns, a.cfg.Versioning.Ignore)
	return versioning.New(root, versioning.Options{
		Logger:      a.logger,
		Stats:       collector,
		Events:      events,
		Ignore:      ignore,
		MaxFileSize: a.cfg.MaxFileSize(),
		Workers:     workers,
		Subvolumes:  cfg.InternalSubvolumes(),
	})
}

// manager opens the versioning facade of the registered bottle cfg.
func (a *app) manager(cfg bottle.Config, events event.Sink, collector *stats.Collector) *versioning.Manager {
	return a.versioningFor(a.bottles.GetBottlePath(cfg), cfg, events, collector)
}

// coordinator returns a backup coordinator reporting to events and collector.
func (a *app) coordinator(level int, bwlimit int64, events event.Sink, collector *stats.Collector) *backup.Coordinator {
	return backup.New(a.bottles, backup.Options{
		Logger: a.logger,
		Stats:  collector,
		Events: events,
		Tasks:  a.tasks,
		Versioning: func(root string) *versioning.Manager {
			cfg, err := bottle.Load(filepath.Join(root, bottle.ConfigFile))
			if err != nil {
				cfg = bottle.Config{}
			}
			return a.versioningFor(root, cfg, events, collector)
		},
		Level:   level,
		BWLimit: bwlimit,
	})
}

// operation is a long-running call observed through events and collector.
type operation func(events event.Sink, collector *stats.Collector) result.Result

// execute runs op on a background goroutine while a presenter renders its
// progress, then reports the outcome.
func (a *app) execute(title string, op operation) (result.Result, error) {
	collector := stats.NewCollector()
	events := make(chan event.Event, 256)

	presenter := ui.NewPresenter(ui.Config{
		Writer:     a.stdout,
		ErrWriter:  a.stderr,
		Stats:      collector,
		Title:      title,
		IsTTY:      ui.Interactive(a.stderr),
		Quiet:      a.flags.quiet,
		Verbose:    a.flags.verbose,
		NoProgress: a.flags.noProgress,
	})

	var res result.Result
	go func() {
		defer close(events)
		res = op(events, collector)
	}()
	if err := presenter.Run(events); err != nil {
		a.logger.Warn("presenter failed", "error", err)
	}
	if s := presenter.Summary(); s != "" {
		fmt.Fprintln(a.stderr, s)
	}
	return res, a.report(res)
}

// report prints a result's message and maps failures to an exit status.
// NothingToChange is informational and exits zero.
func (a *app) report(res result.Result) error {
	switch {
	case res.OK, res.NoOp():
		if !a.flags.quiet && res.Message != "" {
			fmt.Fprintln(a.stdout, res.Message)
		}
		return nil
	default:
		return &exitError{msg: fmt.Sprintf("%s (%s)", res.Message, res.Kind), code: exitCode(res.Kind)}
	}
}

func exitCode(k result.Kind) int {
	switch k {
	case result.NotFound:
		return 3
	case result.SecurityViolation, result.Corrupted:
		return 4
	case result.Unsupported:
		return 5
	default:
		return 1
	}
}
