package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"covdiff/internal/config"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
	"covdiff/internal/jobs"
	"covdiff/internal/service"
	"covdiff/internal/slogutil"
	"covdiff/internal/storage"
)

// app bundles what a command needs; Close releases it.
type app struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	logFile *os.File
	db      *storage.DB
	engine  *service.Engine
}

// loadConfig reads and validates the configuration under --root.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(rootFlag)
	if err != nil {
		return nil, cerrors.New(cerrors.ConfigInvalid, "failed to load configuration", err)
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, cerrors.New(cerrors.ConfigInvalid, "invalid configuration", err)
	}
	return cfg, nil
}

// logLevel resolves the stderr level: --log-level, then -v/-q, then config.
func logLevel(cfg *config.Config) slog.Level {
	if logLevelFlag == "" && (quietFlag || verboseFlag > 0) {
		return slogutil.LevelFromVerbosity(verboseFlag, quietFlag)
	}
	return slogutil.LevelFromString(cfg.Logging.Level)
}

// newLogger writes to stderr so stdout carries only command output. With
// logging.file set, records are also appended to that file at debug level;
// the returned file is nil otherwise.
func newLogger(root string, cfg *config.Config) (*slog.Logger, *os.File, error) {
	opts := &slog.HandlerOptions{Level: logLevel(cfg)}
	var stderr slog.Handler = slogutil.NewHandler(os.Stderr, opts)
	if cfg.Logging.Format == "json" {
		stderr = slog.NewJSONHandler(os.Stderr, opts)
	}
	if cfg.Logging.File == "" {
		return slog.New(stderr), nil, nil
	}

	path := cfg.Logging.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	fileLogger, f, err := slogutil.NewFileLogger(path, slog.LevelDebug)
	if err != nil {
		return nil, nil, cerrors.New(cerrors.ConfigInvalid, "failed to open log file", err)
	}
	return slog.New(slogutil.NewTeeHandler(stderr, fileLogger.Handler())), f, nil
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logFile, err := newLogger(rootFlag, cfg)
	if err != nil {
		return nil, err
	}

	var db *storage.DB
	if cfg.Storage.Path != "" {
		path := cfg.Storage.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(rootFlag, path)
		}
		db, err = storage.OpenPath(path, logger)
	} else {
		db, err = storage.Open(rootFlag, logger)
	}
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, cerrors.New(cerrors.StorageFailure, "failed to open database", err)
	}

	return &app{
		root:    rootFlag,
		cfg:     cfg,
		logger:  logger,
		logFile: logFile,
		db:      db,
		engine:  service.NewEngine(db, cfg, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", "error", err)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// openJobs opens the job store next to the database and builds a runner
// with the engine's handlers registered. The runner is not started.
func (a *app) openJobs() (*jobs.Store, *jobs.Runner, error) {
	store, err := jobs.OpenStore(filepath.Join(a.root, storage.DirName), a.logger)
	if err != nil {
		return nil, nil, cerrors.New(cerrors.StorageFailure, "failed to open job store", err)
	}
	runner := jobs.NewRunner(store, a.logger, jobs.RunnerConfig{
		QueueSize:   a.cfg.Jobs.QueueSize,
		WorkerCount: a.cfg.Jobs.Workers,
	})
	a.engine.RegisterJobHandlers(runner)
	return store, runner, nil
}

// newContext is cancelled on SIGINT or SIGTERM.
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildArgs parses positional build ids. A bare version is resolved
// against the first argument's group and app.
func buildArgs(args []string) ([]diff.BuildKey, error) {
	keys := make([]diff.BuildKey, 0, len(args))
	for i, arg := range args {
		if i > 0 && !strings.Contains(arg, ":") {
			keys = append(keys, keys[0].WithVersion(arg))
			continue
		}
		key, err := diff.ParseBuildKey(arg)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
