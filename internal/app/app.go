package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/specialistvlad/burstrun/internal/ctxlog"
	"github.com/specialistvlad/burstrun/internal/jobfile"
	"github.com/specialistvlad/burstrun/internal/loadavg"
	"github.com/specialistvlad/burstrun/internal/process"
	"github.com/specialistvlad/burstrun/internal/runner"
)

// ErrRunFailed is returned by Run when a job failed or the dependency graph
// could not be resolved.
var ErrRunFailed = errors.New("run failed")

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	ctx    context.Context
	runID  string

	loader   *jobfile.Loader
	launcher process.Launcher
	sensor   loadavg.Sensor

	runner     atomic.Pointer[runner.Runner]
	httpServer *http.Server
}

// Option customizes an App, mostly for tests.
type Option func(*App)

// WithLauncher replaces the process launcher handed to the runner.
func WithLauncher(l process.Launcher) Option {
	return func(a *App) { a.launcher = l }
}

// WithLoadSensor replaces the load average sensor handed to the runner.
func WithLoadSensor(s loadavg.Sensor) Option {
	return func(a *App) { a.sensor = s }
}

// WithLoader replaces the job file loader.
func WithLoader(l *jobfile.Loader) Option {
	return func(a *App) { a.loader = l }
}

// NewApp is the constructor for the main application. Result lines go to
// outW and structured logs to logW.
func NewApp(outW, logW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	a := &App{
		outW:   outW,
		logger: logger.With("run_id", runID),
		config: cfg,
		ctx:    ctxlog.WithLogger(context.Background(), logger),
		runID:  runID,
		loader: jobfile.NewLoader(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunID identifies this run on every published event.
func (a *App) RunID() string {
	return a.runID
}
