package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/burstrun/internal/ctxlog"
	"github.com/specialistvlad/burstrun/internal/events"
	"github.com/specialistvlad/burstrun/internal/harness"
	"github.com/specialistvlad/burstrun/internal/runner"
)

// eventsDialTimeout bounds the socket.io handshake at startup.
const eventsDialTimeout = 5 * time.Second

// Run loads the job files, runs every job and prints the summary. It returns
// an error wrapping ErrRunFailed when any job failed or a cyclic dependency
// was found.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.")

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	jobs, err := a.loader.Load(ctx, a.config.JobPaths...)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}
	a.logger.Debug("Jobs loaded.", "count", len(jobs))

	sink, err := a.openSinks(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			a.logger.Warn("Failed to close event sinks.", "error", err)
		}
	}()

	results, closeResults, err := a.openResultFile()
	if err != nil {
		return err
	}
	defer closeResults()

	h := harness.New(a.outW, harness.Options{
		Verbose:        a.config.Verbose && !a.config.writesFiles(),
		Quiet:          a.config.Quiet || a.config.writesFiles(),
		RunID:          a.runID,
		Sink:           sink,
		Results:        results,
		SepFilesOK:     a.config.SepFilesOK,
		SepFilesFailed: a.config.SepFilesFail,
		SepDir:         a.config.OutputDir,
	})

	opts, closeLog, err := a.runnerOptions()
	if err != nil {
		return err
	}
	defer closeLog()

	r := runner.New(runner.Config{
		MaxProcesses: a.config.MaxProcesses,
		LoadCeiling:  a.config.LoadCeiling,
		OutputBudget: a.config.OutputBudget,
		KillGrace:    a.config.KillGrace,
	}, h, opts...)
	a.runner.Store(r)

	a.logger.Info("🚀 Starting jobs...", "jobs", len(jobs), "max_processes", a.config.MaxProcesses, "load_ceiling", a.config.LoadCeiling)

	sel := newSelector(a.config)
	cyclic := false
	for _, j := range jobs {
		if !sel.selected(j) {
			a.logger.Debug("Job not selected.", "job", j.Name)
			if err := r.MarkSkipped(j.Name); err != nil {
				return err
			}
			continue
		}
		if j.SkipReason != "" {
			h.Skip(j)
			if err := r.MarkSkipped(j.Name); err != nil {
				return err
			}
			continue
		}
		isCyclic, err := settle(h, r.Submit(ctx, j, j.Command, j.WorkingDir))
		cyclic = cyclic || isCyclic
		if err != nil {
			if ctx.Err() != nil {
				// Join stops whatever is still running.
				_ = r.Join(ctx)
			}
			return err
		}
	}

	isCyclic, err := settle(h, r.Join(ctx))
	cyclic = cyclic || isCyclic
	if err != nil {
		return err
	}

	summary := h.PrintSummary()
	if err := h.SinkErr(); err != nil {
		a.logger.Warn("Some events could not be published.", "error", err)
	}
	if err := h.FileErr(); err != nil {
		a.logger.Warn("Some result files could not be written.", "error", err)
	}
	a.logger.Info("🏁 Execution finished.", "passed", summary.Passed, "skipped", summary.Skipped, "failed", summary.Failed, "elapsed", summary.Elapsed)

	switch {
	case cyclic:
		return fmt.Errorf("%w: cyclic or invalid dependency", ErrRunFailed)
	case !summary.Success():
		return fmt.Errorf("%w: %d job(s) failed", ErrRunFailed, summary.Failed)
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// settle routes runner errors: launch errors become failed result lines, a
// dependency error is flagged, and anything else is returned.
func settle(h *harness.Harness, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	for _, le := range runner.LaunchErrors(err) {
		h.LaunchFailed(le.Job, le.Err)
	}
	var depErr *runner.DependencyError
	cyclic := errors.As(err, &depErr)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, runner.ErrDuplicateJob) {
		return cyclic, err
	}
	return cyclic, nil
}

// runnerOptions builds the runner options for this app. The returned func
// closes the command log, if one was opened.
func (a *App) runnerOptions() ([]runner.Option, func(), error) {
	var opts []runner.Option
	if a.launcher != nil {
		opts = append(opts, runner.WithLauncher(a.launcher))
	}
	if a.sensor != nil {
		opts = append(opts, runner.WithLoadSensor(a.sensor))
	}
	if a.config.CommandLog == "" {
		return opts, func() {}, nil
	}

	f, err := os.OpenFile(a.config.CommandLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open command log: %w", err)
	}
	opts = append(opts, runner.WithCommandLog(f))
	return opts, func() {
		if err := f.Close(); err != nil {
			a.logger.Warn("Failed to close command log.", "error", err)
		}
	}, nil
}

// openResultFile creates the output directory and the combined result file,
// if configured. The returned func closes the file.
func (a *App) openResultFile() (io.Writer, func(), error) {
	if a.config.OutputDir != "" {
		if err := os.MkdirAll(a.config.OutputDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	if a.config.ResultFile == "" {
		return nil, func() {}, nil
	}

	f, err := os.Create(filepath.Join(a.config.OutputDir, a.config.ResultFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create result file: %w", err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			a.logger.Warn("Failed to close result file.", "error", err)
		}
	}, nil
}

// openSinks connects to the configured event destinations.
func (a *App) openSinks(ctx context.Context) (events.Sink, error) {
	var sinks events.Multi
	if a.config.NATSURL != "" {
		s, err := events.DialNATS(a.config.NATSURL, a.config.NATSSubjectPrefix)
		if err != nil {
			return nil, err
		}
		a.logger.Info("📡 Publishing results to NATS", "url", a.config.NATSURL, "subject", s.Subject(events.KindResult))
		sinks = append(sinks, s)
	}
	if a.config.EventsURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, eventsDialTimeout)
		defer cancel()
		s, err := events.DialSocketIO(dialCtx, events.SocketIOConfig{
			URL:       a.config.EventsURL,
			Namespace: a.config.EventsNamespace,
		})
		if err != nil {
			sinks.Close()
			return nil, err
		}
		a.logger.Info("📡 Streaming results over socket.io", "url", a.config.EventsURL)
		sinks = append(sinks, s)
	}
	return sinks, nil
}
