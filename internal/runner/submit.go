package runner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/specialistvlad/burstrun/internal/ctxlog"
	"github.com/specialistvlad/burstrun/internal/job"
)

// Submit hands j to the runner with the command that runs it in dir.
//
// Queued jobs whose prerequisites have since finished are promoted first, in
// arrival order. If j's own prerequisites have not all finished it is queued
// and Submit returns immediately. Otherwise Submit waits for the load gate and
// for a free slot, polling meanwhile, and launches the process.
//
// The returned error is ErrDuplicateJob, the context's error, or one or more
// *LaunchError values (see LaunchErrors); a LaunchError may concern a promoted
// job rather than j.
func (r *Runner) Submit(ctx context.Context, j *job.Job, command, dir string) error {
	if _, seen := r.states[j.Name]; seen {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, j.Name)
	}
	r.states[j.Name] = job.Submitted
	return r.submit(ctx, j, command, dir, true)
}

// MarkSkipped records a job the caller decided not to run. Jobs that list it
// as a prerequisite will be skipped as well.
func (r *Runner) MarkSkipped(name string) error {
	if _, seen := r.states[name]; seen {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	r.markSkipped(name)
	return nil
}

func (r *Runner) submit(ctx context.Context, j *job.Job, command, dir string, allowRequeueScan bool) error {
	logger := ctxlog.FromContext(ctx)
	var errs []error

	if allowRequeueScan {
		if err := r.promote(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
	}

	if !r.prereqsFinished(j) {
		logger.Debug("Job is waiting for prerequisites.", "job", j.Name, "prereqs", j.Prereqs)
		r.enqueue(pending{job: j, command: command, dir: dir})
		return errors.Join(errs...)
	}

	if err := r.admit(ctx); err != nil {
		return errors.Join(append(errs, err)...)
	}
	for r.freeSlot() < 0 {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		r.poll(ctx, r.cfg.MinSleep)
	}

	if err := r.launch(ctx, j, command, dir); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// promote resubmits every queued job in arrival order without further
// requeue scans. Jobs that are still blocked go back to the queue. Only
// launch errors are returned; on cancellation the unprocessed entries are
// put back and the caller is expected to check ctx.
func (r *Runner) promote(ctx context.Context) error {
	if len(r.queue) == 0 {
		return nil
	}
	waiting := r.queue
	r.queue = nil
	r.queued.Add(-int64(len(waiting)))

	var errs []error
	for i, p := range waiting {
		if ctx.Err() != nil {
			for _, rest := range waiting[i:] {
				r.enqueue(rest)
			}
			break
		}
		err := r.submit(ctx, p.job, p.command, p.dir, false)
		var le *LaunchError
		switch {
		case err == nil:
		case errors.As(err, &le):
			errs = append(errs, err)
		default:
			// Cancelled before the job reached a slot.
			r.enqueue(p)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) enqueue(p pending) {
	r.queue = append(r.queue, p)
	r.states[p.job.Name] = job.Queued
	r.queued.Add(1)
}

// launch starts j in the lowest free slot. The caller guarantees one exists.
func (r *Runner) launch(ctx context.Context, j *job.Job, command, dir string) error {
	logger := ctxlog.FromContext(ctx)
	idx := r.freeSlot()

	if j.Prepare != nil {
		if err := j.Prepare(); err != nil {
			return r.launchFailed(ctx, j, fmt.Errorf("prepare: %w", err))
		}
	}

	out, err := os.CreateTemp(r.cfg.OutputDir, "burstrun-*.log")
	if err != nil {
		return r.launchFailed(ctx, j, fmt.Errorf("create output file: %w", err))
	}

	proc, err := r.launcher.Launch(command, dir, out)
	if err != nil {
		out.Close()
		os.Remove(out.Name())
		return r.launchFailed(ctx, j, err)
	}

	start := r.clock.Now()
	r.slots[idx] = &slot{proc: proc, command: command, job: j, start: start, out: out}
	r.states[j.Name] = job.Running
	r.running.Add(1)
	delete(r.reported, j.Name)

	logger.Debug("Job started.", "job", j.Name, "slot", idx, "pid", proc.Pid())
	r.cmdLog.Printf(start, "started %s: %s", j.Name, command)
	return nil
}

func (r *Runner) launchFailed(ctx context.Context, j *job.Job, err error) error {
	ctxlog.FromContext(ctx).Error("Job failed to launch.", "job", j.Name, "error", err)
	r.markSkipped(j.Name)
	return &LaunchError{Job: j, Err: err}
}
