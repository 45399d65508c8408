package runner

import (
	"context"
	"errors"
	"os"
	"slices"

	"github.com/specialistvlad/burstrun/internal/ctxlog"
	"github.com/specialistvlad/burstrun/internal/job"
)

// Join drives the runner until every slot and the wait queue are empty.
//
// Queued jobs are promoted as their prerequisites finish. Once nothing is
// running, jobs with a skipped prerequisite are skipped in cascade and any
// that remain are reported and returned as a *DependencyError. Launch errors
// of promoted jobs are joined into the result.
//
// If ctx is cancelled, running processes are stopped without being finalized
// and ctx.Err() is returned.
func (r *Runner) Join(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	var errs []error

	for {
		if err := ctx.Err(); err != nil {
			r.abort(ctx)
			return errors.Join(append(errs, err)...)
		}
		if err := r.promote(ctx); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			continue
		}
		if r.occupied() == 0 {
			r.skipBlocked(ctx)
			if len(r.queue) > 0 {
				errs = append(errs, r.strand(ctx))
			}
			break
		}
		r.poll(ctx, r.cfg.MinSleep)
	}

	st := r.Stats()
	logger.Debug("Runner drained.", "finished", st.Finished, "skipped", st.Skipped)
	return errors.Join(errs...)
}

// skipBlocked skips queued jobs that depend on a skipped job until no more
// can be found.
func (r *Runner) skipBlocked(ctx context.Context) int {
	logger := ctxlog.FromContext(ctx)
	n := 0
	for {
		idx := -1
		var dep string
		for i, p := range r.queue {
			if d, ok := r.prereqSkipped(p.job); ok {
				idx, dep = i, d
				break
			}
		}
		if idx < 0 {
			return n
		}
		p := r.queue[idx]
		r.queue = slices.Delete(r.queue, idx, idx+1)
		r.queued.Add(-1)
		r.markSkipped(p.job.Name)

		logger.Info("⏭️ Skipping job, prerequisite was skipped.", "job", p.job.Name, "prereq", dep)
		now := r.clock.Now()
		r.report(p.job, job.Result{Message: SkippedDependencyMessage, Start: now, End: now, Final: true})
		n++
	}
}

// strand skips whatever is left in the queue and describes it.
func (r *Runner) strand(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	names := make([]string, 0, len(r.queue))
	for _, p := range r.queue {
		names = append(names, p.job.Name)
		logger.Error("Cyclic or invalid dependency detected.", "job", p.job.Name, "prereqs", p.job.Prereqs)
		r.markSkipped(p.job.Name)
		now := r.clock.Now()
		r.report(p.job, job.Result{Message: CyclicDependencyMessage, Start: now, End: now, Final: true})
	}
	r.queue = nil
	r.queued.Store(0)
	return &DependencyError{Jobs: names}
}

// abort stops every running process and discards its capture. All
// processes are signalled before any is waited for, so the grace periods
// overlap.
func (r *Runner) abort(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for _, s := range r.slots {
		if s == nil {
			continue
		}
		logger.Warn("Stopping job on cancellation.", "job", s.job.Name, "pid", s.proc.Pid())
		if err := s.proc.Terminate(); err != nil {
			logger.Error("Failed to terminate process.", "job", s.job.Name, "error", err)
		}
	}
	for i, s := range r.slots {
		if s == nil {
			continue
		}
		if err := s.proc.Stop(r.cfg.KillGrace); err != nil {
			logger.Error("Failed to stop process.", "job", s.job.Name, "error", err)
		}
		name := s.out.Name()
		s.out.Close()
		os.Remove(name)
		r.slots[i] = nil
		r.running.Add(-1)
	}
}
