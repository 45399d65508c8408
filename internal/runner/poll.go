package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/specialistvlad/burstrun/internal/ctxlog"
	"github.com/specialistvlad/burstrun/internal/job"
	"github.com/specialistvlad/burstrun/internal/output"
)

// Poll makes one pass over the occupied slots. Exited processes are
// finalized and their slots freed; processes past their max time are
// signalled and finalized as timed out once they are gone. Poll never waits
// on a process: if no slot was freed it sleeps for minSleep and returns.
func (r *Runner) Poll(ctx context.Context, minSleep time.Duration) {
	r.poll(ctx, minSleep)
}

func (r *Runner) poll(ctx context.Context, minSleep time.Duration) int {
	freed := 0
	for i, s := range r.slots {
		if s == nil {
			continue
		}
		now := r.clock.Now()
		elapsed := now.Sub(s.start)
		timedOut := s.job.MaxTime > 0 && elapsed > s.job.MaxTime

		if timedOut && !s.proc.Exited() {
			r.expire(ctx, s, now)
		}
		if s.proc.Exited() {
			r.slots[i] = nil
			r.running.Add(-1)
			r.finalize(ctx, s, timedOut)
			r.lastProgress = r.clock.Now()
			freed++
			continue
		}
		if timedOut {
			continue
		}

		if _, done := r.reported[s.job.Name]; done {
			continue
		}
		if now.Sub(r.lastProgress) > r.cfg.ProgressInterval && elapsed > s.job.ReportThreshold() {
			r.report(s.job, job.Result{Message: RunningMessage, Start: s.start, End: now})
			r.reported[s.job.Name] = struct{}{}
			r.lastProgress = now
		}
	}
	if freed == 0 {
		r.clock.Sleep(minSleep)
	}
	return freed
}

// expire moves a process that ran past its max time one step closer to
// exiting without waiting for it: SIGTERM on the first pass, SIGKILL once
// KillGrace has passed. The slot stays occupied until the process is gone.
func (r *Runner) expire(ctx context.Context, s *slot, now time.Time) {
	logger := ctxlog.FromContext(ctx)
	switch {
	case s.killAt.IsZero():
		logger.Warn("Job exceeded max time, stopping it.", "job", s.job.Name, "max_time", s.job.MaxTime)
		if err := s.proc.Terminate(); err != nil {
			logger.Error("Failed to terminate process.", "job", s.job.Name, "pid", s.proc.Pid(), "error", err)
		}
		s.killAt = now.Add(r.cfg.KillGrace)
	case !s.killed && !now.Before(s.killAt):
		logger.Warn("Job ignored termination, killing it.", "job", s.job.Name, "grace", r.cfg.KillGrace)
		if err := s.proc.Kill(); err != nil {
			logger.Error("Failed to kill process.", "job", s.job.Name, "pid", s.proc.Pid(), "error", err)
		}
		s.killed = true
	}
}

// finalize collects the result of the exited process in s and hands it to
// the harness. The slot has already been released.
func (r *Runner) finalize(ctx context.Context, s *slot, timedOut bool) {
	ctx = ctxlog.With(ctx, "job", s.job.Name)
	logger := ctxlog.FromContext(ctx)
	end := r.clock.Now()

	res := job.Result{Start: s.start, End: end, Final: true}
	res.Output = r.collectOutput(ctx, s)
	if timedOut {
		res.ReturnCode = job.ReturnCodeTimeout
		res.Output += output.TimeoutBanner
		res.Message = fmt.Sprintf("TIMEOUT after %s", s.job.MaxTime)
	} else {
		res.ReturnCode = s.proc.ExitCode()
		res.Message = fmt.Sprintf("exit code %d", res.ReturnCode)
	}

	r.cmdLog.Printf(end, "finished %s (%s) in %s", s.job.Name, res.Message, res.Duration().Round(time.Millisecond))

	if r.harness.Finalize(s.job, res) {
		r.markFinished(s.job.Name)
	} else {
		r.markSkipped(s.job.Name)
	}
	logger.Debug("Job finalized.", "return_code", res.ReturnCode, "duration", res.Duration())
}

// collectOutput reads the capture file back within the output budget and
// removes it. A read failure is logged and surfaced in the output itself so
// the harness still sees the job exactly once.
func (r *Runner) collectOutput(ctx context.Context, s *slot) string {
	logger := ctxlog.FromContext(ctx)
	name := s.out.Name()
	if err := s.out.Close(); err != nil {
		logger.Warn("Failed to close output file.", "path", name, "error", err)
	}
	defer func() {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove output file.", "path", name, "error", err)
		}
	}()

	out, err := output.ReadFile(name, r.cfg.OutputBudget)
	if err != nil {
		logger.Error("Failed to read job output.", "path", name, "error", err)
		return fmt.Sprintf("[unable to read output: %v]\n", err)
	}
	return out
}
