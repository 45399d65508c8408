package runner

import (
	"context"

	"github.com/specialistvlad/burstrun/internal/ctxlog"
)

// admit holds the caller while the system load is at or above the ceiling.
// It never holds when no slot is occupied, since nothing could free one, nor
// when every slot is occupied, since the slot wait takes over from there.
func (r *Runner) admit(ctx context.Context) error {
	if r.cfg.LoadCeiling <= 0 {
		return nil
	}
	logged := false
	for {
		n := r.occupied()
		if n == 0 || n >= len(r.slots) {
			return nil
		}
		if !r.overloaded(ctx) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !logged {
			ctxlog.FromContext(ctx).Debug("Load ceiling reached, holding new jobs.", "ceiling", r.cfg.LoadCeiling, "running", n)
			logged = true
		}
		r.poll(ctx, r.cfg.LoadSleep)
	}
}

// overloaded samples the sensor. An unreadable load average never holds jobs.
func (r *Runner) overloaded(ctx context.Context) bool {
	load, err := r.sensor.LoadAverage()
	if err != nil {
		ctxlog.FromContext(ctx).Debug("Load average unavailable, admitting job.", "error", err)
		return false
	}
	return load >= r.cfg.LoadCeiling
}
