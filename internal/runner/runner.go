package runner

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/burstrun/internal/job"
	"github.com/specialistvlad/burstrun/internal/loadavg"
	"github.com/specialistvlad/burstrun/internal/output"
	"github.com/specialistvlad/burstrun/internal/process"
)

const (
	// DefaultMinSleep is the poll cadence when no slot frees up.
	DefaultMinSleep = 50 * time.Millisecond
	// DefaultLoadSleep is the poll cadence while the load gate holds.
	DefaultLoadSleep = 500 * time.Millisecond
	// DefaultProgressInterval is how long the runner must go without
	// progress before it emits a "still running" notice.
	DefaultProgressInterval = 10 * time.Second
	// DefaultLoadCeiling matches the default of the -l flag.
	DefaultLoadCeiling = 64.0

	// RunningMessage is the status line of a progress notice.
	RunningMessage = "RUNNING..."
	// SkippedDependencyMessage is the status of a job skipped because one of
	// its prerequisites was skipped.
	SkippedDependencyMessage = "skipped (skipped dependency)"
	// CyclicDependencyMessage is the status of a job whose prerequisites can
	// never be satisfied.
	CyclicDependencyMessage = "skipped (cyclic or invalid dependency)"
)

// Harness receives the result of every job that reached a slot.
type Harness interface {
	// Finalize is called exactly once per launched job. Returning true
	// records the job as finished, false as skipped; only prerequisite
	// resolution depends on the distinction.
	Finalize(j *job.Job, res job.Result) bool
}

// Reporter receives progress notices and synthesized results for jobs that
// never reached a slot.
type Reporter interface {
	Report(j *job.Job, res job.Result)
}

// Clock abstracts time for the poll loop.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Config holds the runner's tuning knobs. Zero values select the defaults.
type Config struct {
	// MaxProcesses is the number of slots. Values < 1 mean 1.
	MaxProcesses int
	// LoadCeiling holds back new jobs while the load average is at or above
	// it. Values <= 0 disable the gate.
	LoadCeiling float64
	// MinSleep is the poll cadence.
	MinSleep time.Duration
	// LoadSleep is the poll cadence while the load gate holds.
	LoadSleep time.Duration
	// OutputBudget caps the bytes of captured output per job. Negative
	// disables trimming.
	OutputBudget int
	// ProgressInterval is the quiet period before a "still running" notice.
	ProgressInterval time.Duration
	// KillGrace is how long a timed out process gets between SIGTERM and
	// SIGKILL.
	KillGrace time.Duration
	// OutputDir holds the per-job capture files. Empty means os.TempDir.
	OutputDir string
}

func (c Config) withDefaults() Config {
	if c.MaxProcesses < 1 {
		c.MaxProcesses = 1
	}
	if c.MinSleep <= 0 {
		c.MinSleep = DefaultMinSleep
	}
	if c.LoadSleep <= 0 {
		c.LoadSleep = DefaultLoadSleep
	}
	if c.OutputBudget == 0 {
		c.OutputBudget = output.DefaultBudget
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.KillGrace <= 0 {
		c.KillGrace = process.DefaultKillGrace
	}
	return c
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLauncher replaces the os/exec launcher.
func WithLauncher(l process.Launcher) Option {
	return func(r *Runner) { r.launcher = l }
}

// WithLoadSensor replaces the procfs load sensor.
func WithLoadSensor(s loadavg.Sensor) Option {
	return func(r *Runner) { r.sensor = s }
}

// WithReporter sets the progress reporter. By default the harness is used
// when it implements Reporter.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) { r.reporter = rep }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithCommandLog records every command started and finished to w.
func WithCommandLog(w io.Writer) Option {
	return func(r *Runner) { r.cmdLog = newCommandLog(w) }
}

// slot is one unit of concurrency. A nil *slot in Runner.slots is free.
type slot struct {
	proc    process.Process
	command string
	job     *job.Job
	start   time.Time
	out     *os.File

	// killAt is set once the job ran past its max time and was sent
	// SIGTERM; SIGKILL follows at that instant.
	killAt time.Time
	killed bool
}

// pending is a wait queue entry.
type pending struct {
	job     *job.Job
	command string
	dir     string
}

// Stats is a point-in-time view of the runner's bookkeeping.
type Stats struct {
	Running  int `json:"running"`
	Queued   int `json:"queued"`
	Finished int `json:"finished"`
	Skipped  int `json:"skipped"`
}

// Runner is the parallel job runner. Create it with New.
type Runner struct {
	cfg      Config
	harness  Harness
	reporter Reporter
	launcher process.Launcher
	sensor   loadavg.Sensor
	clock    Clock
	cmdLog   *commandLog

	slots    []*slot
	queue    []pending
	finished map[string]struct{}
	skipped  map[string]struct{}
	reported map[string]struct{}
	states   map[string]job.State

	// lastProgress is shared by all slots: it moves whenever a slot frees or
	// a notice is emitted.
	lastProgress time.Time

	running   atomic.Int64
	queued    atomic.Int64
	finishedN atomic.Int64
	skippedN  atomic.Int64
}

// New creates a runner that reports results to h.
func New(cfg Config, h Harness, opts ...Option) *Runner {
	cfg = cfg.withDefaults()
	r := &Runner{
		cfg:      cfg,
		harness:  h,
		launcher: process.NewExecLauncher(),
		clock:    realClock{},
		slots:    make([]*slot, cfg.MaxProcesses),
		finished: make(map[string]struct{}),
		skipped:  make(map[string]struct{}),
		reported: make(map[string]struct{}),
		states:   make(map[string]job.State),
	}
	if rep, ok := h.(Reporter); ok {
		r.reporter = rep
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sensor == nil {
		r.sensor = loadavg.Default()
	}
	r.lastProgress = r.clock.Now()
	return r
}

// Stats returns the current counters. It is safe to call from any goroutine.
func (r *Runner) Stats() Stats {
	return Stats{
		Running:  int(r.running.Load()),
		Queued:   int(r.queued.Load()),
		Finished: int(r.finishedN.Load()),
		Skipped:  int(r.skippedN.Load()),
	}
}

// State returns the lifecycle state of the named job and whether the runner
// knows it.
func (r *Runner) State(name string) (job.State, bool) {
	s, ok := r.states[name]
	return s, ok
}

// occupied returns the number of slots holding a process.
func (r *Runner) occupied() int {
	n := 0
	for _, s := range r.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// freeSlot returns the lowest free slot index, or -1.
func (r *Runner) freeSlot() int {
	for i, s := range r.slots {
		if s == nil {
			return i
		}
	}
	return -1
}

// prereqsFinished reports whether every prerequisite of j has finished.
func (r *Runner) prereqsFinished(j *job.Job) bool {
	for _, p := range j.Prereqs {
		if _, ok := r.finished[p]; !ok {
			return false
		}
	}
	return true
}

// prereqSkipped returns the first prerequisite of j found in the skipped set.
func (r *Runner) prereqSkipped(j *job.Job) (string, bool) {
	for _, p := range j.Prereqs {
		if _, ok := r.skipped[p]; ok {
			return p, true
		}
	}
	return "", false
}

func (r *Runner) markFinished(name string) {
	r.finished[name] = struct{}{}
	r.states[name] = job.Finished
	r.finishedN.Add(1)
}

func (r *Runner) markSkipped(name string) {
	r.skipped[name] = struct{}{}
	r.states[name] = job.Skipped
	r.skippedN.Add(1)
}

func (r *Runner) report(j *job.Job, res job.Result) {
	if r.reporter != nil {
		r.reporter.Report(j, res)
	}
}
