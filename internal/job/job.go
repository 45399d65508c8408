// Package job defines the unit of work handed to the runner: a named shell
// command with a deadline and a set of prerequisite job names.
package job

import (
	"fmt"
	"time"
)

// ReturnCodeTimeout is the return code reported for a job that was terminated
// because it exceeded its MaxTime. It cannot collide with a real exit status,
// which is either in 0..255 or -1 for signal-terminated processes.
const ReturnCodeTimeout = -1024

// DefaultMaxTime is applied by loaders when a job does not declare one.
const DefaultMaxTime = 300 * time.Second

// Job is a single named unit of work backed by an external command.
//
// The runner treats a Job as read-only data, with the exception of Caveats,
// which the harness may append to from its finalize callback.
type Job struct {
	// Name uniquely identifies the job within a run.
	Name string
	// Command is the shell command line executed for this job.
	Command string
	// WorkingDir is the directory the command runs in. Empty means the
	// current working directory of the runner.
	WorkingDir string
	// MaxTime is the wall time after which the job is forcibly terminated.
	// Zero disables the deadline.
	MaxTime time.Duration
	// MinReportedTime is the elapsed time after which a "still running"
	// notice may be emitted. The effective threshold is never below
	// one tenth of MaxTime.
	MinReportedTime time.Duration
	// Prereqs lists job names that must finish before this job may start.
	Prereqs []string
	// ExpectExitCode is the return code the harness treats as a pass.
	ExpectExitCode int
	// ExpectOut must occur in the output for the job to pass. It is a
	// regular expression unless MatchLiteral is set.
	ExpectOut string
	// AbsentOut must not occur in the output. MatchLiteral applies to it too.
	AbsentOut string
	// MatchLiteral treats ExpectOut and AbsentOut as plain strings.
	MatchLiteral bool
	// Errors are literal strings that fail the job when found in its output,
	// even with the expected exit code.
	Errors []string
	// Groups are labels used to select a subset of jobs.
	Groups []string
	// SkipReason, when set, means the job is never launched and is reported
	// as skipped with this reason.
	SkipReason string
	// Caveats collects annotations added while the job is being finalized.
	Caveats []string
	// Prepare is invoked immediately before the process is launched, e.g. to
	// stage input files. An error aborts the launch.
	Prepare func() error
}

// AddCaveat records an annotation on the job.
func (j *Job) AddCaveat(caveat string) {
	if caveat == "" {
		return
	}
	j.Caveats = append(j.Caveats, caveat)
}

// ReportThreshold returns the elapsed time after which a running job becomes
// eligible for a "still running" progress notice.
func (j *Job) ReportThreshold() time.Duration {
	threshold := j.MaxTime / 10
	if j.MinReportedTime > threshold {
		threshold = j.MinReportedTime
	}
	return threshold
}

// Validate checks the fields the runner depends on.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job: name is required")
	}
	if j.Command == "" && j.SkipReason == "" {
		return fmt.Errorf("job %q: command is required", j.Name)
	}
	if j.MaxTime < 0 {
		return fmt.Errorf("job %q: max_time cannot be negative", j.Name)
	}
	if !j.MatchLiteral {
		if _, err := compileOutputPattern(j.ExpectOut); err != nil {
			return fmt.Errorf("job %q: expect_out: %w", j.Name, err)
		}
		if _, err := compileOutputPattern(j.AbsentOut); err != nil {
			return fmt.Errorf("job %q: absent_out: %w", j.Name, err)
		}
	}
	for _, p := range j.Prereqs {
		if p == j.Name {
			return fmt.Errorf("job %q: cannot list itself as a prerequisite", j.Name)
		}
	}
	return nil
}

// State is the lifecycle state of a job inside the runner.
type State int

const (
	// Submitted is the initial state of a job known to the runner.
	Submitted State = iota
	// Queued means the job waits for its prerequisites to finish.
	Queued
	// Running means the job occupies a slot.
	Running
	// Finished is terminal: the harness accepted the job's result.
	Finished
	// Skipped is terminal: the job was rejected by the harness, never
	// launched, or depends on a skipped job.
	Skipped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Finished || s == Skipped
}

// Result describes one outcome delivered to the harness, either the final
// result of a run or an intermediate progress notice.
type Result struct {
	// ReturnCode is the process exit status, or ReturnCodeTimeout.
	ReturnCode int
	// Output is the bounded capture of the process's stdout and stderr.
	Output string
	// Message is a short status line, e.g. "RUNNING..." or
	// "skipped (skipped dependency)".
	Message string
	Start   time.Time
	End     time.Time
	// Final is false for progress notices.
	Final bool
}

// TimedOut reports whether the job was terminated for exceeding MaxTime.
func (r Result) TimedOut() bool {
	return r.ReturnCode == ReturnCodeTimeout
}

// Duration is the wall time covered by the result.
func (r Result) Duration() time.Duration {
	if r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start)
}
