// Package harness interprets job results for the runner: it decides pass or
// fail, prints a result line per job, and summarizes the run.
package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/specialistvlad/burstrun/internal/events"
	"github.com/specialistvlad/burstrun/internal/job"
)

// LineWidth is the width of a result line without its timing suffix.
const LineWidth = 80

const (
	statusOK      = "OK"
	statusTimeout = "FAILED (TIMEOUT)"
	statusLaunch  = "FAILED (LAUNCH)"
)

// Options tunes the harness output.
type Options struct {
	// Verbose prints the output of passing jobs too.
	Verbose bool
	// Quiet suppresses the output of failing jobs.
	Quiet bool
	// RunID is stamped on every published event.
	RunID string
	// Sink receives one event per printed line. Nil discards.
	Sink events.Sink
	// Now is the wall clock. Nil means time.Now.
	Now func() time.Time

	// Results receives the result line and full output of every job that
	// ran, whatever its outcome.
	Results io.Writer
	// SepFilesOK and SepFilesFailed write the result of each passing or
	// failing job to its own <name>.OK.txt or <name>.FAILED.txt.
	SepFilesOK     bool
	SepFilesFailed bool
	// SepDir holds the separate result files. Empty means the job's working
	// directory.
	SepDir string
}

// outcome is how a printed result counts in the summary.
type outcome int

const (
	outcomePassed outcome = iota
	outcomeSkipped
	outcomeFailed
)

// entry is one row of the final results table.
type entry struct {
	name    string
	status  string
	elapsed time.Duration
}

// Harness implements runner.Harness and runner.Reporter.
type Harness struct {
	out  io.Writer
	opts Options

	mu      sync.Mutex
	start   time.Time
	passed  int
	skipped int
	failed  int
	table   []entry
	sinkErr error
	fileErr error
}

// New creates a harness writing to out.
func New(out io.Writer, opts Options) *Harness {
	if opts.Sink == nil {
		opts.Sink = events.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Harness{out: out, opts: opts, start: opts.Now()}
}

// Finalize records the final result of a launched job. Only passing jobs
// count as finished for their dependents.
func (h *Harness) Finalize(j *job.Job, res job.Result) bool {
	status, pass := Status(j, res)
	result := outcomePassed
	if !pass {
		result = outcomeFailed
	}
	h.record(j, res, status, events.KindResult, result)

	out := res.Output
	if note := failureNote(j, res, status); note != "" {
		if out = strings.TrimRight(out, "\n"); out != "" {
			out += "\n"
		}
		out += note
	}
	if h.opts.Verbose || (!pass && !h.opts.Quiet) {
		h.printOutput(j.Name, out)
		h.printf("%s (reprint)\n", FormatLine(j.Name, status, res.Duration()))
	}
	h.writeResultFiles(j, status, pass, res.Duration(), out)
	return pass
}

// Report prints progress notices and results synthesized by the runner for
// jobs that never started. Final results from the runner are always skips.
func (h *Harness) Report(j *job.Job, res job.Result) {
	if !res.Final {
		h.printf("%s\n", FormatLine(j.Name, res.Message, res.Duration()))
		h.publish(events.Event{
			Kind:       events.KindProgress,
			Job:        j.Name,
			Status:     res.Message,
			DurationMS: res.Duration().Milliseconds(),
		})
		return
	}
	h.record(j, res, res.Message, events.KindResult, outcomeSkipped)
}

// Skip reports a job the caller chose not to run.
func (h *Harness) Skip(j *job.Job) {
	now := h.opts.Now()
	h.record(j, job.Result{Start: now, End: now}, fmt.Sprintf("skipped (%s)", j.SkipReason), events.KindResult, outcomeSkipped)
}

// LaunchFailed reports a job whose process could not be started.
func (h *Harness) LaunchFailed(j *job.Job, err error) {
	now := h.opts.Now()
	h.record(j, job.Result{Start: now, End: now}, statusLaunch, events.KindResult, outcomeFailed)
	if !h.opts.Quiet {
		h.printOutput(j.Name, err.Error())
	}
	h.writeResultFiles(j, statusLaunch, false, 0, err.Error())
}

// Status derives the result line status of a final result and whether it
// counts as a pass. Output expectations are checked before the exit code,
// and error messages only once the exit code matched.
func Status(j *job.Job, res job.Result) (string, bool) {
	if res.TimedOut() {
		return statusTimeout, false
	}
	if reason, _ := j.CheckOutput(res.Output); reason != "" {
		return "FAILED (" + reason + ")", false
	}
	if res.ReturnCode != j.ExpectExitCode {
		return fmt.Sprintf("FAILED (CODE %d)", res.ReturnCode), false
	}
	if _, found := j.ErrorMessage(res.Output); found {
		return "FAILED (" + job.ReasonErrorMessage + ")", false
	}
	if len(j.Caveats) > 0 {
		return "[" + strings.Join(j.Caveats, ", ") + "] " + statusOK, true
	}
	return statusOK, true
}

// failureNote explains an output check failure below the job's output.
func failureNote(j *job.Job, res job.Result, status string) string {
	if res.TimedOut() {
		return ""
	}
	kind := "pattern"
	if j.MatchLiteral {
		kind = "literal"
	}
	reason, pattern := j.CheckOutput(res.Output)
	switch {
	case reason == job.ReasonOutputMissing:
		return fmt.Sprintf("Unable to match the following %s against the program's output: %s", kind, pattern)
	case reason == job.ReasonOutputNotAbsent:
		return fmt.Sprintf("Matched the following %s, which we did NOT expect: %s", kind, pattern)
	case strings.Contains(status, job.ReasonErrorMessage):
		msg, _ := j.ErrorMessage(res.Output)
		return fmt.Sprintf("Found error message in output: %s", msg)
	}
	return ""
}

// FormatLine renders "name ....... STATUS [1.23s]".
func FormatLine(name, status string, elapsed time.Duration) string {
	fill := LineWidth - len(name) - len(status) - 2
	if fill < 3 {
		fill = 3
	}
	return fmt.Sprintf("%s %s %s [%.2fs]", name, strings.Repeat(".", fill), status, elapsed.Seconds())
}

func (h *Harness) record(j *job.Job, res job.Result, status string, kind events.Kind, result outcome) {
	h.mu.Lock()
	switch result {
	case outcomePassed:
		h.passed++
	case outcomeSkipped:
		h.skipped++
	default:
		h.failed++
	}
	h.table = append(h.table, entry{name: j.Name, status: status, elapsed: res.Duration()})
	h.mu.Unlock()

	h.printf("%s\n", FormatLine(j.Name, status, res.Duration()))
	h.publish(events.Event{
		Kind:       kind,
		Job:        j.Name,
		Status:     status,
		ReturnCode: res.ReturnCode,
		DurationMS: res.Duration().Milliseconds(),
	})
}

// printOutput prefixes every output line with the job name.
func (h *Harness) printOutput(name, output string) {
	if text := prefixLines(name, output); text != "" {
		h.printf("%s", text)
	}
}

func prefixLines(name, output string) string {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return ""
	}
	var b strings.Builder
	for _, line := range strings.Split(output, "\n") {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

// writeResultFiles saves the result line and output of a job that ran to the
// combined results writer and, if enabled for its outcome, to a file of its
// own.
func (h *Harness) writeResultFiles(j *job.Job, status string, pass bool, elapsed time.Duration, output string) {
	text := FormatLine(j.Name, status, elapsed) + "\n" + prefixLines(j.Name, output)

	if h.opts.Results != nil {
		h.mu.Lock()
		_, err := io.WriteString(h.opts.Results, text)
		h.mu.Unlock()
		h.fileFailed(err)
	}

	if (pass && !h.opts.SepFilesOK) || (!pass && !h.opts.SepFilesFailed) {
		return
	}
	suffix := "FAILED"
	if pass {
		suffix = statusOK
	}
	dir := h.opts.SepDir
	if dir == "" {
		dir = j.WorkingDir
	}
	name := filepath.Join(dir, fileNameReplacer.Replace(j.Name)+"."+suffix+".txt")
	h.fileFailed(os.WriteFile(name, []byte(text), 0o644))
}

func (h *Harness) fileFailed(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fileErr = errors.Join(h.fileErr, err)
}

func (h *Harness) publish(ev events.Event) {
	ev.RunID = h.opts.RunID
	ev.Time = h.opts.Now()
	if err := h.opts.Sink.Publish(ev); err != nil {
		h.mu.Lock()
		if h.sinkErr == nil {
			h.sinkErr = err
		}
		h.mu.Unlock()
	}
}

func (h *Harness) printf(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.out, format, args...)
}

// Summary is the tally of a run.
type Summary struct {
	Passed  int
	Skipped int
	Failed  int
	Elapsed time.Duration
}

// Success reports whether no job failed.
func (s Summary) Success() bool {
	return s.Failed == 0
}

// Summary returns the current tally.
func (h *Harness) Summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Summary{
		Passed:  h.passed,
		Skipped: h.skipped,
		Failed:  h.failed,
		Elapsed: h.opts.Now().Sub(h.start),
	}
}

// SinkErr returns the first error a sink reported, if any.
func (h *Harness) SinkErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinkErr
}

// FileErr returns the errors met while writing result files, if any.
func (h *Harness) FileErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fileErr
}

// PrintSummary reprints the results table when something failed (or always
// when verbose), then the totals, and publishes a summary event.
func (h *Harness) PrintSummary() Summary {
	s := h.Summary()
	rule := strings.Repeat("-", LineWidth)

	h.mu.Lock()
	if h.opts.Verbose || (s.Failed > 0 && !h.opts.Quiet) {
		fmt.Fprintf(h.out, "\n\nFinal Test Results:\n%s\n", rule)
		for _, e := range h.table {
			fmt.Fprintln(h.out, FormatLine(e.name, e.status, e.elapsed))
		}
	}
	fmt.Fprintln(h.out, rule)
	fmt.Fprintf(h.out, "Ran %d tests in %.1f seconds\n", s.Passed+s.Failed, s.Elapsed.Seconds())
	failed := fmt.Sprintf("%d failed", s.Failed)
	if s.Failed > 0 {
		failed = fmt.Sprintf("%d FAILED", s.Failed)
	}
	fmt.Fprintf(h.out, "%d passed, %d skipped, %s\n", s.Passed, s.Skipped, failed)
	h.mu.Unlock()

	h.publish(events.Event{
		Kind:       events.KindSummary,
		DurationMS: s.Elapsed.Milliseconds(),
		Passed:     s.Passed,
		Skipped:    s.Skipped,
		Failed:     s.Failed,
	})
	return s
}
