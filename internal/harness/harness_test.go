package harness

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/specialistvlad/burstrun/internal/events"
	"github.com/specialistvlad/burstrun/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []events.Event
	err    error
}

func (s *recordingSink) Publish(ev events.Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Close() error { return nil }

// fixedClock returns a clock that advances by step on every call.
func fixedClock(step time.Duration) func() time.Time {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func result(code int, d time.Duration, out string) job.Result {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return job.Result{ReturnCode: code, Output: out, Start: start, End: start.Add(d), Final: true}
}

func TestStatus(t *testing.T) {
	testCases := []struct {
		name       string
		job        *job.Job
		res        job.Result
		wantStatus string
		wantPass   bool
	}{
		{"pass", &job.Job{Name: "a"}, result(0, 0, ""), "OK", true},
		{"expected non-zero", &job.Job{Name: "a", ExpectExitCode: 2}, result(2, 0, ""), "OK", true},
		{"wrong code", &job.Job{Name: "a"}, result(1, 0, ""), "FAILED (CODE 1)", false},
		{"killed by signal", &job.Job{Name: "a"}, result(-1, 0, ""), "FAILED (CODE -1)", false},
		{"timeout", &job.Job{Name: "a"}, result(job.ReturnCodeTimeout, 0, ""), "FAILED (TIMEOUT)", false},
		{"caveats", &job.Job{Name: "a", Caveats: []string{"SCALED", "HEAVY"}}, result(0, 0, ""), "[SCALED, HEAVY] OK", true},
		{"expected output found", &job.Job{Name: "a", ExpectOut: `done in \d+s`}, result(0, 0, "done in 3s\n"), "OK", true},
		{"expected output missing", &job.Job{Name: "a", ExpectOut: "done"}, result(0, 0, "crashed\n"), "FAILED (EXPECTED OUTPUT MISSING)", false},
		{"output checked before code", &job.Job{Name: "a", ExpectOut: "done"}, result(4, 0, ""), "FAILED (EXPECTED OUTPUT MISSING)", false},
		{"absent output present", &job.Job{Name: "a", AbsentOut: "WARNING"}, result(0, 0, "WARNING: slow\n"), "FAILED (OUTPUT NOT ABSENT)", false},
		{"error message", &job.Job{Name: "a", Errors: []string{"Segmentation fault"}}, result(0, 0, "Segmentation fault\n"), "FAILED (ERRMSG)", false},
		{"code before error message", &job.Job{Name: "a", Errors: []string{"Segmentation fault"}}, result(139, 0, "Segmentation fault\n"), "FAILED (CODE 139)", false},
		{"timeout before output", &job.Job{Name: "a", ExpectOut: "done"}, result(job.ReturnCodeTimeout, 0, ""), "FAILED (TIMEOUT)", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, pass := Status(tc.job, tc.res)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantPass, pass)
		})
	}
}

func TestFormatLine(t *testing.T) {
	line := FormatLine("unit", "OK", 1234*time.Millisecond)
	assert.True(t, strings.HasPrefix(line, "unit ....."))
	assert.True(t, strings.HasSuffix(line, " OK [1.23s]"))
	assert.Len(t, strings.TrimSuffix(line, " [1.23s]"), LineWidth)

	long := FormatLine(strings.Repeat("n", 100), "OK", 0)
	assert.Contains(t, long, " ... OK [0.00s]")
}

func TestHarness_FinalizePrintsFailedOutput(t *testing.T) {
	// --- Arrange ---
	var out bytes.Buffer
	sink := &recordingSink{}
	h := New(&out, Options{RunID: "run-1", Sink: sink, Now: fixedClock(0)})

	// --- Act ---
	okPass := h.Finalize(&job.Job{Name: "good"}, result(0, time.Second, "all fine\n"))
	badPass := h.Finalize(&job.Job{Name: "bad"}, result(3, 2*time.Second, "line one\nline two\n"))

	// --- Assert ---
	assert.True(t, okPass)
	assert.False(t, badPass)
	printed := out.String()
	assert.NotContains(t, printed, "all fine")
	assert.Contains(t, printed, "bad: line one\nbad: line two\n")
	assert.Contains(t, printed, "FAILED (CODE 3) [2.00s] (reprint)\n")

	want := []events.Event{
		{RunID: "run-1", Kind: events.KindResult, Job: "good", Status: "OK", DurationMS: 1000},
		{RunID: "run-1", Kind: events.KindResult, Job: "bad", Status: "FAILED (CODE 3)", ReturnCode: 3, DurationMS: 2000},
	}
	if diff := cmp.Diff(want, sink.events, cmpopts.IgnoreFields(events.Event{}, "Time")); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Summary{Passed: 1, Failed: 1}, h.Summary())
}

func TestHarness_VerboseAndQuiet(t *testing.T) {
	var verbose, quiet bytes.Buffer

	New(&verbose, Options{Verbose: true}).Finalize(&job.Job{Name: "good"}, result(0, 0, "hello\n"))
	New(&quiet, Options{Quiet: true}).Finalize(&job.Job{Name: "bad"}, result(1, 0, "oops\n"))

	assert.Contains(t, verbose.String(), "good: hello\n")
	assert.NotContains(t, quiet.String(), "oops")
	assert.Contains(t, quiet.String(), "FAILED (CODE 1)")
}

func TestHarness_ReportAndSkip(t *testing.T) {
	// --- Arrange ---
	var out bytes.Buffer
	sink := &recordingSink{}
	h := New(&out, Options{Sink: sink})

	// --- Act ---
	h.Report(&job.Job{Name: "slow"}, job.Result{Message: "RUNNING...", Final: false})
	h.Report(&job.Job{Name: "child"}, job.Result{Message: "skipped (skipped dependency)", Final: true})
	h.Skip(&job.Job{Name: "docs", SkipReason: "no toolchain"})
	h.LaunchFailed(&job.Job{Name: "broken"}, errors.New("exec: not found"))

	// --- Assert ---
	printed := out.String()
	assert.Contains(t, printed, "slow ")
	assert.Contains(t, printed, " RUNNING... [")
	assert.Contains(t, printed, " skipped (skipped dependency) [")
	assert.Contains(t, printed, " skipped (no toolchain) [")
	assert.Contains(t, printed, " FAILED (LAUNCH) [")
	assert.Contains(t, printed, "broken: exec: not found\n")

	s := h.Summary()
	assert.Equal(t, 0, s.Passed)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, 1, s.Failed)

	require.Len(t, sink.events, 4)
	assert.Equal(t, events.KindProgress, sink.events[0].Kind)
	assert.Equal(t, events.KindResult, sink.events[1].Kind)
}

func TestHarness_CountsByOutcomeNotStatusText(t *testing.T) {
	// --- Arrange ---
	var out bytes.Buffer
	h := New(&out, Options{})

	// --- Act ---
	h.Skip(&job.Job{Name: "mac", SkipReason: "NOT OK on mac"})
	h.Report(&job.Job{Name: "child"}, job.Result{Message: "skipped (OK prerequisite was skipped)", Final: true})
	h.Finalize(&job.Job{Name: "weird", ExpectExitCode: 1}, result(0, 0, "skipped\n"))

	// --- Assert ---
	assert.Equal(t, Summary{Skipped: 2, Failed: 1}, h.Summary())
}

func TestHarness_FailureNotes(t *testing.T) {
	testCases := []struct {
		name string
		job  *job.Job
		out  string
		want string
	}{
		{
			name: "missing pattern",
			job:  &job.Job{Name: "a", ExpectOut: `converged in \d+`},
			out:  "diverged\n",
			want: "a: Unable to match the following pattern against the program's output: converged in \\d+\n",
		},
		{
			name: "missing literal",
			job:  &job.Job{Name: "a", ExpectOut: "a+b", MatchLiteral: true},
			out:  "ab\n",
			want: "a: Unable to match the following literal against the program's output: a+b\n",
		},
		{
			name: "unexpected pattern",
			job:  &job.Job{Name: "a", AbsentOut: "NaN"},
			out:  "residual NaN\n",
			want: "a: Matched the following pattern, which we did NOT expect: NaN\n",
		},
		{
			name: "error message",
			job:  &job.Job{Name: "a", Errors: []string{"terminate called"}},
			out:  "terminate called after throwing\n",
			want: "a: Found error message in output: terminate called\n",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer

			New(&out, Options{}).Finalize(tc.job, result(0, 0, tc.out))

			assert.Contains(t, out.String(), tc.want)
		})
	}
}

func TestHarness_ResultFiles(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	var out, results bytes.Buffer
	h := New(&out, Options{Quiet: true, Results: &results, SepFilesFailed: true, SepDir: dir})

	// --- Act ---
	h.Finalize(&job.Job{Name: "good"}, result(0, time.Second, "fine\n"))
	h.Finalize(&job.Job{Name: "suite/bad"}, result(2, 0, "broken\n"))
	h.Skip(&job.Job{Name: "later", SkipReason: "disabled"})
	h.LaunchFailed(&job.Job{Name: "gone"}, errors.New("exec: not found"))

	// --- Assert ---
	require.NoError(t, h.FileErr())
	combined := results.String()
	assert.Contains(t, combined, " OK [1.00s]\ngood: fine\n")
	assert.Contains(t, combined, " FAILED (CODE 2) [0.00s]\nsuite/bad: broken\n")
	assert.Contains(t, combined, "gone: exec: not found\n")
	assert.NotContains(t, combined, "later")
	assert.NotContains(t, out.String(), "broken", "quiet keeps output off the terminal")

	bad, err := os.ReadFile(filepath.Join(dir, "suite_bad.FAILED.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(bad), "suite/bad: broken\n")
	_, err = os.Stat(filepath.Join(dir, "gone.FAILED.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "good.OK.txt"))
	assert.True(t, os.IsNotExist(err), "passing jobs only get a file with SepFilesOK")
}

func TestHarness_SepFilesInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	h := New(&bytes.Buffer{}, Options{SepFilesOK: true})

	h.Finalize(&job.Job{Name: "good", WorkingDir: dir}, result(0, 0, "fine\n"))

	content, err := os.ReadFile(filepath.Join(dir, "good.OK.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "good: fine\n")
}

func TestHarness_FileErr(t *testing.T) {
	h := New(&bytes.Buffer{}, Options{SepFilesFailed: true, SepDir: filepath.Join(t.TempDir(), "missing")})

	h.Finalize(&job.Job{Name: "bad"}, result(1, 0, ""))

	assert.Error(t, h.FileErr())
}

func TestHarness_PrintSummary(t *testing.T) {
	testCases := []struct {
		name       string
		fail       bool
		wantTable  bool
		wantTotals string
	}{
		{name: "all passed", fail: false, wantTable: false, wantTotals: "1 passed, 0 skipped, 0 failed\n"},
		{name: "with failure", fail: true, wantTable: true, wantTotals: "1 passed, 0 skipped, 1 FAILED\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			var out bytes.Buffer
			sink := &recordingSink{err: errors.New("sink down")}
			h := New(&out, Options{Sink: sink, Now: fixedClock(500 * time.Millisecond)})
			h.Finalize(&job.Job{Name: "a"}, result(0, 0, ""))
			if tc.fail {
				h.Finalize(&job.Job{Name: "b"}, result(1, 0, ""))
			}

			// --- Act ---
			s := h.PrintSummary()

			// --- Assert ---
			printed := out.String()
			assert.Equal(t, tc.wantTable, strings.Contains(printed, "Final Test Results:"))
			assert.True(t, strings.HasSuffix(printed, tc.wantTotals), printed)
			assert.Contains(t, printed, "Ran ")
			assert.Equal(t, !tc.fail, s.Success())
			last := sink.events[len(sink.events)-1]
			assert.Equal(t, events.KindSummary, last.Kind)
			assert.Equal(t, 1, last.Passed)
			assert.ErrorContains(t, h.SinkErr(), "sink down")
		})
	}
}
