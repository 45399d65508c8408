package testutil

import (
	"bytes"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/burstrun/internal/job"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// DumpLogs writes the captured logs to the test log when BURSTRUN_TEST_LOGS
// is set to "true".
func DumpLogs(t *testing.T, logs *SafeBuffer) {
	t.Helper()
	if os.Getenv("BURSTRUN_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
	}
}

// Finalized is one call to RecordingHarness.Finalize.
type Finalized struct {
	Job    *job.Job
	Result job.Result
}

// RecordingHarness records every result and notice it receives.
type RecordingHarness struct {
	mu        sync.Mutex
	finalized []Finalized
	reports   []Finalized

	// Verdict decides the return value of Finalize. Nil means "finished"
	// for every job whose return code matches its expected exit code.
	Verdict func(j *job.Job, res job.Result) bool
}

// Finalize implements runner.Harness.
func (h *RecordingHarness) Finalize(j *job.Job, res job.Result) bool {
	h.mu.Lock()
	h.finalized = append(h.finalized, Finalized{Job: j, Result: res})
	verdict := h.Verdict
	h.mu.Unlock()
	if verdict != nil {
		return verdict(j, res)
	}
	return res.ReturnCode == j.ExpectExitCode
}

// Report implements runner.Reporter.
func (h *RecordingHarness) Report(j *job.Job, res job.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, Finalized{Job: j, Result: res})
}

// Finalized returns the recorded Finalize calls in order.
func (h *RecordingHarness) Finalized() []Finalized {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Finalized(nil), h.finalized...)
}

// Reports returns the recorded Report calls in order.
func (h *RecordingHarness) Reports() []Finalized {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Finalized(nil), h.reports...)
}

// FinalizedNames returns the job names in finalization order.
func (h *RecordingHarness) FinalizedNames() []string {
	var names []string
	for _, f := range h.Finalized() {
		names = append(names, f.Job.Name)
	}
	return names
}

// Result returns the final result recorded for name.
func (h *RecordingHarness) Result(name string) (job.Result, bool) {
	for _, f := range h.Finalized() {
		if f.Job.Name == name {
			return f.Result, true
		}
	}
	return job.Result{}, false
}

// ReportsFor returns the notices recorded for name.
func (h *RecordingHarness) ReportsFor(name string) []job.Result {
	var out []job.Result
	for _, f := range h.Reports() {
		if f.Job.Name == name {
			out = append(out, f.Result)
		}
	}
	return out
}

// MaxOverlap returns the largest number of finalized jobs whose
// [Start, End) intervals overlap at any instant.
func (h *RecordingHarness) MaxOverlap() int {
	type edge struct {
		at    time.Time
		delta int
	}
	var edges []edge
	for _, f := range h.Finalized() {
		edges = append(edges, edge{f.Result.Start, 1}, edge{f.Result.End, -1})
	}
	// Ends sort before starts at the same instant.
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})
	cur, maxSeen := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > maxSeen {
			maxSeen = cur
		}
	}
	return maxSeen
}
