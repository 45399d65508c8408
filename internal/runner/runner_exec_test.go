//go:build unix

package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/specialistvlad/burstrun/internal/job"
	"github.com/specialistvlad/burstrun/internal/loadavg"
	"github.com/specialistvlad/burstrun/internal/output"
	"github.com/specialistvlad/burstrun/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RealProcesses(t *testing.T) {
	// --- Arrange ---
	h := &testutil.RecordingHarness{}
	r := New(Config{
		MaxProcesses: 1,
		MinSleep:     time.Millisecond,
		OutputDir:    t.TempDir(),
		KillGrace:    100 * time.Millisecond,
	}, h, WithLoadSensor(loadavg.Static(0)))
	ctx := context.Background()
	begin := time.Now()

	// --- Act ---
	require.NoError(t, r.Submit(ctx, &job.Job{Name: "A"}, "sleep 0.01; echo A", ""))
	require.NoError(t, r.Submit(ctx, &job.Job{Name: "B", Prereqs: []string{"A"}}, "sleep 0.01; echo B >&2", ""))
	require.NoError(t, r.Submit(ctx, &job.Job{Name: "C", Prereqs: []string{"A"}}, "sleep 0.01; exit 4", ""))
	require.NoError(t, r.Submit(ctx, &job.Job{Name: "T", MaxTime: 50 * time.Millisecond}, "echo started; sleep 30", ""))
	require.NoError(t, r.Join(ctx))
	elapsed := time.Since(begin)

	// --- Assert ---
	// T is ready when submitted, so it takes the slot before A's dependents.
	assert.Equal(t, []string{"A", "T", "B", "C"}, h.FinalizedNames())

	a, _ := h.Result("A")
	assert.Equal(t, 0, a.ReturnCode)
	assert.Equal(t, "A\n", a.Output)

	b, _ := h.Result("B")
	assert.Equal(t, "B\n", b.Output)

	c, _ := h.Result("C")
	assert.Equal(t, 4, c.ReturnCode)

	tm, _ := h.Result("T")
	assert.True(t, tm.TimedOut())
	assert.Equal(t, "started\n"+output.TimeoutBanner, tm.Output)
	assert.True(t, strings.HasPrefix(tm.Message, "TIMEOUT"))

	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 10*time.Second)
}

func TestPoll_DoesNotWaitForTimedOutProcess(t *testing.T) {
	// --- Arrange ---
	h := &testutil.RecordingHarness{}
	r := New(Config{
		MaxProcesses: 2,
		MinSleep:     10 * time.Millisecond,
		OutputDir:    t.TempDir(),
		KillGrace:    time.Second,
	}, h, WithLoadSensor(loadavg.Static(0)))
	ctx := context.Background()
	require.NoError(t, r.Submit(ctx, &job.Job{Name: "stubborn", MaxTime: 100 * time.Millisecond}, `trap "" TERM; sleep 5`, ""))
	require.NoError(t, r.Submit(ctx, &job.Job{Name: "quick"}, "sleep 0.3", ""))
	time.Sleep(200 * time.Millisecond)

	// --- Act ---
	start := time.Now()
	r.Poll(ctx, 10*time.Millisecond)
	took := time.Since(start)

	// --- Assert ---
	assert.Less(t, took, 250*time.Millisecond, "one pass must not sit out the kill grace")
	assert.Empty(t, h.FinalizedNames())

	// The neighbour is still detected while the stubborn job is in its grace period.
	require.NoError(t, r.Join(ctx))
	assert.Equal(t, []string{"quick", "stubborn"}, h.FinalizedNames())
	res, _ := h.Result("stubborn")
	assert.True(t, res.TimedOut())
}
