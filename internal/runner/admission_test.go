package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/specialistvlad/burstrun/internal/job"
	"github.com/specialistvlad/burstrun/internal/loadavg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSensor struct{}

func (failingSensor) LoadAverage() (float64, error) {
	return 0, errors.New("no /proc here")
}

func TestAdmit_AlwaysStartsOneJobWhenIdle(t *testing.T) {
	// --- Arrange ---
	f := newFixture(t, Config{MaxProcesses: 4, LoadCeiling: 1}, WithLoadSensor(loadavg.Static(100)))

	// --- Act ---
	f.submit(t, &job.Job{Name: "a"}, time.Second)

	// --- Assert ---
	assert.Equal(t, []string{"run-a"}, f.launcher.Launched())
	assert.Empty(t, f.clock.Sleeps(), "an idle runner admits without waiting")
	require.NoError(t, f.runner.Join(context.Background()))
}

func TestAdmit_HoldsWhileOverloaded(t *testing.T) {
	// --- Arrange ---
	f := newFixture(t, Config{MaxProcesses: 4, LoadCeiling: 1}, WithLoadSensor(loadavg.Static(100)))
	f.submit(t, &job.Job{Name: "a"}, time.Second)

	// --- Act ---
	f.submit(t, &job.Job{Name: "b"}, time.Second)

	// --- Assert ---
	// "b" only starts once "a" has left and the runner is idle again.
	assert.Equal(t, []string{"a"}, f.harness.FinalizedNames())
	assert.Equal(t, 1, f.runner.Stats().Running)
	sleeps := f.clock.Sleeps()
	require.NotEmpty(t, sleeps)
	for _, d := range sleeps {
		assert.Equal(t, DefaultLoadSleep, d)
	}
	require.NoError(t, f.runner.Join(context.Background()))
	assert.Equal(t, 1, f.harness.MaxOverlap())
}

func TestAdmit_GateOpensBelowCeiling(t *testing.T) {
	testCases := []struct {
		name    string
		ceiling float64
		opt     Option
	}{
		{name: "load below ceiling", ceiling: 8, opt: WithLoadSensor(loadavg.Static(2))},
		{name: "gate disabled", ceiling: 0, opt: WithLoadSensor(loadavg.Static(100))},
		{name: "sensor error", ceiling: 8, opt: WithLoadSensor(failingSensor{})},
		{name: "sensor unavailable", ceiling: 8, opt: WithLoadSensor(loadavg.Unavailable{})},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{MaxProcesses: 3, LoadCeiling: tc.ceiling}, tc.opt)

			f.submit(t, &job.Job{Name: "a"}, time.Second)
			f.submit(t, &job.Job{Name: "b"}, time.Second)
			f.submit(t, &job.Job{Name: "c"}, time.Second)

			assert.Equal(t, 3, f.runner.Stats().Running)
			assert.Empty(t, f.clock.Sleeps())
			require.NoError(t, f.runner.Join(context.Background()))
		})
	}
}

func TestAdmit_CancelledWhileHeld(t *testing.T) {
	f := newFixture(t, Config{MaxProcesses: 2, LoadCeiling: 1}, WithLoadSensor(loadavg.Static(100)))
	f.submit(t, &job.Job{Name: "a"}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.runner.Submit(ctx, &job.Job{Name: "b"}, f.cmd("b", 0, 0), "")

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"run-a"}, f.launcher.Launched())
}
