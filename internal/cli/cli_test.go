package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/burstrun/internal/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	// --- Arrange ---
	out := &bytes.Buffer{}

	// --- Act ---
	cfg, shouldExit, err := Parse([]string{"suite"}, out)

	// --- Assert ---
	require.NoError(t, err)
	require.False(t, shouldExit)
	want := &app.Config{
		JobPaths:          []string{"suite"},
		MaxProcesses:      1,
		LoadCeiling:       64,
		OutputBudget:      100000,
		KillGrace:         2 * time.Second,
		LogFormat:         "text",
		LogLevel:          "warn",
		NATSSubjectPrefix: "burstrun",
		EventsNamespace:   "/",
		Group:             "ALL",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Flags(t *testing.T) {
	args := []string{
		"-j", "8",
		"--load-average", "3.5",
		"--output-budget", "500",
		"--kill-grace", "250ms",
		"--log-format", "JSON",
		"--log-level", "DEBUG",
		"--healthcheck-port", "8080",
		"-v",
		"--command-log", "cmds.log",
		"--run-id", "nightly",
		"--nats-url", "nats://localhost:4222",
		"--nats-subject", "ci",
		"--events-url", "http://localhost:3000",
		"--events-namespace", "/runs",
		"--re", "^solver_",
		"-g", "heavy",
		"--not-group", "slow",
		"-o", "results",
		"-f", "all.txt",
		"-a",
		"a.hcl", "more",
	}

	cfg, shouldExit, err := Parse(args, &bytes.Buffer{})

	require.NoError(t, err)
	require.False(t, shouldExit)
	want := &app.Config{
		JobPaths:          []string{"a.hcl", "more"},
		MaxProcesses:      8,
		LoadCeiling:       3.5,
		OutputBudget:      500,
		KillGrace:         250 * time.Millisecond,
		LogFormat:         "json",
		LogLevel:          "debug",
		HealthcheckPort:   8080,
		Verbose:           true,
		CommandLog:        "cmds.log",
		RunID:             "nightly",
		NATSURL:           "nats://localhost:4222",
		NATSSubjectPrefix: "ci",
		EventsURL:         "http://localhost:3000",
		EventsNamespace:   "/runs",
		Match:             "^solver_",
		Group:             "heavy",
		NotGroup:          "slow",
		OutputDir:         "results",
		ResultFile:        "all.txt",
		SepFilesFail:      true,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_EnvironmentDefaults(t *testing.T) {
	// --- Arrange ---
	t.Setenv("BURSTRUN_JOBS", "4")
	t.Setenv("BURSTRUN_QUIET", "true")
	t.Setenv("BURSTRUN_JOB_PATHS", "one"+string(os.PathListSeparator)+"two")
	t.Setenv("BURSTRUN_LOG_LEVEL", "error")

	// --- Act ---
	cfg, _, err := Parse([]string{"--log-level", "info"}, &bytes.Buffer{})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxProcesses)
	assert.True(t, cfg.Quiet)
	assert.Equal(t, []string{"one", "two"}, cfg.JobPaths)
	assert.Equal(t, "info", cfg.LogLevel, "flags override the environment")
}

func TestParse_ShortAliasBeatsEnvironment(t *testing.T) {
	t.Setenv("BURSTRUN_JOBS", "4")

	cfg, _, err := Parse([]string{"-j", "2", "suite"}, &bytes.Buffer{})

	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxProcesses)
}

func TestParse_EnvFile(t *testing.T) {
	// --- Arrange ---
	envFile := filepath.Join(t.TempDir(), "ci.env")
	require.NoError(t, os.WriteFile(envFile, []byte("BURSTRUN_JOBS=6\nBURSTRUN_NATS_URL=nats://bus:4222\nBURSTRUN_RUN_ID=from-file\n"), 0o600))
	t.Setenv("BURSTRUN_RUN_ID", "from-env")

	// --- Act ---
	cfg, _, err := Parse([]string{"--env-file", envFile, "suite"}, &bytes.Buffer{})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxProcesses)
	assert.Equal(t, "nats://bus:4222", cfg.NATSURL)
	assert.Equal(t, "from-env", cfg.RunID, "the process environment wins over the file")
}

func TestParse_SepFilesSetsBoth(t *testing.T) {
	testCases := []struct {
		name     string
		args     []string
		env      map[string]string
		wantOK   bool
		wantFail bool
	}{
		{name: "short", args: []string{"-x", "s"}, wantOK: true, wantFail: true},
		{name: "long", args: []string{"--sep-files", "s"}, wantOK: true, wantFail: true},
		{name: "ok only", args: []string{"--sep-files-ok", "s"}, wantOK: true},
		{name: "environment", args: []string{"s"}, env: map[string]string{"BURSTRUN_SEP_FILES": "1"}, wantOK: true, wantFail: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, _, err := Parse(tc.args, &bytes.Buffer{})

			require.NoError(t, err)
			assert.Equal(t, tc.wantOK, cfg.SepFilesOK)
			assert.Equal(t, tc.wantFail, cfg.SepFilesFail)
		})
	}
}

func TestParse_ShouldExit(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "help", args: []string{"-h"}},
		{name: "no job path", args: []string{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := &bytes.Buffer{}

			cfg, shouldExit, err := Parse(tc.args, out)

			require.NoError(t, err)
			assert.True(t, shouldExit)
			assert.Nil(t, cfg)
			assert.Contains(t, out.String(), "Usage:")
		})
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		env     map[string]string
		wantMsg string
	}{
		{name: "unknown flag", args: []string{"--nope"}, wantMsg: "flag provided but not defined"},
		{name: "bad log format", args: []string{"--log-format", "xml", "s"}, wantMsg: "invalid log-format"},
		{name: "bad log level", args: []string{"--log-level", "loud", "s"}, wantMsg: "invalid log-level"},
		{name: "zero jobs", args: []string{"-j", "0", "s"}, wantMsg: "jobs must be at least 1"},
		{name: "verbose and quiet", args: []string{"-v", "-q", "s"}, wantMsg: "mutually exclusive"},
		{name: "bad env value", args: []string{"s"}, env: map[string]string{"BURSTRUN_LOAD": "high"}, wantMsg: "invalid BURSTRUN_LOAD"},
		{name: "bad name pattern", args: []string{"--re", "(", "s"}, wantMsg: "invalid job name pattern"},
		{name: "group excludes itself", args: []string{"-g", "heavy", "--not-group", "heavy", "s"}, wantMsg: "group and not-group"},
		{name: "missing env file", args: []string{"--env-file", "/definitely/not/here.env", "s"}, wantMsg: "failed to read env file"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, _, err := Parse(tc.args, &bytes.Buffer{})

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.wantMsg)
		})
	}
}
