package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/specialistvlad/burstrun/internal/app"
	"github.com/specialistvlad/burstrun/internal/events"
	"github.com/specialistvlad/burstrun/internal/job"
	"github.com/specialistvlad/burstrun/internal/output"
	"github.com/specialistvlad/burstrun/internal/process"
	"github.com/specialistvlad/burstrun/internal/runner"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// envPrefix namespaces every environment default.
const envPrefix = "BURSTRUN_"

// envFlags maps flag names to the environment variable that provides their
// default. Short aliases share the variable of their long form.
var envFlags = map[string]string{
	"jobs":             "JOBS",
	"load-average":     "LOAD",
	"output-budget":    "OUTPUT_BUDGET",
	"kill-grace":       "KILL_GRACE",
	"log-format":       "LOG_FORMAT",
	"log-level":        "LOG_LEVEL",
	"healthcheck-port": "HEALTHCHECK_PORT",
	"verbose":          "VERBOSE",
	"quiet":            "QUIET",
	"command-log":      "COMMAND_LOG",
	"run-id":           "RUN_ID",
	"nats-url":         "NATS_URL",
	"nats-subject":     "NATS_SUBJECT",
	"events-url":       "EVENTS_URL",
	"events-namespace": "EVENTS_NAMESPACE",
	"re":               "RE",
	"group":            "GROUP",
	"not-group":        "NOT_GROUP",
	"output-dir":       "OUTPUT_DIR",
	"file":             "RESULT_FILE",
	"sep-files":        "SEP_FILES",
	"sep-files-ok":     "SEP_FILES_OK",
	"sep-files-fail":   "SEP_FILES_FAIL",
}

var aliases = map[string]string{
	"j": "jobs",
	"l": "load-average",
	"v": "verbose",
	"q": "quiet",
	"g": "group",
	"o": "output-dir",
	"f": "file",
	"x": "sep-files",
	"a": "sep-files-fail",
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
//
// Flags left unset fall back to BURSTRUN_* environment variables, then to the
// file named by --env-file, then to the built-in defaults.
func Parse(args []string, out io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("burstrun", flag.ContinueOnError)
	flagSet.SetOutput(out)

	flagSet.Usage = func() {
		fmt.Fprint(out, `
burstrun - Runs a suite of shell jobs in parallel, honouring prerequisites.

Usage:
  burstrun [options] JOB_PATH [JOB_PATH...]

Arguments:
  JOB_PATH
    Path to a .hcl/.yaml job file or a directory containing job files.

Options:
`)
		flagSet.PrintDefaults()
	}

	var cfg app.Config
	flagSet.IntVar(&cfg.MaxProcesses, "jobs", 1, "Maximum number of jobs running at once.")
	flagSet.IntVar(&cfg.MaxProcesses, "j", 1, "Maximum number of jobs running at once (shorthand).")
	flagSet.Float64Var(&cfg.LoadCeiling, "load-average", runner.DefaultLoadCeiling, "Hold new jobs while the 1-minute load average is at or above this value. 0 disables the gate.")
	flagSet.Float64Var(&cfg.LoadCeiling, "l", runner.DefaultLoadCeiling, "Load average ceiling (shorthand).")
	flagSet.IntVar(&cfg.OutputBudget, "output-budget", output.DefaultBudget, "Maximum bytes of output kept per job.")
	flagSet.DurationVar(&cfg.KillGrace, "kill-grace", process.DefaultKillGrace, "Time between SIGTERM and SIGKILL for timed out jobs.")
	flagSet.StringVar(&cfg.LogFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	flagSet.StringVar(&cfg.LogLevel, "log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flagSet.IntVar(&cfg.HealthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	flagSet.BoolVar(&cfg.Verbose, "verbose", false, "Print the output of every job, not only failed ones.")
	flagSet.BoolVar(&cfg.Verbose, "v", false, "Verbose (shorthand).")
	flagSet.BoolVar(&cfg.Quiet, "quiet", false, "Never print job output.")
	flagSet.BoolVar(&cfg.Quiet, "q", false, "Quiet (shorthand).")
	flagSet.StringVar(&cfg.CommandLog, "command-log", "", "Append started/finished lines for every command to this file.")
	flagSet.StringVar(&cfg.RunID, "run-id", "", "Identifier stamped on published events. Generated when empty.")
	flagSet.StringVar(&cfg.NATSURL, "nats-url", "", "Publish result events to this NATS server.")
	flagSet.StringVar(&cfg.NATSSubjectPrefix, "nats-subject", events.DefaultSubjectPrefix, "Subject prefix for NATS events.")
	flagSet.StringVar(&cfg.EventsURL, "events-url", "", "Stream result events to this socket.io server.")
	flagSet.StringVar(&cfg.EventsNamespace, "events-namespace", "/", "socket.io namespace for streamed events.")
	envFile := flagSet.String("env-file", "", "Read BURSTRUN_* defaults from this dotenv file.")

	flagSet.StringVar(&cfg.Match, "re", "", "Only run jobs whose name matches this regular expression.")
	flagSet.StringVar(&cfg.Group, "group", job.GroupAll, "Only run jobs in this group.")
	flagSet.StringVar(&cfg.Group, "g", job.GroupAll, "Group (shorthand).")
	flagSet.StringVar(&cfg.NotGroup, "not-group", "", "Do not run jobs in this group.")
	flagSet.StringVar(&cfg.OutputDir, "output-dir", "", "Save all result files in this directory, creating it if necessary.")
	flagSet.StringVar(&cfg.OutputDir, "o", "", "Output dir (shorthand).")
	flagSet.StringVar(&cfg.ResultFile, "file", "", "Write every result and its output to this file. Only quiet output to the terminal.")
	flagSet.StringVar(&cfg.ResultFile, "f", "", "Result file (shorthand).")
	var sepFiles bool
	flagSet.BoolVar(&sepFiles, "sep-files", false, "Write the output of each job to <name>.<result>.txt. Same as --sep-files-ok --sep-files-fail.")
	flagSet.BoolVar(&sepFiles, "x", false, "Sep files (shorthand).")
	flagSet.BoolVar(&cfg.SepFilesOK, "sep-files-ok", false, "Write the output of each passing job to a separate file.")
	flagSet.BoolVar(&cfg.SepFilesFail, "sep-files-fail", false, "Write the output of each failed job to a separate file. Only quiet output to the terminal.")
	flagSet.BoolVar(&cfg.SepFilesFail, "a", false, "Sep files fail (shorthand).")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	fileEnv := map[string]string{}
	if *envFile != "" {
		var err error
		if fileEnv, err = godotenv.Read(*envFile); err != nil {
			return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("failed to read env file: %v", err)}
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := applyEnv(flagSet, lookup); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	if sepFiles {
		cfg.SepFilesOK, cfg.SepFilesFail = true, true
	}

	cfg.JobPaths = flagSet.Args()
	if len(cfg.JobPaths) == 0 {
		if v, ok := lookup(envPrefix + "JOB_PATHS"); ok && v != "" {
			cfg.JobPaths = filepath.SplitList(v)
		}
	}
	slog.Debug("Job paths determined.", "paths", cfg.JobPaths)

	if len(cfg.JobPaths) == 0 {
		slog.Debug("No job path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

// applyEnv sets every flag the command line left alone from its environment
// variable, if present.
func applyEnv(flagSet *flag.FlagSet, lookup func(string) (string, bool)) error {
	explicit := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) {
		name := f.Name
		if long, ok := aliases[name]; ok {
			name = long
		}
		explicit[name] = true
	})

	for name, suffix := range envFlags {
		if explicit[name] {
			continue
		}
		v, ok := lookup(envPrefix + suffix)
		if !ok {
			continue
		}
		if err := flagSet.Set(name, v); err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, suffix, err)
		}
	}
	return nil
}
