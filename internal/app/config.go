package app

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/specialistvlad/burstrun/internal/job"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	JobPaths []string // hcl/yaml files or directories

	MaxProcesses int
	LoadCeiling  float64
	OutputBudget int
	KillGrace    time.Duration

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	Verbose         bool
	Quiet           bool
	CommandLog      string // file path, empty disables

	RunID             string // generated when empty
	NATSURL           string
	NATSSubjectPrefix string
	EventsURL         string // socket.io server
	EventsNamespace   string

	Match    string // regexp searched in job names, empty selects all
	Group    string // job.GroupAll selects every group
	NotGroup string

	OutputDir    string // holds every result file, created if missing
	ResultFile   string // combined results, empty disables
	SepFilesOK   bool   // <name>.OK.txt per passing job
	SepFilesFail bool   // <name>.FAILED.txt per failing job
}

// writesFiles reports whether results go to files, which silences job output
// on the terminal.
func (c *Config) writesFiles() bool {
	return c.ResultFile != "" || c.SepFilesOK || c.SepFilesFail
}

// NewConfig validates cfg and returns a copy.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.JobPaths) == 0 {
		return nil, errors.New("at least one job path is required")
	}
	if cfg.MaxProcesses < 1 {
		return nil, fmt.Errorf("jobs must be at least 1, got %d", cfg.MaxProcesses)
	}
	if cfg.Verbose && cfg.Quiet {
		return nil, errors.New("verbose and quiet are mutually exclusive")
	}
	if cfg.KillGrace < 0 {
		return nil, errors.New("kill grace cannot be negative")
	}
	if _, err := regexp.Compile(cfg.Match); err != nil {
		return nil, fmt.Errorf("invalid job name pattern: %w", err)
	}
	if cfg.Group == "" {
		cfg.Group = job.GroupAll
	}
	if cfg.NotGroup != "" && cfg.NotGroup == cfg.Group {
		return nil, fmt.Errorf("group and not-group are both %q", cfg.Group)
	}
	return &cfg, nil
}
