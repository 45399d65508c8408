// Package jobfile loads job definitions from HCL and YAML files.
//
// An HCL job file declares one block per job:
//
//	job "unit" {
//	  command           = "go test ./..."
//	  working_dir       = "${dir}/src"
//	  max_time          = "2m"
//	  min_reported_time = "30s"
//	  prereqs           = ["build"]
//	  expect_exit_code  = 0
//	  skip              = ""
//	}
//
// Expressions may reference the process environment as env.NAME and the
// directory containing the file as dir. YAML files carry the same fields
// under a top-level "jobs" list.
package jobfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/specialistvlad/burstrun/internal/ctxlog"
	"github.com/specialistvlad/burstrun/internal/fsutil"
	"github.com/specialistvlad/burstrun/internal/job"
)

var (
	hclExtensions  = []string{".hcl"}
	yamlExtensions = []string{".yaml", ".yml"}
)

// Loader reads job files.
type Loader struct {
	// Environ is exposed to HCL expressions as env.*. Defaults to
	// os.Environ().
	Environ []string
}

// NewLoader creates a loader bound to the current environment.
func NewLoader() *Loader {
	return &Loader{Environ: os.Environ()}
}

// Load reads every job file named by paths, walking directories, and returns
// the jobs in file order and, within a file, in declaration order. Job names
// must be unique across all files.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]*job.Job, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Job file loader started.", "path_count", len(paths))

	files, err := findJobFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no job files found in %s", strings.Join(paths, ", "))
	}
	logger.Debug("Discovered job files.", "count", len(files))

	var jobs []*job.Job
	origin := make(map[string]string)
	for _, file := range files {
		var defs []definition
		if fsutil.HasExtension(file, yamlExtensions...) {
			defs, err = decodeYAMLFile(file)
		} else {
			defs, err = decodeHCLFile(file, l.Environ)
		}
		if err != nil {
			return nil, err
		}

		dir := filepath.Dir(file)
		for _, def := range defs {
			j, err := def.toJob(dir)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if prev, dup := origin[j.Name]; dup {
				return nil, fmt.Errorf("%s: job %q already defined in %s", file, j.Name, prev)
			}
			origin[j.Name] = file
			jobs = append(jobs, j)
		}
		logger.Debug("Loaded job file.", "file", file, "jobs", len(defs))
	}

	logger.Debug("Job file loading complete.", "jobs", len(jobs))
	return jobs, nil
}

// findJobFiles expands paths into a flat, de-duplicated list of job files.
func findJobFiles(paths []string) ([]string, error) {
	all := append(append([]string{}, hclExtensions...), yamlExtensions...)
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			if !fsutil.HasExtension(path, all...) {
				return nil, fmt.Errorf("unsupported job file %s: expected .hcl, .yaml or .yml", path)
			}
			add(path)
			continue
		}
		found, err := fsutil.FindFilesByExtension(path, all...)
		if err != nil {
			return nil, fmt.Errorf("error walking %s: %w", path, err)
		}
		for _, f := range found {
			add(f)
		}
	}
	return files, nil
}

// definition is the format-independent form of a job declaration.
type definition struct {
	Name            string
	Command         string
	WorkingDir      string
	MaxTime         string
	MinReportedTime string
	Prereqs         []string
	ExpectExitCode  int
	ExpectOut       string
	AbsentOut       string
	MatchLiteral    bool
	Errors          []string
	Groups          []string
	Skip            string
}

func (d definition) toJob(fileDir string) (*job.Job, error) {
	j := &job.Job{
		Name:           d.Name,
		Command:        d.Command,
		Prereqs:        d.Prereqs,
		ExpectExitCode: d.ExpectExitCode,
		ExpectOut:      d.ExpectOut,
		AbsentOut:      d.AbsentOut,
		MatchLiteral:   d.MatchLiteral,
		Errors:         d.Errors,
		Groups:         d.Groups,
		SkipReason:     d.Skip,
		MaxTime:        job.DefaultMaxTime,
	}

	var err error
	if d.MaxTime != "" {
		if j.MaxTime, err = parseDuration(d.MaxTime); err != nil {
			return nil, fmt.Errorf("job %q: max_time: %w", d.Name, err)
		}
	}
	if d.MinReportedTime != "" {
		if j.MinReportedTime, err = parseDuration(d.MinReportedTime); err != nil {
			return nil, fmt.Errorf("job %q: min_reported_time: %w", d.Name, err)
		}
	}

	switch {
	case d.WorkingDir == "":
		j.WorkingDir = fileDir
	case filepath.IsAbs(d.WorkingDir):
		j.WorkingDir = d.WorkingDir
	default:
		j.WorkingDir = filepath.Join(fileDir, d.WorkingDir)
	}

	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

// parseDuration accepts Go duration strings and bare numbers of seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
