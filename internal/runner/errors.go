package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/burstrun/internal/job"
)

// ErrDuplicateJob is returned when a job name is submitted twice.
var ErrDuplicateJob = errors.New("runner: job already submitted")

// LaunchError reports a job whose prepare hook or process launch failed. The
// job is recorded as skipped so its dependents do not wait for it.
type LaunchError struct {
	Job *job.Job
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("runner: launch %s: %v", e.Job.Name, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// DependencyError is returned by Join when jobs remain queued on
// prerequisites that can never be satisfied.
type DependencyError struct {
	Jobs []string
}

func (e *DependencyError) Error() string {
	return "runner: cyclic or invalid dependency: " + strings.Join(e.Jobs, ", ")
}

// LaunchErrors collects every *LaunchError contained in err, including those
// combined with errors.Join.
func LaunchErrors(err error) []*LaunchError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*LaunchError
		for _, e := range joined.Unwrap() {
			out = append(out, LaunchErrors(e)...)
		}
		return out
	}
	var le *LaunchError
	if errors.As(err, &le) {
		return []*LaunchError{le}
	}
	return nil
}
