package app

import (
	"regexp"

	"github.com/specialistvlad/burstrun/internal/job"
)

// selector decides which loaded jobs take part in a run. Jobs it rejects are
// neither run nor reported.
type selector struct {
	match    *regexp.Regexp // nil selects every name
	group    string
	notGroup string
}

func newSelector(cfg *Config) *selector {
	s := &selector{group: cfg.Group, notGroup: cfg.NotGroup}
	if cfg.Match != "" {
		// NewConfig already compiled it.
		s.match = regexp.MustCompile(cfg.Match)
	}
	return s
}

func (s *selector) selected(j *job.Job) bool {
	if s.match != nil && !s.match.MatchString(j.Name) {
		return false
	}
	if s.group != job.GroupAll && !j.InGroup(s.group) {
		return false
	}
	if s.notGroup != "" && j.InGroup(s.notGroup) {
		return false
	}
	return true
}
