package job

import (
	"regexp"
	"strings"
)

// Reasons an output check fails a job, as shown in its status.
const (
	ReasonOutputMissing   = "EXPECTED OUTPUT MISSING"
	ReasonOutputNotAbsent = "OUTPUT NOT ABSENT"
	ReasonErrorMessage    = "ERRMSG"
)

// compileOutputPattern compiles an expect_out/absent_out pattern. Patterns
// match across lines: ^ and $ anchor at line breaks and . matches newlines.
func compileOutputPattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?ms)" + pattern)
}

// CheckOutput applies ExpectOut and AbsentOut to output. It returns the
// failure reason and the offending pattern, or two empty strings.
func (j *Job) CheckOutput(output string) (reason, pattern string) {
	if j.ExpectOut != "" && !j.outputContains(output, j.ExpectOut) {
		return ReasonOutputMissing, j.ExpectOut
	}
	if j.AbsentOut != "" && j.outputContains(output, j.AbsentOut) {
		return ReasonOutputNotAbsent, j.AbsentOut
	}
	return "", ""
}

// ErrorMessage returns the first of Errors found in output.
func (j *Job) ErrorMessage(output string) (string, bool) {
	for _, e := range j.Errors {
		if e != "" && strings.Contains(output, e) {
			return e, true
		}
	}
	return "", false
}

// GroupAll selects every job regardless of its groups.
const GroupAll = "ALL"

// InGroup reports whether the job carries the group label.
func (j *Job) InGroup(group string) bool {
	for _, g := range j.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func (j *Job) outputContains(output, pattern string) bool {
	if j.MatchLiteral {
		return strings.Contains(output, pattern)
	}
	re, err := compileOutputPattern(pattern)
	if err != nil {
		// Validate rejects bad patterns; an unchecked job cannot match.
		return false
	}
	return re.MatchString(output)
}
