package jobfile

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclRoot decodes the top-level blocks of an HCL job file.
type hclRoot struct {
	Jobs []*hclJob `hcl:"job,block"`
}

type hclJob struct {
	Name            string   `hcl:"name,label"`
	Command         string   `hcl:"command,optional"`
	WorkingDir      string   `hcl:"working_dir,optional"`
	MaxTime         string   `hcl:"max_time,optional"`
	MinReportedTime string   `hcl:"min_reported_time,optional"`
	Prereqs         []string `hcl:"prereqs,optional"`
	ExpectExitCode  int      `hcl:"expect_exit_code,optional"`
	ExpectOut       string   `hcl:"expect_out,optional"`
	AbsentOut       string   `hcl:"absent_out,optional"`
	MatchLiteral    bool     `hcl:"match_literal,optional"`
	Errors          []string `hcl:"errors,optional"`
	Groups          []string `hcl:"groups,optional"`
	Skip            string   `hcl:"skip,optional"`
}

func decodeHCLFile(path string, environ []string) ([]definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var root hclRoot
	diags = gohcl.DecodeBody(file.Body, evalContext(path, environ), &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}

	defs := make([]definition, 0, len(root.Jobs))
	for _, b := range root.Jobs {
		defs = append(defs, definition{
			Name:            b.Name,
			Command:         b.Command,
			WorkingDir:      b.WorkingDir,
			MaxTime:         b.MaxTime,
			MinReportedTime: b.MinReportedTime,
			Prereqs:         b.Prereqs,
			ExpectExitCode:  b.ExpectExitCode,
			ExpectOut:       b.ExpectOut,
			AbsentOut:       b.AbsentOut,
			MatchLiteral:    b.MatchLiteral,
			Errors:          b.Errors,
			Groups:          b.Groups,
			Skip:            b.Skip,
		})
	}
	return defs, nil
}

// evalContext exposes env.* and dir to expressions in a job file.
func evalContext(path string, environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		dir = filepath.Dir(path)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
			"dir": cty.StringVal(dir),
		},
	}
}
