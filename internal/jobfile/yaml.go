package jobfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type yamlRoot struct {
	Jobs []yamlJob `yaml:"jobs"`
}

type yamlJob struct {
	Name            string   `yaml:"name"`
	Command         string   `yaml:"command"`
	WorkingDir      string   `yaml:"working_dir"`
	MaxTime         string   `yaml:"max_time"`
	MinReportedTime string   `yaml:"min_reported_time"`
	Prereqs         []string `yaml:"prereqs"`
	ExpectExitCode  int      `yaml:"expect_exit_code"`
	ExpectOut       string   `yaml:"expect_out"`
	AbsentOut       string   `yaml:"absent_out"`
	MatchLiteral    bool     `yaml:"match_literal"`
	Errors          []string `yaml:"errors"`
	Groups          []string `yaml:"groups"`
	Skip            string   `yaml:"skip"`
}

func decodeYAMLFile(path string) ([]definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open YAML file %s: %w", path, err)
	}
	defer f.Close()

	var root yamlRoot
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&root); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode YAML file %s: %w", path, err)
	}

	defs := make([]definition, 0, len(root.Jobs))
	for _, y := range root.Jobs {
		defs = append(defs, definition(y))
	}
	return defs, nil
}
