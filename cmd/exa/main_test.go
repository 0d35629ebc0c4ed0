// Package main provides tests for the exa CLI.
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rdmontgomery/exa/internal/cli"
)

// writePipeline drops a pipeline file into a temp dir and returns its path.
func writePipeline(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "build.yml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write pipeline: %v", err)
	}
	return path
}

const cleanPipeline = `version: 1.0.{build}

environment:
  matrix:
    - PY: "3.12"
    - PY: "3.11"

platform:
  - x64

build_script:
  - echo building ${PY}

test_script:
  - echo testing ${PY}
`

func TestVersionCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("version command error = %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "exa") {
		t.Errorf("version output should contain 'exa', got: %s", output)
	}
}

func TestHelpCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("help command error = %v", err)
	}

	output := buf.String()
	expectedCommands := []string{"run", "validate", "lint", "jobs", "history", "serve", "encrypt", "doctor"}
	for _, expected := range expectedCommands {
		if !strings.Contains(output, expected) {
			t.Errorf("help output should contain '%s', got: %s", expected, output)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	path := writePipeline(t, cleanPipeline)

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"validate", path})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("validate command error = %v", err)
	}

	if !strings.Contains(buf.String(), "valid") {
		t.Errorf("validate output should report the file as valid, got: %s", buf.String())
	}
}

func TestValidateCommandBadYAML(t *testing.T) {
	path := writePipeline(t, "version: [unclosed\n")

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"validate", path})

	if err := cmd.Execute(); err == nil {
		t.Error("validate should fail on malformed YAML")
	}
}

func TestJobsCommand(t *testing.T) {
	path := writePipeline(t, cleanPipeline)

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"jobs", path})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("jobs command error = %v", err)
	}

	output := buf.String()
	for _, expected := range []string{"PY=3.12", "PY=3.11", "x64"} {
		if !strings.Contains(output, expected) {
			t.Errorf("jobs output should contain %q, got: %s", expected, output)
		}
	}
}

func TestLintCommandClean(t *testing.T) {
	path := writePipeline(t, cleanPipeline)

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"lint", path})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("lint command error = %v, output: %s", err, buf.String())
	}

	if !strings.Contains(buf.String(), "No lint issues found") {
		t.Errorf("lint output should report no issues, got: %s", buf.String())
	}
}

func TestLintCommandFindsIssues(t *testing.T) {
	// Static version and no test phase trip VR01 and ST01.
	path := writePipeline(t, `version: 1.0.0

build_script:
  - echo building
`)

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"lint", path})

	if err := cmd.Execute(); err == nil {
		t.Error("lint should exit non-zero when issues are found")
	}

	output := buf.String()
	for _, expected := range []string{"ST01", "VR01"} {
		if !strings.Contains(output, expected) {
			t.Errorf("lint output should contain %q, got: %s", expected, output)
		}
	}
}

func TestRulesCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"rules"})

	err := cmd.Execute()
	if err != nil {
		t.Errorf("rules command error = %v", err)
	}

	if !strings.Contains(buf.String(), "MX01") {
		t.Errorf("rules output should list MX01, got: %s", buf.String())
	}
}

func TestCompletionCommand(t *testing.T) {
	shells := []string{"bash", "zsh", "fish", "powershell"}

	for _, shell := range shells {
		t.Run(shell, func(t *testing.T) {
			cmd := cli.NewRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs([]string{"completion", shell})

			err := cmd.Execute()
			if err != nil {
				t.Errorf("completion %s command error = %v", shell, err)
			}
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"unknown-command"})

	err := cmd.Execute()
	if err == nil {
		t.Error("unknown command should return an error")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
