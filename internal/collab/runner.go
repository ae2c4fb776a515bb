package collab

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/msageha/taskforge/internal/model"
)

// TestResult is the outcome of running a validation script against a
// project snapshot.
type TestResult struct {
	Passed bool
	Output string
}

// TestRunner executes a validation test inside a project directory.
// The validation stage only compares pass/fail across the two snapshots;
// it never interprets the output.
type TestRunner interface {
	RunTest(ctx context.Context, projectDir, testScript string) (TestResult, error)
}

// GodotRunner runs tests through a headless Godot binary. A test passes
// when the script prints the VALIDATION_PASSED marker.
type GodotRunner struct {
	executable string
	timeout    time.Duration
}

const passMarker = "VALIDATION_PASSED"

func NewGodotRunner(cfg model.ValidatorConfig) *GodotRunner {
	executable := cfg.Executable
	if executable == "" {
		executable = "godot"
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GodotRunner{executable: executable, timeout: timeout}
}

func (r *GodotRunner) RunTest(ctx context.Context, projectDir, testScript string) (TestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.executable,
		"--path", projectDir, "--headless", "-s", testScript)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()

	if ctx.Err() == context.DeadlineExceeded {
		return TestResult{Passed: false, Output: "test timed out"}, nil
	}
	if err != nil {
		// A non-zero exit with output is a test verdict, not a runner
		// failure; the marker decides.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return TestResult{}, model.Errorf(model.KindCollaboratorFailure, "run %s: %w", r.executable, err)
		}
	}

	return TestResult{
		Passed: strings.Contains(output, passMarker),
		Output: output,
	}, nil
}

var _ TestRunner = (*GodotRunner)(nil)
