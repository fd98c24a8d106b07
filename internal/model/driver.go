// Package model invokes the external hydrologic model executable and moves
// data across the process boundary: candidate parameters are materialized
// into an isolated run directory, the executable runs there with a
// wall-clock timeout, and its output time series is read back.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// RunError reports a failed model invocation: non-zero exit or timeout.
// Recoverable per iteration; the agent records a failed IterationRecord
// and retries.
type RunError struct {
	ExitCode int
	Timeout  bool
	Err      error
}

func (e *RunError) Error() string {
	if e.Timeout {
		return "model run timed out"
	}
	return fmt.Sprintf("model run failed with exit code %d", e.ExitCode)
}

func (e *RunError) Unwrap() error { return e.Err }

// Driver runs the external model in a prepared run directory. The only
// contract is the directory layout: parameters are already materialized
// inside it, and success is exit code 0.
type Driver interface {
	Run(ctx context.Context, runDir string) error
}

// ExecDriver invokes a model binary as a subprocess with the run directory
// as its working directory. Stdout/stderr go to a per-run log file when
// LogFile is set, and are discarded otherwise.
type ExecDriver struct {
	Binary  string
	Args    []string
	Timeout time.Duration
	LogFile string
}

// Run executes the model, honoring both the parent context and the
// configured wall-clock timeout.
func (d *ExecDriver) Run(ctx context.Context, runDir string) error {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, d.Binary, d.Args...)
	cmd.Dir = runDir

	if d.LogFile != "" {
		logFile, err := os.OpenFile(d.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open model log file: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		slog.Debug("Model run complete", "dir", runDir, "elapsed", elapsed)
		return nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		slog.Warn("Model run timed out", "dir", runDir, "timeout", d.Timeout)
		return &RunError{Timeout: true, Err: err}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		slog.Warn("Model run failed", "dir", runDir, "exit_code", exitErr.ExitCode(), "elapsed", elapsed)
		return &RunError{ExitCode: exitErr.ExitCode(), Err: err}
	}
	return fmt.Errorf("failed to start model: %w", err)
}
