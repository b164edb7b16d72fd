package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes an external program and waits for it to finish.
type Runner interface {
	Run(ctx context.Context, path string, args ...string) error
}

// CommandError reports a program that exited with a non-zero status. Stderr is
// kept verbatim.
type CommandError struct {
	Path     string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Path, e.ExitCode, strings.TrimRight(e.Stderr, "\n"))
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct {
	Logger *slog.Logger
}

func (r ExecRunner) Run(ctx context.Context, path string, args ...string) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("%s not found: %w", path, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Info("running command", "path", path, "args", args)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return &CommandError{Path: path, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		if ctx.Err() != nil {
			return fmt.Errorf("run %s: %w", path, ctx.Err())
		}
		return fmt.Errorf("run %s: %w", path, err)
	}
	return nil
}
