// Package cmdutils provides utility functions for running commands.
package cmdutils

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// RunAttached executes the command in the given working directory with stdout and
// stderr attached to the provided writers.
//
// It returns the process exit code. A non-zero exit is not reported as an error;
// only spawn failures and context cancellation are.
func RunAttached(ctx context.Context, dir string, stdout, stderr io.Writer, cmd string, args ...string) (exitCode int, err error) {
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = dir
	c.Stdout = stdout
	c.Stderr = stderr
	c.Env = append(c.Env, "LANG=C")
	c.Env = append(c.Env, os.Environ()...)

	err = c.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		if ctx.Err() != nil {
			return exitErr.ExitCode(), ctx.Err()
		}
		return exitErr.ExitCode(), nil
	default:
		return -1, err
	}
}
