// Package execute runs external programs for setup tasks and pipeline
// stages. A program exceeding its timeout and a program exiting non-zero are
// reported as different error types.
package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vk/mcubench/internal/ctxlog"
)

// TimeoutError is returned when a command runs longer than its timeout.
type TimeoutError struct {
	Command string
	Timeout time.Duration
	Output  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

// ExitError is returned when a command exits with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.Code)
	if tail := lastLines(e.Output, 5); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Command describes a program invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env entries are added to the current process environment.
	Env []string
	// Timeout of zero means no limit.
	Timeout time.Duration
	// Live mirrors the output to Output while the command runs.
	Live   bool
	Output io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Run executes the command and returns its combined stdout and stderr.
func Run(ctx context.Context, c Command) (string, error) {
	logger := ctxlog.FromContext(ctx)

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	// Children of a killed program may keep the output pipe open.
	cmd.WaitDelay = 2 * time.Second
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var buf bytes.Buffer
	var out io.Writer = &buf
	if c.Live && c.Output != nil {
		out = io.MultiWriter(c.Output, &buf)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Debug("Running command.", "command", c.String(), "dir", c.Dir, "timeout", c.Timeout)
	start := time.Now()
	err := cmd.Run()
	output := buf.String()
	logger.Debug("Command finished.", "command", c.Path, "duration", time.Since(start), "error", err)

	if err == nil {
		return output, nil
	}
	if c.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return output, &TimeoutError{Command: c.String(), Timeout: c.Timeout, Output: output}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, &ExitError{Command: c.String(), Code: exitErr.ExitCode(), Output: output}
	}
	return output, fmt.Errorf("running %q: %w", c.String(), err)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
