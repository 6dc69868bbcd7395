// Package wpcli drives the site management command-line tool and parses
// its plain text, CSV and JSON output.
package wpcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/logging"
)

// ErrCommand matches every *CommandError.
var ErrCommand = errors.New("command failed")

// CommandError describes a failed invocation.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("wp %s: exit %d: %s", strings.Join(e.Args, " "), e.ExitCode, msg)
}

func (e *CommandError) Is(target error) bool { return target == ErrCommand }

func (e *CommandError) Unwrap() error { return e.Err }

// Executor runs one command and returns its standard output.
type Executor interface {
	Execute(ctx context.Context, args ...string) (string, error)
}

// Runner executes the tool as a child process against one installation.
type Runner struct {
	bin     string
	path    string
	timeout time.Duration
	log     *logging.Logger
}

// NewRunner creates a Runner for the installation rooted at path. timeout
// bounds each command on top of any deadline in the caller's context.
func NewRunner(bin, path string, timeout time.Duration, log *logging.Logger) *Runner {
	return &Runner{bin: bin, path: path, timeout: timeout, log: log.With("component", "wpcli")}
}

// Execute runs the tool with args. A non-zero exit becomes a *CommandError.
func (r *Runner) Execute(ctx context.Context, args ...string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	full := append([]string{"--path=" + r.path, "--no-color"}, args...)
	cmd := exec.CommandContext(ctx, r.bin, full...)
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.log.Debug("command finished", "args", strings.Join(args, " "), "duration", time.Since(start), "error", err)
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return stdout.String(), &CommandError{Args: args, ExitCode: code, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}
