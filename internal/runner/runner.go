package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single subprocess when Spec.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// ErrEmptyCommand is reported when a Spec carries no program to run.
var ErrEmptyCommand = errors.New("empty command")

// FailureKind classifies why a subprocess did not succeed.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureLaunch      FailureKind = "launch_failure"
	FailureNonZeroExit FailureKind = "non_zero_exit"
	FailureTimedOut    FailureKind = "timed_out"
)

// Outcome is the captured result of one subprocess invocation.
type Outcome struct {
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
	Failure  FailureKind
	Err      error
	Timeout  time.Duration
	Duration time.Duration
}

// Succeeded reports whether the process ran to completion with exit code 0.
func (o Outcome) Succeeded() bool {
	return o.Failure == FailureNone && o.ExitCode == 0
}

// Summary is a short human-readable description of a failed outcome.
// It is empty for a successful one.
func (o Outcome) Summary() string {
	switch o.Failure {
	case FailureNone:
		if o.ExitCode == 0 {
			return ""
		}
		return fmt.Sprintf("Return code: %d", o.ExitCode)
	case FailureNonZeroExit:
		return fmt.Sprintf("Return code: %d", o.ExitCode)
	case FailureTimedOut:
		return fmt.Sprintf("Timed out after %s", o.Timeout)
	case FailureLaunch:
		if o.Err != nil {
			return fmt.Sprintf("Launch failure: %v", o.Err)
		}
		return "Launch failure"
	}
	return string(o.Failure)
}

// Spec describes a command to run.
type Spec struct {
	Name    string
	Command []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, argv []string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec. No shell is involved.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, env []string, argv []string) (string, string, int, error) {
	if len(argv) == 0 {
		return "", "", -1, ErrEmptyCommand
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes commands and turns every result, including failures,
// into an Outcome.
type Runner struct {
	cmd    CommandRunner
	logger *zap.Logger
}

// New creates a Runner with the given command runner and logger.
func New(cmd CommandRunner, logger *zap.Logger) *Runner {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cmd: cmd, logger: logger}
}

// Run executes spec to completion. It never returns an error: launch
// failures, non-zero exits and timeouts are all reported on the Outcome.
func (r *Runner) Run(ctx context.Context, spec Spec) Outcome {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	out := Outcome{
		Command: append([]string(nil), spec.Command...),
		Timeout: timeout,
	}
	if len(spec.Command) == 0 {
		out.ExitCode = -1
		out.Failure = FailureLaunch
		out.Err = ErrEmptyCommand
		r.logger.Error("command not configured", zap.String("name", spec.Name))
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Info("command starting",
		zap.String("name", spec.Name),
		zap.Strings("command", spec.Command),
		zap.String("dir", spec.Dir),
	)

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, spec.Dir, envList(spec.Env), spec.Command)
	out.Duration = time.Since(start)
	out.Stdout = stdout
	out.Stderr = stderr
	out.ExitCode = exitCode

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.ExitCode = -1
		out.Failure = FailureTimedOut
		out.Err = ctx.Err()
		r.logger.Warn("command timed out",
			zap.String("name", spec.Name),
			zap.Duration("timeout", timeout),
		)
	case err != nil:
		out.ExitCode = -1
		out.Failure = FailureLaunch
		out.Err = err
		r.logger.Error("command could not be started",
			zap.String("name", spec.Name),
			zap.Error(err),
		)
	case exitCode != 0:
		out.Failure = FailureNonZeroExit
		r.logger.Warn("command returned non-zero status",
			zap.String("name", spec.Name),
			zap.Int("exit_code", exitCode),
			zap.Duration("duration", out.Duration),
		)
	default:
		r.logger.Info("command completed",
			zap.String("name", spec.Name),
			zap.Duration("duration", out.Duration),
		)
	}
	return out
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	return list
}
