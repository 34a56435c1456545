// Package gitexec runs external commands (mostly git) with captured output.
//
// The Runner interface is the single seam between the update workflow and
// the outside world: production code uses CLIRunner, tests substitute a
// failing or recording implementation to inject faults without touching
// shared state.
package gitexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tmplsync/cli/redact"
)

// Runner executes external commands and returns their captured stdout.
// A non-zero exit reports the captured stderr through the returned error.
type Runner interface {
	// Run executes name with args in dir. An empty dir means the process
	// working directory, which callers should avoid relying on.
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)

	// RunShell executes command through the shell in dir. Used for
	// caller-supplied snapshot commands.
	RunShell(ctx context.Context, dir string, command string) (string, error)
}

// CommandError is returned when a command exits non-zero. Error() surfaces
// the command's stderr so the message the underlying tool printed reaches
// the user unchanged.
type CommandError struct {
	Cmd    string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CLIRunner is the production Runner backed by os/exec.
type CLIRunner struct{}

// NewCLIRunner returns a Runner that executes real subprocesses.
func NewCLIRunner() *CLIRunner {
	return &CLIRunner{}
}

// Run executes the command, buffering stdout and stderr fully in memory.
// Large outputs (binary diffs, clone progress) are bounded only by available
// memory; that is an accepted scaling limit of the workflow.
func (r *CLIRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return capture(cmd, name+" "+strings.Join(args, " "))
}

// RunShell executes command via "sh -c" in dir.
func (r *CLIRunner) RunShell(ctx context.Context, dir string, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	return capture(cmd, command)
}

func capture(cmd *exec.Cmd, display string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Command lines and stderr can echo remote URLs with embedded
		// credentials; scrub them before they reach errors or logs.
		return "", &CommandError{
			Cmd:    redact.String(display),
			Stderr: redact.String(strings.TrimSpace(stderr.String())),
			Err:    err,
		}
	}
	return stdout.String(), nil
}
