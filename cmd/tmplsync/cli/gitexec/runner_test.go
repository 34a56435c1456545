package gitexec

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIRunner_Run_CapturesStdout(t *testing.T) {
	t.Parallel()

	r := NewCLIRunner()
	out, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "printf hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestCLIRunner_Run_UsesDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := NewCLIRunner()
	out, err := r.Run(context.Background(), dir, "pwd")
	require.NoError(t, err)
	assert.Equal(t, dir, strings.TrimSpace(out))
}

func TestCLIRunner_Run_NonZeroExitSurfacesStderr(t *testing.T) {
	t.Parallel()

	r := NewCLIRunner()
	_, err := r.RunShell(context.Background(), t.TempDir(), "echo boom >&2; exit 3")
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "boom", cmdErr.Stderr)
	assert.Equal(t, "boom", err.Error())
}

func TestCLIRunner_RunShell(t *testing.T) {
	t.Parallel()

	r := NewCLIRunner()
	out, err := r.RunShell(context.Background(), t.TempDir(), "echo a && echo b")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)
}

func TestCommandError_EmptyStderrFallsBackToExitError(t *testing.T) {
	t.Parallel()

	r := NewCLIRunner()
	_, err := r.RunShell(context.Background(), t.TempDir(), "exit 2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit")
}
