// Package paths resolves repository locations and names used across tmplsync.
package paths

import (
	"context"
	"errors"
	"math/rand"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Directory constants
const (
	TmplsyncDir = ".tmplsync"
	LogsDir     = ".tmplsync/logs"
)

// SettingsFile is the path of the committed settings file, relative to the
// repository root.
const SettingsFile = ".tmplsync/settings.json"

// SettingsLocalFile is the uncommitted per-machine override file.
const SettingsLocalFile = ".tmplsync/settings.local.json"

// EphemeralBranchPrefix namespaces the scratch branches used to stage
// template snapshots.
const EphemeralBranchPrefix = "tmplsync/"

// ErrNotARepository is returned when dir is not inside a git work tree.
var ErrNotARepository = errors.New("Not a git repository")

// RepoRoot returns the git repository root for dir, resolved with
// 'git rev-parse --show-toplevel'. The directory is passed explicitly; the
// process working directory is never consulted or changed.
func RepoRoot(ctx context.Context, dir string) (string, error) {
	out, err := revParse(ctx, dir, "--show-toplevel")
	if err != nil {
		return "", ErrNotARepository
	}
	// Resolve symlinks (macOS /var -> /private/var) so paths compare equal
	// with what git subprocesses report.
	root := out
	if resolved, rerr := filepath.EvalSymlinks(root); rerr == nil {
		root = resolved
	}
	return root, nil
}

// Prefix returns the path of dir relative to the repository root, with a
// trailing slash, or "" when dir is the root itself. This is the
// subdirectory scope for an update invoked from inside the repository.
func Prefix(ctx context.Context, dir string) (string, error) {
	out, err := revParse(ctx, dir, "--show-prefix")
	if err != nil {
		return "", ErrNotARepository
	}
	return out, nil
}

func revParse(ctx context.Context, dir string, arg string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", arg)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// NewRunID generates a unique, lexicographically sortable identifier for one
// update session. Used for the log file name and the ephemeral branch name.
func NewRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // IDs need uniqueness, not secrecy
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return strings.ToLower(id.String())
}

// EphemeralBranch returns the scratch branch name for a run ID.
func EphemeralBranch(runID string) string {
	return EphemeralBranchPrefix + runID
}
