package update

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/logging"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/paths"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/snapshot"
)

func TestSessionRun_MergeUpdate(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)
	commitLocalEdit(t, local)
	writeFile(t, local, "notes/keep.txt", "untracked before the run\n")

	s := NewSession(local, "", Options{
		Remote:   remote,
		StartTag: "v1",
		EndTag:   "v3",
	})
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.NothingToApply)
	assert.False(t, res.Conflicts)

	// Both sides of the divergence survive the merge
	assert.Equal(t, "line1 updated\nline2\nline3 local\n", readFile(t, local, "changed.txt"))
	assert.Equal(t, "new file\n", readFile(t, local, "added.txt"))
	_, err = os.Stat(filepath.Join(local, "removed.txt"))
	assert.True(t, os.IsNotExist(err), "removed.txt should be deleted by the update")

	assert.Equal(t, "untracked before the run\n", readFile(t, local, "notes/keep.txt"))

	assert.Equal(t, "main", gitIn(t, local, "rev-parse", "--abbrev-ref", "HEAD"))
	assert.Empty(t, tmplsyncBranches(t, local), "ephemeral branch must be deleted on success")

	changedStatus, ok := statusFor(res.Status, "changed.txt")
	require.True(t, ok, "changed.txt should appear in the final status: %v", res.Status)
	assert.Contains(t, changedStatus.Code, "M")
}

func TestSessionRun_TagsMatch(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)

	s := NewSession(local, "", Options{Remote: remote, StartTag: "v1", EndTag: "v1"})
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.NothingToApply)
	assert.Equal(t, "line1\nline2\nline3\n", readFile(t, local, "changed.txt"))
	assert.Empty(t, gitIn(t, local, "status", "--porcelain"))
}

func TestSessionRun_NotARepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewSession(dir, "", Options{Remote: "ignored", StartTag: "v1", EndTag: "v3"})

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotARepository)
	assert.Equal(t, "Not a git repository", ErrNotARepository.Error())
}

func TestSessionRun_DirtyTree(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)
	writeFile(t, local, "changed.txt", "dirty uncommitted edit\n")

	s := NewSession(local, "", Options{Remote: remote, StartTag: "v1", EndTag: "v3"})
	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDirtyWorkingTree)
	assert.Equal(t, "You must start with a clean working directory", ErrDirtyWorkingTree.Error())

	// Nothing ran
	assert.Equal(t, "dirty uncommitted edit\n", readFile(t, local, "changed.txt"))
	assert.Empty(t, tmplsyncBranches(t, local))
}

func TestSessionRun_UntrackedFilesTolerated(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)
	writeFile(t, local, "scratch.txt", "untracked is fine\n")

	s := NewSession(local, "", Options{Remote: remote, StartTag: "v1", EndTag: "v3"})
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "untracked is fine\n", readFile(t, local, "scratch.txt"))
}

func TestSessionRun_Conflicts(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)

	// Local change to the same line the template updates
	writeFile(t, local, "changed.txt", "line1 local\nline2\nline3\n")
	gitIn(t, local, "add", "changed.txt")
	gitIn(t, local, "commit", "-q", "-m", "conflicting local edit")

	s := NewSession(local, "", Options{Remote: remote, StartTag: "v1", EndTag: "v3"})
	res, err := s.Run(context.Background())
	require.NoError(t, err, "conflicts are an outcome, not an error")

	assert.True(t, res.Conflicts)
	assert.Contains(t, readFile(t, local, "changed.txt"), "<<<<<<<")

	entry, ok := statusFor(res.Status, "changed.txt")
	require.True(t, ok)
	assert.True(t, entry.IsConflict(), "expected unmerged code, got %q", entry.Code)

	assert.Equal(t, "main", gitIn(t, local, "rev-parse", "--abbrev-ref", "HEAD"))
	assert.Empty(t, tmplsyncBranches(t, local))
}

func TestSessionRun_IgnoredPaths(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)

	s := NewSession(local, "", Options{
		Remote:       remote,
		StartTag:     "v1",
		EndTag:       "v3",
		IgnoredPaths: []string{"changed.txt", "removed.txt"},
	})
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Conflicts)

	// Ignored paths keep their local state in every direction
	assert.Equal(t, "line1\nline2\nline3\n", readFile(t, local, "changed.txt"))
	assert.Equal(t, "goes away in v3\n", readFile(t, local, "removed.txt"))

	assert.Equal(t, "new file\n", readFile(t, local, "added.txt"))

	_, ok := statusFor(res.Status, "changed.txt")
	assert.False(t, ok, "ignored path must not appear in the status")
}

func TestSessionRun_ResetMode(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)
	commitLocalEdit(t, local)
	writeFile(t, local, "mine.txt", "locally added\n")
	gitIn(t, local, "add", "mine.txt")
	gitIn(t, local, "commit", "-q", "-m", "local addition")
	writeFile(t, local, "loose.txt", "untracked survives reset\n")

	s := NewSession(local, "", Options{
		Remote:   remote,
		StartTag: "v1",
		EndTag:   "v3",
		Reset:    true,
	})
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Conflicts)

	// Exact end-snapshot content, local divergence discarded
	assert.Equal(t, "line1 updated\nline2\nline3\n", readFile(t, local, "changed.txt"))
	assert.Equal(t, "new file\n", readFile(t, local, "added.txt"))
	_, statErr := os.Stat(filepath.Join(local, "mine.txt"))
	assert.True(t, os.IsNotExist(statErr), "tracked local addition should be removed")

	assert.Equal(t, "untracked survives reset\n", readFile(t, local, "loose.txt"))
	assert.Empty(t, tmplsyncBranches(t, local), "reset mode never creates an ephemeral branch")

	mine, ok := statusFor(res.Status, "mine.txt")
	require.True(t, ok)
	assert.Equal(t, "D ", mine.Code)
}

func TestSessionRun_Subdirectory(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)

	local := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(local); err == nil {
		local = resolved
	}
	gitIn(t, local, "init", "-q", "-b", "main")
	gitIn(t, local, "config", "user.email", "test@example.com")
	gitIn(t, local, "config", "user.name", "Test User")

	writeFile(t, local, "README.md", "top level project file\n")
	writeFile(t, local, "foo/bar/changed.txt", "line1\nline2\nline3\n")
	writeFile(t, local, "foo/bar/static.txt", "static content\n")
	writeFile(t, local, "foo/bar/removed.txt", "goes away in v3\n")
	gitIn(t, local, "add", "-A")
	gitIn(t, local, "commit", "-q", "-m", "initial")

	s := NewSession(local, "foo/bar/", Options{
		Remote:   remote,
		StartTag: "v1",
		EndTag:   "v3",
	})
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Conflicts)

	assert.Equal(t, "line1 updated\nline2\nline3\n", readFile(t, local, "foo/bar/changed.txt"))
	assert.Equal(t, "new file\n", readFile(t, local, "foo/bar/added.txt"))
	assert.Equal(t, "top level project file\n", readFile(t, local, "README.md"))

	// Reported paths carry the subdirectory prefix
	for _, e := range res.Status {
		assert.True(t, strings.HasPrefix(e.Path, "foo/bar/"), "unexpected path %q", e.Path)
	}
	_, ok := statusFor(res.Status, "foo/bar/changed.txt")
	assert.True(t, ok)
}

func TestSessionRun_DryRun(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)

	s := NewSession(local, "", Options{
		Remote:   remote,
		StartTag: "v1",
		EndTag:   "v3",
		DryRun:   true,
	})
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.NotEmpty(t, res.Changes)

	// Tree untouched
	assert.Equal(t, "line1\nline2\nline3\n", readFile(t, local, "changed.txt"))
	assert.Empty(t, gitIn(t, local, "status", "--porcelain"))
	assert.Empty(t, tmplsyncBranches(t, local))
}

func TestSessionRun_CustomCommands(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)

	// The local project carries the start-revision output already
	writeFile(t, local, "gen.txt", "alpha\n")
	gitIn(t, local, "add", "gen.txt")
	gitIn(t, local, "commit", "-q", "-m", "generated content")

	s := NewSession(local, "", Options{
		StartTag:     "v1",
		EndTag:       "v3",
		StartCommand: `printf 'alpha\n' > gen.txt`,
		EndCommand:   `printf 'alpha\nbeta\n' > gen.txt`,
	})
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Conflicts)

	assert.Equal(t, "alpha\nbeta\n", readFile(t, local, "gen.txt"))
}

func TestSessionRun_LogArtifactsStayOutOfStatus(t *testing.T) {
	// Not parallel: file logging uses package-level state.
	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)
	commitLocalEdit(t, local)

	runID := paths.NewRunID()
	require.NoError(t, logging.Init(local, runID))
	defer logging.Close()

	s := NewSession(local, "", Options{Remote: remote, StartTag: "v1", EndTag: "v3"}, WithRunID(runID))
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	for _, e := range res.Status {
		assert.False(t, strings.HasPrefix(e.Path, ".tmplsync"), "tool artifact leaked into status: %s", e)
	}

	// The run's own log file exists but stays invisible to git
	_, statErr := os.Stat(filepath.Join(local, ".tmplsync", "logs", runID+".log"))
	assert.NoError(t, statErr)
	assert.NotContains(t, gitIn(t, local, "status", "--porcelain"), ".tmplsync")
}

func TestSessionRun_MaterializeFailure(t *testing.T) {
	t.Parallel()

	remote := newTemplateRemote(t)
	local := newLocalRepo(t, remote)

	s := NewSession(local, "", Options{Remote: remote, StartTag: "v1", EndTag: "v99"})
	_, err := s.Run(context.Background())
	require.Error(t, err)

	var matErr *snapshot.MaterializeError
	require.True(t, errors.As(err, &matErr))
	assert.Equal(t, "v99", matErr.Tag)

	// No mutation happened
	assert.Empty(t, gitIn(t, local, "status", "--porcelain"))
	assert.Empty(t, tmplsyncBranches(t, local))
}
