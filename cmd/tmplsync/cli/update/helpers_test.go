package update

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// gitIn runs git with args in dir and returns trimmed stdout, failing the
// test on a non-zero exit.
func gitIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// newTemplateRemote builds the repo standing in for the template source:
// v1 carries the base content, v3 updates one file and adds another.
func newTemplateRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	gitIn(t, dir, "init", "-q", "-b", "main")
	gitIn(t, dir, "config", "user.email", "test@example.com")
	gitIn(t, dir, "config", "user.name", "Test User")

	writeFile(t, dir, "changed.txt", "line1\nline2\nline3\n")
	writeFile(t, dir, "static.txt", "static content\n")
	writeFile(t, dir, "removed.txt", "goes away in v3\n")
	gitIn(t, dir, "add", "-A")
	gitIn(t, dir, "commit", "-q", "-m", "v1 content")
	gitIn(t, dir, "tag", "v1")

	writeFile(t, dir, "changed.txt", "line1 updated\nline2\nline3\n")
	writeFile(t, dir, "added.txt", "new file\n")
	gitIn(t, dir, "rm", "-q", "removed.txt")
	gitIn(t, dir, "add", "-A")
	gitIn(t, dir, "commit", "-q", "-m", "v3 content")
	gitIn(t, dir, "tag", "v3")

	return dir
}

// newLocalRepo clones the remote and rewinds it to the v1 content, the
// state of a project generated from the template at v1.
func newLocalRepo(t *testing.T, remote string) string {
	t.Helper()
	dir := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	gitIn(t, dir, "clone", "-q", remote, ".")
	gitIn(t, dir, "config", "user.email", "test@example.com")
	gitIn(t, dir, "config", "user.name", "Test User")
	gitIn(t, dir, "reset", "-q", "--hard", "v1")

	return dir
}

// commitLocalEdit commits a change to line3 of changed.txt, a divergence
// that merges cleanly with the template's change to line1.
func commitLocalEdit(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, dir, "changed.txt", "line1\nline2\nline3 local\n")
	gitIn(t, dir, "add", "changed.txt")
	gitIn(t, dir, "commit", "-q", "-m", "local edit")
}

// tmplsyncBranches lists branches under the ephemeral namespace.
func tmplsyncBranches(t *testing.T, dir string) string {
	t.Helper()
	return gitIn(t, dir, "branch", "--list", "tmplsync/*")
}

func statusFor(entries []FileStatus, path string) (FileStatus, bool) {
	for _, e := range entries {
		if e.Path == path {
			return e, true
		}
	}
	return FileStatus{}, false
}
