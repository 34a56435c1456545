// Package snapshot materializes template content at a revision into a
// temporary directory, plain file content with no version-control metadata.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/gitexec"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/logging"
)

// Snapshot is a materialized filesystem tree representing the template
// remote at one tag. Never persisted; callers must Remove it when the diff
// artifact has been produced.
type Snapshot struct {
	Tag      string
	Location string

	fs afero.Fs
}

// Remove reclaims the snapshot's temporary storage.
func (s *Snapshot) Remove() {
	if s.Location != "" {
		_ = s.fs.RemoveAll(s.Location)
	}
}

// Files returns the snapshot's file paths relative to its location, sorted.
func (s *Snapshot) Files() ([]string, error) {
	return listFiles(s.fs, s.Location)
}

// MaterializeError wraps the underlying failure when a remote is
// unreachable, a tag does not exist, or a custom command exits non-zero.
type MaterializeError struct {
	Tag string
	Err error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("failed to materialize snapshot for %q: %v", e.Tag, e.Err)
}

func (e *MaterializeError) Unwrap() error {
	return e.Err
}

// Materializer produces Snapshots from a remote or from caller-supplied
// shell commands.
type Materializer struct {
	runner gitexec.Runner
	fs     afero.Fs
}

// NewMaterializer returns a Materializer backed by the given runner and
// filesystem. Pass afero.NewOsFs() in production.
func NewMaterializer(runner gitexec.Runner, fs afero.Fs) *Materializer {
	return &Materializer{runner: runner, fs: fs}
}

// MaterializeTag exports the content of tag from remote into a fresh
// temporary directory via a shallow clone, then strips the clone's
// version-control metadata.
func (m *Materializer) MaterializeTag(ctx context.Context, remote, tag string) (*Snapshot, error) {
	dir, err := os.MkdirTemp("", "tmplsync-snapshot-")
	if err != nil {
		return nil, &MaterializeError{Tag: tag, Err: err}
	}

	_, err = m.runner.Run(ctx, "", "git", "clone", "--quiet", "--depth", "1", "--branch", tag, "--", remote, dir)
	if err != nil {
		_ = m.fs.RemoveAll(dir)
		return nil, &MaterializeError{Tag: tag, Err: err}
	}

	if err := m.fs.RemoveAll(filepath.Join(dir, ".git")); err != nil {
		_ = m.fs.RemoveAll(dir)
		return nil, &MaterializeError{Tag: tag, Err: err}
	}

	logging.Debug(ctx, "snapshot materialized",
		slog.String("tag", tag),
		slog.String("location", dir),
	)

	return &Snapshot{Tag: tag, Location: dir, fs: m.fs}, nil
}

// MaterializeCommand runs a caller-provided shell command whose side effect
// is to populate the snapshot directory. The command's correctness is not
// validated beyond its exit status.
func (m *Materializer) MaterializeCommand(ctx context.Context, command, tag string) (*Snapshot, error) {
	dir, err := os.MkdirTemp("", "tmplsync-snapshot-")
	if err != nil {
		return nil, &MaterializeError{Tag: tag, Err: err}
	}

	_, err = m.runner.RunShell(ctx, dir, command)
	if err != nil {
		_ = m.fs.RemoveAll(dir)
		return nil, &MaterializeError{Tag: tag, Err: err}
	}

	logging.Debug(ctx, "snapshot materialized from command",
		slog.String("tag", tag),
		slog.String("location", dir),
	)

	return &Snapshot{Tag: tag, Location: dir, fs: m.fs}, nil
}

// listFiles walks root and returns regular-file paths relative to it.
func listFiles(fs afero.Fs, root string) ([]string, error) {
	var files []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return files, nil
}
