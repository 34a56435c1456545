package update

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/logging"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/paths"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/snapshot"
)

// createScratchBranchPhase switches to an orphan branch with an empty
// history and clears the tracked content so the snapshots can be committed
// without ancestry. Untracked files survive the clear and are excluded
// from staging by path lists.
func (s *Session) createScratchBranchPhase() phase {
	return phase{
		name: "create scratch branch",
		run: func(ctx context.Context) error {
			branch := paths.EphemeralBranch(s.runID)
			if _, err := s.git(ctx, "checkout", "-q", "--orphan", branch); err != nil {
				return &BranchError{Op: "create ephemeral branch", Err: err}
			}
			s.ephemeralBranch = branch

			if _, err := s.git(ctx, "rm", "-r", "-f", "-q", "--ignore-unmatch", "--", "."); err != nil {
				return &BranchError{Op: "clear scratch tree", Err: err}
			}

			logging.Debug(ctx, "scratch branch created", slog.String("branch", branch))
			return nil
		},
		undo: func(ctx context.Context) error {
			_, checkoutErr := s.git(ctx, "checkout", "-q", "-f", s.originalBranch)
			dropErr := s.dropNewUntracked(ctx)

			// Deleted last so a failed run leaves the scratch commits
			// inspectable right up to the end of the unwind.
			if s.ephemeralBranch != "" {
				if _, err := s.git(ctx, "branch", "-D", "-q", s.ephemeralBranch); err != nil {
					logging.Warn(ctx, "could not delete ephemeral branch",
						slog.String("branch", s.ephemeralBranch),
						slog.String("error", err.Error()),
					)
				} else {
					s.ephemeralBranch = ""
				}
			}

			if checkoutErr != nil {
				return checkoutErr
			}
			return dropErr
		},
	}
}

// commitSnapshotPhase stages the snapshot's files over the scratch tree and
// commits them. Files staged by the previous snapshot commit that the
// current snapshot no longer carries are removed first, so the commit is an
// exact image of the snapshot minus ignored paths.
func (s *Session) commitSnapshotPhase(label string, snap *snapshot.Snapshot, commit *string) phase {
	return phase{
		name: "commit " + label + " snapshot",
		run: func(ctx context.Context) error {
			current, err := snap.Files()
			if err != nil {
				return &BranchError{Op: "list " + label + " snapshot", Err: err}
			}

			if removed := missingFrom(s.stagedFiles, current); len(removed) > 0 {
				for i, rel := range removed {
					removed[i] = s.prefixed(rel)
				}
				if err := s.rmPaths(ctx, removed); err != nil {
					return &BranchError{Op: "stage " + label + " removals", Err: err}
				}
			}

			copied, err := s.copier.CopyTree(snap.Location, s.targetDir(), s.isIgnored)
			if err != nil {
				return &BranchError{Op: "stage " + label + " snapshot", Err: err}
			}
			s.stagedFiles = copied

			prefixed := make([]string, len(copied))
			for i, rel := range copied {
				prefixed[i] = s.prefixed(rel)
			}
			if err := s.addPaths(ctx, prefixed); err != nil {
				return &BranchError{Op: "stage " + label + " snapshot", Err: err}
			}

			msg := fmt.Sprintf("tmplsync %s: %s", label, snap.Tag)
			if _, err := s.git(ctx, "commit", "-q", "--allow-empty", "-m", msg); err != nil {
				return &BranchError{Op: "commit " + label + " snapshot", Err: err}
			}

			out, err := s.git(ctx, "rev-parse", "HEAD")
			if err != nil {
				return &BranchError{Op: "resolve " + label + " commit", Err: err}
			}
			*commit = strings.TrimSpace(out)

			logging.Debug(ctx, "snapshot committed",
				slog.String("label", label),
				slog.String("tag", snap.Tag),
				slog.String("commit", *commit),
			)
			return nil
		},
		undo: func(ctx context.Context) error {
			return s.dropNewUntracked(ctx)
		},
	}
}

// diffArtifactPhase renders the difference between the two snapshot
// commits to a binary-safe patch file, with ignored paths excluded at the
// pathspec level.
func (s *Session) diffArtifactPhase() phase {
	return phase{
		name: "compute diff artifact",
		run: func(ctx context.Context) error {
			args := []string{"diff", "--binary", s.startCommit, s.endCommit}
			if excl := s.excludePathspecs(); len(excl) > 0 {
				args = append(args, "--")
				args = append(args, excl...)
			}
			out, err := s.git(ctx, args...)
			if err != nil {
				return &BranchError{Op: "compute diff", Err: err}
			}

			if err := afero.WriteFile(s.fs, s.patchPath, []byte(out), 0o600); err != nil {
				return &BranchError{Op: "write diff artifact", Err: err}
			}

			logging.Debug(ctx, "diff artifact written",
				slog.String("path", s.patchPath),
				slog.Int("bytes", len(out)),
			)
			return nil
		},
		undo: nil,
	}
}

// restoreOriginalPhase moves HEAD back to the branch the session started
// on, restoring the pre-run tracked content before the patch is applied.
func (s *Session) restoreOriginalPhase() phase {
	return phase{
		name: "restore original branch",
		run: func(ctx context.Context) error {
			if _, err := s.git(ctx, "checkout", "-q", s.originalBranch); err != nil {
				return &BranchError{Op: "restore original branch", Err: err}
			}
			return nil
		},
		undo: nil,
	}
}

// rmPaths removes already-staged paths in chunks, mirroring addPaths.
func (s *Session) rmPaths(ctx context.Context, rels []string) error {
	const chunk = 200
	for i := 0; i < len(rels); i += chunk {
		end := min(i+chunk, len(rels))
		args := append([]string{"rm", "-f", "-q", "--ignore-unmatch", "--"}, rels[i:end]...)
		if _, err := s.git(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// targetDir is the absolute directory snapshots are copied into.
func (s *Session) targetDir() string {
	if s.subdir == "" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(s.subdir))
}

// missingFrom returns the paths in prev that are absent from current.
func missingFrom(prev, current []string) []string {
	if len(prev) == 0 {
		return nil
	}
	have := make(map[string]bool, len(current))
	for _, f := range current {
		have[f] = true
	}
	var missing []string
	for _, f := range prev {
		if !have[f] {
			missing = append(missing, f)
		}
	}
	return missing
}
