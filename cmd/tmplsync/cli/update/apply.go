package update

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/logging"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/snapshot"
)

// mergeApplyPhase applies the diff artifact to the restored working tree
// with a three-way merge. Textual conflicts are a normal outcome: git
// leaves standard merge markers and unmerged index entries, and the phase
// succeeds so the caller can report them. Anything else non-zero is a
// genuine failure and triggers rollback.
func (s *Session) mergeApplyPhase() phase {
	return phase{
		name: "apply diff",
		run: func(ctx context.Context) error {
			info, err := s.fs.Stat(s.patchPath)
			if err == nil && info.Size() == 0 {
				logging.Info(ctx, "diff artifact is empty, nothing to apply")
				return nil
			}

			if _, err := s.git(ctx, "apply", "--3way", "--whitespace=nowarn", s.patchPath); err != nil {
				out, statusErr := s.git(ctx, "status", "--porcelain")
				if statusErr == nil && hasConflicts(parseStatus(out)) {
					logging.Info(ctx, "diff applied with conflicts")
					return nil
				}
				return &ApplyError{Err: err}
			}

			logging.Debug(ctx, "diff applied cleanly")
			return nil
		},
		undo: func(ctx context.Context) error {
			if _, err := s.git(ctx, "reset", "--hard", "-q", "HEAD"); err != nil {
				return err
			}
			return s.dropNewUntracked(ctx)
		},
	}
}

// clearScopePhase removes the tracked content in scope, the first half of
// a reset-apply. A failure mid-removal is compensated in place with a hard
// reset since no earlier phase can restore the tree.
func (s *Session) clearScopePhase() phase {
	return phase{
		name: "clear scope",
		run: func(ctx context.Context) error {
			scope := "."
			if s.subdir != "" {
				scope = strings.TrimSuffix(s.subdir, "/")
			}
			args := []string{"rm", "-r", "-f", "-q", "--ignore-unmatch", "--", scope}
			args = append(args, s.excludePathspecs()...)
			if _, err := s.git(ctx, args...); err != nil {
				if _, resetErr := s.git(ctx, "reset", "--hard", "-q", "HEAD"); resetErr != nil {
					logging.Warn(ctx, "could not restore tree after failed removal",
						slog.String("error", resetErr.Error()),
					)
				}
				return &ApplyError{Err: err}
			}
			return nil
		},
		undo: func(ctx context.Context) error {
			if _, err := s.git(ctx, "reset", "--hard", "-q", "HEAD"); err != nil {
				return err
			}
			return s.dropNewUntracked(ctx)
		},
	}
}

// overlayEndPhase copies the end snapshot over the cleared scope and
// stages it as a flat replacement. Local divergence from the template is
// discarded; that is the point of reset mode.
func (s *Session) overlayEndPhase(end *snapshot.Snapshot) phase {
	return phase{
		name: "overlay end snapshot",
		run: func(ctx context.Context) error {
			copied, err := s.copier.CopyTree(end.Location, s.targetDir(), s.isIgnored)
			if err != nil {
				return &ApplyError{Err: err}
			}

			prefixed := make([]string, len(copied))
			for i, rel := range copied {
				prefixed[i] = s.prefixed(rel)
			}
			if err := s.addPaths(ctx, prefixed); err != nil {
				return &ApplyError{Err: err}
			}

			logging.Info(ctx, "tree reset to end snapshot",
				slog.String("tag", end.Tag),
				slog.Int("files", len(copied)),
			)
			return nil
		},
		undo: func(ctx context.Context) error {
			if _, err := s.git(ctx, "reset", "--hard", "-q", "HEAD"); err != nil {
				return err
			}
			return s.dropNewUntracked(ctx)
		},
	}
}
