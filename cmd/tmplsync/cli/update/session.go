// Package update implements the template update workflow: materialize two
// snapshots of the template remote, compute their difference on an
// ephemeral branch, apply it to the local working tree, and guarantee that
// any failure leaves the repository exactly as it was before the run.
package update

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/mod/semver"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/gitexec"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/logging"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/paths"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/snapshot"
)

// Options configures one update session.
type Options struct {
	// Remote is the template source the snapshots come from.
	Remote string

	// StartTag and EndTag are the revisions to diff. Equal values
	// short-circuit to a no-op.
	StartTag string
	EndTag   string

	// IgnoredPaths are never created, modified, or deleted, in either
	// mode. Paths are relative to the invocation subdirectory.
	IgnoredPaths []string

	// Reset selects reset-apply mode: forcibly replace tracked content
	// with the end snapshot instead of merging the difference.
	Reset bool

	// DryRun stops after diff computation, printing what would change.
	DryRun bool

	// StartCommand and EndCommand select the custom materialization
	// strategy: each is a shell command expected to populate the snapshot
	// directory for its revision.
	StartCommand string
	EndCommand   string

	// SecretScan enables the warn-only scan of incoming template content.
	SecretScan bool
}

// Mode returns the apply mode name for reporting.
func (o Options) Mode() string {
	if o.Reset {
		return "reset"
	}
	return "merge"
}

func (o Options) customDiff() bool {
	return o.StartCommand != "" && o.EndCommand != ""
}

// Result is the observable outcome of a session.
type Result struct {
	// NothingToApply is set when the tags matched and nothing ran.
	NothingToApply bool

	// DryRun is set when the session stopped before mutating the tree.
	DryRun bool

	// Status is the final working-tree status, scoped to the invocation
	// subdirectory, in porcelain form.
	Status []FileStatus

	// Conflicts reports whether any path is unmerged. Conflicted files
	// contain standard merge markers; this is a normal outcome, not an
	// error.
	Conflicts bool

	// Changes is the per-file summary of the start-to-end difference.
	Changes []snapshot.FileChange

	// Secrets holds warn-only findings from scanning the end snapshot.
	Secrets []snapshot.SecretFinding
}

// Session drives one update of the working tree at root. A session owns the
// tree and the repository's branch pointer for its duration; concurrent
// sessions against the same tree are undefined.
type Session struct {
	opts   Options
	root   string
	subdir string // "" or "foo/bar/", relative to root
	runID  string

	runner       gitexec.Runner
	fs           afero.Fs
	copier       *snapshot.Copier
	materializer *snapshot.Materializer

	originalBranch  string
	ephemeralBranch string
	preRunUntracked map[string]bool
	startCommit     string
	endCommit       string
	stagedFiles     []string
	patchPath       string
}

// Option customizes a Session. Tests inject failing runners or filesystems
// here instead of mutating shared state.
type Option func(*Session)

// WithRunner substitutes the subprocess runner.
func WithRunner(r gitexec.Runner) Option {
	return func(s *Session) { s.runner = r }
}

// WithFs substitutes the filesystem used for snapshot copies.
func WithFs(fs afero.Fs) Option {
	return func(s *Session) { s.fs = fs }
}

// WithRunID pins the run ID (and therefore the ephemeral branch name).
func WithRunID(id string) Option {
	return func(s *Session) { s.runID = id }
}

// NewSession creates a session for the repository at root. subdir is the
// invocation path relative to root with a trailing slash, or "" when
// invoked from the root itself.
func NewSession(root, subdir string, opts Options, options ...Option) *Session {
	s := &Session{
		opts:   opts,
		root:   root,
		subdir: subdir,
		runID:  paths.NewRunID(),
		runner: gitexec.NewCLIRunner(),
		fs:     afero.NewOsFs(),
	}
	for _, o := range options {
		o(s)
	}
	s.copier = snapshot.NewCopier(s.fs)
	s.materializer = snapshot.NewMaterializer(s.runner, s.fs)
	return s
}

// RunID returns the session's unique identifier.
func (s *Session) RunID() string {
	return s.runID
}

// Run executes the session. The process working directory is never
// changed; every subprocess receives the repository root explicitly.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	defer logging.LogDuration(ctx, slog.LevelInfo, "update session finished", time.Now(),
		slog.String("mode", s.opts.Mode()),
	)

	state, err := inspectTree(s.root)
	if err != nil {
		return nil, err
	}
	s.originalBranch = state.branch
	s.preRunUntracked = state.untracked

	if s.opts.StartTag == s.opts.EndTag {
		logging.Info(ctx, "tags match, nothing to apply",
			slog.String("tag", s.opts.StartTag),
		)
		return &Result{NothingToApply: true}, nil
	}

	warnOnDowngrade(ctx, s.opts.StartTag, s.opts.EndTag)

	start, end, err := s.materialize(ctx)
	if err != nil {
		return nil, err
	}
	defer start.Remove()
	defer end.Remove()

	res := &Result{}

	changes, err := snapshot.Diffstat(s.fs, start, end)
	if err != nil {
		logging.Warn(ctx, "diffstat failed", slog.String("error", err.Error()))
	} else {
		res.Changes = changes
		logging.Info(ctx, "computed template difference",
			slog.String("start", s.opts.StartTag),
			slog.String("end", s.opts.EndTag),
			slog.Int("files_changed", len(changes)),
		)
	}

	if s.opts.SecretScan {
		findings, scanErr := snapshot.ScanSecrets(ctx, s.fs, end)
		if scanErr != nil {
			logging.Warn(ctx, "secret scan failed", slog.String("error", scanErr.Error()))
		}
		res.Secrets = findings
	}

	if s.opts.DryRun {
		res.DryRun = true
		return res, nil
	}

	if s.patchPath == "" {
		s.patchPath = filepath.Join(os.TempDir(), "tmplsync-"+s.runID+".patch")
	}
	defer func() { _ = s.fs.RemoveAll(s.patchPath) }()

	var phases []phase
	if s.opts.Reset {
		phases = []phase{
			s.clearScopePhase(),
			s.overlayEndPhase(end),
		}
	} else {
		phases = []phase{
			s.createScratchBranchPhase(),
			s.commitSnapshotPhase("start", start, &s.startCommit),
			s.commitSnapshotPhase("end", end, &s.endCommit),
			s.diffArtifactPhase(),
			s.restoreOriginalPhase(),
			s.mergeApplyPhase(),
		}
	}

	if err := runPhases(ctx, phases); err != nil {
		return nil, err
	}

	if err := s.finalize(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// materialize builds the start and end snapshots with the configured
// strategy. Failures here precede any local mutation, so only temporary
// storage needs cleaning up.
func (s *Session) materialize(ctx context.Context) (*snapshot.Snapshot, *snapshot.Snapshot, error) {
	var start, end *snapshot.Snapshot
	var err error

	if s.opts.customDiff() {
		start, err = s.materializer.MaterializeCommand(ctx, s.opts.StartCommand, s.opts.StartTag)
		if err != nil {
			return nil, nil, err
		}
		end, err = s.materializer.MaterializeCommand(ctx, s.opts.EndCommand, s.opts.EndTag)
	} else {
		start, err = s.materializer.MaterializeTag(ctx, s.opts.Remote, s.opts.StartTag)
		if err != nil {
			return nil, nil, err
		}
		end, err = s.materializer.MaterializeTag(ctx, s.opts.Remote, s.opts.EndTag)
	}
	if err != nil {
		start.Remove()
		return nil, nil, err
	}
	return start, end, nil
}

// finalize deletes the ephemeral branch and reads the final status. Runs
// only on success; on failure branch deletion belongs to the unwind so the
// scratch state stays inspectable until rollback completes.
func (s *Session) finalize(ctx context.Context, res *Result) error {
	if s.ephemeralBranch != "" {
		if _, err := s.git(ctx, "branch", "-D", "-q", s.ephemeralBranch); err != nil {
			return &BranchError{Op: "delete ephemeral branch", Err: err}
		}
		s.ephemeralBranch = ""
	}

	args := []string{"status", "--porcelain"}
	if s.subdir != "" {
		args = append(args, "--", strings.TrimSuffix(s.subdir, "/"))
	}
	out, err := s.git(ctx, args...)
	if err != nil {
		return fmt.Errorf("reading final status: %w", err)
	}

	res.Status = parseStatus(out)
	res.Conflicts = hasConflicts(res.Status)
	return nil
}

// git runs a git subcommand at the repository root.
func (s *Session) git(ctx context.Context, args ...string) (string, error) {
	return s.runner.Run(ctx, s.root, "git", args...)
}

// prefixed converts a subdirectory-relative path to a root-relative one.
func (s *Session) prefixed(rel string) string {
	return s.subdir + rel
}

// isIgnored reports whether the subdirectory-relative path is covered by
// the ignore set, either exactly or as a directory prefix.
func (s *Session) isIgnored(rel string) bool {
	for _, ig := range s.opts.IgnoredPaths {
		if rel == ig {
			return true
		}
		if strings.HasPrefix(rel, strings.TrimSuffix(ig, "/")+"/") {
			return true
		}
	}
	return false
}

// excludePathspecs returns git pathspecs excluding every ignored path,
// root-relative.
func (s *Session) excludePathspecs() []string {
	specs := make([]string, 0, len(s.opts.IgnoredPaths))
	for _, ig := range s.opts.IgnoredPaths {
		specs = append(specs, ":(exclude)"+s.prefixed(strings.TrimSuffix(ig, "/")))
	}
	return specs
}

// addPaths stages root-relative paths in chunks to stay under argv limits.
func (s *Session) addPaths(ctx context.Context, rels []string) error {
	const chunk = 200
	for i := 0; i < len(rels); i += chunk {
		end := min(i+chunk, len(rels))
		args := append([]string{"add", "--"}, rels[i:end]...)
		if _, err := s.git(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// dropNewUntracked removes untracked files that were not present before
// the session started. Pre-existing untracked files are never touched, so
// rollback restores the tree byte-for-byte.
func (s *Session) dropNewUntracked(ctx context.Context) error {
	// -uall lists untracked files individually rather than collapsing
	// directories, matching how the pre-run set was captured.
	out, err := s.git(ctx, "status", "--porcelain", "-uall")
	if err != nil {
		return err
	}

	var firstErr error
	for _, e := range parseStatus(out) {
		if e.Code != "??" || s.preRunUntracked[e.Path] {
			continue
		}
		if rmErr := s.fs.RemoveAll(filepath.Join(s.root, filepath.FromSlash(e.Path))); rmErr != nil && firstErr == nil {
			firstErr = rmErr
		}
	}
	return firstErr
}

// warnOnDowngrade logs when both tags parse as semantic versions and the
// end tag is older than the start tag.
func warnOnDowngrade(ctx context.Context, startTag, endTag string) {
	sv := ensureV(startTag)
	ev := ensureV(endTag)
	if semver.IsValid(sv) && semver.IsValid(ev) && semver.Compare(sv, ev) > 0 {
		logging.Warn(ctx, "end tag is older than start tag",
			slog.String("start", startTag),
			slog.String("end", endTag),
		)
	}
}

func ensureV(tag string) string {
	if strings.HasPrefix(tag, "v") {
		return tag
	}
	return "v" + tag
}
