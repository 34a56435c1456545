package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/logging"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/paths"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/settings"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/snapshot"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/update"
)

// preset is an update invocation stored in a YAML file, for teams that
// pin their template coordinates next to the project.
type preset struct {
	Remote       string   `yaml:"remote"`
	StartTag     string   `yaml:"start_tag"`
	EndTag       string   `yaml:"end_tag"`
	Ignore       []string `yaml:"ignore"`
	Reset        bool     `yaml:"reset"`
	StartCommand string   `yaml:"start_command"`
	EndCommand   string   `yaml:"end_command"`
}

func newUpdateCmd() *cobra.Command {
	var (
		remote       string
		startTag     string
		endTag       string
		ignore       []string
		reset        bool
		dryRun       bool
		startCommand string
		endCommand   string
		presetFile   string
		yes          bool
		noSecretScan bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply template changes between two tags",
		Long: `Update applies the difference between two revisions of the template
remote to the current working tree.

The tree must be clean apart from untracked files. The difference is
computed on an ephemeral branch, applied with a three-way merge, and any
failure rolls the repository back to its starting state. Conflicts are a
normal outcome: resolve the markers and commit as after any merge.

When invoked from a subdirectory, only that subdirectory is updated.

With --reset, local divergence from the template is discarded and the
tracked content is replaced with the end revision outright.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			root, err := paths.RepoRoot(ctx, cwd)
			if err != nil {
				return err
			}
			prefix, err := paths.Prefix(ctx, cwd)
			if err != nil {
				return err
			}

			if presetFile != "" {
				p, err := loadPreset(presetFile)
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if !flags.Changed("remote") && p.Remote != "" {
					remote = p.Remote
				}
				if !flags.Changed("start-tag") && p.StartTag != "" {
					startTag = p.StartTag
				}
				if !flags.Changed("end-tag") && p.EndTag != "" {
					endTag = p.EndTag
				}
				if !flags.Changed("ignore") && len(p.Ignore) > 0 {
					ignore = p.Ignore
				}
				if !flags.Changed("reset") {
					reset = p.Reset
				}
				if !flags.Changed("start-command") && p.StartCommand != "" {
					startCommand = p.StartCommand
				}
				if !flags.Changed("end-command") && p.EndCommand != "" {
					endCommand = p.EndCommand
				}
			}

			repoSettings, err := settings.Load(root)
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}
			if remote == "" {
				remote = repoSettings.Remote
			}
			ignore = append(scopeIgnoredPaths(prefix, repoSettings.IgnoredPaths), ignore...)

			customDiff := startCommand != "" && endCommand != ""
			if (startCommand != "") != (endCommand != "") {
				return errors.New("--start-command and --end-command must be given together")
			}
			if remote == "" && !customDiff {
				return errors.New("no template remote: pass --remote or set it in .tmplsync/settings.json")
			}
			if startTag == "" || endTag == "" {
				return errors.New("--start-tag and --end-tag are required")
			}

			runID := paths.NewRunID()
			logging.SetLogLevelGetter(func() string { return repoSettings.LogLevel })
			if err := logging.Init(root, runID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: file logging disabled: %v\n", err)
			}
			defer logging.Close()
			ctx = logging.WithRun(ctx, runID)

			if reset && !dryRun && !yes {
				confirmed, err := confirmReset(endTag)
				if err != nil {
					return err
				}
				if !confirmed {
					return nil
				}
			}

			sess := update.NewSession(root, prefix, update.Options{
				Remote:       remote,
				StartTag:     startTag,
				EndTag:       endTag,
				IgnoredPaths: ignore,
				Reset:        reset,
				DryRun:       dryRun,
				StartCommand: startCommand,
				EndCommand:   endCommand,
				SecretScan:   repoSettings.SecretScanEnabled() && !noSecretScan,
			}, update.WithRunID(runID))

			res, err := sess.Run(ctx)
			if err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "Template remote URL or path")
	cmd.Flags().StringVar(&startTag, "start-tag", "", "Template revision the project was generated from")
	cmd.Flags().StringVar(&endTag, "end-tag", "", "Template revision to update to")
	cmd.Flags().StringArrayVar(&ignore, "ignore", nil, "Path to leave untouched (repeatable)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Replace tracked content with the end revision instead of merging")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would change without touching the tree")
	cmd.Flags().StringVar(&startCommand, "start-command", "", "Shell command producing the start snapshot")
	cmd.Flags().StringVar(&endCommand, "end-command", "", "Shell command producing the end snapshot")
	cmd.Flags().StringVar(&presetFile, "preset", "", "YAML file with update parameters")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the reset confirmation prompt")
	cmd.Flags().BoolVar(&noSecretScan, "no-secret-scan", false, "Skip the secret scan of incoming content")

	return cmd
}

// scopeIgnoredPaths converts repo-root-relative ignore entries from the
// settings file into subdirectory-relative ones. Flag-sourced entries are
// already subdirectory-relative and bypass this. Entries outside the
// invocation scope are dropped; the update cannot touch them anyway.
func scopeIgnoredPaths(prefix string, entries []string) []string {
	if prefix == "" {
		return append([]string{}, entries...)
	}
	var scoped []string
	for _, e := range entries {
		if rel, ok := strings.CutPrefix(e, prefix); ok && rel != "" {
			scoped = append(scoped, rel)
		}
	}
	return scoped
}

func loadPreset(path string) (*preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading preset: %w", err)
	}
	var p preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing preset %s: %w", path, err)
	}
	return &p, nil
}

// confirmReset prompts before discarding local divergence. Non-interactive
// invocations must pass --yes explicitly.
func confirmReset(endTag string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("refusing to reset without --yes in a non-interactive session")
	}

	var confirmed bool
	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Replace tracked content with template revision %s?", endTag)).
				Description("Local changes to template-managed files will be discarded.").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get confirmation: %w", err)
	}
	return confirmed, nil
}

func printResult(out, errOut io.Writer, res *update.Result) {
	for _, f := range res.Secrets {
		fmt.Fprintf(errOut, "Warning: possible secret in incoming %s (%s, line %d)\n", f.Path, f.RuleID, f.Line)
	}

	if res.NothingToApply {
		fmt.Fprintln(out, update.NothingToApplyMessage)
		return
	}

	if res.DryRun {
		if len(res.Changes) == 0 {
			fmt.Fprintln(out, "No file changes between the two revisions")
			return
		}
		fmt.Fprintf(out, "Would change %d file(s):\n", len(res.Changes))
		for _, c := range res.Changes {
			fmt.Fprintln(out, "  "+formatChange(c))
		}
		return
	}

	for _, e := range res.Status {
		fmt.Fprintln(out, e.String())
	}
	if res.Conflicts {
		fmt.Fprintln(out, "Applied with conflicts; resolve the markers and commit")
	}
}

func formatChange(c snapshot.FileChange) string {
	switch {
	case c.Binary:
		return fmt.Sprintf("%s (binary)", c.Path)
	case c.Added:
		return fmt.Sprintf("%s (new, +%d)", c.Path, c.Inserted)
	case c.Removed:
		return fmt.Sprintf("%s (deleted, -%d)", c.Path, c.Deleted)
	default:
		return fmt.Sprintf("%s (+%d/-%d)", c.Path, c.Inserted, c.Deleted)
	}
}
