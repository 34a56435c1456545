package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/paths"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/settings"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tmplsync configuration for this repository",
		Long:  "Show the effective template remote and ignore list for the current repository",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), cwd)
		},
	}
}

func runStatus(ctx context.Context, w io.Writer, cwd string) error {
	root, err := paths.RepoRoot(ctx, cwd)
	if err != nil {
		fmt.Fprintln(w, "✕ not a git repository")
		return nil //nolint:nilerr // Not being in a git repo is a valid status, not an error
	}

	settingsPath := filepath.Join(root, paths.SettingsFile)
	localSettingsPath := filepath.Join(root, paths.SettingsLocalFile)

	_, projectErr := os.Stat(settingsPath)
	if projectErr != nil && !errors.Is(projectErr, fs.ErrNotExist) {
		return fmt.Errorf("cannot access project settings file: %w", projectErr)
	}
	_, localErr := os.Stat(localSettingsPath)
	if localErr != nil && !errors.Is(localErr, fs.ErrNotExist) {
		return fmt.Errorf("cannot access local settings file: %w", localErr)
	}
	projectExists := projectErr == nil
	localExists := localErr == nil

	if !projectExists && !localExists {
		fmt.Fprintln(w, "○ not configured (pass --remote explicitly or commit "+paths.SettingsFile+")")
		return nil
	}

	s, err := settings.Load(root)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	if s.Remote != "" {
		fmt.Fprintf(w, "● remote: %s\n", s.Remote)
	} else {
		fmt.Fprintln(w, "○ no remote configured")
	}
	if len(s.IgnoredPaths) > 0 {
		fmt.Fprintf(w, "  ignored paths: %s\n", strings.Join(s.IgnoredPaths, ", "))
	}
	fmt.Fprintf(w, "  secret scan: %s\n", onOff(s.SecretScanEnabled()))
	if localExists {
		fmt.Fprintf(w, "  local overrides: %s\n", localSettingsPath)
	}

	return nil
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
