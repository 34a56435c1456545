// Package cli wires the tmplsync commands together.
package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/paths"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/settings"
	"github.com/tmplsync/cli/cmd/tmplsync/cli/telemetry"
)

const gettingStarted = `

Getting Started:
  Run 'tmplsync update --remote <url> --start-tag <tag> --end-tag <tag>'
  inside a project generated from a template to pull in the template
  changes between the two tags. Defaults can be committed to
  .tmplsync/settings.json.

`

// Version information (can be set at build time)
var (
	Version = "dev"
	Commit  = "unknown"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tmplsync",
		Short: "Update a project from its upstream template",
		Long:  "Applies the difference between two template revisions to a generated project" + gettingStarted,
		// Let main.go handle error printing to avoid duplication
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			// Telemetry preference lives in the repo settings; outside a
			// repository nil defaults to disabled.
			var telemetryEnabled *bool
			mode := "merge"
			if cwd, err := os.Getwd(); err == nil {
				ctx := cmd.Context()
				if root, err := paths.RepoRoot(ctx, cwd); err == nil {
					if s, err := settings.Load(root); err == nil {
						telemetryEnabled = s.Telemetry
					}
				}
			}
			if reset, err := cmd.Flags().GetBool("reset"); err == nil && reset {
				mode = "reset"
			}

			client := telemetry.NewClient(Version, telemetryEnabled)
			defer client.Close()
			client.TrackCommand(cmd, mode)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("tmplsync %s (%s)\n", Version, Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
