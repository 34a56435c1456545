package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/logging"
)

// maxScanFileSize caps per-file reads during the secret scan. Template
// files larger than this are skipped rather than buffered.
const maxScanFileSize = 4 << 20

// SecretFinding describes one potential secret found in incoming template
// content. Findings are reported as warnings; they never block the update.
type SecretFinding struct {
	Path   string
	RuleID string
	Line   int
}

// ScanSecrets runs the gitleaks default ruleset over the snapshot's files
// and returns any findings. Binary and oversized files are skipped.
func ScanSecrets(ctx context.Context, fs afero.Fs, snap *Snapshot) ([]SecretFinding, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading secret detection rules: %w", err)
	}

	files, err := snap.Files()
	if err != nil {
		return nil, err
	}

	var findings []SecretFinding
	for _, rel := range files {
		path := filepath.Join(snap.Location, filepath.FromSlash(rel))
		info, statErr := fs.Stat(path)
		if statErr != nil || info.Size() > maxScanFileSize {
			continue
		}

		data, readErr := afero.ReadFile(fs, path)
		if readErr != nil {
			continue
		}
		if isBinary(data) {
			continue
		}

		for _, f := range detector.Detect(detect.Fragment{
			Raw:      string(data),
			FilePath: rel,
		}) {
			findings = append(findings, SecretFinding{
				Path:   rel,
				RuleID: f.RuleID,
				Line:   f.StartLine,
			})
		}
	}

	for _, f := range findings {
		logging.Warn(ctx, "possible secret in incoming template content",
			slog.String("path", f.Path),
			slog.String("rule", f.RuleID),
			slog.Int("line", f.Line),
		)
	}

	return findings, nil
}
