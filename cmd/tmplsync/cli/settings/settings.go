// Package settings provides configuration loading for tmplsync.
// This package is separate from cli so the update workflow packages can
// import it without creating an import cycle (cli imports them).
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tmplsync/cli/cmd/tmplsync/cli/paths"
)

// Settings represents the .tmplsync/settings.json configuration.
type Settings struct {
	// Remote is the default template remote used when --remote is not given.
	Remote string `json:"remote,omitempty"`

	// IgnoredPaths are excluded from diffing and patch application in
	// every update, in addition to paths passed on the command line.
	// Entries are relative to the repository root, regardless of which
	// subdirectory the command runs from.
	IgnoredPaths []string `json:"ignored_paths,omitempty"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Can be overridden by the TMPLSYNC_LOG_LEVEL environment variable.
	// Defaults to "info".
	LogLevel string `json:"log_level,omitempty"`

	// SecretScan controls the warn-only scan of incoming template content.
	// Defaults to true.
	SecretScan *bool `json:"secret_scan,omitempty"`

	// Telemetry controls anonymous usage analytics.
	// nil = not configured (disabled), true = opted in, false = opted out
	Telemetry *bool `json:"telemetry,omitempty"`
}

// Load loads settings from .tmplsync/settings.json under repoRoot, then
// applies any overrides from .tmplsync/settings.local.json if it exists.
// Returns default settings if neither file exists.
func Load(repoRoot string) (*Settings, error) {
	settingsFile := filepath.Join(repoRoot, paths.SettingsFile)
	localSettingsFile := filepath.Join(repoRoot, paths.SettingsLocalFile)

	settings, err := loadFromFile(settingsFile)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	localData, err := os.ReadFile(localSettingsFile) //nolint:gosec // path is repoRoot-relative constant
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
		// Local file doesn't exist, continue without overrides
	} else {
		if err := mergeJSON(settings, localData); err != nil {
			return nil, fmt.Errorf("merging local settings: %w", err)
		}
	}

	applyDefaults(settings)

	return settings, nil
}

// LoadFromFile loads settings from a specific file path.
// Returns default settings if the file doesn't exist.
func LoadFromFile(filePath string) (*Settings, error) {
	return loadFromFile(filePath)
}

func loadFromFile(filePath string) (*Settings, error) {
	settings := &Settings{}

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from caller
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(settings)
			return settings, nil
		}
		return nil, fmt.Errorf("%w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	applyDefaults(settings)

	return settings, nil
}

// mergeJSON merges JSON data into existing settings.
// Only fields present in the JSON override existing settings.
func mergeJSON(settings *Settings, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	if remoteRaw, ok := raw["remote"]; ok {
		var r string
		if err := json.Unmarshal(remoteRaw, &r); err != nil {
			return fmt.Errorf("parsing remote field: %w", err)
		}
		if r != "" {
			settings.Remote = r
		}
	}

	if ignoredRaw, ok := raw["ignored_paths"]; ok {
		var ignored []string
		if err := json.Unmarshal(ignoredRaw, &ignored); err != nil {
			return fmt.Errorf("parsing ignored_paths field: %w", err)
		}
		settings.IgnoredPaths = append(settings.IgnoredPaths, ignored...)
	}

	if logLevelRaw, ok := raw["log_level"]; ok {
		var ll string
		if err := json.Unmarshal(logLevelRaw, &ll); err != nil {
			return fmt.Errorf("parsing log_level field: %w", err)
		}
		if ll != "" {
			settings.LogLevel = ll
		}
	}

	if scanRaw, ok := raw["secret_scan"]; ok {
		var s bool
		if err := json.Unmarshal(scanRaw, &s); err != nil {
			return fmt.Errorf("parsing secret_scan field: %w", err)
		}
		settings.SecretScan = &s
	}

	if telemetryRaw, ok := raw["telemetry"]; ok {
		var t bool
		if err := json.Unmarshal(telemetryRaw, &t); err != nil {
			return fmt.Errorf("parsing telemetry field: %w", err)
		}
		settings.Telemetry = &t
	}

	return nil
}

func applyDefaults(settings *Settings) {
	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}
}

// SecretScanEnabled reports whether incoming snapshot content should be
// scanned for secrets. Defaults to true when unset.
func (s *Settings) SecretScanEnabled() bool {
	if s.SecretScan == nil {
		return true
	}
	return *s.SecretScan
}
