package update

import (
	"strings"
)

// FileStatus is one entry of the final working-tree status, carrying the
// two-character porcelain code the underlying tool reported.
type FileStatus struct {
	// Code is the raw porcelain XY code, e.g. "M ", "A ", "D ", "UU",
	// "AD", "??".
	Code string

	// Path is the file path relative to the repository root.
	Path string

	// OrigPath is set for renames and copies.
	OrigPath string
}

// String renders the entry in porcelain format.
func (s FileStatus) String() string {
	if s.OrigPath != "" {
		return s.Code + " " + s.OrigPath + " -> " + s.Path
	}
	return s.Code + " " + s.Path
}

// IsConflict reports whether the code marks the path as needing manual
// resolution. Covers git's unmerged combinations (both-modified UU,
// both-added AA, both-deleted DD, the added/deleted-by-us/them pairs)
// plus added-then-deleted (AD), where an applied addition no longer
// exists in the working tree.
func (s FileStatus) IsConflict() bool {
	switch s.Code {
	case "DD", "AU", "UD", "UA", "DU", "AA", "UU", "AD":
		return true
	}
	return false
}

// parseStatus parses 'git status --porcelain' output.
func parseStatus(out string) []FileStatus {
	var entries []FileStatus

	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		rest := line[3:]

		entry := FileStatus{Code: code, Path: unquotePath(rest)}
		if orig, dest, ok := strings.Cut(rest, " -> "); ok {
			entry.OrigPath = unquotePath(orig)
			entry.Path = unquotePath(dest)
		}
		entries = append(entries, entry)
	}

	return entries
}

// unquotePath strips the C-style quoting git applies to paths containing
// special characters. Escaped bytes inside quoted paths are left as-is;
// the workflow only routes these paths back into git, which accepts both forms.
func unquotePath(p string) string {
	if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
		return p[1 : len(p)-1]
	}
	return p
}

// hasConflicts reports whether any entry is unmerged.
func hasConflicts(entries []FileStatus) bool {
	for _, e := range entries {
		if e.IsConflict() {
			return true
		}
	}
	return false
}
