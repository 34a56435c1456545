package snapshot

import (
	"bytes"
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"
)

// FileChange summarizes how one file differs between the start and end
// snapshots.
type FileChange struct {
	Path     string
	Added    bool
	Removed  bool
	Binary   bool
	Inserted int // lines
	Deleted  int // lines
}

// Diffstat compares two snapshots file-by-file and returns per-file line
// counts, sorted by path. Files identical in both snapshots are omitted.
// Binary files are reported without line counts.
func Diffstat(fs afero.Fs, start, end *Snapshot) ([]FileChange, error) {
	startFiles, err := start.Files()
	if err != nil {
		return nil, err
	}
	endFiles, err := end.Files()
	if err != nil {
		return nil, err
	}

	union := make(map[string]bool, len(startFiles)+len(endFiles))
	inStart := make(map[string]bool, len(startFiles))
	inEnd := make(map[string]bool, len(endFiles))
	for _, f := range startFiles {
		union[f] = true
		inStart[f] = true
	}
	for _, f := range endFiles {
		union[f] = true
		inEnd[f] = true
	}

	dmp := diffmatchpatch.New()

	var changes []FileChange
	for path := range union {
		var before, after []byte
		if inStart[path] {
			before, err = afero.ReadFile(fs, start.Location+"/"+path)
			if err != nil {
				return nil, err
			}
		}
		if inEnd[path] {
			after, err = afero.ReadFile(fs, end.Location+"/"+path)
			if err != nil {
				return nil, err
			}
		}
		if bytes.Equal(before, after) {
			continue
		}

		change := FileChange{
			Path:    path,
			Added:   !inStart[path],
			Removed: !inEnd[path],
		}

		if isBinary(before) || isBinary(after) {
			change.Binary = true
			changes = append(changes, change)
			continue
		}

		chars1, chars2, lines := dmp.DiffLinesToChars(string(before), string(after))
		diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lines)
		for _, d := range diffs {
			n := countLines(d.Text)
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				change.Inserted += n
			case diffmatchpatch.DiffDelete:
				change.Deleted += n
			case diffmatchpatch.DiffEqual:
			}
		}

		changes = append(changes, change)
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes, nil
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	// A trailing fragment without a newline still counts as a line.
	if s[len(s)-1] != '\n' {
		n++
	}
	return n
}
