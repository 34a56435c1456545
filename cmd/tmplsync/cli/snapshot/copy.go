package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Copier copies snapshot trees into a working tree. The filesystem is an
// injected dependency so tests can substitute a failing implementation.
type Copier struct {
	fs afero.Fs
}

// NewCopier returns a Copier over fs. Pass afero.NewOsFs() in production.
func NewCopier(fs afero.Fs) *Copier {
	return &Copier{fs: fs}
}

// CopyTree copies every regular file under src into dst, creating parent
// directories as needed. Paths for which skip returns true are not copied.
// Returns the copied paths relative to src, sorted.
func (c *Copier) CopyTree(src, dst string, skip func(rel string) bool) ([]string, error) {
	var copied []string

	err := afero.Walk(c.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if skip != nil && skip(rel) {
			return nil
		}

		target := filepath.Join(dst, filepath.FromSlash(rel))
		if mkErr := c.fs.MkdirAll(filepath.Dir(target), 0o755); mkErr != nil {
			return mkErr
		}
		if cpErr := c.copyFile(path, target, info.Mode()); cpErr != nil {
			return cpErr
		}

		copied = append(copied, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	sort.Strings(copied)
	return copied, nil
}

func (c *Copier) copyFile(src, dst string, mode os.FileMode) error {
	in, err := c.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := c.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
