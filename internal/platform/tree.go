package platform

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TreeOptions controls CopyTree.
type TreeOptions struct {
	// Skip reports whether the entry at rel (slash-separated, relative to
	// the source root) should be left out. Skipped directories are pruned.
	Skip func(rel string, d fs.DirEntry) bool
	// SkipHidden leaves out every entry whose base name starts with ".".
	SkipHidden bool
}

// TreeStats summarizes a CopyTree run.
type TreeStats struct {
	Files    int64
	Dirs     int64
	Symlinks int64
	Bytes    int64
}

// CopyTree copies the tree rooted at src into dst. Symlinks are recreated
// verbatim rather than followed; devices, sockets and pipes are skipped.
// src may itself be a regular file or symlink.
//
//nolint:revive // cognitive-complexity: one switch per entry type
func CopyTree(src, dst string, opts TreeOptions) (TreeStats, error) {
	var st TreeStats
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("rel path for %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		if rel != "." {
			if (opts.SkipHidden && strings.HasPrefix(d.Name(), ".")) ||
				(opts.Skip != nil && opts.Skip(rel, d)) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		target := filepath.Join(dst, filepath.FromSlash(rel))
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		switch mode := info.Mode(); {
		case mode.IsDir():
			if err := os.MkdirAll(target, mode.Perm()|0o700); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}
			st.Dirs++
		case mode&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent dir for symlink %s: %w", target, err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(link, target); err != nil {
				return fmt.Errorf("symlink %s -> %s: %w", target, link, err)
			}
			st.Symlinks++
		case mode.IsRegular():
			res, err := InstallFile(path, target, mode.Perm())
			if err != nil {
				return err
			}
			st.Files++
			st.Bytes += res.BytesWritten
		}
		return nil
	})
	return st, err
}
