package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
)

// Contents summarizes a validated archive.
type Contents struct {
	Roots   []string // distinct top-level names
	Entries int
	Bytes   int64 // uncompressed regular file bytes
}

func openStream(ctx context.Context, src string, bwlimit int64) (*tar.Reader, func(), error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, nil, result.Wrap(result.KindOf(err), "archive read", src, err)
	}
	zr, err := gzip.NewReader(limitReader(ctx, f, bwlimit))
	if err != nil {
		f.Close()
		return nil, nil, result.Wrap(result.Corrupted, "archive read", src, err)
	}
	return tar.NewReader(zr), func() { zr.Close(); f.Close() }, nil
}

// localName returns the cleaned form of an archive member name, or an error
// when the name is absolute or escapes the extraction root.
func localName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute or empty entry name %q", name)
	}
	clean := path.Clean(name)
	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("entry name %q escapes the destination", name)
	}
	return clean, nil
}

// Inspect validates every member of the archive at src without writing
// anything. When destDir is non-empty, members whose parent directories
// already exist under destDir as something other than a directory are
// rejected too.
func Inspect(ctx context.Context, src, destDir string, opts Options) (Contents, error) {
	tr, closeFn, err := openStream(ctx, src, 0)
	if err != nil {
		return Contents{}, err
	}
	defer closeFn()

	var (
		c        Contents
		names    []string
		kinds    = make(map[string]byte)
		symlinks = make(map[string]struct{})
		roots    = make(map[string]struct{})
	)
	violation := func(name, format string, args ...any) error {
		return result.Errorf(result.SecurityViolation, "archive read", name, format, args...)
	}

	for {
		if err := ctx.Err(); err != nil {
			return Contents{}, result.Wrap(result.IOFailure, "archive read", src, err)
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Contents{}, result.Wrap(result.Corrupted, "archive read", src, err)
		}
		name, err := localName(hdr.Name)
		if err != nil {
			return Contents{}, violation(hdr.Name, "%v", err)
		}
		if name == "." && hdr.Typeflag != tar.TypeDir {
			return Contents{}, violation(hdr.Name, "non-directory entry at the archive root")
		}
		switch hdr.Typeflag {
		case tar.TypeReg:
			if hdr.Size < 0 {
				return Contents{}, result.Errorf(result.Corrupted, "archive read", name, "negative size")
			}
			c.Bytes += hdr.Size
		case tar.TypeDir:
		case tar.TypeSymlink:
			if hdr.Linkname == "" {
				return Contents{}, violation(name, "symlink without target")
			}
			symlinks[name] = struct{}{}
		case tar.TypeLink:
			target, err := localName(hdr.Linkname)
			if err != nil {
				return Contents{}, violation(name, "hardlink: %v", err)
			}
			if kinds[target] != tar.TypeReg {
				return Contents{}, violation(name, "hardlink target %q is not an earlier regular file", hdr.Linkname)
			}
		default:
			return Contents{}, violation(name, "unsupported entry type %q", hdr.Typeflag)
		}
		if name != "." {
			kinds[name] = hdr.Typeflag
			names = append(names, name)
			roots[strings.SplitN(name, "/", 2)[0]] = struct{}{}
		}
		c.Entries++
	}

	checked := make(map[string]struct{})
	for _, name := range names {
		for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
			if _, ok := symlinks[dir]; ok {
				return Contents{}, violation(name, "entry lies beneath archive symlink %q", dir)
			}
			if k, ok := kinds[dir]; ok && k != tar.TypeDir {
				return Contents{}, violation(name, "entry lies beneath archive file %q", dir)
			}
			if destDir == "" {
				continue
			}
			if _, ok := checked[dir]; ok {
				continue
			}
			checked[dir] = struct{}{}
			if err := checkDir(destDir, dir); err != nil {
				return Contents{}, violation(name, "%v", err)
			}
		}
	}

	for r := range roots {
		c.Roots = append(c.Roots, r)
	}
	slices.Sort(c.Roots)
	opts.logger().Debug("archive: validated", "src", src, "entries", c.Entries, "bytes", c.Bytes)
	return c, nil
}

// checkDir fails when rel already exists under root as a non-directory.
func checkDir(root, rel string) error {
	info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%q exists in the destination and is not a directory", rel)
	}
	return nil
}

type pendingLink struct {
	target string
	link   string
}

// Read extracts the archive at src into destDir. Every member is validated
// first; a single unsafe member fails the whole read with a
// SecurityViolation before anything is written. progress, when non-nil,
// receives cumulative uncompressed bytes against the total.
func Read(ctx context.Context, src, destDir string, opts Options, progress func(done, total int64)) (Contents, error) {
	logger := opts.logger()
	contents, err := Inspect(ctx, src, destDir, opts)
	if err != nil {
		logger.Warn("archive rejected", "src", src, "error", err)
		return Contents{}, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Contents{}, result.Wrap(result.IOFailure, "archive read", destDir, err)
	}
	opts.Stats.SetTotals(int64(contents.Entries), contents.Bytes)

	tr, closeFn, err := openStream(ctx, src, opts.BWLimit)
	if err != nil {
		return Contents{}, err
	}
	defer closeFn()

	var (
		done     int64
		symlinks []pendingLink
		dirTimes []pendingTime
	)
	report := func(n int64) {
		done += n
		if progress != nil {
			progress(done, contents.Bytes)
		}
	}
	tracker := newPercentTracker(contents.Bytes, nil, opts.Events)

	for {
		if err := ctx.Err(); err != nil {
			return Contents{}, result.Wrap(result.IOFailure, "archive read", src, err)
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Contents{}, result.Wrap(result.Corrupted, "archive read", src, err)
		}
		name := path.Clean(hdr.Name)
		if name == "." {
			continue
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))
		if err := checkParents(destDir, name); err != nil {
			return Contents{}, result.Wrap(result.SecurityViolation, "archive read", name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := extractDir(target, hdr); err != nil {
				return Contents{}, result.Wrap(result.IOFailure, "archive read", name, err)
			}
			dirTimes = append(dirTimes, pendingTime{path: target, mtime: hdr.ModTime})
		case tar.TypeReg:
			add := func(n int64) {
				report(n)
				tracker.add(n)
			}
			if err := extractFile(target, hdr, tr, add); err != nil {
				return Contents{}, result.Wrap(result.IOFailure, "archive read", name, err)
			}
		case tar.TypeLink:
			from := filepath.Join(destDir, filepath.FromSlash(path.Clean(hdr.Linkname)))
			if err := replaceWith(target, func() error { return os.Link(from, target) }); err != nil {
				return Contents{}, result.Wrap(result.IOFailure, "archive read", name, err)
			}
		case tar.TypeSymlink:
			symlinks = append(symlinks, pendingLink{target: target, link: hdr.Linkname})
		}
		opts.Stats.AddEntryExtracted(hdr.Size)
		opts.Events.Emit(event.Event{Type: event.EntryExtracted, Path: name, Size: hdr.Size})
	}

	for _, s := range symlinks {
		if err := os.MkdirAll(filepath.Dir(s.target), 0o755); err != nil {
			return Contents{}, result.Wrap(result.IOFailure, "archive read", s.target, err)
		}
		if err := replaceWith(s.target, func() error { return os.Symlink(s.link, s.target) }); err != nil {
			return Contents{}, result.Wrap(result.IOFailure, "archive read", s.target, err)
		}
	}
	// Directory mtimes last, deepest first, since extraction touches them.
	for i := len(dirTimes) - 1; i >= 0; i-- {
		_ = os.Chtimes(dirTimes[i].path, dirTimes[i].mtime, dirTimes[i].mtime)
	}

	tracker.finish()
	logger.Info("archive extracted", "src", src, "dest", destDir,
		"entries", contents.Entries, "bytes", contents.Bytes, "symlinks", len(symlinks))
	return contents, nil
}

type pendingTime struct {
	mtime time.Time
	path  string
}

// checkParents fails when any existing ancestor of rel under root is not a
// real directory, so nothing is written through a link.
func checkParents(root, rel string) error {
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if err := checkDir(root, dir); err != nil {
			return err
		}
	}
	return nil
}

func extractDir(target string, hdr *tar.Header) error {
	info, err := os.Lstat(target)
	switch {
	case err == nil && !info.IsDir():
		if err := os.Remove(target); err != nil {
			return err
		}
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	return os.Chmod(target, hdr.FileInfo().Mode().Perm()|0o700)
}

func extractFile(target string, hdr *tar.Header, r io.Reader, add func(int64)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp := platform.TmpPath(target)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return err
	}
	platform.RegisterTmp(tmp)
	defer platform.DeregisterTmp(tmp)

	cw := &countingWriter{w: f, add: add}
	if _, err := io.Copy(cw, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, hdr.FileInfo().Mode().Perm()); err != nil {
		os.Remove(tmp)
		return err
	}
	_ = os.Chtimes(tmp, hdr.ModTime, hdr.ModTime)
	if err := replaceWith(target, func() error { return os.Rename(tmp, target) }); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// replaceWith removes whatever non-directory sits at target, then runs
// create. An existing directory is an error.
func replaceWith(target string, create func() error) error {
	info, err := os.Lstat(target)
	switch {
	case err == nil && info.IsDir():
		return fmt.Errorf("%s exists and is a directory", target)
	case err == nil:
		if err := os.Remove(target); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	return create()
}
