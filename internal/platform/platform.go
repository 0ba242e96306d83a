// Package platform wraps the OS primitives the versioning engine depends
// on: efficient whole-file copies, no-clobber renames, and copy-on-write
// filesystem detection.
package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// CopyMethod identifies which syscall/strategy was used for a copy.
type CopyMethod int

const (
	ReadWrite     CopyMethod = iota
	CopyFileRange            // Linux copy_file_range(2)
	Sendfile                 // Linux sendfile(2)
	Reflink                  // Linux FICLONE ioctl
)

func (m CopyMethod) String() string {
	switch m {
	case ReadWrite:
		return "read_write"
	case CopyFileRange:
		return "copy_file_range"
	case Sendfile:
		return "sendfile"
	case Reflink:
		return "reflink"
	default:
		return "unknown"
	}
}

// CopyResult reports the outcome of a copy operation.
type CopyResult struct {
	BytesWritten int64
	Method       CopyMethod
}

// TmpSuffix marks in-flight temporary files. Scanners skip names carrying it.
const TmpSuffix = ".cellar-tmp"

// TmpPath returns a unique temporary sibling of path.
func TmpPath(path string) string {
	return filepath.Join(filepath.Dir(path),
		fmt.Sprintf(".%s.%s%s", filepath.Base(path), uuid.New().String()[:8], TmpSuffix))
}

// InstallFile copies src to dst through a temporary sibling that is renamed
// over dst once fully written, so readers never observe a partial file.
// Missing parent directories are created.
func InstallFile(src, dst string, perm os.FileMode) (CopyResult, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CopyResult{}, fmt.Errorf("create parent dir %s: %w", dir, err)
	}

	srcFd, err := os.Open(src)
	if err != nil {
		return CopyResult{}, err
	}
	defer srcFd.Close()

	info, err := srcFd.Stat()
	if err != nil {
		return CopyResult{}, fmt.Errorf("stat %s: %w", src, err)
	}

	tmpPath := TmpPath(dst)
	RegisterTmp(tmpPath)
	defer func() {
		DeregisterTmp(tmpPath)
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	tmpFd, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm.Perm())
	if err != nil {
		return CopyResult{}, fmt.Errorf("create tmp %s: %w", tmpPath, err)
	}

	result, err := copyData(tmpFd, srcFd, info.Size())
	if err != nil {
		tmpFd.Close()
		return result, fmt.Errorf("copy %s: %w", src, err)
	}

	// The umask may have narrowed the create mode.
	if err := tmpFd.Chmod(perm.Perm()); err != nil {
		tmpFd.Close()
		return result, fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := tmpFd.Close(); err != nil {
		return result, fmt.Errorf("close tmp %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return result, fmt.Errorf("rename %s -> %s: %w", tmpPath, dst, err)
	}
	return result, nil
}
