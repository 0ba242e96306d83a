//go:build linux

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// copyData tries the cheapest copy first: a reflink shares extents on CoW
// filesystems, then copy_file_range, sendfile, and finally read/write.
// Each step falls through on unsupported or cross-device errors.
func copyData(dst, src *os.File, size int64) (CopyResult, error) {
	if size == 0 {
		return CopyResult{Method: ReadWrite}, nil
	}

	// Reflink is opportunistic; any refusal falls through.
	//nolint:gosec // G115: fds are small non-negative integers
	if err := unix.IoctlFileClone(int(dst.Fd()), int(src.Fd())); err == nil {
		return CopyResult{BytesWritten: size, Method: Reflink}, nil
	}

	preallocate(dst, size)

	result, err := copyFileRange(dst, src, size)
	if err == nil || !isFallbackErr(err) {
		return result, err
	}

	result, err = copySendfile(dst, src, size)
	if err == nil || !isFallbackErr(err) {
		return result, err
	}

	return copyReadWrite(dst, src, size)
}

//nolint:gosec // G115: fds are small non-negative integers
func copyFileRange(dst, src *os.File, size int64) (CopyResult, error) {
	var roff, woff int64
	var total int64
	for total < size {
		n, err := unix.CopyFileRange(int(src.Fd()), &roff, int(dst.Fd()), &woff, int(size-total), 0)
		if err != nil {
			return CopyResult{BytesWritten: total, Method: CopyFileRange}, err
		}
		if n == 0 {
			break
		}
		total += int64(n)
	}
	return CopyResult{BytesWritten: total, Method: CopyFileRange}, nil
}

//nolint:gosec // G115: fds are small non-negative integers
func copySendfile(dst, src *os.File, size int64) (CopyResult, error) {
	var offset int64
	var total int64
	for total < size {
		n, err := unix.Sendfile(int(dst.Fd()), int(src.Fd()), &offset, int(size-total))
		if err != nil {
			return CopyResult{BytesWritten: total, Method: Sendfile}, err
		}
		if n == 0 {
			break
		}
		total += int64(n)
	}
	return CopyResult{BytesWritten: total, Method: Sendfile}, nil
}

// isFallbackErr returns true if err should trigger the next copy strategy.
// Partial progress is never retried, so only errors before any byte moved
// reach here.
func isFallbackErr(err error) bool {
	switch err {
	case unix.ENOSYS, unix.EXDEV, unix.EINVAL, unix.ENOTSUP, unix.ENOTTY, unix.EBADF:
		return true
	}
	if e, ok := err.(*os.PathError); ok {
		return isFallbackErr(e.Err)
	}
	return false
}
