//go:build !linux

package platform

import "os"

// copyData falls back to read/write on platforms without copy offload.
func copyData(dst, src *os.File, size int64) (CopyResult, error) {
	preallocate(dst, size)
	return copyReadWrite(dst, src, size)
}
