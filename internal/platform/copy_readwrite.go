package platform

import (
	"io"
	"os"
	"sync"
)

const bufferSize = 1 << 20 // 1 MiB

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// copyReadWrite copies with a pooled buffer. Both files are read and written
// from offset zero regardless of their current positions.
func copyReadWrite(dst, src *os.File, size int64) (CopyResult, error) {
	bufp := bufPool.Get().(*[]byte) //nolint:forcetypeassert // pool only holds *[]byte
	defer bufPool.Put(bufp)

	r := io.NewSectionReader(src, 0, size)
	w := io.NewOffsetWriter(dst, 0)
	n, err := io.CopyBuffer(w, r, *bufp)
	return CopyResult{BytesWritten: n, Method: ReadWrite}, err
}
