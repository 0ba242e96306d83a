//go:build linux

package platform

import (
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIsFallbackErr(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{unix.ENOSYS, true},
		{unix.EXDEV, true},
		{unix.ENOTSUP, true},
		{unix.EOPNOTSUPP, true},
		{&os.PathError{Op: "copy_file_range", Path: "x", Err: unix.EXDEV}, true},
		{unix.ENOSPC, false},
		{fs.ErrPermission, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isFallbackErr(tt.err), "%v", tt.err)
	}
}
