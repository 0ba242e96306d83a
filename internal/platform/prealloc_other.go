//go:build !linux

package platform

import "os"

// preallocate is a no-op off Linux.
func preallocate(_ *os.File, _ int64) {}
