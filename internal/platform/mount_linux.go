//go:build linux

package platform

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs"
)

// MountFor resolves the mount containing path from /proc/self/mountinfo,
// picking the longest matching mount point.
func MountFor(path string) (Mount, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Mount{}, err
	}
	mounts, err := procfs.GetMounts()
	if err != nil {
		return Mount{}, err
	}

	var best *procfs.MountInfo
	for _, m := range mounts {
		if !withinMount(abs, m.MountPoint) {
			continue
		}
		if best == nil || len(m.MountPoint) > len(best.MountPoint) {
			best = m
		}
	}
	if best == nil {
		return Mount{}, errors.New("unable to resolve mount for path")
	}
	return Mount{Point: best.MountPoint, FSType: best.FSType, Source: best.Source}, nil
}

func withinMount(path, mountPoint string) bool {
	if mountPoint == "/" || path == mountPoint {
		return true
	}
	return strings.HasPrefix(path, mountPoint+"/")
}
