//go:build linux

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// btrfsFirstFreeObjectID is the inode number of every btrfs subvolume root.
const btrfsFirstFreeObjectID = 256

// IsBtrfs reports whether path lives on a btrfs filesystem.
func IsBtrfs(path string) (bool, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false, fmt.Errorf("statfs %s: %w", path, err)
	}
	//nolint:gosec // G115: f_type is a 32-bit magic on every arch
	return uint32(st.Type) == uint32(unix.BTRFS_SUPER_MAGIC), nil
}

// IsSubvolumeRoot reports whether path is the root of a btrfs subvolume.
func IsSubvolumeRoot(path string) (bool, error) {
	btrfs, err := IsBtrfs(path)
	if err != nil || !btrfs {
		return false, err
	}
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false, fmt.Errorf("lstat %s: %w", path, err)
	}
	return st.Ino == btrfsFirstFreeObjectID && st.Mode&unix.S_IFMT == unix.S_IFDIR, nil
}
