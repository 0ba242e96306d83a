//go:build !linux

package platform

// IsBtrfs is always false off Linux.
func IsBtrfs(string) (bool, error) { return false, nil }

// IsSubvolumeRoot is always false off Linux.
func IsSubvolumeRoot(string) (bool, error) { return false, nil }
