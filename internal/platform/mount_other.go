//go:build !linux

package platform

import "errors"

// MountFor is not available off Linux.
func MountFor(string) (Mount, error) {
	return Mount{}, errors.New("mount lookup not supported on this platform")
}
