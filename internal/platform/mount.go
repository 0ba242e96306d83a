package platform

// Mount describes the filesystem holding a path.
type Mount struct {
	Point  string
	FSType string
	Source string
}

// Filesystem returns the filesystem type holding path, or "unknown".
func Filesystem(path string) string {
	m, err := MountFor(path)
	if err != nil || m.FSType == "" {
		return "unknown"
	}
	return m.FSType
}
