//go:build !linux

package platform

// RenameNoReplace renames oldpath to newpath, failing with fs.ErrExist
// instead of replacing an existing newpath.
func RenameNoReplace(oldpath, newpath string) error {
	return renameChecked(oldpath, newpath)
}
