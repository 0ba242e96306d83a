package platform

import (
	"io/fs"
	"os"
)

// renameChecked refuses to replace an existing newpath, then renames. The
// check and the rename are not atomic together; it backs RenameNoReplace on
// kernels without renameat2.
func renameChecked(oldpath, newpath string) error {
	if _, err := os.Lstat(newpath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrExist}
	}
	return os.Rename(oldpath, newpath)
}
