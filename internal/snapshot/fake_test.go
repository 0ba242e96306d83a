//go:build linux

package snapshot

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/bamsammich/cellar/internal/platform"
)

// fakeDriver emulates subvolumes with plain directory copies, keyed by
// inode so plain renames keep their identity. Like btrfs, nested
// subvolumes come out of a snapshot as empty directories.
type fakeDriver struct {
	subvols      map[uint64]bool // inode -> read-only
	failSnapshot func(src, dst string) error
	failDelete   bool
	mu           sync.Mutex
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{subvols: make(map[uint64]bool)}
}

func inode(path string) (uint64, bool) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return 0, false
	}
	return info.Sys().(*syscall.Stat_t).Ino, true
}

func (d *fakeDriver) IsSubvolume(path string) (bool, error) {
	ino, ok := inode(path)
	if !ok {
		return false, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok = d.subvols[ino]
	return ok, nil
}

func (d *fakeDriver) readOnly(path string) bool {
	ino, _ := inode(path)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subvols[ino]
}

func (d *fakeDriver) register(path string, readOnly bool) {
	ino, _ := inode(path)
	d.mu.Lock()
	d.subvols[ino] = readOnly
	d.mu.Unlock()
}

func (d *fakeDriver) CreateSubvolume(_ context.Context, path string) error {
	if err := os.Mkdir(path, 0o755); err != nil {
		return err
	}
	d.register(path, false)
	return nil
}

func (d *fakeDriver) Snapshot(_ context.Context, src, dst string, readOnly bool) error {
	if d.failSnapshot != nil {
		if err := d.failSnapshot(src, dst); err != nil {
			return err
		}
	}
	if ok, _ := d.IsSubvolume(src); !ok {
		return errors.New("not a subvolume: " + src)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fs.ErrExist
	}

	_, err := platform.CopyTree(src, dst, platform.TreeOptions{
		Skip: func(rel string, e fs.DirEntry) bool {
			if !e.IsDir() {
				return false
			}
			if nested, _ := d.IsSubvolume(filepath.Join(src, rel)); nested {
				_ = os.MkdirAll(filepath.Join(dst, rel), 0o755)
				return true
			}
			return false
		},
	})
	if err != nil {
		return err
	}
	d.register(dst, readOnly)
	return nil
}

func (d *fakeDriver) Delete(_ context.Context, path string) error {
	if d.failDelete {
		return errors.New("ERROR: Could not destroy subvolume: Operation not permitted")
	}
	if ok, _ := d.IsSubvolume(path); !ok {
		return errors.New("not a subvolume: " + path)
	}
	var inodes []uint64
	_ = filepath.WalkDir(path, func(p string, e fs.DirEntry, err error) error {
		if err == nil && e.IsDir() {
			if ino, ok := inode(p); ok {
				inodes = append(inodes, ino)
			}
		}
		return nil
	})
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	d.mu.Lock()
	for _, ino := range inodes {
		delete(d.subvols, ino)
	}
	d.mu.Unlock()
	return nil
}
