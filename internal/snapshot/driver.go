package snapshot

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/bamsammich/cellar/internal/platform"
)

// Driver wraps the filesystem's native copy-on-write subvolume primitive.
type Driver interface {
	// IsSubvolume reports whether path is the root of a subvolume.
	IsSubvolume(path string) (bool, error)
	CreateSubvolume(ctx context.Context, path string) error
	// Snapshot creates dst as a snapshot of the subvolume src. Nested
	// subvolumes inside src appear as empty directories in dst.
	Snapshot(ctx context.Context, src, dst string, readOnly bool) error
	Delete(ctx context.Context, path string) error
}

// Btrfs drives btrfs subvolumes through the btrfs command line tool.
type Btrfs struct {
	// Binary overrides the btrfs executable; empty means "btrfs" from PATH.
	Binary string
}

var _ Driver = Btrfs{}

func (b Btrfs) IsSubvolume(path string) (bool, error) {
	return platform.IsSubvolumeRoot(path)
}

func (b Btrfs) CreateSubvolume(ctx context.Context, path string) error {
	return b.run(ctx, "subvolume", "create", path)
}

func (b Btrfs) Snapshot(ctx context.Context, src, dst string, readOnly bool) error {
	args := []string{"subvolume", "snapshot"}
	if readOnly {
		args = append(args, "-r")
	}
	return b.run(ctx, append(args, src, dst)...)
}

func (b Btrfs) Delete(ctx context.Context, path string) error {
	return b.run(ctx, "subvolume", "delete", path)
}

func (b Btrfs) run(ctx context.Context, args ...string) error {
	bin := b.Binary
	if bin == "" {
		bin = "btrfs"
	}
	//nolint:gosec // arguments are paths we built, never shell-interpreted
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v failed: %w, output: %s", bin, args, err, out)
	}
	return nil
}
