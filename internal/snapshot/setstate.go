package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
)

// SetState replaces the live root with a writable snapshot of snapshot id.
// The steps are ordered so an interruption between any two leaves either
// the old root or the new root in place, plus at most a {root}-tmp that the
// next call recovers:
//
//  1. rename root to {root}-tmp
//  2. snapshot the chosen state at root (on failure rename {root}-tmp back)
//  3. carry the internal sub-containers over from {root}-tmp
//  4. delete {root}-tmp
//  5. record the active id
//
// Asking for the active id is a NothingToChange failure that touches nothing.
func (s *Store) SetState(ctx context.Context, id int) error {
	snap, err := s.Lookup(id)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(s.tmpRoot()); errors.Is(err, fs.ErrNotExist) {
		if active, err := s.Active(); err == nil && active == id {
			return result.Errorf(result.NothingToChange, "set state", s.root, "state %d is already active", id)
		}
	}
	if err := s.recoverTmp(ctx); err != nil {
		return err
	}

	tmp := s.tmpRoot()
	if err := platform.RenameNoReplace(s.root, tmp); err != nil {
		return result.Wrap(result.IOFailure, "set state: move root aside", s.root, err)
	}

	if err := s.driver.Snapshot(ctx, snap.Path, s.root, false); err != nil {
		if rbErr := s.rollback(); rbErr != nil {
			s.logger.Error("set state: rollback failed, live root left at tmp path",
				"tmp", tmp, "error", rbErr)
			return result.Wrap(result.IOFailure, "set state", s.root,
				fmt.Errorf("snapshot: %w; rollback: %w", err, rbErr))
		}
		return result.Wrap(result.IOFailure, "set state: snapshot", snap.Path, err)
	}

	if err := s.carrySubvolumes(ctx, tmp); err != nil {
		return result.Wrap(result.IOFailure, "set state: sub-containers", s.root, err)
	}
	if err := s.deleteSubvolume(ctx, tmp); err != nil {
		return result.Wrap(result.IOFailure, "set state: delete old root", tmp, err)
	}
	if err := s.setActive(id); err != nil {
		return err
	}

	s.logger.Info("state restored", "state", id)
	s.events.Emit(event.Event{Type: event.StateRestored, StateID: strconv.Itoa(id)})
	return nil
}

// rollback puts the old root back after a failed snapshot. A partial root
// left by the driver is removed first.
func (s *Store) rollback() error {
	if _, err := os.Lstat(s.root); err == nil {
		if err := os.RemoveAll(s.root); err != nil {
			return err
		}
	}
	return os.Rename(s.tmpRoot(), s.root)
}

// carrySubvolumes moves each internal sub-container from old into the new
// root, replacing the empty placeholder the snapshot left behind.
func (s *Store) carrySubvolumes(ctx context.Context, old string) error {
	for _, name := range s.subvolumes {
		from := filepath.Join(old, name)
		to := filepath.Join(s.root, name)
		if _, err := os.Lstat(from); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if _, err := os.Lstat(to); err == nil {
			if isSub, _ := s.driver.IsSubvolume(to); isSub {
				if err := s.deleteSubvolume(ctx, to); err != nil {
					return err
				}
			} else if err := os.RemoveAll(to); err != nil {
				return err
			}
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("move %s: %w", name, err)
		}
	}
	return nil
}

// recoverTmp finishes or undoes a SetState that was interrupted: with no
// root the tmp is the last good root and is renamed back, otherwise the
// new root is in place and the tmp is drained and deleted.
func (s *Store) recoverTmp(ctx context.Context) error {
	tmp := s.tmpRoot()
	if _, err := os.Lstat(tmp); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if _, err := os.Lstat(s.root); errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("recovering bottle root from interrupted restore", "tmp", tmp)
		return result.Wrap(result.IOFailure, "recover", tmp, os.Rename(tmp, s.root))
	}

	s.logger.Warn("removing leftover root from interrupted restore", "tmp", tmp)
	if err := s.carrySubvolumes(ctx, tmp); err != nil {
		return result.Wrap(result.IOFailure, "recover", tmp, err)
	}
	return result.Wrap(result.IOFailure, "recover", tmp, s.deleteSubvolume(ctx, tmp))
}

// Reinitialize drops every snapshot and takes a fresh state 0.
func (s *Store) Reinitialize(ctx context.Context, description string) (Snapshot, error) {
	s.logger.Warn("reinitializing snapshots, all state history is discarded",
		"data_loss", true, "snapshots_dir", s.snapDir)
	if err := s.DeleteAll(ctx); err != nil {
		return Snapshot{}, err
	}
	return s.Create(ctx, description)
}

// Duplicate creates a new bottle at dst as a writable snapshot of the live
// root and copies every stored snapshot into dst's snapshot area, so the
// duplicate keeps the full history. dst must not exist. On failure nothing
// is left behind.
func (s *Store) Duplicate(ctx context.Context, dst string) error {
	if _, statErr := os.Lstat(dst); statErr == nil {
		return result.Errorf(result.IOFailure, "duplicate", dst, "destination exists")
	}
	dstSnapDir := filepath.Join(filepath.Dir(s.snapDir), filepath.Base(dst))

	completed := false
	defer func() {
		if completed {
			return
		}
		s.logger.Info("cleaning up partial duplicate", "dst", dst)
		dup := New(dst, Options{Driver: s.driver, Logger: s.logger, SnapshotsDir: dstSnapDir})
		if snaps, _ := dup.List(); len(snaps) > 0 {
			for _, snap := range snaps {
				_ = dup.deleteSubvolume(ctx, snap.Path)
			}
		}
		_ = os.Remove(dstSnapDir)
		if _, statErr := os.Lstat(dst); statErr == nil {
			_ = dup.deleteSubvolume(ctx, dst)
		}
	}()

	if err := s.driver.Snapshot(ctx, s.root, dst, false); err != nil {
		return result.Wrap(result.IOFailure, "duplicate", dst, err)
	}
	for _, name := range s.subvolumes {
		sub := filepath.Join(dst, name)
		_ = os.Remove(sub) // empty placeholder
		if err := s.driver.CreateSubvolume(ctx, sub); err != nil {
			return result.Wrap(result.IOFailure, "duplicate: sub-container", sub, err)
		}
	}

	snaps, err := s.List()
	if err != nil {
		return err
	}
	if len(snaps) > 0 {
		if err := os.MkdirAll(dstSnapDir, 0o755); err != nil {
			return result.Wrap(result.IOFailure, "duplicate", dstSnapDir, err)
		}
	}
	for _, snap := range snaps {
		target := filepath.Join(dstSnapDir, filepath.Base(snap.Path))
		if err := s.driver.Snapshot(ctx, snap.Path, target, true); err != nil {
			return result.Wrap(result.IOFailure, "duplicate snapshot", snap.Path, err)
		}
	}

	completed = true
	s.logger.Info("bottle duplicated", "dst", dst, "snapshots", len(snaps))
	return nil
}
