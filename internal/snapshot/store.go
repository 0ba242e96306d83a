// Package snapshot versions a bottle that lives on a copy-on-write
// subvolume. Each state is a read-only snapshot of the bottle root, and
// restoring swaps the live root for a writable snapshot of the chosen one.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
)

const (
	// ActiveFile holds the live snapshot id inside the bottle root.
	ActiveFile = ".active_state_id"
	// SnapshotsDirName sits beside the bottles root.
	SnapshotsDirName = "BottlesSnapshots"
	// NoActive is the active id of a bottle never restored or snapshotted.
	NoActive = -1
)

// Snapshot is one stored state.
type Snapshot struct {
	Timestamp   time.Time
	Description string
	Path        string
	ID          int
}

// Options configures a Store.
type Options struct {
	Logger *slog.Logger
	Driver Driver
	Events event.Sink
	// SnapshotsDir overrides <bottles root>/../BottlesSnapshots/<bottle>.
	SnapshotsDir string
	// Subvolumes are internal sub-containers kept out of history and carried
	// across restores.
	Subvolumes []string
}

// Store is the snapshot backend for one bottle. Callers serialize
// operations per bottle.
type Store struct {
	logger     *slog.Logger
	driver     Driver
	events     event.Sink
	root       string
	snapDir    string
	subvolumes []string
}

// New returns a store for the bottle at root.
func New(root string, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Driver == nil {
		opts.Driver = Btrfs{}
	}
	snapDir := opts.SnapshotsDir
	if snapDir == "" {
		snapDir = DefaultSnapshotsDir(root)
	}
	return &Store{
		root:       filepath.Clean(root),
		snapDir:    snapDir,
		driver:     opts.Driver,
		events:     opts.Events,
		subvolumes: opts.Subvolumes,
		logger:     opts.Logger.With("bottle", filepath.Base(root), "backend", "cow"),
	}
}

// DefaultSnapshotsDir is BottlesSnapshots/<bottle> beside the bottles root.
func DefaultSnapshotsDir(root string) string {
	root = filepath.Clean(root)
	return filepath.Join(filepath.Dir(filepath.Dir(root)), SnapshotsDirName, filepath.Base(root))
}

// Root returns the bottle directory.
func (s *Store) Root() string { return s.root }

// SnapshotsDir returns where this bottle's snapshots live.
func (s *Store) SnapshotsDir() string { return s.snapDir }

// Driver returns the subvolume driver.
func (s *Store) Driver() Driver { return s.driver }

func (s *Store) tmpRoot() string { return s.root + "-tmp" }

// IsInitialized reports whether at least one snapshot exists.
func (s *Store) IsInitialized() bool {
	snaps, err := s.List()
	return err == nil && len(snaps) > 0
}

// CreateBottle makes root a subvolume and creates the internal
// sub-containers inside it.
func (s *Store) CreateBottle(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.root), 0o755); err != nil {
		return result.Wrap(result.IOFailure, "create bottle", s.root, err)
	}
	if err := s.driver.CreateSubvolume(ctx, s.root); err != nil {
		return result.Wrap(result.IOFailure, "create bottle", s.root, err)
	}
	for _, name := range s.subvolumes {
		if err := s.driver.CreateSubvolume(ctx, filepath.Join(s.root, name)); err != nil {
			return result.Wrap(result.IOFailure, "create subvolume", name, err)
		}
	}
	return nil
}

// List returns every snapshot ordered by id. A missing snapshots directory
// is an empty list.
func (s *Store) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.snapDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, result.Wrap(result.IOFailure, "list snapshots", s.snapDir, err)
	}

	var out []Snapshot
	for _, e := range entries {
		id, desc, ok := parseName(e.Name())
		if !ok || !e.IsDir() {
			continue
		}
		snap := Snapshot{ID: id, Description: desc, Path: filepath.Join(s.snapDir, e.Name())}
		if info, err := e.Info(); err == nil {
			snap.Timestamp = info.ModTime()
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Active returns the live snapshot id, NoActive if none was recorded.
func (s *Store) Active() (int, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ActiveFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NoActive, nil
		}
		return NoActive, result.Wrap(result.IOFailure, "read active id", ActiveFile, err)
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return NoActive, result.Wrap(result.Corrupted, "read active id", ActiveFile, err)
	}
	return id, nil
}

func (s *Store) setActive(id int) error {
	path := filepath.Join(s.root, ActiveFile)
	tmp := platform.TmpPath(path)
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(id)+"\n"), 0o644); err != nil {
		return result.Wrap(result.IOFailure, "write active id", ActiveFile, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return result.Wrap(result.IOFailure, "write active id", ActiveFile, err)
	}
	return nil
}

// Create takes a read-only snapshot of the bottle root with the next id
// and records it as active.
func (s *Store) Create(ctx context.Context, description string) (Snapshot, error) {
	snaps, err := s.List()
	if err != nil {
		return Snapshot{}, err
	}
	id := 0
	if n := len(snaps); n > 0 {
		id = snaps[n-1].ID + 1
	}

	desc := sanitizeDescription(description)
	dst := filepath.Join(s.snapDir, formatName(id, desc))
	if err := os.MkdirAll(s.snapDir, 0o755); err != nil {
		return Snapshot{}, result.Wrap(result.IOFailure, "create snapshot", s.snapDir, err)
	}
	if err := s.driver.Snapshot(ctx, s.root, dst, true); err != nil {
		return Snapshot{}, result.Wrap(result.IOFailure, "create snapshot", dst, err)
	}
	if err := s.setActive(id); err != nil {
		return Snapshot{}, err
	}

	s.logger.Info("snapshot created", "state", id, "description", description)
	s.events.Emit(event.Event{Type: event.StateCommitted, StateID: strconv.Itoa(id)})
	return Snapshot{ID: id, Description: desc, Path: dst, Timestamp: time.Now()}, nil
}

// Lookup returns the snapshot with the given id.
func (s *Store) Lookup(id int) (Snapshot, error) {
	snaps, err := s.List()
	if err != nil {
		return Snapshot{}, err
	}
	for _, snap := range snaps {
		if snap.ID == id {
			return snap, nil
		}
	}
	return Snapshot{}, result.Errorf(result.NotFound, "snapshot", "", "snapshot %d not found", id)
}

// DeleteAll removes every snapshot and clears the active pointer. A missing
// snapshots directory is not an error.
func (s *Store) DeleteAll(ctx context.Context) error {
	snaps, err := s.List()
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if err := s.deleteSubvolume(ctx, snap.Path); err != nil {
			return result.Wrap(result.IOFailure, "delete snapshot", snap.Path, err)
		}
	}
	if err := os.Remove(s.snapDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("snapshots directory not removed", "path", s.snapDir, "error", err)
	}
	if _, err := os.Stat(s.root); err == nil {
		return s.setActive(NoActive)
	}
	return nil
}

// deleteSubvolume deletes path as a subvolume, falling back to a recursive
// delete when the driver refuses.
func (s *Store) deleteSubvolume(ctx context.Context, path string) error {
	err := s.driver.Delete(ctx, path)
	if err == nil {
		return nil
	}
	s.logger.Debug("subvolume delete refused, removing recursively", "path", path, "error", err)
	if rmErr := os.RemoveAll(path); rmErr != nil {
		return fmt.Errorf("%w (recursive delete: %w)", err, rmErr)
	}
	return nil
}

func formatName(id int, desc string) string {
	return strconv.Itoa(id) + "_" + desc
}

func parseName(name string) (int, string, bool) {
	idPart, desc, ok := strings.Cut(name, "_")
	if !ok {
		return 0, "", false
	}
	id, err := strconv.Atoi(idPart)
	if err != nil || id < 0 {
		return 0, "", false
	}
	return id, desc, true
}

func sanitizeDescription(desc string) string {
	desc = strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator || r == 0 || r == '\n' {
			return '-'
		}
		return r
	}, strings.TrimSpace(desc))
	const maxLen = 200
	if len(desc) > maxLen {
		desc = desc[:maxLen]
	}
	return desc
}
