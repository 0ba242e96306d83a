// Package versioning picks the state backend for a bottle and exposes it
// behind one facade whose operations return result.Result.
package versioning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bamsammich/cellar/internal/diffstore"
	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
	"github.com/bamsammich/cellar/internal/snapshot"
	"github.com/bamsammich/cellar/internal/stats"
)

// Options configures both backends; each uses the fields that apply to it.
type Options struct {
	Logger *slog.Logger
	Stats  *stats.Collector
	Events event.Sink
	Driver snapshot.Driver

	// Diff backend.
	Ignore      []string
	MaxFileSize int64
	Workers     int

	// Snapshot backend.
	SnapshotsDir string
	Subvolumes   []string

	// ForceDiff skips snapshot detection.
	ForceDiff bool
}

// Manager is the versioning facade for one bottle.
type Manager struct {
	backend Backend
	logger  *slog.Logger
	root    string
}

// New selects the backend for the bottle at root. The snapshot backend is
// used when root is already a subvolume and has no diff history; anything
// else gets the diff backend. The choice is fixed for the Manager's life.
func New(root string, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Driver == nil {
		opts.Driver = snapshot.Btrfs{}
	}
	m := &Manager{root: root, logger: opts.Logger}

	if ok, reason := eligibleForSnapshots(root, opts); ok {
		m.backend = cowBackend{store: snapshot.New(root, snapshot.Options{
			Logger:       opts.Logger,
			Driver:       opts.Driver,
			Events:       opts.Events,
			SnapshotsDir: opts.SnapshotsDir,
			Subvolumes:   opts.Subvolumes,
		})}
	} else {
		opts.Logger.Debug("snapshot versioning unavailable, using diff backend",
			"bottle", root, "kind", result.Unsupported, "reason", reason,
			"filesystem", platform.Filesystem(root))
		m.backend = diffBackend{store: diffstore.New(root, diffstore.Options{
			Logger:      opts.Logger,
			Stats:       opts.Stats,
			Events:      opts.Events,
			Ignore:      opts.Ignore,
			MaxFileSize: opts.MaxFileSize,
			Workers:     opts.Workers,
		})}
	}
	return m
}

func eligibleForSnapshots(root string, opts Options) (bool, string) {
	if opts.ForceDiff {
		return false, "diff backend forced"
	}
	isSub, err := opts.Driver.IsSubvolume(root)
	if err != nil {
		return false, err.Error()
	}
	if !isSub {
		return false, "bottle root is not a subvolume"
	}
	if diffstore.HasHistory(root) {
		return false, "bottle already has diff history"
	}
	return true, ""
}

// NewWithBackend wraps an explicit backend.
func NewWithBackend(root string, b Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: root, backend: b, logger: logger}
}

// Backend returns the selected backend.
func (m *Manager) Backend() Backend { return m.backend }

// Kind names the selected backend.
func (m *Manager) Kind() string { return m.backend.Kind() }

// IsInitialized reports whether the bottle has any state.
func (m *Manager) IsInitialized() bool { return m.backend.IsInitialized() }

// Init records the first state. Data is the State.
func (m *Manager) Init(ctx context.Context, message string) result.Result {
	st, err := m.backend.Init(ctx, message)
	return result.From(err, "versioning initialized", st)
}

// CreateState records the live bottle as a new state, initializing
// versioning first if needed. Data is the State.
func (m *Manager) CreateState(ctx context.Context, message string) result.Result {
	if !m.backend.IsInitialized() {
		return m.Init(ctx, message)
	}
	st, err := m.backend.CreateState(ctx, message)
	if err != nil {
		return result.Fail(err)
	}
	return result.Ok(fmt.Sprintf("state %d created", st.ID), st)
}

// ListStates returns the history. Data is States.
func (m *Manager) ListStates() result.Result {
	states, err := m.backend.ListStates()
	return result.From(err, "", states)
}

// SetState restores state id. after, when set, runs only on success.
func (m *Manager) SetState(ctx context.Context, id int, after func()) result.Result {
	if err := m.backend.SetState(ctx, id); err != nil {
		if result.KindOf(err) == result.NothingToChange {
			m.logger.Debug("set state: nothing to do", "state", id, "reason", err)
		}
		return result.Fail(err)
	}
	if after != nil {
		after()
	}
	return result.Ok(fmt.Sprintf("state %d restored", id), id)
}

// Reinitialize discards the history and records a fresh first state.
func (m *Manager) Reinitialize(ctx context.Context, message string) result.Result {
	st, err := m.backend.Reinitialize(ctx, message)
	return result.From(err, "versioning reinitialized", st)
}

// Duplicate copies the bottle with its history to dst. Backends that
// cannot do so fail with kind Unsupported.
func (m *Manager) Duplicate(ctx context.Context, dst string) result.Result {
	return result.From(m.backend.Duplicate(ctx, dst), "bottle duplicated", dst)
}

// PlanRestore previews SetState(id) without touching the bottle. Data is a
// RestorePlan. Backends that swap whole trees report Unsupported.
func (m *Manager) PlanRestore(id int) result.Result {
	p, ok := m.backend.(planner)
	if !ok {
		return result.Fail(result.Errorf(result.Unsupported, "plan restore", m.root,
			"%s backend restores whole snapshots", m.backend.Kind()))
	}
	plan, err := p.PlanRestore(id)
	return result.From(err, fmt.Sprintf("%d deletes, %d installs", len(plan.Deletes), len(plan.Installs)), plan)
}
