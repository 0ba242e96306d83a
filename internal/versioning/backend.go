package versioning

import (
	"context"
	"errors"
	"time"

	"github.com/bamsammich/cellar/internal/diffstore"
	"github.com/bamsammich/cellar/internal/result"
	"github.com/bamsammich/cellar/internal/snapshot"
)

// Backend names.
const (
	KindDiff = "diff"
	KindCoW  = "cow"
)

// State is one entry of a bottle's history.
type State struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	ID        int       `json:"id"`
}

// States is a bottle's history and the id currently live.
type States struct {
	States []State `json:"states"`
	Active int     `json:"active"`
}

// Backend is one way of storing bottle states.
type Backend interface {
	Kind() string
	IsInitialized() bool
	Init(ctx context.Context, message string) (State, error)
	CreateState(ctx context.Context, message string) (State, error)
	ListStates() (States, error)
	SetState(ctx context.Context, id int) error
	Reinitialize(ctx context.Context, message string) (State, error)
	Duplicate(ctx context.Context, dst string) error
}

// RestorePlan lists the live-tree changes a SetState would make.
type RestorePlan struct {
	Deletes  []string `json:"deletes"`
	Installs []string `json:"installs"`
	Target   int      `json:"target"`
}

// planner is implemented by backends that can preview a restore.
type planner interface {
	PlanRestore(id int) (RestorePlan, error)
}

// ErrDuplicateUnsupported is returned by backends that cannot carry
// history into a duplicate. Callers fall back to a plain copy.
var ErrDuplicateUnsupported = &result.Error{Kind: result.Unsupported, Op: "duplicate",
	Err: errors.New("backend cannot duplicate history")}

type diffBackend struct {
	store *diffstore.Store
}

var _ Backend = diffBackend{}

func (b diffBackend) Kind() string { return KindDiff }

func (b diffBackend) IsInitialized() bool { return b.store.IsInitialized() }

func (b diffBackend) Init(ctx context.Context, message string) (State, error) {
	info, err := b.store.Init(ctx, message)
	return diffState(info), err
}

func (b diffBackend) CreateState(ctx context.Context, message string) (State, error) {
	info, err := b.store.Commit(ctx, message, nil)
	return diffState(info), err
}

func (b diffBackend) ListStates() (States, error) {
	idx, err := b.store.List()
	if err != nil {
		return States{}, err
	}
	out := States{Active: idx.Active, States: make([]State, 0, len(idx.States))}
	for _, st := range idx.States {
		out.States = append(out.States, diffState(st))
	}
	return out, nil
}

func (b diffBackend) SetState(ctx context.Context, id int) error {
	return b.store.Restore(ctx, id, nil)
}

func (b diffBackend) Reinitialize(ctx context.Context, message string) (State, error) {
	info, err := b.store.Reinitialize(ctx, message)
	return diffState(info), err
}

func (b diffBackend) Duplicate(context.Context, string) error {
	return ErrDuplicateUnsupported
}

func (b diffBackend) PlanRestore(id int) (RestorePlan, error) {
	p, err := b.store.PlanRestore(id, nil)
	if err != nil {
		return RestorePlan{}, err
	}
	out := RestorePlan{Target: id, Deletes: p.Deletes, Installs: make([]string, 0, len(p.Installs))}
	for _, in := range p.Installs {
		out.Installs = append(out.Installs, in.Entry.Path)
	}
	return out, nil
}

func diffState(info diffstore.StateInfo) State {
	return State{ID: info.ID, Timestamp: info.Timestamp, Message: info.Message}
}

type cowBackend struct {
	store *snapshot.Store
}

var _ Backend = cowBackend{}

var errCoWInitialized = &result.Error{Kind: result.NothingToChange, Op: "init",
	Err: errors.New("snapshots already initialized")}

func (b cowBackend) Kind() string { return KindCoW }

func (b cowBackend) IsInitialized() bool { return b.store.IsInitialized() }

func (b cowBackend) Init(ctx context.Context, message string) (State, error) {
	if b.store.IsInitialized() {
		return State{}, errCoWInitialized
	}
	snap, err := b.store.Create(ctx, message)
	return cowState(snap), err
}

func (b cowBackend) CreateState(ctx context.Context, message string) (State, error) {
	snap, err := b.store.Create(ctx, message)
	return cowState(snap), err
}

func (b cowBackend) ListStates() (States, error) {
	snaps, err := b.store.List()
	if err != nil {
		return States{}, err
	}
	active, err := b.store.Active()
	if err != nil {
		return States{}, err
	}
	out := States{Active: active, States: make([]State, 0, len(snaps))}
	for _, snap := range snaps {
		out.States = append(out.States, cowState(snap))
	}
	return out, nil
}

func (b cowBackend) SetState(ctx context.Context, id int) error {
	return b.store.SetState(ctx, id)
}

func (b cowBackend) Reinitialize(ctx context.Context, message string) (State, error) {
	snap, err := b.store.Reinitialize(ctx, message)
	return cowState(snap), err
}

func (b cowBackend) Duplicate(ctx context.Context, dst string) error {
	return b.store.Duplicate(ctx, dst)
}

func cowState(snap snapshot.Snapshot) State {
	return State{ID: snap.ID, Timestamp: snap.Timestamp, Message: snap.Description}
}
