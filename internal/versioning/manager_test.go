package versioning

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/cellar/internal/diffstore"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
)

var bg = context.Background()

// stubDriver claims every path in subvols is a subvolume and snapshots by
// copying.
type stubDriver struct {
	subvols map[string]bool
}

func (d stubDriver) IsSubvolume(path string) (bool, error) { return d.subvols[path], nil }

func (d stubDriver) CreateSubvolume(_ context.Context, path string) error {
	d.subvols[path] = true
	return os.Mkdir(path, 0o755)
}

func (d stubDriver) Snapshot(_ context.Context, src, dst string, _ bool) error {
	_, err := platform.CopyTree(src, dst, platform.TreeOptions{})
	if err == nil {
		d.subvols[dst] = true
	}
	return err
}

func (d stubDriver) Delete(_ context.Context, path string) error {
	delete(d.subvols, path)
	return os.RemoveAll(path)
}

func newBottle(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "bottles", "Test")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "drive_c"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "drive_c", "a.txt"), []byte("a"), 0o644))
	return root
}

func TestSelectsDiffForPlainDirectory(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	m := New(newBottle(t), Options{Logger: logger, Driver: stubDriver{subvols: map[string]bool{}}})
	assert.Equal(t, KindDiff, m.Kind())
	assert.Contains(t, logs.String(), "kind=Unsupported")
	assert.Contains(t, logs.String(), "filesystem=")
}

func TestSelectsCoWForSubvolume(t *testing.T) {
	root := newBottle(t)
	m := New(root, Options{Driver: stubDriver{subvols: map[string]bool{root: true}}})
	assert.Equal(t, KindCoW, m.Kind())
}

func TestDiffHistoryBlocksCoW(t *testing.T) {
	root := newBottle(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, diffstore.StatesDir), 0o755))
	m := New(root, Options{Driver: stubDriver{subvols: map[string]bool{root: true}}})
	assert.Equal(t, KindDiff, m.Kind())
}

func TestForceDiff(t *testing.T) {
	root := newBottle(t)
	m := New(root, Options{ForceDiff: true, Driver: stubDriver{subvols: map[string]bool{root: true}}})
	assert.Equal(t, KindDiff, m.Kind())
}

func TestDiffLifecycleThroughFacade(t *testing.T) {
	root := newBottle(t)
	m := New(root, Options{Driver: stubDriver{subvols: map[string]bool{}}})
	assert.False(t, m.IsInitialized())

	// CreateState on a fresh bottle initializes.
	res := m.CreateState(bg, "Initial state")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, 0, res.Data.(State).ID)
	assert.True(t, m.IsInitialized())

	res = m.CreateState(bg, "no changes")
	assert.False(t, res.OK)
	assert.True(t, res.NoOp())

	require.NoError(t, os.WriteFile(filepath.Join(root, "drive_c", "b.txt"), []byte("b"), 0o644))
	res = m.CreateState(bg, "Before installing Notepad++")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, 1, res.Data.(State).ID)

	res = m.ListStates()
	require.True(t, res.OK)
	states := res.Data.(States)
	assert.Equal(t, 1, states.Active)
	require.Len(t, states.States, 2)

	called := false
	res = m.SetState(bg, 0, func() { called = true })
	require.True(t, res.OK, res.Message)
	assert.True(t, called)
	assert.NoFileExists(t, filepath.Join(root, "drive_c", "b.txt"))

	called = false
	res = m.SetState(bg, 0, func() { called = true })
	assert.True(t, res.NoOp())
	assert.False(t, called, "callback only on success")

	res = m.SetState(bg, 9, nil)
	assert.False(t, res.OK)
	assert.Equal(t, result.NotFound, res.Kind)

	res = m.Duplicate(bg, filepath.Join(t.TempDir(), "dup"))
	assert.False(t, res.OK)
	assert.Equal(t, result.Unsupported, res.Kind)

	res = m.Reinitialize(bg, "again")
	require.True(t, res.OK, res.Message)
	res = m.ListStates()
	require.True(t, res.OK)
	assert.Len(t, res.Data.(States).States, 1)
}

func TestCoWLifecycleThroughFacade(t *testing.T) {
	root := newBottle(t)
	driver := stubDriver{subvols: map[string]bool{root: true}}
	m := New(root, Options{Driver: driver})
	require.Equal(t, KindCoW, m.Kind())

	res := m.Init(bg, "Initial state")
	require.True(t, res.OK, res.Message)
	res = m.Init(bg, "again")
	assert.True(t, res.NoOp())

	require.NoError(t, os.WriteFile(filepath.Join(root, "drive_c", "a.txt"), []byte("changed"), 0o644))
	res = m.CreateState(bg, "changed")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, 1, res.Data.(State).ID)

	res = m.SetState(bg, 0, nil)
	require.True(t, res.OK, res.Message)
	data, err := os.ReadFile(filepath.Join(root, "drive_c", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	// Restoring the live state keeps unsaved work, like the diff backend.
	require.NoError(t, os.WriteFile(filepath.Join(root, "drive_c", "a.txt"), []byte("unsaved"), 0o644))
	called := false
	res = m.SetState(bg, 0, func() { called = true })
	assert.True(t, res.NoOp(), res.Message)
	assert.False(t, called)
	data, err = os.ReadFile(filepath.Join(root, "drive_c", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "unsaved", string(data))

	res = m.ListStates()
	require.True(t, res.OK)
	states := res.Data.(States)
	assert.Equal(t, 0, states.Active)
	assert.Equal(t, "Initial state", states.States[0].Message)

	dst := filepath.Join(filepath.Dir(root), "Copy")
	res = m.Duplicate(bg, dst)
	require.True(t, res.OK, res.Message)
	assert.FileExists(t, filepath.Join(dst, "drive_c", "a.txt"))
}

func TestPlanRestore(t *testing.T) {
	root := newBottle(t)
	m := New(root, Options{ForceDiff: true})
	require.True(t, m.Init(bg, "Initial state").OK)

	require.NoError(t, os.WriteFile(filepath.Join(root, "drive_c", "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "drive_c", "a.txt"), []byte("A"), 0o644))
	require.True(t, m.CreateState(bg, "second").OK)

	res := m.PlanRestore(0)
	require.True(t, res.OK, res.Message)
	plan := res.Data.(RestorePlan)
	assert.Equal(t, 0, plan.Target)
	assert.Equal(t, []string{"drive_c/b.txt"}, plan.Deletes)
	assert.Equal(t, []string{"drive_c/a.txt"}, plan.Installs)
	assert.FileExists(t, filepath.Join(root, "drive_c", "b.txt"), "planning writes nothing")

	res = m.PlanRestore(1)
	assert.True(t, res.NoOp())

	cowRoot := newBottle(t)
	cow := New(cowRoot, Options{Driver: stubDriver{subvols: map[string]bool{cowRoot: true}}})
	require.Equal(t, KindCoW, cow.Kind())
	res = cow.PlanRestore(0)
	assert.Equal(t, result.Unsupported, res.Kind)
}
