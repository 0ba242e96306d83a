package archive

import (
	"archive/tar"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/result"
	"github.com/bamsammich/cellar/internal/stats"
)

type member struct {
	name     string
	body     string
	linkname string
	typeflag byte
}

func buildArchive(t *testing.T, members []member) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "crafted.tar.gz")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	tw := tar.NewWriter(zw)
	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.name,
			Linkname: m.linkname,
			Typeflag: m.typeflag,
			Mode:     0o644,
			ModTime:  time.Unix(1700000000, 0),
		}
		if m.typeflag == tar.TypeReg {
			hdr.Size = int64(len(m.body))
		}
		if m.typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Size > 0 {
			_, err := tw.Write([]byte(m.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func writeFixture(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "Game")
	files := map[string]string{
		"system.reg":                   "[Software]",
		"user.reg":                     "[User]",
		"drive_c/windows/win.ini":      "[fonts]",
		"drive_c/Program Files/a.exe":  strings.Repeat("x", 64<<10),
		"drive_c/Program Files/empty":  "",
		"cache/shader.bin":             "volatile",
		"drive_c/users/me/Desktop/txt": "hello",
	}
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	require.NoError(t, os.Symlink("../drive_c", filepath.Join(root, "drive_c/users/me/link")))
	return root
}

func listTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	require.NoError(t, filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			require.NoError(t, err)
			out[rel] = "-> " + target
		case d.Type().IsRegular():
			data, err := os.ReadFile(p)
			require.NoError(t, err)
			out[rel] = string(data)
		}
		return nil
	}))
	return out
}

func excludeCache(rel string, isDir bool) bool {
	return isDir && rel == "cache"
}

func TestWriteReadRoundTrip(t *testing.T) {
	src := writeFixture(t)
	dest := filepath.Join(t.TempDir(), "out", "Game.tar.gz")
	collector := stats.NewCollector()

	opts := Options{Prefix: "Game", Exclude: excludeCache, Stats: collector}
	require.NoError(t, Write(context.Background(), src, dest, opts, nil))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary archive left behind")

	into := t.TempDir()
	contents, err := Read(context.Background(), dest, into, Options{Stats: collector}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Game"}, contents.Roots)

	want := listTree(t, src)
	delete(want, "cache/shader.bin")
	assert.Equal(t, want, listTree(t, filepath.Join(into, "Game")))

	snap := collector.Snapshot()
	assert.Equal(t, snap.EntriesArchived, snap.EntriesExtracted)
	assert.Positive(t, snap.EntriesArchived)
}

func TestWriteWithoutPrefix(t *testing.T) {
	src := writeFixture(t)
	dest := filepath.Join(t.TempDir(), "flat.tar.gz")
	require.NoError(t, Write(context.Background(), src, dest, Options{Level: gzip.BestSpeed}, nil))

	contents, err := Inspect(context.Background(), dest, "", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "drive_c", "system.reg", "user.reg"}, contents.Roots)
}

func TestWriteProgressMonotonic(t *testing.T) {
	src := writeFixture(t)
	dest := filepath.Join(t.TempDir(), "p.tar.gz")

	var seen []int
	require.NoError(t, Write(context.Background(), src, dest, Options{}, func(pct int) {
		seen = append(seen, pct)
	}))

	require.NotEmpty(t, seen)
	assert.Equal(t, 0, seen[0])
	assert.Equal(t, 100, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "progress must strictly increase between reports")
	}
	for _, pct := range seen[:len(seen)-1] {
		assert.LessOrEqual(t, pct, 99)
	}
}

func TestWriteEmptyTreeProgress(t *testing.T) {
	src := t.TempDir()
	var seen []int
	require.NoError(t, Write(context.Background(), src, filepath.Join(t.TempDir(), "e.tar.gz"), Options{},
		func(pct int) { seen = append(seen, pct) }))
	assert.Equal(t, []int{0, 100}, seen)
}

func TestWriteMissingSource(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "x.tar.gz")
	err := Write(context.Background(), filepath.Join(dir, "nope"), dest, Options{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, result.ErrNotFound)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteCanceled(t *testing.T) {
	src := writeFixture(t)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Write(ctx, src, filepath.Join(dir, "x.tar.gz"), Options{}, nil)
	require.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no archive or temporary file may remain")
}

func TestReadRejectsTraversal(t *testing.T) {
	members := []member{{name: "Game/", typeflag: tar.TypeDir}}
	for i := range 8 {
		members = append(members, member{
			name:     filepath.ToSlash(filepath.Join("Game", "f"+string(rune('a'+i)))),
			body:     "data",
			typeflag: tar.TypeReg,
		})
	}
	members = append(members, member{name: "../../etc/passwd", body: "root::0:0", typeflag: tar.TypeReg})
	require.Len(t, members, 10)
	src := buildArchive(t, members)

	into := filepath.Join(t.TempDir(), "bottles")
	_, err := Read(context.Background(), src, into, Options{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, result.ErrSecurityViolation)

	_, statErr := os.Stat(into)
	assert.ErrorIs(t, statErr, fs.ErrNotExist, "nothing may be extracted")
}

func TestReadRejectsUnsafeMembers(t *testing.T) {
	tests := []struct {
		name    string
		members []member
	}{
		{"absolute path", []member{{name: "/etc/passwd", body: "x", typeflag: tar.TypeReg}}},
		{"dot-dot inside", []member{{name: "a/../../b", body: "x", typeflag: tar.TypeReg}}},
		{"hardlink outside", []member{{name: "a", linkname: "../../etc/shadow", typeflag: tar.TypeLink}}},
		{"hardlink to missing", []member{{name: "a", linkname: "b", typeflag: tar.TypeLink}}},
		{"char device", []member{{name: "tty", typeflag: tar.TypeChar}}},
		{"fifo", []member{{name: "pipe", typeflag: tar.TypeFifo}}},
		{"write through symlink", []member{
			{name: "link", linkname: "/tmp", typeflag: tar.TypeSymlink},
			{name: "link/evil", body: "x", typeflag: tar.TypeReg},
		}},
		{"symlink without target", []member{{name: "link", typeflag: tar.TypeSymlink}}},
		{"write beneath earlier file", []member{
			{name: "Game/", typeflag: tar.TypeDir},
			{name: "Game/a", body: "file", typeflag: tar.TypeReg},
			{name: "Game/a/b", body: "x", typeflag: tar.TypeReg},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := buildArchive(t, tt.members)
			into := t.TempDir()
			_, err := Read(context.Background(), src, into, Options{}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, result.ErrSecurityViolation)

			entries, err := os.ReadDir(into)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestReadRejectsExistingLinkInDestination(t *testing.T) {
	outside := t.TempDir()
	into := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(into, "Game")))

	src := buildArchive(t, []member{{name: "Game/user.reg", body: "x", typeflag: tar.TypeReg}})
	_, err := Read(context.Background(), src, into, Options{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, result.ErrSecurityViolation)

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadHardlinkAndSymlink(t *testing.T) {
	src := buildArchive(t, []member{
		{name: "b/", typeflag: tar.TypeDir},
		{name: "b/data", body: "payload", typeflag: tar.TypeReg},
		{name: "b/same", linkname: "b/data", typeflag: tar.TypeLink},
		{name: "b/link", linkname: "data", typeflag: tar.TypeSymlink},
	})
	into := t.TempDir()
	_, err := Read(context.Background(), src, into, Options{}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(into, "b/same"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	a, err := os.Stat(filepath.Join(into, "b/data"))
	require.NoError(t, err)
	b, err := os.Stat(filepath.Join(into, "b/same"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(a, b))

	target, err := os.Readlink(filepath.Join(into, "b/link"))
	require.NoError(t, err)
	assert.Equal(t, "data", target)
}

func TestReadCorrupted(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.tar.gz")
	require.NoError(t, os.WriteFile(p, []byte("definitely not gzip"), 0o644))
	_, err := Read(context.Background(), p, t.TempDir(), Options{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, result.ErrCorrupted)
}

func TestReadMissing(t *testing.T) {
	_, err := Read(context.Background(), filepath.Join(t.TempDir(), "nope.tar.gz"), t.TempDir(), Options{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, result.ErrNotFound)
}

func TestReadProgressCumulative(t *testing.T) {
	src := writeFixture(t)
	arc := filepath.Join(t.TempDir(), "g.tar.gz")
	require.NoError(t, Write(context.Background(), src, arc, Options{Prefix: "Game"}, nil))

	var (
		last  int64
		total int64
		calls int
	)
	events := make(chan event.Event, 1024)
	_, err := Read(context.Background(), arc, t.TempDir(), Options{Events: events}, func(done, tot int64) {
		assert.GreaterOrEqual(t, done, last)
		last, total = done, tot
		calls++
	})
	require.NoError(t, err)
	assert.Positive(t, calls)
	assert.Equal(t, total, last)

	close(events)
	extracted := 0
	for ev := range events {
		if ev.Type == event.EntryExtracted {
			extracted++
		}
	}
	assert.Positive(t, extracted)
}

func TestReadOverwritesExistingFiles(t *testing.T) {
	into := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(into, "Game"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(into, "Game/user.reg"), []byte("old"), 0o644))

	src := buildArchive(t, []member{{name: "Game/user.reg", body: "new", typeflag: tar.TypeReg}})
	_, err := Read(context.Background(), src, into, Options{}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(into, "Game/user.reg"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
