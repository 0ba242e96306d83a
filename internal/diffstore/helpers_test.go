package diffstore

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTree creates files under root from rel path -> content.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// readTree returns rel path -> content for every regular file and
// "-> target" for every symlink, skipping the states directory.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if rel == StatesDir && d.IsDir() {
			return filepath.SkipDir
		}
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			require.NoError(t, err)
			out[rel] = "-> " + target
		case d.Type().IsRegular():
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			out[rel] = string(data)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

// snapshotMtimes records modification times so tests can prove nothing
// was written.
func snapshotMtimes(t *testing.T, root string) map[string]int64 {
	t.Helper()
	out := make(map[string]int64)
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out[path] = info.ModTime().UnixNano()
		return nil
	}))
	return out
}

func newTestStore(t *testing.T, root string) (*Store, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(root, Options{Logger: logger, Workers: 2}), &logs
}

func tenFileBottle(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"system.reg":                               "REGEDIT4 system",
		"user.reg":                                 "REGEDIT4 user",
		"userdef.reg":                              "REGEDIT4 userdef",
		"drive_c/windows/win.ini":                  "[windows]",
		"drive_c/windows/system.ini":               "[drivers]",
		"drive_c/windows/system32/kernel32.dll":    strings.Repeat("k", 4096),
		"drive_c/windows/system32/user32.dll":      strings.Repeat("u", 2048),
		"drive_c/users/steam/Desktop/readme.txt":   "hello",
		"drive_c/Program Files/Common Files/x.dat": "x",
		"drive_c/ProgramData/config.json":          `{"a":1}`,
	})
	return root
}

var bg = context.Background()
