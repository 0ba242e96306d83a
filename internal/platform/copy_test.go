package platform

import (
	"crypto/rand"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallFileBasic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "nested", "deeper", "dst")

	data := []byte("hello, bottle!")
	require.NoError(t, os.WriteFile(src, data, 0o644))

	result, err := InstallFile(src, dst, 0o640)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.BytesWritten)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestInstallFileLarge(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	// Larger than the 1 MiB read/write buffer.
	data := make([]byte, 4*1024*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	result, err := InstallFile(src, dst, 0o644)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.BytesWritten)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestInstallFileReplacesAndLeavesNoTmp(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old contents that are longer"), 0o644))

	_, err := InstallFile(src, dst, 0o644)
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), TmpSuffix), "leftover %s", e.Name())
	}
}

func TestInstallFileEmpty(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, nil, 0o644))

	result, err := InstallFile(src, filepath.Join(dir, "dst"), 0o644)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.BytesWritten)
}

func TestInstallFileMissingSource(t *testing.T) {
	_, err := InstallFile(filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "dst"), 0o644)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCopyReadWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	data := []byte("read-write fallback test")
	require.NoError(t, os.WriteFile(src, data, 0o644))

	srcFd, err := os.Open(src)
	require.NoError(t, err)
	defer srcFd.Close()
	dstFd, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)

	result, err := copyReadWrite(dstFd, srcFd, int64(len(data)))
	require.NoError(t, err)
	require.NoError(t, dstFd.Close())
	assert.Equal(t, ReadWrite, result.Method)
	assert.Equal(t, int64(len(data)), result.BytesWritten)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCopyMethodString(t *testing.T) {
	assert.Equal(t, "read_write", ReadWrite.String())
	assert.Equal(t, "copy_file_range", CopyFileRange.String())
	assert.Equal(t, "sendfile", Sendfile.String())
	assert.Equal(t, "reflink", Reflink.String())
	assert.Equal(t, "unknown", CopyMethod(99).String())
}

func TestCleanupTmpFiles(t *testing.T) {
	dir := t.TempDir()
	stray := filepath.Join(dir, "stray"+TmpSuffix)
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))

	RegisterTmp(stray)
	CleanupTmpFiles()

	_, err := os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}
