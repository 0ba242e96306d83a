package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user.reg")
	require.NoError(t, os.WriteFile(path, []byte("WINE REGISTRY Version 2"), 0o644))

	h1, err := File(path)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	path2 := filepath.Join(dir, "copy.reg")
	require.NoError(t, os.WriteFile(path2, []byte("WINE REGISTRY Version 2"), 0o644))
	h2, err := File(path2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	path3 := filepath.Join(dir, "other.reg")
	require.NoError(t, os.WriteFile(path3, []byte("different"), 0o644))
	h3, err := File(path3)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	h, err := File(path)
	require.NoError(t, err)
	assert.NotEmpty(t, h)
}

func TestFileMissing(t *testing.T) {
	_, err := File("/nonexistent/file")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, String("../drive_c"), String("../drive_c"))
	assert.NotEqual(t, String("/"), String("../drive_c"))
}

func TestIndexerAbsentCases(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small")
	big := filepath.Join(dir, "big")
	require.NoError(t, os.WriteFile(small, []byte("abc"), 0o644))
	require.NoError(t, os.WriteFile(big, make([]byte, 4096), 0o644))

	ix := Indexer{MaxFileSize: 1024}

	digest, ok := ix.Sum(small)
	assert.True(t, ok)
	assert.NotEmpty(t, digest)

	_, ok = ix.Sum(big)
	assert.False(t, ok, "oversized files are absent")

	_, ok = ix.Sum(filepath.Join(dir, "missing"))
	assert.False(t, ok, "missing files are absent")

	_, ok = Indexer{}.Sum(dir)
	assert.False(t, ok, "directories cannot be hashed")
}
