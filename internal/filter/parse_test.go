package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, IgnoreFileName)

	content := `# keep one log around
+ drive_c/install.log
- *.log

- shadercache/
noprefix.txt
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c := &Chain{}
	require.NoError(t, c.LoadFile(path))

	require.Len(t, c.rules, 4)
	assert.True(t, c.rules[0].Include)
	assert.False(t, c.rules[1].Include)

	assert.True(t, c.Match("drive_c/install.log", false))
	assert.False(t, c.Match("drive_c/other.log", false))
	assert.False(t, c.Match("drive_c/shadercache", true))
	assert.False(t, c.Match("noprefix.txt", false))
}

func TestLoadFileMissing(t *testing.T) {
	c := &Chain{}
	require.NoError(t, c.LoadFile(filepath.Join(t.TempDir(), "nope")))
	assert.True(t, c.Empty())
}

func TestLoadFileOnlyComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), IgnoreFileName)
	require.NoError(t, os.WriteFile(path, []byte("# nothing\n\n"), 0o644))

	c := &Chain{}
	require.NoError(t, c.LoadFile(path))
	assert.Empty(t, c.rules)
}
