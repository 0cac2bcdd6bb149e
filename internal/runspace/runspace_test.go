package runspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidID(t *testing.T) {
	valid := []string{"forge", "my-project", "a.b_c", "X1"}
	invalid := []string{"", ".", "..", "../etc", "a/b", "with space", "semi;colon", string(make([]byte, 200))}

	for _, id := range valid {
		assert.True(t, ValidID(id), id)
	}
	for _, id := range invalid {
		assert.False(t, ValidID(id), id)
	}
}

func TestDirResolver(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "forge"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "file.txt"), []byte("x"), 0o644))

	d := DirResolver{Base: base}

	rs, ok := d.Resolve("forge")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(base, "forge"), rs.Cwd)

	_, ok = d.Resolve("missing")
	assert.False(t, ok)
	_, ok = d.Resolve("file.txt")
	assert.False(t, ok, "files are not runspaces")
	_, ok = d.Resolve("..")
	assert.False(t, ok)

	list := d.List()
	require.Len(t, list, 1)
	assert.Equal(t, "forge", list[0].ID)
}

func TestDirResolverWithoutBase(t *testing.T) {
	d := DirResolver{}
	_, ok := d.Resolve("forge")
	assert.False(t, ok)
	assert.Empty(t, d.List())
}

func TestChain(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "forge"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(base, "docs"), 0o755))

	file := writeFile(t, `
runspaces:
  - id: forge
    cwd: /srv/forge
`)
	fr, err := LoadFile(file)
	require.NoError(t, err)

	c := Chain{fr, DirResolver{Base: base}}

	rs, ok := c.Resolve("forge")
	require.True(t, ok)
	assert.Equal(t, "/srv/forge", rs.Cwd, "file entries win")

	rs, ok = c.Resolve("docs")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(base, "docs"), rs.Cwd)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "docs", list[0].ID)
	assert.Equal(t, "forge", list[1].ID)
	assert.Equal(t, "/srv/forge", list[1].Cwd)
}

func TestEnviron(t *testing.T) {
	rs := Runspace{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, rs.Environ())
}
