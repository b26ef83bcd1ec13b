package walk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		require.NoError(t, os.MkdirAll(filepath.Join(root, rel), 0o755))
	}
}

func TestListDirs_SkipsHiddenIgnoredAndExcluded(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	mkdirs(t, root, "a/b", ".hidden/x", "lost+found", "scratch/deep", "tmp1", "keep")
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultIgnoreFile), []byte("# scratch space\nscratch/\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "file.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "a"), filepath.Join(root, "link")))

	dirs, err := ListDirs(root, Options{ExcludeGlobs: []string{"tmp*"}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		root,
		filepath.Join(root, "a"),
		filepath.Join(root, "a", "b"),
		filepath.Join(root, "keep"),
		filepath.Join(root, "link"),
	}, dirs)
}

func TestListDirs_ScanAll(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	mkdirs(t, root, ".hidden", "scratch")
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultIgnoreFile), []byte("scratch/\n"), 0o644))

	dirs, err := ListDirs(root, Options{ScanAll: true})
	require.NoError(t, err)
	assert.Contains(t, dirs, filepath.Join(root, ".hidden"))
	assert.Contains(t, dirs, filepath.Join(root, "scratch"))
}

func TestListDirs_MaxDepth(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	mkdirs(t, root, "a/b/c")

	dirs, err := ListDirs(root, Options{MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{root, filepath.Join(root, "a")}, dirs)
}

func TestFilter_ShouldInclude(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultIgnoreFile), []byte("private\n"), 0o644))

	f, err := NewFilter(root, Options{})
	require.NoError(t, err)

	assert.True(t, f.ShouldInclude("data/2024", true))
	assert.False(t, f.ShouldInclude("private", true))
	assert.False(t, f.ShouldInclude(".cache", true))
	assert.True(t, f.ShouldInclude("data/00README", false))
	assert.True(t, f.ShouldInclude("00README", false))
	assert.False(t, f.ShouldInclude("data/notes.txt", false))
	assert.False(t, f.ShouldInclude("private/00README", false))
}
