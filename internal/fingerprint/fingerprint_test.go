package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWalkHonorsAllowListAndExcludes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.exe"), []byte("binary"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "c.md"), []byte("skip me"), 0644))

	fps, err := Walk(root, nil)
	require.NoError(t, err)
	require.Len(t, fps, 1)
	require.Equal(t, "a.md", fps[0].RelativePath)
	require.NotEmpty(t, fps[0].ContentHash)
}

func TestWalkIsDeterministicAndHashStable(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "one.txt"), []byte("same bytes"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "two.txt"), []byte("same bytes"), 0644))

	fps, err := Walk(root, nil)
	require.NoError(t, err)
	require.Len(t, fps, 2)
	require.Equal(t, fps[0].ContentHash, fps[1].ContentHash)
}

func TestUserExcludeGlobsMerge(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "drafts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "drafts", "d.md"), []byte("draft"), 0644))

	fps, err := Walk(root, []string{"drafts"})
	require.NoError(t, err)
	require.Empty(t, fps)
}
