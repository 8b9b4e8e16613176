package changedetector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semindex/semindex/internal/model"
)

func TestBuildChangeSetPartitionsAreDisjointAndCover(t *testing.T) {
	current := map[string]model.Fingerprint{
		"a.md": {RelativePath: "a.md", ContentHash: "h1"},
		"b.md": {RelativePath: "b.md", ContentHash: "h2new"},
		"c.md": {RelativePath: "c.md", ContentHash: "h3"},
	}
	previous := map[string]string{
		"a.md": "h1",
		"b.md": "h2old",
		"d.md": "h4",
	}

	set := BuildChangeSet(current, previous)

	require.Len(t, set.Unchanged, 1)
	require.Equal(t, "a.md", set.Unchanged[0].RelativePath)

	require.Len(t, set.Modified, 1)
	require.Equal(t, "b.md", set.Modified[0].RelativePath)

	require.Len(t, set.New, 1)
	require.Equal(t, "c.md", set.New[0].RelativePath)

	require.Len(t, set.Deleted, 1)
	require.Equal(t, "d.md", set.Deleted[0].RelativePath)
}

func TestUnchangedFolderReRunYieldsNoChanges(t *testing.T) {
	current := map[string]model.Fingerprint{
		"A.md": {RelativePath: "A.md", ContentHash: "h1"},
		"B.txt": {RelativePath: "B.txt", ContentHash: "h2"},
		"C.pdf": {RelativePath: "C.pdf", ContentHash: "h3"},
	}
	previous := map[string]string{"A.md": "h1", "B.txt": "h2", "C.pdf": "h3"}

	set := BuildChangeSet(current, previous)
	require.Empty(t, set.New)
	require.Empty(t, set.Modified)
	require.Empty(t, set.Deleted)
	require.Len(t, set.Unchanged, 3)
	require.False(t, set.Summary.RequiresFullReindex)
}

func TestModifiedRatioTriggersFullReindexHint(t *testing.T) {
	current := map[string]model.Fingerprint{}
	previous := map[string]string{}
	for i := 0; i < 100; i++ {
		path := fmt.Sprintf("file-%03d.md", i)
		current[path] = model.Fingerprint{RelativePath: path, ContentHash: "same"}
		previous[path] = "same"
	}
	// Force 60 of the 100 paths to differ by rehashing distinct keys.
	i := 0
	for path := range current {
		if i >= 60 {
			break
		}
		fp := current[path]
		fp.ContentHash = "changed"
		current[path] = fp
		i++
	}

	set := BuildChangeSet(current, previous)
	require.True(t, set.Summary.RequiresFullReindex)
}
