package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semindex/semindex/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleWrite(docID string, withEmbeddings bool) DocumentWrite {
	w := DocumentWrite{
		Document: model.Document{
			DocumentID: docID,
			FileType:   ".md",
			Title:      "Title for " + docID,
			Modified:   time.Now(),
		},
		Chunks: []model.Chunk{
			{DocumentID: docID, Index: 0, Content: "first chunk", TokenCount: 2},
			{DocumentID: docID, Index: 1, Content: "second chunk", TokenCount: 2, ExtractionParams: model.ExtractionParams{Page: 1}},
		},
	}
	if withEmbeddings {
		w.Embeddings = []model.Embedding{
			{ChunkID: model.ChunkID{DocumentID: docID, Index: 0}, Vector: []float32{1, 0, 0}, ModelID: "cpu/onnx:test"},
			{ChunkID: model.ChunkID{DocumentID: docID, Index: 1}, Vector: []float32{0, 1, 0}, ModelID: "cpu/onnx:test"},
		}
	}
	return w
}

func TestOpenCreatesStateDirAndFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()
	assert.FileExists(t, filepath.Join(dir, ".semindex", "index.sqlite"))
}

func TestWriteDocumentPersistsDocumentChunksAndEmbeddings(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.WriteDocument(sampleWrite("notes/a.md", true)))

	doc, found, err := s.GetDocument("notes/a.md")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Title for notes/a.md", doc.Title)

	chunks, err := s.ListChunks("notes/a.md")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first chunk", chunks[0].Content)
	assert.Equal(t, 1, chunks[1].ExtractionParams.Page)
}

func TestWriteDocumentReplacesPriorChunkSet(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.WriteDocument(sampleWrite("notes/a.md", true)))

	second := DocumentWrite{
		Document: model.Document{DocumentID: "notes/a.md", FileType: ".md", Title: "rewritten"},
		Chunks: []model.Chunk{
			{DocumentID: "notes/a.md", Index: 0, Content: "only chunk now"},
		},
	}
	require.NoError(t, s.WriteDocument(second))

	chunks, err := s.ListChunks("notes/a.md")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "only chunk now", chunks[0].Content)

	doc, _, err := s.GetDocument("notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", doc.Title)
}

func TestRemoveDocumentCascadesChunksAndEmbeddings(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.WriteDocument(sampleWrite("notes/a.md", true)))

	require.NoError(t, s.RemoveDocument("notes/a.md"))

	_, found, err := s.GetDocument("notes/a.md")
	require.NoError(t, err)
	assert.False(t, found)

	chunks, err := s.ListChunks("notes/a.md")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestFileStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.GetFileState("notes/a.md")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.UpsertFileState(model.FileState{
		FilePath:        "notes/a.md",
		ContentHash:     "h1",
		ProcessingState: model.StateIndexed,
		ChunkCount:      2,
	}))

	row, found, err := s.GetFileState("notes/a.md")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StateIndexed, row.ProcessingState)
	assert.Equal(t, 2, row.ChunkCount)
}

func TestListFileStatesByState(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertFileState(model.FileState{FilePath: "a.md", ProcessingState: model.StateProcessing}))
	require.NoError(t, s.UpsertFileState(model.FileState{FilePath: "b.md", ProcessingState: model.StateIndexed}))

	rows, err := s.ListFileStatesByState(model.StateProcessing)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a.md", rows[0].FilePath)
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.WriteDocument(sampleWrite("notes/a.md", true)))

	results, err := s.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Less(t, results[1].Similarity, results[0].Similarity)
}

func TestSearchRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.WriteDocument(sampleWrite("notes/a.md", true)))

	results, err := s.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchInvalidatesCacheAfterWrite(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.WriteDocument(sampleWrite("notes/a.md", true)))

	_, err := s.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)

	require.NoError(t, s.WriteDocument(sampleWrite("notes/b.md", true)))

	results, err := s.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestClearRemovesEverything(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.WriteDocument(sampleWrite("notes/a.md", true)))
	require.NoError(t, s.UpsertFileState(model.FileState{FilePath: "notes/a.md", ProcessingState: model.StateIndexed}))

	require.NoError(t, s.Clear())

	n, err := s.DocumentCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, found, err := s.GetFileState("notes/a.md")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCheckpointSucceeds(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.WriteDocument(sampleWrite("notes/a.md", true)))
	require.NoError(t, s.Checkpoint())
}

func TestWriteDocumentWithoutEmbeddingsLeavesChunksUnembedded(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.WriteDocument(sampleWrite("notes/a.md", false)))

	results, err := s.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
