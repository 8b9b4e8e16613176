package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/store"
)

type fakeStore struct {
	hits      []store.SimilarChunk
	docs      map[string]model.Document
	chunks    map[string][]model.Chunk
	searchErr error
}

func (f *fakeStore) Search(query []float32, limit int) ([]store.SimilarChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeStore) GetDocument(documentID string) (*model.Document, bool, error) {
	d, ok := f.docs[documentID]
	if !ok {
		return nil, false, nil
	}
	return &d, true, nil
}

func (f *fakeStore) ListDocuments() ([]model.Document, error) {
	out := make([]model.Document, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) ListChunks(documentID string) ([]model.Chunk, error) {
	return f.chunks[documentID], nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newFixtureStore() *fakeStore {
	return &fakeStore{
		hits: []store.SimilarChunk{
			{DocumentID: "a.txt", ChunkIndex: 0, Content: "alpha chunk", Similarity: 0.9},
			{DocumentID: "b.md", ChunkIndex: 0, Content: "beta chunk", Similarity: 0.7},
			{DocumentID: "c.txt", ChunkIndex: 0, Content: "gamma chunk", Similarity: 0.5},
		},
		docs: map[string]model.Document{
			"a.txt": {DocumentID: "a.txt", FileType: "txt"},
			"b.md":  {DocumentID: "b.md", FileType: "md"},
			"c.txt": {DocumentID: "c.txt", FileType: "txt"},
		},
		chunks: map[string][]model.Chunk{
			"a.txt": {
				{DocumentID: "a.txt", Index: 0, Content: "intro text", ExtractionParams: model.ExtractionParams{Section: "Intro", Page: 1}},
				{DocumentID: "a.txt", Index: 1, Content: "body text", ExtractionParams: model.ExtractionParams{Section: "Body", Page: 2}},
			},
		},
	}
}

func TestSearchReturnsRankedResults(t *testing.T) {
	svc := New("notes", newFixtureStore(), fakeEmbedder{})
	env := svc.Search(context.Background(), "find alpha", Options{TopK: 10})

	require.Equal(t, CodeSuccess, env.Status.Code)
	resp, ok := env.Data.(model.SearchResponse)
	require.True(t, ok)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "a.txt", resp.Results[0].DocumentID)
	assert.False(t, resp.Pagination.HasMore)
	assert.False(t, env.Continuation.HasMore)
}

func TestSearchAppliesFileTypeFilter(t *testing.T) {
	svc := New("notes", newFixtureStore(), fakeEmbedder{})
	env := svc.Search(context.Background(), "find md", Options{TopK: 10, FileTypeFilter: "md"})

	resp := env.Data.(model.SearchResponse)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b.md", resp.Results[0].DocumentID)
}

func TestSearchAppliesThresholdFilter(t *testing.T) {
	svc := New("notes", newFixtureStore(), fakeEmbedder{})
	env := svc.Search(context.Background(), "find strong matches", Options{TopK: 10, Threshold: 0.6})

	resp := env.Data.(model.SearchResponse)
	require.Len(t, resp.Results, 2)
}

func TestSearchPaginatesWithContinuationToken(t *testing.T) {
	svc := New("notes", newFixtureStore(), fakeEmbedder{})

	first := svc.Search(context.Background(), "q", Options{TopK: 10, MaxTokens: 2})
	firstResp := first.Data.(model.SearchResponse)
	require.Len(t, firstResp.Results, 2)
	require.True(t, first.Continuation.HasMore)
	require.NotEmpty(t, first.Continuation.Token)

	second := svc.Search(context.Background(), "q", Options{TopK: 10, MaxTokens: 2, ContinuationToken: first.Continuation.Token})
	secondResp := second.Data.(model.SearchResponse)
	require.Len(t, secondResp.Results, 1)
	assert.Equal(t, "c.txt", secondResp.Results[0].DocumentID)
	assert.False(t, second.Continuation.HasMore)
}

func TestSearchRejectsMalformedContinuationToken(t *testing.T) {
	svc := New("notes", newFixtureStore(), fakeEmbedder{})
	env := svc.Search(context.Background(), "q", Options{ContinuationToken: "not-base64!!"})
	assert.Equal(t, CodeError, env.Status.Code)
}

func TestDocumentOutlineListsDistinctSections(t *testing.T) {
	svc := New("notes", newFixtureStore(), fakeEmbedder{})
	env := svc.DocumentOutline("a.txt")

	outline, ok := env.Data.([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"Intro", "Body"}, outline)
}

func TestDocumentDataFormats(t *testing.T) {
	svc := New("notes", newFixtureStore(), fakeEmbedder{})

	raw := svc.DocumentData("a.txt", FormatRaw)
	assert.Equal(t, "intro text\n\nbody text", raw.Data)

	chunks := svc.DocumentData("a.txt", FormatChunks)
	cs, ok := chunks.Data.([]model.Chunk)
	require.True(t, ok)
	assert.Len(t, cs, 2)

	meta := svc.DocumentData("a.txt", FormatMetadata)
	doc, ok := meta.Data.(*model.Document)
	require.True(t, ok)
	assert.Equal(t, "txt", doc.FileType)
}

func TestDocumentDataMissingDocumentReturnsError(t *testing.T) {
	svc := New("notes", newFixtureStore(), fakeEmbedder{})
	env := svc.DocumentData("missing.txt", FormatMetadata)
	assert.Equal(t, CodeError, env.Status.Code)
}

func TestRouterSearchMergesAcrossFolders(t *testing.T) {
	router := NewRouter()
	router.Register(New("notes", newFixtureStore(), fakeEmbedder{}))
	router.Register(New("archive", &fakeStore{
		hits: []store.SimilarChunk{
			{DocumentID: "z.txt", ChunkIndex: 0, Content: "zeta chunk", Similarity: 0.95},
		},
		docs: map[string]model.Document{"z.txt": {DocumentID: "z.txt", FileType: "txt"}},
	}, fakeEmbedder{}))

	env := router.Search(context.Background(), "q", Options{TopK: 10})
	resp := env.Data.(model.SearchResponse)
	require.Equal(t, CodeSuccess, env.Status.Code)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "z.txt", resp.Results[0].DocumentID, "highest-scoring hit across folders sorts first")
}

func TestRouterListFoldersReturnsSortedNames(t *testing.T) {
	router := NewRouter()
	router.Register(New("beta", newFixtureStore(), fakeEmbedder{}))
	router.Register(New("alpha", newFixtureStore(), fakeEmbedder{}))

	env := router.ListFolders()
	names, ok := env.Data.([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}
