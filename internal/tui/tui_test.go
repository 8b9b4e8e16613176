package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/query"
	"github.com/semindex/semindex/internal/store"
)

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
}

type fakeStore struct {
	hits []store.SimilarChunk
}

func (f *fakeStore) Search(q []float32, limit int) ([]store.SimilarChunk, error) { return f.hits, nil }
func (f *fakeStore) GetDocument(id string) (*model.Document, bool, error)        { return nil, false, nil }
func (f *fakeStore) ListDocuments() ([]model.Document, error)                    { return nil, nil }
func (f *fakeStore) ListChunks(id string) ([]model.Chunk, error)                 { return nil, nil }

type fakeEmbedder struct{}

func (fakeEmbedder) GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestRouter() *query.Router {
	router := query.NewRouter()
	router.Register(query.New("notes", &fakeStore{
		hits: []store.SimilarChunk{{DocumentID: "a.txt", ChunkIndex: 0, Content: "alpha", Similarity: 0.9}},
	}, fakeEmbedder{}))
	return router
}

func TestDebouncedInputTriggersSearch(t *testing.T) {
	m := New(newTestRouter())

	m.input.SetValue("alpha")
	m.debounceID++
	msg := debounceMsg{query: "alpha", id: m.debounceID}

	updated, cmd := m.Update(msg)
	next := updated.(Model)
	require.True(t, next.searching)
	require.NotNil(t, cmd)

	result := cmd()
	resMsg, ok := result.(searchResultMsg)
	require.True(t, ok)

	final, _ := next.Update(resMsg)
	finalModel := final.(Model)
	assert.False(t, finalModel.searching)
	require.Len(t, finalModel.results, 1)
	assert.Equal(t, "a.txt", finalModel.results[0].DocumentID)
}

func TestEmptyQueryClearsResults(t *testing.T) {
	m := New(newTestRouter())
	m.results = []model.SearchResult{{DocumentID: "x.txt"}}

	updated, _ := m.Update(debounceMsg{query: "", id: m.debounceID})
	next := updated.(Model)
	assert.Empty(t, next.results)
}

func TestCursorNavigationStaysInBounds(t *testing.T) {
	m := New(newTestRouter())
	m.results = []model.SearchResult{{DocumentID: "a"}, {DocumentID: "b"}}

	up, _ := m.Update(keyMsg("up"))
	assert.Equal(t, 0, up.(Model).cursor, "cursor cannot go above the first result")

	down, _ := up.(Model).Update(keyMsg("down"))
	assert.Equal(t, 1, down.(Model).cursor)
}
