package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/filestate"
	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/store"
)

type memFileStateStore struct {
	rows map[string]model.FileState
}

func newMemFileStateStore() *memFileStateStore {
	return &memFileStateStore{rows: map[string]model.FileState{}}
}

func (m *memFileStateStore) GetFileState(filePath string) (*model.FileState, bool, error) {
	row, ok := m.rows[filePath]
	if !ok {
		return nil, false, nil
	}
	return &row, true, nil
}

func (m *memFileStateStore) UpsertFileState(state model.FileState) error {
	m.rows[state.FilePath] = state
	return nil
}

func (m *memFileStateStore) ListFileStatesByState(state model.ProcessingState) ([]model.FileState, error) {
	var out []model.FileState
	for _, row := range m.rows {
		if row.ProcessingState == state {
			out = append(out, row)
		}
	}
	return out, nil
}

// recordingStore is the pipeline.Store test double. It also applies
// DocumentWrite.FileState to fsStore, mirroring the real store's single
// transaction covering both the document write and the file-state
// transition to INDEXED.
type recordingStore struct {
	writes  []store.DocumentWrite
	failOn  string
	fsStore *memFileStateStore
}

func (s *recordingStore) WriteDocument(w store.DocumentWrite) error {
	if s.failOn != "" && w.Document.DocumentID == s.failOn {
		return assertStoreErr
	}
	s.writes = append(s.writes, w)
	if s.fsStore != nil && w.FileState.FilePath != "" {
		_ = s.fsStore.UpsertFileState(w.FileState)
	}
	return nil
}

var assertStoreErr = fmtErr("store write failed")

type fmtErr string

func (e fmtErr) Error() string { return string(e) }

// fakeEmbedService implements embed.Service for pipeline tests, optionally
// also implementing semantic.KeyphraseBackend when withKeyphrases is set.
type fakeEmbedService struct {
	dim            int
	contextWindow  int
	withKeyphrases bool
	failAll        bool
}

func (f *fakeEmbedService) Initialize(ctx context.Context) error { return nil }
func (f *fakeEmbedService) IsInitialized() bool                  { return true }

func (f *fakeEmbedService) GenerateEmbeddings(ctx context.Context, texts []string) ([]embed.Result, error) {
	if f.failAll {
		return nil, assertStoreErr
	}
	out := make([]embed.Result, len(texts))
	for i := range texts {
		out[i] = embed.Result{Index: i, Vector: []float32{1, 0, 0}, ModelID: "cpu/onnx:test", Dim: f.dim}
	}
	return out, nil
}
func (f *fakeEmbedService) GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (f *fakeEmbedService) CalculateSimilarity(a, b []float32) float64 { return 1 }
func (f *fakeEmbedService) ServiceType() model.ServiceKind             { return model.ServiceLocalTensor }
func (f *fakeEmbedService) Dimensions() int                            { return f.dim }
func (f *fakeEmbedService) ContextWindow() int                         { return f.contextWindow }
func (f *fakeEmbedService) CanExtractKeyphrases() bool                 { return f.withKeyphrases }
func (f *fakeEmbedService) Close() error                               { return nil }

func (f *fakeEmbedService) ExtractKeyphrases(ctx context.Context, texts []string) ([][]model.KeyPhrase, error) {
	out := make([][]model.KeyPhrase, len(texts))
	for i := range texts {
		out[i] = []model.KeyPhrase{{Text: "co-resident", Score: 0.9}}
	}
	return out, nil
}

func writeTestFile(t *testing.T, dir, relPath, content string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestRunIndexesAPlainTextFileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "notes/a.txt", "First paragraph with enough words to be a real chunk of text.\n\nSecond paragraph also has plenty of words in it for safety.")

	fsm := filestate.New(newMemFileStateStore())
	st := &recordingStore{}
	svc := &fakeEmbedService{dim: 3, contextWindow: 2048}
	p := New(svc, st, fsm, Options{})

	var progressCalls [][2]int
	res := p.Run(context.Background(), dir, "notes/a.txt", func(total, processed int) {
		progressCalls = append(progressCalls, [2]int{total, processed})
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.ChunkCount)
	require.Len(t, st.writes, 1)
	assert.Equal(t, "notes/a.txt", st.writes[0].Document.DocumentID)
	assert.Len(t, st.writes[0].Chunks, 2)
	assert.Len(t, st.writes[0].Embeddings, 2)
	assert.NotEmpty(t, progressCalls)
}

func TestRunMarksFileIndexedInFileState(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "notes/a.txt", "Some words here to make a chunk that is long enough for the pipeline.")

	fsStore := newMemFileStateStore()
	fsm := filestate.New(fsStore)
	svc := &fakeEmbedService{dim: 3, contextWindow: 2048}
	p := New(svc, &recordingStore{fsStore: fsStore}, fsm, Options{})

	res := p.Run(context.Background(), dir, "notes/a.txt", nil)
	require.NoError(t, res.Err)

	row, found, err := fsStore.GetFileState("notes/a.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StateIndexed, row.ProcessingState)
	assert.Equal(t, res.ChunkCount, row.ChunkCount)
}

func TestRunWithKeyphraseCapableBackendFillsKeyPhrasesFromCoResident(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "notes/a.txt", "Some words here to make a chunk that is long enough for the pipeline.")

	fsm := filestate.New(newMemFileStateStore())
	st := &recordingStore{}
	svc := &fakeEmbedService{dim: 3, contextWindow: 2048, withKeyphrases: true}
	p := New(svc, st, fsm, Options{})

	res := p.Run(context.Background(), dir, "notes/a.txt", nil)
	require.NoError(t, res.Err)
	require.Len(t, st.writes, 1)
	require.NotEmpty(t, st.writes[0].Chunks)
	assert.Equal(t, "co-resident", st.writes[0].Chunks[0].KeyPhrases[0].Text)
}

func TestRunFailsGracefullyOnUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "notes/a.bin", "binary garbage")

	fileStore := newMemFileStateStore()
	fsm := filestate.New(fileStore)
	svc := &fakeEmbedService{dim: 3, contextWindow: 2048}
	p := New(svc, &recordingStore{}, fsm, Options{})

	res := p.Run(context.Background(), dir, "notes/a.bin", nil)
	require.Error(t, res.Err)

	row, found, err := fileStore.GetFileState("notes/a.bin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StateFailed, row.ProcessingState)
}

func TestRunFailsWhenAllEmbeddingBatchesFail(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "notes/a.txt", "Some words here to make a chunk that is long enough for the pipeline.")

	fileStore := newMemFileStateStore()
	fsm := filestate.New(fileStore)
	svc := &fakeEmbedService{dim: 3, contextWindow: 2048, failAll: true}
	p := New(svc, &recordingStore{}, fsm, Options{})

	res := p.Run(context.Background(), dir, "notes/a.txt", nil)
	require.Error(t, res.Err)

	row, _, err := fileStore.GetFileState("notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, row.ProcessingState)
}

func TestRunPropagatesStoreWriteFailure(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "notes/a.txt", "Some words here to make a chunk that is long enough for the pipeline.")

	fileStore := newMemFileStateStore()
	fsm := filestate.New(fileStore)
	svc := &fakeEmbedService{dim: 3, contextWindow: 2048}
	st := &recordingStore{failOn: "notes/a.txt"}
	p := New(svc, st, fsm, Options{})

	res := p.Run(context.Background(), dir, "notes/a.txt", nil)
	require.Error(t, res.Err)

	row, _, err := fileStore.GetFileState("notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, row.ProcessingState)
}
