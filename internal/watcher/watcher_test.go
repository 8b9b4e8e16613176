package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/filestate"
	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/pipeline"
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

// noopDocStore is the pipeline.Store test double. Like the real store it
// applies each write's file-state row (to fsStore, when set).
type noopDocStore struct {
	fsStore *memFileStateStore
}

func (s noopDocStore) WriteDocument(w store.DocumentWrite) error {
	if s.fsStore != nil && w.FileState.FilePath != "" {
		return s.fsStore.UpsertFileState(w.FileState)
	}
	return nil
}

// recordingRemover is the DocumentRemover test double, tracking which
// document ids were removed so a test can assert the store side of a
// deletion, not just the file-state row.
type recordingRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemover) RemoveDocument(documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, documentID)
	return nil
}

func (r *recordingRemover) wasRemoved(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.removed {
		if d == documentID {
			return true
		}
	}
	return false
}

type fakeEmbedService struct{}

func (f *fakeEmbedService) Initialize(ctx context.Context) error { return nil }
func (f *fakeEmbedService) IsInitialized() bool                  { return true }
func (f *fakeEmbedService) GenerateEmbeddings(ctx context.Context, texts []string) ([]embed.Result, error) {
	out := make([]embed.Result, len(texts))
	for i := range texts {
		out[i] = embed.Result{Index: i, Vector: []float32{1, 0, 0}, ModelID: "cpu/onnx:test"}
	}
	return out, nil
}
func (f *fakeEmbedService) GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (f *fakeEmbedService) CalculateSimilarity(a, b []float32) float64 { return 1 }
func (f *fakeEmbedService) ServiceType() model.ServiceKind             { return model.ServiceLocalTensor }
func (f *fakeEmbedService) Dimensions() int                            { return 3 }
func (f *fakeEmbedService) ContextWindow() int                         { return 2048 }
func (f *fakeEmbedService) CanExtractKeyphrases() bool                 { return false }
func (f *fakeEmbedService) Close() error                               { return nil }

func TestWatcherIndexesFileOnWrite(t *testing.T) {
	dir := t.TempDir()

	fsStore := newMemFileStateStore()
	fsm := filestate.New(fsStore)
	p := pipeline.New(&fakeEmbedService{}, noopDocStore{fsStore: fsStore}, fsm, pipeline.Options{})

	w, err := New(dir, p, fsm, nil, Options{DebounceDelay: 30 * time.Millisecond, WorkerCount: 2})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("Some words here to make a chunk long enough for the pipeline."), 0o644))

	require.Eventually(t, func() bool {
		row, found, err := fsStore.GetFileState("note.txt")
		return err == nil && found && row.ProcessingState == model.StateIndexed
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherMarksDeletedOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")

	fsStore := newMemFileStateStore()
	fsm := filestate.New(fsStore)
	p := pipeline.New(&fakeEmbedService{}, noopDocStore{fsStore: fsStore}, fsm, pipeline.Options{})

	remover := &recordingRemover{}
	w, err := New(dir, p, fsm, remover, Options{DebounceDelay: 20 * time.Millisecond, WorkerCount: 2})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// The watcher only reacts to events, so the file is created after Start.
	require.NoError(t, os.WriteFile(path, []byte("Some words here to make a chunk long enough for the pipeline."), 0o644))

	require.Eventually(t, func() bool {
		_, found, err := fsStore.GetFileState("note.txt")
		return err == nil && found
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		row, found, err := fsStore.GetFileState("note.txt")
		return err == nil && found && row.ProcessingState == model.StateDeleted
	}, 2*time.Second, 20*time.Millisecond)

	assert.True(t, remover.wasRemoved("note.txt"), "removing a watched file must cascade-delete its document from the store, not just mark file-state")
}

func TestWatcherIgnoresUnsupportedExtensions(t *testing.T) {
	dir := t.TempDir()

	fsStore := newMemFileStateStore()
	fsm := filestate.New(fsStore)
	p := pipeline.New(&fakeEmbedService{}, noopDocStore{}, fsm, pipeline.Options{})

	w, err := New(dir, p, fsm, nil, Options{DebounceDelay: 20 * time.Millisecond, WorkerCount: 2})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.bin"), []byte("binary"), 0o644))
	time.Sleep(200 * time.Millisecond)

	_, found, err := fsStore.GetFileState("image.bin")
	require.NoError(t, err)
	assert.False(t, found)
}
