package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semindex/semindex/internal/changedetector"
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
// applies each write's file-state row (to fsStore), and it also records
// removed and checkpointed document ids so tests can assert the scheduler
// actually cascades deletions and flushes the store at job end, not just
// that file-state rows change.
type noopDocStore struct {
	mu          sync.Mutex
	fsStore     *memFileStateStore
	removed     []string
	checkpoints int
}

func (s *noopDocStore) WriteDocument(w store.DocumentWrite) error {
	if s.fsStore != nil && w.FileState.FilePath != "" {
		return s.fsStore.UpsertFileState(w.FileState)
	}
	return nil
}

func (s *noopDocStore) RemoveDocument(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, documentID)
	return nil
}

func (s *noopDocStore) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints++
	return nil
}

func (s *noopDocStore) wasRemoved(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.removed {
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

func writeTestFile(t *testing.T, dir, relPath, content string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func testFactory() ServicesFactory {
	return func(folder model.FolderConfig) (*FolderServices, error) {
		fsStore := newMemFileStateStore()
		fsm := filestate.New(fsStore)
		docStore := &noopDocStore{fsStore: fsStore}
		return &FolderServices{
			FSM:          fsm,
			Detector:     changedetector.New(fsStore),
			Pipeline:     pipeline.New(&fakeEmbedService{}, docStore, fsm, pipeline.Options{}),
			Remover:      docStore,
			Checkpointer: docStore,
		}, nil
	}
}

// factoryWithStore is like testFactory but also returns the *noopDocStore
// backing every folder's services, so a test can assert on removed/
// checkpointed document ids.
func factoryWithStore() (ServicesFactory, *noopDocStore) {
	fsStore := newMemFileStateStore()
	fsm := filestate.New(fsStore)
	docStore := &noopDocStore{fsStore: fsStore}
	services := &FolderServices{
		FSM:          fsm,
		Detector:     changedetector.New(fsStore),
		Pipeline:     pipeline.New(&fakeEmbedService{}, docStore, fsm, pipeline.Options{}),
		Remover:      docStore,
		Checkpointer: docStore,
	}
	return func(model.FolderConfig) (*FolderServices, error) { return services, nil }, docStore
}

func TestIndexFolderProcessesNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "Some words here to make a chunk that is long enough for the pipeline.")
	writeTestFile(t, dir, "b.txt", "Other words here to make a second chunk long enough for the pipeline.")

	s := New(testFactory(), Options{MaxConcurrentFolders: 2, QueueSize: 4, MemoryLimitMB: 4096})
	defer s.Close()

	folder := model.FolderConfig{Name: "notes", ResolvedAbsolutePath: dir}
	result := s.IndexFolder(context.Background(), folder, model.IndexingOptions{ContinueOnError: true})

	assert.Empty(t, result.Error)
	assert.Equal(t, 2, result.FilesTotal)
	assert.Equal(t, 2, result.FilesIndexed)
	assert.Equal(t, 0, result.FilesFailed)
}

func TestIndexFolderSkipsUnchangedFilesOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "Some words here to make a chunk that is long enough for the pipeline.")

	factory := testFactory()
	// Reuse the same FolderServices (and its in-memory file-state store)
	// across both runs to exercise the unchanged-file skip path.
	cached, err := factory(model.FolderConfig{ResolvedAbsolutePath: dir})
	require.NoError(t, err)
	stableFactory := func(folder model.FolderConfig) (*FolderServices, error) { return cached, nil }

	s := New(stableFactory, Options{MaxConcurrentFolders: 2, QueueSize: 4, MemoryLimitMB: 4096})
	defer s.Close()

	folder := model.FolderConfig{Name: "notes", ResolvedAbsolutePath: dir}
	first := s.IndexFolder(context.Background(), folder, model.IndexingOptions{})
	require.Equal(t, 1, first.FilesIndexed)

	second := s.IndexFolder(context.Background(), folder, model.IndexingOptions{})
	assert.Equal(t, 0, second.FilesIndexed)
	assert.Equal(t, 0, second.FilesTotal, "unchanged files are excluded from new∪modified before the pipeline runs")
}

func TestIndexFolderStopsOnFirstFailureWhenContinueOnErrorFalse(t *testing.T) {
	dir := t.TempDir()
	// Empty content parses to zero regions, which the pipeline treats as a
	// failure ("no chunks produced") without needing an unsupported
	// extension that the file walk itself would filter out beforehand.
	writeTestFile(t, dir, "empty.txt", "")

	s := New(testFactory(), Options{MaxConcurrentFolders: 2, QueueSize: 4, MemoryLimitMB: 4096})
	defer s.Close()

	folder := model.FolderConfig{Name: "notes", ResolvedAbsolutePath: dir}
	result := s.IndexFolder(context.Background(), folder, model.IndexingOptions{ContinueOnError: false})

	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 1, result.FilesFailed)
}

func TestIndexAllAggregatesAcrossFolders(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeTestFile(t, dirA, "a.txt", "Some words here to make a chunk that is long enough for the pipeline.")
	writeTestFile(t, dirB, "b.txt", "Other words here to make a second chunk long enough for the pipeline.")

	s := New(testFactory(), Options{MaxConcurrentFolders: 2, QueueSize: 4, MemoryLimitMB: 4096})
	defer s.Close()

	folders := []model.FolderConfig{
		{Name: "alpha", ResolvedAbsolutePath: dirA},
		{Name: "beta", ResolvedAbsolutePath: dirB},
	}
	result := s.IndexAll(context.Background(), folders, model.IndexingOptions{ContinueOnError: true})

	assert.Len(t, result.Folders, 2)
	assert.Equal(t, 2, result.TotalFiles)
	assert.Empty(t, result.SystemErrors)
}

func TestCancelWithNoActiveJobIsANoOp(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeTestFile(t, dir, filepath.Join("notes", filepathName(i)), "Some words here to make a chunk long enough for the pipeline.")
	}

	s := New(testFactory(), Options{MaxConcurrentFolders: 2, QueueSize: 4, MemoryLimitMB: 4096})
	defer s.Close()

	folder := model.FolderConfig{Name: "notes", ResolvedAbsolutePath: dir}
	s.Cancel(folder.ResolvedAbsolutePath) // no-op: no job registered yet

	result := s.IndexFolder(context.Background(), folder, model.IndexingOptions{ContinueOnError: true})
	assert.Empty(t, result.Error)

	status, ok := s.Status(folder.ResolvedAbsolutePath)
	require.True(t, ok)
	assert.False(t, status.IsIndexing)
}

func filepathName(i int) string {
	return string(rune('a'+i)) + ".txt"
}

func TestIndexFolderRemovesDocumentOnDelete(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "Some words here to make a chunk that is long enough for the pipeline.")

	factory, docStore := factoryWithStore()
	s := New(factory, Options{MaxConcurrentFolders: 2, QueueSize: 4, MemoryLimitMB: 4096})
	defer s.Close()

	folder := model.FolderConfig{Name: "notes", ResolvedAbsolutePath: dir}
	first := s.IndexFolder(context.Background(), folder, model.IndexingOptions{})
	require.Equal(t, 1, first.FilesIndexed)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))

	second := s.IndexFolder(context.Background(), folder, model.IndexingOptions{})
	assert.Empty(t, second.Error)
	assert.True(t, docStore.wasRemoved("a.txt"), "a deleted file's document must be removed from the store, not just marked deleted in file-state")
}

func TestIndexFolderClearsStaleChunksBeforeReprocessingModified(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "Some words here to make a chunk that is long enough for the pipeline.")

	factory, docStore := factoryWithStore()
	s := New(factory, Options{MaxConcurrentFolders: 2, QueueSize: 4, MemoryLimitMB: 4096})
	defer s.Close()

	folder := model.FolderConfig{Name: "notes", ResolvedAbsolutePath: dir}
	first := s.IndexFolder(context.Background(), folder, model.IndexingOptions{})
	require.Equal(t, 1, first.FilesIndexed)

	writeTestFile(t, dir, "a.txt", "Different words here to make a changed chunk long enough for the pipeline.")

	second := s.IndexFolder(context.Background(), folder, model.IndexingOptions{})
	assert.Empty(t, second.Error)
	assert.Equal(t, 1, second.FilesIndexed)
	assert.True(t, docStore.wasRemoved("a.txt"), "a modified file's stale chunks must be cleared before the pipeline reprocesses it")
}

func TestIndexFolderForceReindexReprocessesUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "Some words here to make a chunk that is long enough for the pipeline.")

	factory, _ := factoryWithStore()
	s := New(factory, Options{MaxConcurrentFolders: 2, QueueSize: 4, MemoryLimitMB: 4096})
	defer s.Close()

	folder := model.FolderConfig{Name: "notes", ResolvedAbsolutePath: dir}
	first := s.IndexFolder(context.Background(), folder, model.IndexingOptions{})
	require.Equal(t, 1, first.FilesIndexed)

	second := s.IndexFolder(context.Background(), folder, model.IndexingOptions{ForceReindex: true})
	assert.Empty(t, second.Error)
	assert.Equal(t, 1, second.FilesTotal, "force_reindex reprocesses unchanged files too, bypassing change detection's verdict")
	assert.Equal(t, 1, second.FilesIndexed)
}

func TestIndexFolderCheckpointsAtJobEnd(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "Some words here to make a chunk that is long enough for the pipeline.")

	factory, docStore := factoryWithStore()
	s := New(factory, Options{MaxConcurrentFolders: 2, QueueSize: 4, MemoryLimitMB: 4096})
	defer s.Close()

	folder := model.FolderConfig{Name: "notes", ResolvedAbsolutePath: dir}
	result := s.IndexFolder(context.Background(), folder, model.IndexingOptions{})
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, docStore.checkpoints, "the store must be checkpointed once per job so file-state changes survive a restart")
}
