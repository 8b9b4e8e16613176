// Package watcher implements continuous indexing: an fsnotify tree watch
// that debounces rapid file-system events and hands each settled path to
// the per-folder pipeline, keeping the store in sync between scheduled
// index_folder runs (spec.md §4.1 scheduling model, §4.3 file-state
// transitions). Grounded on the teacher's `pkg/watcher/service.go`
// (debounce-timer map, bounded worker pool via a semaphore channel) merged
// with `sift`'s `internal/watcher/watcher.go` (recursive directory
// addition on Create events), now driving a per-folder pipeline.Pipeline
// plus filestate.Machine instead of a single shared repository.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/semindex/semindex/internal/filestate"
	"github.com/semindex/semindex/internal/fingerprint"
	"github.com/semindex/semindex/internal/logger"
	"github.com/semindex/semindex/internal/pipeline"
)

// Options configures one folder watch.
type Options struct {
	DebounceDelay time.Duration
	WorkerCount   int
	ExcludeGlobs  []string
}

func (o Options) withDefaults() Options {
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = 500 * time.Millisecond
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 3
	}
	return o
}

// DocumentRemover deletes a document and its chunks/embeddings by path.
// Satisfied structurally by *internal/store.Store.
type DocumentRemover interface {
	RemoveDocument(documentID string) error
}

// Watcher watches one folder root and keeps it incrementally indexed.
type Watcher struct {
	root     string
	fw       *fsnotify.Watcher
	pipeline *pipeline.Pipeline
	fsm      *filestate.Machine
	remover  DocumentRemover
	opts     Options

	mu      sync.Mutex
	pending map[string]*time.Timer

	workerSem chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Watcher for root, backed by p for indexing, fsm for
// deletion bookkeeping, and remover to cascade-delete a document's
// chunks/embeddings when its file disappears. Call Start to begin
// watching.
func New(root string, p *pipeline.Pipeline, fsm *filestate.Machine, remover DocumentRemover, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Watcher{
		root:      root,
		fw:        fw,
		pipeline:  p,
		fsm:       fsm,
		remover:   remover,
		opts:      opts,
		pending:   make(map[string]*time.Timer),
		workerSem: make(chan struct{}, opts.WorkerCount),
		done:      make(chan struct{}),
	}, nil
}

// Start adds the folder tree to the watch list and begins processing
// events in the background. ctx cancellation stops event processing.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addDirRecursive(w.root); err != nil {
		return err
	}
	go w.eventLoop(ctx)
	return nil
}

// Stop halts the watcher, draining in-flight debounce timers.
func (w *Watcher) Stop() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.fw.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logWarn("watcher error on %s: %v", w.root, err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.addDirRecursive(event.Name); err != nil {
				logWarn("watcher: add directory %s: %v", event.Name, err)
			}
			return
		}
	}

	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	if fingerprint.IsExcluded(relPath, w.opts.ExcludeGlobs) || !fingerprint.IsSupported(relPath) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.handleRemove(relPath)
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		w.debounce(relPath, func() { w.handleWrite(ctx, relPath) })
	}
}

// debounce resets any pending timer for relPath and schedules fn to run
// after the configured delay, collapsing rapid-fire saves into one run.
func (w *Watcher) debounce(relPath string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[relPath]; ok {
		t.Stop()
	}
	w.pending[relPath] = time.AfterFunc(w.opts.DebounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, relPath)
		w.mu.Unlock()
		fn()
	})
}

func (w *Watcher) handleWrite(ctx context.Context, relPath string) {
	select {
	case w.workerSem <- struct{}{}:
		defer func() { <-w.workerSem }()
	case <-w.done:
		return
	}

	res := w.pipeline.Run(ctx, w.root, relPath, nil)
	if res.Err != nil {
		logWarn("watcher: index %s: %v", relPath, res.Err)
	}
}

func (w *Watcher) handleRemove(relPath string) {
	select {
	case w.workerSem <- struct{}{}:
		defer func() { <-w.workerSem }()
	case <-w.done:
		return
	}
	if err := w.fsm.MarkDeleted(relPath); err != nil {
		logWarn("watcher: mark deleted %s: %v", relPath, err)
	}
	if w.remover != nil {
		if err := w.remover.RemoveDocument(relPath); err != nil {
			logWarn("watcher: remove document %s: %v", relPath, err)
		}
	}
}

// addDirRecursive adds dir and every non-excluded subdirectory to the
// fsnotify watch list.
func (w *Watcher) addDirRecursive(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if err := w.fw.Add(dir); err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		child := filepath.Join(dir, e.Name())
		rel, err := filepath.Rel(w.root, child)
		if err == nil && fingerprint.IsExcluded(rel, w.opts.ExcludeGlobs) {
			continue
		}
		if err := w.addDirRecursive(child); err != nil {
			logWarn("watcher: skip directory %s: %v", child, err)
		}
	}
	return nil
}

func logWarn(format string, args ...interface{}) {
	if l := logger.GetDefault(); l != nil {
		l.Warn(format, args...)
	}
}
