// Package scheduler implements the Folder Scheduler & Resource Manager
// (spec.md §4.1): admission-controlled, concurrently-run folder indexing
// jobs with cooperative cancellation and progress/status reporting. New
// relative to the teacher (a single-user desktop app never needed
// multi-folder admission control); built in the teacher's concurrency idiom
// (channels + sync.Mutex counters) grounded on `pkg/watcher/service.go`'s
// worker-semaphore pattern, generalized into a weighted admission queue.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semindex/semindex/internal/changedetector"
	"github.com/semindex/semindex/internal/errs"
	"github.com/semindex/semindex/internal/filestate"
	"github.com/semindex/semindex/internal/logger"
	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/pipeline"
)

var (
	errQueueFull = errs.ErrQueueFull
	errCancelled = errs.ErrCancelled
)

// DocumentRemover deletes a document and its chunks/embeddings by path.
// Satisfied structurally by *internal/store.Store; narrowed to one method
// so the scheduler never depends on the storage engine directly.
type DocumentRemover interface {
	RemoveDocument(documentID string) error
}

// Checkpointer flushes a store's durable state to disk. Satisfied
// structurally by *internal/store.Store.
type Checkpointer interface {
	Checkpoint() error
}

// FolderServices bundles the per-folder collaborators a job needs: its
// store-backed file-state machine, change detector, indexing pipeline, and
// the store itself (narrowed to the deletion/checkpoint it needs). Each
// folder owns its own embedded store, so these are never shared across
// folders.
type FolderServices struct {
	FSM          *filestate.Machine
	Detector     *changedetector.Detector
	Pipeline     *pipeline.Pipeline
	Remover      DocumentRemover
	Checkpointer Checkpointer
}

// ServicesFactory builds (or looks up, if already open) the FolderServices
// for one folder. The daemon/CLI layer owns store lifetime; the scheduler
// only asks for services by folder config.
type ServicesFactory func(folder model.FolderConfig) (*FolderServices, error)

// Options configures one Scheduler instance, normally populated from
// config.SchedulerConfig.
type Options struct {
	MaxConcurrentFolders int
	QueueSize            int
	MemoryLimitMB        int
	ThrottleInterval     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentFolders <= 0 {
		o.MaxConcurrentFolders = 3
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 32
	}
	if o.MemoryLimitMB <= 0 {
		o.MemoryLimitMB = 2048
	}
	if o.ThrottleInterval <= 0 {
		o.ThrottleInterval = 2 * time.Second
	}
	return o
}

// folderJob is the in-memory record of one active or completed folder run.
type folderJob struct {
	mu     sync.Mutex
	job    model.IndexingJob
	cancel context.CancelFunc
	done   bool
	errs   []string
	folder model.FolderConfig
}

// Scheduler accepts indexing requests for one or many folders and runs them
// under the resource manager's admission control (spec.md §4.1).
type Scheduler struct {
	rm      *resourceManager
	factory ServicesFactory
	opts    Options

	mu   sync.Mutex
	jobs map[string]*folderJob // keyed by folder ResolvedAbsolutePath

	stopThrottle chan struct{}
	throttleOnce sync.Once
}

func New(factory ServicesFactory, opts Options) *Scheduler {
	opts = opts.withDefaults()
	s := &Scheduler{
		rm:           newResourceManager(opts.MaxConcurrentFolders, opts.MemoryLimitMB, opts.QueueSize),
		factory:      factory,
		opts:         opts,
		jobs:         make(map[string]*folderJob),
		stopThrottle: make(chan struct{}),
	}
	go s.rm.throttleObserver(opts.ThrottleInterval, s.stopThrottle, func(throttled bool) {
		if throttled {
			logWarn("resource manager throttling: memory near ceiling (%d MB)", s.opts.MemoryLimitMB)
		} else {
			logInfo("resource manager throttle cleared")
		}
	})
	return s
}

// Close stops the background throttle observer. Safe to call once.
func (s *Scheduler) Close() {
	s.throttleOnce.Do(func() { close(s.stopThrottle) })
}

// IsThrottled reports the scheduler's last-sampled resource pressure,
// consulted by pipelines that want to shrink effective batch size.
func (s *Scheduler) IsThrottled() bool { return s.rm.isThrottled() }

// IndexFolder runs detect_changes + index_changes for one folder, admission
// controlled by the resource manager (spec.md §4.1 index_folder).
func (s *Scheduler) IndexFolder(ctx context.Context, folder model.FolderConfig, opts model.IndexingOptions) model.FolderResult {
	start := time.Now()
	result := model.FolderResult{FolderPath: folder.ResolvedAbsolutePath}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &folderJob{
		job: model.IndexingJob{
			ID:        uuid.NewString(),
			Folder:    folder,
			Options:   opts,
			StartedAt: start,
		},
		cancel: cancel,
		folder: folder,
	}
	s.registerJob(folder.ResolvedAbsolutePath, job)
	defer cancel()

	cost := folder.EstimatedMemoryCostMB
	if err := s.rm.acquire(cost, jobCtx.Done()); err != nil {
		result.Error = err.Error()
		return result
	}
	defer s.rm.release(cost)

	services, err := s.factory(folder)
	if err != nil {
		result.Error = fmt.Sprintf("open folder services: %v", err)
		return result
	}
	if services.Checkpointer != nil {
		// Flush the WAL at job end, whichever path returns (spec.md
		// §4.7 Durability: avoids re-indexing on first restart because
		// file-state rows were still sitting in the journal).
		defer func() {
			if err := services.Checkpointer.Checkpoint(); err != nil {
				logWarn("folder %s: checkpoint failed: %v", folder.Name, err)
			}
		}()
	}

	if resets, err := services.FSM.ResetOnStartup(); err != nil {
		logWarn("folder %s: startup recovery failed: %v", folder.Name, err)
	} else if resets > 0 {
		logInfo("folder %s: recovered %d interrupted files", folder.Name, resets)
	}

	changes, err := services.Detector.DetectChanges(folder.ResolvedAbsolutePath, folder.ExcludeGlobs)
	if err != nil {
		result.Error = fmt.Sprintf("detect changes: %v", err)
		return result
	}

	toProcess := append(append([]model.Fingerprint{}, changes.New...), changes.Modified...)
	if opts.ForceReindex {
		// force_reindex bypasses change detection's verdict entirely and
		// reprocesses every file currently on disk, not just what the
		// detector flagged New/Modified (spec.md §8 scenario 6).
		toProcess = append(append([]model.Fingerprint{}, toProcess...), changes.Unchanged...)
	}
	result.FilesTotal = len(toProcess)
	job.setProgress(model.Progress{TotalFiles: len(toProcess)})

	for _, fp := range changes.Deleted {
		if err := services.FSM.MarkDeleted(fp.RelativePath); err != nil {
			job.addError(fmt.Sprintf("mark deleted %s: %v", fp.RelativePath, err))
		}
		if services.Remover != nil {
			if err := services.Remover.RemoveDocument(fp.RelativePath); err != nil {
				job.addError(fmt.Sprintf("remove document %s: %v", fp.RelativePath, err))
			}
		}
	}

	if services.Remover != nil {
		for _, fp := range changes.Modified {
			// Cascade-delete the stale chunks/embeddings before the
			// pipeline reprocesses a modified file, so the store never
			// holds a modified file's old chunks once reprocessing has
			// started (spec.md §4.2 step 2, §8: zero chunks/embeddings
			// for that document before pipeline start).
			if err := services.Remover.RemoveDocument(fp.RelativePath); err != nil {
				job.addError(fmt.Sprintf("clear stale chunks %s: %v", fp.RelativePath, err))
			}
		}
	}

	for _, fp := range toProcess {
		select {
		case <-jobCtx.Done():
			result.Error = errCancelled.Error()
			return s.finalize(result, job, start)
		default:
		}

		res := services.Pipeline.Run(jobCtx, folder.ResolvedAbsolutePath, fp.RelativePath, func(total, processed int) {
			job.setProgress(model.Progress{
				TotalFiles:      len(toProcess),
				ProcessedFiles:  job.progressSnapshot().ProcessedFiles,
				TotalChunks:     total,
				ProcessedChunks: processed,
			})
		})
		job.incrementProcessed()

		if res.Err != nil {
			result.FilesFailed++
			job.addError(fmt.Sprintf("%s: %v", fp.RelativePath, res.Err))
			if !opts.ContinueOnError {
				result.Error = fmt.Sprintf("stopped after failure in %s (continue_on_error=false)", fp.RelativePath)
				return s.finalize(result, job, start)
			}
			continue
		}
		if res.Skipped {
			result.FilesSkipped++
			continue
		}
		result.FilesIndexed++
		result.ChunksTotal += res.ChunkCount
	}

	return s.finalize(result, job, start)
}

func (s *Scheduler) finalize(result model.FolderResult, job *folderJob, start time.Time) model.FolderResult {
	result.Duration = time.Since(start)
	job.markDone()
	return result
}

// IndexAll runs IndexFolder across every configured folder, bounded by
// max_concurrent_folders via the resource manager's admission control, and
// aggregates results (spec.md §4.1 index_all).
func (s *Scheduler) IndexAll(ctx context.Context, folders []model.FolderConfig, opts model.IndexingOptions) model.MultiFolderResult {
	start := time.Now()
	results := make([]model.FolderResult, len(folders))

	groupCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var systemErrors []string

	for i, folder := range folders {
		wg.Add(1)
		go func(idx int, fc model.FolderConfig) {
			defer wg.Done()
			res := s.IndexFolder(groupCtx, fc, opts)
			results[idx] = res
			if res.Error != "" {
				mu.Lock()
				systemErrors = append(systemErrors, fmt.Sprintf("%s: %s", fc.Name, res.Error))
				stopSiblings := !opts.ContinueOnError
				mu.Unlock()
				if stopSiblings {
					cancelAll()
				}
			}
		}(i, folder)
	}
	wg.Wait()

	var totalFiles, totalChunks int
	for _, r := range results {
		totalFiles += r.FilesIndexed + r.FilesFailed + r.FilesSkipped
		totalChunks += r.ChunksTotal
	}
	elapsed := time.Since(start).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(totalFiles) / elapsed
	}

	return model.MultiFolderResult{
		Folders:      results,
		TotalFiles:   totalFiles,
		TotalChunks:  totalChunks,
		AverageRate:  rate,
		SystemErrors: systemErrors,
	}
}

// Status returns the current status of one folder's job, or false if no
// job has run for that path since the scheduler started.
func (s *Scheduler) Status(folderPath string) (model.FolderStatus, bool) {
	s.mu.Lock()
	job, ok := s.jobs[folderPath]
	s.mu.Unlock()
	if !ok {
		return model.FolderStatus{}, false
	}
	return job.status(), true
}

// StatusAll returns the status of every folder with a known job.
func (s *Scheduler) StatusAll() []model.FolderStatus {
	s.mu.Lock()
	jobs := make([]*folderJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	statuses := make([]model.FolderStatus, 0, len(jobs))
	for _, j := range jobs {
		statuses = append(statuses, j.status())
	}
	return statuses
}

// Cancel requests cooperative cancellation of one folder's active job.
// A no-op if the folder has no active job.
func (s *Scheduler) Cancel(folderPath string) {
	s.mu.Lock()
	job, ok := s.jobs[folderPath]
	s.mu.Unlock()
	if ok {
		job.cancel()
	}
}

// CancelAll requests cooperative cancellation of every active job.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	jobs := make([]*folderJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()
	for _, j := range jobs {
		j.cancel()
	}
}

func (s *Scheduler) registerJob(folderPath string, job *folderJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[folderPath] = job
}

func (j *folderJob) setProgress(p model.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	processed := j.job.Progress.ProcessedFiles
	j.job.Progress = p
	if p.ProcessedFiles == 0 {
		j.job.Progress.ProcessedFiles = processed
	}
}

func (j *folderJob) progressSnapshot() model.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.job.Progress
}

func (j *folderJob) incrementProcessed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.job.Progress.ProcessedFiles++
}

func (j *folderJob) addError(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errs = append(j.errs, msg)
}

func (j *folderJob) markDone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
}

func (j *folderJob) status() model.FolderStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return model.FolderStatus{
		FolderPath: j.folder.ResolvedAbsolutePath,
		IsIndexing: !j.done,
		Progress:   j.job.Progress,
		StartedAt:  j.job.StartedAt,
		Errors:     append([]string{}, j.errs...),
	}
}

func logInfo(format string, args ...interface{}) {
	if l := logger.GetDefault(); l != nil {
		l.Info(format, args...)
	}
}

func logWarn(format string, args ...interface{}) {
	if l := logger.GetDefault(); l != nil {
		l.Warn(format, args...)
	}
}
