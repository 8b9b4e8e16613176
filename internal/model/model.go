// Package model holds the domain types shared across semindex's internal
// packages: folder configuration, file fingerprints, file state, documents,
// chunks, embeddings, change sets and indexing jobs.
package model

import "time"

// ProcessingState is the lifecycle state of one file inside a folder store.
type ProcessingState string

const (
	StatePending    ProcessingState = "PENDING"
	StateProcessing ProcessingState = "PROCESSING"
	StateIndexed    ProcessingState = "INDEXED"
	StateFailed     ProcessingState = "FAILED"
	StateSkipped    ProcessingState = "SKIPPED"
	StateDeleted    ProcessingState = "DELETED"
)

// ServiceKind identifies the kind of embedding back-end behind the
// Embedding Service Abstraction (spec §4.6).
type ServiceKind string

const (
	ServiceLocalTensor  ServiceKind = "local_tensor"
	ServiceRemoteWorker ServiceKind = "remote_worker"
)

// Action is the decision produced by the file-state machine for one file.
type Action string

const (
	ActionProcess Action = "process"
	ActionSkip    Action = "skip"
	ActionRetry   Action = "retry"
	ActionIgnore  Action = "ignore"
)

// FolderConfig describes one folder the daemon is responsible for indexing.
// It is immutable for the duration of a job and identified by
// ResolvedAbsolutePath.
type FolderConfig struct {
	Name                  string   `yaml:"name" json:"name"`
	ResolvedAbsolutePath  string   `yaml:"path" json:"resolved_absolute_path"`
	ExcludeGlobs          []string `yaml:"exclude" json:"exclude_globs"`
	ModelID               string   `yaml:"model" json:"model_id"`
	BatchSize             int      `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	MaxConcurrency        int      `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
	EstimatedMemoryCostMB int      `yaml:"-" json:"-"`
}

// Fingerprint identifies the on-disk state of one file at a point in time.
// RelativePath is unique within a single folder snapshot.
type Fingerprint struct {
	RelativePath string
	ContentHash  string
	SizeBytes    int64
	ModifiedTime time.Time
}

// FileState is the durable per-file row tracked by the file-state machine.
type FileState struct {
	FilePath        string
	ContentHash     string
	ProcessingState ProcessingState
	AttemptCount    int
	LastAttemptTS   time.Time
	LastError       string
	Corrupted       bool
	ChunkCount      int
}

// KeyPhrase is a scored text span, produced per-chunk or per-document.
type KeyPhrase struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Document is the one-row-per-indexed-file record (spec §3).
type Document struct {
	DocumentID        string // == file_path, relative to the folder root
	FileType          string
	Size              int64
	Created           time.Time
	Modified          time.Time
	Title             string
	Author            string
	PageCount         int
	SlideCount        int
	SheetCount        int
	DocumentEmbedding []float32
	DocumentKeywords  []KeyPhrase
	ProcessingTimeMS  int64
}

// ExtractionParams carries the format-specific coordinates that let a chunk's
// source region be reconstructed deterministically.
type ExtractionParams struct {
	Page    int    `json:"page,omitempty"`
	Slide   int    `json:"slide,omitempty"`
	Sheet   string `json:"sheet,omitempty"`
	RowFrom int    `json:"row_from,omitempty"`
	RowTo   int    `json:"row_to,omitempty"`
	Section string `json:"section,omitempty"`
}

// Chunk is a contiguous span of extracted text, one per (DocumentID, Index).
type Chunk struct {
	DocumentID       string
	Index            int
	Content          string
	StartOffset      int
	EndOffset        int
	TokenCount       int
	ExtractionParams ExtractionParams
	KeyPhrases       []KeyPhrase
	ReadabilityScore float64
}

// ChunkID uniquely identifies a chunk within a folder store.
type ChunkID struct {
	DocumentID string
	Index      int
}

// Embedding is the vector attached to one chunk.
type Embedding struct {
	ChunkID ChunkID
	Vector  []float32
	ModelID string
}

// ChangeSummary accompanies a ChangeSet.
type ChangeSummary struct {
	TotalChanges      int
	RequiresFullReindex bool
}

// ChangeSet is the quadripartite partition produced by change detection.
type ChangeSet struct {
	New       []Fingerprint
	Modified  []Fingerprint
	Deleted   []Fingerprint
	Unchanged []Fingerprint
	Summary   ChangeSummary
}

// Progress tracks file/chunk counters for one indexing job.
type Progress struct {
	TotalFiles      int
	ProcessedFiles  int
	TotalChunks     int
	ProcessedChunks int
}

// IndexingOptions configures one folder indexing run.
type IndexingOptions struct {
	ContinueOnError bool
	ForceReindex    bool
}

// IndexingJob is the in-memory record of one active or completed folder run.
type IndexingJob struct {
	ID                  string
	Folder              FolderConfig
	Options             IndexingOptions
	Progress            Progress
	StartedAt           time.Time
	EstimatedCompletion *time.Time
}

// FolderResult is the outcome of one index_folder run (spec §4.1).
type FolderResult struct {
	FolderPath      string
	FilesTotal      int
	FilesIndexed    int
	FilesFailed     int
	FilesSkipped    int
	ChunksTotal     int
	EmbeddingsTotal int
	Duration        time.Duration
	Error           string
}

// MultiFolderResult aggregates FolderResult across one index_all run.
type MultiFolderResult struct {
	Folders      []FolderResult
	TotalFiles   int
	TotalChunks  int
	AverageRate  float64 // files per second, across the whole run
	SystemErrors []string
}

// FolderStatus is the live or last-known state of one folder's indexing job
// (spec §4.1 status_all/status).
type FolderStatus struct {
	FolderPath          string
	IsIndexing          bool
	Progress            Progress
	StartedAt           time.Time
	EstimatedCompletion *time.Time
	Errors              []string
}

// SearchResult is one ranked hit returned from the query path.
type SearchResult struct {
	DocumentID string
	ChunkID    ChunkID
	Content    string
	Score      float64
	Location   ExtractionParams
}

// Pagination accompanies a SearchResponse.
type Pagination struct {
	Count      int
	HasMore    bool
	NextOffset int
}

// SearchResponse is the standardized result envelope for the query path.
type SearchResponse struct {
	Results          []SearchResult
	Total            int
	ProcessingTimeMS int64
	Pagination       Pagination
}
