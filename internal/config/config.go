// Package config implements semindex's daemon-wide configuration: a
// JSON-serializable, mutex-guarded Config loaded/saved the way the
// teacher's pkg/config does, plus environment-variable overrides for the
// knobs spec.md §6 enumerates.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Config holds daemon-wide settings: scheduler limits, embedding defaults,
// pipeline retry policy and chunking defaults. Folder-specific settings
// live in the separate folders.yaml registry (see folders.go).
type Config struct {
	mu         sync.RWMutex
	configPath string

	Scheduler SchedulerConfig `json:"scheduler"`
	Embedding EmbeddingConfig `json:"embedding"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Chunking  ChunkingConfig  `json:"chunking"`
	Watcher   WatcherConfig   `json:"watcher"`
}

// SchedulerConfig mirrors the Folder Scheduler & Resource Manager knobs
// (spec.md §4.1, §6).
type SchedulerConfig struct {
	MaxConcurrentFolders int `json:"max_concurrent_folders"`
	QueueSize            int `json:"queue_size"`
	MemoryLimitMB        int `json:"memory_limit_mb"`
}

// EmbeddingConfig mirrors the Embedding Service Abstraction knobs.
type EmbeddingConfig struct {
	DefaultModelID  string `json:"default_model_id"`
	WorkerPoolSize  int    `json:"worker_pool_size"`
	NumThreads      int    `json:"num_threads"`
	BatchSize       int    `json:"batch_size"`
	InitTimeoutSec  int    `json:"init_timeout_sec"`
	BatchTimeoutSec int    `json:"batch_timeout_sec"`
	ModelDir        string `json:"model_dir"`
	OrtLibPath      string `json:"ort_lib_path"`
	RemoteBaseURL   string `json:"remote_base_url"`
}

// PipelineConfig mirrors the indexing pipeline's retry/backoff policy
// (spec.md §5).
type PipelineConfig struct {
	MaxRetries       int     `json:"max_retries"`
	BackoffBaseSec   float64 `json:"backoff_base_sec"`
	BackoffFactor    float64 `json:"backoff_factor"`
	KeyphraseMaxMS   int     `json:"keyphrase_probe_ms"`
	KeyphraseRetries int     `json:"keyphrase_probe_retries"`
}

// ChunkingConfig mirrors spec.md §4.5 defaults.
type ChunkingConfig struct {
	OverlapFraction float64 `json:"overlap_fraction"`
	MinChunkChars   int     `json:"min_chunk_chars"`
	NgramMax        int     `json:"ngram_max"`
	MMRLambdaChunk  float64 `json:"mmr_lambda_chunk"`
	MMRLambdaDoc    float64 `json:"mmr_lambda_doc"`
	MaxKeywords     int     `json:"max_keywords"`
	MinKeywordScore float64 `json:"min_keyword_score"`
}

// WatcherConfig mirrors the continuous-indexing watcher's knobs.
type WatcherConfig struct {
	Enabled      bool `json:"enabled"`
	DebounceMS   int  `json:"debounce_ms"`
	WorkerCount  int  `json:"worker_count"`
}

var (
	globalConfig *Config
	once         sync.Once
)

// New returns a Config populated with defaults.
func New() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Get returns the process-wide default configuration, initializing it on
// first use.
func Get() *Config {
	once.Do(func() {
		globalConfig = New()
	})
	return globalConfig
}

func (c *Config) setDefaults() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Scheduler.MaxConcurrentFolders = 3
	c.Scheduler.QueueSize = 32
	c.Scheduler.MemoryLimitMB = 2048

	c.Embedding.DefaultModelID = "cpu/onnx:bge-small-en-v1.5"
	c.Embedding.WorkerPoolSize = 4
	c.Embedding.NumThreads = 4
	c.Embedding.BatchSize = 10
	c.Embedding.InitTimeoutSec = 30
	c.Embedding.BatchTimeoutSec = 60
	c.Embedding.ModelDir = "./models"
	c.Embedding.OrtLibPath = "./lib/onnxruntime.so"
	c.Embedding.RemoteBaseURL = "http://127.0.0.1:11434"

	c.Pipeline.MaxRetries = 3
	c.Pipeline.BackoffBaseSec = 1
	c.Pipeline.BackoffFactor = 2
	c.Pipeline.KeyphraseMaxMS = 1000
	c.Pipeline.KeyphraseRetries = 5

	c.Chunking.OverlapFraction = 0.1
	c.Chunking.MinChunkChars = 500
	c.Chunking.NgramMax = 3
	c.Chunking.MMRLambdaChunk = 0.5
	c.Chunking.MMRLambdaDoc = 0.3
	c.Chunking.MaxKeywords = 30
	c.Chunking.MinKeywordScore = 0.3

	c.Watcher.Enabled = true
	c.Watcher.DebounceMS = 500
	c.Watcher.WorkerCount = 3
}

// LoadFromFile loads JSON configuration from path, merging onto the
// existing defaults (missing/zero numeric and string fields keep their
// default value; watcher.enabled is always taken from the file, so a file
// without it disables the watcher). A missing file is not an error:
// defaults are used.
func (c *Config) LoadFromFile(path string) error {
	c.mu.Lock()
	c.configPath = path
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	c.mergeWithDefaults(&loaded)
	return nil
}

// SaveToFile writes the current configuration as indented JSON to path.
func (c *Config) SaveToFile(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Save writes back to the path last passed to LoadFromFile.
func (c *Config) Save() error {
	c.mu.RLock()
	path := c.configPath
	c.mu.RUnlock()
	if path == "" {
		return errors.New("config: no path set, call LoadFromFile or SaveToFile first")
	}
	return c.SaveToFile(path)
}

func (c *Config) mergeWithDefaults(loaded *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if loaded.Scheduler.MaxConcurrentFolders > 0 {
		c.Scheduler.MaxConcurrentFolders = loaded.Scheduler.MaxConcurrentFolders
	}
	if loaded.Scheduler.QueueSize > 0 {
		c.Scheduler.QueueSize = loaded.Scheduler.QueueSize
	}
	if loaded.Scheduler.MemoryLimitMB > 0 {
		c.Scheduler.MemoryLimitMB = loaded.Scheduler.MemoryLimitMB
	}

	if loaded.Embedding.DefaultModelID != "" {
		c.Embedding.DefaultModelID = loaded.Embedding.DefaultModelID
	}
	if loaded.Embedding.WorkerPoolSize > 0 {
		c.Embedding.WorkerPoolSize = loaded.Embedding.WorkerPoolSize
	}
	if loaded.Embedding.NumThreads > 0 {
		c.Embedding.NumThreads = loaded.Embedding.NumThreads
	}
	if loaded.Embedding.BatchSize > 0 {
		c.Embedding.BatchSize = loaded.Embedding.BatchSize
	}
	if loaded.Embedding.InitTimeoutSec > 0 {
		c.Embedding.InitTimeoutSec = loaded.Embedding.InitTimeoutSec
	}
	if loaded.Embedding.BatchTimeoutSec > 0 {
		c.Embedding.BatchTimeoutSec = loaded.Embedding.BatchTimeoutSec
	}
	if loaded.Embedding.ModelDir != "" {
		c.Embedding.ModelDir = loaded.Embedding.ModelDir
	}
	if loaded.Embedding.OrtLibPath != "" {
		c.Embedding.OrtLibPath = loaded.Embedding.OrtLibPath
	}
	if loaded.Embedding.RemoteBaseURL != "" {
		c.Embedding.RemoteBaseURL = loaded.Embedding.RemoteBaseURL
	}

	if loaded.Pipeline.MaxRetries > 0 {
		c.Pipeline.MaxRetries = loaded.Pipeline.MaxRetries
	}
	if loaded.Pipeline.BackoffBaseSec > 0 {
		c.Pipeline.BackoffBaseSec = loaded.Pipeline.BackoffBaseSec
	}
	if loaded.Pipeline.BackoffFactor > 0 {
		c.Pipeline.BackoffFactor = loaded.Pipeline.BackoffFactor
	}
	if loaded.Pipeline.KeyphraseMaxMS > 0 {
		c.Pipeline.KeyphraseMaxMS = loaded.Pipeline.KeyphraseMaxMS
	}
	if loaded.Pipeline.KeyphraseRetries > 0 {
		c.Pipeline.KeyphraseRetries = loaded.Pipeline.KeyphraseRetries
	}

	if loaded.Chunking.OverlapFraction > 0 {
		c.Chunking.OverlapFraction = loaded.Chunking.OverlapFraction
	}
	if loaded.Chunking.MinChunkChars > 0 {
		c.Chunking.MinChunkChars = loaded.Chunking.MinChunkChars
	}
	if loaded.Chunking.NgramMax > 0 {
		c.Chunking.NgramMax = loaded.Chunking.NgramMax
	}
	if loaded.Chunking.MMRLambdaChunk > 0 {
		c.Chunking.MMRLambdaChunk = loaded.Chunking.MMRLambdaChunk
	}
	if loaded.Chunking.MMRLambdaDoc > 0 {
		c.Chunking.MMRLambdaDoc = loaded.Chunking.MMRLambdaDoc
	}
	if loaded.Chunking.MaxKeywords > 0 {
		c.Chunking.MaxKeywords = loaded.Chunking.MaxKeywords
	}
	if loaded.Chunking.MinKeywordScore > 0 {
		c.Chunking.MinKeywordScore = loaded.Chunking.MinKeywordScore
	}

	c.Watcher.Enabled = loaded.Watcher.Enabled
	if loaded.Watcher.DebounceMS > 0 {
		c.Watcher.DebounceMS = loaded.Watcher.DebounceMS
	}
	if loaded.Watcher.WorkerCount > 0 {
		c.Watcher.WorkerCount = loaded.Watcher.WorkerCount
	}
}

// ApplyEnvOverrides layers the environment knobs from spec.md §6
// (WORKER_POOL_SIZE, NUM_THREADS, BATCH_SIZE, MAX_CONCURRENT_FOLDERS,
// MEMORY_LIMIT_MB) on top of whatever was loaded from file/defaults.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := envInt("WORKER_POOL_SIZE"); ok {
		c.Embedding.WorkerPoolSize = v
	}
	if v, ok := envInt("NUM_THREADS"); ok {
		c.Embedding.NumThreads = v
	}
	if v, ok := envInt("BATCH_SIZE"); ok {
		c.Embedding.BatchSize = v
	}
	if v, ok := envInt("MAX_CONCURRENT_FOLDERS"); ok {
		c.Scheduler.MaxConcurrentFolders = v
	}
	if v, ok := envInt("MEMORY_LIMIT_MB"); ok {
		c.Scheduler.MemoryLimitMB = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// GetScheduler returns a copy of the scheduler configuration.
func (c *Config) GetScheduler() SchedulerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Scheduler
}

// GetEmbedding returns a copy of the embedding configuration.
func (c *Config) GetEmbedding() EmbeddingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Embedding
}

// GetPipeline returns a copy of the pipeline configuration.
func (c *Config) GetPipeline() PipelineConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Pipeline
}

// GetChunking returns a copy of the chunking configuration.
func (c *Config) GetChunking() ChunkingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Chunking
}

// GetWatcher returns a copy of the watcher configuration.
func (c *Config) GetWatcher() WatcherConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Watcher
}

// SetEmbedding replaces the embedding configuration.
func (c *Config) SetEmbedding(cfg EmbeddingConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Embedding = cfg
}
