// Package errs defines the error-kind taxonomy used across semindex
// (configuration, filesystem, parse, embedding, semantic, storage).
package errs

import "fmt"

// ConfigError wraps configuration-layer failures: missing/invalid model id,
// unknown provider. These are fatal and surfaced immediately.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config %s: %v", e.Op, e.Err) }
func (e *ConfigError) Unwrap() error  { return e.Err }

func NewConfigError(op string, err error) error { return &ConfigError{Op: op, Err: err} }

// FilesystemError wraps missing folders, unreadable files, permission
// errors. Per-file occurrences land the file in FAILED; folder-level
// occurrences fail the job.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string { return fmt.Sprintf("filesystem %s: %v", e.Path, e.Err) }
func (e *FilesystemError) Unwrap() error  { return e.Err }

func NewFilesystemError(path string, err error) error { return &FilesystemError{Path: path, Err: err} }

// ParseError wraps unsupported-type or corrupt-content failures. Files
// that fail to parse land in FAILED with Corrupted=true and are not retried.
type ParseError struct {
	Path      string
	Corrupted bool
	Err       error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error  { return e.Err }

func NewParseError(path string, corrupted bool, err error) error {
	return &ParseError{Path: path, Corrupted: corrupted, Err: err}
}

// EmbeddingError wraps back-end init failures, batch timeouts, and partial
// batches. A batch-level error is non-fatal (partial success, continue);
// an init failure is fatal for that back-end until restart.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding %s: %v", e.Op, e.Err) }
func (e *EmbeddingError) Unwrap() error  { return e.Err }

func NewEmbeddingError(op string, err error) error { return &EmbeddingError{Op: op, Err: err} }

// SemanticError wraps missing back-end capability or empty extraction
// results. Always non-fatal: the fallback generator fills in.
type SemanticError struct {
	Op  string
	Err error
}

func (e *SemanticError) Error() string { return fmt.Sprintf("semantic %s: %v", e.Op, e.Err) }
func (e *SemanticError) Unwrap() error  { return e.Err }

func NewSemanticError(op string, err error) error { return &SemanticError{Op: op, Err: err} }

// StorageError wraps constraint violations and I/O failures against a
// folder store. Per-document occurrences roll back and mark the file
// FAILED; catastrophic occurrences fail the job.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error  { return e.Err }

func NewStorageError(op string, err error) error { return &StorageError{Op: op, Err: err} }

// ErrQueueFull is returned by the scheduler when admission is refused
// because both the running set and the queue are at capacity.
var ErrQueueFull = fmt.Errorf("queue full")

// ErrCancelled marks cooperative cancellation; per spec §7 this is never
// logged as an error, only checked with errors.Is.
var ErrCancelled = fmt.Errorf("cancelled")
