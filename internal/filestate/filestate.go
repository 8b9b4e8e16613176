// Package filestate implements the per-file processing state machine
// (spec.md §4.3): PENDING → PROCESSING → INDEXED/FAILED/SKIPPED/DELETED,
// with crash recovery and the decide() policy that the change detector and
// pipeline consult before processing a file.
package filestate

import (
	"fmt"
	"time"

	"github.com/semindex/semindex/internal/model"
)

// Store is the durable backing for file-state rows. internal/store's
// per-folder store satisfies this interface; filestate only depends on the
// method set, not on the storage engine.
type Store interface {
	GetFileState(filePath string) (*model.FileState, bool, error)
	UpsertFileState(state model.FileState) error
	ListFileStatesByState(state model.ProcessingState) ([]model.FileState, error)
}

// MaxRetries is the default retry ceiling from spec.md §4.3 rule 4.
const MaxRetries = 3

// Decision is the output of decide(): what the pipeline should do with one
// file, and why.
type Decision struct {
	Action model.Action
	Reason string
}

// Decide implements the rule table from spec.md §4.3, evaluated in order.
func Decide(row *model.FileState, found bool, currentHash string, maxRetries int) Decision {
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	if !found {
		return Decision{model.ActionProcess, "new file"}
	}
	switch row.ProcessingState {
	case model.StateIndexed:
		if row.ContentHash == currentHash {
			return Decision{model.ActionSkip, "unchanged"}
		}
		return Decision{model.ActionProcess, "modified"}
	case model.StateFailed:
		if row.Corrupted {
			return Decision{model.ActionIgnore, "corrupted"}
		}
		if row.AttemptCount < maxRetries {
			return Decision{model.ActionRetry, "retry after failure"}
		}
		return Decision{model.ActionIgnore, "retry limit exceeded"}
	case model.StateProcessing:
		// Crashed mid-run; startup recovery will have reset this to
		// PENDING already, but if encountered live it is still eligible.
		return Decision{model.ActionProcess, "recovered from crash"}
	default:
		return Decision{model.ActionProcess, "pending"}
	}
}

// Machine drives transitions against a Store, serialized per file by the
// pipeline (spec.md §5: every start_processing → mark_* pair is serialized
// per file).
type Machine struct {
	store Store
}

func New(store Store) *Machine {
	return &Machine{store: store}
}

// Decide loads the current row (if any) and returns the decision for
// currentHash.
func (m *Machine) Decide(filePath, currentHash string, maxRetries int) (Decision, error) {
	row, found, err := m.store.GetFileState(filePath)
	if err != nil {
		// Fail-safe to process per spec.md §4.3 rule 7.
		return Decision{model.ActionProcess, "state read error, fail-safe to process"}, nil
	}
	return Decide(row, found, currentHash, maxRetries), nil
}

// StartProcessing transitions a file to PROCESSING, recording the hash it
// is about to process under.
func (m *Machine) StartProcessing(filePath, hash string) error {
	row, found, err := m.store.GetFileState(filePath)
	if err != nil {
		return fmt.Errorf("filestate: read %s: %w", filePath, err)
	}
	attempt := 0
	if found {
		attempt = row.AttemptCount
	}
	return m.store.UpsertFileState(model.FileState{
		FilePath:        filePath,
		ContentHash:     hash,
		ProcessingState: model.StateProcessing,
		AttemptCount:    attempt,
		LastAttemptTS:   time.Now(),
	})
}

// MarkSuccess transitions a file to INDEXED, recording its final chunk
// count and storing the processed hash as its content_hash.
func (m *Machine) MarkSuccess(filePath, hash string, chunkCount int) error {
	state, err := m.BuildSuccessState(filePath, hash, chunkCount)
	if err != nil {
		return err
	}
	return m.store.UpsertFileState(state)
}

// BuildSuccessState computes the INDEXED row a successful run should write,
// without writing it. Callers that must commit the file-state transition
// atomically with other writes (spec.md §4.7: write_document is a single
// transaction that also updates the file-state row) fold the result into
// that same transaction instead of calling MarkSuccess.
func (m *Machine) BuildSuccessState(filePath, hash string, chunkCount int) (model.FileState, error) {
	row, _, err := m.store.GetFileState(filePath)
	if err != nil {
		return model.FileState{}, fmt.Errorf("filestate: read %s: %w", filePath, err)
	}
	attempt := 0
	if row != nil {
		attempt = row.AttemptCount
	}
	return model.FileState{
		FilePath:        filePath,
		ContentHash:     hash,
		ProcessingState: model.StateIndexed,
		AttemptCount:    attempt,
		LastAttemptTS:   time.Now(),
		ChunkCount:      chunkCount,
	}, nil
}

// MarkFailure transitions a file to FAILED, strictly incrementing
// attempt_count (spec.md §8 invariant).
func (m *Machine) MarkFailure(filePath, hash, reason string, corrupted bool) error {
	row, found, err := m.store.GetFileState(filePath)
	if err != nil {
		return fmt.Errorf("filestate: read %s: %w", filePath, err)
	}
	attempt := 1
	if found {
		attempt = row.AttemptCount + 1
	}
	return m.store.UpsertFileState(model.FileState{
		FilePath:        filePath,
		ContentHash:     hash,
		ProcessingState: model.StateFailed,
		AttemptCount:    attempt,
		LastAttemptTS:   time.Now(),
		LastError:       reason,
		Corrupted:       corrupted,
	})
}

// MarkSkipped transitions a file to SKIPPED from any prior state.
func (m *Machine) MarkSkipped(filePath, hash, reason string) error {
	return m.store.UpsertFileState(model.FileState{
		FilePath:        filePath,
		ContentHash:     hash,
		ProcessingState: model.StateSkipped,
		LastAttemptTS:   time.Now(),
		LastError:       reason,
	})
}

// MarkDeleted transitions a file to DELETED when it is no longer present
// on disk.
func (m *Machine) MarkDeleted(filePath string) error {
	return m.store.UpsertFileState(model.FileState{
		FilePath:        filePath,
		ProcessingState: model.StateDeleted,
		LastAttemptTS:   time.Now(),
	})
}

// ResetOnStartup resets every PROCESSING row to PENDING, so interrupted
// work is retried after a crash (spec.md §4.3 startup recovery). It
// returns the number of rows reset.
func (m *Machine) ResetOnStartup() (int, error) {
	rows, err := m.store.ListFileStatesByState(model.StateProcessing)
	if err != nil {
		return 0, fmt.Errorf("filestate: list processing rows: %w", err)
	}
	for _, row := range rows {
		row.ProcessingState = model.StatePending
		if err := m.store.UpsertFileState(row); err != nil {
			return 0, fmt.Errorf("filestate: reset %s: %w", row.FilePath, err)
		}
	}
	return len(rows), nil
}
