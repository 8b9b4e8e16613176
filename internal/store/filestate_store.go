package store

import (
	"errors"

	"gorm.io/gorm"

	"github.com/semindex/semindex/internal/errs"
	"github.com/semindex/semindex/internal/model"
)

// GetFileState satisfies internal/filestate.Store, letting the file-state
// machine drive transitions against this folder's database without
// importing internal/store directly.
func (s *Store) GetFileState(filePath string) (*model.FileState, bool, error) {
	var row fileStateRow
	err := s.db.Where("file_path = ?", filePath).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.NewStorageError("get_file_state", err)
	}
	state := fromFileStateRow(row)
	return &state, true, nil
}

// UpsertFileState writes a file-state row, replacing any prior row for the
// same path.
func (s *Store) UpsertFileState(state model.FileState) error {
	row := toFileStateRow(state)
	err := s.db.Save(&row).Error
	if err != nil {
		return errs.NewStorageError("upsert_file_state", err)
	}
	return nil
}

// ListFileStatesByState returns every row currently in the given state,
// used by startup recovery to find interrupted PROCESSING rows.
func (s *Store) ListFileStatesByState(state model.ProcessingState) ([]model.FileState, error) {
	var rows []fileStateRow
	if err := s.db.Where("processing_state = ?", string(state)).Find(&rows).Error; err != nil {
		return nil, errs.NewStorageError("list_file_states", err)
	}
	out := make([]model.FileState, len(rows))
	for i, r := range rows {
		out[i] = fromFileStateRow(r)
	}
	return out, nil
}

// RemoveFileState deletes the row for filePath entirely. Deletions found by
// the scheduler and watcher are recorded as DELETED rows through the
// file-state machine rather than removed with this method.
func (s *Store) RemoveFileState(filePath string) error {
	if err := s.db.Where("file_path = ?", filePath).Delete(&fileStateRow{}).Error; err != nil {
		return errs.NewStorageError("remove_file_state", err)
	}
	return nil
}
