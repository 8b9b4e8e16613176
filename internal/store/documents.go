package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/semindex/semindex/internal/errs"
	"github.com/semindex/semindex/internal/model"
)

// DocumentWrite is the persistence unit produced by one pipeline run: a
// document row, its chunks, the embeddings for whichever chunks were
// successfully embedded (spec.md §8: a chunk may have zero or one
// embedding, never more), and the file-state row the run transitions to.
// FileState is the zero value when the caller manages file-state itself
// (e.g. tests that never populate it).
type DocumentWrite struct {
	Document   model.Document
	Chunks     []model.Chunk
	Embeddings []model.Embedding
	FileState  model.FileState
}

// WriteDocument persists one file's full pipeline output atomically:
// upsert the document row, replace its chunk set, attach embeddings, and
// update the file-state row in the same transaction (spec.md §4.7: "a
// single transaction that upserts the document, replaces its chunks/
// embeddings, and updates the file-state row to INDEXED"). Grounded on the
// teacher's `Repository.IndexFileWithChunks`: begin a transaction,
// delete-then-recreate child rows, commit, and invalidate the vector cache
// only on success.
func (s *Store) WriteDocument(w DocumentWrite) (err error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return errs.NewStorageError("write_document", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			err = errs.NewStorageError("write_document", fmt.Errorf("panic: %v", r))
		}
	}()

	docRow := toDocumentRow(w.Document)
	if txErr := tx.Save(&docRow).Error; txErr != nil {
		tx.Rollback()
		return errs.NewStorageError("write_document", fmt.Errorf("save document: %w", txErr))
	}

	if txErr := tx.Where("document_id = ?", w.Document.DocumentID).Delete(&chunkRow{}).Error; txErr != nil {
		tx.Rollback()
		return errs.NewStorageError("write_document", fmt.Errorf("clear chunks: %w", txErr))
	}

	embeddingByChunk := make(map[int]model.Embedding, len(w.Embeddings))
	for _, e := range w.Embeddings {
		embeddingByChunk[e.ChunkID.Index] = e
	}

	for _, c := range w.Chunks {
		row := toChunkRow(w.Document.DocumentID, c)
		if txErr := tx.Create(&row).Error; txErr != nil {
			tx.Rollback()
			return errs.NewStorageError("write_document", fmt.Errorf("create chunk %d: %w", c.Index, txErr))
		}
		if emb, ok := embeddingByChunk[c.Index]; ok {
			erow := embeddingRow{
				DocumentID: w.Document.DocumentID,
				ChunkIndex: c.Index,
				Vector:     encodeVector(emb.Vector),
				ModelID:    emb.ModelID,
			}
			if txErr := tx.Create(&erow).Error; txErr != nil {
				tx.Rollback()
				return errs.NewStorageError("write_document", fmt.Errorf("create embedding %d: %w", c.Index, txErr))
			}
		}
	}

	if w.FileState.FilePath != "" {
		stateRow := toFileStateRow(w.FileState)
		if txErr := tx.Save(&stateRow).Error; txErr != nil {
			tx.Rollback()
			return errs.NewStorageError("write_document", fmt.Errorf("save file state: %w", txErr))
		}
	}

	if txErr := tx.Commit().Error; txErr != nil {
		return errs.NewStorageError("write_document", fmt.Errorf("commit: %w", txErr))
	}

	s.invalidateVectorCache()
	return nil
}

// RemoveDocument deletes a document and its chunks/embeddings (cascade via
// FK constraints), used when change detection reports a DELETE. The
// file-state row is left untouched.
func (s *Store) RemoveDocument(documentID string) error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return errs.NewStorageError("remove_document", tx.Error)
	}
	if err := tx.Where("document_id = ?", documentID).Delete(&chunkRow{}).Error; err != nil {
		tx.Rollback()
		return errs.NewStorageError("remove_document", err)
	}
	if err := tx.Where("document_id = ?", documentID).Delete(&documentRow{}).Error; err != nil {
		tx.Rollback()
		return errs.NewStorageError("remove_document", err)
	}
	if err := tx.Commit().Error; err != nil {
		return errs.NewStorageError("remove_document", err)
	}
	s.invalidateVectorCache()
	return nil
}

// GetDocument loads one document row by id.
func (s *Store) GetDocument(documentID string) (*model.Document, bool, error) {
	var row documentRow
	err := s.db.Where("document_id = ?", documentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.NewStorageError("get_document", err)
	}
	doc := fromDocumentRow(row)
	return &doc, true, nil
}

// ListDocuments returns every document row, used by the query service's
// document listing.
func (s *Store) ListDocuments() ([]model.Document, error) {
	var rows []documentRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errs.NewStorageError("list_documents", err)
	}
	out := make([]model.Document, len(rows))
	for i, r := range rows {
		out[i] = fromDocumentRow(r)
	}
	return out, nil
}

// ListChunks returns every chunk belonging to one document, ordered by
// index.
func (s *Store) ListChunks(documentID string) ([]model.Chunk, error) {
	var rows []chunkRow
	if err := s.db.Where("document_id = ?", documentID).Order("chunk_index asc").Find(&rows).Error; err != nil {
		return nil, errs.NewStorageError("list_chunks", err)
	}
	out := make([]model.Chunk, len(rows))
	for i, r := range rows {
		out[i] = fromChunkRow(r)
	}
	return out, nil
}

// DocumentCount reports how many documents the store currently holds.
func (s *Store) DocumentCount() (int64, error) {
	var n int64
	if err := s.db.Model(&documentRow{}).Count(&n).Error; err != nil {
		return 0, errs.NewStorageError("document_count", err)
	}
	return n, nil
}

// Clear deletes every row in the store, used by the "clear" CLI command.
func (s *Store) Clear() error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return errs.NewStorageError("clear", tx.Error)
	}
	for _, table := range []string{"embeddings", "chunks", "documents", "file_states"} {
		if err := tx.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
			tx.Rollback()
			return errs.NewStorageError("clear", err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return errs.NewStorageError("clear", err)
	}
	s.invalidateVectorCache()
	return nil
}
