package store

import (
	"encoding/json"
	"math"
	"time"

	"github.com/semindex/semindex/internal/model"
)

// documentRow mirrors model.Document. DocumentID is the relative file path
// and doubles as the natural primary key within one folder's store.
type documentRow struct {
	DocumentID        string `gorm:"primaryKey"`
	FileType          string
	Size              int64
	Created           time.Time
	Modified          time.Time
	Title             string
	Author            string
	PageCount         int
	SlideCount        int
	SheetCount        int
	DocumentEmbedding []byte `gorm:"type:blob"`
	DocumentKeywords  string `gorm:"type:text"` // JSON-encoded []model.KeyPhrase
	ProcessingTimeMS  int64

	Chunks []chunkRow `gorm:"foreignKey:DocumentID;references:DocumentID;constraint:OnDelete:CASCADE"`
}

func (documentRow) TableName() string { return "documents" }

// chunkRow mirrors model.Chunk. The composite key (document_id, chunk_index)
// is what embeddingRow's composite foreign key references.
type chunkRow struct {
	DocumentID       string `gorm:"primaryKey"`
	ChunkIndex       int    `gorm:"primaryKey;column:chunk_index"`
	Content          string `gorm:"type:text"`
	StartOffset      int
	EndOffset        int
	TokenCount       int
	ExtractionParams string `gorm:"type:text"` // JSON-encoded model.ExtractionParams
	KeyPhrases       string `gorm:"type:text"` // JSON-encoded []model.KeyPhrase
	ReadabilityScore float64

	Embedding *embeddingRow `gorm:"foreignKey:DocumentID,ChunkIndex;references:DocumentID,ChunkIndex;constraint:OnDelete:CASCADE"`
}

func (chunkRow) TableName() string { return "chunks" }

// embeddingRow mirrors model.Embedding, one row per chunk (spec.md §8: a
// chunk always has exactly zero or one embedding).
type embeddingRow struct {
	DocumentID string `gorm:"primaryKey"`
	ChunkIndex int    `gorm:"primaryKey;column:chunk_index"`
	Vector     []byte `gorm:"type:blob"`
	ModelID    string
}

func (embeddingRow) TableName() string { return "embeddings" }

// fileStateRow mirrors model.FileState, satisfying internal/filestate.Store.
type fileStateRow struct {
	FilePath        string `gorm:"primaryKey;column:file_path"`
	ContentHash     string
	ProcessingState string
	AttemptCount    int
	LastAttemptTS   time.Time
	LastError       string
	Corrupted       bool
	ChunkCount      int
}

func (fileStateRow) TableName() string { return "file_states" }

// chunkKey is the in-memory counterpart of (document_id, chunk_index), used
// to key the vector search cache.
type chunkKey struct {
	DocumentID string
	ChunkIndex int
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func keyPhrasesToJSON(kps []model.KeyPhrase) string {
	if len(kps) == 0 {
		return ""
	}
	b, err := json.Marshal(kps)
	if err != nil {
		return ""
	}
	return string(b)
}

func keyPhrasesFromJSON(s string) []model.KeyPhrase {
	if s == "" {
		return nil
	}
	var out []model.KeyPhrase
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func extractionParamsToJSON(p model.ExtractionParams) string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func extractionParamsFromJSON(s string) model.ExtractionParams {
	var p model.ExtractionParams
	if s == "" {
		return p
	}
	_ = json.Unmarshal([]byte(s), &p)
	return p
}

func toDocumentRow(d model.Document) documentRow {
	return documentRow{
		DocumentID:        d.DocumentID,
		FileType:          d.FileType,
		Size:              d.Size,
		Created:           d.Created,
		Modified:          d.Modified,
		Title:             d.Title,
		Author:            d.Author,
		PageCount:         d.PageCount,
		SlideCount:        d.SlideCount,
		SheetCount:        d.SheetCount,
		DocumentEmbedding: encodeVector(d.DocumentEmbedding),
		DocumentKeywords:  keyPhrasesToJSON(d.DocumentKeywords),
		ProcessingTimeMS:  d.ProcessingTimeMS,
	}
}

func fromDocumentRow(r documentRow) model.Document {
	return model.Document{
		DocumentID:        r.DocumentID,
		FileType:          r.FileType,
		Size:              r.Size,
		Created:           r.Created,
		Modified:          r.Modified,
		Title:             r.Title,
		Author:            r.Author,
		PageCount:         r.PageCount,
		SlideCount:        r.SlideCount,
		SheetCount:        r.SheetCount,
		DocumentEmbedding: decodeVector(r.DocumentEmbedding),
		DocumentKeywords:  keyPhrasesFromJSON(r.DocumentKeywords),
		ProcessingTimeMS:  r.ProcessingTimeMS,
	}
}

func toChunkRow(documentID string, c model.Chunk) chunkRow {
	return chunkRow{
		DocumentID:       documentID,
		ChunkIndex:       c.Index,
		Content:          c.Content,
		StartOffset:      c.StartOffset,
		EndOffset:        c.EndOffset,
		TokenCount:       c.TokenCount,
		ExtractionParams: extractionParamsToJSON(c.ExtractionParams),
		KeyPhrases:       keyPhrasesToJSON(c.KeyPhrases),
		ReadabilityScore: c.ReadabilityScore,
	}
}

func fromChunkRow(r chunkRow) model.Chunk {
	return model.Chunk{
		DocumentID:       r.DocumentID,
		Index:            r.ChunkIndex,
		Content:          r.Content,
		StartOffset:      r.StartOffset,
		EndOffset:        r.EndOffset,
		TokenCount:       r.TokenCount,
		ExtractionParams: extractionParamsFromJSON(r.ExtractionParams),
		KeyPhrases:       keyPhrasesFromJSON(r.KeyPhrases),
		ReadabilityScore: r.ReadabilityScore,
	}
}

func toFileStateRow(s model.FileState) fileStateRow {
	return fileStateRow{
		FilePath:        s.FilePath,
		ContentHash:     s.ContentHash,
		ProcessingState: string(s.ProcessingState),
		AttemptCount:    s.AttemptCount,
		LastAttemptTS:   s.LastAttemptTS,
		LastError:       s.LastError,
		Corrupted:       s.Corrupted,
		ChunkCount:      s.ChunkCount,
	}
}

func fromFileStateRow(r fileStateRow) model.FileState {
	return model.FileState{
		FilePath:        r.FilePath,
		ContentHash:     r.ContentHash,
		ProcessingState: model.ProcessingState(r.ProcessingState),
		AttemptCount:    r.AttemptCount,
		LastAttemptTS:   r.LastAttemptTS,
		LastError:       r.LastError,
		Corrupted:       r.Corrupted,
		ChunkCount:      r.ChunkCount,
	}
}
