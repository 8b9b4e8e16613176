package store

import (
	"math"
	"sort"

	"github.com/viterin/vek/vek32"

	"github.com/semindex/semindex/internal/errs"
	"github.com/semindex/semindex/internal/model"
)

// vectorEngine is the pluggable brute-force/approximate search backend,
// grounded on the teacher's `VectorSearchEngine` interface (currently only
// a brute-force implementation ships, matching the teacher's default).
type vectorEngine interface {
	search(cache map[chunkKey][]float32, query []float32, limit int) []scoredChunk
}

type scoredChunk struct {
	key        chunkKey
	similarity float64
}

type bruteForceEngine struct{}

func newBruteForceEngine() vectorEngine { return bruteForceEngine{} }

func (bruteForceEngine) search(cache map[chunkKey][]float32, query []float32, limit int) []scoredChunk {
	scored := make([]scoredChunk, 0, len(cache))
	for key, vec := range cache {
		if len(vec) != len(query) {
			continue
		}
		scored = append(scored, scoredChunk{key: key, similarity: cosineSim(query, vec)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].similarity > scored[j].similarity })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func cosineSim(a, b []float32) float64 {
	dot := vek32.Dot(a, b)
	normA := math.Sqrt(float64(vek32.Dot(a, a)))
	normB := math.Sqrt(float64(vek32.Dot(b, b)))
	if normA == 0 || normB == 0 {
		return 0
	}
	return float64(dot) / (normA * normB)
}

// SimilarChunk is one scored hit returned by Search, carrying enough of the
// chunk to render a result without a second round-trip.
type SimilarChunk struct {
	DocumentID string
	ChunkIndex int
	Content    string
	Location   model.ExtractionParams
	Similarity float64
}

// Search runs a vector similarity search over every chunk embedding in the
// store, grounded on the teacher's `BruteForceVectorEngine.Search` (cache
// lookup, cosine scoring, sort, limit, hydrate full rows for the winners).
func (s *Store) Search(query []float32, limit int) ([]SimilarChunk, error) {
	cache, err := s.vectorCacheSnapshot()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	scored := engine.search(cache, query, limit)
	if len(scored) == 0 {
		return []SimilarChunk{}, nil
	}

	results := make([]SimilarChunk, 0, len(scored))
	for _, sc := range scored {
		var row chunkRow
		if err := s.db.Where("document_id = ? AND chunk_index = ?", sc.key.DocumentID, sc.key.ChunkIndex).
			First(&row).Error; err != nil {
			continue
		}
		results = append(results, SimilarChunk{
			DocumentID: row.DocumentID,
			ChunkIndex: row.ChunkIndex,
			Content:    row.Content,
			Location:   extractionParamsFromJSON(row.ExtractionParams),
			Similarity: sc.similarity,
		})
	}
	return results, nil
}

// vectorCacheSnapshot lazily loads every embedding into memory once per
// invalidation cycle, mirroring the teacher's `getVectorCache` memoization.
func (s *Store) vectorCacheSnapshot() (map[chunkKey][]float32, error) {
	s.mu.RLock()
	if s.cacheLoaded {
		defer s.mu.RUnlock()
		return s.vectorCache, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cacheLoaded {
		return s.vectorCache, nil
	}

	var rows []embeddingRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errs.NewStorageError("vector_cache", err)
	}
	cache := make(map[chunkKey][]float32, len(rows))
	for _, r := range rows {
		cache[chunkKey{DocumentID: r.DocumentID, ChunkIndex: r.ChunkIndex}] = decodeVector(r.Vector)
	}
	s.vectorCache = cache
	s.cacheLoaded = true
	return cache, nil
}
