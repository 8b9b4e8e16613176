// Package pipeline drives the six-stage per-file indexing pipeline
// (spec.md §4.4): parse, chunk, extract, embed, aggregate, persist.
// Grounded on the teacher's `pkg/indexing/pipeline.go` IndexingPipeline
// (job struct, fallback-on-failure cascade, progress counters), generalized
// from a Markdown-only note indexer to the format-aware parse→chunk→
// semantic→embed pipeline this spec requires.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/semindex/semindex/internal/chunker"
	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/errs"
	"github.com/semindex/semindex/internal/filestate"
	"github.com/semindex/semindex/internal/fingerprint"
	"github.com/semindex/semindex/internal/logger"
	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/parser"
	"github.com/semindex/semindex/internal/semantic"
	"github.com/semindex/semindex/internal/store"
)

// Store is the persistence contract one file pipeline run needs. Satisfied
// structurally by *internal/store.Store.
type Store interface {
	WriteDocument(w store.DocumentWrite) error
}

// ProgressFunc receives (total_chunks, processed_chunks) at each stage
// boundary (spec.md §4.4: "the pipeline reports (total_chunks,
// processed_chunks) at each stage boundary").
type ProgressFunc func(totalChunks, processedChunks int)

// Options configures one Pipeline instance. Chunking/semantic sub-options
// mirror internal/chunker.Options and internal/semantic.Options so the
// daemon's config package can populate them directly.
type Options struct {
	OverlapFraction float64
	MinChunkChars   int
	EmbedBatchSize  int
	Semantic        semantic.Options

	// ThrottleCheck, when set, is consulted once per file before its chunks
	// are split into embed batches. A true result shrinks the effective
	// batch size for that file (spec.md §4.1: "the
	// manager emits a Throttled event that pipelines consume to shrink
	// effective batch size").
	ThrottleCheck func() bool
}

func (o Options) withDefaults() Options {
	if o.OverlapFraction <= 0 {
		o.OverlapFraction = 0.1
	}
	if o.MinChunkChars <= 0 {
		o.MinChunkChars = 500
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = 10
	}
	return o
}

// Pipeline runs the per-file indexing pipeline against one embedding
// service, one store, and the file-state machine guarding it.
type Pipeline struct {
	embedder embed.Service
	store    Store
	fsm      *filestate.Machine
	opts     Options
}

func New(embedder embed.Service, st Store, fsm *filestate.Machine, opts Options) *Pipeline {
	return &Pipeline{embedder: embedder, store: st, fsm: fsm, opts: opts.withDefaults()}
}

// Result summarizes one file run for the caller (scheduler/CLI reporting).
type Result struct {
	DocumentID string
	ChunkCount int
	Skipped    bool
	Err        error
}

// Run executes the full per-file pipeline: parse, chunk, extract, embed,
// aggregate, persist — transitioning file-state at each boundary and
// reporting progress via onProgress (may be nil).
func (p *Pipeline) Run(ctx context.Context, folderRoot, relPath string, onProgress ProgressFunc) Result {
	start := time.Now()
	res := Result{DocumentID: relPath}

	absPath := filepath.Join(folderRoot, relPath)
	data, err := os.ReadFile(absPath)
	if err != nil {
		res.Err = p.fail(relPath, "", fmt.Sprintf("read file: %v", err), false)
		return res
	}
	hash, err := fingerprint.HashBytes(data)
	if err != nil {
		res.Err = p.fail(relPath, "", fmt.Sprintf("hash file: %v", err), false)
		return res
	}

	if err := p.fsm.StartProcessing(relPath, hash); err != nil {
		res.Err = fmt.Errorf("pipeline: start processing %s: %w", relPath, err)
		return res
	}

	parsed, err := parser.Parse(relPath, data)
	if err != nil {
		corrupted := false
		var parseErr *errs.ParseError
		if errors.As(err, &parseErr) {
			corrupted = parseErr.Corrupted
		}
		res.Err = p.fail(relPath, hash, fmt.Sprintf("parse: %v", err), corrupted)
		return res
	}

	chunks := chunker.Chunk(parsed.Regions, chunker.Options{
		ContextWindow:   p.embedder.ContextWindow(),
		OverlapFraction: p.opts.OverlapFraction,
		MinChunkChars:   p.opts.MinChunkChars,
	})
	for i := range chunks {
		chunks[i].DocumentID = relPath
	}
	totalChunks := len(chunks)
	if onProgress != nil {
		onProgress(totalChunks, 0)
	}
	if totalChunks == 0 {
		res.Err = p.fail(relPath, hash, "no chunks produced", false)
		return res
	}

	extractor := semantic.New(asKeyphraseBackend(p.embedder), embed.AsEmbedder(p.embedder), semantic.Capabilities{
		CanExtractKeyphrases: p.embedder.CanExtractKeyphrases(),
	}, p.opts.Semantic)

	var stageErr error
	var embeddings []model.Embedding
	var chunkVectors [][]float32

	if p.embedder.CanExtractKeyphrases() {
		// Keyphrases-first: extract, then embed (spec.md §4.4 stage 4).
		chunks, stageErr = p.runSemantic(ctx, extractor, chunks, nil)
		if stageErr == nil {
			embeddings, chunkVectors, stageErr = p.runEmbed(ctx, chunks)
		}
		reportKeyphrasesFirst(onProgress, totalChunks, stageErr == nil)
	} else {
		// Embeddings-first: embed, cache the vectors, reuse for extraction.
		embeddings, chunkVectors, stageErr = p.runEmbed(ctx, chunks)
		if onProgress != nil {
			onProgress(totalChunks, totalChunks/2)
		}
		if stageErr == nil {
			chunks, stageErr = p.runSemantic(ctx, extractor, chunks, chunkVectors)
		}
		if onProgress != nil {
			onProgress(totalChunks, totalChunks*8/10)
		}
	}
	if stageErr != nil {
		res.Err = p.fail(relPath, hash, fmt.Sprintf("stage failure: %v", stageErr), false)
		return res
	}
	if len(embeddings) < len(chunks) {
		// A partial embed failure drops the unembedded chunks so every
		// persisted chunk has exactly one embedding.
		embedded := make(map[int]bool, len(embeddings))
		for _, e := range embeddings {
			embedded[e.ChunkID.Index] = true
		}
		kept := make([]model.Chunk, 0, len(embeddings))
		for _, c := range chunks {
			if embedded[c.Index] {
				kept = append(kept, c)
			}
		}
		chunks = kept
	}

	doc := p.aggregate(relPath, parsed, chunks, chunkVectors, extractor, time.Since(start))

	successState, err := p.fsm.BuildSuccessState(relPath, hash, len(chunks))
	if err != nil {
		res.Err = fmt.Errorf("pipeline: build success state %s: %w", relPath, err)
		return res
	}

	// The file-state transition to INDEXED rides in the same transaction
	// as the document/chunk/embedding write (spec.md §4.7), not a
	// separate post-hoc call.
	if err := p.store.WriteDocument(store.DocumentWrite{Document: doc, Chunks: chunks, Embeddings: embeddings, FileState: successState}); err != nil {
		res.Err = p.fail(relPath, hash, fmt.Sprintf("persist: %v", err), false)
		return res
	}
	if onProgress != nil {
		onProgress(totalChunks, totalChunks)
	}

	res.ChunkCount = len(chunks)
	logInfo("indexed %s: %d chunks, %d embeddings", relPath, len(chunks), len(embeddings))
	return res
}

func reportKeyphrasesFirst(onProgress ProgressFunc, total int, embedOK bool) {
	if onProgress == nil {
		return
	}
	onProgress(total, total*4/10)
	if embedOK {
		onProgress(total, total)
	}
}

// effectiveBatchSize halves opts.EmbedBatchSize (floor 1) while
// opts.ThrottleCheck reports true, so an indexing run backs off embedding
// batch size instead of continuing to pressure memory during a throttle.
func (p *Pipeline) effectiveBatchSize() int {
	if p.opts.ThrottleCheck == nil || !p.opts.ThrottleCheck() {
		return p.opts.EmbedBatchSize
	}
	size := p.opts.EmbedBatchSize / 2
	if size < 1 {
		size = 1
	}
	return size
}

// runEmbed generates one embedding per chunk, batched per
// opts.EmbedBatchSize, and returns only the successfully-embedded subset;
// Run then persists only the chunks in that subset (spec.md §4.4 stage 4:
// partial batches preserve the 1:1 invariant).
func (p *Pipeline) runEmbed(ctx context.Context, chunks []model.Chunk) ([]model.Embedding, [][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings := make([]model.Embedding, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))

	batchSize := p.effectiveBatchSize()
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.embedder.GenerateEmbeddings(ctx, texts[i:end])
		if err != nil && len(batch) == 0 {
			logWarn("embed batch [%d:%d] failed entirely: %v", i, end, err)
			continue
		}
		if err != nil {
			logWarn("embed batch [%d:%d] partially failed: %v", i, end, err)
		}
		for _, r := range batch {
			chunkIdx := i + r.Index
			if chunkIdx < 0 || chunkIdx >= len(chunks) {
				continue
			}
			embeddings = append(embeddings, model.Embedding{
				ChunkID: model.ChunkID{DocumentID: chunks[chunkIdx].DocumentID, Index: chunks[chunkIdx].Index},
				Vector:  r.Vector,
				ModelID: r.ModelID,
			})
			vectors = append(vectors, r.Vector)
		}
	}
	if len(embeddings) == 0 {
		return nil, nil, fmt.Errorf("all embedding batches failed")
	}
	return embeddings, vectors, nil
}

// runSemantic fills KeyPhrases and ReadabilityScore on every chunk.
// chunkVectors may be nil when the keyphrases-first strategy hasn't
// embedded yet.
func (p *Pipeline) runSemantic(ctx context.Context, extractor *semantic.Extractor, chunks []model.Chunk, chunkVectors [][]float32) ([]model.Chunk, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	results, err := extractor.ExtractBatch(ctx, texts, chunkVectors)
	if err != nil {
		// Semantic extraction is an enhancement stage; a total failure
		// here still lets embedding/persist proceed with empty phrases.
		logWarn("semantic extraction failed for batch: %v", err)
		return chunks, nil
	}
	for i := range chunks {
		if i < len(results) {
			chunks[i].KeyPhrases = results[i].KeyPhrases
			chunks[i].ReadabilityScore = results[i].ReadabilityScore
		}
	}
	return chunks, nil
}

// aggregate produces the document-level record (spec.md §4.4 stage 5).
// Failures computing document keyphrases are logged and swallowed — this
// stage is an enhancement, never a reason to fail the whole file.
func (p *Pipeline) aggregate(documentID string, parsed parser.ParsedContent, chunks []model.Chunk, chunkVectors [][]float32, extractor *semantic.Extractor, elapsed time.Duration) model.Document {
	docEmbedding := semantic.MeanEmbedding(chunkVectors)

	var chunkPhrases [][]model.KeyPhrase
	for _, c := range chunks {
		chunkPhrases = append(chunkPhrases, c.KeyPhrases)
	}
	docKeywords := extractor.DocumentKeyphrases(context.Background(), chunkPhrases, docEmbedding)

	return model.Document{
		DocumentID:        documentID,
		FileType:          parsed.FileType,
		Title:             parsed.Title,
		Author:            parsed.Author,
		PageCount:         parsed.PageCount,
		SlideCount:        parsed.SlideCount,
		SheetCount:        parsed.SheetCount,
		DocumentEmbedding: docEmbedding,
		DocumentKeywords:  docKeywords,
		ProcessingTimeMS:  elapsed.Milliseconds(),
	}
}

func (p *Pipeline) fail(relPath, hash, reason string, corrupted bool) error {
	if err := p.fsm.MarkFailure(relPath, hash, reason, corrupted); err != nil {
		logWarn("mark failure for %s also failed: %v", relPath, err)
	}
	logWarn("%s: %s", relPath, reason)
	return fmt.Errorf("pipeline: %s: %s", relPath, reason)
}

// asKeyphraseBackend adapts an embed.Service to semantic.KeyphraseBackend
// when it declares the capability; structurally satisfied by
// *embed.RemoteWorkerService without internal/pipeline importing it
// directly.
func asKeyphraseBackend(svc embed.Service) semantic.KeyphraseBackend {
	if kb, ok := svc.(semantic.KeyphraseBackend); ok {
		return kb
	}
	return nil
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
