// Package query implements the query path (spec.md §4.8) and the external
// query API surface (spec.md §6): search, list_folders, list_documents,
// document_outline, document_data, sheet_data, slides, pages, embedding,
// wrapped in the standardized {data, status, continuation} envelope. New
// logic directly from the specification: none of the examples expose a
// folder-scoped semantic query surface, so the envelope and pagination
// shapes are original, built from Go idioms the corpus already uses
// elsewhere (struct-typed JSON responses, stdlib encoding/json).
package query

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/store"
)

// Status codes for the envelope (spec.md §6).
const (
	CodeSuccess        = "success"
	CodePartialSuccess = "partial_success"
	CodeError          = "error"
)

// Status accompanies every Envelope.
type Status struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Continuation carries token-based pagination state.
type Continuation struct {
	HasMore bool   `json:"has_more"`
	Token   string `json:"token,omitempty"`
}

// Envelope is the standardized response shape for every query operation.
type Envelope struct {
	Data         interface{}  `json:"data"`
	Status       Status       `json:"status"`
	Continuation Continuation `json:"continuation"`
}

func ok(data interface{}, cont Continuation) Envelope {
	return Envelope{Data: data, Status: Status{Code: CodeSuccess}, Continuation: cont}
}

func errEnvelope(err error) Envelope {
	return Envelope{Data: nil, Status: Status{Code: CodeError, Message: err.Error()}}
}

// cursor opaquely encodes {document_id, offset} into a pagination token
// (spec.md §6). DocumentID is carried for forward-compatibility with
// per-document result ordering; the flat ranked result lists this package
// returns today only need Offset to resume (see DESIGN.md Open Question).
type cursor struct {
	DocumentID string `json:"document_id,omitempty"`
	Offset     int    `json:"offset"`
}

func encodeCursor(c cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(token string) (cursor, error) {
	if token == "" {
		return cursor{}, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("query: invalid continuation token: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return cursor{}, fmt.Errorf("query: invalid continuation token: %w", err)
	}
	return c, nil
}

// Options configures one search call.
type Options struct {
	TopK              int
	Threshold         float64
	FileTypeFilter    string
	PathPrefixFilter  string
	MaxTokens         int
	ContinuationToken string
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = o.TopK
	}
	return o
}

// Store is the persistence contract the query path needs from one folder's
// embedded store.
type Store interface {
	Search(query []float32, limit int) ([]store.SimilarChunk, error)
	GetDocument(documentID string) (*model.Document, bool, error)
	ListDocuments() ([]model.Document, error)
	ListChunks(documentID string) ([]model.Chunk, error)
}

// Embedder is the subset of embed.Service the query path needs to embed
// query text with the same model that produced the folder's vectors.
type Embedder interface {
	GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Service answers queries against one folder's store.
type Service struct {
	FolderName string
	store      Store
	embedder   Embedder
}

func New(folderName string, st Store, embedder Embedder) *Service {
	return &Service{FolderName: folderName, store: st, embedder: embedder}
}

// Search implements spec.md §4.8 search(query_text, options) for one
// folder: embed, vector-search, filter, hydrate, paginate.
func (s *Service) Search(ctx context.Context, queryText string, opts Options) Envelope {
	start := time.Now()
	opts = opts.withDefaults()

	vec, err := s.embedder.GenerateQueryEmbedding(ctx, queryText)
	if err != nil {
		return errEnvelope(fmt.Errorf("embed query: %w", err))
	}

	// Overfetch so post-hoc filtering (file-type/path-prefix) still leaves
	// enough candidates to satisfy TopK where possible.
	raw, err := s.store.Search(vec, opts.TopK*4+opts.MaxTokens)
	if err != nil {
		return errEnvelope(fmt.Errorf("vector search: %w", err))
	}

	docCache := map[string]*model.Document{}
	results := make([]model.SearchResult, 0, len(raw))
	for _, hit := range raw {
		if hit.Similarity < opts.Threshold {
			continue
		}
		if opts.PathPrefixFilter != "" && !strings.HasPrefix(hit.DocumentID, opts.PathPrefixFilter) {
			continue
		}
		if opts.FileTypeFilter != "" {
			doc, ok := docCache[hit.DocumentID]
			if !ok {
				d, found, err := s.store.GetDocument(hit.DocumentID)
				if err == nil && found {
					doc = d
				}
				docCache[hit.DocumentID] = doc
			}
			if doc == nil || doc.FileType != opts.FileTypeFilter {
				continue
			}
		}
		results = append(results, model.SearchResult{
			DocumentID: hit.DocumentID,
			ChunkID:    model.ChunkID{DocumentID: hit.DocumentID, Index: hit.ChunkIndex},
			Content:    hit.Content,
			Score:      hit.Similarity,
			Location:   hit.Location,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	cur, err := decodeCursor(opts.ContinuationToken)
	if err != nil {
		return errEnvelope(err)
	}
	offset := cur.Offset
	if offset > len(results) {
		offset = len(results)
	}
	end := offset + opts.MaxTokens
	hasMore := end < len(results)
	if end > len(results) {
		end = len(results)
	}
	page := results[offset:end]

	cont := Continuation{HasMore: hasMore}
	if hasMore {
		cont.Token = encodeCursor(cursor{Offset: end})
	}

	resp := model.SearchResponse{
		Results:          page,
		Total:            len(results),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Pagination:       model.Pagination{Count: len(page), HasMore: hasMore, NextOffset: end},
	}
	return ok(resp, cont)
}

// ListDocuments implements list_documents(folder).
func (s *Service) ListDocuments() Envelope {
	docs, err := s.store.ListDocuments()
	if err != nil {
		return errEnvelope(fmt.Errorf("list documents: %w", err))
	}
	return ok(docs, Continuation{})
}

// DocumentOutline implements document_outline(document_id): the ordered
// list of distinct section/heading labels a document's chunks carry.
func (s *Service) DocumentOutline(documentID string) Envelope {
	chunks, err := s.store.ListChunks(documentID)
	if err != nil {
		return errEnvelope(fmt.Errorf("document outline: %w", err))
	}
	seen := map[string]bool{}
	var outline []string
	for _, c := range chunks {
		label := c.ExtractionParams.Section
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		outline = append(outline, label)
	}
	return ok(outline, Continuation{})
}

// DataFormat selects the projection document_data returns.
type DataFormat string

const (
	FormatRaw      DataFormat = "raw"
	FormatChunks   DataFormat = "chunks"
	FormatMetadata DataFormat = "metadata"
)

// DocumentData implements document_data(document_id, {format}).
func (s *Service) DocumentData(documentID string, format DataFormat) Envelope {
	doc, found, err := s.store.GetDocument(documentID)
	if err != nil {
		return errEnvelope(fmt.Errorf("document data: %w", err))
	}
	if !found {
		return errEnvelope(fmt.Errorf("document not found: %s", documentID))
	}

	switch format {
	case FormatMetadata, "":
		return ok(doc, Continuation{})
	case FormatChunks:
		chunks, err := s.store.ListChunks(documentID)
		if err != nil {
			return errEnvelope(fmt.Errorf("document data: %w", err))
		}
		return ok(chunks, Continuation{})
	case FormatRaw:
		chunks, err := s.store.ListChunks(documentID)
		if err != nil {
			return errEnvelope(fmt.Errorf("document data: %w", err))
		}
		var sb strings.Builder
		for i, c := range chunks {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(c.Content)
		}
		return ok(sb.String(), Continuation{})
	default:
		return errEnvelope(fmt.Errorf("unknown document data format: %s", format))
	}
}

// SheetData implements sheet_data: chunks belonging to one spreadsheet
// sheet, in row order.
func (s *Service) SheetData(documentID, sheetName string) Envelope {
	chunks, err := s.store.ListChunks(documentID)
	if err != nil {
		return errEnvelope(fmt.Errorf("sheet data: %w", err))
	}
	var filtered []model.Chunk
	for _, c := range chunks {
		if c.ExtractionParams.Sheet == sheetName {
			filtered = append(filtered, c)
		}
	}
	return ok(filtered, Continuation{})
}

// Slides implements slides: chunks grouped by slide number.
func (s *Service) Slides(documentID string) Envelope {
	chunks, err := s.store.ListChunks(documentID)
	if err != nil {
		return errEnvelope(fmt.Errorf("slides: %w", err))
	}
	grouped := map[int][]model.Chunk{}
	for _, c := range chunks {
		grouped[c.ExtractionParams.Slide] = append(grouped[c.ExtractionParams.Slide], c)
	}
	return ok(grouped, Continuation{})
}

// Pages implements pages: chunks grouped by page number.
func (s *Service) Pages(documentID string) Envelope {
	chunks, err := s.store.ListChunks(documentID)
	if err != nil {
		return errEnvelope(fmt.Errorf("pages: %w", err))
	}
	grouped := map[int][]model.Chunk{}
	for _, c := range chunks {
		grouped[c.ExtractionParams.Page] = append(grouped[c.ExtractionParams.Page], c)
	}
	return ok(grouped, Continuation{})
}

// Embedding implements embedding(text): the raw query-time vector for
// debugging/inspection, using the same back-end this folder indexed with.
func (s *Service) Embedding(ctx context.Context, text string) Envelope {
	vec, err := s.embedder.GenerateQueryEmbedding(ctx, text)
	if err != nil {
		return errEnvelope(fmt.Errorf("embedding: %w", err))
	}
	return ok(vec, Continuation{})
}

// Router fans a query out across multiple folder Services and merges
// results by score (spec.md §4.8 "Multi-folder search").
type Router struct {
	services map[string]*Service
}

func NewRouter() *Router {
	return &Router{services: make(map[string]*Service)}
}

func (r *Router) Register(svc *Service) {
	r.services[svc.FolderName] = svc
}

// ListFolders implements list_folders.
func (r *Router) ListFolders() Envelope {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return ok(names, Continuation{})
}

// Search fans a query out across every registered folder (or only
// folderNames, if non-empty), merging hits by score and re-applying the
// MaxTokens page size across the merged set.
func (r *Router) Search(ctx context.Context, queryText string, opts Options, folderNames ...string) Envelope {
	targets := r.services
	if len(folderNames) > 0 {
		targets = make(map[string]*Service, len(folderNames))
		for _, name := range folderNames {
			if svc, ok := r.services[name]; ok {
				targets[name] = svc
			}
		}
	}

	perFolderOpts := opts
	perFolderOpts.ContinuationToken = ""
	opts = opts.withDefaults()

	var merged []model.SearchResult
	var errs []string
	for _, svc := range targets {
		env := svc.Search(ctx, queryText, perFolderOpts)
		if env.Status.Code == CodeError {
			errs = append(errs, fmt.Sprintf("%s: %s", svc.FolderName, env.Status.Message))
			continue
		}
		resp, ok := env.Data.(model.SearchResponse)
		if !ok {
			continue
		}
		merged = append(merged, resp.Results...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })

	start, err := decodeCursor(opts.ContinuationToken)
	if err != nil {
		return errEnvelope(err)
	}
	offset := start.Offset
	if offset > len(merged) {
		offset = len(merged)
	}
	end := offset + opts.MaxTokens
	hasMore := end < len(merged)
	if end > len(merged) {
		end = len(merged)
	}
	page := merged[offset:end]

	cont := Continuation{HasMore: hasMore}
	if hasMore {
		cont.Token = encodeCursor(cursor{Offset: end})
	}

	status := Status{Code: CodeSuccess}
	if len(errs) > 0 {
		status = Status{Code: CodePartialSuccess, Message: strings.Join(errs, "; ")}
	}

	return Envelope{
		Data: model.SearchResponse{
			Results:    page,
			Total:      len(merged),
			Pagination: model.Pagination{Count: len(page), HasMore: hasMore, NextOffset: end},
		},
		Status:       status,
		Continuation: cont,
	}
}
