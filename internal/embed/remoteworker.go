package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/semindex/semindex/internal/errs"
	"github.com/semindex/semindex/internal/model"
)

// RemoteWorkerConfig configures the gpu/python back-end: a co-located HTTP
// worker process serving batched embeddings and, optionally, keyphrases.
type RemoteWorkerConfig struct {
	ModelID            string
	BaseURL            string
	ModelName          string
	Timeout            time.Duration
	MaxConcurrency     int
	SupportsKeyphrases bool
	Dimensions         int
	ContextWindow      int
}

// RemoteWorkerService implements Service over HTTP JSON, grounded on the
// teacher's `pkg/ai/ollama.go` OllamaProvider (request/response shape,
// bounded-concurrency batch fan-out, health-check validation).
type RemoteWorkerService struct {
	cfg        RemoteWorkerConfig
	httpClient *http.Client

	mu          sync.Mutex
	initialized bool
}

func NewRemoteWorkerService(cfg RemoteWorkerConfig) *RemoteWorkerService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	return &RemoteWorkerService{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *RemoteWorkerService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/health", nil)
	if err != nil {
		return errs.NewEmbeddingError("initialize", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errs.NewEmbeddingError("initialize", fmt.Errorf("cannot reach worker at %s: %w", s.cfg.BaseURL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.NewEmbeddingError("initialize", fmt.Errorf("worker health check returned status %d", resp.StatusCode))
	}
	s.initialized = true
	return nil
}

func (s *RemoteWorkerService) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *RemoteWorkerService) ServiceType() model.ServiceKind { return model.ServiceRemoteWorker }
func (s *RemoteWorkerService) Dimensions() int                { return s.cfg.Dimensions }
func (s *RemoteWorkerService) CanExtractKeyphrases() bool     { return s.cfg.SupportsKeyphrases }

func (s *RemoteWorkerService) ContextWindow() int {
	if s.cfg.ContextWindow > 0 {
		return s.cfg.ContextWindow
	}
	return LookupContextWindow(s.cfg.ModelName)
}

func (s *RemoteWorkerService) CalculateSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

func (s *RemoteWorkerService) GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	results, err := s.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errs.NewEmbeddingError("generate_query_embedding", fmt.Errorf("empty result"))
	}
	return results[0].Vector, nil
}

type embedWorkerRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedWorkerResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// GenerateEmbeddings fans out one HTTP call per text, bounded by
// MaxConcurrency, matching the teacher's GenerateEmbeddingsBatch
// (Ollama has no native batch endpoint). A per-text failure produces only
// the successful subset plus the first error (spec.md §4.6: "all-or-partial").
func (s *RemoteWorkerService) GenerateEmbeddings(ctx context.Context, texts []string) ([]Result, error) {
	if !s.IsInitialized() {
		return nil, errs.NewEmbeddingError("generate_embeddings", fmt.Errorf("back-end not initialized"))
	}
	now := time.Now()
	results := make([]Result, len(texts))
	errsCh := make(chan error, len(texts))
	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for i, text := range texts {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, txt string) {
			defer wg.Done()
			defer func() { <-sem }()
			vec, err := s.embedOne(ctx, txt)
			if err != nil {
				errsCh <- fmt.Errorf("index %d: %w", idx, err)
				return
			}
			results[idx] = Result{Index: idx, Vector: vec, Dim: len(vec), ModelID: s.cfg.ModelID, CreatedAt: now}
		}(i, text)
	}
	wg.Wait()
	close(errsCh)

	var firstErr error
	for err := range errsCh {
		if firstErr == nil {
			firstErr = err
		}
	}

	successful := results[:0]
	for _, r := range results {
		if r.Vector != nil {
			successful = append(successful, r)
		}
	}
	return successful, wrapPartial(firstErr, len(successful), len(texts))
}

func wrapPartial(err error, got, want int) error {
	if err == nil || got == want {
		return nil
	}
	return errs.NewEmbeddingError("generate_embeddings", fmt.Errorf("partial batch: %d/%d succeeded: %w", got, want, err))
}

func (s *RemoteWorkerService) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedWorkerRequest{Model: s.cfg.ModelName, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embedWorkerResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return parsed.Embedding, nil
}

type keyphraseWorkerRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type keyphraseWorkerResponse struct {
	Keyphrases [][]model.KeyPhrase `json:"keyphrases"`
}

// ExtractKeyphrases satisfies internal/semantic.KeyphraseBackend
// structurally when SupportsKeyphrases is set, implementing the
// "co-resident model strategy" (spec.md §4.4 stage 3).
func (s *RemoteWorkerService) ExtractKeyphrases(ctx context.Context, texts []string) ([][]model.KeyPhrase, error) {
	if !s.cfg.SupportsKeyphrases {
		return nil, errs.NewSemanticError("extract_keyphrases", fmt.Errorf("worker does not support keyphrases"))
	}
	body, err := json.Marshal(keyphraseWorkerRequest{Model: s.cfg.ModelName, Texts: texts})
	if err != nil {
		return nil, errs.NewSemanticError("extract_keyphrases", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/keyphrases", bytes.NewReader(body))
	if err != nil {
		return nil, errs.NewSemanticError("extract_keyphrases", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewSemanticError("extract_keyphrases", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewSemanticError("extract_keyphrases", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.NewSemanticError("extract_keyphrases", fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed keyphraseWorkerResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errs.NewSemanticError("extract_keyphrases", err)
	}
	return parsed.Keyphrases, nil
}

func (s *RemoteWorkerService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return nil
}
