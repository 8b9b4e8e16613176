// Package embed implements the Embedding Service Abstraction (spec.md
// §4.6): a back-end-agnostic interface over local (ONNX Runtime) and
// remote (HTTP worker) embedding providers, plus a model-keyed registry
// that coalesces concurrent first-use initialization into a single
// in-flight creation.
package embed

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/semindex/semindex/internal/model"
	"github.com/viterin/vek/vek32"
)

// Result is one embedding vector produced by GenerateEmbeddings, carrying
// enough metadata to persist directly (spec.md §4.6:
// "generate_embeddings(chunks) -> [{vector, dim, model, created_at}]").
type Result struct {
	// Index is the position of this result within the texts slice passed
	// to GenerateEmbeddings, preserved across partial-batch failures so
	// callers can realign a short result slice against its input chunks.
	Index     int
	Vector    []float32
	Dim       int
	ModelID   string
	CreatedAt time.Time
}

// Service is the embedding back-end contract. Every back-end declares its
// keyphrase capability statically (spec.md §9 Open Question 1) rather than
// being probed via reflection.
type Service interface {
	Initialize(ctx context.Context) error
	IsInitialized() bool
	GenerateEmbeddings(ctx context.Context, texts []string) ([]Result, error)
	GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error)
	CalculateSimilarity(a, b []float32) float64
	ServiceType() model.ServiceKind
	Dimensions() int
	// ContextWindow reports the model's token context window, used by
	// internal/chunker to size chunks (spec.md §4.4 stage 2).
	ContextWindow() int
	CanExtractKeyphrases() bool
	Close() error
}

// knownContextWindows covers the embedding models this pack is grounded
// on; unrecognized model names fall back to a conservative default,
// generalizing the teacher's `getKnownModelDimension` lookup table from
// output dimension to context window.
var knownContextWindows = map[string]int{
	"bge-small-en-v1.5": 512,
	"bge-base-en-v1.5":  512,
	"bge-large-en-v1.5": 512,
	"nomic-embed-text":  8192,
	"mxbai-embed-large": 512,
	"all-minilm":        256,
	"e5-large":          512,
	"e5-small":          512,
}

const defaultContextWindow = 512

// LookupContextWindow resolves modelName's context window from the known
// table, stripping any ":tag" suffix first.
func LookupContextWindow(modelName string) int {
	if w, ok := knownContextWindows[modelName]; ok {
		return w
	}
	if idx := strings.Index(modelName, ":"); idx > 0 {
		if w, ok := knownContextWindows[modelName[:idx]]; ok {
			return w
		}
	}
	return defaultContextWindow
}

// ParseModelID splits a "provider:model-name" id and validates the
// provider against the two supported kinds (spec.md §4.6).
func ParseModelID(id string) (provider, name string, err error) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("invalid model id %q: expected provider:model-name", id)
	}
	provider, name = id[:idx], id[idx+1:]
	switch provider {
	case "cpu/onnx", "gpu/python":
	default:
		return "", "", fmt.Errorf("unknown embedding provider %q", provider)
	}
	return provider, name, nil
}

// cosineSimilarity is shared by both back-ends' CalculateSimilarity.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	a, b = a[:n], b[:n]
	dot := vek32.Dot(a, b)
	normA := math.Sqrt(float64(vek32.Dot(a, a)))
	normB := math.Sqrt(float64(vek32.Dot(b, b)))
	if normA == 0 || normB == 0 {
		return 0
	}
	return float64(dot) / (normA * normB)
}

// Factory builds an uninitialized Service for a fully-qualified model id.
type Factory func(modelID string) (Service, error)

type registryEntry struct {
	ready chan struct{}
	svc   Service
	err   error
}

// Registry caches one Service instance per model id, coalescing concurrent
// first-calls into a single in-flight creation (spec.md §4.6: "a model-keyed
// cache returns a shared instance per id; concurrent first-calls await a
// single in-flight creation future"). Grounded on the teacher's
// `database.Manager` `sync.Once`-gated singleton, generalized from one
// global instance to one per model id.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	entries map[string]*registryEntry
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, entries: make(map[string]*registryEntry)}
}

// Get returns the shared Service for modelID, creating and initializing it
// on first use.
func (r *Registry) Get(ctx context.Context, modelID string) (Service, error) {
	r.mu.Lock()
	entry, ok := r.entries[modelID]
	if ok {
		r.mu.Unlock()
		select {
		case <-entry.ready:
			return entry.svc, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry = &registryEntry{ready: make(chan struct{})}
	r.entries[modelID] = entry
	r.mu.Unlock()

	svc, err := r.factory(modelID)
	if err == nil {
		err = svc.Initialize(ctx)
	}
	entry.svc, entry.err = svc, err
	close(entry.ready)
	if err != nil {
		r.mu.Lock()
		delete(r.entries, modelID)
		r.mu.Unlock()
	}
	return svc, err
}

// Close shuts down every cached service.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, entry := range r.entries {
		select {
		case <-entry.ready:
		default:
			continue
		}
		if entry.svc == nil {
			continue
		}
		if err := entry.svc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// embedTextsAdapter adapts a Service to the minimal EmbedTexts(ctx, texts)
// shape internal/semantic needs, without internal/embed importing
// internal/semantic (Go interfaces satisfy structurally).
type embedTextsAdapter struct{ svc Service }

func AsEmbedder(svc Service) interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
} {
	return embedTextsAdapter{svc: svc}
}

func (a embedTextsAdapter) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	results, err := a.svc.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(results))
	for i, r := range results {
		vecs[i] = r.Vector
	}
	return vecs, nil
}
