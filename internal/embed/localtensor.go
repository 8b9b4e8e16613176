package embed

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/semindex/semindex/internal/errs"
	"github.com/semindex/semindex/internal/model"
)

// LocalTensorConfig configures the cpu/onnx back-end: an ONNX Runtime
// session plus a HuggingFace tokenizer loaded from modelDir.
type LocalTensorConfig struct {
	ModelID       string
	ModelDir      string
	OrtLibPath    string
	NumThreads    int
	Dimensions    int
	ContextWindow int
	MaxSeqLen     int
	BatchSize     int
}

// LocalTensorService implements Service by embedding with an ONNX Runtime
// session + HuggingFace tokenizer, grounded verbatim on sift's
// `internal/embed.Embedder` (CLS pooling, L2 normalize, batched inference).
type LocalTensorService struct {
	cfg LocalTensorConfig

	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	tokenizer   *tokenizers.Tokenizer
	initialized bool
}

const (
	defaultLocalBatchSize = 4
	defaultMaxSeqLen      = 256

	// bgeQueryPrefix is prepended to query text only, per the BGE-small
	// asymmetric retrieval recommendation (not document chunks).
	bgeQueryPrefix = "Represent this sentence for searching relevant passages: "
)

func NewLocalTensorService(cfg LocalTensorConfig) *LocalTensorService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultLocalBatchSize
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = defaultMaxSeqLen
	}
	return &LocalTensorService{cfg: cfg}
}

func (s *LocalTensorService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	modelPath := filepath.Join(s.cfg.ModelDir, "model.onnx")
	tokenPath := filepath.Join(s.cfg.ModelDir, "tokenizer.json")
	if _, err := os.Stat(modelPath); err != nil {
		return errs.NewEmbeddingError("initialize", fmt.Errorf("model not found at %s: %w", modelPath, err))
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return errs.NewEmbeddingError("initialize", fmt.Errorf("tokenizer not found at %s: %w", tokenPath, err))
	}

	if s.cfg.OrtLibPath != "" {
		ort.SetSharedLibraryPath(s.cfg.OrtLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errs.NewEmbeddingError("initialize", fmt.Errorf("init onnxruntime: %w", err))
	}

	numThreads := s.cfg.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > 4 {
			numThreads = 4
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return errs.NewEmbeddingError("initialize", fmt.Errorf("session options: %w", err))
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return errs.NewEmbeddingError("initialize", fmt.Errorf("set intra threads: %w", err))
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return errs.NewEmbeddingError("initialize", fmt.Errorf("set inter threads: %w", err))
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		return errs.NewEmbeddingError("initialize", fmt.Errorf("create session: %w", err))
	}

	tk, err := tokenizers.FromFile(tokenPath)
	if err != nil {
		session.Destroy()
		return errs.NewEmbeddingError("initialize", fmt.Errorf("load tokenizer: %w", err))
	}

	s.session = session
	s.tokenizer = tk
	s.initialized = true
	return nil
}

func (s *LocalTensorService) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *LocalTensorService) ServiceType() model.ServiceKind { return model.ServiceLocalTensor }
func (s *LocalTensorService) Dimensions() int                { return s.cfg.Dimensions }
func (s *LocalTensorService) CanExtractKeyphrases() bool     { return false }

func (s *LocalTensorService) ContextWindow() int {
	if s.cfg.ContextWindow > 0 {
		return s.cfg.ContextWindow
	}
	return LookupContextWindow(s.cfg.ModelID)
}

func (s *LocalTensorService) CalculateSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

func (s *LocalTensorService) GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	results, err := s.GenerateEmbeddings(ctx, []string{bgeQueryPrefix + text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errs.NewEmbeddingError("generate_query_embedding", fmt.Errorf("empty result"))
	}
	return results[0].Vector, nil
}

func (s *LocalTensorService) GenerateEmbeddings(ctx context.Context, texts []string) ([]Result, error) {
	if !s.IsInitialized() {
		return nil, errs.NewEmbeddingError("generate_embeddings", fmt.Errorf("back-end not initialized"))
	}
	now := time.Now()
	results := make([]Result, 0, len(texts))
	for i := 0; i < len(texts); i += s.cfg.BatchSize {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		end := i + s.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := s.embedBatch(texts[i:end])
		if err != nil {
			return results, errs.NewEmbeddingError("generate_embeddings", fmt.Errorf("batch [%d:%d]: %w", i, end, err))
		}
		for j, v := range vecs {
			results = append(results, Result{Index: i + j, Vector: v, Dim: len(v), ModelID: s.cfg.ModelID, CreatedAt: now})
		}
	}
	return results, nil
}

type localEncoded struct {
	ids  []int64
	mask []int64
}

// embedBatch runs one ONNX inference call for up to BatchSize texts,
// CLS-pools the last hidden state and L2-normalizes the result.
func (s *LocalTensorService) embedBatch(texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batchSize := len(texts)
	all := make([]localEncoded, batchSize)
	maxLen := 0
	for i, text := range texts {
		enc := s.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
		ids := enc.IDs
		if len(ids) > s.cfg.MaxSeqLen {
			ids = ids[:s.cfg.MaxSeqLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		for j, v := range ids {
			ids64[j] = int64(v)
			mask64[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range ids64 {
				mask64[j] = int64(enc.AttentionMask[j])
			}
		}
		all[i] = localEncoded{ids: ids64, mask: mask64}
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("all texts tokenized to zero length")
	}

	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	flatType := make([]int64, batchSize*maxLen)
	for i, enc := range all {
		copy(flatIDs[i*maxLen:], enc.ids)
		copy(flatMask[i*maxLen:], enc.mask)
	}
	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()
	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()
	typeIDs, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeIDs.Destroy()

	inputs := []ort.Value{inputIDs, attnMask, typeIDs}
	outputs := []ort.Value{nil}
	if err := s.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("ort run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want *Tensor[float32])")
	}
	hidden := hiddenTensor.GetData()
	seqLen := int(hiddenTensor.GetShape()[1])
	dim := s.cfg.Dimensions

	embeddings := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		vec := make([]float32, dim)
		base := i * seqLen * dim
		for d := 0; d < dim; d++ {
			vec[d] = hidden[base+d]
		}
		l2Normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (s *LocalTensorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
	}
	if s.tokenizer != nil {
		s.tokenizer.Close()
	}
	s.initialized = false
	return nil
}

func l2Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm < 1e-20 {
		return
	}
	inv := float32(1.0 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
}
