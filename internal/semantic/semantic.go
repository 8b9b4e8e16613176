// Package semantic implements the semantic-extraction stage of the indexing
// pipeline (spec.md §4.4 stage 3): per-chunk key phrases plus a readability
// score, using whichever of the two strategies the active embedding
// back-end's declared capabilities select, falling back to a frequency
// generator so no chunk is ever stored with zero phrases.
package semantic

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/semindex/semindex/internal/model"
	"github.com/viterin/vek/vek32"
)

// Capabilities is the static, backend-declared capability flag that
// selects a strategy (spec.md §9 Open Question 1: no reflection-based
// probing, the backend states what it can do up front).
type Capabilities struct {
	CanExtractKeyphrases bool
}

// KeyphraseBackend is implemented by an embedding back-end that also
// serves a keyphrase API (the "co-resident model" strategy).
type KeyphraseBackend interface {
	ExtractKeyphrases(ctx context.Context, texts []string) ([][]model.KeyPhrase, error)
}

// Embedder is the subset of the embedding service abstraction this package
// needs for the n-gram + cosine strategy and document aggregation.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures both chunk-level and document-level extraction.
type Options struct {
	NgramMax        int
	MMRLambdaChunk  float64
	MMRLambdaDoc    float64
	MaxKeywords     int
	MinKeywordScore float64
	ProbeRetries    int
	ProbeInterval   time.Duration
}

func (o Options) withDefaults() Options {
	if o.NgramMax <= 0 {
		o.NgramMax = 3
	}
	if o.MMRLambdaChunk <= 0 {
		o.MMRLambdaChunk = 0.5
	}
	if o.MMRLambdaDoc <= 0 {
		o.MMRLambdaDoc = 0.3
	}
	if o.MaxKeywords <= 0 {
		o.MaxKeywords = 30
	}
	if o.MinKeywordScore <= 0 {
		o.MinKeywordScore = 0.3
	}
	if o.ProbeRetries <= 0 {
		o.ProbeRetries = 5
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = time.Second
	}
	return o
}

// Extractor drives chunk-level and document-level semantic extraction.
type Extractor struct {
	backend  KeyphraseBackend
	embedder Embedder
	caps     Capabilities
	opts     Options
}

func New(backend KeyphraseBackend, embedder Embedder, caps Capabilities, opts Options) *Extractor {
	return &Extractor{backend: backend, embedder: embedder, caps: caps, opts: opts.withDefaults()}
}

// ChunkResult is the per-chunk output of the semantic extraction stage.
type ChunkResult struct {
	KeyPhrases       []model.KeyPhrase
	ReadabilityScore float64
}

// ExtractBatch produces keyphrases + readability for each of texts (one
// per chunk), in the same order. chunkEmbeddings may be nil; the n-gram +
// cosine strategy reuses it when it holds one vector per text and embeds
// texts itself otherwise. The co-resident strategy ignores it.
func (e *Extractor) ExtractBatch(ctx context.Context, texts []string, chunkEmbeddings [][]float32) ([]ChunkResult, error) {
	results := make([]ChunkResult, len(texts))
	for i, t := range texts {
		results[i].ReadabilityScore = fleschReadingEase(t)
	}

	var phrasesByChunk [][]model.KeyPhrase
	var err error
	if e.caps.CanExtractKeyphrases && e.backend != nil {
		phrasesByChunk, err = e.probeCoResident(ctx, texts)
	}
	if phrasesByChunk == nil && e.embedder != nil {
		var vecs [][]float32
		if len(chunkEmbeddings) == len(texts) {
			vecs = chunkEmbeddings
		} else {
			vecs, err = e.embedder.EmbedTexts(ctx, texts)
			if err != nil {
				vecs = nil
			}
		}
		if vecs != nil {
			phrasesByChunk = e.ngramCosineBatch(ctx, texts, vecs)
		}
	}

	for i, t := range texts {
		var phrases []model.KeyPhrase
		if i < len(phrasesByChunk) {
			phrases = phrasesByChunk[i]
		}
		if len(phrases) == 0 {
			phrases = fallbackKeyPhrases(t, e.opts.MaxKeywords)
		}
		results[i].KeyPhrases = phrases
	}
	_ = err
	return results, nil
}

// probeCoResident calls the backend's keyphrase API with bounded retries
// since it may still be initializing (spec.md §4.4 stage 3: "5 x 1s").
func (e *Extractor) probeCoResident(ctx context.Context, texts []string) ([][]model.KeyPhrase, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.ProbeRetries; attempt++ {
		phrases, err := e.backend.ExtractKeyphrases(ctx, texts)
		if err == nil {
			return phrases, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.opts.ProbeInterval):
		}
	}
	return nil, lastErr
}

// ngramCosineBatch runs the n-gram + cosine + MMR strategy per chunk.
func (e *Extractor) ngramCosineBatch(ctx context.Context, texts []string, chunkEmbeddings [][]float32) [][]model.KeyPhrase {
	out := make([][]model.KeyPhrase, len(texts))
	for i, text := range texts {
		candidates := generateNgrams(text, e.opts.NgramMax)
		if len(candidates) == 0 {
			continue
		}
		vecs, err := e.embedder.EmbedTexts(ctx, candidates)
		if err != nil || len(vecs) != len(candidates) {
			continue
		}
		scored := make([]scoredCandidate, len(candidates))
		for j, c := range candidates {
			scored[j] = scoredCandidate{
				Text:      c,
				Vector:    vecs[j],
				Relevance: cosine(vecs[j], chunkEmbeddings[i]),
			}
		}
		out[i] = mmrSelect(scored, e.opts.MMRLambdaChunk, defaultChunkKeywordCount, 0)
	}
	return out
}

// defaultChunkKeywordCount bounds per-chunk keyphrase count; the
// document-level cap (MaxKeywords) is a separate, larger budget.
const defaultChunkKeywordCount = 8

// DocumentKeyphrases aggregates candidate keyphrases drawn from every
// chunk of a document, scoring each against the document embedding with
// MMR diversity (spec.md §4.4 stage 5: λ=0.3, max_keywords=30, min
// score 0.3).
func (e *Extractor) DocumentKeyphrases(ctx context.Context, chunkPhrases [][]model.KeyPhrase, docEmbedding []float32) []model.KeyPhrase {
	seen := map[string]bool{}
	var texts []string
	for _, phrases := range chunkPhrases {
		for _, p := range phrases {
			if !seen[p.Text] {
				seen[p.Text] = true
				texts = append(texts, p.Text)
			}
		}
	}
	if len(texts) == 0 || e.embedder == nil || len(docEmbedding) == 0 {
		return nil
	}
	vecs, err := e.embedder.EmbedTexts(ctx, texts)
	if err != nil || len(vecs) != len(texts) {
		return nil
	}
	scored := make([]scoredCandidate, len(texts))
	for i, t := range texts {
		scored[i] = scoredCandidate{Text: t, Vector: vecs[i], Relevance: cosine(vecs[i], docEmbedding)}
	}
	return mmrSelect(scored, e.opts.MMRLambdaDoc, e.opts.MaxKeywords, e.opts.MinKeywordScore)
}

// MeanEmbedding maintains the incremental mean used as the document
// embedding (spec.md §4.4 stage 5).
func MeanEmbedding(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	mean := make([]float32, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			mean[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

type scoredCandidate struct {
	Text      string
	Vector    []float32
	Relevance float64
}

// mmrSelect implements Maximal Marginal Relevance selection: greedily pick
// the candidate maximizing λ*relevance - (1-λ)*max_similarity_to_selected,
// stopping at k candidates or when relevance drops below minScore.
func mmrSelect(candidates []scoredCandidate, lambda float64, k int, minScore float64) []model.KeyPhrase {
	remaining := append([]scoredCandidate(nil), candidates...)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Relevance > remaining[j].Relevance })

	var selected []scoredCandidate
	var result []model.KeyPhrase

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := cosine(cand.Vector, s.Vector); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*cand.Relevance - (1-lambda)*maxSim
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		chosen := remaining[bestIdx]
		if minScore > 0 && chosen.Relevance < minScore {
			break
		}
		selected = append(selected, chosen)
		result = append(result, model.KeyPhrase{Text: chosen.Text, Score: chosen.Relevance})
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return result
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	a, b = a[:n], b[:n]
	dot := float64(vek32.Dot(a, b))
	normA := math.Sqrt(float64(vek32.Dot(a, a)))
	normB := math.Sqrt(float64(vek32.Dot(b, b)))
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * normB)
}

var wordRE = regexp.MustCompile(`[A-Za-z][A-Za-z0-9'-]*`)

// generateNgrams produces unigrams through maxN-grams from text, lowercased
// and stripped of stopwords at the unigram boundary (spec.md §4.4 stage 3:
// "candidate n-grams (range default [1,3])").
func generateNgrams(text string, maxN int) []string {
	words := wordRE.FindAllString(strings.ToLower(text), -1)
	var filtered []string
	for _, w := range words {
		if !stopwords[w] {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	seen := map[string]bool{}
	var out []string
	for n := 1; n <= maxN; n++ {
		for i := 0; i+n <= len(filtered); i++ {
			phrase := strings.Join(filtered[i:i+n], " ")
			if !seen[phrase] {
				seen[phrase] = true
				out = append(out, phrase)
			}
		}
	}
	return out
}

// fallbackKeyPhrases generates frequency-weighted bigrams + unigrams when
// the primary strategy returns nothing for a chunk (spec.md §4.4 stage 3:
// "so storage never holds a chunk with zero phrases").
func fallbackKeyPhrases(text string, max int) []model.KeyPhrase {
	words := wordRE.FindAllString(strings.ToLower(text), -1)
	counts := map[string]int{}
	total := 0
	for i, w := range words {
		if stopwords[w] {
			continue
		}
		counts[w]++
		total++
		if i+1 < len(words) && !stopwords[words[i+1]] {
			bigram := w + " " + words[i+1]
			counts[bigram]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	type kv struct {
		text  string
		count int
	}
	var list []kv
	for k, v := range counts {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].text < list[j].text
	})
	if max <= 0 || max > len(list) {
		max = len(list)
		if max > defaultChunkKeywordCount {
			max = defaultChunkKeywordCount
		}
	}
	phrases := make([]model.KeyPhrase, 0, max)
	for _, e := range list[:max] {
		phrases = append(phrases, model.KeyPhrase{Text: e.text, Score: float64(e.count) / float64(total)})
	}
	return phrases
}

var stopwords = buildStopwords()

func buildStopwords() map[string]bool {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "of", "to",
		"in", "on", "at", "for", "with", "by", "from", "as", "is", "are", "was",
		"were", "be", "been", "being", "this", "that", "these", "those", "it",
		"its", "into", "over", "under", "about", "also", "not", "no", "yes",
		"can", "will", "would", "should", "could", "do", "does", "did", "has",
		"have", "had", "i", "you", "he", "she", "we", "they", "them", "his",
		"her", "our", "your", "their",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// fleschReadingEase scores readability on the standard 0-100 scale using a
// vowel-group syllable heuristic (no syllable dictionary is available in
// the retrieved pack, so this approximates the widely used heuristic rather
// than reaching for a phonetic library).
func fleschReadingEase(text string) float64 {
	sentences := countSentences(text)
	words := wordRE.FindAllString(text, -1)
	if sentences == 0 {
		sentences = 1
	}
	if len(words) == 0 {
		return 0
	}
	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}
	wordsPerSentence := float64(len(words)) / float64(sentences)
	syllablesPerWord := float64(syllables) / float64(len(words))
	score := 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

var sentenceEndRE = regexp.MustCompile(`[.!?]+`)

func countSentences(text string) int {
	return len(sentenceEndRE.FindAllString(text, -1))
}

var vowelGroupRE = regexp.MustCompile(`(?i)[aeiouy]+`)

func countSyllables(word string) int {
	n := len(vowelGroupRE.FindAllString(word, -1))
	if n == 0 {
		return 1
	}
	return n
}
