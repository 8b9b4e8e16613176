// Package chunker implements the Chunk stage of the indexing pipeline
// (spec.md §4.4 stage 2 / §4.5): splitting parsed, region-bounded content
// into token-bounded chunks sized against the embedding model's context
// window, preserving each region's natural boundary and extraction_params.
package chunker

import (
	"math"
	"strings"

	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/parser"
)

// Options controls chunk sizing.
type Options struct {
	// ContextWindow is the embedding model's token context window, used to
	// derive the effective chunk size in characters.
	ContextWindow int
	// OverlapFraction is the fraction of a chunk's size carried over into
	// the next chunk when a region must be split (default 0.1).
	OverlapFraction float64
	// MinChunkChars is the lower bound on chunk size regardless of the
	// computed window-derived size (default 500).
	MinChunkChars int
}

// charsPerToken approximates the average bytes-per-token ratio for the
// supported embedding models (BGE-family, similar tokenizers), used to
// round the context window in EffectiveChunkSize and to estimate
// TokenCount for progress/diagnostics — the real count comes from the
// tokenizer at embed time.
const charsPerToken = 4

// EffectiveChunkSize computes the target chunk size in characters from a
// model's context window (spec.md §4.4 stage 2):
//
//	size = floor(contextWindow/4) * 4 * multiplier
//	multiplier = 0.5 if contextWindow >= 8192, 0.75 if >= 2048, else 1.0
//
// with a floor of minChunkChars.
func EffectiveChunkSize(contextWindow, minChunkChars int) int {
	base := (contextWindow / charsPerToken) * charsPerToken
	var multiplier float64
	switch {
	case contextWindow >= 8192:
		multiplier = 0.5
	case contextWindow >= 2048:
		multiplier = 0.75
	default:
		multiplier = 1.0
	}
	size := int(float64(base) * multiplier)
	if size < minChunkChars {
		size = minChunkChars
	}
	return size
}

// Chunk splits a parser's Regions into dense, index-ordered chunks. Each
// region that fits within the effective chunk size becomes exactly one
// chunk carrying that region's ExtractionParams; oversized regions are
// split at paragraph/line/word boundaries with overlap, all split pieces
// inheriting the parent region's ExtractionParams (spec.md §4.5: "record
// extraction_params so the original region can be reconstructed").
//
// DocumentID, KeyPhrases, and ReadabilityScore are left zero-valued; the
// pipeline fills DocumentID on persist and the semantic stage fills the
// rest.
func Chunk(regions []parser.Region, opts Options) []model.Chunk {
	if opts.MinChunkChars <= 0 {
		opts.MinChunkChars = 500
	}
	if opts.OverlapFraction <= 0 {
		opts.OverlapFraction = 0.1
	}
	size := EffectiveChunkSize(opts.ContextWindow, opts.MinChunkChars)
	overlap := int(float64(size) * opts.OverlapFraction)

	var chunks []model.Chunk
	index := 0
	for _, region := range regions {
		text := strings.TrimSpace(region.Text)
		if text == "" {
			continue
		}
		pieces := splitRegion(text, size, overlap)
		for _, p := range pieces {
			chunks = append(chunks, model.Chunk{
				Index:            index,
				Content:          p.text,
				StartOffset:      p.start,
				EndOffset:        p.end,
				TokenCount:       estimateTokens(p.text),
				ExtractionParams: region.Params,
			})
			index++
		}
	}
	return chunks
}

type piece struct {
	text       string
	start, end int
}

// splitRegion mirrors the boundary-search-with-overlap strategy: look
// backwards from the window end for a paragraph break, then a line break,
// then a space, falling back to a hard split mid-word.
func splitRegion(text string, maxChars, overlapChars int) []piece {
	if len(text) <= maxChars {
		return []piece{{text: text, start: 0, end: len(text)}}
	}

	var pieces []piece
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			pieces = append(pieces, piece{text: strings.TrimSpace(text[start:]), start: start, end: len(text)})
			break
		}

		split := lastIndexAny(text[start:end], "\n\n")
		if split != -1 {
			split += start + 2
		} else if split = strings.LastIndexByte(text[start:end], '\n'); split != -1 {
			split += start + 1
		} else if split = strings.LastIndexByte(text[start:end], ' '); split != -1 {
			split += start + 1
		} else {
			split = end
		}

		pieces = append(pieces, piece{text: strings.TrimSpace(text[start:split]), start: start, end: split})

		overlapStart := split - overlapChars
		if overlapStart <= start {
			overlapStart = start + 1
		} else if nl := strings.IndexByte(text[overlapStart:split], '\n'); nl != -1 {
			overlapStart += nl + 1
		} else if sp := strings.IndexByte(text[overlapStart:split], ' '); sp != -1 {
			overlapStart += sp + 1
		}
		start = overlapStart
	}

	filtered := pieces[:0]
	for _, p := range pieces {
		if p.text != "" {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func lastIndexAny(s, sep string) int {
	return strings.LastIndex(s, sep)
}

// estimateTokens approximates token count for sizing/progress purposes only
// (spec.md §4.5): word count x 1.3, rounded up, falling back to chars/4 when
// no words are found (e.g. CJK text with no ASCII word boundaries).
func estimateTokens(s string) int {
	words := strings.Fields(s)
	if len(words) > 0 {
		return int(math.Ceil(float64(len(words)) * 1.3))
	}
	n := int(math.Ceil(float64(len(s)) / charsPerToken))
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
