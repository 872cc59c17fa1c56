package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

// HybridStrategy blends cosine similarity with lexical term overlap
// between query and candidate content.
//
//	score = vectorWeight*cosine + (1-vectorWeight)*overlap
//
// overlap is the fraction of distinct query terms that occur in the
// candidate, after lowercasing and stopword removal.
type HybridStrategy struct {
	vectorWeight float32
	maxResults   int
}

// NewHybridStrategy creates a hybrid strategy. vectorWeight must lie in
// [0, 1].
func NewHybridStrategy(vectorWeight float64, maxResults int) (*HybridStrategy, error) {
	if vectorWeight < 0 || vectorWeight > 1 {
		return nil, fmt.Errorf("%w: vector_weight must be within [0, 1], got %v", ErrInvalidConfig, vectorWeight)
	}
	if maxResults != Unlimited && maxResults < 1 {
		return nil, fmt.Errorf("%w: max_results must be >= 1, got %d", ErrInvalidConfig, maxResults)
	}
	return &HybridStrategy{vectorWeight: float32(vectorWeight), maxResults: maxResults}, nil
}

// Name implements Strategy.
func (s *HybridStrategy) Name() string { return "hybrid" }

// FindSimilarElements implements Strategy.
func (s *HybridStrategy) FindSimilarElements(ctx context.Context, query knowledge.Entry, pool []knowledge.Entry) ([]ScoredElement, error) {
	results, err := scoreAll(ctx, query, pool)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(query.Element.Content())
	for i := range results {
		overlap := termOverlap(queryTokens, tokenize(results[i].Element.Content()))
		results[i].Score = s.vectorWeight*results[i].Score + (1-s.vectorWeight)*overlap
	}

	sortScored(results)
	return truncate(results, s.maxResults), nil
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true,
	"from": true, "are": true, "was": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "shall": true, "must": true, "not": true, "all": true,
}

// tokenize splits text into lowercase terms longer than two characters,
// dropping stopwords.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) > 2 && !stopwords[token] {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

// termOverlap returns the share of distinct query terms present in doc.
func termOverlap(queryTokens, docTokens []string) float32 {
	distinct := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		distinct[t] = true
	}
	if len(distinct) == 0 {
		return 0
	}

	docSet := make(map[string]bool, len(docTokens))
	for _, t := range docTokens {
		docSet[t] = true
	}

	matches := 0
	for t := range distinct {
		if docSet[t] {
			matches++
		}
	}
	return float32(matches) / float32(len(distinct))
}
