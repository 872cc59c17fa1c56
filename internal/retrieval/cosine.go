package retrieval

import (
	"context"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length or zero magnitude score 0.
func CosineSimilarity(a, b knowledge.Embedding) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}

	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}

// scoreAll computes the cosine similarity of query to every pool entry.
func scoreAll(ctx context.Context, query knowledge.Entry, pool []knowledge.Entry) ([]ScoredElement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkDimensions(query, pool); err != nil {
		return nil, err
	}
	results := make([]ScoredElement, len(pool))
	for i, e := range pool {
		results[i] = ScoredElement{
			Element: e.Element,
			Score:   CosineSimilarity(query.Embedding, e.Embedding),
		}
	}
	return results, nil
}

// CosineStrategy is exact top-k search by cosine similarity.
type CosineStrategy struct {
	maxResults int
}

// NewCosineStrategy creates a strategy returning at most maxResults
// elements. Use Unlimited to return the whole pool ranked.
func NewCosineStrategy(maxResults int) (*CosineStrategy, error) {
	if maxResults != Unlimited && maxResults < 1 {
		return nil, fmt.Errorf("%w: max_results must be >= 1, got %d", ErrInvalidConfig, maxResults)
	}
	return &CosineStrategy{maxResults: maxResults}, nil
}

// Name implements Strategy.
func (s *CosineStrategy) Name() string { return "cosine_similarity" }

// MaxResults returns the configured cap.
func (s *CosineStrategy) MaxResults() int { return s.maxResults }

// FindSimilarElements implements Strategy.
func (s *CosineStrategy) FindSimilarElements(ctx context.Context, query knowledge.Entry, pool []knowledge.Entry) ([]ScoredElement, error) {
	results, err := scoreAll(ctx, query, pool)
	if err != nil {
		return nil, err
	}
	sortScored(results)
	return truncate(results, s.maxResults), nil
}
