package retrieval

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

// ThresholdStrategy keeps every candidate whose cosine similarity reaches
// a minimum, optionally capped.
type ThresholdStrategy struct {
	minSimilarity float32
	maxResults    int
}

// NewThresholdStrategy creates a threshold strategy. minSimilarity must lie
// in [-1, 1].
func NewThresholdStrategy(minSimilarity float64, maxResults int) (*ThresholdStrategy, error) {
	if minSimilarity < -1 || minSimilarity > 1 {
		return nil, fmt.Errorf("%w: min_similarity must be within [-1, 1], got %v", ErrInvalidConfig, minSimilarity)
	}
	if maxResults != Unlimited && maxResults < 1 {
		return nil, fmt.Errorf("%w: max_results must be >= 1, got %d", ErrInvalidConfig, maxResults)
	}
	return &ThresholdStrategy{minSimilarity: float32(minSimilarity), maxResults: maxResults}, nil
}

// Name implements Strategy.
func (s *ThresholdStrategy) Name() string { return "threshold" }

// FindSimilarElements implements Strategy.
func (s *ThresholdStrategy) FindSimilarElements(ctx context.Context, query knowledge.Entry, pool []knowledge.Entry) ([]ScoredElement, error) {
	scored, err := scoreAll(ctx, query, pool)
	if err != nil {
		return nil, err
	}
	kept := scored[:0]
	for _, r := range scored {
		if r.Score >= s.minSimilarity {
			kept = append(kept, r)
		}
	}
	sortScored(kept)
	return truncate(kept, s.maxResults), nil
}
