package elementstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
	"github.com/fyrsmithlabs/ratlr/internal/retrieval"
)

// TargetStore is the searchable role. It owns one retrieval strategy and
// offers no full enumeration: every read goes through similarity search or
// an id lookup.
type TargetStore struct {
	store
	strategy retrieval.Strategy
	logger   *zap.Logger
}

// NewTargetStore creates an empty target store.
func NewTargetStore(strategy retrieval.Strategy, logger *zap.Logger) (*TargetStore, error) {
	if strategy == nil {
		return nil, fmt.Errorf("%w: target store requires a retrieval strategy", ErrInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TargetStore{strategy: strategy, logger: logger}, nil
}

// NewTargetStoreFromConfig builds the strategy named by cfg and wraps it in
// an empty target store.
func NewTargetStoreFromConfig(cfg config.ModuleConfig, logger *zap.Logger) (*TargetStore, error) {
	strategy, err := retrieval.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("target store strategy %q: %w", cfg.Name, err)
	}
	return NewTargetStore(strategy, logger)
}

// Strategy returns the retrieval strategy.
func (t *TargetStore) Strategy() retrieval.Strategy {
	return t.strategy
}

// FindSimilar returns the candidate elements for query in strategy order.
func (t *TargetStore) FindSimilar(ctx context.Context, query knowledge.Entry) ([]*knowledge.Element, error) {
	scored, err := t.FindSimilarWithDistances(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]*knowledge.Element, len(scored))
	for i, s := range scored {
		out[i] = s.Element
	}
	return out, nil
}

// FindSimilarWithDistances runs the strategy over the compare-eligible
// entries and returns candidates with their scores.
func (t *TargetStore) FindSimilarWithDistances(ctx context.Context, query knowledge.Entry) ([]retrieval.ScoredElement, error) {
	if !t.IsSetUp() {
		return nil, fmt.Errorf("%w: target store is not set up", ErrInvalidState)
	}
	results, err := t.strategy.FindSimilarElements(ctx, query, t.allEntries(true))
	if err != nil {
		return nil, fmt.Errorf("%s retrieval for %s: %w", t.strategy.Name(), query.Element.ID(), err)
	}

	filtered := make([]retrieval.ScoredElement, 0, len(results))
	for _, r := range results {
		if r.Element != nil && r.Element.Compare() {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// ReduceTargetElementStore builds a store holding, for every
// compare-eligible source entry, the candidates this store retrieves for
// it. Candidates retrieved for several sources appear once per source; the
// reduced store's size is the sum of the per-source result counts.
func (t *TargetStore) ReduceTargetElementStore(ctx context.Context, source *SourceStore) (*TargetStore, error) {
	var entries []knowledge.Entry
	for _, query := range source.GetAllEntries(true) {
		candidates, err := t.FindSimilar(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			e, ok := t.GetByID(c.ID())
			if !ok {
				return nil, fmt.Errorf("%w: candidate %q is not in the target store", ErrInvalidArgument, c.ID())
			}
			entries = append(entries, e)
		}
	}

	reduced, err := NewTargetStore(t.strategy, t.logger)
	if err != nil {
		return nil, err
	}
	if err := reduced.publish(entries, true); err != nil {
		return nil, err
	}

	t.logger.Debug("reduced target store",
		zap.Int("sources", source.Size()),
		zap.Int("entries", reduced.Size()))
	return reduced, nil
}
