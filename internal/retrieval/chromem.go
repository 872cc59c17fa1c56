package retrieval

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

var tracer = otel.Tracer("ratlr.retrieval")

// errNoEmbedder is returned if chromem ever tries to embed text itself.
// Every document and query arrives with its embedding precomputed.
var errNoEmbedder = errors.New("chromem collection has no embedder; embeddings are precomputed")

// ChromemStrategy runs exact search inside an in-memory chromem-go
// collection. The collection is rebuilt whenever the candidate pool changes.
type ChromemStrategy struct {
	maxResults int
	logger     *zap.Logger

	mu          sync.Mutex
	fingerprint string
	collection  *chromem.Collection
	occ         occurrences
}

// NewChromemStrategy creates a chromem-backed strategy.
func NewChromemStrategy(maxResults int, logger *zap.Logger) (*ChromemStrategy, error) {
	if maxResults != Unlimited && maxResults < 1 {
		return nil, fmt.Errorf("%w: max_results must be >= 1, got %d", ErrInvalidConfig, maxResults)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromemStrategy{maxResults: maxResults, logger: logger}, nil
}

// Name implements Strategy.
func (s *ChromemStrategy) Name() string { return "chromem" }

// FindSimilarElements implements Strategy.
func (s *ChromemStrategy) FindSimilarElements(ctx context.Context, query knowledge.Entry, pool []knowledge.Entry) ([]ScoredElement, error) {
	ctx, span := tracer.Start(ctx, "ChromemStrategy.FindSimilarElements")
	defer span.End()

	if len(pool) == 0 {
		return []ScoredElement{}, nil
	}
	if err := checkDimensions(query, pool); err != nil {
		return nil, err
	}

	collection, occ, err := s.collectionFor(ctx, pool)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// chromem rejects nResults above the document count.
	k := collection.Count()
	if s.maxResults != Unlimited && s.maxResults < k {
		k = s.maxResults
	}

	res, err := collection.QueryEmbedding(ctx, query.Embedding.Clone(), k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying chromem collection: %w", err)
	}

	results := make([]ScoredElement, 0, len(res))
	for _, r := range res {
		results, _ = occ.fanOut(results, r.ID, r.Similarity)
	}
	sortScored(results)
	results = truncate(results, s.maxResults)

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// collectionFor holds one document per distinct element id.
func (s *ChromemStrategy) collectionFor(ctx context.Context, pool []knowledge.Entry) (*chromem.Collection, occurrences, error) {
	fp := PoolFingerprint(pool)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection != nil && s.fingerprint == fp {
		return s.collection, s.occ, nil
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection("pool", nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedder
	})
	if err != nil {
		return nil, occurrences{}, fmt.Errorf("creating chromem collection: %w", err)
	}

	occ := indexPool(pool)
	docs := make([]chromem.Document, len(occ.distinct))
	for i, e := range occ.distinct {
		docs[i] = chromem.Document{
			ID:        e.Element.ID(),
			Content:   e.Element.Content(),
			Embedding: e.Embedding.Clone(),
		}
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, occurrences{}, fmt.Errorf("indexing candidate pool: %w", err)
	}

	s.logger.Debug("built chromem collection",
		zap.String("fingerprint", fp),
		zap.Int("documents", len(docs)))

	s.fingerprint = fp
	s.collection = collection
	s.occ = occ
	return collection, occ, nil
}
