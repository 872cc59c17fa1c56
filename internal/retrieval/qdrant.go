package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
	"github.com/fyrsmithlabs/ratlr/internal/sanitize"
)

// QdrantConfig configures the Qdrant-backed strategy.
type QdrantConfig struct {
	Host string
	Port int
	// CollectionPrefix is joined with the pool fingerprint to name the
	// collection, so identical pools reuse the same collection across runs.
	CollectionPrefix string
	UseTLS           bool
	APIKey           string
	MaxResults       int
	// MaxMessageSize bounds gRPC messages in bytes.
	MaxMessageSize int
	// UpsertBatch is the number of points per upsert request.
	UpsertBatch int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "ratlr"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.UpsertBatch == 0 {
		c.UpsertBatch = 256
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be within 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxResults != Unlimited && c.MaxResults < 1 {
		return fmt.Errorf("%w: max_results must be >= 1, got %d", ErrInvalidConfig, c.MaxResults)
	}
	if c.UpsertBatch < 1 {
		return fmt.Errorf("%w: upsert batch must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// qdrantClient is the subset of *qdrant.Client the strategy uses.
type qdrantClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

const payloadElementID = "element_id"

// QdrantStrategy delegates search to a Qdrant collection over gRPC. The
// candidate pool is upserted once per pool fingerprint per process.
type QdrantStrategy struct {
	client qdrantClient
	config QdrantConfig
	logger *zap.Logger

	mu      sync.Mutex
	indexed map[string]string // fingerprint -> collection
}

// NewQdrantStrategy connects to Qdrant.
func NewQdrantStrategy(cfg QdrantConfig, logger *zap.Logger) (*QdrantStrategy, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return newQdrantStrategy(client, cfg, logger), nil
}

func newQdrantStrategy(client qdrantClient, cfg QdrantConfig, logger *zap.Logger) *QdrantStrategy {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}
	return &QdrantStrategy{
		client:  client,
		config:  cfg,
		logger:  logger,
		indexed: make(map[string]string),
	}
}

// Name implements Strategy.
func (s *QdrantStrategy) Name() string { return "qdrant" }

// Close closes the gRPC connection.
func (s *QdrantStrategy) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// FindSimilarElements implements Strategy.
func (s *QdrantStrategy) FindSimilarElements(ctx context.Context, query knowledge.Entry, pool []knowledge.Entry) ([]ScoredElement, error) {
	ctx, span := tracer.Start(ctx, "QdrantStrategy.FindSimilarElements")
	defer span.End()

	if len(pool) == 0 {
		return []ScoredElement{}, nil
	}
	if err := checkDimensions(query, pool); err != nil {
		return nil, err
	}

	collection, err := s.ensureIndexed(ctx, pool)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("collection", collection))

	occ := indexPool(pool)
	limit := len(occ.distinct)
	if s.config.MaxResults != Unlimited && s.config.MaxResults < limit {
		limit = s.config.MaxResults
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query.Embedding.Clone()...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Params: &qdrant.SearchParams{
			Exact: qdrant.PtrOf(true),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	results := make([]ScoredElement, 0, len(points))
	for _, p := range points {
		id := payloadString(p.GetPayload(), payloadElementID)
		var ok bool
		if results, ok = occ.fanOut(results, id, p.GetScore()); !ok {
			s.logger.Warn("qdrant returned a point outside the candidate pool",
				zap.String("collection", collection),
				zap.String("element_id", id))
		}
	}
	sortScored(results)
	results = truncate(results, s.config.MaxResults)

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// ensureIndexed creates the pool's collection if needed and upserts one
// point per distinct element id, once per process. Point ids are derived
// from element ids, so a repeated upsert overwrites rather than duplicates.
func (s *QdrantStrategy) ensureIndexed(ctx context.Context, pool []knowledge.Entry) (string, error) {
	fp := PoolFingerprint(pool)

	s.mu.Lock()
	defer s.mu.Unlock()

	if name, ok := s.indexed[fp]; ok {
		return name, nil
	}

	name := sanitize.CollectionName(s.config.CollectionPrefix, strings.ReplaceAll(fp, "-", ""))

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(pool[0].Embedding.Dimension()),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return "", fmt.Errorf("creating collection %s: %w", name, err)
		}
	}

	distinct := indexPool(pool).distinct
	for start := 0; start < len(distinct); start += s.config.UpsertBatch {
		end := min(start+s.config.UpsertBatch, len(distinct))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, e := range distinct[start:end] {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(pointID(e.Element.ID())),
				Vectors: qdrant.NewVectors(e.Embedding.Clone()...),
				Payload: map[string]*qdrant.Value{
					payloadElementID: {Kind: &qdrant.Value_StringValue{StringValue: e.Element.ID()}},
				},
			})
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return "", fmt.Errorf("upserting points to collection %s: %w", name, err)
		}
	}

	s.logger.Info("indexed candidate pool in qdrant",
		zap.String("collection", name),
		zap.Int("points", len(distinct)),
		zap.Bool("created", !exists))

	s.indexed[fp] = name
	return name, nil
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if sv, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
		return sv.StringValue
	}
	return ""
}
