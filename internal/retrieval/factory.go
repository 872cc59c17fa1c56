package retrieval

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/config"
)

// DefaultMaxResults is used when a strategy is configured without
// "max_results".
const DefaultMaxResults = 10

// New builds the strategy named by cfg. This is the only place strategy
// names are interpreted.
func New(cfg config.ModuleConfig, logger *zap.Logger) (Strategy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Name {
	case config.CustomStoreName:
		return nil, ErrNoStrategy
	case "cosine_similarity":
		maxResults, err := maxResultsArg(cfg)
		if err != nil {
			return nil, err
		}
		return NewCosineStrategy(maxResults)
	case "threshold":
		maxResults, err := optionalMaxResults(cfg)
		if err != nil {
			return nil, err
		}
		minSimilarity, err := cfg.Float("min_similarity", 0.5)
		if err != nil {
			return nil, wrapConfigErr(err)
		}
		return NewThresholdStrategy(minSimilarity, maxResults)
	case "hybrid":
		maxResults, err := maxResultsArg(cfg)
		if err != nil {
			return nil, err
		}
		weight, err := cfg.Float("vector_weight", 0.5)
		if err != nil {
			return nil, wrapConfigErr(err)
		}
		return NewHybridStrategy(weight, maxResults)
	case "chromem":
		maxResults, err := maxResultsArg(cfg)
		if err != nil {
			return nil, err
		}
		return NewChromemStrategy(maxResults, logger.Named("chromem"))
	case "qdrant":
		qc, err := qdrantConfigFrom(cfg)
		if err != nil {
			return nil, err
		}
		return NewQdrantStrategy(qc, logger.Named("qdrant"))
	default:
		return nil, fmt.Errorf("%w: unknown retrieval strategy %q", ErrInvalidConfig, cfg.Name)
	}
}

// ParseMaxResults interprets a "max_results" value: a positive integer or
// "infinity".
func ParseMaxResults(cfg config.ModuleConfig) (int, error) {
	return maxResultsArg(cfg)
}

func maxResultsArg(cfg config.ModuleConfig) (int, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.String("max_results", "")), "infinity") {
		return Unlimited, nil
	}
	n, err := cfg.Int("max_results", DefaultMaxResults)
	if err != nil {
		return 0, wrapConfigErr(err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: max_results must be >= 1, got %d", ErrInvalidConfig, n)
	}
	return n, nil
}

// optionalMaxResults treats a missing cap as Unlimited.
func optionalMaxResults(cfg config.ModuleConfig) (int, error) {
	if !cfg.Has("max_results") {
		return Unlimited, nil
	}
	return maxResultsArg(cfg)
}

func qdrantConfigFrom(cfg config.ModuleConfig) (QdrantConfig, error) {
	maxResults, err := maxResultsArg(cfg)
	if err != nil {
		return QdrantConfig{}, err
	}
	port, err := cfg.Int("port", 6334)
	if err != nil {
		return QdrantConfig{}, wrapConfigErr(err)
	}
	useTLS, err := cfg.Bool("use_tls", false)
	if err != nil {
		return QdrantConfig{}, wrapConfigErr(err)
	}
	batch, err := cfg.Int("upsert_batch", 256)
	if err != nil {
		return QdrantConfig{}, wrapConfigErr(err)
	}
	qc := QdrantConfig{
		Host:             cfg.String("host", "localhost"),
		Port:             port,
		CollectionPrefix: cfg.String("collection", "ratlr"),
		UseTLS:           useTLS,
		APIKey:           cfg.String("api_key", ""),
		MaxResults:       maxResults,
		UpsertBatch:      batch,
	}
	qc.ApplyDefaults()
	return qc, qc.Validate()
}

// wrapConfigErr re-tags config argument errors with this package's sentinel.
func wrapConfigErr(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
}
