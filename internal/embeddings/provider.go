package embeddings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/cache"
	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings with one model.
type Provider interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Model names the model; it is part of every cache key.
	Model() string
	Close() error
}

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderFastEmbed = "fastembed"
	ProviderMock      = "mock"
)

// New builds the provider named by cfg. When c is non-nil the provider is
// wrapped in a CachingProvider.
//
// Recognised args: model, base_url, api_key (falls back to OPENAI_API_KEY),
// batch_size, dimension (mock), cache_dir and max_length (fastembed).
func New(cfg config.ModuleConfig, c *cache.Cache, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("embedding provider ready",
		zap.String("provider", cfg.Name),
		zap.String("model", p.Model()),
		zap.Bool("cached", c != nil))

	if c == nil {
		return p, nil
	}
	return NewCachingProvider(p, c, logger), nil
}

func newProvider(cfg config.ModuleConfig, logger *zap.Logger) (Provider, error) {
	batchSize, err := cfg.Int("batch_size", 0)
	if err != nil {
		return nil, err
	}

	switch cfg.Name {
	case ProviderOpenAI:
		apiKey := cfg.String("api_key", os.Getenv("OPENAI_API_KEY"))
		return NewLangChainProvider(LangChainConfig{
			Backend:   ProviderOpenAI,
			Model:     cfg.String("model", "text-embedding-3-large"),
			BaseURL:   cfg.String("base_url", os.Getenv("OPENAI_BASE_URL")),
			APIKey:    config.Secret(apiKey),
			BatchSize: batchSize,
		}, logger)
	case ProviderOllama:
		return NewLangChainProvider(LangChainConfig{
			Backend:   ProviderOllama,
			Model:     cfg.String("model", "nomic-embed-text"),
			BaseURL:   cfg.String("base_url", os.Getenv("OLLAMA_HOST")),
			BatchSize: batchSize,
		}, logger)
	case ProviderFastEmbed:
		maxLength, err := cfg.Int("max_length", 0)
		if err != nil {
			return nil, err
		}
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:     cfg.String("model", "BAAI/bge-small-en-v1.5"),
			CacheDir:  cfg.String("cache_dir", ""),
			MaxLength: maxLength,
			BatchSize: batchSize,
			Logger:    logger,
		})
	case ProviderMock:
		dim, err := cfg.Int("dimension", DefaultMockDimension)
		if err != nil {
			return nil, err
		}
		return NewMockProvider(dim)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, cfg.Name)
	}
}

// EmbedElements embeds the content of every element, in order. All
// vectors must share one dimension.
func EmbedElements(ctx context.Context, p Provider, elements []*knowledge.Element) ([]knowledge.Embedding, error) {
	if len(elements) == 0 {
		return nil, nil
	}

	texts := make([]string, len(elements))
	for i, el := range elements {
		texts[i] = el.Content()
	}

	start := time.Now()
	vectors, err := p.EmbedDocuments(ctx, texts)
	defaultMetrics().RecordGeneration(ctx, p.Model(), "embed_elements", time.Since(start), len(texts), err)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(elements) {
		return nil, fmt.Errorf("%w: %d vectors for %d elements", ErrEmbeddingFailed, len(vectors), len(elements))
	}

	out := make([]knowledge.Embedding, len(vectors))
	for i, v := range vectors {
		if len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: element %s has dimension %d, expected %d",
				ErrEmbeddingFailed, elements[i].ID(), len(v), len(vectors[0]))
		}
		out[i] = knowledge.Embedding(v)
	}
	return out, nil
}
