package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/config"
)

// LangChainConfig configures a LangChainProvider.
type LangChainConfig struct {
	// Backend is "openai" (any OpenAI-compatible endpoint) or "ollama".
	Backend string
	Model   string
	// BaseURL overrides the backend's default endpoint.
	BaseURL string
	// APIKey is required by OpenAI-compatible clients; self-hosted
	// endpoints accept any placeholder.
	APIKey    config.Secret
	BatchSize int
}

// LangChainProvider embeds through a langchaingo embedder.
type LangChainProvider struct {
	embedder *lcembeddings.EmbedderImpl
	model    string
	logger   *zap.Logger
}

// NewLangChainProvider creates a provider for cfg.Backend.
func NewLangChainProvider(cfg LangChainConfig, logger *zap.Logger) (*LangChainProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}

	var (
		client lcembeddings.EmbedderClient
		err    error
	)
	switch cfg.Backend {
	case ProviderOpenAI:
		apiKey := cfg.APIKey.Value()
		if apiKey == "" {
			if cfg.BaseURL == "" {
				return nil, fmt.Errorf("%w: openai embeddings need an api key", ErrInvalidConfig)
			}
			// langchaingo requires a token even for self-hosted endpoints
			apiKey = "placeholder"
		}
		opts := []openai.Option{
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithToken(apiKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err = openai.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		client, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown langchain backend %q", ErrInvalidConfig, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Backend, err)
	}

	var embOpts []lcembeddings.Option
	if cfg.BatchSize > 0 {
		embOpts = append(embOpts, lcembeddings.WithBatchSize(cfg.BatchSize))
	}
	embedder, err := lcembeddings.NewEmbedder(client, embOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &LangChainProvider{embedder: embedder, model: cfg.Model, logger: logger}, nil
}

// EmbedDocuments embeds texts in batches.
func (p *LangChainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		p.logger.Debug("embedding request failed", zap.String("model", p.model), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery embeds a single text.
func (p *LangChainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

func (p *LangChainProvider) Model() string { return p.model }

// Close is a no-op; the clients hold no resources beyond HTTP connections.
func (p *LangChainProvider) Close() error { return nil }
