package embeddings

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/cache"
)

// CachingProvider resolves embeddings through the content-addressed cache
// and only sends misses to the wrapped provider.
type CachingProvider struct {
	inner  Provider
	cache  *cache.Cache
	logger *zap.Logger
}

// NewCachingProvider wraps inner.
func NewCachingProvider(inner Provider, c *cache.Cache, logger *zap.Logger) *CachingProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingProvider{inner: inner, cache: c, logger: logger}
}

func (p *CachingProvider) key(text string) cache.EmbeddingKey {
	return cache.EmbeddingKey{Model: p.inner.Model(), Content: text}
}

func (p *CachingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return cache.Resolve(ctx, p.cache, p.key(text), func(ctx context.Context) ([]float32, error) {
		return p.inner.EmbedQuery(ctx, text)
	})
}

// EmbedDocuments looks every text up first, embeds the misses in one
// batch and stores them.
func (p *CachingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	out := make([][]float32, len(texts))
	// Identical texts within one call are looked up and embedded once.
	first := make(map[string]int, len(texts))
	var missing []string
	var missingAt []int
	for i, text := range texts {
		if _, seen := first[text]; seen {
			continue
		}
		first[text] = i

		raw, ok, err := p.cache.Get(ctx, p.key(text))
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, text)
			missingAt = append(missingAt, i)
			continue
		}
		var v []float32
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: decode embedding: %w", cache.ErrSerialization, err)
		}
		out[i] = v
	}

	if len(missing) > 0 {
		p.logger.Debug("embedding cache misses",
			zap.String("model", p.inner.Model()),
			zap.Int("misses", len(missing)),
			zap.Int("total", len(texts)))

		vectors, err := p.inner.EmbedDocuments(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(missing) {
			return nil, fmt.Errorf("%w: %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(missing))
		}
		for j, text := range missing {
			raw, err := json.Marshal(vectors[j])
			if err != nil {
				return nil, fmt.Errorf("%w: %w", cache.ErrSerialization, err)
			}
			if err := p.cache.Put(ctx, p.key(text), raw); err != nil {
				return nil, err
			}
			out[missingAt[j]] = vectors[j]
		}
	}

	for i, text := range texts {
		if j := first[text]; j != i {
			out[i] = out[j]
		}
	}
	return out, nil
}

func (p *CachingProvider) Model() string { return p.inner.Model() }

func (p *CachingProvider) Close() error { return p.inner.Close() }
