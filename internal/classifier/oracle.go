package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ratlr/internal/config"
)

// Oracle backends.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// DefaultSeed keeps sampling reproducible across runs.
const DefaultSeed = 133742243

// LangChainConfig configures a LangChainOracle.
type LangChainConfig struct {
	Backend     string
	Model       string
	BaseURL     string
	APIKey      config.Secret
	Temperature float64
	Seed        int
	MaxTokens   int
}

// LangChainOracle scores through a langchaingo chat model.
type LangChainOracle struct {
	llm   llms.Model
	cfg   LangChainConfig
	model string
}

// NewLangChainOracle creates an oracle for cfg.Backend.
func NewLangChainOracle(cfg LangChainConfig) (*LangChainOracle, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}

	var (
		llm llms.Model
		err error
	)
	switch cfg.Backend {
	case BackendOpenAI:
		apiKey := cfg.APIKey.Value()
		if apiKey == "" {
			if cfg.BaseURL == "" {
				return nil, fmt.Errorf("%w: openai oracle needs an api key", ErrInvalidConfig)
			}
			apiKey = "placeholder"
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(apiKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	case BackendOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown oracle backend %q", ErrInvalidConfig, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Backend, err)
	}

	return newLangChainOracle(llm, cfg), nil
}

func newLangChainOracle(llm llms.Model, cfg LangChainConfig) *LangChainOracle {
	return &LangChainOracle{
		llm: llm,
		cfg: cfg,
		model: fmt.Sprintf("%s/%s?seed=%d&temperature=%g",
			cfg.Backend, cfg.Model, cfg.Seed, cfg.Temperature),
	}
}

// Score sends prompt as the system message and content as the user
// message.
func (o *LangChainOracle) Score(ctx context.Context, prompt, content string) (string, error) {
	var msgs []llms.MessageContent
	if prompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, prompt))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, content))

	opts := []llms.CallOption{
		llms.WithTemperature(o.cfg.Temperature),
		llms.WithSeed(o.cfg.Seed),
	}
	if o.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(o.cfg.MaxTokens))
	}

	resp, err := o.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return resp.Choices[0].Content, nil
}

func (o *LangChainOracle) Model() string { return o.model }

// LimitedOracle throttles an oracle with a token bucket and retries failed
// calls with exponential backoff.
type LimitedOracle struct {
	inner       Oracle
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *zap.Logger
}

// DefaultMaxBackoff caps the delay between retries when LimitConfig leaves
// MaxBackoff unset.
const DefaultMaxBackoff = 30 * time.Second

// LimitConfig configures a LimitedOracle.
type LimitConfig struct {
	// RequestsPerSecond of zero or less disables throttling.
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
}

// NewLimitedOracle wraps inner.
func NewLimitedOracle(inner Oracle, cfg LimitConfig, logger *zap.Logger) *LimitedOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	backoff := cfg.BaseBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	return &LimitedOracle{
		inner:       inner,
		limiter:     rate.NewLimiter(limit, burst),
		maxRetries:  max(0, cfg.MaxRetries),
		baseBackoff: backoff,
		maxBackoff:  maxBackoff,
		logger:      logger,
	}
}

// backoff is the delay before retry attempt (1-based): the base delay
// doubled per earlier retry, never above maxBackoff.
func (o *LimitedOracle) backoff(attempt int) time.Duration {
	d := min(o.baseBackoff, o.maxBackoff)
	for i := 1; i < attempt; i++ {
		if d > o.maxBackoff/2 {
			return o.maxBackoff
		}
		d *= 2
	}
	return d
}

func (o *LimitedOracle) Score(ctx context.Context, prompt, content string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.backoff(attempt)
			o.logger.Debug("retrying oracle call",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := o.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
		reply, err := o.inner.Score(ctx, prompt, content)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
	}
	if o.maxRetries == 0 {
		return "", lastErr
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (o *LimitedOracle) Model() string { return o.inner.Model() }
