package classifier

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/cache"
	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/logging"
)

// New builds the classifier named by cfg. Prompt classifiers are named
// "<mode>_<backend>", e.g. simple_openai or reasoning_ollama; "mock" needs
// no oracle. limits throttles the oracle.
//
// Recognised args: model, base_url, api_key (falls back to
// OPENAI_API_KEY), temperature, seed, max_tokens, max_retries,
// instruction, template.
func New(cfg config.ModuleConfig, c *cache.Cache, limits LimitConfig, logger *zap.Logger) (Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "mock" {
		return MockClassifier{}, nil
	}

	mode, backend, ok := strings.Cut(cfg.Name, "_")
	if !ok || (mode != ModeSimple && mode != ModeReasoning) {
		return nil, fmt.Errorf("%w: unknown classifier %q", ErrInvalidConfig, cfg.Name)
	}

	oracleCfg, err := oracleConfigFrom(cfg, backend)
	if err != nil {
		return nil, err
	}
	oracle, err := NewLangChainOracle(oracleCfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("oracle configured",
		zap.String("classifier", cfg.Name),
		zap.String("model", oracleCfg.Model),
		zap.String("base_url", oracleCfg.BaseURL),
		logging.Secret("api_key", oracleCfg.APIKey))

	retries, err := cfg.Int("max_retries", 3)
	if err != nil {
		return nil, err
	}
	limits.MaxRetries = retries
	limited := NewLimitedOracle(oracle, limits, logger)

	return NewPromptClassifier(limited, c, PromptConfig{
		Mode:        mode,
		Instruction: cfg.String("instruction", ""),
		Template:    cfg.String("template", ""),
	}, logger)
}

func oracleConfigFrom(cfg config.ModuleConfig, backend string) (LangChainConfig, error) {
	out := LangChainConfig{Backend: backend}
	switch backend {
	case BackendOpenAI:
		out.Model = cfg.String("model", "gpt-4o-mini-2024-07-18")
		out.BaseURL = cfg.String("base_url", os.Getenv("OPENAI_BASE_URL"))
		out.APIKey = config.Secret(cfg.String("api_key", os.Getenv("OPENAI_API_KEY")))
	case BackendOllama:
		out.Model = cfg.String("model", "llama3.1:8b-instruct-fp16")
		out.BaseURL = cfg.String("base_url", os.Getenv("OLLAMA_HOST"))
	default:
		return out, fmt.Errorf("%w: unknown oracle backend %q", ErrInvalidConfig, backend)
	}

	var err error
	if out.Temperature, err = cfg.Float("temperature", 0); err != nil {
		return out, err
	}
	if out.Seed, err = cfg.Int("seed", DefaultSeed); err != nil {
		return out, err
	}
	if out.MaxTokens, err = cfg.Int("max_tokens", 0); err != nil {
		return out, err
	}
	return out, nil
}

// LimitsFromConfig converts the run's concurrency settings.
func LimitsFromConfig(cfg config.ConcurrencyConfig) LimitConfig {
	return LimitConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		BaseBackoff:       time.Second,
	}
}
