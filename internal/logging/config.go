package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ratlr/internal/config"
)

// ErrInvalidConfig is returned for logging settings that cannot build a logger.
var ErrInvalidConfig = errors.New("invalid logging configuration")

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string
	// Stderr writes encoded entries to stderr. Stdout carries run reports.
	Stderr bool
	// OTEL forwards entries through the OpenTelemetry log bridge.
	OTEL      bool
	Caller    bool
	Sampling  SamplingConfig
	Fields    map[string]string
	Redaction RedactionConfig
}

// SamplingConfig thins repeated entries below error level. Per tick, the
// first Initial entries with the same message pass, then every
// Thereafter-th. Thereafter 0 drops the rest.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig names field keys that are always masked and value
// patterns that mask whatever field carries them.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

const maxPatternLen = 200

// NewDefaultConfig returns the configuration used by the CLI.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Stderr: true,
		Caller: true,
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Fields: map[string]string{"service": "ratlr"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`sk-[A-Za-z0-9_-]{16,}`,
			},
		},
	}
}

// FromRunConfig builds a logging configuration from the logging section of
// a run configuration. otel enables the OpenTelemetry output.
func FromRunConfig(rc config.LoggingConfig, otel bool) (*Config, error) {
	cfg := NewDefaultConfig()
	if rc.Level != "" {
		lvl, err := zapcore.ParseLevel(rc.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: log level %q", ErrInvalidConfig, rc.Level)
		}
		cfg.Level = lvl
	}
	if rc.Format != "" {
		cfg.Format = rc.Format
	}
	cfg.OTEL = otel
	// Debug runs want every line.
	if cfg.Level <= zapcore.DebugLevel {
		cfg.Sampling.Enabled = false
	}
	return cfg, cfg.Validate()
}

// Validate checks that cfg can build a logger.
func (c *Config) Validate() error {
	switch {
	case c.Format != "json" && c.Format != "console":
		return fmt.Errorf("%w: format must be json or console, got %q", ErrInvalidConfig, c.Format)
	case !c.Stderr && !c.OTEL:
		return fmt.Errorf("%w: enable stderr or otel output", ErrInvalidConfig)
	case c.Sampling.Enabled && c.Sampling.Tick <= 0:
		return fmt.Errorf("%w: sampling tick must be positive", ErrInvalidConfig)
	case c.Sampling.Enabled && (c.Sampling.Initial < 1 || c.Sampling.Thereafter < 0):
		return fmt.Errorf("%w: sampling needs initial >= 1 and thereafter >= 0", ErrInvalidConfig)
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("%w: constant field %q needs a key and a value", ErrInvalidConfig, k)
		}
	}
	if c.Redaction.Enabled {
		if _, err := compilePatterns(c.Redaction.Patterns); err != nil {
			return err
		}
	}
	return nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("%w: redaction pattern longer than %d characters", ErrInvalidConfig, maxPatternLen)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: redaction pattern %q: %v", ErrInvalidConfig, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
