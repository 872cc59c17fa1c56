// Package config provides configuration loading for ratlr.
//
// A configuration describes one trace link recovery run: where artifacts
// come from, how they are split into elements, which embedding model and
// retrieval strategy narrow the candidates, and which classifier decides.
// Each pluggable stage is a ModuleConfig (a registered name plus free-form
// args), mirroring the JSON run configurations used by evaluation scripts.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig indicates a configuration that cannot be run.
var ErrInvalidConfig = errors.New("invalid configuration")

// CustomStoreName is the marker used for source stores, which never run a
// retrieval strategy.
const CustomStoreName = "custom"

// Config holds a complete run configuration.
type Config struct {
	CacheDir    string            `koanf:"cache_dir"`
	Cache       CacheConfig       `koanf:"cache"`
	Concurrency ConcurrencyConfig `koanf:"concurrency"`

	SourceArtifactProvider ModuleConfig `koanf:"source_artifact_provider"`
	TargetArtifactProvider ModuleConfig `koanf:"target_artifact_provider"`
	SourcePreprocessor     ModuleConfig `koanf:"source_preprocessor"`
	TargetPreprocessor     ModuleConfig `koanf:"target_preprocessor"`
	EmbeddingCreator       ModuleConfig `koanf:"embedding_creator"`
	SourceStore            ModuleConfig `koanf:"source_store"`
	TargetStore            ModuleConfig `koanf:"target_store"`
	Classifier             ModuleConfig `koanf:"classifier"`
	ResultAggregator       ModuleConfig `koanf:"result_aggregator"`
	TraceLinkPostprocessor ModuleConfig `koanf:"tracelinkid_postprocessor"`

	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// CacheConfig selects the persistent backend of the content-addressed cache.
type CacheConfig struct {
	// Backend is one of "badger" (default), "sqlite" or "memory".
	Backend string `koanf:"backend" validate:"oneof=badger sqlite memory"`
	// SyncWrites forces fsync on every write (badger only).
	SyncWrites bool `koanf:"sync_writes"`
}

// ConcurrencyConfig bounds classification parallelism.
type ConcurrencyConfig struct {
	Workers int `koanf:"workers" validate:"gte=1"`
	// RequestsPerSecond limits oracle calls. Zero disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int     `koanf:"burst" validate:"gte=0"`
}

// LoggingConfig is the subset of logging settings exposed to run configs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// TelemetryConfig is the subset of OpenTelemetry settings exposed to run
// configs.
type TelemetryConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Endpoint    string   `koanf:"endpoint"`
	Protocol    string   `koanf:"protocol"`
	Insecure    bool     `koanf:"insecure"`
	ServiceName string   `koanf:"service_name"`
	Shutdown    Duration `koanf:"shutdown_timeout"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.CacheDir == "" {
		cfg.CacheDir = "./cache"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "badger"
	}
	if cfg.Concurrency.Workers == 0 {
		cfg.Concurrency.Workers = 4
	}
	if cfg.Concurrency.Burst == 0 {
		cfg.Concurrency.Burst = 1
	}

	defaultModule(&cfg.SourcePreprocessor, "artifact")
	defaultModule(&cfg.TargetPreprocessor, "artifact")
	defaultModule(&cfg.SourceStore, CustomStoreName)
	defaultModule(&cfg.TargetStore, "cosine_similarity")
	defaultModule(&cfg.ResultAggregator, "any_connection")
	defaultModule(&cfg.TraceLinkPostprocessor, "identity")

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ratlr"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Shutdown == 0 {
		cfg.Telemetry.Shutdown = Duration(5 * time.Second)
	}
}

func defaultModule(m *ModuleConfig, name string) {
	if m.Name == "" {
		m.Name = name
	}
}

// validate checks struct tags. Field names in messages are the koanf keys.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks the configuration for errors.
//
// A source store configured with anything but "custom" is not an error;
// it is reported by the element store factory as a warning.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fmt.Sprint(fe.Value()))
	case "gte":
		return fmt.Sprintf("%s must be >= %s, got %v", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
