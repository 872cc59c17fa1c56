package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "run.yaml", `
cache_dir: ./cache/dronology
cache:
  backend: sqlite
concurrency:
  workers: 8
  requests_per_second: 2.5
source_artifact_provider:
  name: text
  args:
    artifact_type: requirement
    path: ./datasets/high
target_artifact_provider:
  name: text
  args:
    artifact_type: requirement
    path: ./datasets/low
embedding_creator:
  name: mock
target_store:
  name: cosine_similarity
  args:
    max_results: 4
classifier:
  name: mock
telemetry:
  shutdown_timeout: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./cache/dronology", cfg.CacheDir)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 8, cfg.Concurrency.Workers)
	assert.InDelta(t, 2.5, cfg.Concurrency.RequestsPerSecond, 1e-9)
	assert.Equal(t, "text", cfg.SourceArtifactProvider.Name)
	assert.Equal(t, "./datasets/low", cfg.TargetArtifactProvider.String("path", ""))

	maxResults, err := cfg.TargetStore.Int("max_results", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, maxResults)

	// Defaults
	assert.Equal(t, CustomStoreName, cfg.SourceStore.Name)
	assert.Equal(t, "artifact", cfg.SourcePreprocessor.Name)
	assert.Equal(t, "any_connection", cfg.ResultAggregator.Name)
	assert.Equal(t, "identity", cfg.TraceLinkPostprocessor.Name)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 2*time.Second, cfg.Telemetry.Shutdown.Duration())
}

func TestLoad_JSONDocument(t *testing.T) {
	path := writeConfig(t, "run.json", `{
  "cache_dir": "./cache/WARC",
  "source_artifact_provider": {"name": "text", "args": {"artifact_type": "requirement", "path": "./high"}},
  "target_artifact_provider": {"name": "text", "args": {"artifact_type": "requirement", "path": "./low"}},
  "embedding_creator": {"name": "openai", "args": {"model": "text-embedding-3-large"}},
  "source_store": {"name": "custom", "args": {}},
  "target_store": {"name": "custom", "args": {"max_results": "4"}},
  "classifier": {"name": "simple_openai", "args": {"model": "gpt-4o-mini-2024-07-18"}}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./cache/WARC", cfg.CacheDir)
	assert.Equal(t, "badger", cfg.Cache.Backend)
	maxResults, err := cfg.TargetStore.Int("max_results", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, maxResults)
	assert.Equal(t, "text-embedding-3-large", cfg.EmbeddingCreator.String("model", ""))
}

func TestLoad_TOMLDocument(t *testing.T) {
	path := writeConfig(t, "run.toml", `
cache_dir = "./cache/dronology"

[concurrency]
workers = 8

[source_artifact_provider]
name = "text"
args = { artifact_type = "requirement", path = "./high" }

[target_artifact_provider]
name = "text"
args = { artifact_type = "requirement", path = "./low" }

[embedding_creator]
name = "mock"

[target_store]
name = "cosine_similarity"
args = { max_results = 4 }

[classifier]
name = "mock"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./cache/dronology", cfg.CacheDir)
	assert.Equal(t, 8, cfg.Concurrency.Workers)
	assert.Equal(t, "./high", cfg.SourceArtifactProvider.String("path", ""))
	maxResults, err := cfg.TargetStore.Int("max_results", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, maxResults)
	assert.Equal(t, "artifact", cfg.SourcePreprocessor.Name)
}

func TestLoad_MalformedTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "run.toml", "cache_dir = \n"))
	assert.Error(t, err)
}

func TestValidate_NamesKeys(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Concurrency.Workers = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "classifier.name is required")
	assert.Contains(t, err.Error(), "source_artifact_provider.name is required")
	assert.Contains(t, err.Error(), "concurrency.workers must be >= 1")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "run.yaml", `
source_artifact_provider: {name: text}
target_artifact_provider: {name: text}
embedding_creator: {name: mock}
classifier: {name: mock}
target_store:
  name: cosine_similarity
  args:
    max_results: 4
`)
	t.Setenv("RATLR_CACHE_DIR", "/tmp/override")
	t.Setenv("RATLR_CONCURRENCY__WORKERS", "16")
	t.Setenv("RATLR_TARGET_STORE__ARGS__MAX_RESULTS", "10")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override", cfg.CacheDir)
	assert.Equal(t, 16, cfg.Concurrency.Workers)
	maxResults, err := cfg.TargetStore.Int("max_results", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, maxResults)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing classifier",
			content: "source_artifact_provider: {name: text}\ntarget_artifact_provider: {name: text}\nembedding_creator: {name: mock}\n",
		},
		{
			name: "unknown cache backend",
			content: `
cache: {backend: redis}
source_artifact_provider: {name: text}
target_artifact_provider: {name: text}
embedding_creator: {name: mock}
classifier: {name: mock}
`,
		},
		{
			name: "bad log format",
			content: `
logging: {format: xml}
source_artifact_provider: {name: text}
target_artifact_provider: {name: text}
embedding_creator: {name: mock}
classifier: {name: mock}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "run.yaml", tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	big := make([]byte, maxConfigFileSize+10)
	for i := range big {
		big[i] = '#'
	}
	path := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(path, big, 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "cache_dir", envKey("RATLR_CACHE_DIR"))
	assert.Equal(t, "concurrency.workers", envKey("RATLR_CONCURRENCY__WORKERS"))
	assert.Equal(t, "target_store.args.max_results", envKey("RATLR_TARGET_STORE__ARGS__MAX_RESULTS"))
}
