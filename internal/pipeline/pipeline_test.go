package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ratlr/internal/cache"
	"github.com/fyrsmithlabs/ratlr/internal/classifier"
	"github.com/fyrsmithlabs/ratlr/internal/config"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
	"github.com/fyrsmithlabs/ratlr/internal/logging"
	"github.com/fyrsmithlabs/ratlr/internal/telemetry"
)

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	high := writeCorpus(t, map[string]string{
		"UC1.txt": "The user logs in with a password.",
		"UC2.txt": "The operator exports the flight report as pdf.",
	})
	low := writeCorpus(t, map[string]string{
		"L1.txt": "Check the user password at login.",
		"L2.txt": "Export report pdf for the operator flight.",
	})
	return &config.Config{
		Cache:       config.CacheConfig{Backend: cache.BackendMemory},
		Concurrency: config.ConcurrencyConfig{Workers: 2, Burst: 1},
		SourceArtifactProvider: config.NewModuleConfig("text", map[string]any{
			"path": high, "artifact_type": "requirement",
		}),
		TargetArtifactProvider: config.NewModuleConfig("text", map[string]any{
			"path": low, "artifact_type": "requirement",
		}),
		SourcePreprocessor:     config.NewModuleConfig("artifact", nil),
		TargetPreprocessor:     config.NewModuleConfig("artifact", nil),
		EmbeddingCreator:       config.NewModuleConfig("mock", map[string]any{"dimension": 512}),
		SourceStore:            config.NewModuleConfig(config.CustomStoreName, nil),
		TargetStore:            config.NewModuleConfig("cosine_similarity", map[string]any{"max_results": "1"}),
		Classifier:             config.NewModuleConfig("mock", nil),
		ResultAggregator:       config.NewModuleConfig("any_connection", nil),
		TraceLinkPostprocessor: config.NewModuleConfig("req2req", nil),
	}
}

func TestRun_MockClassifierReproducesRetrieval(t *testing.T) {
	c := cache.New(cache.NewMemoryBackend(), cache.BackendMemory, nil)
	p, err := New(testConfig(t), Dependencies{Cache: c}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []knowledge.TraceLink{
		knowledge.NewTraceLink("UC1", "L1"),
		knowledge.NewTraceLink("UC2", "L2"),
	}, res.Links)
	assert.Equal(t, 2, res.SourceElements)
	assert.Equal(t, 2, res.TargetElements)
	assert.Equal(t, 2, res.Tasks)
	assert.Equal(t, 2, res.Linked)
	assert.Zero(t, res.Failures)
	assert.NotEmpty(t, res.RunID)
}

func TestRun_CorrelatesSpanAndLogs(t *testing.T) {
	spans := telemetry.RecordSpans()
	logger, logs := logging.NewRecorder(zapcore.InfoLevel)

	p, err := New(testConfig(t), Dependencies{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	span := telemetry.EndedSpan(spans, "Pipeline.Run", attribute.String("run.id", res.RunID))
	require.NotNil(t, span)
	assert.Contains(t, span.Attributes(), attribute.Int("run.links", 2))

	runID, ok := logs.StringField("run finished", "run.id")
	require.True(t, ok)
	assert.Equal(t, res.RunID, runID)
	traceID, ok := logs.StringField("run finished", "trace_id")
	require.True(t, ok)
	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)
	stage, ok := logs.StringField("classifying candidates", "stage")
	require.True(t, ok)
	assert.Equal(t, "classify", stage)
}

func TestRun_SecondRunHitsCache(t *testing.T) {
	cfg := testConfig(t)
	c := cache.New(cache.NewMemoryBackend(), cache.BackendMemory, nil)

	first, err := New(cfg, Dependencies{Cache: c}, nil)
	require.NoError(t, err)
	res1, err := first.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res1.CacheHits)

	second, err := New(cfg, Dependencies{Cache: c}, nil)
	require.NoError(t, err)
	res2, err := second.Run(context.Background())
	require.NoError(t, err)

	// Four element embeddings; the mock classifier never reads the cache.
	assert.Equal(t, int64(4), res2.CacheHits)
	assert.Equal(t, res1.Links, res2.Links)
}

// flakyClassifier fails every task whose target is failOn.
type flakyClassifier struct {
	failOn string
	calls  atomic.Int32
}

func (f *flakyClassifier) Classify(ctx context.Context, task classifier.ClassificationTask) (classifier.Result, error) {
	f.calls.Add(1)
	if task.Target.ID() == f.failOn {
		return classifier.Result{Task: task}, errors.New("oracle unavailable")
	}
	return classifier.MockClassifier{}.Classify(ctx, task)
}

func (f *flakyClassifier) Name() string { return "flaky" }

func TestRun_PartialFailure(t *testing.T) {
	flaky := &flakyClassifier{failOn: "L2.txt"}
	p, err := New(testConfig(t), Dependencies{Classifier: flaky}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTasksFailed)
	assert.Contains(t, err.Error(), "oracle unavailable")

	assert.Equal(t, []knowledge.TraceLink{knowledge.NewTraceLink("UC1", "L1")}, res.Links)
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, int32(2), flaky.calls.Load())
}

func TestRun_SentenceGranularityAggregatesToArtifacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.SourcePreprocessor = config.NewModuleConfig("sentence", nil)
	cfg.TraceLinkPostprocessor = config.NewModuleConfig("identity", nil)

	p, err := New(cfg, Dependencies{}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	// Each single-sentence requirement contributes one compare-eligible
	// child; links are reported against the artifact.
	assert.Equal(t, 4, res.SourceElements)
	assert.Equal(t, 2, res.Tasks)
	assert.Equal(t, []knowledge.TraceLink{
		knowledge.NewTraceLink("UC1.txt", "L1.txt"),
		knowledge.NewTraceLink("UC2.txt", "L2.txt"),
	}, res.Links)
}

func TestRun_MissingCorpus(t *testing.T) {
	cfg := testConfig(t)
	cfg.TargetArtifactProvider.Args["path"] = filepath.Join(t.TempDir(), "absent")

	p, err := New(cfg, Dependencies{}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target corpus")
	assert.NotErrorIs(t, err, ErrTasksFailed)
}

func TestRun_Cancelled(t *testing.T) {
	p, err := New(testConfig(t), Dependencies{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_UnknownModules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"provider", func(c *config.Config) { c.SourceArtifactProvider.Name = "xml" }, "source artifact provider"},
		{"preprocessor", func(c *config.Config) { c.TargetPreprocessor.Name = "paragraph" }, "target preprocessor"},
		{"aggregator", func(c *config.Config) { c.ResultAggregator.Name = "majority" }, "result aggregator"},
		{"postprocessor", func(c *config.Config) { c.TraceLinkPostprocessor.Name = "sad_code" }, "postprocessor"},
		{"embeddings", func(c *config.Config) { c.EmbeddingCreator.Name = "word2vec" }, "embedding creator"},
		{"classifier", func(c *config.Config) { c.Classifier.Name = "psychic" }, "classifier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(cfg, Dependencies{}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
