package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/cache"
	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

func writeRun(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range map[string]string{
		"high/UC1.txt": "The user logs in with a password.",
		"high/UC2.txt": "The operator exports the flight report as pdf.",
		"low/L1.txt":   "Check the user password at login.",
		"low/L2.txt":   "Export report pdf for the operator flight.",
	} {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	cfg := fmt.Sprintf(`
cache_dir: %[1]s/cache
cache: {backend: sqlite}
concurrency: {workers: 2}
source_artifact_provider: {name: text, args: {artifact_type: requirement, path: %[1]s/high}}
target_artifact_provider: {name: text, args: {artifact_type: requirement, path: %[1]s/low}}
embedding_creator: {name: mock, args: {dimension: 512}}
target_store: {name: cosine_similarity, args: {max_results: "1"}}
classifier: {name: mock}
tracelinkid_postprocessor: {name: req2req}
logging: {level: error, format: console}
`, filepath.ToSlash(dir))
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestEval_PrintsReport(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runEval(context.Background(), evalOptions{configPath: writeRun(t)}, &out))

	var rep report
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, []knowledge.TraceLink{
		knowledge.NewTraceLink("UC1", "L1"),
		knowledge.NewTraceLink("UC2", "L2"),
	}, rep.Links)
	assert.Equal(t, 2, rep.Tasks)
	assert.Empty(t, rep.Error)
}

func TestEval_ResumesFromPersistentCache(t *testing.T) {
	path := writeRun(t)
	var first, second bytes.Buffer
	require.NoError(t, runEval(context.Background(), evalOptions{configPath: path}, &first))
	require.NoError(t, runEval(context.Background(), evalOptions{configPath: path}, &second))

	var rep report
	require.NoError(t, json.Unmarshal(second.Bytes(), &rep))
	assert.Equal(t, int64(4), rep.CacheHits)
}

func TestEval_WritesOutputFile(t *testing.T) {
	output := filepath.Join(t.TempDir(), "links.json")
	var stdout bytes.Buffer
	require.NoError(t, runEval(context.Background(), evalOptions{configPath: writeRun(t), outputPath: output}, &stdout))
	assert.Zero(t, stdout.Len())

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source_id": "UC1"`)
}

func TestWriteReport_RemovesTempFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory cannot be replaced by the report.
	output := filepath.Join(dir, "links.json")
	require.NoError(t, os.MkdirAll(filepath.Join(output, "keep"), 0o755))

	err := writeReport(report{RunID: "run-1", Links: []knowledge.TraceLink{}}, output, io.Discard)
	require.Error(t, err)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestEvalCmd_ConfigFormats(t *testing.T) {
	usage := newEvalCmd().Flags().Lookup("config").Usage
	for _, format := range []string{"YAML", "JSON", "TOML"} {
		assert.Contains(t, usage, format)
	}
}

func TestEval_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classifier: {name: mock}\n"), 0o600))

	err := runEval(context.Background(), evalOptions{configPath: path}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRootCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:    dev")

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"eval"})
	assert.Error(t, root.Execute(), "eval requires --config")
}

func TestMetricsServer_ServesCacheCounters(t *testing.T) {
	ms, err := startMetricsServer("127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ms.Close(context.Background()) })

	// Touch the cache so its counters are registered with samples.
	c := cache.New(cache.NewMemoryBackend(), "metrics-test", nil)
	_, _, err = c.Get(context.Background(), cache.EmbeddingKey{Model: "m", Content: "x"})
	require.NoError(t, err)

	resp, err := http.Get("http://" + ms.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `ratlr_cache_misses_total{backend="metrics-test"}`)
}
