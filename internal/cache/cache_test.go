package cache

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ratlr/internal/config"
)

func TestKeys_Canonical(t *testing.T) {
	k := NewScorerKey("Is {a} linked to {b}?", "req-1 / code-2")
	canonical, err := k.CanonicalKey()
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt":"Is {a} linked to {b}?","content":"req-1 / code-2"}`, canonical)

	scoped, err := k.ForModel("gpt-4o-mini").CanonicalKey()
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"gpt-4o-mini","prompt":"Is {a} linked to {b}?","content":"req-1 / code-2"}`, scoped)

	assert.Equal(t, k.LocalKey(), ScorerKey{Prompt: k.Prompt, Content: k.Content}.LocalKey())
	assert.NotEqual(t, k.LocalKey(), NewScorerKey(k.Prompt, "other").LocalKey())
	assert.NotEqual(t, k.LocalKey(), k.ForModel("gpt-4o-mini").LocalKey())
}

func TestKeys_DistinctKinds(t *testing.T) {
	scorer := NewScorerKey("m", "c")
	embedding := EmbeddingKey{Model: "", Content: "m"}
	assert.NotEqual(t, scorer.LocalKey(), embedding.LocalKey())

	// Length prefixes keep shifted boundaries apart.
	assert.NotEqual(t,
		EmbeddingKey{Model: "ab", Content: "c"}.LocalKey(),
		EmbeddingKey{Model: "a", Content: "bc"}.LocalKey())
}

// floatKey cannot be encoded when Weight is NaN.
type floatKey struct {
	Weight float64 `json:"weight"`
}

func (k floatKey) CanonicalKey() (string, error) { return canonical(k) }
func (k floatKey) LocalKey() string              { return "float" }

func TestKeys_SerializationError(t *testing.T) {
	k := floatKey{Weight: math.NaN()}
	_, err := k.CanonicalKey()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSerialization)

	c := New(NewMemoryBackend(), "memory", nil)
	_, err = c.GetOrCompute(context.Background(), k, func(context.Context) ([]byte, error) {
		t.Fatal("compute must not run for an unserializable key")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestCache_GetOrCompute(t *testing.T) {
	c := New(NewMemoryBackend(), "memory", zaptest.NewLogger(t))
	ctx := context.Background()
	key := EmbeddingKey{Model: "m", Content: "hello"}

	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte("v1"), nil
	}

	v, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	v, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
	assert.Equal(t, 1, calls)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Computations)
}

func TestCache_FailuresAreNotStored(t *testing.T) {
	backend := NewMemoryBackend()
	c := New(backend, "memory", nil)
	ctx := context.Background()
	key := NewScorerKey("p", "c")
	boom := errors.New("rate limited")

	_, err := c.GetOrCompute(ctx, key, func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, backend.Len())

	v, err := c.GetOrCompute(ctx, key, func(context.Context) ([]byte, error) { return []byte("yes"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), v)
	assert.Equal(t, int64(1), c.Stats().Errors)
}

func TestCache_ConcurrentMissesComputeOnce(t *testing.T) {
	c := New(NewMemoryBackend(), "memory", nil)
	key := NewScorerKey("p", "shared")

	var computed atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		computed.Add(1)
		<-release
		return []byte("answer"), nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), key, compute)
		}(i)
	}

	// Give every caller time to join the flight before it completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("answer"), results[i])
	}
	assert.Equal(t, int32(1), computed.Load())
}

func TestCache_CancelledCallerDoesNotAbortComputation(t *testing.T) {
	backend := NewMemoryBackend()
	c := New(backend, "memory", nil)
	key := NewScorerKey("p", "slow")

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, error) {
		defer close(done)
		close(started)
		<-release
		return []byte("late"), ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, key, compute)
		errCh <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	<-done
	require.Eventually(t, func() bool { return backend.Len() == 1 }, time.Second, 10*time.Millisecond)

	v, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("late"), v)
}

func TestCache_NilComputesWithoutStoring(t *testing.T) {
	var c *Cache
	calls := 0
	for i := 0; i < 2; i++ {
		v, err := c.GetOrCompute(context.Background(), NewScorerKey("p", "c"), func(context.Context) ([]byte, error) {
			calls++
			return []byte("x"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), v)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, Stats{}, c.Stats())
	assert.NoError(t, c.Close())
}

func TestResolve(t *testing.T) {
	c := New(NewMemoryBackend(), "memory", nil)
	ctx := context.Background()
	key := EmbeddingKey{Model: "m", Content: "text"}

	calls := 0
	compute := func(context.Context) ([]float32, error) {
		calls++
		return []float32{0.5, -1, 2}, nil
	}

	first, err := Resolve(ctx, c, key, compute)
	require.NoError(t, err)
	second, err := Resolve(ctx, c, key, compute)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []float32{0.5, -1, 2}, second)
	assert.Equal(t, 1, calls)
}

func TestResolve_DecodeError(t *testing.T) {
	c := New(NewMemoryBackend(), "memory", nil)
	ctx := context.Background()
	key := EmbeddingKey{Model: "m", Content: "text"}
	require.NoError(t, c.Put(ctx, key, []byte("not json")))

	_, err := Resolve(ctx, c, key, func(context.Context) ([]float32, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrSerialization)
}

// backendContract runs the write-once contract against any backend.
func backendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Put(ctx, "k", []byte("first")))
	require.NoError(t, b.Put(ctx, "k", []byte("second")))

	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("first"), v)
}

func TestBackends(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		b := NewMemoryBackend()
		backendContract(t, b)
		require.NoError(t, b.Close())
		_, _, err := b.Get(context.Background(), "k")
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("badger in memory", func(t *testing.T) {
		b, err := OpenBadger(BadgerConfig{InMemory: true, Logger: zaptest.NewLogger(t)})
		require.NoError(t, err)
		defer b.Close()
		backendContract(t, b)
	})

	t.Run("sqlite", func(t *testing.T) {
		b, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "cache.db"))
		require.NoError(t, err)
		defer b.Close()
		backendContract(t, b)
	})
}

func TestBadger_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "k", []byte("kept")))
	require.NoError(t, b.Close())

	b, err = OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer b.Close()
	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("kept"), v)
}

// sharedFingerprintKey gives every value the same local fingerprint.
type sharedFingerprintKey struct {
	Content string `json:"content"`
}

func (k sharedFingerprintKey) CanonicalKey() (string, error) { return canonical(k) }
func (k sharedFingerprintKey) LocalKey() string              { return "same" }

func TestCache_StoresUnderCanonicalKey(t *testing.T) {
	backend := NewMemoryBackend()
	c := New(backend, "memory", nil)
	ctx := context.Background()
	key := NewScorerKey("p", "content")

	_, err := c.GetOrCompute(ctx, key, func(context.Context) ([]byte, error) { return []byte("yes"), nil })
	require.NoError(t, err)

	canon, err := key.CanonicalKey()
	require.NoError(t, err)
	v, ok, err := backend.Get(ctx, canon)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("yes"), v)

	_, ok, err = backend.Get(ctx, key.LocalKey())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_SharedFingerprintDoesNotShareValues(t *testing.T) {
	c := New(NewMemoryBackend(), "memory", nil)
	ctx := context.Background()

	a, err := c.GetOrCompute(ctx, sharedFingerprintKey{Content: "a"}, func(context.Context) ([]byte, error) {
		return []byte("A"), nil
	})
	require.NoError(t, err)
	b, err := c.GetOrCompute(ctx, sharedFingerprintKey{Content: "b"}, func(context.Context) ([]byte, error) {
		return []byte("B"), nil
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("A"), a)
	assert.Equal(t, []byte("B"), b)
	assert.Equal(t, int64(2), c.Stats().Computations)
}

func TestBadger_LongKeys(t *testing.T) {
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	long := `{"content":"` + strings.Repeat("x", maxDirectKeySize) + `"}`
	require.NoError(t, b.Put(ctx, long, []byte("linked")))

	v, ok, err := b.Get(ctx, long)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("linked"), v)

	_, ok, err = b.Get(ctx, long+" ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnvelope_KeyMismatchIsMiss(t *testing.T) {
	sealed := sealEnvelope("first", []byte("value"))

	v, ok, err := openEnvelope("first", sealed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), v)

	_, ok, err = openEnvelope("second", sealed)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = openEnvelope("first", []byte{0xff})
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{name: "default is badger", backend: ""},
		{name: "badger", backend: BackendBadger},
		{name: "sqlite", backend: BackendSQLite},
		{name: "memory", backend: BackendMemory},
		{name: "unknown", backend: "redis", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Open(config.CacheConfig{Backend: tt.backend}, t.TempDir(), zaptest.NewLogger(t))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBackend)
				return
			}
			require.NoError(t, err)
			defer c.Close()

			ctx := context.Background()
			key := EmbeddingKey{Model: "m", Content: tt.name}
			require.NoError(t, c.Put(ctx, key, []byte("v")))
			v, ok, err := c.Get(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("v"), v)
		})
	}
}
