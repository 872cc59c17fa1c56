// Package cache is a content-addressed, write-once cache for expensive
// model calls (embeddings and oracle replies).
//
// Values are stored under a Key's canonical string; the local fingerprint
// only labels spans and logs. Concurrent misses on the same canonical key
// share a single computation, and a failed computation is
// never written, so a rerun retries exactly the work that did not finish.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSerialization is returned when a key or value cannot be encoded
	// or a stored value cannot be decoded.
	ErrSerialization = errors.New("cache serialization failed")

	// ErrClosed is returned by a backend used after Close.
	ErrClosed = errors.New("cache backend is closed")

	// ErrInvalidBackend is returned for an unknown or misconfigured backend.
	ErrInvalidBackend = errors.New("invalid cache backend")
)

var tracer = otel.Tracer("ratlr.cache")

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratlr",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Lookups answered from the backend.",
	}, []string{"backend"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratlr",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Lookups not found in the backend.",
	}, []string{"backend"})

	cacheComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratlr",
		Subsystem: "cache",
		Name:      "computations_total",
		Help:      "Values computed after a miss.",
	}, []string{"backend"})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratlr",
		Subsystem: "cache",
		Name:      "errors_total",
		Help:      "Backend or computation failures.",
	}, []string{"backend"})
)

// ComputeFunc produces the value for a missing key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Stats is a snapshot of one cache's counters.
type Stats struct {
	Hits         int64
	Misses       int64
	Computations int64
	Errors       int64
}

// Cache fronts a Backend with single-flight computation. A nil *Cache is
// valid and computes every value without storing it.
type Cache struct {
	backend Backend
	name    string
	flight  singleflight.Group
	logger  *zap.Logger

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
	errors       atomic.Int64
}

// New wraps backend. name labels metrics.
func New(backend Backend, name string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{backend: backend, name: name, logger: logger}
}

// Get looks key up without computing anything.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	canon, err := key.CanonicalKey()
	if err != nil {
		return nil, false, err
	}
	v, ok, err := c.backend.Get(ctx, canon)
	if err != nil {
		c.recordError()
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if ok {
		c.recordHit()
	} else {
		c.recordMiss()
	}
	return v, ok, nil
}

// Put stores value under key unless a value is already present.
func (c *Cache) Put(ctx context.Context, key Key, value []byte) error {
	if c == nil {
		return nil
	}
	canon, err := key.CanonicalKey()
	if err != nil {
		return err
	}
	if err := c.backend.Put(ctx, canon, value); err != nil {
		c.recordError()
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// GetOrCompute returns the stored value for key, computing and storing it
// on a miss. Concurrent callers missing the same key share one
// computation. The computation is detached from ctx cancellation so one
// caller giving up does not fail the others; a cancelled caller returns
// ctx.Err() immediately.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) ([]byte, error) {
	if c == nil {
		return compute(ctx)
	}

	ctx, span := tracer.Start(ctx, "Cache.GetOrCompute")
	defer span.End()

	canon, err := key.CanonicalKey()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	local := key.LocalKey()
	span.SetAttributes(attribute.String("cache.key", local))

	v, ok, err := c.backend.Get(ctx, canon)
	if err != nil {
		c.recordError()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("cache get: %w", err)
	}
	if ok {
		c.recordHit()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return v, nil
	}
	c.recordMiss()
	span.SetAttributes(attribute.Bool("cache.hit", false))

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(canon, func() (interface{}, error) {
		// Another flight may have stored the value since our lookup.
		if v, ok, err := c.backend.Get(detached, canon); err == nil && ok {
			return v, nil
		}

		c.computations.Add(1)
		cacheComputations.WithLabelValues(c.name).Inc()
		v, err := compute(detached)
		if err != nil {
			c.recordError()
			return nil, err
		}
		if err := c.backend.Put(detached, canon, v); err != nil {
			c.recordError()
			c.logger.Warn("cache write failed", zap.String("key", local), zap.Error(err))
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Stats returns the counters accumulated since New.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Computations: c.computations.Load(),
		Errors:       c.errors.Load(),
	}
}

// Close closes the backend.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.backend.Close()
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	cacheHits.WithLabelValues(c.name).Inc()
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	cacheMisses.WithLabelValues(c.name).Inc()
}

func (c *Cache) recordError() {
	c.errors.Add(1)
	cacheErrors.WithLabelValues(c.name).Inc()
}

// Resolve is GetOrCompute for JSON-encodable values.
func Resolve[T any](ctx context.Context, c *Cache, key Key, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
		}
		return b, nil
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("%w: decode %T: %w", ErrSerialization, out, err)
	}
	return out, nil
}
