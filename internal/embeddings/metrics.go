package embeddings

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/fyrsmithlabs/ratlr/internal/embeddings"

// Metrics records embedding requests. Attributes are the model and the
// operation (embed_elements or embed_query).
type Metrics struct {
	duration metric.Float64Histogram
	texts    metric.Int64Counter
	failures metric.Int64Counter
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	// The global meter delegates to the provider telemetry installs later.
	m, err := NewMetrics(otel.Meter(meterName))
	if err != nil {
		m, _ = NewMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	return m
})

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err, e error
	m.duration, e = meter.Float64Histogram("ratlr.embedding.duration",
		metric.WithDescription("Time spent in one embedding request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	err = errors.Join(err, e)
	m.texts, e = meter.Int64Counter("ratlr.embedding.texts",
		metric.WithDescription("Texts sent for embedding."),
		metric.WithUnit("{text}"))
	err = errors.Join(err, e)
	m.failures, e = meter.Int64Counter("ratlr.embedding.failures",
		metric.WithDescription("Embedding requests that returned an error."),
		metric.WithUnit("{request}"))
	err = errors.Join(err, e)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordGeneration records one request of n texts that took d.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, d time.Duration, n int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation))
	m.duration.Record(ctx, d.Seconds(), attrs)
	m.texts.Add(ctx, int64(n), attrs)
	if err != nil {
		m.failures.Add(ctx, 1, attrs)
	}
}
