package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var (
	recordOnce sync.Once
	recorder   *tracetest.SpanRecorder
)

// RecordSpans points the global tracer provider at an in-memory recorder
// and returns it. Tracers taken from otel.Tracer before the first global
// provider was set stay bound to it, so the recorder is installed once per
// process and shared by every caller.
func RecordSpans() *tracetest.SpanRecorder {
	recordOnce.Do(func() {
		recorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	})
	return recorder
}

// EndedSpan returns the first ended span called name that carries attr,
// or nil.
func EndedSpan(rec *tracetest.SpanRecorder, name string, attr attribute.KeyValue) sdktrace.ReadOnlySpan {
	for _, s := range rec.Ended() {
		if s.Name() != name {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv == attr {
				return s
			}
		}
	}
	return nil
}
