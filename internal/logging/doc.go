// Package logging builds the zap logger used by every ratlr command.
//
// Entries go to stderr, optionally also through the OpenTelemetry log
// bridge. Repeated entries below error level are sampled and the drops are
// counted in ratlr_log_entries_dropped_total. Credential fields and values
// that look like API keys are masked before encoding.
//
// Library packages receive a plain *zap.Logger. A run tags its context with
// WithRunID and WithStage, and For turns that context into logger fields:
//
//	ctx = logging.WithRunID(ctx, runID)
//	logging.For(logging.WithStage(ctx, "classify"), logger).Info("classifying")
package logging
