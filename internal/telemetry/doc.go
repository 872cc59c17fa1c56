// Package telemetry sets up OpenTelemetry for ratlr runs.
//
// Traces and metrics are exported over OTLP (gRPC or HTTP/protobuf) or
// printed to stderr. Logs are exported over OTLP gRPC through the zap
// bridge in package logging. When telemetry is disabled the global no-op
// providers stay in place, so instrumented code never checks the flag.
//
//	tel, err := telemetry.New(ctx, telemetry.FromRunConfig(cfg.Telemetry, version))
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.WithoutCancel(ctx))
package telemetry
