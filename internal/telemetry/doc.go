// Tracing and metrics are exported over OTLP (gRPC or HTTP/protobuf) when
// enabled in configuration:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling_rate: 1.0
//	  metrics_enabled: true
//	  export_interval: 15s
//
// Disabled telemetry falls back to the global no-op providers, so callers
// can always use Tracer and Meter.
//
// Tests use TestTelemetry:
//
//	tt := telemetry.NewTestTelemetry()
//	client, _ := solver.NewClient(solver.Config{BaseURL: url, Tracer: tt.Tracer("test")})
//	// ...
//	tt.AssertSpanExists(t, "solver.compute")
package telemetry
