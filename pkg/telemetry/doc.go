// Package telemetry provides reactive.Observer implementations for
// Prometheus metrics, OpenTelemetry tracing and debug logging.
//
// Observers are attached when the runtime is created and can be combined
// with reactive.Observers:
//
//	rt := reactive.NewRuntime(reactive.WithObserver(reactive.Observers(
//	    telemetry.NewMetrics(telemetry.WithNamespace("myapp")),
//	    telemetry.NewTracer(),
//	)))
package telemetry
