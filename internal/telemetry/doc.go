// Package telemetry sets up OpenTelemetry trace and metric providers for
// extractd. Components obtain tracers and meters through otel.Tracer and
// otel.Meter with their own instrumentation name; this package only
// installs the global providers and flushes them on shutdown.
package telemetry
