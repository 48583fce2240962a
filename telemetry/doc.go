// Package telemetry wires OpenTelemetry tracing and the service's metric
// instruments. Tracing is opt-in: without an OTLP endpoint Setup installs
// nothing and returns a no-op shutdown.
package telemetry
