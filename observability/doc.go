// Package observability provides an OpenTelemetry lifecycle extension for
// workpool. The MetricsExtension implements ext hooks to record
// system-wide counters for enqueue, claim, success, retry, failure,
// cancellation and reap events, labeled by pool.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
