// Package observability provides the logging, metrics, health and alerting
// core of the analytics hub.
//
// # Correlation
//
// Every unit of work carries a correlation id in its context.Context.
// EnsureCorrelationID creates one when absent, WithCorrelationScope binds
// one for the duration of a call, and ContextLogger stamps it on every log
// line together with the active trace and span ids.
//
// # Logging
//
// NewLogger builds a zap logger that writes one JSON object per line with
// UTC RFC 3339 timestamps. Caller fields that collide with reserved keys
// (timestamp, level, message, correlation_id and so on) are renamed to
// field_<key> and listed under field_collisions instead of overwriting the
// record.
//
// # Metrics
//
// Collector stores counters, gauges and histograms keyed by name and label
// set. Label order never matters:
//
//	c := observability.NewCollector()
//	c.IncrementCounter("requests", 1, observability.Labels{"method": "GET"})
//	c.ObserveHistogram("latency_seconds", 0.2, nil)
//	stats := c.HistogramStats("latency_seconds", nil) // Count, Avg, P50, P90, P99
//
// ExportPrometheus renders the text exposition format, and the collector
// also implements prometheus.Collector so it can be served by promhttp
// next to the Go runtime collectors (see NewRegistry).
//
// # Health and Alerts
//
// HealthChecker runs registered probes with per-probe timeouts, panic
// recovery and bounded concurrency. AlertManager evaluates threshold rules
// against any MetricSource, usually a Collector snapshot.
//
// # Tracing
//
// InitTracing installs an OpenTelemetry tracer provider exporting over
// OTLP/gRPC. TracingMiddleware and MetricsMiddleware instrument chi
// routers.
package observability
