// Package config provides configuration management for the analytics hub
// backend.
//
// # Configuration Hierarchy
//
// Configuration is assembled from these sources, highest priority last:
//  1. Default values in code (see Default)
//  2. config/base.yaml, common to every environment
//  3. config/{environment}.yaml, selected by the ENVIRONMENT variable
//  4. Environment variables
//
// An explicit file (the --config flag or CONFIG_FILE) replaces steps 2 and
// 3. YAML and JSON are accepted; durations are written as "30s" in both.
//
// # Environment Variables
//
// Variables are derived from the section and field names:
//
//	ENVIRONMENT, SERVICE_NAME, SERVICE_VERSION
//	SERVER_HOST, SERVER_PORT, SERVER_REQUEST_TIMEOUT, SERVER_ALLOWED_ORIGINS
//	LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT, LOG_DEBUG
//	METRICS_HISTOGRAM_RETENTION, METRICS_CLOUDWATCH_ENABLED, METRICS_CLOUDWATCH_NAMESPACE
//	HEALTH_PROBE_TIMEOUT, HEALTH_MAX_CONCURRENCY, HEALTH_BREAKER_CONSECUTIVE_FAILURES
//	ALERTS_EVALUATION_INTERVAL, ALERTS_INCLUDE_DEFAULTS
//	TRACING_ENABLED, TRACING_ENDPOINT, TRACING_SAMPLE_RATE
//	DATABASE_URL, DATABASE_PING_TIMEOUT
//
// Alert rules can only be set from files.
//
// # Hot Reload
//
// Watcher re-runs the loader when a watched file changes and hands the new
// configuration to registered callbacks. Only settings that are safe to
// swap at runtime (log level, alert rules) are applied by the server; the
// rest take effect on restart.
package config
