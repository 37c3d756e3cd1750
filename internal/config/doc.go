// Package config provides configuration management for the pulse-scan
// ingestion and threshold fit pipeline.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources, later ones winning:
//
//	1. Default values (Default)
//	2. An optional YAML file passed to Load
//	3. Environment variables prefixed with PSCAN_
//
// # Environment Variables
//
// Nested sections map to underscore-joined names:
//
//	PSCAN_LOGGING_LEVEL=debug
//	PSCAN_SCAN_DEFAULT_PULSE_COUNT=100
//	PSCAN_FIT_MAX_ATTEMPTS=5
//	PSCAN_FIT_CONCURRENCY=8
//	PSCAN_OBSERVABILITY_METRIC_EXPORTER=prometheus
//
// # Validation
//
// Every field carries validator tags; Load rejects out-of-range values with
// a CONFIG error naming the offending YAML key.
package config
