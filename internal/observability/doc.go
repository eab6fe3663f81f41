// Package observability provides structured logging and metrics for the
// gateway.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT
//   - access and security loggers for inspected requests
//   - header redaction applied before anything is logged
//   - Prometheus metrics for verdicts, rule matches and dependency failures
package observability
