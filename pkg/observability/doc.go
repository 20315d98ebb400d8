// Package observability bundles the service's operational concerns: the
// structured JSON logger used across all packages, Prometheus metrics for
// HTTP traffic and permission evaluation, liveness and readiness probes for
// the database and Redis, OTLP trace export, panic recovery helpers, and the
// graceful shutdown manager.
//
// Handlers and services take a *Logger explicitly; request-scoped loggers are
// derived through FromContext, which carries the request ID and, when a span
// is recording, the trace context.
package observability
