// Package httpapi exposes the service over HTTP: JSON control endpoints,
// NDJSON chat streaming, and a WebSocket notification feed under /v1, plus
// health, readiness and Prometheus metrics.
package httpapi
