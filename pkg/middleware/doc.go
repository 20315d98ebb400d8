// Package middleware provides the HTTP middleware chain shared by the API
// server: bearer-token authentication, team context resolution from the URL
// path, and rate limiting in both single-instance (in-memory token bucket)
// and multi-instance (Redis windowed counter, fail-open) flavors.
package middleware
