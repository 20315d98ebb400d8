// Package storage bootstraps connections to the backing stores: the
// PostgreSQL primary (plus optional read replicas) that holds all team and
// authorization state, and the optional Redis instance used for distributed
// rate limiting.
package storage
