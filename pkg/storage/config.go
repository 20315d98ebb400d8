package storage

import "time"

// Config holds connection settings for the backing stores.
type Config struct {
	// PostgresURL is the primary database DSN. Required.
	PostgresURL string
	// PostgresReplicaURLs are optional read replica DSNs.
	PostgresReplicaURLs []string

	// Connection pool tuning.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	// Redis connection settings. RedisURL is empty when Redis is disabled,
	// in which case rate limiting falls back to per-process state.
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// DefaultConfig returns a Config with sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		RedisPoolSize:   10,
	}
}
