// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	HUDDLE_HOST="0.0.0.0"
//	HUDDLE_PORT="8080"
//	HUDDLE_HEALTH_PORT="9090"
//	HUDDLE_READ_TIMEOUT="15s"
//	HUDDLE_WRITE_TIMEOUT="15s"
//	HUDDLE_ROLE_SEEDS="/etc/huddle/roles.yaml"
//
// Storage settings:
//
//	HUDDLE_POSTGRES_URL="postgres://localhost/huddle"
//	HUDDLE_POSTGRES_REPLICA_URLS="postgres://replica-1/huddle,postgres://replica-2/huddle"
//	HUDDLE_POSTGRES_MAX_CONNS="25"
//	HUDDLE_REDIS_URL="redis://localhost:6379"
//	HUDDLE_REDIS_POOL_SIZE="10"
//
// Auth settings:
//
//	HUDDLE_IDENTITY_URL="http://identity.internal/v1/verify"
//	HUDDLE_AUTH_INSECURE_LOCAL="false"
//
// Observability settings:
//
//	HUDDLE_LOG_LEVEL="info"  # debug, info, warn, error
//	HUDDLE_METRICS_ENABLED="true"
//	HUDDLE_OTEL_ENABLED="true"
//	HUDDLE_OTEL_ENDPOINT="otel-collector:4317"
//
// Janitor settings:
//
//	HUDDLE_INVITATION_SWEEP_SCHEDULE="@every 1h"
//	HUDDLE_AUDIT_PRUNE_SCHEDULE="@daily"
//	HUDDLE_AUDIT_RETENTION="2160h"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
