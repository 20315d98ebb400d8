package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/huddlehq/huddle/pkg/authz"
	"github.com/huddlehq/huddle/pkg/observability"
	"github.com/huddlehq/huddle/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth configuration
	Auth AuthConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Janitor configuration (background maintenance)
	Janitor JanitorConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// RoleSeedsPath optionally points at a YAML file overriding the starter
	// role set applied when a team is created.
	RoleSeedsPath string
}

// AuthConfig holds identity collaborator settings. Bearer tokens are verified
// against the identity service; Huddle never mints or stores tokens itself.
type AuthConfig struct {
	// IdentityURL is the base URL of the identity service's verify endpoint.
	IdentityURL string
	// InsecureLocal accepts the principal email as the bearer token. Local
	// development only.
	InsecureLocal bool
	// VerifyTimeout bounds each identity service call.
	VerifyTimeout time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// JanitorConfig holds schedules and retention for background maintenance.
type JanitorConfig struct {
	// InvitationSweepSchedule is a cron expression for expiring stale
	// invitations.
	InvitationSweepSchedule string
	// AuditPruneSchedule is a cron expression for pruning old audit rows.
	AuditPruneSchedule string
	// AuditRetention is how long audit rows are kept.
	AuditRetention time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
		Janitor:       loadJanitorConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HUDDLE_HOST", "0.0.0.0"),
		Port:            getEnv("HUDDLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("HUDDLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("HUDDLE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("HUDDLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("HUDDLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("HUDDLE_HEALTH_PORT", "9090"),
		RoleSeedsPath:   getEnv("HUDDLE_ROLE_SEEDS", ""),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if pgURL := getEnv("HUDDLE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("HUDDLE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = storage.ParseReplicaURLs(replicaURLs)
	}
	if maxConns := getEnvInt("HUDDLE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idleConns := getEnvInt("HUDDLE_POSTGRES_IDLE_CONNS", 0); idleConns > 0 {
		cfg.MaxIdleConns = idleConns
	}
	if lifetime := getEnvDuration("HUDDLE_POSTGRES_CONN_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.ConnMaxLifetime = lifetime
	}
	if idleTime := getEnvDuration("HUDDLE_POSTGRES_CONN_MAX_IDLE_TIME", 0); idleTime > 0 {
		cfg.ConnMaxIdleTime = idleTime
	}
	if timeout := getEnvDuration("HUDDLE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.ConnectTimeout = timeout
	}

	if redisURL := getEnv("HUDDLE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("HUDDLE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("HUDDLE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisPoolSize := getEnvInt("HUDDLE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadAuthConfig loads identity collaborator configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		IdentityURL:   getEnv("HUDDLE_IDENTITY_URL", ""),
		InsecureLocal: getEnvBool("HUDDLE_AUTH_INSECURE_LOCAL", false),
		VerifyTimeout: getEnvDuration("HUDDLE_AUTH_VERIFY_TIMEOUT", 5*time.Second),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("HUDDLE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("HUDDLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("HUDDLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("HUDDLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("HUDDLE_OTEL_SERVICE_NAME", "huddle"),
		OTelServiceVersion: getEnv("HUDDLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("HUDDLE_OTEL_INSECURE", true),
	}
}

// loadJanitorConfig loads background maintenance configuration from environment
func loadJanitorConfig() JanitorConfig {
	return JanitorConfig{
		InvitationSweepSchedule: getEnv("HUDDLE_INVITATION_SWEEP_SCHEDULE", "@every 1h"),
		AuditPruneSchedule:      getEnv("HUDDLE_AUDIT_PRUNE_SCHEDULE", "@daily"),
		AuditRetention:          getEnvDuration("HUDDLE_AUDIT_RETENTION", 90*24*time.Hour),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if !c.Auth.InsecureLocal && c.Auth.IdentityURL == "" {
		return fmt.Errorf("identity URL is required unless insecure local auth is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// roleSeedFile is the YAML shape of a role seed override file.
type roleSeedFile struct {
	Roles []authz.RoleSeed `yaml:"roles"`
}

// LoadRoleSeeds reads a YAML role seed file and returns the seeds applied at
// team creation. An empty path returns nil, meaning the built-in starter set.
func LoadRoleSeeds(path string) ([]authz.RoleSeed, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role seeds file: %w", err)
	}

	var file roleSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse role seeds file: %w", err)
	}
	if len(file.Roles) == 0 {
		return nil, fmt.Errorf("role seeds file %s defines no roles", path)
	}

	for _, seed := range file.Roles {
		if strings.TrimSpace(seed.Name) == "" {
			return nil, fmt.Errorf("role seeds file %s contains a role with no name", path)
		}
	}

	return file.Roles, nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
