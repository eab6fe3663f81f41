package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Rate limit counter backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Inspection    InspectionConfig
	RateLimit     RateLimitConfig
	Anomaly       AnomalyConfig
	Alert         AlertConfig
	Audit         AuditConfig
	Admin         AdminConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int           `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	// UpstreamURL is the protected application. Empty serves the built-in demo routes.
	UpstreamURL string `validate:"omitempty,url"`
}

// DatabaseConfig holds PostgreSQL configuration. It is optional: with an
// empty URL security events are kept in memory and the postgres counter
// backend is unavailable.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int `validate:"gte=0"`
	MaxIdleConns    int `validate:"gte=0"`
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the Redis connection used by the redis counter backend
type RedisConfig struct {
	URL string
}

// InspectionConfig controls request inspection
type InspectionConfig struct {
	MaxRequestSize    int64 `validate:"gt=0"`
	TrustProxyHeaders bool
	XSS               bool
	SQLInjection      bool
	PathTraversal     bool
	// RulesFile is an optional YAML pattern catalogue, watched for changes.
	RulesFile      string
	IPWhitelist    []string
	PathWhitelist  []string
	AllowedMethods []string `validate:"min=1,dive,required"`
}

// RateLimitConfig holds limiter configuration
type RateLimitConfig struct {
	Limit        int           `validate:"gt=0"`
	Window       time.Duration `validate:"gt=0"`
	Backend      string        `validate:"oneof=memory redis postgres"`
	FailOpen     bool
	StoreTimeout time.Duration `validate:"gt=0"`
}

// AnomalyConfig configures the ML scoring stage
type AnomalyConfig struct {
	Enabled   bool
	Threshold float64       `validate:"gte=0,lte=1"`
	ScorerURL string        `validate:"omitempty,url"`
	Timeout   time.Duration `validate:"gt=0"`
}

// AlertConfig configures alert delivery
type AlertConfig struct {
	WebhookURL string        `validate:"omitempty,url"`
	Timeout    time.Duration `validate:"gt=0"`
}

// AuditConfig configures security event retention
type AuditConfig struct {
	RetentionDays int `validate:"gte=0"`
	PruneSchedule string
}

// AdminConfig configures the admin API
type AdminConfig struct {
	// JWTSecret signs admin bearer tokens. Empty disables the admin API.
	JWTSecret string
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required"`
	LogFormat      string `validate:"oneof=json console text"`
	MetricsEnabled bool
}

var validate = validator.New()

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			UpstreamURL:     getEnv("UPSTREAM_URL", ""),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Inspection: InspectionConfig{
			MaxRequestSize:    getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024),
			TrustProxyHeaders: getEnvAsBool("TRUST_PROXY_HEADERS", false),
			XSS:               getEnvAsBool("ENABLE_XSS_PROTECTION", true),
			SQLInjection:      getEnvAsBool("ENABLE_SQL_INJECTION_PROTECTION", true),
			PathTraversal:     getEnvAsBool("ENABLE_PATH_TRAVERSAL_PROTECTION", true),
			RulesFile:         getEnv("RULES_FILE", ""),
			IPWhitelist:       getEnvAsList("IP_WHITELIST", []string{"127.0.0.1"}),
			PathWhitelist:     getEnvAsList("PATH_WHITELIST", []string{"/health", "/metrics"}),
			AllowedMethods:    getEnvAsList("ALLOWED_HTTP_METHODS", []string{"GET", "POST", "PUT", "DELETE", "PATCH"}),
		},
		RateLimit: RateLimitConfig{
			Limit:        getEnvAsInt("RATE_LIMIT", 100),
			Window:       getEnvAsSeconds("RATE_LIMIT_WINDOW", 600*time.Second),
			Backend:      strings.ToLower(getEnv("RATE_LIMIT_BACKEND", BackendMemory)),
			FailOpen:     getEnvAsBool("RATE_LIMIT_FAIL_OPEN", false),
			StoreTimeout: getEnvAsDuration("STORE_TIMEOUT", 100*time.Millisecond),
		},
		Anomaly: AnomalyConfig{
			Enabled:   getEnvAsBool("ENABLE_ML_DETECTION", true),
			Threshold: getEnvAsFloat("PREDICTION_THRESHOLD", 0.85),
			ScorerURL: getEnv("SCORER_URL", ""),
			Timeout:   getEnvAsDuration("SCORER_TIMEOUT", 500*time.Millisecond),
		},
		Alert: AlertConfig{
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
			Timeout:    getEnvAsDuration("ALERT_TIMEOUT", 2*time.Second),
		},
		Audit: AuditConfig{
			RetentionDays: getEnvAsInt("AUDIT_RETENTION_DAYS", 30),
			PruneSchedule: getEnv("AUDIT_PRUNE_SCHEDULE", "0 3 * * *"),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks field constraints and the cross-field requirements the
// tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fe := validationErrors[0]
			return fmt.Errorf("invalid %s: failed on '%s' tag", fe.Namespace(), fe.Tag())
		}
		return err
	}

	switch c.RateLimit.Backend {
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND is redis")
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when RATE_LIMIT_BACKEND is postgres")
		}
	}

	if c.IsProduction() && c.Admin.JWTSecret != "" && len(c.Admin.JWTSecret) < 32 {
		return fmt.Errorf("admin JWT secret must be at least 32 bytes in production")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Enabled reports whether a database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds accepts a bare number of seconds ("600") or a Go duration ("10m").
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(n) * time.Second
	}
	return getEnvAsDuration(key, defaultValue)
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
