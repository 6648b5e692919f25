package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration. Everything mutable at runtime
// (signing key, TTLs, store endpoints) is loaded here once and passed
// into constructors explicitly; nothing reads the environment later.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	PendingTokenTTL time.Duration

	BlacklistCacheTimeout time.Duration
	BlacklistGCInterval   time.Duration

	MFAMaxAttempts   int
	MFAAttemptWindow time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	OAuthRedirectURL   string

	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Env:      envString("APP_ENV", "development"),
		HTTPAddr: envString("HTTP_ADDR", ":8080"),

		DatabaseURL: envString("DATABASE_URL", "file::memory:?cache=shared"),

		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envString("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		JWTSecret:   envString("JWT_SECRET", ""),
		JWTIssuer:   envString("JWT_ISSUER", "bugrelay"),
		JWTAudience: envString("JWT_AUDIENCE", "bugrelay-users"),

		AccessTokenTTL:  envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: envDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		PendingTokenTTL: envDuration("PENDING_TOKEN_TTL", 10*time.Minute),

		BlacklistCacheTimeout: envDuration("BLACKLIST_CACHE_TIMEOUT", 150*time.Millisecond),
		BlacklistGCInterval:   envDuration("BLACKLIST_GC_INTERVAL", time.Hour),

		MFAMaxAttempts:   envInt("MFA_MAX_ATTEMPTS", 5),
		MFAAttemptWindow: envDuration("MFA_ATTEMPT_WINDOW", 15*time.Minute),

		GoogleClientID:     envString("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: envString("GOOGLE_CLIENT_SECRET", ""),
		GitHubClientID:     envString("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: envString("GITHUB_CLIENT_SECRET", ""),
		OAuthRedirectURL:   envString("OAUTH_REDIRECT_URL", "http://localhost:8080/api/v1/auth/oauth"),

		CORSOrigins:      envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		APIRateLimitRPM:  envInt("API_RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM: envInt("AUTH_RATE_LIMIT_RPM", 30),

		OTELServiceName:           envString("OTEL_SERVICE_NAME", "bugrelay-auth"),
		OTELEnvironment:           envString("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        envBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        envBool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           envBool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: envDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		recordConfigValidationEvent(ctx, cfg.Env, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Env, "success", "none")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("validate config: JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("validate config: JWT_SECRET must be at least 32 bytes")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.PendingTokenTTL <= 0 {
		return fmt.Errorf("validate config: token TTLs must be positive")
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("validate config: access TTL must be shorter than refresh TTL")
	}
	if c.MFAMaxAttempts <= 0 {
		return fmt.Errorf("validate config: MFA_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// IsSQLite reports whether DatabaseURL points at a sqlite file rather
// than a Postgres DSN; used by the open helper in cmd.
func (c *Config) IsSQLite() bool {
	return strings.HasPrefix(c.DatabaseURL, "file:")
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return fallback
}
