// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// realmsSegment separates the Keycloak base URL from the realm name in an issuer URL.
const realmsSegment = "/realms/"

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   int    `env:"PORT" envDefault:"5556"`

	// Database (PostgreSQL)
	DatabaseURL   string `env:"DATABASE_URL,required"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	// Cache (Redis). Optional; enables login rate limiting when set.
	RedisURL string `env:"REDIS_URL" envDefault:""`

	// Identity provider (Keycloak). When KEYCLOAK_ISSUER_URL is empty the
	// issuer is KEYCLOAK_URL/realms/KEYCLOAK_REALM.
	KeycloakIssuerURL    string        `env:"KEYCLOAK_ISSUER_URL"`
	KeycloakURL          string        `env:"KEYCLOAK_URL" envDefault:"http://localhost:8080"`
	KeycloakRealm        string        `env:"KEYCLOAK_REALM" envDefault:"murasaki-poc"`
	KeycloakClientID     string        `env:"KEYCLOAK_CLIENT_ID" envDefault:"elysia-backend"`
	KeycloakClientSecret string        `env:"KEYCLOAK_CLIENT_SECRET" envDefault:""`
	KeycloakDiscovery    bool          `env:"KEYCLOAK_DISCOVERY" envDefault:"false"`
	IDPTimeout           time.Duration `env:"IDP_TIMEOUT" envDefault:"5s"`
	TokenLeeway          time.Duration `env:"TOKEN_LEEWAY" envDefault:"0s"`
	JWKSRefreshCooldown  time.Duration `env:"JWKS_REFRESH_COOLDOWN" envDefault:"30s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting for the login endpoint (per client IP)
	RateLimitLoginRPS   int `env:"RATE_LIMIT_LOGIN_RPS" envDefault:"1"`
	RateLimitLoginBurst int `env:"RATE_LIMIT_LOGIN_BURST" envDefault:"5"`

	// Comma-separated proxy IPs or CIDRs whose X-Forwarded-For is honoured.
	// Empty means the client IP is always the connection's remote address.
	TrustedProxies string `env:"TRUSTED_PROXIES" envDefault:""`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Issuer returns the trusted issuer URL without a trailing slash.
// Tokens are accepted only when their iss claim equals this value exactly.
func (c *Config) Issuer() string {
	if c.KeycloakIssuerURL != "" {
		return strings.TrimRight(c.KeycloakIssuerURL, "/")
	}
	return strings.TrimRight(c.KeycloakURL, "/") + realmsSegment + c.KeycloakRealm
}

// KeycloakBaseURL returns the Keycloak server URL (the issuer with the
// /realms/<name> suffix removed).
func (c *Config) KeycloakBaseURL() string {
	issuer := c.Issuer()
	if i := strings.Index(issuer, realmsSegment); i >= 0 {
		return issuer[:i]
	}
	return issuer
}

// Realm returns the realm encoded in the issuer URL, falling back to KEYCLOAK_REALM.
func (c *Config) Realm() string {
	issuer := c.Issuer()
	if i := strings.Index(issuer, realmsSegment); i >= 0 {
		if realm := strings.Trim(issuer[i+len(realmsSegment):], "/"); realm != "" {
			return realm
		}
	}
	return c.KeycloakRealm
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// GetTrustedProxies parses the comma-separated trusted proxy list.
func (c *Config) GetTrustedProxies() []string {
	return splitList(c.TrustedProxies)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Load parses environment variables and returns a Config.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment take precedence.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.KeycloakIssuerURL == "" && (c.KeycloakURL == "" || c.KeycloakRealm == "") {
		return errors.New("KEYCLOAK_ISSUER_URL or both KEYCLOAK_URL and KEYCLOAK_REALM must be set")
	}
	if c.IDPTimeout <= 0 {
		return errors.New("IDP_TIMEOUT must be positive")
	}
	if c.JWKSRefreshCooldown < 0 {
		return errors.New("JWKS_REFRESH_COOLDOWN must not be negative")
	}
	return nil
}
