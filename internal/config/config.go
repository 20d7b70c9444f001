package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate.
type Config struct {
	AdminUser     string
	AdminPassword string
	AdminEmail    string

	DatabaseURL string

	ListenAddr string

	// BootstrapAPIKey is created for the bootstrap admin on startup so
	// the service is usable before any dashboard exists. If empty, no
	// key is bootstrapped.
	BootstrapAPIKey string

	// Email provider (Resend-style JSON API).
	EmailEndpoint string
	EmailAPIKey   string
	EmailFrom     string

	// Google OAuth client used for Sheets refresh-token exchanges.
	GoogleClientID     string
	GoogleClientSecret string

	// RequireOriginWhenAllowlisted rejects submissions that carry no
	// Origin/Referer header when the target form has a non-empty
	// allowlist. Off by default: non-browser clients (curl, server to
	// server) bypass the allowlist, which only guards browser embedding.
	RequireOriginWhenAllowlisted bool

	// ProviderTimeout bounds every outbound call to a notification or
	// sync provider.
	ProviderTimeout time.Duration

	// VerificationTTL is how long an email recipient verification token
	// stays valid.
	VerificationTTL time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		AdminUser:          getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:      getenv("APP_ADMIN_PASSWORD", "changeme"),
		AdminEmail:         getenv("APP_ADMIN_EMAIL", ""),
		DatabaseURL:        os.Getenv("APP_DATABASE_URL"),
		ListenAddr:         getenv("APP_LISTEN_ADDR", ":8080"),
		BootstrapAPIKey:    getenv("APP_BOOTSTRAP_API_KEY", ""),
		EmailEndpoint:      getenv("APP_EMAIL_ENDPOINT", "https://api.resend.com/emails"),
		EmailAPIKey:        getenv("APP_EMAIL_API_KEY", ""),
		EmailFrom:          getenv("APP_EMAIL_FROM", "notifications@formsink.dev"),
		GoogleClientID:     getenv("APP_GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getenv("APP_GOOGLE_CLIENT_SECRET", ""),
		ProviderTimeout:    10 * time.Second,
		VerificationTTL:    48 * time.Hour,
	}

	if v := os.Getenv("APP_REQUIRE_ORIGIN_WHEN_ALLOWLISTED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireOriginWhenAllowlisted = b
		}
	}
	if v := os.Getenv("APP_PROVIDER_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ProviderTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("APP_VERIFICATION_TTL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			cfg.VerificationTTL = time.Duration(hours) * time.Hour
		}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
