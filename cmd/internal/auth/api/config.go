package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool  `env:"SPLITBILL_AUTH_TRUST_PROXY"`
	MaxBodyBytes int64 `env:"SPLITBILL_AUTH_MAX_BODY_BYTES"`

	RefreshCookieName string `env:"SPLITBILL_AUTH_REFRESH_COOKIE_NAME"`
	CookiePath        string `env:"SPLITBILL_AUTH_COOKIE_PATH"`
	CookieDomain      string `env:"SPLITBILL_AUTH_COOKIE_DOMAIN"`
	CookieSecure      bool   `env:"SPLITBILL_AUTH_COOKIE_SECURE"`
	CookieSameSiteRaw string `env:"SPLITBILL_AUTH_COOKIE_SAMESITE"`
	CookieSameSite    http.SameSite

	// Token bucket per client IP on guest, register and login.
	RateLimitEvery time.Duration `env:"SPLITBILL_AUTH_RATE_EVERY"`
	RateLimitBurst int           `env:"SPLITBILL_AUTH_RATE_BURST"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TrustProxy:        false,
		MaxBodyBytes:      1 << 20, // 1 MiB
		RefreshCookieName: "splitbill_refresh",
		CookiePath:        "/auth",
		CookieSecure:      true,
		CookieSameSiteRaw: "strict",
		CookieSameSite:    http.SameSiteStrictMode,
		RateLimitEvery:    6 * time.Second,
		RateLimitBurst:    10,
	}
}

// LoadConfigFromEnv loads auth API config from environment variables with safe defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("auth api config: %w", err)
	}

	cfg.CookieSameSite = parseSameSite(cfg.CookieSameSiteRaw)
	// Browsers drop SameSite=None cookies without Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	if strings.TrimSpace(cfg.RefreshCookieName) == "" {
		cfg.RefreshCookieName = DefaultConfig().RefreshCookieName
	}
	if strings.TrimSpace(cfg.CookiePath) == "" {
		cfg.CookiePath = "/auth"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RateLimitBurst < 0 || cfg.RateLimitEvery < 0 {
		return Config{}, fmt.Errorf("auth api config: rate limit must not be negative")
	}
	return cfg, nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteStrictMode
	}
}
