package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Refresh store backends.
const (
	RefreshStoreAuto     = "auto"
	RefreshStoreMemory   = "memory"
	RefreshStorePostgres = "postgres"
	RefreshStoreRedis    = "redis"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"SPLITBILL_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"SPLITBILL_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"SPLITBILL_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"SPLITBILL_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"SPLITBILL_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"SPLITBILL_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"SPLITBILL_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SPLITBILL_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes    int           `env:"SPLITBILL_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	DatabaseURL   string `env:"SPLITBILL_DATABASE_URL"`
	DBSchema      string `env:"SPLITBILL_DB_SCHEMA" envDefault:"splitbill"`
	DBMaxConns    int32  `env:"SPLITBILL_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns    int32  `env:"SPLITBILL_DB_MIN_CONNS" envDefault:"0"`
	DBAutoMigrate bool   `env:"SPLITBILL_DB_AUTO_MIGRATE" envDefault:"false"`

	// RefreshStore selects the refresh-token backend. "auto" follows the account store.
	RefreshStore string `env:"SPLITBILL_REFRESH_STORE" envDefault:"auto"`
	RedisURL     string `env:"SPLITBILL_REDIS_URL"`
	RedisPrefix  string `env:"SPLITBILL_REDIS_PREFIX" envDefault:"splitbill:"`

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool `env:"SPLITBILL_READINESS_REQUIRE_DB" envDefault:"false"`

	// PurgeInterval is how often expired refresh records are deleted. Zero disables it.
	PurgeInterval time.Duration `env:"SPLITBILL_PURGE_INTERVAL" envDefault:"10m"`

	// If true, SPLITBILL_TOKEN_PEPPER must be set (>= 32 bytes) and fingerprints are HMAC-based.
	RequireTokenPepper bool `env:"SPLITBILL_REQUIRE_TOKEN_PEPPER" envDefault:"false"`
}

// LoadConfig loads Config from environment variables, reading .env first when present.
// Variables already set in the environment win over .env.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parseConfig()
}

func parseConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("app config: %w", err)
	}
	cfg.RefreshStore = strings.ToLower(strings.TrimSpace(cfg.RefreshStore))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.RefreshStore {
	case RefreshStoreAuto, RefreshStoreMemory:
	case RefreshStorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("app config: SPLITBILL_REFRESH_STORE=postgres requires SPLITBILL_DATABASE_URL")
		}
	case RefreshStoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("app config: SPLITBILL_REFRESH_STORE=redis requires SPLITBILL_REDIS_URL")
		}
	default:
		return fmt.Errorf("app config: unknown SPLITBILL_REFRESH_STORE %q", c.RefreshStore)
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		return errors.New("app config: SPLITBILL_DB_MIN_CONNS exceeds SPLITBILL_DB_MAX_CONNS")
	}
	if c.PurgeInterval < 0 {
		return errors.New("app config: SPLITBILL_PURGE_INTERVAL must not be negative")
	}
	return nil
}

// refreshBackend resolves "auto".
func (c Config) refreshBackend() string {
	if c.RefreshStore != RefreshStoreAuto {
		return c.RefreshStore
	}
	if strings.TrimSpace(c.DatabaseURL) != "" {
		return RefreshStorePostgres
	}
	return RefreshStoreMemory
}
