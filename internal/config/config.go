package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	RunLockTTL        time.Duration `mapstructure:"RUN_LOCK_TTL"`
	BatchSize         int           `mapstructure:"BATCH_SIZE"`
	Workers           int           `mapstructure:"WORKERS"`
	VocabularyVersion string        `mapstructure:"VOCABULARY_VERSION"`
	RulesFile         string        `mapstructure:"RULES_FILE"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	PushgatewayURL    string        `mapstructure:"PUSHGATEWAY_URL"`

	// API authentication for the serve command.
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
}

var envKeys = []string{
	"ENV",
	"LOG_LEVEL",
	"PORT",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"REDIS_URL",
	"RUN_LOCK_TTL",
	"BATCH_SIZE",
	"WORKERS",
	"VOCABULARY_VERSION",
	"RULES_FILE",
	"MIGRATIONS_DIR",
	"PUSHGATEWAY_URL",
	"AUTH_SIGNING_KEY",
	"AUTH_JWKS_URL",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("RUN_LOCK_TTL", "6h")
	v.SetDefault("BATCH_SIZE", 1000)
	v.SetDefault("WORKERS", 1)
	v.SetDefault("VOCABULARY_VERSION", "unversioned")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RedisURL == "" && cfg.IsProduction() {
		log.Println("WARNING: REDIS_URL is not set; concurrent pipeline runs will not be prevented.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the job is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks value ranges that viper cannot express.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.DBMaxConns < c.DBMinConns {
		return fmt.Errorf("DB_MAX_CONNS (%d) must not be lower than DB_MIN_CONNS (%d)", c.DBMaxConns, c.DBMinConns)
	}
	if int(c.DBMaxConns) < c.Workers {
		return fmt.Errorf("DB_MAX_CONNS (%d) must be at least WORKERS (%d)", c.DBMaxConns, c.Workers)
	}
	if c.RedisURL != "" && c.RunLockTTL <= 0 {
		return fmt.Errorf("RUN_LOCK_TTL must be positive when REDIS_URL is set")
	}
	if c.AuthSigningKey != "" && c.AuthJWKSURL != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY and AUTH_JWKS_URL cannot both be set")
	}
	switch c.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}
