package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cipherworks/fhemarket/pkg/models"
)

// Config holds all configuration for the marketplace server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Market   MarketConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// MarketConfig carries the marketplace policy knobs.
type MarketConfig struct {
	// MinStake is the collateral floor in base units of the settlement
	// currency. Stakes below it are rejected and acceptance requires at
	// least this much free collateral.
	MinStake int64
	// DisputePeriod is the contest window after result submission.
	DisputePeriod time.Duration
	// Arbiter is the privileged address allowed to settle early and
	// resolve disputes.
	Arbiter models.Address
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("FHEMARKET_PORT", 8080),
			Env:  envString("FHEMARKET_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Market: MarketConfig{
			MinStake:      envInt64("MARKET_MIN_STAKE", 100_000_000),
			DisputePeriod: envDuration("MARKET_DISPUTE_PERIOD", 72*time.Hour),
		},
	}

	if raw := os.Getenv("MARKET_ARBITER_ADDRESS"); raw != "" {
		addr, err := models.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("MARKET_ARBITER_ADDRESS: %w", err)
		}
		cfg.Market.Arbiter = addr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Market.MinStake <= 0 {
		return fmt.Errorf("MARKET_MIN_STAKE must be positive, got %d", c.Market.MinStake)
	}

	if c.Market.DisputePeriod <= 0 {
		return fmt.Errorf("MARKET_DISPUTE_PERIOD must be positive, got %s", c.Market.DisputePeriod)
	}

	if c.Market.Arbiter == "" {
		return fmt.Errorf("MARKET_ARBITER_ADDRESS is required")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
