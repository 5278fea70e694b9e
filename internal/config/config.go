// Package config provides configuration management for Shelfwise.
// It loads settings from environment variables with the SHELFWISE_ prefix,
// optionally overlaid by a YAML config file, and provides sensible defaults
// for all configuration options.
//
// Precedence, lowest to highest: built-in defaults, YAML file, environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Shelfwise recommendation
// engine.
type Config struct {
	Storage StorageConfig
	Engine  EngineConfig
	Jobs    JobsConfig
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine selects the storage backend: sqlite or postgres (default: sqlite).
	Engine string
	// DataPath is the directory holding the SQLite database file (default: ./data).
	DataPath string
	// PostgresDSN is the connection string used when Engine is postgres.
	PostgresDSN string
}

// EngineConfig contains the recommendation engine tunables.
type EngineConfig struct {
	// RequestTimeout bounds each recommendation request (default: 2s).
	RequestTimeout time.Duration
	// CacheTTL is how long computed recommendation lists stay fresh (default: 15m).
	CacheTTL time.Duration
	// PrecomputeTopN is the neighbor-list size of the similarity index (default: 20).
	PrecomputeTopN int
	// PrecomputeItemsPerSecond paces precompute batches; 0 disables pacing.
	PrecomputeItemsPerSecond float64
	// BreakerMaxFailures trips the store circuit breaker (default: 5).
	BreakerMaxFailures int
	// BreakerTimeout is how long the breaker stays open (default: 30s).
	BreakerTimeout time.Duration
}

// JobsConfig contains maintenance job configuration.
type JobsConfig struct {
	// RebuildInterval is how often the vector rebuild job runs (default: 24h).
	RebuildInterval time.Duration
	// PrecomputeInterval is how often the similarity precompute runs (default: 6h).
	PrecomputeInterval time.Duration
	// CachePruneInterval is how often expired cache rows are swept (default: 1h).
	CachePruneInterval time.Duration
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the SHELFWISE_ prefix. When
// SHELFWISE_CONFIG_FILE is set, that YAML file is applied between defaults
// and environment variables.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("SHELFWISE_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads configuration with an explicit YAML file path instead
// of the SHELFWISE_CONFIG_FILE environment variable.
func LoadConfigFile(path string) (*Config, error) {
	cfg := defaultConfig()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
		if c.Storage.DataPath == "" {
			return errors.New("config: data path is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: postgres DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}

	if c.Engine.RequestTimeout <= 0 {
		return errors.New("config: request timeout must be positive")
	}
	if c.Engine.CacheTTL <= 0 {
		return errors.New("config: cache TTL must be positive")
	}
	if c.Engine.PrecomputeTopN <= 0 {
		return errors.New("config: precompute top N must be positive")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Engine: EngineConfig{
			RequestTimeout:     2 * time.Second,
			CacheTTL:           15 * time.Minute,
			PrecomputeTopN:     20,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Jobs: JobsConfig{
			RebuildInterval:    24 * time.Hour,
			PrecomputeInterval: 6 * time.Hour,
			CachePruneInterval: time.Hour,
		},
	}
}

// fileConfig mirrors Config for YAML decoding. Durations are strings in the
// file ("2s", "15m") and parsed explicitly; numeric fields are pointers so an
// absent field is distinguishable from an explicit zero.
type fileConfig struct {
	Storage struct {
		Engine      string `yaml:"engine"`
		DataPath    string `yaml:"data_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`
	Engine struct {
		RequestTimeout           string   `yaml:"request_timeout"`
		CacheTTL                 string   `yaml:"cache_ttl"`
		PrecomputeTopN           *int     `yaml:"precompute_top_n"`
		PrecomputeItemsPerSecond *float64 `yaml:"precompute_items_per_second"`
		BreakerMaxFailures       *int     `yaml:"breaker_max_failures"`
		BreakerTimeout           string   `yaml:"breaker_timeout"`
	} `yaml:"engine"`
	Jobs struct {
		RebuildInterval    string `yaml:"rebuild_interval"`
		PrecomputeInterval string `yaml:"precompute_interval"`
		CachePruneInterval string `yaml:"cache_prune_interval"`
	} `yaml:"jobs"`
}

// applyFile overlays values from a YAML file. Fields absent from the file
// keep their current values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: failed to parse config file %s: %w", path, err)
	}

	if fc.Storage.Engine != "" {
		c.Storage.Engine = fc.Storage.Engine
	}
	if fc.Storage.DataPath != "" {
		c.Storage.DataPath = fc.Storage.DataPath
	}
	if fc.Storage.PostgresDSN != "" {
		c.Storage.PostgresDSN = fc.Storage.PostgresDSN
	}

	durations := []struct {
		raw  string
		into *time.Duration
	}{
		{fc.Engine.RequestTimeout, &c.Engine.RequestTimeout},
		{fc.Engine.CacheTTL, &c.Engine.CacheTTL},
		{fc.Engine.BreakerTimeout, &c.Engine.BreakerTimeout},
		{fc.Jobs.RebuildInterval, &c.Jobs.RebuildInterval},
		{fc.Jobs.PrecomputeInterval, &c.Jobs.PrecomputeInterval},
		{fc.Jobs.CachePruneInterval, &c.Jobs.CachePruneInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q in %s: %w", d.raw, path, err)
		}
		*d.into = parsed
	}

	if fc.Engine.PrecomputeTopN != nil {
		c.Engine.PrecomputeTopN = *fc.Engine.PrecomputeTopN
	}
	if fc.Engine.PrecomputeItemsPerSecond != nil {
		c.Engine.PrecomputeItemsPerSecond = *fc.Engine.PrecomputeItemsPerSecond
	}
	if fc.Engine.BreakerMaxFailures != nil {
		c.Engine.BreakerMaxFailures = *fc.Engine.BreakerMaxFailures
	}
	return nil
}

// applyEnv overlays values from SHELFWISE_-prefixed environment variables.
func (c *Config) applyEnv() {
	c.Storage.Engine = getEnv("SHELFWISE_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.DataPath = getEnv("SHELFWISE_DATA_PATH", c.Storage.DataPath)
	c.Storage.PostgresDSN = getEnv("SHELFWISE_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.Engine.RequestTimeout = getEnvDuration("SHELFWISE_REQUEST_TIMEOUT", c.Engine.RequestTimeout)
	c.Engine.CacheTTL = getEnvDuration("SHELFWISE_CACHE_TTL", c.Engine.CacheTTL)
	c.Engine.PrecomputeTopN = getEnvInt("SHELFWISE_PRECOMPUTE_TOP_N", c.Engine.PrecomputeTopN)
	c.Engine.PrecomputeItemsPerSecond = getEnvFloat("SHELFWISE_PRECOMPUTE_ITEMS_PER_SECOND", c.Engine.PrecomputeItemsPerSecond)
	c.Engine.BreakerMaxFailures = getEnvInt("SHELFWISE_BREAKER_MAX_FAILURES", c.Engine.BreakerMaxFailures)
	c.Engine.BreakerTimeout = getEnvDuration("SHELFWISE_BREAKER_TIMEOUT", c.Engine.BreakerTimeout)

	c.Jobs.RebuildInterval = getEnvDuration("SHELFWISE_REBUILD_INTERVAL", c.Jobs.RebuildInterval)
	c.Jobs.PrecomputeInterval = getEnvDuration("SHELFWISE_PRECOMPUTE_INTERVAL", c.Jobs.PrecomputeInterval)
	c.Jobs.CachePruneInterval = getEnvDuration("SHELFWISE_CACHE_PRUNE_INTERVAL", c.Jobs.CachePruneInterval)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the environment variable exists but cannot be parsed as an
// integer, it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("2s", "15m") or
// returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
