package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the analytics engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	Health    HealthConfig    `yaml:"health"`
}

// ServerConfig controls the gRPC health listener and metrics endpoint.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig configures the Postgres metrics store.
type StoreConfig struct {
	DatabaseURL  string        `yaml:"databaseURL"`
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	SSLMode      string        `yaml:"sslMode"`
	MaxConns     int32         `yaml:"maxConns"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

// CacheConfig controls the in-process result cache and its TTL tiers.
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled"`
	SweepInterval    time.Duration `yaml:"sweepInterval"`
	MinCacheableSpan time.Duration `yaml:"minCacheableSpan"`
	MediumTTLSpan    time.Duration `yaml:"mediumTTLSpan"`
	LongTTLSpan      time.Duration `yaml:"longTTLSpan"`
	ShortTTL         time.Duration `yaml:"shortTTL"`
	MediumTTL        time.Duration `yaml:"mediumTTL"`
	LongTTL          time.Duration `yaml:"longTTL"`
}

// OptimizerConfig tunes strategy selection.
type OptimizerConfig struct {
	RollupMinSpan    time.Duration    `yaml:"rollupMinSpan"`
	FineIndexMaxSpan time.Duration    `yaml:"fineIndexMaxSpan"`
	DefaultRowRate   int64            `yaml:"defaultRowRate"`
	RowRates         map[string]int64 `yaml:"rowRates"`
}

// AnomalyConfig holds z-score thresholds and the background scan schedule.
type AnomalyConfig struct {
	FlagThreshold   float64       `yaml:"flagThreshold"`
	MediumThreshold float64       `yaml:"mediumThreshold"`
	HighThreshold   float64       `yaml:"highThreshold"`
	MinSamples      int           `yaml:"minSamples"`
	MaxResults      int           `yaml:"maxResults"`
	ScanInterval    time.Duration `yaml:"scanInterval"`
	ScanWindow      time.Duration `yaml:"scanWindow"`
}

// HealthConfig controls alert health scoring.
type HealthConfig struct {
	Window    time.Duration `yaml:"window"`
	RulesPath string        `yaml:"rulesPath"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_ANALYTICS_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Store: StoreConfig{
			Host:         "localhost",
			Port:         "5432",
			SSLMode:      "disable",
			MaxConns:     10,
			QueryTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:          true,
			SweepInterval:    60 * time.Second,
			MinCacheableSpan: 15 * time.Minute,
			MediumTTLSpan:    4 * time.Hour,
			LongTTLSpan:      24 * time.Hour,
			ShortTTL:         60 * time.Second,
			MediumTTL:        300 * time.Second,
			LongTTL:          600 * time.Second,
		},
		Optimizer: OptimizerConfig{
			RollupMinSpan:    4 * time.Hour,
			FineIndexMaxSpan: time.Hour,
			DefaultRowRate:   360,
			RowRates: map[string]int64{
				"system":   3600,
				"app":      720,
				"business": 60,
			},
		},
		Anomaly: AnomalyConfig{
			FlagThreshold:   2.5,
			MediumThreshold: 2.8,
			HighThreshold:   3.5,
			MinSamples:      30,
			MaxResults:      100,
			ScanInterval:    5 * time.Minute,
			ScanWindow:      time.Hour,
		},
		Health: HealthConfig{
			Window: 30 * 24 * time.Hour,
		},
	}
}

// Validate rejects settings that would make the engine misbehave.
func (c Config) Validate() error {
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweepInterval must be positive")
	}
	if c.Cache.ShortTTL <= 0 || c.Cache.MediumTTL < c.Cache.ShortTTL || c.Cache.LongTTL < c.Cache.MediumTTL {
		return fmt.Errorf("cache TTL tiers must be positive and non-decreasing")
	}
	if c.Cache.MediumTTLSpan > c.Cache.LongTTLSpan {
		return fmt.Errorf("cache.mediumTTLSpan must not exceed cache.longTTLSpan")
	}
	a := c.Anomaly
	if a.FlagThreshold <= 0 || a.MediumThreshold < a.FlagThreshold || a.HighThreshold < a.MediumThreshold {
		return fmt.Errorf("anomaly thresholds must satisfy 0 < flag <= medium <= high")
	}
	if a.MinSamples < 2 {
		return fmt.Errorf("anomaly.minSamples must be at least 2")
	}
	if a.MaxResults <= 0 {
		return fmt.Errorf("anomaly.maxResults must be positive")
	}
	if c.Health.Window <= 0 {
		return fmt.Errorf("health.window must be positive")
	}
	if c.Optimizer.DefaultRowRate <= 0 {
		return fmt.Errorf("optimizer.defaultRowRate must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_ANALYTICS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("PGHOST"); v != "" {
		cfg.Store.Host = v
	}
	if v := os.Getenv("PGPORT"); v != "" {
		cfg.Store.Port = v
	}
	if v := os.Getenv("PGUSER"); v != "" {
		cfg.Store.User = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		cfg.Store.Database = v
	}
	if v := os.Getenv("PGSSLMODE"); v != "" {
		cfg.Store.SSLMode = v
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_STORE_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_STORE_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.QueryTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_CACHE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.SweepInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_ANOMALY_FLAG_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anomaly.FlagThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_ANOMALY_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Anomaly.MinSamples = n
		}
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_ANOMALY_SCAN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Anomaly.ScanInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_ANALYTICS_HEALTH_RULES_PATH"); v != "" {
		cfg.Health.RulesPath = v
	}
}
