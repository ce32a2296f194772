package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Hermes   HermesConfig   `yaml:"hermes"`
	Redis    RedisConfig    `yaml:"redis"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
	TTLSec    int    `yaml:"ttl_sec"`
}

// ScoringConfig holds the bounds every scoring component works within.
type ScoringConfig struct {
	MaxScale        float64 `yaml:"max_scale"`
	DefaultWeight   float64 `yaml:"default_weight"`
	MinWeight       float64 `yaml:"min_weight"`
	MaxWeight       float64 `yaml:"max_weight"`
	ImportanceMin   int     `yaml:"importance_min"`
	ImportanceMax   int     `yaml:"importance_max"`
	Normalization   string  `yaml:"normalization"`
	DefaultTopFlags int     `yaml:"default_top_flags"`
	MaxAnswers      int     `yaml:"max_answers"`
}

type RefreshConfig struct {
	Schedule string `yaml:"schedule"`
	OnRating bool   `yaml:"on_rating"`
	Timezone string `yaml:"timezone"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.TTLSec) * time.Second
}

// SlogLevel maps logging.level onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultScoringConfig returns the platform defaults: scale 0–10, weights in [1,5]
// defaulting to 3, importance ratings in [1,5].
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MaxScale:        10,
		DefaultWeight:   3,
		MinWeight:       1,
		MaxWeight:       5,
		ImportanceMin:   1,
		ImportanceMax:   5,
		Normalization:   "zscore",
		DefaultTopFlags: 5,
		MaxAnswers:      65,
	}
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Redis: RedisConfig{
			KeyPrefix: "redflag",
			TTLSec:    0,
		},
		Scoring: DefaultScoringConfig(),
		Refresh: RefreshConfig{
			Schedule: "@every 15m",
			OnRating: true,
			Timezone: "UTC",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects scoring bounds that would make the engine undefined.
func (c *Config) Validate() error {
	s := c.Scoring
	if s.MaxScale <= 0 {
		return fmt.Errorf("scoring.max_scale must be positive, got %v", s.MaxScale)
	}
	if s.MinWeight <= 0 || s.MinWeight > s.MaxWeight {
		return fmt.Errorf("scoring weight bounds invalid: [%v, %v]", s.MinWeight, s.MaxWeight)
	}
	if s.DefaultWeight < s.MinWeight || s.DefaultWeight > s.MaxWeight {
		return fmt.Errorf("scoring.default_weight %v outside [%v, %v]", s.DefaultWeight, s.MinWeight, s.MaxWeight)
	}
	if s.ImportanceMin >= s.ImportanceMax {
		return fmt.Errorf("scoring importance range invalid: [%d, %d]", s.ImportanceMin, s.ImportanceMax)
	}
	switch s.Normalization {
	case "zscore", "mean":
	default:
		return fmt.Errorf("scoring.normalization must be zscore or mean, got %q", s.Normalization)
	}
	if s.DefaultTopFlags <= 0 {
		return fmt.Errorf("scoring.default_top_flags must be positive, got %d", s.DefaultTopFlags)
	}
	if s.MaxAnswers <= 0 {
		return fmt.Errorf("scoring.max_answers must be positive, got %d", s.MaxAnswers)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REDFLAG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("REDFLAG_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("REDFLAG_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("REDFLAG_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDFLAG_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("REDFLAG_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDFLAG_REFRESH_SCHEDULE"); v != "" {
		cfg.Refresh.Schedule = v
	}
	if v := os.Getenv("REDFLAG_REFRESH_ON_RATING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Refresh.OnRating = b
		}
	}
	if v := os.Getenv("REDFLAG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
