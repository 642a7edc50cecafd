package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Cache      CacheConfig      `yaml:"cache"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Sources    []SourceConfig   `yaml:"sources"`
	Limits     LimitsConfig     `yaml:"limits"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`

	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`

	// MaxURLLength caps the reconstructed URL accepted by the lookup API.
	MaxURLLength int `yaml:"max_url_length"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type CacheConfig struct {
	Enabled    *bool  `yaml:"enabled"`
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
}

type AggregatorConfig struct {
	// SourceTimeout bounds each individual source lookup.
	SourceTimeout string `yaml:"source_timeout"`
	// OverallTimeout bounds a whole URL check.
	OverallTimeout string `yaml:"overall_timeout"`
	// CoalesceRequests shares one in-flight aggregation among concurrent
	// identical queries.
	CoalesceRequests *bool `yaml:"coalesce_requests"`
}

// SourceConfig defines a single threat-intelligence source.
type SourceConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // "file" or "http"

	// File source fields.
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // "csv" or "json"
	Watch  bool   `yaml:"watch"`

	// HTTP source fields.
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
}

type LimitsConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == "" {
		cfg.Server.ReadTimeout = "10s"
	}
	if cfg.Server.WriteTimeout == "" {
		cfg.Server.WriteTimeout = "30s"
	}
	if cfg.Server.MaxURLLength <= 0 {
		cfg.Server.MaxURLLength = 2048
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Cache.Enabled == nil {
		enabled := true
		cfg.Cache.Enabled = &enabled
	}
	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = "1h"
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 10000
	}
	if cfg.Aggregator.SourceTimeout == "" {
		cfg.Aggregator.SourceTimeout = "5s"
	}
	if cfg.Aggregator.OverallTimeout == "" {
		cfg.Aggregator.OverallTimeout = "10s"
	}
	if cfg.Aggregator.CoalesceRequests == nil {
		coalesce := true
		cfg.Aggregator.CoalesceRequests = &coalesce
	}
	if cfg.Limits.RateLimit.RPS <= 0 {
		cfg.Limits.RateLimit.RPS = 50
	}
	if cfg.Limits.RateLimit.Burst <= 0 {
		cfg.Limits.RateLimit.Burst = 100
	}
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.Type == "file" && s.Format == "" {
			s.Format = "csv"
		}
		if s.Type == "http" && s.Method == "" {
			s.Method = "GET"
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("URLSENTRY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("URLSENTRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("URLSENTRY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("URLSENTRY_CACHE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = &enabled
		}
	}
	if v := os.Getenv("URLSENTRY_CACHE_TTL"); v != "" {
		cfg.Cache.TTL = v
	}
	if v := os.Getenv("URLSENTRY_SOURCE_TIMEOUT"); v != "" {
		cfg.Aggregator.SourceTimeout = v
	}
	if v := os.Getenv("URLSENTRY_OVERALL_TIMEOUT"); v != "" {
		cfg.Aggregator.OverallTimeout = v
	}
}

func validateConfig(cfg *Config) error {
	durations := map[string]string{
		"server.read_timeout":        cfg.Server.ReadTimeout,
		"server.write_timeout":       cfg.Server.WriteTimeout,
		"cache.ttl":                  cfg.Cache.TTL,
		"aggregator.source_timeout":  cfg.Aggregator.SourceTimeout,
		"aggregator.overall_timeout": cfg.Aggregator.OverallTimeout,
	}
	for field, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", field)
		}
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", cfg.Logging.Format)
	}

	seen := make(map[string]struct{}, len(cfg.Sources))
	for i, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}

		switch s.Type {
		case "file":
			if s.Path == "" {
				return fmt.Errorf("source %q: path is required for file sources", s.Name)
			}
			if s.Format != "csv" && s.Format != "json" {
				return fmt.Errorf("source %q: format %q is not one of csv, json", s.Name, s.Format)
			}
		case "http":
			if s.URL == "" {
				return fmt.Errorf("source %q: url is required for http sources", s.Name)
			}
			if s.Method != "GET" && s.Method != "POST" {
				return fmt.Errorf("source %q: method %q is not one of GET, POST", s.Name, s.Method)
			}
		default:
			return fmt.Errorf("source %q: type %q is not one of file, http", s.Name, s.Type)
		}
	}
	return nil
}

// Duration accessors. Validation guarantees these parse; they return the
// documented defaults if somehow called on an unvalidated config.

func (c ServerConfig) ReadTimeoutDuration() time.Duration {
	return parseDuration(c.ReadTimeout, 10*time.Second)
}

func (c ServerConfig) WriteTimeoutDuration() time.Duration {
	return parseDuration(c.WriteTimeout, 30*time.Second)
}

func (c CacheConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL, time.Hour)
}

// IsEnabled reports whether caching is on; an unset flag means enabled.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c AggregatorConfig) SourceTimeoutDuration() time.Duration {
	return parseDuration(c.SourceTimeout, 5*time.Second)
}

func (c AggregatorConfig) OverallTimeoutDuration() time.Duration {
	return parseDuration(c.OverallTimeout, 10*time.Second)
}

// ShouldCoalesce reports whether identical in-flight queries are shared; an
// unset flag means yes.
func (c AggregatorConfig) ShouldCoalesce() bool {
	return c.CoalesceRequests == nil || *c.CoalesceRequests
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
