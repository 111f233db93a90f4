// Package config loads the viewfold YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultCacheCapacity = 1024
	DefaultFanoutWorkers = 4
	DefaultNameLength    = 20
	DefaultDatabase      = "viewfold.db"
	DefaultLogLevel      = "info"
)

// Config is the engine and CLI configuration.
type Config struct {
	// Database is the SQLite log path.
	Database string `yaml:"database"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// CacheCapacity bounds the per-aggregate single-flight caches.
	CacheCapacity int `yaml:"cache_capacity"`

	// FanoutWorkers bounds concurrent name lookups for one query.
	FanoutWorkers int `yaml:"fanout_workers"`

	// NameLength is the fallback truncation length for unnamed ids.
	NameLength int `yaml:"name_length"`

	// PollInterval makes live subscriptions re-check the log for appends
	// made by other processes. Zero disables polling.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database:      DefaultDatabase,
		LogLevel:      DefaultLogLevel,
		CacheCapacity: DefaultCacheCapacity,
		FanoutWorkers: DefaultFanoutWorkers,
		NameLength:    DefaultNameLength,
	}
}

// Load reads path and overlays it on the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.CacheCapacity <= 0 {
		errs = append(errs, fmt.Errorf("cache_capacity must be positive, got %d", c.CacheCapacity))
	}
	if c.FanoutWorkers <= 0 {
		errs = append(errs, fmt.Errorf("fanout_workers must be positive, got %d", c.FanoutWorkers))
	}
	if c.NameLength <= 0 {
		errs = append(errs, fmt.Errorf("name_length must be positive, got %d", c.NameLength))
	}
	if c.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("poll_interval must not be negative, got %s", c.PollInterval))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database must be set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	lvl, _ := ParseLevel(c.LogLevel)
	return lvl
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", name)
}
