// Package config loads daemon configuration from a TOML file, with
// defaults that run out of the box.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	API       APIConfig       `toml:"api"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Cache     CacheConfig     `toml:"cache"`
	OnDemand  OnDemandConfig  `toml:"ondemand"`
	Viewport  ViewportConfig  `toml:"viewport"`
	History   HistoryConfig   `toml:"history"`
	Logging   LoggingConfig   `toml:"logging"`
}

type APIConfig struct {
	Addr  string `toml:"addr"`
	Debug bool   `toml:"debug"` // enables pprof routes
}

type SchedulerConfig struct {
	MaxConcurrent    int `toml:"max_concurrent"`
	DefaultTimeoutMs int `toml:"default_timeout_ms"`
}

type CacheConfig struct {
	DefaultTTLMs int    `toml:"default_ttl_ms"`
	MaxEntries   int    `toml:"max_entries"` // 0 means TTL-only, unbounded
	SweepEvery   string `toml:"sweep_every"` // cron spec for the expiry sweep
}

type OnDemandConfig struct {
	DefaultKind     string `toml:"default_kind"`
	BatchSize       int    `toml:"batch_size"`
	PreemptiveTTLMs int    `toml:"preemptive_ttl_ms"`
}

type ViewportConfig struct {
	Kind          string `toml:"kind"`
	PreloadBuffer int    `toml:"preload_buffer"`
	PredictWidth  int    `toml:"predict_width"`
	ItemTTLMs     int    `toml:"item_ttl_ms"`
	PredictTTLMs  int    `toml:"predict_ttl_ms"`
	ItemBytes     int    `toml:"item_bytes"`
}

type HistoryConfig struct {
	Path       string `toml:"path"`
	Retention  string `toml:"retention"`   // Go duration, e.g. "168h"
	PruneEvery string `toml:"prune_every"` // cron spec
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		API: APIConfig{Addr: ":8090"},
		Scheduler: SchedulerConfig{
			MaxConcurrent:    8,
			DefaultTimeoutMs: 30_000,
		},
		Cache: CacheConfig{
			DefaultTTLMs: 300_000,
			SweepEvery:   "@every 1m",
		},
		OnDemand: OnDemandConfig{
			DefaultKind:     "encrypt",
			BatchSize:       16,
			PreemptiveTTLMs: 600_000,
		},
		Viewport: ViewportConfig{
			Kind:          "encrypt",
			PreloadBuffer: 5,
			PredictWidth:  10,
			ItemTTLMs:     300_000,
			PredictTTLMs:  600_000,
			ItemBytes:     2048,
		},
		History: HistoryConfig{
			Path:       "hyde.db",
			Retention:  "168h",
			PruneEvery: "@every 10m",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// path is empty; a named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file: %w", err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Retention parses the history retention window.
func (c HistoryConfig) RetentionDuration() (time.Duration, error) {
	if c.Retention == "" {
		return 7 * 24 * time.Hour, nil
	}
	return time.ParseDuration(c.Retention)
}

func (c SchedulerConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMs) * time.Millisecond
}

func (c OnDemandConfig) PreemptiveTTL() time.Duration {
	return time.Duration(c.PreemptiveTTLMs) * time.Millisecond
}

func (c ViewportConfig) ItemTTL() time.Duration {
	return time.Duration(c.ItemTTLMs) * time.Millisecond
}

func (c ViewportConfig) PredictTTL() time.Duration {
	return time.Duration(c.PredictTTLMs) * time.Millisecond
}
