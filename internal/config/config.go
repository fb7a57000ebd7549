// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hperssn/dailypractice/internal/quirk"
)

type Config struct {
	Addr string `env:"PRACTICE_ADDR" envDefault:":8080"`

	StoreDriver string `env:"PRACTICE_STORE_DRIVER" envDefault:"sqlite"`
	StoreDSN    string `env:"PRACTICE_STORE_DSN" envDefault:"practice.db"`
	RecordCodec string `env:"PRACTICE_RECORD_CODEC" envDefault:"json"`
	CatalogPath string `env:"PRACTICE_CATALOG" envDefault:"catalog.yaml"`

	TickInterval       time.Duration `env:"PRACTICE_TICK_INTERVAL" envDefault:"500ms"`
	CheckpointInterval time.Duration `env:"PRACTICE_CHECKPOINT_INTERVAL" envDefault:"1s"`
	ExpiryThreshold    time.Duration `env:"PRACTICE_EXPIRY_THRESHOLD" envDefault:"1s"`
	SweepInterval      time.Duration `env:"PRACTICE_SWEEP_INTERVAL" envDefault:"5s"`

	// Platform is assumed for clients that do not send X-Client-Platform.
	Platform         string        `env:"PRACTICE_PLATFORM"`
	GracePlatforms   []string      `env:"PRACTICE_GRACE_PLATFORMS" envSeparator:"," envDefault:"android"`
	ClearGracePeriod time.Duration `env:"PRACTICE_CLEAR_GRACE_PERIOD" envDefault:"1s"`

	AutoStart bool `env:"PRACTICE_AUTO_START" envDefault:"true"`

	LogLevel  string `env:"PRACTICE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config from the environment and checks it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: PRACTICE_ADDR is empty")
	}
	for name, d := range map[string]time.Duration{
		"PRACTICE_TICK_INTERVAL":       c.TickInterval,
		"PRACTICE_CHECKPOINT_INTERVAL": c.CheckpointInterval,
		"PRACTICE_EXPIRY_THRESHOLD":    c.ExpiryThreshold,
		"PRACTICE_SWEEP_INTERVAL":      c.SweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	if c.ClearGracePeriod < 0 {
		return fmt.Errorf("config: PRACTICE_CLEAR_GRACE_PERIOD must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Platforms is the clear-policy selector for client platform classes.
func (c Config) Platforms() quirk.Selector {
	return quirk.Selector{
		GracePlatforms: c.GracePlatforms,
		Period:         c.ClearGracePeriod,
		Default:        c.Platform,
	}
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid PRACTICE_LOG_LEVEL %q", s)
	}
	return level, nil
}
