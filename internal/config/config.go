// Package config provides Viper-based configuration loading for the server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// HTTPConfig holds listener and websocket settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// AllowedOrigins lists browser origins accepted for CORS and websocket upgrades.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ReadLimit caps a single inbound websocket message; canvas snapshots are large.
	ReadLimit int64 `mapstructure:"read_limit"`
	// ReadTimeout closes a connection that sends nothing for this long. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds a single outbound websocket write.
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	CreateRateLimit  int           `mapstructure:"create_rate_limit"`
	CreateRateWindow time.Duration `mapstructure:"create_rate_window"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// InpaintConfig holds the external image-completion endpoint.
type InpaintConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Size is the square edge, in pixels, the canvas and mask are resized to.
	Size int `mapstructure:"size"`
}

// ArchiveConfig enables the concluded-game archive when DSN is non-empty.
type ArchiveConfig struct {
	DSN          string        `mapstructure:"dsn"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SessionConfig sizes the per-session and per-connection channels.
type SessionConfig struct {
	InboxSize  int `mapstructure:"inbox_size"`
	OutboxSize int `mapstructure:"outbox_size"`
}

// Config is the top-level application configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Inpaint InpaintConfig `mapstructure:"inpaint"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Session SessionConfig `mapstructure:"session"`
}

// Validate checks all configuration invariants and reports every violation.
func (c Config) Validate() error {
	var err error

	if c.HTTP.Addr == "" {
		err = multierr.Append(err, errors.New("http.addr must not be empty"))
	}
	if c.HTTP.ReadLimit < 1024 {
		err = multierr.Append(err, fmt.Errorf("http.read_limit must be >= 1024, got %d", c.HTTP.ReadLimit))
	}
	if c.HTTP.ReadTimeout < 0 {
		err = multierr.Append(err, errors.New("http.read_timeout must not be negative"))
	}
	if c.HTTP.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("http.write_timeout must be positive"))
	}
	if c.HTTP.CreateRateLimit < 1 {
		err = multierr.Append(err, fmt.Errorf("http.create_rate_limit must be >= 1, got %d", c.HTTP.CreateRateLimit))
	}
	if c.HTTP.CreateRateWindow <= 0 {
		err = multierr.Append(err, errors.New("http.create_rate_window must be positive"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		err = multierr.Append(err, fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		err = multierr.Append(err, fmt.Errorf("logging.format must be one of [json, console], got %q", c.Logging.Format))
	}

	if c.Inpaint.URL == "" {
		err = multierr.Append(err, errors.New("inpaint.url must not be empty"))
	}
	if c.Inpaint.Timeout <= 0 {
		err = multierr.Append(err, errors.New("inpaint.timeout must be positive"))
	}
	if c.Inpaint.Size < 8 || c.Inpaint.Size%8 != 0 {
		err = multierr.Append(err, fmt.Errorf("inpaint.size must be a positive multiple of 8, got %d", c.Inpaint.Size))
	}

	if c.Archive.DSN != "" && c.Archive.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("archive.write_timeout must be positive when archive.dsn is set"))
	}

	if c.Session.InboxSize < 1 {
		err = multierr.Append(err, fmt.Errorf("session.inbox_size must be >= 1, got %d", c.Session.InboxSize))
	}
	if c.Session.OutboxSize < 1 {
		err = multierr.Append(err, fmt.Errorf("session.outbox_size must be >= 1, got %d", c.Session.OutboxSize))
	}

	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and DUET_* environment overrides, then validates it.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetEnvPrefix("DUET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Inpaint.Token == "" {
		cfg.Inpaint.Token = os.Getenv("HF_API_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("http.read_limit", 8<<20)
	v.SetDefault("http.read_timeout", "0s")
	v.SetDefault("http.write_timeout", "5s")
	v.SetDefault("http.create_rate_limit", 30)
	v.SetDefault("http.create_rate_window", "1m")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("inpaint.url", "https://api-inference.huggingface.co/models/runwayml/stable-diffusion-inpainting")
	v.SetDefault("inpaint.token", "")
	v.SetDefault("inpaint.timeout", "60s")
	v.SetDefault("inpaint.size", 512)

	v.SetDefault("archive.dsn", "")
	v.SetDefault("archive.write_timeout", "10s")

	v.SetDefault("session.inbox_size", 64)
	v.SetDefault("session.outbox_size", 64)
}
