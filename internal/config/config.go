// Package config loads the engine's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML strings like "10s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for toml decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler for toml encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// API configures the conversation service endpoints.
type API struct {
	BaseURL string `toml:"base_url"`
	PushURL string `toml:"push_url"`
	// CallTimeout bounds every remote call: history fetch, submissions
	// and classifier invocations. Expiry surfaces as a failed call, never
	// a hung submit.
	CallTimeout Duration `toml:"call_timeout"`
}

// Moderation configures the content gate.
type Moderation struct {
	TextEndpoint  string `toml:"text_endpoint"`
	ImageEndpoint string `toml:"image_endpoint"`
	// FailPolicy is "closed" (classifier failure rejects) or "open"
	// (failed check is skipped and logged). Denylist hits always reject.
	FailPolicy      string             `toml:"fail_policy"`
	Denylist        []string           `toml:"denylist"`
	TextThresholds  map[string]float64 `toml:"text_thresholds"`
	ImageThresholds map[string]float64 `toml:"image_thresholds"`
}

// Channel configures push-channel reconnection.
type Channel struct {
	MaxRetries int      `toml:"max_retries"`
	Backoff    Duration `toml:"backoff"`
}

// Config is the engine configuration file.
type Config struct {
	API        API        `toml:"api"`
	Moderation Moderation `toml:"moderation"`
	Channel    Channel    `toml:"channel"`
	// Conversations the daemon opens at startup.
	Conversations []string `toml:"conversations"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: API{
			CallTimeout: Duration(10 * time.Second),
		},
		Moderation: Moderation{
			FailPolicy: "closed",
		},
		Channel: Channel{
			MaxRetries: 5,
			Backoff:    Duration(2 * time.Second),
		},
	}
}

// Load reads the config file at path, layered over Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("config %s: api.base_url is required", path)
	}
	if cfg.API.PushURL == "" {
		return nil, fmt.Errorf("config %s: api.push_url is required", path)
	}
	return cfg, nil
}

// Save writes the config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
