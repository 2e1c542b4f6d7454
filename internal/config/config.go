// Package config loads clipforge configuration from .clipforge/config.yaml
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all clipforge configuration.
type Config struct {
	// Generation gateway configuration
	Gateway GatewayConfig `yaml:"gateway"`

	// Retry policy for rate-limited gateway calls
	Retry RetryConfig `yaml:"retry"`

	// Persistent storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig configures the generative service client.
type GatewayConfig struct {
	// APIKeys lists credentials in rotation order. The first key is used
	// until quota exhaustion triggers a rotation.
	APIKeys    []string `yaml:"api_keys"`
	BaseURL    string   `yaml:"base_url"`
	Model      string   `yaml:"model"`
	ImageModel string   `yaml:"image_model"`
	Timeout    string   `yaml:"timeout"`
}

// RetryConfig configures the gateway retry policy.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries  int    `yaml:"max_retries"`
	BackoffBase string `yaml:"backoff_base"`
	BackoffMax  string `yaml:"backoff_max"`
}

// StorageConfig configures the campaign/link store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns the default configuration rooted at workspace.
func Default(workspace string) *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			Model:      "gemini-3-flash-preview",
			ImageModel: "imagen-3.0-generate-002",
			Timeout:    "2m",
		},
		Retry: RetryConfig{
			MaxRetries:  2,
			BackoffBase: "1s",
			BackoffMax:  "30s",
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(workspace, ".clipforge", "clipforge.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .clipforge/config.yaml under workspace, falling back to
// defaults when the file is absent, then applies environment overrides.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".clipforge", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies CLIPFORGE_* (and GEMINI_API_KEY as a fallback)
// environment overrides on top of file config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLIPFORGE_API_KEY"); v != "" {
		cfg.Gateway.APIKeys = splitKeys(v)
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" && len(cfg.Gateway.APIKeys) == 0 {
		cfg.Gateway.APIKeys = splitKeys(v)
	}
	if v := os.Getenv("CLIPFORGE_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("CLIPFORGE_MODEL"); v != "" {
		cfg.Gateway.Model = v
	}
	if v := os.Getenv("CLIPFORGE_IMAGE_MODEL"); v != "" {
		cfg.Gateway.ImageModel = v
	}
	if v := os.Getenv("CLIPFORGE_DB_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("CLIPFORGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("CLIPFORGE_DEBUG"); v != "" {
		cfg.Logging.DebugMode = v == "1" || strings.EqualFold(v, "true")
	}
}

func splitKeys(v string) []string {
	parts := strings.Split(v, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

// GatewayTimeout parses the gateway timeout, defaulting to 2 minutes.
func (c *Config) GatewayTimeout() time.Duration {
	return parseDuration(c.Gateway.Timeout, 2*time.Minute)
}

// RetryBackoffBase parses the base backoff delay, defaulting to 1 second.
func (c *Config) RetryBackoffBase() time.Duration {
	return parseDuration(c.Retry.BackoffBase, time.Second)
}

// RetryBackoffMax parses the backoff cap, defaulting to 30 seconds.
func (c *Config) RetryBackoffMax() time.Duration {
	return parseDuration(c.Retry.BackoffMax, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
