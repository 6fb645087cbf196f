// Package config loads the mail-sentinel configuration from YAML with
// environment overrides, and supports hot reload via fsnotify.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/mail-sentinel/internal/notify"
)

// Config is the complete configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Mail       MailConfig       `yaml:"mail"`
	Filter     FilterConfig     `yaml:"filter"`
	Channels   []notify.Config  `yaml:"channels"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Logging    LoggingConfig    `yaml:"logging"`
	Serve      ServeConfig      `yaml:"serve"`
}

// StoreConfig locates the memory store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama or openai
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Dims     int    `yaml:"dims"`
}

// ClassifierConfig configures the LLM classifier gateway.
type ClassifierConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
}

// MailConfig configures the mail provider client.
type MailConfig struct {
	Token      string        `yaml:"token"`
	BaseURL    string        `yaml:"base_url"`
	Window     time.Duration `yaml:"window"` // recency window per cycle
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

// FilterConfig is the keyword rule: sender domain allow-list AND primary
// keywords AND (optionally) secondary purchase/urgency keywords.
type FilterConfig struct {
	Domains           []string `yaml:"domains"`
	PrimaryKeywords   []string `yaml:"primary_keywords"`
	SecondaryKeywords []string `yaml:"secondary_keywords"`
}

// MonitorConfig bounds cycle behavior.
type MonitorConfig struct {
	Concurrency int         `yaml:"concurrency"` // parallel candidate pipelines
	Retry       RetryConfig `yaml:"retry"`
}

// RetryConfig parameterizes the dispatch retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ServeConfig controls the serve command's scheduler and metrics endpoint.
type ServeConfig struct {
	Interval time.Duration `yaml:"interval"`
	Listen   string        `yaml:"listen"`
}

// Default returns a configuration with sane defaults. Filter rules and
// credentials must come from the file or environment.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Store: StoreConfig{Path: filepath.Join(home, ".mail-sentinel", "memory.db")},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
		},
		Classifier: ClassifierConfig{
			Enabled: true,
			Timeout: 20 * time.Second,
			RPS:     1,
		},
		Mail: MailConfig{
			Window:     24 * time.Hour,
			MaxResults: 50,
			Timeout:    30 * time.Second,
		},
		Monitor: MonitorConfig{
			Concurrency: 4,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    10 * time.Second,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Serve:   ServeConfig{Interval: 15 * time.Minute, Listen: ":9090"},
	}
}

// Load reads the YAML file at path, layers it over defaults, applies
// environment overrides and validates the result. An empty path loads
// defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets secrets and the store path come from the environment so they
// stay out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("MAIL_SENTINEL_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("GMAIL_TOKEN"); v != "" && c.Mail.Token == "" {
		c.Mail.Token = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = v
		}
		if c.Classifier.APIKey == "" {
			c.Classifier.APIKey = v
		}
	}
}

// Validate checks invariants that would otherwise surface mid-cycle.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("embedding.provider must be ollama or openai, got %q", c.Embedding.Provider)
	}
	if c.Mail.Window <= 0 {
		return fmt.Errorf("mail.window must be positive")
	}
	if c.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be positive")
	}
	seen := map[string]bool{}
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channels[%d]: name is required", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("channels[%d]: duplicate name %q", i, ch.Name)
		}
		seen[ch.Name] = true
		if ch.Type == "" {
			return fmt.Errorf("channel %q: type is required", ch.Name)
		}
	}
	return nil
}
