// Package config loads and defaults the orca configuration file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for orca.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Loop       LoopConfig       `yaml:"loop"`
	Permission PermissionConfig `yaml:"permission"`
	Hooks      HooksConfig      `yaml:"hooks"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Memory     MemoryConfig     `yaml:"memory"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ProviderConfig points the chat-completions client at an OpenAI-compatible
// backend.
type ProviderConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	NativeTools bool    `yaml:"native_tools"`
}

// LoopConfig tunes the AgentLoopRunner.
type LoopConfig struct {
	MaxIterations       int           `yaml:"max_iterations"`
	AutoCompactFraction float64       `yaml:"auto_compact_fraction"`
	PreserveLastN       int           `yaml:"preserve_last_n"`
	ContextWindow       float64       `yaml:"context_window"`
	StreamIdleLimit     time.Duration `yaml:"stream_idle_limit"`
	WallClockTimeout    time.Duration `yaml:"wall_clock_timeout"`
}

// PermissionConfig seeds the PermissionGate.
type PermissionConfig struct {
	Mode                string   `yaml:"mode"`
	AllowGlobs          []string `yaml:"allow"`
	DenyGlobs           []string `yaml:"deny"`
	AutoApproveModerate bool     `yaml:"auto_approve_moderate"`
	AutoApproveAll      bool     `yaml:"auto_approve_all"`
}

// HooksConfig maps tool names (or "*") to shell commands.
type HooksConfig struct {
	Pre  map[string]string `yaml:"pre"`
	Post map[string]string `yaml:"post"`
}

// RateLimitConfig tunes the per-host outbound throttle.
type RateLimitConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
}

// MemoryConfig tunes the MemoryStore.
type MemoryConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxMemoryFiles int  `yaml:"max_memory_files"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and decodes a YAML config file at path, applying defaults for
// anything left unset. A missing file is not an error; Load returns an
// all-defaults Config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				applyDefaults(cfg)
				return cfg, nil
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("config: %s must be a single YAML document", path)
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyProviderDefaults(&cfg.Provider)
	applyLoopDefaults(&cfg.Loop)
	applyPermissionDefaults(&cfg.Permission)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyMemoryDefaults(&cfg.Memory)
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyProviderDefaults(cfg *ProviderConfig) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
}

func applyLoopDefaults(cfg *LoopConfig) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 25
	}
	if cfg.AutoCompactFraction == 0 {
		cfg.AutoCompactFraction = 0.8
	}
	if cfg.PreserveLastN == 0 {
		cfg.PreserveLastN = 4
	}
	if cfg.ContextWindow == 0 {
		cfg.ContextWindow = 128_000
	}
	if cfg.StreamIdleLimit == 0 {
		cfg.StreamIdleLimit = 120 * time.Second
	}
}

func applyPermissionDefaults(cfg *PermissionConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "normal"
	}
}

func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 1500 * time.Millisecond
	}
}

func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.MaxMemoryFiles == 0 {
		cfg.MaxMemoryFiles = 50
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
}
