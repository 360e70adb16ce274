// Package config loads pipeline configuration from a YAML file with
// environment variable overrides. Configuration is explicit: it is loaded
// once and passed into components at construction, never read through
// package globals.
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

// Config is the resolved pipeline configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Retry    RetryConfig    `yaml:"retry"`
	Audit    AuditConfig    `yaml:"audit"`
	LogLevel string         `yaml:"log_level"`
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	Temperature float64 `yaml:"temperature"`
}

// Timeout returns the request timeout as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ChunkingConfig bounds document splitting and chunk extraction.
type ChunkingConfig struct {
	MaxChars    int `yaml:"max_chars"`
	Concurrency int `yaml:"concurrency"`
}

// RetryConfig bounds the retry controller.
type RetryConfig struct {
	MaxValidationAttempts int `yaml:"max_validation_attempts"`
	MaxRateLimitRetries   int `yaml:"max_rate_limit_retries"`
}

// AuditConfig configures the optional SQLite audit trail.
type AuditConfig struct {
	DBPath string `yaml:"db_path"` // empty = audit disabled
}

// DefaultConfigPath is where Load looks when no path is given.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".credex", "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			TimeoutSecs: 120,
			Temperature: 0.1,
		},
		Chunking: ChunkingConfig{
			MaxChars:    24000,
			Concurrency: 1,
		},
		Retry: RetryConfig{
			MaxValidationAttempts: 3,
			MaxRateLimitRetries:   5,
		},
		LogLevel: "info",
	}
}

// Load reads path (or the default location when path is empty), applies
// environment overrides, and fills remaining gaps with defaults. A missing
// file is not an error; env and defaults still apply.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", resolved, uerr)
		}
	case os.IsNotExist(err):
		// fall through to env + defaults
	default:
		return Config{}, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// applyEnv overlays CREDEX_* environment variables on the file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CREDEX_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("CREDEX_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CREDEX_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CREDEX_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CREDEX_AUDIT_DB"); v != "" {
		cfg.Audit.DBPath = v
	}
	if v := os.Getenv("CREDEX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CREDEX_CHUNK_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Chunking.MaxChars = n
		}
	}
	if v := os.Getenv("CREDEX_CHUNK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Chunking.Concurrency = n
		}
	}
}

// applyDefaults fills zero values left by a sparse config file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.TimeoutSecs <= 0 {
		cfg.LLM.TimeoutSecs = def.LLM.TimeoutSecs
	}
	if cfg.Chunking.MaxChars <= 0 {
		cfg.Chunking.MaxChars = def.Chunking.MaxChars
	}
	if cfg.Chunking.Concurrency <= 0 {
		cfg.Chunking.Concurrency = def.Chunking.Concurrency
	}
	if cfg.Retry.MaxValidationAttempts <= 0 {
		cfg.Retry.MaxValidationAttempts = def.Retry.MaxValidationAttempts
	}
	if cfg.Retry.MaxRateLimitRetries <= 0 {
		cfg.Retry.MaxRateLimitRetries = def.Retry.MaxRateLimitRetries
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}
