// Package config loads the anvil runtime configuration from TOML.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the runtime configuration of the anvil CLI.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Store    StoreConfig    `toml:"store"`
	Retry    RetryConfig    `toml:"retry"`
	Shell    ShellConfig    `toml:"shell"`
	Observer ObserverConfig `toml:"observer"`
	Workflow string         `toml:"workflow"`
}

// ProviderConfig selects and authenticates the LLM backend.
type ProviderConfig struct {
	// Kind is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Kind    string `toml:"kind"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// StoreConfig selects the conversation persistence backend.
type StoreConfig struct {
	// Backend is "sqlite", "postgres", or "" for no persistence.
	Backend string `toml:"backend"`
	// Path is the SQLite database file.
	Path string `toml:"path"`
	// DSN is the Postgres connection string.
	DSN string `toml:"dsn"`
}

// RetryConfig tunes the per-turn retry policy.
type RetryConfig struct {
	InitialBackoffMS int     `toml:"initial_backoff_ms"`
	BackoffFactor    float64 `toml:"backoff_factor"`
	MaxRetryAttempts int     `toml:"max_retry_attempts"`
}

// ShellConfig tunes the shell tool.
type ShellConfig struct {
	Workspace      string `toml:"workspace"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ObserverConfig toggles OTEL export.
type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	cwd, _ := os.Getwd()
	return Config{
		Provider: ProviderConfig{Kind: "openai", BaseURL: "https://api.openai.com/v1"},
		Store:    StoreConfig{Backend: "sqlite", Path: "anvil.db"},
		Retry:    RetryConfig{InitialBackoffMS: 200, BackoffFactor: 2, MaxRetryAttempts: 3},
		Shell:    ShellConfig{Workspace: cwd, TimeoutSeconds: 30},
		Workflow: "workflow.toml",
	}
}

// Load reads the config file at path, applying defaults for absent fields.
// Environment variables override credentials: ANVIL_API_KEY wins over the
// file value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if key := os.Getenv("ANVIL_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if cfg.Shell.Workspace != "" {
		if abs, err := filepath.Abs(cfg.Shell.Workspace); err == nil {
			cfg.Shell.Workspace = abs
		}
	}
	return cfg, nil
}
