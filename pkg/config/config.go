// Package config provides configuration management for the hookline engine.
// It covers dispatch timing, provider selection, retry policy, watch roots,
// and the persistence backend.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hookline/hookline/pkg/store"
)

// DispatchConfig tunes the execution pipeline.
type DispatchConfig struct {
	// PacingDelay is the pause between consecutive executions drained from
	// one file's queue.
	PacingDelay time.Duration `json:"pacing_delay"`

	// RestartGrace is the settling pause a restart-mode hook waits after
	// cancelling its predecessor.
	RestartGrace time.Duration `json:"restart_grace"`

	// CooldownWindow is the per (hook, file) quiescence period enforced on
	// single-mode hooks.
	CooldownWindow time.Duration `json:"cooldown_window"`
}

// RetryConfig tunes provider-call retries.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	BaseDelay     time.Duration `json:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	Jitter        bool          `json:"jitter"`
}

// ProviderConfig describes one AI backend.
type ProviderConfig struct {
	// Name is the registry name hooks pin to.
	Name string `json:"name"`

	// Kind selects the transport: http or cli.
	Kind string `json:"kind"`

	// Endpoint overrides the HTTP API URL.
	Endpoint string `json:"endpoint,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `json:"api_key_env,omitempty"`

	// Model is the default model for this backend.
	Model string `json:"model,omitempty"`

	// Command and Args configure the cli transport.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// CallsPerMinute throttles this backend. Zero means unlimited.
	CallsPerMinute int `json:"calls_per_minute,omitempty"`
}

// WatchConfig controls the filesystem event source.
type WatchConfig struct {
	// Enabled turns the watcher on. Manual triggers work either way.
	Enabled bool `json:"enabled"`

	// Roots are the directory trees observed for file events.
	Roots []string `json:"roots,omitempty"`
}

// RunnerConfig controls how executions apply edits.
type RunnerConfig struct {
	// WorkspaceRoot confines file writes. Defaults to the working directory.
	WorkspaceRoot string `json:"workspace_root,omitempty"`

	// MaxTokens bounds each provider response.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level"`

	// Format is text or json.
	Format string `json:"format"`
}

// Config is the root configuration document.
type Config struct {
	Dispatch  DispatchConfig   `json:"dispatch"`
	Retry     RetryConfig      `json:"retry"`
	Providers []ProviderConfig `json:"providers,omitempty"`

	// DefaultProvider names the backend used by unpinned hooks. Empty means
	// the first configured provider.
	DefaultProvider string `json:"default_provider,omitempty"`

	Watch  WatchConfig  `json:"watch"`
	Runner RunnerConfig `json:"runner"`
	Store  store.Config `json:"store"`
	Log    LogConfig    `json:"log"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			PacingDelay:    500 * time.Millisecond,
			RestartGrace:   100 * time.Millisecond,
			CooldownWindow: 5 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			BaseDelay:     1 * time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			Jitter:        true,
		},
		Watch: WatchConfig{
			Enabled: true,
		},
		Store: store.Config{
			Type: "memory",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigPath returns ~/.hookline/config.json.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".hookline", "config.json"), nil
}

// Load reads a config file and fills unset fields with defaults. A missing
// file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// applyDefaults backfills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Dispatch.PacingDelay <= 0 {
		c.Dispatch.PacingDelay = defaults.Dispatch.PacingDelay
	}
	if c.Dispatch.RestartGrace <= 0 {
		c.Dispatch.RestartGrace = defaults.Dispatch.RestartGrace
	}
	if c.Dispatch.CooldownWindow <= 0 {
		c.Dispatch.CooldownWindow = defaults.Dispatch.CooldownWindow
	}

	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = defaults.Retry.MaxRetries
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = defaults.Retry.BaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = defaults.Retry.MaxDelay
	}
	if c.Retry.BackoffFactor <= 0 {
		c.Retry.BackoffFactor = defaults.Retry.BackoffFactor
	}

	if c.Store.Type == "" {
		c.Store.Type = defaults.Store.Type
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Dispatch.PacingDelay < 0 {
		return fmt.Errorf("dispatch.pacing_delay must not be negative")
	}
	if c.Dispatch.RestartGrace < 0 {
		return fmt.Errorf("dispatch.restart_grace must not be negative")
	}
	if c.Dispatch.CooldownWindow < 0 {
		return fmt.Errorf("dispatch.cooldown_window must not be negative")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not text or json", c.Log.Format)
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d] has no name", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("provider %q configured twice", p.Name)
		}
		seen[p.Name] = struct{}{}

		switch p.Kind {
		case "http":
			if p.APIKeyEnv == "" {
				return fmt.Errorf("provider %q needs api_key_env", p.Name)
			}
		case "cli":
			if p.Command == "" {
				return fmt.Errorf("provider %q needs a command", p.Name)
			}
		default:
			return fmt.Errorf("provider %q kind %q is not http or cli", p.Name, p.Kind)
		}
		if p.CallsPerMinute < 0 {
			return fmt.Errorf("provider %q calls_per_minute must not be negative", p.Name)
		}
	}

	if c.DefaultProvider != "" {
		if _, ok := seen[c.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q is not configured", c.DefaultProvider)
		}
	}

	return nil
}
