// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and persists localface configuration.
package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/localface/internal/util"
)

// =============================================================================
// CONFIGURATION TYPES
// =============================================================================

// Config is the root configuration for localface.
type Config struct {
	Version  int            `toml:"version" json:"version"`
	Endpoint EndpointConfig `toml:"endpoint" json:"endpoint"`
	Chat     ChatConfig     `toml:"chat" json:"chat"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
}

// EndpointConfig describes the Ollama server to talk to.
type EndpointConfig struct {
	// BaseURL is the API base including the /api prefix
	BaseURL string `toml:"base_url" json:"base_url"`

	// ProbeTimeoutSecs bounds non-streaming requests
	ProbeTimeoutSecs int `toml:"probe_timeout_secs" json:"probe_timeout_secs"`
}

// ChatConfig holds conversation defaults.
type ChatConfig struct {
	// Model is the default model for new sessions
	Model string `toml:"model" json:"model"`

	// WelcomeMessage seeds every new or cleared conversation
	WelcomeMessage string `toml:"welcome_message" json:"welcome_message"`
}

// StorageConfig controls conversation persistence.
type StorageConfig struct {
	// Dir is the conversation store directory (default: <config dir>/conversations)
	Dir string `toml:"dir" json:"dir"`

	// MaxConversations caps how many stored conversations are retained
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Endpoint: EndpointConfig{
			BaseURL:          "http://localhost:11434/api",
			ProbeTimeoutSecs: 5,
		},
		Chat: ChatConfig{
			Model:          "",
			WelcomeMessage: "Hello! How can I help you today?",
		},
		Storage: StorageConfig{
			MaxConversations: 50,
		},
	}
}

// fillDefaults replaces zero values with defaults.
func (c *Config) fillDefaults() {
	defaults := DefaultConfig()

	if c.Version == 0 {
		c.Version = defaults.Version
	}
	if c.Endpoint.BaseURL == "" {
		c.Endpoint.BaseURL = defaults.Endpoint.BaseURL
	}
	if c.Endpoint.ProbeTimeoutSecs == 0 {
		c.Endpoint.ProbeTimeoutSecs = defaults.Endpoint.ProbeTimeoutSecs
	}
	if c.Chat.WelcomeMessage == "" {
		c.Chat.WelcomeMessage = defaults.Chat.WelcomeMessage
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join(Dir(), "conversations")
	}
	if c.Storage.MaxConversations == 0 {
		c.Storage.MaxConversations = defaults.Storage.MaxConversations
	}
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the localface configuration directory (~/.localface).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".localface"
	}
	return filepath.Join(home, ".localface")
}

// TOMLPath returns the path of the TOML config file.
func TOMLPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// JSONPath returns the path of the legacy JSON config file.
func JSONPath() string {
	return filepath.Join(Dir(), "config.json")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration with the standard precedence: config.toml
// first, then legacy config.json, then built-in defaults. Environment
// overrides apply on top, and the result is validated.
func Load() (*Config, error) {
	return LoadFrom(TOMLPath(), JSONPath())
}

// LoadFrom reads configuration from explicit paths. Used by tests.
func LoadFrom(tomlPath, jsonPath string) (*Config, error) {
	cfg := &Config{}

	loaded := false
	if data, err := os.ReadFile(tomlPath); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, &ValidationError{Field: "config.toml", Message: err.Error()}
		}
		loaded = true
	}
	if !loaded && jsonPath != "" {
		if data, err := os.ReadFile(jsonPath); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, &ValidationError{Field: "config.json", Message: err.Error()}
			}
		}
	}

	cfg.fillDefaults()
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies LOCALFACE_* environment variables on top of
// the loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LOCALFACE_ENDPOINT"); v != "" {
		c.Endpoint.BaseURL = v
	}
	if v := os.Getenv("LOCALFACE_PROBE_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Endpoint.ProbeTimeoutSecs = secs
		}
	}
	if v := os.Getenv("LOCALFACE_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("LOCALFACE_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
}

// Validate checks the configuration. An endpoint URL that does not parse
// is fatal at load; nothing downstream can recover from it.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint.BaseURL)
	if err != nil {
		return &ValidationError{Field: "endpoint.base_url", Message: "invalid URL: " + err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "endpoint.base_url", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "endpoint.base_url", Message: "missing host"}
	}
	if c.Endpoint.ProbeTimeoutSecs < 0 {
		return &ValidationError{Field: "endpoint.probe_timeout_secs", Message: "must not be negative"}
	}
	if c.Storage.MaxConversations < 1 {
		return &ValidationError{Field: "storage.max_conversations", Message: "must be at least 1"}
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

const tomlHeader = `# localface configuration
# Edited values take effect on restart, or live when the watcher is enabled.

`

// SaveTOML writes the configuration to the given path atomically.
func (c *Config) SaveTOML(path string) error {
	var sb strings.Builder
	sb.WriteString(tomlHeader)
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return util.AtomicWriteFile(path, []byte(sb.String()), 0o644)
}

// =============================================================================
// GLOBAL ACCESS
// =============================================================================

var (
	globalMu     sync.RWMutex
	globalConfig *Config
	globalOnce   sync.Once
)

// Global returns the process-wide configuration, loading it on first use.
// Falls back to defaults if loading fails.
func Global() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = DefaultConfig()
			cfg.fillDefaults()
		}
		globalMu.Lock()
		globalConfig = cfg
		globalMu.Unlock()
	})

	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}
