// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for aichat.
//
// Supports both TOML and JSON formats with sensible defaults, environment
// variable overrides, and validation. There is no global config instance:
// the loaded Config is constructed once and injected into the components
// that need it.
//
// Configuration file locations (in order of precedence):
//   - ~/.aichat/config.toml
//   - ~/.aichat/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/aichat-tui/internal/openrouter"
	"github.com/jeranaias/aichat-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete aichat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Gateway (OpenRouter) configuration
	Gateway GatewayConfig `toml:"gateway" json:"gateway"`

	// Chat behavior configuration
	Chat ChatConfig `toml:"chat" json:"chat"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`

	// Storage configuration
	Storage StorageConfig `toml:"storage" json:"storage"`
}

// GatewayConfig contains OpenRouter gateway configuration.
type GatewayConfig struct {
	// APIKey is the OpenRouter API key ("sk-or-...").
	APIKey string `toml:"api_key" json:"api_key"`
	// BaseURL overrides the gateway endpoint. Empty means the default.
	BaseURL string `toml:"base_url" json:"base_url"`
	// Model is the default model identifier or alias.
	Model string `toml:"model" json:"model"`
	// TimeoutSecs bounds a non-streaming request.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// SiteURL and SiteName populate the identification headers.
	SiteURL  string `toml:"site_url" json:"site_url"`
	SiteName string `toml:"site_name" json:"site_name"`
}

// ChatConfig contains turn and conversation behavior configuration.
type ChatConfig struct {
	// SystemPrompt is sent at the head of every request when set.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`
	// WindowSize is how many recent messages each request carries.
	WindowSize int `toml:"window_size" json:"window_size"`
	// Temperature is the sampling temperature (0.0-2.0).
	Temperature float64 `toml:"temperature" json:"temperature"`
	// MaxTokens caps the completion length.
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
	// TurnTimeoutSecs bounds a whole streaming turn.
	TurnTimeoutSecs int `toml:"turn_timeout_secs" json:"turn_timeout_secs"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// ShowStats displays per-message generation statistics
	ShowStats bool `toml:"show_stats" json:"show_stats"`
	// CompactMode uses a more compact UI layout
	CompactMode bool `toml:"compact_mode" json:"compact_mode"`
	// Markdown renders assistant output as markdown
	Markdown bool `toml:"markdown" json:"markdown"`
}

// StorageConfig contains conversation persistence configuration.
type StorageConfig struct {
	// Enabled controls whether conversations persist across sessions.
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the SQLite database path (empty = default ~/.aichat/conversations.db).
	Path string `toml:"path" json:"path"`
	// MaxConversations bounds how many conversations are retained; the
	// oldest are pruned past the limit. 0 means unlimited.
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Gateway: GatewayConfig{
			APIKey:      "",
			BaseURL:     openrouter.DefaultBaseURL,
			Model:       openrouter.DefaultModel,
			TimeoutSecs: 60,
			SiteURL:     "https://aichat.local",
			SiteName:    "aichat",
		},

		Chat: ChatConfig{
			SystemPrompt:    "",
			WindowSize:      10,
			Temperature:     openrouter.DefaultTemperature,
			MaxTokens:       openrouter.DefaultMaxTokens,
			TurnTimeoutSecs: 120,
		},

		UI: UIConfig{
			Theme:       "dark",
			ShowStats:   true,
			CompactMode: false,
			Markdown:    true,
		},

		Storage: StorageConfig{
			Enabled:          true,
			Path:             "",
			MaxConversations: 200,
		},
	}
}

// Timeout returns the gateway request timeout as a duration.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// TurnTimeout returns the whole-turn deadline as a duration.
func (c ChatConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the aichat configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".aichat"), nil
}

// PathTOML returns the path to the TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the JSON config file.
func PathJSON() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files hold the API key and must be owner read/write only.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default location.
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if tomlPath, err := PathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}
	if jsonPath, err := PathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file with full
// normalization: defaults filled, env overrides applied, validated.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := loadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := loadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func loadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems; warn, don't fail.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// loadJSON loads configuration from a JSON file.
func loadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Ensure permissions are correct even if the file already existed.
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# aichat configuration file")
	fmt.Fprintln(file, "# Generated by aichat - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file. The write is atomic
// with fsync so a crash never leaves a half-written config.
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Gateway.BaseURL != "" {
		if u, err := url.Parse(c.Gateway.BaseURL); err != nil || u.Scheme == "" {
			errs = append(errs, ValidationError{
				Field:   "gateway.base_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Gateway.BaseURL),
			})
		}
	}
	if c.Gateway.APIKey != "" && !openrouter.ValidateAPIKey(c.Gateway.APIKey) {
		errs = append(errs, ValidationError{
			Field:   "gateway.api_key",
			Message: "does not look like an OpenRouter key (expected sk-or-...)",
		})
	}
	if c.Gateway.TimeoutSecs < 1 || c.Gateway.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "gateway.timeout_secs",
			Message: fmt.Sprintf("must be 1-600, got %d", c.Gateway.TimeoutSecs),
		})
	}

	if c.Chat.WindowSize < 1 || c.Chat.WindowSize > 200 {
		errs = append(errs, ValidationError{
			Field:   "chat.window_size",
			Message: fmt.Sprintf("must be 1-200, got %d", c.Chat.WindowSize),
		})
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "chat.temperature",
			Message: fmt.Sprintf("must be 0.0-2.0, got %g", c.Chat.Temperature),
		})
	}
	if c.Chat.MaxTokens < 1 || c.Chat.MaxTokens > 128000 {
		errs = append(errs, ValidationError{
			Field:   "chat.max_tokens",
			Message: fmt.Sprintf("must be 1-128000, got %d", c.Chat.MaxTokens),
		})
	}
	if c.Chat.TurnTimeoutSecs < 1 || c.Chat.TurnTimeoutSecs > 3600 {
		errs = append(errs, ValidationError{
			Field:   "chat.turn_timeout_secs",
			Message: fmt.Sprintf("must be 1-3600, got %d", c.Chat.TurnTimeoutSecs),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if c.Storage.MaxConversations < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.max_conversations",
			Message: "must be non-negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills missing or zero-value fields with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = defaults.Gateway.BaseURL
	}
	if c.Gateway.Model == "" {
		c.Gateway.Model = defaults.Gateway.Model
	}
	if c.Gateway.TimeoutSecs == 0 {
		c.Gateway.TimeoutSecs = defaults.Gateway.TimeoutSecs
	}
	if c.Gateway.SiteURL == "" {
		c.Gateway.SiteURL = defaults.Gateway.SiteURL
	}
	if c.Gateway.SiteName == "" {
		c.Gateway.SiteName = defaults.Gateway.SiteName
	}

	if c.Chat.WindowSize == 0 {
		c.Chat.WindowSize = defaults.Chat.WindowSize
	}
	if c.Chat.Temperature == 0 {
		c.Chat.Temperature = defaults.Chat.Temperature
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = defaults.Chat.MaxTokens
	}
	if c.Chat.TurnTimeoutSecs == 0 {
		c.Chat.TurnTimeoutSecs = defaults.Chat.TurnTimeoutSecs
	}

	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}

	if c.Storage.MaxConversations == 0 {
		c.Storage.MaxConversations = defaults.Storage.MaxConversations
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - OPENROUTER_API_KEY: overrides gateway.api_key
//   - AICHAT_MODEL: overrides gateway.model
//   - AICHAT_BASE_URL: overrides gateway.base_url
//   - AICHAT_SYSTEM_PROMPT: overrides chat.system_prompt
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}
	if model := os.Getenv("AICHAT_MODEL"); model != "" {
		c.Gateway.Model = model
	}
	if base := os.Getenv("AICHAT_BASE_URL"); base != "" {
		c.Gateway.BaseURL = base
	}
	if prompt := os.Getenv("AICHAT_SYSTEM_PROMPT"); prompt != "" {
		c.Chat.SystemPrompt = prompt
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// StoragePath resolves the conversation database path, applying the default
// location when unset.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations.db"), nil
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation for debugging. The API key is
// redacted so the output is safe to log.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Gateway.APIKey != "" {
		safe.Gateway.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
