// Package config handles configuration loading and management for squire.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for squire.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Context    ContextConfig    `mapstructure:"context"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	TUI        TUIConfig        `mapstructure:"tui"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// LimitsConfig bounds concurrent delegation.
type LimitsConfig struct {
	// MaxAgents is the ceiling on simultaneously running agents.
	MaxAgents int `mapstructure:"max_agents"`
	// AgentTimeout is the wall-clock timeout for one agent run.
	AgentTimeout time.Duration `mapstructure:"agent_timeout"`
}

// ContextConfig holds context window accounting settings.
type ContextConfig struct {
	// WindowSize is the model's context window in tokens.
	WindowSize int `mapstructure:"window_size"`
	// ReservedTokens is the output headroom held back from the window.
	ReservedTokens int `mapstructure:"reserved_tokens"`
	// CompactThreshold is the usable-window fraction that triggers compaction.
	CompactThreshold float64 `mapstructure:"compact_threshold"`
}

// ResilienceConfig holds retry and circuit breaker knobs.
type ResilienceConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	InitialDelay     time.Duration `mapstructure:"initial_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (SQUIRE_* for any key, plus ANTHROPIC_API_KEY / ANTHROPIC_MODEL)
// 2. Project config (.squire.yaml in current directory or parent)
// 3. User config (~/.config/squire/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// SQUIRE_LIMITS_MAX_AGENTS and friends map onto the nested keys; the
	// Anthropic credentials additionally honor their conventional names.
	v.SetEnvPrefix("SQUIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "SQUIRE_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.model", "SQUIRE_ANTHROPIC_MODEL", "ANTHROPIC_MODEL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("limits.max_agents", cfg.Limits.MaxAgents)
	v.Set("limits.agent_timeout", cfg.Limits.AgentTimeout.String())
	v.Set("context.window_size", cfg.Context.WindowSize)
	v.Set("context.reserved_tokens", cfg.Context.ReservedTokens)
	v.Set("context.compact_threshold", cfg.Context.CompactThreshold)
	v.Set("resilience.max_retries", cfg.Resilience.MaxRetries)
	v.Set("resilience.initial_delay", cfg.Resilience.InitialDelay.String())
	v.Set("resilience.max_delay", cfg.Resilience.MaxDelay.String())
	v.Set("resilience.failure_threshold", cfg.Resilience.FailureThreshold)
	v.Set("resilience.reset_timeout", cfg.Resilience.ResetTimeout.String())
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("limits.max_agents", 3)
	v.SetDefault("limits.agent_timeout", "5m")

	v.SetDefault("context.window_size", 200000)
	v.SetDefault("context.reserved_tokens", 4096)
	v.SetDefault("context.compact_threshold", 0.8)

	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.initial_delay", "1s")
	v.SetDefault("resilience.max_delay", "30s")
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout", "30s")

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for squire.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "squire")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "squire")
	}
	return filepath.Join(home, ".config", "squire")
}

// findProjectConfig searches for .squire.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".squire.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxAgents:    3,
			AgentTimeout: 5 * time.Minute,
		},
		Context: ContextConfig{
			WindowSize:       200000,
			ReservedTokens:   4096,
			CompactThreshold: 0.8,
		},
		Resilience: ResilienceConfig{
			MaxRetries:       3,
			InitialDelay:     time.Second,
			MaxDelay:         30 * time.Second,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}

// KindOverrides maps agent kind names to per-kind setting overrides, loaded
// from .squire/agents.yaml.
type KindOverrides struct {
	Agents map[string]KindOverride `yaml:"agents"`
}

// KindOverride adjusts one agent kind.
type KindOverride struct {
	// MaxTurns replaces the kind's default turn budget when positive.
	MaxTurns int `yaml:"max_turns"`
}

// LoadKindOverrides reads per-kind overrides from the project's
// .squire/agents.yaml. A missing file yields empty overrides, not an error.
func LoadKindOverrides(projectRoot string) (*KindOverrides, error) {
	path := filepath.Join(projectRoot, ".squire", "agents.yaml")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &KindOverrides{Agents: map[string]KindOverride{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	overrides := &KindOverrides{}
	if err := yaml.Unmarshal(data, overrides); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", path, err)
	}
	if overrides.Agents == nil {
		overrides.Agents = map[string]KindOverride{}
	}
	return overrides, nil
}
