package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when neither the environment nor the config file
// carries an Anthropic API key.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource identifies where the API key was resolved from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource reports where an API key would be resolved from. The
// environment wins over the config file so a shell session can override a
// saved key without editing it.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return KeySourceEnv
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		// Config values may reference ${VAR}; an unresolved reference does
		// not count as a key.
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}
	return KeySourceNone
}

// GetAPIKey resolves the Anthropic API key for squire, preferring the
// environment over the config file.
func GetAPIKey(cfg *Config) (string, error) {
	switch GetAPIKeySource(cfg) {
	case KeySourceEnv:
		return os.Getenv("ANTHROPIC_API_KEY"), nil
	case KeySourceConfig:
		return os.ExpandEnv(cfg.Anthropic.APIKey), nil
	}
	return "", ErrNoAPIKey
}

// ValidateAPIKey checks that a key looks like an Anthropic key. It does not
// call the API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey renders a key for display in 'squire config' output, keeping
// the sk-ant- prefix and the last four characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
