package config

import (
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "zapclaw"

	// KeyringAPIKey is the entry holding the OpenAI API key.
	KeyringAPIKey = "openai_api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" if absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// ResolveAPIKey falls back to the OS keyring when neither the config file
// nor the environment provided a key.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) {
	if cfg.OpenAI.APIKey != "" && !IsEnvReference(cfg.OpenAI.APIKey) {
		return
	}
	if val := GetKeyring(KeyringAPIKey); val != "" {
		cfg.OpenAI.APIKey = val
		logger.Debug("API key loaded from OS keyring")
	}
}
