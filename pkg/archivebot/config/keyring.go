package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	keyringService = "archivebot"
	keyringAPIKey  = "api_key"
)

// Environment variables consulted for the generator API key, in order.
var apiKeyEnvVars = []string{"ARCHIVEBOT_API_KEY", "OPENAI_API_KEY"}

// StoreAPIKey saves the generator API key in the OS keyring.
func StoreAPIKey(key string) error {
	if key == "" {
		return errors.New("empty API key")
	}
	if err := keyring.Set(keyringService, keyringAPIKey, key); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	return nil
}

// DeleteAPIKey removes the stored key. A missing key is not an error.
func DeleteAPIKey() error {
	err := keyring.Delete(keyringService, keyringAPIKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// ResolveAPIKey fills cfg.Generator.APIKey from, in order: the OS keyring,
// ARCHIVEBOT_API_KEY, OPENAI_API_KEY, and the config value itself. It
// returns where the key came from ("" when none was found).
func ResolveAPIKey(cfg *Config, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	if val, err := keyring.Get(keyringService, keyringAPIKey); err == nil && val != "" {
		cfg.Generator.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return "keyring"
	}

	for _, name := range apiKeyEnvVars {
		if val := os.Getenv(name); val != "" {
			cfg.Generator.APIKey = val
			logger.Debug("API key loaded from environment", "var", name)
			return name
		}
	}

	if cfg.Generator.APIKey != "" && !IsEnvReference(cfg.Generator.APIKey) {
		return "config"
	}

	cfg.Generator.APIKey = ""
	logger.Info("no API key found, assuming a local endpoint",
		"hint", "set one with: archivebot config set-key")
	return ""
}

// ReadSecret prompts on stderr and reads a line without echo.
func ReadSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return string(b), nil
}
