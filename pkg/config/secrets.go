package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const (
	keyringService  = "wabridge"
	keyringTokenKey = "api-token"
)

// EnsureAPIToken resolves the bearer token protecting the control surface.
// Precedence: explicit config value, system keyring, fallback file. When no
// token exists anywhere a new one is generated and persisted, preferring the
// keyring and falling back to a file for headless/container hosts.
func EnsureAPIToken(cfg *Config) (string, error) {
	if cfg.API.Token != "" {
		return cfg.API.Token, nil
	}

	if token, err := keyring.Get(keyringService, keyringTokenKey); err == nil && token != "" {
		return token, nil
	}

	if token, err := loadTokenFromFallbackFile(); err == nil {
		return token, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	if err := keyring.Set(keyringService, keyringTokenKey, token); err != nil {
		if err := saveTokenToFallbackFile(token); err != nil {
			return "", err
		}
	}

	return token, nil
}

func fallbackTokenPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wabridge", ".api-token")
}

func loadTokenFromFallbackFile() (string, error) {
	data, err := os.ReadFile(fallbackTokenPath())
	if err != nil {
		return "", err
	}
	token := string(data)
	if token == "" {
		return "", fmt.Errorf("empty fallback token file")
	}
	return token, nil
}

func saveTokenToFallbackFile(token string) error {
	path := fallbackTokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0600)
}
