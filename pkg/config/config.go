package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the process configuration, loaded once at startup.
// Runtime-mutable state (connection state, webhook config) does not live
// here; it is owned by the components that mutate it.
type Config struct {
	// SessionName keys the credential store. One process drives one session.
	SessionName string `json:"session_name"`

	// StorePath is the directory holding credential databases.
	StorePath string `json:"store_path"`

	// Mode selects the device-link mechanism on first login: "qr" or "pairing".
	Mode string `json:"mode"`

	// PhoneNumber is required when Mode is "pairing".
	PhoneNumber string `json:"phone_number,omitempty"`

	// Embedded marks the bridge as running inside a host application.
	// It changes the display form of normalized sender identifiers.
	Embedded bool `json:"embedded"`

	API     APIConfig     `json:"api"`
	Storage StorageConfig `json:"storage"`
	Log     LogConfig     `json:"log"`
	Digest  DigestConfig  `json:"digest"`
}

type APIConfig struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"token,omitempty"`
}

type StorageConfig struct {
	Type        string `json:"type"` // "file" or "postgres"
	FilePath    string `json:"file_path,omitempty"`
	DatabaseURL string `json:"database_url,omitempty"`
}

type LogConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// DigestConfig drives the scheduled stats.digest webhook event.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // cron expression
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wabridge", "config.json")
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".wabridge")

	return &Config{
		SessionName: "bot",
		StorePath:   filepath.Join(base, "sessions"),
		Mode:        "qr",
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Storage: StorageConfig{
			Type:     "file",
			FilePath: filepath.Join(base, "data"),
		},
		Log: LogConfig{
			Level: "info",
		},
		Digest: DigestConfig{
			Enabled:  false,
			Schedule: "0 8 * * *",
		},
	}
}

// LoadConfig reads the config file at path, creating it with defaults when
// missing, and applies environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if applyEnvOverrides(cfg) {
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.SessionName) == "" {
		return fmt.Errorf("session_name must not be empty")
	}
	if c.Mode != "qr" && c.Mode != "pairing" {
		return fmt.Errorf("mode must be %q or %q, got %q", "qr", "pairing", c.Mode)
	}
	switch c.Storage.Type {
	case "file", "postgres":
	default:
		return fmt.Errorf("storage.type must be %q or %q, got %q", "file", "postgres", c.Storage.Type)
	}
	return nil
}
