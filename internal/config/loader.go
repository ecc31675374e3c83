package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/teleclaude/teleclaude.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "teleclaude", "teleclaude.yaml"))
	}

	paths = append(paths, "teleclaude.yaml")

	if envPath := os.Getenv("TELECLAUDE_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/teleclaude/teleclaude.yaml < ~/.config/teleclaude/teleclaude.yaml < ./teleclaude.yaml < $TELECLAUDE_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables win over YAML values.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("TELECLAUDE_NGROK_AUTHTOKEN"); token != "" {
		cfg.Tunnel.AuthToken = token
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Stall.FirstThreshold <= 0 {
		return fmt.Errorf("stall.first_threshold must be positive")
	}
	if cfg.Stall.StalledThreshold <= cfg.Stall.FirstThreshold {
		return fmt.Errorf("stall.stalled_threshold (%s) must be greater than stall.first_threshold (%s)",
			cfg.Stall.StalledThreshold, cfg.Stall.FirstThreshold)
	}

	if cfg.Notifications.BatchSize < 1 {
		return fmt.Errorf("notifications.batch_size must be at least 1")
	}
	if cfg.Notifications.MaxRetries < 0 {
		return fmt.Errorf("notifications.max_retries must not be negative")
	}

	for name, person := range cfg.People {
		for i, sub := range person.Subscriptions {
			if sub.Job == "" {
				return fmt.Errorf("people.%s.subscriptions[%d]: job is required", name, i)
			}
			switch sub.Type {
			case "", SubscriptionTypeJob, SubscriptionTypeFeed:
			default:
				return fmt.Errorf("people.%s.subscriptions[%d]: unknown type %q", name, i, sub.Type)
			}
			if sub.Enabled && sub.Notification.Address == "" && person.Contact.Address == "" {
				return fmt.Errorf("people.%s.subscriptions[%d]: no delivery address for %q", name, i, sub.Job)
			}
		}
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Notifications.ResultsDir = ExpandHome(cfg.Notifications.ResultsDir)

	return nil
}
