package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Default values applied to zero-value fields.
const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 18430
	DefaultBufferSize    = 256
	DefaultMaxRoundTrips = 5
	DefaultListLimit     = 3
	DefaultSchedule      = "0 9 * * *"
)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// standardizes it to plain JSON, unmarshals it into Config and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes JSONC config content.
func Parse(data []byte) (*Config, error) {
	// Expand environment variable templates (before standardizing, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied, used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = DefaultBufferSize
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = TasksPath()
	}
	if cfg.Agent.MaxRoundTrips <= 0 {
		cfg.Agent.MaxRoundTrips = DefaultMaxRoundTrips
	}
	if cfg.Agent.ListLimit <= 0 {
		cfg.Agent.ListLimit = DefaultListLimit
	}
	if cfg.Reminders.Schedule == "" {
		cfg.Reminders.Schedule = DefaultSchedule
	}
	// Auth resolution is deferred to models.ResolveAuth() at model init time.
}
