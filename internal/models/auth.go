package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/dohr-michael/taskvox/internal/config"
)

// driverKeyEnv lists the environment variables consulted per driver when no
// key is configured, in order.
var driverKeyEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"claude":    {"ANTHROPIC_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// ResolveAuth resolves the API key for a provider.
// Resolution order: configured api_key (literal or ${VAR}) → driver default env.
func ResolveAuth(cfg config.ProviderConfig) (string, error) {
	if key := resolveValue(cfg.Auth.APIKey); key != "" {
		return key, nil
	}

	driver := strings.ToLower(cfg.Driver)
	envs, ok := driverKeyEnv[driver]
	if !ok {
		return "", fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
	for _, env := range envs {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%s not set", strings.Join(envs, " or "))
}

func resolveValue(v string) string {
	trimmed := strings.TrimSpace(v)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
		return os.Getenv(trimmed[2 : len(trimmed)-1])
	}
	return trimmed
}
