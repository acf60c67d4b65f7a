package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/taskvox/internal/config"
)

// CreateModel creates a model.ToolCallingChatModel from a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch driver := strings.ToLower(cfg.Driver); driver {
	case "ollama":
		return NewOllama(ctx, cfg)
	case "openai", "claude", "anthropic", "gemini":
		apiKey, err := ResolveAuth(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		switch driver {
		case "openai":
			return NewOpenAI(ctx, cfg, apiKey)
		case "gemini":
			return NewGemini(ctx, cfg, apiKey)
		default:
			return NewClaude(ctx, cfg, apiKey)
		}
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}

// temperature reads options.temperature when set.
func temperature(cfg config.ProviderConfig) *float32 {
	if cfg.Options == nil {
		return nil
	}
	if temp, ok := cfg.Options["temperature"].(float64); ok {
		t := float32(temp)
		return &t
	}
	return nil
}
