package models

import (
	"context"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/taskvox/internal/config"
)

const defaultOpenAIModel = "gpt-4o-mini"

// NewOpenAI creates an OpenAI (or OpenAI-compatible) chat model.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultOpenAIModel
	}

	modelConfig := &einoopenai.ChatModelConfig{
		APIKey:      apiKey,
		Model:       modelName,
		BaseURL:     cfg.BaseURL,
		Temperature: temperature(cfg),
		Timeout:     30 * time.Second,
	}

	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelConfig.MaxCompletionTokens = &maxTokens
	}
	if cfg.Timeout.Duration() > 0 {
		modelConfig.Timeout = cfg.Timeout.Duration()
	}

	return einoopenai.NewChatModel(ctx, modelConfig)
}
