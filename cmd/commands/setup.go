package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskvox/internal/agent"
	"github.com/dohr-michael/taskvox/internal/config"
	"github.com/dohr-michael/taskvox/internal/events"
	"github.com/dohr-michael/taskvox/internal/models"
	"github.com/dohr-michael/taskvox/internal/tasks"
	"github.com/dohr-michael/taskvox/internal/tools"
)

// setupLogging installs the default slog handler. Logs always go to stderr
// so stdout stays free for answers and the MCP transport.
func setupLogging(cmd *cli.Command, quiet bool) {
	level := slog.LevelInfo
	switch {
	case cmd.Bool("debug"):
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the config file named by --config, falling back to
// defaults when it does not exist.
func loadConfig(cmd *cli.Command) *config.Config {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Debug("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}
	globalOverrides(cmd)(cfg)
	return cfg
}

// globalOverrides applies the root flags that take precedence over the
// config file, on first load and on every reload.
func globalOverrides(cmd *cli.Command) config.Override {
	return func(cfg *config.Config) {
		if cmd.IsSet("store") {
			cfg.Store.Path = cmd.String("store")
		}
	}
}

func newTaskStore(cfg *config.Config) *tasks.FileStore {
	return tasks.NewFileStore(cfg.Store.Path)
}

func newToolRegistry(cfg *config.Config, store tasks.Store) *tools.Registry {
	return tools.NewTaskRegistry(store, tools.TaskToolsConfig{ListLimit: cfg.Agent.ListLimit})
}

// newOrchestrator resolves the default model and builds the turn
// orchestrator over the task tools.
func newOrchestrator(ctx context.Context, cfg *config.Config, registry *tools.Registry, bus *events.Bus) (*agent.Orchestrator, error) {
	modelRegistry := models.NewRegistry(cfg.Models)
	chatModel, err := modelRegistry.Default(ctx)
	if err != nil {
		return nil, fmt.Errorf("init default model: %w", err)
	}

	descriptions := make(map[string]string)
	for _, name := range registry.ToolNames() {
		descriptions[name] = registry.ToolSpec(name).Description
	}
	instructionAt := agent.NewPromptComposer().ComposeAt(agent.PromptContext{
		Persona:          cfg.Agent.SystemPrompt,
		ToolNames:        registry.ToolNames(),
		ToolDescriptions: descriptions,
	})

	orch, err := agent.New(ctx, agent.Config{
		Model:         chatModel,
		Tools:         registry,
		InstructionAt: instructionAt,
		MaxRoundTrips: cfg.Agent.MaxRoundTrips,
		Streaming:     cfg.Agent.Streaming,
		Bus:           bus,
		ModelName:     modelRegistry.DefaultName(),
	})
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return orch, nil
}
