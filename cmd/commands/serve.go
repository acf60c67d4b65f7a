package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskvox/internal/agent"
	"github.com/dohr-michael/taskvox/internal/config"
	"github.com/dohr-michael/taskvox/internal/events"
	"github.com/dohr-michael/taskvox/internal/gateway"
	"github.com/dohr-michael/taskvox/internal/heartbeat"
	"github.com/dohr-michael/taskvox/internal/reminders"
	"github.com/dohr-michael/taskvox/internal/storage"
	"github.com/dohr-michael/taskvox/internal/tasks"
	"github.com/dohr-michael/taskvox/internal/tools"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the taskvox gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd, false)
	cfg := loadConfig(cmd)
	serveOverrides(cmd)(cfg)

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	if cfg.Events.LogDir != "" {
		logger := storage.NewEventLogger(cfg.Events.LogDir, bus)
		defer logger.Close()
	}

	store := newTaskStore(cfg)
	live, err := startLive(ctx, cfg, store, bus, newOrchestrator)
	if err != nil {
		return err
	}
	defer live.stop()

	reloader := config.NewReloader(cmd.String("config"), config.DotenvPath(), cfg,
		globalOverrides(cmd), serveOverrides(cmd))
	reloader.OnReload(live.apply)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	server := gateway.NewServer(bus, store, live.runner, cfg.Gateway.Host, cfg.Gateway.Port)
	server.SetEventLogDir(cfg.Events.LogDir)

	hb := heartbeat.NewWriter(heartbeat.Path(config.DataPath()),
		fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port), store.Path())
	if err := hb.Start(); err != nil {
		slog.Warn("heartbeat disabled", "error", err)
	}
	defer hb.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	for {
		select {
		case <-hup:
			if _, err := reloader.Reload(); err != nil {
				slog.Error("reload failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	}
}

// serveOverrides applies the serve flags that take precedence over the
// config file.
func serveOverrides(cmd *cli.Command) config.Override {
	return func(cfg *config.Config) {
		if cmd.IsSet("host") {
			cfg.Gateway.Host = cmd.String("host")
		}
		if cmd.IsSet("port") {
			cfg.Gateway.Port = int(cmd.Int("port"))
		}
	}
}

type orchestratorBuilder func(ctx context.Context, cfg *config.Config, registry *tools.Registry, bus *events.Bus) (*agent.Orchestrator, error)

// liveAgent holds the parts of a running gateway that follow config
// reloads: the orchestrator behind every conversation and the reminder
// sweep. The task store is fixed for the life of the process.
type liveAgent struct {
	ctx   context.Context
	store tasks.Store
	bus   *events.Bus
	build orchestratorBuilder

	runner *agent.Current

	mu        sync.Mutex
	reminders reminderHandle
}

func startLive(ctx context.Context, cfg *config.Config, store tasks.Store, bus *events.Bus, build orchestratorBuilder) (*liveAgent, error) {
	l := &liveAgent{ctx: ctx, store: store, bus: bus, build: build}

	orch, err := l.orchestrator(cfg)
	if err != nil {
		return nil, err
	}
	l.runner = agent.NewCurrent(orch)

	if l.reminders, err = startReminders(ctx, cfg, store, bus); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *liveAgent) orchestrator(cfg *config.Config) (*agent.Orchestrator, error) {
	registry := newToolRegistry(cfg, l.store)
	slog.Info("tools loaded", "count", len(registry.ToolNames()), "list_limit", cfg.Agent.ListLimit)
	return l.build(l.ctx, cfg, registry, l.bus)
}

// apply rebuilds what a reload changed. A failed rebuild keeps the
// previous orchestrator or sweep running.
func (l *liveAgent) apply(next *config.Config, change config.Change) {
	if change.Agent {
		orch, err := l.orchestrator(next)
		if err != nil {
			slog.Error("rebuild orchestrator", "error", err)
		} else {
			l.runner.Store(orch)
			slog.Info("orchestrator rebuilt",
				"model", next.Models.Default,
				"max_round_trips", next.Agent.MaxRoundTrips,
				"streaming", next.Agent.Streaming,
			)
		}
	}

	if change.Reminders {
		s, err := startReminders(l.ctx, next, l.store, l.bus)
		if err != nil {
			slog.Error("restart reminders", "error", err)
			return
		}
		l.mu.Lock()
		prev := l.reminders
		l.reminders = s
		l.mu.Unlock()
		prev.Stop()
	}
}

func (l *liveAgent) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reminders.Stop()
}

// reminderHandle is what serve needs from a sweeper; a disabled sweep is
// a no-op.
type reminderHandle interface {
	Stop()
}

type noReminders struct{}

func (noReminders) Stop() {}

func startReminders(ctx context.Context, cfg *config.Config, store tasks.Store, bus *events.Bus) (reminderHandle, error) {
	if !cfg.Reminders.Enabled {
		return noReminders{}, nil
	}
	s, err := reminders.New(reminders.Config{Store: store, Bus: bus, Schedule: cfg.Reminders.Schedule})
	if err != nil {
		return nil, fmt.Errorf("init reminders: %w", err)
	}
	s.Start(ctx)
	return s, nil
}
