package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskvox/internal/config"
	"github.com/dohr-michael/taskvox/internal/heartbeat"
	"github.com/dohr-michael/taskvox/internal/models"
	"github.com/dohr-michael/taskvox/internal/reminders"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show configuration, model, task store and gateway status",
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd, true)
	cfg := loadConfig(cmd)

	fmt.Printf("Config:  %s\n", cmd.String("config"))

	registry := models.NewRegistry(cfg.Models)
	if name := registry.DefaultName(); name != "" {
		p, _ := registry.Provider(name)
		fmt.Printf("Model:   %s (%s %s)\n", name, p.Driver, p.Model)
	} else {
		fmt.Println("Model:   none configured")
	}
	if names := registry.Names(); len(names) > 1 {
		fmt.Printf("Models:  %s\n", strings.Join(names, ", "))
	}

	store := newTaskStore(cfg)
	fmt.Printf("Store:   %s\n", store.Path())
	sum, err := store.Summarize(time.Now())
	if err != nil {
		fmt.Printf("Tasks:   unreadable (%v)\n", err)
	} else {
		fmt.Printf("Tasks:   %d total, %d pending, %d in progress, %d completed, %d overdue\n",
			sum.Total, sum.Pending, sum.InProgress, sum.Completed, sum.Overdue)
	}

	if cfg.Reminders.Enabled {
		sweeper, err := reminders.New(reminders.Config{Store: store, Schedule: cfg.Reminders.Schedule})
		if err != nil {
			fmt.Printf("Reminders: invalid schedule (%v)\n", err)
		} else {
			fmt.Printf("Reminders: %s (next %s)\n", sweeper.Schedule(), sweeper.NextRun().Format("Mon Jan 2 15:04"))
		}
	} else {
		fmt.Println("Reminders: disabled")
	}

	status, rec, err := heartbeat.Check(heartbeat.Path(config.DataPath()), 2*heartbeat.DefaultInterval)
	if err != nil {
		return fmt.Errorf("check heartbeat: %w", err)
	}
	switch status {
	case heartbeat.StatusAlive:
		fmt.Printf("Gateway: ALIVE (PID %d on %s, uptime %s)\n", rec.PID, rec.Addr, rec.Uptime())
		return nil
	case heartbeat.StatusStale:
		fmt.Printf("Gateway: STALE (PID %d, last heartbeat %s ago)\n",
			rec.PID, time.Since(rec.Timestamp).Truncate(time.Second))
		return nil
	}

	// No heartbeat: the gateway may run under another data directory.
	url := fmt.Sprintf("http://%s:%d/api/health", cfg.Gateway.Host, cfg.Gateway.Port)
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("Gateway: NOT RUNNING")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		fmt.Printf("Gateway: ALIVE (%s:%d)\n", cfg.Gateway.Host, cfg.Gateway.Port)
	} else {
		fmt.Printf("Gateway: UNHEALTHY (%s)\n", resp.Status)
	}
	return nil
}
