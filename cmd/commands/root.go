package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskvox/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "taskvox",
		Usage: "A voice-first personal task manager",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Path to the task file (overrides store.path)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewAskCommand(),
			NewChatCommand(),
			NewTasksCommand(),
			NewStatusCommand(),
			NewMCPServeCommand(),
		},
	}
}
