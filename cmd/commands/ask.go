package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/taskvox/clients/ws"
	"github.com/dohr-michael/taskvox/internal/config"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send one utterance to the gateway and print the answer",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL",
				Value: fmt.Sprintf("ws://%s:%d/api/ws", config.DefaultHost, config.DefaultPort),
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 120,
			},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd, true)

	message := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if message == "" {
		return fmt.Errorf("usage: taskvox ask <message>")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	client, err := wsclient.Dial(ctx, cmd.String("gateway"))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	streamed := false
	answer, err := client.Ask(message, func(delta string) {
		streamed = true
		fmt.Fprint(os.Stdout, delta)
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("timeout waiting for response")
		}
		return err
	}

	if streamed {
		fmt.Fprintln(os.Stdout)
	} else if answer.Content != "" {
		fmt.Fprintln(os.Stdout, answer.Content)
	}
	if answer.Error != "" {
		fmt.Fprintf(os.Stderr, "model error: %s\n", answer.Error)
	}
	return nil
}
