package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/taskvox/internal/agent"
	"github.com/dohr-michael/taskvox/internal/conversation"
	"github.com/dohr-michael/taskvox/internal/events"
)

// NewChatCommand returns the chat subcommand.
func NewChatCommand() *cli.Command {
	return &cli.Command{
		Name:   "chat",
		Usage:  "Talk to the task manager in this terminal, without a gateway",
		Action: runChat,
	}
}

// lineIO reads user lines and writes answer text.
type lineIO interface {
	ReadLine() (string, error)
	io.Writer
}

type plainIO struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (p *plainIO) ReadLine() (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

func (p *plainIO) Write(b []byte) (int, error) { return p.out.Write(b) }

func runChat(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd, true)
	cfg := loadConfig(cmd)

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	registry := newToolRegistry(cfg, newTaskStore(cfg))
	orch, err := newOrchestrator(ctx, cfg, registry, bus)
	if err != nil {
		return err
	}

	var lio lineIO
	if term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), state)
		lio = term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}, "you> ")
	} else {
		lio = &plainIO{scanner: bufio.NewScanner(os.Stdin), out: os.Stdout}
	}

	transcript := conversation.NewTranscript()
	say := func(history []*schema.Message) error {
		fmt.Fprint(lio, "taskvox> ")
		res, err := orch.Run(ctx, history, agent.SinkFunc(func(delta string) {
			fmt.Fprint(lio, delta)
		}))
		fmt.Fprintln(lio)
		if err != nil {
			return err
		}
		transcript.Append(schema.AssistantMessage(res.Answer, nil))
		return nil
	}

	// Greeting
	if err := say(transcript.Messages()); err != nil {
		return err
	}

	for {
		line, err := lio.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit", "bye":
			return nil
		}

		transcript.Merge(conversation.Turn{Role: conversation.RoleUser, Text: line})
		if err := say(transcript.Messages()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
