package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskvox/internal/tasks"
	"github.com/dohr-michael/taskvox/internal/tools"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage the task list directly",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (pending, in_progress, completed)",
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "add",
				Usage:     "Add a task",
				ArgsUsage: "<title>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Task description"},
					&cli.StringFlag{Name: "priority", Aliases: []string{"p"}, Usage: "low, medium or high", Value: string(tasks.PriorityMedium)},
					&cli.StringFlag{Name: "due", Usage: "Due date (YYYY-MM-DD, RFC 3339, today, tomorrow)"},
				},
				Action: runTasksAdd,
			},
			{
				Name:      "start",
				Usage:     "Mark a task in progress",
				ArgsUsage: "<title>",
				Action:    runTasksStart,
			},
			{
				Name:      "done",
				Usage:     "Mark a task completed",
				ArgsUsage: "<title>",
				Action:    runTasksDone,
			},
			{
				Name:      "reopen",
				Usage:     "Move a task back to pending",
				ArgsUsage: "<title>",
				Action:    runTasksReopen,
			},
			{
				Name:      "rm",
				Usage:     "Delete a task",
				ArgsUsage: "<title>",
				Action:    runTasksRemove,
			},
			{
				Name:   "summary",
				Usage:  "Show task counts",
				Action: runTasksSummary,
			},
		},
		DefaultCommand: "list",
	}
}

func titleArg(cmd *cli.Command) (string, error) {
	title := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if title == "" {
		return "", fmt.Errorf("usage: taskvox tasks %s <title>", cmd.Name)
	}
	return title, nil
}

func runTasksList(_ context.Context, cmd *cli.Command) error {
	store := newTaskStore(loadConfig(cmd))

	filter := tasks.ListFilter{Status: tasks.TaskStatus(cmd.String("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("unknown status %q", filter.Status)
	}

	list, err := store.List(filter)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tPRIORITY\tDUE\tTITLE")
	for _, t := range list {
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Local().Format("2006-01-02 15:04")
			if t.IsOverdue(now) {
				due += " (overdue)"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Status, t.Priority, due, t.Title)
	}
	return w.Flush()
}

func runTasksAdd(_ context.Context, cmd *cli.Command) error {
	title, err := titleArg(cmd)
	if err != nil {
		return err
	}
	priority, ok := tasks.ParsePriority(cmd.String("priority"))
	if !ok {
		return fmt.Errorf("unknown priority %q", cmd.String("priority"))
	}
	due, err := tools.ParseDueDate(cmd.String("due"), time.Now())
	if err != nil {
		return fmt.Errorf("due date: %w", err)
	}

	t, err := newTaskStore(loadConfig(cmd)).Create(tasks.NewTask{
		Title:       title,
		Description: cmd.String("description"),
		Priority:    priority,
		DueDate:     due,
	})
	if err != nil {
		return fmt.Errorf("add task: %w", err)
	}
	fmt.Printf("Added %q (%s)\n", t.Title, t.ID)
	return nil
}

func runTasksStart(_ context.Context, cmd *cli.Command) error {
	return transition(cmd, "started", func(s tasks.Store, title string) (*tasks.Task, error) {
		return s.Start(title)
	})
}

func runTasksReopen(_ context.Context, cmd *cli.Command) error {
	return transition(cmd, "reopened", func(s tasks.Store, title string) (*tasks.Task, error) {
		return s.Reopen(title)
	})
}

func runTasksRemove(_ context.Context, cmd *cli.Command) error {
	return transition(cmd, "deleted", func(s tasks.Store, title string) (*tasks.Task, error) {
		return s.Delete(title)
	})
}

func runTasksDone(_ context.Context, cmd *cli.Command) error {
	return transition(cmd, "completed", func(s tasks.Store, title string) (*tasks.Task, error) {
		t, changed, err := s.Complete(title)
		if err == nil && !changed {
			fmt.Printf("%q was already completed\n", t.Title)
		}
		return t, err
	})
}

func transition(cmd *cli.Command, verb string, op func(tasks.Store, string) (*tasks.Task, error)) error {
	title, err := titleArg(cmd)
	if err != nil {
		return err
	}
	t, err := op(newTaskStore(loadConfig(cmd)), title)
	if errors.Is(err, tasks.ErrNotFound) {
		return fmt.Errorf("no task titled %q", title)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s %q\n", verb, t.Title)
	return nil
}

func runTasksSummary(_ context.Context, cmd *cli.Command) error {
	sum, err := newTaskStore(loadConfig(cmd)).Summarize(time.Now())
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	fmt.Printf("%d total: %d pending, %d in progress, %d completed (%d overdue)\n",
		sum.Total, sum.Pending, sum.InProgress, sum.Completed, sum.Overdue)
	return nil
}
