package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/taskvox/internal/tasks"
)

// DefaultListLimit is the number of titles read out by list_tasks before
// the remainder is summarized as "and N more".
const DefaultListLimit = 3

// TaskTool adapts one task store operation to Eino's tool.InvokableTool.
// Every failure is rendered as text; InvokableRun never returns an error.
type TaskTool struct {
	spec ToolSpec
	run  func(ctx context.Context, in taskInput) Result
}

// taskInput is the union of all task tool arguments.
type taskInput struct {
	Title       string `json:"title"`
	TaskTitle   string `json:"task_title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DueDate     string `json:"due_date"`
	Status      string `json:"status"`
}

// target returns the task the call refers to. Models occasionally send
// "title" where "task_title" is declared.
func (in taskInput) target() string {
	if t := strings.TrimSpace(in.TaskTitle); t != "" {
		return t
	}
	return strings.TrimSpace(in.Title)
}

// Spec returns the tool's declared schema.
func (t *TaskTool) Spec() *ToolSpec { return &t.spec }

// Info returns the tool info for Eino registration.
func (t *TaskTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return toolSpecToToolInfo(&t.spec), nil
}

// InvokableRun decodes the arguments and runs the operation.
func (t *TaskTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	return t.Run(ctx, argumentsInJSON).Text, nil
}

// Run is InvokableRun with the structured result.
func (t *TaskTool) Run(ctx context.Context, argumentsInJSON string) Result {
	var in taskInput
	if raw := strings.TrimSpace(argumentsInJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			slog.Debug("tool arguments not decodable", "tool", t.spec.Name, "args", raw, "error", err)
			return invalid("I couldn't understand the details for that request.")
		}
	}
	return t.run(ctx, in)
}

// TaskToolsConfig tunes the task tools.
type TaskToolsConfig struct {
	ListLimit int
	Now       func() time.Time
}

type taskTools struct {
	store     tasks.Store
	listLimit int
	now       func() time.Time
}

// NewTaskTools returns the task tools backed by store, in the order they
// are presented to the model.
func NewTaskTools(store tasks.Store, cfg TaskToolsConfig) []*TaskTool {
	tt := &taskTools{store: store, listLimit: cfg.ListLimit, now: cfg.Now}
	if tt.listLimit <= 0 {
		tt.listLimit = DefaultListLimit
	}
	if tt.now == nil {
		tt.now = time.Now
	}

	titleParam := ParamSpec{
		Type:        "string",
		Description: "Title of the task, as the user said it",
		Required:    true,
	}

	return []*TaskTool{
		{
			spec: ToolSpec{
				Name:        "add_task",
				Description: "Add a new task to the task list.",
				Parameters: map[string]ParamSpec{
					"title": {
						Type:        "string",
						Description: "Short title for the task",
						Required:    true,
					},
					"description": {
						Type:        "string",
						Description: "Optional details",
					},
					"priority": {
						Type:        "string",
						Description: "Task priority: low, medium, or high",
						Enum:        []string{"low", "medium", "high"},
						Default:     "medium",
					},
					"due_date": {
						Type:        "string",
						Description: "Due date as an ISO-8601 date or datetime, or 'today' / 'tomorrow'",
					},
				},
			},
			run: tt.add,
		},
		{
			spec: ToolSpec{
				Name:        "list_tasks",
				Description: "List all tasks or the tasks with a specific status.",
				Parameters: map[string]ParamSpec{
					"status": {
						Type:        "string",
						Description: "Filter by status",
						Enum:        []string{"all", "pending", "in_progress", "completed"},
						Default:     "all",
					},
				},
			},
			run: tt.list,
		},
		{
			spec: ToolSpec{
				Name:        "complete_task",
				Description: "Mark a task as completed.",
				Parameters:  map[string]ParamSpec{"task_title": titleParam},
			},
			run: tt.complete,
		},
		{
			spec: ToolSpec{
				Name:        "start_task",
				Description: "Mark a task as in progress.",
				Parameters:  map[string]ParamSpec{"task_title": titleParam},
			},
			run: tt.start,
		},
		{
			spec: ToolSpec{
				Name:        "reopen_task",
				Description: "Move a completed or started task back to pending.",
				Parameters:  map[string]ParamSpec{"task_title": titleParam},
			},
			run: tt.reopen,
		},
		{
			spec: ToolSpec{
				Name:        "delete_task",
				Description: "Delete a task from the task list.",
				Parameters:  map[string]ParamSpec{"task_title": titleParam},
			},
			run: tt.delete,
		},
		{
			spec: ToolSpec{
				Name:        "update_task_priority",
				Description: "Update the priority of a task.",
				Parameters: map[string]ParamSpec{
					"task_title": titleParam,
					"priority": {
						Type:        "string",
						Description: "New priority: low, medium, or high",
						Required:    true,
						Enum:        []string{"low", "medium", "high"},
					},
				},
			},
			run: tt.updatePriority,
		},
		{
			spec: ToolSpec{
				Name:        "get_task_summary",
				Description: "Get a summary of all tasks: counts by status and how many are overdue.",
			},
			run: tt.summary,
		},
	}
}

func (tt *taskTools) add(_ context.Context, in taskInput) Result {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return invalid("What should the task be called?")
	}
	priority, _ := tasks.ParsePriority(in.Priority)

	now := tt.now()
	due, dueErr := ParseDueDate(in.DueDate, now)
	if dueErr != nil {
		slog.Debug("add_task: unparseable due date", "due_date", in.DueDate, "error", dueErr)
	}

	task, err := tt.store.Create(tasks.NewTask{
		Title:       title,
		Description: in.Description,
		Priority:    priority,
		DueDate:     due,
	})
	if err != nil {
		return storeFailure("add_task", title, err)
	}

	text := fmt.Sprintf("Added '%s'", task.Title)
	if task.Priority != tasks.PriorityMedium {
		text += fmt.Sprintf(" with %s priority", task.Priority)
	}
	if task.DueDate != nil {
		text += ", due " + speakDue(*task.DueDate, now)
	}
	text += "."
	if dueErr != nil {
		text += fmt.Sprintf(" I didn't understand the due date '%s', so it has none.", in.DueDate)
	}
	return ok(text)
}

func (tt *taskTools) list(_ context.Context, in taskInput) Result {
	status := strings.ToLower(strings.TrimSpace(in.Status))
	status = strings.ReplaceAll(status, " ", "_")
	var filter tasks.ListFilter
	if status != "" && status != "all" {
		filter.Status = tasks.TaskStatus(status)
		if !filter.Status.Valid() {
			return invalid("I can list all, pending, in progress, or completed tasks.")
		}
	}

	// An empty store gets the onboarding hint regardless of the filter.
	all, err := tt.store.List(tasks.ListFilter{})
	if err != nil {
		return storeFailure("list_tasks", "", err)
	}
	if len(all) == 0 {
		return ok("You have no tasks. " + emptyStoreHint)
	}

	selected := all
	if filter.Status != "" {
		selected = nil
		for _, t := range all {
			if t.Status == filter.Status {
				selected = append(selected, t)
			}
		}
	}

	label := "task"
	if filter.Status != "" {
		label = filter.Status.Label() + " task"
	}
	if len(selected) == 0 {
		return ok(fmt.Sprintf("You have no %ss.", label))
	}

	titles := make([]string, len(selected))
	for i, t := range selected {
		titles[i] = t.Title
	}
	n := len(selected)
	words := fmt.Sprintf("%d %s", n, label)
	if n != 1 {
		words += "s"
	}
	return ok(fmt.Sprintf("You have %s: %s.", words, speakList(quoted(titles), tt.listLimit)))
}

func (tt *taskTools) complete(_ context.Context, in taskInput) Result {
	title := in.target()
	if title == "" {
		return invalid(missingTitleText)
	}
	task, changed, err := tt.store.Complete(title)
	if err != nil {
		return storeFailure("complete_task", title, err)
	}
	if !changed {
		return alreadyDone(fmt.Sprintf("'%s' is already done.", task.Title))
	}
	return ok(fmt.Sprintf("Marked '%s' as completed.", task.Title))
}

func (tt *taskTools) start(_ context.Context, in taskInput) Result {
	title := in.target()
	if title == "" {
		return invalid(missingTitleText)
	}
	task, err := tt.store.Start(title)
	if err != nil {
		return storeFailure("start_task", title, err)
	}
	return ok(fmt.Sprintf("'%s' is now in progress.", task.Title))
}

func (tt *taskTools) reopen(_ context.Context, in taskInput) Result {
	title := in.target()
	if title == "" {
		return invalid(missingTitleText)
	}
	task, err := tt.store.Reopen(title)
	if err != nil {
		return storeFailure("reopen_task", title, err)
	}
	return ok(fmt.Sprintf("'%s' is back on your pending list.", task.Title))
}

func (tt *taskTools) delete(_ context.Context, in taskInput) Result {
	title := in.target()
	if title == "" {
		return invalid(missingTitleText)
	}
	task, err := tt.store.Delete(title)
	if err != nil {
		return storeFailure("delete_task", title, err)
	}
	return ok(fmt.Sprintf("Deleted '%s'.", task.Title))
}

func (tt *taskTools) updatePriority(_ context.Context, in taskInput) Result {
	title := in.target()
	if title == "" {
		return invalid(missingTitleText)
	}
	priority, valid := tasks.ParsePriority(in.Priority)
	if !valid {
		return invalid(priorityHint)
	}
	task, err := tt.store.UpdatePriority(title, priority)
	if err != nil {
		return storeFailure("update_task_priority", title, err)
	}
	return ok(fmt.Sprintf("'%s' is now %s priority.", task.Title, task.Priority))
}

func (tt *taskTools) summary(_ context.Context, _ taskInput) Result {
	s, err := tt.store.Summarize(tt.now())
	if err != nil {
		return storeFailure("get_task_summary", "", err)
	}
	return ok(summaryText(s))
}

// storeFailure converts a store error into a spoken result.
func storeFailure(toolName, title string, err error) Result {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return notFound(title)
	case errors.Is(err, tasks.ErrInvalidTitle):
		return invalid("What should the task be called?")
	}
	slog.Warn("task store operation failed", "tool", toolName, "title", title, "error", err)
	return Result{Status: StatusStorageFailure, Text: storageFailure}
}

var _ tool.InvokableTool = (*TaskTool)(nil)
