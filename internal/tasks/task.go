// Package tasks provides the persistent personal task list.
package tasks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

// Label returns the spoken form of the status.
func (s TaskStatus) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// TaskPriority represents the priority of a task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Valid reports whether p is a known priority.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ParsePriority normalizes s (case and surrounding space insensitive).
// The second result is false when s is not a known priority.
func ParsePriority(s string) (TaskPriority, bool) {
	p := TaskPriority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return PriorityMedium, false
	}
	return p, true
}

// Task is a single entry of the task list.
// CompletedAt is non-nil iff Status is TaskCompleted.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	DueDate     *time.Time   `json:"due_date"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at"`
}

// IsOverdue reports whether the task has a due date before now and is not completed.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && t.Status != TaskCompleted
}

// matchesTitle compares titles case-insensitively, ignoring surrounding space.
func (t *Task) matchesTitle(title string) bool {
	return strings.EqualFold(strings.TrimSpace(t.Title), strings.TrimSpace(title))
}

// UnmarshalJSON accepts task files written by older tools: naive ISO-8601
// timestamps without a zone and null descriptions. Unknown statuses and
// priorities are rejected; completed_at is brought in line with the status.
func (t *Task) UnmarshalJSON(data []byte) error {
	type Alias Task
	aux := &struct {
		Description *string `json:"description"`
		DueDate     *string `json:"due_date"`
		CreatedAt   string  `json:"created_at"`
		CompletedAt *string `json:"completed_at"`
		*Alias
	}{Alias: (*Alias)(t)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	t.Description = ""
	if aux.Description != nil {
		t.Description = *aux.Description
	}

	var err error
	if t.DueDate, err = parseOptionalTime(aux.DueDate); err != nil {
		return fmt.Errorf("due_date: %w", err)
	}
	if t.CompletedAt, err = parseOptionalTime(aux.CompletedAt); err != nil {
		return fmt.Errorf("completed_at: %w", err)
	}
	if aux.CreatedAt != "" {
		if t.CreatedAt, err = ParseTimestamp(aux.CreatedAt); err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
	}

	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("task %q: unknown priority %q", t.ID, t.Priority)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %q: unknown status %q", t.ID, t.Status)
	}

	switch {
	case t.Status == TaskCompleted && t.CompletedAt == nil:
		completed := t.CreatedAt
		t.CompletedAt = &completed
	case t.Status != TaskCompleted:
		t.CompletedAt = nil
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 date or datetime. Values without a zone
// are interpreted in local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for i, layout := range timestampLayouts {
		var (
			ts  time.Time
			err error
		)
		if i == 0 {
			ts, err = time.Parse(layout, s)
		} else {
			ts, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	ts, err := ParseTimestamp(*s)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// GenerateTaskID creates a time-ordered unique task identifier.
func GenerateTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "task_" + strings.ReplaceAll(id.String(), "-", "")
}
