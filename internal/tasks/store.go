package tasks

import "time"

// ListFilter defines criteria for filtering task lists.
type ListFilter struct {
	Status TaskStatus `json:"status,omitempty"`
}

// NewTask holds the caller-supplied fields of a task to create.
type NewTask struct {
	Title       string
	Description string
	Priority    TaskPriority
	DueDate     *time.Time
}

// Summary counts tasks by status. Overdue counts tasks with a due date in
// the past that are not completed.
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

// Store defines the persistence interface for tasks.
// Every operation is a complete load, mutate, save cycle.
type Store interface {
	Load() ([]*Task, error)
	Save(tasks []*Task) error
	Create(in NewTask) (*Task, error)
	List(filter ListFilter) ([]*Task, error)
	FindByTitle(title string) (*Task, error)
	Complete(title string) (t *Task, changed bool, err error)
	Start(title string) (*Task, error)
	Reopen(title string) (*Task, error)
	Delete(title string) (*Task, error)
	UpdatePriority(title string, priority TaskPriority) (*Task, error)
	Summarize(now time.Time) (Summary, error)
}
