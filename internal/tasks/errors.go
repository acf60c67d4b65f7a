package tasks

import "errors"

var (
	// ErrNotFound is returned when no task matches the requested title.
	ErrNotFound = errors.New("task not found")
	// ErrStorageCorrupt is returned when the task file exists but cannot be parsed.
	ErrStorageCorrupt = errors.New("task file corrupt")
	// ErrStorageWrite is returned when the task file cannot be written.
	ErrStorageWrite = errors.New("task file write failed")
	// ErrInvalidTitle is returned when a task is created with a blank title.
	ErrInvalidTitle = errors.New("task title is required")
)
