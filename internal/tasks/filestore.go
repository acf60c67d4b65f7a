package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileStore persists the whole task list as a single JSON array.
//
// Each operation loads the file, applies its change and atomically rewrites
// it (temp file + rename). The cycle runs under an in-process mutex and an
// exclusive flock on "<path>.lock", so concurrent conversations, in this
// process or another one, never lose each other's writes. Plain reads take
// the flock shared.
type FileStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	now  func() time.Time
}

// NewFileStore creates a FileStore backed by the file at path.
// The file and its parent directory are created on first access.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}
}

// Path returns the backing file path.
func (fs *FileStore) Path() string { return fs.path }

// mutation changes a loaded task list. dirty=false skips the save.
type mutation func(tasks []*Task) (updated []*Task, dirty bool, err error)

// Load reads the full task list. A file that exists but cannot be parsed
// yields an empty list together with an error wrapping ErrStorageCorrupt.
func (fs *FileStore) Load() ([]*Task, error) {
	var tasks []*Task
	err := fs.withSharedLock(func() error {
		var err error
		tasks, err = fs.readExisting()
		return err
	})
	if errors.Is(err, os.ErrNotExist) {
		// First access: creating the file needs the exclusive lock.
		err = fs.withLock(func() error {
			var err error
			tasks, err = fs.read()
			return err
		})
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	return tasks, err
}

// Save atomically overwrites the file with tasks.
func (fs *FileStore) Save(tasks []*Task) error {
	return fs.withLock(func() error {
		return fs.write(tasks)
	})
}

// Create appends a new pending task.
func (fs *FileStore) Create(in NewTask) (*Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrInvalidTitle
	}
	priority := in.Priority
	if !priority.Valid() {
		priority = PriorityMedium
	}

	var created *Task
	err := fs.update(func(tasks []*Task) ([]*Task, bool, error) {
		created = &Task{
			ID:          fs.uniqueID(tasks),
			Title:       title,
			Description: strings.TrimSpace(in.Description),
			Priority:    priority,
			Status:      TaskPending,
			DueDate:     in.DueDate,
			CreatedAt:   fs.now().Round(0),
		}
		return append(tasks, created), true, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// List returns tasks in store order, optionally filtered by status.
func (fs *FileStore) List(filter ListFilter) ([]*Task, error) {
	all, err := fs.readOnly()
	if err != nil {
		return nil, err
	}
	if filter.Status == "" {
		return all, nil
	}
	out := make([]*Task, 0, len(all))
	for _, t := range all {
		if t.Status == filter.Status {
			out = append(out, t)
		}
	}
	return out, nil
}

// FindByTitle returns the first task whose title matches case-insensitively.
func (fs *FileStore) FindByTitle(title string) (*Task, error) {
	all, err := fs.readOnly()
	if err != nil {
		return nil, err
	}
	if i := indexByTitle(all, title); i >= 0 {
		return all[i], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, title)
}

// Complete marks the task completed. Completing an already completed task
// is a no-op reported with changed=false; CompletedAt is left untouched.
func (fs *FileStore) Complete(title string) (*Task, bool, error) {
	var (
		found   *Task
		changed bool
	)
	err := fs.update(func(tasks []*Task) ([]*Task, bool, error) {
		i := indexByTitle(tasks, title)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %q", ErrNotFound, title)
		}
		found = tasks[i]
		if found.Status == TaskCompleted {
			return tasks, false, nil
		}
		now := fs.now().Round(0)
		found.Status = TaskCompleted
		found.CompletedAt = &now
		changed = true
		return tasks, true, nil
	})
	if err != nil {
		return nil, false, err
	}
	return found, changed, nil
}

// Start moves the task to in_progress.
func (fs *FileStore) Start(title string) (*Task, error) {
	return fs.setStatus(title, TaskInProgress)
}

// Reopen moves the task back to pending and clears CompletedAt.
func (fs *FileStore) Reopen(title string) (*Task, error) {
	return fs.setStatus(title, TaskPending)
}

func (fs *FileStore) setStatus(title string, status TaskStatus) (*Task, error) {
	var found *Task
	err := fs.update(func(tasks []*Task) ([]*Task, bool, error) {
		i := indexByTitle(tasks, title)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %q", ErrNotFound, title)
		}
		found = tasks[i]
		if found.Status == status {
			return tasks, false, nil
		}
		found.Status = status
		found.CompletedAt = nil
		return tasks, true, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Delete removes the first task matching title and returns it.
func (fs *FileStore) Delete(title string) (*Task, error) {
	var removed *Task
	err := fs.update(func(tasks []*Task) ([]*Task, bool, error) {
		i := indexByTitle(tasks, title)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %q", ErrNotFound, title)
		}
		removed = tasks[i]
		return append(tasks[:i], tasks[i+1:]...), true, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// UpdatePriority changes the priority of the first task matching title.
func (fs *FileStore) UpdatePriority(title string, priority TaskPriority) (*Task, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}
	var found *Task
	err := fs.update(func(tasks []*Task) ([]*Task, bool, error) {
		i := indexByTitle(tasks, title)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %q", ErrNotFound, title)
		}
		found = tasks[i]
		if found.Priority == priority {
			return tasks, false, nil
		}
		found.Priority = priority
		return tasks, true, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Summarize counts tasks by status relative to now.
func (fs *FileStore) Summarize(now time.Time) (Summary, error) {
	all, err := fs.readOnly()
	if err != nil {
		return Summary{}, err
	}
	return Summarize(all, now), nil
}

// Summarize counts tasks by status relative to now.
func Summarize(all []*Task, now time.Time) Summary {
	s := Summary{Total: len(all)}
	for _, t := range all {
		switch t.Status {
		case TaskPending:
			s.Pending++
		case TaskInProgress:
			s.InProgress++
		case TaskCompleted:
			s.Completed++
		}
		if t.IsOverdue(now) {
			s.Overdue++
		}
	}
	return s
}

// Overdue returns the tasks of all that are overdue at now, in store order.
func Overdue(all []*Task, now time.Time) []*Task {
	var out []*Task
	for _, t := range all {
		if t.IsOverdue(now) {
			out = append(out, t)
		}
	}
	return out
}

func indexByTitle(tasks []*Task, title string) int {
	for i, t := range tasks {
		if t.matchesTitle(title) {
			return i
		}
	}
	return -1
}

func (fs *FileStore) uniqueID(tasks []*Task) string {
	for {
		id := GenerateTaskID()
		taken := false
		for _, t := range tasks {
			if t.ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
	}
}

// readOnly loads the list for a read operation; a corrupt file reads as empty.
func (fs *FileStore) readOnly() ([]*Task, error) {
	tasks, err := fs.Load()
	if errors.Is(err, ErrStorageCorrupt) {
		slog.Warn("task file unreadable, treating as empty", "path", fs.path, "error", err)
		return []*Task{}, nil
	}
	return tasks, err
}

// update runs one load, mutate, save cycle under the lock.
func (fs *FileStore) update(fn mutation) error {
	return fs.withLock(func() error {
		tasks, err := fs.read()
		if errors.Is(err, ErrStorageCorrupt) {
			fs.quarantine(err)
			tasks, err = nil, nil
		}
		if err != nil {
			return err
		}

		updated, dirty, err := fn(tasks)
		if err != nil || !dirty {
			return err
		}
		return fs.write(updated)
	})
}

func (fs *FileStore) withLock(fn func() error) error {
	return fs.locked(fs.lock.Lock, fn)
}

func (fs *FileStore) withSharedLock(fn func() error) error {
	return fs.locked(fs.lock.RLock, fn)
}

// locked serializes callers in-process and holds the file lock taken by
// acquire while fn runs.
func (fs *FileStore) locked(acquire func() error, fn func() error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("%w: create task dir: %w", ErrStorageWrite, err)
	}
	if err := acquire(); err != nil {
		return fmt.Errorf("lock task file: %w", err)
	}
	defer func() {
		if err := fs.lock.Unlock(); err != nil {
			slog.Warn("unlock task file", "path", fs.path, "error", err)
		}
	}()

	return fn()
}

// read must be called with the exclusive lock held. A missing file is
// materialized empty.
func (fs *FileStore) read() ([]*Task, error) {
	tasks, err := fs.readExisting()
	if errors.Is(err, os.ErrNotExist) {
		return nil, fs.write(nil)
	}
	return tasks, err
}

// readExisting must be called with at least the shared lock held. A missing
// file yields an error wrapping os.ErrNotExist.
func (fs *FileStore) readExisting() ([]*Task, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var raw []*Task
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStorageCorrupt, fs.path, err)
	}

	tasks := make([]*Task, 0, len(raw))
	for _, t := range raw {
		if t != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// write must be called with the lock held.
func (fs *FileStore) write(tasks []*Task) error {
	if tasks == nil {
		tasks = []*Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal tasks: %w", ErrStorageWrite, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), filepath.Base(fs.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrStorageWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp: %w", ErrStorageWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp: %w", ErrStorageWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp: %w", ErrStorageWrite, err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		return fmt.Errorf("%w: rename: %w", ErrStorageWrite, err)
	}
	return nil
}

// quarantine moves an unparsable file aside before it gets overwritten.
func (fs *FileStore) quarantine(cause error) {
	dst := fs.path + ".corrupt-" + strconv.FormatInt(fs.now().Unix(), 10)
	if err := os.Rename(fs.path, dst); err != nil {
		slog.Error("move corrupt task file aside", "path", fs.path, "error", err)
		return
	}
	slog.Warn("task file unreadable, moved aside and starting empty",
		"path", fs.path,
		"backup", dst,
		"error", cause,
	)
}

var _ Store = (*FileStore)(nil)
