// Package reminders periodically looks for overdue tasks and announces
// them on the event bus.
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/taskvox/internal/events"
	"github.com/dohr-michael/taskvox/internal/tasks"
)

// Config holds dependencies for the Sweeper.
type Config struct {
	Store    tasks.Store
	Bus      *events.Bus
	Schedule string           // 5-field cron expression
	Now      func() time.Time // defaults to time.Now
}

// Sweeper checks the task list on a cron schedule and publishes a
// reminder.overdue event when something is overdue.
type Sweeper struct {
	store tasks.Store
	bus   *events.Bus
	cron  *CronExpr
	now   func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the schedule and creates a Sweeper.
func New(cfg Config) (*Sweeper, error) {
	expr, err := ParseCron(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Sweeper{store: cfg.Store, bus: cfg.Bus, cron: expr, now: now}, nil
}

// Schedule returns the cron expression driving the sweeper.
func (s *Sweeper) Schedule() string { return s.cron.String() }

// NextRun returns when the next sweep is due.
func (s *Sweeper) NextRun() time.Time { return s.cron.Next(s.now()) }

// Start runs the sweep loop in the background until ctx is done or Stop
// is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	slog.Info("reminders started", "schedule", s.Schedule())
}

// Stop ends the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("reminders stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		timer := time.NewTimer(time.Until(s.NextRun()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.Check(); err != nil {
			slog.Warn("reminder sweep failed", "error", err)
		}
	}
}

// Check runs one sweep. It returns the published payload, or nil when
// nothing is overdue.
func (s *Sweeper) Check() (*events.ReminderPayload, error) {
	all, err := s.store.List(tasks.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	now := s.now()
	overdue := tasks.Overdue(all, now)
	if len(overdue) == 0 {
		slog.Debug("reminder sweep: nothing overdue", "tasks", len(all))
		return nil, nil
	}

	summary := tasks.Summarize(all, now)
	titles := make([]string, len(overdue))
	for i, t := range overdue {
		titles[i] = t.Title
	}
	p := &events.ReminderPayload{
		Overdue: titles,
		Total:   summary.Total,
		Pending: summary.Pending + summary.InProgress,
		Text:    reminderText(titles),
	}

	slog.Info("overdue tasks", "count", len(titles))
	if s.bus != nil {
		s.bus.Publish(events.NewTypedEvent(events.SourceReminders, *p))
	}
	return p, nil
}

func reminderText(titles []string) string {
	quoted := make([]string, len(titles))
	for i, t := range titles {
		quoted[i] = "'" + t + "'"
	}
	if len(titles) == 1 {
		return fmt.Sprintf("Reminder: %s is overdue.", quoted[0])
	}
	return fmt.Sprintf("Reminder: %d tasks are overdue: %s.", len(titles), strings.Join(quoted, ", "))
}
