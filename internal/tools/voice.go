package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/dohr-michael/taskvox/internal/tasks"
)

const (
	emptyStoreHint   = "You can add a new task by saying 'add task' followed by the task details."
	noTasksSummary   = "You have no tasks. Great job staying on top of things!"
	storageFailure   = "I couldn't update your task list right now. Please try again."
	missingTitleText = "Which task? Please say its title."
	priorityHint     = "Priority must be low, medium, or high."
)

func notFoundText(title string) string {
	return fmt.Sprintf("Task '%s' not found. Try saying 'list tasks'.", title)
}

// plural returns "1 task" or "n tasks".
func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// speakList joins items the way they are read out: "a", "a and b",
// "a, b, and c". When more than limit items exist only the first limit are
// named, followed by "and N more".
func speakList(items []string, limit int) string {
	if limit <= 0 {
		limit = 1
	}
	shown := items
	rest := 0
	if len(items) > limit {
		shown = items[:limit]
		rest = len(items) - limit
	}

	parts := make([]string, len(shown))
	copy(parts, shown)
	if rest > 0 {
		parts = append(parts, fmt.Sprintf("%d more", rest))
	}

	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
}

func quoted(titles []string) []string {
	out := make([]string, len(titles))
	for i, t := range titles {
		out[i] = "'" + t + "'"
	}
	return out
}

// speakDue renders a due date relative to now: "today", "tomorrow" or
// "Monday, March 2", with the time appended unless it is an end-of-day date.
func speakDue(due, now time.Time) string {
	due = due.In(now.Location())
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	day := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, now.Location())

	var s string
	switch day.Sub(today) {
	case 0:
		s = "today"
	case 24 * time.Hour:
		s = "tomorrow"
	default:
		s = due.Format("Monday, January 2")
		if due.Year() != now.Year() {
			s = due.Format("Monday, January 2, 2006")
		}
	}
	if !isEndOfDay(due) {
		s += " at " + due.Format("3:04 PM")
	}
	return s
}

func isEndOfDay(t time.Time) bool {
	return t.Hour() == 23 && t.Minute() == 59
}

func summaryText(s tasks.Summary) string {
	if s.Total == 0 {
		return noTasksSummary
	}

	var counts []string
	if s.Pending > 0 {
		counts = append(counts, fmt.Sprintf("%d pending", s.Pending))
	}
	if s.InProgress > 0 {
		counts = append(counts, fmt.Sprintf("%d in progress", s.InProgress))
	}
	if s.Completed > 0 {
		counts = append(counts, fmt.Sprintf("%d completed", s.Completed))
	}

	text := fmt.Sprintf("You have %s: %s.", plural(s.Total, "task"), speakList(counts, len(counts)))
	switch {
	case s.Overdue == 1:
		text += " 1 is overdue."
	case s.Overdue > 1:
		text += fmt.Sprintf(" %d are overdue.", s.Overdue)
	}
	return text
}
