package tools

import (
	"strings"
	"time"

	"github.com/dohr-michael/taskvox/internal/tasks"
)

// ParseDueDate understands "today", "tomorrow" and ISO-8601 dates or
// datetimes. Date-only values mean the end of that day.
func ParseDueDate(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var day time.Time
	switch strings.ToLower(s) {
	case "today", "tonight":
		day = now
	case "tomorrow":
		day = now.AddDate(0, 0, 1)
	default:
		ts, err := tasks.ParseTimestamp(s)
		if err != nil {
			return nil, err
		}
		if !isDateOnly(s) {
			return &ts, nil
		}
		day = ts
	}

	y, m, d := day.Date()
	end := time.Date(y, m, d, 23, 59, 59, 0, now.Location())
	return &end, nil
}

func isDateOnly(s string) bool {
	return len(s) == len("2006-01-02") && !strings.ContainsAny(s, "T ")
}
